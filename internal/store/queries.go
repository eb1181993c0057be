// Package store persists the append-only observation log in Postgres or SQLite.
package store

import (
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/couchcryptid/flood-pulse-service/internal/domain"
)

const observationsTable = "observations"

var observationColumns = []string{
	"id",
	"created_at",
	"road_id",
	"status",
	"confidence",
	"comment",
	"fingerprint",
	"river_level_m",
	"rainfall_24h_mm",
	"rainfall_48h_mm",
	"rainfall_72h_mm",
}

// queries builds the SQL shared by both drivers. They differ only in the
// placeholder style and in how timestamps are stored.
type queries struct {
	sb     sq.StatementBuilderType
	encode func(time.Time) any
}

func newQueries(format sq.PlaceholderFormat, encode func(time.Time) any) queries {
	return queries{
		sb:     sq.StatementBuilder.PlaceholderFormat(format),
		encode: encode,
	}
}

func (q queries) insert(obs domain.Observation) sq.InsertBuilder {
	env := obs.Context
	if env == nil {
		env = &domain.EnvironmentalContext{}
	}
	return q.sb.Insert(observationsTable).
		Columns(observationColumns...).
		Values(
			obs.ID,
			q.encode(obs.CreatedAt),
			string(obs.RoadID),
			int(obs.Status),
			string(obs.Confidence),
			obs.Comment,
			obs.Fingerprint,
			env.RiverLevel,
			env.Rainfall24h,
			env.Rainfall48h,
			env.Rainfall72h,
		)
}

func (q queries) listByRoadSince(road domain.RoadID, since time.Time) sq.SelectBuilder {
	return q.sb.Select(observationColumns...).
		From(observationsTable).
		Where(sq.Eq{"road_id": string(road)}).
		Where(sq.Gt{"created_at": q.encode(since)}).
		OrderBy("created_at DESC", "id DESC")
}

func (q queries) listRecentByRoad(road domain.RoadID, limit int) sq.SelectBuilder {
	return q.sb.Select(observationColumns...).
		From(observationsTable).
		Where(sq.Eq{"road_id": string(road)}).
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(limit))
}

func (q queries) statusCountsSince(road domain.RoadID, since time.Time) sq.SelectBuilder {
	return q.sb.Select("status", "COUNT(*)").
		From(observationsTable).
		Where(sq.Eq{"road_id": string(road)}).
		Where(sq.Gt{"created_at": q.encode(since)}).
		GroupBy("status")
}

func (q queries) submissionWindow(fingerprint string, since time.Time) sq.SelectBuilder {
	return q.sb.Select("COUNT(*)", "MIN(created_at)", "MAX(created_at)").
		From(observationsTable).
		Where(sq.Eq{"fingerprint": fingerprint}).
		Where(sq.Gt{"created_at": q.encode(since)})
}

// scanner is satisfied by pgx.Rows, pgx.Row, *sql.Rows and *sql.Row.
type scanner interface {
	Scan(dest ...any) error
}

// scanObservation reads one row in observationColumns order. createdAt
// receives the driver's timestamp representation and is converted by decode.
func scanObservation[T any](row scanner, decode func(T) time.Time) (domain.Observation, error) {
	var (
		obs     domain.Observation
		env     domain.EnvironmentalContext
		created T
		status  int
		road    string
		conf    string
	)
	err := row.Scan(
		&obs.ID,
		&created,
		&road,
		&status,
		&conf,
		&obs.Comment,
		&obs.Fingerprint,
		&env.RiverLevel,
		&env.Rainfall24h,
		&env.Rainfall48h,
		&env.Rainfall72h,
	)
	if err != nil {
		return domain.Observation{}, err
	}

	obs.CreatedAt = decode(created)
	obs.RoadID = domain.RoadID(road)
	obs.Status = domain.RoadStatus(status)
	obs.Confidence = domain.Confidence(conf)
	if env != (domain.EnvironmentalContext{}) {
		obs.Context = &env
	}
	return obs, nil
}

func encodeMicros(t time.Time) any {
	return t.UTC().UnixMicro()
}

func decodeMicros(v int64) time.Time {
	return time.UnixMicro(v).UTC()
}

func encodeTime(t time.Time) any {
	return t.UTC()
}

func decodeTime(t time.Time) time.Time {
	return t.UTC()
}
