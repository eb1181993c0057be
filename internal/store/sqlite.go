package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/couchcryptid/flood-pulse-service/internal/domain"
	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS observations (
	id              TEXT PRIMARY KEY,
	created_at      INTEGER NOT NULL,
	road_id         TEXT NOT NULL,
	status          INTEGER NOT NULL CHECK (status BETWEEN 1 AND 5),
	confidence      TEXT NOT NULL,
	comment         TEXT,
	fingerprint     TEXT NOT NULL,
	river_level_m   REAL,
	rainfall_24h_mm REAL,
	rainfall_48h_mm REAL,
	rainfall_72h_mm REAL
);
CREATE INDEX IF NOT EXISTS idx_observations_road_created ON observations(road_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_observations_fingerprint_created ON observations(fingerprint, created_at DESC);`

// SQLite stores observations in a local SQLite file. Timestamps are kept as
// UTC unix microseconds so ordering and range filters are integer compares.
type SQLite struct {
	db *sql.DB
	q  queries
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite allows a single writer; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	return &SQLite{
		db: db,
		q:  newQueries(sq.Question, encodeMicros),
	}, nil
}

// EnsureSchema creates the table and indexes if they do not exist.
func (s *SQLite) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

func (s *SQLite) Insert(ctx context.Context, obs domain.Observation) error {
	query, args, err := s.q.insert(obs).ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert observation: %w", err)
	}
	return nil
}

func (s *SQLite) ListByRoadSince(ctx context.Context, road domain.RoadID, since time.Time) ([]domain.Observation, error) {
	return s.list(ctx, s.q.listByRoadSince(road, since))
}

func (s *SQLite) ListRecentByRoad(ctx context.Context, road domain.RoadID, limit int) ([]domain.Observation, error) {
	return s.list(ctx, s.q.listRecentByRoad(road, limit))
}

func (s *SQLite) list(ctx context.Context, b sq.SelectBuilder) ([]domain.Observation, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}
	defer rows.Close()

	var out []domain.Observation
	for rows.Next() {
		obs, err := scanObservation(rows, decodeMicros)
		if err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		out = append(out, obs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate observations: %w", err)
	}
	return out, nil
}

func (s *SQLite) StatusCountsSince(ctx context.Context, road domain.RoadID, since time.Time) (map[domain.RoadStatus]int, error) {
	query, args, err := s.q.statusCountsSince(road, since).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build status counts: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query status counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.RoadStatus]int)
	for rows.Next() {
		var status, n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[domain.RoadStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}
	return counts, nil
}

func (s *SQLite) SubmissionWindow(ctx context.Context, fingerprint string, since time.Time) (domain.SubmissionWindow, error) {
	query, args, err := s.q.submissionWindow(fingerprint, since).ToSql()
	if err != nil {
		return domain.SubmissionWindow{}, fmt.Errorf("build submission window: %w", err)
	}

	var (
		w              domain.SubmissionWindow
		oldest, latest sql.NullInt64
	)
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&w.Count, &oldest, &latest); err != nil {
		return domain.SubmissionWindow{}, fmt.Errorf("query submission window: %w", err)
	}
	if oldest.Valid {
		w.Oldest = decodeMicros(oldest.Int64)
	}
	if latest.Valid {
		w.Latest = decodeMicros(latest.Int64)
	}
	return w, nil
}

// CheckReadiness pings the database file.
func (s *SQLite) CheckReadiness(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
