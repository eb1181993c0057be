package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/couchcryptid/flood-pulse-service/internal/domain"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5" // registers the pgx5:// scheme
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Postgres stores observations in PostgreSQL through a pgx connection pool.
type Postgres struct {
	pool        *pgxpool.Pool
	databaseURL string
	q           queries
	logger      *slog.Logger
}

// NewPostgres connects to databaseURL and verifies the connection.
func NewPostgres(ctx context.Context, databaseURL string, logger *slog.Logger) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Postgres{
		pool:        pool,
		databaseURL: databaseURL,
		q:           newQueries(sq.Dollar, encodeTime),
		logger:      logger,
	}, nil
}

// EnsureSchema applies the embedded migrations. Already-applied migrations
// are not an error.
func (p *Postgres) EnsureSchema(_ context.Context) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, migrateURL(p.databaseURL))
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			p.logger.Warn("close migrator", "source_error", srcErr, "database_error", dbErr)
		}
	}()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// migrateURL rewrites a postgres URL to the scheme of the pgx/v5 migrate driver.
func migrateURL(databaseURL string) string {
	for _, prefix := range []string{"postgresql://", "postgres://"} {
		if strings.HasPrefix(databaseURL, prefix) {
			return "pgx5://" + strings.TrimPrefix(databaseURL, prefix)
		}
	}
	return databaseURL
}

func (p *Postgres) Insert(ctx context.Context, obs domain.Observation) error {
	query, args, err := p.q.insert(obs).ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := p.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert observation: %w", err)
	}
	return nil
}

func (p *Postgres) ListByRoadSince(ctx context.Context, road domain.RoadID, since time.Time) ([]domain.Observation, error) {
	return p.list(ctx, p.q.listByRoadSince(road, since))
}

func (p *Postgres) ListRecentByRoad(ctx context.Context, road domain.RoadID, limit int) ([]domain.Observation, error) {
	return p.list(ctx, p.q.listRecentByRoad(road, limit))
}

func (p *Postgres) list(ctx context.Context, b sq.SelectBuilder) ([]domain.Observation, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}
	defer rows.Close()

	var out []domain.Observation
	for rows.Next() {
		obs, err := scanObservation(rows, decodeTime)
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

func (p *Postgres) StatusCountsSince(ctx context.Context, road domain.RoadID, since time.Time) (map[domain.RoadStatus]int, error) {
	query, args, err := p.q.statusCountsSince(road, since).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build status counts: %w", err)
	}

	rows, err := p.pool.Query(ctx, query, args...)
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

func (p *Postgres) SubmissionWindow(ctx context.Context, fingerprint string, since time.Time) (domain.SubmissionWindow, error) {
	query, args, err := p.q.submissionWindow(fingerprint, since).ToSql()
	if err != nil {
		return domain.SubmissionWindow{}, fmt.Errorf("build submission window: %w", err)
	}

	var (
		w              domain.SubmissionWindow
		oldest, latest *time.Time
	)
	if err := p.pool.QueryRow(ctx, query, args...).Scan(&w.Count, &oldest, &latest); err != nil {
		return domain.SubmissionWindow{}, fmt.Errorf("query submission window: %w", err)
	}
	if oldest != nil {
		w.Oldest = oldest.UTC()
	}
	if latest != nil {
		w.Latest = latest.UTC()
	}
	return w, nil
}

// CheckReadiness pings the database.
func (p *Postgres) CheckReadiness(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
