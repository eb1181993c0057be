package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/flood-pulse-service/internal/domain"
)

// Supported values of the store driver setting.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var (
	_ domain.ObservationStore = (*SQLite)(nil)
	_ domain.ObservationStore = (*Postgres)(nil)
)

// Options selects and locates the observation store.
type Options struct {
	Driver      string
	SQLitePath  string
	DatabaseURL string
}

// Open connects to the configured store and ensures its schema exists.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (domain.ObservationStore, error) {
	var (
		s   domain.ObservationStore
		err error
	)
	switch opts.Driver {
	case DriverSQLite, "":
		s, err = OpenSQLite(opts.SQLitePath)
	case DriverPostgres:
		s, err = NewPostgres(ctx, opts.DatabaseURL, logger)
	case DriverMemory:
		s = NewMemory()
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := s.EnsureSchema(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	logger.Info("observation store ready", "driver", opts.Driver)
	return s, nil
}
