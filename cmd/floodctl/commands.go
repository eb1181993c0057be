package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/couchcryptid/flood-pulse-service/internal/adapter/ea"
	"github.com/couchcryptid/flood-pulse-service/internal/config"
	"github.com/couchcryptid/flood-pulse-service/internal/consensus"
	"github.com/couchcryptid/flood-pulse-service/internal/domain"
	"github.com/couchcryptid/flood-pulse-service/internal/observability"
	"github.com/couchcryptid/flood-pulse-service/internal/store"
	"github.com/couchcryptid/flood-pulse-service/internal/telemetry"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
)

// env is what every subcommand needs, built once per invocation.
type env struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *observability.Metrics
	clock   clockwork.Clock
}

func loadEnv() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &env{
		cfg:     cfg,
		logger:  observability.NewConsoleLogger(cfg.LogLevel),
		metrics: observability.NewUnregisteredMetrics(),
		clock:   clockwork.NewRealClock(),
	}, nil
}

func (e *env) openStore(ctx context.Context) (domain.ObservationStore, error) {
	return store.Open(ctx, store.Options{
		Driver:      e.cfg.StoreDriver,
		SQLitePath:  e.cfg.SQLitePath,
		DatabaseURL: e.cfg.DatabaseURL,
	}, e.logger)
}

func (e *env) telemetry() *telemetry.Service {
	source := ea.NewClient(e.cfg.EABaseURL, e.cfg.EATimeout, e.metrics, e.logger)
	return telemetry.NewService(source, telemetry.Config{
		RiverStationID:   e.cfg.RiverStationID,
		RiverStationName: e.cfg.RiverStationName,
		VillageLat:       e.cfg.VillageLat,
		VillageLon:       e.cfg.VillageLon,
		SearchDistKm:     e.cfg.RainfallSearchDistKm,
		NumStations:      e.cfg.RainfallNumStations,
		CacheTTL:         e.cfg.TelemetryCacheTTL,
	}, e.clock, e.metrics, e.logger)
}

func (e *env) engine(reader domain.ObservationReader) *consensus.Engine {
	return consensus.NewEngine(reader, consensus.Config{
		Lookback:      e.cfg.ConsensusLookback,
		Weights:       e.cfg.ConfidenceWeights,
		DefaultWeight: e.cfg.DefaultConfidenceWeight,
	}, e.clock, e.metrics, e.logger)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "floodctl",
		Short:         "Inspect flood pulse telemetry and road reports",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(initDBCmd())
	root.AddCommand(riverCmd())
	root.AddCommand(rainfallCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(historyCmd())

	return root
}

func initDBCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-db",
		Short: "Create the observation schema if it does not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			s, err := e.openStore(cmd.Context())
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer s.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "observation schema ready (%s)\n", e.cfg.StoreDriver)
			return nil
		},
	}
}

func riverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "river",
		Short: "Print the latest river level and trend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			reading := e.telemetry().RiverLevel(cmd.Context())
			if reading == nil {
				return fmt.Errorf("river station %s returned no reading", e.cfg.RiverStationID)
			}
			return printJSON(cmd.OutOrStdout(), reading)
		},
	}
}

func rainfallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rainfall",
		Short: "Print the median rainfall across nearby stations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), e.telemetry().AggregatedRainfall(cmd.Context()))
		},
	}
}

type roadStatus struct {
	RoadID    domain.RoadID           `json:"road_id"`
	Status    string                  `json:"status"`
	Consensus *domain.ConsensusResult `json:"consensus"`
	Counts24h map[string]int          `json:"counts_24h"`
	Change    *domain.StatusChange    `json:"status_change"`
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [road]",
		Short: "Print the consensus status of one road, or every road",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			roads := domain.Roads()
			if len(args) == 1 {
				road, err := domain.ParseRoadID(args[0])
				if err != nil {
					return err
				}
				roads = []domain.RoadID{road}
			}

			e, err := loadEnv()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			s, err := e.openStore(ctx)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer s.Close()
			engine := e.engine(s)

			out := make([]roadStatus, 0, len(roads))
			for _, road := range roads {
				c := engine.Consensus(ctx, road)
				status := domain.StatusUnknown
				if c != nil {
					status = c.Status
				}
				counts := make(map[string]int)
				for st, n := range engine.StatusCounts24h(ctx, road) {
					counts[st.String()] = n
				}
				out = append(out, roadStatus{
					RoadID:    road,
					Status:    status.String(),
					Consensus: c,
					Counts24h: counts,
					Change:    engine.StatusChange(ctx, road),
				})
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <road>",
		Short: "Print the most recent reports for a road",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			road, err := domain.ParseRoadID(args[0])
			if err != nil {
				return err
			}
			e, err := loadEnv()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			s, err := e.openStore(ctx)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer s.Close()

			return printJSON(cmd.OutOrStdout(), e.engine(s).RecentObservations(ctx, road, limit))
		},
	}
	cmd.Flags().IntVar(&limit, "limit", consensus.DefaultHistoryLimit, "number of reports to show (max 50)")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
