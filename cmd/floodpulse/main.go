// Command floodpulse serves live flood conditions and crowd-sourced road
// reports for a village cut off by river flooding.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/couchcryptid/flood-pulse-service/internal/adapter/http"
	"github.com/couchcryptid/flood-pulse-service/internal/adapter/ea"
	kafkaadapter "github.com/couchcryptid/flood-pulse-service/internal/adapter/kafka"
	"github.com/couchcryptid/flood-pulse-service/internal/config"
	"github.com/couchcryptid/flood-pulse-service/internal/consensus"
	"github.com/couchcryptid/flood-pulse-service/internal/observability"
	"github.com/couchcryptid/flood-pulse-service/internal/store"
	"github.com/couchcryptid/flood-pulse-service/internal/submission"
	"github.com/couchcryptid/flood-pulse-service/internal/telemetry"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	if cfg.IPSalt == config.DefaultIPSalt {
		logger.Warn("IP_SALT is the default placeholder; set a secret salt in production")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	observations, err := store.Open(ctx, store.Options{
		Driver:      cfg.StoreDriver,
		SQLitePath:  cfg.SQLitePath,
		DatabaseURL: cfg.DatabaseURL,
	}, logger)
	if err != nil {
		logger.Error("failed to open observation store", "driver", cfg.StoreDriver, "error", err)
		os.Exit(1)
	}

	source := ea.NewClient(cfg.EABaseURL, cfg.EATimeout, metrics, logger)
	telemetrySvc := telemetry.NewService(source, telemetry.Config{
		RiverStationID:   cfg.RiverStationID,
		RiverStationName: cfg.RiverStationName,
		VillageLat:       cfg.VillageLat,
		VillageLon:       cfg.VillageLon,
		SearchDistKm:     cfg.RainfallSearchDistKm,
		NumStations:      cfg.RainfallNumStations,
		CacheTTL:         cfg.TelemetryCacheTTL,
	}, clock, metrics, logger)

	engine := consensus.NewEngine(observations, consensus.Config{
		Lookback:      cfg.ConsensusLookback,
		Weights:       cfg.ConfidenceWeights,
		DefaultWeight: cfg.DefaultConfidenceWeight,
	}, clock, metrics, logger)

	opts := []submission.Option{
		submission.WithClock(clock),
		submission.WithConditions(telemetrySvc),
	}
	var publisher *kafkaadapter.Publisher
	if cfg.PublishingEnabled() {
		publisher = kafkaadapter.NewPublisher(cfg.KafkaBrokers, cfg.KafkaObservationTopic, logger)
		opts = append(opts, submission.WithPublisher(publisher))
		logger.Info("observation publishing enabled", "topic", cfg.KafkaObservationTopic, "brokers", cfg.KafkaBrokers)
	} else {
		logger.Info("observation publishing disabled")
	}

	gate := submission.NewGate(observations, submission.Limits{
		HourMax: cfg.RateLimitHourMax,
		DayMax:  cfg.RateLimitDayMax,
	}, metrics, logger, opts...)

	srv := httpadapter.NewServer(cfg.HTTPAddr, observations, &httpadapter.Dependencies{
		Telemetry: telemetrySvc,
		Roads:     engine,
		Gate:      gate,
		IPSalt:    cfg.IPSalt,
		Metrics:   metrics,
	}, logger)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.Error("kafka publisher close error", "error", err)
		}
	}
	if err := observations.Close(); err != nil {
		logger.Error("observation store close error", "error", err)
	}

	logger.Info("shutdown complete")
}
