// Package consensus derives the displayed road status from recent crowd
// observations by confidence-weighted vote.
package consensus

import (
	"context"
	"log/slog"
	"time"

	"github.com/couchcryptid/flood-pulse-service/internal/domain"
	"github.com/couchcryptid/flood-pulse-service/internal/observability"
	"github.com/jonboulle/clockwork"
)

const (
	// DefaultLookback is how far back observations count towards consensus.
	DefaultLookback = 8 * time.Hour

	// CountsWindow is the fixed window of StatusCounts24h.
	CountsWindow = 24 * time.Hour

	DefaultHistoryLimit = 10
	MaxHistoryLimit     = 50
)

// Config tunes the vote.
type Config struct {
	Lookback      time.Duration
	Weights       []domain.ConfidenceWeight
	DefaultWeight float64
}

// DefaultConfig returns the standard lookback and weight table.
func DefaultConfig() Config {
	return Config{
		Lookback:      DefaultLookback,
		Weights:       domain.DefaultConfidenceWeights(),
		DefaultWeight: domain.DefaultConfidenceWeight,
	}
}

// Engine computes consensus on demand. It holds no state between calls;
// every result is recomputed from the observation log.
type Engine struct {
	reader   domain.ObservationReader
	lookback time.Duration
	weights  domain.WeightTable
	clock    clockwork.Clock
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewEngine creates a consensus engine. A non-positive lookback selects
// DefaultLookback, nil weights the default table, a non-positive default
// weight domain.DefaultConfidenceWeight, and a nil clock the real clock.
func NewEngine(reader domain.ObservationReader, cfg Config, clock clockwork.Clock, metrics *observability.Metrics, logger *slog.Logger) *Engine {
	if cfg.Lookback <= 0 {
		cfg.Lookback = DefaultLookback
	}
	if cfg.Weights == nil {
		cfg.Weights = domain.DefaultConfidenceWeights()
	}
	if cfg.DefaultWeight <= 0 {
		cfg.DefaultWeight = domain.DefaultConfidenceWeight
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Engine{
		reader:   reader,
		lookback: cfg.Lookback,
		weights:  domain.NewWeightTable(cfg.Weights, cfg.DefaultWeight),
		clock:    clock,
		metrics:  metrics,
		logger:   logger,
	}
}

// Consensus returns the weighted-vote status of road over the lookback
// window, or nil when nobody has reported recently or the store failed.
// Equal weights resolve to the more severe status.
func (e *Engine) Consensus(ctx context.Context, road domain.RoadID) *domain.ConsensusResult {
	since := e.clock.Now().Add(-e.lookback)
	observations, err := e.reader.ListByRoadSince(ctx, road, since)
	if err != nil {
		e.storeFailed("list_by_road_since", road, err)
		return nil
	}

	status, ok := e.vote(observations)
	if !ok {
		e.metrics.ConsensusQuery.WithLabelValues(string(road), "absent").Inc()
		return nil
	}
	e.metrics.ConsensusQuery.WithLabelValues(string(road), "status").Inc()

	return &domain.ConsensusResult{
		RoadID:         road,
		Status:         status,
		ReportCount:    len(observations),
		LastReportTime: newest(observations),
	}
}

// vote tallies weights per status in thousandths and picks the heaviest,
// scanning from the most severe status so that ties keep the severer one.
func (e *Engine) vote(observations []domain.Observation) (domain.RoadStatus, bool) {
	tally := make(map[domain.RoadStatus]int64, 4)
	for _, o := range observations {
		if !o.Status.Votable() {
			continue
		}
		tally[o.Status] += e.weights.Weight(o.Confidence)
	}
	if len(tally) == 0 {
		return 0, false
	}

	var (
		winner domain.RoadStatus
		best   int64 = -1
	)
	for _, s := range domain.VotableStatuses() {
		w, ok := tally[s]
		if ok && w > best {
			winner, best = s, w
		}
	}
	return winner, true
}

func newest(observations []domain.Observation) time.Time {
	var t time.Time
	for _, o := range observations {
		if o.CreatedAt.After(t) {
			t = o.CreatedAt
		}
	}
	return t
}

// AllConsensus computes consensus for every monitored road. Roads without
// recent reports map to nil.
func (e *Engine) AllConsensus(ctx context.Context) map[domain.RoadID]*domain.ConsensusResult {
	out := make(map[domain.RoadID]*domain.ConsensusResult, len(domain.Roads()))
	for _, road := range domain.Roads() {
		out[road] = e.Consensus(ctx, road)
	}
	return out
}

// StatusCounts24h returns the unweighted number of reports per status over
// the last 24 hours. Empty on storage failure.
func (e *Engine) StatusCounts24h(ctx context.Context, road domain.RoadID) map[domain.RoadStatus]int {
	counts, err := e.reader.StatusCountsSince(ctx, road, e.clock.Now().Add(-CountsWindow))
	if err != nil {
		e.storeFailed("status_counts_since", road, err)
		return map[domain.RoadStatus]int{}
	}
	return counts
}

// StatusChange reports when the two most recent observations of road,
// regardless of age, disagree. The change time is that of the newer one.
func (e *Engine) StatusChange(ctx context.Context, road domain.RoadID) *domain.StatusChange {
	recent, err := e.reader.ListRecentByRoad(ctx, road, 2)
	if err != nil {
		e.storeFailed("list_recent_by_road", road, err)
		return nil
	}
	if len(recent) < 2 || recent[0].Status == recent[1].Status {
		return nil
	}
	return &domain.StatusChange{
		PreviousStatus: recent[1].Status,
		ChangedAt:      recent[0].CreatedAt,
	}
}

// RecentObservations returns the newest observations of road. limit is
// clamped to [1, MaxHistoryLimit]; zero or less selects DefaultHistoryLimit.
func (e *Engine) RecentObservations(ctx context.Context, road domain.RoadID, limit int) []domain.Observation {
	switch {
	case limit <= 0:
		limit = DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		limit = MaxHistoryLimit
	}

	recent, err := e.reader.ListRecentByRoad(ctx, road, limit)
	if err != nil {
		e.storeFailed("list_recent_by_road", road, err)
		return []domain.Observation{}
	}
	if recent == nil {
		return []domain.Observation{}
	}
	return recent
}

func (e *Engine) storeFailed(op string, road domain.RoadID, err error) {
	e.metrics.StoreErrors.WithLabelValues(op).Inc()
	e.logger.Error("observation store query failed", "operation", op, "road_id", road, "error", err)
}
