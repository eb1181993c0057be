package submission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/flood-pulse-service/internal/domain"
	"github.com/couchcryptid/flood-pulse-service/internal/observability"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

const (
	DefaultHourMax = 2
	DefaultDayMax  = 6

	hourWindow = time.Hour
	dayWindow  = 24 * time.Hour
)

// ErrStoreUnavailable is returned when an observation could not be recorded.
var ErrStoreUnavailable = errors.New("observation store unavailable")

// ConditionsProvider supplies the telemetry snapshot stored with a report.
type ConditionsProvider interface {
	LiveConditions(ctx context.Context) domain.LiveConditions
}

// Publisher forwards accepted observations downstream.
type Publisher interface {
	Publish(ctx context.Context, obs domain.Observation) error
}

// Limits caps submissions per fingerprint.
type Limits struct {
	HourMax int
	DayMax  int
}

// OutcomeKind is the result class of a submission.
type OutcomeKind string

const (
	OutcomeAccepted    OutcomeKind = "accepted"
	OutcomeRateLimited OutcomeKind = "rate_limited"
	OutcomeFailed      OutcomeKind = "failed"
)

// Outcome is what the reporter is told.
type Outcome struct {
	Kind              OutcomeKind `json:"outcome"`
	ObservationID     string      `json:"observation_id,omitempty"`
	MinutesUntilReset int         `json:"minutes_until_reset,omitempty"`
	Message           string      `json:"message"`
}

// Option configures a Gate.
type Option func(*Gate)

// WithConditions snapshots live telemetry into reports that carry none.
func WithConditions(p ConditionsProvider) Option {
	return func(g *Gate) { g.conditions = p }
}

// WithPublisher publishes every accepted observation.
func WithPublisher(p Publisher) Option {
	return func(g *Gate) { g.publisher = p }
}

// WithClock replaces the real clock.
func WithClock(c clockwork.Clock) Option {
	return func(g *Gate) { g.clock = c }
}

// Gate is the only writer of the observation log.
type Gate struct {
	store      domain.ObservationStore
	limits     Limits
	conditions ConditionsProvider
	publisher  Publisher
	clock      clockwork.Clock
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewGate creates a submission gate. Non-positive limits select the defaults.
func NewGate(store domain.ObservationStore, limits Limits, metrics *observability.Metrics, logger *slog.Logger, opts ...Option) *Gate {
	if limits.HourMax <= 0 {
		limits.HourMax = DefaultHourMax
	}
	if limits.DayMax <= 0 {
		limits.DayMax = DefaultDayMax
	}
	g := &Gate{
		store:   store,
		limits:  limits,
		clock:   clockwork.NewRealClock(),
		metrics: metrics,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CheckRateLimit reports whether fingerprint has hit the hourly or daily cap
// and, if so, the whole minutes until a slot frees up (at least 1). The
// check fails open when the store is unavailable.
func (g *Gate) CheckRateLimit(ctx context.Context, fingerprint string) (bool, int) {
	now := g.clock.Now()

	hour, err := g.store.SubmissionWindow(ctx, fingerprint, now.Add(-hourWindow))
	if err != nil {
		g.rateLimitFailed(err)
		return false, 0
	}
	if hour.Count >= g.limits.HourMax {
		return true, minutesUntil(now, hour.Latest, hourWindow)
	}

	day, err := g.store.SubmissionWindow(ctx, fingerprint, now.Add(-dayWindow))
	if err != nil {
		g.rateLimitFailed(err)
		return false, 0
	}
	if day.Count >= g.limits.DayMax {
		return true, minutesUntil(now, day.Oldest, dayWindow)
	}
	return false, 0
}

// minutesUntil is the truncated number of minutes until anchor+window,
// floored at 1. A zero anchor waits one full hour.
func minutesUntil(now, anchor time.Time, window time.Duration) int {
	if anchor.IsZero() {
		return int(hourWindow / time.Minute)
	}
	minutes := int(anchor.Add(window).Sub(now) / time.Minute)
	if minutes < 1 {
		return 1
	}
	return minutes
}

func (g *Gate) rateLimitFailed(err error) {
	g.metrics.StoreErrors.WithLabelValues("submission_window").Inc()
	g.logger.Error("rate limit check failed, allowing submission", "error", err)
}

// AddObservation records sub and returns the new observation ID.
func (g *Gate) AddObservation(ctx context.Context, sub Submission, fingerprint string) (string, error) {
	obs, err := g.add(ctx, sub, fingerprint)
	if err != nil {
		return "", err
	}
	return obs.ID, nil
}

func (g *Gate) add(ctx context.Context, sub Submission, fingerprint string) (domain.Observation, error) {
	obs := domain.Observation{
		ID:          uuid.NewString(),
		CreatedAt:   g.clock.Now().UTC().Truncate(time.Microsecond),
		RoadID:      sub.Road,
		Status:      sub.Status,
		Confidence:  sub.Confidence,
		Comment:     domain.SanitizeComment(sub.Comment),
		Fingerprint: fingerprint,
		Context:     sub.Context,
	}
	if err := g.store.Insert(ctx, obs); err != nil {
		g.metrics.StoreErrors.WithLabelValues("insert").Inc()
		g.logger.Error("failed to record observation", "road_id", sub.Road, "error", err)
		return domain.Observation{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return obs, nil
}

// Submit runs the full report flow: rate limit, telemetry snapshot, insert
// and publish. Publishing is best effort and never fails the submission.
func (g *Gate) Submit(ctx context.Context, sub Submission, fingerprint string) Outcome {
	if limited, minutes := g.CheckRateLimit(ctx, fingerprint); limited {
		g.metrics.Submissions.WithLabelValues(string(OutcomeRateLimited)).Inc()
		return Outcome{
			Kind:              OutcomeRateLimited,
			MinutesUntilReset: minutes,
			Message:           fmt.Sprintf("Too many reports. Try again in %d minutes.", minutes),
		}
	}

	if sub.Context == nil && g.conditions != nil {
		sub.Context = domain.ContextFromConditions(g.conditions.LiveConditions(ctx))
	}

	obs, err := g.add(ctx, sub, fingerprint)
	if err != nil {
		g.metrics.Submissions.WithLabelValues(string(OutcomeFailed)).Inc()
		return Outcome{
			Kind:    OutcomeFailed,
			Message: "Failed to save report. Please try again.",
		}
	}

	if g.publisher != nil {
		if err := g.publisher.Publish(ctx, obs); err != nil {
			g.metrics.PublishFailures.Inc()
			g.logger.Warn("failed to publish observation", "observation_id", obs.ID, "road_id", obs.RoadID, "error", err)
		}
	}

	g.metrics.Submissions.WithLabelValues(string(OutcomeAccepted)).Inc()
	g.logger.Info("observation recorded", "observation_id", obs.ID, "road_id", obs.RoadID, "status", obs.Status.String())
	return Outcome{
		Kind:          OutcomeAccepted,
		ObservationID: obs.ID,
		Message:       "Your report has been recorded. Thank you for helping the community!",
	}
}
