package submission

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/couchcryptid/flood-pulse-service/internal/domain"
	"github.com/couchcryptid/flood-pulse-service/internal/observability"
	"github.com/couchcryptid/flood-pulse-service/internal/store"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fp = "3f2a9c"

var now = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

var errStore = errors.New("connection refused")

// --- fakes ---

// flakyStore wraps a memory store and fails selected operations.
type flakyStore struct {
	*store.Memory
	failWindow bool
	failInsert bool
}

func (s *flakyStore) SubmissionWindow(ctx context.Context, fingerprint string, since time.Time) (domain.SubmissionWindow, error) {
	if s.failWindow {
		return domain.SubmissionWindow{}, errStore
	}
	return s.Memory.SubmissionWindow(ctx, fingerprint, since)
}

func (s *flakyStore) Insert(ctx context.Context, obs domain.Observation) error {
	if s.failInsert {
		return errStore
	}
	return s.Memory.Insert(ctx, obs)
}

type staticConditions struct {
	lc    domain.LiveConditions
	calls int
}

func (c *staticConditions) LiveConditions(context.Context) domain.LiveConditions {
	c.calls++
	return c.lc
}

type recordingPublisher struct {
	published []domain.Observation
	err       error
}

func (p *recordingPublisher) Publish(_ context.Context, obs domain.Observation) error {
	p.published = append(p.published, obs)
	return p.err
}

type harness struct {
	clock *clockwork.FakeClock
	store *flakyStore
	gate  *Gate
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		clock: clockwork.NewFakeClockAt(now),
		store: &flakyStore{Memory: store.NewMemory()},
	}
	opts = append([]Option{WithClock(h.clock)}, opts...)
	h.gate = NewGate(h.store, Limits{HourMax: 2, DayMax: 6}, observability.NewMetricsForTesting(), slog.New(slog.NewTextHandler(io.Discard, nil)), opts...)
	return h
}

// submitted seeds an observation from fp created age ago.
func (h *harness) submitted(t *testing.T, age time.Duration) {
	t.Helper()
	require.NoError(t, h.store.Memory.Insert(context.Background(), domain.Observation{
		ID:          now.Add(-age).Format(time.RFC3339Nano),
		CreatedAt:   now.Add(-age),
		RoadID:      domain.RoadIckford,
		Status:      domain.StatusClear,
		Confidence:  domain.ConfidenceDroveIt,
		Fingerprint: fp,
	}))
}

func validSubmission() Submission {
	return Submission{Road: domain.RoadFishermanThame, Status: domain.StatusClosed, Confidence: domain.ConfidenceDroveIt}
}

// --- rate limit ---

func TestCheckRateLimit_UnderCap(t *testing.T) {
	h := newHarness(t)
	h.submitted(t, 59*time.Minute)
	h.submitted(t, 61*time.Minute)

	limited, minutes := h.gate.CheckRateLimit(context.Background(), fp)
	assert.False(t, limited, "only one submission falls in the last hour")
	assert.Zero(t, minutes)
}

func TestCheckRateLimit_TwoReportsOverAnHourOldAreNotLimited(t *testing.T) {
	h := newHarness(t)
	h.submitted(t, 61*time.Minute)
	h.submitted(t, 61*time.Minute+time.Second)

	limited, minutes := h.gate.CheckRateLimit(context.Background(), fp)
	assert.False(t, limited)
	assert.Zero(t, minutes)
}

func TestCheckRateLimit_HourlyCap(t *testing.T) {
	h := newHarness(t)
	h.submitted(t, 50*time.Minute)
	h.submitted(t, 20*time.Minute)

	limited, minutes := h.gate.CheckRateLimit(context.Background(), fp)
	assert.True(t, limited)
	assert.Equal(t, 40, minutes, "resets an hour after the latest submission")
}

func TestCheckRateLimit_HourlyResetTruncates(t *testing.T) {
	h := newHarness(t)
	h.submitted(t, 50*time.Minute)
	h.submitted(t, 20*time.Minute+30*time.Second)

	_, minutes := h.gate.CheckRateLimit(context.Background(), fp)
	assert.Equal(t, 39, minutes)
}

func TestCheckRateLimit_FloorOfOneMinute(t *testing.T) {
	h := newHarness(t)
	h.submitted(t, 59*time.Minute+50*time.Second)
	h.submitted(t, 59*time.Minute+40*time.Second)

	limited, minutes := h.gate.CheckRateLimit(context.Background(), fp)
	assert.True(t, limited)
	assert.Equal(t, 1, minutes)
}

func TestCheckRateLimit_DailyCapResetsFromOldest(t *testing.T) {
	h := newHarness(t)
	for _, age := range []time.Duration{20 * time.Hour, 16 * time.Hour, 12 * time.Hour, 8 * time.Hour, 4 * time.Hour, 2 * time.Hour} {
		h.submitted(t, age)
	}

	limited, minutes := h.gate.CheckRateLimit(context.Background(), fp)
	assert.True(t, limited)
	assert.Equal(t, 4*60, minutes, "oldest ages out of the 24h window in 4h")
}

func TestCheckRateLimit_DailyWindowExcludesOld(t *testing.T) {
	h := newHarness(t)
	for _, age := range []time.Duration{30 * time.Hour, 20 * time.Hour, 16 * time.Hour, 12 * time.Hour, 8 * time.Hour, 4 * time.Hour} {
		h.submitted(t, age)
	}

	limited, _ := h.gate.CheckRateLimit(context.Background(), fp)
	assert.False(t, limited)
}

func TestCheckRateLimit_OtherFingerprintsIgnored(t *testing.T) {
	h := newHarness(t)
	h.submitted(t, 10*time.Minute)
	h.submitted(t, 5*time.Minute)

	limited, _ := h.gate.CheckRateLimit(context.Background(), "someone-else")
	assert.False(t, limited)
}

func TestCheckRateLimit_FailsOpen(t *testing.T) {
	h := newHarness(t)
	h.store.failWindow = true

	limited, minutes := h.gate.CheckRateLimit(context.Background(), fp)
	assert.False(t, limited)
	assert.Zero(t, minutes)
}

func TestMinutesUntil_ZeroAnchor(t *testing.T) {
	assert.Equal(t, 60, minutesUntil(now, time.Time{}, time.Hour))
}

// --- AddObservation ---

func TestAddObservation_RecordsSanitisedObservation(t *testing.T) {
	h := newHarness(t)
	h.clock.Advance(1234 * time.Nanosecond)
	sub := validSubmission()
	sub.Comment = strings.Repeat("é", 500) + "  "

	id, err := h.gate.AddObservation(context.Background(), sub, fp)
	require.NoError(t, err)
	assert.Len(t, id, 36)

	got, err := h.store.ListRecentByRoad(context.Background(), domain.RoadFishermanThame, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)

	obs := got[0]
	assert.Equal(t, id, obs.ID)
	assert.Equal(t, now.Add(time.Microsecond), obs.CreatedAt, "truncated to microseconds")
	assert.Equal(t, time.UTC, obs.CreatedAt.Location())
	assert.Equal(t, fp, obs.Fingerprint)
	require.NotNil(t, obs.Comment)
	assert.Equal(t, domain.MaxCommentLength, len([]rune(*obs.Comment)))
}

func TestAddObservation_BlankCommentIsNil(t *testing.T) {
	h := newHarness(t)
	sub := validSubmission()
	sub.Comment = " \t\n "

	_, err := h.gate.AddObservation(context.Background(), sub, fp)
	require.NoError(t, err)

	got, err := h.store.ListRecentByRoad(context.Background(), domain.RoadFishermanThame, 1)
	require.NoError(t, err)
	assert.Nil(t, got[0].Comment)
}

func TestAddObservation_StoreFailure(t *testing.T) {
	h := newHarness(t)
	h.store.failInsert = true

	id, err := h.gate.AddObservation(context.Background(), validSubmission(), fp)
	require.Error(t, err)
	assert.Empty(t, id)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, err, errStore)
}

// --- Submit ---

func TestSubmit_Accepted(t *testing.T) {
	river := 1.8
	rain := 12.5
	conditions := &staticConditions{lc: domain.LiveConditions{
		River:    &domain.RiverReading{Value: river},
		Rainfall: domain.RainfallAggregate{Total24h: &rain, Quality: domain.QualityPartial},
	}}
	pub := &recordingPublisher{}
	h := newHarness(t, WithConditions(conditions), WithPublisher(pub))

	out := h.gate.Submit(context.Background(), validSubmission(), fp)
	assert.Equal(t, OutcomeAccepted, out.Kind)
	assert.NotEmpty(t, out.ObservationID)
	assert.Contains(t, out.Message, "recorded")

	require.Len(t, pub.published, 1)
	obs := pub.published[0]
	assert.Equal(t, out.ObservationID, obs.ID)
	require.NotNil(t, obs.Context)
	assert.Equal(t, river, *obs.Context.RiverLevel)
	assert.Equal(t, rain, *obs.Context.Rainfall24h)
	assert.Nil(t, obs.Context.Rainfall48h)
}

func TestSubmit_ExplicitContextSkipsSnapshot(t *testing.T) {
	conditions := &staticConditions{}
	h := newHarness(t, WithConditions(conditions))
	sub := validSubmission()
	level := 0.4
	sub.Context = &domain.EnvironmentalContext{RiverLevel: &level}

	out := h.gate.Submit(context.Background(), sub, fp)
	assert.Equal(t, OutcomeAccepted, out.Kind)
	assert.Zero(t, conditions.calls)
}

func TestSubmit_NoTelemetryLeavesContextNil(t *testing.T) {
	h := newHarness(t, WithConditions(&staticConditions{}))

	h.gate.Submit(context.Background(), validSubmission(), fp)

	got, err := h.store.ListRecentByRoad(context.Background(), domain.RoadFishermanThame, 1)
	require.NoError(t, err)
	assert.Nil(t, got[0].Context)
}

func TestSubmit_RateLimited(t *testing.T) {
	pub := &recordingPublisher{}
	h := newHarness(t, WithPublisher(pub))
	h.submitted(t, 30*time.Minute)
	h.submitted(t, 10*time.Minute)

	out := h.gate.Submit(context.Background(), validSubmission(), fp)
	assert.Equal(t, OutcomeRateLimited, out.Kind)
	assert.Equal(t, 50, out.MinutesUntilReset)
	assert.Equal(t, "Too many reports. Try again in 50 minutes.", out.Message)
	assert.Empty(t, pub.published)
}

func TestSubmit_ThirdWithinHourIsLimited(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	assert.Equal(t, OutcomeAccepted, h.gate.Submit(ctx, validSubmission(), fp).Kind)
	h.clock.Advance(time.Minute)
	assert.Equal(t, OutcomeAccepted, h.gate.Submit(ctx, validSubmission(), fp).Kind)
	h.clock.Advance(time.Minute)
	assert.Equal(t, OutcomeRateLimited, h.gate.Submit(ctx, validSubmission(), fp).Kind)
}

func TestSubmit_StoreFailure(t *testing.T) {
	pub := &recordingPublisher{}
	h := newHarness(t, WithPublisher(pub))
	h.store.failInsert = true

	out := h.gate.Submit(context.Background(), validSubmission(), fp)
	assert.Equal(t, OutcomeFailed, out.Kind)
	assert.Empty(t, out.ObservationID)
	assert.Empty(t, pub.published)
}

func TestSubmit_PublishFailureIsNotFatal(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	h := newHarness(t, WithPublisher(pub))

	out := h.gate.Submit(context.Background(), validSubmission(), fp)
	assert.Equal(t, OutcomeAccepted, out.Kind)

	got, err := h.store.ListRecentByRoad(context.Background(), domain.RoadFishermanThame, 10)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestNewGate_DefaultLimits(t *testing.T) {
	g := NewGate(store.NewMemory(), Limits{}, observability.NewMetricsForTesting(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Equal(t, DefaultHourMax, g.limits.HourMax)
	assert.Equal(t, DefaultDayMax, g.limits.DayMax)
}
