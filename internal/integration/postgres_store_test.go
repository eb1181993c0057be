//go:build integration

package integration_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/couchcryptid/flood-pulse-service/internal/domain"
	"github.com/couchcryptid/flood-pulse-service/internal/store"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

var pgBase = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

func startPostgres(ctx context.Context, t *testing.T) string {
	t.Helper()
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("floodpulse"),
		tcpostgres.WithUsername("floodpulse"),
		tcpostgres.WithPassword("floodpulse"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err, "start postgres container")
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})

	url, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return url
}

func pgObservation(id string, at time.Time, road domain.RoadID, status domain.RoadStatus, fp string) domain.Observation {
	return domain.Observation{
		ID:          id,
		CreatedAt:   at,
		RoadID:      road,
		Status:      status,
		Confidence:  domain.ConfidenceDroveIt,
		Fingerprint: fp,
	}
}

// TestPostgresStore runs the observation store contract against a real server.
func TestPostgresStore(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	url := startPostgres(ctx, t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s, err := store.NewPostgres(ctx, url, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.EnsureSchema(ctx))
	require.NoError(t, s.EnsureSchema(ctx), "applying migrations twice is not an error")
	require.NoError(t, s.CheckReadiness(ctx))

	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	reset := func(t *testing.T) {
		t.Helper()
		_, err := pool.Exec(ctx, "TRUNCATE observations")
		require.NoError(t, err)
	}

	t.Run("insert round trip", func(t *testing.T) {
		reset(t)
		created := pgBase.Add(123456 * time.Microsecond)
		comment := "water over the verge"
		level, rain := 1.42, 3.5
		obs := pgObservation("a", created, domain.RoadIckford, domain.StatusCaution, "fp1")
		obs.Comment = &comment
		obs.Context = &domain.EnvironmentalContext{RiverLevel: &level, Rainfall24h: &rain}
		require.NoError(t, s.Insert(ctx, obs))

		got, err := s.ListRecentByRoad(ctx, domain.RoadIckford, 10)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "a", got[0].ID)
		assert.True(t, created.Equal(got[0].CreatedAt))
		assert.Equal(t, time.UTC, got[0].CreatedAt.Location())
		assert.Equal(t, domain.StatusCaution, got[0].Status)
		require.NotNil(t, got[0].Comment)
		assert.Equal(t, comment, *got[0].Comment)
		assert.Equal(t, "fp1", got[0].Fingerprint)
		require.NotNil(t, got[0].Context)
		assert.Equal(t, level, *got[0].Context.RiverLevel)
		assert.Equal(t, rain, *got[0].Context.Rainfall24h)
		assert.Nil(t, got[0].Context.Rainfall48h)
	})

	t.Run("nulls stay nil", func(t *testing.T) {
		reset(t)
		require.NoError(t, s.Insert(ctx, pgObservation("a", pgBase, domain.RoadIckford, domain.StatusClear, "fp")))

		got, err := s.ListRecentByRoad(ctx, domain.RoadIckford, 1)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Nil(t, got[0].Comment)
		assert.Nil(t, got[0].Context)
	})

	t.Run("list by road since is strict", func(t *testing.T) {
		reset(t)
		require.NoError(t, s.Insert(ctx, pgObservation("old", pgBase.Add(-9*time.Hour), domain.RoadIckford, domain.StatusClosed, "fp")))
		require.NoError(t, s.Insert(ctx, pgObservation("edge", pgBase.Add(-8*time.Hour), domain.RoadIckford, domain.StatusClosed, "fp")))
		require.NoError(t, s.Insert(ctx, pgObservation("mid", pgBase.Add(-2*time.Hour), domain.RoadIckford, domain.StatusCaution, "fp")))
		require.NoError(t, s.Insert(ctx, pgObservation("new", pgBase.Add(-1*time.Hour), domain.RoadIckford, domain.StatusClear, "fp")))
		require.NoError(t, s.Insert(ctx, pgObservation("other", pgBase.Add(-1*time.Hour), domain.RoadFishermanThame, domain.StatusClear, "fp")))

		got, err := s.ListByRoadSince(ctx, domain.RoadIckford, pgBase.Add(-8*time.Hour))
		require.NoError(t, err)
		ids := make([]string, 0, len(got))
		for _, o := range got {
			ids = append(ids, o.ID)
		}
		assert.Equal(t, []string{"new", "mid"}, ids)
	})

	t.Run("status counts since", func(t *testing.T) {
		reset(t)
		require.NoError(t, s.Insert(ctx, pgObservation("1", pgBase.Add(-30*time.Hour), domain.RoadIckford, domain.StatusClosed, "fp")))
		require.NoError(t, s.Insert(ctx, pgObservation("2", pgBase.Add(-3*time.Hour), domain.RoadIckford, domain.StatusClosed, "fp")))
		require.NoError(t, s.Insert(ctx, pgObservation("3", pgBase.Add(-2*time.Hour), domain.RoadIckford, domain.StatusClosed, "fp")))
		require.NoError(t, s.Insert(ctx, pgObservation("4", pgBase.Add(-1*time.Hour), domain.RoadIckford, domain.StatusCaution, "fp")))

		counts, err := s.StatusCountsSince(ctx, domain.RoadIckford, pgBase.Add(-24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, map[domain.RoadStatus]int{domain.StatusClosed: 2, domain.StatusCaution: 1}, counts)
	})

	t.Run("submission window", func(t *testing.T) {
		reset(t)
		require.NoError(t, s.Insert(ctx, pgObservation("1", pgBase.Add(-25*time.Hour), domain.RoadIckford, domain.StatusClear, "fp")))
		require.NoError(t, s.Insert(ctx, pgObservation("2", pgBase.Add(-5*time.Hour), domain.RoadIckford, domain.StatusClear, "fp")))
		require.NoError(t, s.Insert(ctx, pgObservation("3", pgBase.Add(-1*time.Hour), domain.RoadFishermanThame, domain.StatusClear, "fp")))
		require.NoError(t, s.Insert(ctx, pgObservation("4", pgBase.Add(-1*time.Hour), domain.RoadIckford, domain.StatusClear, "someone-else")))

		w, err := s.SubmissionWindow(ctx, "fp", pgBase.Add(-24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 2, w.Count)
		assert.True(t, pgBase.Add(-5*time.Hour).Equal(w.Oldest))
		assert.True(t, pgBase.Add(-1*time.Hour).Equal(w.Latest))

		empty, err := s.SubmissionWindow(ctx, "nobody", pgBase)
		require.NoError(t, err)
		assert.Zero(t, empty.Count)
		assert.True(t, empty.Oldest.IsZero())
		assert.True(t, empty.Latest.IsZero())
	})
}
