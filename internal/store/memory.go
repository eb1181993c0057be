package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/couchcryptid/flood-pulse-service/internal/domain"
)

// DriverMemory keeps observations in process memory. Nothing survives a restart.
const DriverMemory = "memory"

var _ domain.ObservationStore = (*Memory)(nil)

// Memory is an in-process observation log for local runs and tests.
type Memory struct {
	mu   sync.RWMutex
	rows []domain.Observation
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Insert(_ context.Context, obs domain.Observation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, obs)
	return nil
}

func (m *Memory) ListByRoadSince(_ context.Context, road domain.RoadID, since time.Time) ([]domain.Observation, error) {
	return m.newestFirst(func(o domain.Observation) bool {
		return o.RoadID == road && o.CreatedAt.After(since)
	}, 0), nil
}

func (m *Memory) ListRecentByRoad(_ context.Context, road domain.RoadID, limit int) ([]domain.Observation, error) {
	return m.newestFirst(func(o domain.Observation) bool {
		return o.RoadID == road
	}, limit), nil
}

func (m *Memory) StatusCountsSince(_ context.Context, road domain.RoadID, since time.Time) (map[domain.RoadStatus]int, error) {
	counts := make(map[domain.RoadStatus]int)
	for _, o := range m.newestFirst(func(o domain.Observation) bool {
		return o.RoadID == road && o.CreatedAt.After(since)
	}, 0) {
		counts[o.Status]++
	}
	return counts, nil
}

func (m *Memory) SubmissionWindow(_ context.Context, fingerprint string, since time.Time) (domain.SubmissionWindow, error) {
	matched := m.newestFirst(func(o domain.Observation) bool {
		return o.Fingerprint == fingerprint && o.CreatedAt.After(since)
	}, 0)
	if len(matched) == 0 {
		return domain.SubmissionWindow{}, nil
	}
	return domain.SubmissionWindow{
		Count:  len(matched),
		Oldest: matched[len(matched)-1].CreatedAt,
		Latest: matched[0].CreatedAt,
	}, nil
}

// newestFirst filters under the read lock and sorts by created_at desc,
// ID desc, matching the SQL stores. limit <= 0 means no limit.
func (m *Memory) newestFirst(keep func(domain.Observation) bool, limit int) []domain.Observation {
	m.mu.RLock()
	var out []domain.Observation
	for _, o := range m.rows {
		if keep(o) {
			out = append(out, o)
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (m *Memory) EnsureSchema(context.Context) error { return nil }

func (m *Memory) CheckReadiness(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
