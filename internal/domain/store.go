package domain

import (
	"context"
	"time"
)

// ObservationReader is the read side of the observation log.
type ObservationReader interface {
	// ListByRoadSince returns observations for road created strictly after
	// since, newest first.
	ListByRoadSince(ctx context.Context, road RoadID, since time.Time) ([]Observation, error)

	// ListRecentByRoad returns the newest limit observations for road.
	ListRecentByRoad(ctx context.Context, road RoadID, limit int) ([]Observation, error)

	// StatusCountsSince tallies observations per status created after since.
	StatusCountsSince(ctx context.Context, road RoadID, since time.Time) (map[RoadStatus]int, error)
}

// ObservationStore is the full persistence contract of the observation log.
type ObservationStore interface {
	ObservationReader

	// Insert appends one observation.
	Insert(ctx context.Context, obs Observation) error

	// SubmissionWindow summarises a fingerprint's observations created after
	// since, across all roads.
	SubmissionWindow(ctx context.Context, fingerprint string, since time.Time) (SubmissionWindow, error)

	// EnsureSchema creates tables and indexes. Safe to call repeatedly.
	EnsureSchema(ctx context.Context) error

	// CheckReadiness verifies the store is reachable.
	CheckReadiness(ctx context.Context) error

	Close() error
}
