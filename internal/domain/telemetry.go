package domain

import (
	"context"
	"time"
)

// Trend is the short-term direction of a river level.
type Trend string

const (
	TrendRising  Trend = "rising"
	TrendFalling Trend = "falling"
	TrendSteady  Trend = "steady"
	TrendUnknown Trend = "unknown"
)

// DataQuality classifies how many rainfall stations contributed to an aggregate.
type DataQuality string

const (
	QualityOK      DataQuality = "ok"
	QualityPartial DataQuality = "partial"
	QualityMissing DataQuality = "missing"
)

// Reading is one timestamped value from a telemetry station.
type Reading struct {
	Time  time.Time
	Value float64
}

// RiverReading is the latest river level with its derived trend.
type RiverReading struct {
	StationID   string    `json:"station_id"`
	StationName string    `json:"station_name"`
	Value       float64   `json:"value"`
	Unit        string    `json:"unit"`
	ObservedAt  time.Time `json:"observed_at"`
	Trend       Trend     `json:"trend"`
	// IsStale is set when the reading is over an hour old or was served from
	// cache because the upstream feed was unreachable.
	IsStale bool `json:"is_stale"`
}

// RainfallTotal holds windowed rainfall sums for a single station.
type RainfallTotal struct {
	StationID       string    `json:"station_id"`
	Total24h        float64   `json:"total_24h"`
	Total48h        float64   `json:"total_48h"`
	Total72h        float64   `json:"total_72h"`
	LastReadingTime time.Time `json:"last_reading_time"`
	Unit            string    `json:"unit"`
	IsStale         bool      `json:"is_stale"`
}

// RainfallAggregate is the median rainfall across nearby stations. Totals are
// nil when Quality is QualityMissing; zero would falsely claim no rain.
type RainfallAggregate struct {
	Total24h          *float64    `json:"total_24h"`
	Total48h          *float64    `json:"total_48h"`
	Total72h          *float64    `json:"total_72h"`
	Quality           DataQuality `json:"quality"`
	StationsReporting int         `json:"stations_reporting"`
	StationsQueried   int         `json:"stations_queried"`
	IsStale           bool        `json:"is_stale"`
}

// LiveConditions bundles river and rainfall for one dashboard refresh.
type LiveConditions struct {
	River       *RiverReading     `json:"river"`
	Rainfall    RainfallAggregate `json:"rainfall"`
	GeneratedAt time.Time         `json:"generated_at"`
}

// TelemetrySource fetches raw readings from the remote monitoring API.
type TelemetrySource interface {
	// LatestReadings returns the most recent reading(s) for a station.
	LatestReadings(ctx context.Context, stationID string) ([]Reading, error)

	// ReadingsSince returns all readings for a station at or after since.
	ReadingsSince(ctx context.Context, stationID string, since time.Time) ([]Reading, error)

	// RainfallStations returns station references near a point, nearest first.
	RainfallStations(ctx context.Context, lat, lon, distKm float64) ([]string, error)
}
