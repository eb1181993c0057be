package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/couchcryptid/flood-pulse-service/internal/domain"
	"github.com/couchcryptid/flood-pulse-service/internal/observability"
	"github.com/jonboulle/clockwork"
)

const (
	// StaleReadingAge marks a river reading stale even when freshly fetched.
	StaleReadingAge = time.Hour

	// TrendWindow is how far back readings are fetched to derive a trend.
	TrendWindow = 3 * time.Hour

	// TrendThreshold is the level change in metres between the two most
	// recent readings that counts as rising or falling.
	TrendThreshold = 0.02

	// RainfallWindow is the longest rainfall total reported.
	RainfallWindow = 72 * time.Hour

	riverUnit    = "m"
	rainfallUnit = "mm"

	// trendEpsilon absorbs float error for deltas sitting exactly on the threshold.
	trendEpsilon = 1e-9

	kindRiver    = "river"
	kindStations = "stations"
	kindRainfall = "rainfall"

	stationsKey = "rainfall_stations"
)

var errNoItems = errors.New("no readings returned")

// Config locates the monitored river station and the rainfall search area.
type Config struct {
	RiverStationID   string
	RiverStationName string
	VillageLat       float64
	VillageLon       float64
	SearchDistKm     float64
	NumStations      int
	CacheTTL         time.Duration
}

// Service serves river and rainfall telemetry with stale fallback. Every
// method degrades to a stale or absent value instead of returning an error.
type Service struct {
	source   domain.TelemetrySource
	cfg      Config
	clock    clockwork.Clock
	metrics  *observability.Metrics
	logger   *slog.Logger
	river    *Cache[domain.RiverReading]
	stations *Cache[[]string]
	rainfall *Cache[domain.RainfallTotal]
}

// NewService creates a telemetry service over source. A nil clock selects
// the real clock.
func NewService(source domain.TelemetrySource, cfg Config, clock clockwork.Clock, metrics *observability.Metrics, logger *slog.Logger) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{
		source:   source,
		cfg:      cfg,
		clock:    clock,
		metrics:  metrics,
		logger:   logger,
		river:    NewCache[domain.RiverReading](cfg.CacheTTL, clock),
		stations: NewCache[[]string](cfg.CacheTTL, clock),
		rainfall: NewCache[domain.RainfallTotal](cfg.CacheTTL, clock),
	}
}

// RiverLevel returns the latest river reading, a stale copy when the feed is
// down, or nil when nothing has ever been fetched.
func (s *Service) RiverLevel(ctx context.Context) *domain.RiverReading {
	key := "river_" + s.cfg.RiverStationID
	if cached, ok := s.river.Get(key); ok {
		s.metrics.TelemetryCache.WithLabelValues(kindRiver, "hit").Inc()
		return &cached
	}
	s.metrics.TelemetryCache.WithLabelValues(kindRiver, "miss").Inc()

	reading, err := s.fetchRiver(ctx)
	if err != nil {
		s.logger.Warn("river level unavailable", "station_id", s.cfg.RiverStationID, "error", err)
		stale, ok := s.river.GetStale(key)
		if !ok {
			s.metrics.TelemetryStale.WithLabelValues(kindRiver, "absent").Inc()
			return nil
		}
		s.metrics.TelemetryStale.WithLabelValues(kindRiver, "served").Inc()
		stale.IsStale = true
		return &stale
	}

	s.river.Set(key, reading)
	return &reading
}

func (s *Service) fetchRiver(ctx context.Context) (domain.RiverReading, error) {
	readings, err := s.source.LatestReadings(ctx, s.cfg.RiverStationID)
	if err != nil {
		return domain.RiverReading{}, err
	}
	if len(readings) == 0 {
		return domain.RiverReading{}, errNoItems
	}
	latest := readings[0]

	return domain.RiverReading{
		StationID:   s.cfg.RiverStationID,
		StationName: s.cfg.RiverStationName,
		Value:       latest.Value,
		Unit:        riverUnit,
		ObservedAt:  latest.Time,
		Trend:       s.trend(ctx),
		IsStale:     s.clock.Since(latest.Time) > StaleReadingAge,
	}, nil
}

// trend compares the two most recent readings of the last few hours. Any
// failure yields TrendUnknown and never fails the river reading itself.
func (s *Service) trend(ctx context.Context) domain.Trend {
	readings, err := s.source.ReadingsSince(ctx, s.cfg.RiverStationID, s.clock.Now().Add(-TrendWindow))
	if err != nil {
		s.logger.Warn("river trend unavailable", "station_id", s.cfg.RiverStationID, "error", err)
		return domain.TrendUnknown
	}
	return classifyTrend(readings)
}

func classifyTrend(readings []domain.Reading) domain.Trend {
	if len(readings) < 2 {
		return domain.TrendUnknown
	}
	sorted := make([]domain.Reading, len(readings))
	copy(sorted, readings)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Time.After(sorted[j].Time)
	})

	delta := sorted[0].Value - sorted[1].Value
	switch {
	case delta >= TrendThreshold-trendEpsilon:
		return domain.TrendRising
	case delta <= -TrendThreshold+trendEpsilon:
		return domain.TrendFalling
	default:
		return domain.TrendSteady
	}
}

// RainfallStations returns up to the configured number of rainfall stations
// near the village. Never nil.
func (s *Service) RainfallStations(ctx context.Context) []string {
	if cached, ok := s.stations.Get(stationsKey); ok {
		s.metrics.TelemetryCache.WithLabelValues(kindStations, "hit").Inc()
		return cloneStrings(cached)
	}
	s.metrics.TelemetryCache.WithLabelValues(kindStations, "miss").Inc()

	ids, err := s.source.RainfallStations(ctx, s.cfg.VillageLat, s.cfg.VillageLon, s.cfg.SearchDistKm)
	if err == nil && len(ids) == 0 {
		err = errNoItems
	}
	if err != nil {
		s.logger.Warn("rainfall station lookup failed", "error", err)
		if stale, ok := s.stations.GetStale(stationsKey); ok {
			s.metrics.TelemetryStale.WithLabelValues(kindStations, "served").Inc()
			return cloneStrings(stale)
		}
		s.metrics.TelemetryStale.WithLabelValues(kindStations, "absent").Inc()
		return []string{}
	}

	if s.cfg.NumStations > 0 && len(ids) > s.cfg.NumStations {
		ids = ids[:s.cfg.NumStations]
	}
	s.stations.Set(stationsKey, cloneStrings(ids))
	return cloneStrings(ids)
}

// RainfallTotal returns the 24/48/72h rainfall totals of one station, a stale
// copy when the feed is down, or nil.
func (s *Service) RainfallTotal(ctx context.Context, stationID string) *domain.RainfallTotal {
	key := "rain_" + stationID
	if cached, ok := s.rainfall.Get(key); ok {
		s.metrics.TelemetryCache.WithLabelValues(kindRainfall, "hit").Inc()
		return &cached
	}
	s.metrics.TelemetryCache.WithLabelValues(kindRainfall, "miss").Inc()

	total, err := s.fetchRainfall(ctx, stationID)
	if err != nil {
		s.logger.Warn("rainfall unavailable", "station_id", stationID, "error", err)
		stale, ok := s.rainfall.GetStale(key)
		if !ok {
			s.metrics.TelemetryStale.WithLabelValues(kindRainfall, "absent").Inc()
			return nil
		}
		s.metrics.TelemetryStale.WithLabelValues(kindRainfall, "served").Inc()
		stale.IsStale = true
		return &stale
	}

	s.rainfall.Set(key, total)
	return &total
}

func (s *Service) fetchRainfall(ctx context.Context, stationID string) (domain.RainfallTotal, error) {
	now := s.clock.Now()
	readings, err := s.source.ReadingsSince(ctx, stationID, now.Add(-RainfallWindow))
	if err != nil {
		return domain.RainfallTotal{}, err
	}
	if len(readings) == 0 {
		return domain.RainfallTotal{}, errNoItems
	}

	var t24, t48, t72 float64
	var last time.Time
	for _, r := range readings {
		if r.Value > 0 {
			age := now.Sub(r.Time)
			if age <= 24*time.Hour {
				t24 += r.Value
			}
			if age <= 48*time.Hour {
				t48 += r.Value
			}
			if age <= 72*time.Hour {
				t72 += r.Value
			}
		}
		if r.Time.After(last) {
			last = r.Time
		}
	}

	return domain.RainfallTotal{
		StationID:       stationID,
		Total24h:        roundTenth(t24),
		Total48h:        roundTenth(t48),
		Total72h:        roundTenth(t72),
		LastReadingTime: last,
		Unit:            rainfallUnit,
	}, nil
}

// AggregatedRainfall reduces the nearby stations to the median of each
// window. Stations that fail are left out and downgrade the quality.
func (s *Service) AggregatedRainfall(ctx context.Context) domain.RainfallAggregate {
	ids := s.RainfallStations(ctx)
	agg := domain.RainfallAggregate{
		Quality:         domain.QualityMissing,
		StationsQueried: len(ids),
	}
	if len(ids) == 0 {
		return agg
	}

	var d24, d48, d72 []float64
	for _, id := range ids {
		total := s.RainfallTotal(ctx, id)
		if total == nil {
			continue
		}
		d24 = append(d24, total.Total24h)
		d48 = append(d48, total.Total48h)
		d72 = append(d72, total.Total72h)
		if total.IsStale {
			agg.IsStale = true
		}
	}

	agg.StationsReporting = len(d24)
	if agg.StationsReporting == 0 {
		return agg
	}

	agg.Total24h = median(d24)
	agg.Total48h = median(d48)
	agg.Total72h = median(d72)
	if agg.StationsReporting == len(ids) {
		agg.Quality = domain.QualityOK
	} else {
		agg.Quality = domain.QualityPartial
	}
	return agg
}

// LiveConditions gathers river and rainfall in one call.
func (s *Service) LiveConditions(ctx context.Context) domain.LiveConditions {
	return domain.LiveConditions{
		River:       s.RiverLevel(ctx),
		Rainfall:    s.AggregatedRainfall(ctx),
		GeneratedAt: s.clock.Now().UTC(),
	}
}

// median returns the middle value, averaging the middle pair for even counts.
func median(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	n := len(sorted)
	m := sorted[n/2]
	if n%2 == 0 {
		m = (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return &m
}

func roundTenth(v float64) float64 {
	return math.Round(v*10) / 10
}

func cloneStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}
