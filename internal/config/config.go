package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/flood-pulse-service/internal/domain"
	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// DefaultIPSalt is the placeholder salt; deployments must override IP_SALT.
const DefaultIPSalt = "change-this-in-production"

// Config holds all service settings, populated from environment variables
// and an optional YAML tuning file.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Observation store.
	StoreDriver string
	SQLitePath  string
	DatabaseURL string
	IPSalt      string

	// Environment Agency telemetry.
	EABaseURL            string
	RiverStationID       string
	RiverStationName     string
	EATimeout            time.Duration
	TelemetryCacheTTL    time.Duration
	VillageLat           float64
	VillageLon           float64
	RainfallSearchDistKm float64
	RainfallNumStations  int

	// Consensus and rate limiting, tunable from the YAML file.
	ConsensusLookback       time.Duration
	ConfidenceWeights       []domain.ConfidenceWeight
	DefaultConfidenceWeight float64
	RateLimitHourMax        int
	RateLimitDayMax         int

	// Observation publishing. Empty brokers disable it.
	KafkaBrokers          []string
	KafkaObservationTopic string
}

// Load reads configuration from environment variables, applying defaults where unset.
// When FLOOD_PULSE_CONFIG names a YAML file its tuning values replace the
// defaults; explicit environment variables still win.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	tuning, err := LoadTuning(os.Getenv("FLOOD_PULSE_CONFIG"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		StoreDriver: strings.ToLower(sharedcfg.EnvOrDefault("STORE_DRIVER", "sqlite")),
		SQLitePath:  sharedcfg.EnvOrDefault("SQLITE_PATH", "data/floodpulse.db"),
		DatabaseURL: sharedcfg.EnvOrDefault("DATABASE_URL", os.Getenv("POSTGRES_URL")),
		IPSalt:      sharedcfg.EnvOrDefault("IP_SALT", DefaultIPSalt),

		EABaseURL:        sharedcfg.EnvOrDefault("EA_BASE_URL", "https://environment.data.gov.uk/flood-monitoring"),
		RiverStationID:   sharedcfg.EnvOrDefault("EA_RIVER_STATION_ID", "1961TH"),
		RiverStationName: sharedcfg.EnvOrDefault("EA_RIVER_STATION_NAME", "Thame Bridge"),

		ConfidenceWeights:       tuning.Consensus.Weights,
		DefaultConfidenceWeight: tuning.Consensus.DefaultWeight,

		KafkaObservationTopic: sharedcfg.EnvOrDefault("KAFKA_OBSERVATION_TOPIC", "road-observations"),
	}

	if v := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); v != "" {
		for _, b := range sharedcfg.ParseBrokers(v) {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	durations := []struct {
		key  string
		def  time.Duration
		dest *time.Duration
	}{
		{"EA_TIMEOUT", 10 * time.Second, &cfg.EATimeout},
		{"TELEMETRY_CACHE_TTL", 5 * time.Minute, &cfg.TelemetryCacheTTL},
		{"CONSENSUS_LOOKBACK", tuning.Consensus.Lookback, &cfg.ConsensusLookback},
	}
	for _, d := range durations {
		if *d.dest, err = parseDuration(d.key, d.def); err != nil {
			return nil, err
		}
	}

	floats := []struct {
		key  string
		def  float64
		dest *float64
	}{
		{"VILLAGE_LAT", 51.7485, &cfg.VillageLat},
		{"VILLAGE_LON", -1.0030, &cfg.VillageLon},
		{"RAINFALL_SEARCH_DIST_KM", 15, &cfg.RainfallSearchDistKm},
	}
	for _, f := range floats {
		if *f.dest, err = parseFloat(f.key, f.def); err != nil {
			return nil, err
		}
	}

	ints := []struct {
		key  string
		def  int
		dest *int
	}{
		{"RAINFALL_NUM_STATIONS", 3, &cfg.RainfallNumStations},
		{"RATE_LIMIT_HOUR_MAX", tuning.RateLimit.HourMax, &cfg.RateLimitHourMax},
		{"RATE_LIMIT_DAY_MAX", tuning.RateLimit.DayMax, &cfg.RateLimitDayMax},
	}
	for _, n := range ints {
		if *n.dest, err = parsePositiveInt(n.key, n.def); err != nil {
			return nil, err
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case "sqlite":
		if c.SQLitePath == "" {
			return errors.New("SQLITE_PATH is required when STORE_DRIVER is sqlite")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when STORE_DRIVER is postgres")
		}
	case "memory":
	default:
		return fmt.Errorf("invalid STORE_DRIVER %q: want sqlite, postgres or memory", c.StoreDriver)
	}
	if c.IPSalt == "" {
		return errors.New("IP_SALT must not be empty")
	}
	if c.RiverStationID == "" {
		return errors.New("EA_RIVER_STATION_ID is required")
	}
	if c.VillageLat < -90 || c.VillageLat > 90 {
		return errors.New("invalid VILLAGE_LAT")
	}
	if c.VillageLon < -180 || c.VillageLon > 180 {
		return errors.New("invalid VILLAGE_LON")
	}
	if c.RainfallSearchDistKm <= 0 {
		return errors.New("invalid RAINFALL_SEARCH_DIST_KM")
	}
	if c.RateLimitDayMax < c.RateLimitHourMax {
		return errors.New("RATE_LIMIT_DAY_MAX must not be below RATE_LIMIT_HOUR_MAX")
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaObservationTopic == "" {
		return errors.New("KAFKA_OBSERVATION_TOPIC is required when KAFKA_BROKERS is set")
	}
	return nil
}

// PublishingEnabled reports whether accepted observations go to Kafka.
func (c *Config) PublishingEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

func parseDuration(key string, def time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return d, nil
}

func parseFloat(key string, def float64) (float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return f, nil
}

func parsePositiveInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return n, nil
}
