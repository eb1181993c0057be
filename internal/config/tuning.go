package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/couchcryptid/flood-pulse-service/internal/domain"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Tuning is the YAML file layout for vote weights and rate caps:
//
//	consensus:
//	  lookback: 8h
//	  default_weight: 0.5
//	  weights:
//	    - confidence: DROVE_IT
//	      weight: 1.0
//	rate_limit:
//	  hour_max: 2
//	  day_max: 6
type Tuning struct {
	Consensus ConsensusTuning `koanf:"consensus"`
	RateLimit RateLimitTuning `koanf:"rate_limit"`
}

type ConsensusTuning struct {
	Lookback      time.Duration             `koanf:"lookback"`
	DefaultWeight float64                   `koanf:"default_weight"`
	Weights       []domain.ConfidenceWeight `koanf:"weights"`
}

type RateLimitTuning struct {
	HourMax int `koanf:"hour_max"`
	DayMax  int `koanf:"day_max"`
}

// DefaultTuning returns the built-in weights and caps.
func DefaultTuning() Tuning {
	return Tuning{
		Consensus: ConsensusTuning{
			Lookback:      8 * time.Hour,
			DefaultWeight: domain.DefaultConfidenceWeight,
			Weights:       domain.DefaultConfidenceWeights(),
		},
		RateLimit: RateLimitTuning{HourMax: 2, DayMax: 6},
	}
}

// LoadTuning layers the YAML file at path over DefaultTuning. An empty path
// returns the defaults.
func LoadTuning(path string) (Tuning, error) {
	t := DefaultTuning()
	if path == "" {
		return t, nil
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return Tuning{}, fmt.Errorf("load FLOOD_PULSE_CONFIG %s: %w", path, err)
	}

	// Decode into a blank value and copy over only the keys present, so a
	// short weights list replaces the defaults instead of merging into them.
	var fromFile Tuning
	if err := k.UnmarshalWithConf("", &fromFile, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Tuning{}, fmt.Errorf("parse FLOOD_PULSE_CONFIG %s: %w", path, err)
	}
	if k.Exists("consensus.lookback") {
		t.Consensus.Lookback = fromFile.Consensus.Lookback
	}
	if k.Exists("consensus.default_weight") {
		t.Consensus.DefaultWeight = fromFile.Consensus.DefaultWeight
	}
	if k.Exists("consensus.weights") {
		t.Consensus.Weights = fromFile.Consensus.Weights
	}
	if k.Exists("rate_limit.hour_max") {
		t.RateLimit.HourMax = fromFile.RateLimit.HourMax
	}
	if k.Exists("rate_limit.day_max") {
		t.RateLimit.DayMax = fromFile.RateLimit.DayMax
	}
	return t, t.validate()
}

func (t Tuning) validate() error {
	if t.Consensus.Lookback <= 0 {
		return errors.New("invalid FLOOD_PULSE_CONFIG: consensus.lookback must be positive")
	}
	if t.Consensus.DefaultWeight < 0 {
		return errors.New("invalid FLOOD_PULSE_CONFIG: consensus.default_weight must not be negative")
	}
	for _, w := range t.Consensus.Weights {
		if _, err := domain.ParseConfidence(string(w.Confidence)); err != nil {
			return fmt.Errorf("invalid FLOOD_PULSE_CONFIG: %w", err)
		}
		if w.Weight < 0 {
			return fmt.Errorf("invalid FLOOD_PULSE_CONFIG: weight for %s must not be negative", w.Confidence)
		}
	}
	if t.RateLimit.HourMax <= 0 || t.RateLimit.DayMax <= 0 {
		return errors.New("invalid FLOOD_PULSE_CONFIG: rate_limit caps must be positive")
	}
	return nil
}
