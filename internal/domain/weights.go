package domain

import "math"

// DefaultConfidenceWeight applies to any confidence value missing from the table.
const DefaultConfidenceWeight = 0.5

// ConfidenceWeight pairs a confidence value with its vote multiplier.
type ConfidenceWeight struct {
	Confidence Confidence `koanf:"confidence"`
	Weight     float64    `koanf:"weight"`
}

// DefaultConfidenceWeights is the vote weight table, highest trust first.
func DefaultConfidenceWeights() []ConfidenceWeight {
	return []ConfidenceWeight{
		{Confidence: ConfidenceDroveIt, Weight: 1.0},
		{Confidence: ConfidenceSawIt, Weight: 0.8},
		{Confidence: ConfidenceHeardIt, Weight: 0.3},
	}
}

// WeightTable resolves confidence values to integer vote weights in
// thousandths, so that accumulated sums compare exactly.
type WeightTable struct {
	weights  map[Confidence]int64
	fallback int64
}

// NewWeightTable builds a table from an ordered weight list. Later entries
// for the same confidence override earlier ones.
func NewWeightTable(entries []ConfidenceWeight, fallback float64) WeightTable {
	t := WeightTable{
		weights:  make(map[Confidence]int64, len(entries)),
		fallback: milli(fallback),
	}
	for _, e := range entries {
		t.weights[e.Confidence] = milli(e.Weight)
	}
	return t
}

// Weight returns the vote weight for c in thousandths.
func (t WeightTable) Weight(c Confidence) int64 {
	if w, ok := t.weights[c]; ok {
		return w
	}
	return t.fallback
}

func milli(w float64) int64 {
	return int64(math.Round(w * 1000))
}
