package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// MaxCommentLength is the longest comment stored, in characters.
const MaxCommentLength = 280

// Observation is a single crowd-submitted road report. It is never mutated
// after creation.
type Observation struct {
	ID          string                `json:"id"`
	CreatedAt   time.Time             `json:"created_at"`
	RoadID      RoadID                `json:"road_id"`
	Status      RoadStatus            `json:"status"`
	Confidence  Confidence            `json:"confidence"`
	Comment     *string               `json:"comment,omitempty"`
	Fingerprint string                `json:"-"`
	Context     *EnvironmentalContext `json:"environmental_context,omitempty"`
}

// EnvironmentalContext snapshots telemetry at submission time. Any field may
// be nil when the corresponding feed was unavailable.
type EnvironmentalContext struct {
	RiverLevel  *float64 `json:"river_level_m,omitempty"`
	Rainfall24h *float64 `json:"rainfall_24h_mm,omitempty"`
	Rainfall48h *float64 `json:"rainfall_48h_mm,omitempty"`
	Rainfall72h *float64 `json:"rainfall_72h_mm,omitempty"`
}

// ContextFromConditions captures the values of live conditions worth keeping
// alongside an observation. Returns nil when nothing is known.
func ContextFromConditions(c LiveConditions) *EnvironmentalContext {
	ec := &EnvironmentalContext{
		Rainfall24h: c.Rainfall.Total24h,
		Rainfall48h: c.Rainfall.Total48h,
		Rainfall72h: c.Rainfall.Total72h,
	}
	if c.River != nil {
		v := c.River.Value
		ec.RiverLevel = &v
	}
	if ec.RiverLevel == nil && ec.Rainfall24h == nil && ec.Rainfall48h == nil && ec.Rainfall72h == nil {
		return nil
	}
	return ec
}

// ConsensusResult is the displayed status of a road, recomputed per query.
type ConsensusResult struct {
	RoadID         RoadID     `json:"road_id"`
	Status         RoadStatus `json:"status"`
	ReportCount    int        `json:"report_count"`
	LastReportTime time.Time  `json:"last_report_time"`
}

// StatusChange reports that the two most recent observations disagree.
type StatusChange struct {
	PreviousStatus RoadStatus `json:"previous_status"`
	ChangedAt      time.Time  `json:"changed_at"`
}

// SubmissionWindow summarises one fingerprint's submissions inside a window.
// Oldest and Latest are zero when Count is zero.
type SubmissionWindow struct {
	Count  int
	Oldest time.Time
	Latest time.Time
}

// SanitizeComment normalises, truncates and trims a free-text comment.
// Blank input yields nil so "no comment" stays distinguishable from "".
func SanitizeComment(raw string) *string {
	s := norm.NFC.String(raw)
	if r := []rune(s); len(r) > MaxCommentLength {
		s = string(r[:MaxCommentLength])
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// Fingerprint derives the opaque submitter identity from a network address.
func Fingerprint(address, salt string) string {
	sum := sha256.Sum256([]byte(address + salt))
	return hex.EncodeToString(sum[:])
}
