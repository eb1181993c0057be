package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// RoadID identifies one of the monitored road entrances.
type RoadID string

const (
	RoadIckford        RoadID = "ICKFORD_ENTRANCE"
	RoadFishermanThame RoadID = "FISHERMAN_THAME_ENTRANCE"
)

// Roads returns every monitored road in display order.
func Roads() []RoadID {
	return []RoadID{RoadIckford, RoadFishermanThame}
}

// ParseRoadID validates a road identifier.
func ParseRoadID(s string) (RoadID, error) {
	id := RoadID(strings.TrimSpace(s))
	for _, r := range Roads() {
		if r == id {
			return id, nil
		}
	}
	return "", fmt.Errorf("unknown road %q", s)
}

// Label is the short name shown on a road card.
func (r RoadID) Label() string {
	switch r {
	case RoadIckford:
		return "From Ickford"
	case RoadFishermanThame:
		return "From Thame (Fisherman)"
	default:
		return string(r)
	}
}

// Description is the longer road description.
func (r RoadID) Description() string {
	switch r {
	case RoadIckford:
		return "Road from Ickford village"
	case RoadFishermanThame:
		return "Road from Thame via Fisherman pub"
	default:
		return ""
	}
}

// RoadStatus is the passability of a road, ordered by severity.
type RoadStatus int

const (
	StatusClear         RoadStatus = 1
	StatusCaution       RoadStatus = 2
	StatusHighClearance RoadStatus = 3
	StatusClosed        RoadStatus = 4
	// StatusUnknown means no data. It is never a vote and consensus never
	// returns it; the presentation layer shows it when consensus is absent.
	StatusUnknown RoadStatus = 5
)

// VotableStatuses lists the statuses an observation may carry, most severe first.
func VotableStatuses() []RoadStatus {
	return []RoadStatus{StatusClosed, StatusHighClearance, StatusCaution, StatusClear}
}

// Votable reports whether s may be submitted as an observation.
func (s RoadStatus) Votable() bool {
	return s >= StatusClear && s <= StatusClosed
}

// ParseRoadStatus parses the integer form used by the report form and storage.
// Only votable statuses are accepted.
func ParseRoadStatus(s string) (RoadStatus, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("status %q is not a number", s)
	}
	status := RoadStatus(n)
	if !status.Votable() {
		return 0, fmt.Errorf("status %d is not a reportable value", n)
	}
	return status, nil
}

func (s RoadStatus) String() string {
	switch s {
	case StatusClear:
		return "CLEAR"
	case StatusCaution:
		return "CAUTION"
	case StatusHighClearance:
		return "HIGH_CLEARANCE"
	case StatusClosed:
		return "CLOSED"
	case StatusUnknown:
		return "UNKNOWN"
	default:
		return fmt.Sprintf("RoadStatus(%d)", int(s))
	}
}

// Label is the human-readable status name.
func (s RoadStatus) Label() string {
	switch s {
	case StatusClear:
		return "Clear"
	case StatusCaution:
		return "Caution"
	case StatusHighClearance:
		return "High Clearance Only"
	case StatusClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Description explains what the status means for drivers.
func (s RoadStatus) Description() string {
	switch s {
	case StatusClear:
		return "Passable in any car"
	case StatusCaution:
		return "Drive carefully, small cars risky"
	case StatusHighClearance:
		return "4x4 or high clearance only"
	case StatusClosed:
		return "Do not attempt"
	default:
		return "Status not known"
	}
}

// Confidence describes how the reporter knows the road status.
type Confidence string

const (
	ConfidenceDroveIt Confidence = "DROVE_IT"
	ConfidenceSawIt   Confidence = "SAW_IT"
	ConfidenceHeardIt Confidence = "HEARD_IT"
)

// ParseConfidence validates a confidence value.
func ParseConfidence(s string) (Confidence, error) {
	c := Confidence(strings.TrimSpace(s))
	switch c {
	case ConfidenceDroveIt, ConfidenceSawIt, ConfidenceHeardIt:
		return c, nil
	default:
		return "", fmt.Errorf("unknown confidence %q", s)
	}
}

// Label is the phrase shown next to a report.
func (c Confidence) Label() string {
	switch c {
	case ConfidenceDroveIt:
		return "I drove through it"
	case ConfidenceSawIt:
		return "I saw it (walked/looked)"
	case ConfidenceHeardIt:
		return "I heard from someone else"
	default:
		return string(c)
	}
}
