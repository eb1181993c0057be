// Package submission validates, rate limits and records crowd road reports.
package submission

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/couchcryptid/flood-pulse-service/internal/domain"
)

// Submission is a validated report ready to be recorded.
type Submission struct {
	Road       domain.RoadID
	Status     domain.RoadStatus
	Confidence domain.Confidence
	Comment    string
	Context    *domain.EnvironmentalContext
}

// ValidationError names the offending form field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ParseSubmission validates raw form values. The comment is kept raw here
// and sanitised when the observation is built.
func ParseSubmission(road, status, confidence, comment string, env *domain.EnvironmentalContext) (Submission, error) {
	roadID, err := domain.ParseRoadID(road)
	if err != nil {
		return Submission{}, &ValidationError{Field: "road", Reason: "unknown road"}
	}

	st, err := domain.ParseRoadStatus(status)
	if err != nil {
		reason := "must be a whole number"
		if _, numErr := strconv.Atoi(strings.TrimSpace(status)); numErr == nil {
			reason = "must be one of 1, 2, 3 or 4"
		}
		return Submission{}, &ValidationError{Field: "status", Reason: reason}
	}

	conf, err := domain.ParseConfidence(confidence)
	if err != nil {
		return Submission{}, &ValidationError{Field: "confidence", Reason: "unknown confidence"}
	}

	return Submission{
		Road:       roadID,
		Status:     st,
		Confidence: conf,
		Comment:    comment,
		Context:    env,
	}, nil
}
