package submission

import (
	"errors"
	"testing"

	"github.com/couchcryptid/flood-pulse-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSubmission_Valid(t *testing.T) {
	env := &domain.EnvironmentalContext{}
	sub, err := ParseSubmission("ICKFORD_ENTRANCE", " 3 ", "SAW_IT", "deep puddle", env)
	require.NoError(t, err)

	assert.Equal(t, domain.RoadIckford, sub.Road)
	assert.Equal(t, domain.StatusHighClearance, sub.Status)
	assert.Equal(t, domain.ConfidenceSawIt, sub.Confidence)
	assert.Equal(t, "deep puddle", sub.Comment)
	assert.Same(t, env, sub.Context)
}

func TestParseSubmission_Invalid(t *testing.T) {
	tests := []struct {
		name       string
		road       string
		status     string
		confidence string
		field      string
		reason     string
	}{
		{"unknown road", "MAIN_STREET", "1", "DROVE_IT", "road", "unknown road"},
		{"status not a number", "ICKFORD_ENTRANCE", "closed", "DROVE_IT", "status", "must be a whole number"},
		{"status out of range", "ICKFORD_ENTRANCE", "9", "DROVE_IT", "status", "must be one of 1, 2, 3 or 4"},
		{"unknown status is not a vote", "ICKFORD_ENTRANCE", "5", "DROVE_IT", "status", "must be one of 1, 2, 3 or 4"},
		{"zero status", "ICKFORD_ENTRANCE", "0", "DROVE_IT", "status", "must be one of 1, 2, 3 or 4"},
		{"unknown confidence", "ICKFORD_ENTRANCE", "2", "GUESSED", "confidence", "unknown confidence"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSubmission(tt.road, tt.status, tt.confidence, "", nil)
			require.Error(t, err)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
			assert.Equal(t, tt.reason, verr.Reason)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}
