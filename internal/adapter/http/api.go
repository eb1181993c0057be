package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/flood-pulse-service/internal/domain"
	"github.com/couchcryptid/flood-pulse-service/internal/observability"
	"github.com/couchcryptid/flood-pulse-service/internal/submission"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
)

const maxReportBytes = 16 << 10

// TelemetryReader serves river and rainfall data. Implementations never fail;
// missing data is nil or flagged by quality.
type TelemetryReader interface {
	RiverLevel(ctx context.Context) *domain.RiverReading
	AggregatedRainfall(ctx context.Context) domain.RainfallAggregate
	LiveConditions(ctx context.Context) domain.LiveConditions
}

// RoadReader serves consensus and report history.
type RoadReader interface {
	Consensus(ctx context.Context, road domain.RoadID) *domain.ConsensusResult
	AllConsensus(ctx context.Context) map[domain.RoadID]*domain.ConsensusResult
	StatusCounts24h(ctx context.Context, road domain.RoadID) map[domain.RoadStatus]int
	StatusChange(ctx context.Context, road domain.RoadID) *domain.StatusChange
	RecentObservations(ctx context.Context, road domain.RoadID, limit int) []domain.Observation
}

// Submitter records road reports.
type Submitter interface {
	Submit(ctx context.Context, sub submission.Submission, fingerprint string) submission.Outcome
}

// Dependencies wires the API routes to the core components.
type Dependencies struct {
	Telemetry TelemetryReader
	Roads     RoadReader
	Gate      Submitter
	IPSalt    string
	Metrics   *observability.Metrics
}

type api struct {
	Dependencies
	logger *slog.Logger
}

func newAPI(deps Dependencies, logger *slog.Logger) *api {
	return &api{Dependencies: deps, logger: logger}
}

func (a *api) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/river", a.handleRiver)
	mux.HandleFunc("GET /api/rainfall", a.handleRainfall)
	mux.HandleFunc("GET /api/conditions", a.handleConditions)
	mux.HandleFunc("GET /api/roads", a.handleRoads)
	mux.HandleFunc("GET /api/roads/{road}", a.handleRoad)
	mux.HandleFunc("GET /api/roads/{road}/history", a.handleHistory)
	mux.HandleFunc("POST /api/roads/{road}/observations", a.handleSubmit)
}

// riverResponse always renders; River is null when no reading was ever fetched.
type riverResponse struct {
	River *domain.RiverReading `json:"river"`
}

func (a *api) handleRiver(w http.ResponseWriter, r *http.Request) {
	sharedobs.WriteJSON(w, http.StatusOK, riverResponse{River: a.Telemetry.RiverLevel(r.Context())})
}

func (a *api) handleRainfall(w http.ResponseWriter, r *http.Request) {
	sharedobs.WriteJSON(w, http.StatusOK, a.Telemetry.AggregatedRainfall(r.Context()))
}

func (a *api) handleConditions(w http.ResponseWriter, r *http.Request) {
	sharedobs.WriteJSON(w, http.StatusOK, a.Telemetry.LiveConditions(r.Context()))
}

type roadSummary struct {
	RoadID      domain.RoadID           `json:"road_id"`
	Label       string                  `json:"label"`
	Description string                  `json:"description"`
	Status      domain.RoadStatus       `json:"status"`
	StatusLabel string                  `json:"status_label"`
	Consensus   *domain.ConsensusResult `json:"consensus"`
}

type roadDetail struct {
	roadSummary
	Counts24h    map[string]int       `json:"counts_24h"`
	StatusChange *domain.StatusChange `json:"status_change"`
}

func summarize(road domain.RoadID, c *domain.ConsensusResult) roadSummary {
	status := domain.StatusUnknown
	if c != nil {
		status = c.Status
	}
	return roadSummary{
		RoadID:      road,
		Label:       road.Label(),
		Description: road.Description(),
		Status:      status,
		StatusLabel: status.Label(),
		Consensus:   c,
	}
}

func (a *api) handleRoads(w http.ResponseWriter, r *http.Request) {
	all := a.Roads.AllConsensus(r.Context())
	out := make([]roadSummary, 0, len(domain.Roads()))
	for _, road := range domain.Roads() {
		out = append(out, summarize(road, all[road]))
	}
	sharedobs.WriteJSON(w, http.StatusOK, out)
}

func (a *api) handleRoad(w http.ResponseWriter, r *http.Request) {
	road, ok := pathRoad(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	counts := make(map[string]int)
	for status, n := range a.Roads.StatusCounts24h(ctx, road) {
		counts[status.String()] = n
	}
	sharedobs.WriteJSON(w, http.StatusOK, roadDetail{
		roadSummary:  summarize(road, a.Roads.Consensus(ctx, road)),
		Counts24h:    counts,
		StatusChange: a.Roads.StatusChange(ctx, road),
	})
}

type historyResponse struct {
	RoadID       domain.RoadID        `json:"road_id"`
	Observations []domain.Observation `json:"observations"`
}

func (a *api) handleHistory(w http.ResponseWriter, r *http.Request) {
	road, ok := pathRoad(w, r)
	if !ok {
		return
	}

	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit", "must be a whole number")
			return
		}
		limit = n
	}

	sharedobs.WriteJSON(w, http.StatusOK, historyResponse{
		RoadID:       road,
		Observations: a.Roads.RecentObservations(r.Context(), road, limit),
	})
}

// reportRequest is the JSON body of a report. Form posts use the same field names.
type reportRequest struct {
	Status     json.Number `json:"status"`
	Confidence string      `json:"confidence"`
	Comment    string      `json:"comment"`
}

func (a *api) handleSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxReportBytes)

	req, err := decodeReport(r)
	if err != nil {
		a.Metrics.Submissions.WithLabelValues("rejected").Inc()
		writeError(w, http.StatusBadRequest, "body", err.Error())
		return
	}

	sub, err := submission.ParseSubmission(r.PathValue("road"), req.Status.String(), req.Confidence, req.Comment, nil)
	if err != nil {
		a.Metrics.Submissions.WithLabelValues("rejected").Inc()
		var verr *submission.ValidationError
		if errors.As(err, &verr) {
			a.logger.Debug("report rejected", "field", verr.Field, "reason", verr.Reason)
			status := http.StatusBadRequest
			if verr.Field == "road" {
				status = http.StatusNotFound
			}
			writeError(w, status, verr.Field, verr.Reason)
			return
		}
		writeError(w, http.StatusBadRequest, "", err.Error())
		return
	}

	fingerprint := domain.Fingerprint(clientAddress(r), a.IPSalt)
	out := a.Gate.Submit(r.Context(), sub, fingerprint)

	switch out.Kind {
	case submission.OutcomeAccepted:
		sharedobs.WriteJSON(w, http.StatusCreated, out)
	case submission.OutcomeRateLimited:
		w.Header().Set("Retry-After", strconv.Itoa(out.MinutesUntilReset*int(time.Minute/time.Second)))
		sharedobs.WriteJSON(w, http.StatusTooManyRequests, out)
	default:
		sharedobs.WriteJSON(w, http.StatusServiceUnavailable, out)
	}
}

func decodeReport(r *http.Request) (reportRequest, error) {
	var req reportRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return reportRequest{}, errors.New("malformed JSON body")
		}
		return req, nil
	}
	if err := r.ParseForm(); err != nil {
		return reportRequest{}, errors.New("malformed form body")
	}
	req.Status = json.Number(r.PostForm.Get("status"))
	req.Confidence = r.PostForm.Get("confidence")
	req.Comment = r.PostForm.Get("comment")
	return req, nil
}

// clientAddress is the first X-Forwarded-For hop when behind a proxy, else
// the peer address. It is only ever used to derive a fingerprint.
func clientAddress(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

func pathRoad(w http.ResponseWriter, r *http.Request) (domain.RoadID, bool) {
	road, err := domain.ParseRoadID(r.PathValue("road"))
	if err != nil {
		writeError(w, http.StatusNotFound, "road", "unknown road")
		return "", false
	}
	return road, true
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeError(w http.ResponseWriter, status int, field, msg string) {
	sharedobs.WriteJSON(w, status, errorResponse{Error: msg, Field: field})
}
