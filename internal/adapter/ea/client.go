package ea

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/flood-pulse-service/internal/domain"
	"github.com/couchcryptid/flood-pulse-service/internal/observability"
	"golang.org/x/sync/singleflight"
)

// DefaultBaseURL is the Environment Agency real-time flood-monitoring API.
const DefaultBaseURL = "https://environment.data.gov.uk/flood-monitoring"

// ErrMalformedResponse is returned when a response does not have the expected shape.
var ErrMalformedResponse = errors.New("malformed flood-monitoring response")

// Client implements domain.TelemetrySource against the EA flood-monitoring API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	metrics    *observability.Metrics
	logger     *slog.Logger
	group      singleflight.Group
}

// NewClient creates a flood-monitoring client. Every request is bounded by timeout.
func NewClient(baseURL string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		metrics: metrics,
		logger:  logger,
	}
}

// LatestReadings fetches the latest reading of a station.
func (c *Client) LatestReadings(ctx context.Context, stationID string) ([]domain.Reading, error) {
	u := fmt.Sprintf("%s/id/stations/%s/readings?latest", c.baseURL, url.PathEscape(stationID))

	var resp readingsResponse
	if err := c.get(ctx, u, "latest", &resp); err != nil {
		return nil, err
	}
	return resp.readings()
}

// ReadingsSince fetches every reading of a station from since onwards.
func (c *Client) ReadingsSince(ctx context.Context, stationID string, since time.Time) ([]domain.Reading, error) {
	params := url.Values{"since": {since.UTC().Format(time.RFC3339)}}
	u := fmt.Sprintf("%s/id/stations/%s/readings?%s", c.baseURL, url.PathEscape(stationID), params.Encode())

	var resp readingsResponse
	if err := c.get(ctx, u, "since", &resp); err != nil {
		return nil, err
	}
	return resp.readings()
}

// RainfallStations lists rainfall stations within distKm of a point.
func (c *Client) RainfallStations(ctx context.Context, lat, lon, distKm float64) ([]string, error) {
	params := url.Values{
		"parameter": {"rainfall"},
		"lat":       {strconv.FormatFloat(lat, 'f', -1, 64)},
		"long":      {strconv.FormatFloat(lon, 'f', -1, 64)},
		"dist":      {strconv.FormatFloat(distKm, 'f', -1, 64)},
	}
	u := fmt.Sprintf("%s/id/stations?%s", c.baseURL, params.Encode())

	var resp stationsResponse
	if err := c.get(ctx, u, "stations", &resp); err != nil {
		return nil, err
	}
	if resp.Items == nil {
		return nil, fmt.Errorf("stations: %w: missing items", ErrMalformedResponse)
	}

	ids := make([]string, 0, len(*resp.Items))
	for _, item := range *resp.Items {
		if id := stationIDFromURL(item.ID); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// get performs a GET and decodes the JSON body into out. Identical concurrent
// requests share one upstream call. The shared call is detached from any one
// caller's cancellation and bounded by the client timeout; each caller still
// stops waiting when its own context ends.
func (c *Client) get(ctx context.Context, fullURL, endpoint string, out any) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s request: %w", endpoint, err)
	}

	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(fullURL, func() (any, error) {
		return c.fetch(shared, fullURL, endpoint)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s request: %w", endpoint, ctx.Err())
	case res = <-ch:
	}
	if res.Err != nil {
		return res.Err
	}
	if err := json.Unmarshal(res.Val.([]byte), out); err != nil {
		return fmt.Errorf("%s: %w: %v", endpoint, ErrMalformedResponse, err)
	}
	return nil
}

func (c *Client) fetch(ctx context.Context, fullURL, endpoint string) ([]byte, error) {
	start := time.Now()
	body, err := c.doRequest(ctx, fullURL, endpoint)
	c.metrics.UpstreamAPIDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())

	if err != nil {
		c.metrics.UpstreamRequests.WithLabelValues(endpoint, "error").Inc()
		c.logger.Warn("flood-monitoring request failed", "endpoint", endpoint, "error", err)
		return nil, err
	}
	c.metrics.UpstreamRequests.WithLabelValues(endpoint, "success").Inc()
	return body, nil
}

func (c *Client) doRequest(ctx context.Context, fullURL, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a little so the connection can be reused.
		_, _ = io.CopyN(io.Discard, resp.Body, 4<<10)
		return nil, fmt.Errorf("flood-monitoring API error: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("%s read body: %w", endpoint, err)
	}
	return body, nil
}

// stationIDFromURL extracts "E7050" from ".../id/stations/E7050".
func stationIDFromURL(u string) string {
	u = strings.TrimRight(strings.TrimSpace(u), "/")
	if i := strings.LastIndex(u, "/"); i >= 0 {
		return u[i+1:]
	}
	return u
}

// Flood-monitoring API response types.

type readingsResponse struct {
	Items *[]readingItem `json:"items"`
}

type readingItem struct {
	DateTime string   `json:"dateTime"`
	Value    *float64 `json:"value"`
}

type stationsResponse struct {
	Items *[]stationItem `json:"items"`
}

type stationItem struct {
	ID string `json:"@id"`
}

// readings converts items to domain readings. Items without a value are
// gaps in the feed and are skipped; an unparsable timestamp fails the batch.
func (r readingsResponse) readings() ([]domain.Reading, error) {
	if r.Items == nil {
		return nil, fmt.Errorf("readings: %w: missing items", ErrMalformedResponse)
	}
	out := make([]domain.Reading, 0, len(*r.Items))
	for _, item := range *r.Items {
		if item.Value == nil {
			continue
		}
		ts, err := time.Parse(time.RFC3339, item.DateTime)
		if err != nil {
			return nil, fmt.Errorf("readings: %w: dateTime %q", ErrMalformedResponse, item.DateTime)
		}
		out = append(out, domain.Reading{Time: ts.UTC(), Value: *item.Value})
	}
	return out, nil
}
