// Package remote is the bus agent's HTTP client for the central server.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"schoolbus-backend/internal/models"
	"schoolbus-backend/internal/syncer"
)

// StatusError is returned for non-2xx responses
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Body)
}

// Client talks to the server API with a driver token
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a client. The timeout bounds every request.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// UploadScans posts the scans in requests of at most models.MaxScanBatch.
// A nil error means every scan was committed. On error some earlier
// requests may have been committed; uploading the same scans again is safe
// because the server ignores scan ids it has already stored.
func (c *Client) UploadScans(ctx context.Context, scans []models.ScanEvent) error {
	for start := 0; start < len(scans); start += models.MaxScanBatch {
		end := min(start+models.MaxScanBatch, len(scans))
		if err := c.uploadBatch(ctx, scans[start:end]); err != nil {
			return fmt.Errorf("scans %d-%d of %d: %w", start+1, end, len(scans), err)
		}
	}
	return nil
}

func (c *Client) uploadBatch(ctx context.Context, scans []models.ScanEvent) error {
	body, err := json.Marshal(models.ScanUploadRequest{Scans: scans})
	if err != nil {
		return fmt.Errorf("failed to marshal scans: %w", err)
	}

	var resp models.ScanUploadResponse
	if err := c.do(ctx, http.MethodPost, "/api/driver/scans", nil, body, &resp); err != nil {
		return err
	}
	if resp.Received != len(scans) {
		return fmt.Errorf("server acknowledged %d of %d scans", resp.Received, len(scans))
	}
	return nil
}

// DownloadRoster fetches the roster of a school, optionally scoped to a
// route and carrying the statuses of a trip
func (c *Client) DownloadRoster(ctx context.Context, schoolID string, routeID, tripID *string) (syncer.Roster, error) {
	q := url.Values{}
	q.Set("school_id", schoolID)
	if routeID != nil && *routeID != "" {
		q.Set("route_id", *routeID)
	}
	if tripID != nil && *tripID != "" {
		q.Set("trip_id", *tripID)
	}

	var resp models.RosterResponse
	if err := c.do(ctx, http.MethodGet, "/api/driver/roster", q, nil, &resp); err != nil {
		return syncer.Roster{}, err
	}

	return syncer.Roster{
		SchoolID: resp.SchoolID,
		RouteID:  resp.RouteID,
		Students: resp.Students,
	}, nil
}

// Ping checks that the server is reachable
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte, out interface{}) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
