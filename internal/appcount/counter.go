// Package appcount counts a user's tracked job applications. The application
// store belongs to the main web app; this service reaches it over an
// internal HTTP endpoint.
package appcount

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPCounter queries the web app's internal application-count endpoint.
type HTTPCounter struct {
	baseURL     string
	internalKey string
	httpClient  *http.Client
}

// NewHTTPCounter creates an HTTPCounter.
func NewHTTPCounter(baseURL, internalKey string) *HTTPCounter {
	return &HTTPCounter{
		baseURL:     strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		internalKey: strings.TrimSpace(internalKey),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type countResponse struct {
	Count int `json:"count"`
}

// CountApplications returns the number of applications userID has tracked.
func (c *HTTPCounter) CountApplications(ctx context.Context, userID string) (int, error) {
	endpoint := c.baseURL + "/internal/applications/count?" + url.Values{
		"user_id": {userID},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("create app count request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Internal-Key", c.internalKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("app count request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("app count error (HTTP %d)", resp.StatusCode)
	}

	var parsed countResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return 0, fmt.Errorf("decode app count response: %w", err)
	}
	if parsed.Count < 0 {
		return 0, fmt.Errorf("app count negative: %d", parsed.Count)
	}
	return parsed.Count, nil
}

// FixedCounter always reports the same count. Used in tests and when the
// service runs without the web app (dev mode).
type FixedCounter int

// CountApplications returns the fixed count.
func (f FixedCounter) CountApplications(context.Context, string) (int, error) {
	return int(f), nil
}
