// Package feed collects venue metrics from the external market data
// feed, over plain HTTP polling and an optional websocket stream.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aristath/coffer/internal/domain"
)

const pollTimeout = 15 * time.Second

// Client polls the data feed's REST endpoint for venue metrics.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a polling feed client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: pollTimeout,
		},
	}
}

// FetchMetrics retrieves the current metrics for all venues the feed
// tracks.
func (c *Client) FetchMetrics(ctx context.Context) ([]domain.VenueMetrics, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/metrics", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build feed request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("feed returned status %d: %s", resp.StatusCode, string(body))
	}

	var metrics []domain.VenueMetrics
	if err := json.NewDecoder(resp.Body).Decode(&metrics); err != nil {
		return nil, fmt.Errorf("failed to decode feed response: %w", err)
	}
	return metrics, nil
}
