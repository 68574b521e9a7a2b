package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestClient_FetchMetrics verifies the happy path against a fake feed.
func TestClient_FetchMetrics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/metrics", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"venue_id": "sim-lend", "current_apy_bps": 450, "risk_score": 20, "confidence": 95},
			{"venue_id": "compound", "current_apy_bps": 1200, "risk_score": 70, "confidence": 90}
		]`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	metrics, err := client.FetchMetrics(context.Background())
	require.NoError(t, err)
	require.Len(t, metrics, 2)
	assert.Equal(t, "sim-lend", metrics[0].VenueID)
	assert.Equal(t, int64(450), metrics[0].CurrentAPYBps)
	assert.Equal(t, float64(70), metrics[1].RiskScore)
}

// TestClient_FetchMetricsErrors covers feed failure modes.
func TestClient_FetchMetricsErrors(t *testing.T) {
	t.Run("non-200 status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "feed offline", http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		client := NewClient(srv.URL)
		_, err := client.FetchMetrics(context.Background())
		assert.ErrorContains(t, err, "status 503")
		assert.ErrorContains(t, err, "feed offline")
	})

	t.Run("malformed body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"not": "an array"}`))
		}))
		defer srv.Close()

		client := NewClient(srv.URL)
		_, err := client.FetchMetrics(context.Background())
		assert.ErrorContains(t, err, "failed to decode")
	})

	t.Run("unreachable feed", func(t *testing.T) {
		client := NewClient("http://127.0.0.1:1")
		_, err := client.FetchMetrics(context.Background())
		assert.Error(t, err)
	})
}
