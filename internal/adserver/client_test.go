package adserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Tempo-Platform/tempo-ironsource-sub000/internal/models"
	"github.com/Tempo-Platform/tempo-ironsource-sub000/internal/observability"
)

func testRequest() Request {
	return Request{
		SessionID:      "0b6a2c1e-4f0a-4c61-9d0e-9b3f0a1c2d3e",
		AdID:           "ad+id",
		AppID:          "app-1",
		CPMFloor:       decimal.RequireFromString("2.5"),
		GeoTag:         "US",
		Kind:           models.AdKindInterstitial,
		SDKVersion:     "1.6.0",
		AdapterVersion: "1.2.0",
		AdapterType:    "IRONSOURCE",
	}
}

func TestRequestQuery(t *testing.T) {
	q := testRequest().Query()
	assert.NotContains(t, q, "+")
	assert.Contains(t, q, "ad_id=ad%2Bid")
	assert.Contains(t, q, "cpm_floor=2.5")
	assert.Contains(t, q, "is_interstitial=true")
	assert.Contains(t, q, "adapter_type=IRONSOURCE")
	assert.Contains(t, q, "appId=app-1")
	assert.Contains(t, q, "location=US")

	req := testRequest()
	req.AdID = ""
	req.AdapterType = ""
	req.Kind = models.AdKindRewarded
	req.GeoTag = "New Zealand"
	q = req.Query()
	assert.NotContains(t, q, "ad_id=")
	assert.NotContains(t, q, "adapter_type=")
	assert.Contains(t, q, "is_interstitial=false")
	assert.Contains(t, q, "location=New%20Zealand")
}

func TestFetchOK(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/ad", r.URL.Path)
		assert.Equal(t, "ad+id", r.URL.Query().Get("ad_id"))
		assert.Equal(t, "0b6a2c1e-4f0a-4c61-9d0e-9b3f0a1c2d3e", r.URL.Query().Get("uuid"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"OK","id":"camp123"}`))
	}))
	defer server.Close()

	metrics := observability.NewMockMetricsRegistry()
	c := NewClient(server.URL+"/ad", time.Second, zap.NewNop(), metrics)
	resp, err := c.Fetch(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, models.AdStatusOK, resp.Status)
	assert.Equal(t, "camp123", resp.ID)
	assert.Equal(t, 1, metrics.Count("ad_requests/interstitial/ok"))
}

func TestFetchNoFill(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"NO_FILL"}`))
	}))
	defer server.Close()

	metrics := observability.NewMockMetricsRegistry()
	c := NewClient(server.URL, time.Second, zap.NewNop(), metrics)
	resp, err := c.Fetch(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, models.AdStatusNoFill, resp.Status)
	assert.Equal(t, 1, metrics.Count("ad_requests/interstitial/no_fill"))
}

func TestFetchErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"server error", http.StatusInternalServerError, "oops", ErrUnexpectedStatus},
		{"not found", http.StatusNotFound, "", ErrUnexpectedStatus},
		{"not json", http.StatusOK, "<html>", ErrInvalidResponse},
		{"unknown status", http.StatusOK, `{"status":"MAYBE","id":"x"}`, ErrInvalidResponse},
		{"ok without id", http.StatusOK, `{"status":"OK"}`, ErrInvalidResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			metrics := observability.NewMockMetricsRegistry()
			c := NewClient(server.URL, time.Second, zap.NewNop(), metrics)
			_, err := c.Fetch(context.Background(), testRequest())
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, 1, metrics.Count("ad_requests/interstitial/failure"))
		})
	}
}

func TestFetchTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	c := NewClient(server.URL, 50*time.Millisecond, zap.NewNop(), observability.NewNoOpRegistry())
	_, err := c.Fetch(context.Background(), testRequest())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "http request"))
}

func TestFetchCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := NewClient(server.URL, time.Second, zap.NewNop(), observability.NewNoOpRegistry())
	_, err := c.Fetch(ctx, testRequest())
	assert.ErrorIs(t, err, context.Canceled)
}
