// Package adserver fetches ad decisions from the Tempo ads endpoint.
package adserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/Tempo-Platform/tempo-ironsource-sub000/internal/models"
	"github.com/Tempo-Platform/tempo-ironsource-sub000/internal/observability"
)

var (
	// ErrUnexpectedStatus is returned for non-2xx responses.
	ErrUnexpectedStatus = errors.New("unexpected status from ad server")
	// ErrInvalidResponse is returned when the body is not a recognised decision.
	ErrInvalidResponse = errors.New("invalid response from ad server")
)

// Request carries the query parameters of one ad fetch.
type Request struct {
	SessionID      string
	AdID           string // omitted when empty
	AppID          string
	CPMFloor       decimal.Decimal
	GeoTag         string
	Kind           models.AdKind
	SDKVersion     string
	AdapterVersion string
	AdapterType    string // omitted when empty
}

// Query encodes the request as the ads endpoint query string. Spaces are sent
// as %20 and '+' as %2B so no literal '+' reaches the server.
func (r Request) Query() string {
	v := url.Values{}
	v.Set("uuid", r.SessionID)
	if r.AdID != "" {
		v.Set("ad_id", r.AdID)
	}
	v.Set("appId", r.AppID)
	v.Set("cpm_floor", r.CPMFloor.String())
	v.Set("location", r.GeoTag)
	v.Set("is_interstitial", fmt.Sprintf("%t", r.Kind.IsInterstitial()))
	v.Set("sdk_version", r.SDKVersion)
	v.Set("adapter_version", r.AdapterVersion)
	if r.AdapterType != "" {
		v.Set("adapter_type", r.AdapterType)
	}
	return strings.ReplaceAll(v.Encode(), "+", "%20")
}

// Client issues ad fetch requests.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
	metrics    observability.MetricsRegistry
}

// NewClient creates an ads endpoint client. timeout bounds each request.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger, metrics observability.MetricsRegistry) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger:  logger.Named("adserver"),
		metrics: metrics,
	}
}

// Fetch requests an ad decision. A NO_FILL decision is returned without error;
// callers distinguish it by the response status.
func (c *Client) Fetch(ctx context.Context, req Request) (models.AdResponse, error) {
	ctx, span := observability.Tracer().Start(ctx, "adserver.fetch")
	defer span.End()
	span.SetAttributes(
		attribute.String("session.id", req.SessionID),
		attribute.String("ad.kind", string(req.Kind)),
	)

	start := time.Now()
	outcome := "failure"
	defer func() {
		c.metrics.RecordAdRequestLatency(string(req.Kind), time.Since(start))
		c.metrics.IncrementAdRequests(string(req.Kind), outcome)
	}()

	resp, err := c.fetch(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return models.AdResponse{}, err
	}
	outcome = strings.ToLower(string(resp.Status))
	span.SetAttributes(attribute.String("ad.status", string(resp.Status)))
	return resp, nil
}

func (c *Client) fetch(ctx context.Context, req Request) (models.AdResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+req.Query(), nil)
	if err != nil {
		return models.AdResponse{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return models.AdResponse{}, fmt.Errorf("http request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Warn("failed to close response body", zap.Error(err))
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return models.AdResponse{}, fmt.Errorf("%w: http %d: %s", ErrUnexpectedStatus, resp.StatusCode, string(body))
	}

	var decision models.AdResponse
	if err := json.NewDecoder(resp.Body).Decode(&decision); err != nil {
		return models.AdResponse{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	switch {
	case decision.Status == models.AdStatusNoFill:
		return decision, nil
	case decision.Status == models.AdStatusOK && decision.ID != "":
		return decision, nil
	}
	return models.AdResponse{}, fmt.Errorf("%w: status %q id %q", ErrInvalidResponse, decision.Status, decision.ID)
}
