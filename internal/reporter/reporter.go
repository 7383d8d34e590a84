// Package reporter delivers metric batches to the telemetry endpoint and hands
// undeliverable batches to the backup store.
package reporter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Tempo-Platform/tempo-ironsource-sub000/internal/backup"
	"github.com/Tempo-Platform/tempo-ironsource-sub000/internal/models"
	"github.com/Tempo-Platform/tempo-ironsource-sub000/internal/observability"
)

// TimestampHeader carries the send time in unix seconds.
const TimestampHeader = "X-Timestamp"

// Outcome is the result of one delivery attempt. Outcomes are mutually
// exclusive: a batch is either delivered, rejected or kept for retry.
type Outcome int

const (
	OutcomeSkipped Outcome = iota
	OutcomeDelivered
	OutcomeRejected
	OutcomeBackup
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDelivered:
		return "delivered"
	case OutcomeRejected:
		return "rejected"
	case OutcomeBackup:
		return "backup"
	default:
		return "skipped"
	}
}

// BackupStore is the durable storage used for undelivered batches.
type BackupStore interface {
	Store(batch models.MetricBatch) string
	Remove(id string)
	LoadAllOnStartup() []backup.Record
}

// Options configures a Reporter.
type Options struct {
	URL     string
	Timeout time.Duration
	// RejectStatuses are HTTP statuses meaning the server refused the payload
	// for good. Batches answered with one of them are dropped.
	RejectStatuses []int
}

// Reporter posts metric batches as JSON arrays.
type Reporter struct {
	url        string
	httpClient *http.Client
	reject     map[int]struct{}
	store      BackupStore
	clock      clock.Clock
	logger     *zap.Logger
	metrics    observability.MetricsRegistry
	tracer     trace.Tracer
}

// New creates a Reporter. store may be nil, in which case undeliverable
// batches are dropped after logging.
func New(opts Options, store BackupStore, clk clock.Clock, logger *zap.Logger, metrics observability.MetricsRegistry) *Reporter {
	reject := make(map[int]struct{}, len(opts.RejectStatuses))
	for _, code := range opts.RejectStatuses {
		reject[code] = struct{}{}
	}
	return &Reporter{
		url: opts.URL,
		httpClient: &http.Client{
			Timeout:   opts.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		reject:  reject,
		store:   store,
		clock:   clk,
		logger:  logger.Named("reporter"),
		metrics: metrics,
		tracer:  observability.Tracer(),
	}
}

// Send performs one delivery attempt and classifies the result. The returned
// error describes why the batch was not delivered.
func (r *Reporter) Send(ctx context.Context, batch models.MetricBatch) (Outcome, error) {
	if len(batch) == 0 {
		return OutcomeSkipped, nil
	}

	ctx, span := r.tracer.Start(ctx, "reporter.Send",
		trace.WithAttributes(attribute.Int("metrics.count", len(batch))))
	defer span.End()

	start := time.Now()
	outcome, err := r.send(ctx, batch)
	r.metrics.RecordMetricSendLatency(time.Since(start))
	r.metrics.IncrementMetricBatches(outcome.String())

	span.SetAttributes(attribute.String("metrics.outcome", outcome.String()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return outcome, err
}

func (r *Reporter) send(ctx context.Context, batch models.MetricBatch) (Outcome, error) {
	body, err := json.Marshal(batch)
	if err != nil {
		// an unencodable batch will never encode, retrying cannot help
		return OutcomeRejected, fmt.Errorf("marshal metrics: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return OutcomeRejected, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(TimestampHeader, strconv.FormatInt(r.clock.Now().Unix(), 10))

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return OutcomeBackup, fmt.Errorf("http request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			r.logger.Warn("failed to close response body", zap.Error(err))
		}
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return OutcomeDelivered, nil
	}
	if _, ok := r.reject[resp.StatusCode]; ok {
		return OutcomeRejected, fmt.Errorf("metrics rejected: http %d", resp.StatusCode)
	}
	return OutcomeBackup, fmt.Errorf("unexpected status: http %d", resp.StatusCode)
}

// Flush sends a batch captured from a session buffer. Batches that could not
// be delivered for a retryable reason are persisted in the backup store.
func (r *Reporter) Flush(ctx context.Context, batch models.MetricBatch) Outcome {
	outcome, err := r.Send(ctx, batch)
	switch outcome {
	case OutcomeDelivered:
		r.logger.Debug("metrics delivered", zap.Int("metrics", len(batch)))
	case OutcomeRejected:
		r.logger.Warn("metrics rejected by server, dropping batch",
			zap.Int("metrics", len(batch)), zap.Error(err))
	case OutcomeBackup:
		r.logger.Warn("metrics send failed, backing up batch",
			zap.Int("metrics", len(batch)), zap.Error(err))
		if r.store != nil {
			r.store.Store(batch)
		}
	}
	return outcome
}

// Resend retries a persisted record. The record is removed once the server
// has answered it with either success or a permanent rejection; otherwise it
// stays for a later process.
func (r *Reporter) Resend(ctx context.Context, rec backup.Record) Outcome {
	outcome, err := r.Send(ctx, rec.Metrics)
	switch outcome {
	case OutcomeDelivered, OutcomeRejected, OutcomeSkipped:
		if r.store != nil {
			r.store.Remove(rec.ID)
		}
		r.logger.Info("backup resent",
			zap.String("id", rec.ID),
			zap.String("outcome", outcome.String()),
			zap.Error(err))
	case OutcomeBackup:
		r.logger.Warn("backup resend failed, keeping record",
			zap.String("id", rec.ID), zap.Error(err))
	}
	return outcome
}

// ResendBackups loads the persisted records once and resends each of them in
// order. It returns the number of records that were cleared.
func (r *Reporter) ResendBackups(ctx context.Context) int {
	if r.store == nil {
		return 0
	}
	cleared := 0
	for _, rec := range r.store.LoadAllOnStartup() {
		if ctx.Err() != nil {
			break
		}
		if r.Resend(ctx, rec) != OutcomeBackup {
			cleared++
		}
	}
	return cleared
}
