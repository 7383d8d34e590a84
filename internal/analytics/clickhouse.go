// Package analytics stores metric batches received by the sandbox backend.
package analytics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/XSAM/otelsql"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	_ "github.com/ClickHouse/clickhouse-go/v2"

	"github.com/Tempo-Platform/tempo-ironsource-sub000/internal/models"
)

// Sink records metric batches. Implementations should return ErrUnavailable
// when the underlying storage is not configured.
type Sink interface {
	RecordMetrics(ctx context.Context, batch models.MetricBatch) error
	MetricsBySession(ctx context.Context, sessionID string) ([]EventRecord, error)
	Close()
}

// ErrUnavailable is returned when the analytics DB is not configured.
var ErrUnavailable = errors.New("analytics unavailable")

// EventRecord mirrors a row in the metric_events table.
type EventRecord struct {
	Timestamp      time.Time `json:"timestamp"`
	MetricType     string    `json:"metric_type"`
	SessionID      string    `json:"session_id"`
	AppID          string    `json:"app_id"`
	CampaignID     string    `json:"campaign_id"`
	PlacementID    string    `json:"placement_id"`
	IsInterstitial bool      `json:"is_interstitial"`
	CPM            float64   `json:"cpm"`
	OS             string    `json:"os"`
	CountryCode    string    `json:"country_code"`
	Consent        string    `json:"consent"`
	AdminArea      string    `json:"admin_area"`
	SDKVersion     string    `json:"sdk_version"`
}

// recordFor maps a metric onto the metric_events row layout.
func recordFor(m models.Metric) EventRecord {
	return EventRecord{
		Timestamp:      time.UnixMilli(m.Timestamp).UTC(),
		MetricType:     string(m.MetricType),
		SessionID:      m.SessionID,
		AppID:          m.AppID,
		CampaignID:     m.CampaignID,
		PlacementID:    m.PlacementID,
		IsInterstitial: m.IsInterstitial,
		CPM:            m.CPM,
		OS:             m.OS,
		CountryCode:    m.CountryCode,
		Consent:        string(m.LocationData.Consent),
		AdminArea:      m.LocationData.AdminArea,
		SDKVersion:     m.SDKVersion,
	}
}

// ClickHouse wraps a ClickHouse DB connection.
type ClickHouse struct {
	DB *sql.DB
}

var _ Sink = (*ClickHouse)(nil)

// InitClickHouse connects to ClickHouse and ensures the metric_events table exists.
func InitClickHouse(ctx context.Context, dsn string) (*ClickHouse, error) {
	driverName, err := otelsql.Register("clickhouse",
		otelsql.WithAttributes(
			attribute.String("db.system", "clickhouse"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("register otelsql: %w", err)
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	db.SetMaxOpenConns(25)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	create := `CREATE TABLE IF NOT EXISTS metric_events (
       timestamp       DateTime64(3),
       metric_type     String,
       session_id      String,
       app_id          String,
       campaign_id     String,
       placement_id    String,
       is_interstitial Bool,
       cpm             Float64,
       os              String,
       country_code    String,
       consent         String,
       admin_area      String,
       sdk_version     String
   ) ENGINE=MergeTree() ORDER BY (metric_type, timestamp)`
	if _, err := db.ExecContext(ctx, create); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("clickhouse create table: %w", err)
	}

	zap.L().Info("Connected to ClickHouse")
	return &ClickHouse{DB: db}, nil
}

// RecordMetrics inserts every metric of batch in one transaction.
func (c *ClickHouse) RecordMetrics(ctx context.Context, batch models.MetricBatch) error {
	if c == nil || c.DB == nil {
		return ErrUnavailable
	}
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO metric_events (timestamp, metric_type, session_id, app_id, campaign_id, placement_id, is_interstitial, cpm, os, country_code, consent, admin_area, sdk_version)`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare batch: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, m := range batch {
		r := recordFor(m)
		if _, err := stmt.ExecContext(ctx, r.Timestamp, r.MetricType, r.SessionID, r.AppID, r.CampaignID, r.PlacementID, r.IsInterstitial, r.CPM, r.OS, r.CountryCode, r.Consent, r.AdminArea, r.SDKVersion); err != nil {
			_ = tx.Rollback()
			zap.L().Error("clickhouse insert failed", zap.Error(err), zap.String("metric_type", r.MetricType))
			return fmt.Errorf("insert %s metric: %w", r.MetricType, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// MetricsBySession returns all metrics for a session ordered by timestamp.
func (c *ClickHouse) MetricsBySession(ctx context.Context, sessionID string) ([]EventRecord, error) {
	if c == nil || c.DB == nil {
		return nil, ErrUnavailable
	}
	query := `SELECT timestamp, metric_type, session_id, app_id, campaign_id, placement_id, is_interstitial, cpm, os, country_code, consent, admin_area, sdk_version FROM metric_events WHERE session_id=? ORDER BY timestamp`
	rows, err := c.DB.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query metrics: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			zap.L().Warn("rows close", zap.Error(err))
		}
	}()

	var events []EventRecord
	for rows.Next() {
		var ev EventRecord
		if err := rows.Scan(&ev.Timestamp, &ev.MetricType, &ev.SessionID, &ev.AppID, &ev.CampaignID, &ev.PlacementID, &ev.IsInterstitial, &ev.CPM, &ev.OS, &ev.CountryCode, &ev.Consent, &ev.AdminArea, &ev.SDKVersion); err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return events, nil
}

// Close terminates the ClickHouse connection.
func (c *ClickHouse) Close() {
	if c != nil && c.DB != nil {
		if err := c.DB.Close(); err != nil {
			zap.L().Error("clickhouse close", zap.Error(err))
		}
	}
}
