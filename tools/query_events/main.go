// Command query_events prints the metric timeline of one ad session, either
// from a running sandbox (-sandbox) or straight from ClickHouse (-dsn).
//
//	query_events -session 4f1c... -sandbox http://localhost:8787
//	query_events -session 4f1c... -format json
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/Tempo-Platform/tempo-ironsource-sub000/internal/analytics"
	"github.com/Tempo-Platform/tempo-ironsource-sub000/internal/config"
	"github.com/Tempo-Platform/tempo-ironsource-sub000/internal/observability"
)

var errUsage = errors.New("usage: query_events -session ID [-sandbox URL | -dsn DSN] [-format table|json]")

type options struct {
	session string
	sandbox string
	dsn     string
	format  string
	timeout time.Duration
}

func main() {
	logger, err := observability.InitLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	var opts options
	flag.StringVar(&opts.session, "session", "", "session id printed by the engine on load")
	flag.StringVar(&opts.sandbox, "sandbox", "", "sandbox base URL; reads GET /metrics/{session} instead of ClickHouse")
	flag.StringVar(&opts.dsn, "dsn", "", "ClickHouse DSN (defaults to SANDBOX_CLICKHOUSE_DSN)")
	flag.StringVar(&opts.format, "format", "table", "output format: table or json")
	flag.DurationVar(&opts.timeout, "timeout", 30*time.Second, "overall query timeout")
	flag.Parse()

	if err := run(context.Background(), opts, os.Stdout); err != nil {
		logger.Error("query failed", zap.String("session", opts.session), zap.Error(err))
		if errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, errUsage)
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, out io.Writer) error {
	if opts.session == "" || (opts.format != "table" && opts.format != "json") {
		return errUsage
	}
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	var (
		events []analytics.EventRecord
		err    error
	)
	if opts.sandbox != "" {
		events, err = fromSandbox(ctx, opts.sandbox, opts.session)
	} else {
		events, err = fromClickHouse(ctx, opts.dsn, opts.session)
	}
	if err != nil {
		return err
	}

	if opts.format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(events)
	}
	return printTimeline(out, opts.session, events)
}

func fromSandbox(ctx context.Context, base, session string) ([]analytics.EventRecord, error) {
	endpoint := strings.TrimRight(base, "/") + "/metrics/" + url.PathEscape(session)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	client := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query sandbox: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("query sandbox: http %d", resp.StatusCode)
	}
	var body struct {
		Events []analytics.EventRecord `json:"events"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode sandbox response: %w", err)
	}
	return body.Events, nil
}

func fromClickHouse(ctx context.Context, dsn, session string) ([]analytics.EventRecord, error) {
	if dsn == "" {
		dsn = config.Load().SandboxClickHouseDSN
	}
	ch, err := analytics.InitClickHouse(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse: %w", err)
	}
	defer ch.Close()
	return ch.MetricsBySession(ctx, session)
}

// printTimeline writes one row per metric with its offset from the first one.
func printTimeline(out io.Writer, session string, events []analytics.EventRecord) error {
	if len(events) == 0 {
		_, err := fmt.Fprintf(out, "no metrics recorded for session %s\n", session)
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "session %s (%d metrics)\n", session, len(events))
	fmt.Fprintln(tw, "OFFSET\tMETRIC\tCAMPAIGN")
	start := events[0].Timestamp
	for _, ev := range events {
		campaign := ev.CampaignID
		if campaign == "" {
			campaign = "-"
		}
		fmt.Fprintf(tw, "+%s\t%s\t%s\n", ev.Timestamp.Sub(start).Round(time.Millisecond), ev.MetricType, campaign)
	}
	return tw.Flush()
}
