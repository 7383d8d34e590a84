package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Tempo-Platform/tempo-ironsource-sub000/internal/analytics"
	"github.com/Tempo-Platform/tempo-ironsource-sub000/internal/models"
	"github.com/Tempo-Platform/tempo-ironsource-sub000/internal/observability"
	"github.com/Tempo-Platform/tempo-ironsource-sub000/internal/sandbox"
)

func newSandbox(t *testing.T) *httptest.Server {
	t.Helper()
	sink := analytics.NewMemorySink()
	require.NoError(t, sink.RecordMetrics(context.Background(), models.MetricBatch{
		{MetricType: models.MetricLoadRequest, SessionID: "s1", Timestamp: 1000},
		{MetricType: models.MetricShow, SessionID: "s1", Timestamp: 1500, CampaignID: "camp123"},
		{MetricType: models.MetricShow, SessionID: "s2", Timestamp: 1200},
	}))
	srv := sandbox.NewServer(zap.NewNop(), sink, nil, observability.NewNoOpRegistry(), sandbox.Options{})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func TestRunPrintsSandboxTimeline(t *testing.T) {
	ts := newSandbox(t)

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), options{session: "s1", sandbox: ts.URL + "/", format: "table", timeout: time.Second}, &out))

	text := out.String()
	assert.Contains(t, text, "session s1 (2 metrics)")
	assert.Regexp(t, `\+0s\s+AD_LOAD_REQUEST\s+-`, text)
	assert.Regexp(t, `\+500ms\s+AD_SHOW\s+camp123`, text)
}

func TestRunJSONFromSandbox(t *testing.T) {
	ts := newSandbox(t)

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), options{session: "s2", sandbox: ts.URL, format: "json", timeout: time.Second}, &out))

	var events []analytics.EventRecord
	require.NoError(t, json.Unmarshal(out.Bytes(), &events))
	require.Len(t, events, 1)
	assert.Equal(t, string(models.MetricShow), events[0].MetricType)
}

func TestRunEmptySession(t *testing.T) {
	ts := newSandbox(t)

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), options{session: "nope", sandbox: ts.URL, format: "table", timeout: time.Second}, &out))
	assert.Equal(t, "no metrics recorded for session nope\n", out.String())
}

func TestRunRejectsBadArguments(t *testing.T) {
	assert.ErrorIs(t, run(context.Background(), options{format: "table"}, &bytes.Buffer{}), errUsage)
	assert.ErrorIs(t, run(context.Background(), options{session: "s1", format: "xml"}, &bytes.Buffer{}), errUsage)
}
