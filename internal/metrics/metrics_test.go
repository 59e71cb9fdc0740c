package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerServesMetricsAndHealth(t *testing.T) {
	m := New()
	m.Announced.Add(3)
	m.Failures.WithLabelValues(StagePublish).Inc()
	m.LedgerSize.Set(42)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "toshiwatcher_announcements_total 3")
	assert.Contains(t, string(body), `toshiwatcher_failures_total{stage="publish"} 1`)
	assert.Contains(t, string(body), `toshiwatcher_failures_total{stage="persist"} 0`)
	assert.Contains(t, string(body), "toshiwatcher_ledger_size 42")

	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))
}

func TestNewUsesPrivateRegistry(t *testing.T) {
	a, b := New(), New()
	a.EventsFetched.Add(5)
	assert.Equal(t, 5.0, testutil.ToFloat64(a.EventsFetched))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.EventsFetched))
}

func TestDump(t *testing.T) {
	m := New()
	m.EventsSkipped.Add(2)
	m.Failures.WithLabelValues(StageRender).Inc()

	d := m.Dump()
	assert.Contains(t, d, "toshiwatcher_events_skipped_total{} 2")
	assert.Contains(t, d, "toshiwatcher_failures_total{stage=render} 1")
}
