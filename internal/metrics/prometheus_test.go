package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusCounters(t *testing.T) {
	prom := NewPrometheus()
	prom.Metrics.EntriesPlaced.Inc()
	prom.Metrics.EntriesFailed.Inc()
	prom.Metrics.ExitsPlaced.Inc()
	prom.Metrics.ExitsFailed.Inc()
	prom.Metrics.ReconciliationDrift.Inc()
	prom.Metrics.FeedReconnects.Inc()

	assertCounter(t, prom.entriesPlaced, 1)
	assertCounter(t, prom.entriesFailed, 1)
	assertCounter(t, prom.exitsPlaced, 1)
	assertCounter(t, prom.exitsFailed, 1)
	assertCounter(t, prom.reconciliationDrift, 1)
	assertCounter(t, prom.feedReconnects, 1)
}

func assertCounter(t *testing.T, counter prometheus.Counter, expected float64) {
	t.Helper()
	if got := testutil.ToFloat64(counter); got != expected {
		t.Fatalf("expected %v, got %v", expected, got)
	}
}
