package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRecordOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.CycleCompleted(OutcomeSuccess)
	m.CycleCompleted(OutcomeSuccess)
	m.CycleCompleted(OutcomeProviderError)
	m.TickDropped()
	m.CacheSize(5)
	m.Succeeded(time.Unix(1700000000, 0))

	if got := testutil.ToFloat64(m.cycles.WithLabelValues(OutcomeSuccess)); got != 2 {
		t.Fatalf("expected 2 successful cycles, got %v", got)
	}
	if got := testutil.ToFloat64(m.droppedTicks); got != 1 {
		t.Fatalf("expected 1 dropped tick, got %v", got)
	}
	if got := testutil.ToFloat64(m.cacheEntries); got != 5 {
		t.Fatalf("expected cache gauge 5, got %v", got)
	}
	if got := testutil.ToFloat64(m.lastSuccess); got != 1700000000 {
		t.Fatalf("unexpected last success gauge %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.CycleCompleted(OutcomeSkipped)
	m.TickDropped()
	m.CacheSize(1)
	m.ObserveFetch(time.Second)
}
