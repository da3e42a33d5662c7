package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Refresh cycle outcomes.
const (
	OutcomeSuccess       = "success"
	OutcomeSkipped       = "skipped"
	OutcomeProviderError = "provider_error"
	OutcomeStoreError    = "store_error"
	OutcomePanic         = "panic"
)

// Metrics holds the collectors for the ingestion loop.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	cycles        *prometheus.CounterVec
	droppedTicks  prometheus.Counter
	cacheEntries  prometheus.Gauge
	lastSuccess   prometheus.Gauge
	fetchDuration prometheus.Histogram
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "weather_refresh_cycles_total",
			Help: "Refresh cycles by outcome",
		}, []string{"outcome"}),
		droppedTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "weather_refresh_dropped_ticks_total",
			Help: "Ticks dropped because a refresh cycle was still running",
		}),
		cacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "weather_cache_entries",
			Help: "Entities currently held in the latest-state cache",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "weather_refresh_last_success_timestamp_seconds",
			Help: "Unix time of the last successful refresh",
		}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "weather_provider_fetch_duration_seconds",
			Help:    "Duration of provider fetches in seconds",
			Buckets: prometheus.DefBuckets,
		}),
	}

	if reg != nil {
		reg.MustRegister(m.cycles, m.droppedTicks, m.cacheEntries, m.lastSuccess, m.fetchDuration)
	}
	return m
}

func (m *Metrics) CycleCompleted(outcome string) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(outcome).Inc()
}

func (m *Metrics) TickDropped() {
	if m == nil {
		return
	}
	m.droppedTicks.Inc()
}

func (m *Metrics) CacheSize(n int) {
	if m == nil {
		return
	}
	m.cacheEntries.Set(float64(n))
}

func (m *Metrics) Succeeded(at time.Time) {
	if m == nil {
		return
	}
	m.lastSuccess.Set(float64(at.Unix()))
}

func (m *Metrics) ObserveFetch(d time.Duration) {
	if m == nil {
		return
	}
	m.fetchDuration.Observe(d.Seconds())
}

// Handler exposes the collectors gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
