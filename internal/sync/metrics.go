package sync

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics manages Prometheus instrumentation for fetch and purchase
// activity. Registration is process-wide and happens once; every engine
// instance shares the same collectors.
type Metrics struct {
	fetchCycles      *prometheus.CounterVec
	fetchDuration    prometheus.Histogram
	fetchRetries     prometheus.Counter
	purchaseOutcomes *prometheus.CounterVec
	reconnects       prometheus.Counter
}

var (
	metricsInstance *Metrics
	metricsOnce     sync.Once
)

func getMetrics() *Metrics {
	metricsOnce.Do(func() {
		m := &Metrics{
			fetchCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "subsync",
				Name:      "fetch_cycles_total",
				Help:      "Fetch cycles by result (success, error, debounced, joined).",
			}, []string{"result"}),
			fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "subsync",
				Name:      "fetch_duration_seconds",
				Help:      "Duration of successful fetch network phases.",
				Buckets:   prometheus.DefBuckets,
			}),
			fetchRetries: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "subsync",
				Name:      "fetch_retries_total",
				Help:      "Individual failed fetch attempts that were retried.",
			}),
			purchaseOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "subsync",
				Name:      "purchase_outcomes_total",
				Help:      "Purchase attempts by outcome.",
			}, []string{"outcome"}),
			reconnects: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "subsync",
				Name:      "reconnects_total",
				Help:      "Times the store connection was re-established after a drop.",
			}),
		}
		prometheus.MustRegister(
			m.fetchCycles,
			m.fetchDuration,
			m.fetchRetries,
			m.purchaseOutcomes,
			m.reconnects,
		)
		metricsInstance = m
	})
	return metricsInstance
}

func (m *Metrics) observeFetch(result string, d time.Duration) {
	m.fetchCycles.WithLabelValues(result).Inc()
	if result == "success" {
		m.fetchDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) observeRetry() {
	m.fetchRetries.Inc()
}

func (m *Metrics) observePurchase(outcome string) {
	m.purchaseOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeReconnect() {
	m.reconnects.Inc()
}
