package gateway

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the gateway
type Metrics struct {
	CallsTotal         *prometheus.CounterVec
	CallDuration       prometheus.Histogram
	RetriesTotal       prometheus.Counter
	ParseFailuresTotal prometheus.Counter
	DefaultsTotal      prometheus.Counter
}

// Singleton to avoid Prometheus duplicate-registration panics when
// multiple gateways exist in one process (tests, embedded API).
var (
	metricsInstance *Metrics
	metricsOnce     sync.Once
)

func getOrCreateMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			CallsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "gateway_calls_total",
				Help: "Total LLM calls by provider and outcome",
			}, []string{"provider", "outcome"}),
			CallDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "gateway_call_duration_seconds",
				Help:    "Duration of LLM calls",
				Buckets: prometheus.DefBuckets,
			}),
			RetriesTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "gateway_retries_total",
				Help: "Total structured-output retry attempts",
			}),
			ParseFailuresTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "gateway_parse_failures_total",
				Help: "Total structured-output parse or validation failures",
			}),
			DefaultsTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "gateway_defaults_total",
				Help: "Total structured-output calls resolved by the default factory",
			}),
		}
	})
	return metricsInstance
}
