package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/upb/llm-gateway/models"
)

// PrometheusRecorder reports gateway events using Prometheus primitives
type PrometheusRecorder struct {
	calls       *prometheus.CounterVec
	durations   *prometheus.HistogramVec
	tokens      *prometheus.CounterVec
	cache       *prometheus.CounterVec
	rateLimited *prometheus.CounterVec
}

// NewPrometheusRecorder creates the collectors and registers them on registry
func NewPrometheusRecorder(registry *prometheus.Registry) (*PrometheusRecorder, error) {
	if registry == nil {
		return nil, fmt.Errorf("prometheus registry is nil")
	}

	r := &PrometheusRecorder{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_gateway_provider_calls_total",
			Help: "Total number of provider calls by outcome",
		}, []string{"provider", "operation", "outcome"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "llm_gateway_provider_call_duration_seconds",
			Help:    "Provider call latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"provider", "operation"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_gateway_tokens_total",
			Help: "Total tokens reported by providers",
		}, []string{"provider"}),
		cache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_gateway_cache_lookups_total",
			Help: "Response cache lookups by result",
		}, []string{"operation", "result"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_gateway_rate_limited_total",
			Help: "Provider skips caused by rate limiting",
		}, []string{"provider"}),
	}

	for _, collector := range []prometheus.Collector{r.calls, r.durations, r.tokens, r.cache, r.rateLimited} {
		if err := registry.Register(collector); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return r, nil
}

// ObserveCall records one provider call
func (r *PrometheusRecorder) ObserveCall(provider string, operation models.Operation, outcome string, latency time.Duration, tokens int) {
	r.calls.WithLabelValues(provider, string(operation), outcome).Inc()
	r.durations.WithLabelValues(provider, string(operation)).Observe(latency.Seconds())
	if tokens > 0 {
		r.tokens.WithLabelValues(provider).Add(float64(tokens))
	}
}

// ObserveCacheLookup records a cache hit or miss
func (r *PrometheusRecorder) ObserveCacheLookup(operation models.Operation, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	r.cache.WithLabelValues(string(operation), result).Inc()
}

// ObserveRateLimited records a provider skipped by its limiter
func (r *PrometheusRecorder) ObserveRateLimited(provider string) {
	r.rateLimited.WithLabelValues(provider).Inc()
}

// Handler exposes registry in the Prometheus text format
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
