// Package metrics exports engine metrics in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Turn outcomes for the turn counters.
const (
	OutcomeOK      = "ok"
	OutcomeHandoff = "handoff"
	OutcomeError   = "error"
)

// Exporter holds the engine's Prometheus instruments.
type Exporter struct {
	registry *prometheus.Registry

	turnLatency *prometheus.HistogramVec
	turnsTotal  *prometheus.CounterVec
	turnsActive prometheus.Gauge

	providerCalls   *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
	failovers       *prometheus.CounterVec
	tokensUsed      *prometheus.CounterVec

	handoffs *prometheus.CounterVec

	dispatches *prometheus.CounterVec

	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec
}

// Config configures the exporter.
type Config struct {
	// Registry to use (if nil, creates a new one).
	Registry *prometheus.Registry

	// Buckets for latency histograms, in seconds.
	LatencyBuckets []float64
}

// DefaultConfig returns the default exporter configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}
}

// NewExporter creates and registers the engine's instruments.
func NewExporter(cfg Config) *Exporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &Exporter{registry: registry}

	e.turnLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "conversia",
			Subsystem: "engine",
			Name:      "turn_latency_seconds",
			Help:      "End-to-end latency of one conversational turn",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"outcome"},
	)

	e.turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "conversia",
			Subsystem: "engine",
			Name:      "turns_total",
			Help:      "Total processed conversational turns",
		},
		[]string{"outcome"},
	)

	e.turnsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "conversia",
			Subsystem: "engine",
			Name:      "turns_active",
			Help:      "Turns currently being processed",
		},
	)

	e.providerCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "conversia",
			Subsystem: "llm",
			Name:      "provider_calls_total",
			Help:      "Total LLM provider calls, failed attempts included",
		},
		[]string{"provider", "model", "status"},
	)

	e.providerLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "conversia",
			Subsystem: "llm",
			Name:      "provider_latency_seconds",
			Help:      "LLM provider call latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"provider", "model"},
	)

	e.failovers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "conversia",
			Subsystem: "llm",
			Name:      "failovers_total",
			Help:      "Turns answered by a fallback provider",
		},
		[]string{"provider"},
	)

	e.tokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "conversia",
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Total LLM tokens consumed",
		},
		[]string{"model", "token_type"},
	)

	e.handoffs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "conversia",
			Subsystem: "engine",
			Name:      "handoffs_total",
			Help:      "Conversations handed off to a human",
		},
		[]string{"reason"},
	)

	e.dispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "conversia",
			Subsystem: "dispatch",
			Name:      "scheduled_messages_total",
			Help:      "Scheduled message dispatch outcomes",
		},
		[]string{"status"},
	)

	e.cacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "conversia",
			Subsystem: "store",
			Name:      "cache_hits_total",
			Help:      "Total cache hits",
		},
		[]string{"cache_type"},
	)

	e.cacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "conversia",
			Subsystem: "store",
			Name:      "cache_misses_total",
			Help:      "Total cache misses",
		},
		[]string{"cache_type"},
	)

	registry.MustRegister(
		e.turnLatency,
		e.turnsTotal,
		e.turnsActive,
		e.providerCalls,
		e.providerLatency,
		e.failovers,
		e.tokensUsed,
		e.handoffs,
		e.dispatches,
		e.cacheHits,
		e.cacheMisses,
	)

	return e
}

// RecordTurn records one completed turn.
func (e *Exporter) RecordTurn(outcome string, latency time.Duration) {
	e.turnsTotal.WithLabelValues(outcome).Inc()
	e.turnLatency.WithLabelValues(outcome).Observe(latency.Seconds())
}

// TurnStarted and TurnFinished track the in-flight gauge.
func (e *Exporter) TurnStarted()  { e.turnsActive.Inc() }
func (e *Exporter) TurnFinished() { e.turnsActive.Dec() }

// RecordProviderCall records one provider attempt, successful or not.
func (e *Exporter) RecordProviderCall(provider, model string, success bool, latency time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	e.providerCalls.WithLabelValues(provider, model, status).Inc()
	e.providerLatency.WithLabelValues(provider, model).Observe(latency.Seconds())
}

// RecordFailover counts a turn that was answered by a fallback provider.
func (e *Exporter) RecordFailover(provider string) {
	e.failovers.WithLabelValues(provider).Inc()
}

// RecordTokens records token consumption for one call.
func (e *Exporter) RecordTokens(model string, promptTokens, completionTokens int) {
	e.tokensUsed.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	e.tokensUsed.WithLabelValues(model, "completion").Add(float64(completionTokens))
}

// RecordHandoff counts a handoff by reason.
func (e *Exporter) RecordHandoff(reason string) {
	e.handoffs.WithLabelValues(reason).Inc()
}

// RecordDispatch counts a scheduled-message outcome (sent, failed,
// no_consent, rescheduled).
func (e *Exporter) RecordDispatch(status string) {
	e.dispatches.WithLabelValues(status).Inc()
}

// RecordCacheHit and RecordCacheMiss track the versioned caches.
func (e *Exporter) RecordCacheHit(cacheType string)  { e.cacheHits.WithLabelValues(cacheType).Inc() }
func (e *Exporter) RecordCacheMiss(cacheType string) { e.cacheMisses.WithLabelValues(cacheType).Inc() }

// Handler serves the /metrics endpoint.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}
