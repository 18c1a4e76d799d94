package analytics

import (
	"net/http"
	"time"

	"github.com/guiIerme/JobFinder-sub003/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "assistant"

// Metrics is the Prometheus sink of the assistant. It satisfies the metrics
// hooks of the pipeline, the gateway and the chat service.
type Metrics struct {
	registry *prometheus.Registry

	CacheHits          prometheus.Counter
	CacheMisses        prometheus.Counter
	RateLimited        prometheus.Counter
	Fallbacks          *prometheus.CounterVec
	BreakerState       prometheus.Gauge
	BreakerTransitions *prometheus.CounterVec
	GeneratorLatency   *prometheus.HistogramVec
	ResponseTime       *prometheus.HistogramVec
	Connections        prometheus.Gauge
	Escalations        prometheus.Counter
	SessionsFinalized  *prometheus.CounterVec
}

// NewMetrics creates the collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "cache_hits_total",
			Help: "Replies served from the response cache.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "cache_misses_total",
			Help: "Messages that missed the response cache.",
		}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "rate_limit_rejections_total",
			Help: "Chat frames rejected by the rate limiter.",
		}),
		Fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "fallback_replies_total",
			Help: "Fallback replies served, by intent and reason.",
		}, []string{"intent", "reason"}),
		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "breaker_state",
			Help: "Generator circuit breaker state (0 closed, 1 open, 2 half-open).",
		}),
		BreakerTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "breaker_transitions_total",
			Help: "Circuit breaker transitions by target state.",
		}, []string{"state"}),
		GeneratorLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "generator_duration_seconds",
			Help:    "Latency of generator calls.",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30},
		}, []string{"outcome"}),
		ResponseTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "response_duration_seconds",
			Help:    "Time from receiving a chat message to persisting the reply.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"action"}),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "active_connections",
			Help: "Open gateway connections.",
		}),
		Escalations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "escalations_total",
			Help: "Sessions handed off to human support.",
		}),
		SessionsFinalized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sessions_finalized_total",
			Help: "Sessions whose analytics were sealed, by close reason.",
		}, []string{"reason"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.CacheHits, m.CacheMisses, m.RateLimited, m.Fallbacks, m.BreakerState,
		m.BreakerTransitions, m.GeneratorLatency, m.ResponseTime, m.Connections,
		m.Escalations, m.SessionsFinalized,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) CacheHit()  { m.CacheHits.Inc() }
func (m *Metrics) CacheMiss() { m.CacheMisses.Inc() }

func (m *Metrics) FallbackServed(intent domain.Intent, reason string) {
	m.Fallbacks.WithLabelValues(string(intent), reason).Inc()
}

func (m *Metrics) BreakerChanged(state string) {
	m.BreakerTransitions.WithLabelValues(state).Inc()
	switch state {
	case "closed":
		m.BreakerState.Set(0)
	case "open":
		m.BreakerState.Set(1)
	case "half_open":
		m.BreakerState.Set(2)
	}
}

func (m *Metrics) GeneratorDuration(d time.Duration, ok bool) {
	outcome := "error"
	if ok {
		outcome = "ok"
	}
	m.GeneratorLatency.WithLabelValues(outcome).Observe(d.Seconds())
}

// ConnectionsChanged tracks the gateway connection count.
func (m *Metrics) ConnectionsChanged(n int) { m.Connections.Set(float64(n)) }

// RateLimitRejected counts a rejected frame.
func (m *Metrics) RateLimitRejected() { m.RateLimited.Inc() }

// ReplyServed observes the end-to-end time of one reply.
func (m *Metrics) ReplyServed(action domain.ReplyAction, d time.Duration) {
	m.ResponseTime.WithLabelValues(string(action)).Observe(d.Seconds())
}
