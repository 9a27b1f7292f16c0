// Package agentmetrics exposes the agent's Prometheus counters. All methods
// are nil-receiver safe so components can carry an optional handle without
// guarding every increment.
package agentmetrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the agent-wide counters and their registry.
type Metrics struct {
	registry *prometheus.Registry

	polls            *prometheus.CounterVec
	pollErrors       *prometheus.CounterVec
	recordsPublished *prometheus.CounterVec
	publishFallbacks prometheus.Counter
	bufferDrops      *prometheus.CounterVec
}

// New creates and registers the counter set on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "otcollector",
			Name:      "polls_total",
			Help:      "Poll cycles started, per collector.",
		}, []string{"collector"}),
		pollErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "otcollector",
			Name:      "poll_errors_total",
			Help:      "Per-target collect failures after retries, per collector.",
		}, []string{"collector"}),
		recordsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "otcollector",
			Name:      "records_published_total",
			Help:      "Telemetry records handed to the publisher, per collector.",
		}, []string{"collector"}),
		publishFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "otcollector",
			Name:      "publish_fallbacks_total",
			Help:      "Envelopes diverted to the local emitter.",
		}),
		bufferDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "otcollector",
			Name:      "buffer_drops_total",
			Help:      "Passive buffer entries evicted on overflow, per collector.",
		}, []string{"collector"}),
	}
	m.registry.MustRegister(
		m.polls, m.pollErrors, m.recordsPublished, m.publishFallbacks, m.bufferDrops,
	)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for embedding.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) IncPoll(collector string) {
	if m != nil {
		m.polls.WithLabelValues(collector).Inc()
	}
}

func (m *Metrics) IncPollError(collector string) {
	if m != nil {
		m.pollErrors.WithLabelValues(collector).Inc()
	}
}

func (m *Metrics) AddRecordsPublished(collector string, n int) {
	if m != nil && n > 0 {
		m.recordsPublished.WithLabelValues(collector).Add(float64(n))
	}
}

func (m *Metrics) IncPublishFallback() {
	if m != nil {
		m.publishFallbacks.Inc()
	}
}

func (m *Metrics) AddBufferDrops(collector string, n int) {
	if m != nil && n > 0 {
		m.bufferDrops.WithLabelValues(collector).Add(float64(n))
	}
}
