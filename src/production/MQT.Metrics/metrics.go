// Package metrics holds the prometheus instruments of the relay. Each Metrics
// value owns its registry so tests can create as many as they like.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sensor_relay"

// Message outcomes
const (
	OutcomeCommitted = "committed"
	OutcomeBuffered  = "buffered"
	OutcomeDropped   = "dropped"
	OutcomeLost      = "lost"
)

// Metrics groups every instrument exported by the service
type Metrics struct {
	registry *prometheus.Registry

	Messages           *prometheus.CounterVec
	Dropped            *prometheus.CounterVec
	Commits            *prometheus.CounterVec
	BufferDepth        prometheus.Gauge
	PipelineOnline     prometheus.Gauge
	SnapshotsPublished *prometheus.CounterVec
}

// New creates the instruments and registers them, plus the Go runtime
// collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Inbound messages by outcome.",
		}, []string{"outcome"}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_total",
			Help:      "Messages dropped during normalization, by error type.",
		}, []string{"reason"}),
		Commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commits_total",
			Help:      "Store commit attempts by result.",
		}, []string{"result"}),
		BufferDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "buffer_depth",
			Help:      "Readings waiting in the durable buffer.",
		}),
		PipelineOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_online",
			Help:      "1 when the pipeline writes directly to the store, 0 when it buffers.",
		}),
		SnapshotsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_published_total",
			Help:      "Snapshot publications by sink and result.",
		}, []string{"sink", "result"}),
	}

	m.registry.MustRegister(
		m.Messages,
		m.Dropped,
		m.Commits,
		m.BufferDepth,
		m.PipelineOnline,
		m.SnapshotsPublished,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m.PipelineOnline.Set(1)
	return m
}

// Handler returns the /metrics HTTP handler for this registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SetOnline records the pipeline state
func (m *Metrics) SetOnline(online bool) {
	if online {
		m.PipelineOnline.Set(1)
		return
	}
	m.PipelineOnline.Set(0)
}
