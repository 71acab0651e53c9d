// Package metric holds the Prometheus instruments for the streaming core.
// All methods are safe on a nil *Metrics so components can run without
// instrumentation in tests.
package metric

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "camstream"

// Metrics contains the stream instruments and the private registry they
// are registered on.
type Metrics struct {
	FramesProduced     prometheus.Counter
	EmptyFrames        prometheus.Counter
	FramesServed       prometheus.Counter
	ConversionFailures prometheus.Counter
	Registrations      prometheus.Counter
	Rejections         prometheus.Counter
	ClientsDropped     prometheus.Counter
	Clients            prometheus.Gauge
	BufferCapacity     *prometheus.GaugeVec
	TaskState          *prometheus.GaugeVec
	ServeDuration      prometheus.Histogram

	registry *prometheus.Registry
}

// New creates the instruments and registers them, together with the Go and
// process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		FramesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "producer",
			Name:      "frames_total",
			Help:      "Frames published to the current-frame slot",
		}),
		EmptyFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "producer",
			Name:      "empty_frames_total",
			Help:      "Zero-length frames published because the sensor had nothing",
		}),
		FramesServed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "frames_served_total",
			Help:      "Frames written to clients",
		}),
		ConversionFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "conversion_failures_total",
			Help:      "Service turns skipped because JPEG conversion failed",
		}),
		Registrations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "registrations_total",
			Help:      "Clients accepted into the registry",
		}),
		Rejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "rejections_total",
			Help:      "Registrations refused because the registry was full",
		}),
		ClientsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "dropped_total",
			Help:      "Clients retired after being found disconnected",
		}),
		Clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "clients",
			Help:      "Currently registered clients",
		}),
		BufferCapacity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "producer",
			Name:      "buffer_capacity_bytes",
			Help:      "Capacity of each ping-pong frame buffer",
		}, []string{"index"}),
		TaskState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "task_running",
			Help:      "Task state (0=idle, 1=running)",
		}, []string{"task"}),
		ServeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "serve_duration_seconds",
			Help:      "Time the gate is held to serve one client",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.FramesProduced, m.EmptyFrames, m.FramesServed, m.ConversionFailures,
		m.Registrations, m.Rejections, m.ClientsDropped, m.Clients,
		m.BufferCapacity, m.TaskState, m.ServeDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// FramePublished records one producer publish.
func (m *Metrics) FramePublished(empty bool) {
	if m == nil {
		return
	}
	m.FramesProduced.Inc()
	if empty {
		m.EmptyFrames.Inc()
	}
}

// FrameServed records a completed write and how long the gate was held.
func (m *Metrics) FrameServed(held time.Duration) {
	if m == nil {
		return
	}
	m.FramesServed.Inc()
	m.ServeDuration.Observe(held.Seconds())
}

// ConversionFailed records a skipped turn.
func (m *Metrics) ConversionFailed() {
	if m == nil {
		return
	}
	m.ConversionFailures.Inc()
}

// Registered records an accepted client.
func (m *Metrics) Registered(clients int) {
	if m == nil {
		return
	}
	m.Registrations.Inc()
	m.Clients.Set(float64(clients))
}

// Rejected records a refused registration.
func (m *Metrics) Rejected() {
	if m == nil {
		return
	}
	m.Rejections.Inc()
}

// Dropped records a retired client.
func (m *Metrics) Dropped(clients int) {
	if m == nil {
		return
	}
	m.ClientsDropped.Inc()
	m.Clients.Set(float64(clients))
}

// BufferResized records the new capacity of buffer idx.
func (m *Metrics) BufferResized(idx, capacity int) {
	if m == nil {
		return
	}
	m.BufferCapacity.WithLabelValues(strconv.Itoa(idx)).Set(float64(capacity))
}

// TaskRunning records a task state transition.
func (m *Metrics) TaskRunning(task string, running bool) {
	if m == nil {
		return
	}
	v := 0.0
	if running {
		v = 1
	}
	m.TaskState.WithLabelValues(task).Set(v)
}
