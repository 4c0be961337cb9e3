// Package metrics defines the Prometheus collectors exported by the service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	processesStarted *prometheus.CounterVec
	processesRunning *prometheus.GaugeVec
	processDuration  *prometheus.HistogramVec
	launchFailures   *prometheus.CounterVec
	commands         *prometheus.CounterVec
	rejections       *prometheus.CounterVec
	connections      prometheus.Gauge
}

// New creates collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		processesStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "runner_processes_started_total",
			Help: "Child processes started, by kind.",
		}, []string{"kind"}),
		processesRunning: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "runner_processes_running",
			Help: "Child processes currently alive, by kind.",
		}, []string{"kind"}),
		processDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "runner_process_duration_seconds",
			Help:    "Wall time of child processes, by kind and outcome.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 900},
		}, []string{"kind", "outcome"}),
		launchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "runner_process_launch_failures_total",
			Help: "Child processes that could not be launched, by kind.",
		}, []string{"kind"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "runner_commands_total",
			Help: "Commands dispatched, by resulting action.",
		}, []string{"action"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "runner_command_rejections_total",
			Help: "Commands rejected, by reason.",
		}, []string{"reason"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "runner_websocket_connections",
			Help: "Open client connections.",
		}),
	}
	reg.MustRegister(
		m.processesStarted,
		m.processesRunning,
		m.processDuration,
		m.launchFailures,
		m.commands,
		m.rejections,
		m.connections,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry (tests gather from it).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ProcessStarted records a successful launch.
func (m *Metrics) ProcessStarted(kind string) {
	if m == nil {
		return
	}
	m.processesStarted.WithLabelValues(kind).Inc()
	m.processesRunning.WithLabelValues(kind).Inc()
}

// ProcessExited records a termination and its wall time in seconds.
func (m *Metrics) ProcessExited(kind, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.processesRunning.WithLabelValues(kind).Dec()
	m.processDuration.WithLabelValues(kind, outcome).Observe(seconds)
}

// LaunchFailed records a process that never started.
func (m *Metrics) LaunchFailed(kind string) {
	if m == nil {
		return
	}
	m.launchFailures.WithLabelValues(kind).Inc()
}

// Command records a dispatched action.
func (m *Metrics) Command(action string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(action).Inc()
}

// Rejected records a rejected command.
func (m *Metrics) Rejected(reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(reason).Inc()
}

// ConnectionOpened increments the open connection gauge.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

// ConnectionClosed decrements the open connection gauge.
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}
