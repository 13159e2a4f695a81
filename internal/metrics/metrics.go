// Package metrics exposes panel counters in the Prometheus text format.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "remote_panel"

// Metrics holds the collectors for one panel runtime. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	logins         *prometheus.CounterVec
	processStarts  *prometheus.CounterVec
	processExits   *prometheus.CounterVec
	oneShotSeconds *prometheus.HistogramVec
	broadcasts     *prometheus.CounterVec
	clients        *prometheus.GaugeVec
	sessions       prometheus.Gauge
}

// New registers the panel collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_attempts_total",
			Help:      "Login attempts by outcome.",
		}, []string{"result"}),
		processStarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "process_starts_total",
			Help:      "Child processes started by kind.",
		}, []string{"kind"}),
		processExits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "process_exits_total",
			Help:      "Child process exits by kind and exit code.",
		}, []string{"kind", "code"}),
		oneShotSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "oneshot_duration_seconds",
			Help:      "Duration of one-shot commands.",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 1800},
		}, []string{"source"}),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_total",
			Help:      "Events pushed to connected clients by channel.",
		}, []string{"channel"}),
		clients: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_clients",
			Help:      "Connected SSE and WebSocket clients.",
		}, []string{"transport"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Authenticated panel sessions held in memory.",
		}),
	}
	m.registry.MustRegister(
		m.logins, m.processStarts, m.processExits, m.oneShotSeconds,
		m.broadcasts, m.clients, m.sessions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Login(result string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(result).Inc()
}

func (m *Metrics) ProcessStarted(kind string) {
	if m == nil {
		return
	}
	m.processStarts.WithLabelValues(kind).Inc()
}

func (m *Metrics) ProcessExited(kind string, code int) {
	if m == nil {
		return
	}
	m.processExits.WithLabelValues(kind, strconv.Itoa(code)).Inc()
}

func (m *Metrics) OneShotFinished(source string, seconds float64) {
	if m == nil {
		return
	}
	m.oneShotSeconds.WithLabelValues(source).Observe(seconds)
}

func (m *Metrics) Broadcast(channel string) {
	if m == nil {
		return
	}
	m.broadcasts.WithLabelValues(channel).Inc()
}

// SetClients records the number of connected clients for a transport
// ("sse" or "ws").
func (m *Metrics) SetClients(transport string, n int) {
	if m == nil {
		return
	}
	m.clients.WithLabelValues(transport).Set(float64(n))
}

func (m *Metrics) SetSessions(n int) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(n))
}
