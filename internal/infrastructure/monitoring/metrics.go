package monitoring

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. Each instance owns its registry, so
// tests can create as many as they need.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Session metrics
	SessionsActive   prometheus.Gauge
	SessionsCreated  prometheus.Counter
	SessionsFailed   prometheus.Counter
	SessionsClosed   *prometheus.CounterVec
	SessionLifetime  prometheus.Histogram
	Navigations      prometheus.Counter
	SettleDuration   *prometheus.HistogramVec
	AjaxWaitTimeouts prometheus.Counter

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	startTime time.Time

	mu       sync.RWMutex
	snapshot Snapshot
}

// Snapshot holds current values for the JSON API.
type Snapshot struct {
	TotalRequests  int64   `json:"total_requests"`
	TotalErrors    int64   `json:"total_errors"`
	ActiveSessions int64   `json:"active_sessions"`
	Navigations    int64   `json:"navigations"`
	AjaxTimeouts   int64   `json:"ajax_timeouts"`
	AvgLatencyMs   float64 `json:"avg_latency_ms"`
	UptimeSeconds  float64 `json:"uptime_seconds"`

	totalDuration float64
}

// NewMetrics creates a metrics collector with its own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pilot_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pilot_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"method", "path"},
		),

		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "pilot_sessions_active",
			Help: "Number of live browser sessions",
		}),
		SessionsCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "pilot_sessions_started_total",
			Help: "Sessions whose engine started successfully",
		}),
		SessionsFailed: f.NewCounter(prometheus.CounterOpts{
			Name: "pilot_sessions_failed_total",
			Help: "Sessions whose engine failed to start",
		}),
		SessionsClosed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pilot_sessions_closed_total",
				Help: "Closed sessions by reason",
			},
			[]string{"reason"},
		),
		SessionLifetime: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "pilot_session_lifetime_seconds",
			Help:    "Time from session creation to close",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		Navigations: f.NewCounter(prometheus.CounterOpts{
			Name: "pilot_navigations_total",
			Help: "Page navigations requested through sessions",
		}),
		SettleDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pilot_settle_duration_seconds",
				Help:    "Wait between native load finished and settlement",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"outcome"},
		),
		AjaxWaitTimeouts: f.NewCounter(prometheus.CounterOpts{
			Name: "pilot_ajax_wait_timeouts_total",
			Help: "Settlements reached by AJAX wait timeout",
		}),

		WSConnections: f.NewGauge(prometheus.GaugeOpts{
			Name: "pilot_ws_connections",
			Help: "Number of open event stream connections",
		}),
		WSMessages: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pilot_ws_messages_total",
				Help: "Event stream messages",
			},
			[]string{"direction", "type"},
		),
	}

	f.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "pilot_uptime_seconds",
		Help: "Process uptime in seconds",
	}, func() float64 {
		return time.Since(m.startTime).Seconds()
	})

	return m
}

// Registry returns the registry metrics are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.TotalRequests++
	m.snapshot.totalDuration += duration.Seconds()
	if len(status) > 0 && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// SetSessionsActive sets the number of live sessions
func (m *Metrics) SetSessionsActive(count int) {
	m.SessionsActive.Set(float64(count))
	m.mu.Lock()
	m.snapshot.ActiveSessions = int64(count)
	m.mu.Unlock()
}

// SessionStarted counts a session whose engine came up.
func (m *Metrics) SessionStarted() {
	m.SessionsCreated.Inc()
}

// SessionFailed counts a session whose engine failed to start.
func (m *Metrics) SessionFailed() {
	m.SessionsFailed.Inc()
}

// SessionClosed counts a closed session.
func (m *Metrics) SessionClosed(reason string, lifetime time.Duration) {
	m.SessionsClosed.WithLabelValues(reason).Inc()
	m.SessionLifetime.Observe(lifetime.Seconds())
}

// Navigation counts a page navigation.
func (m *Metrics) Navigation() {
	m.Navigations.Inc()
	m.mu.Lock()
	m.snapshot.Navigations++
	m.mu.Unlock()
}

// Settled records how long a navigation waited for AJAX activity.
func (m *Metrics) Settled(wait time.Duration, timedOut bool) {
	outcome := "ajax_complete"
	if timedOut {
		outcome = "timeout"
		m.AjaxWaitTimeouts.Inc()
		m.mu.Lock()
		m.snapshot.AjaxTimeouts++
		m.mu.Unlock()
	}
	m.SettleDuration.WithLabelValues(outcome).Observe(wait.Seconds())
}

// RecordWSMessage records an event stream message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments open event streams
func (m *Metrics) IncWSConnections() {
	m.WSConnections.Inc()
}

// DecWSConnections decrements open event streams
func (m *Metrics) DecWSConnections() {
	m.WSConnections.Dec()
}

// Snapshot returns the current summary values.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	s := m.snapshot
	m.mu.RUnlock()

	if s.TotalRequests > 0 {
		s.AvgLatencyMs = s.totalDuration / float64(s.TotalRequests) * 1000
	}
	s.UptimeSeconds = time.Since(m.startTime).Seconds()
	return s
}
