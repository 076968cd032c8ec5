package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the signaling service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP Request Metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// WebSocket Metrics
	websocketConnections prometheus.Gauge
	onlineUsers          prometheus.Gauge
	eventsReceivedTotal  *prometheus.CounterVec
	eventsRelayedTotal   *prometheus.CounterVec
	eventsDroppedTotal   *prometheus.CounterVec

	// Call Metrics
	callTransitionsTotal *prometheus.CounterVec
	callsDuration        *prometheus.HistogramVec
	callPersistErrors    *prometheus.CounterVec

	// Rate Limiting Metrics
	rateLimitBlockedTotal *prometheus.CounterVec
}

// NewMetrics creates all metrics on a fresh registry that also carries the Go
// runtime and process collectors.
func NewMetrics(serviceName string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	factory := promauto.With(reg)
	labels := prometheus.Labels{"service": serviceName}

	return &Metrics{
		registry: reg,

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "http_requests_total",
			Help:        "Total number of HTTP requests",
			ConstLabels: labels,
		}, []string{"method", "endpoint", "status"}),
		httpRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "http_request_duration_seconds",
			Help:        "HTTP request latency in seconds",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		httpRequestsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "http_requests_in_flight",
			Help:        "Number of HTTP requests currently being processed",
			ConstLabels: labels,
		}),

		websocketConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "websocket_connections",
			Help:        "Number of open signaling connections",
			ConstLabels: labels,
		}),
		onlineUsers: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "presence_online_users",
			Help:        "Number of users with at least one open connection",
			ConstLabels: labels,
		}),
		eventsReceivedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "signaling_events_received_total",
			Help:        "Signaling events received from clients",
			ConstLabels: labels,
		}, []string{"event"}),
		eventsRelayedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "signaling_events_relayed_total",
			Help:        "Signaling events delivered to a connection",
			ConstLabels: labels,
		}, []string{"event"}),
		eventsDroppedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "signaling_events_dropped_total",
			Help:        "Signaling events dropped because the target was offline",
			ConstLabels: labels,
		}, []string{"event"}),

		callTransitionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "call_transitions_total",
			Help:        "Call record transitions by kind and resulting status",
			ConstLabels: labels,
		}, []string{"kind", "status"}),
		callsDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "call_duration_seconds",
			Help:        "Duration of completed calls in seconds",
			ConstLabels: labels,
			Buckets:     []float64{10, 30, 60, 300, 600, 1800, 3600},
		}, []string{"kind"}),
		callPersistErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "call_persist_errors_total",
			Help:        "Call record writes that failed and were skipped",
			ConstLabels: labels,
		}, []string{"kind", "operation"}),

		rateLimitBlockedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "rate_limit_blocked_total",
			Help:        "Requests rejected by a rate limiter",
			ConstLabels: labels,
		}, []string{"limiter"}),
	}
}

// Registry exposes the underlying registry, e.g. for Redis health gauges
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records HTTP request metrics
func (m *Metrics) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

func (m *Metrics) IncrementHTTPRequestsInFlight() {
	if m == nil {
		return
	}
	m.httpRequestsInFlight.Inc()
}

func (m *Metrics) DecrementHTTPRequestsInFlight() {
	if m == nil {
		return
	}
	m.httpRequestsInFlight.Dec()
}

// SetWebSocketConnections sets the open connection gauge
func (m *Metrics) SetWebSocketConnections(count int) {
	if m == nil {
		return
	}
	m.websocketConnections.Set(float64(count))
}

// SetOnlineUsers sets the online user gauge
func (m *Metrics) SetOnlineUsers(count int) {
	if m == nil {
		return
	}
	m.onlineUsers.Set(float64(count))
}

// RecordEventReceived counts an inbound signaling event
func (m *Metrics) RecordEventReceived(event string) {
	if m == nil {
		return
	}
	m.eventsReceivedTotal.WithLabelValues(event).Inc()
}

// RecordEventRelayed counts an outbound delivery
func (m *Metrics) RecordEventRelayed(event string) {
	if m == nil {
		return
	}
	m.eventsRelayedTotal.WithLabelValues(event).Inc()
}

// RecordEventDropped counts an event whose target had no live connection
func (m *Metrics) RecordEventDropped(event string) {
	if m == nil {
		return
	}
	m.eventsDroppedTotal.WithLabelValues(event).Inc()
}

// RecordCallTransition counts a call record reaching status
func (m *Metrics) RecordCallTransition(kind, status string) {
	if m == nil {
		return
	}
	m.callTransitionsTotal.WithLabelValues(kind, status).Inc()
}

// RecordCallDuration observes a completed call's duration
func (m *Metrics) RecordCallDuration(kind string, seconds int) {
	if m == nil {
		return
	}
	m.callsDuration.WithLabelValues(kind).Observe(float64(seconds))
}

// RecordCallPersistError counts a swallowed call-log write failure
func (m *Metrics) RecordCallPersistError(kind, operation string) {
	if m == nil {
		return
	}
	m.callPersistErrors.WithLabelValues(kind, operation).Inc()
}

// RecordRateLimitBlocked counts a rejected request
func (m *Metrics) RecordRateLimitBlocked(limiter string) {
	if m == nil {
		return
	}
	m.rateLimitBlockedTotal.WithLabelValues(limiter).Inc()
}
