// Package metrics holds the prometheus collectors for the companion server.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	backendCalls    *prometheus.CounterVec
	notifications   *prometheus.CounterVec
	pushDeliveries  *prometheus.CounterVec
	wsClients       prometheus.Gauge
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cohabit",
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by method and status class.",
		}, []string{"method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cohabit",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		backendCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cohabit",
			Name:      "backend_calls_total",
			Help:      "Calls to the REST backend, by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cohabit",
			Name:      "notifications_total",
			Help:      "Notifications recorded, by source.",
		}, []string{"source"}),
		pushDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cohabit",
			Name:      "push_deliveries_total",
			Help:      "Web push deliveries, by outcome.",
		}, []string{"outcome"}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cohabit",
			Name:      "websocket_clients",
			Help:      "Open websocket connections.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests,
		m.requestDuration,
		m.backendCalls,
		m.notifications,
		m.pushDeliveries,
		m.wsClients,
	)
	return m
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveRequest(method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, statusClass(status)).Inc()
	m.requestDuration.WithLabelValues(method).Observe(d.Seconds())
}

// BackendCall records one backend request. outcome is "ok", "unauthorized",
// "error" or "transport".
func (m *Metrics) BackendCall(endpoint, outcome string) {
	if m == nil {
		return
	}
	m.backendCalls.WithLabelValues(endpoint, outcome).Inc()
}

func (m *Metrics) NotificationRecorded(source string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(source).Inc()
}

// PushDelivered records one web push attempt. outcome is "ok", "expired"
// or "error".
func (m *Metrics) PushDelivered(outcome string) {
	if m == nil {
		return
	}
	m.pushDeliveries.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetWebsocketClients(n int) {
	if m == nil {
		return
	}
	m.wsClients.Set(float64(n))
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
