package remote

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Request outcomes recorded by the server.
const (
	OutcomeResponded   = "responded"
	OutcomeRejected    = "rejected"
	OutcomeUnavailable = "unavailable"
	OutcomeLost        = "lost"
	OutcomeCancelled   = "cancelled"
)

// serverMetrics are the collectors of one Server. Each server owns its
// registry so several servers can run in one process.
type serverMetrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	connections     prometheus.Gauge
	routes          prometheus.Gauge
}

func newServerMetrics() *serverMetrics {
	m := &serverMetrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "interceptd_remote_requests_total",
				Help: "Requests received by the remote server, by outcome.",
			},
			[]string{"method", "outcome"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "interceptd_remote_request_duration_seconds",
				Help:    "Time spent waiting for an interceptor to resolve a request.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "interceptd_remote_connections",
			Help: "Connected interceptor channels.",
		}),
		routes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "interceptd_remote_routes",
			Help: "Registered interceptor base paths.",
		}),
	}
	m.registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.connections,
		m.routes,
	)
	return m
}

func (m *serverMetrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
