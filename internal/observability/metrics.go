// Package observability owns the Prometheus collectors.
package observability

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce      sync.Once
	wsConnections     prometheus.Gauge
	eventsPublished   *prometheus.CounterVec
	eventsDropped     *prometheus.CounterVec
	eventsDelivered   *prometheus.CounterVec
	relayErrors       prometheus.Counter
	pushSent          *prometheus.CounterVec
	httpRequestsTotal *prometheus.CounterVec
	httpLatency       *prometheus.HistogramVec
)

// RegisterMetrics initialises the collectors once per process.
func RegisterMetrics() {
	registerOnce.Do(func() {
		wsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dmchat_ws_connections",
			Help: "Open websocket connections on this node.",
		})
		eventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dmchat_events_published_total",
			Help: "Events accepted by the outbox.",
		}, []string{"type"})
		eventsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dmchat_events_dropped_total",
			Help: "Events dropped because the outbox was full or a client was too slow.",
		}, []string{"reason"})
		eventsDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dmchat_events_delivered_total",
			Help: "Frames queued to local websocket clients.",
		}, []string{"audience"})
		relayErrors = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dmchat_relay_errors_total",
			Help: "Redis relay publish or decode failures.",
		})
		pushSent = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dmchat_push_sent_total",
			Help: "Web push deliveries by outcome.",
		}, []string{"outcome"})
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dmchat_http_requests_total",
			Help: "HTTP requests served.",
		}, []string{"method", "route", "status"})
		httpLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dmchat_http_latency_seconds",
			Help:    "Latency distribution for HTTP requests.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		prometheus.MustRegister(wsConnections, eventsPublished, eventsDropped, eventsDelivered,
			relayErrors, pushSent, httpRequestsTotal, httpLatency)
	})
}

func WSConnections() prometheus.Gauge {
	RegisterMetrics()
	return wsConnections
}

func EventsPublished() *prometheus.CounterVec {
	RegisterMetrics()
	return eventsPublished
}

// EventsDropped is labelled by reason: outbox_full, slow_client.
func EventsDropped() *prometheus.CounterVec {
	RegisterMetrics()
	return eventsDropped
}

func EventsDelivered() *prometheus.CounterVec {
	RegisterMetrics()
	return eventsDelivered
}

func RelayErrors() prometheus.Counter {
	RegisterMetrics()
	return relayErrors
}

func PushSent() *prometheus.CounterVec {
	RegisterMetrics()
	return pushSent
}

func HTTPRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return httpRequestsTotal
}

func HTTPLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return httpLatency
}

// Handler exposes the scrape endpoint.
func Handler() http.Handler {
	RegisterMetrics()
	return promhttp.Handler()
}
