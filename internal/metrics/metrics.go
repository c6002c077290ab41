// Package metrics provides Prometheus instrumentation for the messenger
// client: realtime channel health, REST latency, and message throughput.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ChannelConnected is 1 while the realtime channel is connected.
	ChannelConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "messenger_channel_connected",
		Help: "1 while the realtime channel is connected, 0 otherwise",
	})

	// ChannelReconnects counts reconnect attempts after the first dial.
	ChannelReconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "messenger_channel_reconnects_total",
		Help: "Total number of realtime reconnect attempts",
	})

	// RealtimeEvents counts channel lifecycle and wire events, labeled by
	// event name ("connect", "disconnect", "connect_error", "private_message", ...).
	RealtimeEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "messenger_realtime_events_total",
		Help: "Total number of realtime events observed",
	}, []string{"event"})

	// MessagesTotal counts messages entering the conversation view, labeled by
	// direction: "received" or "sent".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "messenger_messages_total",
		Help: "Total number of messages appended to the conversation view",
	}, []string{"direction"})

	// APIRequestDuration records REST call latency in seconds.
	APIRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "messenger_api_request_duration_seconds",
		Help:    "REST request latency in seconds",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"op", "outcome"}) // outcome = "ok", "error", "unauthorized"

	// Notices counts user-visible failure notices, labeled by operation.
	Notices = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "messenger_notices_total",
		Help: "Total number of failure notices raised to the user",
	}, []string{"op"})
)

func init() {
	prometheus.MustRegister(
		ChannelConnected,
		ChannelReconnects,
		RealtimeEvents,
		MessagesTotal,
		APIRequestDuration,
		Notices,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
