package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Default holds every collector exported by the binaries in this module.
var Default = prometheus.NewRegistry()

var (
	OpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orderbus_relay_open_connections",
		Help: "Socket connections currently registered with the relay.",
	})

	EventsReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orderbus_relay_events_received_total",
		Help: "Inbound socket frames by event name.",
	}, []string{"event"})

	FramesDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orderbus_relay_frames_delivered_total",
		Help: "Outbound frames queued for delivery by event name.",
	}, []string{"event"})

	FramesDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orderbus_relay_frames_dropped_total",
		Help: "Outbound frames dropped because a connection queue was full.",
	}, []string{"event"})

	DuplicateOrders = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orderbus_relay_duplicate_orders_total",
		Help: "new-order events rejected because the id belongs to an open order.",
	})

	ProjectionWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orderbus_projection_writes_total",
		Help: "Order events handled by the projection sink by outcome.",
	}, []string{"outcome"})
)

func init() {
	Default.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		OpenConnections,
		EventsReceived,
		FramesDelivered,
		FramesDropped,
		DuplicateOrders,
		ProjectionWrites,
	)
}

func DefaultHandler() http.Handler {
	return promhttp.HandlerFor(Default, promhttp.HandlerOpts{Registry: Default})
}
