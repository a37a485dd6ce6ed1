package signalhub

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "huddle_hub_active_connections",
		Help: "Number of active WebSocket subscribers",
	})

	connectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "huddle_hub_connections_total",
		Help: "Total number of WebSocket subscriptions accepted",
	})

	activeRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "huddle_hub_active_rooms",
		Help: "Number of rooms with at least one subscriber",
	})

	messagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "huddle_hub_messages_total",
		Help: "Total signaling envelopes processed",
	}, []string{"type", "direction"}) // direction: "in" | "out"

	droppedFramesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "huddle_hub_dropped_frames_total",
		Help: "Frames dropped because a subscriber's send queue was full",
	})
)
