// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CardMutations counts card store mutations by operation and outcome.
	CardMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kanban",
		Name:      "card_mutations_total",
		Help:      "Card mutations by operation (create, update, move, delete) and result (ok, error).",
	}, []string{"op", "result"})

	// RealtimeEvents counts events delivered to subscriber queues by type.
	RealtimeEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kanban",
		Name:      "realtime_events_total",
		Help:      "Card events enqueued to realtime subscribers by event type.",
	}, []string{"type"})

	RealtimeDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kanban",
		Name:      "realtime_dropped_total",
		Help:      "Subscribers disconnected because their send queue was full.",
	})

	RealtimeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "kanban",
		Name:      "realtime_connections",
		Help:      "Open realtime connections.",
	})

	RealtimeSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "kanban",
		Name:      "realtime_subscriptions",
		Help:      "Active (connection, project) subscriptions.",
	})
)

// Result labels an outcome for CardMutations.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
