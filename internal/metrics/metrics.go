// Package metrics exposes Prometheus instrumentation for the routing core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AssignmentsTotal counts client-to-engineer matches, by path.
	AssignmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "queuedesk_assignments_total",
		Help: "Total number of client to engineer assignments",
	}, []string{"path"}) // immediate, dequeue, ticket

	// QueueDepth tracks the current number of waiting clients.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "queuedesk_queue_depth",
		Help: "Number of clients currently waiting for an engineer",
	})

	// MessagesRouted counts chat messages accepted by the router.
	MessagesRouted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "queuedesk_messages_routed_total",
		Help: "Total number of ticket chat messages accepted",
	})

	// BroadcastsTotal counts periodic queue-status broadcasts.
	BroadcastsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "queuedesk_queue_broadcasts_total",
		Help: "Total number of periodic queue status broadcasts",
	})
)
