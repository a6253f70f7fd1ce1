package realtime

import (
	"context"
	"log"
	"time"

	"github.com/queuedesk-io/queuedesk/internal/metrics"
	"github.com/queuedesk-io/queuedesk/internal/models"
	"github.com/queuedesk-io/queuedesk/internal/queue"
)

// SnapshotSink stores the latest queue snapshot for consumers outside the
// live broadcast path. Implemented by the Redis-backed cache; nil disables.
type SnapshotSink interface {
	Put(ctx context.Context, st queue.Status) error
}

// Broadcaster pushes the queue snapshot to every connected engineer session
// on a fixed interval, independent of inbound traffic.
type Broadcaster struct {
	hub      *Hub
	queue    *queue.Manager
	sink     SnapshotSink
	interval time.Duration
}

// NewBroadcaster creates the periodic queue-status broadcaster.
func NewBroadcaster(hub *Hub, qm *queue.Manager, sink SnapshotSink, interval time.Duration) *Broadcaster {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Broadcaster{hub: hub, queue: qm, sink: sink, interval: interval}
}

// Run broadcasts until the context is cancelled. Intended as a goroutine.
func (b *Broadcaster) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.broadcast(ctx)
		}
	}
}

func (b *Broadcaster) broadcast(ctx context.Context) {
	st := b.queue.Status()
	b.hub.BroadcastToRole(models.RoleEngineer, NewEvent(EventQueueUpdate, st))
	metrics.BroadcastsTotal.Inc()

	if b.sink != nil {
		if err := b.sink.Put(ctx, st); err != nil {
			log.Printf("realtime: store queue snapshot: %v", err)
		}
	}
}
