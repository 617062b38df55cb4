package workers

import (
	"context"
	"time"

	"github.com/tannerhall/worldvault/pkg/log"
	"github.com/tannerhall/worldvault/pkg/notifications"
	"github.com/tannerhall/worldvault/pkg/queue"
)

const broadcastTimeout = 5 * time.Second

type NotificationWorker struct {
	queue queue.Queue
	hub   *notifications.Hub
}

type NewNotificationWorkerOptions struct {
	Queue queue.Queue
	Hub   *notifications.Hub
}

// NewNotificationWorker creates a new NotificationWorker. The worker
// drains accepted-write events from the queue and broadcasts them to the
// hub's subscribers, keeping slow subscribers off the write path.
func NewNotificationWorker(opts NewNotificationWorkerOptions) *NotificationWorker {
	return &NotificationWorker{
		queue: opts.Queue,
		hub:   opts.Hub,
	}
}

func (w *NotificationWorker) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-w.queue.Dequeue():
			event, ok := item.(notifications.Event)
			if !ok {
				log.Error("Unexpected item type in notification queue: %T", item)
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, broadcastTimeout)
			w.hub.Broadcast(writeCtx, event)
			cancel()
		}
	}
}
