package notifications

import (
	"github.com/tannerhall/worldvault/pkg/log"
	"github.com/tannerhall/worldvault/pkg/queue"
)

// Event describes an accepted write to a shared object.
type Event struct {
	WorldID  string `json:"worldId"`
	ObjectID string `json:"objectId"`
	Version  uint64 `json:"version"`
}

// QueueNotifier buffers accepted-write events on a queue so that writers
// never block on slow subscribers. Events are best-effort: when the queue
// is full the event is dropped and logged.
type QueueNotifier struct {
	queue queue.Queue
}

func NewQueueNotifier(q queue.Queue) *QueueNotifier {
	return &QueueNotifier{
		queue: q,
	}
}

func (n *QueueNotifier) Notify(worldID string, objectID string, version uint64) {
	event := Event{
		WorldID:  worldID,
		ObjectID: objectID,
		Version:  version,
	}
	if err := n.queue.Enqueue(event); err != nil {
		log.Warn("Dropping notification for %s/%s: %v", worldID, objectID, err)
	}
}
