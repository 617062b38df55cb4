package notifications

import (
	"context"
	"net/http"
	"sync"

	"github.com/tannerhall/worldvault/pkg/log"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Hub tracks websocket subscribers per world and fans accepted-write
// events out to them. Subscribers are write-only; anything they send is
// discarded.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[*websocket.Conn]struct{}
}

func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[string]map[*websocket.Conn]struct{}),
	}
}

// HandleSubscribe upgrades the request to a websocket and registers the
// connection for the requested world's events until the client goes away.
func (h *Hub) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	worldID := r.URL.Query().Get("worldId")
	if worldID == "" {
		http.Error(w, "worldId is required", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Error("Failed to accept websocket connection: %v", err)
		return
	}

	h.add(worldID, conn)
	defer h.remove(worldID, conn)
	log.Debug("New notification subscriber for world %s", worldID)

	ctx := conn.CloseRead(r.Context())
	<-ctx.Done()
	conn.Close(websocket.StatusNormalClosure, "")
	log.Trace("Notification subscriber for world %s disconnected", worldID)
}

// Broadcast sends the event to every subscriber of its world.
func (h *Hub) Broadcast(ctx context.Context, event Event) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.subscribers[event.WorldID]))
	for conn := range h.subscribers[event.WorldID] {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		if err := wsjson.Write(ctx, conn, event); err != nil {
			log.Trace("Failed to write notification to subscriber: %v", err)
		}
	}
}

func (h *Hub) add(worldID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subscribers[worldID] == nil {
		h.subscribers[worldID] = make(map[*websocket.Conn]struct{})
	}
	h.subscribers[worldID][conn] = struct{}{}
}

func (h *Hub) remove(worldID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subscribers[worldID], conn)
	if len(h.subscribers[worldID]) == 0 {
		delete(h.subscribers, worldID)
	}
}
