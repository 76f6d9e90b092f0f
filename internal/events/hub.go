// Package events streams session activity to websocket subscribers.
package events

import (
	"encoding/json"
	log "log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"kina/internal/session"
)

type Event struct {
	Kind   string          `json:"kind"`
	Cycle  string          `json:"cycle,omitempty"`
	From   string          `json:"from,omitempty"`
	To     string          `json:"to,omitempty"`
	Origin string          `json:"origin,omitempty"`
	Report *session.Report `json:"report,omitempty"`
	At     time.Time       `json:"at"`
}

const (
	KindTransition = "transition"
	KindCycle      = "cycle"
	KindDropped    = "dropped"
)

type client struct {
	send chan []byte
}

// Hub fans events out to every connected client. Slow clients are
// disconnected instead of blocking the session.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
}

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: LocalOrigin,
		},
		clients: map[*client]struct{}{},
	}
}

func (h *Hub) Transition(cycle string, from, to session.State) {
	h.publish(Event{Kind: KindTransition, Cycle: cycle, From: from.String(), To: to.String(), At: time.Now()})
}

func (h *Hub) CycleDone(r session.Report) {
	h.publish(Event{Kind: KindCycle, Cycle: r.ID, Origin: r.Origin, Report: &r, At: r.Finished})
}

func (h *Hub) TriggerDropped(t session.Trigger) {
	h.publish(Event{Kind: KindDropped, Origin: t.Origin, At: time.Now()})
}

func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) publish(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error("Failed to encode event", "kind", ev.Kind, "err", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			close(c.send)
			delete(h.clients, c)
		}
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("WebSocket upgrade failed", "err", err)
		return
	}

	c := &client{send: make(chan []byte, 64)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	log.Debug("Event subscriber connected", "remote", r.RemoteAddr)

	// reader only notices the close
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.remove(c)
				return
			}
		}
	}()

	defer conn.Close()
	for data := range c.send {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.remove(c)
			return
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		close(c.send)
		delete(h.clients, c)
	}
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}
