// Package ws streams collection events to local clients over WebSocket so a
// UI can refresh when the daemon finishes a sync.
package ws

import (
	"encoding/json"
	"sync"
	"time"
)

// Event is one message on the stream.
type Event struct {
	Type       string    `json:"type"`
	DocumentID string    `json:"documentId,omitempty"`
	Books      int       `json:"books"`
	At         time.Time `json:"at"`
}

// Event types.
const (
	EventPulled = "pulled"
	EventPushed = "pushed"
)

// ConnectionRegistry tracks active stream connections.
type ConnectionRegistry struct {
	mu    sync.RWMutex
	conns map[*Connection]struct{}
	now   func() time.Time
}

// NewConnectionRegistry creates an empty registry.
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{conns: make(map[*Connection]struct{}), now: time.Now}
}

// Register adds the connection.
func (r *ConnectionRegistry) Register(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c] = struct{}{}
	eventConnections.Set(float64(len(r.conns)))
}

// Unregister removes the connection.
func (r *ConnectionRegistry) Unregister(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, c)
	eventConnections.Set(float64(len(r.conns)))
}

// Len returns the number of active connections.
func (r *ConnectionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// CloseAll disconnects every client.
func (r *ConnectionRegistry) CloseAll() {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.conns))
	for c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.RUnlock()
	for _, c := range conns {
		c.Close()
	}
}

// Broadcast delivers ev to every connection and returns how many accepted it.
func (r *ConnectionRegistry) Broadcast(ev Event) int {
	payload, err := json.Marshal(ev)
	if err != nil {
		return 0
	}

	r.mu.RLock()
	recipients := make([]*Connection, 0, len(r.conns))
	for c := range r.conns {
		recipients = append(recipients, c)
	}
	r.mu.RUnlock()

	sent := 0
	for _, conn := range recipients {
		if err := conn.Send(payload); err == nil {
			sent++
		}
	}
	eventsSent.WithLabelValues(ev.Type).Add(float64(sent))
	return sent
}

// Synced broadcasts a completed pull or push.
func (r *ConnectionRegistry) Synced(op, documentID string, books int) {
	typ := EventPushed
	if op == "pull" {
		typ = EventPulled
	}
	r.Broadcast(Event{Type: typ, DocumentID: documentID, Books: books, At: r.now().UTC()})
}
