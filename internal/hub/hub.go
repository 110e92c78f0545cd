// Package hub tracks the live channel of every connected bot or monitor and
// delivers frames to one of them or to all of them.
//
// A failed delivery never reaches the caller. The failing channel is closed
// and evicted, and the next broadcast simply no longer sees it.
package hub

import (
	"errors"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// ErrTransport marks a failed write to a live channel.
var ErrTransport = errors.New("transport failure")

// Conn is a live duplex channel. Send must be safe for concurrent use.
type Conn interface {
	Send(data []byte) error
	Close() error
}

// Hub maps entity ids to live channels. At most one channel is held per id.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]Conn
}

// New creates an empty hub.
func New() *Hub {
	return &Hub{conns: make(map[string]Conn)}
}

// Register maps id to c. A channel already mapped to id is closed and
// replaced, so a reconnecting bot never leaves its old socket behind.
func (h *Hub) Register(id string, c Conn) {
	h.mu.Lock()
	old, ok := h.conns[id]
	h.conns[id] = c
	h.mu.Unlock()

	if ok && old != c {
		log.Info().Str("entity", id).Msg("Superseding existing connection")
		if err := old.Close(); err != nil {
			log.Debug().Err(err).Str("entity", id).Msg("Closing superseded connection")
		}
	}
	log.Debug().Str("entity", id).Msg("Connection registered")
}

// SendTo delivers data to id's channel. It reports whether the frame was
// written. An unknown id is a no-op; a failed write evicts the channel.
func (h *Hub) SendTo(id string, data []byte) bool {
	h.mu.RLock()
	c, ok := h.conns[id]
	h.mu.RUnlock()

	if !ok {
		log.Warn().Str("entity", id).Msg("No live connection for entity")
		return false
	}
	if err := c.Send(data); err != nil {
		log.Warn().Err(err).Str("entity", id).Msg("Send failed, evicting connection")
		h.evict(id, c)
		return false
	}
	return true
}

// Broadcast delivers data to every channel registered when the sweep
// starts and returns how many writes succeeded. Channels that fail are
// evicted once the sweep is done.
func (h *Hub) Broadcast(data []byte) int {
	h.mu.RLock()
	targets := make(map[string]Conn, len(h.conns))
	for id, c := range h.conns {
		targets[id] = c
	}
	h.mu.RUnlock()

	delivered := 0
	failed := make(map[string]Conn)
	for id, c := range targets {
		if err := c.Send(data); err != nil {
			log.Warn().Err(err).Str("entity", id).Msg("Broadcast send failed")
			failed[id] = c
			continue
		}
		delivered++
	}

	for id, c := range failed {
		h.evict(id, c)
	}
	return delivered
}

// Unregister drops whatever channel is mapped to id. It does not close it.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	delete(h.conns, id)
	h.mu.Unlock()
}

// UnregisterConn drops id only while it is still mapped to c. A receive
// loop calls this on exit so that it cannot remove a newer channel that
// superseded its own.
func (h *Hub) UnregisterConn(id string, c Conn) {
	h.mu.Lock()
	if cur, ok := h.conns[id]; ok && cur == c {
		delete(h.conns, id)
	}
	h.mu.Unlock()
}

// Count returns the number of live channels.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// IDs returns the ids with a live channel, sorted.
func (h *Hub) IDs() []string {
	h.mu.RLock()
	ids := make([]string, 0, len(h.conns))
	for id := range h.conns {
		ids = append(ids, id)
	}
	h.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Has reports whether id has a live channel.
func (h *Hub) Has(id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[id]
	return ok
}

// CloseAll closes and drops every channel.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[string]Conn)
	h.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

func (h *Hub) evict(id string, c Conn) {
	h.mu.Lock()
	cur, ok := h.conns[id]
	if ok && cur == c {
		delete(h.conns, id)
	}
	h.mu.Unlock()

	if ok && cur == c {
		c.Close()
		log.Info().Str("entity", id).Msg("Connection evicted")
	}
}
