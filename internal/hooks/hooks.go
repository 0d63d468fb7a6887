// Package hooks fires lifecycle events — stream boundaries and client
// churn — out to pluggable sinks, adapted from the lifecycle-hook mechanism
// the teacher repo wires into its RTMP server.
package hooks

import (
	"log/slog"
	"sync"
)

// Event names a point in the playback lifecycle a hook can observe.
type Event string

const (
	StreamBegin        Event = "stream_begin"
	StreamEnd          Event = "stream_end"
	ClientConnected    Event = "client_connected"
	ClientDisconnected Event = "client_disconnected"
	ChunkOverflow      Event = "chunk_overflow"
)

// Payload carries event-specific context (clientID, samplingRate, and so
// on). Keys are hook-defined; Manager does not interpret them.
type Payload map[string]any

// Hook receives fired events. Fire is called synchronously from whatever
// goroutine raised the event; StreamBegin/StreamEnd/ClientConnected/
// ClientDisconnected are raised off the capture hot path, but ChunkOverflow
// is raised from the capture loop itself and is therefore not required to
// be fast — a slow hook here shows up as a capture gap, same as the
// overflow callback it rides on.
type Hook interface {
	Fire(event Event, payload Payload) error
}

// Manager fans a fired event out to every registered Hook, logging (not
// returning) any hook error so one misbehaving sink can't block another or
// abort the caller.
type Manager struct {
	mu     sync.RWMutex
	hooks  []Hook
	logger *slog.Logger
}

// NewManager returns an empty Manager. log receives one warning line per
// failing hook invocation.
func NewManager(log *slog.Logger) *Manager {
	return &Manager{logger: log}
}

// Register adds a Hook. Safe to call concurrently with Fire.
func (m *Manager) Register(h Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, h)
}

// Fire invokes every registered hook with event and payload.
func (m *Manager) Fire(event Event, payload Payload) {
	m.mu.RLock()
	snapshot := make([]Hook, len(m.hooks))
	copy(snapshot, m.hooks)
	m.mu.RUnlock()

	for _, h := range snapshot {
		if err := h.Fire(event, payload); err != nil {
			m.logger.Warn("hook failed", "event", string(event), "error", err)
		}
	}
}
