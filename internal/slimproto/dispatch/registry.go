// Package dispatch fans captured chunks out to every Streaming Session
// registered for the chunk's sampling rate, adapted from the teacher's
// registry-keyed broadcast (subscribers snapshotted under a read lock, then
// released before any I/O).
package dispatch

import (
	"sync"

	"github.com/google/uuid"

	"github.com/heiderich/slimstreamer/internal/audio"
)

// Session is the subset of StreamingSession the registry and dispatcher
// need; kept as an interface so the dispatcher can be tested without a real
// socket.
type Session interface {
	ClientID() string
	SamplingRate() int
	OnChunk(chunk *audio.Chunk, samplingRate int) error
	Close() error
}

type registeredSession struct {
	handle  string
	session Session
}

// Registry holds the set of Streaming Sessions currently bound to
// (clientID, samplingRate) pairs. It is guarded by a lock acquired only by
// the dispatcher goroutine and by session Add/Remove — never by the
// capture thread.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]registeredSession // keyed by opaque handle
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]registeredSession)}
}

// Add registers session and returns an opaque handle that Remove uses to
// break the session/connection reference cycle: callers hold the handle,
// not a pointer back into the registry.
func (r *Registry) Add(s Session) string {
	handle := uuid.New().String()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[handle] = registeredSession{handle: handle, session: s}
	return handle
}

// Remove deregisters the session associated with handle, if present.
func (r *Registry) Remove(handle string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, handle)
}

// Snapshot returns a copy of the currently registered sessions. The
// dispatcher iterates the snapshot for I/O so the registry lock is never
// held across a session write.
func (r *Registry) Snapshot() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Session, 0, len(r.sessions))
	for _, rs := range r.sessions {
		out = append(out, rs.session)
	}
	return out
}

// Len reports the number of currently registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
