package dispatch

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/heiderich/slimstreamer/internal/audio"
	"github.com/heiderich/slimstreamer/internal/hooks"
	"github.com/heiderich/slimstreamer/internal/logger"
)

// pollInterval bounds how long the dispatcher sleeps between empty
// TryDequeue polls. The queue itself never blocks the producer, so this
// only trades dispatcher wake-up latency for CPU.
const pollInterval = time.Millisecond

// Dispatcher is the single consumer of a ChunkQueue. For every dequeued
// Chunk it invokes OnChunk on every session in the Registry with the chunk's
// sampling rate; a session bound to a different rate drops the chunk.
type Dispatcher struct {
	queue    *audio.ChunkQueue
	registry *Registry
	hookMgr  *hooks.Manager
	log      *slog.Logger

	chunksDispatched atomic.Uint64
	bytesFannedOut   atomic.Uint64
	drops            atomic.Uint64
}

// NewDispatcher wires a ChunkQueue to a Registry. hookMgr may be nil.
func NewDispatcher(queue *audio.ChunkQueue, registry *Registry, hookMgr *hooks.Manager, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		queue:    queue,
		registry: registry,
		hookMgr:  hookMgr,
		log:      logger.WithComponent(log, "dispatcher"),
	}
}

// Run drains the queue and fans each chunk out until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			d.drain()
			return
		default:
		}

		chunk, ok := d.queue.TryDequeue()
		if !ok {
			time.Sleep(pollInterval)
			continue
		}
		d.fanOut(chunk)
	}
}

// drain dequeues whatever remains in the queue without blocking, fanning it
// out; used during graceful shutdown (spec: drain the Dispatcher until the
// queue is empty before signaling sessions to stop).
func (d *Dispatcher) drain() {
	for {
		chunk, ok := d.queue.TryDequeue()
		if !ok {
			return
		}
		d.fanOut(chunk)
	}
}

func (d *Dispatcher) fanOut(chunk *audio.Chunk) {
	sr := chunk.SamplingRate()
	sessions := d.registry.Snapshot()
	for _, s := range sessions {
		if err := s.OnChunk(chunk, sr); err != nil {
			d.log.Warn("session write failed, closing", "client_id", s.ClientID(), "error", err)
			_ = s.Close()
		}
	}
	d.chunksDispatched.Add(1)
	d.bytesFannedOut.Add(uint64(chunk.DataSize() * len(sessions)))
}

// OnOverflow is meant to be passed as the CaptureSource's overflow callback.
// It is invoked on the capture hot path and is intentionally not
// real-time-safe: it logs and fires a ChunkOverflow hook, both of which may
// allocate.
func (d *Dispatcher) OnOverflow() {
	d.drops.Add(1)
	d.log.Warn("chunk queue overflow: dropping capture buffer")
	if d.hookMgr != nil {
		d.hookMgr.Fire(hooks.ChunkOverflow, hooks.Payload{"drops": d.drops.Load()})
	}
}

// Stats is a snapshot of periodic dispatcher diagnostics.
type Stats struct {
	ChunksDispatched uint64
	BytesFannedOut   uint64
	Drops            uint64
	ActiveSessions   int
}

// Stats returns current counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		ChunksDispatched: d.chunksDispatched.Load(),
		BytesFannedOut:   d.bytesFannedOut.Load(),
		Drops:            d.drops.Load(),
		ActiveSessions:   d.registry.Len(),
	}
}

// RunDiagnostics logs Stats every interval until ctx is cancelled. Adapted
// from the teacher's periodic media-statistics logger.
func (d *Dispatcher) RunDiagnostics(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := d.Stats()
			d.log.Info("dispatcher diagnostics",
				"chunks_dispatched", s.ChunksDispatched,
				"bytes_fanned_out", s.BytesFannedOut,
				"drops", s.Drops,
				"active_sessions", s.ActiveSessions,
			)
		}
	}
}
