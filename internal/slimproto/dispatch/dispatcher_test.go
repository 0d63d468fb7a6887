package dispatch

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/heiderich/slimstreamer/internal/audio"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testParams(t *testing.T) audio.Params {
	t.Helper()
	p, err := audio.NewParams("hw:0", 48000, 3, 16, 4, 2)
	if err != nil {
		t.Fatalf("NewParams: %v", err)
	}
	return p
}

type fakeSession struct {
	clientID     string
	samplingRate int

	mu      sync.Mutex
	written [][]byte
	failing bool
	closed  bool
}

func (s *fakeSession) ClientID() string   { return s.clientID }
func (s *fakeSession) SamplingRate() int  { return s.samplingRate }
func (s *fakeSession) Close() error       { s.mu.Lock(); s.closed = true; s.mu.Unlock(); return nil }
func (s *fakeSession) OnChunk(c *audio.Chunk, sr int) error {
	if sr != s.samplingRate {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errFake
	}
	s.written = append(s.written, append([]byte(nil), c.Bytes()...))
	return nil
}

var errFake = &fakeErr{}

type fakeErr struct{}

func (*fakeErr) Error() string { return "fake write failure" }

func fillChunk(t *testing.T, q *audio.ChunkQueue, payload []byte, sr int) {
	t.Helper()
	q.Enqueue(func(c *audio.Chunk) bool {
		c.Fill(payload, sr)
		return true
	}, func() { t.Fatalf("unexpected overflow") })
}

// TestRegistryAddRemoveRoundTrip exercises the opaque-handle lifecycle.
func TestRegistryAddRemoveRoundTrip(t *testing.T) {
	r := NewRegistry()
	s := &fakeSession{clientID: "X", samplingRate: 48000}
	handle := r.Add(s)
	if r.Len() != 1 {
		t.Fatalf("expected 1 registered session")
	}
	snap := r.Snapshot()
	if len(snap) != 1 || snap[0].ClientID() != "X" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	r.Remove(handle)
	if r.Len() != 0 {
		t.Fatalf("expected 0 registered sessions after remove")
	}
}

// TestDispatcherFanOutMatchesRateOnly is scenario E2E-4: only the session
// whose samplingRate matches the chunk's capture rate receives bytes.
func TestDispatcherFanOutMatchesRateOnly(t *testing.T) {
	params := testParams(t)
	queue := audio.NewChunkQueue(4, params)
	registry := NewRegistry()
	d := NewDispatcher(queue, registry, nil, testLogger())

	x := &fakeSession{clientID: "X", samplingRate: 44100}
	y := &fakeSession{clientID: "Y", samplingRate: 48000}
	registry.Add(x)
	registry.Add(y)

	fillChunk(t, queue, []byte{1, 2, 3, 4}, 48000)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	go d.Run(ctx)
	<-ctx.Done()

	x.mu.Lock()
	xWritten := len(x.written)
	x.mu.Unlock()
	y.mu.Lock()
	yWritten := len(y.written)
	y.mu.Unlock()

	if xWritten != 0 {
		t.Fatalf("expected mismatched-rate session X to receive nothing, got %d writes", xWritten)
	}
	if yWritten != 1 {
		t.Fatalf("expected matching-rate session Y to receive one write, got %d", yWritten)
	}
}

func TestDispatcherClosesSessionOnWriteFailure(t *testing.T) {
	params := testParams(t)
	queue := audio.NewChunkQueue(4, params)
	registry := NewRegistry()
	d := NewDispatcher(queue, registry, nil, testLogger())

	failing := &fakeSession{clientID: "X", samplingRate: 48000, failing: true}
	registry.Add(failing)

	fillChunk(t, queue, []byte{1, 2, 3, 4}, 48000)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	d.Run(ctx)

	failing.mu.Lock()
	closed := failing.closed
	failing.mu.Unlock()
	if !closed {
		t.Fatalf("expected failing session to be closed by the dispatcher")
	}
}

func TestDispatcherStatsCountOverflow(t *testing.T) {
	params := testParams(t)
	queue := audio.NewChunkQueue(1, params)
	registry := NewRegistry()
	d := NewDispatcher(queue, registry, nil, testLogger())

	queue.Enqueue(func(c *audio.Chunk) bool { return true }, d.OnOverflow)
	queue.Enqueue(func(c *audio.Chunk) bool { return true }, d.OnOverflow)

	if got := d.Stats().Drops; got != 1 {
		t.Fatalf("Drops = %d, want 1", got)
	}
}
