package server

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"net"
	"strings"
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

// fakeDevice plays back a fixed sequence of reads, then reports
// ErrDeviceStopped, mirroring the capture package's own test double. If
// gate is set, the first read blocks until gate is closed.
type fakeDevice struct {
	reads      [][]byte
	framesEach []int
	pos        int
	gate       chan struct{}
}

func (d *fakeDevice) Open() error  { return nil }
func (d *fakeDevice) Start() error { return nil }
func (d *fakeDevice) Drain() error { return nil }
func (d *fakeDevice) Drop() error  { return nil }
func (d *fakeDevice) Close() error { return nil }
func (d *fakeDevice) Recover(error) bool { return false }

func (d *fakeDevice) ReadInterleaved(buf []byte, maxFrames int) (int, error) {
	if d.gate != nil {
		<-d.gate
	}
	if d.pos >= len(d.reads) {
		return 0, audio.ErrDeviceStopped
	}
	n := copy(buf, d.reads[d.pos])
	_ = n
	frames := d.framesEach[d.pos]
	d.pos++
	return frames, nil
}

func buildFrame(i int, marker byte) []byte {
	return []byte{byte(i), byte(i + 1), byte(i + 2), byte(i + 3), 0, marker}
}

func newTestServer(t *testing.T, dev *fakeDevice) (*Server, context.Context, context.CancelFunc) {
	t.Helper()
	cfg := Config{
		Params:            testParams(t),
		QueueCapacity:     4,
		ControlListenAddr: "127.0.0.1:0",
		StreamListenAddr:  "127.0.0.1:0",
		ServerPort:        0,
	}
	s := New(cfg, dev, nil, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx) }()

	select {
	case <-s.Ready():
	case err := <-done:
		t.Fatalf("server exited before becoming ready: %v", err)
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for server to become ready")
	}
	return s, ctx, cancel
}

func encodeHELO(clientID string) []byte {
	mac := []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}
	payload := append([]byte("HELO"), 0x0c, 0x02)
	payload = append(payload, mac...)
	out := make([]byte, 2+len(payload))
	binary.BigEndian.PutUint16(out[0:2], uint16(len(payload)))
	copy(out[2:], payload)
	return out
}

// TestStreamRequestWithoutReadyControlSessionIsRejected is scenario E2E-3: an
// HTTP streaming request with no prior matching HELO gets a 404 and creates
// no Streaming Session.
func TestStreamRequestWithoutReadyControlSessionIsRejected(t *testing.T) {
	dev := &fakeDevice{}
	s, _, cancel := newTestServer(t, dev)
	defer cancel()

	conn, err := net.Dial("tcp", s.StreamAddr().String())
	if err != nil {
		t.Fatalf("dial stream listener: %v", err)
	}
	defer conn.Close()

	if _, err := io.WriteString(conn, "GET /stream.pcm?player=AA:BB:CC:DD:EE:FF HTTP/1.1\r\n\r\n"); err != nil {
		t.Fatalf("write request: %v", err)
	}

	resp, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if !strings.Contains(resp, "404") {
		t.Fatalf("response status = %q, want 404", resp)
	}
	if s.registry.Len() != 0 {
		t.Fatalf("expected no registered session, got %d", s.registry.Len())
	}
}

// TestFullPipelineDeliversPCMToMatchingClient exercises HELO -> STRM Start ->
// matching HTTP streaming request -> WAVE header + PCM bytes delivered.
func TestFullPipelineDeliversPCMToMatchingClient(t *testing.T) {
	period := append([]byte{}, buildFrame(0, byte(audio.MarkerBeginningOfStream))...)
	for i := 1; i <= 8; i++ {
		period = append(period, buildFrame(i, byte(audio.MarkerData))...)
	}
	period = append(period, buildFrame(9, byte(audio.MarkerEndOfStream))...)

	// testParams reads at most 4 frames per call, so the 10-frame period is
	// delivered over three reads. The gate holds capture back until the
	// streaming session is registered, so no chunk is dispatched before it.
	gate := make(chan struct{})
	dev := &fakeDevice{
		reads:      [][]byte{period[:4*6], period[4*6 : 8*6], period[8*6:]},
		framesEach: []int{4, 4, 2},
		gate:       gate,
	}
	s, _, cancel := newTestServer(t, dev)
	defer cancel()

	controlConn, err := net.Dial("tcp", s.ControlAddr().String())
	if err != nil {
		t.Fatalf("dial control listener: %v", err)
	}
	defer controlConn.Close()

	if _, err := controlConn.Write(encodeHELO("AA:BB:CC:DD:EE:FF")); err != nil {
		t.Fatalf("write HELO: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := s.findReadyControl("AA:BB:CC:DD:EE:FF"); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for control session to become ready")
		}
		time.Sleep(time.Millisecond)
	}

	streamConn, err := net.Dial("tcp", s.StreamAddr().String())
	if err != nil {
		t.Fatalf("dial stream listener: %v", err)
	}
	defer streamConn.Close()

	if _, err := io.WriteString(streamConn, "GET /stream.pcm?player=AA:BB:CC:DD:EE:FF HTTP/1.1\r\n\r\n"); err != nil {
		t.Fatalf("write stream request: %v", err)
	}

	r := bufio.NewReader(streamConn)
	statusLine, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read status line: %v", err)
	}
	if !strings.Contains(statusLine, "200") {
		t.Fatalf("status line = %q, want 200", statusLine)
	}

	// Drain headers until the blank line, then read the WAVE header.
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read header line: %v", err)
		}
		if strings.TrimSpace(line) == "" {
			break
		}
	}

	wave := make([]byte, 44)
	if _, err := io.ReadFull(r, wave); err != nil {
		t.Fatalf("read wave header: %v", err)
	}
	if string(wave[0:4]) != "RIFF" {
		t.Fatalf("wave header magic = %q, want RIFF", wave[0:4])
	}

	deadline = time.Now().Add(2 * time.Second)
	for s.registry.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for streaming session registration")
		}
		time.Sleep(time.Millisecond)
	}
	close(gate)

	pcm := make([]byte, 4)
	if _, err := io.ReadFull(r, pcm); err != nil {
		t.Fatalf("read pcm payload: %v", err)
	}
	want := buildFrame(1, byte(audio.MarkerData))[:4]
	for i := range want {
		if pcm[i] != want[i] {
			t.Fatalf("pcm byte %d = %d, want %d", i, pcm[i], want[i])
		}
	}
}
