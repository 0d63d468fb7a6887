// Package server wires the Capture Source, Chunk Queue, Dispatcher and
// Registry to the two TCP acceptors a SlimStreamer instance needs: the
// SlimProto control listener and the WAVE-over-HTTP streaming listener.
package server

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/heiderich/slimstreamer/internal/audio"
	"github.com/heiderich/slimstreamer/internal/hooks"
	"github.com/heiderich/slimstreamer/internal/logger"
	"github.com/heiderich/slimstreamer/internal/slimproto/dispatch"
	"github.com/heiderich/slimstreamer/internal/slimproto/session"
)

// Config describes everything a Server needs to bring the pipeline up.
type Config struct {
	Params            audio.Params
	QueueCapacity     int
	ControlListenAddr string
	StreamListenAddr  string
	// ServerPort is advertised to clients in STRM Start — the port they
	// should open their HTTP streaming connection back to. Ordinarily the
	// numeric port of StreamListenAddr.
	ServerPort uint16
	// DiagnosticsEvery enables periodic dispatcher diagnostics logging when
	// positive; zero disables it.
	DiagnosticsEvery time.Duration
}

// Server owns one capture pipeline and its two TCP acceptors. Callers
// construct one with New, then call ListenAndServe, which blocks until ctx
// is cancelled and then runs the shutdown order spec.md §5 describes: stop
// the Capture Source, drain the Dispatcher, stop every Control Session,
// close every Streaming Session.
type Server struct {
	cfg     Config
	hookMgr *hooks.Manager
	log     *slog.Logger

	capture  *audio.CaptureSource
	queue    *audio.ChunkQueue
	registry *dispatch.Registry
	disp     *dispatch.Dispatcher

	controlLn net.Listener
	streamLn  net.Listener

	mu       sync.Mutex
	controls map[*session.ControlSession]struct{}

	ready chan struct{}
	wg    sync.WaitGroup
}

// New wires a Server around device. hookMgr may be nil.
func New(cfg Config, device audio.Device, hookMgr *hooks.Manager, log *slog.Logger) *Server {
	queue := audio.NewChunkQueue(cfg.QueueCapacity, cfg.Params)
	registry := dispatch.NewRegistry()
	disp := dispatch.NewDispatcher(queue, registry, hookMgr, log)
	return &Server{
		cfg:      cfg,
		hookMgr:  hookMgr,
		log:      logger.WithComponent(log, "server"),
		capture:  audio.NewCaptureSource(device, cfg.Params, queue),
		queue:    queue,
		registry: registry,
		disp:     disp,
		controls: make(map[*session.ControlSession]struct{}),
		ready:    make(chan struct{}),
	}
}

// Ready is closed once both listeners are bound, before ListenAndServe
// starts accepting. Useful for tests that need the ephemeral ports assigned
// by "addr:0" before dialing in.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// ControlAddr returns the bound control listener address. Only valid after
// Ready is closed.
func (s *Server) ControlAddr() net.Addr { return s.controlLn.Addr() }

// StreamAddr returns the bound stream listener address. Only valid after
// Ready is closed.
func (s *Server) StreamAddr() net.Addr { return s.streamLn.Addr() }

// ListenAndServe opens both listeners, starts the capture pipeline, and
// serves until ctx is cancelled. It always returns after a clean shutdown;
// listener setup failures are returned immediately.
func (s *Server) ListenAndServe(ctx context.Context) error {
	var err error
	s.controlLn, err = net.Listen("tcp", s.cfg.ControlListenAddr)
	if err != nil {
		return fmt.Errorf("server: control listen: %w", err)
	}
	s.streamLn, err = net.Listen("tcp", s.cfg.StreamListenAddr)
	if err != nil {
		_ = s.controlLn.Close()
		return fmt.Errorf("server: stream listen: %w", err)
	}
	close(s.ready)

	if err := s.capture.Open(); err != nil {
		_ = s.controlLn.Close()
		_ = s.streamLn.Close()
		return err
	}

	captureDone := make(chan error, 1)
	go func() { captureDone <- s.capture.Start(s.disp.OnOverflow) }()

	dispCtx, dispCancel := context.WithCancel(context.Background())
	defer dispCancel()
	go s.disp.Run(dispCtx)
	if s.cfg.DiagnosticsEvery > 0 {
		go s.disp.RunDiagnostics(dispCtx, s.cfg.DiagnosticsEvery)
	}

	s.wg.Add(2)
	go func() { defer s.wg.Done(); s.acceptControl(ctx) }()
	go func() { defer s.wg.Done(); s.acceptStream(ctx) }()

	s.log.Info("server listening",
		"control_addr", s.cfg.ControlListenAddr,
		"stream_addr", s.cfg.StreamListenAddr)

	<-ctx.Done()
	s.log.Info("shutdown requested")

	_ = s.controlLn.Close()
	_ = s.streamLn.Close()

	if err := s.capture.Stop(true); err != nil {
		s.log.Warn("capture stop failed", "error", err)
	}
	if err := <-captureDone; err != nil {
		s.log.Warn("capture loop exited with error", "error", err)
	}
	_ = s.capture.Close()

	for s.queue.Available() > 0 {
		time.Sleep(time.Millisecond)
	}
	dispCancel()

	s.mu.Lock()
	controls := make([]*session.ControlSession, 0, len(s.controls))
	for cs := range s.controls {
		controls = append(controls, cs)
	}
	s.mu.Unlock()
	for _, cs := range controls {
		if err := cs.Shutdown(); err != nil {
			s.log.Warn("control session shutdown failed", "error", err)
		}
	}

	for _, sess := range s.registry.Snapshot() {
		_ = sess.Close()
	}

	s.wg.Wait()
	s.log.Info("server stopped")
	return nil
}

func (s *Server) acceptControl(ctx context.Context) {
	for {
		conn, err := s.controlLn.Accept()
		if err != nil {
			if ctx.Err() == nil {
				s.log.Warn("control accept failed", "error", err)
			}
			return
		}
		cs := session.NewControlSession(conn, s.cfg.Params, s.cfg.ServerPort, s.hookMgr, s.log)
		s.trackControl(cs)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrackControl(cs)
			if err := cs.Run(); err != nil {
				s.log.Warn("control session ended with error", "error", err)
			}
		}()
	}
}

func (s *Server) trackControl(cs *session.ControlSession) {
	s.mu.Lock()
	s.controls[cs] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrackControl(cs *session.ControlSession) {
	s.mu.Lock()
	delete(s.controls, cs)
	s.mu.Unlock()
}

// findReadyControl returns the Ready Control Session bound to clientID, if
// any. Iterating the live set is appropriate here: lookups happen once per
// HTTP streaming connection, not on any hot path.
func (s *Server) findReadyControl(clientID string) (*session.ControlSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for cs := range s.controls {
		if cs.State() == session.Ready && cs.ClientID() == clientID {
			return cs, true
		}
	}
	return nil, false
}

func (s *Server) acceptStream(ctx context.Context) {
	for {
		conn, err := s.streamLn.Accept()
		if err != nil {
			if ctx.Err() == nil {
				s.log.Warn("stream accept failed", "error", err)
			}
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleStreamConn(conn)
		}()
	}
}

// handleStreamConn implements spec.md §4.5: parse the request line for
// `GET /stream.pcm?player=<clientID>`, require a matching Ready Control
// Session, then hand the connection to a new Streaming Session registered
// with the Dispatcher. A missing or unmatched client closes the connection
// with a 404 and creates no session.
func (s *Server) handleStreamConn(conn net.Conn) {
	reader := bufio.NewReader(conn)
	requestLine, err := reader.ReadString('\n')
	if err != nil {
		s.log.Warn("stream request read failed", "error", err)
		_ = conn.Close()
		return
	}
	for {
		line, err := reader.ReadString('\n')
		if err != nil || strings.TrimSpace(line) == "" {
			break
		}
	}

	query, ok := parseStreamQuery(requestLine)
	if !ok {
		s.log.Warn("malformed stream request line", "line", strings.TrimSpace(requestLine))
		writeNotFound(conn)
		_ = conn.Close()
		return
	}
	clientID := session.ParseClientID(query)
	if clientID == "" {
		writeNotFound(conn)
		_ = conn.Close()
		return
	}

	cs, ok := s.findReadyControl(clientID)
	if !ok {
		s.log.Warn("stream request with no matching ready control session", "client_id", clientID)
		writeNotFound(conn)
		_ = conn.Close()
		return
	}

	ss, err := session.NewStreamingSession(conn, clientID, s.cfg.Params.SamplingRate, s.cfg.Params, s.log)
	if err != nil {
		s.log.Warn("failed to construct streaming session", "client_id", clientID, "error", err)
		_ = conn.Close()
		return
	}
	handle := s.registry.Add(ss)
	if s.hookMgr != nil {
		s.hookMgr.Fire(hooks.StreamBegin, hooks.Payload{
			"client_id":     clientID,
			"sampling_rate": s.cfg.Params.SamplingRate,
			"control_state": cs.State().String(),
		})
	}

	// The streaming connection is write-only from our side; this read only
	// exists to detect the client closing it so the registration can be
	// released and StreamEnd fired.
	discard := make([]byte, 1)
	for {
		if _, err := conn.Read(discard); err != nil {
			break
		}
	}
	s.registry.Remove(handle)
	_ = ss.Close()
	if s.hookMgr != nil {
		s.hookMgr.Fire(hooks.StreamEnd, hooks.Payload{"client_id": clientID})
	}
}

func parseStreamQuery(requestLine string) (string, bool) {
	fields := strings.Fields(requestLine)
	if len(fields) < 2 || fields[0] != "GET" {
		return "", false
	}
	const prefix = "/stream.pcm?"
	target := fields[1]
	if !strings.HasPrefix(target, prefix) {
		return "", false
	}
	return target[len(prefix):], true
}

func writeNotFound(conn net.Conn) {
	_, _ = io.WriteString(conn, "HTTP/1.1 404 Not Found\r\nConnection: close\r\n\r\n")
}
