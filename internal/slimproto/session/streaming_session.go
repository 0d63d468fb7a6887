// Package session implements the two per-client state machines: the
// Control Session (SlimProto TCP) and the Streaming Session (WAVE-over-HTTP).
package session

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/heiderich/slimstreamer/internal/audio"
	"github.com/heiderich/slimstreamer/internal/logger"
	"github.com/heiderich/slimstreamer/internal/wave"
)

const serverVersion = "0.1.0"

// StreamingSession is the per-client HTTP response carrying a WAVE-wrapped
// PCM stream. Construction writes the HTTP response head and the WAVE
// header; OnChunk writes PCM payload for every chunk whose sampling rate
// matches.
type StreamingSession struct {
	conn         io.WriteCloser
	clientID     string
	samplingRate int
	wave         *wave.Writer
	log          *slog.Logger

	mu     sync.Mutex
	closed bool
}

// NewStreamingSession writes the HTTP response head and WAVE header to conn
// and returns a session ready to receive chunks. samplingRate is the
// negotiated rate this client expects; params describes the capture format
// used to build the WAVE header.
func NewStreamingSession(conn io.WriteCloser, clientID string, samplingRate int, params audio.Params, log *slog.Logger) (*StreamingSession, error) {
	s := &StreamingSession{
		conn:         conn,
		clientID:     clientID,
		samplingRate: samplingRate,
		wave:         wave.NewWriter(conn, params),
		log:          logger.WithComponent(logger.WithClient(log, clientID, ""), "streaming_session"),
	}

	head := "HTTP/1.1 200 OK\r\n" +
		fmt.Sprintf("Server: SlimStreamer (%s)\r\n", serverVersion) +
		"Connection: close\r\n" +
		"Content-Type: audio/x-wave\r\n" +
		"\r\n"
	if _, err := io.WriteString(conn, head); err != nil {
		return nil, err
	}
	if err := s.wave.WriteHeader(); err != nil {
		return nil, err
	}
	s.log.Info("streaming session created", "sampling_rate", samplingRate)
	return s, nil
}

// ClientID returns the client this session was created for.
func (s *StreamingSession) ClientID() string { return s.clientID }

// SamplingRate returns the rate this session negotiated.
func (s *StreamingSession) SamplingRate() int { return s.samplingRate }

// OnChunk writes chunk's payload if sr matches this session's negotiated
// rate; otherwise it drops the chunk and logs a warning. A write failure
// closes the session and is returned to the caller (the dispatcher). The
// session stays registered until whoever added it removes it.
func (s *StreamingSession) OnChunk(chunk *audio.Chunk, sr int) error {
	if sr != s.samplingRate {
		s.log.Warn("dropping chunk: sampling rate mismatch", "capture_rate", sr, "session_rate", s.samplingRate)
		return nil
	}
	if _, err := s.wave.Write(chunk.Bytes()); err != nil {
		_ = s.Close()
		return err
	}
	return nil
}

// Close flushes (nothing buffered, so this is a no-op flush) and closes the
// underlying connection. Safe to call more than once.
func (s *StreamingSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.log.Info("streaming session closed")
	return s.conn.Close()
}

// ParseClientID extracts the substring after the first '=' in an HTTP
// request's query string (e.g. "player=AA:BB:CC:DD:EE:FF" -> the MAC
// string). URL-decoding is intentionally not performed: the known client
// vocabulary never needs it.
func ParseClientID(query string) string {
	idx := strings.IndexByte(query, '=')
	if idx < 0 {
		return ""
	}
	return query[idx+1:]
}
