package session

import (
	stderrors "errors"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/heiderich/slimstreamer/internal/audio"
	sserrors "github.com/heiderich/slimstreamer/internal/errors"
	"github.com/heiderich/slimstreamer/internal/hooks"
	"github.com/heiderich/slimstreamer/internal/logger"
	"github.com/heiderich/slimstreamer/internal/slimproto/control"
)

// ControlState is the Control Session state machine's current state.
type ControlState uint8

const (
	AwaitingHelo ControlState = iota
	Ready
	Closing
	Closed
)

func (s ControlState) String() string {
	switch s {
	case AwaitingHelo:
		return "awaiting_helo"
	case Ready:
		return "ready"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// ControlSession is the per-client state machine running over one accepted
// TCP control connection. It awaits HELO, emits exactly one STRM Start,
// tracks client state through STAT/RESP, and emits at most one STRM Stop on
// shutdown.
type ControlSession struct {
	conn       net.Conn
	params     audio.Params
	serverPort uint16
	hookMgr    *hooks.Manager
	log        *slog.Logger

	mu           sync.Mutex
	state        ControlState
	clientID     string
	startEmitted bool
	stopEmitted  bool
}

// NewControlSession wraps an accepted control connection. hookMgr may be nil.
func NewControlSession(conn net.Conn, params audio.Params, serverPort uint16, hookMgr *hooks.Manager, log *slog.Logger) *ControlSession {
	return &ControlSession{
		conn:       conn,
		params:     params,
		serverPort: serverPort,
		hookMgr:    hookMgr,
		log:        logger.WithComponent(log, "control_session"),
		state:      AwaitingHelo,
	}
}

// State returns the current state. Safe for concurrent use.
func (c *ControlSession) State() ControlState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ClientID returns the clientID recorded from HELO, or "" before that.
func (c *ControlSession) ClientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

// Run reads and handles frames until the connection is closed or Shutdown
// is called from another goroutine. It returns nil on a clean EOF.
func (c *ControlSession) Run() error {
	for {
		frame, err := readClientFrame(c.conn)
		if err != nil {
			if stderrors.Is(err, io.EOF) {
				c.transitionClosed()
				return nil
			}
			var pd *sserrors.ProtocolDecodeError
			if stderrors.As(err, &pd) {
				c.log.Warn("closing control session on decode error", "error", err)
				c.transitionClosed()
				return err
			}
			return err
		}
		if err := c.handleFrame(frame); err != nil {
			return err
		}
	}
}

func (c *ControlSession) handleFrame(frame *control.ClientFrame) error {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	switch state {
	case AwaitingHelo:
		if frame.Opcode != control.OpcodeHELO {
			c.log.Debug("ignoring frame while awaiting HELO", "opcode", string(frame.Opcode))
			return nil
		}
		return c.onHelo(frame.HELO)

	case Ready:
		switch frame.Opcode {
		case control.OpcodeSTAT:
			c.log.Info("client status", "event", frame.STAT.Event, "elapsed_ms", frame.STAT.ElapsedMillis)
		case control.OpcodeRESP:
			c.log.Debug("client response headers", "bytes", len(frame.RESP.Raw))
		default:
			c.log.Debug("unexpected frame in Ready state", "opcode", string(frame.Opcode))
		}
		return nil

	default:
		return nil
	}
}

func (c *ControlSession) onHelo(h *control.HELOFrame) error {
	c.mu.Lock()
	c.clientID = h.ClientID
	c.state = Ready
	c.mu.Unlock()

	c.log = logger.WithClient(c.log, h.ClientID, c.conn.RemoteAddr().String())
	c.log.Info("client ready", "device_id", h.DeviceID, "revision", h.Revision)
	if c.hookMgr != nil {
		c.hookMgr.Fire(hooks.ClientConnected, hooks.Payload{"client_id": h.ClientID})
	}

	wire := control.EncodeSTRM(control.CommandStart, c.serverPort, c.params.SamplingRate, h.ClientID)
	// The Start write and startEmitted change under one lock, so a concurrent
	// Shutdown either runs before Start is written or sees it as emitted.
	c.mu.Lock()
	_, err := c.conn.Write(wire)
	if err == nil {
		c.startEmitted = true
	}
	c.mu.Unlock()
	if err != nil {
		return sserrors.NewTransportError("control.strm_start", err)
	}
	return nil
}

// Shutdown emits STRM Stop (if Start was previously emitted and Stop has
// not already been sent), half-closes the writer side, then closes the
// connection.
func (c *ControlSession) Shutdown() error {
	c.mu.Lock()
	if c.state == Closed || c.state == Closing {
		c.mu.Unlock()
		return nil
	}
	shouldStop := c.startEmitted && !c.stopEmitted
	clientID := c.clientID
	c.state = Closing
	c.mu.Unlock()

	if shouldStop {
		wire := control.EncodeSTRM(control.CommandStop, 0, c.params.SamplingRate, "")
		if _, err := c.conn.Write(wire); err != nil {
			c.log.Warn("failed writing STRM Stop", "error", err)
		}
		c.mu.Lock()
		c.stopEmitted = true
		c.mu.Unlock()
	}

	if hc, ok := c.conn.(interface{ CloseWrite() error }); ok {
		_ = hc.CloseWrite()
	}
	if c.hookMgr != nil && clientID != "" {
		c.hookMgr.Fire(hooks.ClientDisconnected, hooks.Payload{"client_id": clientID})
	}
	c.transitionClosed()
	return c.conn.Close()
}

func (c *ControlSession) transitionClosed() {
	c.mu.Lock()
	c.state = Closed
	c.mu.Unlock()
}

// readClientFrame reads one size-prefixed client frame from r.
func readClientFrame(r io.Reader) (*control.ClientFrame, error) {
	header := make([]byte, 2)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	size := int(header[0])<<8 | int(header[1])
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	full := append(header, payload...)
	frame, _, err := control.DecodeClient(full)
	return frame, err
}
