package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/hypertcpio/hypertcp/internal/wire"
)

// State is the connection's position in the UNAUTH -> AUTH_DEVICE |
// AUTH_ADMIN -> CLOSED state machine.
type State uint32

const (
	// StateUnauth is the initial state: no LOGIN has succeeded yet.
	StateUnauth State = iota

	// StateAuthDevice is a routable device connection.
	StateAuthDevice

	// StateAuthAdmin is an administrative connection attached to the
	// event feed.
	StateAuthAdmin

	// StateClosed marks a connection whose Run loop has returned.
	StateClosed
)

// String returns the human-readable state name.
func (s State) String() string {
	switch s {
	case StateUnauth:
		return "UNAUTH"
	case StateAuthDevice:
		return "AUTH_DEVICE"
	case StateAuthAdmin:
		return "AUTH_ADMIN"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Transport is the subset of net.Conn a Session depends on, narrowed so
// tests can substitute an in-memory pipe.
type Transport interface {
	io.Reader
	io.Writer
	io.Closer
	RemoteAddr() net.Addr
	SetReadDeadline(t time.Time) error
}

// Dispatcher handles frames decoded off the wire and is notified when
// the session closes. Session owns transport, framing and state;
// Dispatcher (internal/broker) owns what a frame means — login
// classification, routing, broadcast.
type Dispatcher interface {
	// Dispatch handles one decoded frame. A returned error terminates
	// the session's read loop.
	Dispatch(ctx context.Context, s *Session, h wire.Header, payload []byte) error

	// Closed is called exactly once, after the read loop exits, so the
	// dispatcher can deregister the session and emit lifecycle events.
	Closed(s *Session)
}

// MetricsReporter receives session lifecycle and traffic counters. A
// noopMetrics value is used when none is configured.
type MetricsReporter interface {
	ConnectionOpened(role string)
	ConnectionClosed(role string)
	FrameReceived()
	FrameSent()
	FrameDropped()
}

type noopMetrics struct{}

func (noopMetrics) ConnectionOpened(string) {}
func (noopMetrics) ConnectionClosed(string) {}
func (noopMetrics) FrameReceived()          {}
func (noopMetrics) FrameSent()              {}
func (noopMetrics) FrameDropped()           {}

// writeChSize bounds the outbound mailbox. Sized well above a single
// burst of routed traffic; a peer slow enough to fill it is treated as
// unreachable and further frames for it are dropped rather than
// blocking the connection's single writer goroutine indefinitely.
const writeChSize = 256

type writeItem struct {
	t       wire.Type
	msgID   uint16
	payload []byte
}

// Option configures optional Session parameters.
type Option func(*Session)

// WithMetrics attaches a MetricsReporter. A nil mr is ignored.
func WithMetrics(mr MetricsReporter) Option {
	return func(s *Session) {
		if mr != nil {
			s.metrics = mr
		}
	}
}

// WithIdleTimeout sets a read deadline refreshed before every frame
// read. Zero (the default) disables the deadline, matching the
// reference server's behavior of never timing out an idle connection.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Session) {
		s.idleTimeout = d
	}
}

// Session is one HyperTCP connection. All mutable state reachable from
// outside the Run goroutine is atomic; the read loop and the single
// writer goroutine are the only code that touches the transport.
type Session struct {
	transport   Transport
	dispatcher  Dispatcher
	logger      *slog.Logger
	metrics     MetricsReporter
	idleTimeout time.Duration

	id          atomic.Pointer[string]
	state       atomic.Uint32
	connectedAt time.Time
	remoteAddr  string

	framesSent     atomic.Uint64
	framesReceived atomic.Uint64
	framesDropped  atomic.Uint64

	writeCh chan writeItem
	closed  atomic.Bool
}

// New creates a Session for an accepted transport, identified initially
// by tempID (a registry.ConnIDAllocator value) until LOGIN promotes it
// to a device id or admin identity.
func New(transport Transport, tempID string, dispatcher Dispatcher, logger *slog.Logger, opts ...Option) *Session {
	s := &Session{
		transport:   transport,
		dispatcher:  dispatcher,
		logger:      logger.With(slog.String("component", "session"), slog.String("conn_id", tempID)),
		metrics:     noopMetrics{},
		connectedAt: time.Now(),
		remoteAddr:  transport.RemoteAddr().String(),
		writeCh:     make(chan writeItem, writeChSize),
	}
	s.id.Store(&tempID)

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// ID returns the connection's current identifier: the temporary
// connection id before LOGIN, or the device/admin id afterward.
func (s *Session) ID() string { return *s.id.Load() }

// SetID updates the connection's identifier, called by the dispatcher
// once LOGIN assigns a device id.
func (s *Session) SetID(id string) { s.id.Store(&id) }

// RemoteAddr returns the peer's "host:port" string.
func (s *Session) RemoteAddr() string { return s.remoteAddr }

// ConnectedAt returns when the session was constructed.
func (s *Session) ConnectedAt() time.Time { return s.connectedAt }

// State returns the current connection state.
func (s *Session) State() State { return State(s.state.Load()) }

// SetState transitions the connection to a new state.
func (s *Session) SetState(st State) { s.state.Store(uint32(st)) }

// FramesSent, FramesReceived and FramesDropped report lifetime counters.
func (s *Session) FramesSent() uint64     { return s.framesSent.Load() }
func (s *Session) FramesReceived() uint64 { return s.framesReceived.Load() }
func (s *Session) FramesDropped() uint64  { return s.framesDropped.Load() }

// Send enqueues a frame on the outbound mailbox. Non-blocking: if the
// mailbox is full the frame is dropped and counted, never blocking the
// caller (typically the router, fanning out to many sessions at once).
func (s *Session) Send(t wire.Type, msgID uint16, payload []byte) error {
	select {
	case s.writeCh <- writeItem{t: t, msgID: msgID, payload: payload}:
		return nil
	default:
		s.framesDropped.Add(1)
		s.metrics.FrameDropped()
		s.logger.Warn("outbound mailbox full, dropping frame",
			slog.String("type", t.String()),
		)
		return fmt.Errorf("session %s: outbound mailbox full", s.ID())
	}
}

// Close closes the underlying transport. The read loop observes the
// resulting error and unwinds; Close itself does not wait for that.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.transport.Close()
}

// Run drives the session until the transport closes or ctx is
// cancelled: it starts the writer goroutine, then reads and dispatches
// frames until the read loop errors out, and finally notifies the
// dispatcher exactly once.
func (s *Session) Run(ctx context.Context) {
	writerCtx, stopWriter := context.WithCancel(ctx)
	defer stopWriter()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.runWriter(writerCtx)
	}()

	s.runReader(ctx)

	s.SetState(StateClosed)
	_ = s.Close()

	stopWriter()
	<-writerDone
	s.dispatcher.Closed(s)
}

func (s *Session) runReader(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		if s.idleTimeout > 0 {
			if err := s.transport.SetReadDeadline(time.Now().Add(s.idleTimeout)); err != nil {
				s.logger.Warn("set read deadline", slog.String("error", err.Error()))
			}
		}

		h, payload, err := wire.ReadFrame(s.transport)
		if err != nil {
			if !errors.Is(err, wire.ErrEOF) {
				s.logger.Debug("read loop ended", slog.String("error", err.Error()))
			}
			return
		}

		s.framesReceived.Add(1)
		s.metrics.FrameReceived()

		dispatchErr := s.dispatcher.Dispatch(ctx, s, h, *payload)
		wire.PutPayloadBuf(payload)

		if dispatchErr != nil {
			s.logger.Warn("dispatch error, closing connection",
				slog.String("type", h.Type.String()),
				slog.String("error", dispatchErr.Error()),
			)
			return
		}
	}
}

func (s *Session) runWriter(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-s.writeCh:
			if !ok {
				return
			}
			if err := wire.WriteFrame(s.transport, item.t, item.msgID, item.payload); err != nil {
				s.logger.Debug("write failed, closing connection",
					slog.String("error", err.Error()))
				_ = s.Close()
				return
			}
			s.framesSent.Add(1)
			s.metrics.FrameSent()
		}
	}
}
