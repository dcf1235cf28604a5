package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/hypertcpio/hypertcp/internal/auth"
	"github.com/hypertcpio/hypertcp/internal/events"
	hypertcpmetrics "github.com/hypertcpio/hypertcp/internal/metrics"
	"github.com/hypertcpio/hypertcp/internal/registry"
	"github.com/hypertcpio/hypertcp/internal/router"
	"github.com/hypertcpio/hypertcp/internal/session"
	"github.com/hypertcpio/hypertcp/internal/wire"
)

// ErrUnauthenticatedFrame is returned from Dispatch to terminate a
// session that sent a non-LOGIN frame before authenticating.
var ErrUnauthenticatedFrame = errors.New("broker: frame received before authentication")

const (
	roleDevice = "device"
	roleAdmin  = "admin"
)

// identity is the broker's bookkeeping for one live session: the
// original connection id (stable for the session's lifetime, even once
// Session.ID() is promoted to a device id on login) plus whatever LOGIN
// established.
type identity struct {
	connID      string
	deviceID    string // the device id presented at LOGIN; set for both roles
	role        auth.Role
	authed      bool
	connectedAt time.Time
}

// Option configures optional Broker parameters.
type Option func(*Broker)

// WithIdleTimeout forwards an idle read deadline to every accepted
// session. Zero (the default) disables the deadline.
func WithIdleTimeout(d time.Duration) Option {
	return func(b *Broker) { b.idleTimeout = d }
}

// WithDrainTimeout bounds how long Run waits for in-flight sessions to
// close during graceful shutdown before giving up and returning anyway.
func WithDrainTimeout(d time.Duration) Option {
	return func(b *Broker) {
		if d > 0 {
			b.drainTimeout = d
		}
	}
}

// WithMetrics attaches a metrics collector. A nil collector leaves
// metrics disabled.
func WithMetrics(m *hypertcpmetrics.Collector) Option {
	return func(b *Broker) { b.metrics = m }
}

// Broker owns the TCP accept loop and implements internal/session's
// Dispatcher: it classifies LOGIN attempts, routes JSON_MESSAGE and
// BROADCAST frames, and keeps the routing registry and admin event feed
// in sync with connection lifecycle.
type Broker struct {
	addr string

	auth     auth.Authenticator
	registry *registry.Registry
	router   *router.Router
	events   *events.Feed
	connIDs  *registry.ConnIDAllocator
	metrics  *hypertcpmetrics.Collector

	idleTimeout  time.Duration
	drainTimeout time.Duration

	logger *slog.Logger

	mu       sync.Mutex
	sessions map[*session.Session]*identity
	wg       sync.WaitGroup
}

// New creates a Broker listening on addr, authenticating LOGIN attempts
// via authn and logging through logger.
func New(addr string, authn auth.Authenticator, logger *slog.Logger, opts ...Option) *Broker {
	logger = logger.With(slog.String("component", "broker"))
	reg := registry.New(logger)

	b := &Broker{
		addr:         addr,
		auth:         authn,
		registry:     reg,
		router:       router.New(reg, logger),
		events:       events.New(reg, logger),
		connIDs:      registry.NewConnIDAllocator(),
		drainTimeout: 10 * time.Second,
		logger:       logger,
		sessions:     make(map[*session.Session]*identity),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Listen binds the Broker's address, returning the listener so callers
// (notably tests) can observe the resolved address before Serve starts
// accepting.
func (b *Broker) Listen(ctx context.Context) (net.Listener, error) {
	lc := net.ListenConfig{Control: controlReuseAddr}
	ln, err := lc.Listen(ctx, "tcp", b.addr)
	if err != nil {
		return nil, fmt.Errorf("broker: listen on %s: %w", b.addr, err)
	}
	b.logger.Info("listening", slog.String("addr", ln.Addr().String()))
	return ln, nil
}

// Run listens on the Broker's address and serves it until ctx is
// cancelled. Equivalent to Listen followed by Serve.
func (b *Broker) Run(ctx context.Context) error {
	ln, err := b.Listen(ctx)
	if err != nil {
		return err
	}
	return b.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, at which
// point it stops accepting, asks every live session to close, and
// waits up to drainTimeout for them to finish.
func (b *Broker) Serve(ctx context.Context, ln net.Listener) error {
	acceptErrCh := make(chan error, 1)
	go func() {
		acceptErrCh <- b.acceptLoop(ctx, ln)
	}()

	select {
	case <-ctx.Done():
		_ = ln.Close()
		<-acceptErrCh
		b.drain()
		return nil
	case err := <-acceptErrCh:
		return err
	}
}

func (b *Broker) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("broker: accept: %w", err)
		}

		if tc, ok := conn.(*net.TCPConn); ok {
			if err := tc.SetNoDelay(true); err != nil {
				b.logger.Warn("set TCP_NODELAY", slog.String("error", err.Error()))
			}
		}

		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.handleConn(ctx, conn)
		}()
	}
}

// controlReuseAddr sets SO_REUSEADDR on the listening socket so a
// restarted broker can rebind its address immediately instead of
// waiting out TIME_WAIT.
func controlReuseAddr(_, _ string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return fmt.Errorf("raw conn control: %w", err)
	}
	return sockErr
}

// drain closes every still-tracked session and waits up to
// drainTimeout for their Run goroutines to observe the close and
// return, logging (but not blocking forever) if the deadline passes
// first.
func (b *Broker) drain() {
	b.mu.Lock()
	sessions := make([]*session.Session, 0, len(b.sessions))
	for s := range b.sessions {
		sessions = append(sessions, s)
	}
	b.mu.Unlock()

	for _, s := range sessions {
		_ = s.Close()
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(b.drainTimeout):
		b.logger.Warn("drain timeout exceeded, returning with sessions still closing",
			slog.Duration("timeout", b.drainTimeout),
		)
	}
}

func (b *Broker) handleConn(ctx context.Context, conn net.Conn) {
	host, port, err := splitHostPort(conn.RemoteAddr())
	if err != nil {
		b.logger.Warn("reject connection with unparseable remote addr",
			slog.String("error", err.Error()))
		_ = conn.Close()
		return
	}

	connID := b.connIDs.Allocate(host, port)

	var opts []session.Option
	if b.idleTimeout > 0 {
		opts = append(opts, session.WithIdleTimeout(b.idleTimeout))
	}
	if b.metrics != nil {
		opts = append(opts, session.WithMetrics(b.metrics))
	}

	s := session.New(conn, connID, b, b.logger, opts...)

	b.mu.Lock()
	b.sessions[s] = &identity{connID: connID, connectedAt: s.ConnectedAt()}
	b.mu.Unlock()

	s.Run(ctx)
}

func splitHostPort(addr net.Addr) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("parse port %q: %w", portStr, err)
	}
	return host, port, nil
}

// -------------------------------------------------------------------------
// session.Dispatcher
// -------------------------------------------------------------------------

// Dispatch implements session.Dispatcher.
func (b *Broker) Dispatch(ctx context.Context, s *session.Session, h wire.Header, payload []byte) error {
	if b.metrics != nil {
		b.metrics.IncFramesReceived(h.Type.String())
	}

	if h.Type == wire.TypeLogin {
		return b.handleLogin(s, h, payload)
	}

	if s.State() == session.StateUnauth {
		return b.closeUnauthenticated(s, h)
	}

	switch h.Type {
	case wire.TypePing:
		return b.handlePing(s, h)
	case wire.TypeJSONMessage:
		return b.handleJSONMessage(s, h, payload)
	case wire.TypeBroadcast:
		return b.handleBroadcast(s, h, payload)
	case wire.TypeResponse:
		return nil
	default:
		return b.replyInvalidCommand(s, h)
	}
}

// Closed implements session.Dispatcher. It is called exactly once per
// session, after its Run loop has returned.
func (b *Broker) Closed(s *session.Session) {
	b.mu.Lock()
	id, ok := b.sessions[s]
	delete(b.sessions, s)
	b.mu.Unlock()

	if !ok {
		return
	}

	b.connIDs.Release(id.connID)

	if !id.authed {
		return
	}

	switch id.role {
	case auth.RoleDevice:
		b.registry.UnregisterDevice(id.deviceID, id.connID)
		b.events.DeviceDisconnected(id.deviceID, id.connID, id.connectedAt)
		if b.metrics != nil {
			b.metrics.ConnectionClosed(roleDevice)
		}
	case auth.RoleAdmin:
		b.registry.UnregisterAdmin(id.connID)
		if b.metrics != nil {
			b.metrics.ConnectionClosed(roleAdmin)
		}
	}
}

// -------------------------------------------------------------------------
// LOGIN
// -------------------------------------------------------------------------

type loginPayload struct {
	Token    string `json:"token"`
	DeviceID string `json:"device_id"`
}

// parseLoginPayload decodes a LOGIN frame's payload. If the payload
// parses as JSON with a non-empty token it yields the token and device
// id carried within, defaulting an empty device id to tempID. Otherwise
// (not JSON, or JSON without a token) the entire payload is treated as
// the raw token, with tempID as the device id.
func parseLoginPayload(payload []byte, tempID string) (token, deviceID string) {
	var p loginPayload
	if err := json.Unmarshal(payload, &p); err == nil && p.Token != "" {
		deviceID = p.DeviceID
		if deviceID == "" {
			deviceID = tempID
		}
		return p.Token, deviceID
	}

	return string(payload), tempID
}

func (b *Broker) handleLogin(s *session.Session, h wire.Header, payload []byte) error {
	if s.State() != session.StateUnauth {
		return b.replyInvalidCommand(s, h)
	}

	connID := s.ID()
	token, deviceID := parseLoginPayload(payload, connID)

	role, err := b.auth.Authenticate(deviceID, token)
	if err != nil {
		if b.metrics != nil {
			b.metrics.IncAuthFailures()
		}
		if sendErr := s.Send(wire.TypeResponse, h.MsgID, []byte{byte(wire.StatusInvalidToken)}); sendErr != nil {
			b.logger.Warn("send invalid token response", slog.String("error", sendErr.Error()))
		}
		return fmt.Errorf("login rejected for device id %q: %w", deviceID, err)
	}

	switch role {
	case auth.RoleAdmin:
		b.completeAdminLogin(s, h, connID, deviceID)
	default:
		b.completeDeviceLogin(s, h, connID, deviceID)
	}
	return nil
}

func (b *Broker) completeDeviceLogin(s *session.Session, h wire.Header, connID, deviceID string) {
	s.SetState(session.StateAuthDevice)
	b.setIdentity(s, connID, deviceID, auth.RoleDevice)

	b.registry.RegisterDevice(deviceID, connID, s)
	s.SetID(deviceID)

	if err := s.Send(wire.TypeResponse, h.MsgID, []byte{byte(wire.StatusSuccess)}); err != nil {
		b.logger.Warn("send login success response", slog.String("error", err.Error()))
	}
	b.sendWelcome(s, connID)

	b.events.DeviceConnected(deviceID, connID)

	if b.metrics != nil {
		b.metrics.ConnectionOpened(roleDevice)
	}
}

func (b *Broker) completeAdminLogin(s *session.Session, h wire.Header, connID, deviceID string) {
	s.SetState(session.StateAuthAdmin)
	b.setIdentity(s, connID, deviceID, auth.RoleAdmin)

	b.registry.RegisterAdmin(connID, s)

	if err := s.Send(wire.TypeResponse, h.MsgID, []byte{byte(wire.StatusSuccess)}); err != nil {
		b.logger.Warn("send login success response", slog.String("error", err.Error()))
	}
	b.sendWelcome(s, connID)

	// Snapshot before any live event this admin could otherwise observe
	// out of order: SnapshotFor takes the registry lock once, and must
	// complete before the lock-free lifecycle events below are emitted
	// to the full admin set (including this one).
	b.events.SnapshotFor(s)

	if b.metrics != nil {
		b.metrics.ConnectionOpened(roleAdmin)
	}
}

func (b *Broker) setIdentity(s *session.Session, connID, deviceID string, role auth.Role) {
	b.mu.Lock()
	if id, ok := b.sessions[s]; ok {
		id.deviceID = deviceID
		id.role = role
		id.authed = true
	}
	b.mu.Unlock()
}

type welcomeMessage struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	ClientID  string `json:"clientId"`
	Timestamp int64  `json:"timestamp"`
}

func (b *Broker) sendWelcome(s *session.Session, connID string) {
	body, err := json.Marshal(welcomeMessage{
		Type:      "welcome",
		Message:   "Connected to HyperTCP server",
		ClientID:  connID,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		b.logger.Error("marshal welcome message", slog.String("error", err.Error()))
		return
	}
	if err := s.Send(wire.TypeJSONMessage, 0, body); err != nil {
		b.logger.Warn("send welcome message", slog.String("error", err.Error()))
	}
}

// -------------------------------------------------------------------------
// PING, JSON_MESSAGE, BROADCAST
// -------------------------------------------------------------------------

func (b *Broker) handlePing(s *session.Session, h wire.Header) error {
	if err := s.Send(wire.TypeResponse, h.MsgID, nil); err != nil {
		b.logger.Warn("send ping ack", slog.String("error", err.Error()))
	}
	return nil
}

func (b *Broker) handleJSONMessage(s *session.Session, h wire.Header, payload []byte) error {
	var env router.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		b.logger.Info("dropping unparsable JSON_MESSAGE payload",
			slog.String("conn_id", s.ID()),
			slog.String("error", err.Error()),
		)
		return nil
	}

	b.router.Route(b.identityFor(s), env)

	if body, ok := buildPong(env.Payload); ok {
		if err := s.Send(wire.TypeJSONMessage, 0, body); err != nil {
			b.logger.Warn("send pong reply", slog.String("error", err.Error()))
		}
	}

	if err := s.Send(wire.TypeResponse, h.MsgID, nil); err != nil {
		b.logger.Warn("send json_message ack", slog.String("error", err.Error()))
	}
	return nil
}

func (b *Broker) handleBroadcast(s *session.Session, h wire.Header, payload []byte) error {
	var env router.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		b.logger.Info("dropping unparsable BROADCAST payload",
			slog.String("conn_id", s.ID()),
			slog.String("error", err.Error()),
		)
		return nil
	}

	b.router.Broadcast(b.identityFor(s), env)

	if err := s.Send(wire.TypeResponse, h.MsgID, nil); err != nil {
		b.logger.Warn("send broadcast ack", slog.String("error", err.Error()))
	}
	return nil
}

// identityFor returns the device id a session presented at LOGIN, used
// as the sender identity stamped onto routed envelopes. Falls back to
// the session's current displayed id, which should not happen for an
// authenticated session but keeps routing from stamping an empty from.
func (b *Broker) identityFor(s *session.Session) string {
	b.mu.Lock()
	id, ok := b.sessions[s]
	b.mu.Unlock()

	if !ok || id.deviceID == "" {
		return s.ID()
	}
	return id.deviceID
}

// buildPong recognizes the JSON_MESSAGE ping convention: a payload
// object carrying "command":"ping" gets an unsolicited pong reply, sent
// in addition to the frame's normal RESPONSE ack, echoing every field
// of the original payload with type/command overwritten to "pong" and a
// fresh timestamp added.
func buildPong(payload json.RawMessage) ([]byte, bool) {
	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, false
	}

	cmd, _ := fields["command"].(string)
	if cmd != "ping" {
		return nil, false
	}

	fields["type"] = "pong"
	fields["command"] = "pong"
	fields["timestamp"] = time.Now().UnixMilli()

	body, err := json.Marshal(fields)
	if err != nil {
		return nil, false
	}
	return body, true
}

// -------------------------------------------------------------------------
// Unauthenticated / unrecognized frames
// -------------------------------------------------------------------------

// closeUnauthenticated answers NOT_AUTHENTICATED before terminating the
// session, matching a non-LOGIN frame's handling in the UNAUTH state.
func (b *Broker) closeUnauthenticated(s *session.Session, h wire.Header) error {
	if err := s.Send(wire.TypeResponse, h.MsgID, []byte{byte(wire.StatusNotAuthenticated)}); err != nil {
		b.logger.Debug("send not-authenticated response", slog.String("error", err.Error()))
	}
	return fmt.Errorf("%w: type %s", ErrUnauthenticatedFrame, h.Type)
}

// replyInvalidCommand answers a REDIRECT or any other type the router
// does not specifically recognize, without closing the session.
func (b *Broker) replyInvalidCommand(s *session.Session, h wire.Header) error {
	if err := s.Send(wire.TypeResponse, h.MsgID, []byte{byte(wire.StatusInvalidCommand)}); err != nil {
		b.logger.Warn("send invalid command response", slog.String("error", err.Error()))
	}
	return nil
}
