package bridge

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hypertcpio/hypertcp/internal/wire"
)

// closeTCPLost is the WebSocket close code sent to the browser when the
// upstream TCP connection to the broker is lost or never established.
// Matches the failure code the reference bridge used for the same cases.
const closeTCPLost = websocket.CloseInternalServerErr // 1011

const defaultDialTimeout = 5 * time.Second

// closeWriteTimeout bounds how long a close control frame write may block.
const closeWriteTimeout = 3 * time.Second

// Option configures a Bridge.
type Option func(*Bridge)

// WithDialTimeout bounds how long the bridge waits to establish the
// per-connection TCP leg to the broker.
func WithDialTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.dialTimeout = d
		}
	}
}

// WithReadLimit caps the size of a single WebSocket message the bridge will
// accept from a browser client.
func WithReadLimit(n int64) Option {
	return func(b *Bridge) {
		if n > 0 {
			b.readLimit = n
		}
	}
}

// Bridge upgrades inbound HTTP connections to WebSocket and pairs each one
// with a fresh TCP connection to brokerAddr, relaying HyperTCP frames
// between the two for the life of the connection.
type Bridge struct {
	brokerAddr  string
	dialer      net.Dialer
	dialTimeout time.Duration
	readLimit   int64
	upgrader    websocket.Upgrader
	logger      *slog.Logger

	mu     sync.Mutex
	active map[*websocket.Conn]net.Conn
}

// New returns a Bridge that dials brokerAddr for every accepted WebSocket
// connection.
func New(brokerAddr string, logger *slog.Logger, opts ...Option) *Bridge {
	b := &Bridge{
		brokerAddr:  brokerAddr,
		dialTimeout: defaultDialTimeout,
		readLimit:   8 << 20,
		logger:      logger,
		active:      make(map[*websocket.Conn]net.Conn),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 * 1024,
			WriteBufferSize: 32 * 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Expected to run behind a reverse proxy that enforces
				// origin policy; the bridge itself has no UI to protect.
				return true
			},
		},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ServeHTTP upgrades the request to a WebSocket connection, dials the
// broker, and relays frames between the two until either side closes.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	dialCtx, cancel := context.WithTimeout(r.Context(), b.dialTimeout)
	tcp, err := b.dialer.DialContext(dialCtx, "tcp", b.brokerAddr)
	cancel()
	if err != nil {
		b.logger.Warn("failed to dial broker", slog.String("broker_addr", b.brokerAddr), slog.String("error", err.Error()))
		closeWithTCPLost(ws, "failed to connect to broker")
		_ = ws.Close()
		return
	}

	b.track(ws, tcp)
	defer b.untrack(ws)

	ws.SetReadLimit(b.readLimit)

	b.logger.Info("bridge connection established",
		slog.String("remote", r.RemoteAddr),
		slog.String("broker_addr", b.brokerAddr),
	)
	b.relay(ws, tcp)
	b.logger.Info("bridge connection closed", slog.String("remote", r.RemoteAddr))
}

// relay pumps frames in both directions until one side fails, then closes
// both ends with a matching failure code.
func (b *Bridge) relay(ws *websocket.Conn, tcp net.Conn) {
	defer func() { _ = tcp.Close() }()
	defer func() { _ = ws.Close() }()

	done := make(chan struct{})
	var once sync.Once
	stop := func() { once.Do(func() { close(done) }) }

	go func() {
		defer stop()
		b.pumpWSToTCP(ws, tcp)
	}()

	go func() {
		defer stop()
		b.pumpTCPToWS(tcp, ws)
	}()

	<-done
}

// pumpWSToTCP forwards binary WebSocket messages verbatim to the broker
// connection. Text messages carry no meaning in this protocol and are
// logged and dropped rather than forwarded.
func (b *Bridge) pumpWSToTCP(ws *websocket.Conn, tcp net.Conn) {
	for {
		mt, msg, err := ws.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.BinaryMessage {
			b.logger.Debug("dropping non-binary websocket message", slog.Int("type", mt))
			continue
		}
		if _, err := tcp.Write(msg); err != nil {
			b.logger.Warn("failed to forward to broker", slog.String("error", err.Error()))
			closeWithTCPLost(ws, "broker connection lost")
			return
		}
	}
}

// pumpTCPToWS reads one HyperTCP frame at a time from the broker and
// forwards it to the browser as two binary WebSocket messages: the 5-byte
// header, then the payload if the frame carries one. Splitting this way
// lets a browser client reconstruct frames without implementing TCP's
// stream-reassembly; a single WebSocket message never spans two frames.
func (b *Bridge) pumpTCPToWS(tcp net.Conn, ws *websocket.Conn) {
	var hdrBuf [wire.HeaderSize]byte
	for {
		if err := wire.ReadExact(tcp, hdrBuf[:], wire.HeaderSize); err != nil {
			if !errors.Is(err, wire.ErrEOF) {
				b.logger.Warn("broker connection read error", slog.String("error", err.Error()))
			}
			closeWithTCPLost(ws, "broker connection lost")
			return
		}

		if err := ws.WriteMessage(websocket.BinaryMessage, append([]byte(nil), hdrBuf[:]...)); err != nil {
			return
		}

		h, err := wire.Decode(hdrBuf[:])
		if err != nil {
			b.logger.Warn("failed to decode frame header from broker", slog.String("error", err.Error()))
			closeWithTCPLost(ws, "broker connection lost")
			return
		}
		if h.PayloadLen == 0 {
			continue
		}

		payload := wire.GetPayloadBuf(int(h.PayloadLen))
		readErr := wire.ReadExact(tcp, *payload, int(h.PayloadLen))
		if readErr != nil {
			wire.PutPayloadBuf(payload)
			b.logger.Warn("broker connection read error", slog.String("error", readErr.Error()))
			closeWithTCPLost(ws, "broker connection lost")
			return
		}
		writeErr := ws.WriteMessage(websocket.BinaryMessage, append([]byte(nil), (*payload)...))
		wire.PutPayloadBuf(payload)
		if writeErr != nil {
			return
		}
	}
}

// closeWithTCPLost sends the documented failure close code to the browser
// before the caller closes the WebSocket connection. Best-effort: the
// control write is skipped silently if the socket is already gone.
func closeWithTCPLost(ws *websocket.Conn, reason string) {
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(closeTCPLost, reason),
		time.Now().Add(closeWriteTimeout))
}

func (b *Bridge) track(ws *websocket.Conn, tcp net.Conn) {
	b.mu.Lock()
	b.active[ws] = tcp
	b.mu.Unlock()
}

func (b *Bridge) untrack(ws *websocket.Conn) {
	b.mu.Lock()
	delete(b.active, ws)
	b.mu.Unlock()
}

// Close closes every connection pair the bridge is currently relaying. It
// is used to unwind in-flight connections during shutdown.
func (b *Bridge) Close() error {
	b.mu.Lock()
	pairs := make([]struct {
		ws  *websocket.Conn
		tcp net.Conn
	}, 0, len(b.active))
	for ws, tcp := range b.active {
		pairs = append(pairs, struct {
			ws  *websocket.Conn
			tcp net.Conn
		}{ws, tcp})
	}
	b.mu.Unlock()

	for _, p := range pairs {
		_ = p.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		_ = p.ws.Close()
		_ = p.tcp.Close()
	}
	return nil
}
