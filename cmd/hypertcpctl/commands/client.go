// Package commands implements the hypertcpctl CLI commands.
package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/hypertcpio/hypertcp/internal/wire"
)

// errLoginRejected is returned when the broker answers LOGIN with
// anything other than StatusSuccess.
var errLoginRejected = errors.New("admin login rejected")

// loginPayload is the JSON body of the LOGIN frame the client sends.
type loginPayload struct {
	Token    string `json:"token"`
	DeviceID string `json:"device_id"`
}

// client is a raw TCP connection to a broker, authenticated as an admin.
// It is intentionally not safe for concurrent use from multiple
// goroutines beyond the read/write split monitorCmd relies on.
type client struct {
	conn   net.Conn
	nextID uint16
}

// dial opens a TCP connection to addr, performs the admin LOGIN
// handshake with token, and discards the welcome JSON_MESSAGE the
// broker sends on successful login.
func dial(addr, token string) (*client, error) {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	c := &client{conn: conn}

	body, err := json.Marshal(loginPayload{Token: token, DeviceID: "admin_hypertcpctl"})
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("marshal login payload: %w", err)
	}

	if err := wire.WriteFrame(conn, wire.TypeLogin, c.msgID(), body); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("write login frame: %w", err)
	}

	h, payload, err := wire.ReadFrame(conn)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("read login response: %w", err)
	}
	status := wire.Status(0)
	if len(*payload) > 0 {
		status = wire.Status((*payload)[0])
	}
	wire.PutPayloadBuf(payload)
	if h.Type != wire.TypeResponse || status != wire.StatusSuccess {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: status %d", errLoginRejected, status)
	}

	// Discard the welcome JSON_MESSAGE that follows a successful login.
	if _, welcomePayload, err := wire.ReadFrame(conn); err == nil {
		wire.PutPayloadBuf(welcomePayload)
	}

	return c, nil
}

func (c *client) msgID() uint16 {
	c.nextID++
	return c.nextID
}

// send writes a JSON_MESSAGE envelope targeting targetID and waits for
// the broker's RESPONSE ack, skipping any JSON_MESSAGE frames (admin
// events, a broadcast echo) that arrive ahead of it.
func (c *client) send(targetID string, payload json.RawMessage) error {
	env := struct {
		TargetID string          `json:"targetId"`
		Payload  json.RawMessage `json:"payload"`
	}{TargetID: targetID, Payload: payload}

	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	msgID := c.msgID()
	if err := wire.WriteFrame(c.conn, wire.TypeJSONMessage, msgID, body); err != nil {
		return fmt.Errorf("write json_message frame: %w", err)
	}

	for {
		h, respPayload, err := wire.ReadFrame(c.conn)
		if err != nil {
			return fmt.Errorf("read ack: %w", err)
		}
		wire.PutPayloadBuf(respPayload)
		if h.Type == wire.TypeJSONMessage {
			continue
		}
		if h.Type != wire.TypeResponse {
			return fmt.Errorf("unexpected ack frame type %s", h.Type)
		}
		return nil
	}
}

// readEvent blocks for the next frame from the broker and returns its
// decoded JSON payload. Intended for the admin event feed, where every
// frame after login is a JSON_MESSAGE carrying one event object.
func (c *client) readEvent() (map[string]any, error) {
	h, payload, err := wire.ReadFrame(c.conn)
	if err != nil {
		return nil, err
	}
	defer wire.PutPayloadBuf(payload)

	if h.Type != wire.TypeJSONMessage {
		return nil, fmt.Errorf("unexpected frame type %s while waiting for an event", h.Type)
	}

	var ev map[string]any
	if err := json.Unmarshal(*payload, &ev); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	return ev, nil
}

func (c *client) close() error {
	return c.conn.Close()
}
