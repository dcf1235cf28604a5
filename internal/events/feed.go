package events

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hypertcpio/hypertcp/internal/registry"
	"github.com/hypertcpio/hypertcp/internal/wire"
)

// connectedEvent is emitted after a device transitions into AUTH_DEVICE.
type connectedEvent struct {
	Event     string `json:"event"`
	DeviceID  string `json:"deviceId"`
	ClientID  string `json:"clientId"`
	Timestamp int64  `json:"timestamp"`
}

// disconnectedEvent is emitted when a device connection leaves the
// device group.
type disconnectedEvent struct {
	Event              string  `json:"event"`
	DeviceID           string  `json:"deviceId"`
	ClientID           string  `json:"clientId"`
	ConnectionDuration float64 `json:"connectionDuration"`
	Timestamp          int64   `json:"timestamp"`
}

// statusEvent is one entry of the snapshot synthesized for an admin on
// attach.
type statusEvent struct {
	Event     string  `json:"event"`
	DeviceID  string  `json:"deviceId"`
	ClientID  string  `json:"clientId"`
	Status    string  `json:"status"`
	Uptime    float64 `json:"uptime"`
	Timestamp int64   `json:"timestamp"`
}

// Feed emits the admin lifecycle feed. It holds no state of its own;
// every event is derived from the registry's current snapshot, so the
// feed is safe to share across every session dispatching into it.
type Feed struct {
	registry *registry.Registry
	logger   *slog.Logger
}

// New creates a Feed backed by reg.
func New(reg *registry.Registry, logger *slog.Logger) *Feed {
	return &Feed{
		registry: reg,
		logger:   logger.With(slog.String("component", "events")),
	}
}

// DeviceConnected notifies every admin connection that deviceID's
// connection clientID has completed its AUTH_DEVICE transition.
func (f *Feed) DeviceConnected(deviceID, clientID string) {
	f.broadcast(connectedEvent{
		Event:     "deviceConnected",
		DeviceID:  deviceID,
		ClientID:  clientID,
		Timestamp: nowMillis(),
	})
}

// DeviceDisconnected notifies every admin connection that clientID has
// left deviceID's connection group, having been connected since
// connectedAt.
func (f *Feed) DeviceDisconnected(deviceID, clientID string, connectedAt time.Time) {
	f.broadcast(disconnectedEvent{
		Event:              "deviceDisconnected",
		DeviceID:           deviceID,
		ClientID:           clientID,
		ConnectionDuration: time.Since(connectedAt).Seconds(),
		Timestamp:          nowMillis(),
	})
}

// SnapshotFor sends one deviceStatus event per currently registered
// device connection to admin, taken under the registry lock so the
// snapshot reflects one consistent point in time. Callers must invoke
// this before any live deviceConnected/deviceDisconnected event that
// was triggered by activity after the snapshot is emitted, to preserve
// the snapshot-before-live-events ordering guarantee.
func (f *Feed) SnapshotFor(admin registry.Conn) {
	now := time.Now()
	devices := f.registry.SnapshotAllDevices(now)

	for _, d := range devices {
		for _, c := range d.Connections {
			f.sendTo(admin, statusEvent{
				Event:     "deviceStatus",
				DeviceID:  d.DeviceID,
				ClientID:  c.ConnID,
				Status:    "connected",
				Uptime:    c.ConnectionSeconds,
				Timestamp: now.UnixMilli(),
			})
		}
	}
}

func (f *Feed) broadcast(event any) {
	body, err := json.Marshal(event)
	if err != nil {
		f.logger.Error("marshal admin event", slog.String("error", err.Error()))
		return
	}

	for _, admin := range f.registry.SnapshotAdmins() {
		if err := admin.Send(wire.TypeJSONMessage, 0, body); err != nil {
			f.logger.Warn("admin event dropped",
				slog.String("conn_id", admin.ID()),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (f *Feed) sendTo(admin registry.Conn, event any) {
	body, err := json.Marshal(event)
	if err != nil {
		f.logger.Error("marshal admin snapshot event", slog.String("error", err.Error()))
		return
	}

	if err := admin.Send(wire.TypeJSONMessage, 0, body); err != nil {
		f.logger.Warn("admin snapshot event dropped",
			slog.String("conn_id", admin.ID()),
			slog.String("error", err.Error()),
		)
	}
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
