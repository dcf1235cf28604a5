package registry

import (
	"log/slog"
	"sync"
	"time"

	"github.com/hypertcpio/hypertcp/internal/wire"
)

// Conn is the narrow view of a live connection the registry needs:
// enough to address it for routing and to describe it in admin
// snapshots, without the registry package depending on internal/session
// (which in turn depends on internal/registry to register itself).
type Conn interface {
	// ID is the connection's current identifier, used for logging and
	// diagnostics. Registration keys (the per-device connection set,
	// the admin set) are supplied explicitly by the caller rather than
	// derived from ID, since a device connection's ID may be promoted
	// from its temporary connection id to its device id on login while
	// more than one such connection can share the same device id.
	ID() string

	// RemoteAddr is the peer's "host:port" string, used to derive
	// connection ids and admin diagnostics.
	RemoteAddr() string

	// ConnectedAt is when the connection was accepted; admin snapshots
	// compute uptime from it.
	ConnectedAt() time.Time

	// Send queues a frame for delivery on this connection's write path.
	// Implementations must not block the caller on a slow peer; see
	// internal/session's writer mailbox.
	Send(t wire.Type, msgID uint16, payload []byte) error

	// Close tears down the underlying transport.
	Close() error
}

// DeviceSnapshot describes one registered device and its live
// connections at a point in time, used to build the admin deviceStatus
// event on attach.
type DeviceSnapshot struct {
	DeviceID    string
	Connections []ConnSnapshot
}

// ConnSnapshot is a read-only view of a single connection.
type ConnSnapshot struct {
	ConnID            string
	RemoteAddr        string
	ConnectedAt       time.Time
	ConnectionSeconds float64
}

// Registry is the single lock-guarded index of live connections: a
// device-id to connection-set map for routed devices, and a flat set
// for admin connections. All mutation happens under mu; callers that
// need to act on the members (write frames, close sockets) must do so
// from a snapshot taken outside the lock.
type Registry struct {
	mu sync.RWMutex

	// devices maps device id -> (connection id -> Conn). A device can
	// have more than one simultaneous connection.
	devices map[string]map[string]Conn

	// admins maps connection id -> Conn for attached admin clients.
	admins map[string]Conn

	logger *slog.Logger
}

// New creates an empty Registry.
func New(logger *slog.Logger) *Registry {
	return &Registry{
		devices: make(map[string]map[string]Conn),
		admins:  make(map[string]Conn),
		logger:  logger.With(slog.String("component", "registry")),
	}
}

// RegisterDevice adds c to the connection set for deviceID under the key
// connID, creating the set if this is the device's first connection.
// connID is supplied by the caller rather than read from c.ID() so that
// multiple simultaneous connections for the same device index distinctly
// even once c's displayed ID has been promoted to the device id.
func (r *Registry) RegisterDevice(deviceID, connID string, c Conn) {
	r.mu.Lock()
	conns, ok := r.devices[deviceID]
	if !ok {
		conns = make(map[string]Conn)
		r.devices[deviceID] = conns
	}
	conns[connID] = c
	count := len(conns)
	r.mu.Unlock()

	r.logger.Info("device registered",
		slog.String("device_id", deviceID),
		slog.String("conn_id", connID),
		slog.Int("connections", count),
	)
}

// RegisterAdmin adds c to the admin connection set under the key
// connID, supplied by the caller for the same reason RegisterDevice
// takes one: two admin connections could otherwise present the same
// device id and collide if the set were keyed by c.ID().
func (r *Registry) RegisterAdmin(connID string, c Conn) {
	r.mu.Lock()
	r.admins[connID] = c
	r.mu.Unlock()

	r.logger.Info("admin registered", slog.String("conn_id", connID))
}

// UnregisterDevice removes one connection from deviceID's connection
// set, deleting the set entirely once it is empty. Returns true if this
// was the device's last connection.
func (r *Registry) UnregisterDevice(deviceID, connID string) (lastConn bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.devices[deviceID]
	if !ok {
		return false
	}

	delete(conns, connID)
	if len(conns) == 0 {
		delete(r.devices, deviceID)
		return true
	}
	return false
}

// UnregisterAdmin removes connID from the admin connection set.
func (r *Registry) UnregisterAdmin(connID string) {
	r.mu.Lock()
	delete(r.admins, connID)
	r.mu.Unlock()
}

// SnapshotDevice returns the live connections for deviceID. The
// returned slice is a copy; it is safe to range over and write to
// outside the lock.
func (r *Registry) SnapshotDevice(deviceID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns, ok := r.devices[deviceID]
	if !ok {
		return nil
	}

	out := make([]Conn, 0, len(conns))
	for _, c := range conns {
		out = append(out, c)
	}
	return out
}

// SnapshotBroadcastRecipients returns every connection registered under
// any device, across all devices — the recipient set for a broadcast.
func (r *Registry) SnapshotBroadcastRecipients() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, conns := range r.devices {
		total += len(conns)
	}

	out := make([]Conn, 0, total)
	for _, conns := range r.devices {
		for _, c := range conns {
			out = append(out, c)
		}
	}
	return out
}

// SnapshotAdmins returns every attached admin connection.
func (r *Registry) SnapshotAdmins() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Conn, 0, len(r.admins))
	for _, c := range r.admins {
		out = append(out, c)
	}
	return out
}

// IsDeviceConnected reports whether deviceID has at least one live
// connection.
func (r *Registry) IsDeviceConnected(deviceID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.devices[deviceID]
	return ok
}

// DeviceCount returns the number of distinct registered devices.
func (r *Registry) DeviceCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.devices)
}

// SnapshotAllDevices returns a DeviceSnapshot for every registered
// device, used to build the admin deviceStatus event sent on attach.
func (r *Registry) SnapshotAllDevices(now time.Time) []DeviceSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]DeviceSnapshot, 0, len(r.devices))
	for deviceID, conns := range r.devices {
		ds := DeviceSnapshot{DeviceID: deviceID, Connections: make([]ConnSnapshot, 0, len(conns))}
		for connID, c := range conns {
			ds.Connections = append(ds.Connections, ConnSnapshot{
				ConnID:            connID,
				RemoteAddr:        c.RemoteAddr(),
				ConnectedAt:       c.ConnectedAt(),
				ConnectionSeconds: now.Sub(c.ConnectedAt()).Seconds(),
			})
		}
		out = append(out, ds)
	}
	return out
}
