package router

import (
	"encoding/json"
	"log/slog"

	"github.com/hypertcpio/hypertcp/internal/registry"
	"github.com/hypertcpio/hypertcp/internal/wire"
)

// TargetBroadcast is the sentinel targetId that fans an envelope out to
// every authenticated connection, device and admin alike.
const TargetBroadcast = "broadcast"

// TargetServer is the sentinel targetId for envelopes the server itself
// consumes rather than routes onward.
const TargetServer = "server"

// Envelope is the JSON body carried by JSON_MESSAGE and BROADCAST
// frames: a routing target, an opaque payload, and (once routed) the
// sender's device id.
type Envelope struct {
	TargetID string          `json:"targetId"`
	Payload  json.RawMessage `json:"payload"`
	From     string          `json:"from,omitempty"`
}

// Router dispatches envelopes to the device group, the server-internal
// handler, or every authenticated connection, consulting nothing but
// internal/registry's lock-scoped snapshots.
type Router struct {
	registry *registry.Registry
	logger   *slog.Logger
}

// New creates a Router backed by reg.
func New(reg *registry.Registry, logger *slog.Logger) *Router {
	return &Router{
		registry: reg,
		logger:   logger.With(slog.String("component", "router")),
	}
}

// Route delivers env to its target: the registry's device group for
// env.TargetID, every connection for "broadcast", or the server-internal
// handler for "server". The envelope's From field is stamped with
// senderID before encoding. A miss on an unknown device id is logged
// and otherwise silent — routing is best-effort and never fails the
// sender's RESPONSE ack.
func (r *Router) Route(senderID string, env Envelope) {
	env.From = senderID

	switch env.TargetID {
	case TargetBroadcast:
		r.broadcastEnvelope(env)
		return
	case TargetServer:
		r.logger.Debug("server-internal target received, no-op", slog.String("sender", senderID))
		return
	}

	recipients := r.registry.SnapshotDevice(env.TargetID)
	if len(recipients) == 0 {
		r.logger.Info("route: target not found",
			slog.String("sender", senderID),
			slog.String("target", env.TargetID),
		)
		return
	}

	r.deliver(recipients, env)
}

// Broadcast delivers env, with From stamped to senderID, to every
// authenticated connection (device and admin) in the registry. The
// sender receives it too, mirroring the reference server's behavior.
func (r *Router) Broadcast(senderID string, env Envelope) {
	env.From = senderID
	env.TargetID = TargetBroadcast
	r.broadcastEnvelope(env)
}

func (r *Router) broadcastEnvelope(env Envelope) {
	recipients := r.registry.SnapshotBroadcastRecipients()
	admins := r.registry.SnapshotAdmins()

	all := make([]registry.Conn, 0, len(recipients)+len(admins))
	all = append(all, recipients...)
	all = append(all, admins...)

	r.deliver(all, env)
}

// deliver marshals env once and enqueues it on every recipient's
// writer mailbox. Recipients are expected to already be a snapshot
// taken outside the registry lock; a write failure on one recipient's
// transport tears that connection down independently (internal/session)
// without affecting delivery to the rest.
func (r *Router) deliver(recipients []registry.Conn, env Envelope) {
	body, err := json.Marshal(env)
	if err != nil {
		r.logger.Error("marshal envelope for delivery",
			slog.String("target", env.TargetID),
			slog.String("error", err.Error()),
		)
		return
	}

	for _, c := range recipients {
		if err := c.Send(wire.TypeJSONMessage, 0, body); err != nil {
			r.logger.Warn("deliver: recipient mailbox rejected frame",
				slog.String("conn_id", c.ID()),
				slog.String("error", err.Error()),
			)
		}
	}
}
