// Package hypertcpmetrics exposes the Prometheus metrics for the
// HyperTCP broker: connection gauges, frame counters, and auth failure
// counters.
package hypertcpmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "hypertcp"
	subsystem = "broker"
)

// Label names for broker metrics.
const (
	labelRole = "role" // "device" or "admin"
	labelType = "type" // wire.Type name
)

// -------------------------------------------------------------------------
// Collector — Prometheus HyperTCP Metrics
// -------------------------------------------------------------------------

// Collector holds all broker Prometheus metrics.
//
// Metrics are designed for production monitoring:
//   - Connections tracks currently authenticated connections, by role.
//   - FramesSent/Received/Dropped track per-frame-type wire traffic.
//   - AuthFailures flags potential credential-stuffing activity.
type Collector struct {
	// Connections tracks the number of currently authenticated
	// connections, labeled by role (device/admin).
	Connections *prometheus.GaugeVec

	// FramesSent counts frames written to the wire, labeled by type.
	FramesSent *prometheus.CounterVec

	// FramesReceived counts frames read off the wire, labeled by type.
	FramesReceived *prometheus.CounterVec

	// FramesDropped counts frames dropped because a recipient's
	// outbound mailbox was full.
	FramesDropped *prometheus.CounterVec

	// AuthFailures counts LOGIN attempts rejected by the authenticator.
	AuthFailures prometheus.Counter
}

// NewCollector creates a Collector with all broker metrics registered
// against the provided prometheus.Registerer. If reg is nil,
// prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.Connections,
		c.FramesSent,
		c.FramesReceived,
		c.FramesDropped,
		c.AuthFailures,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	return &Collector{
		Connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "connections",
			Help:      "Number of currently authenticated connections.",
		}, []string{labelRole}),

		FramesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "frames_sent_total",
			Help:      "Total frames written to the wire.",
		}, []string{labelType}),

		FramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "frames_received_total",
			Help:      "Total frames read off the wire.",
		}, []string{labelType}),

		FramesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "frames_dropped_total",
			Help:      "Total frames dropped because a recipient's outbound mailbox was full.",
		}, []string{labelType}),

		AuthFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "auth_failures_total",
			Help:      "Total LOGIN attempts rejected by the authenticator.",
		}),
	}
}

// -------------------------------------------------------------------------
// session.MetricsReporter adapter
// -------------------------------------------------------------------------
//
// Collector satisfies internal/session.MetricsReporter directly (method
// set below) so it can be passed straight into session.WithMetrics
// without an intermediate wrapper type.

// ConnectionOpened increments the connections gauge for role.
func (c *Collector) ConnectionOpened(role string) {
	c.Connections.WithLabelValues(role).Inc()
}

// ConnectionClosed decrements the connections gauge for role.
func (c *Collector) ConnectionClosed(role string) {
	c.Connections.WithLabelValues(role).Dec()
}

// FrameReceived increments the received-frames counter. The type label
// is not available at this call site (internal/session reports per
// frame, not per type); callers that want per-type breakdowns should
// use IncFramesReceived directly.
func (c *Collector) FrameReceived() {
	c.FramesReceived.WithLabelValues("unknown").Inc()
}

// FrameSent increments the sent-frames counter, see FrameReceived.
func (c *Collector) FrameSent() {
	c.FramesSent.WithLabelValues("unknown").Inc()
}

// FrameDropped increments the dropped-frames counter, see FrameReceived.
func (c *Collector) FrameDropped() {
	c.FramesDropped.WithLabelValues("unknown").Inc()
}

// -------------------------------------------------------------------------
// Per-type counters
// -------------------------------------------------------------------------

// IncFramesReceived increments the received-frames counter for a
// specific frame type name.
func (c *Collector) IncFramesReceived(typeName string) {
	c.FramesReceived.WithLabelValues(typeName).Inc()
}

// IncFramesSent increments the sent-frames counter for a specific frame
// type name.
func (c *Collector) IncFramesSent(typeName string) {
	c.FramesSent.WithLabelValues(typeName).Inc()
}

// IncAuthFailures increments the auth failure counter.
func (c *Collector) IncAuthFailures() {
	c.AuthFailures.Inc()
}
