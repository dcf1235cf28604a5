package hypertcpmetrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	hypertcpmetrics "github.com/hypertcpio/hypertcp/internal/metrics"
)

func TestNewCollector(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := hypertcpmetrics.NewCollector(reg)

	if c.Connections == nil {
		t.Error("Connections is nil")
	}
	if c.FramesSent == nil {
		t.Error("FramesSent is nil")
	}
	if c.FramesReceived == nil {
		t.Error("FramesReceived is nil")
	}
	if c.FramesDropped == nil {
		t.Error("FramesDropped is nil")
	}
	if c.AuthFailures == nil {
		t.Error("AuthFailures is nil")
	}

	if _, err := reg.Gather(); err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
}

func TestConnectionOpenedClosed(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := hypertcpmetrics.NewCollector(reg)

	c.ConnectionOpened("device")
	c.ConnectionOpened("device")
	c.ConnectionOpened("admin")

	if v := gaugeValue(t, c.Connections, "device"); v != 2 {
		t.Errorf("device connections = %v, want 2", v)
	}
	if v := gaugeValue(t, c.Connections, "admin"); v != 1 {
		t.Errorf("admin connections = %v, want 1", v)
	}

	c.ConnectionClosed("device")

	if v := gaugeValue(t, c.Connections, "device"); v != 1 {
		t.Errorf("device connections after close = %v, want 1", v)
	}
}

func TestFrameCountersByType(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := hypertcpmetrics.NewCollector(reg)

	c.IncFramesReceived("login")
	c.IncFramesReceived("login")
	c.IncFramesSent("jsonMessage")
	c.IncFramesReceived("jsonMessage")

	if v := counterValue(t, c.FramesReceived, "login"); v != 2 {
		t.Errorf("FramesReceived(login) = %v, want 2", v)
	}
	if v := counterValue(t, c.FramesSent, "jsonMessage"); v != 1 {
		t.Errorf("FramesSent(jsonMessage) = %v, want 1", v)
	}
	if v := counterValue(t, c.FramesReceived, "jsonMessage"); v != 1 {
		t.Errorf("FramesReceived(jsonMessage) = %v, want 1", v)
	}
}

func TestAuthFailures(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := hypertcpmetrics.NewCollector(reg)

	c.IncAuthFailures()
	c.IncAuthFailures()

	m := &dto.Metric{}
	if err := c.AuthFailures.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}
	if m.GetCounter().GetValue() != 2 {
		t.Errorf("AuthFailures = %v, want 2", m.GetCounter().GetValue())
	}
}

func TestMetricsReporterAdapter(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := hypertcpmetrics.NewCollector(reg)

	c.FrameReceived()
	c.FrameSent()
	c.FrameDropped()

	if v := counterValue(t, c.FramesReceived, "unknown"); v != 1 {
		t.Errorf("FrameReceived() counter = %v, want 1", v)
	}
	if v := counterValue(t, c.FramesSent, "unknown"); v != 1 {
		t.Errorf("FrameSent() counter = %v, want 1", v)
	}
	if v := counterValue(t, c.FramesDropped, "unknown"); v != 1 {
		t.Errorf("FrameDropped() counter = %v, want 1", v)
	}
}

// -------------------------------------------------------------------------
// Helpers
// -------------------------------------------------------------------------

func gaugeValue(t *testing.T, vec *prometheus.GaugeVec, labels ...string) float64 {
	t.Helper()

	gauge, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}

	m := &dto.Metric{}
	if err := gauge.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetGauge().GetValue()
}

func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()

	counter, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}

	m := &dto.Metric{}
	if err := counter.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetCounter().GetValue()
}
