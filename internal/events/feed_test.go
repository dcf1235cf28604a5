package events

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hypertcpio/hypertcp/internal/registry"
	"github.com/hypertcpio/hypertcp/internal/wire"
)

type fakeConn struct {
	id   string
	at   time.Time
	sent [][]byte
}

func (f *fakeConn) ID() string             { return f.id }
func (f *fakeConn) RemoteAddr() string     { return "127.0.0.1:0" }
func (f *fakeConn) ConnectedAt() time.Time { return f.at }
func (f *fakeConn) Close() error           { return nil }
func (f *fakeConn) Send(_ wire.Type, _ uint16, payload []byte) error {
	f.sent = append(f.sent, payload)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDeviceConnectedReachesAdmins(t *testing.T) {
	t.Parallel()

	reg := registry.New(testLogger())
	admin := &fakeConn{id: "admin-1", at: time.Now()}
	reg.RegisterAdmin(admin.id, admin)

	f := New(reg, testLogger())
	f.DeviceConnected("dev-1", "client_1.2.3.4_9_1")

	if len(admin.sent) != 1 {
		t.Fatalf("expected 1 event, got %d", len(admin.sent))
	}

	var ev connectedEvent
	if err := json.Unmarshal(admin.sent[0], &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Event != "deviceConnected" || ev.DeviceID != "dev-1" {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestDeviceDisconnectedComputesDuration(t *testing.T) {
	t.Parallel()

	reg := registry.New(testLogger())
	admin := &fakeConn{id: "admin-1", at: time.Now()}
	reg.RegisterAdmin(admin.id, admin)

	f := New(reg, testLogger())
	connectedAt := time.Now().Add(-3 * time.Second)
	f.DeviceDisconnected("dev-1", "client_1.2.3.4_9_1", connectedAt)

	var ev disconnectedEvent
	if err := json.Unmarshal(admin.sent[0], &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.ConnectionDuration < 2.9 {
		t.Errorf("expected duration >= ~3s, got %f", ev.ConnectionDuration)
	}
}

func TestSnapshotForEmitsOnePerConnection(t *testing.T) {
	t.Parallel()

	reg := registry.New(testLogger())
	admin := &fakeConn{id: "admin-1", at: time.Now()}
	reg.RegisterAdmin(admin.id, admin)
	reg.RegisterDevice("dev-1", "conn-1", &fakeConn{id: "conn-1", at: time.Now()})
	reg.RegisterDevice("dev-1", "conn-2", &fakeConn{id: "conn-2", at: time.Now()})
	reg.RegisterDevice("dev-2", "conn-3", &fakeConn{id: "conn-3", at: time.Now()})

	f := New(reg, testLogger())
	f.SnapshotFor(admin)

	if len(admin.sent) != 3 {
		t.Fatalf("expected 3 deviceStatus events, got %d", len(admin.sent))
	}

	for _, raw := range admin.sent {
		var ev statusEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if ev.Event != "deviceStatus" || ev.Status != "connected" {
			t.Errorf("unexpected event: %+v", ev)
		}
	}
}

func TestSnapshotForDoesNotIncludeAdminItself(t *testing.T) {
	t.Parallel()

	reg := registry.New(testLogger())
	admin := &fakeConn{id: "admin-1", at: time.Now()}
	reg.RegisterAdmin(admin.id, admin)

	f := New(reg, testLogger())
	f.SnapshotFor(admin)

	if len(admin.sent) != 0 {
		t.Fatalf("expected no events since no devices are registered, got %d", len(admin.sent))
	}
}
