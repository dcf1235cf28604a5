package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	formatJSON  = "json"
	formatTable = "table"
	valueNA     = "N/A"
)

// errUnsupportedFormat is returned when the requested output format is
// not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

// formatEvent renders one decoded admin event in the requested format.
func formatEvent(ev map[string]any, format string) (string, error) {
	switch format {
	case formatJSON:
		data, err := json.MarshalIndent(ev, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal event to JSON: %w", err)
		}
		return string(data), nil
	case formatTable:
		return formatEventTable(ev), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatEventTable(ev map[string]any) string {
	ts := valueNA
	if millis, ok := ev["timestamp"].(float64); ok {
		ts = time.UnixMilli(int64(millis)).Format(time.RFC3339)
	}

	kind, _ := ev["event"].(string)
	deviceID, _ := ev["deviceId"].(string)
	clientID, _ := ev["clientId"].(string)

	switch kind {
	case "deviceConnected":
		return fmt.Sprintf("[%s] deviceConnected device=%s client=%s", ts, deviceID, clientID)
	case "deviceDisconnected":
		dur, _ := ev["connectionDuration"].(float64)
		return fmt.Sprintf("[%s] deviceDisconnected device=%s client=%s duration=%.1fs", ts, deviceID, clientID, dur)
	case "deviceStatus":
		status, _ := ev["status"].(string)
		uptime, _ := ev["uptime"].(float64)
		return fmt.Sprintf("[%s] deviceStatus device=%s client=%s status=%s uptime=%.1fs", ts, deviceID, clientID, status, uptime)
	default:
		return fmt.Sprintf("[%s] %s %v", ts, kind, ev)
	}
}
