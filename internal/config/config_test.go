package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hypertcpio/hypertcp/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	if cfg.Broker.Addr != ":8080" {
		t.Errorf("Broker.Addr = %q, want %q", cfg.Broker.Addr, ":8080")
	}

	if cfg.Bridge.Addr != ":8081" {
		t.Errorf("Bridge.Addr = %q, want %q", cfg.Bridge.Addr, ":8081")
	}

	if cfg.Auth.DeviceToken != "your_auth_token_here" {
		t.Errorf("Auth.DeviceToken = %q, want %q", cfg.Auth.DeviceToken, "your_auth_token_here")
	}

	if cfg.Auth.AdminToken != "admin_token" {
		t.Errorf("Auth.AdminToken = %q, want %q", cfg.Auth.AdminToken, "admin_token")
	}

	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9100")
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}

	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "json")
	}

	if cfg.Broker.ShutdownTimeout != 10*time.Second {
		t.Errorf("Broker.ShutdownTimeout = %v, want %v", cfg.Broker.ShutdownTimeout, 10*time.Second)
	}

	if err := config.Validate(cfg); err != nil {
		t.Errorf("DefaultConfig() failed validation: %v", err)
	}
}

func TestLoadFromYAML(t *testing.T) {
	t.Parallel()

	yamlContent := `
broker:
  addr: ":9443"
bridge:
  addr: ":9444"
  path: "/bridge"
metrics:
  addr: ":9200"
  path: "/custom-metrics"
log:
  level: "debug"
  format: "text"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Broker.Addr != ":9443" {
		t.Errorf("Broker.Addr = %q, want %q", cfg.Broker.Addr, ":9443")
	}

	if cfg.Bridge.Addr != ":9444" {
		t.Errorf("Bridge.Addr = %q, want %q", cfg.Bridge.Addr, ":9444")
	}

	if cfg.Bridge.Path != "/bridge" {
		t.Errorf("Bridge.Path = %q, want %q", cfg.Bridge.Path, "/bridge")
	}

	if cfg.Metrics.Addr != ":9200" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9200")
	}

	if cfg.Metrics.Path != "/custom-metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/custom-metrics")
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}

	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}
}

func TestLoadMergesDefaults(t *testing.T) {
	t.Parallel()

	// Partial YAML: only override broker.addr and log.level.
	// Everything else should inherit from defaults.
	yamlContent := `
broker:
  addr: ":9555"
log:
  level: "warn"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Broker.Addr != ":9555" {
		t.Errorf("Broker.Addr = %q, want %q", cfg.Broker.Addr, ":9555")
	}

	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "warn")
	}

	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want default %q", cfg.Metrics.Addr, ":9100")
	}

	if cfg.Auth.DeviceToken != "your_auth_token_here" {
		t.Errorf("Auth.DeviceToken = %q, want default %q", cfg.Auth.DeviceToken, "your_auth_token_here")
	}

	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want default %q", cfg.Log.Format, "json")
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr error
	}{
		{
			name: "empty broker addr",
			modify: func(cfg *config.Config) {
				cfg.Broker.Addr = ""
			},
			wantErr: config.ErrEmptyBrokerAddr,
		},
		{
			name: "empty device token",
			modify: func(cfg *config.Config) {
				cfg.Auth.DeviceToken = ""
			},
			wantErr: config.ErrEmptyDeviceToken,
		},
		{
			name: "empty admin token",
			modify: func(cfg *config.Config) {
				cfg.Auth.AdminToken = ""
			},
			wantErr: config.ErrEmptyAdminToken,
		},
		{
			name: "negative drain timeout",
			modify: func(cfg *config.Config) {
				cfg.Broker.DrainTimeout = -1 * time.Second
			},
			wantErr: config.ErrNegativeDrainTimeout,
		},
		{
			name: "zero shutdown timeout",
			modify: func(cfg *config.Config) {
				cfg.Broker.ShutdownTimeout = 0
			},
			wantErr: config.ErrInvalidShutdownTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.DefaultConfig()
			tt.modify(cfg)

			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("Validate() returned nil, want error")
			}

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  slog.Level
	}{
		{input: "debug", want: slog.LevelDebug},
		{input: "DEBUG", want: slog.LevelDebug},
		{input: "info", want: slog.LevelInfo},
		{input: "INFO", want: slog.LevelInfo},
		{input: "warn", want: slog.LevelWarn},
		{input: "WARN", want: slog.LevelWarn},
		{input: "error", want: slog.LevelError},
		{input: "Error", want: slog.LevelError},
		{input: "unknown", want: slog.LevelInfo},
		{input: "", want: slog.LevelInfo},
		{input: "trace", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			got := config.ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLoadNonexistentFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load("/nonexistent/path/config.yml")
	if err == nil {
		t.Fatal("Load() returned nil error for nonexistent file")
	}
}

// -------------------------------------------------------------------------
// Environment Variable Override Tests
// -------------------------------------------------------------------------

func TestLoadEnvOverrides(t *testing.T) {
	// Environment variable tests cannot be parallel because they modify
	// process-wide state (os.Setenv).

	yamlContent := `
broker:
  addr: ":8080"
log:
  level: "info"
`
	path := writeTemp(t, yamlContent)

	t.Setenv("HYPERTCP_BROKER_ADDR", ":60000")
	t.Setenv("HYPERTCP_LOG_LEVEL", "debug")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Broker.Addr != ":60000" {
		t.Errorf("Broker.Addr = %q, want %q (from env)", cfg.Broker.Addr, ":60000")
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (from env)", cfg.Log.Level, "debug")
	}
}

func TestLoadEnvOverridesAuth(t *testing.T) {
	yamlContent := `
broker:
  addr: ":8080"
auth:
  device_token: "dev-secret"
  admin_token: "admin-secret"
`
	path := writeTemp(t, yamlContent)

	t.Setenv("HYPERTCP_AUTH_DEVICE_TOKEN", "env-dev-secret")
	t.Setenv("HYPERTCP_AUTH_ADMIN_TOKEN", "env-admin-secret")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Auth.DeviceToken != "env-dev-secret" {
		t.Errorf("Auth.DeviceToken = %q, want %q (from env)", cfg.Auth.DeviceToken, "env-dev-secret")
	}

	if cfg.Auth.AdminToken != "env-admin-secret" {
		t.Errorf("Auth.AdminToken = %q, want %q (from env)", cfg.Auth.AdminToken, "env-admin-secret")
	}
}

// writeTemp creates a temporary YAML file and returns its path.
// The file is automatically cleaned up when the test finishes.
func writeTemp(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "hypertcp.yml")

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	return path
}
