// Package config manages the HyperTCP daemon configuration using
// koanf/v2.
//
// Supports YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete hypertcpd configuration.
type Config struct {
	Broker  BrokerConfig  `koanf:"broker"`
	Bridge  BridgeConfig  `koanf:"bridge"`
	Auth    AuthConfig    `koanf:"auth"`
	Metrics MetricsConfig `koanf:"metrics"`
	Log     LogConfig     `koanf:"log"`
}

// BrokerConfig holds the HyperTCP TCP listener configuration.
type BrokerConfig struct {
	// Addr is the HyperTCP listen address (e.g., ":8080").
	Addr string `koanf:"addr"`

	// IdleTimeout closes a connection that sends nothing for this long.
	// Zero disables idle timeout enforcement, matching the reference
	// server's behavior of never timing out an idle connection.
	IdleTimeout time.Duration `koanf:"idle_timeout"`

	// DrainTimeout is how long graceful shutdown waits, after closing
	// the listener and every live session's transport, for the session
	// goroutines to return.
	DrainTimeout time.Duration `koanf:"drain_timeout"`

	// ShutdownTimeout bounds the HTTP server shutdown during graceful
	// shutdown (the metrics server in hypertcpd, the WebSocket server in
	// hypertcp-bridge).
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// BridgeConfig holds the WebSocket-to-TCP bridge configuration.
type BridgeConfig struct {
	// Addr is the WebSocket listen address (e.g., ":8081").
	Addr string `koanf:"addr"`

	// Path is the HTTP path the WebSocket upgrade is served on.
	Path string `koanf:"path"`

	// BrokerAddr is the HyperTCP broker address each accepted
	// WebSocket's paired outbound TCP connection dials.
	BrokerAddr string `koanf:"broker_addr"`
}

// AuthConfig holds the static shared-secret authentication parameters.
type AuthConfig struct {
	// DeviceToken authorizes a device LOGIN.
	DeviceToken string `koanf:"device_token"`

	// AdminToken authorizes an admin LOGIN.
	AdminToken string `koanf:"admin_token"`

	// AdminDeviceIDPrefix marks a LOGIN attempt as an admin attempt
	// regardless of the presented token, matching the reference
	// server's "admin_"-prefixed device id convention.
	AdminDeviceIDPrefix string `koanf:"admin_device_id_prefix"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults. The
// default device and admin tokens match the reference server's
// well-known placeholder values and MUST be overridden for any
// deployment that is reachable outside a trusted network.
func DefaultConfig() *Config {
	return &Config{
		Broker: BrokerConfig{
			Addr:            ":8080",
			IdleTimeout:     0,
			DrainTimeout:    2 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Bridge: BridgeConfig{
			Addr:       ":8081",
			Path:       "/ws",
			BrokerAddr: "127.0.0.1:8080",
		},
		Auth: AuthConfig{
			DeviceToken:         "your_auth_token_here",
			AdminToken:          "admin_token",
			AdminDeviceIDPrefix: "admin_",
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for HyperTCP configuration.
// Variables are named HYPERTCP_<section>_<key>, e.g., HYPERTCP_BROKER_ADDR.
const envPrefix = "HYPERTCP_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (HYPERTCP_ prefix), and merges on top of
// DefaultConfig(). Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	HYPERTCP_BROKER_ADDR     -> broker.addr
//	HYPERTCP_BRIDGE_ADDR     -> bridge.addr
//	HYPERTCP_AUTH_DEVICE_TOKEN -> auth.device_token
//	HYPERTCP_METRICS_ADDR    -> metrics.addr
//	HYPERTCP_LOG_LEVEL       -> log.level
//
// Uses koanf/v2 with file + env providers and YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms HYPERTCP_BROKER_ADDR -> broker.addr.
// Strips the HYPERTCP_ prefix, lowercases, and replaces the first _ (the
// section separator) with ., so HYPERTCP_AUTH_DEVICE_TOKEN maps to
// auth.device_token.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.Replace(s, "_", ".", 1)
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"broker.addr":                 defaults.Broker.Addr,
		"broker.idle_timeout":         defaults.Broker.IdleTimeout.String(),
		"broker.drain_timeout":        defaults.Broker.DrainTimeout.String(),
		"broker.shutdown_timeout":     defaults.Broker.ShutdownTimeout.String(),
		"bridge.addr":                 defaults.Bridge.Addr,
		"bridge.path":                 defaults.Bridge.Path,
		"bridge.broker_addr":          defaults.Bridge.BrokerAddr,
		"auth.device_token":           defaults.Auth.DeviceToken,
		"auth.admin_token":            defaults.Auth.AdminToken,
		"auth.admin_device_id_prefix": defaults.Auth.AdminDeviceIDPrefix,
		"metrics.addr":                defaults.Metrics.Addr,
		"metrics.path":                defaults.Metrics.Path,
		"log.level":                   defaults.Log.Level,
		"log.format":                  defaults.Log.Format,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyBrokerAddr indicates the broker listen address is empty.
	ErrEmptyBrokerAddr = errors.New("broker.addr must not be empty")

	// ErrEmptyDeviceToken indicates no device token is configured.
	ErrEmptyDeviceToken = errors.New("auth.device_token must not be empty")

	// ErrEmptyAdminToken indicates no admin token is configured.
	ErrEmptyAdminToken = errors.New("auth.admin_token must not be empty")

	// ErrNegativeDrainTimeout indicates a negative drain timeout.
	ErrNegativeDrainTimeout = errors.New("broker.drain_timeout must be >= 0")

	// ErrInvalidShutdownTimeout indicates a non-positive shutdown timeout.
	ErrInvalidShutdownTimeout = errors.New("broker.shutdown_timeout must be > 0")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Broker.Addr == "" {
		return ErrEmptyBrokerAddr
	}

	if cfg.Auth.DeviceToken == "" {
		return ErrEmptyDeviceToken
	}

	if cfg.Auth.AdminToken == "" {
		return ErrEmptyAdminToken
	}

	if cfg.Broker.DrainTimeout < 0 {
		return ErrNegativeDrainTimeout
	}

	if cfg.Broker.ShutdownTimeout <= 0 {
		return ErrInvalidShutdownTimeout
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
