// hypertcp-bridge exposes the HyperTCP wire protocol over WebSocket so
// browser clients can reach a broker they cannot open a raw TCP socket to.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"golang.org/x/sync/errgroup"

	"github.com/hypertcpio/hypertcp/internal/bridge"
	"github.com/hypertcpio/hypertcp/internal/config"
	appversion "github.com/hypertcpio/hypertcp/internal/version"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return 1
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("hypertcp-bridge starting",
		slog.String("version", appversion.Version),
		slog.String("listen_addr", cfg.Bridge.Addr),
		slog.String("path", cfg.Bridge.Path),
		slog.String("broker_addr", cfg.Bridge.BrokerAddr),
	)

	b := bridge.New(cfg.Bridge.BrokerAddr, logger)

	mux := http.NewServeMux()
	mux.Handle(cfg.Bridge.Path, b)
	httpSrv := &http.Server{
		Addr:              cfg.Bridge.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := runServers(httpSrv, b, cfg.Broker.ShutdownTimeout, logger, *configPath, logLevel); err != nil {
		logger.Error("hypertcp-bridge exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("hypertcp-bridge stopped")
	return 0
}

// runServers runs the bridge's HTTP server under an errgroup bound to a
// signal-aware context, so SIGINT/SIGTERM trigger a coordinated shutdown
// of the listener and every in-flight bridge connection.
func runServers(httpSrv *http.Server, b *bridge.Bridge, shutdownTimeout time.Duration, logger *slog.Logger,
	configPath string, logLevel *slog.LevelVar,
) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("bridge http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return runWatchdog(gCtx, logger)
	})

	g.Go(func() error {
		handleSIGHUP(gCtx, configPath, logLevel, logger)
		return nil
	})

	notifyReady(logger)

	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(gCtx, shutdownTimeout, logger, httpSrv, b)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run servers: %w", err)
	}
	return nil
}

// gracefulShutdown closes every active bridge connection pair, then shuts
// the HTTP server down within shutdownTimeout.
func gracefulShutdown(ctx context.Context, shutdownTimeout time.Duration, logger *slog.Logger, httpSrv *http.Server, b *bridge.Bridge) error {
	logger.Info("initiating graceful shutdown")
	notifyStopping(logger)

	_ = b.Close()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown bridge http server: %w", err)
	}
	return nil
}

func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: READY")
	}
}

func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}

// runWatchdog sends periodic watchdog keepalives to systemd at half the
// configured interval. Exits immediately if no watchdog is configured.
func runWatchdog(ctx context.Context, logger *slog.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("failed to check systemd watchdog", slog.String("error", err.Error()))
		return nil
	}
	if interval == 0 {
		return nil
	}

	tickInterval := interval / 2
	logger.Info("systemd watchdog enabled",
		slog.Duration("watchdog_sec", interval),
		slog.Duration("keepalive_interval", tickInterval),
	)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, wdErr := daemon.SdNotify(false, daemon.SdNotifyWatchdog); wdErr != nil {
				logger.Warn("failed to send watchdog keepalive", slog.String("error", wdErr.Error()))
			}
		}
	}
}

// handleSIGHUP listens for SIGHUP and reloads the log level from the
// configuration file at configPath. Blocks until ctx is cancelled.
func handleSIGHUP(ctx context.Context, configPath string, logLevel *slog.LevelVar, logger *slog.Logger) {
	sigHUP := make(chan os.Signal, 1)
	signal.Notify(sigHUP, syscall.SIGHUP)
	defer signal.Stop(sigHUP)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sigHUP:
			logger.Info("received SIGHUP, reloading log level")
			reloadLogLevel(configPath, logLevel, logger)
		}
	}
}

// reloadLogLevel re-reads configPath and applies its log level to the
// shared LevelVar. Errors are logged but never stop the daemon; the
// previous level remains in effect.
func reloadLogLevel(configPath string, logLevel *slog.LevelVar, logger *slog.Logger) {
	newCfg, err := loadConfig(configPath)
	if err != nil {
		logger.Error("failed to reload configuration, keeping current log level",
			slog.String("error", err.Error()),
		)
		return
	}

	oldLevel := logLevel.Level()
	newLevel := config.ParseLogLevel(newCfg.Log.Level)
	logLevel.Set(newLevel)

	logger.Info("log level reloaded",
		slog.String("old_level", oldLevel.String()),
		slog.String("new_level", newLevel.String()),
	)
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.DefaultConfig(), nil
	}
	return config.Load(path)
}

func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
