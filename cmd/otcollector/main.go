// Command otcollector is the OT telemetry collection agent.
//
// It loads the YAML configuration (flag, OTCOLLECTOR_CONFIG, or the default
// path), builds the collector manager, and runs until interrupted
// (SIGINT / SIGTERM). SIGHUP and on-disk config changes trigger a reload of
// the runtime-mutable settings.
//
// Usage:
//
//	otcollector [flags]
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

	"github.com/otsense/otcollector/internal/agentmetrics"
	"github.com/otsense/otcollector/pkg/otcollector/config"
	"github.com/otsense/otcollector/pkg/otcollector/manager"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "otcollector: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// ── Flags ────────────────────────────────────────────────────────────
	var (
		cfgPath       string
		logLevel      string
		logFmt        string
		metricsListen string
		watchConfig   bool
	)

	flag.StringVar(&cfgPath, "config", "", "Config file path (default: $OTCOLLECTOR_CONFIG or "+config.DefaultPath+")")
	flag.StringVar(&logLevel, "log.level", "info", "Log level: debug, info, warn, error")
	flag.StringVar(&logFmt, "log.fmt", "json", "Log format: json, text")
	flag.StringVar(&metricsListen, "metrics.listen", "", "Override metrics listen address (empty: use config)")
	flag.BoolVar(&watchConfig, "config.watch", true, "Reload runtime settings when the config file changes")
	flag.Parse()

	// ── Logger ───────────────────────────────────────────────────────────
	logger, err := buildLogger(logLevel, logFmt)
	if err != nil {
		return err
	}

	// ── Config ───────────────────────────────────────────────────────────
	path := config.ResolvePath(cfgPath)
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	logger.Info("otcollector: configuration loaded", "path", path, "agent", cfg.Agent.ID)

	// ── Build ────────────────────────────────────────────────────────────
	metrics := agentmetrics.New()
	mgr, err := manager.New(cfg, manager.Options{
		Metrics: metrics,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	manager.SetDefault(mgr)
	defer manager.ResetDefault()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Metrics endpoint ─────────────────────────────────────────────────
	listen := metricsListen
	if listen == "" {
		listen = cfg.Metrics.Listen
	}
	var metricsSrv *http.Server
	if listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsSrv = &http.Server{Addr: listen, Handler: mux}
		go func() {
			logger.Info("otcollector: metrics endpoint listening", "addr", listen)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("otcollector: metrics endpoint failed", "error", err.Error())
			}
		}()
	}

	// ── Reload ───────────────────────────────────────────────────────────
	if watchConfig {
		if err := config.Watch(ctx, path, logger, mgr.ApplyConfig); err != nil {
			logger.Warn("otcollector: config watch unavailable", "error", err.Error())
		}
	}
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for range hup {
			next, err := config.Load(path)
			if err != nil {
				logger.Warn("otcollector: SIGHUP reload failed, keeping previous", "error", err.Error())
				continue
			}
			logger.Info("otcollector: SIGHUP reload applied", "path", path)
			mgr.ApplyConfig(next)
		}
	}()

	// ── Start ────────────────────────────────────────────────────────────
	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	logger.Info("otcollector: running — press Ctrl-C to stop")

	// Block until signal.
	<-ctx.Done()
	logger.Info("otcollector: received shutdown signal")

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = metricsSrv.Shutdown(shutdownCtx)
		cancel()
	}
	if err := mgr.Close(); err != nil {
		logger.Error("otcollector: shutdown error", "error", err.Error())
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

func buildLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q (expected debug|info|warn|error)", level)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler

	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q (expected json|text)", format)
	}

	return slog.New(handler), nil
}
