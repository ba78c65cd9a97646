// Command sygnal runs the Matrix push gateway: it loads a YAML config,
// builds every configured pushkin, and serves POST /_matrix/push/v1/notify
// until terminated.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/sygnalgo/pushgateway/notificationservice"
	"github.com/sygnalgo/pushgateway/notificationservice/config"
)

func main() {
	bootLogger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", "sygnal")

	configPath := os.Getenv("SYGNAL_CONF")
	if configPath == "" {
		configPath = "sygnal.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		bootLogger.Error("config failed", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Log.Level),
	})).With("service", "sygnal")
	slog.SetDefault(logger)

	svc, err := notificationservice.New(cfg, logger)
	if err != nil {
		logger.Error("service creation failed", "err", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting service", "apps", len(cfg.Apps))
	if err := svc.Start(ctx); err != nil {
		logger.Error("service stopped with error", "err", err)
		os.Exit(1)
	}
}

func parseLogLevel(v string) slog.Level {
	switch v {
	case "debug", "DEBUG":
		return slog.LevelDebug
	case "warn", "WARN":
		return slog.LevelWarn
	case "error", "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
