package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pulsewatch/pulsewatch/internal/config"
	"github.com/pulsewatch/pulsewatch/internal/monitor"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("pulsewatch starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	slog.Info("config loaded",
		"services", len(cfg.Services),
		"notifiers", len(cfg.Notifiers),
		"max_concurrent_probes", cfg.Global.MaxConcurrentProbes,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	m, err := monitor.New(cfg)
	if err != nil {
		slog.Error("failed to start monitor", "err", err)
		os.Exit(1)
	}

	if err := m.Run(ctx, *configPath); err != nil {
		slog.Error("monitor exited with error", "err", err)
		os.Exit(1)
	}
	slog.Info("pulsewatch stopped")
}
