package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	logpkg "harbor-presence/common/logger"
	"harbor-presence/internal/config"
	"harbor-presence/internal/service"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logpkg.NewLogger(cfg.Log.Level, cfg.Log.Format, "harbor-tracker")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting harbor-tracker service",
		zap.String("version", "1.0.0"),
		zap.String("scanner_topic", cfg.Scanner.Topic),
		zap.String("profile_dir", cfg.Tracker.ProfileDir),
		zap.String("http_addr", cfg.HTTP.Addr),
	)

	trackerService, err := service.NewTrackerService(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create tracker service", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := trackerService.Start(ctx); err != nil {
		logger.Fatal("Failed to start tracker service", zap.Error(err))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range sigChan {
		if sig == syscall.SIGHUP {
			logger.Info("Received SIGHUP, reloading calibration profile")
			trackerService.Reload()
			continue
		}
		logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))
		break
	}

	cancel()
	if err := trackerService.Stop(context.Background()); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Service stopped")
}
