package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/KevinKickass/OpenSensorCore/internal/config"
	"github.com/KevinKickass/OpenSensorCore/internal/system"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const defaultConfigPath = "configs/config.yaml"

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		level, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		zc.Level = zap.NewAtomicLevelAt(level)
	}
	return zc.Build()
}

func main() {
	path := os.Getenv("OSC_CONFIG")
	if path == "" {
		path = defaultConfigPath
	}

	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Config loaded successfully",
		zap.String("path", path),
		zap.Int("sensors", len(cfg.Sensors)))

	ctx := context.Background()

	lifecycle, err := system.NewLifecycleManager(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialise system", zap.Error(err))
	}

	if err := lifecycle.Start(ctx); err != nil {
		logger.Fatal("Failed to start system", zap.Error(err))
	}

	logger.Info("OpenSensorCore started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received")
	case <-lifecycle.Done():
		logger.Info("Shutdown requested via API")
		return
	}

	timeout := cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := lifecycle.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown failed", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("OpenSensorCore stopped successfully")
}
