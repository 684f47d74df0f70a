package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"datachat/config"
	"datachat/gateway"
	"datachat/web"
	"datachat/web/services"

	"go.uber.org/zap"
)

func main() {
	ctx := context.Background()

	// Initialize logger with default level to load config
	tempLogger, err := config.InitLogger("info")
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	// Load config (which includes log level setting)
	cfg := config.Load(tempLogger)

	// Re-initialize logger with configured level
	logger, err := config.InitLogger(cfg.LogLevel)
	if err != nil {
		fmt.Printf("Failed to re-initialize logger with configured level: %v\n", err)
		os.Exit(1)
	}
	defer config.Cleanup()

	gw := gateway.New(cfg, logger)

	registry, err := services.NewFileRegistry(gw, cfg.SchemaCacheSize, logger)
	if err != nil {
		logger.Fatal("Failed to initialize file registry", zap.Error(err))
	}
	sessions := services.NewSessionStore(gw, cfg, logger)
	health := services.NewHealthService(gw, cfg, logger)

	// Create context that listens for interrupt signals
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Best-effort initial load; the backend may not be up yet and the
	// dashboard refreshes the list on every visit.
	if err := registry.Refresh(ctx); err != nil {
		logger.Warn("Could not load initial file list", zap.Error(err))
	}

	go health.Start(ctx)

	webServer, err := web.NewServer(gw, registry, sessions, health, logger, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize web server", zap.Error(err))
	}

	port := fmt.Sprintf(":%d", cfg.WebPort)
	logger.Info("Starting DataChat dashboard", zap.String("port", port), zap.String("backend", cfg.BackendBaseURL))
	if err := webServer.Start(ctx, port); err != nil {
		logger.Error("Web server error", zap.Error(err))
		os.Exit(1)
	}
}
