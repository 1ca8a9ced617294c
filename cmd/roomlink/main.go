package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/adityaadpandey/roomlink/internals/app"
	"github.com/adityaadpandey/roomlink/internals/config"
	"github.com/adityaadpandey/roomlink/internals/utils"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	if err := utils.InitLogger(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	logger := utils.GetLogger()
	defer logger.Sync()

	client, err := app.NewApp(cfg, app.Deps{}, logger)
	if err != nil {
		logger.Fatal("Failed to create roomlink client", zap.Error(err))
	}

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := client.Start(); err != nil {
			logger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	<-sigChan
	logger.Info("Received shutdown signal")

	client.Stop()
	logger.Info("Roomlink stopped")
}
