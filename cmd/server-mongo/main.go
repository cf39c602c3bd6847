package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/sirosfoundation/go-server-mongo/internal/api"
	"github.com/sirosfoundation/go-server-mongo/internal/connector"
	"github.com/sirosfoundation/go-server-mongo/internal/domain"
	"github.com/sirosfoundation/go-server-mongo/pkg/config"
	"github.com/sirosfoundation/go-server-mongo/pkg/logging"
)

var (
	configFile = flag.String("config", "configs/config.yaml", "Path to configuration file")
	connectNow = flag.Bool("connect", false, "Connect to the configured MongoDB deployment at startup")
	version    = "dev"
	buildTime  = "unknown"
)

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger, err := logging.NewLogger(cfg.Logging, api.ServiceName)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting MongoDB server control plane",
		zap.String("version", version),
		zap.String("build_time", buildTime),
	)

	a, err := newApp(cfg, connector.NewMongoDriver(cfg.MongoDB, logger), logger)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}

	if *connectNow {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		conn, err := a.coordinator.Connect(ctx, domain.ConnectionTarget{})
		cancel()
		if err != nil {
			logger.Fatal("Failed to connect to MongoDB", zap.Error(err))
		}
		logger.Info("MongoDB connected", zap.String("database", conn.Database))
	}

	if err := a.start(context.Background()); err != nil {
		logger.Fatal("Failed to start server", zap.Error(err))
	}

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	a.shutdown(ctx)

	logger.Info("Server exited")
}
