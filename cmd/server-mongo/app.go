package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sirosfoundation/go-server-mongo/internal/api"
	"github.com/sirosfoundation/go-server-mongo/internal/connector"
	"github.com/sirosfoundation/go-server-mongo/internal/control"
	"github.com/sirosfoundation/go-server-mongo/internal/metrics"
	"github.com/sirosfoundation/go-server-mongo/internal/peer"
	"github.com/sirosfoundation/go-server-mongo/internal/procedure"
	"github.com/sirosfoundation/go-server-mongo/internal/procedure/mongoproc"
	"github.com/sirosfoundation/go-server-mongo/internal/registry"
	"github.com/sirosfoundation/go-server-mongo/internal/server"
	"github.com/sirosfoundation/go-server-mongo/internal/transport"
	"github.com/sirosfoundation/go-server-mongo/pkg/config"
)

// app is the wired control plane
type app struct {
	logger      *zap.Logger
	registry    *registry.Registry
	coordinator *connector.Coordinator
	catalog     *procedure.Catalog
	manager     *server.Manager
}

// newApp wires every component from cfg. The coordinator uses driver, which
// is the MongoDB driver in production.
func newApp(cfg *config.Config, driver connector.Driver, logger *zap.Logger) (*app, error) {
	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(cfg.Metrics, nil)
	}

	coordinator := connector.NewCoordinator(driver, logger)

	opts := []registry.Option{}
	if collector != nil {
		opts = append(opts, registry.WithObserver(collector))
	}
	reg := registry.New(logger, opts...)

	// Procedures registered here are served by the control plane and by every
	// auto-registering peer started after this point.
	catalog := procedure.NewCatalog()
	svc := control.New(control.Deps{
		Registry:  reg,
		Factory:   peer.NewFactory(catalog, logger),
		Connector: coordinator,
		Defaults: transport.Defaults{
			Port:     cfg.Peer.DefaultPort,
			Host:     cfg.Peer.DefaultHost,
			BasePath: cfg.Peer.DefaultBasePath,
			CORS:     true,
		},
		AutoRegister: cfg.Peer.AutoRegister,
		Logger:       logger,
		Metrics:      collector,
	})
	if err := svc.Register(catalog); err != nil {
		return nil, fmt.Errorf("failed to register control procedures: %w", err)
	}
	if err := mongoproc.New(coordinator).Register(catalog); err != nil {
		return nil, fmt.Errorf("failed to register mongo procedures: %w", err)
	}

	handlers := api.NewHandlers(catalog, reg, collector, logger)
	mgr := server.NewManager(cfg, collector, logger)
	mgr.SetStatusHandler(handlers.Status)
	mgr.AddProvider(server.NewControlProvider(handlers))

	return &app{
		logger:      logger,
		registry:    reg,
		coordinator: coordinator,
		catalog:     catalog,
		manager:     mgr,
	}, nil
}

// start begins serving the control plane
func (a *app) start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// shutdown stops the control plane, every registered peer and all database clients
func (a *app) shutdown(ctx context.Context) {
	if err := a.manager.Shutdown(ctx); err != nil {
		a.logger.Error("Server forced to shutdown", zap.Error(err))
	}
	if n := a.registry.StopAll(ctx); n > 0 {
		a.logger.Info("Stopped peer servers", zap.Int("count", n))
	}
	if err := a.coordinator.Close(ctx); err != nil {
		a.logger.Error("Failed to close MongoDB connections", zap.Error(err))
	}
}
