package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-server-mongo/internal/metrics"
	"github.com/sirosfoundation/go-server-mongo/pkg/config"
	"github.com/sirosfoundation/go-server-mongo/pkg/middleware"
)

// RouteProvider contributes routes to the control-plane router
type RouteProvider interface {
	// Name returns the provider name for logging
	Name() string

	// RegisterRoutes adds routes to the protected group
	RegisterRoutes(router gin.IRouter)
}

// Manager builds the control-plane router and runs its HTTP server
type Manager struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Collector

	providers []RouteProvider
	status    gin.HandlerFunc

	mu         sync.Mutex
	router     *gin.Engine
	httpServer *http.Server
	listener   net.Listener
}

// NewManager creates a new server manager
func NewManager(cfg *config.Config, collector *metrics.Collector, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:       cfg,
		logger:    logger.Named("server"),
		metrics:   collector,
		providers: make([]RouteProvider, 0),
	}
}

// AddProvider adds a RouteProvider. Call this before Start.
func (m *Manager) AddProvider(p RouteProvider) {
	m.providers = append(m.providers, p)
	m.logger.Debug("Added route provider", zap.String("name", p.Name()))
}

// SetStatusHandler overrides the handler behind /health and /status
func (m *Manager) SetStatusHandler(h gin.HandlerFunc) {
	m.status = h
}

// Handler builds the router without starting a server
func (m *Manager) Handler() http.Handler {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.router == nil {
		m.router = m.buildRouter()
	}
	return m.router
}

// Start binds the listen address and serves in the background
func (m *Manager) Start(ctx context.Context) error {
	if m.cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	handler := m.Handler()

	addr := m.cfg.Server.Address()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	server := &http.Server{
		Handler:      handler,
		ReadTimeout:  time.Duration(m.cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(m.cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	m.mu.Lock()
	m.httpServer = server
	m.listener = ln
	m.mu.Unlock()

	go func() {
		m.logger.Info("HTTP server listening", zap.String("address", ln.Addr().String()))
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			m.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Addr returns the bound address, or nil before Start
func (m *Manager) Addr() net.Addr {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listener == nil {
		return nil
	}
	return m.listener.Addr()
}

// Shutdown gracefully shuts down the server
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	server := m.httpServer
	m.mu.Unlock()

	if server == nil {
		return nil
	}
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP server shutdown: %w", err)
	}
	return nil
}

// buildRouter creates the router with common middleware
func (m *Manager) buildRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(m.logger))
	if len(m.cfg.CORS.AllowedOrigins) > 0 {
		router.Use(cors.New(m.corsConfig()))
	}

	m.addStatusEndpoints(router)
	if m.cfg.Metrics.Enabled && m.metrics != nil {
		router.GET(m.cfg.Metrics.Path, gin.WrapH(m.metrics.Handler()))
	}

	protected := router.Group("/")
	protected.Use(middleware.AuthMiddleware(m.cfg.Auth, m.logger))
	if m.cfg.RateLimit.Enabled {
		protected.Use(middleware.RateLimitMiddleware(middleware.NewRateLimiter(m.cfg.RateLimit, m.logger)))
	}
	for _, p := range m.providers {
		m.logger.Info("Registering routes", zap.String("provider", p.Name()))
		p.RegisterRoutes(protected)
	}
	return router
}

func (m *Manager) corsConfig() cors.Config {
	cfg := cors.Config{
		AllowMethods:  m.cfg.CORS.AllowedMethods,
		AllowHeaders:  m.cfg.CORS.AllowedHeaders,
		ExposeHeaders: []string{middleware.RequestIDHeader},
		MaxAge:        time.Duration(m.cfg.CORS.MaxAge) * time.Second,
	}
	for _, o := range m.cfg.CORS.AllowedOrigins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	cfg.AllowOrigins = m.cfg.CORS.AllowedOrigins
	return cfg
}

// addStatusEndpoints adds /health and /status routes
func (m *Manager) addStatusEndpoints(router *gin.Engine) {
	handler := m.status
	if handler == nil {
		handler = func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		}
	}
	router.GET("/health", handler)
	router.GET("/status", handler)
}
