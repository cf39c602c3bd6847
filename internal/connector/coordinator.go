package connector

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/sirosfoundation/go-server-mongo/internal/domain"
)

// Coordinator is the single entry point for establishing database connections.
// It remembers the most recent successful connection as the current database.
type Coordinator struct {
	driver Driver
	logger *zap.Logger

	mu      sync.RWMutex
	current *Connection
}

// NewCoordinator creates a coordinator over driver
func NewCoordinator(driver Driver, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		driver: driver,
		logger: logger.Named("connector"),
	}
}

// Connect establishes (or reuses) a connection for target.
// Errors from the driver are returned as *ConnectionError and are never retried.
func (c *Coordinator) Connect(ctx context.Context, target domain.ConnectionTarget) (*Connection, error) {
	conn, err := c.driver.Connect(ctx, target)
	if err != nil {
		c.logger.Warn("MongoDB connect failed",
			zap.String("database", target.Database),
			zap.Error(err))
		var connErr *ConnectionError
		if !errors.As(err, &connErr) {
			err = &ConnectionError{URI: target.URI, Database: target.Database, Err: err}
		}
		return nil, err
	}

	c.mu.Lock()
	c.current = conn
	c.mu.Unlock()

	c.logger.Debug("MongoDB connection ready", zap.String("database", conn.Database))
	return conn, nil
}

// Current returns the most recently established connection
func (c *Coordinator) Current() (*Connection, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return nil, ErrNotConnected
	}
	return c.current, nil
}

// Close releases every connection held by the driver
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	c.current = nil
	c.mu.Unlock()
	return c.driver.Close(ctx)
}
