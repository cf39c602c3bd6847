// Package connector establishes and memoizes MongoDB connections for the
// control plane and for the data-plane procedures served by peers.
package connector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sirosfoundation/go-server-mongo/internal/domain"
	"github.com/sirosfoundation/go-server-mongo/pkg/config"
)

// ErrNotConnected is returned by Current before any successful Connect
var ErrNotConnected = errors.New("no database connection established")

// ConnectionError reports an unreachable or malformed connection target
type ConnectionError struct {
	URI      string
	Database string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to MongoDB (database %q): %v", e.Database, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Code returns the RPC error code for connection failures
func (e *ConnectionError) Code() string {
	return "CONNECTION_ERROR"
}

// HTTPStatus maps connection failures to 502 Bad Gateway
func (e *ConnectionError) HTTPStatus() int {
	return http.StatusBadGateway
}

// Connection is a resolved database handle
type Connection struct {
	Database string
	DB       *mongo.Database
}

// Driver opens database handles for a target
type Driver interface {
	Connect(ctx context.Context, target domain.ConnectionTarget) (*Connection, error)
	Close(ctx context.Context) error
}

// dialFunc creates a connected client for a URI
type dialFunc func(ctx context.Context, uri string, timeout time.Duration) (*mongo.Client, error)

// MongoDriver implements Driver on top of the official MongoDB driver.
// One client is kept per URI; concurrent first connects to the same URI share a single dial.
type MongoDriver struct {
	cfg    config.MongoDBConfig
	logger *zap.Logger
	dial   dialFunc

	mu      sync.Mutex
	clients map[string]*mongo.Client
	group   singleflight.Group
}

// NewMongoDriver creates a driver using cfg for the default URI and database
func NewMongoDriver(cfg config.MongoDBConfig, logger *zap.Logger) *MongoDriver {
	return &MongoDriver{
		cfg:     cfg,
		logger:  logger.Named("mongo-driver"),
		dial:    dialMongo,
		clients: make(map[string]*mongo.Client),
	}
}

func dialMongo(ctx context.Context, uri string, timeout time.Duration) (*mongo.Client, error) {
	clientOptions := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(timeout)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, err
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return client, nil
}

// Connect resolves target against the configured defaults and returns a database handle
func (d *MongoDriver) Connect(ctx context.Context, target domain.ConnectionTarget) (*Connection, error) {
	uri := target.URI
	if uri == "" {
		uri = d.cfg.URI
	}
	if uri == "" {
		return nil, &ConnectionError{Database: target.Database, Err: errors.New("no connection uri configured")}
	}

	database, err := resolveDatabase(uri, target.Database, d.cfg.Database)
	if err != nil {
		return nil, &ConnectionError{URI: uri, Database: target.Database, Err: err}
	}

	client, err := d.client(ctx, uri)
	if err != nil {
		return nil, &ConnectionError{URI: uri, Database: database, Err: err}
	}

	return &Connection{Database: database, DB: client.Database(database)}, nil
}

func (d *MongoDriver) client(ctx context.Context, uri string) (*mongo.Client, error) {
	d.mu.Lock()
	client, ok := d.clients[uri]
	d.mu.Unlock()
	if ok {
		return client, nil
	}

	v, err, shared := d.group.Do(uri, func() (interface{}, error) {
		d.mu.Lock()
		if existing, ok := d.clients[uri]; ok {
			d.mu.Unlock()
			return existing, nil
		}
		d.mu.Unlock()

		timeout := time.Duration(d.cfg.Timeout) * time.Second
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		// callers joining this dial share its result, so it must outlive the
		// first caller's cancellation
		dialCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()

		c, err := d.dial(dialCtx, uri, timeout)
		if err != nil {
			return nil, err
		}

		d.mu.Lock()
		d.clients[uri] = c
		d.mu.Unlock()

		d.logger.Info("Connected to MongoDB", zap.String("uri", redactURI(uri)))
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		d.logger.Debug("Joined in-flight MongoDB connect", zap.String("uri", redactURI(uri)))
	}
	return v.(*mongo.Client), nil
}

// Close disconnects every memoized client
func (d *MongoDriver) Close(ctx context.Context) error {
	d.mu.Lock()
	clients := d.clients
	d.clients = make(map[string]*mongo.Client)
	d.mu.Unlock()

	var errs []error
	for uri, c := range clients {
		if err := c.Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("disconnect %s: %w", redactURI(uri), err))
		}
	}
	return errors.Join(errs...)
}

// resolveDatabase picks the explicit name, then the database in the URI path, then the fallback
func resolveDatabase(uri, explicit, fallback string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	cs, err := connstring.ParseAndValidate(uri)
	if err != nil {
		return "", fmt.Errorf("invalid connection uri: %w", err)
	}
	if cs.Database != "" {
		return cs.Database, nil
	}
	if fallback != "" {
		return fallback, nil
	}
	return "test", nil
}

// redactURI strips credentials before logging
func redactURI(uri string) string {
	cs, err := connstring.ParseAndValidate(uri)
	if err != nil || cs.Username == "" {
		return uri
	}
	return cs.Scheme + "://***@" + strings.Join(cs.Hosts, ",")
}
