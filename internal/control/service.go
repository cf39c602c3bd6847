// Package control implements the control-plane operations that start, stop,
// inspect and connect MongoDB-backed peer servers.
package control

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-server-mongo/internal/connector"
	"github.com/sirosfoundation/go-server-mongo/internal/domain"
	"github.com/sirosfoundation/go-server-mongo/internal/metrics"
	"github.com/sirosfoundation/go-server-mongo/internal/peer"
	"github.com/sirosfoundation/go-server-mongo/internal/registry"
	"github.com/sirosfoundation/go-server-mongo/internal/transport"
)

// Connector establishes database connections
type Connector interface {
	Connect(ctx context.Context, target domain.ConnectionTarget) (*connector.Connection, error)
}

// StartRequest is the input of the start operation
type StartRequest struct {
	Port       *int                         `json:"port,omitempty" validate:"omitempty,min=0,max=65535"`
	Host       string                       `json:"host,omitempty"`
	MongoURI   string                       `json:"mongoUri,omitempty"`
	Database   string                       `json:"database,omitempty"`
	Transports []domain.TransportDescriptor `json:"transports,omitempty" validate:"omitempty,dive"`
}

// StartResponse is the output of the start operation
type StartResponse struct {
	ServerID       string            `json:"serverId"`
	Endpoints      []domain.Endpoint `json:"endpoints"`
	ProcedureCount int               `json:"procedureCount"`
}

// StopRequest is the input of the stop operation
type StopRequest struct {
	ServerID string `json:"serverId" validate:"required"`
}

// StopResponse is the output of the stop operation
type StopResponse struct {
	Success bool `json:"success"`
}

// StatusRequest is the input of the status operation; an empty ServerID selects all servers
type StatusRequest struct {
	ServerID string `json:"serverId,omitempty"`
}

// StatusResponse is the output of the status operation
type StatusResponse struct {
	Servers []domain.ServerInfo `json:"servers"`
}

// ConnectRequest is the input of the connect operation
type ConnectRequest struct {
	URI      string `json:"uri,omitempty"`
	Database string `json:"database,omitempty"`
}

// ConnectResponse is the output of the connect operation
type ConnectResponse struct {
	Success  bool   `json:"success"`
	Database string `json:"database"`
}

// Deps are the collaborators of a Service
type Deps struct {
	Registry     *registry.Registry
	Factory      peer.Factory
	Connector    Connector
	Defaults     transport.Defaults
	AutoRegister bool
	Logger       *zap.Logger
	Metrics      *metrics.Collector
}

// Service implements the control-plane operations
type Service struct {
	registry     *registry.Registry
	factory      peer.Factory
	connector    Connector
	defaults     transport.Defaults
	autoRegister bool
	logger       *zap.Logger
	metrics      *metrics.Collector
	validate     *validator.Validate
}

// New creates a Service. Registry, Factory and Connector are required.
func New(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := deps.Defaults
	if defaults == (transport.Defaults{}) {
		defaults = transport.StandardDefaults()
	}
	return &Service{
		registry:     deps.Registry,
		factory:      deps.Factory,
		connector:    deps.Connector,
		defaults:     defaults,
		autoRegister: deps.AutoRegister,
		logger:       logger.Named("control"),
		metrics:      deps.Metrics,
		validate:     newValidator(),
	}
}

// Start builds transports, connects when a target is given, then creates,
// starts and registers a peer. Nothing is registered on failure.
func (s *Service) Start(ctx context.Context, req StartRequest) (resp *StartResponse, err error) {
	defer func() { s.metrics.ObserveOperation("start", err) }()

	if err := validate(s.validate, req); err != nil {
		return nil, err
	}

	transports := s.defaults.Build(transport.Request{
		Port:       req.Port,
		Host:       req.Host,
		Transports: req.Transports,
	})

	target := domain.ConnectionTarget{URI: req.MongoURI, Database: req.Database}
	if !target.IsZero() {
		if _, err := s.connector.Connect(ctx, target); err != nil {
			return nil, err
		}
	}

	peerName := "peer-" + uuid.NewString()
	handle, err := s.factory.CreatePeer(ctx, peerName, transports, s.autoRegister)
	if err != nil {
		return nil, &PeerCreationError{Err: err}
	}
	if err := handle.Start(ctx); err != nil {
		return nil, &PeerCreationError{Err: err}
	}

	endpoints := handle.Endpoints()
	count := handle.ProcedureCount()
	id := s.registry.Register(handle, endpoints, count)

	s.logger.Info("Peer server started",
		zap.String("server_id", id),
		zap.String("peer", peerName),
		zap.Int("endpoints", len(endpoints)),
		zap.Int("procedures", count))

	return &StartResponse{
		ServerID:       id,
		Endpoints:      domain.CloneEndpoints(endpoints),
		ProcedureCount: count,
	}, nil
}

// Stop stops and removes a server. Unknown ids and peer stop failures yield Success=false.
func (s *Service) Stop(ctx context.Context, req StopRequest) (resp *StopResponse, err error) {
	defer func() { s.metrics.ObserveOperation("stop", err) }()

	if err := validate(s.validate, req); err != nil {
		return nil, err
	}
	return &StopResponse{Success: s.registry.Stop(ctx, req.ServerID)}, nil
}

// Status reports one server or all of them
func (s *Service) Status(ctx context.Context, req StatusRequest) (*StatusResponse, error) {
	if err := validate(s.validate, req); err != nil {
		return nil, err
	}
	return &StatusResponse{Servers: s.registry.Status(req.ServerID)}, nil
}

// Connect establishes a database connection and reports the resolved database name
func (s *Service) Connect(ctx context.Context, req ConnectRequest) (resp *ConnectResponse, err error) {
	defer func() { s.metrics.ObserveOperation("connect", err) }()

	if err := validate(s.validate, req); err != nil {
		return nil, err
	}
	conn, err := s.connector.Connect(ctx, domain.ConnectionTarget{URI: req.URI, Database: req.Database})
	if err != nil {
		return nil, err
	}
	return &ConnectResponse{Success: true, Database: conn.Database}, nil
}
