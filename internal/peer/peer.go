// Package peer creates and runs the network peers that serve procedures.
//
// A peer owns one listening surface per transport descriptor:
//   - http: a gin router exposing the procedure catalog under BasePath
//   - websocket: a gorilla/websocket endpoint at Path speaking RPC frames
//   - local: no listener; callers dispatch through Peer.Call
//
// Listeners are bound in Start so that port 0 resolves to an ephemeral port
// before endpoints are reported.
package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/sirosfoundation/go-server-mongo/internal/domain"
	"github.com/sirosfoundation/go-server-mongo/internal/procedure"
)

var (
	// ErrAlreadyStarted is returned when Start is called twice
	ErrAlreadyStarted = errors.New("peer already started")
	// ErrStopped is returned when starting a peer that has been stopped
	ErrStopped = errors.New("peer stopped")
)

// Handle is a started-or-startable peer as seen by the control plane
type Handle interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Endpoints() []domain.Endpoint
	ProcedureCount() int
}

// Factory creates peers
type Factory interface {
	CreatePeer(ctx context.Context, id string, transports []domain.TransportDescriptor, autoRegister bool) (Handle, error)
}

// ServerFactory builds peers over a shared procedure catalog
type ServerFactory struct {
	catalog *procedure.Catalog
	logger  *zap.Logger
}

// NewFactory creates a factory. Peers created with autoRegister serve a
// snapshot of catalog taken at creation time.
func NewFactory(catalog *procedure.Catalog, logger *zap.Logger) *ServerFactory {
	return &ServerFactory{
		catalog: catalog,
		logger:  logger.Named("peer"),
	}
}

// CreatePeer validates transports and returns an unstarted peer
func (f *ServerFactory) CreatePeer(ctx context.Context, id string, transports []domain.TransportDescriptor, autoRegister bool) (Handle, error) {
	for i, t := range transports {
		if err := checkDescriptor(t); err != nil {
			return nil, fmt.Errorf("transport %d: %w", i, err)
		}
	}

	catalog := procedure.NewCatalog()
	if autoRegister && f.catalog != nil {
		catalog = f.catalog.Snapshot()
	}

	descriptors := make([]domain.TransportDescriptor, len(transports))
	for i, t := range transports {
		descriptors[i] = t.Clone()
	}

	return &Peer{
		id:         id,
		transports: descriptors,
		catalog:    catalog,
		logger:     f.logger.With(zap.String("peer_id", id)),
	}, nil
}

func checkDescriptor(t domain.TransportDescriptor) error {
	if !t.Type.IsValid() {
		return fmt.Errorf("unsupported transport type %q", t.Type)
	}
	if t.Port < 0 || t.Port > 65535 {
		return fmt.Errorf("invalid port %d", t.Port)
	}
	for _, origin := range t.CORSOrigins {
		if origin == "*" {
			continue
		}
		if !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
			return fmt.Errorf("invalid CORS origin %q: must start with http:// or https://", origin)
		}
	}
	return nil
}

// Peer is a procedure server with zero or more listening surfaces
type Peer struct {
	id         string
	transports []domain.TransportDescriptor
	catalog    *procedure.Catalog
	logger     *zap.Logger

	mu        sync.Mutex
	started   bool
	stopped   bool
	listeners []listener
	endpoints []domain.Endpoint
}

// listener is one bound transport
type listener interface {
	endpoint() domain.Endpoint
	shutdown(ctx context.Context) error
}

// ID returns the name the peer was created with
func (p *Peer) ID() string {
	return p.id
}

// Start binds every transport. If any transport fails, listeners already
// opened are closed and the error is returned.
func (p *Peer) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return ErrStopped
	}
	if p.started {
		return ErrAlreadyStarted
	}

	var opened []listener
	for _, t := range p.transports {
		l, err := p.open(t)
		if err != nil {
			for _, o := range opened {
				_ = o.shutdown(ctx)
			}
			return fmt.Errorf("failed to start %s transport: %w", t.Type, err)
		}
		opened = append(opened, l)
	}

	p.listeners = opened
	p.endpoints = make([]domain.Endpoint, 0, len(opened))
	for _, l := range opened {
		ep := l.endpoint()
		p.endpoints = append(p.endpoints, ep)
		p.logger.Info("Peer transport listening",
			zap.String("type", string(ep.Type)),
			zap.String("address", ep.Address))
	}
	p.started = true
	return nil
}

func (p *Peer) open(t domain.TransportDescriptor) (listener, error) {
	switch t.Type {
	case domain.TransportHTTP:
		return openHTTP(t, p.catalog, p.logger)
	case domain.TransportWebSocket:
		return openWebSocket(t, p.catalog, p.logger)
	case domain.TransportLocal:
		return localListener{id: p.id}, nil
	default:
		return nil, fmt.Errorf("unsupported transport type %q", t.Type)
	}
}

// Stop shuts down every listener. Stopping twice is a no-op.
func (p *Peer) Stop(ctx context.Context) error {
	p.mu.Lock()
	listeners := p.listeners
	p.listeners = nil
	p.stopped = true
	p.mu.Unlock()

	var errs []error
	for _, l := range listeners {
		if err := l.shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(listeners) > 0 {
		p.logger.Info("Peer stopped")
	}
	return errors.Join(errs...)
}

// Endpoints returns the bound addresses; empty before Start
func (p *Peer) Endpoints() []domain.Endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()
	return domain.CloneEndpoints(p.endpoints)
}

// ProcedureCount returns the number of procedures the peer serves
func (p *Peer) ProcedureCount() int {
	return p.catalog.Len()
}

// Call dispatches a procedure in-process
func (p *Peer) Call(ctx context.Context, path string, input json.RawMessage) (interface{}, error) {
	return p.catalog.Call(ctx, path, input)
}

type localListener struct {
	id string
}

func (l localListener) endpoint() domain.Endpoint {
	return domain.Endpoint{Type: domain.TransportLocal, Address: "local://" + l.id}
}

func (l localListener) shutdown(context.Context) error {
	return nil
}
