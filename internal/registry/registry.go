// Package registry tracks the peer servers started through the control plane.
//
// Every registered server gets an identifier of the form
// "mongo-server-<epochMillis>-<counter>". The counter is advanced under the same
// lock that guards the instance map, so identifiers are unique for the lifetime
// of the process even when two registrations land in the same millisecond.
//
// Peer start and stop calls may block; they are never made while the registry
// lock is held.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sirosfoundation/go-server-mongo/internal/domain"
)

// IDPrefix prefixes every generated server identifier
const IDPrefix = "mongo-server-"

// Peer is the running server owned by a registry entry
type Peer interface {
	Endpoints() []domain.Endpoint
	ProcedureCount() int
}

// Stopper is implemented by peers that can be shut down.
// Peers without it are removed on Stop without further action.
type Stopper interface {
	Stop(ctx context.Context) error
}

// Observer is notified about registry membership changes
type Observer interface {
	OnRegister(id string, running int)
	OnStop(id string, running int, err error)
}

// Instance is a registered server
type Instance struct {
	ID             string
	Peer           Peer
	Endpoints      []domain.Endpoint
	ProcedureCount int
	StartedAt      time.Time
}

// Info returns the status projection of the instance
func (i Instance) Info() domain.ServerInfo {
	return domain.ServerInfo{
		ID:             i.ID,
		Endpoints:      domain.CloneEndpoints(i.Endpoints),
		StartedAt:      domain.FormatTimestamp(i.StartedAt),
		ProcedureCount: i.ProcedureCount,
	}
}

type entry struct {
	instance Instance
	stopping bool
}

// Registry maps server identifiers to running peers
type Registry struct {
	logger   *zap.Logger
	now      func() time.Time
	observer Observer

	mu        sync.Mutex
	instances map[string]*entry
	order     []string
	counter   uint64
}

// Option configures a Registry
type Option func(*Registry)

// WithClock overrides the time source used for identifiers and start timestamps
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithObserver attaches an observer
func WithObserver(o Observer) Option {
	return func(r *Registry) { r.observer = o }
}

// New creates an empty registry
func New(logger *zap.Logger, opts ...Option) *Registry {
	r := &Registry{
		logger:    logger.Named("registry"),
		now:       time.Now,
		instances: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register stores a started peer and returns its new identifier
func (r *Registry) Register(peer Peer, endpoints []domain.Endpoint, procedureCount int) string {
	r.mu.Lock()
	now := r.now()
	r.counter++
	id := fmt.Sprintf("%s%d-%d", IDPrefix, now.UnixMilli(), r.counter)
	r.instances[id] = &entry{instance: Instance{
		ID:             id,
		Peer:           peer,
		Endpoints:      domain.CloneEndpoints(endpoints),
		ProcedureCount: procedureCount,
		StartedAt:      now,
	}}
	r.order = append(r.order, id)
	running := len(r.instances)
	r.mu.Unlock()

	r.logger.Info("Server registered",
		zap.String("server_id", id),
		zap.Int("endpoints", len(endpoints)),
		zap.Int("procedure_count", procedureCount))
	if r.observer != nil {
		r.observer.OnRegister(id, running)
	}
	return id
}

// Get returns a copy of the instance registered under id
func (r *Registry) Get(id string) (Instance, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.instances[id]
	if !ok {
		return Instance{}, false
	}
	inst := e.instance
	inst.Endpoints = domain.CloneEndpoints(inst.Endpoints)
	return inst, true
}

// Stop shuts down and removes the instance registered under id.
// It returns false when the id is unknown, when another Stop for the same id is
// in flight, or when the peer fails to stop. A failed stop leaves the instance
// registered so the call can be retried.
func (r *Registry) Stop(ctx context.Context, id string) bool {
	r.mu.Lock()
	e, ok := r.instances[id]
	if !ok {
		r.mu.Unlock()
		r.logger.Debug("Stop requested for unknown server", zap.String("server_id", id))
		return false
	}
	if e.stopping {
		r.mu.Unlock()
		r.logger.Debug("Stop already in progress", zap.String("server_id", id))
		return false
	}
	e.stopping = true
	peer := e.instance.Peer
	r.mu.Unlock()

	if err := stopPeer(ctx, peer); err != nil {
		r.mu.Lock()
		e.stopping = false
		running := len(r.instances)
		r.mu.Unlock()

		r.logger.Warn("Failed to stop server, keeping it registered",
			zap.String("server_id", id),
			zap.Error(err))
		if r.observer != nil {
			r.observer.OnStop(id, running, err)
		}
		return false
	}

	r.mu.Lock()
	delete(r.instances, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	running := len(r.instances)
	r.mu.Unlock()

	r.logger.Info("Server stopped", zap.String("server_id", id))
	if r.observer != nil {
		r.observer.OnStop(id, running, nil)
	}
	return true
}

// stopPeer invokes the peer's Stop capability, converting panics into errors
func stopPeer(ctx context.Context, peer Peer) (err error) {
	s, ok := peer.(Stopper)
	if !ok || s == nil {
		return nil
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("peer stop panicked: %v", rec)
		}
	}()
	return s.Stop(ctx)
}

// Status returns the status of the instance with the given id, or of all
// instances in registration order when id is empty.
func (r *Registry) Status(id string) []domain.ServerInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id != "" {
		e, ok := r.instances[id]
		if !ok {
			return []domain.ServerInfo{}
		}
		return []domain.ServerInfo{e.instance.Info()}
	}

	out := make([]domain.ServerInfo, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.instances[key].instance.Info())
	}
	return out
}

// Len returns the number of registered instances
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.instances)
}

// StopAll stops every registered instance and returns how many were removed
func (r *Registry) StopAll(ctx context.Context) int {
	r.mu.Lock()
	ids := append([]string(nil), r.order...)
	r.mu.Unlock()

	stopped := 0
	for _, id := range ids {
		if r.Stop(ctx, id) {
			stopped++
		}
	}
	return stopped
}
