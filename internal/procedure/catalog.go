// Package procedure provides the path-addressed catalog of remote-callable
// operations. Peers created with auto-registration serve a snapshot of it.
package procedure

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrNotFound is returned when no procedure is registered at a path
	ErrNotFound = errors.New("procedure not found")
	// ErrAlreadyRegistered is returned when registering a path twice
	ErrAlreadyRegistered = errors.New("procedure already registered")
)

// Path addresses a procedure, e.g. ["server", "mongo", "start"]
type Path []string

// String returns the dotted form of the path
func (p Path) String() string {
	return strings.Join(p, ".")
}

// ParsePath accepts dotted ("server.mongo.start") or slashed ("server/mongo/start") paths
func ParsePath(s string) Path {
	s = strings.Trim(s, "/.")
	if s == "" {
		return nil
	}
	return Path(strings.FieldsFunc(s, func(r rune) bool { return r == '.' || r == '/' }))
}

// Handler executes a procedure with raw JSON input
type Handler func(ctx context.Context, input json.RawMessage) (interface{}, error)

// Meta describes a procedure for listings and CLI generation
type Meta struct {
	Description string            `json:"description"`
	Args        []string          `json:"args,omitempty"`
	Shorts      map[string]string `json:"shorts,omitempty"`
	Output      string            `json:"output,omitempty"`
}

// Procedure is a registered operation
type Procedure struct {
	Path    Path
	Meta    Meta
	Handler Handler
}

// Info is the listing view of a procedure
type Info struct {
	Path string `json:"path"`
	Meta Meta   `json:"meta"`
}

// InputError reports a request body that could not be decoded
type InputError struct {
	Err error
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid input: %v", e.Err)
}

func (e *InputError) Unwrap() error {
	return e.Err
}

// Catalog holds procedures keyed by dotted path
type Catalog struct {
	mu    sync.RWMutex
	procs map[string]Procedure
}

// NewCatalog creates an empty catalog
func NewCatalog() *Catalog {
	return &Catalog{procs: make(map[string]Procedure)}
}

// Register adds procedures; the whole batch is rejected if any path is taken
func (c *Catalog) Register(procs ...Procedure) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, p := range procs {
		key := p.Path.String()
		if key == "" || p.Handler == nil {
			return fmt.Errorf("procedure %q: path and handler are required", key)
		}
		if _, exists := c.procs[key]; exists {
			return fmt.Errorf("%w: %s", ErrAlreadyRegistered, key)
		}
	}
	for _, p := range procs {
		c.procs[p.Path.String()] = p
	}
	return nil
}

// Lookup returns the procedure registered at path
func (c *Catalog) Lookup(path string) (Procedure, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.procs[ParsePath(path).String()]
	return p, ok
}

// Call dispatches input to the procedure at path
func (c *Catalog) Call(ctx context.Context, path string, input json.RawMessage) (interface{}, error) {
	p, ok := c.Lookup(path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return p.Handler(ctx, input)
}

// Len returns the number of registered procedures
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.procs)
}

// List returns procedure infos sorted by path
func (c *Catalog) List() []Info {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Info, 0, len(c.procs))
	for key, p := range c.procs {
		out = append(out, Info{Path: key, Meta: p.Meta})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Snapshot returns an independent copy of the catalog
func (c *Catalog) Snapshot() *Catalog {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cp := NewCatalog()
	for k, v := range c.procs {
		cp.procs[k] = v
	}
	return cp
}

// Typed adapts a typed function into a Handler. Empty or null input decodes to the zero value;
// unknown fields are ignored.
func Typed[I any, O any](fn func(ctx context.Context, in I) (O, error)) Handler {
	return func(ctx context.Context, input json.RawMessage) (interface{}, error) {
		var in I
		trimmed := bytes.TrimSpace(input)
		if len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
			if err := json.Unmarshal(trimmed, &in); err != nil {
				return nil, &InputError{Err: err}
			}
		}
		return fn(ctx, in)
	}
}
