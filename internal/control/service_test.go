package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-server-mongo/internal/connector"
	"github.com/sirosfoundation/go-server-mongo/internal/domain"
	"github.com/sirosfoundation/go-server-mongo/internal/peer"
	"github.com/sirosfoundation/go-server-mongo/internal/procedure"
	"github.com/sirosfoundation/go-server-mongo/internal/registry"
)

type fakePeer struct {
	transports []domain.TransportDescriptor
	procedures int
	startErr   error
	stopErr    error

	mu      sync.Mutex
	started bool
	stopped int
}

func (p *fakePeer) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startErr != nil {
		return p.startErr
	}
	p.started = true
	return nil
}

func (p *fakePeer) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped++
	return p.stopErr
}

func (p *fakePeer) Endpoints() []domain.Endpoint {
	eps := make([]domain.Endpoint, 0, len(p.transports))
	for _, t := range p.transports {
		eps = append(eps, domain.Endpoint{Type: t.Type, Address: fmt.Sprintf("http://%s:%d%s", t.Host, t.Port, t.BasePath)})
	}
	return eps
}

func (p *fakePeer) ProcedureCount() int {
	return p.procedures
}

type fakeFactory struct {
	createErr error
	startErr  error

	mu    sync.Mutex
	peers []*fakePeer
	auto  []bool
}

func (f *fakeFactory) CreatePeer(ctx context.Context, id string, transports []domain.TransportDescriptor, autoRegister bool) (peer.Handle, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	p := &fakePeer{transports: transports, procedures: 4, startErr: f.startErr}
	f.mu.Lock()
	f.peers = append(f.peers, p)
	f.auto = append(f.auto, autoRegister)
	f.mu.Unlock()
	return p, nil
}

type fakeConnector struct {
	err     error
	targets []domain.ConnectionTarget
}

func (c *fakeConnector) Connect(ctx context.Context, target domain.ConnectionTarget) (*connector.Connection, error) {
	c.targets = append(c.targets, target)
	if c.err != nil {
		return nil, &connector.ConnectionError{URI: target.URI, Database: target.Database, Err: c.err}
	}
	name := target.Database
	if name == "" {
		name = "test"
	}
	return &connector.Connection{Database: name}, nil
}

type fixture struct {
	svc       *Service
	registry  *registry.Registry
	factory   *fakeFactory
	connector *fakeConnector
}

func newFixture() *fixture {
	f := &fixture{
		registry:  registry.New(zap.NewNop()),
		factory:   &fakeFactory{},
		connector: &fakeConnector{},
	}
	f.svc = New(Deps{
		Registry:     f.registry,
		Factory:      f.factory,
		Connector:    f.connector,
		AutoRegister: true,
		Logger:       zap.NewNop(),
	})
	return f
}

func intPtr(v int) *int { return &v }

// an empty request falls back to the default http transport
func TestStart_NoFields(t *testing.T) {
	f := newFixture()

	resp, err := f.svc.Start(context.Background(), StartRequest{})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(resp.ServerID, registry.IDPrefix))
	require.Len(t, resp.Endpoints, 1)
	assert.Equal(t, domain.TransportHTTP, resp.Endpoints[0].Type)
	assert.Equal(t, "http://0.0.0.0:3000/api", resp.Endpoints[0].Address)
	assert.GreaterOrEqual(t, resp.ProcedureCount, 0)

	assert.Empty(t, f.connector.targets, "no connection without a target")
	assert.Equal(t, []bool{true}, f.factory.auto)
	assert.True(t, f.factory.peers[0].started)
}

// port and host override the synthesized descriptor
func TestStart_PortAndHost(t *testing.T) {
	f := newFixture()

	resp, err := f.svc.Start(context.Background(), StartRequest{Port: intPtr(8080), Host: "127.0.0.1"})
	require.NoError(t, err)
	require.Len(t, resp.Endpoints, 1)
	assert.Contains(t, resp.Endpoints[0].Address, "127.0.0.1:8080")
}

// stopping an unknown id reports failure without an error
func TestStop_Unknown(t *testing.T) {
	f := newFixture()

	resp, err := f.svc.Stop(context.Background(), StopRequest{ServerID: "mongo-server-0-0"})
	require.NoError(t, err)
	assert.False(t, resp.Success)
}

// two starts yield distinct ids and stopping one leaves the other listed
func TestStartTwiceStopOne(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	first, err := f.svc.Start(ctx, StartRequest{})
	require.NoError(t, err)
	second, err := f.svc.Start(ctx, StartRequest{})
	require.NoError(t, err)
	assert.NotEqual(t, first.ServerID, second.ServerID)

	status, err := f.svc.Status(ctx, StatusRequest{})
	require.NoError(t, err)
	require.Len(t, status.Servers, 2)
	assert.Equal(t, first.ServerID, status.Servers[0].ID)
	assert.Equal(t, second.ServerID, status.Servers[1].ID)

	stopped, err := f.svc.Stop(ctx, StopRequest{ServerID: first.ServerID})
	require.NoError(t, err)
	assert.True(t, stopped.Success)

	status, err = f.svc.Status(ctx, StatusRequest{})
	require.NoError(t, err)
	require.Len(t, status.Servers, 1)
	assert.Equal(t, second.ServerID, status.Servers[0].ID)

	one, err := f.svc.Status(ctx, StatusRequest{ServerID: second.ServerID})
	require.NoError(t, err)
	assert.Len(t, one.Servers, 1)

	none, err := f.svc.Status(ctx, StatusRequest{ServerID: first.ServerID})
	require.NoError(t, err)
	assert.NotNil(t, none.Servers)
	assert.Empty(t, none.Servers)
}

// a database without a uri reuses the configured deployment
func TestConnect_DatabaseOnly(t *testing.T) {
	f := newFixture()

	resp, err := f.svc.Connect(context.Background(), ConnectRequest{Database: "testdb"})
	require.NoError(t, err)
	assert.Equal(t, &ConnectResponse{Success: true, Database: "testdb"}, resp)
	assert.Equal(t, []domain.ConnectionTarget{{Database: "testdb"}}, f.connector.targets)
}

func TestConnect_Failure(t *testing.T) {
	f := newFixture()
	f.connector.err = errors.New("connection refused")

	_, err := f.svc.Connect(context.Background(), ConnectRequest{URI: "mongodb://nowhere:1"})
	var connErr *connector.ConnectionError
	require.ErrorAs(t, err, &connErr)
}

func TestStart_ConnectsWhenTargetGiven(t *testing.T) {
	f := newFixture()

	_, err := f.svc.Start(context.Background(), StartRequest{MongoURI: "mongodb://db:27017", Database: "app"})
	require.NoError(t, err)
	assert.Equal(t, []domain.ConnectionTarget{{URI: "mongodb://db:27017", Database: "app"}}, f.connector.targets)
}

func TestStart_ConnectionFailureRegistersNothing(t *testing.T) {
	f := newFixture()
	f.connector.err = errors.New("unreachable")

	_, err := f.svc.Start(context.Background(), StartRequest{Database: "app"})
	var connErr *connector.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Empty(t, f.factory.peers, "peer is not created after a failed connect")
	assert.Equal(t, 0, f.registry.Len())
}

func TestStart_PeerFailures(t *testing.T) {
	t.Run("create", func(t *testing.T) {
		f := newFixture()
		f.factory.createErr = errors.New("bad transport")

		_, err := f.svc.Start(context.Background(), StartRequest{})
		var peerErr *PeerCreationError
		require.ErrorAs(t, err, &peerErr)
		assert.Equal(t, 0, f.registry.Len())
	})

	t.Run("start", func(t *testing.T) {
		f := newFixture()
		f.factory.startErr = errors.New("address in use")

		_, err := f.svc.Start(context.Background(), StartRequest{})
		var peerErr *PeerCreationError
		require.ErrorAs(t, err, &peerErr)
		assert.Equal(t, http.StatusInternalServerError, peerErr.HTTPStatus())
		assert.Equal(t, 0, f.registry.Len())
	})
}

func TestStart_ExplicitTransports(t *testing.T) {
	f := newFixture()

	resp, err := f.svc.Start(context.Background(), StartRequest{
		Port: intPtr(9999),
		Transports: []domain.TransportDescriptor{
			{Type: domain.TransportWebSocket, Host: "localhost", Port: 4000, Path: "/ws"},
			{Type: domain.TransportLocal},
		},
	})
	require.NoError(t, err)
	require.Len(t, resp.Endpoints, 2)
	assert.Equal(t, domain.TransportWebSocket, resp.Endpoints[0].Type)
	assert.Equal(t, domain.TransportLocal, resp.Endpoints[1].Type)
	assert.NotContains(t, resp.Endpoints[0].Address, "9999", "explicit transports are used verbatim")
}

func TestStop_PeerFailureKeepsServer(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	started, err := f.svc.Start(ctx, StartRequest{})
	require.NoError(t, err)
	f.factory.peers[0].stopErr = errors.New("stuck")

	resp, err := f.svc.Stop(ctx, StopRequest{ServerID: started.ServerID})
	require.NoError(t, err)
	assert.False(t, resp.Success)

	status, err := f.svc.Status(ctx, StatusRequest{ServerID: started.ServerID})
	require.NoError(t, err)
	assert.Len(t, status.Servers, 1)
}

func TestValidation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	tests := []struct {
		name string
		call func() error
		path string
	}{
		{"stop without id", func() error {
			_, err := f.svc.Stop(ctx, StopRequest{})
			return err
		}, "serverId"},
		{"port out of range", func() error {
			_, err := f.svc.Start(ctx, StartRequest{Port: intPtr(70000)})
			return err
		}, "port"},
		{"negative port", func() error {
			_, err := f.svc.Start(ctx, StartRequest{Port: intPtr(-1)})
			return err
		}, "port"},
		{"unknown transport type", func() error {
			_, err := f.svc.Start(ctx, StartRequest{Transports: []domain.TransportDescriptor{{Type: "smtp"}}})
			return err
		}, "transports[0].type"},
		{"base path without slash", func() error {
			_, err := f.svc.Start(ctx, StartRequest{Transports: []domain.TransportDescriptor{{Type: domain.TransportHTTP, BasePath: "api"}}})
			return err
		}, "transports[0].basePath"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			require.NotEmpty(t, verr.Issues)
			assert.Equal(t, tt.path, verr.Issues[0].Path)
			assert.NotEmpty(t, verr.Issues[0].Message)

			status, body := procedure.ErrorFrom(err)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Equal(t, CodeValidation, body.Code)
			assert.Equal(t, verr.Issues, body.Details)
		})
	}
	assert.Empty(t, f.factory.peers, "validation failures never reach the factory")
}

func TestRegister_Procedures(t *testing.T) {
	f := newFixture()
	catalog := procedure.NewCatalog()
	require.NoError(t, f.svc.Register(catalog))

	paths := make([]string, 0)
	for _, info := range catalog.List() {
		paths = append(paths, info.Path)
	}
	assert.Equal(t, []string{"server.mongo.connect", "server.mongo.start", "server.mongo.status", "server.mongo.stop"}, paths)

	ctx := context.Background()
	out, err := catalog.Call(ctx, "server.mongo.start", json.RawMessage(`{"port":8081,"host":"127.0.0.1","unknown":true}`))
	require.NoError(t, err)
	started := out.(*StartResponse)
	assert.Contains(t, started.Endpoints[0].Address, "127.0.0.1:8081")

	encoded, err := json.Marshal(started)
	require.NoError(t, err)
	assert.Contains(t, string(encoded), `"serverId"`)
	assert.Contains(t, string(encoded), `"procedureCount"`)

	out, err = catalog.Call(ctx, "server/mongo/status", nil)
	require.NoError(t, err)
	assert.Len(t, out.(*StatusResponse).Servers, 1)

	_, err = catalog.Call(ctx, "server.mongo.stop", json.RawMessage(`{}`))
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)

	out, err = catalog.Call(ctx, "server.mongo.stop", json.RawMessage(`{"serverId":"`+started.ServerID+`"}`))
	require.NoError(t, err)
	assert.True(t, out.(*StopResponse).Success)

	assert.Error(t, f.svc.Register(catalog), "registering twice is rejected")
}

func TestRegister_WrongTypedFieldsAreValidationErrors(t *testing.T) {
	f := newFixture()
	catalog := procedure.NewCatalog()
	require.NoError(t, f.svc.Register(catalog))

	tests := []struct {
		name    string
		path    string
		input   string
		field   string
		message string
	}{
		{"numeric server id", "server.mongo.stop", `{"serverId":123}`, "serverId", "must be a string"},
		{"string port", "server.mongo.start", `{"port":"8080"}`, "port", "must be an integer"},
		{"object database", "server.mongo.connect", `{"database":{}}`, "database", "must be a string"},
		{"transports not an array", "server.mongo.start", `{"transports":"http"}`, "transports", "must be an array"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := catalog.Call(context.Background(), tt.path, json.RawMessage(tt.input))

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			require.Len(t, verr.Issues, 1)
			assert.Equal(t, tt.field, verr.Issues[0].Path)
			assert.Equal(t, tt.message, verr.Issues[0].Message)

			status, body := procedure.ErrorFrom(err)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Equal(t, CodeValidation, body.Code)
			assert.NotNil(t, body.Details)
		})
	}

	_, err := catalog.Call(context.Background(), "server.mongo.stop", json.RawMessage(`{"serverId":`))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Empty(t, verr.Issues[0].Path)
	assert.Empty(t, f.factory.peers)
}

func TestStart_ConcurrentDistinctIDs(t *testing.T) {
	f := newFixture()

	const n = 32
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := f.svc.Start(context.Background(), StartRequest{})
			if assert.NoError(t, err) {
				ids <- resp.ServerID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
}
