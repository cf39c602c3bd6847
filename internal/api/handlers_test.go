package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-server-mongo/internal/connector"
	"github.com/sirosfoundation/go-server-mongo/internal/control"
	"github.com/sirosfoundation/go-server-mongo/internal/domain"
	"github.com/sirosfoundation/go-server-mongo/internal/peer"
	"github.com/sirosfoundation/go-server-mongo/internal/procedure"
	"github.com/sirosfoundation/go-server-mongo/internal/registry"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubConnector struct {
	err error
}

func (s stubConnector) Connect(ctx context.Context, target domain.ConnectionTarget) (*connector.Connection, error) {
	if s.err != nil {
		return nil, &connector.ConnectionError{URI: target.URI, Database: target.Database, Err: s.err}
	}
	return &connector.Connection{Database: target.Database}, nil
}

func setupTestHandlers(t *testing.T, conn control.Connector) (*registry.Registry, *gin.Engine) {
	t.Helper()
	logger := zap.NewNop()

	catalog := procedure.NewCatalog()
	reg := registry.New(logger)
	svc := control.New(control.Deps{
		Registry:     reg,
		Factory:      peer.NewFactory(catalog, logger),
		Connector:    conn,
		AutoRegister: true,
		Logger:       logger,
	})
	if err := svc.Register(catalog); err != nil {
		t.Fatalf("register control procedures: %v", err)
	}
	if err := catalog.Register(procedure.Procedure{
		Path: procedure.Path{"test", "fail"},
		Handler: func(context.Context, json.RawMessage) (interface{}, error) {
			return nil, errors.New("unexpected")
		},
	}); err != nil {
		t.Fatalf("register test procedure: %v", err)
	}
	t.Cleanup(func() { reg.StopAll(context.Background()) })

	handlers := NewHandlers(catalog, reg, nil, logger)
	router := gin.New()
	router.GET("/status", handlers.Status)
	router.GET("/procedures", handlers.ListProcedures)
	router.POST("/procedures/:path", handlers.CallProcedure)
	router.POST("/rpc", handlers.RPC)
	return reg, router
}

func do(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	return response
}

func TestHandlers_Status(t *testing.T) {
	_, router := setupTestHandlers(t, stubConnector{})

	w := do(router, http.MethodGet, "/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	response := decodeResponse(t, w)
	if response["status"] != "ok" {
		t.Errorf("Expected status 'ok', got %v", response["status"])
	}
	if response["service"] != ServiceName {
		t.Errorf("Expected service %q, got %v", ServiceName, response["service"])
	}
	if response["servers"] != float64(0) {
		t.Errorf("Expected 0 servers, got %v", response["servers"])
	}
}

func TestHandlers_ListProcedures(t *testing.T) {
	_, router := setupTestHandlers(t, stubConnector{})

	w := do(router, http.MethodGet, "/procedures", "")
	var response struct {
		Procedures []procedure.Info `json:"procedures"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if len(response.Procedures) != 5 {
		t.Fatalf("Expected 5 procedures, got %d", len(response.Procedures))
	}
	if response.Procedures[0].Path != "server.mongo.connect" {
		t.Errorf("Expected sorted listing, got %q first", response.Procedures[0].Path)
	}
}

func TestHandlers_StartStatusStopOverRPC(t *testing.T) {
	reg, router := setupTestHandlers(t, stubConnector{})

	w := do(router, http.MethodPost, "/rpc", `{"id":"req-1","path":["server","mongo","start"],"input":{"transports":[{"type":"local"}]}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	var started struct {
		ID     string                `json:"id"`
		Output control.StartResponse `json:"output"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &started); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if started.ID != "req-1" {
		t.Errorf("Expected envelope id to be echoed, got %q", started.ID)
	}
	if len(started.Output.Endpoints) != 1 || started.Output.Endpoints[0].Type != domain.TransportLocal {
		t.Fatalf("Expected one local endpoint, got %+v", started.Output.Endpoints)
	}
	if started.Output.ProcedureCount != 5 {
		t.Errorf("Expected auto-registered procedure count 5, got %d", started.Output.ProcedureCount)
	}
	if reg.Len() != 1 {
		t.Fatalf("Expected 1 registered server, got %d", reg.Len())
	}

	w = do(router, http.MethodPost, "/procedures/server.mongo.status", `{}`)
	var status struct {
		Output control.StatusResponse `json:"output"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if len(status.Output.Servers) != 1 || status.Output.Servers[0].ID != started.Output.ServerID {
		t.Fatalf("Expected status to list %s, got %+v", started.Output.ServerID, status.Output.Servers)
	}

	w = do(router, http.MethodPost, "/rpc", `{"path":"server.mongo.stop","input":{"serverId":"`+started.Output.ServerID+`"}}`)
	response := decodeResponse(t, w)
	if response["id"] == "" || response["id"] == nil {
		t.Error("Expected a generated envelope id")
	}
	output, _ := response["output"].(map[string]interface{})
	if output["success"] != true {
		t.Errorf("Expected success true, got %v", response)
	}
	if reg.Len() != 0 {
		t.Errorf("Expected no registered servers, got %d", reg.Len())
	}
}

func TestHandlers_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		conn       control.Connector
		path       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"validation", stubConnector{}, "/procedures/server.mongo.stop", `{}`, http.StatusBadRequest, control.CodeValidation},
		{"malformed input", stubConnector{}, "/procedures/server.mongo.stop", `{"serverId":`, http.StatusBadRequest, control.CodeValidation},
		{"wrong field type", stubConnector{}, "/procedures/server.mongo.stop", `{"serverId":123}`, http.StatusBadRequest, control.CodeValidation},
		{"unknown procedure", stubConnector{}, "/procedures/server.mongo.restart", `{}`, http.StatusNotFound, procedure.CodeNotFound},
		{"connection", stubConnector{err: errors.New("refused")}, "/procedures/server.mongo.connect", `{"database":"x"}`, http.StatusBadGateway, "CONNECTION_ERROR"},
		{"peer creation", stubConnector{}, "/procedures/server.mongo.start", `{"transports":[{"type":"http","host":"127.0.0.1","cors":true,"corsOrigins":["not-a-url"]}]}`, http.StatusInternalServerError, control.CodePeerCreation},
		{"internal", stubConnector{}, "/procedures/test.fail", `{}`, http.StatusInternalServerError, procedure.CodeInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, router := setupTestHandlers(t, tt.conn)
			w := do(router, http.MethodPost, tt.path, tt.body)
			if w.Code != tt.wantStatus {
				t.Fatalf("Expected status %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}
			var resp procedure.Response
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("Failed to parse response: %v", err)
			}
			if resp.Error == nil || resp.Error.Code != tt.wantCode {
				t.Errorf("Expected code %s, got %+v", tt.wantCode, resp.Error)
			}
		})
	}
}

func TestHandlers_ValidationDetails(t *testing.T) {
	_, router := setupTestHandlers(t, stubConnector{})

	w := do(router, http.MethodPost, "/rpc", `{"path":"server.mongo.start","input":{"port":70000}}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
	var resp struct {
		Error struct {
			Details []control.Issue `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if len(resp.Error.Details) != 1 || resp.Error.Details[0].Path != "port" {
		t.Errorf("Expected a single issue on port, got %+v", resp.Error.Details)
	}
}

func TestHandlers_RPCBadEnvelope(t *testing.T) {
	_, router := setupTestHandlers(t, stubConnector{})

	w := do(router, http.MethodPost, "/rpc", `not json`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}

	w = do(router, http.MethodPost, "/rpc", `{"id":"x"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d for missing path, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestHandlers_WrongTypedFieldDetails(t *testing.T) {
	_, router := setupTestHandlers(t, stubConnector{})

	w := do(router, http.MethodPost, "/procedures/server.mongo.start", `{"port":"8080"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
	var resp struct {
		Error struct {
			Code    string          `json:"code"`
			Details []control.Issue `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp.Error.Code != control.CodeValidation {
		t.Errorf("Expected code %s, got %s", control.CodeValidation, resp.Error.Code)
	}
	if len(resp.Error.Details) != 1 || resp.Error.Details[0].Path != "port" {
		t.Errorf("Expected a single issue on port, got %+v", resp.Error.Details)
	}
}

func TestHandlers_OversizedBody(t *testing.T) {
	_, router := setupTestHandlers(t, stubConnector{})
	oversized := `{"serverId":"` + strings.Repeat("x", procedure.MaxBodySize) + `"}`

	tests := []struct {
		name string
		path string
		body string
	}{
		{"procedure call", "/procedures/server.mongo.stop", oversized},
		{"rpc envelope", "/rpc", `{"path":"server.mongo.stop","input":` + oversized + `}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(router, http.MethodPost, tt.path, tt.body)
			if w.Code != http.StatusRequestEntityTooLarge {
				t.Fatalf("Expected status %d, got %d", http.StatusRequestEntityTooLarge, w.Code)
			}
			var resp procedure.Response
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("Failed to parse response: %v", err)
			}
			if resp.Error == nil || resp.Error.Code != procedure.CodePayloadTooLarge {
				t.Errorf("Expected code %s, got %+v", procedure.CodePayloadTooLarge, resp.Error)
			}
		})
	}
}
