package peer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-server-mongo/internal/domain"
	"github.com/sirosfoundation/go-server-mongo/internal/procedure"
)

// DefaultWebSocketPath is used when a websocket descriptor has no Path
const DefaultWebSocketPath = "/ws"

const writeWait = 10 * time.Second

// wsHub upgrades connections and answers RPC frames
type wsHub struct {
	catalog  *procedure.Catalog
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	closed  bool
	clients map[string]*websocket.Conn
	wg      sync.WaitGroup
}

func newWSHub(t domain.TransportDescriptor, catalog *procedure.Catalog, logger *zap.Logger) *wsHub {
	return &wsHub{
		catalog: catalog,
		logger:  logger.Named("websocket"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(t),
		},
		clients: make(map[string]*websocket.Conn),
	}
}

// originChecker allows listed origins, any origin when CORS is on without a
// list, and same-origin only when CORS is off.
func originChecker(t domain.TransportDescriptor) func(r *http.Request) bool {
	if !t.CORS {
		return sameOrigin
	}
	allowed := make(map[string]bool, len(t.CORSOrigins))
	for _, o := range t.CORSOrigins {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		allowed[o] = true
	}
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed[origin]
	}
}

func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return u.Host == r.Host
}

func (h *wsHub) handle(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("Failed to upgrade connection", zap.Error(err))
		return
	}

	id := uuid.NewString()
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[id] = conn
	h.wg.Add(1)
	h.mu.Unlock()

	h.logger.Debug("WebSocket client connected", zap.String("client_id", id))
	go h.serveClient(id, conn)
}

func (h *wsHub) serveClient(id string, conn *websocket.Conn) {
	defer h.wg.Done()
	defer func() {
		h.mu.Lock()
		delete(h.clients, id)
		h.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warn("WebSocket read error", zap.Error(err))
			}
			return
		}

		resp := h.dispatch(message)
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(resp); err != nil {
			h.logger.Warn("WebSocket write error", zap.Error(err))
			return
		}
	}
}

func (h *wsHub) dispatch(message []byte) procedure.Response {
	var req procedure.Request
	if err := json.Unmarshal(message, &req); err != nil {
		return procedure.Response{Error: &procedure.ErrorBody{
			Code:    procedure.CodeInvalidInput,
			Message: "malformed frame: " + err.Error(),
		}}
	}

	output, err := h.catalog.Call(context.Background(), req.Path.String(), req.Input)
	if err != nil {
		_, body := procedure.ErrorFrom(err)
		return procedure.Response{ID: req.ID, Error: body}
	}
	return procedure.Response{ID: req.ID, Output: output}
}

// close sends a close frame to every client and waits for their loops to end
func (h *wsHub) close(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	clients := make([]*websocket.Conn, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server stopping")
	for _, c := range clients {
		_ = c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = c.Close()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.New("timed out waiting for websocket clients to close")
	}
}

// wsListener pairs the HTTP server with the hub so both stop together
type wsListener struct {
	*httpListener
	hub *wsHub
}

func (l *wsListener) shutdown(ctx context.Context) error {
	serverErr := l.httpListener.shutdown(ctx)
	hubErr := l.hub.close(ctx)
	return errors.Join(serverErr, hubErr)
}

func openWebSocket(t domain.TransportDescriptor, catalog *procedure.Catalog, logger *zap.Logger) (listener, error) {
	path := t.Path
	if path == "" {
		path = DefaultWebSocketPath
	}

	hub := newWSHub(t, catalog, logger)
	router := buildRouter(t, logger)
	router.GET(path, hub.handle)

	l, err := serve(t, router, logger)
	if err != nil {
		return nil, err
	}
	l.addr = "ws://" + boundHostPort(t, l.ln) + path
	return &wsListener{httpListener: l, hub: hub}, nil
}
