package peer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-server-mongo/internal/domain"
	"github.com/sirosfoundation/go-server-mongo/internal/procedure"
	"github.com/sirosfoundation/go-server-mongo/pkg/middleware"
)

// httpListener serves one transport through an http.Server
type httpListener struct {
	kind   domain.TransportType
	addr   string
	server *http.Server
	ln     net.Listener
}

func (l *httpListener) endpoint() domain.Endpoint {
	return domain.Endpoint{Type: l.kind, Address: l.addr}
}

// shutdown stops the server and releases the port before returning.
// Serve may not have started tracking the listener yet, so it is closed here too.
func (l *httpListener) shutdown(ctx context.Context) error {
	shutdownErr := l.server.Shutdown(ctx)
	if err := l.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) && shutdownErr == nil {
		shutdownErr = err
	}
	if shutdownErr != nil {
		return fmt.Errorf("%s server shutdown: %w", l.kind, shutdownErr)
	}
	return nil
}

// serve binds the listener and runs the server in the background
func serve(t domain.TransportDescriptor, handler http.Handler, logger *zap.Logger) (*httpListener, error) {
	ln, err := net.Listen("tcp", t.Address())
	if err != nil {
		return nil, err
	}

	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Error("Peer server error", zap.String("type", string(t.Type)), zap.Error(err))
		}
	}()

	return &httpListener{
		kind:   t.Type,
		server: server,
		ln:     ln,
	}, nil
}

// boundHostPort returns the descriptor host with the port actually bound
func boundHostPort(t domain.TransportDescriptor, ln net.Listener) string {
	port := t.Port
	if addr, ok := ln.Addr().(*net.TCPAddr); ok {
		port = addr.Port
	}
	return net.JoinHostPort(t.Host, strconv.Itoa(port))
}

func openHTTP(t domain.TransportDescriptor, catalog *procedure.Catalog, logger *zap.Logger) (listener, error) {
	router := buildRouter(t, logger)

	base := strings.TrimSuffix(t.BasePath, "/")
	listPath := base
	if listPath == "" {
		listPath = "/"
	}
	router.GET(listPath, listProcedures(catalog))
	router.POST(base+"/*procedure", callProcedure(catalog))

	l, err := serve(t, router, logger)
	if err != nil {
		return nil, err
	}
	l.addr = "http://" + boundHostPort(t, l.ln) + base
	return l, nil
}

// buildRouter creates a router with the middleware every peer transport shares
func buildRouter(t domain.TransportDescriptor, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger))
	if t.CORS {
		router.Use(cors.New(corsConfig(t.CORSOrigins)))
	}
	return router
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", middleware.RequestIDHeader},
		ExposeHeaders: []string{middleware.RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	explicit := make([]string, 0, len(origins))
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
		explicit = append(explicit, o)
	}
	if len(explicit) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = explicit
	}
	return cfg
}

func listProcedures(catalog *procedure.Catalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"procedures": catalog.List()})
	}
}

func callProcedure(catalog *procedure.Catalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Param("procedure")

		procedure.LimitBody(c.Writer, c.Request)
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			status, errBody := procedure.BodyErrorFrom(err, "failed to read request body")
			c.JSON(status, procedure.Response{Error: errBody})
			return
		}

		output, err := catalog.Call(c.Request.Context(), path, body)
		if err != nil {
			status, errBody := procedure.ErrorFrom(err)
			c.JSON(status, procedure.Response{Error: errBody})
			return
		}
		c.JSON(http.StatusOK, procedure.Response{Output: output})
	}
}
