package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-server-mongo/internal/metrics"
	"github.com/sirosfoundation/go-server-mongo/internal/procedure"
)

// ServerCounter reports how many peer servers are registered
type ServerCounter interface {
	Len() int
}

// Handlers aggregates all HTTP handlers
type Handlers struct {
	catalog *procedure.Catalog
	servers ServerCounter
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(catalog *procedure.Catalog, servers ServerCounter, collector *metrics.Collector, logger *zap.Logger) *Handlers {
	return &Handlers{
		catalog: catalog,
		servers: servers,
		metrics: collector,
		logger:  logger.Named("handlers"),
	}
}

// Status handles the /health and /status endpoints
func (h *Handlers) Status(c *gin.Context) {
	count := 0
	if h.servers != nil {
		count = h.servers.Len()
	}
	c.JSON(http.StatusOK, StatusResponse{
		Status:       "ok",
		Service:      ServiceName,
		Servers:      count,
		APIVersion:   CurrentAPIVersion,
		Capabilities: APICapabilities[CurrentAPIVersion],
	})
}

// ListProcedures returns every registered procedure with its metadata
func (h *Handlers) ListProcedures(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"procedures": h.catalog.List()})
}

// CallProcedure dispatches the request body to the procedure named in the URL
func (h *Handlers) CallProcedure(c *gin.Context) {
	path := c.Param("path")

	procedure.LimitBody(c.Writer, c.Request)
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		status, errBody := procedure.BodyErrorFrom(err, "failed to read request body")
		c.JSON(status, procedure.Response{Error: errBody})
		return
	}

	status, resp := h.dispatch(c, procedure.Request{Path: procedure.ParsePath(path), Input: body})
	c.JSON(status, resp)
}

// RPC handles an envelope of the form {"id", "path", "input"}
func (h *Handlers) RPC(c *gin.Context) {
	var req procedure.Request
	procedure.LimitBody(c.Writer, c.Request)
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		status, errBody := procedure.BodyErrorFrom(err, "invalid request envelope: "+err.Error())
		c.JSON(status, procedure.Response{Error: errBody})
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if len(req.Path) == 0 {
		c.JSON(http.StatusBadRequest, procedure.Response{ID: req.ID, Error: &procedure.ErrorBody{
			Code:    procedure.CodeInvalidInput,
			Message: "path is required",
		}})
		return
	}

	status, resp := h.dispatch(c, req)
	c.JSON(status, resp)
}

func (h *Handlers) dispatch(c *gin.Context, req procedure.Request) (int, procedure.Response) {
	path := req.Path.String()
	output, err := h.catalog.Call(c.Request.Context(), path, req.Input)
	if err != nil {
		status, body := procedure.ErrorFrom(err)
		label := path
		if errors.Is(err, procedure.ErrNotFound) {
			// keep label cardinality bounded
			label = "unknown"
		}
		h.metrics.ObserveProcedure(label, body.Code)
		if status >= http.StatusInternalServerError {
			h.logger.Error("Procedure failed",
				zap.String("path", path),
				zap.String("request_id", c.GetString("request_id")),
				zap.Error(err))
		} else {
			h.logger.Debug("Procedure rejected",
				zap.String("path", path),
				zap.String("code", body.Code),
				zap.Error(err))
		}
		return status, procedure.Response{ID: req.ID, Error: body}
	}

	h.metrics.ObserveProcedure(path, "")
	return http.StatusOK, procedure.Response{ID: req.ID, Output: output}
}
