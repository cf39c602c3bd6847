package server

import (
	"github.com/gin-gonic/gin"

	"github.com/sirosfoundation/go-server-mongo/internal/api"
)

// ControlProvider exposes the procedure catalog over /rpc and /procedures
type ControlProvider struct {
	handlers *api.Handlers
}

// NewControlProvider creates the provider for the control-plane procedures
func NewControlProvider(handlers *api.Handlers) *ControlProvider {
	return &ControlProvider{handlers: handlers}
}

func (p *ControlProvider) Name() string { return "control" }

func (p *ControlProvider) RegisterRoutes(router gin.IRouter) {
	router.POST("/rpc", p.handlers.RPC)
	router.GET("/procedures", p.handlers.ListProcedures)
	router.POST("/procedures/:path", p.handlers.CallProcedure)
}
