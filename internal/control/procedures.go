package control

import (
	"github.com/sirosfoundation/go-server-mongo/internal/procedure"
)

// ProcedurePrefix is the path prefix of the control-plane procedures
var ProcedurePrefix = procedure.Path{"server", "mongo"}

func controlPath(name string) procedure.Path {
	return append(append(procedure.Path{}, ProcedurePrefix...), name)
}

// Procedures returns the control-plane operations as catalog procedures
func (s *Service) Procedures() []procedure.Procedure {
	return []procedure.Procedure{
		{
			Path: controlPath("start"),
			Meta: procedure.Meta{
				Description: "Start a MongoDB peer server",
				Args:        []string{"port", "host", "mongoUri", "database", "transports"},
				Shorts:      map[string]string{"port": "p", "host": "h", "mongoUri": "u", "database": "d"},
				Output:      "serverId, endpoints, procedureCount",
			},
			Handler: decoded(s.Start),
		},
		{
			Path: controlPath("stop"),
			Meta: procedure.Meta{
				Description: "Stop a running MongoDB peer server",
				Args:        []string{"serverId"},
				Output:      "success",
			},
			Handler: decoded(s.Stop),
		},
		{
			Path: controlPath("status"),
			Meta: procedure.Meta{
				Description: "Get status of MongoDB peer servers",
				Args:        []string{"serverId"},
				Output:      "servers",
			},
			Handler: decoded(s.Status),
		},
		{
			Path: controlPath("connect"),
			Meta: procedure.Meta{
				Description: "Connect to a MongoDB database",
				Args:        []string{"uri", "database"},
				Shorts:      map[string]string{"uri": "u", "database": "d"},
				Output:      "success, database",
			},
			Handler: decoded(s.Connect),
		},
	}
}

// Register publishes the control-plane operations in catalog
func (s *Service) Register(catalog *procedure.Catalog) error {
	return catalog.Register(s.Procedures()...)
}
