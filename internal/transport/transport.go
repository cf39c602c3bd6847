// Package transport turns a start request into the list of transport
// descriptors handed to the peer factory.
package transport

import "github.com/sirosfoundation/go-server-mongo/internal/domain"

// Default values used when a request carries no explicit transports
const (
	DefaultPort     = 3000
	DefaultHost     = "0.0.0.0"
	DefaultBasePath = "/api"
)

// Defaults holds the values synthesized into the default http descriptor
type Defaults struct {
	Port     int
	Host     string
	BasePath string
	CORS     bool
}

// StandardDefaults returns the built-in defaults
func StandardDefaults() Defaults {
	return Defaults{
		Port:     DefaultPort,
		Host:     DefaultHost,
		BasePath: DefaultBasePath,
		CORS:     true,
	}
}

// Request carries the transport-relevant fields of a start request.
// A nil Port or empty Host falls back to Defaults.
type Request struct {
	Port       *int
	Host       string
	Transports []domain.TransportDescriptor
}

// Build returns the transport list for req using the standard defaults
func Build(req Request) []domain.TransportDescriptor {
	return StandardDefaults().Build(req)
}

// Build returns the transport list for req.
// Explicit transports are returned as given (copied, never merged with defaults);
// otherwise a single http descriptor is synthesized.
func (d Defaults) Build(req Request) []domain.TransportDescriptor {
	if req.Transports != nil {
		out := make([]domain.TransportDescriptor, len(req.Transports))
		for i, t := range req.Transports {
			out[i] = t.Clone()
		}
		return out
	}

	port := d.Port
	if req.Port != nil {
		port = *req.Port
	}
	host := d.Host
	if req.Host != "" {
		host = req.Host
	}

	return []domain.TransportDescriptor{{
		Type:     domain.TransportHTTP,
		Port:     port,
		Host:     host,
		BasePath: d.BasePath,
		CORS:     d.CORS,
	}}
}
