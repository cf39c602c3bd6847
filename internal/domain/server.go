// Package domain holds the types shared by the registry, the peer factory and
// the control-plane surface.
package domain

import (
	"fmt"
	"time"
)

// TransportType identifies a peer listening surface
type TransportType string

const (
	// TransportHTTP serves procedures over HTTP request/response
	TransportHTTP TransportType = "http"
	// TransportWebSocket serves procedures over a persistent WebSocket connection
	TransportWebSocket TransportType = "websocket"
	// TransportLocal serves procedures in-process only
	TransportLocal TransportType = "local"
)

// ValidTransportTypes lists all supported transport types
var ValidTransportTypes = []TransportType{TransportHTTP, TransportWebSocket, TransportLocal}

// IsValid checks if a transport type is supported
func (t TransportType) IsValid() bool {
	for _, valid := range ValidTransportTypes {
		if t == valid {
			return true
		}
	}
	return false
}

// TransportDescriptor describes one listening surface of a peer.
// Field interpretation is transport-specific.
type TransportDescriptor struct {
	Type        TransportType `json:"type" yaml:"type" validate:"required,oneof=http websocket local"`
	Port        int           `json:"port,omitempty" yaml:"port" validate:"omitempty,min=0,max=65535"`
	Host        string        `json:"host,omitempty" yaml:"host"`
	BasePath    string        `json:"basePath,omitempty" yaml:"base_path" validate:"omitempty,startswith=/"`
	CORS        bool          `json:"cors,omitempty" yaml:"cors"`
	CORSOrigins []string      `json:"corsOrigins,omitempty" yaml:"cors_origins" validate:"omitempty,dive,required"`
	Path        string        `json:"path,omitempty" yaml:"path" validate:"omitempty,startswith=/"`
}

// Clone returns a deep copy of the descriptor
func (d TransportDescriptor) Clone() TransportDescriptor {
	if d.CORSOrigins != nil {
		d.CORSOrigins = append([]string(nil), d.CORSOrigins...)
	}
	return d
}

// Address returns host:port for network transports
func (d TransportDescriptor) Address() string {
	return fmt.Sprintf("%s:%d", d.Host, d.Port)
}

// Endpoint is a reachable address of a running peer
type Endpoint struct {
	Type    TransportType `json:"type"`
	Address string        `json:"address"`
}

// CloneEndpoints copies an endpoint list
func CloneEndpoints(in []Endpoint) []Endpoint {
	if in == nil {
		return []Endpoint{}
	}
	out := make([]Endpoint, len(in))
	copy(out, in)
	return out
}

// ConnectionTarget selects a MongoDB deployment and database.
// An empty URI means the configured default; an empty Database means the driver default.
type ConnectionTarget struct {
	URI      string `json:"uri,omitempty"`
	Database string `json:"database,omitempty"`
}

// IsZero reports whether neither field is set
func (t ConnectionTarget) IsZero() bool {
	return t.URI == "" && t.Database == ""
}

// ServerInfo is the read-only status projection of a registered server
type ServerInfo struct {
	ID             string     `json:"serverId"`
	Endpoints      []Endpoint `json:"endpoints"`
	StartedAt      string     `json:"startedAt"`
	ProcedureCount int        `json:"procedureCount"`
}

// TimestampLayout is the ISO-8601 layout used for StartedAt (UTC, millisecond precision)
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatTimestamp renders t the way ServerInfo.StartedAt expects
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}
