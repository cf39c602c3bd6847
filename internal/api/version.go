// Package api provides the HTTP handlers of the control plane.
package api

// APIVersion represents the current API version supported by this server.
// Clients can use it to detect which procedures and envelopes are available.
const (
	// APIVersion1 serves the server.mongo.* and mongo.* procedures over /rpc and /procedures.
	APIVersion1 = 1

	// CurrentAPIVersion is the highest API version supported by this server.
	CurrentAPIVersion = APIVersion1
)

// ServiceName is reported by the status endpoints
const ServiceName = "server-mongo"

// APICapabilities describes the features available at each API version.
var APICapabilities = map[int][]string{
	APIVersion1: {
		"rpc",
		"procedures",
		"peers",
		"mongo-procedures",
	},
}

// StatusResponse is the response from the /status endpoint.
type StatusResponse struct {
	Status       string   `json:"status"`
	Service      string   `json:"service"`
	Servers      int      `json:"servers"`
	APIVersion   int      `json:"api_version"`
	Capabilities []string `json:"capabilities,omitempty"`
}
