package health

import "context"

// Response represents the health check response
type Response struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version,omitempty"`
}

type PingResponse struct {
	Message string `json:"message"`
}

// anything readiness depends on
type Pinger interface {
	Ping(ctx context.Context) error
}
