// Package grpcclient checks the readiness of the backend proxy over the
// standard gRPC health protocol.
package grpcclient

import "time"

// Client configuration defaults
const (
	// Keepalive configuration
	DefaultKeepaliveTime    = 10 * time.Second
	DefaultKeepaliveTimeout = 3 * time.Second

	// Health check configuration
	DefaultHealthCheckInterval = 500 * time.Millisecond
	HealthCheckTimeout         = 2 * time.Second
	DefaultReadyAttempts       = 8
)
