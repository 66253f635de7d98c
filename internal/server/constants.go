// Package server exposes the voice loop over HTTP, WebSocket and gRPC health.
package server

import "time"

// Server configuration constants
const (
	// Inbound /ws control messages per connection
	WSRateLimit = 5 // messages per second
	WSRateBurst = 10

	WSWriteTimeout = 5 * time.Second

	// HealthService is the gRPC health service name of the voice loop.
	HealthService = "handsfree.VoiceLoop"
)
