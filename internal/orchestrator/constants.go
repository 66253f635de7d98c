// Package orchestrator runs the voice loop coordinator.
package orchestrator

import "time"

// Coordinator configuration constants
const (
	// Channel buffer sizes
	EventBuffer      = 64
	ActionBuffer     = 16
	SubscriberBuffer = 100

	// Error recovery
	DefaultErrorRecoveryDelay = 1500 * time.Millisecond

	// Persistence of the final assistant message outlives the turn context.
	FinalizeTimeout = 5 * time.Second
)
