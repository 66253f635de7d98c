// Package chat consumes streamed language model responses.
package chat

import (
	"context"

	"github.com/GriffinCanCode/handsfree/internal/conversation"
)

// Provider opens a streaming completion over a sanitized history.
type Provider interface {
	Name() string
	Stream(ctx context.Context, history []conversation.Message) (Stream, error)
}

// Stream yields text deltas in order. Next returns io.EOF after the last delta.
type Stream interface {
	Next() (string, error)
	Close() error
}
