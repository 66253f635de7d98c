// Package storage implements the conversation persistence collaborator.
package storage

import "time"

// Writer defaults
const (
	DefaultWriterQueueSize = 64
	DefaultWriteTimeout    = 10 * time.Second
)

// Mongo defaults
const (
	DefaultCollection    = "conversations"
	mongoConnectTimeout  = 10 * time.Second
	mongoSelectTimeout   = 5 * time.Second
	mongoMaxPoolSize     = 10
	mongoMaxConnIdleTime = 30 * time.Minute
)
