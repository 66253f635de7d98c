// Package tts groups streamed text into speakable chunks, synthesizes them
// in parallel and plays the results strictly in order.
package tts

import "time"

// Chunking defaults
const (
	DefaultMinChunkLength = 60
	DefaultMaxChunkLength = 250
)

// Fetch defaults
const (
	DefaultConcurrency  = 3
	DefaultFetchBacklog = 256
	DefaultSynthTimeout = 20 * time.Second
)
