// Package transcribe turns trimmed utterances into text.
package transcribe

import (
	"context"
	"errors"
)

// ErrEmptyAudio is returned for an empty trim. It is not a failure: the
// caller stays in listening.
var ErrEmptyAudio = errors.New("empty audio")

// Client transcribes 16-bit little-endian mono PCM.
type Client interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error)
}

// Func adapts a function to Client.
type Func func(ctx context.Context, pcm []byte, sampleRate int) (string, error)

func (f Func) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	return f(ctx, pcm, sampleRate)
}
