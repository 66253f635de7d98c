package tts

import "context"

// VoiceConfig is synthesis configuration, never control flow.
type VoiceConfig struct {
	Model        string
	Voice        string
	Format       string
	SampleRate   int
	Instructions string
	Speed        float64
}

// Synthesizer turns text into audio bytes in the configured format.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, voice VoiceConfig) ([]byte, error)
}

// Warmer is implemented by synthesizers that benefit from a one-time
// initialization before the first request.
type Warmer interface {
	Warm(ctx context.Context, voice VoiceConfig) error
}

// SynthFunc adapts a function to Synthesizer.
type SynthFunc func(ctx context.Context, text string, voice VoiceConfig) ([]byte, error)

func (f SynthFunc) Synthesize(ctx context.Context, text string, voice VoiceConfig) ([]byte, error) {
	return f(ctx, text, voice)
}
