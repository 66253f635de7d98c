package tts

import (
	"context"
	"fmt"
	"io"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// OpenAISynthesizer calls the speech endpoint of an OpenAI-compatible API.
type OpenAISynthesizer struct {
	client *openai.Client
	logger *zap.Logger
}

// NewOpenAISynthesizer creates a synthesizer.
func NewOpenAISynthesizer(client *openai.Client, logger *zap.Logger) *OpenAISynthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAISynthesizer{client: client, logger: logger}
}

func (s *OpenAISynthesizer) Synthesize(ctx context.Context, text string, voice VoiceConfig) ([]byte, error) {
	req := openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(voice.Model),
		Input:          text,
		Voice:          openai.SpeechVoice(voice.Voice),
		ResponseFormat: openai.SpeechResponseFormat(voice.Format),
		Speed:          voice.Speed,
	}
	if voice.Instructions != "" {
		// This client version has no instructions field on speech requests.
		s.logger.Debug("voice instructions not sent", zap.Int("chars", len(voice.Instructions)))
	}

	body, err := s.client.CreateSpeech(ctx, req)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	audio, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read speech body: %w", err)
	}
	return audio, nil
}

// Warm resolves the model once so the first synthesis does not pay for it.
func (s *OpenAISynthesizer) Warm(ctx context.Context, voice VoiceConfig) error {
	if _, err := s.client.GetModel(ctx, voice.Model); err != nil {
		return fmt.Errorf("warm %s: %w", voice.Model, err)
	}
	return nil
}
