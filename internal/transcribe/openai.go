package transcribe

import (
	"bytes"
	"context"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// OpenAIClient transcribes with the Whisper endpoint of an OpenAI-compatible API.
type OpenAIClient struct {
	client   *openai.Client
	model    string
	language string
}

// NewOpenAIClient creates a Whisper client. language is a BCP-47 tag; only
// its primary subtag is sent.
func NewOpenAIClient(client *openai.Client, model, language string) *OpenAIClient {
	if model == "" {
		model = openai.Whisper1
	}
	lang, _, _ := strings.Cut(language, "-")
	return &OpenAIClient{client: client, model: model, language: strings.ToLower(lang)}
}

func (c *OpenAIClient) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	if len(pcm) == 0 {
		return "", ErrEmptyAudio
	}
	resp, err := c.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.model,
		FilePath: "speech.wav",
		Reader:   bytes.NewReader(EncodeWAV(pcm, sampleRate, 1)),
		Language: c.language,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text), nil
}
