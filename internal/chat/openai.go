package chat

import (
	"context"
	"errors"
	"io"

	"github.com/sashabaranov/go-openai"

	"github.com/GriffinCanCode/handsfree/internal/conversation"
)

// OpenAIProvider streams chat completions from an OpenAI-compatible API,
// normally the backend proxy.
type OpenAIProvider struct {
	client       *openai.Client
	model        string
	systemPrompt string
}

// NewOpenAIProvider creates a provider for model.
func NewOpenAIProvider(client *openai.Client, model, systemPrompt string) *OpenAIProvider {
	return &OpenAIProvider{client: client, model: model, systemPrompt: systemPrompt}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Stream(ctx context.Context, history []conversation.Message) (Stream, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	if p.systemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: p.systemPrompt,
		})
	}
	for _, m := range history {
		role := openai.ChatMessageRoleUser
		if m.Role == conversation.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    p.model,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		return nil, err
	}
	return &openAIStream{stream: stream}, nil
}

type openAIStream struct {
	stream *openai.ChatCompletionStream
}

func (s *openAIStream) Next() (string, error) {
	resp, err := s.stream.Recv()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Delta.Content, nil
}

func (s *openAIStream) Close() error { return s.stream.Close() }
