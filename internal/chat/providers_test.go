package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/GriffinCanCode/handsfree/internal/conversation"
)

func drain(t *testing.T, s Stream) []string {
	t.Helper()
	defer s.Close()
	var out []string
	for {
		d, err := s.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		if d != "" {
			out = append(out, d)
		}
	}
}

func history() []conversation.Message {
	return []conversation.Message{
		{Role: conversation.RoleUser, Content: "hi"},
		{Role: conversation.RoleAssistant, Content: "hello"},
		{Role: conversation.RoleUser, Content: "weather?"},
	}
}

func TestOpenAIProviderStreams(t *testing.T) {
	var req openai.ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "text/event-stream")
		for _, d := range []string{"It is ", "sunny."} {
			chunk := openai.ChatCompletionStreamResponse{
				Choices: []openai.ChatCompletionStreamChoice{{Delta: openai.ChatCompletionStreamChoiceDelta{Content: d}}},
			}
			b, _ := json.Marshal(chunk)
			fmt.Fprintf(w, "data: %s\n\n", b)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	cfg := openai.DefaultConfig("k")
	cfg.BaseURL = srv.URL + "/v1"
	p := NewOpenAIProvider(openai.NewClientWithConfig(cfg), "gpt-4o-mini", "be brief")

	s, err := p.Stream(context.Background(), history())
	require.NoError(t, err)
	assert.Equal(t, []string{"It is ", "sunny."}, drain(t, s))

	require.Len(t, req.Messages, 4)
	assert.Equal(t, openai.ChatMessageRoleSystem, req.Messages[0].Role)
	assert.Equal(t, openai.ChatMessageRoleAssistant, req.Messages[2].Role)
	assert.True(t, req.Stream)
}

func TestGeminiProviderStreams(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, ":streamGenerateContent"), r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "text/event-stream")
		for _, d := range []string{"It is ", "sunny."} {
			fmt.Fprintf(w, `data: {"candidates":[{"content":{"role":"model","parts":[{"text":%q}]}}]}`+"\n\n", d)
		}
	}))
	defer srv.Close()

	client, err := NewGeminiClient(context.Background(), "k", func(c *genai.ClientConfig) {
		c.HTTPOptions.BaseURL = srv.URL + "/"
	})
	require.NoError(t, err)
	p := NewGeminiProvider(client, "gemini-2.0-flash", "be brief")

	s, err := p.Stream(context.Background(), history())
	require.NoError(t, err)
	assert.Equal(t, []string{"It is ", "sunny."}, drain(t, s))

	contents, _ := body["contents"].([]any)
	require.Len(t, contents, 3)
	var roles []string
	for _, c := range contents {
		m, _ := c.(map[string]any)
		role, _ := m["role"].(string)
		roles = append(roles, role)
	}
	assert.Equal(t, []string{"user", "model", "user"}, roles)
	assert.Contains(t, body, "systemInstruction")
}
