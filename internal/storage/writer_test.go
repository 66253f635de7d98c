package storage

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/GriffinCanCode/handsfree/internal/conversation"
)

// slowStore records writes after a random delay.
type slowStore struct {
	mu     sync.Mutex
	writes []string
}

func (s *slowStore) AppendMessage(ctx context.Context, conversationID string, msg conversation.Message) error {
	time.Sleep(time.Duration(rand.IntN(3)) * time.Millisecond)
	s.mu.Lock()
	s.writes = append(s.writes, "msg:"+msg.Content)
	s.mu.Unlock()
	return nil
}

func (s *slowStore) SaveAudioChunk(ctx context.Context, conversationID, messageID string, index int, pcm []byte) (string, error) {
	time.Sleep(time.Duration(rand.IntN(3)) * time.Millisecond)
	path := fmt.Sprintf("%s/%s/%d", conversationID, messageID, index)
	s.mu.Lock()
	s.writes = append(s.writes, "chunk:"+path)
	s.mu.Unlock()
	return path, nil
}

func (s *slowStore) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.writes...)
}

func TestWriterPreservesOrder(t *testing.T) {
	store := &slowStore{}
	w := NewWriter(store, 4, zaptest.NewLogger(t))
	ctx := context.Background()

	require.NoError(t, w.AppendMessage(ctx, "c", conversation.Message{Content: "q"}))
	for i := 0; i < 5; i++ {
		path, err := w.SaveAudioChunk(ctx, "c", "m", i, []byte{byte(i)})
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("c/m/%d", i), path)
	}
	require.NoError(t, w.AppendMessage(ctx, "c", conversation.Message{Content: "a"}))
	w.Stop()

	assert.Equal(t, []string{
		"msg:q",
		"chunk:c/m/0", "chunk:c/m/1", "chunk:c/m/2", "chunk:c/m/3", "chunk:c/m/4",
		"msg:a",
	}, store.all())
}

func TestWriterStopRejects(t *testing.T) {
	w := NewWriter(&slowStore{}, 1, nil)
	w.Stop()
	w.Stop()

	err := w.AppendMessage(context.Background(), "c", conversation.Message{})
	assert.ErrorIs(t, err, ErrWriterStopped)
	_, err = w.SaveAudioChunk(context.Background(), "c", "m", 0, nil)
	assert.ErrorIs(t, err, ErrWriterStopped)
}

func TestWriterAppendSurvivesCancelledTurn(t *testing.T) {
	store := conversation.NewMemoryStore(10)
	w := NewWriter(store, 1, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.AppendMessage(ctx, "c", conversation.NewMessage(conversation.RoleAssistantPartial, "half")))
	cancel()
	w.Stop()

	msgs := store.Messages("c")
	require.Len(t, msgs, 1)
	assert.Equal(t, conversation.RoleAssistantPartial, msgs[0].Role)
}

func TestWriterSkipsChunkForCancelledTurn(t *testing.T) {
	store := conversation.NewMemoryStore(10)
	w := NewWriter(store, 1, nil)
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := w.SaveAudioChunk(ctx, "c", "m", 0, []byte{1})
	assert.ErrorIs(t, err, context.Canceled)
	w.Stop()
	assert.Empty(t, store.ChunkPaths("c"))
}
