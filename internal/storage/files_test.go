package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/handsfree/internal/conversation"
)

func TestFileStoreSavesChunks(t *testing.T) {
	root := t.TempDir()
	s, err := NewFileStore(root)
	require.NoError(t, err)

	path, err := s.SaveAudioChunk(context.Background(), "conv", "msg", 2, []byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "conv", "msg", "2.pcm"), path)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, b)
}

func TestFileStoreRejectsTraversal(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = s.SaveAudioChunk(context.Background(), "../etc", "msg", 0, nil)
	assert.Error(t, err)
	_, err = s.SaveAudioChunk(context.Background(), "conv", "", 0, nil)
	assert.Error(t, err)
}

func TestFileStoreAppendsMessages(t *testing.T) {
	root := t.TempDir()
	s, err := NewFileStore(root)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.AppendMessage(ctx, "conv", conversation.NewMessage(conversation.RoleUser, "hi")))
	require.NoError(t, s.AppendMessage(ctx, "conv", conversation.NewMessage(conversation.RoleAssistant, "hello")))

	f, err := os.Open(filepath.Join(root, "conv", "messages.jsonl"))
	require.NoError(t, err)
	defer f.Close()

	var got []conversation.Message
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m conversation.Message
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		got = append(got, m)
	}
	require.Len(t, got, 2)
	assert.Equal(t, conversation.RoleUser, got[0].Role)
	assert.Equal(t, "hello", got[1].Content)
}
