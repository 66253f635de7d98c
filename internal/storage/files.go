package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/GriffinCanCode/handsfree/internal/conversation"
)

// FileStore writes audio chunks to AUDIO_DIR/<conversation>/<message>/<index>.pcm
// and, when used as a full Store, messages as JSON lines in
// AUDIO_DIR/<conversation>/messages.jsonl.
type FileStore struct {
	root string
	mu   sync.Mutex
}

// NewFileStore creates the root directory if needed.
func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create audio dir: %w", err)
	}
	return &FileStore{root: root}, nil
}

// Root returns the base directory.
func (s *FileStore) Root() string { return s.root }

// SaveAudioChunk writes one chunk and returns its path.
func (s *FileStore) SaveAudioChunk(ctx context.Context, conversationID, messageID string, index int, pcm []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := checkID(conversationID); err != nil {
		return "", err
	}
	if err := checkID(messageID); err != nil {
		return "", err
	}

	dir := filepath.Join(s.root, conversationID, messageID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create chunk dir: %w", err)
	}
	path := filepath.Join(dir, strconv.Itoa(index)+".pcm")
	if err := os.WriteFile(path, pcm, 0o644); err != nil {
		return "", fmt.Errorf("write chunk: %w", err)
	}
	return path, nil
}

// AppendMessage appends msg to the conversation's messages.jsonl.
func (s *FileStore) AppendMessage(ctx context.Context, conversationID string, msg conversation.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkID(conversationID); err != nil {
		return err
	}
	line, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.root, conversationID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create conversation dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "messages.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open messages: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

func checkID(id string) error {
	if id == "" || id == "." || id == ".." || filepath.Base(id) != id {
		return fmt.Errorf("invalid id %q", id)
	}
	return nil
}
