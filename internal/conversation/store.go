package conversation

import (
	"context"
	"fmt"
	"sync"
)

// Store is the persistence collaborator. Implementations serialize writes.
type Store interface {
	AppendMessage(ctx context.Context, conversationID string, msg Message) error
	SaveAudioChunk(ctx context.Context, conversationID, messageID string, index int, pcm []byte) (string, error)
}

// MemoryStore keeps conversations in memory.
type MemoryStore struct {
	mu       sync.RWMutex
	messages map[string][]Message
	chunks   map[string][]byte
	order    map[string][]string // conversation -> chunk paths in save order
	maxSize  int
}

// NewMemoryStore creates a store keeping at most maxMessages per conversation.
func NewMemoryStore(maxMessages int) *MemoryStore {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	return &MemoryStore{
		messages: make(map[string][]Message),
		chunks:   make(map[string][]byte),
		order:    make(map[string][]string),
		maxSize:  maxMessages,
	}
}

// AppendMessage stores a message.
func (s *MemoryStore) AppendMessage(ctx context.Context, conversationID string, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := append(s.messages[conversationID], msg)
	if len(msgs) > s.maxSize {
		msgs = msgs[len(msgs)-s.maxSize:]
	}
	s.messages[conversationID] = msgs
	return nil
}

// SaveAudioChunk stores chunk bytes and returns a mem:// reference.
func (s *MemoryStore) SaveAudioChunk(ctx context.Context, conversationID, messageID string, index int, pcm []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path := fmt.Sprintf("mem://%s/%s/%d.pcm", conversationID, messageID, index)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks[path] = append([]byte(nil), pcm...)
	s.order[conversationID] = append(s.order[conversationID], path)
	return path, nil
}

// Messages returns a copy of a conversation's messages.
func (s *MemoryStore) Messages(conversationID string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Message(nil), s.messages[conversationID]...)
}

// ChunkPaths returns the saved chunk paths of a conversation in save order.
func (s *MemoryStore) ChunkPaths(conversationID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order[conversationID]...)
}

// Chunk returns the bytes stored at path.
func (s *MemoryStore) Chunk(path string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.chunks[path]
	return b, ok
}
