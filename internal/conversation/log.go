package conversation

import (
	"errors"
	"sync"
	"time"
)

// ErrUnknownMessage is returned when updating a message that is not in the log.
var ErrUnknownMessage = errors.New("unknown message")

// ChunkRef is a stored audio chunk of an assistant message.
type ChunkRef struct {
	Index int    `json:"index" bson:"index"`
	Path  string `json:"path" bson:"path"`
}

// Snapshot is a point-in-time copy of a conversation.
type Snapshot struct {
	ID        string                `json:"id"`
	StartedAt time.Time             `json:"started_at"`
	Messages  []Message             `json:"messages"`
	Audio     map[string][]ChunkRef `json:"audio,omitempty"`
}

// Log is the in-memory view of one conversation. Messages are append-only;
// only the content and role of an existing message may change.
type Log struct {
	id        string
	startedAt time.Time
	maxSize   int

	mu       sync.RWMutex
	messages []Message
	index    map[string]int
	audio    map[string][]ChunkRef
}

// NewLog creates a log. maxMessages bounds memory; older messages are
// dropped from the view (persistence keeps them).
func NewLog(id string, maxMessages int) *Log {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	return &Log{
		id:        id,
		startedAt: time.Now(),
		maxSize:   maxMessages,
		index:     make(map[string]int),
		audio:     make(map[string][]ChunkRef),
	}
}

// ID returns the conversation id.
func (l *Log) ID() string { return l.id }

// Append adds a message.
func (l *Log) Append(msg Message) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.messages = append(l.messages, msg)
	if len(l.messages) > l.maxSize {
		for _, dropped := range l.messages[:len(l.messages)-l.maxSize] {
			delete(l.audio, dropped.ID)
		}
		l.messages = append([]Message(nil), l.messages[len(l.messages)-l.maxSize:]...)
	}
	l.reindexLocked()
}

func (l *Log) reindexLocked() {
	clear(l.index)
	for i, m := range l.messages {
		l.index[m.ID] = i
	}
}

// Update applies fn to the message with id and returns the result.
func (l *Log) Update(id string, fn func(*Message)) (Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	i, ok := l.index[id]
	if !ok {
		return Message{}, ErrUnknownMessage
	}
	fn(&l.messages[i])
	l.messages[i].ID = id
	return l.messages[i], nil
}

// Get returns the message with id.
func (l *Log) Get(id string) (Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	i, ok := l.index[id]
	if !ok {
		return Message{}, false
	}
	return l.messages[i], true
}

// AddChunk appends an audio chunk reference in play order.
func (l *Log) AddChunk(messageID string, ref ChunkRef) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.audio[messageID] = append(l.audio[messageID], ref)
}

// Chunks returns the chunk references of a message in play order.
func (l *Log) Chunks(messageID string) []ChunkRef {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]ChunkRef(nil), l.audio[messageID]...)
}

// Messages returns a copy of the messages.
func (l *Log) Messages() []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Message(nil), l.messages...)
}

// History returns the sanitized history, bounded to the last limit messages.
func (l *Log) History(limit int) []Message {
	return Tail(Sanitize(l.Messages()), limit)
}

// Snapshot copies the whole conversation.
func (l *Log) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	audio := make(map[string][]ChunkRef, len(l.audio))
	for id, refs := range l.audio {
		audio[id] = append([]ChunkRef(nil), refs...)
	}
	return Snapshot{
		ID:        l.id,
		StartedAt: l.startedAt,
		Messages:  append([]Message(nil), l.messages...),
		Audio:     audio,
	}
}
