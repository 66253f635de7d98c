// Package conversation holds chat messages, the in-memory conversation log
// and the persistence collaborator interface.
package conversation

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role of a chat message.
type Role string

const (
	RoleUser             Role = "user"
	RoleAssistant        Role = "assistant"
	RoleAssistantPartial Role = "assistant_partial"
	RoleAssistantError   Role = "assistant_error"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleAssistantPartial, RoleAssistantError:
		return true
	}
	return false
}

// Message is one chat message.
type Message struct {
	ID        string    `json:"id" bson:"id"`
	Role      Role      `json:"role" bson:"role"`
	Content   string    `json:"content" bson:"content"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

// NewMessage creates a message with a fresh id.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// Sanitize returns the history sent to a language model: only user and
// completed assistant messages with non-blank content, in order.
func Sanitize(msgs []Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role != RoleUser && m.Role != RoleAssistant {
			continue
		}
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Tail keeps the last n messages. n <= 0 keeps everything.
func Tail(msgs []Message, n int) []Message {
	if n <= 0 || len(msgs) <= n {
		return msgs
	}
	return msgs[len(msgs)-n:]
}
