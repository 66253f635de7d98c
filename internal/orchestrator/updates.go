package orchestrator

import (
	"sync"
	"time"

	"github.com/GriffinCanCode/handsfree/internal/conversation"
	"github.com/GriffinCanCode/handsfree/internal/voiceloop"
)

// UpdateType names what an Update carries.
type UpdateType string

const (
	UpdatePhase      UpdateType = "phase"
	UpdateEvent      UpdateType = "event"
	UpdateTranscript UpdateType = "transcript"
	UpdateDelta      UpdateType = "delta"
	UpdateMessage    UpdateType = "message"
	UpdateChunk      UpdateType = "chunk"
)

// Update is what the presentation layer observes.
type Update struct {
	Type        UpdateType             `json:"type"`
	Turn        uint64                 `json:"turn"`
	Phase       string                 `json:"phase,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Event       string                 `json:"event,omitempty"`
	UseCooldown bool                   `json:"use_cooldown,omitempty"`
	Text        string                 `json:"text,omitempty"`
	MessageID   string                 `json:"message_id,omitempty"`
	Message     *conversation.Message  `json:"message,omitempty"`
	Chunk       *conversation.ChunkRef `json:"chunk,omitempty"`
	Time        time.Time              `json:"time"`
}

func eventUpdate(ev voiceloop.Event) Update {
	return Update{
		Type:        UpdateEvent,
		Turn:        uint64(ev.Turn),
		Event:       ev.Kind.String(),
		UseCooldown: ev.UseCooldown,
		Text:        ev.Transcript,
		Error:       ev.Message,
	}
}

// broadcaster fans updates out to subscribers. Slow subscribers miss
// updates rather than stall the coordinator.
type broadcaster struct {
	mu   sync.RWMutex
	subs map[int]chan Update
	next int
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[int]chan Update)}
}

func (b *broadcaster) subscribe() (<-chan Update, func()) {
	ch := make(chan Update, SubscriberBuffer)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *broadcaster) emit(u Update) {
	if u.Time.IsZero() {
		u.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- u:
		default:
		}
	}
}
