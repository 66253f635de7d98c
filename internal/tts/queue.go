package tts

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/handsfree/internal/audio"
	"github.com/GriffinCanCode/handsfree/internal/conversation"
	"github.com/GriffinCanCode/handsfree/internal/voiceloop"
)

// ErrQueueClosed is returned when enqueueing outside an active turn.
var ErrQueueClosed = errors.New("playback queue closed")

// Turn identifies where played chunks are stored.
type Turn struct {
	ID             voiceloop.TurnID
	ConversationID string
	MessageID      string
}

// ChunkPlayed is reported after a chunk's reference has been stored.
type ChunkPlayed func(turn Turn, ref conversation.ChunkRef)

// Queue plays synthesized chunks strictly by ascending index. Chunk N+1 is
// not started before chunk N has finished, whatever order fetches complete.
// Each chunk is saved before it plays, so stored references keep play order.
type Queue struct {
	player audio.Player
	store  conversation.Store
	emit   audio.Emitter
	logger *zap.Logger

	// OnChunk, if set, is called after each chunk reference is stored.
	OnChunk ChunkPlayed

	mu      sync.Mutex
	turn    Turn
	active  bool
	pending map[int][]byte
	next    int
	total   int // -1 until Finish
	wake    chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}

	played atomic.Bool
}

// NewQueue creates a queue. store may be nil to skip persistence.
func NewQueue(player audio.Player, store conversation.Store, emit audio.Emitter, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{player: player, store: store, emit: emit, logger: logger}
}

// Start begins a turn, cancelling any previous one.
func (q *Queue) Start(ctx context.Context, turn Turn) {
	q.Cancel()

	ctx, cancel := context.WithCancel(ctx)
	q.mu.Lock()
	q.turn = turn
	q.active = true
	q.pending = make(map[int][]byte)
	q.next = 0
	q.total = -1
	q.wake = make(chan struct{}, 1)
	q.cancel = cancel
	q.done = make(chan struct{})
	done, wake := q.done, q.wake
	q.mu.Unlock()
	q.played.Store(false)

	go q.run(ctx, turn, wake, done)
}

// Enqueue inserts synthesized audio by index.
func (q *Queue) Enqueue(a Audio) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.active {
		return ErrQueueClosed
	}
	if a.Index < q.next {
		return nil
	}
	q.pending[a.Index] = a.PCM
	q.signalLocked()
	return nil
}

// Finish records that total chunks make up the turn. The queue emits
// tts-completed once all of them have played.
func (q *Queue) Finish(total int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.active {
		return
	}
	q.total = total
	q.signalLocked()
}

func (q *Queue) signalLocked() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Cancel stops playback immediately and drops pending chunks. It never
// emits tts-completed.
func (q *Queue) Cancel() {
	q.mu.Lock()
	cancel, done := q.cancel, q.done
	q.active = false
	q.pending = nil
	q.cancel = nil
	q.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	if err := q.player.Stop(); err != nil {
		q.logger.Warn("stop playback", zap.Error(err))
	}
	<-done
}

// HasPlayed reports whether audio began playing since the last Start or
// ResetPlayed.
func (q *Queue) HasPlayed() bool { return q.played.Load() }

// ResetPlayed clears the played flag. Call it once playback is stopped,
// when a new turn begins that has not reached Start yet.
func (q *Queue) ResetPlayed() { q.played.Store(false) }

// Pending returns the number of buffered chunks.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) take() (pcm []byte, index int, ok bool, finished bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if pcm, ok = q.pending[q.next]; ok {
		delete(q.pending, q.next)
		index = q.next
		return pcm, index, true, false
	}
	return nil, q.next, false, q.total >= 0 && q.next >= q.total
}

func (q *Queue) advance() {
	q.mu.Lock()
	q.next++
	q.mu.Unlock()
}

func (q *Queue) run(ctx context.Context, turn Turn, wake <-chan struct{}, done chan struct{}) {
	defer close(done)
	log := q.logger.With(zap.Uint64("turn", uint64(turn.ID)))

	speaking := false
	starved := false
	for {
		pcm, index, ok, finished := q.take()
		if ok {
			if !speaking || starved {
				q.emit(ctx, voiceloop.TTSSpeakingStarted(turn.ID))
				speaking, starved = true, false
			}
			q.persist(ctx, turn, index, pcm, log)
			if ctx.Err() != nil {
				return
			}

			q.played.Store(true)
			if err := q.player.Play(ctx, pcm); err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Error("playback failed", zap.Int("index", index), zap.Error(err))
				q.emit(ctx, voiceloop.EncounteredError(turn.ID, "audio output failed: "+err.Error()))
				return
			}
			q.advance()
			continue
		}

		if finished {
			log.Debug("playback drained", zap.Int("chunks", index))
			q.mu.Lock()
			q.active = false
			q.mu.Unlock()
			q.emit(ctx, voiceloop.TTSCompleted(turn.ID))
			return
		}
		if speaking && !starved {
			starved = true
			q.emit(ctx, voiceloop.TTSWaiting(turn.ID))
		}

		select {
		case <-ctx.Done():
			return
		case <-wake:
		}
	}
}

// persist saves the chunk and records its reference before playback.
// A storage failure is logged; it does not silence the assistant.
func (q *Queue) persist(ctx context.Context, turn Turn, index int, pcm []byte, log *zap.Logger) {
	if q.store == nil {
		return
	}
	path, err := q.store.SaveAudioChunk(ctx, turn.ConversationID, turn.MessageID, index, pcm)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn("save audio chunk failed", zap.Int("index", index), zap.Error(err))
		}
		return
	}
	if q.OnChunk != nil {
		q.OnChunk(turn, conversation.ChunkRef{Index: index, Path: path})
	}
}
