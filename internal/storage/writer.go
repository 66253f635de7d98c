package storage

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/handsfree/internal/conversation"
	"github.com/GriffinCanCode/handsfree/internal/trace"
)

// ErrWriterStopped is returned for writes submitted after Stop.
var ErrWriterStopped = errors.New("storage writer stopped")

// Writer serializes every write to a Store on one goroutine, so stored
// chunk references keep submission order even when the backend is slow.
// Message appends are fire-and-forget; chunk saves wait for their ack.
type Writer struct {
	store  conversation.Store
	logger *zap.Logger

	mu      sync.Mutex
	stopped bool
	jobs    chan job
	wg      sync.WaitGroup
}

type job struct {
	ctx            context.Context
	conversationID string
	messageID      string
	index          int
	pcm            []byte
	msg            *conversation.Message
	done           chan result
}

type result struct {
	path string
	err  error
}

// NewWriter starts a writer in front of store.
func NewWriter(store conversation.Store, queueSize int, logger *zap.Logger) *Writer {
	if queueSize <= 0 {
		queueSize = DefaultWriterQueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Writer{
		store:  store,
		logger: logger,
		jobs:   make(chan job, queueSize),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

func (w *Writer) run() {
	defer w.wg.Done()
	for j := range w.jobs {
		w.handle(j)
	}
}

func (w *Writer) handle(j job) {
	// Appends outlive the turn that produced them; a cancelled turn still
	// records its partial message.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(j.ctx), DefaultWriteTimeout)
	defer cancel()

	if j.msg != nil {
		ctx, span := trace.StartSpan(ctx, "append_message")
		defer span.End()
		span.SetAttr("role", string(j.msg.Role))
		if err := w.store.AppendMessage(ctx, j.conversationID, *j.msg); err != nil {
			span.SetAttr("error", err.Error())
			trace.Logger(ctx, w.logger).Warn("append message failed",
				zap.String("conversation_id", j.conversationID),
				zap.String("message_id", j.msg.ID),
				zap.Error(err))
		}
		return
	}

	if err := j.ctx.Err(); err != nil {
		j.done <- result{err: err}
		return
	}
	ctx, span := trace.StartSpan(ctx, "save_audio_chunk")
	defer span.End()
	span.SetAttr("index", j.index)
	span.SetAttr("bytes", len(j.pcm))

	path, err := w.store.SaveAudioChunk(ctx, j.conversationID, j.messageID, j.index, j.pcm)
	if err != nil {
		span.SetAttr("error", err.Error())
	}
	j.done <- result{path: path, err: err}
}

func (w *Writer) submit(j job) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return ErrWriterStopped
	}
	select {
	case w.jobs <- j:
		return nil
	case <-j.ctx.Done():
		return j.ctx.Err()
	}
}

// AppendMessage queues msg and returns once it is queued.
func (w *Writer) AppendMessage(ctx context.Context, conversationID string, msg conversation.Message) error {
	return w.submit(job{ctx: ctx, conversationID: conversationID, msg: &msg})
}

// SaveAudioChunk queues the chunk behind every earlier write and waits for
// the store to acknowledge it.
func (w *Writer) SaveAudioChunk(ctx context.Context, conversationID, messageID string, index int, pcm []byte) (string, error) {
	done := make(chan result, 1)
	err := w.submit(job{
		ctx:            ctx,
		conversationID: conversationID,
		messageID:      messageID,
		index:          index,
		pcm:            pcm,
		done:           done,
	})
	if err != nil {
		return "", err
	}
	select {
	case r := <-done:
		return r.path, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Stop rejects new writes, drains the queue and waits for the worker.
func (w *Writer) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	close(w.jobs)
	w.mu.Unlock()
	w.wg.Wait()
}
