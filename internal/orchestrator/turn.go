package orchestrator

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/handsfree/internal/audio"
	"github.com/GriffinCanCode/handsfree/internal/config"
	"github.com/GriffinCanCode/handsfree/internal/conversation"
	apperrors "github.com/GriffinCanCode/handsfree/internal/errors"
	"github.com/GriffinCanCode/handsfree/internal/trace"
	"github.com/GriffinCanCode/handsfree/internal/transcribe"
	"github.com/GriffinCanCode/handsfree/internal/tts"
	"github.com/GriffinCanCode/handsfree/internal/voiceloop"
)

// turn runs one utterance through transcription, the LLM stream and
// speech. It reports progress as events and never touches the phase.
type turn struct {
	m        *Manager
	id       voiceloop.TurnID
	settings config.Settings
	logger   *zap.Logger
	// play outlives run: the queue keeps draining after the reply has been
	// fetched. Only the coordinator cancels it.
	play context.Context
}

func (t *turn) run(ctx context.Context, pcm []byte) {
	ctx = trace.WithContext(ctx, trace.New())
	ctx, span := trace.StartSpan(ctx, "voice_turn")
	defer span.End()
	span.SetAttr("turn", uint64(t.id))
	t.logger = trace.Logger(ctx, t.logger)

	text, ok := t.transcribe(ctx, pcm)
	if !ok {
		return
	}

	m := t.m
	user := conversation.NewMessage(conversation.RoleUser, text)
	m.log.Append(user)
	t.persist(ctx, user)
	m.updates.emit(Update{Type: UpdateTranscript, Turn: uint64(t.id), Text: text, MessageID: user.ID, Message: &user})
	m.emit(ctx, voiceloop.TranscriptionDelivered(t.id, text))

	t.respond(ctx)
	t.logger.Debug("turn finished", zap.Duration("latency", span.Duration()))
}

func (t *turn) transcribe(ctx context.Context, pcm []byte) (string, bool) {
	ctx, span := trace.StartSpan(ctx, "transcribe")
	defer span.End()
	span.SetAttr("bytes", len(pcm))

	text, err := t.m.transcriber.Transcribe(ctx, pcm, audio.CanonicalSampleRate)
	text = strings.TrimSpace(text)
	switch {
	case errors.Is(err, transcribe.ErrEmptyAudio), err == nil && text == "":
		t.logger.Debug("nothing transcribed, listening again")
		_ = t.m.post(ctx, action{kind: actionRelisten, turn: t.id})
		return "", false
	case err != nil:
		if apperrors.IsCancellation(err) || ctx.Err() != nil {
			return "", false
		}
		span.SetAttr("error", err.Error())
		t.logger.Warn("transcription failed", zap.Error(err))
		t.m.emit(ctx, voiceloop.TranscriptionFailed(t.id, apperrors.UserMessage(err)))
		return "", false
	}
	span.SetAttr("chars", len(text))
	return text, true
}

// respond streams the assistant reply into a placeholder message and feeds
// finished chunks to the fetcher as they are cut.
func (t *turn) respond(ctx context.Context) {
	m := t.m
	history := m.log.History(m.opts.HistoryLimit)
	placeholder := conversation.NewMessage(conversation.RoleAssistantPartial, "")
	m.log.Append(placeholder)
	m.emit(ctx, voiceloop.LLMStarted(t.id))

	// A synthesis failure cancels work and playback with its cause; the
	// coordinator aborting the turn cancels ctx.
	work, cancelWork := context.WithCancelCause(ctx)
	defer cancelWork(nil)
	play, stopPlay := context.WithCancelCause(t.play)
	fail := func(cause error) {
		cancelWork(cause)
		stopPlay(cause)
	}

	m.queue.Start(play, tts.Turn{ID: t.id, ConversationID: m.log.ID(), MessageID: placeholder.ID})

	chunker := tts.NewChunker(tts.ChunkerConfig{
		MinLength:     m.opts.ChunkMinLength,
		MinScale:      t.settings.MinChunkScale,
		MaxLength:     t.settings.MaxChunkLength,
		PlaybackSpeed: t.settings.PlaybackSpeed,
	})
	voice := m.opts.Voice
	if t.settings.PlaybackSpeed > 0 {
		voice.Speed = t.settings.PlaybackSpeed
	}
	batch := m.fetcher.Begin(work, voice,
		func(_ context.Context, a tts.Audio) error { return m.queue.Enqueue(a) },
		fail)

	fetching := false
	submit := func(chunks []tts.Chunk) error {
		for _, ch := range chunks {
			if !fetching {
				fetching = true
				m.emit(ctx, voiceloop.TTSFetchStarted(t.id))
			}
			if err := batch.Submit(ch); err != nil {
				return err
			}
		}
		return nil
	}

	_, err := m.consumer.Consume(work, m.log, placeholder.ID, history, func(_ context.Context, delta string) error {
		m.updates.emit(Update{Type: UpdateDelta, Turn: uint64(t.id), MessageID: placeholder.ID, Text: delta})
		return submit(chunker.Push(delta))
	})
	if err == nil {
		err = submit(chunker.Flush())
	}
	if err == nil {
		m.emit(ctx, voiceloop.LLMCompleted(t.id, true))
		m.queue.Finish(batch.Submitted())
		t.logger.Debug("llm stream done", zap.Int("chunks", batch.Submitted()))
		_ = batch.Wait()
	} else {
		batch.Close()
	}

	cause := context.Cause(work)
	switch {
	case ctx.Err() != nil:
		// Aborted by the coordinator: the partial reply is kept as is.
	case cause != nil && !errors.Is(cause, context.Canceled):
		t.markFailed(placeholder.ID)
		m.emit(ctx, voiceloop.EncounteredError(t.id, apperrors.UserMessage(cause)))
	case err != nil && !apperrors.IsCancellation(err):
		m.emit(ctx, voiceloop.LLMCompleted(t.id, false))
		m.emit(ctx, voiceloop.EncounteredError(t.id, apperrors.UserMessage(err)))
	}

	if final, ok := m.log.Get(placeholder.ID); ok {
		t.persist(ctx, final)
		m.updates.emit(Update{Type: UpdateMessage, Turn: uint64(t.id), MessageID: final.ID, Message: &final})
	}
}

func (t *turn) markFailed(messageID string) {
	_, _ = t.m.log.Update(messageID, func(msg *conversation.Message) {
		msg.Role = conversation.RoleAssistantError
	})
}

// persist records msg even if the turn has been cancelled.
func (t *turn) persist(ctx context.Context, msg conversation.Message) {
	if t.m.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), FinalizeTimeout)
	defer cancel()
	if err := t.m.store.AppendMessage(ctx, t.m.log.ID(), msg); err != nil {
		t.logger.Warn("persist message failed",
			zap.String("message_id", msg.ID),
			zap.String("role", string(msg.Role)),
			zap.Error(err))
	}
}
