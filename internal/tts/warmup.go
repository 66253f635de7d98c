package tts

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Warmup runs a Warmer at most once successfully. Concurrent callers share
// the in-flight attempt; a failed attempt is retried by the next caller.
type Warmup struct {
	warmer Warmer
	voice  VoiceConfig
	logger *zap.Logger

	group singleflight.Group
	mu    sync.Mutex
	done  bool
}

// NewWarmup creates a warm-up handle. A nil warmer is always warm.
func NewWarmup(warmer Warmer, voice VoiceConfig, logger *zap.Logger) *Warmup {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Warmup{warmer: warmer, voice: voice, logger: logger}
}

// Ensure returns once the synthesizer is warm or ctx is done.
func (w *Warmup) Ensure(ctx context.Context) error {
	if w.warmer == nil || w.Ready() {
		return nil
	}
	ch := w.group.DoChan("warm", func() (any, error) {
		if w.Ready() {
			return nil, nil
		}
		// Detached so one caller's cancellation does not fail the others.
		err := w.warmer.Warm(context.WithoutCancel(ctx), w.voice)
		if err != nil {
			w.logger.Warn("tts warm-up failed", zap.Error(err))
			return nil, err
		}
		w.mu.Lock()
		w.done = true
		w.mu.Unlock()
		w.logger.Info("tts warmed up", zap.String("model", w.voice.Model))
		return nil, nil
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ready reports whether warm-up has succeeded.
func (w *Warmup) Ready() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.done
}
