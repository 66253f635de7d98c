package audio

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	apperrors "github.com/GriffinCanCode/handsfree/internal/errors"
	"github.com/GriffinCanCode/handsfree/internal/voiceloop"
)

// Emitter delivers events to the coordinator. It must return once ctx is done.
type Emitter func(ctx context.Context, ev voiceloop.Event)

// EngineConfig holds the parts of capture that do not change per turn.
type EngineConfig struct {
	ListenTimeout time.Duration
	Silence       time.Duration
	MinSpeech     time.Duration
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.ListenTimeout <= 0 {
		c.ListenTimeout = DefaultListenTimeout
	}
	if c.Silence <= 0 {
		c.Silence = DefaultSilenceDuration
	}
	if c.MinSpeech <= 0 {
		c.MinSpeech = DefaultMinSpeech
	}
	return c
}

// ListenOptions are read from the settings snapshot at the start of a turn.
type ListenOptions struct {
	Turn         voiceloop.TurnID
	UseCooldown  bool
	Cooldown     time.Duration
	VADThreshold float64
	// Detector overrides the energy detector built from VADThreshold.
	Detector Detector
}

// Stats counts capture buffers for the current session.
type Stats struct {
	Accepted int64
	Dropped  int64
}

// Engine is the audio capture engine: it owns the microphone tap and the
// single live capture session.
type Engine struct {
	source Source
	clock  clock.Clock
	emit   Emitter
	cfg    EngineConfig
	logger *zap.Logger

	mu      sync.Mutex
	run     *captureRun
	session *Session

	accepted atomic.Int64
	dropped  atomic.Int64
}

type captureRun struct {
	turn   voiceloop.TurnID
	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine creates an engine. A nil clock uses the wall clock.
func NewEngine(source Source, emit Emitter, cfg EngineConfig, clk clock.Clock, logger *zap.Logger) *Engine {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		source: source,
		clock:  clk,
		emit:   emit,
		cfg:    cfg.withDefaults(),
		logger: logger,
	}
}

// StartListening opens the tap and creates a fresh session. Any previous
// session is torn down first. The returned error is a hardware failure.
func (e *Engine) StartListening(ctx context.Context, opts ListenOptions) error {
	e.Teardown()

	detector := opts.Detector
	if detector == nil {
		detector = EnergyDetector{Threshold: opts.VADThreshold}
	}
	session := newSession(detector, NewSegmenterConfig(CanonicalSampleRate, e.cfg.Silence))
	if opts.UseCooldown {
		session.cooldown.Arm(e.clock.Now(), opts.Cooldown)
	}

	runCtx, cancel := context.WithCancel(ctx)
	frames, errs, err := e.source.Start(runCtx)
	if err != nil {
		cancel()
		return apperrors.Wrap(err, apperrors.KindHardware, "microphone unavailable")
	}

	run := &captureRun{turn: opts.Turn, cancel: cancel, done: make(chan struct{})}
	e.accepted.Store(0)
	e.dropped.Store(0)

	e.mu.Lock()
	e.run = run
	e.session = session
	e.mu.Unlock()

	// Created before the goroutine starts so a mock clock sees it.
	deadline := e.clock.Now().Add(e.cfg.ListenTimeout)
	timeout := e.clock.Timer(e.cfg.ListenTimeout)

	go e.capture(runCtx, run, session, frames, errs, deadline, timeout)
	return nil
}

// Teardown stops the tap and discards the session. Safe from any state.
func (e *Engine) Teardown() {
	e.mu.Lock()
	run := e.run
	e.run = nil
	e.session = nil
	e.mu.Unlock()
	if run == nil {
		return
	}

	run.cancel()
	<-run.done
	if err := e.source.Stop(); err != nil {
		e.logger.Warn("stop capture", zap.Error(err))
	}
}

// SessionLen returns the live session's sample count, -1 without a session.
func (e *Engine) SessionLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return -1
	}
	return e.session.Len()
}

// Stats returns buffer counters for the current session.
func (e *Engine) Stats() Stats {
	return Stats{Accepted: e.accepted.Load(), Dropped: e.dropped.Load()}
}

// Listening reports whether a session is alive.
func (e *Engine) Listening() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.run != nil
}

func (e *Engine) capture(ctx context.Context, run *captureRun, session *Session, frames <-chan []float32, errs <-chan error, deadline time.Time, timeout *clock.Timer) {
	defer close(run.done)
	defer run.cancel()
	defer func() {
		if timeout != nil {
			timeout.Stop()
		}
	}()

	log := e.logger.With(zap.Uint64("turn", uint64(run.turn)))
	minSamples := int(e.cfg.MinSpeech.Seconds() * CanonicalSampleRate)
	srcRate := e.source.SampleRate()

	timeoutC := func() <-chan time.Time {
		if timeout == nil {
			return nil
		}
		return timeout.C
	}

	timedOut := func() {
		log.Info("no speech before timeout", zap.Duration("timeout", e.cfg.ListenTimeout))
		e.finish(run)
		e.emit(ctx, voiceloop.ListeningStopped(run.turn))
	}

	for {
		select {
		case <-ctx.Done():
			return

		case <-timeoutC():
			timedOut()
			return

		case err := <-errs:
			if ctx.Err() != nil {
				return
			}
			log.Error("capture device failed", zap.Error(err))
			e.finish(run)
			e.emit(ctx, voiceloop.EncounteredError(run.turn, hardwareMessage(err)))
			return

		case frame, ok := <-frames:
			if !ok {
				if ctx.Err() != nil {
					return
				}
				e.finish(run)
				e.emit(ctx, voiceloop.EncounteredError(run.turn, hardwareMessage(errors.New("capture stream closed"))))
				return
			}

			samples := Resample(frame, srcRate, CanonicalSampleRate)
			e.mu.Lock()
			accepted := session.Offer(e.clock.Now(), samples)
			e.mu.Unlock()
			if !accepted {
				e.dropped.Add(1)
				continue
			}
			e.accepted.Add(1)

			for b := session.Detect(); b != BoundaryNone; b = session.Detect() {
				switch b {
				case BoundarySpeechStart:
					log.Debug("speech started")
					if timeout != nil {
						timeout.Stop()
						timeout = nil
					}
				case BoundarySpeechEnd:
					trimmed := session.Trimmed()
					if len(trimmed) < minSamples {
						log.Debug("discarding short utterance", zap.Int("samples", len(trimmed)))
						e.mu.Lock()
						session.restart()
						e.mu.Unlock()
						// The timeout counts from entering listening, not from
						// the last discarded burst.
						remaining := deadline.Sub(e.clock.Now())
						if remaining <= 0 {
							timedOut()
							return
						}
						timeout = e.clock.Timer(remaining)
						continue
					}
					pcm := Float32ToPCM16(trimmed)
					log.Debug("speech ended", zap.Int("samples", len(trimmed)))
					e.finish(run)
					e.emit(ctx, voiceloop.TranscriptionBegan(run.turn, pcm))
					return
				}
			}
		}
	}
}

// finish releases the device and session from inside the capture goroutine.
// A Teardown that raced with it finds no run and returns.
func (e *Engine) finish(run *captureRun) {
	e.mu.Lock()
	owned := e.run == run
	if owned {
		e.run = nil
		e.session = nil
	}
	e.mu.Unlock()
	if !owned {
		return
	}
	if err := e.source.Stop(); err != nil {
		e.logger.Warn("stop capture", zap.Error(err))
	}
}

func hardwareMessage(err error) string {
	return "microphone failed: " + err.Error()
}
