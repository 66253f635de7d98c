package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/handsfree/internal/audio"
	"github.com/GriffinCanCode/handsfree/internal/chat"
	"github.com/GriffinCanCode/handsfree/internal/config"
	"github.com/GriffinCanCode/handsfree/internal/conversation"
	apperrors "github.com/GriffinCanCode/handsfree/internal/errors"
	"github.com/GriffinCanCode/handsfree/internal/resilience"
	"github.com/GriffinCanCode/handsfree/internal/syncx"
	"github.com/GriffinCanCode/handsfree/internal/transcribe"
	"github.com/GriffinCanCode/handsfree/internal/tts"
	"github.com/GriffinCanCode/handsfree/internal/voiceloop"
)

// ErrNotRunning is returned by control actions when the loop is not running.
var ErrNotRunning = errors.New("voice loop not running")

// Capture is the part of the audio engine the coordinator drives.
type Capture interface {
	StartListening(ctx context.Context, opts audio.ListenOptions) error
	Teardown()
}

// Deps are the collaborators of a Manager.
type Deps struct {
	Source      audio.Source
	Player      audio.Player
	Transcriber transcribe.Client
	Provider    chat.Provider
	Synthesizer tts.Synthesizer
	Store       conversation.Store
	Settings    config.SettingsSource
	Clock       clock.Clock
	Logger      *zap.Logger
}

// Options configure a Manager.
type Options struct {
	ConversationID     string
	AutoListen         bool
	ErrorRecoveryDelay time.Duration
	Engine             audio.EngineConfig
	ChunkMinLength     int
	TTSConcurrency     int
	Voice              tts.VoiceConfig
	HistoryLimit       int
}

// Status is a snapshot of the coordinator for the control surface.
type Status struct {
	Phase          string    `json:"phase"`
	LastError      string    `json:"last_error,omitempty"`
	Turn           uint64    `json:"turn"`
	ConversationID string    `json:"conversation_id"`
	Running        bool      `json:"running"`
	Since          time.Time `json:"since"`
	// Breakers maps each provider call to its circuit breaker state.
	Breakers map[string]string `json:"breakers,omitempty"`
}

type breakerReporter interface {
	Breaker() *resilience.Breaker
}

type actionKind int

const (
	actionTap actionKind = iota
	actionCancel
	actionReset
	actionRecover
	actionRelisten
)

type action struct {
	kind actionKind
	turn voiceloop.TurnID
	done chan struct{}
}

// Manager is the voice loop coordinator. A single goroutine consumes events
// and control actions in arrival order and is the only writer of the phase.
type Manager struct {
	opts     Options
	clock    clock.Clock
	logger   *zap.Logger
	settings config.SettingsSource
	store    conversation.Store

	capture     Capture
	transcriber transcribe.Client
	consumer    *chat.Consumer
	fetcher     *tts.Fetcher
	queue       *tts.Queue
	log         *conversation.Log
	updates     *broadcaster

	events  chan voiceloop.Event
	actions chan action

	status  *syncx.RWGuard[Status]
	current *syncx.RWGuard[voiceloop.Phase]

	// Owned by the loop goroutine.
	phase         voiceloop.Phase
	turn          voiceloop.TurnID
	turnSettings  config.Settings
	turnCancel    context.CancelCauseFunc
	turnDone      chan struct{}
	playCancel    context.CancelFunc
	recoveryTimer *clock.Timer

	runMu   sync.Mutex
	runCtx  context.Context
	stop    context.CancelFunc
	stopped chan struct{}
}

// New wires a Manager. The audio engine and playback queue are created here
// because they report back through the Manager's event channel.
func New(deps Deps, opts Options) *Manager {
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if opts.ErrorRecoveryDelay <= 0 {
		opts.ErrorRecoveryDelay = DefaultErrorRecoveryDelay
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = conversation.DefaultHistoryLimit
	}
	if opts.ChunkMinLength <= 0 {
		opts.ChunkMinLength = tts.DefaultMinChunkLength
	}
	logger := deps.Logger.Named("voiceloop")

	m := &Manager{
		opts:        opts,
		clock:       deps.Clock,
		logger:      logger,
		settings:    deps.Settings,
		store:       deps.Store,
		transcriber: deps.Transcriber,
		consumer:    chat.NewConsumer(deps.Provider, logger),
		log:         conversation.NewLog(opts.ConversationID, conversation.DefaultMaxMessages),
		updates:     newBroadcaster(),
		events:      make(chan voiceloop.Event, EventBuffer),
		actions:     make(chan action, ActionBuffer),
		phase:       voiceloop.PhaseOf(voiceloop.Idle),
		stopped:     make(chan struct{}),
	}
	m.current = syncx.NewGuard(m.phase)
	m.status = syncx.NewGuard(Status{
		Phase:          m.phase.Kind.String(),
		ConversationID: opts.ConversationID,
		Since:          time.Now(),
	})

	var warm *tts.Warmup
	if w, ok := deps.Synthesizer.(tts.Warmer); ok {
		warm = tts.NewWarmup(w, opts.Voice, logger)
	}
	m.fetcher = tts.NewFetcher(deps.Synthesizer, warm, opts.TTSConcurrency, logger)
	m.capture = audio.NewEngine(deps.Source, m.emit, opts.Engine, deps.Clock, logger)
	m.queue = tts.NewQueue(deps.Player, deps.Store, m.emit, logger)
	m.queue.OnChunk = m.chunkStored
	close(m.stopped)
	return m
}

// Start launches the coordinator loop. Stop or cancelling ctx ends it.
func (m *Manager) Start(ctx context.Context) error {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.stop != nil {
		return errors.New("voice loop already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	m.runCtx = ctx
	m.stop = cancel
	m.stopped = make(chan struct{})
	m.status.Update(func(s *Status) { s.Running = true })

	go m.run(ctx, m.stopped)
	m.logger.Info("voice loop started",
		zap.String("conversation_id", m.opts.ConversationID),
		zap.Bool("auto_listen", m.opts.AutoListen))
	return nil
}

// Stop ends the loop, aborting any turn in flight.
func (m *Manager) Stop() {
	m.runMu.Lock()
	stop, stopped := m.stop, m.stopped
	m.runMu.Unlock()
	if stop == nil {
		return
	}
	stop()
	<-stopped
}

func (m *Manager) run(ctx context.Context, stopped chan struct{}) {
	defer close(stopped)
	defer m.shutdown()

	if m.opts.AutoListen {
		m.startListening(ctx, false)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-m.events:
			m.handleEvent(ctx, ev)
		case a := <-m.actions:
			m.handleAction(ctx, a)
			if a.done != nil {
				close(a.done)
			}
		}
	}
}

func (m *Manager) shutdown() {
	m.abortTurn()
	m.capture.Teardown()
	if m.recoveryTimer != nil {
		m.recoveryTimer.Stop()
	}
	m.status.Update(func(s *Status) { s.Running = false })
	m.logger.Info("voice loop stopped")
}

// emit is the producers' side of the event channel. It gives up once ctx
// (the producer's turn or session) is done.
func (m *Manager) emit(ctx context.Context, ev voiceloop.Event) {
	select {
	case m.events <- ev:
	case <-ctx.Done():
	}
}

func (m *Manager) post(ctx context.Context, a action) error {
	select {
	case m.actions <- a:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// control posts an action and waits until the loop has applied it.
func (m *Manager) control(ctx context.Context, kind actionKind) error {
	m.runMu.Lock()
	runCtx, stopped := m.runCtx, m.stopped
	m.runMu.Unlock()
	if runCtx == nil || runCtx.Err() != nil {
		return ErrNotRunning
	}

	a := action{kind: kind, done: make(chan struct{})}
	select {
	case m.actions <- a:
	case <-ctx.Done():
		return ctx.Err()
	case <-stopped:
		return ErrNotRunning
	}
	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-stopped:
		return ErrNotRunning
	}
}

// Tap toggles listening: it stops listening, starts listening from idle or
// error, or cancels the turn in flight.
func (m *Manager) Tap(ctx context.Context) error { return m.control(ctx, actionTap) }

// Cancel aborts the turn in flight and re-enters listening.
func (m *Manager) Cancel(ctx context.Context) error { return m.control(ctx, actionCancel) }

// Reset aborts everything and returns to idle.
func (m *Manager) Reset(ctx context.Context) error { return m.control(ctx, actionReset) }

// Status returns the current coordinator snapshot.
func (m *Manager) Status() Status {
	s := m.status.Get()
	s.Breakers = map[string]string{
		"llm":       m.consumer.Breaker().State().String(),
		"synthesis": m.fetcher.Breaker().State().String(),
	}
	if r, ok := m.transcriber.(breakerReporter); ok {
		s.Breakers["transcription"] = r.Breaker().State().String()
	}
	return s
}

// Phase returns the current phase.
func (m *Manager) Phase() voiceloop.Phase { return m.current.Get() }

// Conversation returns a copy of the conversation log.
func (m *Manager) Conversation() conversation.Snapshot { return m.log.Snapshot() }

// Subscribe returns a stream of updates and a function to cancel it.
func (m *Manager) Subscribe() (<-chan Update, func()) { return m.updates.subscribe() }

func (m *Manager) handleEvent(ctx context.Context, ev voiceloop.Event) {
	if ev.Kind != voiceloop.EventReset && ev.Turn != m.turn {
		m.logger.Debug("dropping stale event",
			zap.Stringer("event", ev.Kind),
			zap.Uint64("event_turn", uint64(ev.Turn)),
			zap.Uint64("turn", uint64(m.turn)))
		return
	}
	prev := m.phase
	m.apply(ev)

	// Effects only follow events the reducer accepted in the phase that
	// owns them; anything else is a leftover of an abandoned turn.
	switch ev.Kind {
	case voiceloop.EventTranscriptionBegan:
		if prev.Kind == voiceloop.Listening {
			m.beginTurn(ctx, ev.Audio)
		}
	case voiceloop.EventTTSCompleted:
		if prev.Busy() {
			hadSpoken := m.queue.HasPlayed()
			m.finishTurn()
			m.startListening(ctx, hadSpoken)
		}
	case voiceloop.EventTranscriptionFailed, voiceloop.EventError:
		if m.phase.Kind == voiceloop.Error {
			m.fail(ctx, m.phase.Message)
		}
	}
}

// apply runs the reducer and publishes the result.
func (m *Manager) apply(ev voiceloop.Event) {
	prev := m.phase
	m.phase = voiceloop.Reduce(m.phase, ev)
	m.updates.emit(eventUpdate(ev))

	if m.phase == prev {
		return
	}
	m.current.Set(m.phase)
	m.status.Update(func(s *Status) {
		s.Phase = m.phase.Kind.String()
		s.Turn = uint64(m.turn)
		s.Since = time.Now()
	})
	m.logger.Debug("phase changed",
		zap.Stringer("from", prev),
		zap.Stringer("to", m.phase),
		zap.Stringer("event", ev.Kind),
		zap.Uint64("turn", uint64(m.turn)))
	m.updates.emit(Update{Type: UpdatePhase, Turn: uint64(m.turn), Phase: m.phase.Kind.String(), Error: m.phase.Message})
}

func (m *Manager) handleAction(ctx context.Context, a action) {
	switch a.kind {
	case actionTap:
		switch {
		case m.phase.Kind == voiceloop.Listening:
			m.capture.Teardown()
			m.turn++
			m.apply(voiceloop.ListeningStopped(m.turn))
		case m.phase.Kind == voiceloop.Idle || m.phase.Kind == voiceloop.Error:
			m.startListening(ctx, false)
		default:
			m.cancelTurn(ctx)
		}

	case actionCancel:
		if m.phase.Busy() {
			m.cancelTurn(ctx)
		}

	case actionReset:
		if m.recoveryTimer != nil {
			m.recoveryTimer.Stop()
		}
		m.abortTurn()
		m.capture.Teardown()
		m.turn++
		m.status.Update(func(s *Status) { s.LastError = "" })
		m.apply(voiceloop.Reset())

	case actionRecover:
		if a.turn != m.turn || m.phase.Kind != voiceloop.Error {
			m.logger.Debug("dropping stale recovery", zap.Uint64("recovery_turn", uint64(a.turn)))
			return
		}
		m.startListening(ctx, m.queue.HasPlayed())

	case actionRelisten:
		if a.turn != m.turn || m.phase.Kind != voiceloop.Transcribing {
			return
		}
		m.finishTurn()
		m.startListening(ctx, false)
	}
}

// cancelTurn aborts in-flight work and re-enters listening, with the echo
// cooldown only if audio had actually begun playing.
func (m *Manager) cancelTurn(ctx context.Context) {
	hadSpoken := m.queue.HasPlayed()
	m.logger.Info("cancelling turn",
		zap.Uint64("turn", uint64(m.turn)),
		zap.Stringer("phase", m.phase),
		zap.Bool("had_spoken", hadSpoken))
	m.abortTurn()
	m.startListening(ctx, hadSpoken)
}

// startListening begins a new turn with a fresh settings snapshot.
// Whether the new turn has played audio starts out false.
func (m *Manager) startListening(ctx context.Context, useCooldown bool) {
	m.abortTurn()
	m.queue.ResetPlayed()
	m.turn++
	if m.settings != nil {
		m.turnSettings = m.settings.Snapshot()
	}

	err := m.capture.StartListening(ctx, audio.ListenOptions{
		Turn:         m.turn,
		UseCooldown:  useCooldown,
		Cooldown:     m.turnSettings.Cooldown,
		VADThreshold: m.turnSettings.VADThreshold,
	})
	if err != nil {
		m.logger.Error("start listening failed", zap.Uint64("turn", uint64(m.turn)), zap.Error(err))
		msg := apperrors.UserMessage(err)
		if cause := errors.Unwrap(err); cause != nil {
			msg += ": " + cause.Error()
		}
		m.apply(voiceloop.EncounteredError(m.turn, msg))
		m.fail(ctx, msg)
		return
	}
	m.apply(voiceloop.ListeningStarted(m.turn, useCooldown))
}

// fail records a non-cancellation failure and schedules recovery.
func (m *Manager) fail(ctx context.Context, msg string) {
	if msg == "" {
		msg = "unknown error"
	}
	m.logger.Error("turn failed", zap.Uint64("turn", uint64(m.turn)), zap.String("error", msg))

	m.abortTurn()
	m.capture.Teardown()

	if m.recoveryTimer != nil {
		m.recoveryTimer.Stop()
	}
	turn := m.turn
	m.recoveryTimer = m.clock.AfterFunc(m.opts.ErrorRecoveryDelay, func() {
		_ = m.post(ctx, action{kind: actionRecover, turn: turn})
	})
	m.status.Update(func(s *Status) { s.LastError = msg })
}

// abortTurn cancels the running turn and waits for it to unwind. Playback
// stops and pending chunks are dropped.
func (m *Manager) abortTurn() {
	if m.turnCancel != nil {
		m.turnCancel(context.Canceled)
	}
	m.queue.Cancel()
	if m.playCancel != nil {
		m.playCancel()
	}
	if m.turnDone != nil {
		<-m.turnDone
	}
	m.turnCancel, m.turnDone, m.playCancel = nil, nil, nil
}

// finishTurn releases a turn whose playback has drained. The turn goroutine
// only has bookkeeping left at this point.
func (m *Manager) finishTurn() {
	m.abortTurn()
}

func (m *Manager) beginTurn(ctx context.Context, pcm []byte) {
	turnCtx, cancel := context.WithCancelCause(ctx)
	playCtx, stopPlay := context.WithCancel(ctx)
	done := make(chan struct{})
	m.turnCancel, m.turnDone, m.playCancel = cancel, done, stopPlay

	t := &turn{
		m:        m,
		id:       m.turn,
		settings: m.turnSettings,
		logger:   m.logger.With(zap.Uint64("turn", uint64(m.turn))),
		play:     playCtx,
	}
	go func() {
		defer close(done)
		defer cancel(nil)
		t.run(turnCtx, pcm)
	}()
}

func (m *Manager) chunkStored(t tts.Turn, ref conversation.ChunkRef) {
	m.log.AddChunk(t.MessageID, ref)
	r := ref
	m.updates.emit(Update{Type: UpdateChunk, Turn: uint64(t.ID), MessageID: t.MessageID, Chunk: &r})
}
