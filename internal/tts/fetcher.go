package tts

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/GriffinCanCode/handsfree/internal/errors"
	"github.com/GriffinCanCode/handsfree/internal/resilience"
	"github.com/GriffinCanCode/handsfree/internal/trace"
)

// Audio is a synthesized chunk.
type Audio struct {
	Index int
	PCM   []byte
}

// Sink receives synthesized audio in completion order.
type Sink func(ctx context.Context, a Audio) error

// Fetcher synthesizes chunks in parallel up to a concurrency limit.
type Fetcher struct {
	synth       Synthesizer
	warm        *Warmup
	breaker     *resilience.Breaker
	retry       resilience.RetryConfig
	concurrency int
	logger      *zap.Logger
}

// NewFetcher creates a fetcher. warm may be nil.
func NewFetcher(synth Synthesizer, warm *Warmup, concurrency int, logger *zap.Logger) *Fetcher {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	retry := resilience.DefaultRetryConfig()
	retry.Logger = logger
	return &Fetcher{
		synth:       synth,
		warm:        warm,
		breaker:     resilience.New("synthesis", resilience.FastConfig(), logger),
		retry:       retry,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Breaker exposes the circuit breaker for status reporting.
func (f *Fetcher) Breaker() *resilience.Breaker { return f.breaker }

// Synthesize fetches one chunk with warm-up, retries and the breaker.
func (f *Fetcher) Synthesize(ctx context.Context, text string, voice VoiceConfig) ([]byte, error) {
	if f.warm != nil {
		if err := f.warm.Ensure(ctx); err != nil && ctx.Err() == nil {
			f.logger.Debug("synthesizing without warm-up", zap.Error(err))
		}
	}

	pcm, err := resilience.RetryWithResult(ctx, f.retry, func() ([]byte, error) {
		return resilience.ExecuteWithResult(f.breaker, func() ([]byte, error) {
			callCtx, cancel := context.WithTimeout(ctx, DefaultSynthTimeout)
			defer cancel()
			return f.synth.Synthesize(callCtx, text, voice)
		})
	})
	if err != nil {
		if apperrors.IsCancellation(err) || ctx.Err() != nil {
			return nil, apperrors.Wrap(context.Canceled, apperrors.KindCancellation, "synthesis cancelled")
		}
		return nil, apperrors.Wrap(err, apperrors.KindSynthesis, "speech synthesis failed")
	}
	return pcm, nil
}

// Batch fetches the chunks of one assistant turn. Chunks are dispatched in
// submission order; results reach the sink as they complete.
type Batch struct {
	f       *Fetcher
	voice   VoiceConfig
	sink    Sink
	onError func(error)

	ctx        context.Context
	g          *errgroup.Group
	chunks     chan Chunk
	dispatched chan struct{}
	closeOnce  sync.Once
	errOnce    sync.Once
	submitted  atomic.Int32
}

// Begin starts a batch. onError is called once with the first synthesis or
// sink failure; cancellation is not reported.
func (f *Fetcher) Begin(ctx context.Context, voice VoiceConfig, sink Sink, onError func(error)) *Batch {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)
	b := &Batch{
		f:          f,
		voice:      voice,
		sink:       sink,
		onError:    onError,
		ctx:        gctx,
		g:          g,
		chunks:     make(chan Chunk, DefaultFetchBacklog),
		dispatched: make(chan struct{}),
	}
	go b.dispatch()
	return b
}

func (b *Batch) dispatch() {
	defer close(b.dispatched)
	for ch := range b.chunks {
		if b.ctx.Err() != nil {
			continue
		}
		b.g.Go(func() error { return b.fetch(ch) })
	}
}

func (b *Batch) fetch(ch Chunk) error {
	ctx, span := trace.StartSpan(b.ctx, "tts_fetch")
	defer span.End()
	span.SetAttr("index", ch.Index)

	pcm, err := b.f.Synthesize(ctx, ch.Text, b.voice)
	if err == nil {
		err = b.sink(ctx, Audio{Index: ch.Index, PCM: pcm})
	}
	if err != nil {
		if !apperrors.IsCancellation(err) && b.ctx.Err() == nil {
			span.SetAttr("error", err.Error())
			trace.Logger(ctx, b.f.logger).Warn("tts chunk failed", zap.Int("index", ch.Index), zap.Error(err))
			b.errOnce.Do(func() {
				if b.onError != nil {
					b.onError(err)
				}
			})
		}
		return err
	}
	trace.Logger(ctx, b.f.logger).Debug("tts chunk ready",
		zap.Int("index", ch.Index),
		zap.Int("bytes", len(pcm)),
		zap.Duration("latency", span.Duration()))
	return nil
}

// Submit queues a chunk for synthesis.
func (b *Batch) Submit(ch Chunk) error {
	select {
	case b.chunks <- ch:
		b.submitted.Add(1)
		return nil
	case <-b.ctx.Done():
		return apperrors.Wrap(context.Canceled, apperrors.KindCancellation, "batch closed")
	}
}

// Submitted returns the number of accepted chunks.
func (b *Batch) Submitted() int { return int(b.submitted.Load()) }

// Close marks the end of submissions. Submit must not be called afterwards.
func (b *Batch) Close() {
	b.closeOnce.Do(func() { close(b.chunks) })
}

// Wait closes the batch and waits for every dispatched fetch.
func (b *Batch) Wait() error {
	b.Close()
	<-b.dispatched
	return b.g.Wait()
}
