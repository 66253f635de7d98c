package transcribe

import (
	"context"

	"go.uber.org/zap"

	apperrors "github.com/GriffinCanCode/handsfree/internal/errors"
	"github.com/GriffinCanCode/handsfree/internal/resilience"
	"github.com/GriffinCanCode/handsfree/internal/trace"
)

// Resilient adds the empty-audio short circuit, retries, a circuit breaker
// and error classification in front of a Client.
type Resilient struct {
	next    Client
	breaker *resilience.Breaker
	retry   resilience.RetryConfig
	logger  *zap.Logger
}

// NewResilient wraps next.
func NewResilient(next Client, logger *zap.Logger) *Resilient {
	if logger == nil {
		logger = zap.NewNop()
	}
	retry := resilience.DefaultRetryConfig()
	retry.Logger = logger
	return &Resilient{
		next:    next,
		breaker: resilience.New("transcription", resilience.DefaultConfig(), logger),
		retry:   retry,
		logger:  logger,
	}
}

// Breaker exposes the circuit breaker for status reporting.
func (r *Resilient) Breaker() *resilience.Breaker { return r.breaker }

func (r *Resilient) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	if len(pcm) == 0 {
		return "", ErrEmptyAudio
	}
	ctx, span := trace.StartSpan(ctx, "transcribe")
	defer span.End()
	span.SetAttr("bytes", len(pcm))

	text, err := resilience.RetryWithResult(ctx, r.retry, func() (string, error) {
		return resilience.ExecuteWithResult(r.breaker, func() (string, error) {
			return r.next.Transcribe(ctx, pcm, sampleRate)
		})
	})
	if err != nil {
		if apperrors.IsCancellation(err) {
			return "", apperrors.Wrap(err, apperrors.KindCancellation, "transcription cancelled")
		}
		span.SetAttr("error", err.Error())
		trace.Logger(ctx, r.logger).Warn("transcription failed", zap.Error(err))
		return "", apperrors.Wrap(err, apperrors.KindTranscription, "transcription failed")
	}
	trace.Logger(ctx, r.logger).Debug("transcribed",
		zap.Int("chars", len(text)),
		zap.Duration("latency", span.Duration()))
	return text, nil
}
