package chat

import (
	"context"
	"errors"
	"io"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/handsfree/internal/conversation"
	apperrors "github.com/GriffinCanCode/handsfree/internal/errors"
	"github.com/GriffinCanCode/handsfree/internal/resilience"
	"github.com/GriffinCanCode/handsfree/internal/trace"
)

// DeltaFunc receives each non-empty delta. Returning an error aborts the stream.
type DeltaFunc func(ctx context.Context, delta string) error

// Consumer is the LLM stream consumer. It writes deltas into a placeholder
// assistant_partial message and settles its role when the stream ends.
type Consumer struct {
	provider Provider
	breaker  *resilience.Breaker
	retry    resilience.RetryConfig
	logger   *zap.Logger
}

// NewConsumer creates a consumer for provider.
func NewConsumer(provider Provider, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	retry := resilience.StreamRetryConfig()
	retry.Logger = logger
	return &Consumer{
		provider: provider,
		breaker:  resilience.New("llm_"+provider.Name(), resilience.DefaultConfig(), logger),
		retry:    retry,
		logger:   logger,
	}
}

// Breaker exposes the circuit breaker for status reporting.
func (c *Consumer) Breaker() *resilience.Breaker { return c.breaker }

// Consume streams a response to history into the message messageID of log.
//
// On completion the message becomes assistant. On cancellation it stays
// assistant_partial and the returned error is a cancellation. Any other
// failure marks it assistant_error and returns a KindStream error.
func (c *Consumer) Consume(ctx context.Context, log *conversation.Log, messageID string, history []conversation.Message, onDelta DeltaFunc) (conversation.Message, error) {
	ctx, span := trace.StartSpan(ctx, "llm_stream")
	defer span.End()
	span.SetAttr("provider", c.provider.Name())
	logger := trace.Logger(ctx, c.logger)

	history = conversation.Sanitize(history)

	// Retries only cover opening the stream: nothing has been spoken yet.
	stream, err := resilience.RetryWithResult(ctx, c.retry, func() (Stream, error) {
		return resilience.ExecuteWithResult(c.breaker, func() (Stream, error) {
			return c.provider.Stream(ctx, history)
		})
	})
	if err != nil {
		return c.settle(ctx, log, messageID, err, logger)
	}
	defer stream.Close()

	deltas := 0
	for {
		if err := ctx.Err(); err != nil {
			return c.settle(ctx, log, messageID, err, logger)
		}
		delta, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				err = ctx.Err()
			}
			return c.settle(ctx, log, messageID, err, logger)
		}
		if delta == "" {
			continue
		}
		deltas++
		if _, uerr := log.Update(messageID, func(m *conversation.Message) { m.Content += delta }); uerr != nil {
			return conversation.Message{}, apperrors.Wrap(uerr, apperrors.KindInternal, "placeholder message missing")
		}
		if onDelta != nil {
			if err := onDelta(ctx, delta); err != nil {
				return c.settle(ctx, log, messageID, err, logger)
			}
		}
	}

	span.SetAttr("deltas", deltas)
	msg, err := log.Update(messageID, func(m *conversation.Message) { m.Role = conversation.RoleAssistant })
	if err != nil {
		return conversation.Message{}, apperrors.Wrap(err, apperrors.KindInternal, "placeholder message missing")
	}
	logger.Debug("llm stream completed", zap.Int("deltas", deltas), zap.Duration("latency", span.Duration()))
	return msg, nil
}

func (c *Consumer) settle(ctx context.Context, log *conversation.Log, messageID string, err error, logger *zap.Logger) (conversation.Message, error) {
	if apperrors.IsCancellation(err) {
		msg, _ := log.Get(messageID)
		logger.Debug("llm stream cancelled", zap.Int("chars", len(msg.Content)))
		return msg, apperrors.Wrap(err, apperrors.KindCancellation, "llm stream cancelled")
	}

	msg, _ := log.Update(messageID, func(m *conversation.Message) { m.Role = conversation.RoleAssistantError })
	logger.Warn("llm stream failed", zap.Error(err))

	// Failures raised by the delta sink keep their own kind.
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.Kind != apperrors.KindUnknown {
		return msg, err
	}
	return msg, apperrors.Wrap(err, apperrors.KindStream, "response stream failed")
}
