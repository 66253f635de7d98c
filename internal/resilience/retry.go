package resilience

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	apperrors "github.com/GriffinCanCode/handsfree/internal/errors"
)

// Retry configuration constants
const (
	DefaultMaxRetries   = 2
	DefaultBaseDelay    = 300 * time.Millisecond
	DefaultMaxDelay     = 4 * time.Second
	DefaultJitterFactor = 0.2

	// Opening an LLM stream tolerates one more attempt; a user is waiting on silence.
	StreamMaxRetries = 3
	StreamBaseDelay  = 500 * time.Millisecond
	StreamMaxDelay   = 5 * time.Second
)

// RetryConfig holds retry settings.
type RetryConfig struct {
	MaxRetries   int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64
	IsRetryable  func(error) bool
	Logger       *zap.Logger
}

// DefaultRetryConfig returns standard retry settings.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   DefaultMaxRetries,
		BaseDelay:    DefaultBaseDelay,
		MaxDelay:     DefaultMaxDelay,
		JitterFactor: DefaultJitterFactor,
		IsRetryable:  IsTransient,
	}
}

// StreamRetryConfig returns settings for opening streaming completions.
func StreamRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   StreamMaxRetries,
		BaseDelay:    StreamBaseDelay,
		MaxDelay:     StreamMaxDelay,
		JitterFactor: DefaultJitterFactor,
		IsRetryable:  IsTransient,
	}
}

func isCancellation(err error) bool {
	return apperrors.IsCancellation(err)
}

// IsRetryableGRPC checks if a gRPC status error is worth retrying.
func IsRetryableGRPC(err error) bool {
	s, ok := status.FromError(err)
	if !ok || err == nil {
		return false
	}
	switch s.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return true
	default:
		return false
	}
}

// IsRetryableHTTP checks OpenAI-compatible API errors for transient status codes.
func IsRetryableHTTP(err error) bool {
	var code int
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		code = reqErr.HTTPStatusCode
	default:
		return false
	}
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// IsTransient is the default classifier: never cancellations, then
// app-level kinds, HTTP status codes, and gRPC status codes.
func IsTransient(err error) bool {
	if err == nil || isCancellation(err) {
		return false
	}
	if errors.Is(err, ErrOpen) {
		return false
	}
	return apperrors.IsRetryable(err) || IsRetryableHTTP(err) || IsRetryableGRPC(err)
}

// Retry executes fn with exponential backoff. Returns last error if all retries fail.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	_, err := RetryWithResult(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// RetryWithResult is Retry for functions producing a value.
func RetryWithResult[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	cfg = cfg.withDefaults()
	var zero T
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !cfg.IsRetryable(lastErr) || attempt == cfg.MaxRetries {
			return zero, lastErr
		}

		delay := backoffDelay(cfg, attempt)
		cfg.Logger.Debug("retrying after error",
			zap.Int("attempt", attempt+1),
			zap.Int("max", cfg.MaxRetries),
			zap.Duration("delay", delay),
			zap.Error(lastErr))

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return zero, ctx.Err()
		case <-t.C:
		}
	}
	return zero, lastErr
}

// backoffDelay calculates exponential backoff with jitter.
func backoffDelay(cfg RetryConfig, attempt int) time.Duration {
	delay := cfg.BaseDelay << min(attempt, 6)
	if delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	jitter := float64(delay) * cfg.JitterFactor * (rand.Float64() - 0.5)
	return time.Duration(float64(delay) + jitter)
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	if c.JitterFactor <= 0 {
		c.JitterFactor = DefaultJitterFactor
	}
	if c.IsRetryable == nil {
		c.IsRetryable = IsTransient
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}
