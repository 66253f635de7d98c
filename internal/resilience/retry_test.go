package resilience

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	apperrors "github.com/GriffinCanCode/handsfree/internal/errors"
)

func fastRetry(max int) RetryConfig {
	return RetryConfig{MaxRetries: max, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestRetrySucceedsFirst(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), DefaultRetryConfig(), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	got, err := RetryWithResult(context.Background(), fastRetry(3), func() (string, error) {
		calls++
		if calls < 3 {
			return "", status.Error(codes.Unavailable, "transient")
		}
		return "hello", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", got)
	assert.Equal(t, 3, calls)
}

func TestRetryExhaustsRetries(t *testing.T) {
	calls := 0
	retryErr := apperrors.New(apperrors.KindUnavailable, "proxy down")

	err := Retry(context.Background(), fastRetry(2), func() error {
		calls++
		return retryErr
	})
	assert.ErrorIs(t, err, retryErr)
	assert.Equal(t, 3, calls)
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	calls := 0
	permanent := status.Error(codes.InvalidArgument, "bad audio")

	err := Retry(context.Background(), fastRetry(5), func() error {
		calls++
		return permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestRetryNeverRetriesCancellation(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetry(5), func() error {
		calls++
		return fmt.Errorf("read stream: %w", context.Canceled)
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestRetryContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{MaxRetries: 10, BaseDelay: 200 * time.Millisecond, MaxDelay: time.Second}

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := Retry(ctx, cfg, func() error {
		return status.Error(codes.Unavailable, "fail")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsRetryableGRPC(t *testing.T) {
	tests := []struct {
		code codes.Code
		want bool
	}{
		{codes.Unavailable, true},
		{codes.DeadlineExceeded, true},
		{codes.ResourceExhausted, true},
		{codes.Aborted, true},
		{codes.InvalidArgument, false},
		{codes.PermissionDenied, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsRetryableGRPC(status.Error(tt.code, "x")), tt.code.String())
	}
	assert.False(t, IsRetryableGRPC(errors.New("plain")))
}

func TestIsRetryableHTTP(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limited", &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests}, true},
		{"server error", &openai.APIError{HTTPStatusCode: http.StatusBadGateway}, true},
		{"bad request", &openai.APIError{HTTPStatusCode: http.StatusBadRequest}, false},
		{"request error", &openai.RequestError{HTTPStatusCode: http.StatusServiceUnavailable}, true},
		{"wrapped", fmt.Errorf("open stream: %w", &openai.APIError{HTTPStatusCode: 500}), true},
		{"plain", errors.New("nope"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryableHTTP(tt.err))
		})
	}
}

func TestIsTransientIgnoresOpenBreaker(t *testing.T) {
	assert.False(t, IsTransient(ErrOpen))
	assert.False(t, IsTransient(nil))
}

func TestBackoffDelay(t *testing.T) {
	cfg := RetryConfig{BaseDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond, JitterFactor: 0}

	assert.Equal(t, 100*time.Millisecond, backoffDelay(cfg, 0))
	assert.Equal(t, 200*time.Millisecond, backoffDelay(cfg, 1))
	assert.Equal(t, 300*time.Millisecond, backoffDelay(cfg, 5), "capped")
}
