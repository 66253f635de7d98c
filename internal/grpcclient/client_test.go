package grpcclient

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	apperrors "github.com/GriffinCanCode/handsfree/internal/errors"
)

func startProxy(t *testing.T) (*health.Server, *Client) {
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	c, err := New("passthrough:///bufnet", zaptest.NewLogger(t),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return hs, c
}

func TestCheckServing(t *testing.T) {
	_, c := startProxy(t)
	assert.NoError(t, c.Check(context.Background(), ""))
}

func TestCheckNotServing(t *testing.T) {
	hs, c := startProxy(t)
	hs.SetServingStatus("proxy.LLM", healthpb.HealthCheckResponse_NOT_SERVING)

	err := c.Check(context.Background(), "proxy.LLM")
	assert.ErrorIs(t, err, ErrNotServing)
}

func TestWaitReadyRetriesUntilServing(t *testing.T) {
	hs, c := startProxy(t)
	hs.SetServingStatus("proxy.LLM", healthpb.HealthCheckResponse_NOT_SERVING)

	go func() {
		time.Sleep(100 * time.Millisecond)
		hs.SetServingStatus("proxy.LLM", healthpb.HealthCheckResponse_SERVING)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, c.WaitReady(ctx, "proxy.LLM", 5))
}

func TestWaitReadyGivesUp(t *testing.T) {
	hs, c := startProxy(t)
	hs.SetServingStatus("proxy.LLM", healthpb.HealthCheckResponse_NOT_SERVING)

	err := c.WaitReady(context.Background(), "proxy.LLM", 2)
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindUnavailable))
	assert.ErrorIs(t, err, ErrNotServing)
}

func TestWaitReadyUnknownServiceIsNotRetried(t *testing.T) {
	_, c := startProxy(t)

	start := time.Now()
	err := c.WaitReady(context.Background(), "missing", 5)
	require.Error(t, err)
	assert.Less(t, time.Since(start), DefaultHealthCheckInterval, "NotFound is permanent")
}
