package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"github.com/GriffinCanCode/handsfree/internal/orchestrator"
)

func startHealth(t *testing.T) (*Health, healthpb.HealthClient) {
	lis := bufconn.Listen(1 << 20)
	h := NewHealth(zaptest.NewLogger(t))
	go func() { _ = h.Serve(lis) }()
	t.Cleanup(h.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return h, healthpb.NewHealthClient(conn)
}

func servingStatus(t *testing.T, client healthpb.HealthClient) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: HealthService})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestHealthFollowsPhase(t *testing.T) {
	h, client := startHealth(t)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, servingStatus(t, client), "not serving before tracking")

	ctrl := newFakeController()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Track(ctx, ctrl)
	}()

	require.Eventually(t, func() bool {
		return servingStatus(t, client) == healthpb.HealthCheckResponse_SERVING
	}, time.Second, 5*time.Millisecond)

	ctrl.updates <- orchestrator.Update{Type: orchestrator.UpdatePhase, Phase: "error", Error: "microphone failed"}
	require.Eventually(t, func() bool {
		return servingStatus(t, client) == healthpb.HealthCheckResponse_NOT_SERVING
	}, time.Second, 5*time.Millisecond)

	ctrl.updates <- orchestrator.Update{Type: orchestrator.UpdatePhase, Phase: "listening"}
	require.Eventually(t, func() bool {
		return servingStatus(t, client) == healthpb.HealthCheckResponse_SERVING
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, servingStatus(t, client), "stopped loop is not serving")
}
