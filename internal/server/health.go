package server

import (
	"context"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/GriffinCanCode/handsfree/internal/orchestrator"
	"github.com/GriffinCanCode/handsfree/internal/trace"
	"github.com/GriffinCanCode/handsfree/internal/voiceloop"
)

// Health serves the standard gRPC health protocol. The voice loop service
// reports NOT_SERVING while the loop is in error or stopped.
type Health struct {
	grpc   *grpc.Server
	health *health.Server
	logger *zap.Logger
}

// NewHealth creates the gRPC health surface.
func NewHealth(logger *zap.Logger) *Health {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Health{
		grpc:   grpc.NewServer(grpc.ChainUnaryInterceptor(trace.UnaryServerInterceptor())),
		health: health.NewServer(),
		logger: logger.Named("health"),
	}
	healthpb.RegisterHealthServer(h.grpc, h.health)
	h.health.SetServingStatus(HealthService, healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Track follows the coordinator until ctx is done, then marks the service
// NOT_SERVING.
func (h *Health) Track(ctx context.Context, ctrl Controller) {
	updates, unsubscribe := ctrl.Subscribe()
	defer unsubscribe()

	st := ctrl.Status()
	h.set(st.Running, st.Phase)
	for {
		select {
		case <-ctx.Done():
			h.set(false, "")
			return
		case u, ok := <-updates:
			if !ok {
				h.set(false, "")
				return
			}
			if u.Type == orchestrator.UpdatePhase {
				h.set(ctrl.Status().Running, u.Phase)
			}
		}
	}
}

func (h *Health) set(running bool, phase string) {
	status := healthpb.HealthCheckResponse_SERVING
	if !running || phase == voiceloop.Error.String() {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.health.SetServingStatus(HealthService, status)
	h.logger.Debug("health status", zap.String("service", HealthService), zap.Stringer("status", status))
}

// Serve accepts connections on lis until Stop.
func (h *Health) Serve(lis net.Listener) error {
	h.logger.Info("grpc health listening", zap.String("addr", lis.Addr().String()))
	return h.grpc.Serve(lis)
}

// Stop marks every service NOT_SERVING and stops the server.
func (h *Health) Stop() {
	h.health.Shutdown()
	h.grpc.GracefulStop()
}
