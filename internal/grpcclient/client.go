package grpcclient

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	apperrors "github.com/GriffinCanCode/handsfree/internal/errors"
	"github.com/GriffinCanCode/handsfree/internal/resilience"
	"github.com/GriffinCanCode/handsfree/internal/trace"
)

// ErrNotServing is returned while the remote reports anything but SERVING.
var ErrNotServing = errors.New("service not serving")

// Client is a health client for the backend proxy.
type Client struct {
	conn   *grpc.ClientConn
	health healthpb.HealthClient
	logger *zap.Logger
}

// New creates a client for addr. Extra dial options are appended.
func New(addr string, logger *zap.Logger, opts ...grpc.DialOption) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:    DefaultKeepaliveTime,
			Timeout: DefaultKeepaliveTimeout,
		}),
		grpc.WithChainUnaryInterceptor(trace.UnaryClientInterceptor()),
	}, opts...)

	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.KindConfig, "invalid proxy address %q", addr)
	}
	return &Client{
		conn:   conn,
		health: healthpb.NewHealthClient(conn),
		logger: logger.Named("proxy"),
	}, nil
}

// Close closes the gRPC connection
func (c *Client) Close() error {
	return c.conn.Close()
}

// Check asks for the status of service. An empty name checks the whole server.
func (c *Client) Check(ctx context.Context, service string) error {
	ctx, cancel := context.WithTimeout(ctx, HealthCheckTimeout)
	defer cancel()

	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return err
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("%w: %s", ErrNotServing, resp.GetStatus())
	}
	return nil
}

// WaitReady polls Check until service is SERVING or attempts run out.
func (c *Client) WaitReady(ctx context.Context, service string, attempts int) error {
	if attempts <= 0 {
		attempts = DefaultReadyAttempts
	}
	cfg := resilience.RetryConfig{
		MaxRetries: attempts - 1,
		BaseDelay:  DefaultHealthCheckInterval,
		MaxDelay:   4 * DefaultHealthCheckInterval,
		IsRetryable: func(err error) bool {
			return errors.Is(err, ErrNotServing) || resilience.IsRetryableGRPC(err)
		},
		Logger: c.logger,
	}
	err := resilience.Retry(ctx, cfg, func() error { return c.Check(ctx, service) })
	if err != nil {
		if apperrors.IsCancellation(err) {
			return apperrors.Wrap(err, apperrors.KindCancellation, "proxy readiness check cancelled")
		}
		return apperrors.Wrap(err, apperrors.KindUnavailable, "backend proxy not ready")
	}
	c.logger.Info("backend proxy ready", zap.String("target", c.conn.Target()))
	return nil
}
