package crisis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/iceberg/internal/domain"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
)

// Wire names of the lexicon service.
const (
	ServiceName = "iceberg.crisis.v1.Lexicon"
	CheckMethod = "/" + ServiceName + "/Check"
)

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
	errNotServing               = errors.New("crisis lexicon service not serving")
)

// RemoteConfig holds configuration for the remote checker.
type RemoteConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	RequestTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultRemoteConfig returns default configuration for addr.
func DefaultRemoteConfig(addr string) RemoteConfig {
	return RemoteConfig{
		Address:          addr,
		ConnectTimeout:   5 * time.Second,
		RequestTimeout:   3 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// RemoteChecker calls a lexicon service over gRPC.
type RemoteChecker struct {
	conn    *grpc.ClientConn
	addr    string
	timeout time.Duration
	logger  *slog.Logger
}

// Dial connects to a lexicon service and waits until it is ready.
func Dial(cfg RemoteConfig, logger *slog.Logger, opts ...grpc.DialOption) (*RemoteChecker, error) {
	if logger == nil {
		logger = slog.Default()
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, opts...)

	conn, err := grpc.NewClient(cfg.Address, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create crisis client for %s: %w", cfg.Address, err)
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("crisis lexicon at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to crisis lexicon service", "address", cfg.Address)

	return &RemoteChecker{
		conn:    conn,
		addr:    cfg.Address,
		timeout: cfg.RequestTimeout,
		logger:  logger,
	}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errConnectionStateUnchanged
		}
	}
}

// Check sends {"text": text} and reads {"level": ...} back.
func (c *RemoteChecker) Check(ctx context.Context, text string) (domain.CrisisLevel, error) {
	in, err := structpb.NewStruct(map[string]any{"text": text})
	if err != nil {
		return "", fmt.Errorf("encode crisis request: %w", err)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	out := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, CheckMethod, in, out); err != nil {
		return "", fmt.Errorf("crisis check failed: %w", err)
	}
	return ParseLevel(out.GetFields()["level"].GetStringValue())
}

// Healthy reports whether the remote service reports SERVING.
func (c *RemoteChecker) Healthy(ctx context.Context) error {
	resp, err := healthpb.NewHealthClient(c.conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return fmt.Errorf("crisis health check: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("%w: %s", errNotServing, resp.GetStatus())
	}
	return nil
}

// Close releases the connection.
func (c *RemoteChecker) Close() error {
	return c.conn.Close()
}
