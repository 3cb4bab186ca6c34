package health

import (
	"context"
	"net"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"support-chat/internal/observability"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Checker keeps the standard gRPC health service in sync with the database.
type Checker struct {
	srv      *health.Server
	db       Pinger
	service  string
	interval time.Duration
	log      *zap.Logger

	mu      sync.RWMutex
	healthy bool
}

// NewChecker builds a checker for service. It starts NOT_SERVING until the
// first successful ping.
func NewChecker(db Pinger, service string, interval time.Duration, log *zap.Logger) *Checker {
	if log == nil {
		log = zap.NewNop()
	}
	srv := health.NewServer()
	srv.SetServingStatus(service, healthpb.HealthCheckResponse_NOT_SERVING)
	srv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	return &Checker{srv: srv, db: db, service: service, interval: interval, log: log}
}

// Healthy returns the last observed status.
func (c *Checker) Healthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.healthy
}

// Check pings once and updates the served status.
func (c *Checker) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	err := c.db.PingContext(ctx)
	status := healthpb.HealthCheckResponse_SERVING
	if err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}

	c.mu.Lock()
	changed := c.healthy != (err == nil)
	c.healthy = err == nil
	c.mu.Unlock()

	if changed {
		if err != nil {
			c.log.Warn("database unhealthy", zap.Error(err))
		} else {
			c.log.Info("database healthy")
		}
	}
	c.srv.SetServingStatus(c.service, status)
	c.srv.SetServingStatus("", status)
	return err == nil
}

// Run checks on every interval until ctx ends, then reports NOT_SERVING
// for good.
func (c *Checker) Run(ctx context.Context) {
	c.Check(ctx)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.srv.Shutdown()
			return
		case <-ticker.C:
			c.Check(ctx)
		}
	}
}

// NewGRPCServer builds the gRPC server exposing the health service, with
// metrics and tracing on every call.
func NewGRPCServer(c *Checker) *grpc.Server {
	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(observability.GRPCServerMetricsUnaryInterceptor()),
	)
	healthpb.RegisterHealthServer(srv, c.srv)
	return srv
}

// Serve listens on addr until the server is stopped.
func Serve(srv *grpc.Server, addr string, log *zap.Logger) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	log.Info("grpc health server listening", zap.String("addr", addr))
	return srv.Serve(lis)
}
