package api

import (
	"context"
	"fmt"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the gRPC health service name of the engine.
const ServiceName = "irrigation.SessionEngine"

// NewGRPCServer returns a server with the standard health service
// registered and the health server used to report status.
func NewGRPCServer() (*grpc.Server, *health.Server) {
	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return srv, hs
}

// UpdateHealth mirrors the readiness checks into hs every interval until
// ctx is cancelled.
func UpdateHealth(ctx context.Context, hs *health.Server, checks []Check, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	set := func() {
		cctx, cancel := context.WithTimeout(ctx, interval)
		defer cancel()
		status := healthpb.HealthCheckResponse_NOT_SERVING
		if Ready(cctx, checks) {
			status = healthpb.HealthCheckResponse_SERVING
		}
		hs.SetServingStatus("", status)
		hs.SetServingStatus(ServiceName, status)
	}
	set()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			hs.Shutdown()
			return
		case <-t.C:
			set()
		}
	}
}

// ServeGRPC serves srv on addr until ctx is cancelled.
func ServeGRPC(ctx context.Context, addr string, srv *grpc.Server) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("grpc listen %s: %w", addr, err)
	}
	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()
	return srv.Serve(lis)
}
