// Package grpc serves the admin endpoint: the standard gRPC health service
// reporting the server itself ("") and each storage backend.
package grpc

import (
	"context"
	"net"

	"github.com/dmitrijs2005/pairchat/internal/logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type AdminServer struct {
	address string
	logger  logging.Logger
	health  *health.Server
}

// NewAdminServer returns a server whose backends start NOT_SERVING until a
// health change is reported.
func NewAdminServer(address string, l logging.Logger) *AdminServer {
	h := health.NewServer()
	h.SetServingStatus(ServiceServer, healthpb.HealthCheckResponse_SERVING)
	h.SetServingStatus(ServiceCache, healthpb.HealthCheckResponse_NOT_SERVING)
	h.SetServingStatus(ServiceLog, healthpb.HealthCheckResponse_NOT_SERVING)

	return &AdminServer{
		address: address,
		logger:  l.With("module", "admin_server"),
		health:  h,
	}
}

func (s *AdminServer) Run(ctx context.Context) error {

	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.loggingInterceptor))
	healthpb.RegisterHealthServer(srv, s.health)

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping admin server...")
		// Shutdown flips every service to NOT_SERVING so watchers see it.
		s.health.Shutdown()
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting admin server", "address", s.address)

	if err := srv.Serve(listen); err != nil {
		return err
	}

	return nil
}
