package health

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/easy-station/hostlink/internal/hosts"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const hostServicePrefix = "host/"

// ServiceName is the health service name under which a host is reported.
func ServiceName(hostID string) string {
	return hostServicePrefix + hostID
}

// Server exposes the standard gRPC health protocol. The empty service is
// the gateway itself; "host/<id>" is SERVING while the host is ONLINE.
type Server struct {
	grpcServer *grpc.Server
	health     *grpchealth.Server
	port       int
}

// NewServer builds the server. A nil creds serves plaintext.
func NewServer(port int, creds credentials.TransportCredentials) *Server {
	var opts []grpc.ServerOption
	if creds != nil {
		opts = append(opts, grpc.Creds(creds))
	}

	hs := grpchealth.NewServer()
	gs := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(gs, hs)

	return &Server{
		grpcServer: gs,
		health:     hs,
		port:       port,
	}
}

// Observe is registered as a supervisor observer.
func (s *Server) Observe(hostID string, _, to hosts.Status) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if to == hosts.StatusOnline {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ServiceName(hostID), status)
}

// Seed publishes the status of known hosts as reported by status, which is
// the supervisor's view rather than the stored record.
func (s *Server) Seed(list []hosts.Host, status func(hostID string) hosts.Status) {
	for _, h := range list {
		st := status(h.ID)
		s.Observe(h.ID, st, st)
	}
}

func (s *Server) Start() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.port, err)
	}
	return s.Serve(lis)
}

func (s *Server) Serve(lis net.Listener) error {
	slog.Info("Starting gRPC health server", "address", lis.Addr().String())
	if err := s.grpcServer.Serve(lis); err != nil {
		return fmt.Errorf("failed to serve gRPC: %w", err)
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	slog.Info("Stopping gRPC health server")
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		slog.Info("gRPC health server stopped gracefully")
	case <-ctx.Done():
		slog.Warn("gRPC health server stop timeout, forcing shutdown")
		s.grpcServer.Stop()
	}
	return nil
}

func (s *Server) StopWithTimeout(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.Stop(ctx)
}
