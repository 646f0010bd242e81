// Package grpcapi exposes the client's health over the standard gRPC health
// protocol so orchestrators can probe it.
package grpcapi

import (
	"net"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"vision-caption-client/internal/observability"
	"vision-caption-client/internal/observability/metrics"
)

// ServiceName is the health service that tracks the inference connection.
// The empty service name reports process liveness.
const ServiceName = "vision.caption.Client"

// HealthServer serves grpc.health.v1 with reflection enabled.
type HealthServer struct {
	server *grpc.Server
	health *health.Server
}

// NewHealthServer creates a server reporting NOT_SERVING for ServiceName
// until SetConnected(true).
func NewHealthServer(m *metrics.Metrics) *HealthServer {
	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(observability.UnaryServerInterceptor(m)),
		grpc.ChainStreamInterceptor(observability.StreamServerInterceptor(m)),
	)

	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(server, hs)
	hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	// Enable gRPC reflection for debugging tools like grpcurl
	reflection.Register(server)

	return &HealthServer{server: server, health: hs}
}

// SetConnected updates ServiceName to SERVING while the connection is open.
func (h *HealthServer) SetConnected(open bool) {
	st := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if open {
		st = grpc_health_v1.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus(ServiceName, st)
}

// Serve blocks serving on lis until Stop.
func (h *HealthServer) Serve(lis net.Listener) error {
	log.Info().Str("addr", lis.Addr().String()).Msg("gRPC health server started")
	return h.server.Serve(lis)
}

// Stop marks every service NOT_SERVING and drains in-flight calls.
func (h *HealthServer) Stop() {
	log.Info().Msg("Shutting down gRPC health server")
	h.health.Shutdown()
	h.server.GracefulStop()
}
