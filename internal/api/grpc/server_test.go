package grpcapi

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"vision-caption-client/internal/observability/metrics"
)

func startHealthServer(t *testing.T) (*HealthServer, grpc_health_v1.HealthClient, *metrics.Metrics) {
	t.Helper()
	m := metrics.NewMetrics(prometheus.NewRegistry())
	hs := NewHealthServer(m)

	lis := bufconn.Listen(1 << 20)
	go hs.Serve(lis)
	t.Cleanup(hs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return hs, grpc_health_v1.NewHealthClient(conn), m
}

func check(t *testing.T, client grpc_health_v1.HealthClient, service string) grpc_health_v1.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := client.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestHealthServer_FollowsConnection(t *testing.T) {
	hs, client, m := startHealthServer(t)

	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, check(t, client, ""))
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, check(t, client, ServiceName))

	hs.SetConnected(true)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, check(t, client, ServiceName))

	hs.SetConnected(false)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, check(t, client, ServiceName))

	calls := testutil.ToFloat64(m.RPCTotal.WithLabelValues("/grpc.health.v1.Health/Check", "OK"))
	assert.Equal(t, 4.0, calls)
}
