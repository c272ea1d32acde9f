package grpchealth

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"liqrisk/internal/infrastructure/health"
	"liqrisk/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
)

func TestServer_MirrorsHealthManager(t *testing.T) {
	var poolDown atomic.Bool

	manager := health.NewHealthManager(nil)
	manager.Register("engine", func() error { return nil })
	manager.Register("sweep_pool", func() error {
		if poolDown.Load() {
			return errors.New("stopped")
		}
		return nil
	})

	server := NewServer(manager, 20*time.Millisecond, logging.NewNopLogger())

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx, lis) }()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	client := grpc_health_v1.NewHealthClient(conn)

	check := func(service string) grpc_health_v1.HealthCheckResponse_ServingStatus {
		reqCtx, reqCancel := context.WithTimeout(context.Background(), time.Second)
		defer reqCancel()
		resp, err := client.Check(reqCtx, &grpc_health_v1.HealthCheckRequest{Service: service})
		if err != nil {
			return grpc_health_v1.HealthCheckResponse_UNKNOWN
		}
		return resp.Status
	}

	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, check(""))
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, check(ServiceName("engine")))

	poolDown.Store(true)
	assert.Eventually(t, func() bool {
		return check("") == grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}, time.Second, 20*time.Millisecond)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, check(ServiceName("sweep_pool")))
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, check(ServiceName("engine")))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("health server did not stop")
	}
}

func TestServiceName(t *testing.T) {
	assert.Equal(t, "liqrisk.engine", ServiceName("engine"))
}
