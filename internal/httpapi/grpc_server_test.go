package httpapi

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

const bufSize = 1024 * 1024

func startBufGRPC(t *testing.T, h *HealthServer) (*grpc.ClientConn, func()) {
	t.Helper()

	listener := bufconn.Listen(bufSize)
	server := grpc.NewServer()
	h.Register(server)

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			t.Logf("grpc serve error: %v", err)
		}
	}()

	dialer := func(ctx context.Context, _ string) (net.Conn, error) {
		return listener.DialContext(ctx)
	}
	conn, err := grpc.NewClient(
		"passthrough:///bufnet",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial bufnet: %v", err)
	}

	cleanup := func() {
		server.GracefulStop()
		_ = conn.Close()
		_ = listener.Close()
	}
	return conn, cleanup
}

type switchReadiness struct{ failing atomic.Bool }

func (s *switchReadiness) Check(context.Context) error {
	if s.failing.Load() {
		return errors.New("backend unreachable")
	}
	return nil
}

func TestHealthFollowsReadiness(t *testing.T) {
	ready := &switchReadiness{}
	h := NewHealthServer(ready)
	conn, cleanup := startBufGRPC(t, h)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client := healthpb.NewHealthClient(conn)

	check := func(service string) healthpb.HealthCheckResponse_ServingStatus {
		t.Helper()
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
		if err != nil {
			t.Fatalf("Check(%q): %v", service, err)
		}
		return resp.GetStatus()
	}

	if got := check(""); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("before first probe: %v", got)
	}
	if err := h.Probe(ctx); err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if got := check(serviceName); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("after passing probe: %v", got)
	}

	ready.failing.Store(true)
	if err := h.Probe(ctx); err == nil {
		t.Fatal("expected probe error")
	}
	if got := check(""); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("after failing probe: %v", got)
	}
}
