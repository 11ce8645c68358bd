package httpapi

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"apicatalog.org/internal/obs"
)

// HealthServer exposes grpc.health.v1.Health with a status that follows the
// readiness probe, both overall ("") and for serviceName.
type HealthServer struct {
	srv       *health.Server
	readiness readinessChecker
	timeout   time.Duration
}

// NewHealthServer creates the health service; it reports NOT_SERVING until
// the first probe passes.
func NewHealthServer(r readinessChecker) *HealthServer {
	h := &HealthServer{srv: health.NewServer(), readiness: r, timeout: 3 * time.Second}
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Register attaches the health service to s.
func (h *HealthServer) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.srv)
}

// Probe runs the readiness check once and publishes the result.
func (h *HealthServer) Probe(ctx context.Context) error {
	var err error
	if h.readiness != nil {
		ctx, cancel := context.WithTimeout(ctx, h.timeout)
		err = h.readiness.Check(ctx)
		cancel()
	}
	if err != nil {
		obs.SetReady(false)
		h.set(healthpb.HealthCheckResponse_NOT_SERVING)
		return err
	}
	obs.SetReady(true)
	h.set(healthpb.HealthCheckResponse_SERVING)
	return nil
}

// Run probes every interval until ctx ends, then marks the service as
// shutting down so watchers drain.
func (h *HealthServer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	_ = h.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			h.srv.Shutdown()
			return
		case <-ticker.C:
			if err := h.Probe(ctx); err != nil {
				obs.Warn("readiness probe failed", map[string]any{"error": err.Error()})
			}
		}
	}
}

func (h *HealthServer) set(status healthpb.HealthCheckResponse_ServingStatus) {
	h.srv.SetServingStatus("", status)
	h.srv.SetServingStatus(serviceName, status)
}
