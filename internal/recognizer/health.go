package recognizer

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// Health is the outcome of a recognizer health probe.
type Health struct {
	Serving bool
	// Detail is the reported serving status, or a note when the server has
	// no health service.
	Detail string
}

// CheckHealth connects to endpoint and queries the standard gRPC health
// service for the overall server status. A server that is reachable but does
// not implement the health service counts as serving.
func CheckHealth(ctx context.Context, endpoint string, timeout time.Duration) (Health, error) {
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	conn, err := dialReady(ctx, endpoint, timeout)
	if err != nil {
		return Health{}, err
	}
	defer conn.Close()

	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(checkCtx, &healthpb.HealthCheckRequest{})
	if status.Code(err) == codes.Unimplemented {
		return Health{Serving: true, Detail: "reachable; health service not implemented"}, nil
	}
	if err != nil {
		return Health{}, fmt.Errorf("health check: %w", err)
	}

	st := resp.GetStatus()
	return Health{Serving: st == healthpb.HealthCheckResponse_SERVING, Detail: st.String()}, nil
}
