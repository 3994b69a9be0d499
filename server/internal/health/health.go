// Package health reports whether the console can see its fleet.
//
// The process is SERVING as long as it runs. The Service entry follows the
// last snapshot fetch: SERVING after a success, NOT_SERVING after a failure.
// The same state is exposed over gRPC (grpc.health.v1) and as GET /healthz.
package health

import (
	"context"
	"net/http"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Service is the health service name of the reconciliation loop.
const Service = "intellimonitor.Engine"

// Reporter owns a grpc health server and translates sync outcomes into it.
type Reporter struct {
	srv *health.Server
}

// New returns a Reporter. The engine starts NOT_SERVING until its first
// successful sync.
func New() *Reporter {
	srv := health.NewServer()
	srv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	srv.SetServingStatus(Service, healthpb.HealthCheckResponse_NOT_SERVING)
	return &Reporter{srv: srv}
}

// Register adds the health service to s.
func (r *Reporter) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, r.srv)
}

// OnSync records the outcome of one snapshot fetch. It matches the shape of
// engine.Options.OnSync.
func (r *Reporter) OnSync(err error) {
	st := healthpb.HealthCheckResponse_SERVING
	if err != nil {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	r.srv.SetServingStatus(Service, st)
}

// Shutdown flips every service to NOT_SERVING so watchers see the process go.
func (r *Reporter) Shutdown() { r.srv.Shutdown() }

// Handler serves GET /healthz: 200 while the engine is SERVING, 503 otherwise.
// ?service= selects another entry; "" is process liveness.
func (r *Reporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		svc := Service
		if q := req.URL.Query(); q.Has("service") {
			svc = q.Get("service")
		}
		ctx, cancel := context.WithTimeout(req.Context(), time.Second)
		defer cancel()

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		resp, err := r.srv.Check(ctx, &healthpb.HealthCheckRequest{Service: svc})
		if err != nil {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte("UNKNOWN\n")) //nolint:errcheck
			return
		}
		if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		w.Write([]byte(resp.GetStatus().String() + "\n")) //nolint:errcheck
	})
}
