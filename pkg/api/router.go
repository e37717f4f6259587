// Package api assembles the kernel's HTTP surface: the always-public
// endpoints (/health, /capabilities, /metrics), the admin /permissions
// surface, and every plugin-registered route, all mounted on a chi.Mux.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/stacklok/localghost/pkg/kernel"
)

// accessLogMiddleware logs one structured line per request via the
// provided zap logger, grounded on the teacher's
// pkg/api/v1/discovery.go use of *zap.SugaredLogger for request-scoped
// logging.
func accessLogMiddleware(log *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Infow("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start).String(),
			)
		})
	}
}

// NewRouter builds the complete HTTP handler for the kernel, given an
// already-constructed kernel.Kernel and an access-log sink.
func NewRouter(k *kernel.Kernel, log *zap.SugaredLogger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(accessLogMiddleware(log))

	// Always-public endpoints never pass through the admission middleware;
	// they carry no client identity and answer the same regardless of who
	// asks (spec.md §6).
	r.Mount("/health", HealthRouter())
	r.Mount("/capabilities", CapabilitiesRouter(k.Registry))
	r.Mount("/metrics", MetricsRouter())

	// Everything else — plugin-registered endpoints and the admin
	// /permissions surface — passes through the admission state machine.
	// Public plugin endpoints (e.g. /demo/ping) still traverse the
	// middleware, which short-circuits them via registry.IsPublic.
	r.Group(func(r chi.Router) {
		r.Use(k.Middleware)
		r.Mount("/permissions", PermissionsRouter(k.Store))
		for _, ep := range k.Registry.Routes() {
			r.Method(ep.Method, ep.Path, ep.Handler)
		}
	})

	return r
}
