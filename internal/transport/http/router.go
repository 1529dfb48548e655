// Package httptransport assembles the HTTP surface: shared middleware, the
// operational endpoints, and the per-vertical route groups.
package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"clearfund/pkg/platform/httputil"
	"clearfund/pkg/platform/middleware/partyauth"
	"clearfund/pkg/platform/middleware/requestid"
	"clearfund/pkg/platform/middleware/requesttime"
)

// Registrar is implemented by each vertical's HTTP handler.
type Registrar interface {
	Register(r chi.Router)
}

// NewRouter builds the service router. verifier may be nil, in which case
// bearer tokens are ignored and party identity comes from request bodies.
func NewRouter(logger *slog.Logger, verifier partyauth.TokenVerifier, handlers ...Registrar) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(requestid.Middleware)
	r.Use(requesttime.Middleware)
	if verifier != nil {
		r.Use(partyauth.Middleware(verifier, logger))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(api chi.Router) {
		for _, h := range handlers {
			h.Register(api)
		}
	})
	return r
}
