// Package requesttime pins a single "now" per HTTP request. Every timestamp a
// handler or service derives during the request comes from the same instant,
// so an obligation funded and its ledger entry never disagree on time.
package requesttime

import (
	"net/http"
	"time"

	"clearfund/pkg/requestcontext"
)

// Middleware captures the current time at the start of the request and stores
// it in the context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now().UTC())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
