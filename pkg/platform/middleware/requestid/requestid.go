// Package requestid assigns a correlation ID to each request and echoes it in
// the response so support can line up client reports with server logs.
package requestid

import (
	"net/http"

	"github.com/google/uuid"

	"clearfund/pkg/requestcontext"
)

// Header is the correlation header honored on requests and set on responses.
const Header = "X-Request-ID"

// Middleware reuses an inbound X-Request-ID when present, otherwise mints one.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(Header)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(Header, requestID)
		ctx := requestcontext.WithRequestID(r.Context(), requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
