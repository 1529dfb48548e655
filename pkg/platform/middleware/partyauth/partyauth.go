// Package partyauth extracts the authenticated party from a bearer token and
// places it in the request context. Routes stay reachable without a token so
// internal tooling can call the API directly; a token that is present but
// invalid is rejected.
package partyauth

import (
	"log/slog"
	"net/http"
	"strings"

	"clearfund/internal/identity"
	id "clearfund/pkg/domain"
	dErrors "clearfund/pkg/domain-errors"
	"clearfund/pkg/platform/httputil"
	"clearfund/pkg/requestcontext"
)

// TokenVerifier validates a bearer token and returns its claims.
type TokenVerifier interface {
	Verify(tokenString string) (*identity.Claims, error)
}

// Middleware resolves the Authorization header into a context party identity.
func Middleware(verifier TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			claims, err := verifier.Verify(token)
			if err != nil {
				logger.WarnContext(ctx, "rejected bearer token",
					"request_id", requestcontext.RequestID(ctx), "error", err.Error())
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid or expired token"))
				return
			}

			partyID, err := id.ParsePartyID(claims.PartyID)
			if err != nil {
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "token carries no party identity"))
				return
			}
			ctx = requestcontext.WithPartyID(ctx, partyID)
			if caseID, err := id.ParseCaseID(claims.CaseID); err == nil {
				ctx = requestcontext.WithCaseID(ctx, caseID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
