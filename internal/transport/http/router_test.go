package httptransport

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clearfund/internal/identity"
	id "clearfund/pkg/domain"
	"clearfund/pkg/requestcontext"
)

// whoami echoes the context party identity so middleware behavior is
// observable from the outside.
type whoami struct{}

func (whoami) Register(r chi.Router) {
	r.Get("/whoami", func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte(requestcontext.PartyID(req.Context()).String()))
	})
}

func newTestRouter() (http.Handler, *identity.TokenService) {
	tokens := identity.NewTokenService("test-secret", "clearfund", "clearfund-api")
	return NewRouter(slog.Default(), tokens, whoami{}), tokens
}

func TestHealthz(t *testing.T) {
	router, _ := newTestRouter()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRequestIDEchoed(t *testing.T) {
	router, _ := newTestRouter()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "corr-42")
	router.ServeHTTP(rec, req)
	assert.Equal(t, "corr-42", rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestBearerTokenResolvesParty(t *testing.T) {
	router, tokens := newTestRouter()
	partyID := id.NewPartyID()
	token, err := tokens.Issue(partyID, id.CaseID{}, time.Hour)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, partyID.String(), rec.Body.String())
}

func TestInvalidBearerTokenRejected(t *testing.T) {
	router, _ := newTestRouter()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/whoami", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestExpiredBearerTokenRejected(t *testing.T) {
	router, tokens := newTestRouter()
	token, err := tokens.Issue(id.NewPartyID(), id.CaseID{}, -time.Minute)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMissingTokenPassesThrough(t *testing.T) {
	router, _ := newTestRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/whoami", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id.PartyID{}.String(), rec.Body.String())
}
