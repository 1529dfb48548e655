package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"clearfund/internal/compliance/models"
	id "clearfund/pkg/domain"
	dErrors "clearfund/pkg/domain-errors"
	"clearfund/pkg/platform/httputil"
)

// Scorer defines the compliance operation exposed over HTTP.
type Scorer interface {
	Snapshot(ctx context.Context, caseID id.CaseID, days int) (*models.Snapshot, error)
}

// Handler handles the compliance snapshot endpoint.
type Handler struct {
	logger *slog.Logger
	scorer Scorer
}

// New creates a new compliance Handler.
func New(scorer Scorer, logger *slog.Logger) *Handler {
	return &Handler{
		logger: logger,
		scorer: scorer,
	}
}

// Register registers the compliance routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/compliance/snapshot", h.handleSnapshot)
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	caseID, err := id.ParseCaseID(q.Get("case_id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "case_id is required"))
		return
	}

	days := 0
	if raw := q.Get("days"); raw != "" {
		days, err = strconv.Atoi(raw)
		if err != nil || days < 1 || days > 366 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "days must be between 1 and 366"))
			return
		}
	}

	snapshot, err := h.scorer.Snapshot(ctx, caseID, days)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to compute compliance snapshot",
			"case_id", caseID.String(), "error", err.Error())
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, snapshot)
}
