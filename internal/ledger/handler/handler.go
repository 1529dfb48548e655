package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"clearfund/internal/ledger/models"
	ledgerservice "clearfund/internal/ledger/service"
	id "clearfund/pkg/domain"
	dErrors "clearfund/pkg/domain-errors"
	"clearfund/pkg/platform/httputil"
)

// Service defines the ledger operations exposed over HTTP.
type Service interface {
	ListEntries(ctx context.Context, caseID id.CaseID, page, pageSize int) ([]*models.Entry, error)
	Summary(ctx context.Context, caseID id.CaseID, petitionerID, respondentID id.PartyID) (*models.BalanceSummary, error)
	RecordAdjustment(ctx context.Context, req ledgerservice.AdjustmentRequest) (*models.Entry, error)
}

// Handler handles ledger and balance endpoints.
type Handler struct {
	logger *slog.Logger
	ledger Service
}

// New creates a new ledger Handler.
func New(ledger Service, logger *slog.Logger) *Handler {
	return &Handler{
		logger: logger,
		ledger: ledger,
	}
}

// Register registers the ledger routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/ledger", h.handleListEntries)
	r.Get("/balance", h.handleBalance)
	r.Post("/ledger/adjustments", h.handleRecordAdjustment)
}

func (h *Handler) handleListEntries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	caseID, err := id.ParseCaseID(r.URL.Query().Get("case_id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "case_id is required"))
		return
	}
	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "page_size", 50)

	entries, err := h.ledger.ListEntries(ctx, caseID, page, pageSize)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list ledger entries",
			"case_id", caseID.String(), "error", err.Error())
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"case_id":   caseID,
		"page":      page,
		"page_size": pageSize,
		"entries":   entries,
	})
}

func (h *Handler) handleBalance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	caseID, err := id.ParseCaseID(q.Get("case_id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "case_id is required"))
		return
	}
	petitionerID, err := id.ParsePartyID(q.Get("petitioner_id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "petitioner_id is required"))
		return
	}
	respondentID, err := id.ParsePartyID(q.Get("respondent_id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "respondent_id is required"))
		return
	}

	summary, err := h.ledger.Summary(ctx, caseID, petitionerID, respondentID)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to compute balance summary",
			"case_id", caseID.String(), "error", err.Error())
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, summary)
}

type adjustmentRequest struct {
	CaseID         string `json:"case_id"`
	AdjustsEntryID string `json:"adjusts_entry_id"`
	ObligorID      string `json:"obligor_id"`
	ObligeeID      string `json:"obligee_id"`
	Amount         string `json:"amount"`
	Description    string `json:"description"`
}

func (h *Handler) handleRecordAdjustment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body adjustmentRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	req, err := parseAdjustment(body)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	entry, err := h.ledger.RecordAdjustment(ctx, req)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInternal) {
			h.logger.ErrorContext(ctx, "failed to record adjustment",
				"case_id", body.CaseID, "error", err.Error())
		}
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, entry)
}

func parseAdjustment(body adjustmentRequest) (ledgerservice.AdjustmentRequest, error) {
	var req ledgerservice.AdjustmentRequest
	var err error

	if req.CaseID, err = id.ParseCaseID(body.CaseID); err != nil {
		return req, dErrors.New(dErrors.CodeInvalidInput, "case_id is required")
	}
	if req.AdjustsEntryID, err = id.ParseEntryID(body.AdjustsEntryID); err != nil {
		return req, dErrors.New(dErrors.CodeInvalidInput, "adjusts_entry_id is required")
	}
	if req.ObligorID, err = id.ParsePartyID(body.ObligorID); err != nil {
		return req, dErrors.New(dErrors.CodeInvalidInput, "obligor_id is required")
	}
	if req.ObligeeID, err = id.ParsePartyID(body.ObligeeID); err != nil {
		return req, dErrors.New(dErrors.CodeInvalidInput, "obligee_id is required")
	}
	if req.Amount, err = decimal.NewFromString(body.Amount); err != nil {
		return req, dErrors.New(dErrors.CodeInvalidInput, "amount must be a decimal string")
	}
	req.Description = body.Description
	return req, nil
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
