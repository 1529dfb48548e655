package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	ledgermodels "clearfund/internal/ledger/models"
	"clearfund/internal/obligation/models"
	id "clearfund/pkg/domain"
	dErrors "clearfund/pkg/domain-errors"
	"clearfund/pkg/platform/httputil"
	"clearfund/pkg/requestcontext"
)

// Service defines the obligation operations exposed over HTTP.
type Service interface {
	Create(ctx context.Context, req models.CreateRequest) (*models.Obligation, error)
	Fund(ctx context.Context, req models.FundRequest) (*models.Obligation, *ledgermodels.Entry, error)
	Verify(ctx context.Context, obligationID id.ObligationID, verifiedBy id.PartyID) (*models.Obligation, error)
	Complete(ctx context.Context, obligationID id.ObligationID, completedBy id.PartyID, receiptRef string) (*models.Obligation, error)
	Cancel(ctx context.Context, req models.CancelRequest) (*models.Obligation, error)
	Get(ctx context.Context, obligationID id.ObligationID) (*models.Obligation, error)
	List(ctx context.Context, caseID id.CaseID, page, pageSize int) ([]*models.Obligation, error)
	CaseMetrics(ctx context.Context, caseID id.CaseID) (*models.CaseMetrics, error)
}

// Handler handles obligation lifecycle endpoints.
type Handler struct {
	logger      *slog.Logger
	obligations Service
}

// New creates a new obligation Handler.
func New(obligations Service, logger *slog.Logger) *Handler {
	return &Handler{
		logger:      logger,
		obligations: obligations,
	}
}

// Register registers the obligation routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/obligations", h.handleCreate)
	r.Get("/obligations", h.handleList)
	r.Get("/obligations/{id}", h.handleGet)
	r.Post("/obligations/{id}/fund", h.handleFund)
	r.Post("/obligations/{id}/verify", h.handleVerify)
	r.Post("/obligations/{id}/complete", h.handleComplete)
	r.Post("/obligations/{id}/cancel", h.handleCancel)
	r.Get("/metrics/case", h.handleCaseMetrics)
}

type createRequest struct {
	CaseID               string  `json:"case_id"`
	Title                string  `json:"title"`
	Category             string  `json:"category"`
	TotalAmount          string  `json:"total_amount"`
	PetitionerShare      string  `json:"petitioner_share"`
	RespondentShare      string  `json:"respondent_share"`
	DueDate              *string `json:"due_date,omitempty"`
	VerificationRequired bool    `json:"verification_required"`
	ReceiptRequired      bool    `json:"receipt_required"`
	CreatedBy            string  `json:"created_by"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body createRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	req, err := parseCreate(ctx, body)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	o, err := h.obligations.Create(ctx, req)
	if err != nil {
		h.writeServiceError(ctx, w, "create obligation", err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, o)
}

func parseCreate(ctx context.Context, body createRequest) (models.CreateRequest, error) {
	var req models.CreateRequest
	var err error

	if req.CaseID, err = id.ParseCaseID(body.CaseID); err != nil {
		return req, dErrors.New(dErrors.CodeInvalidInput, "case_id is required")
	}
	if req.Category, err = id.ParsePurposeCategory(body.Category); err != nil {
		return req, err
	}
	if req.TotalAmount, err = decimal.NewFromString(body.TotalAmount); err != nil {
		return req, dErrors.New(dErrors.CodeInvalidInput, "total_amount must be a decimal string")
	}
	if req.PetitionerShare, err = decimal.NewFromString(body.PetitionerShare); err != nil {
		return req, dErrors.New(dErrors.CodeInvalidInput, "petitioner_share must be a decimal string")
	}
	if req.RespondentShare, err = decimal.NewFromString(body.RespondentShare); err != nil {
		return req, dErrors.New(dErrors.CodeInvalidInput, "respondent_share must be a decimal string")
	}
	if body.DueDate != nil {
		due, err := time.Parse(time.RFC3339, *body.DueDate)
		if err != nil {
			return req, dErrors.New(dErrors.CodeInvalidInput, "due_date must be RFC 3339")
		}
		req.DueDate = &due
	}
	req.Title = body.Title
	req.VerificationRequired = body.VerificationRequired
	req.ReceiptRequired = body.ReceiptRequired
	req.CreatedBy, err = actingParty(ctx, body.CreatedBy)
	if err != nil {
		return req, err
	}
	return req, nil
}

type fundRequest struct {
	Amount    string `json:"amount"`
	ObligorID string `json:"obligor_id"`
	ObligeeID string `json:"obligee_id"`
}

func (h *Handler) handleFund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	obligationID, err := pathObligationID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var body fundRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	req := models.FundRequest{ObligationID: obligationID}
	if req.Amount, err = decimal.NewFromString(body.Amount); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "amount must be a decimal string"))
		return
	}
	if req.ObligorID, err = actingParty(ctx, body.ObligorID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if req.ObligeeID, err = id.ParsePartyID(body.ObligeeID); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "obligee_id is required"))
		return
	}

	o, entry, err := h.obligations.Fund(ctx, req)
	if err != nil {
		h.writeServiceError(ctx, w, "fund obligation", err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"obligation": o,
		"entry":      entry,
	})
}

type actorRequest struct {
	PartyID    string `json:"party_id"`
	ReceiptRef string `json:"receipt_ref,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	h.handleTransition(w, r, "verify obligation",
		func(ctx context.Context, obligationID id.ObligationID, body actorRequest, actor id.PartyID) (*models.Obligation, error) {
			return h.obligations.Verify(ctx, obligationID, actor)
		})
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	h.handleTransition(w, r, "complete obligation",
		func(ctx context.Context, obligationID id.ObligationID, body actorRequest, actor id.PartyID) (*models.Obligation, error) {
			return h.obligations.Complete(ctx, obligationID, actor, body.ReceiptRef)
		})
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	h.handleTransition(w, r, "cancel obligation",
		func(ctx context.Context, obligationID id.ObligationID, body actorRequest, actor id.PartyID) (*models.Obligation, error) {
			return h.obligations.Cancel(ctx, models.CancelRequest{
				ObligationID: obligationID,
				CancelledBy:  actor,
				Reason:       body.Reason,
			})
		})
}

func (h *Handler) handleTransition(w http.ResponseWriter, r *http.Request, op string,
	run func(ctx context.Context, obligationID id.ObligationID, body actorRequest, actor id.PartyID) (*models.Obligation, error)) {

	ctx := r.Context()

	obligationID, err := pathObligationID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var body actorRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
			return
		}
	}
	actor, err := actingParty(ctx, body.PartyID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	o, err := run(ctx, obligationID, body, actor)
	if err != nil {
		h.writeServiceError(ctx, w, op, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, o)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	obligationID, err := pathObligationID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	o, err := h.obligations.Get(ctx, obligationID)
	if err != nil {
		h.writeServiceError(ctx, w, "get obligation", err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, o)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	caseID, err := id.ParseCaseID(r.URL.Query().Get("case_id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "case_id is required"))
		return
	}
	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "page_size", 50)

	obligations, err := h.obligations.List(ctx, caseID, page, pageSize)
	if err != nil {
		h.writeServiceError(ctx, w, "list obligations", err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"case_id":     caseID,
		"page":        page,
		"page_size":   pageSize,
		"obligations": obligations,
	})
}

func (h *Handler) handleCaseMetrics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	caseID, err := id.ParseCaseID(r.URL.Query().Get("case_id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "case_id is required"))
		return
	}

	m, err := h.obligations.CaseMetrics(ctx, caseID)
	if err != nil {
		h.writeServiceError(ctx, w, "case metrics", err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, m)
}

func (h *Handler) writeServiceError(ctx context.Context, w http.ResponseWriter, op string, err error) {
	if dErrors.HasCode(err, dErrors.CodeInternal) {
		h.logger.ErrorContext(ctx, "obligation operation failed",
			"op", op, "error", err.Error())
	}
	httputil.WriteError(w, err)
}

// actingParty resolves the acting party: the authenticated identity when the
// request carries one, else the explicit body field.
func actingParty(ctx context.Context, fallback string) (id.PartyID, error) {
	if partyID := requestcontext.PartyID(ctx); !partyID.IsNil() {
		return partyID, nil
	}
	partyID, err := id.ParsePartyID(fallback)
	if err != nil {
		return partyID, dErrors.New(dErrors.CodeInvalidInput, "acting party is required")
	}
	return partyID, nil
}

func pathObligationID(r *http.Request) (id.ObligationID, error) {
	obligationID, err := id.ParseObligationID(chi.URLParam(r, "id"))
	if err != nil {
		return obligationID, dErrors.New(dErrors.CodeInvalidInput, "invalid obligation id")
	}
	return obligationID, nil
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
