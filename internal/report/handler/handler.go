package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"clearfund/internal/report/models"
	id "clearfund/pkg/domain"
	dErrors "clearfund/pkg/domain-errors"
	"clearfund/pkg/platform/httputil"
	"clearfund/pkg/requestcontext"
)

// Service defines the report operations exposed over HTTP.
type Service interface {
	Generate(ctx context.Context, req models.GenerateRequest) (*models.Report, error)
	Download(ctx context.Context, reportID id.ReportID) (*models.Report, error)
	Verify(ctx context.Context, reportNumber string) (*models.VerificationResult, error)
	ListByCase(ctx context.Context, caseID id.CaseID) ([]*models.Report, error)
}

// Handler handles report endpoints.
type Handler struct {
	logger  *slog.Logger
	reports Service
}

// New creates a new report Handler.
func New(reports Service, logger *slog.Logger) *Handler {
	return &Handler{
		logger:  logger,
		reports: reports,
	}
}

// Register registers the report routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/reports/generate", h.handleGenerate)
	r.Get("/reports/case/{case_id}", h.handleListByCase)
	r.Post("/reports/{id}/download", h.handleDownload)
	r.Get("/reports/verify/{report_number}", h.handleVerify)
}

type generateRequest struct {
	CaseID       string   `json:"case_id"`
	PetitionerID string   `json:"petitioner_id"`
	RespondentID string   `json:"respondent_id"`
	GeneratedBy  string   `json:"generated_by"`
	ReportType   string   `json:"report_type"`
	Title        string   `json:"title"`
	Purpose      string   `json:"purpose,omitempty"`
	RangeStart   string   `json:"date_range_start"`
	RangeEnd     string   `json:"date_range_end"`
	Sections     []string `json:"sections,omitempty"`
}

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body generateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	req, err := parseGenerate(ctx, body)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	report, err := h.reports.Generate(ctx, req)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInternal) {
			h.logger.ErrorContext(ctx, "report generation failed",
				"case_id", body.CaseID, "error", err.Error())
		}
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, report)
}

func parseGenerate(ctx context.Context, body generateRequest) (models.GenerateRequest, error) {
	var req models.GenerateRequest
	var err error

	if req.CaseID, err = id.ParseCaseID(body.CaseID); err != nil {
		return req, dErrors.New(dErrors.CodeInvalidInput, "case_id is required")
	}
	if req.PetitionerID, err = id.ParsePartyID(body.PetitionerID); err != nil {
		return req, dErrors.New(dErrors.CodeInvalidInput, "petitioner_id is required")
	}
	if req.RespondentID, err = id.ParsePartyID(body.RespondentID); err != nil {
		return req, dErrors.New(dErrors.CodeInvalidInput, "respondent_id is required")
	}
	if req.Type, err = models.ParseReportType(body.ReportType); err != nil {
		return req, err
	}
	if req.RangeStart, err = time.Parse(time.RFC3339, body.RangeStart); err != nil {
		return req, dErrors.New(dErrors.CodeInvalidInput, "date_range_start must be RFC 3339")
	}
	if req.RangeEnd, err = time.Parse(time.RFC3339, body.RangeEnd); err != nil {
		return req, dErrors.New(dErrors.CodeInvalidInput, "date_range_end must be RFC 3339")
	}
	if generatedBy := requestcontext.PartyID(ctx); !generatedBy.IsNil() {
		req.GeneratedBy = generatedBy
	} else if req.GeneratedBy, err = id.ParsePartyID(body.GeneratedBy); err != nil {
		return req, dErrors.New(dErrors.CodeInvalidInput, "generated_by is required")
	}
	req.Title = body.Title
	req.Purpose = body.Purpose
	req.Sections = body.Sections
	return req, nil
}

func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	reportID, err := id.ParseReportID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid report id"))
		return
	}

	report, err := h.reports.Download(ctx, reportID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, report)
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	number := chi.URLParam(r, "report_number")
	if number == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "report_number is required"))
		return
	}

	result, err := h.reports.Verify(ctx, number)
	if err != nil {
		h.logger.ErrorContext(ctx, "report verification failed",
			"report_number", number, "error", err.Error())
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleListByCase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	caseID, err := id.ParseCaseID(chi.URLParam(r, "case_id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid case id"))
		return
	}

	reports, err := h.reports.ListByCase(ctx, caseID)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list reports",
			"case_id", caseID.String(), "error", err.Error())
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"case_id": caseID,
		"reports": reports,
	})
}
