package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gowebpki/jcs"

	"clearfund/internal/audit"
	compliancemodels "clearfund/internal/compliance/models"
	ledgermodels "clearfund/internal/ledger/models"
	obligationmodels "clearfund/internal/obligation/models"
	"clearfund/internal/report/metrics"
	"clearfund/internal/report/models"
	id "clearfund/pkg/domain"
	dErrors "clearfund/pkg/domain-errors"
	"clearfund/pkg/platform/sentinel"
	"clearfund/pkg/requestcontext"
)

// numberAttempts bounds report number allocation retries on collision.
const numberAttempts = 5

// Store persists reports. Create returns ErrConflict on a report number
// collision.
type Store interface {
	Create(ctx context.Context, r *models.Report) error
	FindByID(ctx context.Context, reportID id.ReportID) (*models.Report, error)
	FindByNumber(ctx context.Context, number string) (*models.Report, error)
	ListByCase(ctx context.Context, caseID id.CaseID) ([]*models.Report, error)
	IncrementDownload(ctx context.Context, reportID id.ReportID) (int, error)
}

// StoreTx scopes section gathering to a single read transaction so every
// section sees the same snapshot. The postgres implementation runs it at
// repeatable read.
type StoreTx interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ObligationReader supplies the obligations section.
type ObligationReader interface {
	ListAllByCase(ctx context.Context, caseID id.CaseID) ([]*obligationmodels.Obligation, error)
}

// LedgerReader supplies the ledger and balance sections.
type LedgerReader interface {
	EntriesInRange(ctx context.Context, caseID id.CaseID, start, end time.Time) ([]*ledgermodels.Entry, error)
	Summary(ctx context.Context, caseID id.CaseID, petitionerID, respondentID id.PartyID) (*ledgermodels.BalanceSummary, error)
}

// ComplianceReader supplies the compliance section.
type ComplianceReader interface {
	Snapshot(ctx context.Context, caseID id.CaseID, days int) (*compliancemodels.Snapshot, error)
}

// AuditPublisher records report events on the audit trail.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service generates, verifies, and serves immutable case reports.
type Service struct {
	store       Store
	storeTx     StoreTx
	obligations ObligationReader
	ledger      LedgerReader
	compliance  ComplianceReader
	audit       AuditPublisher
	logger      *slog.Logger
	metrics     *metrics.Metrics

	numberPrefix string
	ttl          time.Duration
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithStoreTx(storeTx StoreTx) Option {
	return func(s *Service) {
		if storeTx != nil {
			s.storeTx = storeTx
		}
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.audit = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithNumbering overrides the report number prefix and expiry TTL. A zero TTL
// produces reports that never expire.
func WithNumbering(prefix string, ttl time.Duration) Option {
	return func(s *Service) {
		if prefix != "" {
			s.numberPrefix = prefix
		}
		s.ttl = ttl
	}
}

// NewService constructs a report Service.
func NewService(store Store, obligations ObligationReader, ledger LedgerReader,
	compliance ComplianceReader, opts ...Option) *Service {

	s := &Service{
		store:        store,
		storeTx:      passthroughTx{},
		obligations:  obligations,
		ledger:       ledger,
		compliance:   compliance,
		logger:       slog.Default(),
		numberPrefix: "CF",
		ttl:          90 * 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// passthroughTx is the no-op boundary used with the in-memory stores, which
// serve consistent reads without transaction support.
type passthroughTx struct{}

func (passthroughTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// reportContent is the canonical payload the content hash covers. Generation
// metadata that varies between otherwise identical runs (report number,
// generated_at, download counter) is deliberately excluded so regenerating
// over the same data window yields the same hash.
type reportContent struct {
	CaseID     string                         `json:"case_id"`
	Type       models.ReportType              `json:"report_type"`
	Title      string                         `json:"title"`
	RangeStart string                         `json:"range_start"`
	RangeEnd   string                         `json:"range_end"`
	Sections   []models.Section               `json:"sections"`
	Data       map[models.Section]interface{} `json:"data"`
}

// Generate assembles the requested sections inside one consistent read
// transaction and content-addresses the result. The report row is persisted
// afterward, outside that transaction: a number collision aborts the insert's
// transaction in Postgres, so each retry needs a fresh one, and the snapshot
// transaction must stay read-only.
func (s *Service) Generate(ctx context.Context, req models.GenerateRequest) (*models.Report, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	sections, err := models.NormalizeSections(req.Sections)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var content *reportContent
	err = s.storeTx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		content, err = s.gather(ctx, req, sections)
		return err
	})
	if err != nil {
		return nil, err
	}

	hash, err := hashContent(content)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash report content")
	}

	now := requestcontext.Now(ctx)
	report := &models.Report{
		CaseID:           req.CaseID,
		GeneratedBy:      req.GeneratedBy,
		Type:             req.Type,
		Title:            req.Title,
		DateRangeStart:   req.RangeStart,
		DateRangeEnd:     req.RangeEnd,
		SectionsIncluded: sections,
		PageCount:        estimatePages(content),
		ContentHash:      hash,
		Purpose:          req.Purpose,
		GeneratedAt:      now,
	}
	if s.ttl > 0 {
		expires := now.Add(s.ttl)
		report.ExpiresAt = &expires
	}

	if err := s.persistWithNumber(ctx, report, now); err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.Generated.WithLabelValues(string(report.Type)).Inc()
		s.metrics.ObserveGenerate(start)
	}
	s.emit(ctx, report, audit.EventReportGenerated, report.GeneratedBy)
	return report, nil
}

// persistWithNumber allocates a report number and retries on collision with a
// fresh suffix rather than overwriting.
func (s *Service) persistWithNumber(ctx context.Context, report *models.Report, now time.Time) error {
	for attempt := 0; attempt < numberAttempts; attempt++ {
		report.ID = id.NewReportID()
		number, err := s.newReportNumber(now)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to allocate report number")
		}
		report.ReportNumber = number

		err = s.store.Create(ctx, report)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sentinel.ErrConflict) {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist report")
		}
		if s.metrics != nil {
			s.metrics.NumberRetries.Inc()
		}
		s.logger.Warn("report number collision, retrying",
			"report_number", number, "attempt", attempt+1)
	}
	return dErrors.New(dErrors.CodeInternal, "failed to allocate a unique report number")
}

func (s *Service) gather(ctx context.Context, req models.GenerateRequest, sections []models.Section) (*reportContent, error) {
	content := &reportContent{
		CaseID:     req.CaseID.String(),
		Type:       req.Type,
		Title:      req.Title,
		RangeStart: req.RangeStart.UTC().Format(time.RFC3339),
		RangeEnd:   req.RangeEnd.UTC().Format(time.RFC3339),
		Sections:   sections,
		Data:       make(map[models.Section]interface{}, len(sections)),
	}

	for _, section := range sections {
		switch section {
		case models.SectionObligations:
			obligations, err := s.obligations.ListAllByCase(ctx, req.CaseID)
			if err != nil {
				return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to gather obligations section")
			}
			content.Data[section] = filterObligations(obligations, req.RangeStart, req.RangeEnd)
		case models.SectionLedger:
			entries, err := s.ledger.EntriesInRange(ctx, req.CaseID, req.RangeStart, req.RangeEnd)
			if err != nil {
				return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to gather ledger section")
			}
			content.Data[section] = entries
		case models.SectionBalance:
			summary, err := s.ledger.Summary(ctx, req.CaseID, req.PetitionerID, req.RespondentID)
			if err != nil {
				return nil, err
			}
			// The computation timestamp varies run to run; zero it so the
			// hash covers only the balance facts.
			cp := *summary
			cp.ComputedAt = time.Time{}
			content.Data[section] = &cp
		case models.SectionCompliance:
			days := int(req.RangeEnd.Sub(req.RangeStart).Hours()/24 + 0.5)
			if days < 1 {
				days = 1
			}
			snapshot, err := s.compliance.Snapshot(requestcontext.WithTime(ctx, req.RangeEnd), req.CaseID, days)
			if err != nil {
				return nil, err
			}
			content.Data[section] = snapshot
		}
	}
	return content, nil
}

// filterObligations keeps obligations whose lifecycle touches the range:
// created or due within it.
func filterObligations(obligations []*obligationmodels.Obligation, start, end time.Time) []*obligationmodels.Obligation {
	out := make([]*obligationmodels.Obligation, 0, len(obligations))
	for _, o := range obligations {
		if !o.CreatedAt.Before(start) && !o.CreatedAt.After(end) {
			out = append(out, o)
			continue
		}
		if o.DueDate != nil && !o.DueDate.Before(start) && !o.DueDate.After(end) {
			out = append(out, o)
		}
	}
	return out
}

// hashContent canonicalizes the payload per RFC 8785 and returns its SHA-256.
func hashContent(content *reportContent) (string, error) {
	raw, err := json.Marshal(content)
	if err != nil {
		return "", err
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// estimatePages sizes the rendered document from its canonical content.
func estimatePages(content *reportContent) int {
	raw, err := json.Marshal(content)
	if err != nil {
		return 1
	}
	const bytesPerPage = 3000
	return 1 + len(raw)/bytesPerPage
}

// newReportNumber builds PREFIX-YYYYMMDD-XXXXXX with a random hex suffix.
func (s *Service) newReportNumber(now time.Time) (string, error) {
	suffix := make([]byte, 3)
	if _, err := rand.Read(suffix); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s-%X", s.numberPrefix, now.UTC().Format("20060102"), suffix), nil
}

// Download records a download of a non-expired report and returns the updated
// record. Expired reports reject; their metadata stays retrievable via Verify
// and ListByCase.
func (s *Service) Download(ctx context.Context, reportID id.ReportID) (*models.Report, error) {
	report, err := s.findByID(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if report.IsExpired(requestcontext.Now(ctx)) {
		if s.metrics != nil {
			s.metrics.ExpiredDownloads.Inc()
		}
		return nil, dErrors.New(dErrors.CodeExpired, "report has expired and can no longer be downloaded")
	}

	count, err := s.store.IncrementDownload(ctx, reportID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record download")
	}
	report.DownloadCount = count

	if s.metrics != nil {
		s.metrics.Downloads.Inc()
	}
	s.emit(ctx, report, audit.EventReportDownloaded, requestcontext.PartyID(ctx))
	return report, nil
}

// Verify is the court-side existence check: an unknown number yields
// is_valid=false, never an error.
func (s *Service) Verify(ctx context.Context, reportNumber string) (*models.VerificationResult, error) {
	report, err := s.store.FindByNumber(ctx, reportNumber)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return &models.VerificationResult{ReportNumber: reportNumber, IsValid: false}, nil
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up report")
	}

	generatedAt := report.GeneratedAt
	generatedBy := report.GeneratedBy
	return &models.VerificationResult{
		ReportNumber: report.ReportNumber,
		IsValid:      true,
		GeneratedAt:  &generatedAt,
		GeneratedBy:  &generatedBy,
		ContentHash:  report.ContentHash,
		Type:         report.Type,
	}, nil
}

// Get returns a single report.
func (s *Service) Get(ctx context.Context, reportID id.ReportID) (*models.Report, error) {
	return s.findByID(ctx, reportID)
}

// ListByCase returns a case's reports newest first.
func (s *Service) ListByCase(ctx context.Context, caseID id.CaseID) ([]*models.Report, error) {
	reports, err := s.store.ListByCase(ctx, caseID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list reports")
	}
	return reports, nil
}

func (s *Service) findByID(ctx context.Context, reportID id.ReportID) (*models.Report, error) {
	report, err := s.store.FindByID(ctx, reportID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "report not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load report")
	}
	return report, nil
}

func (s *Service) emit(ctx context.Context, report *models.Report, event audit.AuditEvent, actor id.PartyID) {
	if s.audit == nil {
		return
	}
	err := s.audit.Emit(ctx, audit.Event{
		Timestamp: requestcontext.Now(ctx),
		CaseID:    report.CaseID,
		ActorID:   actor,
		Subject:   report.ReportNumber,
		Action:    string(event),
		RequestID: requestcontext.RequestID(ctx),
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to record audit event",
			"action", string(event), "report_number", report.ReportNumber, "error", err.Error())
	}
}
