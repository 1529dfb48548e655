package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"clearfund/internal/audit"
	compliancescorer "clearfund/internal/compliance/scorer"
	ledgermodels "clearfund/internal/ledger/models"
	ledgerservice "clearfund/internal/ledger/service"
	ledgerstore "clearfund/internal/ledger/store"
	obligationmodels "clearfund/internal/obligation/models"
	obligationstore "clearfund/internal/obligation/store"
	"clearfund/internal/platform/config"
	"clearfund/internal/report/models"
	reportstore "clearfund/internal/report/store"
	id "clearfund/pkg/domain"
	dErrors "clearfund/pkg/domain-errors"
	"clearfund/pkg/platform/sentinel"
	"clearfund/pkg/requestcontext"
)

// conflictingStore forces report number collisions for the first N creates.
type conflictingStore struct {
	*reportstore.InMemoryStore
	conflicts int
}

func (s *conflictingStore) Create(ctx context.Context, r *models.Report) error {
	if s.conflicts > 0 {
		s.conflicts--
		return sentinel.ErrConflict
	}
	return s.InMemoryStore.Create(ctx, r)
}

type ReportSuite struct {
	suite.Suite
	ctx         context.Context
	now         time.Time
	reports     *reportstore.InMemoryStore
	obligations *obligationstore.InMemoryStore
	entries     *ledgerstore.InMemoryStore
	auditStore  *audit.InMemoryStore
	svc         *Service

	caseID     id.CaseID
	petitioner id.PartyID
	respondent id.PartyID
}

func TestReportSuite(t *testing.T) {
	suite.Run(t, new(ReportSuite))
}

func (s *ReportSuite) SetupTest() {
	s.now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
	s.reports = reportstore.NewInMemory()
	s.obligations = obligationstore.NewInMemory()
	s.entries = ledgerstore.NewInMemory()
	s.auditStore = audit.NewInMemoryStore()
	s.svc = s.newService(s.reports)
	s.caseID = id.NewCaseID()
	s.petitioner = id.NewPartyID()
	s.respondent = id.NewPartyID()
}

func (s *ReportSuite) newService(store Store) *Service {
	calc := ledgerservice.NewCalculator(s.entries, s.obligations)
	scorer := compliancescorer.New(config.FromEnv().Compliance, s.obligations)
	return NewService(store, s.obligations, calc, scorer,
		WithAuditPublisher(audit.NewPublisher(s.auditStore)),
		WithNumbering("CF", 90*24*time.Hour))
}

func (s *ReportSuite) seedCase() {
	o, err := obligationmodels.NewObligation(s.caseID, "Spring tuition", id.PurposeEducation,
		decimal.RequireFromString("300.00"), decimal.RequireFromString("150.00"), decimal.RequireFromString("150.00"),
		nil, false, false, s.petitioner, s.now.AddDate(0, 0, -20))
	s.Require().NoError(err)
	s.Require().NoError(s.obligations.Create(s.ctx, o))

	e, err := ledgermodels.NewEntry(s.caseID, ledgermodels.EntryFunding,
		s.respondent, s.petitioner, decimal.RequireFromString("150.00"), "tuition share",
		s.now.AddDate(0, 0, -10), s.now.AddDate(0, 0, -10))
	s.Require().NoError(err)
	s.Require().NoError(s.entries.Append(s.ctx, e))
}

func (s *ReportSuite) generate() *models.Report {
	report, err := s.svc.Generate(s.ctx, models.GenerateRequest{
		CaseID:       s.caseID,
		PetitionerID: s.petitioner,
		RespondentID: s.respondent,
		GeneratedBy:  s.petitioner,
		Type:         models.TypeComplianceSummary,
		Title:        "Q1 compliance summary",
		Purpose:      "custody hearing",
		RangeStart:   s.now.AddDate(0, 0, -30),
		RangeEnd:     s.now,
	})
	s.Require().NoError(err)
	return report
}

func (s *ReportSuite) TestGenerateAndVerify() {
	s.seedCase()
	report := s.generate()

	s.Regexp(`^CF-20260310-[0-9A-F]{6}$`, report.ReportNumber)
	s.Len(report.ContentHash, 64)
	s.Equal([]models.Section{
		models.SectionObligations, models.SectionLedger,
		models.SectionBalance, models.SectionCompliance,
	}, report.SectionsIncluded)
	s.Equal(0, report.DownloadCount)
	s.Require().NotNil(report.ExpiresAt)

	result, err := s.svc.Verify(s.ctx, report.ReportNumber)
	s.Require().NoError(err)
	s.True(result.IsValid)
	s.Equal(report.ContentHash, result.ContentHash)
	s.Require().NotNil(result.GeneratedBy)
	s.Equal(s.petitioner, *result.GeneratedBy)
}

func (s *ReportSuite) TestVerifyUnknownNumberIsNegativeNotError() {
	result, err := s.svc.Verify(s.ctx, "CF-20260310-FFFFFF")
	s.Require().NoError(err)
	s.False(result.IsValid)
	s.Nil(result.GeneratedAt)
	s.Empty(result.ContentHash)
}

func (s *ReportSuite) TestIdenticalWindowsHashIdentically() {
	s.seedCase()
	first := s.generate()
	second := s.generate()

	s.NotEqual(first.ReportNumber, second.ReportNumber)
	s.Equal(first.ContentHash, second.ContentHash)
}

func (s *ReportSuite) TestHashChangesWithUnderlyingData() {
	s.seedCase()
	first := s.generate()

	e, err := ledgermodels.NewEntry(s.caseID, ledgermodels.EntryFunding,
		s.respondent, s.petitioner, decimal.RequireFromString("25.00"), "extra payment",
		s.now.AddDate(0, 0, -1), s.now.AddDate(0, 0, -1))
	s.Require().NoError(err)
	s.Require().NoError(s.entries.Append(s.ctx, e))

	second := s.generate()
	s.NotEqual(first.ContentHash, second.ContentHash)
}

func (s *ReportSuite) TestDownloadIncrementsCountOnly() {
	s.seedCase()
	report := s.generate()

	downloaded, err := s.svc.Download(s.ctx, report.ID)
	s.Require().NoError(err)
	s.Equal(1, downloaded.DownloadCount)
	s.Equal(report.ContentHash, downloaded.ContentHash)
	s.Equal(report.GeneratedAt, downloaded.GeneratedAt)

	downloaded, err = s.svc.Download(s.ctx, report.ID)
	s.Require().NoError(err)
	s.Equal(2, downloaded.DownloadCount)
}

func (s *ReportSuite) TestExpiredReportRejectsDownloadButStaysVerifiable() {
	s.seedCase()
	report := s.generate()

	later := requestcontext.WithTime(context.Background(), s.now.Add(91*24*time.Hour))
	_, err := s.svc.Download(later, report.ID)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeExpired))

	result, err := s.svc.Verify(later, report.ReportNumber)
	s.Require().NoError(err)
	s.True(result.IsValid)
}

func (s *ReportSuite) TestNumberCollisionRetries() {
	s.seedCase()
	store := &conflictingStore{InMemoryStore: s.reports, conflicts: 2}
	svc := s.newService(store)

	report, err := svc.Generate(s.ctx, models.GenerateRequest{
		CaseID:       s.caseID,
		PetitionerID: s.petitioner,
		RespondentID: s.respondent,
		GeneratedBy:  s.petitioner,
		Type:         models.TypeFullRecord,
		Title:        "Full record",
		RangeStart:   s.now.AddDate(0, 0, -30),
		RangeEnd:     s.now,
	})
	s.Require().NoError(err)
	s.True(strings.HasPrefix(report.ReportNumber, "CF-20260310-"))

	stored, err := s.reports.FindByNumber(s.ctx, report.ReportNumber)
	s.Require().NoError(err)
	s.Equal(report.ID, stored.ID)
}

// trackingTx flags whether the callback is currently executing so stores can
// observe which writes land inside the snapshot transaction.
type trackingTx struct {
	inTx bool
}

func (t *trackingTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	t.inTx = true
	defer func() { t.inTx = false }()
	return fn(ctx)
}

type txObservingStore struct {
	*reportstore.InMemoryStore
	tx          *trackingTx
	createdInTx bool
}

func (s *txObservingStore) Create(ctx context.Context, r *models.Report) error {
	if s.tx.inTx {
		s.createdInTx = true
	}
	return s.InMemoryStore.Create(ctx, r)
}

// The report row must persist outside the gather transaction: the snapshot
// runs read-only, and a number collision would abort any transaction the
// insert shares, making the retry loop useless.
func (s *ReportSuite) TestPersistRunsOutsideGatherTransaction() {
	s.seedCase()
	tx := &trackingTx{}
	store := &txObservingStore{InMemoryStore: s.reports, tx: tx}
	svc := NewService(store, s.obligations,
		ledgerservice.NewCalculator(s.entries, s.obligations),
		compliancescorer.New(config.FromEnv().Compliance, s.obligations),
		WithStoreTx(tx),
		WithNumbering("CF", 90*24*time.Hour))

	_, err := svc.Generate(s.ctx, models.GenerateRequest{
		CaseID:       s.caseID,
		PetitionerID: s.petitioner,
		RespondentID: s.respondent,
		GeneratedBy:  s.petitioner,
		Type:         models.TypeComplianceSummary,
		Title:        "Snapshot boundary check",
		RangeStart:   s.now.AddDate(0, 0, -30),
		RangeEnd:     s.now,
	})
	s.Require().NoError(err)
	s.False(store.createdInTx)
}

func (s *ReportSuite) TestGenerateRejectsInvalidRange() {
	_, err := s.svc.Generate(s.ctx, models.GenerateRequest{
		CaseID:       s.caseID,
		PetitionerID: s.petitioner,
		RespondentID: s.respondent,
		GeneratedBy:  s.petitioner,
		Type:         models.TypeComplianceSummary,
		Title:        "Backwards window",
		RangeStart:   s.now,
		RangeEnd:     s.now.AddDate(0, 0, -30),
	})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *ReportSuite) TestGenerateRejectsUnknownSection() {
	_, err := s.svc.Generate(s.ctx, models.GenerateRequest{
		CaseID:       s.caseID,
		PetitionerID: s.petitioner,
		RespondentID: s.respondent,
		GeneratedBy:  s.petitioner,
		Type:         models.TypeComplianceSummary,
		Title:        "Bad sections",
		RangeStart:   s.now.AddDate(0, 0, -30),
		RangeEnd:     s.now,
		Sections:     []string{"ledger", "astrology"},
	})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *ReportSuite) TestListByCaseNewestFirst() {
	s.seedCase()
	first := s.generate()
	laterCtx := requestcontext.WithTime(context.Background(), s.now.Add(time.Hour))
	second, err := s.svc.Generate(laterCtx, models.GenerateRequest{
		CaseID:       s.caseID,
		PetitionerID: s.petitioner,
		RespondentID: s.respondent,
		GeneratedBy:  s.respondent,
		Type:         models.TypeFinancialStatement,
		Title:        "Financial statement",
		RangeStart:   s.now.AddDate(0, 0, -30),
		RangeEnd:     s.now,
	})
	s.Require().NoError(err)

	reports, err := s.svc.ListByCase(s.ctx, s.caseID)
	s.Require().NoError(err)
	s.Require().Len(reports, 2)
	s.Equal(second.ID, reports[0].ID)
	s.Equal(first.ID, reports[1].ID)
}
