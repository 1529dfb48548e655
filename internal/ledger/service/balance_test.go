package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"clearfund/internal/audit"
	"clearfund/internal/ledger/models"
	ledgerstore "clearfund/internal/ledger/store"
	obligationmodels "clearfund/internal/obligation/models"
	obligationstore "clearfund/internal/obligation/store"
	id "clearfund/pkg/domain"
	dErrors "clearfund/pkg/domain-errors"
	"clearfund/pkg/requestcontext"
)

type memoryCache struct {
	byCase map[id.CaseID]*models.BalanceSummary
}

func newMemoryCache() *memoryCache {
	return &memoryCache{byCase: map[id.CaseID]*models.BalanceSummary{}}
}

func (c *memoryCache) Get(_ context.Context, caseID id.CaseID) (*models.BalanceSummary, bool) {
	s, ok := c.byCase[caseID]
	return s, ok
}

func (c *memoryCache) Set(_ context.Context, caseID id.CaseID, s *models.BalanceSummary) {
	c.byCase[caseID] = s
}

func (c *memoryCache) Invalidate(_ context.Context, caseID id.CaseID) {
	delete(c.byCase, caseID)
}

type CalculatorSuite struct {
	suite.Suite
	ctx         context.Context
	now         time.Time
	entries     *ledgerstore.InMemoryStore
	obligations *obligationstore.InMemoryStore
	auditStore  *audit.InMemoryStore
	cache       *memoryCache
	calc        *Calculator

	caseID     id.CaseID
	petitioner id.PartyID
	respondent id.PartyID
}

func TestCalculatorSuite(t *testing.T) {
	suite.Run(t, new(CalculatorSuite))
}

func (s *CalculatorSuite) SetupTest() {
	s.now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
	s.entries = ledgerstore.NewInMemory()
	s.obligations = obligationstore.NewInMemory()
	s.auditStore = audit.NewInMemoryStore()
	s.cache = newMemoryCache()
	s.calc = NewCalculator(s.entries, s.obligations,
		WithCache(s.cache),
		WithAuditPublisher(audit.NewPublisher(s.auditStore)),
	)
	s.caseID = id.NewCaseID()
	s.petitioner = id.NewPartyID()
	s.respondent = id.NewPartyID()
}

func (s *CalculatorSuite) appendEntry(entryType models.EntryType, obligor, obligee id.PartyID, amount string, effective time.Time) *models.Entry {
	e, err := models.NewEntry(s.caseID, entryType, obligor, obligee,
		decimal.RequireFromString(amount), "test entry", effective, s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.calc.Append(s.ctx, e))
	return e
}

func (s *CalculatorSuite) TestAppendComputesRunningBalancePerPair() {
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	e1 := s.appendEntry(models.EntryObligation, s.petitioner, s.respondent, "100.00", day)
	e2 := s.appendEntry(models.EntryObligation, s.petitioner, s.respondent, "50.00", day.AddDate(0, 0, 1))
	e3 := s.appendEntry(models.EntryObligation, s.respondent, s.petitioner, "30.00", day.AddDate(0, 0, 2))

	s.True(e1.RunningBalance.Equal(decimal.RequireFromString("100.00")))
	s.True(e2.RunningBalance.Equal(decimal.RequireFromString("150.00")))
	// The opposite direction runs its own balance.
	s.True(e3.RunningBalance.Equal(decimal.RequireFromString("30.00")))
}

func (s *CalculatorSuite) TestSummaryNetsOpposingDirections() {
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s.appendEntry(models.EntryObligation, s.petitioner, s.respondent, "200.00", day)
	s.appendEntry(models.EntryFunding, s.respondent, s.petitioner, "75.00", day.AddDate(0, 0, 1))

	summary, err := s.calc.Summary(s.ctx, s.caseID, s.petitioner, s.respondent)
	s.Require().NoError(err)

	s.True(summary.NetBalance.Equal(decimal.RequireFromString("125.00")))
	s.True(summary.PetitionerOwesRespondent.Equal(decimal.RequireFromString("125.00")))
	s.True(summary.RespondentOwesPetitioner.IsZero())
}

func (s *CalculatorSuite) TestSummaryDirectionsNeverBothPositive() {
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s.appendEntry(models.EntryObligation, s.petitioner, s.respondent, "40.00", day)
	s.appendEntry(models.EntryObligation, s.respondent, s.petitioner, "90.00", day)

	summary, err := s.calc.Summary(s.ctx, s.caseID, s.petitioner, s.respondent)
	s.Require().NoError(err)

	s.True(summary.PetitionerOwesRespondent.IsZero())
	s.True(summary.RespondentOwesPetitioner.Equal(decimal.RequireFromString("50.00")))
	s.True(summary.NetBalance.Equal(decimal.RequireFromString("-50.00")))
}

func (s *CalculatorSuite) TestSummaryCountsObligations() {
	due := time.Date(2026, 3, 25, 0, 0, 0, 0, time.UTC)
	overdueBy := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	current, err := obligationmodels.NewObligation(s.caseID, "Spring tuition", id.PurposeEducation,
		decimal.RequireFromString("300.00"), decimal.RequireFromString("150.00"), decimal.RequireFromString("150.00"),
		&due, false, false, s.petitioner, s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.obligations.Create(s.ctx, current))

	overdue, err := obligationmodels.NewObligation(s.caseID, "Winter camp", id.PurposeCamp,
		decimal.RequireFromString("120.00"), decimal.RequireFromString("60.00"), decimal.RequireFromString("60.00"),
		&overdueBy, false, false, s.petitioner, s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.obligations.Create(s.ctx, overdue))

	summary, err := s.calc.Summary(s.ctx, s.caseID, s.petitioner, s.respondent)
	s.Require().NoError(err)

	s.Equal(2, summary.ObligationsByStatus[string(obligationmodels.StatusOpen)])
	s.True(summary.TotalThisMonth.Equal(decimal.RequireFromString("300.00")))
	s.Equal(1, summary.OverdueCount)
	s.True(summary.TotalOverdue.Equal(decimal.RequireFromString("120.00")))
}

func (s *CalculatorSuite) TestSummaryServedFromCacheUntilAppend() {
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s.appendEntry(models.EntryObligation, s.petitioner, s.respondent, "10.00", day)

	first, err := s.calc.Summary(s.ctx, s.caseID, s.petitioner, s.respondent)
	s.Require().NoError(err)
	second, err := s.calc.Summary(s.ctx, s.caseID, s.petitioner, s.respondent)
	s.Require().NoError(err)
	s.Same(first, second)

	// A new append invalidates; the next summary is recomputed.
	s.appendEntry(models.EntryObligation, s.petitioner, s.respondent, "5.00", day.AddDate(0, 0, 1))
	third, err := s.calc.Summary(s.ctx, s.caseID, s.petitioner, s.respondent)
	s.Require().NoError(err)
	s.True(third.NetBalance.Equal(decimal.RequireFromString("15.00")))
}

func (s *CalculatorSuite) TestBackdatedAppendRejected() {
	day := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	s.appendEntry(models.EntryObligation, s.petitioner, s.respondent, "100.00", day)

	e, err := models.NewEntry(s.caseID, models.EntryObligation, s.petitioner, s.respondent,
		decimal.RequireFromString("20.00"), "late arrival", day.AddDate(0, 0, -3), s.now)
	s.Require().NoError(err)

	err = s.calc.Append(s.ctx, e)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *CalculatorSuite) TestReplayMatchesStoredBalances() {
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		s.appendEntry(models.EntryObligation, s.petitioner, s.respondent, "10.00", day.AddDate(0, 0, i))
	}
	s.appendEntry(models.EntryFunding, s.respondent, s.petitioner, "25.00", day.AddDate(0, 0, 5))

	balances, divergences, err := s.calc.Replay(s.ctx, s.caseID)
	s.Require().NoError(err)
	s.Empty(divergences)
	s.True(balances[models.PairKey{Obligor: s.petitioner, Obligee: s.respondent}].
		Equal(decimal.RequireFromString("50.00")))
	s.True(balances[models.PairKey{Obligor: s.respondent, Obligee: s.petitioner}].
		Equal(decimal.RequireFromString("25.00")))
}

func (s *CalculatorSuite) TestReconcileCleanCase() {
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s.appendEntry(models.EntryObligation, s.petitioner, s.respondent, "10.00", day)

	s.Require().NoError(s.calc.Reconcile(s.ctx, s.caseID))

	frozen, err := s.entries.IsFrozen(s.ctx, s.caseID)
	s.Require().NoError(err)
	s.False(frozen)
}

func (s *CalculatorSuite) TestReconcileFreezesDivergentCase() {
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s.appendEntry(models.EntryObligation, s.petitioner, s.respondent, "10.00", day)
	corrupted := s.appendEntry(models.EntryObligation, s.petitioner, s.respondent, "10.00", day.AddDate(0, 0, 1))
	s.entries.Corrupt(s.caseID, 1, decimal.RequireFromString("999.00"))

	err := s.calc.Reconcile(s.ctx, s.caseID)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeIntegrity))
	s.Contains(dErrors.MessageOf(err), corrupted.ID.String())

	frozen, err := s.entries.IsFrozen(s.ctx, s.caseID)
	s.Require().NoError(err)
	s.True(frozen)

	// Writes are now rejected until the incident is resolved.
	e, err := models.NewEntry(s.caseID, models.EntryFunding, s.petitioner, s.respondent,
		decimal.RequireFromString("5.00"), "post-freeze", day.AddDate(0, 0, 2), s.now)
	s.Require().NoError(err)
	err = s.calc.Append(s.ctx, e)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeIntegrity))

	events, err := s.auditStore.ListByCase(s.ctx, s.caseID)
	s.Require().NoError(err)
	s.Require().Len(events, 2)
	s.Equal(string(audit.EventIntegrityDivergence), events[0].Action)
	s.Equal(string(audit.EventCaseWritesFrozen), events[1].Action)
}

func (s *CalculatorSuite) TestReconcileAllReportsDivergentCases() {
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s.appendEntry(models.EntryObligation, s.petitioner, s.respondent, "10.00", day)

	otherCase := id.NewCaseID()
	e, err := models.NewEntry(otherCase, models.EntryObligation, s.petitioner, s.respondent,
		decimal.RequireFromString("20.00"), "other case", day, s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.calc.Append(s.ctx, e))
	s.entries.Corrupt(otherCase, 0, decimal.RequireFromString("7.00"))

	divergent, err := s.calc.ReconcileAll(s.ctx)
	s.Require().NoError(err)
	s.Equal([]id.CaseID{otherCase}, divergent)
}

func (s *CalculatorSuite) TestRecordAdjustmentReferencesOriginal() {
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	original := s.appendEntry(models.EntryObligation, s.petitioner, s.respondent, "100.00", day)

	adjustment, err := s.calc.RecordAdjustment(s.ctx, AdjustmentRequest{
		CaseID:         s.caseID,
		AdjustsEntryID: original.ID,
		ObligorID:      s.petitioner,
		ObligeeID:      s.respondent,
		Amount:         decimal.RequireFromString("-20.00"),
		Description:    "billed twice for copay",
	})
	s.Require().NoError(err)

	s.Require().NotNil(adjustment.AdjustsEntryID)
	s.Equal(original.ID, *adjustment.AdjustsEntryID)
	s.True(adjustment.RunningBalance.Equal(decimal.RequireFromString("80.00")))

	// The original entry is untouched.
	stored, err := s.entries.FindByID(s.ctx, s.caseID, original.ID)
	s.Require().NoError(err)
	s.True(stored.RunningBalance.Equal(decimal.RequireFromString("100.00")))
}

func (s *CalculatorSuite) TestRecordAdjustmentUnknownReference() {
	_, err := s.calc.RecordAdjustment(s.ctx, AdjustmentRequest{
		CaseID:         s.caseID,
		AdjustsEntryID: id.NewEntryID(),
		ObligorID:      s.petitioner,
		ObligeeID:      s.respondent,
		Amount:         decimal.RequireFromString("-20.00"),
	})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}
