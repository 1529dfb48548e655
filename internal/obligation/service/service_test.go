package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"clearfund/internal/audit"
	ledgerservice "clearfund/internal/ledger/service"
	ledgerstore "clearfund/internal/ledger/store"
	"clearfund/internal/obligation/models"
	obligationstore "clearfund/internal/obligation/store"
	id "clearfund/pkg/domain"
	dErrors "clearfund/pkg/domain-errors"
	"clearfund/pkg/requestcontext"
)

type ServiceSuite struct {
	suite.Suite
	ctx        context.Context
	now        time.Time
	store      *obligationstore.InMemoryStore
	entries    *ledgerstore.InMemoryStore
	auditStore *audit.InMemoryStore
	svc        *Service

	caseID     id.CaseID
	petitioner id.PartyID
	respondent id.PartyID
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
	s.store = obligationstore.NewInMemory()
	s.entries = ledgerstore.NewInMemory()
	s.auditStore = audit.NewInMemoryStore()
	calc := ledgerservice.NewCalculator(s.entries, s.store,
		ledgerservice.WithAuditPublisher(audit.NewPublisher(s.auditStore)))
	s.svc = NewService(s.store, calc,
		WithAuditPublisher(audit.NewPublisher(s.auditStore)))
	s.caseID = id.NewCaseID()
	s.petitioner = id.NewPartyID()
	s.respondent = id.NewPartyID()
}

func (s *ServiceSuite) createObligation(total string, opts ...func(*models.CreateRequest)) *models.Obligation {
	req := models.CreateRequest{
		CaseID:          s.caseID,
		Title:           "Orthodontist deposit",
		Category:        id.PurposeMedical,
		TotalAmount:     decimal.RequireFromString(total),
		PetitionerShare: decimal.RequireFromString(total).Div(decimal.NewFromInt(2)),
		RespondentShare: decimal.RequireFromString(total).Div(decimal.NewFromInt(2)),
		CreatedBy:       s.petitioner,
	}
	for _, opt := range opts {
		opt(&req)
	}
	o, err := s.svc.Create(s.ctx, req)
	s.Require().NoError(err)
	return o
}

func (s *ServiceSuite) fund(obligationID id.ObligationID, amount string) (*models.Obligation, error) {
	o, _, err := s.svc.Fund(s.ctx, models.FundRequest{
		ObligationID: obligationID,
		Amount:       decimal.RequireFromString(amount),
		ObligorID:    s.respondent,
		ObligeeID:    s.petitioner,
	})
	return o, err
}

func (s *ServiceSuite) TestFullLifecycle() {
	o := s.createObligation("500.00", func(r *models.CreateRequest) {
		r.VerificationRequired = true
	})
	s.Equal(models.StatusOpen, o.Status)

	o, err := s.fund(o.ID, "200.00")
	s.Require().NoError(err)
	s.Equal(models.StatusPartiallyFunded, o.Status)
	s.True(o.AmountFunded.Equal(decimal.RequireFromString("200.00")))

	o, err = s.fund(o.ID, "300.00")
	s.Require().NoError(err)
	s.Equal(models.StatusFunded, o.Status)

	o, err = s.svc.Verify(s.ctx, o.ID, s.petitioner)
	s.Require().NoError(err)
	s.Equal(models.StatusVerified, o.Status)
	s.True(o.AmountVerified.Equal(o.TotalAmount))

	o, err = s.svc.Complete(s.ctx, o.ID, s.petitioner, "")
	s.Require().NoError(err)
	s.Equal(models.StatusCompleted, o.Status)
	s.Require().NotNil(o.CompletedAt)

	// Exactly one ledger entry per funding event, nothing else.
	entries, err := s.entries.ListByCase(s.ctx, s.caseID, 0, 0)
	s.Require().NoError(err)
	s.Require().Len(entries, 2)
	for _, e := range entries {
		s.Require().NotNil(e.ObligationID)
		s.Equal(o.ID, *e.ObligationID)
	}
	s.True(entries[1].RunningBalance.Equal(decimal.RequireFromString("500.00")))

	events, err := s.auditStore.ListByCase(s.ctx, s.caseID)
	s.Require().NoError(err)
	actions := make([]string, 0, len(events))
	for _, e := range events {
		actions = append(actions, e.Action)
	}
	s.Equal([]string{
		string(audit.EventObligationCreated),
		string(audit.EventObligationFunded),
		string(audit.EventObligationFunded),
		string(audit.EventObligationVerified),
		string(audit.EventObligationCompleted),
	}, actions)
}

func (s *ServiceSuite) TestOverfundRejected() {
	o := s.createObligation("500.00")

	_, err := s.fund(o.ID, "300.00")
	s.Require().NoError(err)

	_, err = s.fund(o.ID, "250.00")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeOverfund))

	// The failed attempt must not leave a ledger entry behind.
	entries, err := s.entries.ListByCase(s.ctx, s.caseID, 0, 0)
	s.Require().NoError(err)
	s.Len(entries, 1)

	stored, err := s.svc.Get(s.ctx, o.ID)
	s.Require().NoError(err)
	s.True(stored.AmountFunded.Equal(decimal.RequireFromString("300.00")))
}

func (s *ServiceSuite) TestTerminalStatesAbsorb() {
	o := s.createObligation("100.00")

	_, err := s.svc.Cancel(s.ctx, models.CancelRequest{
		ObligationID: o.ID,
		CancelledBy:  s.respondent,
		Reason:       "no longer needed",
	})
	s.Require().NoError(err)

	_, err = s.fund(o.ID, "10.00")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))

	_, err = s.svc.Complete(s.ctx, o.ID, s.petitioner, "")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))

	_, err = s.svc.Cancel(s.ctx, models.CancelRequest{
		ObligationID: o.ID,
		CancelledBy:  s.respondent,
		Reason:       "again",
	})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
}

func (s *ServiceSuite) TestSharesMustSumToTotal() {
	_, err := s.svc.Create(s.ctx, models.CreateRequest{
		CaseID:          s.caseID,
		Title:           "Soccer cleats",
		Category:        id.PurposeSports,
		TotalAmount:     decimal.RequireFromString("100.00"),
		PetitionerShare: decimal.RequireFromString("60.00"),
		RespondentShare: decimal.RequireFromString("50.00"),
		CreatedBy:       s.petitioner,
	})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
}

func (s *ServiceSuite) TestVerifyRequiresFullFunding() {
	o := s.createObligation("200.00", func(r *models.CreateRequest) {
		r.VerificationRequired = true
	})

	_, err := s.fund(o.ID, "100.00")
	s.Require().NoError(err)

	_, err = s.svc.Verify(s.ctx, o.ID, s.petitioner)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
}

func (s *ServiceSuite) TestVerifyRejectedWhenNotRequired() {
	o := s.createObligation("200.00")

	_, err := s.fund(o.ID, "200.00")
	s.Require().NoError(err)

	_, err = s.svc.Verify(s.ctx, o.ID, s.petitioner)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
}

func (s *ServiceSuite) TestCompleteSkipsVerificationWhenExempt() {
	o := s.createObligation("200.00")

	_, err := s.fund(o.ID, "200.00")
	s.Require().NoError(err)

	o, err = s.svc.Complete(s.ctx, o.ID, s.petitioner, "")
	s.Require().NoError(err)
	s.Equal(models.StatusCompleted, o.Status)
}

func (s *ServiceSuite) TestCompleteRequiresReceiptWhenConfigured() {
	o := s.createObligation("200.00", func(r *models.CreateRequest) {
		r.ReceiptRequired = true
	})

	_, err := s.fund(o.ID, "200.00")
	s.Require().NoError(err)

	_, err = s.svc.Complete(s.ctx, o.ID, s.petitioner, "")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	o, err = s.svc.Complete(s.ctx, o.ID, s.petitioner, "receipt-1138")
	s.Require().NoError(err)
	s.Equal(models.StatusCompleted, o.Status)
	s.Equal("receipt-1138", o.ReceiptRef)
}

func (s *ServiceSuite) TestConcurrentModificationConflicts() {
	o := s.createObligation("500.00")

	// Simulate a writer that committed between our read and our write.
	stale, err := s.store.FindByID(s.ctx, o.ID)
	s.Require().NoError(err)
	current, err := s.store.FindByID(s.ctx, o.ID)
	s.Require().NoError(err)
	current.ApplyFunding(decimal.RequireFromString("100.00"), s.now)
	s.Require().NoError(s.store.Update(s.ctx, current))

	stale.ApplyFunding(decimal.RequireFromString("50.00"), s.now)
	err = s.svc.update(s.ctx, stale)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func (s *ServiceSuite) TestConcurrentFundingNeverOverfunds() {
	o := s.createObligation("150.00")

	// Two payments race for a remaining balance that can only absorb one.
	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.fund(o.ID, "100.00")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	successes := 0
	var failures []error
	for err := range errs {
		if err == nil {
			successes++
			continue
		}
		failures = append(failures, err)
	}
	s.Equal(1, successes)
	s.Require().Len(failures, 1)
	s.True(dErrors.HasCode(failures[0], dErrors.CodeOverfund) ||
		dErrors.HasCode(failures[0], dErrors.CodeConflict))

	final, err := s.store.FindByID(s.ctx, o.ID)
	s.Require().NoError(err)
	s.True(final.AmountFunded.LessThanOrEqual(final.TotalAmount))
	s.True(final.AmountFunded.Equal(decimal.RequireFromString("100.00")))

	// Only the winning payment reached the ledger.
	entries, err := s.entries.ListByCase(s.ctx, s.caseID, 0, 0)
	s.Require().NoError(err)
	s.Len(entries, 1)
}

func (s *ServiceSuite) TestCaseMetrics() {
	due := time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC)
	past := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)

	s.createObligation("300.00", func(r *models.CreateRequest) { r.DueDate = &due })
	overdue := s.createObligation("100.00", func(r *models.CreateRequest) { r.DueDate = &past })
	_, err := s.fund(overdue.ID, "40.00")
	s.Require().NoError(err)

	m, err := s.svc.CaseMetrics(s.ctx, s.caseID)
	s.Require().NoError(err)
	s.Equal(1, m.ByStatus[string(models.StatusOpen)])
	s.Equal(1, m.ByStatus[string(models.StatusPartiallyFunded)])
	s.True(m.TotalThisMonth.Equal(decimal.RequireFromString("300.00")))
	s.Equal(1, m.OverdueCount)
	s.True(m.TotalOverdue.Equal(decimal.RequireFromString("60.00")))
}

func (s *ServiceSuite) TestListPaginates() {
	for i := 0; i < 3; i++ {
		s.createObligation("10.00")
	}

	first, err := s.svc.List(s.ctx, s.caseID, 1, 2)
	s.Require().NoError(err)
	s.Len(first, 2)

	second, err := s.svc.List(s.ctx, s.caseID, 2, 2)
	s.Require().NoError(err)
	s.Len(second, 1)
}
