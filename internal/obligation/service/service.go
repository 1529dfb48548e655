package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"clearfund/internal/audit"
	ledgermodels "clearfund/internal/ledger/models"
	"clearfund/internal/obligation/metrics"
	"clearfund/internal/obligation/models"
	id "clearfund/pkg/domain"
	dErrors "clearfund/pkg/domain-errors"
	"clearfund/pkg/platform/sentinel"
	"clearfund/pkg/requestcontext"
)

// Store persists obligations. Update enforces optimistic concurrency on the
// aggregate version.
type Store interface {
	Create(ctx context.Context, o *models.Obligation) error
	FindByID(ctx context.Context, obligationID id.ObligationID) (*models.Obligation, error)
	Update(ctx context.Context, o *models.Obligation) error
	ListByCase(ctx context.Context, caseID id.CaseID, limit, offset int) ([]*models.Obligation, error)
	ListAllByCase(ctx context.Context, caseID id.CaseID) ([]*models.Obligation, error)
}

// StoreTx provides a transactional boundary spanning the obligation store, the
// ledger, and the audit trail. The postgres implementation opens a database
// transaction and threads it through the callback context so every store
// joins it; the in-memory implementation takes a coarse lock.
type StoreTx interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// LedgerAppender records money movements. Funding transitions append exactly
// one entry inside the same transaction as the status change.
type LedgerAppender interface {
	Append(ctx context.Context, e *ledgermodels.Entry) error
}

// AuditPublisher records lifecycle events on the audit trail.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service orchestrates the obligation lifecycle. Domain rules live on the
// aggregate (CanX/ApplyX); the service owns transaction scope, persistence,
// and the side effects each transition carries.
type Service struct {
	store   Store
	storeTx StoreTx
	ledger  LedgerAppender
	audit   AuditPublisher
	logger  *slog.Logger
	metrics *metrics.Metrics
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

// NewService constructs an obligation Service. Without WithStoreTx it falls
// back to an in-memory mutex boundary, which is only suitable alongside the
// in-memory stores.
func NewService(store Store, ledger LedgerAppender, opts ...Option) *Service {
	s := &Service{
		store:   store,
		storeTx: newInMemoryStoreTx(),
		ledger:  ledger,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create validates and persists a new obligation.
func (s *Service) Create(ctx context.Context, req models.CreateRequest) (*models.Obligation, error) {
	req.Normalize()
	now := requestcontext.Now(ctx)

	o, err := models.NewObligation(req.CaseID, req.Title, req.Category,
		req.TotalAmount, req.PetitionerShare, req.RespondentShare,
		req.DueDate, req.VerificationRequired, req.ReceiptRequired,
		req.CreatedBy, now)
	if err != nil {
		return nil, err
	}

	err = s.storeTx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Create(ctx, o); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create obligation")
		}
		s.emit(ctx, o, audit.EventObligationCreated, req.CreatedBy, o.TotalAmount.String(), "")
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.Created.Inc()
	}
	return o, nil
}

// Fund applies a funding increment. The status change, the ledger entry, and
// the audit event commit or roll back together; exactly one funding entry is
// written per successful call.
func (s *Service) Fund(ctx context.Context, req models.FundRequest) (*models.Obligation, *ledgermodels.Entry, error) {
	if err := req.Validate(); err != nil {
		return nil, nil, err
	}

	start := time.Now()
	var (
		o     *models.Obligation
		entry *ledgermodels.Entry
	)
	err := s.storeTx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		o, err = s.findForUpdate(ctx, req.ObligationID)
		if err != nil {
			return err
		}
		if err := o.CanFund(req.Amount); err != nil {
			return err
		}

		now := requestcontext.Now(ctx)
		o.ApplyFunding(req.Amount, now)
		if err := s.update(ctx, o); err != nil {
			return err
		}

		entry, err = ledgermodels.NewEntry(o.CaseID, ledgermodels.EntryFunding,
			req.ObligorID, req.ObligeeID, req.Amount, "funding: "+o.Title, now, now)
		if err != nil {
			return err
		}
		obligationID := o.ID
		entry.ObligationID = &obligationID
		if err := s.ledger.Append(ctx, entry); err != nil {
			return err
		}

		s.emit(ctx, o, audit.EventObligationFunded, req.ObligorID, req.Amount.String(), "")
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	if s.metrics != nil {
		s.metrics.FundedTotal.Inc()
		s.metrics.Transitions.WithLabelValues(string(o.Status)).Inc()
		s.metrics.FundLatency.Observe(time.Since(start).Seconds())
	}
	return o, entry, nil
}

// Verify marks the funded amount verified by the counterparty.
func (s *Service) Verify(ctx context.Context, obligationID id.ObligationID, verifiedBy id.PartyID) (*models.Obligation, error) {
	return s.transition(ctx, obligationID, audit.EventObligationVerified, verifiedBy, "",
		func(o *models.Obligation, now time.Time) error {
			if err := o.CanVerify(); err != nil {
				return err
			}
			o.ApplyVerification(now)
			return nil
		})
}

// Complete closes out a verified (or verification-exempt funded) obligation.
func (s *Service) Complete(ctx context.Context, obligationID id.ObligationID, completedBy id.PartyID, receiptRef string) (*models.Obligation, error) {
	return s.transition(ctx, obligationID, audit.EventObligationCompleted, completedBy, "",
		func(o *models.Obligation, now time.Time) error {
			if err := o.CanComplete(receiptRef); err != nil {
				return err
			}
			o.ApplyCompletion(receiptRef, now)
			return nil
		})
}

// Cancel voids a non-terminal obligation. Already-funded amounts stay on the
// ledger; unwinding them is a manual adjustment, not an automatic reversal.
func (s *Service) Cancel(ctx context.Context, req models.CancelRequest) (*models.Obligation, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.transition(ctx, req.ObligationID, audit.EventObligationCancelled, req.CancelledBy, req.Reason,
		func(o *models.Obligation, now time.Time) error {
			if err := o.CanCancel(req.Reason); err != nil {
				return err
			}
			o.ApplyCancellation(req.CancelledBy, req.Reason, now)
			return nil
		})
}

// Get returns a single obligation.
func (s *Service) Get(ctx context.Context, obligationID id.ObligationID) (*models.Obligation, error) {
	return s.findForUpdate(ctx, obligationID)
}

// List returns a page of a case's obligations ordered by creation time.
func (s *Service) List(ctx context.Context, caseID id.CaseID, page, pageSize int) ([]*models.Obligation, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 200 {
		pageSize = 50
	}
	obligations, err := s.store.ListByCase(ctx, caseID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list obligations")
	}
	return obligations, nil
}

// CaseMetrics summarizes a case's obligations: status counts, this month's
// total, and the overdue backlog. All figures are derived at read time.
func (s *Service) CaseMetrics(ctx context.Context, caseID id.CaseID) (*models.CaseMetrics, error) {
	obligations, err := s.store.ListAllByCase(ctx, caseID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load case obligations")
	}

	now := requestcontext.Now(ctx)
	m := &models.CaseMetrics{
		CaseID:   caseID,
		ByStatus: map[string]int{},
	}
	for _, o := range obligations {
		m.ByStatus[string(o.Status)]++
		if o.DueDate != nil && o.DueDate.Year() == now.Year() && o.DueDate.Month() == now.Month() {
			m.TotalThisMonth = m.TotalThisMonth.Add(o.TotalAmount)
		}
		if o.IsOverdue(now) {
			m.OverdueCount++
			m.TotalOverdue = m.TotalOverdue.Add(o.Remaining())
		}
	}
	return m, nil
}

// transition runs a load/validate/apply/update cycle in one transaction and
// emits the matching audit event.
func (s *Service) transition(ctx context.Context, obligationID id.ObligationID,
	event audit.AuditEvent, actor id.PartyID, reason string,
	apply func(o *models.Obligation, now time.Time) error) (*models.Obligation, error) {

	var o *models.Obligation
	err := s.storeTx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		o, err = s.findForUpdate(ctx, obligationID)
		if err != nil {
			return err
		}
		if err := apply(o, requestcontext.Now(ctx)); err != nil {
			return err
		}
		if err := s.update(ctx, o); err != nil {
			return err
		}
		s.emit(ctx, o, event, actor, "", reason)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.Transitions.WithLabelValues(string(o.Status)).Inc()
	}
	return o, nil
}

func (s *Service) findForUpdate(ctx context.Context, obligationID id.ObligationID) (*models.Obligation, error) {
	o, err := s.store.FindByID(ctx, obligationID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "obligation not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load obligation")
	}
	return o, nil
}

func (s *Service) update(ctx context.Context, o *models.Obligation) error {
	if err := s.store.Update(ctx, o); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return dErrors.New(dErrors.CodeConflict, "obligation was modified concurrently; retry the operation")
		}
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "obligation not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update obligation")
	}
	return nil
}

func (s *Service) emit(ctx context.Context, o *models.Obligation, event audit.AuditEvent,
	actor id.PartyID, amount, reason string) {

	if s.audit == nil {
		return
	}
	err := s.audit.Emit(ctx, audit.Event{
		Timestamp: requestcontext.Now(ctx),
		CaseID:    o.CaseID,
		ActorID:   actor,
		Subject:   o.ID.String(),
		Action:    string(event),
		Amount:    amount,
		Reason:    reason,
		RequestID: requestcontext.RequestID(ctx),
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to record audit event",
			"action", string(event), "obligation_id", o.ID.String(), "error", err.Error())
	}
}
