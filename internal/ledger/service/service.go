package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"clearfund/internal/audit"
	"clearfund/internal/ledger/metrics"
	"clearfund/internal/ledger/models"
	obligationmodels "clearfund/internal/obligation/models"
	id "clearfund/pkg/domain"
	dErrors "clearfund/pkg/domain-errors"
	"clearfund/pkg/platform/sentinel"
	"clearfund/pkg/requestcontext"
)

// Store is the append-only ledger surface. There is deliberately no update or
// delete: corrections are adjustment entries.
type Store interface {
	Append(ctx context.Context, e *models.Entry) error
	FindByID(ctx context.Context, caseID id.CaseID, entryID id.EntryID) (*models.Entry, error)
	ListByCase(ctx context.Context, caseID id.CaseID, limit, offset int) ([]*models.Entry, error)
	ListByCaseRange(ctx context.Context, caseID id.CaseID, start, end time.Time) ([]*models.Entry, error)
	LatestBalances(ctx context.Context, caseID id.CaseID) (map[models.PairKey]decimal.Decimal, error)
	ListCaseIDs(ctx context.Context) ([]id.CaseID, error)
	Freeze(ctx context.Context, caseID id.CaseID, reason string) error
	IsFrozen(ctx context.Context, caseID id.CaseID) (bool, error)
}

// ObligationReader supplies the obligation facts the balance summary derives
// its counters from.
type ObligationReader interface {
	ListAllByCase(ctx context.Context, caseID id.CaseID) ([]*obligationmodels.Obligation, error)
}

// Cache holds computed balance summaries. Implementations must tolerate
// being nil-configured; the calculator treats every miss as a recompute.
type Cache interface {
	Get(ctx context.Context, caseID id.CaseID) (*models.BalanceSummary, bool)
	Set(ctx context.Context, caseID id.CaseID, summary *models.BalanceSummary)
	Invalidate(ctx context.Context, caseID id.CaseID)
}

// AuditPublisher records integrity incidents on the audit trail.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Calculator derives balances from the ledger. The incremental path trusts
// stored running balances; Replay is the canonical reference that re-derives
// everything from entry zero and is the arbiter when the two disagree.
type Calculator struct {
	entries     Store
	obligations ObligationReader
	cache       Cache
	logger      *slog.Logger
	metrics     *metrics.Metrics
	audit       AuditPublisher
}

// Option configures a Calculator.
type Option func(*Calculator)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Calculator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithCache(cache Cache) Option {
	return func(c *Calculator) {
		c.cache = cache
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Calculator) {
		c.metrics = m
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(c *Calculator) {
		c.audit = publisher
	}
}

// NewCalculator constructs a Calculator.
func NewCalculator(entries Store, obligations ObligationReader, opts ...Option) *Calculator {
	c := &Calculator{
		entries:     entries,
		obligations: obligations,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AdjustmentRequest corrects an earlier entry with a new signed movement. The
// original entry is never touched.
type AdjustmentRequest struct {
	CaseID         id.CaseID
	AdjustsEntryID id.EntryID
	ObligorID      id.PartyID
	ObligeeID      id.PartyID
	Amount         decimal.Decimal
	Description    string
}

// RecordAdjustment appends an adjustment entry referencing the corrected
// original. The referenced entry must exist in the same case.
func (c *Calculator) RecordAdjustment(ctx context.Context, req AdjustmentRequest) (*models.Entry, error) {
	if req.AdjustsEntryID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "an adjustment must reference the entry it corrects")
	}
	original, err := c.entries.FindByID(ctx, req.CaseID, req.AdjustsEntryID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "referenced ledger entry not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load referenced entry")
	}

	now := requestcontext.Now(ctx)
	entry, err := models.NewEntry(req.CaseID, models.EntryAdjustment,
		req.ObligorID, req.ObligeeID, req.Amount, req.Description, now, now)
	if err != nil {
		return nil, err
	}
	adjusts := original.ID
	entry.AdjustsEntryID = &adjusts

	if err := c.Append(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Append writes an entry through the store and invalidates the cached
// summary. Frozen cases reject with an integrity error: no money moves on a
// ledger that cannot be trusted.
func (c *Calculator) Append(ctx context.Context, entry *models.Entry) error {
	if err := c.entries.Append(ctx, entry); err != nil {
		if errors.Is(err, sentinel.ErrFrozen) {
			return dErrors.New(dErrors.CodeIntegrity, "ledger writes for this case are paused pending integrity resolution")
		}
		if dErrors.HasCode(err, dErrors.CodeValidation) {
			return err
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to append ledger entry")
	}
	if c.metrics != nil {
		c.metrics.EntriesAppended.Inc()
	}
	if c.cache != nil {
		c.cache.Invalidate(ctx, entry.CaseID)
	}
	return nil
}

// EntriesInRange returns a case's ledger entries effective within [start, end]
// in replay order.
func (c *Calculator) EntriesInRange(ctx context.Context, caseID id.CaseID, start, end time.Time) ([]*models.Entry, error) {
	entries, err := c.entries.ListByCaseRange(ctx, caseID, start, end)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list ledger entries")
	}
	return entries, nil
}

// ListEntries returns a page of a case's ledger in replay order.
func (c *Calculator) ListEntries(ctx context.Context, caseID id.CaseID, page, pageSize int) ([]*models.Entry, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 200 {
		pageSize = 50
	}
	entries, err := c.entries.ListByCase(ctx, caseID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list ledger entries")
	}
	return entries, nil
}
