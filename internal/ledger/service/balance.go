package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"clearfund/internal/audit"
	"clearfund/internal/ledger/models"
	id "clearfund/pkg/domain"
	dErrors "clearfund/pkg/domain-errors"
	"clearfund/pkg/requestcontext"
)

// Summary computes the current balance summary for a case between its two
// parties. The fast path reads the stored running-balance tails; counters and
// totals come from the case's obligations.
func (c *Calculator) Summary(ctx context.Context, caseID id.CaseID, petitionerID, respondentID id.PartyID) (*models.BalanceSummary, error) {
	if petitionerID.IsNil() || respondentID.IsNil() || petitionerID == respondentID {
		return nil, dErrors.New(dErrors.CodeValidation, "a balance summary needs two distinct parties")
	}

	if c.cache != nil {
		if cached, ok := c.cache.Get(ctx, caseID); ok &&
			cached.PetitionerID == petitionerID && cached.RespondentID == respondentID {
			if c.metrics != nil {
				c.metrics.SummaryCacheHits.Inc()
			}
			return cached, nil
		}
		if c.metrics != nil {
			c.metrics.SummaryCacheMisses.Inc()
		}
	}

	tails, err := c.entries.LatestBalances(ctx, caseID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load ledger balances")
	}
	net := tails[models.PairKey{Obligor: petitionerID, Obligee: respondentID}].
		Sub(tails[models.PairKey{Obligor: respondentID, Obligee: petitionerID}])

	summary := &models.BalanceSummary{
		CaseID:              caseID,
		PetitionerID:        petitionerID,
		RespondentID:        respondentID,
		ObligationsByStatus: map[string]int{},
		ComputedAt:          requestcontext.Now(ctx),
	}
	summary.ApplyNet(net)

	if err := c.fillObligationTotals(ctx, summary); err != nil {
		return nil, err
	}

	if c.cache != nil {
		c.cache.Set(ctx, caseID, summary)
	}
	return summary, nil
}

func (c *Calculator) fillObligationTotals(ctx context.Context, summary *models.BalanceSummary) error {
	obligations, err := c.obligations.ListAllByCase(ctx, summary.CaseID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load case obligations")
	}
	now := requestcontext.Now(ctx)
	for _, o := range obligations {
		summary.ObligationsByStatus[string(o.Status)]++
		if o.DueDate != nil && o.DueDate.Year() == now.Year() && o.DueDate.Month() == now.Month() {
			summary.TotalThisMonth = summary.TotalThisMonth.Add(o.TotalAmount)
		}
		if o.IsOverdue(now) {
			summary.OverdueCount++
			summary.TotalOverdue = summary.TotalOverdue.Add(o.Remaining())
		}
	}
	return nil
}

// Invalidate drops the cached summary for a case.
func (c *Calculator) Invalidate(ctx context.Context, caseID id.CaseID) {
	if c.cache != nil {
		c.cache.Invalidate(ctx, caseID)
	}
}

// Divergence is a stored running balance that full replay could not
// reproduce.
type Divergence struct {
	EntryID  id.EntryID
	Pair     models.PairKey
	Stored   decimal.Decimal
	Expected decimal.Decimal
}

// Replay re-derives every running balance for a case from entry zero in
// replay order and reports any entry whose stored balance disagrees. The
// returned map holds the replayed final balance per ordered pair.
func (c *Calculator) Replay(ctx context.Context, caseID id.CaseID) (map[models.PairKey]decimal.Decimal, []Divergence, error) {
	start := time.Now()
	entries, err := c.entries.ListByCase(ctx, caseID, 0, 0)
	if err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load ledger for replay")
	}

	balances := make(map[models.PairKey]decimal.Decimal)
	var divergences []Divergence
	for _, e := range entries {
		pair := e.Pair()
		expected := balances[pair].Add(e.Amount)
		balances[pair] = expected
		if !expected.Equal(e.RunningBalance) {
			divergences = append(divergences, Divergence{
				EntryID:  e.ID,
				Pair:     pair,
				Stored:   e.RunningBalance,
				Expected: expected,
			})
		}
	}
	if c.metrics != nil {
		c.metrics.ObserveReplay(start)
	}
	return balances, divergences, nil
}

// Reconcile replays a case and, on divergence, freezes writes, records the
// incident on the audit trail, and returns an integrity error naming the
// affected entries. A clean replay returns nil.
func (c *Calculator) Reconcile(ctx context.Context, caseID id.CaseID) error {
	_, divergences, err := c.Replay(ctx, caseID)
	if err != nil {
		return err
	}
	if len(divergences) == 0 {
		return nil
	}

	ids := make([]string, 0, len(divergences))
	for _, d := range divergences {
		ids = append(ids, d.EntryID.String())
	}
	reason := fmt.Sprintf("running balance divergence on entries %s", strings.Join(ids, ", "))
	c.logger.Error("ledger integrity divergence",
		"case_id", caseID, "entries", len(divergences))
	if c.metrics != nil {
		c.metrics.IntegrityIncidents.Inc()
	}

	if c.audit != nil {
		if err := c.audit.Emit(ctx, audit.Event{
			Timestamp: requestcontext.Now(ctx),
			CaseID:    caseID,
			Subject:   divergences[0].EntryID.String(),
			Action:    string(audit.EventIntegrityDivergence),
			Reason:    reason,
			RequestID: requestcontext.RequestID(ctx),
		}); err != nil {
			c.logger.Error("failed to record integrity incident", "error", err)
		}
	}

	if err := c.entries.Freeze(ctx, caseID, reason); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to freeze case writes")
	}
	if c.metrics != nil {
		c.metrics.CasesFrozen.Inc()
	}
	if c.audit != nil {
		if err := c.audit.Emit(ctx, audit.Event{
			Timestamp: requestcontext.Now(ctx),
			CaseID:    caseID,
			Action:    string(audit.EventCaseWritesFrozen),
			Reason:    reason,
			RequestID: requestcontext.RequestID(ctx),
		}); err != nil {
			c.logger.Error("failed to record case freeze", "error", err)
		}
	}
	if c.cache != nil {
		c.cache.Invalidate(ctx, caseID)
	}

	return dErrors.New(dErrors.CodeIntegrity, reason)
}

// ReconcileAll replays every case with ledger activity and returns the IDs of
// cases that failed reconciliation.
func (c *Calculator) ReconcileAll(ctx context.Context) ([]id.CaseID, error) {
	caseIDs, err := c.entries.ListCaseIDs(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list ledger cases")
	}
	var divergent []id.CaseID
	for _, caseID := range caseIDs {
		if err := c.Reconcile(ctx, caseID); err != nil {
			if dErrors.HasCode(err, dErrors.CodeIntegrity) {
				divergent = append(divergent, caseID)
				continue
			}
			return divergent, err
		}
	}
	return divergent, nil
}
