package models

import (
	"time"

	"github.com/shopspring/decimal"

	id "clearfund/pkg/domain"
)

// BalanceSummary is the derived point-in-time balance view between the two
// parties of a case. It is never persisted as ground truth; it is recomputed
// from the ledger (and cached with invalidation on every append).
//
// Invariant: PetitionerOwesRespondent and RespondentOwesPetitioner are never
// simultaneously positive; the two directions net against each other at
// computation time.
type BalanceSummary struct {
	CaseID       id.CaseID  `json:"case_id"`
	PetitionerID id.PartyID `json:"petitioner_id"`
	RespondentID id.PartyID `json:"respondent_id"`

	// Signed: positive = owes.
	PetitionerBalance decimal.Decimal `json:"petitioner_balance"`
	RespondentBalance decimal.Decimal `json:"respondent_balance"`

	PetitionerOwesRespondent decimal.Decimal `json:"petitioner_owes_respondent"`
	RespondentOwesPetitioner decimal.Decimal `json:"respondent_owes_petitioner"`

	// NetBalance is positive when the petitioner owes the respondent.
	NetBalance decimal.Decimal `json:"net_balance"`

	ObligationsByStatus map[string]int  `json:"obligations_by_status"`
	TotalThisMonth      decimal.Decimal `json:"total_this_month"`
	TotalOverdue        decimal.Decimal `json:"total_overdue"`
	OverdueCount        int             `json:"overdue_count"`

	ComputedAt time.Time `json:"computed_at"`
}

// ApplyNet fills the directional and signed balance fields from a net amount
// (positive = petitioner owes respondent), enforcing the mutual-exclusion
// invariant by construction.
func (b *BalanceSummary) ApplyNet(net decimal.Decimal) {
	b.NetBalance = net
	b.PetitionerBalance = net
	b.RespondentBalance = net.Neg()
	if net.IsPositive() {
		b.PetitionerOwesRespondent = net
		b.RespondentOwesPetitioner = decimal.Zero
	} else {
		b.PetitionerOwesRespondent = decimal.Zero
		b.RespondentOwesPetitioner = net.Neg()
	}
}
