package models

import (
	"time"

	"github.com/shopspring/decimal"

	id "clearfund/pkg/domain"
	dErrors "clearfund/pkg/domain-errors"
)

// EntryType classifies a ledger movement.
type EntryType string

const (
	// EntryObligation records a commitment registered against the ledger by
	// an external collaborator (e.g. a court action importing an order).
	EntryObligation EntryType = "obligation"

	// EntryFunding records money applied to an obligation. Emitted by the
	// obligation state machine, exactly one per funding transition.
	EntryFunding EntryType = "funding"

	// EntryPrepayment records money moved ahead of an obligation.
	EntryPrepayment EntryType = "prepayment"

	// EntryAdjustment corrects an earlier entry. The original is never
	// mutated; the adjustment references it via AdjustsEntryID.
	EntryAdjustment EntryType = "adjustment"
)

var validEntryTypes = map[EntryType]bool{
	EntryObligation: true,
	EntryFunding:    true,
	EntryPrepayment: true,
	EntryAdjustment: true,
}

// ParseEntryType constructs an EntryType from external input.
func ParseEntryType(s string) (EntryType, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "entry type cannot be empty")
	}
	t := EntryType(s)
	if !validEntryTypes[t] {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid entry type")
	}
	return t, nil
}

func (t EntryType) IsValid() bool { return validEntryTypes[t] }
func (t EntryType) String() string { return string(t) }

// Entry is one atomic, immutable monetary movement between two named parties.
//
// Invariants:
//   - Append-only: Amount, ObligorID, ObligeeID, and EffectiveDate never
//     change after creation. Corrections are new adjustment entries.
//   - Sign convention: a positive Amount increases the obligor's debt to the
//     obligee; a negative Amount decreases it.
//   - RunningBalance is the cumulative signed sum for the (obligor, obligee)
//     pair immediately after this entry, in (EffectiveDate, CreatedAt, ID)
//     replay order. Replaying the case must reproduce it exactly.
type Entry struct {
	ID             id.EntryID       `json:"id"`
	CaseID         id.CaseID        `json:"case_id"`
	Type           EntryType        `json:"entry_type"`
	ObligorID      id.PartyID       `json:"obligor_id"`
	ObligeeID      id.PartyID       `json:"obligee_id"`
	Amount         decimal.Decimal  `json:"amount"`
	RunningBalance decimal.Decimal  `json:"running_balance"`
	ObligationID   *id.ObligationID `json:"obligation_id,omitempty"`
	AdjustsEntryID *id.EntryID      `json:"adjusts_entry_id,omitempty"`
	Description    string           `json:"description"`
	EffectiveDate  time.Time        `json:"effective_date"`
	IsReconciled   bool             `json:"is_reconciled"`
	CreatedAt      time.Time        `json:"created_at"`
}

// NewEntry validates and builds an entry ready for appending. RunningBalance
// is computed by the store at append time, never by the caller.
func NewEntry(caseID id.CaseID, entryType EntryType, obligor, obligee id.PartyID,
	amount decimal.Decimal, description string, effectiveDate, now time.Time) (*Entry, error) {

	if caseID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "case id is required")
	}
	if !entryType.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "invalid entry type")
	}
	if obligor.IsNil() || obligee.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "obligor and obligee are required")
	}
	if obligor == obligee {
		return nil, dErrors.New(dErrors.CodeValidation, "obligor and obligee must be distinct parties")
	}
	if amount.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "amount cannot be zero")
	}
	if effectiveDate.IsZero() {
		effectiveDate = now
	}
	return &Entry{
		ID:            id.NewEntryID(),
		CaseID:        caseID,
		Type:          entryType,
		ObligorID:     obligor,
		ObligeeID:     obligee,
		Amount:        amount,
		Description:   description,
		EffectiveDate: effectiveDate,
		CreatedAt:     now,
	}, nil
}

// PairKey identifies the ordered (obligor, obligee) running-balance series an
// entry belongs to.
type PairKey struct {
	Obligor id.PartyID
	Obligee id.PartyID
}

// Pair returns the entry's running-balance series key.
func (e *Entry) Pair() PairKey {
	return PairKey{Obligor: e.ObligorID, Obligee: e.ObligeeID}
}
