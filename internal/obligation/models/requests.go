package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	id "clearfund/pkg/domain"
	dErrors "clearfund/pkg/domain-errors"
)

// CreateRequest carries the fields needed to open an obligation. Amounts
// arrive as decimal strings so no float ever touches money.
type CreateRequest struct {
	CaseID               id.CaseID
	Title                string
	Category             id.PurposeCategory
	TotalAmount          decimal.Decimal
	PetitionerShare      decimal.Decimal
	RespondentShare      decimal.Decimal
	DueDate              *time.Time
	VerificationRequired bool
	ReceiptRequired      bool
	CreatedBy            id.PartyID
}

// Normalize trims free-text fields in place.
func (r *CreateRequest) Normalize() {
	r.Title = strings.TrimSpace(r.Title)
}

// FundRequest applies a funding increment. The obligor is the paying party;
// the obligee is the counterparty whose ledger position the payment moves.
type FundRequest struct {
	ObligationID id.ObligationID
	Amount       decimal.Decimal
	ObligorID    id.PartyID
	ObligeeID    id.PartyID
}

// Validate rejects malformed funding requests before any read or write.
func (r *FundRequest) Validate() error {
	if r.ObligationID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "obligation id is required")
	}
	if !r.Amount.IsPositive() {
		return dErrors.New(dErrors.CodeValidation, "funding amount must be positive")
	}
	if r.ObligorID.IsNil() || r.ObligeeID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "obligor and obligee are required")
	}
	if r.ObligorID == r.ObligeeID {
		return dErrors.New(dErrors.CodeValidation, "obligor and obligee must be distinct parties")
	}
	return nil
}

// CancelRequest records a cancellation with its mandatory audit fields.
type CancelRequest struct {
	ObligationID id.ObligationID
	CancelledBy  id.PartyID
	Reason       string
}

// Validate rejects malformed cancellation requests.
func (r *CancelRequest) Validate() error {
	if r.ObligationID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "obligation id is required")
	}
	if r.CancelledBy.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "cancelled_by is required")
	}
	if strings.TrimSpace(r.Reason) == "" {
		return dErrors.New(dErrors.CodeValidation, "a cancellation reason is required")
	}
	return nil
}

// CaseMetrics summarizes a case's obligations for the metrics operation.
type CaseMetrics struct {
	CaseID         id.CaseID       `json:"case_id"`
	ByStatus       map[string]int  `json:"obligations_by_status"`
	TotalThisMonth decimal.Decimal `json:"total_this_month"`
	TotalOverdue   decimal.Decimal `json:"total_overdue"`
	OverdueCount   int             `json:"overdue_count"`
}
