package models

import (
	"time"

	"github.com/shopspring/decimal"

	id "clearfund/pkg/domain"
	dErrors "clearfund/pkg/domain-errors"
)

// Status is the obligation lifecycle state.
type Status string

const (
	StatusOpen            Status = "open"
	StatusPartiallyFunded Status = "partially_funded"
	StatusFunded          Status = "funded"
	StatusVerified        Status = "verified"
	StatusCompleted       Status = "completed"
	StatusCancelled       Status = "cancelled"
)

var validStatuses = map[Status]bool{
	StatusOpen:            true,
	StatusPartiallyFunded: true,
	StatusFunded:          true,
	StatusVerified:        true,
	StatusCompleted:       true,
	StatusCancelled:       true,
}

// ParseStatus constructs a Status from external input.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !validStatuses[st] {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid obligation status")
	}
	return st, nil
}

// IsTerminal reports whether the status is absorbing: no transition succeeds
// from a terminal state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func (s Status) String() string { return string(s) }

// Obligation is a purpose-locked financial commitment between the two parties
// of a case.
//
// Invariants:
//   - PetitionerShare + RespondentShare == TotalAmount, tolerance zero
//   - decimal.Zero <= AmountFunded <= TotalAmount
//   - AmountVerified <= AmountFunded
//   - Status mutates only through the Can*/Apply* transition methods
//   - Never hard-deleted; cancellation is a terminal status, not a removal
//
// Version supports optimistic concurrency: the store update matches on it, and
// a mismatch surfaces as a conflict the caller must retry. This is what keeps
// concurrent funding of the same obligation from losing an update.
type Obligation struct {
	ID              id.ObligationID   `json:"id"`
	CaseID          id.CaseID         `json:"case_id"`
	Title           string            `json:"title"`
	Category        id.PurposeCategory `json:"purpose_category"`
	TotalAmount     decimal.Decimal   `json:"total_amount"`
	PetitionerShare decimal.Decimal   `json:"petitioner_share"`
	RespondentShare decimal.Decimal   `json:"respondent_share"`
	Status          Status            `json:"status"`
	AmountFunded    decimal.Decimal   `json:"amount_funded"`
	AmountVerified  decimal.Decimal   `json:"amount_verified"`
	DueDate         *time.Time        `json:"due_date,omitempty"`

	VerificationRequired bool   `json:"verification_required"`
	ReceiptRequired      bool   `json:"receipt_required"`
	ReceiptRef           string `json:"receipt_ref,omitempty"`

	CancelledBy  *id.PartyID `json:"cancelled_by,omitempty"`
	CancelReason string      `json:"cancel_reason,omitempty"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty"`

	CreatedBy id.PartyID `json:"created_by"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	Version   int        `json:"version"`
}

// NewObligation validates invariants and constructs an open obligation.
func NewObligation(caseID id.CaseID, title string, category id.PurposeCategory,
	total, petitionerShare, respondentShare decimal.Decimal,
	dueDate *time.Time, verificationRequired, receiptRequired bool,
	createdBy id.PartyID, now time.Time) (*Obligation, error) {

	if caseID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "case id is required")
	}
	if title == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "title cannot be empty")
	}
	if len(title) > 256 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "title must be 256 characters or less")
	}
	if !category.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "invalid purpose category")
	}
	if !total.IsPositive() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "total amount must be positive")
	}
	if petitionerShare.IsNegative() || respondentShare.IsNegative() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "shares cannot be negative")
	}
	if !petitionerShare.Add(respondentShare).Equal(total) {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "shares must sum to total amount")
	}
	if createdBy.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "created_by is required")
	}

	return &Obligation{
		ID:                   id.NewObligationID(),
		CaseID:               caseID,
		Title:                title,
		Category:             category,
		TotalAmount:          total,
		PetitionerShare:      petitionerShare,
		RespondentShare:      respondentShare,
		Status:               StatusOpen,
		AmountFunded:         decimal.Zero,
		AmountVerified:       decimal.Zero,
		DueDate:              dueDate,
		VerificationRequired: verificationRequired,
		ReceiptRequired:      receiptRequired,
		CreatedBy:            createdBy,
		CreatedAt:            now,
		UpdatedAt:            now,
		Version:              1,
	}, nil
}

// Remaining returns the unfunded portion.
func (o *Obligation) Remaining() decimal.Decimal {
	return o.TotalAmount.Sub(o.AmountFunded)
}

// IsOverdue is computed, never stored: a due date in the past on a
// non-terminal obligation.
func (o *Obligation) IsOverdue(now time.Time) bool {
	return o.DueDate != nil && o.DueDate.Before(now) && !o.Status.IsTerminal()
}

// CanFund checks whether the funding increment is a legal transition.
// Call before ApplyFunding in RunInTx callbacks.
func (o *Obligation) CanFund(amount decimal.Decimal) error {
	if o.Status.IsTerminal() {
		return dErrors.Newf(dErrors.CodeInvalidTransition, "cannot fund a %s obligation", o.Status)
	}
	if o.Status == StatusVerified {
		return dErrors.New(dErrors.CodeInvalidTransition, "obligation is already fully funded and verified")
	}
	if !amount.IsPositive() {
		return dErrors.New(dErrors.CodeValidation, "funding amount must be positive")
	}
	if amount.GreaterThan(o.Remaining()) {
		return dErrors.Newf(dErrors.CodeOverfund,
			"funding %s exceeds remaining balance %s", amount.String(), o.Remaining().String())
	}
	return nil
}

// ApplyFunding records the increment and advances the status. Call CanFund
// first; ApplyFunding assumes the transition was validated.
func (o *Obligation) ApplyFunding(amount decimal.Decimal, now time.Time) {
	o.AmountFunded = o.AmountFunded.Add(amount)
	if o.AmountFunded.Equal(o.TotalAmount) {
		o.Status = StatusFunded
	} else {
		o.Status = StatusPartiallyFunded
	}
	o.UpdatedAt = now
}

// CanVerify checks whether verification is a legal transition. Verification
// covers the full funded amount; partial verification is not a state.
func (o *Obligation) CanVerify() error {
	if o.Status.IsTerminal() {
		return dErrors.Newf(dErrors.CodeInvalidTransition, "cannot verify a %s obligation", o.Status)
	}
	if !o.VerificationRequired {
		return dErrors.New(dErrors.CodeInvalidTransition, "obligation does not require verification")
	}
	if o.Status != StatusFunded {
		return dErrors.Newf(dErrors.CodeInvalidTransition, "cannot verify a %s obligation; full funding required", o.Status)
	}
	return nil
}

// ApplyVerification marks the funded amount verified.
func (o *Obligation) ApplyVerification(now time.Time) {
	o.AmountVerified = o.AmountFunded
	o.Status = StatusVerified
	o.UpdatedAt = now
}

// CanComplete checks whether completion is a legal transition: verified (or
// funded when verification is not required), with a receipt reference when one
// is required.
func (o *Obligation) CanComplete(receiptRef string) error {
	if o.Status.IsTerminal() {
		return dErrors.Newf(dErrors.CodeInvalidTransition, "cannot complete a %s obligation", o.Status)
	}
	switch {
	case o.Status == StatusVerified:
	case o.Status == StatusFunded && !o.VerificationRequired:
	default:
		return dErrors.Newf(dErrors.CodeInvalidTransition, "cannot complete a %s obligation", o.Status)
	}
	if o.ReceiptRequired && receiptRef == "" {
		return dErrors.New(dErrors.CodeValidation, "a receipt reference is required to complete this obligation")
	}
	return nil
}

// ApplyCompletion records terminal success.
func (o *Obligation) ApplyCompletion(receiptRef string, now time.Time) {
	o.Status = StatusCompleted
	o.ReceiptRef = receiptRef
	completedAt := now
	o.CompletedAt = &completedAt
	o.UpdatedAt = now
}

// CanCancel checks whether cancellation is legal: any non-terminal state.
func (o *Obligation) CanCancel(reason string) error {
	if o.Status.IsTerminal() {
		return dErrors.Newf(dErrors.CodeInvalidTransition, "cannot cancel a %s obligation", o.Status)
	}
	if reason == "" {
		return dErrors.New(dErrors.CodeValidation, "a cancellation reason is required")
	}
	return nil
}

// ApplyCancellation records who cancelled and why. No money moves, so the
// state machine emits an audit event rather than a ledger entry.
func (o *Obligation) ApplyCancellation(by id.PartyID, reason string, now time.Time) {
	o.Status = StatusCancelled
	cancelledBy := by
	o.CancelledBy = &cancelledBy
	o.CancelReason = reason
	o.UpdatedAt = now
}
