package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"clearfund/internal/obligation/models"
	id "clearfund/pkg/domain"
	"clearfund/pkg/platform/sentinel"
	txcontext "clearfund/pkg/platform/tx"
)

// PostgresStore persists obligations. Writes join the transaction carried in
// the context when present, so the obligation update and its paired ledger
// append commit or roll back together.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbRunner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) runner(ctx context.Context) dbRunner {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const obligationColumns = `
	id, case_id, title, purpose_category, total_amount, petitioner_share,
	respondent_share, status, amount_funded, amount_verified, due_date,
	verification_required, receipt_required, COALESCE(receipt_ref, ''),
	cancelled_by, COALESCE(cancel_reason, ''), completed_at, created_by,
	created_at, updated_at, version`

func (s *PostgresStore) Create(ctx context.Context, o *models.Obligation) error {
	query := `
		INSERT INTO obligations (
			id, case_id, title, purpose_category, total_amount, petitioner_share,
			respondent_share, status, amount_funded, amount_verified, due_date,
			verification_required, receipt_required, receipt_ref, cancelled_by,
			cancel_reason, completed_at, created_by, created_at, updated_at, version
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,NULLIF($14,''),$15,NULLIF($16,''),$17,$18,$19,$20,$21)
	`
	_, err := s.runner(ctx).ExecContext(ctx, query,
		o.ID.String(), o.CaseID.String(), o.Title, o.Category.String(),
		o.TotalAmount, o.PetitionerShare, o.RespondentShare, o.Status.String(),
		o.AmountFunded, o.AmountVerified, o.DueDate,
		o.VerificationRequired, o.ReceiptRequired, o.ReceiptRef,
		nullableParty(o.CancelledBy), o.CancelReason, o.CompletedAt,
		o.CreatedBy.String(), o.CreatedAt, o.UpdatedAt, o.Version)
	if err != nil {
		return fmt.Errorf("create obligation: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, obligationID id.ObligationID) (*models.Obligation, error) {
	query := `SELECT` + obligationColumns + ` FROM obligations WHERE id = $1`
	row := s.runner(ctx).QueryRowContext(ctx, query, obligationID.String())
	o, err := scanObligation(row)
	if err == sql.ErrNoRows {
		return nil, sentinel.ErrNotFound
	}
	return o, err
}

// Update writes the full mutable state, guarded by the optimistic version
// check. Zero rows affected means either the row is gone or a concurrent
// writer advanced the version first; the two are distinguished so callers get
// the right sentinel.
func (s *PostgresStore) Update(ctx context.Context, o *models.Obligation) error {
	query := `
		UPDATE obligations SET
			status = $3, amount_funded = $4, amount_verified = $5,
			receipt_ref = NULLIF($6, ''), cancelled_by = $7,
			cancel_reason = NULLIF($8, ''), completed_at = $9,
			updated_at = $10, version = version + 1
		WHERE id = $1 AND version = $2
	`
	res, err := s.runner(ctx).ExecContext(ctx, query,
		o.ID.String(), o.Version, o.Status.String(), o.AmountFunded,
		o.AmountVerified, o.ReceiptRef, nullableParty(o.CancelledBy),
		o.CancelReason, o.CompletedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update obligation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update obligation rows: %w", err)
	}
	if affected == 0 {
		var exists bool
		err := s.runner(ctx).QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM obligations WHERE id = $1)`, o.ID.String()).Scan(&exists)
		if err != nil {
			return fmt.Errorf("update obligation existence check: %w", err)
		}
		if !exists {
			return sentinel.ErrNotFound
		}
		return sentinel.ErrConflict
	}
	o.Version++
	return nil
}

func (s *PostgresStore) ListByCase(ctx context.Context, caseID id.CaseID, limit, offset int) ([]*models.Obligation, error) {
	query := `SELECT` + obligationColumns + `
		 FROM obligations
		WHERE case_id = $1
		ORDER BY created_at, id`
	args := []any{caseID.String()}
	if limit > 0 {
		query += ` LIMIT $2 OFFSET $3`
		args = append(args, limit, offset)
	}

	rows, err := s.runner(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list obligations: %w", err)
	}
	defer rows.Close()

	var out []*models.Obligation
	for rows.Next() {
		o, err := scanObligation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListAllByCase(ctx context.Context, caseID id.CaseID) ([]*models.Obligation, error) {
	return s.ListByCase(ctx, caseID, 0, 0)
}

func nullableParty(p *id.PartyID) any {
	if p == nil {
		return nil
	}
	return p.String()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanObligation(row rowScanner) (*models.Obligation, error) {
	var (
		o                      models.Obligation
		idStr, caseStr         string
		category, status       string
		total, petShare        decimal.Decimal
		respShare, funded      decimal.Decimal
		verified               decimal.Decimal
		dueDate, completedAt   sql.NullTime
		cancelledBy            sql.NullString
		createdBy              string
	)
	err := row.Scan(&idStr, &caseStr, &o.Title, &category, &total, &petShare,
		&respShare, &status, &funded, &verified, &dueDate,
		&o.VerificationRequired, &o.ReceiptRequired, &o.ReceiptRef,
		&cancelledBy, &o.CancelReason, &completedAt, &createdBy,
		&o.CreatedAt, &o.UpdatedAt, &o.Version)
	if err != nil {
		return nil, err
	}

	obligationID, err := id.ParseObligationID(idStr)
	if err != nil {
		return nil, fmt.Errorf("parse obligation id: %w", err)
	}
	caseID, err := id.ParseCaseID(caseStr)
	if err != nil {
		return nil, fmt.Errorf("parse obligation case id: %w", err)
	}
	creator, err := id.ParsePartyID(createdBy)
	if err != nil {
		return nil, fmt.Errorf("parse obligation creator: %w", err)
	}
	parsedCategory, err := id.ParsePurposeCategory(category)
	if err != nil {
		return nil, fmt.Errorf("parse obligation category: %w", err)
	}
	parsedStatus, err := models.ParseStatus(status)
	if err != nil {
		return nil, fmt.Errorf("parse obligation status: %w", err)
	}

	o.ID = obligationID
	o.CaseID = caseID
	o.CreatedBy = creator
	o.Category = parsedCategory
	o.Status = parsedStatus
	o.TotalAmount = total
	o.PetitionerShare = petShare
	o.RespondentShare = respShare
	o.AmountFunded = funded
	o.AmountVerified = verified
	if dueDate.Valid {
		t := dueDate.Time
		o.DueDate = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		o.CompletedAt = &t
	}
	if cancelledBy.Valid {
		p, err := id.ParsePartyID(cancelledBy.String)
		if err != nil {
			return nil, fmt.Errorf("parse cancelled_by: %w", err)
		}
		o.CancelledBy = &p
	}
	return &o, nil
}
