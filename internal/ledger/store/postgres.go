package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"clearfund/internal/ledger/models"
	id "clearfund/pkg/domain"
	dErrors "clearfund/pkg/domain-errors"
	"clearfund/pkg/platform/sentinel"
	txcontext "clearfund/pkg/platform/tx"
)

// PostgresStore is the append-only ledger. There is no update or delete API.
//
// Append serializes per (case, obligor, obligee) pair by taking a row lock on
// ledger_pair_locks inside the transaction, so two concurrent appends can
// never read the same stale running balance. Appends for different pairs in
// the same case proceed concurrently.
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

// Append computes the running balance and persists the entry. When the caller
// context carries a transaction (funding transitions), the append joins it;
// otherwise the store opens its own.
func (s *PostgresStore) Append(ctx context.Context, e *models.Entry) error {
	if tx, ok := txcontext.From(ctx); ok {
		return s.appendIn(ctx, tx, e)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()
	if err := s.appendIn(ctx, tx, e); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PostgresStore) appendIn(ctx context.Context, tx *sql.Tx, e *models.Entry) error {
	// The upsert leaves this transaction holding the pair's row lock until
	// commit, serializing running-balance computation per pair.
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_pair_locks (case_id, obligor_id, obligee_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (case_id, obligor_id, obligee_id)
		DO UPDATE SET case_id = EXCLUDED.case_id
	`, e.CaseID.String(), e.ObligorID.String(), e.ObligeeID.String())
	if err != nil {
		return fmt.Errorf("acquire pair lock: %w", err)
	}

	var frozen bool
	err = tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM case_freezes WHERE case_id = $1)`,
		e.CaseID.String()).Scan(&frozen)
	if err != nil {
		return fmt.Errorf("check case freeze: %w", err)
	}
	if frozen {
		return sentinel.ErrFrozen
	}

	var (
		prev          decimal.Decimal
		tailEffective sql.NullTime
	)
	var tailCreated sql.NullTime
	err = tx.QueryRowContext(ctx, `
		SELECT running_balance, effective_date, created_at
		FROM ledger_entries
		WHERE case_id = $1 AND obligor_id = $2 AND obligee_id = $3
		ORDER BY effective_date DESC, created_at DESC, id DESC
		LIMIT 1
	`, e.CaseID.String(), e.ObligorID.String(), e.ObligeeID.String()).Scan(&prev, &tailEffective, &tailCreated)
	switch {
	case err == sql.ErrNoRows:
		prev = decimal.Zero
	case err != nil:
		return fmt.Errorf("read pair tail: %w", err)
	default:
		if tailEffective.Valid && e.EffectiveDate.Before(tailEffective.Time) {
			return dErrors.New(dErrors.CodeValidation,
				"effective date precedes the pair's latest entry; record an adjustment instead")
		}
		// Replay order ties on (effective_date, created_at); created_at must
		// be strictly increasing within a pair so replay reproduces append
		// order.
		if tailCreated.Valid && !e.CreatedAt.After(tailCreated.Time) {
			e.CreatedAt = tailCreated.Time.Add(time.Microsecond)
		}
	}

	e.RunningBalance = prev.Add(e.Amount)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (
			id, case_id, entry_type, obligor_id, obligee_id, amount,
			running_balance, obligation_id, adjusts_entry_id, description,
			effective_date, is_reconciled, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, e.ID.String(), e.CaseID.String(), e.Type.String(), e.ObligorID.String(),
		e.ObligeeID.String(), e.Amount, e.RunningBalance,
		nullableObligation(e.ObligationID), nullableEntry(e.AdjustsEntryID),
		e.Description, e.EffectiveDate, e.IsReconciled, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

const entryColumns = `
	id, case_id, entry_type, obligor_id, obligee_id, amount, running_balance,
	obligation_id, adjusts_entry_id, COALESCE(description, ''), effective_date,
	is_reconciled, created_at`

func (s *PostgresStore) runner(ctx context.Context) dbRunner {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// FindByID returns a single entry scoped to its case.
func (s *PostgresStore) FindByID(ctx context.Context, caseID id.CaseID, entryID id.EntryID) (*models.Entry, error) {
	entries, err := s.queryEntries(ctx, `SELECT`+entryColumns+`
		 FROM ledger_entries
		 WHERE case_id = $1 AND id = $2`, caseID.String(), entryID.String())
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, sentinel.ErrNotFound
	}
	return entries[0], nil
}

// ListByCase returns entries in replay order: (effective_date, created_at, id).
func (s *PostgresStore) ListByCase(ctx context.Context, caseID id.CaseID, limit, offset int) ([]*models.Entry, error) {
	query := `SELECT` + entryColumns + `
		 FROM ledger_entries
		 WHERE case_id = $1
		 ORDER BY effective_date, created_at, id`
	args := []any{caseID.String()}
	if limit > 0 {
		query += ` LIMIT $2 OFFSET $3`
		args = append(args, limit, offset)
	}
	return s.queryEntries(ctx, query, args...)
}

// ListByCaseRange returns entries effective within [start, end] in replay order.
func (s *PostgresStore) ListByCaseRange(ctx context.Context, caseID id.CaseID, start, end time.Time) ([]*models.Entry, error) {
	query := `SELECT` + entryColumns + `
		 FROM ledger_entries
		 WHERE case_id = $1 AND effective_date >= $2 AND effective_date <= $3
		 ORDER BY effective_date, created_at, id`
	return s.queryEntries(ctx, query, caseID.String(), start, end)
}

// LatestBalances returns the tail running balance per (obligor, obligee) pair.
func (s *PostgresStore) LatestBalances(ctx context.Context, caseID id.CaseID) (map[models.PairKey]decimal.Decimal, error) {
	rows, err := s.runner(ctx).QueryContext(ctx, `
		SELECT DISTINCT ON (obligor_id, obligee_id) obligor_id, obligee_id, running_balance
		FROM ledger_entries
		WHERE case_id = $1
		ORDER BY obligor_id, obligee_id, effective_date DESC, created_at DESC, id DESC
	`, caseID.String())
	if err != nil {
		return nil, fmt.Errorf("latest balances: %w", err)
	}
	defer rows.Close()

	out := make(map[models.PairKey]decimal.Decimal)
	for rows.Next() {
		var (
			obligorStr, obligeeStr string
			balance                decimal.Decimal
		)
		if err := rows.Scan(&obligorStr, &obligeeStr, &balance); err != nil {
			return nil, fmt.Errorf("scan latest balance: %w", err)
		}
		obligor, err := id.ParsePartyID(obligorStr)
		if err != nil {
			return nil, fmt.Errorf("parse obligor: %w", err)
		}
		obligee, err := id.ParsePartyID(obligeeStr)
		if err != nil {
			return nil, fmt.Errorf("parse obligee: %w", err)
		}
		out[models.PairKey{Obligor: obligor, Obligee: obligee}] = balance
	}
	return out, rows.Err()
}

// ListCaseIDs returns every case that has at least one entry, for the
// reconciliation job.
func (s *PostgresStore) ListCaseIDs(ctx context.Context) ([]id.CaseID, error) {
	rows, err := s.runner(ctx).QueryContext(ctx,
		`SELECT DISTINCT case_id FROM ledger_entries ORDER BY case_id`)
	if err != nil {
		return nil, fmt.Errorf("list case ids: %w", err)
	}
	defer rows.Close()

	var out []id.CaseID
	for rows.Next() {
		var caseStr string
		if err := rows.Scan(&caseStr); err != nil {
			return nil, fmt.Errorf("scan case id: %w", err)
		}
		caseID, err := id.ParseCaseID(caseStr)
		if err != nil {
			return nil, fmt.Errorf("parse case id: %w", err)
		}
		out = append(out, caseID)
	}
	return out, rows.Err()
}

// Freeze pauses writes for a case pending integrity resolution. Idempotent.
func (s *PostgresStore) Freeze(ctx context.Context, caseID id.CaseID, reason string) error {
	_, err := s.runner(ctx).ExecContext(ctx, `
		INSERT INTO case_freezes (case_id, reason, frozen_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (case_id) DO NOTHING
	`, caseID.String(), reason)
	if err != nil {
		return fmt.Errorf("freeze case: %w", err)
	}
	return nil
}

// IsFrozen reports whether writes for the case are paused.
func (s *PostgresStore) IsFrozen(ctx context.Context, caseID id.CaseID) (bool, error) {
	var frozen bool
	err := s.runner(ctx).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM case_freezes WHERE case_id = $1)`,
		caseID.String()).Scan(&frozen)
	if err != nil {
		return false, fmt.Errorf("check case freeze: %w", err)
	}
	return frozen, nil
}

func (s *PostgresStore) queryEntries(ctx context.Context, query string, args ...any) ([]*models.Entry, error) {
	rows, err := s.runner(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ledger entries: %w", err)
	}
	defer rows.Close()

	var out []*models.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullableObligation(o *id.ObligationID) any {
	if o == nil {
		return nil
	}
	return o.String()
}

func nullableEntry(e *id.EntryID) any {
	if e == nil {
		return nil
	}
	return e.String()
}

func scanEntry(rows *sql.Rows) (*models.Entry, error) {
	var (
		e                        models.Entry
		idStr, caseStr           string
		typeStr                  string
		obligorStr, obligeeStr   string
		obligationID, adjustsID  sql.NullString
	)
	err := rows.Scan(&idStr, &caseStr, &typeStr, &obligorStr, &obligeeStr,
		&e.Amount, &e.RunningBalance, &obligationID, &adjustsID,
		&e.Description, &e.EffectiveDate, &e.IsReconciled, &e.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan ledger entry: %w", err)
	}

	entryID, err := id.ParseEntryID(idStr)
	if err != nil {
		return nil, fmt.Errorf("parse entry id: %w", err)
	}
	e.ID = entryID
	caseID, err := id.ParseCaseID(caseStr)
	if err != nil {
		return nil, fmt.Errorf("parse entry case id: %w", err)
	}
	e.CaseID = caseID
	entryType, err := models.ParseEntryType(typeStr)
	if err != nil {
		return nil, err
	}
	e.Type = entryType
	obligor, err := id.ParsePartyID(obligorStr)
	if err != nil {
		return nil, fmt.Errorf("parse entry obligor: %w", err)
	}
	e.ObligorID = obligor
	obligee, err := id.ParsePartyID(obligeeStr)
	if err != nil {
		return nil, fmt.Errorf("parse entry obligee: %w", err)
	}
	e.ObligeeID = obligee
	if obligationID.Valid {
		oid, err := id.ParseObligationID(obligationID.String)
		if err != nil {
			return nil, fmt.Errorf("parse entry obligation ref: %w", err)
		}
		e.ObligationID = &oid
	}
	if adjustsID.Valid {
		adjID, err := id.ParseEntryID(adjustsID.String)
		if err != nil {
			return nil, fmt.Errorf("parse adjusts ref: %w", err)
		}
		e.AdjustsEntryID = &adjID
	}
	return &e, nil
}
