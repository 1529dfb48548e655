package audit

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	id "clearfund/pkg/domain"
	txcontext "clearfund/pkg/platform/tx"
)

// PostgresStore persists audit events. When the caller's context carries a
// transaction (obligation funding and its audit entry), the append joins it so
// the trail never records an action that was rolled back.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	query := `
		INSERT INTO audit_events (id, case_id, actor_id, subject, action, amount, reason, request_id, occurred_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), $9)
	`
	var actorID any
	if !event.ActorID.IsNil() {
		actorID = event.ActorID.String()
	}
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.New(), event.CaseID.String(), actorID, event.Subject, event.Action,
		event.Amount, event.Reason, event.RequestID, event.Timestamp)
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByCase(ctx context.Context, caseID id.CaseID) ([]Event, error) {
	query := `
		SELECT case_id, COALESCE(actor_id::text, ''), subject, action,
		       COALESCE(amount, ''), COALESCE(reason, ''), COALESCE(request_id, ''), occurred_at
		FROM audit_events
		WHERE case_id = $1
		ORDER BY occurred_at, id
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, caseID.String())
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			event            Event
			caseStr, actor   string
		)
		if err := rows.Scan(&caseStr, &actor, &event.Subject, &event.Action,
			&event.Amount, &event.Reason, &event.RequestID, &event.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		cid, err := id.ParseCaseID(caseStr)
		if err != nil {
			return nil, fmt.Errorf("parse audit case id: %w", err)
		}
		event.CaseID = cid
		if actor != "" {
			pid, err := id.ParsePartyID(actor)
			if err != nil {
				return nil, fmt.Errorf("parse audit actor id: %w", err)
			}
			event.ActorID = pid
		}
		events = append(events, event)
	}
	return events, rows.Err()
}
