package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"clearfund/internal/report/models"
	id "clearfund/pkg/domain"
	"clearfund/pkg/platform/sentinel"
	txcontext "clearfund/pkg/platform/tx"
)

// PostgresStore persists reports. All methods join a transaction carried by
// the context when one is present.
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

const reportColumns = `
	id, case_id, generated_by, report_number, report_type, title,
	date_range_start, date_range_end, sections_included, page_count,
	content_hash, download_count, COALESCE(purpose, ''), generated_at, expires_at`

// Create persists a report. A report_number collision surfaces as ErrConflict
// so the generator retries with a fresh suffix.
func (s *PostgresStore) Create(ctx context.Context, r *models.Report) error {
	sections := make([]string, len(r.SectionsIncluded))
	for i, sec := range r.SectionsIncluded {
		sections[i] = string(sec)
	}

	_, err := s.runner(ctx).ExecContext(ctx, `
		INSERT INTO reports (
			id, case_id, generated_by, report_number, report_type, title,
			date_range_start, date_range_end, sections_included, page_count,
			content_hash, download_count, purpose, generated_at, expires_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,NULLIF($13,''),$14,$15)
	`, r.ID.String(), r.CaseID.String(), r.GeneratedBy.String(), r.ReportNumber,
		string(r.Type), r.Title, r.DateRangeStart, r.DateRangeEnd,
		pq.Array(sections), r.PageCount, r.ContentHash, r.DownloadCount,
		r.Purpose, r.GeneratedAt, r.ExpiresAt)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create report: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, reportID id.ReportID) (*models.Report, error) {
	row := s.runner(ctx).QueryRowContext(ctx, `SELECT`+reportColumns+`
		 FROM reports
		 WHERE id = $1`, reportID.String())
	return scanReport(row)
}

func (s *PostgresStore) FindByNumber(ctx context.Context, number string) (*models.Report, error) {
	row := s.runner(ctx).QueryRowContext(ctx, `SELECT`+reportColumns+`
		 FROM reports
		 WHERE report_number = $1`, number)
	return scanReport(row)
}

// ListByCase returns a case's reports newest first.
func (s *PostgresStore) ListByCase(ctx context.Context, caseID id.CaseID) ([]*models.Report, error) {
	rows, err := s.runner(ctx).QueryContext(ctx, `SELECT`+reportColumns+`
		 FROM reports
		 WHERE case_id = $1
		 ORDER BY generated_at DESC, report_number DESC`, caseID.String())
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	var out []*models.Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// IncrementDownload bumps the download counter and returns the new value.
func (s *PostgresStore) IncrementDownload(ctx context.Context, reportID id.ReportID) (int, error) {
	var count int
	err := s.runner(ctx).QueryRowContext(ctx, `
		UPDATE reports
		SET download_count = download_count + 1
		WHERE id = $1
		RETURNING download_count
	`, reportID.String()).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, sentinel.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("increment download: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReport(row rowScanner) (*models.Report, error) {
	var (
		r                              models.Report
		idStr, caseStr, byStr, typeStr string
		sections                       pq.StringArray
		expiresAt                      sql.NullTime
	)
	err := row.Scan(&idStr, &caseStr, &byStr, &r.ReportNumber, &typeStr, &r.Title,
		&r.DateRangeStart, &r.DateRangeEnd, &sections, &r.PageCount,
		&r.ContentHash, &r.DownloadCount, &r.Purpose, &r.GeneratedAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan report: %w", err)
	}

	if r.ID, err = id.ParseReportID(idStr); err != nil {
		return nil, fmt.Errorf("parse report id: %w", err)
	}
	if r.CaseID, err = id.ParseCaseID(caseStr); err != nil {
		return nil, fmt.Errorf("parse case id: %w", err)
	}
	if r.GeneratedBy, err = id.ParsePartyID(byStr); err != nil {
		return nil, fmt.Errorf("parse generated_by: %w", err)
	}
	if r.Type, err = models.ParseReportType(typeStr); err != nil {
		return nil, err
	}
	r.SectionsIncluded = make([]models.Section, len(sections))
	for i, sec := range sections {
		r.SectionsIncluded[i] = models.Section(sec)
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		r.ExpiresAt = &t
	}
	return &r, nil
}

// isUniqueViolation matches SQLSTATE 23505 from both Postgres drivers in use:
// lib/pq and the pgx stdlib driver the server opens its pool with.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.SQLState() == "23505"
}
