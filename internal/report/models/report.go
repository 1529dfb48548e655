package models

import (
	"encoding/json"
	"strings"
	"time"

	id "clearfund/pkg/domain"
	dErrors "clearfund/pkg/domain-errors"
)

// ReportType names the court-facing report layouts.
type ReportType string

const (
	TypeComplianceSummary  ReportType = "compliance_summary"
	TypeFinancialStatement ReportType = "financial_statement"
	TypeFullRecord         ReportType = "full_record"
)

var validReportTypes = map[ReportType]bool{
	TypeComplianceSummary:  true,
	TypeFinancialStatement: true,
	TypeFullRecord:         true,
}

// ParseReportType constructs a ReportType from external input.
func ParseReportType(s string) (ReportType, error) {
	t := ReportType(s)
	if !validReportTypes[t] {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid report type")
	}
	return t, nil
}

// Section names the data sections a report may include.
type Section string

const (
	SectionObligations Section = "obligations"
	SectionLedger      Section = "ledger"
	SectionBalance     Section = "balance"
	SectionCompliance  Section = "compliance"
)

// AllSections is the allowed set in its canonical order. Section order is part
// of the canonical content, so it is fixed here rather than taken from input
// order.
var AllSections = []Section{SectionObligations, SectionLedger, SectionBalance, SectionCompliance}

// NormalizeSections validates the requested sections against the allowed set
// and returns them in canonical order with duplicates removed. An empty
// request means all sections.
func NormalizeSections(requested []string) ([]Section, error) {
	if len(requested) == 0 {
		out := make([]Section, len(AllSections))
		copy(out, AllSections)
		return out, nil
	}
	want := make(map[Section]bool, len(requested))
	for _, raw := range requested {
		s := Section(strings.TrimSpace(raw))
		switch s {
		case SectionObligations, SectionLedger, SectionBalance, SectionCompliance:
			want[s] = true
		default:
			return nil, dErrors.Newf(dErrors.CodeValidation, "unknown report section %q", raw)
		}
	}
	var out []Section
	for _, s := range AllSections {
		if want[s] {
			out = append(out, s)
		}
	}
	return out, nil
}

// Report is an immutable, content-addressed case snapshot for court use.
//
// Invariant: ContentHash is computed once at generation over the canonical
// serialization of the included sections and never recomputed. Download only
// increments DownloadCount; every other field is frozen at generation.
type Report struct {
	ID           id.ReportID `json:"id"`
	CaseID       id.CaseID   `json:"case_id"`
	GeneratedBy  id.PartyID  `json:"generated_by"`
	ReportNumber string      `json:"report_number"`
	Type         ReportType  `json:"report_type"`
	Title        string      `json:"title"`

	DateRangeStart   time.Time `json:"date_range_start"`
	DateRangeEnd     time.Time `json:"date_range_end"`
	SectionsIncluded []Section `json:"sections_included"`
	PageCount        int       `json:"page_count"`

	ContentHash   string `json:"content_hash"`
	DownloadCount int    `json:"download_count"`
	Purpose       string `json:"purpose,omitempty"`

	GeneratedAt time.Time  `json:"generated_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// IsExpired is derived, never stored.
func (r *Report) IsExpired(now time.Time) bool {
	return r.ExpiresAt != nil && r.ExpiresAt.Before(now)
}

// MarshalJSON adds the derived is_expired field so consumers read expiry from
// the payload instead of recomputing it against their own clock. Evaluated at
// serialization time; content hashing serializes section payloads, never the
// Report itself.
func (r Report) MarshalJSON() ([]byte, error) {
	type report Report
	return json.Marshal(struct {
		report
		IsExpired bool `json:"is_expired"`
	}{report(r), r.IsExpired(time.Now().UTC())})
}

// GenerateRequest carries the inputs for report generation. Party IDs are
// needed for the balance section; they come from the case scope.
type GenerateRequest struct {
	CaseID       id.CaseID
	PetitionerID id.PartyID
	RespondentID id.PartyID
	GeneratedBy  id.PartyID
	Type         ReportType
	Title        string
	Purpose      string
	RangeStart   time.Time
	RangeEnd     time.Time
	Sections     []string
}

// Validate rejects malformed generation requests before any read.
func (r *GenerateRequest) Validate() error {
	if r.CaseID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "case id is required")
	}
	if r.PetitionerID.IsNil() || r.RespondentID.IsNil() || r.PetitionerID == r.RespondentID {
		return dErrors.New(dErrors.CodeValidation, "two distinct case parties are required")
	}
	if r.GeneratedBy.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "generated_by is required")
	}
	if !validReportTypes[r.Type] {
		return dErrors.New(dErrors.CodeValidation, "invalid report type")
	}
	if r.RangeStart.IsZero() || r.RangeEnd.IsZero() || r.RangeEnd.Before(r.RangeStart) {
		return dErrors.New(dErrors.CodeValidation, "date range start must not exceed end")
	}
	return nil
}

// VerificationResult is the court-side existence check for a report number.
// An unknown number is a negative result, not an error.
type VerificationResult struct {
	ReportNumber string      `json:"report_number"`
	IsValid      bool        `json:"is_valid"`
	GeneratedAt  *time.Time  `json:"generated_at,omitempty"`
	GeneratedBy  *id.PartyID `json:"generated_by,omitempty"`
	ContentHash  string      `json:"content_hash,omitempty"`
	Type         ReportType  `json:"report_type,omitempty"`
}
