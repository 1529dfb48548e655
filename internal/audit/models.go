package audit

import (
	"time"

	id "clearfund/pkg/domain"
)

// Event is emitted from domain logic to capture key actions on a case. Keep it
// transport-agnostic so the store and the Kafka sink can fan out.
type Event struct {
	Timestamp time.Time       `json:"timestamp"`
	CaseID    id.CaseID       `json:"case_id"`
	ActorID   id.PartyID      `json:"actor_id"`
	Subject   string          `json:"subject"` // obligation/report/entry identifier the action concerns
	Action    string          `json:"action"`
	Amount    string          `json:"amount,omitempty"` // decimal string when money is involved
	Reason    string          `json:"reason,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
}

// AuditEvent names the actions recorded on the trail. Obligation lifecycle and
// ledger integrity events carry legal significance and feed the compliance
// retention pipeline.
type AuditEvent string

const (
	// Obligation lifecycle events
	EventObligationCreated   AuditEvent = "obligation_created"
	EventObligationFunded    AuditEvent = "obligation_funded"
	EventObligationVerified  AuditEvent = "obligation_verified"
	EventObligationCompleted AuditEvent = "obligation_completed"
	EventObligationCancelled AuditEvent = "obligation_cancelled"

	// Ledger integrity events
	EventIntegrityDivergence AuditEvent = "integrity_divergence_detected"
	EventCaseWritesFrozen    AuditEvent = "case_writes_frozen"

	// Report events
	EventReportGenerated  AuditEvent = "report_generated"
	EventReportDownloaded AuditEvent = "report_downloaded"
)
