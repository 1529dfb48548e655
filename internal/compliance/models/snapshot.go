package models

import (
	"time"

	id "clearfund/pkg/domain"
)

// Status is the traffic-light compliance rating.
type Status string

const (
	StatusGreen Status = "green"
	StatusAmber Status = "amber"
	StatusRed   Status = "red"
)

// Category names the four scored dimensions.
type Category string

const (
	CategorySchedule      Category = "schedule"
	CategoryCommunication Category = "communication"
	CategoryFinancial     Category = "financial"
	CategoryItem          Category = "item"
)

// Metric is a named numeric fact that fed a category score. Facts are kept as
// an ordered slice so snapshot serialization is reproducible.
type Metric struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// CategoryCompliance is one scored dimension of a snapshot.
//
// Invariant: Issues are derived deterministically from Metrics; identical
// inputs produce an identical ordered list.
type CategoryCompliance struct {
	Category Category `json:"category"`
	Status   Status   `json:"status"`
	Score    float64  `json:"score"`
	Metrics  []Metric `json:"metrics"`
	Issues   []string `json:"issues"`
}

// Snapshot is the derived compliance view of a case over a rolling window.
// It is computed on demand and never persisted as ground truth.
type Snapshot struct {
	CaseID      id.CaseID `json:"case_id"`
	GeneratedAt time.Time `json:"generated_at"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`

	Schedule      CategoryCompliance `json:"schedule"`
	Communication CategoryCompliance `json:"communication"`
	Financial     CategoryCompliance `json:"financial"`
	Item          CategoryCompliance `json:"item"`

	OverallScore  float64 `json:"overall_score"`
	OverallStatus Status  `json:"overall_status"`

	DaysMonitored        int     `json:"days_monitored"`
	TotalExchanges       int     `json:"total_exchanges"`
	OnTimeRate           float64 `json:"on_time_rate"`
	FlaggedMessagesCount int     `json:"flagged_messages_count"`
	OverdueObligations   int     `json:"overdue_obligations"`
	DisputedItems        int     `json:"disputed_items"`

	Trend string `json:"trend,omitempty"`
}

// Categories returns the four scored dimensions in their fixed order.
func (s *Snapshot) Categories() []CategoryCompliance {
	return []CategoryCompliance{s.Schedule, s.Communication, s.Financial, s.Item}
}
