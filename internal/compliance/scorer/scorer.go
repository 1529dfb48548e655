package scorer

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"clearfund/internal/compliance/models"
	obligationmodels "clearfund/internal/obligation/models"
	"clearfund/internal/platform/config"
	id "clearfund/pkg/domain"
	dErrors "clearfund/pkg/domain-errors"
	"clearfund/pkg/requestcontext"
)

// ScheduleFacts are exchange/visitation observations for a window, supplied by
// the scheduling subsystem.
type ScheduleFacts struct {
	TotalExchanges int
	OnTime         int
	Late           int
	Missed         int
}

// CommunicationFacts are message-moderation observations for a window.
type CommunicationFacts struct {
	TotalMessages   int
	FlaggedMessages int
}

// ItemFacts are shared-item exchange observations for a window.
type ItemFacts struct {
	TotalItems    int
	DisputedItems int
}

// FactsProvider supplies the non-financial category inputs. These subsystems
// live outside this service; the scorer treats their data as read-only facts.
type FactsProvider interface {
	Schedule(ctx context.Context, caseID id.CaseID, start, end time.Time) (ScheduleFacts, error)
	Communication(ctx context.Context, caseID id.CaseID, start, end time.Time) (CommunicationFacts, error)
	Items(ctx context.Context, caseID id.CaseID, start, end time.Time) (ItemFacts, error)
}

// ObligationReader supplies the financial category inputs.
type ObligationReader interface {
	ListAllByCase(ctx context.Context, caseID id.CaseID) ([]*obligationmodels.Obligation, error)
}

// NoFacts is the FactsProvider used when the collaborating subsystems are not
// wired; every category it feeds scores neutral with an insufficient-data
// issue.
type NoFacts struct{}

func (NoFacts) Schedule(context.Context, id.CaseID, time.Time, time.Time) (ScheduleFacts, error) {
	return ScheduleFacts{}, nil
}

func (NoFacts) Communication(context.Context, id.CaseID, time.Time, time.Time) (CommunicationFacts, error) {
	return CommunicationFacts{}, nil
}

func (NoFacts) Items(context.Context, id.CaseID, time.Time, time.Time) (ItemFacts, error) {
	return ItemFacts{}, nil
}

// Scorer derives compliance snapshots. It is a pure function of the window's
// facts and the configured weights; identical inputs yield identical
// snapshots, which report hashing depends on.
type Scorer struct {
	cfg         config.Compliance
	obligations ObligationReader
	facts       FactsProvider
	logger      *slog.Logger
}

// Option configures a Scorer.
type Option func(*Scorer)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scorer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithFacts(facts FactsProvider) Option {
	return func(s *Scorer) {
		if facts != nil {
			s.facts = facts
		}
	}
}

// New constructs a Scorer. The configuration must already be validated.
func New(cfg config.Compliance, obligations ObligationReader, opts ...Option) *Scorer {
	s := &Scorer{
		cfg:         cfg,
		obligations: obligations,
		facts:       NoFacts{},
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot scores a case over the trailing window. A non-positive days value
// falls back to the configured default window.
func (s *Scorer) Snapshot(ctx context.Context, caseID id.CaseID, days int) (*models.Snapshot, error) {
	if days <= 0 {
		days = s.cfg.WindowDays
	}
	end := requestcontext.Now(ctx)
	start := end.AddDate(0, 0, -days)

	schedule, err := s.facts.Schedule(ctx, caseID, start, end)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load schedule facts")
	}
	communication, err := s.facts.Communication(ctx, caseID, start, end)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load communication facts")
	}
	items, err := s.facts.Items(ctx, caseID, start, end)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load item facts")
	}
	financial, err := s.financialFacts(ctx, caseID, start, end)
	if err != nil {
		return nil, err
	}

	snapshot := &models.Snapshot{
		CaseID:        caseID,
		GeneratedAt:   end,
		WindowStart:   start,
		WindowEnd:     end,
		Schedule:      s.scoreSchedule(schedule),
		Communication: s.scoreCommunication(communication),
		Financial:     s.scoreFinancial(financial, items),
		Item:          s.scoreItems(items),

		DaysMonitored:        days,
		TotalExchanges:       schedule.TotalExchanges,
		FlaggedMessagesCount: communication.FlaggedMessages,
		OverdueObligations:   financial.overdue,
		DisputedItems:        items.DisputedItems,
	}
	if schedule.TotalExchanges > 0 {
		snapshot.OnTimeRate = float64(schedule.OnTime) / float64(schedule.TotalExchanges)
	}

	snapshot.OverallScore = round2(snapshot.Schedule.Score*s.cfg.ScheduleWeight +
		snapshot.Communication.Score*s.cfg.CommunicationWeight +
		snapshot.Financial.Score*s.cfg.FinancialWeight +
		snapshot.Item.Score*s.cfg.ItemWeight)
	snapshot.OverallStatus = s.statusFor(snapshot.OverallScore)

	return snapshot, nil
}

type financialFacts struct {
	total           int
	completedOnTime int
	overdue         int
}

// financialFacts counts obligations whose lifecycle touches the window: due or
// created within it.
func (s *Scorer) financialFacts(ctx context.Context, caseID id.CaseID, start, end time.Time) (financialFacts, error) {
	obligations, err := s.obligations.ListAllByCase(ctx, caseID)
	if err != nil {
		return financialFacts{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load case obligations")
	}

	var facts financialFacts
	for _, o := range obligations {
		inWindow := !o.CreatedAt.Before(start) && !o.CreatedAt.After(end)
		if o.DueDate != nil && !o.DueDate.Before(start) && !o.DueDate.After(end) {
			inWindow = true
		}
		if !inWindow {
			continue
		}
		facts.total++
		if o.IsOverdue(end) {
			facts.overdue++
		}
		if o.Status == obligationmodels.StatusCompleted && o.CompletedAt != nil &&
			(o.DueDate == nil || !o.CompletedAt.After(*o.DueDate)) {
			facts.completedOnTime++
		}
	}
	return facts, nil
}

func (s *Scorer) scoreSchedule(facts ScheduleFacts) models.CategoryCompliance {
	c := models.CategoryCompliance{
		Category: models.CategorySchedule,
		Metrics: []models.Metric{
			{Name: "total_exchanges", Value: float64(facts.TotalExchanges)},
			{Name: "on_time", Value: float64(facts.OnTime)},
			{Name: "late", Value: float64(facts.Late)},
			{Name: "missed", Value: float64(facts.Missed)},
		},
	}
	if facts.TotalExchanges == 0 {
		return s.neutral(c)
	}

	c.Score = clamp(100 * float64(facts.OnTime) / float64(facts.TotalExchanges))
	if facts.Late > 0 {
		c.Issues = append(c.Issues, fmt.Sprintf("%d late exchanges in window", facts.Late))
	}
	if facts.Missed > 0 {
		c.Issues = append(c.Issues, fmt.Sprintf("%d missed exchanges in window", facts.Missed))
	}
	c.Status = s.statusFor(c.Score)
	return c
}

func (s *Scorer) scoreCommunication(facts CommunicationFacts) models.CategoryCompliance {
	c := models.CategoryCompliance{
		Category: models.CategoryCommunication,
		Metrics: []models.Metric{
			{Name: "total_messages", Value: float64(facts.TotalMessages)},
			{Name: "flagged_messages", Value: float64(facts.FlaggedMessages)},
		},
	}
	if facts.TotalMessages == 0 {
		return s.neutral(c)
	}

	c.Score = clamp(100 - float64(facts.FlaggedMessages)*s.cfg.FlaggedWeight)
	if facts.FlaggedMessages > 0 {
		c.Issues = append(c.Issues, fmt.Sprintf("%d flagged messages in window", facts.FlaggedMessages))
	}
	c.Status = s.statusFor(c.Score)
	return c
}

func (s *Scorer) scoreFinancial(facts financialFacts, items ItemFacts) models.CategoryCompliance {
	c := models.CategoryCompliance{
		Category: models.CategoryFinancial,
		Metrics: []models.Metric{
			{Name: "obligations_in_window", Value: float64(facts.total)},
			{Name: "completed_on_time", Value: float64(facts.completedOnTime)},
			{Name: "overdue", Value: float64(facts.overdue)},
			{Name: "disputed", Value: float64(items.DisputedItems)},
		},
	}
	if facts.total == 0 {
		return s.neutral(c)
	}

	c.Score = clamp(100 -
		float64(facts.overdue)*s.cfg.OverdueWeight -
		float64(items.DisputedItems)*s.cfg.DisputedWeight)
	if facts.overdue > 0 {
		c.Issues = append(c.Issues, fmt.Sprintf("%d overdue obligations in window", facts.overdue))
	}
	if items.DisputedItems > 0 {
		c.Issues = append(c.Issues, fmt.Sprintf("%d disputed items in window", items.DisputedItems))
	}
	c.Status = s.statusFor(c.Score)
	return c
}

func (s *Scorer) scoreItems(facts ItemFacts) models.CategoryCompliance {
	c := models.CategoryCompliance{
		Category: models.CategoryItem,
		Metrics: []models.Metric{
			{Name: "total_items", Value: float64(facts.TotalItems)},
			{Name: "disputed_items", Value: float64(facts.DisputedItems)},
		},
	}
	if facts.TotalItems == 0 {
		return s.neutral(c)
	}

	c.Score = clamp(100 - float64(facts.DisputedItems)*s.cfg.DisputedWeight)
	if facts.DisputedItems > 0 {
		c.Issues = append(c.Issues, fmt.Sprintf("%d disputed items in window", facts.DisputedItems))
	}
	c.Status = s.statusFor(c.Score)
	return c
}

// neutral applies the configured no-observations default. The insufficient
// data issue is explicit so a green snapshot over an empty window cannot be
// mistaken for a clean record.
func (s *Scorer) neutral(c models.CategoryCompliance) models.CategoryCompliance {
	c.Score = s.cfg.NeutralScore
	c.Status = s.statusFor(c.Score)
	c.Issues = append(c.Issues, "insufficient data: no observations in window")
	return c
}

func (s *Scorer) statusFor(score float64) models.Status {
	switch {
	case score >= s.cfg.GreenThreshold:
		return models.StatusGreen
	case score >= s.cfg.AmberThreshold:
		return models.StatusAmber
	default:
		return models.StatusRed
	}
}

func clamp(score float64) float64 {
	return math.Max(0, math.Min(100, score))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
