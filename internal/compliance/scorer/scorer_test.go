package scorer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"clearfund/internal/compliance/models"
	obligationmodels "clearfund/internal/obligation/models"
	obligationstore "clearfund/internal/obligation/store"
	"clearfund/internal/platform/config"
	id "clearfund/pkg/domain"
	"clearfund/pkg/requestcontext"
)

type staticFacts struct {
	schedule      ScheduleFacts
	communication CommunicationFacts
	items         ItemFacts
}

func (f staticFacts) Schedule(context.Context, id.CaseID, time.Time, time.Time) (ScheduleFacts, error) {
	return f.schedule, nil
}

func (f staticFacts) Communication(context.Context, id.CaseID, time.Time, time.Time) (CommunicationFacts, error) {
	return f.communication, nil
}

func (f staticFacts) Items(context.Context, id.CaseID, time.Time, time.Time) (ItemFacts, error) {
	return f.items, nil
}

type ScorerSuite struct {
	suite.Suite
	ctx         context.Context
	now         time.Time
	cfg         config.Compliance
	obligations *obligationstore.InMemoryStore
	caseID      id.CaseID
	party       id.PartyID
}

func TestScorerSuite(t *testing.T) {
	suite.Run(t, new(ScorerSuite))
}

func (s *ScorerSuite) SetupTest() {
	s.now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
	s.cfg = config.Compliance{
		ScheduleWeight:      0.25,
		CommunicationWeight: 0.25,
		FinancialWeight:     0.25,
		ItemWeight:          0.25,
		GreenThreshold:      85,
		AmberThreshold:      70,
		OverdueWeight:       10,
		DisputedWeight:      5,
		FlaggedWeight:       5,
		NeutralScore:        100,
		WindowDays:          30,
	}
	s.Require().NoError(s.cfg.Validate())
	s.obligations = obligationstore.NewInMemory()
	s.caseID = id.NewCaseID()
	s.party = id.NewPartyID()
}

func (s *ScorerSuite) addObligation(due time.Time) *obligationmodels.Obligation {
	o, err := obligationmodels.NewObligation(s.caseID, "Tutoring block", id.PurposeEducation,
		decimal.RequireFromString("100.00"), decimal.RequireFromString("50.00"), decimal.RequireFromString("50.00"),
		&due, false, false, s.party, s.now.AddDate(0, 0, -10))
	s.Require().NoError(err)
	s.Require().NoError(s.obligations.Create(s.ctx, o))
	return o
}

func (s *ScorerSuite) TestEmptyWindowScoresNeutralWithExplicitIssue() {
	scorer := New(s.cfg, s.obligations)

	snapshot, err := scorer.Snapshot(s.ctx, s.caseID, 0)
	s.Require().NoError(err)

	s.Equal(models.StatusGreen, snapshot.OverallStatus)
	s.InDelta(100, snapshot.OverallScore, 0.001)
	s.Equal(30, snapshot.DaysMonitored)
	for _, c := range snapshot.Categories() {
		s.Equal([]string{"insufficient data: no observations in window"}, c.Issues,
			"category %s", c.Category)
	}
}

func (s *ScorerSuite) TestDeterministicOutput() {
	scorer := New(s.cfg, s.obligations, WithFacts(staticFacts{
		schedule:      ScheduleFacts{TotalExchanges: 10, OnTime: 8, Late: 1, Missed: 1},
		communication: CommunicationFacts{TotalMessages: 40, FlaggedMessages: 2},
		items:         ItemFacts{TotalItems: 5, DisputedItems: 1},
	}))
	s.addObligation(s.now.AddDate(0, 0, -2))

	first, err := scorer.Snapshot(s.ctx, s.caseID, 30)
	s.Require().NoError(err)
	second, err := scorer.Snapshot(s.ctx, s.caseID, 30)
	s.Require().NoError(err)

	firstJSON, err := json.Marshal(first)
	s.Require().NoError(err)
	secondJSON, err := json.Marshal(second)
	s.Require().NoError(err)
	s.Equal(string(firstJSON), string(secondJSON))
}

func (s *ScorerSuite) TestOverduePenaltiesLowerFinancialScore() {
	scorer := New(s.cfg, s.obligations)
	s.addObligation(s.now.AddDate(0, 0, -5))
	s.addObligation(s.now.AddDate(0, 0, -3))

	snapshot, err := scorer.Snapshot(s.ctx, s.caseID, 30)
	s.Require().NoError(err)

	s.InDelta(80, snapshot.Financial.Score, 0.001)
	s.Equal(models.StatusAmber, snapshot.Financial.Status)
	s.Equal(2, snapshot.OverdueObligations)
	s.Equal([]string{"2 overdue obligations in window"}, snapshot.Financial.Issues)
}

func (s *ScorerSuite) TestScheduleScoreFromOnTimeRate() {
	scorer := New(s.cfg, s.obligations, WithFacts(staticFacts{
		schedule: ScheduleFacts{TotalExchanges: 10, OnTime: 6, Late: 2, Missed: 2},
	}))

	snapshot, err := scorer.Snapshot(s.ctx, s.caseID, 30)
	s.Require().NoError(err)

	s.InDelta(60, snapshot.Schedule.Score, 0.001)
	s.Equal(models.StatusRed, snapshot.Schedule.Status)
	s.InDelta(0.6, snapshot.OnTimeRate, 0.001)
	s.Equal([]string{
		"2 late exchanges in window",
		"2 missed exchanges in window",
	}, snapshot.Schedule.Issues)
}

func (s *ScorerSuite) TestOverallScoreIsWeightedSum() {
	scorer := New(s.cfg, s.obligations, WithFacts(staticFacts{
		schedule:      ScheduleFacts{TotalExchanges: 10, OnTime: 10},
		communication: CommunicationFacts{TotalMessages: 20, FlaggedMessages: 4},
		items:         ItemFacts{TotalItems: 4, DisputedItems: 2},
	}))
	s.addObligation(s.now.AddDate(0, 0, -1))

	snapshot, err := scorer.Snapshot(s.ctx, s.caseID, 30)
	s.Require().NoError(err)

	// schedule 100, communication 80, financial 100-10-10=80, item 90.
	s.InDelta(100, snapshot.Schedule.Score, 0.001)
	s.InDelta(80, snapshot.Communication.Score, 0.001)
	s.InDelta(80, snapshot.Financial.Score, 0.001)
	s.InDelta(90, snapshot.Item.Score, 0.001)
	s.InDelta(87.5, snapshot.OverallScore, 0.001)
	s.Equal(models.StatusGreen, snapshot.OverallStatus)
}

func (s *ScorerSuite) TestScoreClampedAtZero() {
	scorer := New(s.cfg, s.obligations, WithFacts(staticFacts{
		communication: CommunicationFacts{TotalMessages: 100, FlaggedMessages: 50},
	}))

	snapshot, err := scorer.Snapshot(s.ctx, s.caseID, 30)
	s.Require().NoError(err)

	s.InDelta(0, snapshot.Communication.Score, 0.001)
	s.Equal(models.StatusRed, snapshot.Communication.Status)
}
