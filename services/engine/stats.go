package engine

import (
	"context"
	"time"

	"go.uber.org/fx"
	"gorm.io/gorm"

	"rewardplane/services/event"
	"rewardplane/services/ledger"
)

// StatsProvider supplies the consistency inputs for reward computation. The
// session tracker is an external collaborator; deployments that have one plug
// it in here.
type StatsProvider interface {
	StreakDays(ctx context.Context, userID string) (int, error)
	SessionsThisWeek(ctx context.Context, userID string) (int, error)
}

// streak lookback window; a streak longer than this is capped anyway
const streakLookback = 60 * 24 * time.Hour

// ledgerStats derives both inputs from the user's own ledger history.
type ledgerStats struct {
	ledger *ledger.Service

	now func() time.Time
}

type LedgerStatsParams struct {
	fx.In
	DB     *gorm.DB
	Ledger *ledger.Service
}

func NewLedgerStats(p LedgerStatsParams) StatsProvider {
	return &ledgerStats{ledger: p.Ledger, now: time.Now}
}

// StreakDays counts the run of consecutive active days ending today or
// yesterday. A run ending yesterday still counts: the event being processed
// extends it.
func (s *ledgerStats) StreakDays(ctx context.Context, userID string) (int, error) {
	now := s.now().UTC()
	days, err := s.ledger.ActiveDays(ctx, userID, now.Add(-streakLookback))
	if err != nil {
		return 0, err
	}
	if len(days) == 0 {
		return 0, nil
	}

	today := now.Truncate(24 * time.Hour)
	expect := today
	if !days[0].Equal(today) {
		expect = today.Add(-24 * time.Hour)
		if !days[0].Equal(expect) {
			return 0, nil
		}
	}

	streak := 0
	for _, day := range days {
		if !day.Equal(expect) {
			break
		}
		streak++
		expect = expect.Add(-24 * time.Hour)
	}
	return streak, nil
}

func (s *ledgerStats) SessionsThisWeek(ctx context.Context, userID string) (int, error) {
	since := s.now().UTC().Add(-7 * 24 * time.Hour)
	count, err := s.ledger.CountSince(ctx, userID, event.TypeFocusSession.String(), since)
	return int(count), err
}
