package engine

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"rewardplane/pkg/task"
	"rewardplane/services/balance"
)

// Sweeper enqueues a settlement re-check for every eligible user once a day.
// It backstops the synchronous signal emitted at credit time.
type Sweeper struct {
	balance  *balance.Service
	enqueuer task.Enqueuer
	done     chan struct{}
}

func NewSweeper(balanceSvc *balance.Service, enqueuer task.Enqueuer) *Sweeper {
	return &Sweeper{balance: balanceSvc, enqueuer: enqueuer, done: make(chan struct{})}
}

func StartSweeper(lc fx.Lifecycle, s *Sweeper) {
	// the loop outlives startup, so it must not inherit the OnStart context:
	// fx cancels that as soon as the app finishes starting
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go s.run(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.done)
	zap.L().Info("[Sweeper] started settlement sweep scheduler")

	for {
		now := time.Now()
		next := nextRunTime(now, 2, 0)

		sleepDuration := next.Sub(now)
		zap.L().Info("[Sweeper] next run scheduled",
			zap.Time("next_run", next),
			zap.Duration("sleep_for", sleepDuration),
		)
		select {
		case <-time.After(sleepDuration):
			s.runDaily(ctx)
		case <-ctx.Done():
			zap.L().Warn("[Sweeper] stopped")
			return
		}
	}
}

func (s *Sweeper) runDaily(ctx context.Context) {
	start := time.Now()
	zap.L().Info("[Sweeper] running daily settlement sweep")

	userIDs, err := s.balance.EligibleUserIDs(ctx)
	if err != nil {
		zap.L().Error("[Sweeper] failed to list eligible users", zap.Error(err))
		return
	}

	enqueued := 0
	for _, userID := range userIDs {
		t, err := NewSettlementCheckTask(SettlementCheckPayload{UserID: userID})
		if err != nil {
			zap.L().Error("[Sweeper] failed to build task", zap.String("user_id", userID), zap.Error(err))
			continue
		}
		if _, err := s.enqueuer.Enqueue(t); err != nil {
			zap.L().Error("[Sweeper] failed to enqueue", zap.String("user_id", userID), zap.Error(err))
			continue
		}
		enqueued++
	}

	zap.L().Info("[Sweeper] finished settlement sweep",
		zap.Int("eligible", len(userIDs)),
		zap.Int("enqueued", enqueued),
		zap.Duration("duration", time.Since(start)),
	)
}

func nextRunTime(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if now.After(next) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
