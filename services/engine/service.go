package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"rewardplane/pkg/errutil"
	"rewardplane/pkg/task"
	"rewardplane/services/authority"
	"rewardplane/services/balance"
	"rewardplane/services/event"
	"rewardplane/services/ledger"
	"rewardplane/services/reward"
	"rewardplane/services/rule"
)

var (
	ErrActionBlocked        = errors.New("action blocked by role authority")
	ErrConfirmationRequired = errors.New("action requires user confirmation")
)

type Service struct {
	db        *gorm.DB
	stats     StatsProvider
	rules     *rule.Service
	ledger    *ledger.Service
	balance   *balance.Service
	authority *authority.Service
	enqueuer  task.Enqueuer
}

type ServiceParams struct {
	fx.In
	DB        *gorm.DB
	Stats     StatsProvider
	Rules     *rule.Service
	Ledger    *ledger.Service
	Balance   *balance.Service
	Authority *authority.Service
	Enqueuer  task.Enqueuer `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:        p.DB,
		stats:     p.Stats,
		rules:     p.Rules,
		ledger:    p.Ledger,
		balance:   p.Balance,
		authority: p.Authority,
		enqueuer:  p.Enqueuer,
	}
}

// SubmitEvent runs the whole intake pipeline: normalize, compute, apply
// promos, append to the ledger, credit pending, evaluate the settlement
// signal. Re-delivered events return the originally stored breakdown and
// credit nothing.
func (s *Service) SubmitEvent(ctx context.Context, sub event.Submission) (*reward.Breakdown, error) {
	span := trace.SpanFromContext(ctx)
	opts := []zap.Field{
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("user_id", sub.UserID),
		zap.String("event_type", sub.EventType),
		zap.String("idempotency_key", sub.IdempotencyKey),
	}

	ev, err := event.Normalize(sub)
	if err != nil {
		return nil, err
	}

	if ev.Type == event.TypeUnknown {
		zap.L().With(opts...).Warn("unknown event type earns nothing", zap.String("raw_type", ev.RawType))
	}

	streak, err := s.stats.StreakDays(ctx, ev.UserID)
	if err != nil {
		zap.L().With(opts...).Warn("streak lookup failed, using zero", zap.Error(err))
		streak = 0
	}
	sessions, err := s.stats.SessionsThisWeek(ctx, ev.UserID)
	if err != nil {
		zap.L().With(opts...).Warn("session count lookup failed, using zero", zap.Error(err))
		sessions = 0
	}

	breakdown := reward.Compute(ev, streak, sessions)
	for _, bonus := range s.rules.EligibleBonuses(ctx, ev.Attributes()) {
		breakdown.ApplyPromo(bonus.Name, bonus.Rate)
	}

	if breakdown.Total.IsZero() {
		return &breakdown, nil
	}

	breakdownJSON, err := json.Marshal(breakdown)
	if err != nil {
		return nil, err
	}

	// entry and credit commit together: a reward can never exist in the
	// ledger without its pending credit, or vice versa
	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.ledger.WithTrx(tx).Append(ctx, ledger.AppendParams{
			UserID:         ev.UserID,
			IdempotencyKey: ev.IdempotencyKey,
			EventType:      ev.Type.String(),
			Amount:         breakdown.Total,
			Breakdown:      breakdownJSON,
			Description:    fmt.Sprintf("reward for %s", ev.Type.String()),
		}); err != nil {
			return err
		}
		return s.balance.WithTrx(tx).CreditPending(ctx, ev.UserID, breakdown.Total)
	}); err != nil {
		if errors.Is(err, ledger.ErrDuplicateIdempotencyKey) {
			return s.storedBreakdown(ctx, ev.UserID, ev.IdempotencyKey)
		}
		zap.L().With(opts...).Error("failed to apply reward", zap.Error(err))
		return nil, err
	}

	s.signalSettlement(ctx, ev.UserID, opts)

	return &breakdown, nil
}

// storedBreakdown replays the breakdown persisted with the original ledger
// entry for a duplicate submission.
func (s *Service) storedBreakdown(ctx context.Context, userID, key string) (*reward.Breakdown, error) {
	entry, err := s.ledger.FindByIdempotencyKey(ctx, userID, key)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, errutil.Internal("duplicate entry disappeared", nil)
	}

	var breakdown reward.Breakdown
	if len(entry.Breakdown) > 0 {
		if err := json.Unmarshal(entry.Breakdown, &breakdown); err != nil {
			return nil, err
		}
	} else {
		breakdown.Total = entry.Amount
	}
	return &breakdown, nil
}

func (s *Service) signalSettlement(ctx context.Context, userID string, opts []zap.Field) {
	eligible, err := s.balance.IsSettlementEligible(ctx, userID)
	if err != nil {
		zap.L().With(opts...).Warn("settlement eligibility check failed", zap.Error(err))
		return
	}
	if !eligible || s.enqueuer == nil {
		return
	}

	t, err := NewSettlementCheckTask(SettlementCheckPayload{UserID: userID})
	if err != nil {
		zap.L().With(opts...).Warn("failed to build settlement task", zap.Error(err))
		return
	}
	if _, err := s.enqueuer.Enqueue(t); err != nil {
		zap.L().With(opts...).Warn("failed to enqueue settlement check", zap.Error(err))
	}
}

type PaidActionParams struct {
	UserID         string
	ActionID       string
	Cost           decimal.Decimal
	IdempotencyKey string
	Confirmed      bool
	Execute        func(ctx context.Context) error
}

// ExecutePaidAction gates an autonomous action behind the role authority,
// charges for it, and refunds on downstream failure.
func (s *Service) ExecutePaidAction(ctx context.Context, p PaidActionParams) error {
	decision, err := s.authority.CheckAction(ctx, p.UserID, p.ActionID)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		return errutil.Forbidden(decision.BlockedReason, ErrActionBlocked)
	}
	if decision.RequiresConfirmation && !p.Confirmed {
		return errutil.Forbidden("action requires user confirmation", ErrConfirmationRequired)
	}

	charged := p.Cost.IsPositive()
	if charged {
		if err := s.balance.Debit(ctx, balance.DebitParams{
			UserID:         p.UserID,
			Amount:         p.Cost,
			Reason:         fmt.Sprintf("execute %s", p.ActionID),
			IdempotencyKey: p.IdempotencyKey,
		}); err != nil {
			if !errors.Is(err, ledger.ErrDuplicateIdempotencyKey) {
				return err
			}
			// retried request; the original charge stands
		}
	}

	if p.Execute == nil {
		return nil
	}

	if err := p.Execute(ctx); err != nil {
		if charged {
			if refundErr := s.balance.Refund(ctx, balance.DebitParams{
				UserID:         p.UserID,
				Amount:         p.Cost,
				Reason:         fmt.Sprintf("refund failed %s", p.ActionID),
				IdempotencyKey: p.IdempotencyKey + ":refund",
			}); refundErr != nil {
				zap.L().Error("refund after failed action also failed",
					zap.String("user_id", p.UserID),
					zap.String("action_id", p.ActionID),
					zap.Error(refundErr),
				)
			}
		}
		return fmt.Errorf("action %s failed: %w", p.ActionID, err)
	}

	return nil
}
