package balance

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"rewardplane/pkg/config"
	"rewardplane/pkg/db"
	"rewardplane/pkg/errutil"
	"rewardplane/pkg/repository"
	"rewardplane/services/ledger"
)

var (
	ErrInsufficientPending   = errors.New("insufficient pending balance")
	ErrInsufficientAvailable = errors.New("insufficient available balance")
	ErrInsufficientStaked    = errors.New("insufficient staked balance")
	ErrUpdateConflict        = errors.New("balance update contention")
)

// upsert race budget for CreditPending on a user's first reward
const maxUpsertAttempts = 3

type Service struct {
	db        *gorm.DB
	balances  repository.Repository[Balance]
	ledger    *ledger.Service
	threshold decimal.Decimal
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Config *config.Config
	Ledger *ledger.Service
}

func NewService(p ServiceParams) *Service {
	threshold, err := decimal.NewFromString(p.Config.Reward.SettlementThreshold)
	if err != nil {
		zap.L().Warn("invalid REWARD.SETTLEMENT_THRESHOLD, falling back to 25.00",
			zap.String("value", p.Config.Reward.SettlementThreshold))
		threshold = decimal.RequireFromString("25.00")
	}

	return &Service{
		db:        p.DB,
		balances:  repository.ProvideStore[Balance](p.DB),
		ledger:    p.Ledger,
		threshold: threshold,
	}
}

// WithTrx returns a copy of the service bound to tx, so credits and debits
// land inside the caller's transaction along with their ledger entries.
func (s *Service) WithTrx(tx *gorm.DB) *Service {
	cp := *s
	cp.db = tx
	cp.balances = repository.ProvideStore[Balance](tx)
	cp.ledger = s.ledger.WithTrx(tx)
	return &cp
}

// CreditPending adds a freshly earned reward to the pending bucket and bumps
// lifetime_earned. The first reward for a user races with itself across
// deliveries, so the insert path retries on unique violations.
func (s *Service) CreditPending(ctx context.Context, userID string, amount decimal.Decimal) error {
	if userID == "" {
		return errutil.BadRequest("user_id is required", nil)
	}
	if amount.Sign() <= 0 {
		return errutil.BadRequest("amount must be positive", nil)
	}

	for attempt := 0; attempt < maxUpsertAttempts; attempt++ {
		res := s.db.WithContext(ctx).Model(&Balance{}).
			Where("user_id = ?", userID).
			Updates(map[string]interface{}{
				"pending":         gorm.Expr("pending + ?", amount),
				"lifetime_earned": gorm.Expr("lifetime_earned + ?", amount),
				"updated_at":      time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			return nil
		}

		// nested Transaction becomes a savepoint when s.db is already a
		// transaction, so a lost insert race doesn't poison the enclosing one
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return s.balances.WithTrx(tx).Create(ctx, &Balance{
				UserID:         userID,
				Pending:        amount,
				LifetimeEarned: amount,
			})
		})
		if err == nil {
			return nil
		}
		if !db.IsUniqueViolation(err) {
			return err
		}
		// another delivery created the row first; redo the delta update
	}

	zap.L().Error("balance upsert retries exhausted", zap.String("user_id", userID))
	return errutil.Conflict("balance update contention", ErrUpdateConflict)
}

// ConfirmPending moves amount from pending to available once the source event
// is past its dispute window.
func (s *Service) ConfirmPending(ctx context.Context, userID string, amount decimal.Decimal) error {
	return s.move(ctx, s.db, userID, "pending", "available", amount, ErrInsufficientPending)
}

// Settle moves amount from pending to settled_external. Called by the
// settlement job after the external payout is acknowledged.
func (s *Service) Settle(ctx context.Context, userID string, amount decimal.Decimal) error {
	return s.move(ctx, s.db, userID, "pending", "settled_external", amount, ErrInsufficientPending)
}

type DebitParams struct {
	UserID         string
	Amount         decimal.Decimal
	Reason         string
	IdempotencyKey string
}

// Debit spends from available and records a negative ledger entry in the same
// transaction. A duplicate idempotency key rolls the whole debit back, so
// retried requests never charge twice.
func (s *Service) Debit(ctx context.Context, p DebitParams) error {
	if err := validateFundsParams(p.UserID, p.Amount); err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.decrement(ctx, tx, p.UserID, "available", p.Amount, ErrInsufficientAvailable); err != nil {
			return err
		}

		_, err := s.ledger.WithTrx(tx).Append(ctx, ledger.AppendParams{
			UserID:         p.UserID,
			IdempotencyKey: p.IdempotencyKey,
			EventType:      "debit",
			Amount:         p.Amount.Neg(),
			Description:    p.Reason,
		})
		return err
	})
}

// Refund reverses a prior debit after a downstream failure: available is
// restored and an offsetting positive ledger entry is written.
func (s *Service) Refund(ctx context.Context, p DebitParams) error {
	if err := validateFundsParams(p.UserID, p.Amount); err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.increment(ctx, tx, p.UserID, "available", p.Amount); err != nil {
			return err
		}

		_, err := s.ledger.WithTrx(tx).Append(ctx, ledger.AppendParams{
			UserID:         p.UserID,
			IdempotencyKey: p.IdempotencyKey,
			EventType:      "refund",
			Amount:         p.Amount,
			Description:    p.Reason,
		})
		return err
	})
}

// GetBalance returns the user's row, or a zero-valued row when the user has
// never earned anything.
func (s *Service) GetBalance(ctx context.Context, userID string) (*Balance, error) {
	if userID == "" {
		return nil, errutil.BadRequest("user_id is required", nil)
	}

	row, err := s.balances.FindOne(ctx, &Balance{UserID: userID})
	if err != nil {
		return nil, err
	}
	if row == nil {
		return &Balance{UserID: userID}, nil
	}
	return row, nil
}

// IsSettlementEligible reports whether pending has crossed the configured
// settlement threshold. Signal only; it moves no funds.
func (s *Service) IsSettlementEligible(ctx context.Context, userID string) (bool, error) {
	row, err := s.GetBalance(ctx, userID)
	if err != nil {
		return false, err
	}
	eligible := row.Pending.GreaterThanOrEqual(s.threshold)
	if eligible {
		span := trace.SpanFromContext(ctx)
		zap.L().Info("settlement threshold reached",
			zap.String("trace_id", span.SpanContext().TraceID().String()),
			zap.String("user_id", userID),
			zap.String("pending", row.Pending.String()),
			zap.String("threshold", s.threshold.String()),
		)
	}
	return eligible, nil
}

// EligibleUserIDs lists users whose pending balance has crossed the
// settlement threshold. Used by the daily sweep.
func (s *Service) EligibleUserIDs(ctx context.Context) ([]string, error) {
	var userIDs []string
	err := s.db.WithContext(ctx).Model(&Balance{}).
		Where("pending >= ?", s.threshold).
		Order("user_id asc").
		Pluck("user_id", &userIDs).Error
	return userIDs, err
}

// Threshold exposes the configured settlement threshold.
func (s *Service) Threshold() decimal.Decimal {
	return s.threshold
}

// MoveToStaked moves amount from available into the staked bucket on the
// caller's transaction. Callers own the surrounding stake row changes.
func (s *Service) MoveToStaked(ctx context.Context, tx *gorm.DB, userID string, amount decimal.Decimal) error {
	return s.move(ctx, tx, userID, "available", "staked", amount, ErrInsufficientAvailable)
}

// ReleaseStaked moves amount from staked back to available on the caller's
// transaction. Used for completed unstakes and refunding revocations.
func (s *Service) ReleaseStaked(ctx context.Context, tx *gorm.DB, userID string, amount decimal.Decimal) error {
	return s.move(ctx, tx, userID, "staked", "available", amount, ErrInsufficientStaked)
}

// ForfeitStaked removes amount from staked without crediting any bucket and
// without touching the ledger: the original stake entry already took the
// funds out of the ledger sum, so a forfeiture needs no offsetting entry.
func (s *Service) ForfeitStaked(ctx context.Context, tx *gorm.DB, userID string, amount decimal.Decimal) error {
	return s.decrement(ctx, tx, userID, "staked", amount, ErrInsufficientStaked)
}

func (s *Service) move(ctx context.Context, tx *gorm.DB, userID, from, to string, amount decimal.Decimal, insufficient error) error {
	if err := validateFundsParams(userID, amount); err != nil {
		return err
	}

	res := tx.WithContext(ctx).Model(&Balance{}).
		Where("user_id = ? AND "+from+" >= ?", userID, amount).
		Updates(map[string]interface{}{
			from:         gorm.Expr(from+" - ?", amount),
			to:           gorm.Expr(to+" + ?", amount),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errutil.UnprocessableEntity(insufficient.Error(), insufficient)
	}
	return nil
}

func (s *Service) decrement(ctx context.Context, tx *gorm.DB, userID, column string, amount decimal.Decimal, insufficient error) error {
	if err := validateFundsParams(userID, amount); err != nil {
		return err
	}

	res := tx.WithContext(ctx).Model(&Balance{}).
		Where("user_id = ? AND "+column+" >= ?", userID, amount).
		Updates(map[string]interface{}{
			column:       gorm.Expr(column+" - ?", amount),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errutil.UnprocessableEntity(insufficient.Error(), insufficient)
	}
	return nil
}

func (s *Service) increment(ctx context.Context, tx *gorm.DB, userID, column string, amount decimal.Decimal) error {
	res := tx.WithContext(ctx).Model(&Balance{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			column:       gorm.Expr(column+" + ?", amount),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// refunds target users that have debited before, so the row exists
		// in practice; create one anyway rather than dropping funds
		return s.balances.WithTrx(tx).Create(ctx, &Balance{UserID: userID, Available: amount})
	}
	return nil
}

func validateFundsParams(userID string, amount decimal.Decimal) error {
	if userID == "" {
		return errutil.BadRequest("user_id is required", nil)
	}
	if amount.Sign() <= 0 {
		return errutil.BadRequest("amount must be positive", nil)
	}
	return nil
}
