package staking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"rewardplane/pkg/config"
	"rewardplane/pkg/db"
	"rewardplane/pkg/db/option"
	"rewardplane/pkg/errutil"
	"rewardplane/pkg/repository"
	"rewardplane/services/balance"
	"rewardplane/services/ledger"
)

var (
	ErrUnknownTier         = errors.New("unknown stake tier")
	ErrTierAlreadyActive   = errors.New("tier already staked")
	ErrInsufficientBalance = errors.New("insufficient available balance to stake")
	ErrNotActive           = errors.New("stake is not active")
	ErrNotUnstaking        = errors.New("stake is not unstaking")
	ErrCooldownNotElapsed  = errors.New("unstake cooldown has not elapsed")
)

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	stakes   repository.Repository[Stake]
	balances *balance.Service
	ledger   *ledger.Service

	cooldown      time.Duration
	revokeRefunds bool

	now func() time.Time
}

type ServiceParams struct {
	fx.In
	DB      *gorm.DB
	Node    *snowflake.Node
	Config  *config.Config
	Balance *balance.Service
	Ledger  *ledger.Service
}

func NewService(p ServiceParams) *Service {
	cooldown := p.Config.Reward.UnstakeCooldown
	if cooldown <= 0 {
		cooldown = 7 * 24 * time.Hour
	}

	return &Service{
		db:            p.DB,
		node:          p.Node,
		stakes:        repository.ProvideStore[Stake](p.DB),
		balances:      p.Balance,
		ledger:        p.Ledger,
		cooldown:      cooldown,
		revokeRefunds: p.Config.Reward.RevokeRefunds,
		now:           time.Now,
	}
}

// Stake locks the tier's amount out of available and grants the tier's
// capability. One transaction covers the duplicate check, the funds move and
// the ledger entry, so a failed stake leaves nothing behind.
func (s *Service) Stake(ctx context.Context, userID string, tier int) (*Stake, error) {
	span := trace.SpanFromContext(ctx)
	opts := []zap.Field{
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("user_id", userID),
		zap.Int("tier", tier),
	}

	if userID == "" {
		return nil, errutil.BadRequest("user_id is required", nil)
	}

	spec, ok := SpecFor(tier)
	if !ok {
		return nil, errutil.BadRequest("unknown stake tier", ErrUnknownTier)
	}

	stake := &Stake{
		ID:         s.node.Generate().String(),
		UserID:     userID,
		Tier:       spec.Tier,
		Capability: spec.Capability,
		Amount:     spec.Amount,
		Status:     StatusActive,
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.holdingStake(ctx, tx, userID, tier)
		if err != nil {
			return err
		}
		if existing != nil {
			return errutil.Conflict("tier already staked", ErrTierAlreadyActive)
		}

		if err := s.balances.MoveToStaked(ctx, tx, userID, spec.Amount); err != nil {
			if errors.Is(err, balance.ErrInsufficientAvailable) {
				return errutil.UnprocessableEntity("insufficient available balance to stake", ErrInsufficientBalance)
			}
			return err
		}

		if _, err := s.ledger.WithTrx(tx).Append(ctx, ledger.AppendParams{
			UserID:         userID,
			IdempotencyKey: fmt.Sprintf("stake:%s", stake.ID),
			EventType:      "stake",
			Amount:         spec.Amount.Neg(),
			Description:    fmt.Sprintf("stake tier %d (%s)", spec.Tier, spec.Capability),
		}); err != nil {
			return err
		}

		if err := s.stakes.WithTrx(tx).Create(ctx, stake); err != nil {
			// the partial unique index caught a concurrent stake the
			// holdingStake read could not see
			if db.IsUniqueViolation(err) {
				return errutil.Conflict("tier already staked", ErrTierAlreadyActive)
			}
			return err
		}
		return nil
	}); err != nil {
		return nil, err
	}

	zap.L().With(opts...).Info("stake created", zap.String("stake_id", stake.ID))
	return stake, nil
}

// RequestUnstake starts the cooldown. Funds stay in the staked bucket and the
// capability stops being granted immediately.
func (s *Service) RequestUnstake(ctx context.Context, stakeID string) (*Stake, error) {
	var stake *Stake
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		stake, err = s.lockedStake(ctx, tx, stakeID)
		if err != nil {
			return err
		}
		if stake.Status != StatusActive {
			return errutil.Conflict("stake is not active", ErrNotActive)
		}

		unlocksAt := s.now().UTC().Add(s.cooldown)
		stake.Status = StatusUnstaking
		stake.UnlocksAt = &unlocksAt

		return s.stakes.WithTrx(tx).Update(ctx, stake.ID, map[string]interface{}{
			"status":     StatusUnstaking,
			"unlocks_at": unlocksAt,
			"updated_at": s.now().UTC(),
		})
	})
	if err != nil {
		return nil, err
	}
	return stake, nil
}

// CompleteUnstake returns the funds to available once the cooldown has
// elapsed.
func (s *Service) CompleteUnstake(ctx context.Context, stakeID string) (*Stake, error) {
	var stake *Stake
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		stake, err = s.lockedStake(ctx, tx, stakeID)
		if err != nil {
			return err
		}
		if stake.Status != StatusUnstaking {
			return errutil.Conflict("stake is not unstaking", ErrNotUnstaking)
		}
		if stake.UnlocksAt == nil || s.now().UTC().Before(*stake.UnlocksAt) {
			return errutil.UnprocessableEntity("unstake cooldown has not elapsed", ErrCooldownNotElapsed)
		}

		if err := s.balances.ReleaseStaked(ctx, tx, stake.UserID, stake.Amount); err != nil {
			return err
		}

		if _, err := s.ledger.WithTrx(tx).Append(ctx, ledger.AppendParams{
			UserID:         stake.UserID,
			IdempotencyKey: fmt.Sprintf("stake:%s:release", stake.ID),
			EventType:      "unstake",
			Amount:         stake.Amount,
			Description:    fmt.Sprintf("release stake tier %d (%s)", stake.Tier, stake.Capability),
		}); err != nil {
			return err
		}

		stake.Status = StatusUnstaked
		return s.stakes.WithTrx(tx).Update(ctx, stake.ID, map[string]interface{}{
			"status":     StatusUnstaked,
			"updated_at": s.now().UTC(),
		})
	})
	if err != nil {
		return nil, err
	}
	return stake, nil
}

// Revoke terminates a stake for cause, from active or unstaking. The refund
// policy decides whether the holder gets the funds back in available or
// forfeits them; a forfeiture writes no ledger entry because the stake entry
// already removed the funds from the ledger sum.
func (s *Service) Revoke(ctx context.Context, stakeID, reason string) (*Stake, error) {
	var stake *Stake
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		stake, err = s.lockedStake(ctx, tx, stakeID)
		if err != nil {
			return err
		}
		if stake.Status != StatusActive && stake.Status != StatusUnstaking {
			return errutil.Conflict("stake is not active", ErrNotActive)
		}

		if s.revokeRefunds {
			if err := s.balances.ReleaseStaked(ctx, tx, stake.UserID, stake.Amount); err != nil {
				return err
			}
			if _, err := s.ledger.WithTrx(tx).Append(ctx, ledger.AppendParams{
				UserID:         stake.UserID,
				IdempotencyKey: fmt.Sprintf("stake:%s:revoke", stake.ID),
				EventType:      "revoke_refund",
				Amount:         stake.Amount,
				Description:    reason,
			}); err != nil {
				return err
			}
		} else {
			if err := s.balances.ForfeitStaked(ctx, tx, stake.UserID, stake.Amount); err != nil {
				return err
			}
		}

		stake.Status = StatusRevoked
		return s.stakes.WithTrx(tx).Update(ctx, stake.ID, map[string]interface{}{
			"status":     StatusRevoked,
			"updated_at": s.now().UTC(),
		})
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("stake revoked",
		zap.String("stake_id", stake.ID),
		zap.String("user_id", stake.UserID),
		zap.String("reason", reason),
		zap.Bool("refunded", s.revokeRefunds),
	)
	return stake, nil
}

// ListStakes returns all of a user's stakes, newest first.
func (s *Service) ListStakes(ctx context.Context, userID string) ([]*Stake, error) {
	if userID == "" {
		return nil, errutil.BadRequest("user_id is required", nil)
	}
	return s.stakes.Find(ctx, &Stake{UserID: userID},
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "desc", Allow: map[string]bool{"created_at": true}}),
	)
}

// ActiveCapabilities returns the capabilities currently granted by active
// stakes. Unstaking stakes no longer grant theirs.
func (s *Service) ActiveCapabilities(ctx context.Context, userID string) ([]string, error) {
	stakes, err := s.stakes.Find(ctx, &Stake{UserID: userID, Status: StatusActive})
	if err != nil {
		return nil, err
	}

	capabilities := make([]string, 0, len(stakes))
	for _, stake := range stakes {
		capabilities = append(capabilities, stake.Capability)
	}
	return capabilities, nil
}

// HasCapability reports whether an active stake grants the capability.
func (s *Service) HasCapability(ctx context.Context, userID, capability string) (bool, error) {
	capabilities, err := s.ActiveCapabilities(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, c := range capabilities {
		if c == capability {
			return true, nil
		}
	}
	return false, nil
}

// holdingStake finds a stake that still holds the tier's funds, locked for
// the transaction. Both active and unstaking stakes block a new stake on the
// same tier. This read only short-circuits the common case; the partial
// unique index on stakes is the authoritative guard against a concurrent
// stake on the same tier.
func (s *Service) holdingStake(ctx context.Context, tx *gorm.DB, userID string, tier int) (*Stake, error) {
	return s.stakes.WithTrx(tx).FindOne(ctx, &Stake{UserID: userID, Tier: tier},
		option.ApplyOperator(option.Condition{Field: "status", Operator: option.IN, Value: []Status{StatusActive, StatusUnstaking}}),
		option.WithLockingUpdate(),
	)
}

func (s *Service) lockedStake(ctx context.Context, tx *gorm.DB, stakeID string) (*Stake, error) {
	stake, err := s.stakes.WithTrx(tx).FindOne(ctx, &Stake{ID: stakeID}, option.WithLockingUpdate())
	if err != nil {
		return nil, err
	}
	if stake == nil {
		return nil, errutil.NotFound("stake not found", nil)
	}
	return stake, nil
}
