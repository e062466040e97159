package rule

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"rewardplane/pkg/db"
	"rewardplane/pkg/errutil"
	"rewardplane/pkg/repository"
)

type Service struct {
	rules     repository.Repository[PromoRule]
	evaluator *Evaluator
	node      *snowflake.Node

	now func() time.Time
}

type ServiceParams struct {
	fx.In
	DB        *gorm.DB
	Node      *snowflake.Node
	Evaluator *Evaluator
}

func NewService(p ServiceParams) *Service {
	return &Service{
		rules:     repository.ProvideStore[PromoRule](p.DB),
		evaluator: p.Evaluator,
		node:      p.Node,
		now:       time.Now,
	}
}

// CreateRule validates the expression compiles before persisting, so a typo
// never reaches the hot path.
func (s *Service) CreateRule(ctx context.Context, r PromoRule) (*PromoRule, error) {
	if r.Name == "" || r.Expression == "" {
		return nil, errutil.BadRequest("name and expression are required", nil)
	}
	if !r.BonusRate.IsPositive() {
		return nil, errutil.BadRequest("bonus_rate must be positive", nil)
	}

	if _, err := s.evaluator.program(r.Expression, probeAttrs()); err != nil {
		return nil, errutil.ValidationFailed("expression does not compile", err)
	}

	if r.ID == "" {
		r.ID = s.node.Generate().String()
	}

	if err := s.rules.Create(ctx, &r); err != nil {
		if db.IsUniqueViolation(err) {
			return nil, errutil.Conflict("rule name already exists", err)
		}
		return nil, err
	}
	return &r, nil
}

// ListRules returns every rule, active or not.
func (s *Service) ListRules(ctx context.Context) ([]*PromoRule, error) {
	return s.rules.Find(ctx, &PromoRule{})
}

// SetActive flips a rule on or off.
func (s *Service) SetActive(ctx context.Context, ruleID string, active bool) error {
	existing, err := s.rules.FindOne(ctx, &PromoRule{ID: ruleID})
	if err != nil {
		return err
	}
	if existing == nil {
		return errutil.NotFound("rule not found", nil)
	}
	return s.rules.Update(ctx, ruleID, map[string]interface{}{
		"active":     active,
		"updated_at": s.now().UTC(),
	})
}

// EligibleBonuses evaluates every live rule against the event attributes.
// Rules that fail to compile or evaluate are skipped with a warning; a broken
// promo must never block reward intake.
func (s *Service) EligibleBonuses(ctx context.Context, attrs map[string]any) []Bonus {
	rules, err := s.rules.Find(ctx, &PromoRule{Active: true})
	if err != nil {
		zap.L().Warn("failed to load promo rules", zap.Error(err))
		return nil
	}

	now := s.now().UTC()
	bonuses := make([]Bonus, 0, len(rules))
	for _, r := range rules {
		if r.StartsAt != nil && now.Before(*r.StartsAt) {
			continue
		}
		if r.EndsAt != nil && now.After(*r.EndsAt) {
			continue
		}

		matched, err := s.evaluator.Evaluate(r.Expression, attrs)
		if err != nil {
			zap.L().Warn("promo rule evaluation failed",
				zap.String("rule_id", r.ID),
				zap.String("rule_name", r.Name),
				zap.Error(err),
			)
			continue
		}
		if matched {
			bonuses = append(bonuses, Bonus{Name: r.Name, Rate: r.BonusRate})
		}
	}
	return bonuses
}

// probeAttrs mirrors event.RewardableEvent.Attributes for compile-time
// validation of new expressions.
func probeAttrs() map[string]any {
	return map[string]any{
		"user_id":          "",
		"event_type":       "",
		"effort":           0,
		"duration_minutes": 0,
		"mode":             "",
		"message_count":    0,
		"count":            0,
	}
}
