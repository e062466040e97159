package authority

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"rewardplane/pkg/config"
	"rewardplane/pkg/db"
	"rewardplane/pkg/errutil"
	"rewardplane/pkg/repository"
	"rewardplane/services/staking"
)

var ErrUnknownAction = errors.New("unknown action")

// CapabilitySource answers whether a user currently holds a staked
// capability. Implemented by the staking service.
type CapabilitySource interface {
	HasCapability(ctx context.Context, userID, capability string) (bool, error)
}

// RoleProvider resolves a user's current role. The default implementation
// hands every user the configured role; deployments with a real account
// system plug their own in.
type RoleProvider interface {
	RoleFor(ctx context.Context, userID string) (Role, error)
}

type staticRoleProvider struct {
	role Role
}

func (p staticRoleProvider) RoleFor(ctx context.Context, userID string) (Role, error) {
	return p.role, nil
}

func NewStaticRoleProvider(cfg *config.Config) RoleProvider {
	return staticRoleProvider{role: ParseRole(cfg.Reward.DefaultRole)}
}

type Service struct {
	actions repository.Repository[Action]
	caps    CapabilitySource
	roles   RoleProvider
}

type ServiceParams struct {
	fx.In
	DB      *gorm.DB
	Staking *staking.Service
	Roles   RoleProvider
}

func NewService(p ServiceParams) *Service {
	return &Service{
		actions: repository.ProvideStore[Action](p.DB),
		caps:    p.Staking,
		roles:   p.Roles,
	}
}

// RegisterAction adds or replaces a registry row.
func (s *Service) RegisterAction(ctx context.Context, action Action) error {
	if action.ID == "" {
		return errutil.BadRequest("action id is required", nil)
	}
	if !validCategory(action.Category) {
		return errutil.BadRequest(fmt.Sprintf("unknown action category %q", action.Category), nil)
	}
	if _, ok := roleRank[action.MinRole]; !ok {
		return errutil.BadRequest(fmt.Sprintf("unknown role %q", action.MinRole), nil)
	}

	err := s.actions.Create(ctx, &action)
	if err != nil && db.IsUniqueViolation(err) {
		return s.actions.Update(ctx, action.ID, map[string]interface{}{
			"category":            action.Category,
			"min_role":            action.MinRole,
			"required_capability": action.RequiredCapability,
		})
	}
	return err
}

// SeedDefaults inserts the built-in action rows, skipping any that already
// exist so operator overrides survive restarts.
func (s *Service) SeedDefaults(ctx context.Context) error {
	for _, action := range defaultActions {
		existing, err := s.actions.FindOne(ctx, &Action{ID: action.ID})
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		if err := s.actions.Create(ctx, &action); err != nil && !db.IsUniqueViolation(err) {
			return err
		}
	}
	return nil
}

// CheckAction decides whether the user's agent may run the action, and
// whether the user must confirm first.
func (s *Service) CheckAction(ctx context.Context, userID, actionID string) (Decision, error) {
	if userID == "" {
		return Decision{}, errutil.BadRequest("user_id is required", nil)
	}

	action, err := s.actions.FindOne(ctx, &Action{ID: actionID})
	if err != nil {
		return Decision{}, err
	}
	if action == nil {
		return Decision{}, errutil.NotFound(fmt.Sprintf("unknown action %q", actionID), ErrUnknownAction)
	}

	// read-only categories are always allowed, for every role
	if action.Category == CategorySuggest || action.Category == CategoryAnalyze {
		return Decision{Allowed: true}, nil
	}

	role, err := s.roles.RoleFor(ctx, userID)
	if err != nil {
		return Decision{}, err
	}

	if !role.Meets(action.MinRole) {
		return Decision{
			Allowed:              false,
			BlockedReason:        blockedReasons[action.Category],
			SuggestedAlternative: deniedAlternatives[action.Category],
		}, nil
	}

	if action.RequiredCapability != "" {
		has, err := s.caps.HasCapability(ctx, userID, action.RequiredCapability)
		if err != nil {
			return Decision{}, err
		}
		if !has {
			// capability not staked: allowed, but never silently executed
			return Decision{
				Allowed:              true,
				RequiresConfirmation: true,
				SuggestedAlternative: stakeSuggestion(action.RequiredCapability),
			}, nil
		}
	}

	confirm := confirmationTable[action.Category][role]
	return Decision{Allowed: true, RequiresConfirmation: confirm}, nil
}

func stakeSuggestion(capability string) string {
	for _, spec := range staking.Tiers() {
		if spec.Capability == capability {
			return fmt.Sprintf("stake tier %d to unlock %s", spec.Tier, capability)
		}
	}
	zap.L().Warn("capability has no stake tier", zap.String("capability", capability))
	return fmt.Sprintf("stake the %s capability", capability)
}
