package rule

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"rewardplane/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) *Service {
	t.Helper()

	db := testutil.NewTestDB(t, &PromoRule{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return NewService(ServiceParams{DB: db, Node: node, Evaluator: NewEvaluator()})
}

func focusAttrs(mode string, minutes int) map[string]any {
	return map[string]any{
		"user_id":          "user-1",
		"event_type":       "focus_session",
		"effort":           0,
		"duration_minutes": minutes,
		"mode":             mode,
		"message_count":    0,
		"count":            1,
	}
}

func TestEvaluate(t *testing.T) {
	e := NewEvaluator()

	matched, err := e.Evaluate(`event_type == "focus_session" && duration_minutes >= 60`, focusAttrs("deep_work", 90))
	require.NoError(t, err)
	require.True(t, matched)

	matched, err = e.Evaluate(`event_type == "focus_session" && duration_minutes >= 60`, focusAttrs("deep_work", 30))
	require.NoError(t, err)
	require.False(t, matched)

	_, err = e.Evaluate(`duration_minutes + 1`, focusAttrs("deep_work", 30))
	require.Error(t, err, "non-boolean result is an error")

	_, err = e.Evaluate(``, nil)
	require.Error(t, err)
}

func TestCreateRuleValidatesExpression(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateRule(ctx, PromoRule{
		Name:       "broken",
		Expression: `event_type ==`,
		BonusRate:  decimal.RequireFromString("0.10"),
	})
	require.Error(t, err)

	_, err = svc.CreateRule(ctx, PromoRule{
		Name:       "deep-work-week",
		Expression: `mode == "deep_work"`,
		BonusRate:  decimal.RequireFromString("0.10"),
		Active:     true,
	})
	require.NoError(t, err)

	// names are unique
	_, err = svc.CreateRule(ctx, PromoRule{
		Name:       "deep-work-week",
		Expression: `mode == "deep_work"`,
		BonusRate:  decimal.RequireFromString("0.20"),
	})
	require.Error(t, err)
}

func TestEligibleBonuses(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateRule(ctx, PromoRule{
		Name:       "deep-work-week",
		Expression: `mode == "deep_work"`,
		BonusRate:  decimal.RequireFromString("0.10"),
		Active:     true,
	})
	require.NoError(t, err)

	_, err = svc.CreateRule(ctx, PromoRule{
		Name:       "long-sessions",
		Expression: `duration_minutes >= 120`,
		BonusRate:  decimal.RequireFromString("0.05"),
		Active:     true,
	})
	require.NoError(t, err)

	_, err = svc.CreateRule(ctx, PromoRule{
		Name:       "inactive",
		Expression: `true`,
		BonusRate:  decimal.RequireFromString("0.50"),
		Active:     false,
	})
	require.NoError(t, err)

	bonuses := svc.EligibleBonuses(ctx, focusAttrs("deep_work", 90))
	require.Len(t, bonuses, 1)
	require.Equal(t, "deep-work-week", bonuses[0].Name)
	require.True(t, bonuses[0].Rate.Equal(decimal.RequireFromString("0.10")))

	bonuses = svc.EligibleBonuses(ctx, focusAttrs("deep_work", 150))
	require.Len(t, bonuses, 2)
}

func TestEligibleBonusesRespectsWindow(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	past := now.Add(-48 * time.Hour)
	ended := now.Add(-24 * time.Hour)
	future := now.Add(24 * time.Hour)

	_, err := svc.CreateRule(ctx, PromoRule{
		Name:       "expired",
		Expression: `true`,
		BonusRate:  decimal.RequireFromString("0.10"),
		Active:     true,
		StartsAt:   &past,
		EndsAt:     &ended,
	})
	require.NoError(t, err)

	_, err = svc.CreateRule(ctx, PromoRule{
		Name:       "upcoming",
		Expression: `true`,
		BonusRate:  decimal.RequireFromString("0.10"),
		Active:     true,
		StartsAt:   &future,
	})
	require.NoError(t, err)

	require.Empty(t, svc.EligibleBonuses(ctx, focusAttrs("learning", 60)))
}

func TestEligibleBonusesSkipsBrokenRule(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	// evaluation error at runtime (unknown variable), not compile time
	_, err := svc.CreateRule(ctx, PromoRule{
		Name:       "needs-missing-attr",
		Expression: `count > 0`,
		BonusRate:  decimal.RequireFromString("0.10"),
		Active:     true,
	})
	require.NoError(t, err)

	attrs := map[string]any{"event_type": "task_completed"}
	require.Empty(t, svc.EligibleBonuses(ctx, attrs))
}
