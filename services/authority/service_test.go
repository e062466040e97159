package authority

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"rewardplane/pkg/repository"
	"rewardplane/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type capsMock struct {
	held map[string]bool
}

func (m capsMock) HasCapability(ctx context.Context, userID, capability string) (bool, error) {
	return m.held[capability], nil
}

type rolesMock struct {
	role Role
}

func (m rolesMock) RoleFor(ctx context.Context, userID string) (Role, error) {
	return m.role, nil
}

func newTestService(t *testing.T, role Role, held ...string) *Service {
	t.Helper()

	db := testutil.NewTestDB(t, &Action{})

	caps := capsMock{held: map[string]bool{}}
	for _, c := range held {
		caps.held[c] = true
	}

	svc := &Service{
		actions: repository.ProvideStore[Action](db),
		caps:    caps,
		roles:   rolesMock{role: role},
	}
	require.NoError(t, svc.SeedDefaults(context.Background()))
	return svc
}

func TestUnknownAction(t *testing.T) {
	svc := newTestService(t, RoleConstrained)

	_, err := svc.CheckAction(context.Background(), "user-1", "launch_rocket")
	require.ErrorIs(t, err, ErrUnknownAction)
}

func TestSuggestAlwaysAllowed(t *testing.T) {
	svc := newTestService(t, RoleConstrained)
	ctx := context.Background()

	// even an elevated floor cannot gate read-only categories
	require.NoError(t, svc.RegisterAction(ctx, Action{
		ID:       "suggest_followups",
		Category: CategorySuggest,
		MinRole:  RoleElevated,
	}))

	for _, id := range []string{"suggest_reply", "analyze_priority", "suggest_followups"} {
		decision, err := svc.CheckAction(ctx, "user-1", id)
		require.NoError(t, err)
		require.True(t, decision.Allowed, id)
		require.False(t, decision.RequiresConfirmation, id)
	}
}

func TestRoleFloorDenies(t *testing.T) {
	svc := newTestService(t, RoleConstrained)

	decision, err := svc.CheckAction(context.Background(), "user-1", "send_message")
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	require.NotEmpty(t, decision.BlockedReason)
	require.Equal(t, "draft_reply", decision.SuggestedAlternative)
}

func TestMissingCapabilityForcesConfirmation(t *testing.T) {
	svc := newTestService(t, RoleElevated)

	decision, err := svc.CheckAction(context.Background(), "user-1", "send_message")
	require.NoError(t, err)
	require.True(t, decision.Allowed)
	require.True(t, decision.RequiresConfirmation)
	require.Contains(t, decision.SuggestedAlternative, "auto_send")
}

func TestSendAlwaysConfirms(t *testing.T) {
	// even the elevated role with the capability staked never sends silently
	svc := newTestService(t, RoleElevated, "auto_send")

	decision, err := svc.CheckAction(context.Background(), "user-1", "send_message")
	require.NoError(t, err)
	require.True(t, decision.Allowed)
	require.True(t, decision.RequiresConfirmation)
}

func TestDeleteAlwaysConfirms(t *testing.T) {
	svc := newTestService(t, RoleElevated)

	decision, err := svc.CheckAction(context.Background(), "user-1", "delete_thread")
	require.NoError(t, err)
	require.True(t, decision.Allowed)
	require.True(t, decision.RequiresConfirmation)
}

func TestConfirmationTablePerRole(t *testing.T) {
	constrained := newTestService(t, RoleConstrained, "auto_archive")
	elevated := newTestService(t, RoleElevated, "auto_archive", "auto_send")
	ctx := context.Background()

	decision, err := constrained.CheckAction(ctx, "user-1", "archive_thread")
	require.NoError(t, err)
	require.True(t, decision.Allowed)
	require.True(t, decision.RequiresConfirmation)

	decision, err = elevated.CheckAction(ctx, "user-1", "archive_thread")
	require.NoError(t, err)
	require.True(t, decision.Allowed)
	require.False(t, decision.RequiresConfirmation)

	decision, err = elevated.CheckAction(ctx, "user-1", "run_autonomous_workflow")
	require.NoError(t, err)
	require.True(t, decision.Allowed)
	require.False(t, decision.RequiresConfirmation)
}

func TestUnstakingStopsSilentExecution(t *testing.T) {
	// capability lost (e.g. stake went into cooldown): back to confirmation
	svc := newTestService(t, RoleElevated)

	decision, err := svc.CheckAction(context.Background(), "user-1", "run_autonomous_workflow")
	require.NoError(t, err)
	require.True(t, decision.Allowed)
	require.True(t, decision.RequiresConfirmation)
}

func TestRegisterAction(t *testing.T) {
	svc := newTestService(t, RoleElevated)
	ctx := context.Background()

	require.NoError(t, svc.RegisterAction(ctx, Action{
		ID:       "snooze_thread",
		Category: CategorySchedule,
		MinRole:  RoleConstrained,
	}))

	decision, err := svc.CheckAction(ctx, "user-1", "snooze_thread")
	require.NoError(t, err)
	require.True(t, decision.Allowed)

	// re-registering replaces the row
	require.NoError(t, svc.RegisterAction(ctx, Action{
		ID:       "snooze_thread",
		Category: CategorySchedule,
		MinRole:  RoleElevated,
	}))

	err = svc.RegisterAction(ctx, Action{ID: "bad", Category: "nope", MinRole: RoleConstrained})
	require.Error(t, err)

	err = svc.RegisterAction(ctx, Action{ID: "bad", Category: CategorySend, MinRole: "root"})
	require.Error(t, err)
}
