package ledger

import (
	"context"
	"errors"
	"fmt"
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

	db := testutil.NewTestDB(t, &Entry{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return NewService(ServiceParams{DB: db, Node: node})
}

func TestAppendAndDuplicate(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	entry, err := svc.Append(ctx, AppendParams{
		UserID:         "user-1",
		IdempotencyKey: "evt-1",
		EventType:      "focus_session",
		Amount:         decimal.RequireFromString("4.40"),
		Description:    "focus session reward",
	})
	require.NoError(t, err)
	require.Equal(t, "GENESIS", entry.PreviousHash)
	require.NotEmpty(t, entry.Hash)
	require.NotEmpty(t, entry.TransactionID)

	// every re-delivery of the same source event is a no-op
	for i := 0; i < 3; i++ {
		_, err = svc.Append(ctx, AppendParams{
			UserID:         "user-1",
			IdempotencyKey: "evt-1",
			EventType:      "focus_session",
			Amount:         decimal.RequireFromString("4.40"),
		})
		require.ErrorIs(t, err, ErrDuplicateIdempotencyKey)
	}

	entries, _, err := svc.ListForUser(ctx, "user-1", Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestAppendSameKeyDifferentUsers(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Append(ctx, AppendParams{UserID: "user-1", IdempotencyKey: "shared", EventType: "task_completed", Amount: decimal.NewFromInt(1)})
	require.NoError(t, err)

	// uniqueness is scoped per user
	_, err = svc.Append(ctx, AppendParams{UserID: "user-2", IdempotencyKey: "shared", EventType: "task_completed", Amount: decimal.NewFromInt(1)})
	require.NoError(t, err)
}

func TestAppendChainsHashes(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	first, err := svc.Append(ctx, AppendParams{UserID: "user-1", IdempotencyKey: "evt-1", EventType: "task_completed", Amount: decimal.NewFromInt(2)})
	require.NoError(t, err)

	second, err := svc.Append(ctx, AppendParams{UserID: "user-1", IdempotencyKey: "evt-2", EventType: "task_completed", Amount: decimal.NewFromInt(3)})
	require.NoError(t, err)
	require.Equal(t, first.Hash, second.PreviousHash)

	valid, err := svc.VerifyChain(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, valid)
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	entry, err := svc.Append(ctx, AppendParams{UserID: "user-1", IdempotencyKey: "evt-1", EventType: "task_completed", Amount: decimal.NewFromInt(2)})
	require.NoError(t, err)

	err = svc.db.Model(&Entry{}).Where("id = ?", entry.ID).Update("amount", decimal.NewFromInt(999)).Error
	require.NoError(t, err)

	valid, err := svc.VerifyChain(ctx, "user-1")
	require.NoError(t, err)
	require.False(t, valid)
}

func TestListForUserOrderAndPagination(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := svc.Append(ctx, AppendParams{
			UserID:         "user-1",
			IdempotencyKey: fmt.Sprintf("evt-%d", i),
			EventType:      "task_completed",
			Amount:         decimal.NewFromInt(int64(i + 1)),
		})
		require.NoError(t, err)
	}

	page1, info, err := svc.ListForUser(ctx, "user-1", Filter{})
	require.NoError(t, err)
	require.Len(t, page1, 5)
	require.False(t, info.HasMore)

	small, info, err := svc.ListForUser(ctx, "user-1", filterWithLimit(2))
	require.NoError(t, err)
	require.Len(t, small, 2)
	require.True(t, info.HasMore)
	require.True(t, small[0].CreatedAt.Before(small[1].CreatedAt) || small[0].CreatedAt.Equal(small[1].CreatedAt))

	next := filterWithLimit(10)
	next.Cursor = info.NextCursor
	rest, info, err := svc.ListForUser(ctx, "user-1", next)
	require.NoError(t, err)
	require.Len(t, rest, 3)
	require.False(t, info.HasMore)
}

func filterWithLimit(n int) Filter {
	var f Filter
	f.Limit = n
	return f
}

func TestListForUserPaginatesByTimeThenID(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	// ids are generated before the serialized insert, so a later id can
	// commit earlier; the cursor must still walk commit order without
	// skipping or repeating rows
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	seed := []struct {
		id string
		at time.Time
	}{
		{"300", base},
		{"100", base.Add(time.Second)},
		{"200", base.Add(2 * time.Second)},
	}
	for _, s := range seed {
		require.NoError(t, svc.db.Create(&Entry{
			ID:             s.id,
			UserID:         "user-1",
			IdempotencyKey: "evt-" + s.id,
			EventType:      "task_completed",
			Amount:         decimal.NewFromInt(1),
			PreviousHash:   "GENESIS",
			Hash:           s.id,
			CreatedAt:      s.at,
		}).Error)
	}

	var got []string
	filter := filterWithLimit(1)
	for i := 0; i < 3; i++ {
		page, info, err := svc.ListForUser(ctx, "user-1", filter)
		require.NoError(t, err)
		require.Len(t, page, 1)
		got = append(got, page[0].ID)
		filter.Cursor = info.NextCursor
	}
	require.Equal(t, []string{"300", "100", "200"}, got)

	last, info, err := svc.ListForUser(ctx, "user-1", filter)
	require.NoError(t, err)
	require.Empty(t, last)
	require.False(t, info.HasMore)
}

func TestSumForUser(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	amounts := []string{"4.40", "1.50", "-2.00"}
	for i, a := range amounts {
		_, err := svc.Append(ctx, AppendParams{
			UserID:         "user-1",
			IdempotencyKey: fmt.Sprintf("evt-%d", i),
			EventType:      "task_completed",
			Amount:         decimal.RequireFromString(a),
		})
		require.NoError(t, err)
	}

	sum, err := svc.SumForUser(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, sum.Equal(decimal.RequireFromString("3.90")), "sum = %s", sum)

	empty, err := svc.SumForUser(ctx, "nobody")
	require.NoError(t, err)
	require.True(t, empty.IsZero())
}

func TestAppendRequiresIdentity(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Append(context.Background(), AppendParams{UserID: "user-1", EventType: "task_completed"})
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrDuplicateIdempotencyKey))
}
