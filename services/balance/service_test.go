package balance

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"rewardplane/pkg/config"
	"rewardplane/services/ledger"
	"rewardplane/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) *Service {
	t.Helper()

	db := testutil.NewTestDB(t, &Balance{}, &ledger.Entry{})

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Reward.SettlementThreshold = "25.00"

	return NewService(ServiceParams{
		DB:     db,
		Config: cfg,
		Ledger: ledger.NewService(ledger.ServiceParams{DB: db, Node: node}),
	})
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestCreditPendingUpsert(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.CreditPending(ctx, "user-1", d("4.40")))
	require.NoError(t, svc.CreditPending(ctx, "user-1", d("1.50")))

	row, err := svc.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, row.Pending.Equal(d("5.90")), "pending = %s", row.Pending)
	require.True(t, row.LifetimeEarned.Equal(d("5.90")))
	require.True(t, row.Available.IsZero())
}

func TestConfirmPending(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.CreditPending(ctx, "user-1", d("10.00")))
	require.NoError(t, svc.ConfirmPending(ctx, "user-1", d("4.00")))

	row, err := svc.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, row.Pending.Equal(d("6.00")))
	require.True(t, row.Available.Equal(d("4.00")))
	require.True(t, row.LifetimeEarned.Equal(d("10.00")), "confirmation must not re-earn")

	err = svc.ConfirmPending(ctx, "user-1", d("100.00"))
	require.ErrorIs(t, err, ErrInsufficientPending)
}

func TestSettle(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.CreditPending(ctx, "user-1", d("30.00")))
	require.NoError(t, svc.Settle(ctx, "user-1", d("25.00")))

	row, err := svc.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, row.Pending.Equal(d("5.00")))
	require.True(t, row.SettledExternal.Equal(d("25.00")))
}

func TestDebitWritesLedgerEntry(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.CreditPending(ctx, "user-1", d("10.00")))
	require.NoError(t, svc.ConfirmPending(ctx, "user-1", d("10.00")))

	require.NoError(t, svc.Debit(ctx, DebitParams{
		UserID:         "user-1",
		Amount:         d("3.00"),
		Reason:         "auto_send execution",
		IdempotencyKey: "action-1",
	}))

	row, err := svc.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, row.Available.Equal(d("7.00")))

	entry, err := svc.ledger.FindByIdempotencyKey(ctx, "user-1", "action-1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.True(t, entry.Amount.Equal(d("-3.00")))
}

func TestDebitInsufficient(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	err := svc.Debit(ctx, DebitParams{UserID: "user-1", Amount: d("1.00"), IdempotencyKey: "action-1"})
	require.ErrorIs(t, err, ErrInsufficientAvailable)
}

func TestDebitDuplicateKeyDoesNotDoubleCharge(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.CreditPending(ctx, "user-1", d("10.00")))
	require.NoError(t, svc.ConfirmPending(ctx, "user-1", d("10.00")))

	p := DebitParams{UserID: "user-1", Amount: d("3.00"), IdempotencyKey: "action-1"}
	require.NoError(t, svc.Debit(ctx, p))

	err := svc.Debit(ctx, p)
	require.ErrorIs(t, err, ledger.ErrDuplicateIdempotencyKey)

	row, err := svc.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, row.Available.Equal(d("7.00")), "retried debit must not charge twice")
}

func TestRefundRestoresAvailable(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.CreditPending(ctx, "user-1", d("10.00")))
	require.NoError(t, svc.ConfirmPending(ctx, "user-1", d("10.00")))
	require.NoError(t, svc.Debit(ctx, DebitParams{UserID: "user-1", Amount: d("3.00"), Reason: "auto_send", IdempotencyKey: "action-1"}))

	require.NoError(t, svc.Refund(ctx, DebitParams{UserID: "user-1", Amount: d("3.00"), Reason: "auto_send failed", IdempotencyKey: "action-1:refund"}))

	row, err := svc.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, row.Available.Equal(d("10.00")))

	sum, err := svc.ledger.SumForUser(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, sum.IsZero(), "debit and refund must cancel in the ledger")
}

func TestGetBalanceMissingUser(t *testing.T) {
	svc := newTestService(t)

	row, err := svc.GetBalance(context.Background(), "nobody")
	require.NoError(t, err)
	require.Equal(t, "nobody", row.UserID)
	require.True(t, row.Available.IsZero())
	require.True(t, row.Pending.IsZero())
}

func TestIsSettlementEligible(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	eligible, err := svc.IsSettlementEligible(ctx, "user-1")
	require.NoError(t, err)
	require.False(t, eligible)

	require.NoError(t, svc.CreditPending(ctx, "user-1", d("24.99")))
	eligible, err = svc.IsSettlementEligible(ctx, "user-1")
	require.NoError(t, err)
	require.False(t, eligible)

	require.NoError(t, svc.CreditPending(ctx, "user-1", d("0.01")))
	eligible, err = svc.IsSettlementEligible(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, eligible)
}

func TestStakedMoves(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.CreditPending(ctx, "user-1", d("200.00")))
	require.NoError(t, svc.ConfirmPending(ctx, "user-1", d("200.00")))

	err := svc.db.Transaction(func(tx *gorm.DB) error {
		return svc.MoveToStaked(ctx, tx, "user-1", d("100.00"))
	})
	require.NoError(t, err)

	row, err := svc.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, row.Available.Equal(d("100.00")))
	require.True(t, row.Staked.Equal(d("100.00")))

	err = svc.db.Transaction(func(tx *gorm.DB) error {
		return svc.MoveToStaked(ctx, tx, "user-1", d("500.00"))
	})
	require.ErrorIs(t, err, ErrInsufficientAvailable)

	err = svc.db.Transaction(func(tx *gorm.DB) error {
		return svc.ReleaseStaked(ctx, tx, "user-1", d("40.00"))
	})
	require.NoError(t, err)

	err = svc.db.Transaction(func(tx *gorm.DB) error {
		return svc.ForfeitStaked(ctx, tx, "user-1", d("60.00"))
	})
	require.NoError(t, err)

	row, err = svc.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, row.Available.Equal(d("140.00")))
	require.True(t, row.Staked.IsZero())
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.CreditPending(ctx, "user-1", d("10.00")))
	require.NoError(t, svc.ConfirmPending(ctx, "user-1", d("10.00")))

	const attempts = 20
	var succeeded int64
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := svc.Debit(ctx, DebitParams{
				UserID:         "user-1",
				Amount:         d("1.00"),
				IdempotencyKey: fmt.Sprintf("action-%d", i),
			})
			if err == nil {
				atomic.AddInt64(&succeeded, 1)
			}
		}(i)
	}
	wg.Wait()

	require.EqualValues(t, 10, succeeded)

	row, err := svc.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, row.Available.IsZero(), "available = %s", row.Available)
}
