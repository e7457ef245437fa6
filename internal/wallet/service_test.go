package wallet

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/telemed-queue/internal/auth"
	"github.com/hackgods/telemed-queue/internal/ledger"
	"github.com/hackgods/telemed-queue/internal/store/memory"
)

func newTestService() *Service {
	svc := NewService(memory.New(), zerolog.Nop())
	clock := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	svc.Now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return svc
}

func TestTopUpAndWithdraw(t *testing.T) {
	svc := newTestService()
	actor := auth.Actor{UserID: uuid.New(), Role: auth.RoleDoctor}
	ctx := context.Background()

	m, err := svc.TopUp(ctx, actor, decimal.RequireFromString("200.00"))
	require.NoError(t, err)
	assert.Equal(t, ledger.ReasonTopUp, m.Transaction.Reason)
	assert.Equal(t, "200.00", m.NewBalance.StringFixed(2))

	m, err = svc.Withdraw(ctx, actor, decimal.RequireFromString("75.50"))
	require.NoError(t, err)
	assert.Equal(t, ledger.ReasonWithdrawal, m.Transaction.Reason)
	assert.Equal(t, "124.50", m.NewBalance.StringFixed(2))

	_, err = svc.Withdraw(ctx, actor, decimal.RequireFromString("500.00"))
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	_, err = svc.TopUp(ctx, actor, decimal.RequireFromString("-1"))
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
}

func TestOverview_ShowsFiveMostRecent(t *testing.T) {
	svc := newTestService()
	actor := auth.Actor{UserID: uuid.New(), Role: auth.RolePatient}
	ctx := context.Background()

	empty, err := svc.Overview(ctx, actor)
	require.NoError(t, err)
	assert.True(t, empty.Wallet.Balance.IsZero())
	assert.Empty(t, empty.Recent)

	for i := 1; i <= 7; i++ {
		_, err := svc.TopUp(ctx, actor, decimal.NewFromInt(int64(i)))
		require.NoError(t, err)
	}

	o, err := svc.Overview(ctx, actor)
	require.NoError(t, err)
	assert.Equal(t, "28.00", o.Wallet.Balance.StringFixed(2))
	require.Len(t, o.Recent, 5)
	assert.Equal(t, "7.00", o.Recent[0].Amount.StringFixed(2))

	all, err := svc.Transactions(ctx, actor, 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 7)
}
