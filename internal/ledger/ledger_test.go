package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/telemed-queue/internal/appointment"
	"github.com/hackgods/telemed-queue/internal/ledger"
	"github.com/hackgods/telemed-queue/internal/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type harness struct {
	store *memory.Store
	clock time.Time
	mu    sync.Mutex
}

func newHarness() *harness {
	return &harness{
		store: memory.New(),
		clock: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
	}
}

// tick returns strictly increasing times so ordering is deterministic.
func (h *harness) tick() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clock = h.clock.Add(time.Second)
	return h.clock
}

func (h *harness) run(t *testing.T, fn func(ctx context.Context, l *ledger.Ledger) error) error {
	t.Helper()
	return h.store.WithinTx(context.Background(), func(ctx context.Context, tx appointment.Tx) error {
		l := ledger.New(tx.Wallets())
		l.Now = h.tick
		return fn(ctx, l)
	})
}

func (h *harness) credit(t *testing.T, user uuid.UUID, amount string) {
	t.Helper()
	err := h.run(t, func(ctx context.Context, l *ledger.Ledger) error {
		_, err := l.Credit(ctx, ledger.Entry{UserID: user, Amount: dec(amount), Reason: ledger.ReasonTopUp})
		return err
	})
	require.NoError(t, err)
}

func (h *harness) balance(t *testing.T, user uuid.UUID) decimal.Decimal {
	t.Helper()
	var b decimal.Decimal
	err := h.run(t, func(ctx context.Context, l *ledger.Ledger) error {
		var err error
		b, err = l.Balance(ctx, user)
		return err
	})
	require.NoError(t, err)
	return b
}

// =============================================================================
// CREDIT / DEBIT
// =============================================================================

func TestCredit_CreatesWalletLazily(t *testing.T) {
	h := newHarness()
	user := uuid.New()

	assert.True(t, h.balance(t, user).IsZero())

	h.credit(t, user, "100.00")

	assert.Equal(t, "100.00", h.balance(t, user).StringFixed(2))
}

func TestCredit_RecordsSignedTransaction(t *testing.T) {
	h := newHarness()
	user := uuid.New()
	apptID := uuid.New()

	var tx *ledger.Transaction
	err := h.run(t, func(ctx context.Context, l *ledger.Ledger) error {
		var err error
		tx, err = l.Credit(ctx, ledger.Entry{
			UserID:        user,
			Amount:        dec("12.50"),
			Reason:        ledger.ReasonRefund,
			AppointmentID: &apptID,
			Description:   "refund",
		})
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, ledger.TxCredit, tx.Type)
	assert.True(t, tx.Amount.Equal(dec("12.50")))
	require.NotNil(t, tx.AppointmentID)
	assert.Equal(t, apptID, *tx.AppointmentID)
}

func TestDebit_InsufficientFunds_LeavesWalletUntouched(t *testing.T) {
	// GIVEN: a wallet holding 40.00
	h := newHarness()
	user := uuid.New()
	h.credit(t, user, "40.00")

	// WHEN: debiting 50.00
	err := h.run(t, func(ctx context.Context, l *ledger.Ledger) error {
		_, err := l.Debit(ctx, ledger.Entry{UserID: user, Amount: dec("50.00"), Reason: ledger.ReasonWithdrawal})
		return err
	})

	// THEN: the debit is rejected with both amounts and nothing changes
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	var ife *ledger.InsufficientFundsError
	require.True(t, errors.As(err, &ife))
	assert.Equal(t, "50.00", ife.Required.StringFixed(2))
	assert.Equal(t, "40.00", ife.Available.StringFixed(2))

	assert.Equal(t, "40.00", h.balance(t, user).StringFixed(2))

	var txs []ledger.Transaction
	require.NoError(t, h.run(t, func(ctx context.Context, l *ledger.Ledger) error {
		var err error
		txs, err = l.Transactions(ctx, user, 10, 0)
		return err
	}))
	assert.Len(t, txs, 1)
}

func TestDebit_ExactBalanceSucceeds(t *testing.T) {
	h := newHarness()
	user := uuid.New()
	h.credit(t, user, "25.00")

	err := h.run(t, func(ctx context.Context, l *ledger.Ledger) error {
		tx, err := l.Debit(ctx, ledger.Entry{UserID: user, Amount: dec("25.00"), Reason: ledger.ReasonWithdrawal})
		if err != nil {
			return err
		}
		assert.Equal(t, ledger.TxDebit, tx.Type)
		assert.True(t, tx.Amount.Equal(dec("-25.00")))
		return nil
	})
	require.NoError(t, err)
	assert.True(t, h.balance(t, user).IsZero())
}

func TestAmountValidation(t *testing.T) {
	h := newHarness()
	user := uuid.New()

	for _, amount := range []string{"0", "-5.00", "1.001"} {
		t.Run(amount, func(t *testing.T) {
			err := h.run(t, func(ctx context.Context, l *ledger.Ledger) error {
				_, err := l.Credit(ctx, ledger.Entry{UserID: user, Amount: dec(amount), Reason: ledger.ReasonTopUp})
				return err
			})
			assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
		})
	}
}

func TestConcurrentDebits_NeverOverdraw(t *testing.T) {
	// GIVEN: 100.00 and ten concurrent debits of 20.00
	h := newHarness()
	user := uuid.New()
	h.credit(t, user, "100.00")

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := h.run(t, func(ctx context.Context, l *ledger.Ledger) error {
				_, err := l.Debit(ctx, ledger.Entry{UserID: user, Amount: dec("20.00"), Reason: ledger.ReasonWithdrawal})
				return err
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
			} else if errors.Is(err, ledger.ErrInsufficientFunds) {
				rejected++
			}
		}()
	}
	wg.Wait()

	// THEN: exactly five succeed and the balance lands on zero
	assert.Equal(t, 5, succeeded)
	assert.Equal(t, 5, rejected)
	assert.True(t, h.balance(t, user).IsZero())
}

func TestFailedUnitOfWork_RollsBackLedgerWrites(t *testing.T) {
	h := newHarness()
	user := uuid.New()
	boom := errors.New("boom")

	err := h.run(t, func(ctx context.Context, l *ledger.Ledger) error {
		if _, err := l.Credit(ctx, ledger.Entry{UserID: user, Amount: dec("10.00"), Reason: ledger.ReasonTopUp}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	assert.True(t, h.balance(t, user).IsZero())
}

// =============================================================================
// HISTORY AND AUDIT
// =============================================================================

func TestTransactions_NewestFirstWithPaging(t *testing.T) {
	h := newHarness()
	user := uuid.New()
	h.credit(t, user, "1.00")
	h.credit(t, user, "2.00")
	h.credit(t, user, "3.00")

	var page []ledger.Transaction
	require.NoError(t, h.run(t, func(ctx context.Context, l *ledger.Ledger) error {
		var err error
		page, err = l.Transactions(ctx, user, 2, 0)
		return err
	}))
	require.Len(t, page, 2)
	assert.Equal(t, "3.00", page[0].Amount.StringFixed(2))
	assert.Equal(t, "2.00", page[1].Amount.StringFixed(2))

	require.NoError(t, h.run(t, func(ctx context.Context, l *ledger.Ledger) error {
		var err error
		page, err = l.Transactions(ctx, user, 2, 2)
		return err
	}))
	require.Len(t, page, 1)
	assert.Equal(t, "1.00", page[0].Amount.StringFixed(2))
}

func TestAudit_BalanceMatchesSum(t *testing.T) {
	h := newHarness()
	user := uuid.New()
	h.credit(t, user, "100.00")
	require.NoError(t, h.run(t, func(ctx context.Context, l *ledger.Ledger) error {
		_, err := l.Debit(ctx, ledger.Entry{UserID: user, Amount: dec("30.25"), Reason: ledger.ReasonWithdrawal})
		return err
	}))

	var result ledger.AuditResult
	require.NoError(t, h.run(t, func(ctx context.Context, l *ledger.Ledger) error {
		var err error
		result, err = l.Audit(ctx, user)
		return err
	}))

	assert.True(t, result.Consistent())
	assert.Equal(t, "69.75", result.Balance.StringFixed(2))
	assert.Equal(t, "69.75", result.Sum.StringFixed(2))
}

func TestAuditAll_ReportsDrift(t *testing.T) {
	h := newHarness()
	user := uuid.New()
	h.credit(t, user, "10.00")

	// Corrupt the stored balance behind the ledger's back
	require.NoError(t, h.store.WithinTx(context.Background(), func(ctx context.Context, tx appointment.Tx) error {
		w, err := tx.Wallets().GetWallet(ctx, user)
		if err != nil {
			return err
		}
		return tx.Wallets().SaveBalance(ctx, w.ID, dec("12.00"))
	}))

	var results []ledger.AuditResult
	require.NoError(t, h.run(t, func(ctx context.Context, l *ledger.Ledger) error {
		var err error
		results, err = l.AuditAll(ctx)
		return err
	}))

	require.Len(t, results, 1)
	assert.False(t, results[0].Consistent())
	assert.Equal(t, "2.00", results[0].Drift.StringFixed(2))
}
