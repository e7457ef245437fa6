package settlement_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/telemed-queue/internal/appointment"
	"github.com/hackgods/telemed-queue/internal/ledger"
	"github.com/hackgods/telemed-queue/internal/settlement"
	"github.com/hackgods/telemed-queue/internal/store/memory"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func defaultPolicy() settlement.Policy {
	return settlement.Policy{
		CommissionRate:      dec("0.05"),
		CancellationFeeRate: dec("0.05"),
	}
}

type fixture struct {
	store   *memory.Store
	settler *settlement.Settler
	parties settlement.Parties
}

func newFixture() *fixture {
	return &fixture{
		store:   memory.New(),
		settler: settlement.NewSettler(defaultPolicy(), zerolog.Nop()),
		parties: settlement.Parties{
			AppointmentID: uuid.New(),
			PatientID:     uuid.New(),
			DoctorID:      uuid.New(),
		},
	}
}

func (f *fixture) run(t *testing.T, fn func(ctx context.Context, l *ledger.Ledger) error) error {
	t.Helper()
	return f.store.WithinTx(context.Background(), func(ctx context.Context, tx appointment.Tx) error {
		return fn(ctx, ledger.New(tx.Wallets()))
	})
}

func (f *fixture) fund(t *testing.T, user uuid.UUID, amount string) {
	t.Helper()
	require.NoError(t, f.run(t, func(ctx context.Context, l *ledger.Ledger) error {
		_, err := l.Credit(ctx, ledger.Entry{UserID: user, Amount: dec(amount), Reason: ledger.ReasonTopUp})
		return err
	}))
}

func (f *fixture) balance(t *testing.T, user uuid.UUID) string {
	t.Helper()
	var b decimal.Decimal
	require.NoError(t, f.run(t, func(ctx context.Context, l *ledger.Ledger) error {
		var err error
		b, err = l.Balance(ctx, user)
		return err
	}))
	return b.StringFixed(2)
}

func (f *fixture) pay(t *testing.T, fee string) (*settlement.PaymentResult, error) {
	t.Helper()
	var res *settlement.PaymentResult
	err := f.run(t, func(ctx context.Context, l *ledger.Ledger) error {
		var err error
		res, err = f.settler.Pay(ctx, l, f.parties, dec(fee))
		return err
	})
	return res, err
}

func TestPolicy_RoundsHalfUp(t *testing.T) {
	p := defaultPolicy()

	assert.Equal(t, "50.00", p.Commission(dec("1000.00")).StringFixed(2))
	// 0.05 * 10.10 = 0.505
	assert.Equal(t, "0.51", p.Commission(dec("10.10")).StringFixed(2))
	assert.Equal(t, "0.50", p.CancellationFee(dec("9.99")).StringFixed(2))
}

func TestPay_ChargesFeePlusCommission(t *testing.T) {
	// GIVEN: fee 1000.00 and a patient holding 2000.00
	f := newFixture()
	f.fund(t, f.parties.PatientID, "2000.00")

	// WHEN: the patient pays
	res, err := f.pay(t, "1000.00")
	require.NoError(t, err)

	// THEN: commission 50.00, total 1050.00, doctor gets the fee
	assert.Equal(t, "1000.00", res.ConsultationFee.StringFixed(2))
	assert.Equal(t, "50.00", res.PlatformFee.StringFixed(2))
	assert.Equal(t, "1050.00", res.TotalPaid.StringFixed(2))
	assert.Equal(t, "950.00", res.PatientNewBalance.StringFixed(2))

	assert.Equal(t, "950.00", f.balance(t, f.parties.PatientID))
	assert.Equal(t, "1000.00", f.balance(t, f.parties.DoctorID))
}

func TestPay_InsufficientFunds(t *testing.T) {
	f := newFixture()
	f.fund(t, f.parties.PatientID, "1000.00")

	_, err := f.pay(t, "1000.00")

	var ife *ledger.InsufficientFundsError
	require.ErrorAs(t, err, &ife)
	assert.Equal(t, "1050.00", ife.Required.StringFixed(2))
	assert.Equal(t, "1000.00", ife.Available.StringFixed(2))

	assert.Equal(t, "1000.00", f.balance(t, f.parties.PatientID))
	assert.Equal(t, "0.00", f.balance(t, f.parties.DoctorID))
}

func TestPay_Twice_AlreadyPaid(t *testing.T) {
	f := newFixture()
	f.fund(t, f.parties.PatientID, "5000.00")

	_, err := f.pay(t, "100.00")
	require.NoError(t, err)

	_, err = f.pay(t, "100.00")
	assert.ErrorIs(t, err, settlement.ErrAlreadyPaid)
	assert.Equal(t, "4895.00", f.balance(t, f.parties.PatientID))
}

func TestPay_ZeroFeeRejected(t *testing.T) {
	f := newFixture()
	f.fund(t, f.parties.PatientID, "10.00")

	_, err := f.pay(t, "0.00")
	assert.ErrorIs(t, err, settlement.ErrNoFee)
}

func TestCancelRefund_WithholdsCancellationFee(t *testing.T) {
	// GIVEN: a paid appointment with fee 1000.00
	f := newFixture()
	f.fund(t, f.parties.PatientID, "1050.00")
	_, err := f.pay(t, "1000.00")
	require.NoError(t, err)

	// WHEN: it is cancelled
	var res *settlement.RefundResult
	require.NoError(t, f.run(t, func(ctx context.Context, l *ledger.Ledger) error {
		var err error
		res, err = f.settler.CancelRefund(ctx, l, f.parties, dec("1000.00"))
		return err
	}))

	// THEN: 50.00 withheld, 950.00 back to the patient, doctor debited 950.00
	assert.Equal(t, "50.00", res.CancellationFee.StringFixed(2))
	assert.Equal(t, "950.00", res.RefundAmount.StringFixed(2))
	assert.True(t, res.DoctorDebited)
	assert.Equal(t, "950.00", f.balance(t, f.parties.PatientID))
	assert.Equal(t, "50.00", f.balance(t, f.parties.DoctorID))
}

func TestCancelRefund_SkipsDoctorDebitWhenShort(t *testing.T) {
	f := newFixture()
	f.fund(t, f.parties.PatientID, "1050.00")
	_, err := f.pay(t, "1000.00")
	require.NoError(t, err)

	// doctor withdraws most of the fee before the cancellation
	require.NoError(t, f.run(t, func(ctx context.Context, l *ledger.Ledger) error {
		_, err := l.Debit(ctx, ledger.Entry{UserID: f.parties.DoctorID, Amount: dec("900.00"), Reason: ledger.ReasonWithdrawal})
		return err
	}))

	var res *settlement.RefundResult
	require.NoError(t, f.run(t, func(ctx context.Context, l *ledger.Ledger) error {
		var err error
		res, err = f.settler.CancelRefund(ctx, l, f.parties, dec("1000.00"))
		return err
	}))

	assert.False(t, res.DoctorDebited)
	assert.Equal(t, "950.00", f.balance(t, f.parties.PatientID))
	assert.Equal(t, "100.00", f.balance(t, f.parties.DoctorID))
}

func TestRefund_ReturnsOriginalPayment(t *testing.T) {
	f := newFixture()
	f.fund(t, f.parties.PatientID, "105.00")
	f.fund(t, f.parties.DoctorID, "5.00")
	_, err := f.pay(t, "100.00")
	require.NoError(t, err)

	var res *settlement.RefundResult
	require.NoError(t, f.run(t, func(ctx context.Context, l *ledger.Ledger) error {
		var err error
		res, err = f.settler.Refund(ctx, l, f.parties)
		return err
	}))

	assert.Equal(t, "105.00", res.RefundAmount.StringFixed(2))
	assert.True(t, res.CancellationFee.IsZero())
	assert.Equal(t, "105.00", f.balance(t, f.parties.PatientID))
	assert.Equal(t, "0.00", f.balance(t, f.parties.DoctorID))

	err = f.run(t, func(ctx context.Context, l *ledger.Ledger) error {
		_, err := f.settler.Refund(ctx, l, f.parties)
		return err
	})
	assert.ErrorIs(t, err, settlement.ErrAlreadyRefunded)
}

func TestRefund_WithoutPayment(t *testing.T) {
	f := newFixture()

	err := f.run(t, func(ctx context.Context, l *ledger.Ledger) error {
		_, err := f.settler.Refund(ctx, l, f.parties)
		return err
	})
	assert.ErrorIs(t, err, settlement.ErrPaymentNotFound)
}

func TestRefund_DoctorShortRollsBackPatientCredit(t *testing.T) {
	f := newFixture()
	f.fund(t, f.parties.PatientID, "105.00")
	_, err := f.pay(t, "100.00")
	require.NoError(t, err)

	// doctor holds 100.00, refund needs 105.00
	err = f.run(t, func(ctx context.Context, l *ledger.Ledger) error {
		_, err := f.settler.Refund(ctx, l, f.parties)
		return err
	})
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	assert.Equal(t, "0.00", f.balance(t, f.parties.PatientID))
	assert.Equal(t, "100.00", f.balance(t, f.parties.DoctorID))
}
