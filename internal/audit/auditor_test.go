package audit_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/telemed-queue/internal/appointment"
	"github.com/hackgods/telemed-queue/internal/audit"
	"github.com/hackgods/telemed-queue/internal/events"
	"github.com/hackgods/telemed-queue/internal/ledger"
	"github.com/hackgods/telemed-queue/internal/store/memory"
)

func credit(t *testing.T, store *memory.Store, user uuid.UUID, amount string) {
	t.Helper()
	require.NoError(t, store.WithinTx(context.Background(), func(ctx context.Context, tx appointment.Tx) error {
		_, err := ledger.New(tx.Wallets()).Credit(ctx, ledger.Entry{
			UserID: user,
			Amount: decimal.RequireFromString(amount),
			Reason: ledger.ReasonTopUp,
		})
		return err
	}))
}

func corrupt(t *testing.T, store *memory.Store, user uuid.UUID, balance string) {
	t.Helper()
	require.NoError(t, store.WithinTx(context.Background(), func(ctx context.Context, tx appointment.Tx) error {
		w, err := tx.Wallets().GetWallet(ctx, user)
		if err != nil {
			return err
		}
		return tx.Wallets().SaveBalance(ctx, w.ID, decimal.RequireFromString(balance))
	}))
}

func TestRunOnce_ConsistentWallets(t *testing.T) {
	store := memory.New()
	credit(t, store, uuid.New(), "100.00")
	credit(t, store, uuid.New(), "25.50")

	report, err := audit.NewAuditor(store, zerolog.Nop()).RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Wallets)
	assert.Empty(t, report.Drifting)
}

func TestRunOnce_ReportsDrift(t *testing.T) {
	store := memory.New()
	user := uuid.New()
	credit(t, store, user, "100.00")
	credit(t, store, uuid.New(), "10.00")
	corrupt(t, store, user, "90.00")

	report, err := audit.NewAuditor(store, zerolog.Nop()).RunOnce(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Drifting, 1)
	assert.Equal(t, user, report.Drifting[0].UserID)
	assert.Equal(t, "-10.00", report.Drifting[0].Drift.StringFixed(2))
}

func TestHandleEvent_SkipsMissingWallets(t *testing.T) {
	store := memory.New()
	patient := uuid.New()
	credit(t, store, patient, "50.00")

	err := audit.NewAuditor(store, zerolog.Nop()).HandleEvent(context.Background(), events.Event{
		Type:          events.AppointmentPaid,
		AppointmentID: uuid.New(),
		PatientID:     patient,
		DoctorID:      uuid.New(),
	})
	assert.NoError(t, err)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, []string{"appointment.paid", "appointment.cancelled", "appointment.refunded"}, audit.Keys)
}
