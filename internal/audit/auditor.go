package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/telemed-queue/internal/appointment"
	"github.com/hackgods/telemed-queue/internal/events"
	"github.com/hackgods/telemed-queue/internal/ledger"
)

// Keys are the routing keys of events that move money.
var Keys = []string{
	events.Event{Type: events.AppointmentPaid}.RoutingKey(),
	events.Event{Type: events.AppointmentCancelled}.RoutingKey(),
	events.Event{Type: events.AppointmentRefunded}.RoutingKey(),
}

// Report summarises one sweep over all wallets.
type Report struct {
	Wallets  int
	Drifting []ledger.AuditResult
}

// Auditor recomputes wallet balances from their transactions and logs any
// wallet whose stored balance disagrees.
type Auditor struct {
	store appointment.Store
	log   zerolog.Logger
}

func NewAuditor(store appointment.Store, log zerolog.Logger) *Auditor {
	return &Auditor{
		store: store,
		log:   log.With().Str("component", "ledger-auditor").Logger(),
	}
}

func (a *Auditor) RunOnce(ctx context.Context) (Report, error) {
	var results []ledger.AuditResult
	err := a.store.ReadOnly(ctx, func(ctx context.Context, tx appointment.Tx) error {
		var err error
		results, err = ledger.New(tx.Wallets()).AuditAll(ctx)
		return err
	})
	if err != nil {
		return Report{}, fmt.Errorf("audit wallets: %w", err)
	}

	report := Report{Wallets: len(results)}
	for _, r := range results {
		if !r.Consistent() {
			report.Drifting = append(report.Drifting, r)
			a.logDrift(r)
		}
	}
	return report, nil
}

// HandleEvent audits the two wallets touched by a money-moving event.
func (a *Auditor) HandleEvent(ctx context.Context, ev events.Event) error {
	var drifting []ledger.AuditResult

	err := a.store.ReadOnly(ctx, func(ctx context.Context, tx appointment.Tx) error {
		l := ledger.New(tx.Wallets())
		for _, user := range []uuid.UUID{ev.PatientID, ev.DoctorID} {
			if user == uuid.Nil {
				continue
			}
			r, err := l.Audit(ctx, user)
			if errors.Is(err, ledger.ErrWalletNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if !r.Consistent() {
				drifting = append(drifting, r)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("audit after %s: %w", ev.Type, err)
	}

	for _, r := range drifting {
		a.logDrift(r)
	}
	a.log.Debug().
		Str("event", ev.Type).
		Str("appointment_id", ev.AppointmentID.String()).
		Int("drifting", len(drifting)).
		Msg("event audited")
	return nil
}

func (a *Auditor) logDrift(r ledger.AuditResult) {
	a.log.Error().
		Str("user_id", r.UserID.String()).
		Str("wallet_id", r.WalletID.String()).
		Str("balance", r.Balance.StringFixed(2)).
		Str("sum", r.Sum.StringFixed(2)).
		Str("drift", r.Drift.StringFixed(2)).
		Msg("wallet balance drift")
}
