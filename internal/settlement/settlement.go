// Package settlement moves money between wallets in response to appointment
// payment, cancellation and refund. Every operation works on a Ledger bound
// to the caller's transaction, so a failure part way leaves nothing behind.
package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/hackgods/telemed-queue/internal/ledger"
)

var (
	ErrAlreadyPaid     = errors.New("appointment already paid")
	ErrAlreadyRefunded = errors.New("refund already processed")
	ErrPaymentNotFound = errors.New("no payment found for appointment")
	ErrNoFee           = errors.New("doctor has no consultation fee set")
)

// Policy holds the platform rates. The commission is charged on top of the
// fee and retained by the platform; no wallet receives it.
type Policy struct {
	CommissionRate      decimal.Decimal
	CancellationFeeRate decimal.Decimal
}

func (p Policy) Commission(fee decimal.Decimal) decimal.Decimal {
	return fee.Mul(p.CommissionRate).Round(2)
}

func (p Policy) CancellationFee(fee decimal.Decimal) decimal.Decimal {
	return fee.Mul(p.CancellationFeeRate).Round(2)
}

// Parties identifies the wallets touched by a settlement.
type Parties struct {
	AppointmentID uuid.UUID
	PatientID     uuid.UUID
	DoctorID      uuid.UUID
}

type PaymentResult struct {
	ConsultationFee   decimal.Decimal
	PlatformFee       decimal.Decimal
	TotalPaid         decimal.Decimal
	PatientNewBalance decimal.Decimal
}

type RefundResult struct {
	RefundAmount      decimal.Decimal
	CancellationFee   decimal.Decimal
	PatientNewBalance decimal.Decimal
	// DoctorDebited is false when a cancel refund skipped the doctor side.
	DoctorDebited bool
}

type Settler struct {
	policy Policy
	log    zerolog.Logger
}

func NewSettler(policy Policy, log zerolog.Logger) *Settler {
	return &Settler{policy: policy, log: log}
}

func (s *Settler) Policy() Policy {
	return s.policy
}

// Pay debits the patient fee plus commission and credits the doctor the fee.
// The caller marks the appointment paid in the same transaction.
func (s *Settler) Pay(ctx context.Context, l *ledger.Ledger, p Parties, fee decimal.Decimal) (*PaymentResult, error) {
	existing, err := l.AppointmentTransactions(ctx, p.AppointmentID, ledger.ReasonPaymentDone)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, ErrAlreadyPaid
	}

	if !fee.IsPositive() {
		return nil, ErrNoFee
	}

	commission := s.policy.Commission(fee)
	total := fee.Add(commission)
	apptID := p.AppointmentID

	if _, err := l.Debit(ctx, ledger.Entry{
		UserID:        p.PatientID,
		Amount:        total,
		Reason:        ledger.ReasonPaymentDone,
		AppointmentID: &apptID,
		Description:   fmt.Sprintf("Payment for appointment (includes %s platform fee)", commission.StringFixed(2)),
	}); err != nil {
		return nil, err
	}

	if _, err := l.Credit(ctx, ledger.Entry{
		UserID:        p.DoctorID,
		Amount:        fee,
		Reason:        ledger.ReasonPaymentReceived,
		AppointmentID: &apptID,
		Description:   "Payment received for appointment",
	}); err != nil {
		return nil, err
	}

	balance, err := l.Balance(ctx, p.PatientID)
	if err != nil {
		return nil, err
	}

	return &PaymentResult{
		ConsultationFee:   fee,
		PlatformFee:       commission,
		TotalPaid:         total,
		PatientNewBalance: balance,
	}, nil
}

// CancelRefund returns the fee minus the cancellation fee to the patient.
// The doctor is debited the same amount only when their balance covers it;
// otherwise the debit is skipped and logged, leaving the platform short.
func (s *Settler) CancelRefund(ctx context.Context, l *ledger.Ledger, p Parties, fee decimal.Decimal) (*RefundResult, error) {
	cancellationFee := s.policy.CancellationFee(fee)
	refund := fee.Sub(cancellationFee)
	apptID := p.AppointmentID

	result := &RefundResult{
		RefundAmount:    refund,
		CancellationFee: cancellationFee,
	}

	if refund.IsPositive() {
		if _, err := l.Credit(ctx, ledger.Entry{
			UserID:        p.PatientID,
			Amount:        refund,
			Reason:        ledger.ReasonRefund,
			AppointmentID: &apptID,
			Description:   fmt.Sprintf("Refund for cancelled appointment (%s cancellation fee deducted)", cancellationFee.StringFixed(2)),
		}); err != nil {
			return nil, err
		}

		doctorWallet, err := l.Wallet(ctx, p.DoctorID)
		if err != nil {
			return nil, err
		}

		if doctorWallet.Balance.GreaterThanOrEqual(refund) {
			if _, err := l.Debit(ctx, ledger.Entry{
				UserID:        p.DoctorID,
				Amount:        refund,
				Reason:        ledger.ReasonRefund,
				AppointmentID: &apptID,
				Description:   fmt.Sprintf("Refund to patient (kept %s cancellation fee)", cancellationFee.StringFixed(2)),
			}); err != nil {
				return nil, err
			}
			result.DoctorDebited = true
		} else {
			s.log.Warn().
				Str("appointment_id", apptID.String()).
				Str("doctor_id", p.DoctorID.String()).
				Str("refund", refund.StringFixed(2)).
				Str("doctor_balance", doctorWallet.Balance.StringFixed(2)).
				Msg("doctor balance below refund, skipping doctor debit")
		}
	}

	balance, err := l.Balance(ctx, p.PatientID)
	if err != nil {
		return nil, err
	}
	result.PatientNewBalance = balance

	return result, nil
}

// Refund reverses the original payment in full for an appointment that was
// cancelled without a refund. No cancellation fee is withheld.
func (s *Settler) Refund(ctx context.Context, l *ledger.Ledger, p Parties) (*RefundResult, error) {
	payments, err := l.AppointmentTransactions(ctx, p.AppointmentID, ledger.ReasonPaymentDone)
	if err != nil {
		return nil, err
	}
	if len(payments) == 0 {
		return nil, ErrPaymentNotFound
	}

	refunds, err := l.AppointmentTransactions(ctx, p.AppointmentID, ledger.ReasonRefund)
	if err != nil {
		return nil, err
	}
	if len(refunds) > 0 {
		return nil, ErrAlreadyRefunded
	}

	amount := payments[0].Amount.Abs()
	apptID := p.AppointmentID

	if _, err := l.Credit(ctx, ledger.Entry{
		UserID:        p.PatientID,
		Amount:        amount,
		Reason:        ledger.ReasonRefund,
		AppointmentID: &apptID,
		Description:   "Refund for cancelled appointment",
	}); err != nil {
		return nil, err
	}

	if _, err := l.Debit(ctx, ledger.Entry{
		UserID:        p.DoctorID,
		Amount:        amount,
		Reason:        ledger.ReasonRefund,
		AppointmentID: &apptID,
		Description:   "Refund for cancelled appointment",
	}); err != nil {
		return nil, err
	}

	balance, err := l.Balance(ctx, p.PatientID)
	if err != nil {
		return nil, err
	}

	return &RefundResult{
		RefundAmount:      amount,
		CancellationFee:   decimal.Zero,
		PatientNewBalance: balance,
		DoctorDebited:     true,
	}, nil
}
