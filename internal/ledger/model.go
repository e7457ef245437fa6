package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TxType string

const (
	TxCredit TxType = "CREDIT"
	TxDebit  TxType = "DEBIT"
)

type Reason string

const (
	ReasonTopUp           Reason = "TOP_UP"
	ReasonPaymentDone     Reason = "PAYMENT_DONE"
	ReasonPaymentReceived Reason = "PAYMENT_RECEIVED"
	ReasonRefund          Reason = "REFUND"
	ReasonWithdrawal      Reason = "WITHDRAWAL"
)

// Wallet is created lazily the first time a user is credited, debited or viewed.
type Wallet struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Balance   decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Transaction is immutable once written. Amount is signed: credits are
// positive and debits negative, so a wallet's balance is the plain sum.
type Transaction struct {
	ID            uuid.UUID
	WalletID      uuid.UUID
	Amount        decimal.Decimal
	Type          TxType
	Reason        Reason
	AppointmentID *uuid.UUID
	Description   string
	CreatedAt     time.Time
}

// Entry describes one credit or debit. Amount is always positive here; the
// sign is applied when the transaction is recorded.
type Entry struct {
	UserID        uuid.UUID
	Amount        decimal.Decimal
	Reason        Reason
	AppointmentID *uuid.UUID
	Description   string
}

type AuditResult struct {
	UserID   uuid.UUID
	WalletID uuid.UUID
	Balance  decimal.Decimal
	Sum      decimal.Decimal
	Drift    decimal.Decimal
}

func (r AuditResult) Consistent() bool {
	return r.Drift.IsZero()
}
