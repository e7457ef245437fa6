package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Repository is scoped to the caller's transaction. LockWallet must hold the
// wallet row until that transaction ends so concurrent debits serialize.
type Repository interface {
	// LockWallet returns the user's wallet, creating an empty one if needed.
	LockWallet(ctx context.Context, userID uuid.UUID) (*Wallet, error)
	GetWallet(ctx context.Context, userID uuid.UUID) (*Wallet, error)
	ListWallets(ctx context.Context) ([]Wallet, error)
	SaveBalance(ctx context.Context, walletID uuid.UUID, balance decimal.Decimal) error

	InsertTransaction(ctx context.Context, tx *Transaction) error
	// ListTransactions returns newest first.
	ListTransactions(ctx context.Context, walletID uuid.UUID, limit, offset int) ([]Transaction, error)
	FindByAppointment(ctx context.Context, appointmentID uuid.UUID, reason Reason) ([]Transaction, error)
	SumTransactions(ctx context.Context, walletID uuid.UUID) (decimal.Decimal, error)
}
