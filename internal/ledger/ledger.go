package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Ledger applies credits and debits. It never opens transactions itself:
// build one per unit of work around a transaction-scoped Repository so the
// balance update and the transaction row commit together with the caller's
// other writes.
type Ledger struct {
	repo Repository
	Now  func() time.Time
}

func New(repo Repository) *Ledger {
	return &Ledger{repo: repo, Now: time.Now}
}

func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() || !amount.Equal(amount.Round(2)) {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	return nil
}

func (l *Ledger) Credit(ctx context.Context, e Entry) (*Transaction, error) {
	if err := ValidateAmount(e.Amount); err != nil {
		return nil, err
	}

	w, err := l.repo.LockWallet(ctx, e.UserID)
	if err != nil {
		return nil, fmt.Errorf("lock wallet: %w", err)
	}

	return l.apply(ctx, w, e, TxCredit, e.Amount)
}

// Debit fails with *InsufficientFundsError, leaving the wallet untouched,
// when the balance is below the amount.
func (l *Ledger) Debit(ctx context.Context, e Entry) (*Transaction, error) {
	if err := ValidateAmount(e.Amount); err != nil {
		return nil, err
	}

	w, err := l.repo.LockWallet(ctx, e.UserID)
	if err != nil {
		return nil, fmt.Errorf("lock wallet: %w", err)
	}

	if w.Balance.LessThan(e.Amount) {
		return nil, &InsufficientFundsError{
			UserID:    e.UserID,
			Required:  e.Amount,
			Available: w.Balance,
		}
	}

	return l.apply(ctx, w, e, TxDebit, e.Amount.Neg())
}

func (l *Ledger) apply(ctx context.Context, w *Wallet, e Entry, typ TxType, signed decimal.Decimal) (*Transaction, error) {
	balance := w.Balance.Add(signed)
	if err := l.repo.SaveBalance(ctx, w.ID, balance); err != nil {
		return nil, fmt.Errorf("save balance: %w", err)
	}

	tx := &Transaction{
		ID:            uuid.New(),
		WalletID:      w.ID,
		Amount:        signed,
		Type:          typ,
		Reason:        e.Reason,
		AppointmentID: e.AppointmentID,
		Description:   e.Description,
		CreatedAt:     l.Now().UTC(),
	}
	if err := l.repo.InsertTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("insert transaction: %w", err)
	}

	w.Balance = balance
	return tx, nil
}

// Wallet returns the user's wallet, creating it on first access.
func (l *Ledger) Wallet(ctx context.Context, userID uuid.UUID) (*Wallet, error) {
	w, err := l.repo.LockWallet(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("lock wallet: %w", err)
	}
	return w, nil
}

// Balance reads without creating; a user with no wallet has zero.
func (l *Ledger) Balance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	w, err := l.repo.GetWallet(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrWalletNotFound) {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	return w.Balance, nil
}

func (l *Ledger) Transactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Transaction, error) {
	w, err := l.repo.GetWallet(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrWalletNotFound) {
			return []Transaction{}, nil
		}
		return nil, err
	}
	return l.repo.ListTransactions(ctx, w.ID, limit, offset)
}

// Audit compares a wallet's stored balance with the sum of its transactions.
func (l *Ledger) Audit(ctx context.Context, userID uuid.UUID) (AuditResult, error) {
	w, err := l.repo.GetWallet(ctx, userID)
	if err != nil {
		return AuditResult{}, err
	}
	return l.audit(ctx, *w)
}

func (l *Ledger) AuditAll(ctx context.Context) ([]AuditResult, error) {
	wallets, err := l.repo.ListWallets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list wallets: %w", err)
	}

	results := make([]AuditResult, 0, len(wallets))
	for _, w := range wallets {
		r, err := l.audit(ctx, w)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, nil
}

func (l *Ledger) audit(ctx context.Context, w Wallet) (AuditResult, error) {
	sum, err := l.repo.SumTransactions(ctx, w.ID)
	if err != nil {
		return AuditResult{}, fmt.Errorf("sum transactions for wallet %s: %w", w.ID, err)
	}
	return AuditResult{
		UserID:   w.UserID,
		WalletID: w.ID,
		Balance:  w.Balance,
		Sum:      sum,
		Drift:    w.Balance.Sub(sum),
	}, nil
}

// AppointmentTransactions returns every wallet transaction with the given
// reason recorded against an appointment, oldest first.
func (l *Ledger) AppointmentTransactions(ctx context.Context, appointmentID uuid.UUID, reason Reason) ([]Transaction, error) {
	txs, err := l.repo.FindByAppointment(ctx, appointmentID, reason)
	if err != nil {
		return nil, fmt.Errorf("find %s transactions: %w", reason, err)
	}
	return txs, nil
}
