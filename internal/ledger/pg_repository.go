package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/hackgods/telemed-queue/internal/db"
)

// PgRepository runs against whatever Querier it is given; pass a pgx.Tx so
// row locks last for the enclosing transaction.
type PgRepository struct {
	q db.Querier
}

func NewPgRepository(q db.Querier) *PgRepository {
	return &PgRepository{q: q}
}

const walletColumns = `id, user_id, balance::text, created_at, updated_at`

const transactionColumns = `id, wallet_id, amount::text, type, reason, appointment_id, description, created_at`

// Helpers

func scanWallet(row pgx.Row) (*Wallet, error) {
	var w Wallet
	var balance string

	err := row.Scan(
		&w.ID,
		&w.UserID,
		&balance,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}

	w.Balance, err = decimal.NewFromString(balance)
	if err != nil {
		return nil, fmt.Errorf("parse balance %q: %w", balance, err)
	}
	return &w, nil
}

func scanTransaction(row pgx.Row) (*Transaction, error) {
	var t Transaction
	var amount string

	err := row.Scan(
		&t.ID,
		&t.WalletID,
		&amount,
		&t.Type,
		&t.Reason,
		&t.AppointmentID,
		&t.Description,
		&t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	return &t, nil
}

func collectTransactions(rows pgx.Rows) ([]Transaction, error) {
	defer rows.Close()

	result := []Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Interface methods

func (r *PgRepository) LockWallet(ctx context.Context, userID uuid.UUID) (*Wallet, error) {
	_, err := r.q.Exec(ctx, `
		INSERT INTO wallets (id, user_id, balance, created_at, updated_at)
		VALUES ($1, $2, 0, now(), now())
		ON CONFLICT (user_id) DO NOTHING
	`, uuid.New(), userID)
	if err != nil {
		return nil, fmt.Errorf("ensure wallet: %w", err)
	}

	row := r.q.QueryRow(ctx, `
		SELECT `+walletColumns+`
		FROM wallets
		WHERE user_id = $1
		FOR UPDATE
	`, userID)
	return scanWallet(row)
}

func (r *PgRepository) GetWallet(ctx context.Context, userID uuid.UUID) (*Wallet, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+walletColumns+`
		FROM wallets
		WHERE user_id = $1
	`, userID)
	return scanWallet(row)
}

func (r *PgRepository) ListWallets(ctx context.Context) ([]Wallet, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+walletColumns+`
		FROM wallets
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) SaveBalance(ctx context.Context, walletID uuid.UUID, balance decimal.Decimal) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE wallets
		SET balance = $2::numeric,
		    updated_at = now()
		WHERE id = $1
	`, walletID, balance.StringFixed(2))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrWalletNotFound
	}
	return nil
}

func (r *PgRepository) InsertTransaction(ctx context.Context, t *Transaction) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO wallet_transactions
			(id, wallet_id, amount, type, reason, appointment_id, description, created_at)
		VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, $8)
	`, t.ID, t.WalletID, t.Amount.StringFixed(2), t.Type, t.Reason, t.AppointmentID, t.Description, t.CreatedAt)
	return err
}

func (r *PgRepository) ListTransactions(ctx context.Context, walletID uuid.UUID, limit, offset int) ([]Transaction, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM wallet_transactions
		WHERE wallet_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3
	`, walletID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

func (r *PgRepository) FindByAppointment(ctx context.Context, appointmentID uuid.UUID, reason Reason) ([]Transaction, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM wallet_transactions
		WHERE appointment_id = $1
		  AND reason = $2
		ORDER BY created_at
	`, appointmentID, reason)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

func (r *PgRepository) SumTransactions(ctx context.Context, walletID uuid.UUID) (decimal.Decimal, error) {
	var sum string
	err := r.q.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)::text
		FROM wallet_transactions
		WHERE wallet_id = $1
	`, walletID).Scan(&sum)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(sum)
}
