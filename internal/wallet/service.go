package wallet

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/hackgods/telemed-queue/internal/appointment"
	"github.com/hackgods/telemed-queue/internal/auth"
	"github.com/hackgods/telemed-queue/internal/ledger"
)

const recentTransactions = 5

// Service exposes a user's own wallet. Any role may hold one.
type Service struct {
	store appointment.Store
	log   zerolog.Logger

	Now func() time.Time
}

func NewService(store appointment.Store, log zerolog.Logger) *Service {
	return &Service{
		store: store,
		log:   log.With().Str("component", "wallet").Logger(),
		Now:   time.Now,
	}
}

type Overview struct {
	Wallet *ledger.Wallet
	Recent []ledger.Transaction
}

type Movement struct {
	Transaction *ledger.Transaction
	NewBalance  decimal.Decimal
}

func (s *Service) Overview(ctx context.Context, actor auth.Actor) (*Overview, error) {
	out := &Overview{}
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx appointment.Tx) error {
		l := s.ledger(tx)

		w, err := l.Wallet(ctx, actor.UserID)
		if err != nil {
			return err
		}
		out.Wallet = w

		out.Recent, err = l.Transactions(ctx, actor.UserID, recentTransactions, 0)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("wallet overview: %w", err)
	}
	return out, nil
}

func (s *Service) Transactions(ctx context.Context, actor auth.Actor, limit, offset int) ([]ledger.Transaction, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	var txs []ledger.Transaction
	err := s.store.ReadOnly(ctx, func(ctx context.Context, tx appointment.Tx) error {
		var err error
		txs, err = s.ledger(tx).Transactions(ctx, actor.UserID, limit, offset)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return txs, nil
}

func (s *Service) TopUp(ctx context.Context, actor auth.Actor, amount decimal.Decimal) (*Movement, error) {
	return s.move(ctx, actor, ledger.Entry{
		UserID:      actor.UserID,
		Amount:      amount,
		Reason:      ledger.ReasonTopUp,
		Description: "Wallet top up",
	}, true)
}

func (s *Service) Withdraw(ctx context.Context, actor auth.Actor, amount decimal.Decimal) (*Movement, error) {
	return s.move(ctx, actor, ledger.Entry{
		UserID:      actor.UserID,
		Amount:      amount,
		Reason:      ledger.ReasonWithdrawal,
		Description: "Wallet withdrawal",
	}, false)
}

func (s *Service) move(ctx context.Context, actor auth.Actor, e ledger.Entry, credit bool) (*Movement, error) {
	out := &Movement{}
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx appointment.Tx) error {
		l := s.ledger(tx)

		var err error
		if credit {
			out.Transaction, err = l.Credit(ctx, e)
		} else {
			out.Transaction, err = l.Debit(ctx, e)
		}
		if err != nil {
			return err
		}

		out.NewBalance, err = l.Balance(ctx, actor.UserID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("user_id", actor.UserID.String()).
		Str("reason", string(e.Reason)).
		Str("amount", e.Amount.StringFixed(2)).
		Msg("wallet movement")

	return out, nil
}

func (s *Service) ledger(tx appointment.Tx) *ledger.Ledger {
	l := ledger.New(tx.Wallets())
	l.Now = s.Now
	return l
}
