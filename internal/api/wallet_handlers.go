package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/hackgods/telemed-queue/internal/auth"
	"github.com/hackgods/telemed-queue/internal/wallet"
)

func getWalletHandler(svc *wallet.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}

		overview, err := svc.Overview(r.Context(), actor)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, WalletResponse{
			WalletID:           overview.Wallet.ID,
			Balance:            overview.Wallet.Balance.StringFixed(2),
			RecentTransactions: toTransactionList(overview.Recent),
		})
	}
}

func listTransactionsHandler(svc *wallet.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		limit, offset, ok := pageParams(w, r)
		if !ok {
			return
		}

		txs, err := svc.Transactions(r.Context(), actor, limit, offset)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toTransactionList(txs))
	}
}

func topUpHandler(svc *wallet.Service) http.HandlerFunc {
	return movementHandler(svc.TopUp)
}

func withdrawHandler(svc *wallet.Service) http.HandlerFunc {
	return movementHandler(svc.Withdraw)
}

type movementFunc func(ctx context.Context, actor auth.Actor, amount decimal.Decimal) (*wallet.Movement, error)

func movementHandler(move movementFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}

		var req AmountRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "amount must be a decimal number")
			return
		}

		m, err := move(r.Context(), actor, req.Amount)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, MovementResponse{
			Transaction: toTransactionResponse(*m.Transaction),
			NewBalance:  m.NewBalance.StringFixed(2),
		})
	}
}
