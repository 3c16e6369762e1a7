package services

import (
	"context"

	"github.com/meridianhq/billing-ledger/internal/model"
)

// LedgerService is the read side: balances and transaction listings for
// the HTTP API.
type LedgerService struct {
	store    TransactionStore
	accounts AccountStore
}

func NewLedgerService(store TransactionStore, accounts AccountStore) *LedgerService {
	return &LedgerService{
		store:    store,
		accounts: accounts,
	}
}

// GetBalance sums an account's rows in one currency. The sum over all
// non-deleted rows is the account's balance by definition; nothing is
// cached or materialized.
func (s *LedgerService) GetBalance(ctx context.Context, accountID int64, currency string) (int64, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return 0, err
	}
	if account == nil {
		return 0, ErrUnknownAccount
	}

	return s.store.SumAmountByAccount(ctx, accountID, currency)
}

// ListTransactions pages through ledger rows matching the filter.
func (s *LedgerService) ListTransactions(ctx context.Context, f model.TransactionFilter) ([]*model.Transaction, int64, error) {
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 100
	}
	return s.store.List(ctx, f)
}

// GetTransaction resolves one row by id.
func (s *LedgerService) GetTransaction(ctx context.Context, id int64) (*model.Transaction, error) {
	return s.store.GetByID(ctx, id)
}

// Get reports liveness for the health endpoint.
func (s *LedgerService) Get() error {
	return nil
}
