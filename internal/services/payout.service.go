package services

import (
	"context"

	gateway "github.com/meridianhq/billing-ledger/internal/gateways"
	"github.com/meridianhq/billing-ledger/internal/model"
	"github.com/meridianhq/billing-ledger/pkg/logger"
	"github.com/meridianhq/billing-ledger/pkg/prom"
)

// PayoutService settles an account's accumulated transfer legs into a
// single payout row, either from a rail-reported payout or from an
// explicit list of internal transfer ids.
type PayoutService struct {
	store    TransactionStore
	accounts AccountStore
	rails    gateway.Registry
}

func NewPayoutService(store TransactionStore, accounts AccountStore, rails gateway.Registry) *PayoutService {
	return &PayoutService{
		store:    store,
		accounts: accounts,
		rails:    rails,
	}
}

// CreatePayoutFromStripe reconciles a paid rail payout against the
// ledger. Matching is best-effort: rail activity with no internal
// transfer leg is logged and skipped, never fatal. Settlement must
// never claim more than the matched legs sum to, so the payout amount
// accumulates only from matches.
func (s *PayoutService) CreatePayoutFromStripe(ctx context.Context, payout *gateway.Payout, accountExternalID string) (*model.Transaction, error) {
	if payout.Status != gateway.PayoutStatusPaid {
		return nil, ErrStripePayoutNotPaid
	}

	account, err := s.accounts.GetByStripeID(ctx, accountExternalID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ErrUnknownAccount
	}

	existing, err := s.store.GetByTypeAndPayoutID(ctx, model.TransactionTypePayout, payout.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	rail, ok := s.rails.Stripe()
	if !ok {
		return nil, ErrUnsupportedAccountType
	}
	// Fetched before the unit of work opens so no lock is held across
	// the network call.
	bts, err := rail.ListBalanceTransactions(ctx, accountExternalID, payout.ID)
	if err != nil {
		return nil, err
	}

	payoutRow := &model.Transaction{
		Type:            model.TransactionTypePayout,
		Processor:       model.ProcessorStripe,
		AccountCurrency: payout.Currency,
		AccountAmount:   -payout.Amount,
		AccountID:       &account.ID,
		PayoutID:        &payout.ID,
	}

	err = s.store.WithinTransaction(ctx, func(ctx context.Context) error {
		payoutRow, err = s.store.Create(ctx, payoutRow)
		if err != nil {
			return err
		}

		var currency string
		var settled int64
		for _, bt := range bts {
			if bt.SourceTransferID == "" {
				continue
			}

			leg, err := s.store.GetUnsettledTransferLeg(ctx, account.ID, bt.SourceTransferID)
			if err != nil {
				return err
			}
			if leg == nil {
				logger.Warn("payout references unknown transfer, skipping",
					"payout_id", payout.ID, "transfer_id", bt.SourceTransferID, "account_id", account.ID)
				prom.IncPayoutLegUnmatched()
				continue
			}

			if err := s.store.LinkPayout(ctx, leg.ID, payoutRow.ID); err != nil {
				return err
			}
			currency = leg.Currency
			settled += leg.Amount
			prom.IncPayoutLegMatched()
		}

		if err := s.store.SetPayoutAmount(ctx, payoutRow.ID, currency, -settled); err != nil {
			return err
		}
		payoutRow.Currency = currency
		payoutRow.Amount = -settled
		return nil
	})
	if err != nil {
		return nil, err
	}

	prom.AddTransactionCreated(string(model.TransactionTypePayout), 1)
	return payoutRow, nil
}

// CreateManualPayout settles an explicit list of the account's transfer
// legs, for rails that move money out-of-band.
func (s *PayoutService) CreateManualPayout(ctx context.Context, account *model.Account, paidTransactionIDs []int64) (*model.Transaction, error) {
	var payoutRow *model.Transaction

	err := s.store.WithinTransaction(ctx, func(ctx context.Context) error {
		var currency string
		var settled int64
		legs := make([]*model.Transaction, 0, len(paidTransactionIDs))
		for _, id := range paidTransactionIDs {
			leg, err := s.store.GetByID(ctx, id)
			if err != nil {
				return err
			}
			if leg == nil || leg.AccountID == nil || *leg.AccountID != account.ID {
				return ErrUnknownTransaction
			}
			legs = append(legs, leg)
			currency = leg.Currency
			settled += leg.Amount
		}

		var err error
		payoutRow, err = s.store.Create(ctx, &model.Transaction{
			Type:            model.TransactionTypePayout,
			Currency:        currency,
			Amount:          -settled,
			AccountCurrency: currency,
			AccountAmount:   -settled,
			AccountID:       &account.ID,
		})
		if err != nil {
			return err
		}

		for _, leg := range legs {
			if err := s.store.LinkPayout(ctx, leg.ID, payoutRow.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	prom.AddTransactionCreated(string(model.TransactionTypePayout), 1)
	return payoutRow, nil
}
