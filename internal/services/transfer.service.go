package services

import (
	"context"

	gateway "github.com/meridianhq/billing-ledger/internal/gateways"
	"github.com/meridianhq/billing-ledger/internal/model"
	"github.com/meridianhq/billing-ledger/internal/repository"
	"github.com/meridianhq/billing-ledger/pkg/prom"
	"github.com/google/uuid"
)

// TransferService moves earned money to a connected account's external
// payout destination through the account's payment rail, recording the
// movement as a transfer pair in the payment's currency.
type TransferService struct {
	store    TransactionStore
	accounts AccountStore
	rails    gateway.Registry
}

func NewTransferService(store TransactionStore, accounts AccountStore, rails gateway.Registry) *TransferService {
	return &TransferService{
		store:    store,
		accounts: accounts,
		rails:    rails,
	}
}

// Create records a transfer pair and invokes the rail. Steps commit
// independently: the pair is inserted first, then the rail is called,
// then the rail's transfer id and the settled FX amount are written
// back. A failure between steps leaves the pair for reconciliation.
//
// An existing transfer pair for the same payment and attribution is
// returned as-is. Finding more than two legs is a data-integrity
// violation and is raised, never repaired.
func (s *TransferService) Create(ctx context.Context, destination *model.Account, payment *model.Transaction, amount int64, attr model.Attribution) (*model.TransactionPair, error) {
	processor, ok := destination.AccountType.Processor()
	if !ok {
		return nil, ErrUnsupportedAccountType
	}
	rail, ok := s.rails.For(processor)
	if !ok {
		return nil, ErrUnsupportedAccountType
	}

	account, err := s.accounts.CheckReviewThreshold(ctx, destination.ID, amount)
	if err != nil {
		return nil, err
	}
	if account.IsUnderReview() {
		return nil, ErrUnderReviewAccount
	}
	if !account.IsReady() {
		return nil, ErrNotReadyAccount
	}

	existing, err := s.store.ListTransfersByChargeID(ctx, *payment.ChargeID, attr)
	if err != nil {
		return nil, err
	}

	var pair *model.TransactionPair
	switch {
	case len(existing) > 2:
		return nil, ErrMoreThanTwoTransfers
	case len(existing) == 2:
		pair, err = repository.PairFromRows(existing)
		if err != nil {
			return nil, err
		}
		// A pair carrying the rail's transfer id is settled. One without
		// it means the rail call never succeeded; re-attempt it rather
		// than recording a transfer the rail never executed.
		if pair.Incoming.TransferID != nil {
			return pair, nil
		}
	default:
		key := uuid.NewString()
		pair = &model.TransactionPair{
			Outgoing: &model.Transaction{
				Type:                   model.TransactionTypeTransfer,
				Processor:              processor,
				Currency:               payment.Currency,
				Amount:                 -amount,
				AccountCurrency:        payment.Currency,
				AccountAmount:          -amount,
				TransferCorrelationKey: key,
				ChargeID:               payment.ChargeID,
				PledgeID:               attr.PledgeID,
				SubscriptionID:         attr.SubscriptionID,
				IssueRewardID:          attr.IssueRewardID,
				OrderID:                attr.OrderID,
			},
			Incoming: &model.Transaction{
				Type:                   model.TransactionTypeTransfer,
				Processor:              processor,
				Currency:               payment.Currency,
				Amount:                 amount,
				AccountCurrency:        payment.Currency,
				AccountAmount:          amount,
				AccountID:              &account.ID,
				TransferCorrelationKey: key,
				ChargeID:               payment.ChargeID,
				PledgeID:               attr.PledgeID,
				SubscriptionID:         attr.SubscriptionID,
				IssueRewardID:          attr.IssueRewardID,
				OrderID:                attr.OrderID,
			},
		}

		if err := s.store.CreatePair(ctx, pair); err != nil {
			return nil, err
		}
		prom.AddTransactionCreated(string(model.TransactionTypeTransfer), 2)
	}

	result, err := rail.Transfer(ctx, account.StripeID, pair.Incoming.Amount, *payment.ChargeID, map[string]string{
		"charge_id":      *payment.ChargeID,
		"transfer_key":   pair.Incoming.TransferCorrelationKey,
		"transaction_id": formatID(pair.Incoming.ID),
	})
	if err != nil {
		return nil, err
	}

	// Rails that settle out-of-band answer with an empty id: there is no
	// rail transfer to record and nothing to FX-correct.
	if result.ID == "" {
		return pair, nil
	}

	if err := s.store.SetTransferID(ctx, []int64{pair.Outgoing.ID, pair.Incoming.ID}, result.ID); err != nil {
		return nil, err
	}
	pair.Outgoing.TransferID = &result.ID
	pair.Incoming.TransferID = &result.ID

	if account.Currency != payment.Currency {
		if err := s.correctSettledAmount(ctx, rail, pair.Incoming, result.DestinationBalanceTransactionID); err != nil {
			return nil, err
		}
	}

	return pair, nil
}

// CreateFromCharge resolves the originating payment transaction by
// charge id before transferring.
func (s *TransferService) CreateFromCharge(ctx context.Context, destination *model.Account, chargeID string, amount int64, attr model.Attribution) (*model.TransactionPair, error) {
	payment, err := s.store.GetPaymentByChargeID(ctx, chargeID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, ErrPaymentTransactionForChargeDoesNotExist
	}
	return s.Create(ctx, destination, payment, amount, attr)
}

// CreateFromPaymentIntent resolves the intent's latest charge on the
// rail, then delegates to CreateFromCharge.
func (s *TransferService) CreateFromPaymentIntent(ctx context.Context, destination *model.Account, paymentIntentID string, amount int64, attr model.Attribution) (*model.TransactionPair, error) {
	rail, ok := s.rails.Stripe()
	if !ok {
		return nil, ErrUnsupportedAccountType
	}

	intent, err := rail.RetrievePaymentIntent(ctx, paymentIntentID)
	if err != nil {
		return nil, err
	}

	return s.CreateFromCharge(ctx, destination, intent.LatestChargeID, amount, attr)
}

// CreateReversal pulls `amount` back from the account that received the
// original transfer. The account-side leg of the reversal is the
// outgoing one; it gets the same FX correction as a forward transfer's
// incoming leg.
func (s *TransferService) CreateReversal(ctx context.Context, original *model.TransactionPair, destinationCurrency string, amount int64) (*model.TransactionPair, error) {
	if original.Incoming.AccountID == nil {
		return nil, ErrUnknownAccount
	}
	account, err := s.accounts.GetByID(ctx, *original.Incoming.AccountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ErrUnknownAccount
	}
	if !account.IsReady() {
		return nil, ErrNotReadyAccount
	}

	processor, ok := account.AccountType.Processor()
	if !ok {
		return nil, ErrUnsupportedAccountType
	}
	rail, ok := s.rails.For(processor)
	if !ok {
		return nil, ErrUnsupportedAccountType
	}

	key := uuid.NewString()
	reversalOf := original.Incoming.ID
	pair := &model.TransactionPair{
		Outgoing: &model.Transaction{
			Type:                          model.TransactionTypeTransfer,
			Processor:                     processor,
			Currency:                      original.Incoming.Currency,
			Amount:                        -amount,
			AccountCurrency:               original.Incoming.Currency,
			AccountAmount:                 -amount,
			AccountID:                     original.Incoming.AccountID,
			TransferCorrelationKey:        key,
			ChargeID:                      original.Incoming.ChargeID,
			PledgeID:                      original.Incoming.PledgeID,
			SubscriptionID:                original.Incoming.SubscriptionID,
			IssueRewardID:                 original.Incoming.IssueRewardID,
			OrderID:                       original.Incoming.OrderID,
			TransferReversalTransactionID: &reversalOf,
		},
		Incoming: &model.Transaction{
			Type:                          model.TransactionTypeTransfer,
			Processor:                     processor,
			Currency:                      original.Incoming.Currency,
			Amount:                        amount,
			AccountCurrency:               original.Incoming.Currency,
			AccountAmount:                 amount,
			TransferCorrelationKey:        key,
			ChargeID:                      original.Incoming.ChargeID,
			PledgeID:                      original.Incoming.PledgeID,
			SubscriptionID:                original.Incoming.SubscriptionID,
			IssueRewardID:                 original.Incoming.IssueRewardID,
			OrderID:                       original.Incoming.OrderID,
			TransferReversalTransactionID: &reversalOf,
		},
	}

	if err := s.store.CreatePair(ctx, pair); err != nil {
		return nil, err
	}
	prom.AddTransactionCreated(string(model.TransactionTypeTransfer), 2)

	// No rail transfer was recorded for the original pair, so there is
	// nothing to reverse on the rail either.
	if original.Incoming.TransferID == nil {
		return pair, nil
	}

	result, err := rail.ReverseTransfer(ctx, *original.Incoming.TransferID, amount, map[string]string{
		"transfer_key":   key,
		"transaction_id": formatID(pair.Outgoing.ID),
	})
	if err != nil {
		return nil, err
	}
	if result.ID == "" {
		return pair, nil
	}

	if err := s.store.SetTransferID(ctx, []int64{pair.Outgoing.ID, pair.Incoming.ID}, result.ID); err != nil {
		return nil, err
	}
	pair.Outgoing.TransferID = &result.ID
	pair.Incoming.TransferID = &result.ID

	if destinationCurrency != original.Incoming.Currency {
		if err := s.correctSettledAmount(ctx, rail, pair.Outgoing, result.DestinationBalanceTransactionID); err != nil {
			return nil, err
		}
	}

	return pair, nil
}

// correctSettledAmount replaces a leg's account view with the amount
// the rail actually settled, read from the destination balance
// transaction. Only the given leg changes.
func (s *TransferService) correctSettledAmount(ctx context.Context, rail gateway.Rail, leg *model.Transaction, balanceTransactionID string) error {
	if balanceTransactionID == "" {
		return nil
	}

	bt, err := rail.GetBalanceTransaction(ctx, balanceTransactionID)
	if err != nil {
		return err
	}

	if err := s.store.CorrectAccountAmount(ctx, leg.ID, bt.Amount, bt.Currency); err != nil {
		return err
	}
	leg.AccountAmount = bt.Amount
	leg.AccountCurrency = bt.Currency
	return nil
}
