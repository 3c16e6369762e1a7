package services

import (
	"context"
	"errors"
	"testing"

	gateway "github.com/meridianhq/billing-ledger/internal/gateways"
	"github.com/meridianhq/billing-ledger/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestTransferService_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("records the pair and the rail transfer id", func(t *testing.T) {
		store, accounts := setupStores(t)
		rail := new(MockRail)
		svc := NewTransferService(store, accounts, stripeRegistry(rail))

		account := seedActiveAccount(t, accounts, "acct_tr_1", "usd")
		payment := seedPayment(t, store, "ch_tr_1", 10000, 0, model.Attribution{})

		rail.On("Transfer", mock.Anything, "acct_tr_1", int64(9000), "ch_tr_1", mock.Anything).
			Return(&gateway.TransferResult{ID: "tr_1"}, nil).Once()

		pair, err := svc.Create(ctx, account, payment, 9000, model.Attribution{})
		require.NoError(t, err)

		assert.Equal(t, int64(-9000), pair.Outgoing.Amount)
		assert.Equal(t, int64(9000), pair.Incoming.Amount)
		assert.Nil(t, pair.Outgoing.AccountID)
		require.NotNil(t, pair.Incoming.AccountID)
		assert.Equal(t, account.ID, *pair.Incoming.AccountID)

		outgoing, err := store.GetByID(ctx, pair.Outgoing.ID)
		require.NoError(t, err)
		require.NotNil(t, outgoing.TransferID)
		assert.Equal(t, "tr_1", *outgoing.TransferID)

		rail.AssertExpectations(t)
	})

	t.Run("replayed call returns the existing pair without a rail call", func(t *testing.T) {
		store, accounts := setupStores(t)
		rail := new(MockRail)
		svc := NewTransferService(store, accounts, stripeRegistry(rail))

		account := seedActiveAccount(t, accounts, "acct_tr_2", "usd")
		payment := seedPayment(t, store, "ch_tr_2", 10000, 0, model.Attribution{})

		rail.On("Transfer", mock.Anything, "acct_tr_2", int64(9000), "ch_tr_2", mock.Anything).
			Return(&gateway.TransferResult{ID: "tr_2"}, nil).Once()

		first, err := svc.Create(ctx, account, payment, 9000, model.Attribution{})
		require.NoError(t, err)

		second, err := svc.Create(ctx, account, payment, 9000, model.Attribution{})
		require.NoError(t, err)

		assert.Equal(t, first.Incoming.ID, second.Incoming.ID)
		assert.Equal(t, first.Outgoing.ID, second.Outgoing.ID)
		rail.AssertExpectations(t)
	})

	t.Run("retries the rail when the recorded pair never reached it", func(t *testing.T) {
		store, accounts := setupStores(t)
		rail := new(MockRail)
		svc := NewTransferService(store, accounts, stripeRegistry(rail))

		account := seedActiveAccount(t, accounts, "acct_tr_retry", "usd")
		payment := seedPayment(t, store, "ch_tr_retry", 10000, 0, model.Attribution{})

		rail.On("Transfer", mock.Anything, "acct_tr_retry", int64(9000), "ch_tr_retry", mock.Anything).
			Return(nil, errors.New("rail unavailable")).Once()
		_, err := svc.Create(ctx, account, payment, 9000, model.Attribution{})
		require.Error(t, err)

		rail.On("Transfer", mock.Anything, "acct_tr_retry", int64(9000), "ch_tr_retry", mock.Anything).
			Return(&gateway.TransferResult{ID: "tr_retry"}, nil).Once()

		pair, err := svc.Create(ctx, account, payment, 9000, model.Attribution{})
		require.NoError(t, err)
		require.NotNil(t, pair.Incoming.TransferID)
		assert.Equal(t, "tr_retry", *pair.Incoming.TransferID)

		// The retry reuses the recorded pair instead of adding one.
		rows, err := store.ListTransfersByChargeID(ctx, "ch_tr_retry", model.Attribution{})
		require.NoError(t, err)
		assert.Len(t, rows, 2)

		rail.AssertExpectations(t)
	})

	t.Run("corrects the incoming leg after currency conversion", func(t *testing.T) {
		store, accounts := setupStores(t)
		rail := new(MockRail)
		svc := NewTransferService(store, accounts, stripeRegistry(rail))

		account := seedActiveAccount(t, accounts, "acct_tr_fx", "eur")
		payment := seedPayment(t, store, "ch_tr_fx", 10000, 0, model.Attribution{})

		rail.On("Transfer", mock.Anything, "acct_tr_fx", int64(9000), "ch_tr_fx", mock.Anything).
			Return(&gateway.TransferResult{ID: "tr_fx", DestinationBalanceTransactionID: "txn_dest"}, nil).Once()
		rail.On("GetBalanceTransaction", mock.Anything, "txn_dest").
			Return(&gateway.BalanceTransaction{ID: "txn_dest", Amount: 8234, Currency: "eur"}, nil).Once()

		pair, err := svc.Create(ctx, account, payment, 9000, model.Attribution{})
		require.NoError(t, err)

		// Only the account-side view of the incoming leg changes.
		assert.Equal(t, int64(8234), pair.Incoming.AccountAmount)
		assert.Equal(t, "eur", pair.Incoming.AccountCurrency)
		assert.Equal(t, int64(9000), pair.Incoming.Amount)
		assert.Equal(t, "usd", pair.Incoming.Currency)

		outgoing, err := store.GetByID(ctx, pair.Outgoing.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(-9000), outgoing.AccountAmount)
		assert.Equal(t, "usd", outgoing.AccountCurrency)

		rail.AssertExpectations(t)
	})

	t.Run("account under review", func(t *testing.T) {
		store, accounts := setupStores(t)
		svc := NewTransferService(store, accounts, stripeRegistry(new(MockRail)))

		account, err := accounts.Create(ctx, &model.Account{
			AccountType:        model.AccountTypeStripe,
			StripeID:           "acct_tr_review",
			Currency:           "usd",
			Status:             model.AccountStatusUnderReview,
			IsDetailsSubmitted: true,
			IsPayoutsEnabled:   true,
		})
		require.NoError(t, err)
		payment := seedPayment(t, store, "ch_tr_review", 10000, 0, model.Attribution{})

		_, err = svc.Create(ctx, account, payment, 9000, model.Attribution{})
		assert.ErrorIs(t, err, ErrUnderReviewAccount)
	})

	t.Run("account not ready", func(t *testing.T) {
		store, accounts := setupStores(t)
		svc := NewTransferService(store, accounts, stripeRegistry(new(MockRail)))

		account, err := accounts.Create(ctx, &model.Account{
			AccountType: model.AccountTypeStripe,
			StripeID:    "acct_tr_onboarding",
			Currency:    "usd",
			Status:      model.AccountStatusCreated,
		})
		require.NoError(t, err)
		payment := seedPayment(t, store, "ch_tr_onboarding", 10000, 0, model.Attribution{})

		_, err = svc.Create(ctx, account, payment, 9000, model.Attribution{})
		assert.ErrorIs(t, err, ErrNotReadyAccount)
	})

	t.Run("deferred rail leaves no transfer id", func(t *testing.T) {
		store, accounts := setupStores(t)
		rails := gateway.Registry{
			model.ProcessorOpenCollective: gateway.NewOpenCollectiveRail(),
		}
		svc := NewTransferService(store, accounts, rails)

		account, err := accounts.Create(ctx, &model.Account{
			AccountType:        model.AccountTypeOpenCollective,
			Currency:           "usd",
			Status:             model.AccountStatusActive,
			IsDetailsSubmitted: true,
			IsPayoutsEnabled:   true,
		})
		require.NoError(t, err)
		payment := seedPayment(t, store, "ch_tr_oc", 10000, 0, model.Attribution{})

		pair, err := svc.Create(ctx, account, payment, 9000, model.Attribution{})
		require.NoError(t, err)
		assert.Nil(t, pair.Incoming.TransferID)
		assert.Nil(t, pair.Outgoing.TransferID)
	})
}

func TestTransferService_CreateReversal(t *testing.T) {
	ctx := context.Background()

	t.Run("pulls money back from the account through the rail", func(t *testing.T) {
		store, accounts := setupStores(t)
		rail := new(MockRail)
		svc := NewTransferService(store, accounts, stripeRegistry(rail))

		account := seedActiveAccount(t, accounts, "acct_trr_1", "usd")
		payment := seedPayment(t, store, "ch_trr_1", 10000, 0, model.Attribution{})

		rail.On("Transfer", mock.Anything, "acct_trr_1", int64(9000), "ch_trr_1", mock.Anything).
			Return(&gateway.TransferResult{ID: "tr_orig"}, nil).Once()
		original, err := svc.Create(ctx, account, payment, 9000, model.Attribution{})
		require.NoError(t, err)

		rail.On("ReverseTransfer", mock.Anything, "tr_orig", int64(4000), mock.Anything).
			Return(&gateway.TransferResult{ID: "trr_1"}, nil).Once()

		reversal, err := svc.CreateReversal(ctx, original, "usd", 4000)
		require.NoError(t, err)

		// The account leg is the outgoing one on a reversal.
		require.NotNil(t, reversal.Outgoing.AccountID)
		assert.Equal(t, account.ID, *reversal.Outgoing.AccountID)
		assert.Equal(t, int64(-4000), reversal.Outgoing.Amount)
		assert.Nil(t, reversal.Incoming.AccountID)

		require.NotNil(t, reversal.Outgoing.TransferReversalTransactionID)
		assert.Equal(t, original.Incoming.ID, *reversal.Outgoing.TransferReversalTransactionID)
		require.NotNil(t, reversal.Outgoing.TransferID)
		assert.Equal(t, "trr_1", *reversal.Outgoing.TransferID)

		sum, err := store.SumAmountByAccount(ctx, account.ID, "usd")
		require.NoError(t, err)
		assert.Equal(t, int64(5000), sum)

		rail.AssertExpectations(t)
	})

	t.Run("skips the rail when the original never reached it", func(t *testing.T) {
		store, accounts := setupStores(t)
		rail := new(MockRail)
		svc := NewTransferService(store, accounts, stripeRegistry(rail))

		account := seedActiveAccount(t, accounts, "acct_trr_2", "usd")

		original := &model.TransactionPair{
			Outgoing: &model.Transaction{
				Type:                   model.TransactionTypeTransfer,
				Currency:               "usd",
				Amount:                 -9000,
				TransferCorrelationKey: "key-trr-2",
				ChargeID:               strPtr("ch_trr_2"),
			},
			Incoming: &model.Transaction{
				Type:                   model.TransactionTypeTransfer,
				Currency:               "usd",
				Amount:                 9000,
				AccountID:              &account.ID,
				TransferCorrelationKey: "key-trr-2",
				ChargeID:               strPtr("ch_trr_2"),
			},
		}
		require.NoError(t, store.CreatePair(ctx, original))

		reversal, err := svc.CreateReversal(ctx, original, "usd", 9000)
		require.NoError(t, err)
		assert.Nil(t, reversal.Outgoing.TransferID)
		rail.AssertExpectations(t)
	})

	t.Run("corrects the outgoing leg across currencies", func(t *testing.T) {
		store, accounts := setupStores(t)
		rail := new(MockRail)
		svc := NewTransferService(store, accounts, stripeRegistry(rail))

		account := seedActiveAccount(t, accounts, "acct_trr_fx", "eur")
		payment := seedPayment(t, store, "ch_trr_fx", 10000, 0, model.Attribution{})

		rail.On("Transfer", mock.Anything, "acct_trr_fx", int64(9000), "ch_trr_fx", mock.Anything).
			Return(&gateway.TransferResult{ID: "tr_fx_orig", DestinationBalanceTransactionID: "txn_fwd"}, nil).Once()
		rail.On("GetBalanceTransaction", mock.Anything, "txn_fwd").
			Return(&gateway.BalanceTransaction{ID: "txn_fwd", Amount: 8234, Currency: "eur"}, nil).Once()
		original, err := svc.Create(ctx, account, payment, 9000, model.Attribution{})
		require.NoError(t, err)

		rail.On("ReverseTransfer", mock.Anything, "tr_fx_orig", int64(9000), mock.Anything).
			Return(&gateway.TransferResult{ID: "trr_fx", DestinationBalanceTransactionID: "txn_back"}, nil).Once()
		rail.On("GetBalanceTransaction", mock.Anything, "txn_back").
			Return(&gateway.BalanceTransaction{ID: "txn_back", Amount: -8234, Currency: "eur"}, nil).Once()

		reversal, err := svc.CreateReversal(ctx, original, "eur", 9000)
		require.NoError(t, err)

		assert.Equal(t, int64(-8234), reversal.Outgoing.AccountAmount)
		assert.Equal(t, "eur", reversal.Outgoing.AccountCurrency)
		assert.Equal(t, int64(-9000), reversal.Outgoing.Amount)
		assert.Equal(t, int64(9000), reversal.Incoming.AccountAmount)

		rail.AssertExpectations(t)
	})

	t.Run("unknown account on the original pair", func(t *testing.T) {
		store, accounts := setupStores(t)
		svc := NewTransferService(store, accounts, stripeRegistry(new(MockRail)))

		original := &model.TransactionPair{
			Outgoing: &model.Transaction{Type: model.TransactionTypeTransfer, Amount: -100},
			Incoming: &model.Transaction{Type: model.TransactionTypeTransfer, Amount: 100},
		}

		_, err := svc.CreateReversal(ctx, original, "usd", 100)
		assert.ErrorIs(t, err, ErrUnknownAccount)
	})
}
