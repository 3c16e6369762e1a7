package services

import (
	"context"
	"testing"

	"github.com/meridianhq/billing-ledger/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBalanceService_Create(t *testing.T) {
	store, accounts := setupStores(t)
	svc := NewBalanceService(store, accounts, nil)
	ctx := context.Background()

	t.Run("legs are exact negatives sharing one key", func(t *testing.T) {
		account := seedActiveAccount(t, accounts, "acct_bal_1", "usd")

		pair, err := svc.Create(ctx, BalanceParams{
			DestinationAccount: account,
			Currency:           "usd",
			Amount:             9000,
			ChargeID:           strPtr("ch_bal_1"),
		})
		require.NoError(t, err)

		assert.Equal(t, int64(-9000), pair.Outgoing.Amount)
		assert.Equal(t, int64(9000), pair.Incoming.Amount)
		assert.NotEmpty(t, pair.Incoming.BalanceCorrelationKey)
		assert.Equal(t, pair.Outgoing.BalanceCorrelationKey, pair.Incoming.BalanceCorrelationKey)

		// Exactly one leg belongs to the platform.
		assert.Nil(t, pair.Outgoing.AccountID)
		require.NotNil(t, pair.Incoming.AccountID)
		assert.Equal(t, account.ID, *pair.Incoming.AccountID)
	})

	t.Run("updates the destination's review counter", func(t *testing.T) {
		account := seedActiveAccount(t, accounts, "acct_bal_2", "usd")

		_, err := svc.Create(ctx, BalanceParams{
			DestinationAccount: account,
			Currency:           "usd",
			Amount:             4200,
		})
		require.NoError(t, err)

		got, err := accounts.GetByID(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(4200), got.TransferredTotal)
	})

	t.Run("two distinct keys for two pairs", func(t *testing.T) {
		account := seedActiveAccount(t, accounts, "acct_bal_3", "usd")

		first, err := svc.Create(ctx, BalanceParams{DestinationAccount: account, Currency: "usd", Amount: 100})
		require.NoError(t, err)
		second, err := svc.Create(ctx, BalanceParams{DestinationAccount: account, Currency: "usd", Amount: 200})
		require.NoError(t, err)

		assert.NotEqual(t, first.Incoming.BalanceCorrelationKey, second.Incoming.BalanceCorrelationKey)
	})
}

func TestBalanceService_CreateFromCharge(t *testing.T) {
	store, accounts := setupStores(t)
	svc := NewBalanceService(store, accounts, nil)
	ctx := context.Background()

	t.Run("requires the payment transaction", func(t *testing.T) {
		account := seedActiveAccount(t, accounts, "acct_bfc_1", "usd")

		_, err := svc.CreateFromCharge(ctx, "ch_never_seen", account, 1000, model.Attribution{})
		assert.ErrorIs(t, err, ErrPaymentTransactionForChargeDoesNotExist)
	})

	t.Run("inherits currency and charge from the payment", func(t *testing.T) {
		account := seedActiveAccount(t, accounts, "acct_bfc_2", "usd")
		seedPayment(t, store, "ch_bfc", 10000, 0, model.Attribution{})

		pair, err := svc.CreateFromCharge(ctx, "ch_bfc", account, 9000, model.Attribution{})
		require.NoError(t, err)

		assert.Equal(t, "usd", pair.Incoming.Currency)
		require.NotNil(t, pair.Incoming.ChargeID)
		assert.Equal(t, "ch_bfc", *pair.Incoming.ChargeID)
	})

	t.Run("redelivered charge returns the recorded pair", func(t *testing.T) {
		account := seedActiveAccount(t, accounts, "acct_bfc_3", "usd")
		seedPayment(t, store, "ch_bfc_replay", 10000, 0, model.Attribution{})

		first, err := svc.CreateFromCharge(ctx, "ch_bfc_replay", account, 9000, model.Attribution{})
		require.NoError(t, err)
		second, err := svc.CreateFromCharge(ctx, "ch_bfc_replay", account, 9000, model.Attribution{})
		require.NoError(t, err)

		assert.Equal(t, first.Incoming.ID, second.Incoming.ID)

		pairs, err := store.ListBalancePairsByChargeID(ctx, "ch_bfc_replay")
		require.NoError(t, err)
		require.Len(t, pairs, 1)

		sum, err := store.SumAmountByAccount(ctx, account.ID, "usd")
		require.NoError(t, err)
		assert.Equal(t, int64(9000), sum)

		// A different account on the same charge still gets its own pair.
		other := seedActiveAccount(t, accounts, "acct_bfc_4", "usd")
		third, err := svc.CreateFromCharge(ctx, "ch_bfc_replay", other, 1000, model.Attribution{})
		require.NoError(t, err)
		assert.NotEqual(t, first.Incoming.ID, third.Incoming.ID)
	})
}

func TestBalanceService_CreateReversal(t *testing.T) {
	store, accounts := setupStores(t)
	svc := NewBalanceService(store, accounts, nil)
	ctx := context.Background()

	account := seedActiveAccount(t, accounts, "acct_rev", "usd")
	pledgeID := int64(11)
	original, err := svc.Create(ctx, BalanceParams{
		DestinationAccount: account,
		Currency:           "usd",
		Amount:             9000,
		ChargeID:           strPtr("ch_rev"),
		Attribution:        model.Attribution{PledgeID: &pledgeID},
	})
	require.NoError(t, err)

	feeType := model.PlatformFeePlatform
	reversal, err := svc.CreateReversal(ctx, original, 900, &feeType, &original.Incoming.ID)
	require.NoError(t, err)

	t.Run("legs are negated relative to the original", func(t *testing.T) {
		require.NotNil(t, reversal.Outgoing.AccountID)
		assert.Equal(t, account.ID, *reversal.Outgoing.AccountID)
		assert.Equal(t, int64(-900), reversal.Outgoing.Amount)
		assert.Nil(t, reversal.Incoming.AccountID)
		assert.Equal(t, int64(900), reversal.Incoming.Amount)
	})

	t.Run("back-reference and tags are recorded", func(t *testing.T) {
		require.NotNil(t, reversal.Outgoing.BalanceReversalTransactionID)
		assert.Equal(t, original.Incoming.ID, *reversal.Outgoing.BalanceReversalTransactionID)
		require.NotNil(t, reversal.Incoming.PlatformFeeType)
		assert.Equal(t, model.PlatformFeePlatform, *reversal.Incoming.PlatformFeeType)
		require.NotNil(t, reversal.Outgoing.PledgeID)
		assert.Equal(t, pledgeID, *reversal.Outgoing.PledgeID)
	})

	t.Run("the account nets out original minus reversal", func(t *testing.T) {
		sum, err := store.SumAmountByAccount(ctx, account.ID, "usd")
		require.NoError(t, err)
		assert.Equal(t, int64(8100), sum)
	})
}
