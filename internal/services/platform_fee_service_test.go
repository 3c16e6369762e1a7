package services

import (
	"context"
	"testing"

	"github.com/meridianhq/billing-ledger/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPlatformFeeFixture(t *testing.T, config FeeConfig) (*PlatformFeeService, *BalanceService, *testStores) {
	store, accounts := setupStores(t)
	balance := NewBalanceService(store, accounts, nil)
	return NewPlatformFeeService(store, balance, config), balance, &testStores{store: store, accounts: accounts}
}

func TestPlatformFeeService_PlatformCut(t *testing.T) {
	ctx := context.Background()
	config := FeeConfig{PledgeFeePercent: 10, SubscriptionFeePercent: 12.5}

	t.Run("pledge cut of ten percent", func(t *testing.T) {
		svc, balance, s := newPlatformFeeFixture(t, config)
		account := seedActiveAccount(t, s.accounts, "acct_pf_1", "usd")

		pledgeID, rewardID := int64(1), int64(2)
		pair, err := balance.Create(ctx, BalanceParams{
			DestinationAccount: account,
			Currency:           "usd",
			Amount:             10000,
			Attribution:        model.Attribution{PledgeID: &pledgeID, IssueRewardID: &rewardID},
		})
		require.NoError(t, err)

		created, err := svc.CreateFeesReversalBalances(ctx, pair, account)
		require.NoError(t, err)
		require.Len(t, created, 1)

		cut := created[0]
		assert.Equal(t, int64(-1000), cut.Outgoing.Amount)
		require.NotNil(t, cut.Outgoing.PlatformFeeType)
		assert.Equal(t, model.PlatformFeePlatform, *cut.Outgoing.PlatformFeeType)
		require.NotNil(t, cut.Outgoing.IncurredByTransactionID)
		assert.Equal(t, pair.Incoming.ID, *cut.Outgoing.IncurredByTransactionID)

		sum, err := s.store.SumAmountByAccount(ctx, account.ID, "usd")
		require.NoError(t, err)
		assert.Equal(t, int64(9000), sum)
	})

	t.Run("fractional subscription percentage", func(t *testing.T) {
		svc, balance, s := newPlatformFeeFixture(t, config)
		account := seedActiveAccount(t, s.accounts, "acct_pf_2", "usd")

		subscriptionID := int64(3)
		pair, err := balance.Create(ctx, BalanceParams{
			DestinationAccount: account,
			Currency:           "usd",
			Amount:             10000,
			Attribution:        model.Attribution{SubscriptionID: &subscriptionID},
		})
		require.NoError(t, err)

		created, err := svc.CreateFeesReversalBalances(ctx, pair, account)
		require.NoError(t, err)
		require.Len(t, created, 1)
		assert.Equal(t, int64(-1250), created[0].Outgoing.Amount)
	})

	t.Run("rounding goes down, in the platform's favor", func(t *testing.T) {
		svc, balance, s := newPlatformFeeFixture(t, config)
		account := seedActiveAccount(t, s.accounts, "acct_pf_3", "usd")

		subscriptionID := int64(4)
		pair, err := balance.Create(ctx, BalanceParams{
			DestinationAccount: account,
			Currency:           "usd",
			Amount:             999,
			Attribution:        model.Attribution{SubscriptionID: &subscriptionID},
		})
		require.NoError(t, err)

		// 12.5% of 999 is 124.875.
		created, err := svc.CreateFeesReversalBalances(ctx, pair, account)
		require.NoError(t, err)
		require.Len(t, created, 1)
		assert.Equal(t, int64(124), created[0].Incoming.Amount)
	})

	t.Run("no resource attribution", func(t *testing.T) {
		svc, balance, s := newPlatformFeeFixture(t, config)
		account := seedActiveAccount(t, s.accounts, "acct_pf_4", "usd")

		pair, err := balance.Create(ctx, BalanceParams{
			DestinationAccount: account,
			Currency:           "usd",
			Amount:             10000,
		})
		require.NoError(t, err)

		_, err = svc.CreateFeesReversalBalances(ctx, pair, account)
		assert.ErrorIs(t, err, ErrDanglingBalanceTransactions)
	})
}

func TestPlatformFeeService_ProcessorCuts(t *testing.T) {
	ctx := context.Background()
	config := FeeConfig{PledgeFeePercent: 10, SubscriptionFeePercent: 10}

	t.Run("recorded rail fees are reproduced exactly", func(t *testing.T) {
		svc, balance, s := newPlatformFeeFixture(t, config)
		account := seedActiveAccount(t, s.accounts, "acct_pc_1", "usd")
		account.ProcessorFeesApplicable = true

		pledgeID, rewardID := int64(1), int64(2)
		attr := model.Attribution{PledgeID: &pledgeID, IssueRewardID: &rewardID}
		payment := seedPayment(t, s.store, "ch_pc_1", 10000, 0, attr)

		feeType := model.ProcessorFeePayment
		fee, err := s.store.Create(ctx, &model.Transaction{
			Type:                    model.TransactionTypeProcessorFee,
			Currency:                "usd",
			Amount:                  -320,
			IncurredByTransactionID: &payment.ID,
			ProcessorFeeType:        &feeType,
		})
		require.NoError(t, err)

		pair, err := balance.Create(ctx, BalanceParams{
			DestinationAccount: account,
			Currency:           "usd",
			Amount:             10000,
			ChargeID:           strPtr("ch_pc_1"),
			Attribution:        attr,
		})
		require.NoError(t, err)

		created, err := svc.CreateFeesReversalBalances(ctx, pair, account)
		require.NoError(t, err)
		require.Len(t, created, 2)

		clawback := created[1]
		assert.Equal(t, int64(320), clawback.Incoming.Amount)
		require.NotNil(t, clawback.Outgoing.PlatformFeeType)
		assert.Equal(t, model.PlatformFeePayment, *clawback.Outgoing.PlatformFeeType)
		require.NotNil(t, clawback.Outgoing.IncurredByTransactionID)
		assert.Equal(t, fee.ID, *clawback.Outgoing.IncurredByTransactionID)
	})

	t.Run("subscription pairs get the estimated billing fees", func(t *testing.T) {
		svc, balance, s := newPlatformFeeFixture(t, config)
		account := seedActiveAccount(t, s.accounts, "acct_pc_2", "usd")
		account.ProcessorFeesApplicable = true

		subscriptionID := int64(9)
		attr := model.Attribution{SubscriptionID: &subscriptionID}
		seedPayment(t, s.store, "ch_pc_2", 10000, 0, attr)

		pair, err := balance.Create(ctx, BalanceParams{
			DestinationAccount: account,
			Currency:           "usd",
			Amount:             10000,
			ChargeID:           strPtr("ch_pc_2"),
			Attribution:        attr,
		})
		require.NoError(t, err)

		created, err := svc.CreateFeesReversalBalances(ctx, pair, account)
		require.NoError(t, err)
		// Platform cut plus estimated subscription and invoice fees.
		require.Len(t, created, 3)

		assert.Equal(t, int64(-1000), created[0].Outgoing.Amount)
		assert.Equal(t, int64(-50), created[1].Outgoing.Amount)
		assert.Equal(t, model.PlatformFeeSubscription, *created[1].Outgoing.PlatformFeeType)
		assert.Equal(t, int64(-40), created[2].Outgoing.Amount)
		assert.Equal(t, model.PlatformFeeInvoice, *created[2].Outgoing.PlatformFeeType)
	})

	t.Run("a reported billing fee suppresses its estimate", func(t *testing.T) {
		svc, balance, s := newPlatformFeeFixture(t, config)
		account := seedActiveAccount(t, s.accounts, "acct_pc_3", "usd")
		account.ProcessorFeesApplicable = true

		subscriptionID := int64(10)
		attr := model.Attribution{SubscriptionID: &subscriptionID}
		payment := seedPayment(t, s.store, "ch_pc_3", 10000, 0, attr)

		feeType := model.ProcessorFeeSubscription
		_, err := s.store.Create(ctx, &model.Transaction{
			Type:                    model.TransactionTypeProcessorFee,
			Currency:                "usd",
			Amount:                  -55,
			IncurredByTransactionID: &payment.ID,
			ProcessorFeeType:        &feeType,
		})
		require.NoError(t, err)

		pair, err := balance.Create(ctx, BalanceParams{
			DestinationAccount: account,
			Currency:           "usd",
			Amount:             10000,
			ChargeID:           strPtr("ch_pc_3"),
			Attribution:        attr,
		})
		require.NoError(t, err)

		created, err := svc.CreateFeesReversalBalances(ctx, pair, account)
		require.NoError(t, err)
		// Platform cut, the reported subscription fee, the invoice estimate.
		require.Len(t, created, 3)
		assert.Equal(t, int64(-55), created[1].Outgoing.Amount)
		assert.Equal(t, model.PlatformFeeSubscription, *created[1].Outgoing.PlatformFeeType)
		assert.Equal(t, model.PlatformFeeInvoice, *created[2].Outgoing.PlatformFeeType)
	})

	t.Run("accounts without fee passthrough only pay the platform cut", func(t *testing.T) {
		svc, balance, s := newPlatformFeeFixture(t, config)
		account := seedActiveAccount(t, s.accounts, "acct_pc_4", "usd")

		subscriptionID := int64(11)
		attr := model.Attribution{SubscriptionID: &subscriptionID}
		seedPayment(t, s.store, "ch_pc_4", 10000, 0, attr)

		pair, err := balance.Create(ctx, BalanceParams{
			DestinationAccount: account,
			Currency:           "usd",
			Amount:             10000,
			ChargeID:           strPtr("ch_pc_4"),
			Attribution:        attr,
		})
		require.NoError(t, err)

		created, err := svc.CreateFeesReversalBalances(ctx, pair, account)
		require.NoError(t, err)
		assert.Len(t, created, 1)
	})
}

func TestFeeAmount(t *testing.T) {
	assert.Equal(t, int64(1000), feeAmount(10000, 10))
	assert.Equal(t, int64(1250), feeAmount(10000, 12.5))
	assert.Equal(t, int64(124), feeAmount(999, 12.5))
	assert.Equal(t, int64(0), feeAmount(10, 0.5))
}
