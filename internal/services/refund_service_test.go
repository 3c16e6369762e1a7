package services

import (
	"context"
	"testing"

	gateway "github.com/meridianhq/billing-ledger/internal/gateways"
	"github.com/meridianhq/billing-ledger/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newRefundFixture(t *testing.T) (*RefundService, *MockRail, *testStores) {
	store, accounts := setupStores(t)
	rail := new(MockRail)
	rails := stripeRegistry(rail)
	transfers := NewTransferService(store, accounts, rails)
	fees := NewProcessorFeeService(store, rails)
	svc := NewRefundService(store, rails, transfers, fees)
	return svc, rail, &testStores{store: store, accounts: accounts}
}

func TestRefundService_CreateRefunds(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown payment", func(t *testing.T) {
		svc, _, _ := newRefundFixture(t)

		_, err := svc.CreateRefunds(ctx, "ch_never_seen")
		assert.ErrorIs(t, err, ErrRefundUnknownPaymentTransaction)
	})

	t.Run("records succeeded refunds once, skips pending ones", func(t *testing.T) {
		svc, rail, s := newRefundFixture(t)
		seedPayment(t, s.store, "ch_ref_1", 10000, 1000, model.Attribution{})

		refunds := []*gateway.Refund{
			{ID: "re_1", ChargeID: "ch_ref_1", Status: gateway.RefundStatusSucceeded, Amount: 2000, Currency: "usd"},
			{ID: "re_2", ChargeID: "ch_ref_1", Status: "pending", Amount: 3000, Currency: "usd"},
		}
		rail.On("ListRefunds", mock.Anything, "ch_ref_1").Return(refunds, nil)

		created, err := svc.CreateRefunds(ctx, "ch_ref_1")
		require.NoError(t, err)
		require.Len(t, created, 1)

		row := created[0]
		assert.Equal(t, int64(-2000), row.Amount)
		// A fifth of the payment refunded, a fifth of the tax reversed.
		assert.Equal(t, int64(-200), row.TaxAmount)
		require.NotNil(t, row.RefundID)
		assert.Equal(t, "re_1", *row.RefundID)

		// The rail redelivers the same list; nothing new is created.
		created, err = svc.CreateRefunds(ctx, "ch_ref_1")
		require.NoError(t, err)
		assert.Len(t, created, 0)

		typ := model.TransactionTypeRefund
		_, total, err := s.store.List(ctx, model.TransactionFilter{Type: &typ})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
	})

	t.Run("records the rail's refund fee", func(t *testing.T) {
		svc, rail, s := newRefundFixture(t)
		payment := seedPayment(t, s.store, "ch_ref_fee", 10000, 0, model.Attribution{})

		rail.On("ListRefunds", mock.Anything, "ch_ref_fee").Return([]*gateway.Refund{
			{ID: "re_fee", ChargeID: "ch_ref_fee", Status: gateway.RefundStatusSucceeded, Amount: 10000, Currency: "usd", BalanceTransactionID: "txn_ref_fee"},
		}, nil).Once()
		rail.On("GetBalanceTransaction", mock.Anything, "txn_ref_fee").
			Return(&gateway.BalanceTransaction{ID: "txn_ref_fee", Amount: -10000, Currency: "usd", Fee: 80}, nil).Once()

		_, err := svc.CreateRefunds(ctx, "ch_ref_fee")
		require.NoError(t, err)

		fees, err := s.store.ListFeesIncurredBy(ctx, payment.ID)
		require.NoError(t, err)
		require.Len(t, fees, 1)
		assert.Equal(t, int64(-80), fees[0].Amount)
		require.NotNil(t, fees[0].ProcessorFeeType)
		assert.Equal(t, model.ProcessorFeeRefund, *fees[0].ProcessorFeeType)

		rail.AssertExpectations(t)
	})

	t.Run("pulls transferred money back from the seller", func(t *testing.T) {
		svc, rail, s := newRefundFixture(t)
		account := seedActiveAccount(t, s.accounts, "acct_ref", "usd")
		payment := seedPayment(t, s.store, "ch_ref_tr", 10000, 0, model.Attribution{})

		transfers := NewTransferService(s.store, s.accounts, stripeRegistry(rail))
		rail.On("Transfer", mock.Anything, "acct_ref", int64(9000), "ch_ref_tr", mock.Anything).
			Return(&gateway.TransferResult{ID: "tr_ref"}, nil).Once()
		_, err := transfers.Create(ctx, account, payment, 9000, model.Attribution{})
		require.NoError(t, err)

		rail.On("ListRefunds", mock.Anything, "ch_ref_tr").Return([]*gateway.Refund{
			{ID: "re_tr", ChargeID: "ch_ref_tr", Status: gateway.RefundStatusSucceeded, Amount: 9000, Currency: "usd"},
		}, nil).Once()
		rail.On("ReverseTransfer", mock.Anything, "tr_ref", int64(9000), mock.Anything).
			Return(&gateway.TransferResult{ID: "trr_ref"}, nil).Once()

		_, err = svc.CreateRefunds(ctx, "ch_ref_tr")
		require.NoError(t, err)

		sum, err := s.store.SumAmountByAccount(ctx, account.ID, "usd")
		require.NoError(t, err)
		assert.Equal(t, int64(0), sum)

		rail.AssertExpectations(t)
	})
}
