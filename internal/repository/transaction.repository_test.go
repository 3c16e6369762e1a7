package repository

import (
	"context"
	"testing"

	"github.com/meridianhq/billing-ledger/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }
func i64Ptr(i int64) *int64   { return &i }

func seedBalancePair(t *testing.T, repo *TransactionRepository, chargeID string, accountID int64, amount int64, key string) *model.TransactionPair {
	t.Helper()
	ctx := context.Background()

	pair := &model.TransactionPair{
		Outgoing: &model.Transaction{
			Type:                  model.TransactionTypeBalance,
			Currency:              "usd",
			Amount:                -amount,
			AccountCurrency:       "usd",
			AccountAmount:         -amount,
			BalanceCorrelationKey: key,
			ChargeID:              strPtr(chargeID),
		},
		Incoming: &model.Transaction{
			Type:                  model.TransactionTypeBalance,
			Currency:              "usd",
			Amount:                amount,
			AccountCurrency:       "usd",
			AccountAmount:         amount,
			AccountID:             i64Ptr(accountID),
			BalanceCorrelationKey: key,
			ChargeID:              strPtr(chargeID),
		},
	}
	require.NoError(t, repo.CreatePair(ctx, pair))
	return pair
}

func TestTransactionRepository_CreatePair(t *testing.T) {
	db := setupTestDB(t)
	repo := NewTransactionRepository(db)
	ctx := context.Background()

	t.Run("persists both legs with ids", func(t *testing.T) {
		pair := seedBalancePair(t, repo, "ch_create_1", 1, 5000, "key-create-1")

		assert.NotZero(t, pair.Outgoing.ID)
		assert.NotZero(t, pair.Incoming.ID)
		assert.NotEqual(t, pair.Outgoing.ID, pair.Incoming.ID)

		outgoing, err := repo.GetByID(ctx, pair.Outgoing.ID)
		require.NoError(t, err)
		incoming, err := repo.GetByID(ctx, pair.Incoming.ID)
		require.NoError(t, err)

		assert.Equal(t, int64(-5000), outgoing.Amount)
		assert.Equal(t, int64(5000), incoming.Amount)
		assert.Equal(t, outgoing.BalanceCorrelationKey, incoming.BalanceCorrelationKey)
		assert.Nil(t, outgoing.AccountID)
		require.NotNil(t, incoming.AccountID)
		assert.Equal(t, int64(1), *incoming.AccountID)
	})

	t.Run("rejects pair with missing leg", func(t *testing.T) {
		err := repo.CreatePair(ctx, &model.TransactionPair{
			Incoming: &model.Transaction{Type: model.TransactionTypeBalance, Amount: 100},
		})
		assert.ErrorIs(t, err, ErrIncompletePair)

		err = repo.CreatePair(ctx, nil)
		assert.ErrorIs(t, err, ErrIncompletePair)
	})
}

func TestTransactionRepository_GetPaymentByChargeID(t *testing.T) {
	db := setupTestDB(t)
	repo := NewTransactionRepository(db)
	ctx := context.Background()

	t.Run("resolves payment row", func(t *testing.T) {
		_, err := repo.Create(ctx, &model.Transaction{
			Type:     model.TransactionTypePayment,
			Currency: "usd",
			Amount:   10000,
			ChargeID: strPtr("ch_pay_1"),
		})
		require.NoError(t, err)

		payment, err := repo.GetPaymentByChargeID(ctx, "ch_pay_1")
		require.NoError(t, err)
		require.NotNil(t, payment)
		assert.Equal(t, model.TransactionTypePayment, payment.Type)
		assert.Equal(t, int64(10000), payment.Amount)
	})

	t.Run("ignores rows of other types for the same charge", func(t *testing.T) {
		_, err := repo.Create(ctx, &model.Transaction{
			Type:     model.TransactionTypeRefund,
			Currency: "usd",
			Amount:   -500,
			ChargeID: strPtr("ch_pay_2"),
		})
		require.NoError(t, err)

		payment, err := repo.GetPaymentByChargeID(ctx, "ch_pay_2")
		require.NoError(t, err)
		assert.Nil(t, payment)
	})

	t.Run("nil on unknown charge", func(t *testing.T) {
		payment, err := repo.GetPaymentByChargeID(ctx, "ch_missing")
		require.NoError(t, err)
		assert.Nil(t, payment)
	})
}

func TestTransactionRepository_ExternalIDLookups(t *testing.T) {
	db := setupTestDB(t)
	repo := NewTransactionRepository(db)
	ctx := context.Background()

	t.Run("dispute lookup is scoped by type", func(t *testing.T) {
		_, err := repo.Create(ctx, &model.Transaction{
			Type:      model.TransactionTypeDispute,
			Currency:  "usd",
			Amount:    -10000,
			DisputeID: strPtr("dp_1"),
		})
		require.NoError(t, err)

		dispute, err := repo.GetByTypeAndDisputeID(ctx, model.TransactionTypeDispute, "dp_1")
		require.NoError(t, err)
		require.NotNil(t, dispute)

		reversal, err := repo.GetByTypeAndDisputeID(ctx, model.TransactionTypeDisputeReversal, "dp_1")
		require.NoError(t, err)
		assert.Nil(t, reversal)
	})

	t.Run("refund and payout lookups", func(t *testing.T) {
		_, err := repo.Create(ctx, &model.Transaction{
			Type:     model.TransactionTypeRefund,
			Currency: "usd",
			Amount:   -1000,
			RefundID: strPtr("re_1"),
		})
		require.NoError(t, err)
		_, err = repo.Create(ctx, &model.Transaction{
			Type:     model.TransactionTypePayout,
			Currency: "usd",
			Amount:   -1000,
			PayoutID: strPtr("po_1"),
		})
		require.NoError(t, err)

		refund, err := repo.GetByTypeAndRefundID(ctx, model.TransactionTypeRefund, "re_1")
		require.NoError(t, err)
		assert.NotNil(t, refund)

		payout, err := repo.GetByTypeAndPayoutID(ctx, model.TransactionTypePayout, "po_1")
		require.NoError(t, err)
		assert.NotNil(t, payout)

		missing, err := repo.GetByTypeAndPayoutID(ctx, model.TransactionTypePayout, "po_missing")
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run("fee balance transaction lookup", func(t *testing.T) {
		_, err := repo.Create(ctx, &model.Transaction{
			Type:                    model.TransactionTypeProcessorFee,
			Currency:                "usd",
			Amount:                  -320,
			FeeBalanceTransactionID: strPtr("txn_fee_1"),
		})
		require.NoError(t, err)

		fee, err := repo.GetByFeeBalanceTransactionID(ctx, "txn_fee_1")
		require.NoError(t, err)
		require.NotNil(t, fee)
		assert.Equal(t, int64(-320), fee.Amount)
	})
}

func TestTransactionRepository_ListBalancePairsByChargeID(t *testing.T) {
	db := setupTestDB(t)
	repo := NewTransactionRepository(db)
	ctx := context.Background()

	first := seedBalancePair(t, repo, "ch_pairs", 1, 4000, "key-pairs-1")
	second := seedBalancePair(t, repo, "ch_pairs", 2, 6000, "key-pairs-2")

	// A reversal pair carries the back-reference and must not count as
	// an original.
	reversal := &model.TransactionPair{
		Outgoing: &model.Transaction{
			Type:                         model.TransactionTypeBalance,
			Currency:                     "usd",
			Amount:                       -400,
			AccountID:                    i64Ptr(1),
			BalanceCorrelationKey:        "key-pairs-rev",
			ChargeID:                     strPtr("ch_pairs"),
			BalanceReversalTransactionID: &first.Incoming.ID,
		},
		Incoming: &model.Transaction{
			Type:                         model.TransactionTypeBalance,
			Currency:                     "usd",
			Amount:                       400,
			BalanceCorrelationKey:        "key-pairs-rev",
			ChargeID:                     strPtr("ch_pairs"),
			BalanceReversalTransactionID: &first.Incoming.ID,
		},
	}
	require.NoError(t, repo.CreatePair(ctx, reversal))

	pairs, err := repo.ListBalancePairsByChargeID(ctx, "ch_pairs")
	require.NoError(t, err)
	require.Len(t, pairs, 2)

	assert.Equal(t, first.Incoming.ID, pairs[0].Incoming.ID)
	assert.Equal(t, first.Outgoing.ID, pairs[0].Outgoing.ID)
	assert.Equal(t, second.Incoming.ID, pairs[1].Incoming.ID)
	assert.Equal(t, int64(6000), pairs[1].Incoming.Amount)
	assert.Equal(t, int64(-6000), pairs[1].Outgoing.Amount)
}

func TestTransactionRepository_Transfers(t *testing.T) {
	db := setupTestDB(t)
	repo := NewTransactionRepository(db)
	ctx := context.Background()

	subscriptionID := int64(77)
	pair := &model.TransactionPair{
		Outgoing: &model.Transaction{
			Type:                   model.TransactionTypeTransfer,
			Currency:               "usd",
			Amount:                 -9000,
			TransferCorrelationKey: "key-tr-1",
			ChargeID:               strPtr("ch_tr"),
			SubscriptionID:         &subscriptionID,
		},
		Incoming: &model.Transaction{
			Type:                   model.TransactionTypeTransfer,
			Currency:               "usd",
			Amount:                 9000,
			AccountID:              i64Ptr(5),
			TransferCorrelationKey: "key-tr-1",
			ChargeID:               strPtr("ch_tr"),
			SubscriptionID:         &subscriptionID,
		},
	}
	require.NoError(t, repo.CreatePair(ctx, pair))

	t.Run("list by charge and attribution", func(t *testing.T) {
		rows, err := repo.ListTransfersByChargeID(ctx, "ch_tr", model.Attribution{SubscriptionID: &subscriptionID})
		require.NoError(t, err)
		assert.Len(t, rows, 2)

		otherSubscription := int64(999)
		rows, err = repo.ListTransfersByChargeID(ctx, "ch_tr", model.Attribution{SubscriptionID: &otherSubscription})
		require.NoError(t, err)
		assert.Len(t, rows, 0)
	})

	t.Run("pair reassembly by charge", func(t *testing.T) {
		got, err := repo.GetTransferPairByChargeID(ctx, "ch_tr")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, pair.Incoming.ID, got.Incoming.ID)
		assert.Equal(t, pair.Outgoing.ID, got.Outgoing.ID)

		missing, err := repo.GetTransferPairByChargeID(ctx, "ch_never_transferred")
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run("set transfer id on both legs", func(t *testing.T) {
		err := repo.SetTransferID(ctx, []int64{pair.Outgoing.ID, pair.Incoming.ID}, "tr_rail_1")
		require.NoError(t, err)

		incoming, err := repo.GetByID(ctx, pair.Incoming.ID)
		require.NoError(t, err)
		require.NotNil(t, incoming.TransferID)
		assert.Equal(t, "tr_rail_1", *incoming.TransferID)

		outgoing, err := repo.GetByID(ctx, pair.Outgoing.ID)
		require.NoError(t, err)
		require.NotNil(t, outgoing.TransferID)
		assert.Equal(t, "tr_rail_1", *outgoing.TransferID)
	})

	t.Run("unsettled leg disappears once linked to a payout", func(t *testing.T) {
		leg, err := repo.GetUnsettledTransferLeg(ctx, 5, "tr_rail_1")
		require.NoError(t, err)
		require.NotNil(t, leg)
		assert.Equal(t, pair.Incoming.ID, leg.ID)

		payoutRow, err := repo.Create(ctx, &model.Transaction{
			Type:     model.TransactionTypePayout,
			Currency: "usd",
			Amount:   -9000,
		})
		require.NoError(t, err)
		require.NoError(t, repo.LinkPayout(ctx, leg.ID, payoutRow.ID))

		leg, err = repo.GetUnsettledTransferLeg(ctx, 5, "tr_rail_1")
		require.NoError(t, err)
		assert.Nil(t, leg)
	})
}

func TestTransactionRepository_TransferPairIntegrity(t *testing.T) {
	db := setupTestDB(t)
	repo := NewTransactionRepository(db)
	ctx := context.Background()

	t.Run("orphaned single leg is an error", func(t *testing.T) {
		_, err := repo.Create(ctx, &model.Transaction{
			Type:                   model.TransactionTypeTransfer,
			Currency:               "usd",
			Amount:                 9000,
			AccountID:              i64Ptr(1),
			TransferCorrelationKey: "key-half",
			ChargeID:               strPtr("ch_half"),
		})
		require.NoError(t, err)

		_, err = repo.GetTransferPairByChargeID(ctx, "ch_half")
		assert.ErrorIs(t, err, ErrIncompletePair)
	})

	t.Run("more than two legs is raised, never repaired", func(t *testing.T) {
		for _, amount := range []int64{-9000, 9000, 4000} {
			_, err := repo.Create(ctx, &model.Transaction{
				Type:                   model.TransactionTypeTransfer,
				Currency:               "usd",
				Amount:                 amount,
				TransferCorrelationKey: "key-three",
				ChargeID:               strPtr("ch_three"),
			})
			require.NoError(t, err)
		}

		_, err := repo.GetTransferPairByChargeID(ctx, "ch_three")
		assert.ErrorIs(t, err, ErrTooManyTransferRows)
	})
}

func TestTransactionRepository_CorrectAccountAmount(t *testing.T) {
	db := setupTestDB(t)
	repo := NewTransactionRepository(db)
	ctx := context.Background()

	row, err := repo.Create(ctx, &model.Transaction{
		Type:            model.TransactionTypeTransfer,
		Currency:        "usd",
		Amount:          9000,
		AccountCurrency: "usd",
		AccountAmount:   9000,
		AccountID:       i64Ptr(3),
	})
	require.NoError(t, err)

	require.NoError(t, repo.CorrectAccountAmount(ctx, row.ID, 8234, "eur"))

	got, err := repo.GetByID(ctx, row.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(8234), got.AccountAmount)
	assert.Equal(t, "eur", got.AccountCurrency)
	// The platform view stays untouched.
	assert.Equal(t, int64(9000), got.Amount)
	assert.Equal(t, "usd", got.Currency)
}

func TestTransactionRepository_SetPayoutAmount(t *testing.T) {
	db := setupTestDB(t)
	repo := NewTransactionRepository(db)
	ctx := context.Background()

	row, err := repo.Create(ctx, &model.Transaction{
		Type:            model.TransactionTypePayout,
		AccountCurrency: "eur",
		AccountAmount:   -7000,
		AccountID:       i64Ptr(3),
	})
	require.NoError(t, err)

	require.NoError(t, repo.SetPayoutAmount(ctx, row.ID, "usd", -8000))

	got, err := repo.GetByID(ctx, row.ID)
	require.NoError(t, err)
	assert.Equal(t, "usd", got.Currency)
	assert.Equal(t, int64(-8000), got.Amount)
	assert.Equal(t, int64(-7000), got.AccountAmount)
}

func TestTransactionRepository_FeesIncurredBy(t *testing.T) {
	db := setupTestDB(t)
	repo := NewTransactionRepository(db)
	ctx := context.Background()

	payment, err := repo.Create(ctx, &model.Transaction{
		Type:     model.TransactionTypePayment,
		Currency: "usd",
		Amount:   10000,
		ChargeID: strPtr("ch_fees"),
	})
	require.NoError(t, err)

	feeType := model.ProcessorFeePayment
	_, err = repo.Create(ctx, &model.Transaction{
		Type:                    model.TransactionTypeProcessorFee,
		Currency:                "usd",
		Amount:                  -320,
		IncurredByTransactionID: &payment.ID,
		ProcessorFeeType:        &feeType,
	})
	require.NoError(t, err)

	fees, err := repo.ListFeesIncurredBy(ctx, payment.ID)
	require.NoError(t, err)
	require.Len(t, fees, 1)
	assert.Equal(t, int64(-320), fees[0].Amount)

	none, err := repo.ListFeesIncurredBy(ctx, payment.ID+1000)
	require.NoError(t, err)
	assert.Len(t, none, 0)
}

func TestTransactionRepository_ExistsBalanceIncurredBy(t *testing.T) {
	db := setupTestDB(t)
	repo := NewTransactionRepository(db)
	ctx := context.Background()

	dispute, err := repo.Create(ctx, &model.Transaction{
		Type:      model.TransactionTypeDispute,
		Currency:  "usd",
		Amount:    -10000,
		DisputeID: strPtr("dp_exists"),
	})
	require.NoError(t, err)

	exists, err := repo.ExistsBalanceIncurredBy(ctx, dispute.ID)
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = repo.Create(ctx, &model.Transaction{
		Type:                    model.TransactionTypeBalance,
		Currency:                "usd",
		Amount:                  -4000,
		AccountID:               i64Ptr(1),
		IncurredByTransactionID: &dispute.ID,
	})
	require.NoError(t, err)

	exists, err = repo.ExistsBalanceIncurredBy(ctx, dispute.ID)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestTransactionRepository_SumAmountByAccount(t *testing.T) {
	db := setupTestDB(t)
	repo := NewTransactionRepository(db)
	ctx := context.Background()

	t.Run("zero for account with no rows", func(t *testing.T) {
		sum, err := repo.SumAmountByAccount(ctx, 42, "usd")
		require.NoError(t, err)
		assert.Equal(t, int64(0), sum)
	})

	t.Run("sums only matching account and currency", func(t *testing.T) {
		for _, seed := range []struct {
			accountID int64
			currency  string
			amount    int64
		}{
			{7, "usd", 9000},
			{7, "usd", -900},
			{7, "eur", 5000},
			{8, "usd", 123},
		} {
			_, err := repo.Create(ctx, &model.Transaction{
				Type:      model.TransactionTypeBalance,
				Currency:  seed.currency,
				Amount:    seed.amount,
				AccountID: i64Ptr(seed.accountID),
			})
			require.NoError(t, err)
		}

		sum, err := repo.SumAmountByAccount(ctx, 7, "usd")
		require.NoError(t, err)
		assert.Equal(t, int64(8100), sum)
	})
}

func TestTransactionRepository_List(t *testing.T) {
	db := setupTestDB(t)
	repo := NewTransactionRepository(db)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := repo.Create(ctx, &model.Transaction{
			Type:      model.TransactionTypeBalance,
			Currency:  "usd",
			Amount:    int64(100 * (i + 1)),
			AccountID: i64Ptr(1),
			ChargeID:  strPtr("ch_list"),
		})
		require.NoError(t, err)
	}
	_, err := repo.Create(ctx, &model.Transaction{
		Type:     model.TransactionTypePayment,
		Currency: "usd",
		Amount:   10000,
		ChargeID: strPtr("ch_list"),
	})
	require.NoError(t, err)

	t.Run("filter by type", func(t *testing.T) {
		typ := model.TransactionTypePayment
		rows, total, err := repo.List(ctx, model.TransactionFilter{Type: &typ})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		require.Len(t, rows, 1)
		assert.Equal(t, model.TransactionTypePayment, rows[0].Type)
	})

	t.Run("pagination and descending order", func(t *testing.T) {
		accountID := int64(1)
		rows, total, err := repo.List(ctx, model.TransactionFilter{
			AccountID: &accountID,
			Limit:     2,
			Desc:      true,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(5), total)
		require.Len(t, rows, 2)
		assert.Greater(t, rows[0].ID, rows[1].ID)
	})
}

func TestPairFromRows(t *testing.T) {
	t.Run("negative leg becomes outgoing", func(t *testing.T) {
		pair, err := PairFromRows([]*model.Transaction{
			{ID: 1, Amount: 9000},
			{ID: 2, Amount: -9000},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(2), pair.Outgoing.ID)
		assert.Equal(t, int64(1), pair.Incoming.ID)
	})

	t.Run("wrong row count", func(t *testing.T) {
		_, err := PairFromRows([]*model.Transaction{{ID: 1, Amount: 100}})
		assert.ErrorIs(t, err, ErrIncompletePair)
	})

	t.Run("two legs with the same sign", func(t *testing.T) {
		_, err := PairFromRows([]*model.Transaction{
			{ID: 1, Amount: 100},
			{ID: 2, Amount: 200},
		})
		assert.ErrorIs(t, err, ErrIncompletePair)
	})
}
