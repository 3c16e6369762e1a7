package repository

import (
	"context"
	"errors"

	"github.com/meridianhq/billing-ledger/internal/model"
	"github.com/meridianhq/billing-ledger/pkg/pg"
	"gorm.io/gorm"
)

var (
	ErrIncompletePair      = errors.New("transaction pair must have two legs")
	ErrTooManyTransferRows = errors.New("more than two transfer rows recorded for a single charge")
)

type TransactionRepository struct {
	*pg.DB
}

func NewTransactionRepository(db *pg.DB) *TransactionRepository {
	return &TransactionRepository{
		db,
	}
}

func (r *TransactionRepository) Create(ctx context.Context, txn *model.Transaction) (*model.Transaction, error) {
	entity := toTransactionEntity(txn)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toTransactionModel(entity), nil
}

// CreatePair inserts both legs of a paired operation in a single
// database transaction. A pair is never persisted with one leg missing.
func (r *TransactionRepository) CreatePair(ctx context.Context, pair *model.TransactionPair) error {
	if pair == nil || pair.Outgoing == nil || pair.Incoming == nil {
		return ErrIncompletePair
	}

	outgoing := toTransactionEntity(pair.Outgoing)
	incoming := toTransactionEntity(pair.Incoming)

	err := r.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := r.Write(ctx).WithContext(ctx).Create(outgoing).Error; err != nil {
			return err
		}
		return r.Write(ctx).WithContext(ctx).Create(incoming).Error
	})
	if err != nil {
		return err
	}

	pair.Outgoing = toTransactionModel(outgoing)
	pair.Incoming = toTransactionModel(incoming)
	return nil
}

func (r *TransactionRepository) GetByID(ctx context.Context, id int64) (*model.Transaction, error) {
	var entity TransactionEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("id = ?", id).
		First(&entity).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return toTransactionModel(&entity), nil
}

// GetPaymentByChargeID resolves the payment-type row recorded for a
// rail charge. Returns nil without error when no such row exists.
func (r *TransactionRepository) GetPaymentByChargeID(ctx context.Context, chargeID string) (*model.Transaction, error) {
	return r.getOne(ctx, "type = ? AND charge_id = ?", model.TransactionTypePayment, chargeID)
}

func (r *TransactionRepository) GetByTypeAndDisputeID(ctx context.Context, typ model.TransactionType, disputeID string) (*model.Transaction, error) {
	return r.getOne(ctx, "type = ? AND dispute_id = ?", typ, disputeID)
}

func (r *TransactionRepository) GetByTypeAndRefundID(ctx context.Context, typ model.TransactionType, refundID string) (*model.Transaction, error) {
	return r.getOne(ctx, "type = ? AND refund_id = ?", typ, refundID)
}

func (r *TransactionRepository) GetByTypeAndPayoutID(ctx context.Context, typ model.TransactionType, payoutID string) (*model.Transaction, error) {
	return r.getOne(ctx, "type = ? AND payout_id = ?", typ, payoutID)
}

func (r *TransactionRepository) GetByFeeBalanceTransactionID(ctx context.Context, feeBalanceTransactionID string) (*model.Transaction, error) {
	return r.getOne(ctx, "fee_balance_transaction_id = ?", feeBalanceTransactionID)
}

func (r *TransactionRepository) getOne(ctx context.Context, query string, args ...any) (*model.Transaction, error) {
	var entity TransactionEntity
	err := r.Read(ctx).WithContext(ctx).
		Where(query, args...).
		First(&entity).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return toTransactionModel(&entity), nil
}

// ListBalancePairsByChargeID returns the original (non-reversal) balance
// pairs attributing a charge's money to seller accounts, ordered by the
// incoming leg's id.
func (r *TransactionRepository) ListBalancePairsByChargeID(ctx context.Context, chargeID string) ([]*model.TransactionPair, error) {
	var incoming []*TransactionEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("type = ? AND charge_id = ? AND account_id IS NOT NULL AND balance_reversal_transaction_id IS NULL", model.TransactionTypeBalance, chargeID).
		Order("id ASC").
		Find(&incoming).
		Error
	if err != nil {
		return nil, err
	}

	pairs := make([]*model.TransactionPair, 0, len(incoming))
	for _, in := range incoming {
		if in.BalanceCorrelationKey == nil {
			continue
		}
		var out TransactionEntity
		err := r.Read(ctx).WithContext(ctx).
			Where("balance_correlation_key = ? AND id <> ?", *in.BalanceCorrelationKey, in.ID).
			First(&out).
			Error
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, &model.TransactionPair{
			Outgoing: toTransactionModel(&out),
			Incoming: toTransactionModel(in),
		})
	}
	return pairs, nil
}

// ListTransfersByChargeID returns all non-reversal transfer rows (both
// legs) recorded for a charge under the given attribution.
func (r *TransactionRepository) ListTransfersByChargeID(ctx context.Context, chargeID string, attr model.Attribution) ([]*model.Transaction, error) {
	q := r.Read(ctx).WithContext(ctx).
		Where("type = ? AND charge_id = ? AND transfer_reversal_transaction_id IS NULL", model.TransactionTypeTransfer, chargeID)

	switch {
	case attr.SubscriptionID != nil:
		q = q.Where("subscription_id = ?", *attr.SubscriptionID)
	case attr.PledgeID != nil:
		q = q.Where("pledge_id = ?", *attr.PledgeID)
	}

	var entities []*TransactionEntity
	if err := q.Order("id ASC").Find(&entities).Error; err != nil {
		return nil, err
	}
	return toTransactionModels(entities), nil
}

// GetTransferPairByChargeID returns the transfer pair recorded for a
// charge, or nil when the payment was never transferred. More than two
// rows is a data-integrity violation and is raised, never repaired; an
// orphaned single leg surfaces as ErrIncompletePair.
func (r *TransactionRepository) GetTransferPairByChargeID(ctx context.Context, chargeID string) (*model.TransactionPair, error) {
	rows, err := r.ListTransfersByChargeID(ctx, chargeID, model.Attribution{})
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	if len(rows) > 2 {
		return nil, ErrTooManyTransferRows
	}
	return PairFromRows(rows)
}

// GetUnsettledTransferLeg finds the account-side transfer leg recorded
// for a rail transfer id that has not yet been linked to a payout.
func (r *TransactionRepository) GetUnsettledTransferLeg(ctx context.Context, accountID int64, transferID string) (*model.Transaction, error) {
	return r.getOne(ctx,
		"type = ? AND account_id = ? AND transfer_id = ? AND payout_transaction_id IS NULL",
		model.TransactionTypeTransfer, accountID, transferID)
}

// ListFeesIncurredBy returns the processor_fee rows attributed to a
// transaction.
func (r *TransactionRepository) ListFeesIncurredBy(ctx context.Context, transactionID int64) ([]*model.Transaction, error) {
	var entities []*TransactionEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("type = ? AND incurred_by_transaction_id = ?", model.TransactionTypeProcessorFee, transactionID).
		Order("id ASC").
		Find(&entities).
		Error
	if err != nil {
		return nil, err
	}
	return toTransactionModels(entities), nil
}

// ExistsBalanceIncurredBy reports whether any balance row references the
// given transaction through incurred_by_transaction_id. Used to detect
// an already-applied dispute reversal.
func (r *TransactionRepository) ExistsBalanceIncurredBy(ctx context.Context, transactionID int64) (bool, error) {
	var count int64
	err := r.Read(ctx).WithContext(ctx).
		Model(&TransactionEntity{}).
		Where("type = ? AND incurred_by_transaction_id = ?", model.TransactionTypeBalance, transactionID).
		Count(&count).
		Error
	return count > 0, err
}

func (r *TransactionRepository) ListDisputesByChargeID(ctx context.Context, chargeID string) ([]*model.Transaction, error) {
	var entities []*TransactionEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("type = ? AND charge_id = ?", model.TransactionTypeDispute, chargeID).
		Order("id ASC").
		Find(&entities).
		Error
	if err != nil {
		return nil, err
	}
	return toTransactionModels(entities), nil
}

// SetTransferID records the rail's transfer id on both legs of a pair
// after the rail call succeeded.
func (r *TransactionRepository) SetTransferID(ctx context.Context, ids []int64, transferID string) error {
	return r.Write(ctx).WithContext(ctx).
		Model(&TransactionEntity{}).
		Where("id IN ?", ids).
		Update("transfer_id", transferID).
		Error
}

// CorrectAccountAmount overwrites the account-side view of a leg with
// the amount the rail actually settled after currency conversion. The
// platform-side fields are never touched.
func (r *TransactionRepository) CorrectAccountAmount(ctx context.Context, id int64, accountAmount int64, accountCurrency string) error {
	return r.Write(ctx).WithContext(ctx).
		Model(&TransactionEntity{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"account_amount":   accountAmount,
			"account_currency": accountCurrency,
		}).
		Error
}

func (r *TransactionRepository) LinkPayout(ctx context.Context, id int64, payoutTransactionID int64) error {
	return r.Write(ctx).WithContext(ctx).
		Model(&TransactionEntity{}).
		Where("id = ?", id).
		Update("payout_transaction_id", payoutTransactionID).
		Error
}

func (r *TransactionRepository) SetPayoutAmount(ctx context.Context, payoutTransactionID int64, currency string, amount int64) error {
	return r.Write(ctx).WithContext(ctx).
		Model(&TransactionEntity{}).
		Where("id = ?", payoutTransactionID).
		Updates(map[string]any{
			"currency": currency,
			"amount":   amount,
		}).
		Error
}

// SumAmountByAccount computes an account's balance in one currency as
// the plain sum over its rows.
func (r *TransactionRepository) SumAmountByAccount(ctx context.Context, accountID int64, currency string) (int64, error) {
	var sum *int64
	err := r.Read(ctx).WithContext(ctx).
		Model(&TransactionEntity{}).
		Select("SUM(amount)").
		Where("account_id = ? AND currency = ?", accountID, currency).
		Scan(&sum).
		Error
	if err != nil {
		return 0, err
	}
	if sum == nil {
		return 0, nil
	}
	return *sum, nil
}

func (r *TransactionRepository) List(ctx context.Context, f model.TransactionFilter) ([]*model.Transaction, int64, error) {
	q := r.Read(ctx).WithContext(ctx).Model(&TransactionEntity{})

	if f.AccountID != nil {
		q = q.Where("account_id = ?", *f.AccountID)
	}
	if f.Type != nil {
		q = q.Where("type = ?", *f.Type)
	}
	if f.ChargeID != nil {
		q = q.Where("charge_id = ?", *f.ChargeID)
	}
	if f.Currency != nil {
		q = q.Where("currency = ?", *f.Currency)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	order := "id ASC"
	if f.Desc {
		order = "id DESC"
	}

	var entities []*TransactionEntity
	err := q.Order(order).Limit(limit).Offset(f.Offset).Find(&entities).Error
	if err != nil {
		return nil, 0, err
	}
	return toTransactionModels(entities), total, nil
}

// PairFromRows reassembles a pair from its two persisted legs. The
// negative-amount leg is the outgoing one.
func PairFromRows(rows []*model.Transaction) (*model.TransactionPair, error) {
	if len(rows) != 2 {
		return nil, ErrIncompletePair
	}
	pair := &model.TransactionPair{}
	for _, row := range rows {
		if row.Amount < 0 {
			pair.Outgoing = row
		} else {
			pair.Incoming = row
		}
	}
	if pair.Outgoing == nil || pair.Incoming == nil {
		return nil, ErrIncompletePair
	}
	return pair, nil
}
