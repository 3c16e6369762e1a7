package repository

import (
	"time"

	"github.com/meridianhq/billing-ledger/internal/model"
)

// TransactionEntity is the storage shape of a ledger row. The partial
// unique indexes backing the external-id idempotency checks live in the
// SQL migrations; gorm only knows the plain indexes.
type TransactionEntity struct {
	ID        int64  `db:"id"        gorm:"primaryKey;autoIncrement;column:id"`
	Type      string `db:"type"      gorm:"column:type;not null;index"`
	Processor string `db:"processor" gorm:"column:processor"`

	Currency        string `db:"currency"         gorm:"column:currency;not null"`
	Amount          int64  `db:"amount"           gorm:"column:amount;not null"`
	AccountCurrency string `db:"account_currency" gorm:"column:account_currency"`
	AccountAmount   int64  `db:"account_amount"   gorm:"column:account_amount"`
	TaxAmount       int64  `db:"tax_amount"       gorm:"column:tax_amount"`

	AccountID *int64 `db:"account_id" gorm:"column:account_id;index"`

	BalanceCorrelationKey  *string `db:"balance_correlation_key"  gorm:"column:balance_correlation_key;index"`
	TransferCorrelationKey *string `db:"transfer_correlation_key" gorm:"column:transfer_correlation_key;index"`

	PledgeID       *int64 `db:"pledge_id"       gorm:"column:pledge_id;index"`
	SubscriptionID *int64 `db:"subscription_id" gorm:"column:subscription_id;index"`
	IssueRewardID  *int64 `db:"issue_reward_id" gorm:"column:issue_reward_id"`
	OrderID        *int64 `db:"order_id"        gorm:"column:order_id;index"`

	ChargeID                *string `db:"charge_id"                  gorm:"column:charge_id;index"`
	TransferID              *string `db:"transfer_id"                gorm:"column:transfer_id;index"`
	RefundID                *string `db:"refund_id"                  gorm:"column:refund_id;index"`
	DisputeID               *string `db:"dispute_id"                 gorm:"column:dispute_id;index"`
	PayoutID                *string `db:"payout_id"                  gorm:"column:payout_id;index"`
	FeeBalanceTransactionID *string `db:"fee_balance_transaction_id" gorm:"column:fee_balance_transaction_id;index"`

	IncurredByTransactionID *int64 `db:"incurred_by_transaction_id" gorm:"column:incurred_by_transaction_id;index"`
	PayoutTransactionID     *int64 `db:"payout_transaction_id"      gorm:"column:payout_transaction_id;index"`

	BalanceReversalTransactionID  *int64 `db:"balance_reversal_transaction_id"  gorm:"column:balance_reversal_transaction_id"`
	TransferReversalTransactionID *int64 `db:"transfer_reversal_transaction_id" gorm:"column:transfer_reversal_transaction_id"`

	PlatformFeeType  *string `db:"platform_fee_type"  gorm:"column:platform_fee_type"`
	ProcessorFeeType *string `db:"processor_fee_type" gorm:"column:processor_fee_type"`

	CreatedAt time.Time `db:"created_at" gorm:"column:created_at;autoCreateTime"`
}

func (TransactionEntity) TableName() string {
	return "transactions"
}

func toTransactionEntity(m *model.Transaction) *TransactionEntity {
	if m == nil {
		return nil
	}
	return &TransactionEntity{
		ID:                            m.ID,
		Type:                          string(m.Type),
		Processor:                     string(m.Processor),
		Currency:                      m.Currency,
		Amount:                        m.Amount,
		AccountCurrency:               m.AccountCurrency,
		AccountAmount:                 m.AccountAmount,
		TaxAmount:                     m.TaxAmount,
		AccountID:                     m.AccountID,
		BalanceCorrelationKey:         optStr(m.BalanceCorrelationKey),
		TransferCorrelationKey:        optStr(m.TransferCorrelationKey),
		PledgeID:                      m.PledgeID,
		SubscriptionID:                m.SubscriptionID,
		IssueRewardID:                 m.IssueRewardID,
		OrderID:                       m.OrderID,
		ChargeID:                      m.ChargeID,
		TransferID:                    m.TransferID,
		RefundID:                      m.RefundID,
		DisputeID:                     m.DisputeID,
		PayoutID:                      m.PayoutID,
		FeeBalanceTransactionID:       m.FeeBalanceTransactionID,
		IncurredByTransactionID:       m.IncurredByTransactionID,
		PayoutTransactionID:           m.PayoutTransactionID,
		BalanceReversalTransactionID:  m.BalanceReversalTransactionID,
		TransferReversalTransactionID: m.TransferReversalTransactionID,
		PlatformFeeType:               (*string)(m.PlatformFeeType),
		ProcessorFeeType:              (*string)(m.ProcessorFeeType),
		CreatedAt:                     m.CreatedAt,
	}
}

func toTransactionModel(e *TransactionEntity) *model.Transaction {
	if e == nil {
		return nil
	}
	return &model.Transaction{
		ID:                            e.ID,
		Type:                          model.TransactionType(e.Type),
		Processor:                     model.Processor(e.Processor),
		Currency:                      e.Currency,
		Amount:                        e.Amount,
		AccountCurrency:               e.AccountCurrency,
		AccountAmount:                 e.AccountAmount,
		TaxAmount:                     e.TaxAmount,
		AccountID:                     e.AccountID,
		BalanceCorrelationKey:         strOpt(e.BalanceCorrelationKey),
		TransferCorrelationKey:        strOpt(e.TransferCorrelationKey),
		PledgeID:                      e.PledgeID,
		SubscriptionID:                e.SubscriptionID,
		IssueRewardID:                 e.IssueRewardID,
		OrderID:                       e.OrderID,
		ChargeID:                      e.ChargeID,
		TransferID:                    e.TransferID,
		RefundID:                      e.RefundID,
		DisputeID:                     e.DisputeID,
		PayoutID:                      e.PayoutID,
		FeeBalanceTransactionID:       e.FeeBalanceTransactionID,
		IncurredByTransactionID:       e.IncurredByTransactionID,
		PayoutTransactionID:           e.PayoutTransactionID,
		BalanceReversalTransactionID:  e.BalanceReversalTransactionID,
		TransferReversalTransactionID: e.TransferReversalTransactionID,
		PlatformFeeType:               (*model.PlatformFeeType)(e.PlatformFeeType),
		ProcessorFeeType:              (*model.ProcessorFeeType)(e.ProcessorFeeType),
		CreatedAt:                     e.CreatedAt,
	}
}

func toTransactionModels(entities []*TransactionEntity) []*model.Transaction {
	if entities == nil {
		return nil
	}
	models := make([]*model.Transaction, len(entities))
	for i, e := range entities {
		models[i] = toTransactionModel(e)
	}
	return models
}

func optStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func strOpt(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
