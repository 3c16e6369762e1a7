package services

import (
	"context"

	"github.com/meridianhq/billing-ledger/internal/model"
)

// TransactionStore is the ledger persistence contract the services
// depend on, satisfied by repository.TransactionRepository.
type TransactionStore interface {
	Create(ctx context.Context, txn *model.Transaction) (*model.Transaction, error)
	CreatePair(ctx context.Context, pair *model.TransactionPair) error
	GetByID(ctx context.Context, id int64) (*model.Transaction, error)
	GetPaymentByChargeID(ctx context.Context, chargeID string) (*model.Transaction, error)
	GetByTypeAndDisputeID(ctx context.Context, typ model.TransactionType, disputeID string) (*model.Transaction, error)
	GetByTypeAndRefundID(ctx context.Context, typ model.TransactionType, refundID string) (*model.Transaction, error)
	GetByTypeAndPayoutID(ctx context.Context, typ model.TransactionType, payoutID string) (*model.Transaction, error)
	GetByFeeBalanceTransactionID(ctx context.Context, feeBalanceTransactionID string) (*model.Transaction, error)
	ListBalancePairsByChargeID(ctx context.Context, chargeID string) ([]*model.TransactionPair, error)
	ListTransfersByChargeID(ctx context.Context, chargeID string, attr model.Attribution) ([]*model.Transaction, error)
	GetTransferPairByChargeID(ctx context.Context, chargeID string) (*model.TransactionPair, error)
	GetUnsettledTransferLeg(ctx context.Context, accountID int64, transferID string) (*model.Transaction, error)
	ListFeesIncurredBy(ctx context.Context, transactionID int64) ([]*model.Transaction, error)
	ExistsBalanceIncurredBy(ctx context.Context, transactionID int64) (bool, error)
	ListDisputesByChargeID(ctx context.Context, chargeID string) ([]*model.Transaction, error)
	SetTransferID(ctx context.Context, ids []int64, transferID string) error
	CorrectAccountAmount(ctx context.Context, id int64, accountAmount int64, accountCurrency string) error
	LinkPayout(ctx context.Context, id int64, payoutTransactionID int64) error
	SetPayoutAmount(ctx context.Context, payoutTransactionID int64, currency string, amount int64) error
	SumAmountByAccount(ctx context.Context, accountID int64, currency string) (int64, error)
	List(ctx context.Context, f model.TransactionFilter) ([]*model.Transaction, int64, error)
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// AccountStore is the account contract, satisfied by
// repository.AccountRepository. CheckReviewThreshold may mutate the
// account's review flags as a side effect.
type AccountStore interface {
	GetByID(ctx context.Context, id int64) (*model.Account, error)
	GetByStripeID(ctx context.Context, stripeID string) (*model.Account, error)
	CheckReviewThreshold(ctx context.Context, accountID int64, amount int64) (*model.Account, error)
}
