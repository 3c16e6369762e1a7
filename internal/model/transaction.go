package model

import "time"

// TransactionType is the kind of ledger entry.
type TransactionType string

const (
	TransactionTypePayment         TransactionType = "payment"
	TransactionTypeBalance         TransactionType = "balance"
	TransactionTypeTransfer        TransactionType = "transfer"
	TransactionTypeRefund          TransactionType = "refund"
	TransactionTypeDispute         TransactionType = "dispute"
	TransactionTypeDisputeReversal TransactionType = "dispute_reversal"
	TransactionTypeFee             TransactionType = "fee"
	TransactionTypeProcessorFee    TransactionType = "processor_fee"
	TransactionTypePayout          TransactionType = "payout"
)

// Processor identifies the external payment rail that settled a leg.
// ProcessorNone marks legs with no rail involvement.
type Processor string

const (
	ProcessorStripe         Processor = "stripe"
	ProcessorOpenCollective Processor = "open_collective"
	ProcessorNone           Processor = ""
)

// PlatformFeeType classifies balance reversals that claw fees back
// from a seller account.
type PlatformFeeType string

const (
	PlatformFeePlatform            PlatformFeeType = "platform"
	PlatformFeePayment             PlatformFeeType = "payment"
	PlatformFeeSubscription        PlatformFeeType = "subscription"
	PlatformFeeInvoice             PlatformFeeType = "invoice"
	PlatformFeeCrossBorderTransfer PlatformFeeType = "cross_border_transfer"
	PlatformFeePayout              PlatformFeeType = "payout"
	PlatformFeeAccount             PlatformFeeType = "account"
	PlatformFeeDispute             PlatformFeeType = "dispute"
	PlatformFeeTax                 PlatformFeeType = "tax"
)

// ProcessorFeeType classifies processor_fee rows by what the rail
// charged the fee for.
type ProcessorFeeType string

const (
	ProcessorFeePayment             ProcessorFeeType = "payment"
	ProcessorFeeRefund              ProcessorFeeType = "refund"
	ProcessorFeeDispute             ProcessorFeeType = "dispute"
	ProcessorFeeDisputeReversal     ProcessorFeeType = "dispute_reversal"
	ProcessorFeeSubscription        ProcessorFeeType = "subscription"
	ProcessorFeeInvoice             ProcessorFeeType = "invoice"
	ProcessorFeeCrossBorderTransfer ProcessorFeeType = "cross_border_transfer"
	ProcessorFeePayout              ProcessorFeeType = "payout"
	ProcessorFeeAccount             ProcessorFeeType = "account"
	ProcessorFeeTax                 ProcessorFeeType = "tax"
)

// Transaction is the sole ledger entity. Amounts are signed integers in
// minor units. Amount/Currency are the platform's bookkeeping view;
// AccountAmount/AccountCurrency are the owning account's view and may
// diverge after the rail applies a currency conversion.
//
// Rows are immutable once created. A correction is always a new pair of
// rows linked through the *_reversal back-references, never an update of
// the original pair. The only fields written after insert are link and
// FX-correction fields (TransferID, PayoutTransactionID, and the
// incoming leg's AccountAmount/AccountCurrency), all within the unit of
// work of the call that created the row.
type Transaction struct {
	ID        int64           `json:"id"`
	Type      TransactionType `json:"type"`
	Processor Processor       `json:"processor"`

	Currency        string `json:"currency"`
	Amount          int64  `json:"amount"`
	AccountCurrency string `json:"account_currency"`
	AccountAmount   int64  `json:"account_amount"`
	TaxAmount       int64  `json:"tax_amount"`

	// AccountID is the owning account; nil means the platform's own ledger.
	AccountID *int64 `json:"account_id"`

	// Correlation keys shared by exactly the two rows of one paired operation.
	BalanceCorrelationKey  string `json:"balance_correlation_key,omitempty"`
	TransferCorrelationKey string `json:"transfer_correlation_key,omitempty"`

	// Resource attribution, read-only links to whatever generated the movement.
	PledgeID       *int64 `json:"pledge_id,omitempty"`
	SubscriptionID *int64 `json:"subscription_id,omitempty"`
	IssueRewardID  *int64 `json:"issue_reward_id,omitempty"`
	OrderID        *int64 `json:"order_id,omitempty"`

	// External rail identifiers, used for idempotent lookups.
	ChargeID                *string `json:"charge_id,omitempty"`
	TransferID              *string `json:"transfer_id,omitempty"`
	RefundID                *string `json:"refund_id,omitempty"`
	DisputeID               *string `json:"dispute_id,omitempty"`
	PayoutID                *string `json:"payout_id,omitempty"`
	FeeBalanceTransactionID *string `json:"fee_balance_transaction_id,omitempty"`

	// IncurredByTransactionID attributes a fee row to the transaction
	// that caused it.
	IncurredByTransactionID *int64 `json:"incurred_by_transaction_id,omitempty"`

	// PayoutTransactionID links a settled transfer leg to its payout row.
	PayoutTransactionID *int64 `json:"payout_transaction_id,omitempty"`

	// Back-references from a reversal pair to the entry it undoes.
	BalanceReversalTransactionID  *int64 `json:"balance_reversal_transaction_id,omitempty"`
	TransferReversalTransactionID *int64 `json:"transfer_reversal_transaction_id,omitempty"`

	PlatformFeeType  *PlatformFeeType  `json:"platform_fee_type,omitempty"`
	ProcessorFeeType *ProcessorFeeType `json:"processor_fee_type,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func (Transaction) TableName() string { return "transactions" }

// TransactionPair holds the two legs of one paired operation. Outgoing
// is the leg money leaves (negative amount), Incoming the leg money
// enters (positive amount). Exactly one of the two has a nil AccountID.
type TransactionPair struct {
	Outgoing *Transaction
	Incoming *Transaction
}

// Attribution tags ledger rows with the resource that generated the
// money movement. The ids are never dereferenced by the ledger.
type Attribution struct {
	PledgeID       *int64
	SubscriptionID *int64
	IssueRewardID  *int64
	OrderID        *int64
}

// TransactionFilter controls List queries.
type TransactionFilter struct {
	AccountID *int64
	Type      *TransactionType
	ChargeID  *string
	Currency  *string
	Limit     int
	Offset    int
	Desc      bool
}
