package gateway

import (
	"context"
	"errors"

	"github.com/meridianhq/billing-ledger/internal/model"
)

var ErrNotSupported = errors.New("operation not supported by this rail")

// Charge is a settled payment on the rail.
type Charge struct {
	ID                   string            `json:"id"`
	PaymentIntentID      string            `json:"payment_intent_id,omitempty"`
	BalanceTransactionID string            `json:"balance_transaction_id,omitempty"`
	InvoiceID            string            `json:"invoice_id,omitempty"`
	Amount               int64             `json:"amount"`
	Currency             string            `json:"currency"`
	AutomaticTax         bool              `json:"automatic_tax"`
	TaxAmount            int64             `json:"tax_amount"`
	Metadata             map[string]string `json:"metadata,omitempty"`
}

// BalanceTransaction is one entry on the rail's own ledger: the settled
// view of a charge, transfer, refund, dispute adjustment or flat fee.
type BalanceTransaction struct {
	ID               string  `json:"id"`
	Type             string  `json:"type"`
	Amount           int64   `json:"amount"`
	Currency         string  `json:"currency"`
	Fee              int64   `json:"fee"`
	ExchangeRate     float64 `json:"exchange_rate,omitempty"`
	Description      string  `json:"description,omitempty"`
	SourceTransferID string  `json:"source_transfer_id,omitempty"`
}

type Refund struct {
	ID                   string `json:"id"`
	ChargeID             string `json:"charge_id"`
	Status               string `json:"status"`
	Amount               int64  `json:"amount"`
	Currency             string `json:"currency"`
	BalanceTransactionID string `json:"balance_transaction_id,omitempty"`
}

const (
	RefundStatusSucceeded = "succeeded"

	DisputeStatusWon  = "won"
	DisputeStatusLost = "lost"

	PayoutStatusPaid = "paid"
)

// Dispute carries its balance transactions expanded: the withdrawal
// entry, and the reinstatement entry once the dispute is won.
type Dispute struct {
	ID                  string               `json:"id"`
	ChargeID            string               `json:"charge_id"`
	Status              string               `json:"status"`
	Amount              int64                `json:"amount"`
	Currency            string               `json:"currency"`
	BalanceTransactions []BalanceTransaction `json:"balance_transactions"`
}

func (d *Dispute) IsResolved() bool {
	return d.Status == DisputeStatusWon || d.Status == DisputeStatusLost
}

type Payout struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type PaymentIntent struct {
	ID             string `json:"id"`
	LatestChargeID string `json:"latest_charge_id"`
}

// TransferResult is the rail's answer to a transfer or a transfer
// reversal. DestinationBalanceTransactionID points at the entry on the
// destination account's rail ledger, which carries the settled amount
// in the account's own currency.
type TransferResult struct {
	ID                              string `json:"id"`
	DestinationBalanceTransactionID string `json:"destination_balance_transaction_id,omitempty"`
}

// Rail is the payment-rail contract the ledger depends on. One
// implementation per processor; rails that settle out-of-band implement
// the transfer operations as deferred no-ops.
type Rail interface {
	GetCharge(ctx context.Context, id string) (*Charge, error)
	GetBalanceTransaction(ctx context.Context, id string) (*BalanceTransaction, error)
	// ListBalanceTransactions lists the rail-ledger entries of a
	// connected account, optionally restricted to one payout. Empty
	// account id means the platform's own rail account.
	ListBalanceTransactions(ctx context.Context, accountID string, payoutID string) ([]*BalanceTransaction, error)
	GetRefund(ctx context.Context, id string) (*Refund, error)
	ListRefunds(ctx context.Context, chargeID string) ([]*Refund, error)
	GetDispute(ctx context.Context, id string) (*Dispute, error)
	RetrievePaymentIntent(ctx context.Context, id string) (*PaymentIntent, error)
	Transfer(ctx context.Context, destination string, amount int64, sourceTransaction string, metadata map[string]string) (*TransferResult, error)
	ReverseTransfer(ctx context.Context, transferID string, amount int64, metadata map[string]string) (*TransferResult, error)
}

// Registry selects the Rail implementation for a processor.
type Registry map[model.Processor]Rail

func (r Registry) For(p model.Processor) (Rail, bool) {
	rail, ok := r[p]
	return rail, ok
}

// Stripe is a shortcut for the rail most operations are keyed to.
func (r Registry) Stripe() (Rail, bool) {
	return r.For(model.ProcessorStripe)
}
