package gateway

import (
	"context"
)

// OpenCollectiveRail settles out-of-band: money never moves at transfer
// time, only at payout time through a manual payout. Transfer operations
// therefore succeed with an empty result, and retrieval operations are
// not available.
type OpenCollectiveRail struct{}

func NewOpenCollectiveRail() *OpenCollectiveRail {
	return &OpenCollectiveRail{}
}

func (r *OpenCollectiveRail) GetCharge(ctx context.Context, id string) (*Charge, error) {
	return nil, ErrNotSupported
}

func (r *OpenCollectiveRail) GetBalanceTransaction(ctx context.Context, id string) (*BalanceTransaction, error) {
	return nil, ErrNotSupported
}

func (r *OpenCollectiveRail) ListBalanceTransactions(ctx context.Context, accountID string, payoutID string) ([]*BalanceTransaction, error) {
	return nil, ErrNotSupported
}

func (r *OpenCollectiveRail) GetRefund(ctx context.Context, id string) (*Refund, error) {
	return nil, ErrNotSupported
}

func (r *OpenCollectiveRail) ListRefunds(ctx context.Context, chargeID string) ([]*Refund, error) {
	return nil, ErrNotSupported
}

func (r *OpenCollectiveRail) GetDispute(ctx context.Context, id string) (*Dispute, error) {
	return nil, ErrNotSupported
}

func (r *OpenCollectiveRail) RetrievePaymentIntent(ctx context.Context, id string) (*PaymentIntent, error) {
	return nil, ErrNotSupported
}

// Transfer is deferred: nothing to do here, the money moves at payout
// time. The empty result id tells the caller no rail transfer exists to
// record or FX-correct.
func (r *OpenCollectiveRail) Transfer(ctx context.Context, destination string, amount int64, sourceTransaction string, metadata map[string]string) (*TransferResult, error) {
	return &TransferResult{}, nil
}

func (r *OpenCollectiveRail) ReverseTransfer(ctx context.Context, transferID string, amount int64, metadata map[string]string) (*TransferResult, error) {
	return &TransferResult{}, nil
}
