package services

import (
	"context"

	gateway "github.com/meridianhq/billing-ledger/internal/gateways"
	"github.com/meridianhq/billing-ledger/internal/model"
	"github.com/meridianhq/billing-ledger/pkg/prom"
)

// RefundService mirrors the rail's refunds on the ledger, one negative
// refund row per rail refund, and pulls already-transferred money back
// from the seller.
type RefundService struct {
	store         TransactionStore
	rails         gateway.Registry
	transfers     *TransferService
	processorFees *ProcessorFeeService
}

func NewRefundService(store TransactionStore, rails gateway.Registry, transfers *TransferService, processorFees *ProcessorFeeService) *RefundService {
	return &RefundService{
		store:         store,
		rails:         rails,
		transfers:     transfers,
		processorFees: processorFees,
	}
}

// CreateRefunds enumerates the rail's refunds for a charge and records
// each one not yet on the ledger. Replayed webhook deliveries find
// their refund ids already recorded and create nothing.
func (s *RefundService) CreateRefunds(ctx context.Context, chargeID string) ([]*model.Transaction, error) {
	payment, err := s.store.GetPaymentByChargeID(ctx, chargeID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, ErrRefundUnknownPaymentTransaction
	}

	rail, ok := s.rails.Stripe()
	if !ok {
		return nil, ErrUnsupportedAccountType
	}
	refunds, err := rail.ListRefunds(ctx, chargeID)
	if err != nil {
		return nil, err
	}

	var created []*model.Transaction
	for _, refund := range refunds {
		if refund.Status != gateway.RefundStatusSucceeded {
			continue
		}

		existing, err := s.store.GetByTypeAndRefundID(ctx, model.TransactionTypeRefund, refund.ID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			continue
		}

		row, err := s.createRefund(ctx, payment, refund)
		if err != nil {
			return nil, err
		}
		created = append(created, row)
	}

	return created, nil
}

func (s *RefundService) createRefund(ctx context.Context, payment *model.Transaction, refund *gateway.Refund) (*model.Transaction, error) {
	var tax int64
	if payment.Amount != 0 {
		tax = payment.TaxAmount * refund.Amount / payment.Amount
	}

	txn := &model.Transaction{
		Type:            model.TransactionTypeRefund,
		Processor:       model.ProcessorStripe,
		Currency:        refund.Currency,
		Amount:          -refund.Amount,
		AccountCurrency: refund.Currency,
		AccountAmount:   -refund.Amount,
		TaxAmount:       -tax,
		ChargeID:        payment.ChargeID,
		RefundID:        &refund.ID,
		PledgeID:        payment.PledgeID,
		SubscriptionID:  payment.SubscriptionID,
		IssueRewardID:   payment.IssueRewardID,
		OrderID:         payment.OrderID,
	}

	row, err := s.store.Create(ctx, txn)
	if err != nil {
		return nil, err
	}
	prom.AddTransactionCreated(string(model.TransactionTypeRefund), 1)

	if _, err := s.processorFees.CreateRefundFees(ctx, refund, payment); err != nil {
		return nil, err
	}

	// Money already moved to the seller comes back through a transfer
	// reversal for the refunded amount.
	transferPair, err := s.store.GetTransferPairByChargeID(ctx, *payment.ChargeID)
	if err != nil {
		return nil, err
	}
	if transferPair != nil {
		destinationCurrency := transferPair.Incoming.AccountCurrency
		if _, err := s.transfers.CreateReversal(ctx, transferPair, destinationCurrency, refund.Amount); err != nil {
			return nil, err
		}
	}

	return row, nil
}
