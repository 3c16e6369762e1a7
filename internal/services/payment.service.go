package services

import (
	"context"
	"strconv"

	gateway "github.com/meridianhq/billing-ledger/internal/gateways"
	"github.com/meridianhq/billing-ledger/internal/model"
	"github.com/meridianhq/billing-ledger/pkg/prom"
)

// PaymentService records settled charges as payment rows, the roots
// every later balance, transfer, refund and dispute hangs off.
type PaymentService struct {
	store         TransactionStore
	rails         gateway.Registry
	processorFees *ProcessorFeeService
}

func NewPaymentService(store TransactionStore, rails gateway.Registry, processorFees *ProcessorFeeService) *PaymentService {
	return &PaymentService{
		store:         store,
		rails:         rails,
		processorFees: processorFees,
	}
}

// CreateFromCharge records one payment row for a settled charge and the
// rail's payment fees. Replayed deliveries of the same charge return
// the existing row.
func (s *PaymentService) CreateFromCharge(ctx context.Context, charge *gateway.Charge) (*model.Transaction, error) {
	existing, err := s.store.GetPaymentByChargeID(ctx, charge.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	attr := attributionFromMetadata(charge.Metadata)
	payment, err := s.store.Create(ctx, &model.Transaction{
		Type:            model.TransactionTypePayment,
		Processor:       model.ProcessorStripe,
		Currency:        charge.Currency,
		Amount:          charge.Amount,
		AccountCurrency: charge.Currency,
		AccountAmount:   charge.Amount,
		TaxAmount:       charge.TaxAmount,
		ChargeID:        &charge.ID,
		PledgeID:        attr.PledgeID,
		SubscriptionID:  attr.SubscriptionID,
		IssueRewardID:   attr.IssueRewardID,
		OrderID:         attr.OrderID,
	})
	if err != nil {
		return nil, err
	}
	prom.AddTransactionCreated(string(model.TransactionTypePayment), 1)

	if _, err := s.processorFees.CreatePaymentFees(ctx, charge, payment); err != nil {
		return nil, err
	}

	return payment, nil
}

// GetByChargeID resolves the payment row for a charge.
func (s *PaymentService) GetByChargeID(ctx context.Context, chargeID string) (*model.Transaction, error) {
	payment, err := s.store.GetPaymentByChargeID(ctx, chargeID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, ErrPaymentTransactionForChargeDoesNotExist
	}
	return payment, nil
}

// attributionFromMetadata reads the resource ids the checkout flow
// stamps on the charge. Unparseable values are ignored.
func attributionFromMetadata(metadata map[string]string) model.Attribution {
	parse := func(key string) *int64 {
		raw, ok := metadata[key]
		if !ok {
			return nil
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil
		}
		return &id
	}

	return model.Attribution{
		PledgeID:       parse("pledge_id"),
		SubscriptionID: parse("subscription_id"),
		IssueRewardID:  parse("issue_reward_id"),
		OrderID:        parse("order_id"),
	}
}
