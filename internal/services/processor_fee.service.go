package services

import (
	"context"
	"strings"

	gateway "github.com/meridianhq/billing-ledger/internal/gateways"
	"github.com/meridianhq/billing-ledger/internal/model"
	"github.com/meridianhq/billing-ledger/pkg/prom"
)

// Rail billing fee percentages applied on subscription invoice charges
// with automatic tax.
const (
	railBillingFeePercent = 0.5
	railTaxFeePercent     = 0.5
)

// stripeFeeRules classifies flat periodic rail fees by their textual
// description. Rules are matched in order against the lowercased
// description; tax entries mention billing too, so they come first.
var stripeFeeRules = []struct {
	contains string
	feeType  model.ProcessorFeeType
}{
	{"payout", model.ProcessorFeePayout},
	{"cross-border", model.ProcessorFeeCrossBorderTransfer},
	{"account volume", model.ProcessorFeeAccount},
	{"active account", model.ProcessorFeeAccount},
	{"tax api", model.ProcessorFeeTax},
	{"automatic tax", model.ProcessorFeeTax},
	{"billing", model.ProcessorFeeSubscription},
	{"invoicing", model.ProcessorFeeInvoice},
	{"invoice", model.ProcessorFeeInvoice},
}

// ProcessorFeeService materializes the rail's own fees as standalone
// processor_fee rows on the platform ledger, each attributed to the
// transaction that incurred it and deduplicated by the rail's balance
// transaction id.
type ProcessorFeeService struct {
	store TransactionStore
	rails gateway.Registry
}

func NewProcessorFeeService(store TransactionStore, rails gateway.Registry) *ProcessorFeeService {
	return &ProcessorFeeService{
		store: store,
		rails: rails,
	}
}

// CreatePaymentFees records the rail's cut of a successful charge. A
// subscription invoice charge with automatic tax additionally incurs
// the rail's billing and tax fees.
func (s *ProcessorFeeService) CreatePaymentFees(ctx context.Context, charge *gateway.Charge, payment *model.Transaction) ([]*model.Transaction, error) {
	rail, ok := s.rails.Stripe()
	if !ok {
		return nil, ErrUnsupportedAccountType
	}

	var created []*model.Transaction

	if charge.BalanceTransactionID != "" {
		bt, err := rail.GetBalanceTransaction(ctx, charge.BalanceTransactionID)
		if err != nil {
			return nil, err
		}
		if bt.Fee != 0 {
			row, err := s.createFee(ctx, feeRow{
				feeType:              model.ProcessorFeePayment,
				amount:               -bt.Fee,
				currency:             bt.Currency,
				incurredBy:           payment.ID,
				balanceTransactionID: bt.ID,
			})
			if err != nil {
				return nil, err
			}
			if row != nil {
				created = append(created, row)
			}
		}
	}

	if charge.InvoiceID == "" || !charge.AutomaticTax {
		return created, nil
	}

	for _, extra := range []struct {
		feeType model.ProcessorFeeType
		amount  int64
	}{
		{model.ProcessorFeeSubscription, feeAmount(charge.Amount, railBillingFeePercent)},
		{model.ProcessorFeeTax, feeAmount(charge.Amount, railTaxFeePercent)},
	} {
		if extra.amount == 0 {
			continue
		}
		row, err := s.createFee(ctx, feeRow{
			feeType:    extra.feeType,
			amount:     -extra.amount,
			currency:   charge.Currency,
			incurredBy: payment.ID,
		})
		if err != nil {
			return nil, err
		}
		if row != nil {
			created = append(created, row)
		}
	}

	return created, nil
}

// CreateRefundFees records the rail fee kept on a refund, attributed to
// the refunded payment.
func (s *ProcessorFeeService) CreateRefundFees(ctx context.Context, refund *gateway.Refund, payment *model.Transaction) ([]*model.Transaction, error) {
	if refund.BalanceTransactionID == "" {
		return nil, nil
	}
	rail, ok := s.rails.Stripe()
	if !ok {
		return nil, ErrUnsupportedAccountType
	}

	bt, err := rail.GetBalanceTransaction(ctx, refund.BalanceTransactionID)
	if err != nil {
		return nil, err
	}
	if bt.Fee == 0 {
		return nil, nil
	}

	row, err := s.createFee(ctx, feeRow{
		feeType:              model.ProcessorFeeRefund,
		amount:               -bt.Fee,
		currency:             bt.Currency,
		incurredBy:           payment.ID,
		balanceTransactionID: bt.ID,
	})
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}
	return []*model.Transaction{row}, nil
}

// CreateDisputeFees records the fees the rail charged while handling a
// dispute. Withdrawal entries carry the dispute fee attributed to the
// dispute transaction; reinstatement entries carry the dispute_reversal
// fee attributed to the reversal transaction.
func (s *ProcessorFeeService) CreateDisputeFees(ctx context.Context, dispute *gateway.Dispute, disputeTransaction *model.Transaction, reversalTransaction *model.Transaction) ([]*model.Transaction, error) {
	var created []*model.Transaction
	for i := range dispute.BalanceTransactions {
		bt := &dispute.BalanceTransactions[i]
		if bt.Fee == 0 {
			continue
		}

		feeType := model.ProcessorFeeDispute
		incurredBy := disputeTransaction.ID
		if bt.Amount > 0 {
			feeType = model.ProcessorFeeDisputeReversal
			if reversalTransaction != nil {
				incurredBy = reversalTransaction.ID
			}
		}

		row, err := s.createFee(ctx, feeRow{
			feeType:              feeType,
			amount:               -bt.Fee,
			currency:             bt.Currency,
			incurredBy:           incurredBy,
			balanceTransactionID: bt.ID,
		})
		if err != nil {
			return nil, err
		}
		if row != nil {
			created = append(created, row)
		}
	}
	return created, nil
}

// SyncStripeFees walks the platform's flat periodic rail fees and
// materializes the ones not yet on the ledger, classified by their
// description.
func (s *ProcessorFeeService) SyncStripeFees(ctx context.Context) ([]*model.Transaction, error) {
	rail, ok := s.rails.Stripe()
	if !ok {
		return nil, ErrUnsupportedAccountType
	}

	bts, err := rail.ListBalanceTransactions(ctx, "", "")
	if err != nil {
		return nil, err
	}

	var created []*model.Transaction
	for _, bt := range bts {
		if bt.Type != "stripe_fee" {
			continue
		}

		feeType, err := classifyStripeFee(bt.Description)
		if err != nil {
			return created, err
		}

		row, err := s.createFee(ctx, feeRow{
			feeType:              feeType,
			amount:               bt.Amount,
			currency:             bt.Currency,
			balanceTransactionID: bt.ID,
		})
		if err != nil {
			return created, err
		}
		if row != nil {
			created = append(created, row)
		}
	}

	return created, nil
}

type feeRow struct {
	feeType              model.ProcessorFeeType
	amount               int64
	currency             string
	incurredBy           int64
	balanceTransactionID string
}

// createFee inserts one processor_fee row, skipping rail balance
// transactions already on the ledger.
func (s *ProcessorFeeService) createFee(ctx context.Context, row feeRow) (*model.Transaction, error) {
	if row.balanceTransactionID != "" {
		existing, err := s.store.GetByFeeBalanceTransactionID(ctx, row.balanceTransactionID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return nil, nil
		}
	}

	txn := &model.Transaction{
		Type:             model.TransactionTypeProcessorFee,
		Processor:        model.ProcessorStripe,
		Currency:         row.currency,
		Amount:           row.amount,
		AccountCurrency:  row.currency,
		AccountAmount:    row.amount,
		ProcessorFeeType: &row.feeType,
	}
	if row.incurredBy != 0 {
		txn.IncurredByTransactionID = &row.incurredBy
	}
	if row.balanceTransactionID != "" {
		txn.FeeBalanceTransactionID = &row.balanceTransactionID
	}

	created, err := s.store.Create(ctx, txn)
	if err != nil {
		return nil, err
	}
	prom.AddTransactionCreated(string(model.TransactionTypeProcessorFee), 1)
	return created, nil
}

func classifyStripeFee(description string) (model.ProcessorFeeType, error) {
	desc := strings.ToLower(description)
	for _, rule := range stripeFeeRules {
		if strings.Contains(desc, rule.contains) {
			return rule.feeType, nil
		}
	}
	return "", ErrUnsupportedStripeFeeType
}
