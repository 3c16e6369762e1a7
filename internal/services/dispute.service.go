package services

import (
	"context"

	gateway "github.com/meridianhq/billing-ledger/internal/gateways"
	"github.com/meridianhq/billing-ledger/internal/model"
	"github.com/meridianhq/billing-ledger/pkg/logger"
	"github.com/meridianhq/billing-ledger/pkg/prom"
)

// DisputeService records resolved payment disputes. A dispute withdraws
// the charged amount from the platform ledger; a won dispute reinstates
// it, a lost one reverses every balance pair tied to the disputed
// payment proportionally.
type DisputeService struct {
	store         TransactionStore
	rails         gateway.Registry
	balance       *BalanceService
	processorFees *ProcessorFeeService
}

func NewDisputeService(store TransactionStore, rails gateway.Registry, balance *BalanceService, processorFees *ProcessorFeeService) *DisputeService {
	return &DisputeService{
		store:         store,
		rails:         rails,
		balance:       balance,
		processorFees: processorFees,
	}
}

// CreateDispute records a resolved dispute and its consequences. The
// dispute fee clawback at the end is best-effort: a payment with no
// balance pair yet gets its clawback later, through
// CreateReversalBalancesForPayment.
func (s *DisputeService) CreateDispute(ctx context.Context, dispute *gateway.Dispute) (*model.Transaction, error) {
	if !dispute.IsResolved() {
		return nil, ErrDisputeNotResolved
	}

	existing, err := s.store.GetByTypeAndDisputeID(ctx, model.TransactionTypeDispute, dispute.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrDisputeTransactionAlreadyExists
	}

	payment, err := s.store.GetPaymentByChargeID(ctx, dispute.ChargeID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, ErrPaymentTransactionForChargeDoesNotExist
	}

	withdrawal := disputeBalanceTransaction(dispute, false)
	if withdrawal == nil {
		return nil, ErrBalanceTransactionNotAvailable
	}

	disputeTxn, err := s.createDisputeRow(ctx, model.TransactionTypeDispute, dispute, payment, withdrawal)
	if err != nil {
		return nil, err
	}

	var reversalTxn *model.Transaction
	if dispute.Status == gateway.DisputeStatusWon {
		reinstatement := disputeBalanceTransaction(dispute, true)
		if reinstatement == nil {
			return nil, ErrBalanceTransactionNotAvailable
		}
		reversalTxn, err = s.createDisputeRow(ctx, model.TransactionTypeDisputeReversal, dispute, payment, reinstatement)
		if err != nil {
			return nil, err
		}
	}

	if _, err := s.processorFees.CreateDisputeFees(ctx, dispute, disputeTxn, reversalTxn); err != nil {
		return nil, err
	}

	if dispute.Status == gateway.DisputeStatusLost {
		if err := s.reverseBalancesProportionally(ctx, payment, disputeTxn, dispute.Amount); err != nil {
			return nil, err
		}
	}

	if err := s.clawbackDisputeFees(ctx, payment, disputeTxn, reversalTxn); err != nil {
		if err == errNotBalancedPaymentTransaction {
			logger.Warn("dispute fee clawback deferred, payment has no balance pair yet",
				"dispute_id", dispute.ID, "charge_id", dispute.ChargeID)
		} else {
			return nil, err
		}
	}

	return disputeTxn, nil
}

// CreateReversalBalancesForPayment replays the proportional reversal
// for every lost dispute already recorded against this payment that has
// not produced reversal balances yet. Used when the payment is
// attributed to an account after the dispute occurred.
func (s *DisputeService) CreateReversalBalancesForPayment(ctx context.Context, payment *model.Transaction) error {
	if payment.ChargeID == nil {
		return nil
	}

	disputes, err := s.store.ListDisputesByChargeID(ctx, *payment.ChargeID)
	if err != nil {
		return err
	}

	for _, disputeTxn := range disputes {
		reversal, err := s.store.GetByTypeAndDisputeID(ctx, model.TransactionTypeDisputeReversal, *disputeTxn.DisputeID)
		if err != nil {
			return err
		}
		if reversal != nil {
			// Won dispute, funds were reinstated.
			continue
		}

		replayed, err := s.store.ExistsBalanceIncurredBy(ctx, disputeTxn.ID)
		if err != nil {
			return err
		}
		if replayed {
			continue
		}

		if err := s.reverseBalancesProportionally(ctx, payment, disputeTxn, -disputeTxn.Amount); err != nil {
			return err
		}
		if err := s.clawbackDisputeFees(ctx, payment, disputeTxn, nil); err != nil && err != errNotBalancedPaymentTransaction {
			return err
		}
	}

	return nil
}

// createDisputeRow inserts one standalone platform-ledger row carrying
// the rail-settled amount and the tax portion attributable to the
// dispute.
func (s *DisputeService) createDisputeRow(ctx context.Context, typ model.TransactionType, dispute *gateway.Dispute, payment *model.Transaction, bt *gateway.BalanceTransaction) (*model.Transaction, error) {
	var tax int64
	if payment.Amount != 0 {
		tax = payment.TaxAmount * dispute.Amount / payment.Amount
	}
	if bt.Amount < 0 {
		tax = -tax
	}

	txn := &model.Transaction{
		Type:            typ,
		Processor:       model.ProcessorStripe,
		Currency:        bt.Currency,
		Amount:          bt.Amount,
		AccountCurrency: bt.Currency,
		AccountAmount:   bt.Amount,
		TaxAmount:       tax,
		ChargeID:        payment.ChargeID,
		DisputeID:       &dispute.ID,
		PledgeID:        payment.PledgeID,
		SubscriptionID:  payment.SubscriptionID,
		IssueRewardID:   payment.IssueRewardID,
		OrderID:         payment.OrderID,
	}

	created, err := s.store.Create(ctx, txn)
	if err != nil {
		return nil, err
	}
	prom.AddTransactionCreated(string(typ), 1)
	return created, nil
}

// reverseBalancesProportionally undoes each balance pair's share of the
// dispute: floor(pair.amount * disputeAmount / paymentAmount). Integer
// division rounds towards the platform, never the seller.
func (s *DisputeService) reverseBalancesProportionally(ctx context.Context, payment *model.Transaction, disputeTxn *model.Transaction, disputeAmount int64) error {
	if payment.ChargeID == nil || payment.Amount == 0 {
		return nil
	}

	pairs, err := s.store.ListBalancePairsByChargeID(ctx, *payment.ChargeID)
	if err != nil {
		return err
	}

	for _, pair := range pairs {
		share := pair.Incoming.Amount * disputeAmount / payment.Amount
		if share == 0 {
			continue
		}
		if _, err := s.balance.CreateReversal(ctx, pair, share, nil, &disputeTxn.ID); err != nil {
			return err
		}
	}

	return nil
}

// clawbackDisputeFees reverses the accumulated dispute fees against the
// first balance pair of the disputed payment. Fees refunded with a won
// dispute's reinstatement count against the clawback, so a fee the rail
// returned is never charged to the seller.
func (s *DisputeService) clawbackDisputeFees(ctx context.Context, payment *model.Transaction, disputeTxn *model.Transaction, reversalTxn *model.Transaction) error {
	fees, err := s.store.ListFeesIncurredBy(ctx, disputeTxn.ID)
	if err != nil {
		return err
	}
	if reversalTxn != nil {
		refunded, err := s.store.ListFeesIncurredBy(ctx, reversalTxn.ID)
		if err != nil {
			return err
		}
		fees = append(fees, refunded...)
	}

	var total int64
	for _, fee := range fees {
		total += -fee.Amount
	}
	if total == 0 {
		return nil
	}

	if payment.ChargeID == nil {
		return errNotBalancedPaymentTransaction
	}
	pairs, err := s.store.ListBalancePairsByChargeID(ctx, *payment.ChargeID)
	if err != nil {
		return err
	}
	if len(pairs) == 0 {
		return errNotBalancedPaymentTransaction
	}

	feeType := model.PlatformFeeDispute
	_, err = s.balance.CreateReversal(ctx, pairs[0], total, &feeType, &disputeTxn.ID)
	return err
}

// disputeBalanceTransaction picks the withdrawal (negative) or
// reinstatement (positive) entry from the dispute's expanded balance
// transactions.
func disputeBalanceTransaction(dispute *gateway.Dispute, reinstatement bool) *gateway.BalanceTransaction {
	for i := range dispute.BalanceTransactions {
		bt := &dispute.BalanceTransactions[i]
		if reinstatement && bt.Amount > 0 {
			return bt
		}
		if !reinstatement && bt.Amount < 0 {
			return bt
		}
	}
	return nil
}
