package services

import (
	"context"
	"math"

	"github.com/meridianhq/billing-ledger/internal/model"
	"github.com/meridianhq/billing-ledger/pkg/logger"
)

// Estimated rail fee percentages applied when the rail has not yet
// reported the exact fee for a billing cycle.
const (
	estimatedSubscriptionFeePercent = 0.5
	estimatedInvoiceFeePercent      = 0.4
)

// FeeConfig holds the platform's cut per resource kind, as percentages.
// Fractional percentages are supported.
type FeeConfig struct {
	PledgeFeePercent       float64
	SubscriptionFeePercent float64
}

// PlatformFeeService claws the platform's cut, and optionally the
// rail's reported fees, back from a seller's balance as reversal
// balance pairs.
type PlatformFeeService struct {
	store   TransactionStore
	balance *BalanceService
	config  FeeConfig
}

func NewPlatformFeeService(store TransactionStore, balance *BalanceService, config FeeConfig) *PlatformFeeService {
	return &PlatformFeeService{
		store:   store,
		balance: balance,
		config:  config,
	}
}

// CreateFeesReversalBalances charges the platform cut against the given
// balance pair, and, when the destination account carries its own rail
// fees, reproduces those fees as further reversals.
func (s *PlatformFeeService) CreateFeesReversalBalances(ctx context.Context, pair *model.TransactionPair, destination *model.Account) ([]*model.TransactionPair, error) {
	var created []*model.TransactionPair

	platformCut, err := s.createPlatformCut(ctx, pair)
	if err != nil {
		return nil, err
	}
	if platformCut != nil {
		created = append(created, platformCut)
	}

	if destination != nil && destination.ProcessorFeesApplicable {
		processorCuts, err := s.createProcessorCuts(ctx, pair)
		if err != nil {
			return nil, err
		}
		created = append(created, processorCuts...)
	}

	return created, nil
}

// createPlatformCut picks the configured percentage by the resource
// attached to the pair and reverses floor(amount*percent/100). Rounding
// down always favors the platform.
func (s *PlatformFeeService) createPlatformCut(ctx context.Context, pair *model.TransactionPair) (*model.TransactionPair, error) {
	// A retried settlement must not take the cut a second time.
	applied, err := s.store.ExistsBalanceIncurredBy(ctx, pair.Incoming.ID)
	if err != nil {
		return nil, err
	}
	if applied {
		return nil, nil
	}

	var percent float64
	switch {
	case pair.Incoming.PledgeID != nil && pair.Incoming.IssueRewardID != nil:
		percent = s.config.PledgeFeePercent
	case pair.Incoming.SubscriptionID != nil:
		percent = s.config.SubscriptionFeePercent
	default:
		return nil, ErrDanglingBalanceTransactions
	}

	fee := feeAmount(pair.Incoming.Amount, percent)
	if fee == 0 {
		return nil, nil
	}

	feeType := model.PlatformFeePlatform
	return s.balance.CreateReversal(ctx, pair, fee, &feeType, &pair.Incoming.ID)
}

// createProcessorCuts reproduces every rail fee already incurred by the
// originating payment as a reversal against the seller's balance, then
// estimates the subscription and invoice fees the rail has not reported
// yet.
func (s *PlatformFeeService) createProcessorCuts(ctx context.Context, pair *model.TransactionPair) ([]*model.TransactionPair, error) {
	if pair.Incoming.ChargeID == nil {
		return nil, nil
	}
	payment, err := s.store.GetPaymentByChargeID(ctx, *pair.Incoming.ChargeID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, ErrPaymentTransactionForChargeDoesNotExist
	}

	fees, err := s.store.ListFeesIncurredBy(ctx, payment.ID)
	if err != nil {
		return nil, err
	}

	var created []*model.TransactionPair
	seen := map[model.ProcessorFeeType]bool{}
	for _, fee := range fees {
		if fee.ProcessorFeeType != nil {
			seen[*fee.ProcessorFeeType] = true
		}

		// Fee rows are negative; the clawback reverses the exact amount.
		feeType := platformFeeTypeFor(fee)
		reversal, err := s.balance.CreateReversal(ctx, pair, -fee.Amount, &feeType, &fee.ID)
		if err != nil {
			return nil, err
		}
		created = append(created, reversal)
	}

	if pair.Incoming.SubscriptionID == nil {
		return created, nil
	}

	for _, estimate := range []struct {
		feeType model.ProcessorFeeType
		tag     model.PlatformFeeType
		percent float64
	}{
		{model.ProcessorFeeSubscription, model.PlatformFeeSubscription, estimatedSubscriptionFeePercent},
		{model.ProcessorFeeInvoice, model.PlatformFeeInvoice, estimatedInvoiceFeePercent},
	} {
		if seen[estimate.feeType] {
			continue
		}
		fee := feeAmount(pair.Incoming.Amount, estimate.percent)
		if fee == 0 {
			continue
		}

		tag := estimate.tag
		reversal, err := s.balance.CreateReversal(ctx, pair, fee, &tag, &payment.ID)
		if err != nil {
			return nil, err
		}
		created = append(created, reversal)
		logger.Debug("estimated rail fee reversed",
			"charge_id", *pair.Incoming.ChargeID, "fee_type", string(estimate.tag), "amount", fee)
	}

	return created, nil
}

// platformFeeTypeFor maps a rail fee row's category to the reversal tag
// recorded on the clawback pair.
func platformFeeTypeFor(fee *model.Transaction) model.PlatformFeeType {
	if fee.ProcessorFeeType == nil {
		return model.PlatformFeePayment
	}
	switch *fee.ProcessorFeeType {
	case model.ProcessorFeeSubscription:
		return model.PlatformFeeSubscription
	case model.ProcessorFeeInvoice:
		return model.PlatformFeeInvoice
	case model.ProcessorFeeTax:
		return model.PlatformFeeTax
	case model.ProcessorFeeCrossBorderTransfer:
		return model.PlatformFeeCrossBorderTransfer
	case model.ProcessorFeePayout:
		return model.PlatformFeePayout
	case model.ProcessorFeeAccount:
		return model.PlatformFeeAccount
	case model.ProcessorFeeDispute, model.ProcessorFeeDisputeReversal:
		return model.PlatformFeeDispute
	default:
		return model.PlatformFeePayment
	}
}

func feeAmount(amount int64, percent float64) int64 {
	return int64(math.Floor(float64(amount) * percent / 100))
}
