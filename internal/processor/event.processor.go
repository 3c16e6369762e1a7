package processor

import (
	"context"
	"encoding/json"
	"strconv"

	gateway "github.com/meridianhq/billing-ledger/internal/gateways"
	"github.com/meridianhq/billing-ledger/internal/model"
	"github.com/meridianhq/billing-ledger/internal/queue"
	"github.com/meridianhq/billing-ledger/internal/services"
	"github.com/meridianhq/billing-ledger/pkg/logger"
)

// EventProcessor consumes rail webhook events off the queue and applies
// them to the ledger. The rail delivers at least once; a Redis lock on
// the event id stops concurrent deliveries, and every service call is
// additionally idempotent by external id, so replays settle to the same
// rows.
type EventProcessor struct {
	rails        gateway.Registry
	idempotency  *IdempotencyService
	accounts     services.AccountStore
	payments     *services.PaymentService
	balances     *services.BalanceService
	transfers    *services.TransferService
	platformFees *services.PlatformFeeService
	refunds      *services.RefundService
	disputes     *services.DisputeService
	payouts      *services.PayoutService
}

func NewEventProcessor(
	rails gateway.Registry,
	idempotency *IdempotencyService,
	accounts services.AccountStore,
	payments *services.PaymentService,
	balances *services.BalanceService,
	transfers *services.TransferService,
	platformFees *services.PlatformFeeService,
	refunds *services.RefundService,
	disputes *services.DisputeService,
	payouts *services.PayoutService,
) *EventProcessor {
	return &EventProcessor{
		rails:        rails,
		idempotency:  idempotency,
		accounts:     accounts,
		payments:     payments,
		balances:     balances,
		transfers:    transfers,
		platformFees: platformFees,
		refunds:      refunds,
		disputes:     disputes,
		payouts:      payouts,
	}
}

func (p *EventProcessor) GetType() string {
	return "rail-event"
}

// Process applies one queued rail event. A nil return acks the message;
// an error leaves it pending for redelivery.
func (p *EventProcessor) Process(ctx context.Context, msg *queue.Message) error {
	var event model.RailEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		// Malformed payloads never succeed on retry.
		logger.Error("Dropping malformed rail event", "message_id", msg.ID, "error", err)
		return nil
	}
	if err := event.Validate(); err != nil {
		logger.Error("Dropping invalid rail event", "message_id", msg.ID, "error", err)
		return nil
	}

	pc, err := p.idempotency.AcquireProcessingLock(ctx, event.ID)
	if err != nil {
		if err == ErrAlreadyProcessed {
			return nil
		}
		return err
	}

	if err := p.apply(ctx, &event); err != nil {
		_ = p.idempotency.MarkFailure(ctx, pc, err)
		return err
	}

	return p.idempotency.MarkSuccess(ctx, pc)
}

func (p *EventProcessor) apply(ctx context.Context, event *model.RailEvent) error {
	switch event.Type {
	case model.EventChargeSucceeded:
		return p.applyChargeSucceeded(ctx, event)
	case model.EventChargeRefunded:
		return p.applyChargeRefunded(ctx, event)
	case model.EventChargeDisputeClosed:
		return p.applyDisputeClosed(ctx, event)
	case model.EventPayoutPaid:
		return p.applyPayoutPaid(ctx, event)
	default:
		logger.Info("Ignoring unhandled rail event type", "event_id", event.ID, "type", event.Type)
		return nil
	}
}

func (p *EventProcessor) applyChargeSucceeded(ctx context.Context, event *model.RailEvent) error {
	rail, ok := p.rails.Stripe()
	if !ok {
		return services.ErrUnsupportedAccountType
	}

	chargeID := event.ChargeID
	if chargeID == "" && event.PaymentIntentID != "" {
		intent, err := rail.RetrievePaymentIntent(ctx, event.PaymentIntentID)
		if err != nil {
			return err
		}
		chargeID = intent.LatestChargeID
	}

	charge, err := rail.GetCharge(ctx, chargeID)
	if err != nil {
		return err
	}

	payment, err := p.payments.CreateFromCharge(ctx, charge)
	if err != nil {
		return err
	}

	// Disputes that arrived before the charge delivery get their
	// reversal balances replayed now.
	if err := p.disputes.CreateReversalBalancesForPayment(ctx, payment); err != nil {
		return err
	}

	return p.settle(ctx, charge, payment)
}

// settle attributes the charge to its destination account: balance
// pair, transfer to the account's rail destination, platform and rail
// fee clawbacks. A charge with no account in its metadata stays on the
// platform ledger until the account is attached.
//
// The steps commit independently; a crash between them leaves a
// partially settled charge for external reconciliation.
func (p *EventProcessor) settle(ctx context.Context, charge *gateway.Charge, payment *model.Transaction) error {
	raw, ok := charge.Metadata["account_id"]
	if !ok {
		logger.Info("Charge carries no account, skipping settlement", "charge_id", charge.ID)
		return nil
	}
	accountID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		logger.Warn("Charge carries unparseable account id, skipping settlement",
			"charge_id", charge.ID, "account_id", raw)
		return nil
	}

	account, err := p.accounts.GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	if account == nil {
		return services.ErrUnknownAccount
	}

	attr := model.Attribution{
		PledgeID:       payment.PledgeID,
		SubscriptionID: payment.SubscriptionID,
		IssueRewardID:  payment.IssueRewardID,
		OrderID:        payment.OrderID,
	}
	amount := payment.Amount - payment.TaxAmount

	pair, err := p.balances.CreateFromCharge(ctx, charge.ID, account, amount, attr)
	if err != nil {
		return err
	}

	if _, err := p.transfers.CreateFromCharge(ctx, account, charge.ID, amount, attr); err != nil {
		return err
	}

	_, err = p.platformFees.CreateFeesReversalBalances(ctx, pair, account)
	return err
}

func (p *EventProcessor) applyChargeRefunded(ctx context.Context, event *model.RailEvent) error {
	_, err := p.refunds.CreateRefunds(ctx, event.ChargeID)
	return err
}

func (p *EventProcessor) applyDisputeClosed(ctx context.Context, event *model.RailEvent) error {
	rail, ok := p.rails.Stripe()
	if !ok {
		return services.ErrUnsupportedAccountType
	}

	dispute, err := rail.GetDispute(ctx, event.DisputeID)
	if err != nil {
		return err
	}

	_, err = p.disputes.CreateDispute(ctx, dispute)
	if err == services.ErrDisputeTransactionAlreadyExists {
		logger.Info("Dispute already recorded", "dispute_id", event.DisputeID)
		return nil
	}
	return err
}

func (p *EventProcessor) applyPayoutPaid(ctx context.Context, event *model.RailEvent) error {
	payout := &gateway.Payout{
		ID:       event.PayoutID,
		Status:   event.PayoutStatus,
		Amount:   event.PayoutAmount,
		Currency: event.PayoutCurrency,
	}

	_, err := p.payouts.CreatePayoutFromStripe(ctx, payout, event.AccountExternalID)
	return err
}
