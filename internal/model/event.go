package model

import "errors"

// Rail event types the ledger reacts to.
const (
	EventChargeSucceeded     = "charge.succeeded"
	EventChargeRefunded      = "charge.refunded"
	EventChargeDisputeClosed = "charge.dispute.closed"
	EventPayoutPaid          = "payout.paid"
)

// RailEvent is one webhook delivery from the payment rail, as queued by
// the API for asynchronous processing. The rail delivers at least once;
// ID is the delivery's idempotency key.
type RailEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`

	ChargeID        string `json:"charge_id,omitempty"`
	PaymentIntentID string `json:"payment_intent_id,omitempty"`
	DisputeID       string `json:"dispute_id,omitempty"`

	// Payout deliveries carry the payout object inline; the rail
	// contract has no payout retrieval operation.
	PayoutID          string `json:"payout_id,omitempty"`
	PayoutStatus      string `json:"payout_status,omitempty"`
	PayoutAmount      int64  `json:"payout_amount,omitempty"`
	PayoutCurrency    string `json:"payout_currency,omitempty"`
	AccountExternalID string `json:"account_external_id,omitempty"`
}

func (e RailEvent) Validate() error {
	if e.ID == "" {
		return errors.New("event id is required")
	}
	if e.Type == "" {
		return errors.New("event type is required")
	}
	return nil
}
