package services

import "errors"

// All ledger failures are recoverable application-level errors scoped to
// a single financial event; the invoking handler decides whether to
// retry or surface them. None are process-fatal.
var (
	// Lookup failures.
	ErrPaymentTransactionForChargeDoesNotExist = errors.New("no payment transaction exists for charge")
	ErrRefundUnknownPaymentTransaction         = errors.New("no payment transaction exists for refunded charge")
	ErrUnknownAccount                          = errors.New("unknown account")
	ErrUnknownTransaction                      = errors.New("transaction does not belong to account")

	// Data-integrity violations. Raised, never silently repaired.
	ErrMoreThanTwoTransfers = errors.New("more than two transfer transactions exist for a single payment")

	// Account-eligibility failures.
	ErrUnsupportedAccountType = errors.New("account type maps to no supported processor")
	ErrUnderReviewAccount     = errors.New("account is under review")
	ErrNotReadyAccount        = errors.New("account has not completed onboarding")

	// Dispute precondition failures.
	ErrDisputeNotResolved              = errors.New("dispute is not resolved")
	ErrDisputeTransactionAlreadyExists = errors.New("dispute transaction already exists for this dispute")
	ErrBalanceTransactionNotAvailable  = errors.New("rail balance transaction not available for dispute")

	// Fee-attribution failures.
	ErrDanglingBalanceTransactions = errors.New("balance transactions carry no resource attribution")
	ErrUnsupportedStripeFeeType    = errors.New("unrecognized stripe fee description")

	// Payout precondition failures.
	ErrStripePayoutNotPaid = errors.New("stripe payout is not paid")
)

// errNotBalancedPaymentTransaction is raised while clawing dispute fees
// back from a payment that has no balance pair yet. It stays inside the
// dispute service: the clawback is completed later through
// CreateReversalBalancesForPayment once the payment is attributed to an
// account.
var errNotBalancedPaymentTransaction = errors.New("payment transaction has no balance transactions")
