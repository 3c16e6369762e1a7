package model

import "errors"

// AccountType is the kind of external payout destination the seller
// connected.
type AccountType string

const (
	AccountTypeStripe         AccountType = "stripe"
	AccountTypeOpenCollective AccountType = "open_collective"
)

// Processor returns the payment rail that settles transfers for this
// account type. The second return is false for unsupported types.
func (t AccountType) Processor() (Processor, bool) {
	switch t {
	case AccountTypeStripe:
		return ProcessorStripe, true
	case AccountTypeOpenCollective:
		return ProcessorOpenCollective, true
	default:
		return ProcessorNone, false
	}
}

type AccountStatus string

const (
	AccountStatusCreated           AccountStatus = "created"
	AccountStatusOnboardingStarted AccountStatus = "onboarding_started"
	AccountStatusUnderReview       AccountStatus = "under_review"
	AccountStatusActive            AccountStatus = "active"
)

// Account is a connected seller account that earns money on the ledger
// and receives transfers on an external rail.
type Account struct {
	ID          int64       `json:"id"`
	AccountType AccountType `json:"account_type"`

	// StripeID is the account's identifier on the external rail.
	StripeID string `json:"stripe_id"`

	// Currency the rail settles payouts in for this account.
	Currency string `json:"currency"`

	IsDetailsSubmitted bool `json:"is_details_submitted"`
	IsChargesEnabled   bool `json:"is_charges_enabled"`
	IsPayoutsEnabled   bool `json:"is_payouts_enabled"`

	Status AccountStatus `json:"status"`

	// ProcessorFeesApplicable marks accounts whose rail fees are clawed
	// back from their balance.
	ProcessorFeesApplicable bool `json:"processor_fees_applicable"`

	// NextReviewThreshold is the cumulative transferred amount (minor
	// units) that flags the account for review when crossed. Zero
	// disables the check.
	NextReviewThreshold int64 `json:"next_review_threshold"`

	// TransferredTotal is the running sum used against the threshold.
	TransferredTotal int64 `json:"transferred_total"`
}

func (Account) TableName() string { return "accounts" }

// IsReady reports whether the account finished onboarding and can
// receive transfers.
func (a *Account) IsReady() bool {
	return a.Status != AccountStatusCreated && a.IsDetailsSubmitted && a.IsPayoutsEnabled
}

func (a *Account) IsUnderReview() bool {
	return a.Status == AccountStatusUnderReview
}

// AccountCreateRequest is the input for creating an account.
type AccountCreateRequest struct {
	AccountType             AccountType
	StripeID                string
	Currency                string
	ProcessorFeesApplicable bool
	NextReviewThreshold     int64
}

func (p AccountCreateRequest) Validate() error {
	if _, ok := p.AccountType.Processor(); !ok {
		return errors.New("account_type is not supported")
	}
	if p.AccountType == AccountTypeStripe && p.StripeID == "" {
		return errors.New("stripe_id is required for stripe accounts")
	}
	if p.Currency == "" {
		return errors.New("currency is required")
	}
	return nil
}
