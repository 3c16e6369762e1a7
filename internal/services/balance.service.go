package services

import (
	"context"
	"strconv"

	gateway "github.com/meridianhq/billing-ledger/internal/gateways"
	"github.com/meridianhq/billing-ledger/internal/model"
	"github.com/meridianhq/billing-ledger/pkg/logger"
	"github.com/meridianhq/billing-ledger/pkg/prom"
	"github.com/google/uuid"
)

// BalanceService records that money has been earned by (or owed to) an
// account, always as a pair of rows: one on the platform ledger, one on
// the account's, with amounts that are exact negatives of each other.
type BalanceService struct {
	store    TransactionStore
	accounts AccountStore
	rails    gateway.Registry
}

func NewBalanceService(store TransactionStore, accounts AccountStore, rails gateway.Registry) *BalanceService {
	return &BalanceService{
		store:    store,
		accounts: accounts,
		rails:    rails,
	}
}

// BalanceParams is the input for creating a balance pair. A nil source
// or destination account means the platform's own ledger.
type BalanceParams struct {
	SourceAccount      *model.Account
	DestinationAccount *model.Account
	Currency           string
	Amount             int64
	ChargeID           *string
	Attribution        model.Attribution
	PlatformFeeType    *model.PlatformFeeType
	IncurredBy         *int64
}

// Create inserts an outgoing row on the source ledger and an incoming
// row on the destination ledger, sharing one fresh correlation key.
// Both rows commit together. As a side effect the destination account's
// review threshold is re-checked.
func (s *BalanceService) Create(ctx context.Context, p BalanceParams) (*model.TransactionPair, error) {
	key := uuid.NewString()

	pair := &model.TransactionPair{
		Outgoing: &model.Transaction{
			Type:                    model.TransactionTypeBalance,
			Currency:                p.Currency,
			Amount:                  -p.Amount,
			AccountCurrency:         p.Currency,
			AccountAmount:           -p.Amount,
			AccountID:               accountID(p.SourceAccount),
			BalanceCorrelationKey:   key,
			ChargeID:                p.ChargeID,
			PledgeID:                p.Attribution.PledgeID,
			SubscriptionID:          p.Attribution.SubscriptionID,
			IssueRewardID:           p.Attribution.IssueRewardID,
			OrderID:                 p.Attribution.OrderID,
			PlatformFeeType:         p.PlatformFeeType,
			IncurredByTransactionID: p.IncurredBy,
		},
		Incoming: &model.Transaction{
			Type:                    model.TransactionTypeBalance,
			Currency:                p.Currency,
			Amount:                  p.Amount,
			AccountCurrency:         p.Currency,
			AccountAmount:           p.Amount,
			AccountID:               accountID(p.DestinationAccount),
			BalanceCorrelationKey:   key,
			ChargeID:                p.ChargeID,
			PledgeID:                p.Attribution.PledgeID,
			SubscriptionID:          p.Attribution.SubscriptionID,
			IssueRewardID:           p.Attribution.IssueRewardID,
			OrderID:                 p.Attribution.OrderID,
			PlatformFeeType:         p.PlatformFeeType,
			IncurredByTransactionID: p.IncurredBy,
		},
	}

	if err := s.store.CreatePair(ctx, pair); err != nil {
		return nil, err
	}
	prom.AddTransactionCreated(string(model.TransactionTypeBalance), 2)

	if p.DestinationAccount != nil {
		// Review flags are owned by the account collaborator; a failed
		// check must not undo an already-recorded pair.
		if _, err := s.accounts.CheckReviewThreshold(ctx, p.DestinationAccount.ID, p.Amount); err != nil {
			logger.Warn("review threshold check failed",
				"account_id", p.DestinationAccount.ID, "error", err)
		}
	}

	return pair, nil
}

// CreateFromCharge attributes money earned through a rail charge to a
// destination account. The originating payment transaction must already
// exist for the charge. A pair already recorded for this charge and
// account is returned as-is, so a redelivered charge event never
// credits the account twice.
func (s *BalanceService) CreateFromCharge(ctx context.Context, chargeID string, destination *model.Account, amount int64, attr model.Attribution) (*model.TransactionPair, error) {
	payment, err := s.store.GetPaymentByChargeID(ctx, chargeID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, ErrPaymentTransactionForChargeDoesNotExist
	}

	if destination != nil {
		pairs, err := s.store.ListBalancePairsByChargeID(ctx, chargeID)
		if err != nil {
			return nil, err
		}
		for _, pair := range pairs {
			if pair.Incoming.AccountID != nil && *pair.Incoming.AccountID == destination.ID {
				return pair, nil
			}
		}
	}

	return s.Create(ctx, BalanceParams{
		DestinationAccount: destination,
		Currency:           payment.Currency,
		Amount:             amount,
		ChargeID:           payment.ChargeID,
		Attribution:        attr,
	})
}

// CreateFromPaymentIntent resolves the intent's latest charge on the
// rail, then delegates to CreateFromCharge.
func (s *BalanceService) CreateFromPaymentIntent(ctx context.Context, paymentIntentID string, destination *model.Account, amount int64, attr model.Attribution) (*model.TransactionPair, error) {
	rail, ok := s.rails.Stripe()
	if !ok {
		return nil, ErrUnsupportedAccountType
	}

	intent, err := rail.RetrievePaymentIntent(ctx, paymentIntentID)
	if err != nil {
		return nil, err
	}

	return s.CreateFromCharge(ctx, intent.LatestChargeID, destination, amount, attr)
}

// CreateReversal undoes `amount` of an earlier balance pair with a new
// pair whose legs are negated relative to the original, preserving its
// attribution and linked to the original incoming leg.
func (s *BalanceService) CreateReversal(ctx context.Context, original *model.TransactionPair, amount int64, platformFeeType *model.PlatformFeeType, incurredBy *int64) (*model.TransactionPair, error) {
	key := uuid.NewString()
	reversalOf := original.Incoming.ID

	pair := &model.TransactionPair{
		Outgoing: &model.Transaction{
			Type:                         model.TransactionTypeBalance,
			Currency:                     original.Incoming.Currency,
			Amount:                       -amount,
			AccountCurrency:              original.Incoming.Currency,
			AccountAmount:                -amount,
			AccountID:                    original.Incoming.AccountID,
			BalanceCorrelationKey:        key,
			ChargeID:                     original.Incoming.ChargeID,
			PledgeID:                     original.Incoming.PledgeID,
			SubscriptionID:               original.Incoming.SubscriptionID,
			IssueRewardID:                original.Incoming.IssueRewardID,
			OrderID:                      original.Incoming.OrderID,
			PlatformFeeType:              platformFeeType,
			IncurredByTransactionID:      incurredBy,
			BalanceReversalTransactionID: &reversalOf,
		},
		Incoming: &model.Transaction{
			Type:                         model.TransactionTypeBalance,
			Currency:                     original.Incoming.Currency,
			Amount:                       amount,
			AccountCurrency:              original.Incoming.Currency,
			AccountAmount:                amount,
			AccountID:                    original.Outgoing.AccountID,
			BalanceCorrelationKey:        key,
			ChargeID:                     original.Incoming.ChargeID,
			PledgeID:                     original.Incoming.PledgeID,
			SubscriptionID:               original.Incoming.SubscriptionID,
			IssueRewardID:                original.Incoming.IssueRewardID,
			OrderID:                      original.Incoming.OrderID,
			PlatformFeeType:              platformFeeType,
			IncurredByTransactionID:      incurredBy,
			BalanceReversalTransactionID: &reversalOf,
		},
	}

	if err := s.store.CreatePair(ctx, pair); err != nil {
		return nil, err
	}
	prom.AddTransactionCreated(string(model.TransactionTypeBalance), 2)

	return pair, nil
}

func accountID(a *model.Account) *int64 {
	if a == nil {
		return nil
	}
	return &a.ID
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
