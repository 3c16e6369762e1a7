package repository

import (
	"github.com/meridianhq/billing-ledger/internal/model"
)

type AccountEntity struct {
	ID          int64  `db:"id"           gorm:"primaryKey;autoIncrement;column:id"`
	AccountType string `db:"account_type" gorm:"column:account_type;not null"`
	StripeID    string `db:"stripe_id"    gorm:"column:stripe_id;index"`
	Currency    string `db:"currency"     gorm:"column:currency;not null"`

	IsDetailsSubmitted bool `db:"is_details_submitted" gorm:"column:is_details_submitted;not null;default:false"`
	IsChargesEnabled   bool `db:"is_charges_enabled"   gorm:"column:is_charges_enabled;not null;default:false"`
	IsPayoutsEnabled   bool `db:"is_payouts_enabled"   gorm:"column:is_payouts_enabled;not null;default:false"`

	Status string `db:"status" gorm:"column:status;not null;default:created"`

	ProcessorFeesApplicable bool  `db:"processor_fees_applicable" gorm:"column:processor_fees_applicable;not null;default:false"`
	NextReviewThreshold     int64 `db:"next_review_threshold"     gorm:"column:next_review_threshold;not null;default:0"`
	TransferredTotal        int64 `db:"transferred_total"         gorm:"column:transferred_total;not null;default:0"`
}

func (AccountEntity) TableName() string {
	return "accounts"
}

func toAccountEntity(m *model.Account) *AccountEntity {
	if m == nil {
		return nil
	}
	return &AccountEntity{
		ID:                      m.ID,
		AccountType:             string(m.AccountType),
		StripeID:                m.StripeID,
		Currency:                m.Currency,
		IsDetailsSubmitted:      m.IsDetailsSubmitted,
		IsChargesEnabled:        m.IsChargesEnabled,
		IsPayoutsEnabled:        m.IsPayoutsEnabled,
		Status:                  string(m.Status),
		ProcessorFeesApplicable: m.ProcessorFeesApplicable,
		NextReviewThreshold:     m.NextReviewThreshold,
		TransferredTotal:        m.TransferredTotal,
	}
}

func toAccountModel(e *AccountEntity) *model.Account {
	if e == nil {
		return nil
	}
	return &model.Account{
		ID:                      e.ID,
		AccountType:             model.AccountType(e.AccountType),
		StripeID:                e.StripeID,
		Currency:                e.Currency,
		IsDetailsSubmitted:      e.IsDetailsSubmitted,
		IsChargesEnabled:        e.IsChargesEnabled,
		IsPayoutsEnabled:        e.IsPayoutsEnabled,
		Status:                  model.AccountStatus(e.Status),
		ProcessorFeesApplicable: e.ProcessorFeesApplicable,
		NextReviewThreshold:     e.NextReviewThreshold,
		TransferredTotal:        e.TransferredTotal,
	}
}
