package repository

import (
	"context"
	"errors"
	"time"

	"github.com/meridianhq/billing-ledger/internal/model"
	"github.com/meridianhq/billing-ledger/pkg/pg"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrAccountNotFound    = errors.New("account not found")
	ErrConcurrentUpdate   = errors.New("concurrent update detected")
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
)

type AccountRepository struct {
	*pg.DB
}

func NewAccountRepository(db *pg.DB) *AccountRepository {
	return &AccountRepository{
		db,
	}
}

func (r *AccountRepository) Create(ctx context.Context, account *model.Account) (*model.Account, error) {
	entity := toAccountEntity(account)
	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}
	return toAccountModel(entity), nil
}

func (r *AccountRepository) GetByID(ctx context.Context, id int64) (*model.Account, error) {
	var entity AccountEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("id = ?", id).
		First(&entity).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return toAccountModel(&entity), nil
}

// GetByStripeID resolves an account by its external rail identifier.
// Returns nil without error when the id is not recognized.
func (r *AccountRepository) GetByStripeID(ctx context.Context, stripeID string) (*model.Account, error) {
	var entity AccountEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("stripe_id = ?", stripeID).
		First(&entity).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return toAccountModel(&entity), nil
}

func (r *AccountRepository) Update(ctx context.Context, account *model.Account) (*model.Account, error) {
	entity := toAccountEntity(account)
	result := r.Write(ctx).WithContext(ctx).
		Model(&AccountEntity{}).
		Where("id = ?", entity.ID).
		Updates(entity)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrAccountNotFound
	}
	return account, nil
}

// CheckReviewThreshold adds the given amount to the account's running
// transferred total and flags the account for review when the total
// crosses its configured threshold. Uses SELECT FOR UPDATE with retry
// so concurrent transfers for the same account don't lose updates; the
// lock is scoped to this account's row only.
func (r *AccountRepository) CheckReviewThreshold(ctx context.Context, accountID int64, amount int64) (*model.Account, error) {
	const maxRetries = 3
	const baseDelay = 2 * time.Millisecond

	for attempt := 0; attempt <= maxRetries; attempt++ {
		account, err := r.checkReviewThresholdAttempt(ctx, accountID, amount)
		if err == nil {
			return account, nil
		}

		if errors.Is(err, ErrAccountNotFound) {
			return nil, err
		}

		if attempt < maxRetries {
			delay := baseDelay * time.Duration(1<<attempt)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
				continue
			}
		}
	}

	return nil, ErrMaxRetriesExceeded
}

func (r *AccountRepository) checkReviewThresholdAttempt(ctx context.Context, accountID int64, amount int64) (*model.Account, error) {
	var entity AccountEntity

	err := r.Write(ctx).WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", accountID).
		First(&entity).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}

	entity.TransferredTotal += amount
	updates := map[string]any{
		"transferred_total": entity.TransferredTotal,
	}

	if entity.NextReviewThreshold > 0 &&
		entity.TransferredTotal >= entity.NextReviewThreshold &&
		entity.Status == string(model.AccountStatusActive) {
		entity.Status = string(model.AccountStatusUnderReview)
		updates["status"] = entity.Status
	}

	result := r.Write(ctx).WithContext(ctx).
		Model(&AccountEntity{}).
		Where("id = ?", accountID).
		Updates(updates)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrConcurrentUpdate
	}

	return toAccountModel(&entity), nil
}
