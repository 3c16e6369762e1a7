package services

import (
	"context"
	"testing"

	gateway "github.com/meridianhq/billing-ledger/internal/gateways"
	"github.com/meridianhq/billing-ledger/internal/model"
	"github.com/meridianhq/billing-ledger/internal/repository"
	"github.com/meridianhq/billing-ledger/pkg/pg"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type testStores struct {
	store    *repository.TransactionRepository
	accounts *repository.AccountRepository
}

func setupStores(t *testing.T) (*repository.TransactionRepository, *repository.AccountRepository) {
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	err = gdb.AutoMigrate(&repository.AccountEntity{}, &repository.TransactionEntity{})
	require.NoError(t, err)

	db := pg.NewWithConnections(gdb, gdb)
	return repository.NewTransactionRepository(db), repository.NewAccountRepository(db)
}

func seedActiveAccount(t *testing.T, accounts *repository.AccountRepository, stripeID string, currency string) *model.Account {
	t.Helper()
	account, err := accounts.Create(context.Background(), &model.Account{
		AccountType:        model.AccountTypeStripe,
		StripeID:           stripeID,
		Currency:           currency,
		Status:             model.AccountStatusActive,
		IsDetailsSubmitted: true,
		IsPayoutsEnabled:   true,
	})
	require.NoError(t, err)
	return account
}

func seedPayment(t *testing.T, store *repository.TransactionRepository, chargeID string, amount int64, taxAmount int64, attr model.Attribution) *model.Transaction {
	t.Helper()
	payment, err := store.Create(context.Background(), &model.Transaction{
		Type:            model.TransactionTypePayment,
		Processor:       model.ProcessorStripe,
		Currency:        "usd",
		Amount:          amount,
		AccountCurrency: "usd",
		AccountAmount:   amount,
		TaxAmount:       taxAmount,
		ChargeID:        &chargeID,
		PledgeID:        attr.PledgeID,
		SubscriptionID:  attr.SubscriptionID,
		IssueRewardID:   attr.IssueRewardID,
		OrderID:         attr.OrderID,
	})
	require.NoError(t, err)
	return payment
}

func strPtr(s string) *string { return &s }
func i64Ptr(i int64) *int64   { return &i }

type MockRail struct {
	mock.Mock
}

func (m *MockRail) GetCharge(ctx context.Context, id string) (*gateway.Charge, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Charge), args.Error(1)
}

func (m *MockRail) GetBalanceTransaction(ctx context.Context, id string) (*gateway.BalanceTransaction, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.BalanceTransaction), args.Error(1)
}

func (m *MockRail) ListBalanceTransactions(ctx context.Context, accountID string, payoutID string) ([]*gateway.BalanceTransaction, error) {
	args := m.Called(ctx, accountID, payoutID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*gateway.BalanceTransaction), args.Error(1)
}

func (m *MockRail) GetRefund(ctx context.Context, id string) (*gateway.Refund, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Refund), args.Error(1)
}

func (m *MockRail) ListRefunds(ctx context.Context, chargeID string) ([]*gateway.Refund, error) {
	args := m.Called(ctx, chargeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*gateway.Refund), args.Error(1)
}

func (m *MockRail) GetDispute(ctx context.Context, id string) (*gateway.Dispute, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Dispute), args.Error(1)
}

func (m *MockRail) RetrievePaymentIntent(ctx context.Context, id string) (*gateway.PaymentIntent, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.PaymentIntent), args.Error(1)
}

func (m *MockRail) Transfer(ctx context.Context, destination string, amount int64, sourceTransaction string, metadata map[string]string) (*gateway.TransferResult, error) {
	args := m.Called(ctx, destination, amount, sourceTransaction, metadata)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.TransferResult), args.Error(1)
}

func (m *MockRail) ReverseTransfer(ctx context.Context, transferID string, amount int64, metadata map[string]string) (*gateway.TransferResult, error) {
	args := m.Called(ctx, transferID, amount, metadata)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.TransferResult), args.Error(1)
}

func stripeRegistry(rail gateway.Rail) gateway.Registry {
	return gateway.Registry{model.ProcessorStripe: rail}
}
