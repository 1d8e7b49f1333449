package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/orbitlink/billing-service/internal/domain"
	"github.com/orbitlink/billing-service/internal/domain/models"
	"github.com/orbitlink/billing-service/internal/domain/ports"
)

type MockLedgerRepository struct {
	mock.Mock
}

func (m *MockLedgerRepository) Insert(ctx context.Context, db ports.DBTX, entry *models.AccountEntry) error {
	args := m.Called(ctx, db, entry)
	return args.Error(0)
}

func (m *MockLedgerRepository) InsertPeriodInvoice(ctx context.Context, db ports.DBTX, entry *models.AccountEntry) (bool, error) {
	args := m.Called(ctx, db, entry)
	return args.Bool(0), args.Error(1)
}

func (m *MockLedgerRepository) ExistsNaturalKey(ctx context.Context, db ports.DBTX, entry *models.AccountEntry) (bool, error) {
	args := m.Called(ctx, db, entry)
	return args.Bool(0), args.Error(1)
}

func (m *MockLedgerRepository) ExistsInvoiceForRef(ctx context.Context, db ports.DBTX, externalRef string) (bool, error) {
	args := m.Called(ctx, db, externalRef)
	return args.Bool(0), args.Error(1)
}

func (m *MockLedgerRepository) FindPeriodInvoice(ctx context.Context, db ports.DBTX, subscriptionID string, periodStart, periodEnd time.Time) (*models.AccountEntry, error) {
	args := m.Called(ctx, db, subscriptionID, periodStart, periodEnd)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.AccountEntry), args.Error(1)
}

func (m *MockLedgerRepository) SumByExternalRef(ctx context.Context, db ports.DBTX, externalRef string) (decimal.Decimal, error) {
	args := m.Called(ctx, db, externalRef)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *MockLedgerRepository) SumPaymentsByExternalRef(ctx context.Context, db ports.DBTX, externalRef string) (decimal.Decimal, error) {
	args := m.Called(ctx, db, externalRef)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

type MockWalletRepository struct {
	mock.Mock
}

func (m *MockWalletRepository) Get(ctx context.Context, db ports.DBTX, customerID string) (*models.Wallet, error) {
	args := m.Called(ctx, db, customerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Wallet), args.Error(1)
}

func (m *MockWalletRepository) GetForUpdate(ctx context.Context, db ports.DBTX, customerID string) (*models.Wallet, error) {
	args := m.Called(ctx, db, customerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Wallet), args.Error(1)
}

func (m *MockWalletRepository) Credit(ctx context.Context, db ports.DBTX, customerID string, amount decimal.Decimal, reference string) (decimal.Decimal, error) {
	args := m.Called(ctx, db, customerID, amount, reference)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *MockWalletRepository) Debit(ctx context.Context, db ports.DBTX, customerID string, amount decimal.Decimal, reference string) (decimal.Decimal, error) {
	args := m.Called(ctx, db, customerID, amount, reference)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

type MockOrderRepository struct {
	mock.Mock
}

func (m *MockOrderRepository) Create(ctx context.Context, db ports.DBTX, order *models.Order) error {
	args := m.Called(ctx, db, order)
	return args.Error(0)
}

func (m *MockOrderRepository) GetByID(ctx context.Context, db ports.DBTX, id string) (*models.Order, error) {
	args := m.Called(ctx, db, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

func (m *MockOrderRepository) UpdatePaymentStatus(ctx context.Context, db ports.DBTX, orderID string, status models.PaymentStatus) error {
	args := m.Called(ctx, db, orderID, status)
	return args.Error(0)
}

func (m *MockOrderRepository) AttachSubscription(ctx context.Context, db ports.DBTX, orderID, subscriptionID string) error {
	args := m.Called(ctx, db, orderID, subscriptionID)
	return args.Error(0)
}

func (m *MockOrderRepository) MaxInvoiceSeq(ctx context.Context, db ports.DBTX, prefix string) (int64, error) {
	args := m.Called(ctx, db, prefix)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockOrderRepository) InvoiceNumberExists(ctx context.Context, db ports.DBTX, number string) (bool, error) {
	args := m.Called(ctx, db, number)
	return args.Bool(0), args.Error(1)
}

type MockLogger struct {
	mock.Mock
}

func (m *MockLogger) Info(msg string, fields ...ports.Field)  { m.Called(msg, fields) }
func (m *MockLogger) Warn(msg string, fields ...ports.Field)  { m.Called(msg, fields) }
func (m *MockLogger) Error(msg string, fields ...ports.Field) { m.Called(msg, fields) }
func (m *MockLogger) Debug(msg string, fields ...ports.Field) { m.Called(msg, fields) }

func newTestService() (*Service, *MockLedgerRepository, *MockWalletRepository, *MockOrderRepository) {
	ledgerRepo := new(MockLedgerRepository)
	walletRepo := new(MockWalletRepository)
	orderRepo := new(MockOrderRepository)
	logger := new(MockLogger)
	logger.On("Info", mock.Anything, mock.Anything).Maybe()
	logger.On("Warn", mock.Anything, mock.Anything).Maybe()
	logger.On("Error", mock.Anything, mock.Anything).Maybe()
	logger.On("Debug", mock.Anything, mock.Anything).Maybe()
	return NewService(ledgerRepo, walletRepo, orderRepo, logger), ledgerRepo, walletRepo, orderRepo
}

func invoiceEntry(amount string) *models.AccountEntry {
	start := time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 4, 20, 0, 0, 0, 0, time.UTC)
	return &models.AccountEntry{
		CustomerID:     "c3f2a8d4-0000-4000-8000-000000000002",
		EntryType:      models.EntryInvoice,
		AmountUSD:      decimal.RequireFromString(amount),
		Description:    "Subscription renewal",
		SubscriptionID: "0b9e9d1e-6f3a-4f4b-9f1d-000000000001",
		PeriodStart:    &start,
		PeriodEnd:      &end,
		ExternalRef:    "2024-IND-000007",
	}
}

func TestService_PostEntryOnce_ZeroAmountDropped(t *testing.T) {
	svc, ledgerRepo, _, _ := newTestService()

	created, err := svc.PostEntryOnce(context.Background(), nil, &models.AccountEntry{
		CustomerID: "c1",
		EntryType:  models.EntryAdjustment,
		AmountUSD:  decimal.Zero,
	})

	require.NoError(t, err)
	assert.False(t, created)
	ledgerRepo.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything, mock.Anything)
	ledgerRepo.AssertNotCalled(t, "ExistsNaturalKey", mock.Anything, mock.Anything, mock.Anything)
}

func TestService_PostEntryOnce_ExistingEntrySkipped(t *testing.T) {
	svc, ledgerRepo, _, _ := newTestService()
	entry := invoiceEntry("42.53")

	ledgerRepo.On("ExistsNaturalKey", mock.Anything, mock.Anything, entry).Return(true, nil)

	created, err := svc.PostEntryOnce(context.Background(), nil, entry)

	require.NoError(t, err)
	assert.False(t, created)
	ledgerRepo.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything, mock.Anything)
}

func TestService_PostEntryOnce_InsertRaceSwallowed(t *testing.T) {
	svc, ledgerRepo, _, _ := newTestService()
	entry := invoiceEntry("42.53")

	ledgerRepo.On("ExistsNaturalKey", mock.Anything, mock.Anything, entry).Return(false, nil)
	ledgerRepo.On("Insert", mock.Anything, mock.Anything, entry).Return(domain.ErrLedgerDuplicateEntry)

	created, err := svc.PostEntryOnce(context.Background(), nil, entry)

	require.NoError(t, err)
	assert.False(t, created)
}

func TestService_PostEntryOnce_Creates(t *testing.T) {
	svc, ledgerRepo, _, _ := newTestService()
	entry := invoiceEntry("42.53")

	ledgerRepo.On("ExistsNaturalKey", mock.Anything, mock.Anything, entry).Return(false, nil)
	ledgerRepo.On("Insert", mock.Anything, mock.Anything, entry).Return(nil)

	created, err := svc.PostEntryOnce(context.Background(), nil, entry)

	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, entry.ID)
}

func TestService_PostInvoiceForPeriod_RejectsNonInvoice(t *testing.T) {
	svc, _, _, _ := newTestService()
	entry := invoiceEntry("42.53")
	entry.EntryType = models.EntryPayment

	_, err := svc.PostInvoiceForPeriod(context.Background(), nil, entry)

	require.Error(t, err)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeLedgerEntryInvalid))
}

func TestService_PostInvoiceForPeriod_RequiresPeriod(t *testing.T) {
	svc, _, _, _ := newTestService()
	entry := invoiceEntry("42.53")
	entry.PeriodEnd = nil

	_, err := svc.PostInvoiceForPeriod(context.Background(), nil, entry)

	require.Error(t, err)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeLedgerEntryInvalid))
}

func TestService_ApplyWalletToOrder_NothingDue(t *testing.T) {
	svc, ledgerRepo, walletRepo, _ := newTestService()
	order := &models.Order{ID: "o1", ExternalRef: "2024-IND-000007"}

	ledgerRepo.On("SumByExternalRef", mock.Anything, mock.Anything, order.ExternalRef).
		Return(decimal.Zero, nil)

	applied, err := svc.ApplyWalletToOrder(context.Background(), nil, "c1", order, nil)

	require.NoError(t, err)
	assert.True(t, applied.IsZero())
	walletRepo.AssertNotCalled(t, "GetForUpdate", mock.Anything, mock.Anything, mock.Anything)
}

func TestService_ApplyWalletToOrder_NoWallet(t *testing.T) {
	svc, ledgerRepo, walletRepo, _ := newTestService()
	order := &models.Order{ID: "o1", ExternalRef: "2024-IND-000007"}

	ledgerRepo.On("SumByExternalRef", mock.Anything, mock.Anything, order.ExternalRef).
		Return(decimal.RequireFromString("42.53"), nil)
	walletRepo.On("GetForUpdate", mock.Anything, mock.Anything, "c1").
		Return(nil, domain.ErrWalletNotFound)

	applied, err := svc.ApplyWalletToOrder(context.Background(), nil, "c1", order, nil)

	require.NoError(t, err)
	assert.True(t, applied.IsZero())
}

func TestService_ApplyWalletToOrder_PartialBalance(t *testing.T) {
	svc, ledgerRepo, walletRepo, _ := newTestService()
	order := &models.Order{ID: "o1", ExternalRef: "2024-IND-000007"}
	toApply := decimal.RequireFromString("20.00")

	ledgerRepo.On("SumByExternalRef", mock.Anything, mock.Anything, order.ExternalRef).
		Return(decimal.RequireFromString("42.53"), nil)
	walletRepo.On("GetForUpdate", mock.Anything, mock.Anything, "c1").
		Return(&models.Wallet{CustomerID: "c1", BalanceUSD: toApply}, nil)
	walletRepo.On("Debit", mock.Anything, mock.Anything, "c1", toApply, order.ExternalRef).
		Return(decimal.Zero, nil)
	ledgerRepo.On("Insert", mock.Anything, mock.Anything, mock.MatchedBy(func(e *models.AccountEntry) bool {
		return e.EntryType == models.EntryPayment &&
			e.AmountUSD.Equal(decimal.RequireFromString("-20.00")) &&
			e.ExternalRef == order.ExternalRef
	})).Return(nil)

	applied, err := svc.ApplyWalletToOrder(context.Background(), nil, "c1", order, nil)

	require.NoError(t, err)
	assert.True(t, applied.Equal(toApply))
	walletRepo.AssertExpectations(t)
	ledgerRepo.AssertExpectations(t)
}

func TestService_ApplyWalletToOrder_CappedByMaxAmount(t *testing.T) {
	svc, ledgerRepo, walletRepo, _ := newTestService()
	order := &models.Order{ID: "o1", ExternalRef: "2024-IND-000007"}
	maxApply := decimal.RequireFromString("10.00")

	ledgerRepo.On("SumByExternalRef", mock.Anything, mock.Anything, order.ExternalRef).
		Return(decimal.RequireFromString("42.53"), nil)
	walletRepo.On("GetForUpdate", mock.Anything, mock.Anything, "c1").
		Return(&models.Wallet{CustomerID: "c1", BalanceUSD: decimal.RequireFromString("100.00")}, nil)
	walletRepo.On("Debit", mock.Anything, mock.Anything, "c1", maxApply, order.ExternalRef).
		Return(decimal.RequireFromString("90.00"), nil)
	ledgerRepo.On("Insert", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	applied, err := svc.ApplyWalletToOrder(context.Background(), nil, "c1", order, &maxApply)

	require.NoError(t, err)
	assert.True(t, applied.Equal(maxApply))
	walletRepo.AssertExpectations(t)
}

func TestService_EnsureFirstOrderInvoiceEntry(t *testing.T) {
	svc, ledgerRepo, _, _ := newTestService()
	order := &models.Order{
		ID:          "o1",
		CustomerID:  "c1",
		ExternalRef: "ORD-2024-000123",
		Lines: []models.OrderLine{
			{Kind: models.LineKindKit, LineTotal: decimal.RequireFromString("250.00")},
			{Kind: models.LineKindInstall, LineTotal: decimal.RequireFromString("75.50")},
		},
		Taxes: []models.OrderTax{
			{Kind: models.TaxVAT, Amount: decimal.RequireFromString("52.08")},
		},
	}

	ledgerRepo.On("ExistsInvoiceForRef", mock.Anything, mock.Anything, order.ExternalRef).Return(false, nil)
	ledgerRepo.On("Insert", mock.Anything, mock.Anything, mock.MatchedBy(func(e *models.AccountEntry) bool {
		return e.EntryType == models.EntryInvoice &&
			e.AmountUSD.Equal(decimal.RequireFromString("377.58")) &&
			e.OrderID == order.ID
	})).Return(nil)

	created, err := svc.EnsureFirstOrderInvoiceEntry(context.Background(), nil, order)

	require.NoError(t, err)
	assert.True(t, created)
	ledgerRepo.AssertExpectations(t)
}

func TestService_EnsureFirstOrderInvoiceEntry_AlreadyMirrored(t *testing.T) {
	svc, ledgerRepo, _, _ := newTestService()
	order := &models.Order{ID: "o1", ExternalRef: "ORD-2024-000123"}

	ledgerRepo.On("ExistsInvoiceForRef", mock.Anything, mock.Anything, order.ExternalRef).Return(true, nil)

	created, err := svc.EnsureFirstOrderInvoiceEntry(context.Background(), nil, order)

	require.NoError(t, err)
	assert.False(t, created)
	ledgerRepo.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything, mock.Anything)
}

func TestService_CreditWallet_RejectsNonPositive(t *testing.T) {
	svc, _, walletRepo, _ := newTestService()

	err := svc.CreditWallet(context.Background(), nil, "c1", decimal.RequireFromString("-5.00"), "TOPUP-1")

	require.Error(t, err)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeValidationAmountInvalid))
	walletRepo.AssertNotCalled(t, "Credit", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestService_CreditWallet_PostsNegativePaymentEntry(t *testing.T) {
	svc, ledgerRepo, walletRepo, _ := newTestService()
	amount := decimal.RequireFromString("50.00")

	walletRepo.On("Credit", mock.Anything, mock.Anything, "c1", amount, "TOPUP-1").
		Return(decimal.RequireFromString("50.00"), nil)
	ledgerRepo.On("Insert", mock.Anything, mock.Anything, mock.MatchedBy(func(e *models.AccountEntry) bool {
		return e.EntryType == models.EntryPayment &&
			e.AmountUSD.Equal(decimal.RequireFromString("-50.00"))
	})).Return(nil)

	err := svc.CreditWallet(context.Background(), nil, "c1", amount, "TOPUP-1")

	require.NoError(t, err)
	ledgerRepo.AssertExpectations(t)
	walletRepo.AssertExpectations(t)
}
