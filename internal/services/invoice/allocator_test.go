package invoice

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/orbitlink/billing-service/internal/domain"
	"github.com/orbitlink/billing-service/internal/domain/models"
	"github.com/orbitlink/billing-service/internal/domain/ports"
)

type MockDBPort struct {
	mock.Mock
}

func (m *MockDBPort) GetDB() *pgxpool.Pool {
	return nil
}

func (m *MockDBPort) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	return fn(ctx, nil)
}

func (m *MockDBPort) WithReadOnlyTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	return fn(ctx, nil)
}

type MockSettingsRepository struct {
	mock.Mock
}

func (m *MockSettingsRepository) Get(ctx context.Context, db ports.DBTX) (*models.BillingSettings, error) {
	args := m.Called(ctx, db)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.BillingSettings), args.Error(1)
}

func (m *MockSettingsRepository) GetForUpdate(ctx context.Context, db ports.DBTX) (*models.BillingSettings, error) {
	args := m.Called(ctx, db)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.BillingSettings), args.Error(1)
}

func (m *MockSettingsRepository) UpdateInvoiceSequence(ctx context.Context, db ports.DBTX, year int, nextSeq int64) error {
	args := m.Called(ctx, db, year, nextSeq)
	return args.Error(0)
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

type MockConsolidatedRepository struct {
	mock.Mock
}

func (m *MockConsolidatedRepository) MaxInvoiceSeq(ctx context.Context, db ports.DBTX, prefix string) (int64, error) {
	args := m.Called(ctx, db, prefix)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockConsolidatedRepository) NumberExists(ctx context.Context, db ports.DBTX, number string) (bool, error) {
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

type allocFixture struct {
	settingsRepo *MockSettingsRepository
	orderRepo    *MockOrderRepository
	consolidated *MockConsolidatedRepository
	allocator    *Allocator
}

func newAllocFixture(now time.Time) *allocFixture {
	f := &allocFixture{
		settingsRepo: new(MockSettingsRepository),
		orderRepo:    new(MockOrderRepository),
		consolidated: new(MockConsolidatedRepository),
	}
	logger := new(MockLogger)
	logger.On("Info", mock.Anything, mock.Anything).Maybe()
	logger.On("Warn", mock.Anything, mock.Anything).Maybe()
	logger.On("Error", mock.Anything, mock.Anything).Maybe()
	logger.On("Debug", mock.Anything, mock.Anything).Maybe()

	f.allocator = NewAllocator(new(MockDBPort), f.settingsRepo, f.orderRepo, f.consolidated, logger).
		WithClock(func() time.Time { return now })
	return f
}

func TestAllocator_Next_ContinuesSequence(t *testing.T) {
	f := newAllocFixture(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))

	f.settingsRepo.On("GetForUpdate", mock.Anything, mock.Anything).
		Return(&models.BillingSettings{InvoiceYear: 2024, NextInvoiceSeq: 41}, nil)
	f.orderRepo.On("InvoiceNumberExists", mock.Anything, mock.Anything, "2024-IND-000041").Return(false, nil)
	f.consolidated.On("NumberExists", mock.Anything, mock.Anything, "2024-IND-000041").Return(false, nil)
	f.settingsRepo.On("UpdateInvoiceSequence", mock.Anything, mock.Anything, 2024, int64(42)).Return(nil)

	number, err := f.allocator.Next(context.Background(), models.InvoiceIndividual)

	require.NoError(t, err)
	assert.Equal(t, "2024-IND-000041", number)
	f.settingsRepo.AssertExpectations(t)
}

func TestAllocator_Next_YearRolloverResetsToOne(t *testing.T) {
	f := newAllocFixture(time.Date(2025, 1, 2, 0, 30, 0, 0, time.UTC))

	f.settingsRepo.On("GetForUpdate", mock.Anything, mock.Anything).
		Return(&models.BillingSettings{InvoiceYear: 2024, NextInvoiceSeq: 5812}, nil)
	f.orderRepo.On("InvoiceNumberExists", mock.Anything, mock.Anything, "2025-IND-000001").Return(false, nil)
	f.consolidated.On("NumberExists", mock.Anything, mock.Anything, "2025-IND-000001").Return(false, nil)
	f.settingsRepo.On("UpdateInvoiceSequence", mock.Anything, mock.Anything, 2025, int64(2)).Return(nil)

	number, err := f.allocator.Next(context.Background(), models.InvoiceIndividual)

	require.NoError(t, err)
	assert.Equal(t, "2025-IND-000001", number)
}

func TestAllocator_Next_ResyncsCounterBehindDisk(t *testing.T) {
	// Rows inserted outside the allocator must not cause reuse
	f := newAllocFixture(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))

	f.settingsRepo.On("GetForUpdate", mock.Anything, mock.Anything).
		Return(&models.BillingSettings{InvoiceYear: 2024, NextInvoiceSeq: 5, AnnualSequenceReset: true}, nil)
	f.orderRepo.On("MaxInvoiceSeq", mock.Anything, mock.Anything, "2024-").Return(int64(40), nil)
	f.consolidated.On("MaxInvoiceSeq", mock.Anything, mock.Anything, "2024-").Return(int64(38), nil)
	f.orderRepo.On("InvoiceNumberExists", mock.Anything, mock.Anything, "2024-IND-000041").Return(false, nil)
	f.consolidated.On("NumberExists", mock.Anything, mock.Anything, "2024-IND-000041").Return(false, nil)
	f.settingsRepo.On("UpdateInvoiceSequence", mock.Anything, mock.Anything, 2024, int64(42)).Return(nil)

	number, err := f.allocator.Next(context.Background(), models.InvoiceIndividual)

	require.NoError(t, err)
	assert.Equal(t, "2024-IND-000041", number)
}

func TestAllocator_Next_ProbesPastTakenNumbers(t *testing.T) {
	f := newAllocFixture(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))

	f.settingsRepo.On("GetForUpdate", mock.Anything, mock.Anything).
		Return(&models.BillingSettings{InvoiceYear: 2024, NextInvoiceSeq: 7}, nil)
	f.orderRepo.On("InvoiceNumberExists", mock.Anything, mock.Anything, "2024-IND-000007").Return(true, nil)
	f.orderRepo.On("InvoiceNumberExists", mock.Anything, mock.Anything, "2024-IND-000008").Return(false, nil)
	f.consolidated.On("NumberExists", mock.Anything, mock.Anything, "2024-IND-000008").Return(false, nil)
	f.settingsRepo.On("UpdateInvoiceSequence", mock.Anything, mock.Anything, 2024, int64(9)).Return(nil)

	number, err := f.allocator.Next(context.Background(), models.InvoiceIndividual)

	require.NoError(t, err)
	assert.Equal(t, "2024-IND-000008", number)
}

func TestAllocator_Next_ConsolidatedSeries(t *testing.T) {
	f := newAllocFixture(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))

	f.settingsRepo.On("GetForUpdate", mock.Anything, mock.Anything).
		Return(&models.BillingSettings{InvoiceYear: 2024, NextInvoiceSeq: 7}, nil)
	f.orderRepo.On("InvoiceNumberExists", mock.Anything, mock.Anything, "2024-COR-000007").Return(false, nil)
	f.consolidated.On("NumberExists", mock.Anything, mock.Anything, "2024-COR-000007").Return(false, nil)
	f.settingsRepo.On("UpdateInvoiceSequence", mock.Anything, mock.Anything, 2024, int64(8)).Return(nil)

	number, err := f.allocator.Next(context.Background(), models.InvoiceConsolidated)

	require.NoError(t, err)
	assert.Equal(t, "2024-COR-000007", number)
}

func TestAllocator_Next_SequenceExhausted(t *testing.T) {
	f := newAllocFixture(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))

	f.settingsRepo.On("GetForUpdate", mock.Anything, mock.Anything).
		Return(&models.BillingSettings{InvoiceYear: 2024, NextInvoiceSeq: maxSequence}, nil)
	f.orderRepo.On("InvoiceNumberExists", mock.Anything, mock.Anything, "2024-IND-999999").Return(true, nil)

	_, err := f.allocator.Next(context.Background(), models.InvoiceIndividual)

	require.Error(t, err)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeInvoiceSeqExhausted))
	f.settingsRepo.AssertNotCalled(t, "UpdateInvoiceSequence", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// In-memory fakes for the concurrency test below. The settings store
// serializes transactions with a mutex the way the row lock does in
// postgres.

type memDB struct {
	mu sync.Mutex
}

func (m *memDB) GetDB() *pgxpool.Pool { return nil }

func (m *memDB) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(ctx, nil)
}

func (m *memDB) WithReadOnlyTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	return fn(ctx, nil)
}

type memSettings struct {
	settings models.BillingSettings
}

func (m *memSettings) Get(ctx context.Context, db ports.DBTX) (*models.BillingSettings, error) {
	s := m.settings
	return &s, nil
}

func (m *memSettings) GetForUpdate(ctx context.Context, db ports.DBTX) (*models.BillingSettings, error) {
	s := m.settings
	return &s, nil
}

func (m *memSettings) UpdateInvoiceSequence(ctx context.Context, db ports.DBTX, year int, nextSeq int64) error {
	m.settings.InvoiceYear = year
	m.settings.NextInvoiceSeq = nextSeq
	return nil
}

type memNumbers struct {
	mu    sync.Mutex
	taken map[string]bool
}

func (m *memNumbers) add(number string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.taken[number] = true
}

func (m *memNumbers) MaxInvoiceSeq(ctx context.Context, db ports.DBTX, prefix string) (int64, error) {
	return 0, nil
}

func (m *memNumbers) NumberExists(ctx context.Context, db ports.DBTX, number string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.taken[number], nil
}

func (m *memNumbers) InvoiceNumberExists(ctx context.Context, db ports.DBTX, number string) (bool, error) {
	return m.NumberExists(ctx, db, number)
}

func (m *memNumbers) Create(ctx context.Context, db ports.DBTX, order *models.Order) error {
	return nil
}

func (m *memNumbers) GetByID(ctx context.Context, db ports.DBTX, id string) (*models.Order, error) {
	return nil, nil
}

func (m *memNumbers) UpdatePaymentStatus(ctx context.Context, db ports.DBTX, orderID string, status models.PaymentStatus) error {
	return nil
}

func (m *memNumbers) AttachSubscription(ctx context.Context, db ports.DBTX, orderID, subscriptionID string) error {
	return nil
}

func TestAllocator_Next_ConcurrentCallersGetUniqueNumbers(t *testing.T) {
	const callers = 50

	numbers := &memNumbers{taken: map[string]bool{}}
	settings := &memSettings{settings: models.BillingSettings{InvoiceYear: 2024, NextInvoiceSeq: 1}}
	logger := new(MockLogger)
	logger.On("Warn", mock.Anything, mock.Anything).Maybe()

	allocator := NewAllocator(new(memDB), settings, numbers, numbers, logger).
		WithClock(func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) })

	results := make(chan string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			number, err := allocator.Next(context.Background(), models.InvoiceIndividual)
			assert.NoError(t, err)
			numbers.add(number)
			results <- number
		}()
	}
	wg.Wait()
	close(results)

	seen := map[string]bool{}
	for number := range results {
		assert.False(t, seen[number], "duplicate number %s", number)
		seen[number] = true
	}
	assert.Len(t, seen, callers)
	assert.Equal(t, int64(callers+1), settings.settings.NextInvoiceSeq)
}
