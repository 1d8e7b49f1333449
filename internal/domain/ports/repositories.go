package ports

import (
	"context"
	"time"

	"github.com/orbitlink/billing-service/internal/domain/models"
	"github.com/shopspring/decimal"
)

// SubscriptionRepository persists subscriptions
type SubscriptionRepository interface {
	Create(ctx context.Context, db DBTX, sub *models.Subscription) error
	GetByID(ctx context.Context, db DBTX, id string) (*models.Subscription, error)
	Update(ctx context.Context, db DBTX, sub *models.Subscription) error
	// ListBillable returns subscriptions with status active or suspended
	ListBillable(ctx context.Context, db DBTX) ([]*models.Subscription, error)
}

// OrderRepository persists orders with their lines and tax snapshots
type OrderRepository interface {
	// Create inserts the order together with its lines and taxes
	Create(ctx context.Context, db DBTX, order *models.Order) error
	GetByID(ctx context.Context, db DBTX, id string) (*models.Order, error)
	UpdatePaymentStatus(ctx context.Context, db DBTX, orderID string, status models.PaymentStatus) error
	// AttachSubscription backfills the subscription link on an intake
	// order once the subscription row exists
	AttachSubscription(ctx context.Context, db DBTX, orderID, subscriptionID string) error
	// MaxInvoiceSeq returns the highest numeric sequence among invoice
	// numbers starting with prefix ("YYYY-TYPE-"), 0 when none exist
	MaxInvoiceSeq(ctx context.Context, db DBTX, prefix string) (int64, error)
	InvoiceNumberExists(ctx context.Context, db DBTX, number string) (bool, error)
}

// ConsolidatedInvoiceRepository exposes the consolidated invoice number
// space; the allocator probes it alongside orders
type ConsolidatedInvoiceRepository interface {
	MaxInvoiceSeq(ctx context.Context, db DBTX, prefix string) (int64, error)
	NumberExists(ctx context.Context, db DBTX, number string) (bool, error)
}

// LedgerRepository persists account entries. Entries are append-only.
type LedgerRepository interface {
	Insert(ctx context.Context, db DBTX, entry *models.AccountEntry) error
	// InsertPeriodInvoice inserts an invoice entry guarded by the
	// (subscription, period_start, period_end) unique index. Returns
	// created=false when a concurrent run already posted the entry.
	InsertPeriodInvoice(ctx context.Context, db DBTX, entry *models.AccountEntry) (created bool, err error)
	// ExistsNaturalKey probes for a row matching the general-purpose
	// dedup key (customer, type, amount, description, order, subscription, payment)
	ExistsNaturalKey(ctx context.Context, db DBTX, entry *models.AccountEntry) (bool, error)
	ExistsInvoiceForRef(ctx context.Context, db DBTX, externalRef string) (bool, error)
	FindPeriodInvoice(ctx context.Context, db DBTX, subscriptionID string, periodStart, periodEnd time.Time) (*models.AccountEntry, error)
	// SumByExternalRef sums all entries tagged with the external ref;
	// positive result means outstanding balance
	SumByExternalRef(ctx context.Context, db DBTX, externalRef string) (decimal.Decimal, error)
	// SumPaymentsByExternalRef sums payment entries only (a negative or
	// zero value, by sign convention)
	SumPaymentsByExternalRef(ctx context.Context, db DBTX, externalRef string) (decimal.Decimal, error)
}

// WalletRepository mutates customer prepaid balances. Both operations lock
// the wallet row and record an audit WalletTransaction; amount must be
// positive.
type WalletRepository interface {
	Get(ctx context.Context, db DBTX, customerID string) (*models.Wallet, error)
	GetForUpdate(ctx context.Context, db DBTX, customerID string) (*models.Wallet, error)
	Credit(ctx context.Context, db DBTX, customerID string, amount decimal.Decimal, reference string) (balanceAfter decimal.Decimal, err error)
	Debit(ctx context.Context, db DBTX, customerID string, amount decimal.Decimal, reference string) (balanceAfter decimal.Decimal, err error)
}

// BillingSettingsRepository reads and updates the singleton settings row
type BillingSettingsRepository interface {
	Get(ctx context.Context, db DBTX) (*models.BillingSettings, error)
	// GetForUpdate locks the settings row for the duration of the
	// caller's transaction
	GetForUpdate(ctx context.Context, db DBTX) (*models.BillingSettings, error)
	UpdateInvoiceSequence(ctx context.Context, db DBTX, year int, nextSeq int64) error
}

// TaxRateRepository reads the named tax rate table
type TaxRateRepository interface {
	// LatestRates returns the newest percentage per tax code
	LatestRates(ctx context.Context, db DBTX) (map[models.TaxCode]decimal.Decimal, error)
}

// CustomerRepository reads collaborator customer records
type CustomerRepository interface {
	GetByID(ctx context.Context, db DBTX, id string) (*models.Customer, error)
}

// PlanRepository reads collaborator plan records
type PlanRepository interface {
	GetByID(ctx context.Context, db DBTX, id string) (*models.Plan, error)
}
