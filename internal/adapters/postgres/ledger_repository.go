package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/orbitlink/billing-service/internal/domain"
	"github.com/orbitlink/billing-service/internal/domain/models"
	"github.com/orbitlink/billing-service/internal/domain/ports"
	"github.com/shopspring/decimal"
)

// LedgerRepository implements ports.LedgerRepository. Account entries are
// append-only; no update or delete statement exists in this file on purpose.
type LedgerRepository struct {
	db ports.DBTX
}

// NewLedgerRepository creates a new ledger repository
func NewLedgerRepository(db ports.DBPort) *LedgerRepository {
	return &LedgerRepository{db: db.GetDB()}
}

const entryColumns = `id, customer_id, entry_type, amount_usd, description,
	order_id, subscription_id, payment_id, period_start, period_end, external_ref, created_at`

const insertEntrySQL = `
	INSERT INTO account_entries (id, customer_id, entry_type, amount_usd, description,
		order_id, subscription_id, payment_id, period_start, period_end, external_ref, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())`

type entryParams struct {
	id, customerID, orderID, subscriptionID, paymentID pgtype.UUID
	amount                                             pgtype.Numeric
}

func (r *LedgerRepository) entryParams(entry *models.AccountEntry) (*entryParams, error) {
	p := &entryParams{}
	var err error
	if p.id, err = parseUUID(entry.ID); err != nil {
		return nil, err
	}
	if p.customerID, err = parseUUID(entry.CustomerID); err != nil {
		return nil, err
	}
	if p.orderID, err = nullUUID(entry.OrderID); err != nil {
		return nil, err
	}
	if p.subscriptionID, err = nullUUID(entry.SubscriptionID); err != nil {
		return nil, err
	}
	if p.paymentID, err = nullUUID(entry.PaymentID); err != nil {
		return nil, err
	}
	if p.amount, err = decimalToNumeric(entry.AmountUSD); err != nil {
		return nil, err
	}
	return p, nil
}

// Insert appends a ledger entry. A unique violation surfaces as the typed
// ErrLedgerDuplicateEntry so callers can treat it as already-processed.
func (r *LedgerRepository) Insert(ctx context.Context, db ports.DBTX, entry *models.AccountEntry) error {
	q := queryer(db, r.db)

	p, err := r.entryParams(entry)
	if err != nil {
		return err
	}

	_, err = q.Exec(ctx, insertEntrySQL,
		p.id, p.customerID, string(entry.EntryType), p.amount, entry.Description,
		p.orderID, p.subscriptionID, p.paymentID,
		nullDate(entry.PeriodStart), nullDate(entry.PeriodEnd), nullText(entry.ExternalRef),
	)
	if isUniqueViolation(err) {
		return domain.ErrLedgerDuplicateEntry
	}
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

// InsertPeriodInvoice appends an invoice entry guarded by the partial
// unique index on (subscription_id, period_start, period_end). A concurrent
// run that already posted the period leaves created=false; that is the
// idempotency path the pre-bill job relies on.
func (r *LedgerRepository) InsertPeriodInvoice(ctx context.Context, db ports.DBTX, entry *models.AccountEntry) (bool, error) {
	q := queryer(db, r.db)

	p, err := r.entryParams(entry)
	if err != nil {
		return false, err
	}

	tag, err := q.Exec(ctx, insertEntrySQL+`
		ON CONFLICT (subscription_id, period_start, period_end) WHERE entry_type = 'invoice'
		DO NOTHING`,
		p.id, p.customerID, string(entry.EntryType), p.amount, entry.Description,
		p.orderID, p.subscriptionID, p.paymentID,
		nullDate(entry.PeriodStart), nullDate(entry.PeriodEnd), nullText(entry.ExternalRef),
	)
	if err != nil {
		return false, fmt.Errorf("insert period invoice: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ExistsNaturalKey probes for an entry matching the general-purpose dedup key
func (r *LedgerRepository) ExistsNaturalKey(ctx context.Context, db ports.DBTX, entry *models.AccountEntry) (bool, error) {
	q := queryer(db, r.db)

	p, err := r.entryParams(entry)
	if err != nil {
		return false, err
	}

	var exists bool
	err = q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM account_entries
			WHERE customer_id = $1 AND entry_type = $2 AND amount_usd = $3 AND description = $4
				AND order_id IS NOT DISTINCT FROM $5
				AND subscription_id IS NOT DISTINCT FROM $6
				AND payment_id IS NOT DISTINCT FROM $7
		)`,
		p.customerID, string(entry.EntryType), p.amount, entry.Description,
		p.orderID, p.subscriptionID, p.paymentID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("probe ledger natural key: %w", err)
	}
	return exists, nil
}

// ExistsInvoiceForRef reports whether an invoice entry is tagged with the
// external ref
func (r *LedgerRepository) ExistsInvoiceForRef(ctx context.Context, db ports.DBTX, externalRef string) (bool, error) {
	q := queryer(db, r.db)

	var exists bool
	err := q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM account_entries
			WHERE external_ref = $1 AND entry_type = 'invoice'
		)`, externalRef).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("probe invoice for ref: %w", err)
	}
	return exists, nil
}

// FindPeriodInvoice returns the invoice entry for the subscription period,
// or nil when none has been posted yet
func (r *LedgerRepository) FindPeriodInvoice(ctx context.Context, db ports.DBTX, subscriptionID string, periodStart, periodEnd time.Time) (*models.AccountEntry, error) {
	q := queryer(db, r.db)

	subID, err := parseUUID(subscriptionID)
	if err != nil {
		return nil, err
	}

	row := q.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM account_entries
		WHERE subscription_id = $1 AND period_start = $2 AND period_end = $3
			AND entry_type = 'invoice'`,
		subID, pgtype.Date{Time: periodStart, Valid: true}, pgtype.Date{Time: periodEnd, Valid: true},
	)
	entry, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find period invoice: %w", err)
	}
	return entry, nil
}

// SumByExternalRef sums every entry tagged with the external ref
func (r *LedgerRepository) SumByExternalRef(ctx context.Context, db ports.DBTX, externalRef string) (decimal.Decimal, error) {
	return r.sumForRef(ctx, db, externalRef, false)
}

// SumPaymentsByExternalRef sums payment entries only
func (r *LedgerRepository) SumPaymentsByExternalRef(ctx context.Context, db ports.DBTX, externalRef string) (decimal.Decimal, error) {
	return r.sumForRef(ctx, db, externalRef, true)
}

func (r *LedgerRepository) sumForRef(ctx context.Context, db ports.DBTX, externalRef string, paymentsOnly bool) (decimal.Decimal, error) {
	q := queryer(db, r.db)

	query := `SELECT COALESCE(SUM(amount_usd), 0) FROM account_entries WHERE external_ref = $1`
	if paymentsOnly {
		query += ` AND entry_type = 'payment'`
	}

	var sum pgtype.Numeric
	if err := q.QueryRow(ctx, query, externalRef).Scan(&sum); err != nil {
		return decimal.Zero, fmt.Errorf("sum ledger entries for ref: %w", err)
	}
	return pgNumericToDecimal(sum)
}

func scanEntry(row pgx.Row) (*models.AccountEntry, error) {
	var (
		id, customerID                 pgtype.UUID
		entryType, description         string
		amount                         pgtype.Numeric
		orderID, subscriptionID, payID pgtype.UUID
		periodStart, periodEnd         pgtype.Date
		externalRef                    pgtype.Text
		createdAt                      pgtype.Timestamptz
	)

	err := row.Scan(&id, &customerID, &entryType, &amount, &description,
		&orderID, &subscriptionID, &payID, &periodStart, &periodEnd, &externalRef, &createdAt)
	if err != nil {
		return nil, err
	}

	amountDec, err := pgNumericToDecimal(amount)
	if err != nil {
		return nil, err
	}

	return &models.AccountEntry{
		ID:             uuidString(id),
		CustomerID:     uuidString(customerID),
		EntryType:      models.EntryType(entryType),
		AmountUSD:      amountDec,
		Description:    description,
		OrderID:        uuidString(orderID),
		SubscriptionID: uuidString(subscriptionID),
		PaymentID:      uuidString(payID),
		PeriodStart:    datePtr(periodStart),
		PeriodEnd:      datePtr(periodEnd),
		ExternalRef:    externalRef.String,
		CreatedAt:      createdAt.Time,
	}, nil
}
