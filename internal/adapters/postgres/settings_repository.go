package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/orbitlink/billing-service/internal/domain"
	"github.com/orbitlink/billing-service/internal/domain/models"
	"github.com/orbitlink/billing-service/internal/domain/ports"
	"github.com/shopspring/decimal"
)

// BillingSettingsRepository reads and updates the singleton settings row.
// The row is the only actively contended resource in the engine: the
// invoice number allocator holds its lock across the whole probe-persist
// sequence.
type BillingSettingsRepository struct {
	db ports.DBTX
}

// NewBillingSettingsRepository creates a new settings repository
func NewBillingSettingsRepository(db ports.DBPort) *BillingSettingsRepository {
	return &BillingSettingsRepository{db: db.GetDB()}
}

const settingsColumns = `id, anchor_day, prebill_lead_days, cutoff_days_before_anchor,
	auto_suspend_on_cutoff, vat_on_excise, first_cycle_included_in_order,
	invoice_year, next_invoice_seq, annual_sequence_reset, updated_at`

// Get reads the settings row without locking
func (r *BillingSettingsRepository) Get(ctx context.Context, db ports.DBTX) (*models.BillingSettings, error) {
	return r.get(ctx, queryer(db, r.db), false)
}

// GetForUpdate locks the settings row for the caller's transaction
func (r *BillingSettingsRepository) GetForUpdate(ctx context.Context, db ports.DBTX) (*models.BillingSettings, error) {
	return r.get(ctx, queryer(db, r.db), true)
}

func (r *BillingSettingsRepository) get(ctx context.Context, q ports.DBTX, forUpdate bool) (*models.BillingSettings, error) {
	query := `SELECT ` + settingsColumns + ` FROM billing_settings WHERE id = 1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	s := &models.BillingSettings{}
	var updatedAt pgtype.Timestamptz
	err := q.QueryRow(ctx, query).Scan(
		&s.ID, &s.AnchorDay, &s.PrebillLeadDays, &s.CutoffDaysBeforeAnchor,
		&s.AutoSuspendOnCutoff, &s.VATOnExcise, &s.FirstCycleIncludedInOrder,
		&s.InvoiceYear, &s.NextInvoiceSeq, &s.AnnualSequenceReset, &updatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrBillingSettingsMissing
	}
	if err != nil {
		return nil, fmt.Errorf("get billing settings: %w", err)
	}
	s.UpdatedAt = updatedAt.Time
	return s, nil
}

// UpdateInvoiceSequence persists the allocator's counter state. Must run in
// the same transaction that locked the row.
func (r *BillingSettingsRepository) UpdateInvoiceSequence(ctx context.Context, db ports.DBTX, year int, nextSeq int64) error {
	q := queryer(db, r.db)

	tag, err := q.Exec(ctx, `
		UPDATE billing_settings
		SET invoice_year = $1, next_invoice_seq = $2, updated_at = now()
		WHERE id = 1`, year, nextSeq)
	if err != nil {
		return fmt.Errorf("update invoice sequence: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrBillingSettingsMissing
	}
	return nil
}

// TaxRateRepository reads the named tax rate table
type TaxRateRepository struct {
	db ports.DBTX
}

// NewTaxRateRepository creates a new tax rate repository
func NewTaxRateRepository(db ports.DBPort) *TaxRateRepository {
	return &TaxRateRepository{db: db.GetDB()}
}

// LatestRates returns the newest configured percentage per tax code.
// An empty map (or missing codes) is valid configuration: unconfigured
// taxes bill at zero.
func (r *TaxRateRepository) LatestRates(ctx context.Context, db ports.DBTX) (map[models.TaxCode]decimal.Decimal, error) {
	q := queryer(db, r.db)

	rows, err := q.Query(ctx, `
		SELECT DISTINCT ON (code) code, percent
		FROM tax_rates
		ORDER BY code, created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list tax rates: %w", err)
	}
	defer rows.Close()

	rates := make(map[models.TaxCode]decimal.Decimal)
	for rows.Next() {
		var (
			code    string
			percent pgtype.Numeric
		)
		if err := rows.Scan(&code, &percent); err != nil {
			return nil, fmt.Errorf("scan tax rate: %w", err)
		}
		pct, err := pgNumericToDecimal(percent)
		if err != nil {
			return nil, err
		}
		rates[models.TaxCode(code)] = pct
	}
	return rates, rows.Err()
}
