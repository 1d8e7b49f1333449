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
)

// CustomerRepository reads collaborator customer records
type CustomerRepository struct {
	db ports.DBTX
}

// NewCustomerRepository creates a new customer repository
func NewCustomerRepository(db ports.DBPort) *CustomerRepository {
	return &CustomerRepository{db: db.GetDB()}
}

// GetByID retrieves a customer
func (r *CustomerRepository) GetByID(ctx context.Context, db ports.DBTX, id string) (*models.Customer, error) {
	q := queryer(db, r.db)

	cid, err := parseUUID(id)
	if err != nil {
		return nil, err
	}

	var (
		rid         pgtype.UUID
		name        string
		isTaxExempt bool
	)
	err = q.QueryRow(ctx,
		`SELECT id, name, is_tax_exempt FROM customers WHERE id = $1`, cid).
		Scan(&rid, &name, &isTaxExempt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrCustomerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get customer by id: %w", err)
	}

	return &models.Customer{ID: uuidString(rid), Name: name, IsTaxExempt: isTaxExempt}, nil
}

// PlanRepository reads collaborator plan records
type PlanRepository struct {
	db ports.DBTX
}

// NewPlanRepository creates a new plan repository
func NewPlanRepository(db ports.DBPort) *PlanRepository {
	return &PlanRepository{db: db.GetDB()}
}

// GetByID retrieves a plan
func (r *PlanRepository) GetByID(ctx context.Context, db ports.DBTX, id string) (*models.Plan, error) {
	q := queryer(db, r.db)

	pid, err := parseUUID(id)
	if err != nil {
		return nil, err
	}

	var (
		rid   pgtype.UUID
		name  string
		price pgtype.Numeric
	)
	err = q.QueryRow(ctx,
		`SELECT id, name, monthly_price_usd FROM plans WHERE id = $1`, pid).
		Scan(&rid, &name, &price)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NewDomainError(domain.ErrorCodeSubNoPlan, "plan not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get plan by id: %w", err)
	}

	priceDec, err := pgNumericToDecimal(price)
	if err != nil {
		return nil, err
	}

	return &models.Plan{ID: uuidString(rid), Name: name, MonthlyPriceUSD: priceDec}, nil
}

// ConsolidatedInvoiceRepository exposes the consolidated invoice number
// space to the allocator
type ConsolidatedInvoiceRepository struct {
	db ports.DBTX
}

// NewConsolidatedInvoiceRepository creates a new consolidated invoice repository
func NewConsolidatedInvoiceRepository(db ports.DBPort) *ConsolidatedInvoiceRepository {
	return &ConsolidatedInvoiceRepository{db: db.GetDB()}
}

// MaxInvoiceSeq returns the highest numeric suffix among consolidated
// invoice numbers with the given prefix
func (r *ConsolidatedInvoiceRepository) MaxInvoiceSeq(ctx context.Context, db ports.DBTX, prefix string) (int64, error) {
	return maxInvoiceSeq(ctx, queryer(db, r.db), "consolidated_invoices", "number", prefix)
}

// NumberExists probes the consolidated invoice number space
func (r *ConsolidatedInvoiceRepository) NumberExists(ctx context.Context, db ports.DBTX, number string) (bool, error) {
	q := queryer(db, r.db)

	var exists bool
	err := q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM consolidated_invoices WHERE number = $1)`, number).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("probe consolidated invoice number: %w", err)
	}
	return exists, nil
}
