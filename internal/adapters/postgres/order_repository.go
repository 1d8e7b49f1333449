package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/orbitlink/billing-service/internal/domain"
	"github.com/orbitlink/billing-service/internal/domain/models"
	"github.com/orbitlink/billing-service/internal/domain/ports"
)

// OrderRepository implements ports.OrderRepository with raw pgx
type OrderRepository struct {
	db ports.DBTX
}

// NewOrderRepository creates a new order repository
func NewOrderRepository(db ports.DBPort) *OrderRepository {
	return &OrderRepository{db: db.GetDB()}
}

// Create inserts the order together with its lines and tax snapshots.
// Call inside a transaction when the order must commit atomically with
// ledger postings.
func (r *OrderRepository) Create(ctx context.Context, db ports.DBTX, order *models.Order) error {
	q := queryer(db, r.db)

	orderID, err := parseUUID(order.ID)
	if err != nil {
		return err
	}
	customerID, err := parseUUID(order.CustomerID)
	if err != nil {
		return err
	}
	subscriptionID, err := nullUUID(order.SubscriptionID)
	if err != nil {
		return err
	}
	total, err := decimalToNumeric(order.TotalPrice)
	if err != nil {
		return err
	}

	_, err = q.Exec(ctx, `
		INSERT INTO orders (id, customer_id, subscription_id, kind, invoice_number,
			total_price, payment_status, status, external_ref, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())`,
		orderID, customerID, subscriptionID, string(order.Kind), nullText(order.InvoiceNumber),
		total, string(order.PaymentStatus), order.Status, order.ExternalRef,
	)
	if err != nil {
		return fmt.Errorf("create order: %w", err)
	}

	for i := range order.Lines {
		line := &order.Lines[i]
		if line.ID == "" {
			line.ID = uuid.New().String()
		}
		lineID, err := parseUUID(line.ID)
		if err != nil {
			return err
		}
		unitPrice, err := decimalToNumeric(line.UnitPrice)
		if err != nil {
			return err
		}
		lineTotal, err := decimalToNumeric(line.LineTotal)
		if err != nil {
			return err
		}
		_, err = q.Exec(ctx, `
			INSERT INTO order_lines (id, order_id, kind, description, unit_price, quantity, line_total)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			lineID, orderID, string(line.Kind), line.Description, unitPrice, line.Quantity, lineTotal,
		)
		if err != nil {
			return fmt.Errorf("create order line: %w", err)
		}
	}

	for i := range order.Taxes {
		tax := &order.Taxes[i]
		if tax.ID == "" {
			tax.ID = uuid.New().String()
		}
		taxID, err := parseUUID(tax.ID)
		if err != nil {
			return err
		}
		rate, err := decimalToNumeric(tax.Rate)
		if err != nil {
			return err
		}
		amount, err := decimalToNumeric(tax.Amount)
		if err != nil {
			return err
		}
		_, err = q.Exec(ctx, `
			INSERT INTO order_taxes (id, order_id, kind, rate, amount)
			VALUES ($1, $2, $3, $4, $5)`,
			taxID, orderID, string(tax.Kind), rate, amount,
		)
		if err != nil {
			return fmt.Errorf("create order tax: %w", err)
		}
	}

	return nil
}

// GetByID retrieves an order with its lines and taxes
func (r *OrderRepository) GetByID(ctx context.Context, db ports.DBTX, id string) (*models.Order, error) {
	q := queryer(db, r.db)

	orderID, err := parseUUID(id)
	if err != nil {
		return nil, err
	}

	var (
		oid, customerID pgtype.UUID
		subscriptionID  pgtype.UUID
		kind, status    string
		invoiceNumber   pgtype.Text
		total           pgtype.Numeric
		paymentStatus   string
		externalRef     string
		createdAt       pgtype.Timestamptz
		updatedAt       pgtype.Timestamptz
	)

	err = q.QueryRow(ctx, `
		SELECT id, customer_id, subscription_id, kind, invoice_number, total_price,
			payment_status, status, external_ref, created_at, updated_at
		FROM orders WHERE id = $1`, orderID).
		Scan(&oid, &customerID, &subscriptionID, &kind, &invoiceNumber, &total,
			&paymentStatus, &status, &externalRef, &createdAt, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order by id: %w", err)
	}

	totalDec, err := pgNumericToDecimal(total)
	if err != nil {
		return nil, err
	}

	order := &models.Order{
		ID:             uuidString(oid),
		CustomerID:     uuidString(customerID),
		SubscriptionID: uuidString(subscriptionID),
		Kind:           models.OrderKind(kind),
		InvoiceNumber:  invoiceNumber.String,
		TotalPrice:     totalDec,
		PaymentStatus:  models.PaymentStatus(paymentStatus),
		Status:         status,
		ExternalRef:    externalRef,
		CreatedAt:      createdAt.Time,
		UpdatedAt:      updatedAt.Time,
	}

	if err := r.loadLines(ctx, q, order); err != nil {
		return nil, err
	}
	if err := r.loadTaxes(ctx, q, order); err != nil {
		return nil, err
	}
	return order, nil
}

func (r *OrderRepository) loadLines(ctx context.Context, q ports.DBTX, order *models.Order) error {
	orderID, err := parseUUID(order.ID)
	if err != nil {
		return err
	}

	rows, err := q.Query(ctx, `
		SELECT id, kind, description, unit_price, quantity, line_total
		FROM order_lines WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return fmt.Errorf("load order lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id                   pgtype.UUID
			kind, description    string
			unitPrice, lineTotal pgtype.Numeric
			quantity             int
		)
		if err := rows.Scan(&id, &kind, &description, &unitPrice, &quantity, &lineTotal); err != nil {
			return fmt.Errorf("scan order line: %w", err)
		}
		unit, err := pgNumericToDecimal(unitPrice)
		if err != nil {
			return err
		}
		lt, err := pgNumericToDecimal(lineTotal)
		if err != nil {
			return err
		}
		order.Lines = append(order.Lines, models.OrderLine{
			ID:          uuidString(id),
			OrderID:     order.ID,
			Kind:        models.OrderLineKind(kind),
			Description: description,
			UnitPrice:   unit,
			Quantity:    quantity,
			LineTotal:   lt,
		})
	}
	return rows.Err()
}

func (r *OrderRepository) loadTaxes(ctx context.Context, q ports.DBTX, order *models.Order) error {
	orderID, err := parseUUID(order.ID)
	if err != nil {
		return err
	}

	rows, err := q.Query(ctx, `
		SELECT id, kind, rate, amount
		FROM order_taxes WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return fmt.Errorf("load order taxes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id           pgtype.UUID
			kind         string
			rate, amount pgtype.Numeric
		)
		if err := rows.Scan(&id, &kind, &rate, &amount); err != nil {
			return fmt.Errorf("scan order tax: %w", err)
		}
		rateDec, err := pgNumericToDecimal(rate)
		if err != nil {
			return err
		}
		amountDec, err := pgNumericToDecimal(amount)
		if err != nil {
			return err
		}
		order.Taxes = append(order.Taxes, models.OrderTax{
			ID:      uuidString(id),
			OrderID: order.ID,
			Kind:    models.TaxCode(kind),
			Rate:    rateDec,
			Amount:  amountDec,
		})
	}
	return rows.Err()
}

// UpdatePaymentStatus transitions the order's payment state
func (r *OrderRepository) UpdatePaymentStatus(ctx context.Context, db ports.DBTX, orderID string, status models.PaymentStatus) error {
	q := queryer(db, r.db)

	id, err := parseUUID(orderID)
	if err != nil {
		return err
	}

	tag, err := q.Exec(ctx,
		`UPDATE orders SET payment_status = $2, updated_at = now() WHERE id = $1`,
		id, string(status))
	if err != nil {
		return fmt.Errorf("update order payment status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

// AttachSubscription backfills the subscription link on an intake order
func (r *OrderRepository) AttachSubscription(ctx context.Context, db ports.DBTX, orderID, subscriptionID string) error {
	q := queryer(db, r.db)

	id, err := parseUUID(orderID)
	if err != nil {
		return err
	}
	subID, err := parseUUID(subscriptionID)
	if err != nil {
		return err
	}

	tag, err := q.Exec(ctx,
		`UPDATE orders SET subscription_id = $2, updated_at = now() WHERE id = $1`,
		id, subID)
	if err != nil {
		return fmt.Errorf("attach subscription to order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

// MaxInvoiceSeq returns the highest numeric suffix among invoice numbers
// with the given prefix, 0 when none exist
func (r *OrderRepository) MaxInvoiceSeq(ctx context.Context, db ports.DBTX, prefix string) (int64, error) {
	return maxInvoiceSeq(ctx, queryer(db, r.db), "orders", "invoice_number", prefix)
}

// InvoiceNumberExists probes the ordinary invoice number space
func (r *OrderRepository) InvoiceNumberExists(ctx context.Context, db ports.DBTX, number string) (bool, error) {
	q := queryer(db, r.db)

	var exists bool
	err := q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM orders WHERE invoice_number = $1)`, number).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("probe invoice number: %w", err)
	}
	return exists, nil
}

// maxInvoiceSeq extracts the maximal numeric sequence from numbers shaped
// YYYY-TYPE-NNNNNN. Non-numeric suffixes are ignored.
func maxInvoiceSeq(ctx context.Context, q ports.DBTX, table, column, prefix string) (int64, error) {
	var max pgtype.Int8
	err := q.QueryRow(ctx, fmt.Sprintf(`
		SELECT MAX(NULLIF(substring(%s from '[0-9]+$'), '')::bigint)
		FROM %s WHERE %s LIKE $1 || '%%'`, column, table, column), prefix).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("max invoice sequence: %w", err)
	}
	if !max.Valid {
		return 0, nil
	}
	return max.Int64, nil
}
