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

// SubscriptionRepository implements ports.SubscriptionRepository with raw pgx
type SubscriptionRepository struct {
	db ports.DBTX
}

// NewSubscriptionRepository creates a new subscription repository
func NewSubscriptionRepository(db ports.DBPort) *SubscriptionRepository {
	return &SubscriptionRepository{db: db.GetDB()}
}

const subscriptionColumns = `id, customer_id, plan_id, order_id, status, billing_cycle,
	started_at, next_billing_date, last_billed_at, created_at, updated_at, cancelled_at`

// Create inserts a new subscription
func (r *SubscriptionRepository) Create(ctx context.Context, db ports.DBTX, sub *models.Subscription) error {
	q := queryer(db, r.db)

	id, err := parseUUID(sub.ID)
	if err != nil {
		return err
	}
	customerID, err := parseUUID(sub.CustomerID)
	if err != nil {
		return err
	}
	planID, err := parseUUID(sub.PlanID)
	if err != nil {
		return err
	}
	orderID, err := nullUUID(sub.OrderID)
	if err != nil {
		return err
	}

	_, err = q.Exec(ctx, `
		INSERT INTO subscriptions (id, customer_id, plan_id, order_id, status, billing_cycle,
			started_at, next_billing_date, last_billed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())`,
		id, customerID, planID, orderID,
		string(sub.Status), string(sub.BillingCycle),
		nullDate(sub.StartedAt), nullDate(sub.NextBillingDate), nullDate(sub.LastBilledAt),
	)
	if err != nil {
		return fmt.Errorf("create subscription: %w", err)
	}
	return nil
}

// GetByID retrieves a subscription by its ID
func (r *SubscriptionRepository) GetByID(ctx context.Context, db ports.DBTX, id string) (*models.Subscription, error) {
	q := queryer(db, r.db)

	subID, err := parseUUID(id)
	if err != nil {
		return nil, err
	}

	row := q.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, subID)
	sub, err := scanSubscription(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrSubNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription by id: %w", err)
	}
	return sub, nil
}

// Update persists subscription state and billing pointers
func (r *SubscriptionRepository) Update(ctx context.Context, db ports.DBTX, sub *models.Subscription) error {
	q := queryer(db, r.db)

	subID, err := parseUUID(sub.ID)
	if err != nil {
		return err
	}

	tag, err := q.Exec(ctx, `
		UPDATE subscriptions
		SET status = $2, billing_cycle = $3, started_at = $4, next_billing_date = $5,
			last_billed_at = $6, cancelled_at = $7, updated_at = now()
		WHERE id = $1`,
		subID, string(sub.Status), string(sub.BillingCycle),
		nullDate(sub.StartedAt), nullDate(sub.NextBillingDate), nullDate(sub.LastBilledAt),
		nullTimestamptz(sub.CancelledAt),
	)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSubNotFound
	}
	return nil
}

// ListBillable lists subscriptions with status active or suspended
func (r *SubscriptionRepository) ListBillable(ctx context.Context, db ports.DBTX) ([]*models.Subscription, error) {
	q := queryer(db, r.db)

	rows, err := q.Query(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE status = ANY($1)
		ORDER BY created_at`,
		[]string{string(models.SubStatusActive), string(models.SubStatusSuspended)},
	)
	if err != nil {
		return nil, fmt.Errorf("list billable subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func scanSubscription(row pgx.Row) (*models.Subscription, error) {
	var (
		id, customerID, planID pgtype.UUID
		orderID                pgtype.UUID
		status, cycle          string
		startedAt              pgtype.Date
		nextBillingDate        pgtype.Date
		lastBilledAt           pgtype.Date
		createdAt, updatedAt   pgtype.Timestamptz
		cancelledAt            pgtype.Timestamptz
	)

	err := row.Scan(&id, &customerID, &planID, &orderID, &status, &cycle,
		&startedAt, &nextBillingDate, &lastBilledAt, &createdAt, &updatedAt, &cancelledAt)
	if err != nil {
		return nil, err
	}

	return &models.Subscription{
		ID:              uuidString(id),
		CustomerID:      uuidString(customerID),
		PlanID:          uuidString(planID),
		OrderID:         uuidString(orderID),
		Status:          models.SubscriptionStatus(status),
		BillingCycle:    models.BillingCycle(cycle),
		StartedAt:       datePtr(startedAt),
		NextBillingDate: datePtr(nextBillingDate),
		LastBilledAt:    datePtr(lastBilledAt),
		CreatedAt:       createdAt.Time,
		UpdatedAt:       updatedAt.Time,
		CancelledAt:     timePtr(cancelledAt),
	}, nil
}
