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
	"github.com/shopspring/decimal"
)

// WalletRepository implements ports.WalletRepository. Credit and Debit lock
// the wallet row, adjust the balance, and record the audit transaction in
// one statement sequence; callers supply the surrounding transaction.
type WalletRepository struct {
	db ports.DBTX
}

// NewWalletRepository creates a new wallet repository
func NewWalletRepository(db ports.DBPort) *WalletRepository {
	return &WalletRepository{db: db.GetDB()}
}

// Get reads a wallet without locking
func (r *WalletRepository) Get(ctx context.Context, db ports.DBTX, customerID string) (*models.Wallet, error) {
	return r.get(ctx, queryer(db, r.db), customerID, false)
}

// GetForUpdate reads a wallet with a row lock held until the caller's
// transaction ends
func (r *WalletRepository) GetForUpdate(ctx context.Context, db ports.DBTX, customerID string) (*models.Wallet, error) {
	return r.get(ctx, queryer(db, r.db), customerID, true)
}

func (r *WalletRepository) get(ctx context.Context, q ports.DBTX, customerID string, forUpdate bool) (*models.Wallet, error) {
	id, err := parseUUID(customerID)
	if err != nil {
		return nil, err
	}

	query := `SELECT customer_id, balance_usd, updated_at FROM wallets WHERE customer_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var (
		cid       pgtype.UUID
		balance   pgtype.Numeric
		updatedAt pgtype.Timestamptz
	)
	err = q.QueryRow(ctx, query, id).Scan(&cid, &balance, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrWalletNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get wallet: %w", err)
	}

	balanceDec, err := pgNumericToDecimal(balance)
	if err != nil {
		return nil, err
	}

	return &models.Wallet{
		CustomerID: uuidString(cid),
		BalanceUSD: balanceDec,
		UpdatedAt:  updatedAt.Time,
	}, nil
}

// Credit increases the wallet balance and records the audit transaction
func (r *WalletRepository) Credit(ctx context.Context, db ports.DBTX, customerID string, amount decimal.Decimal, reference string) (decimal.Decimal, error) {
	return r.apply(ctx, queryer(db, r.db), customerID, amount, models.WalletCredit, reference)
}

// Debit decreases the wallet balance and records the audit transaction
func (r *WalletRepository) Debit(ctx context.Context, db ports.DBTX, customerID string, amount decimal.Decimal, reference string) (decimal.Decimal, error) {
	return r.apply(ctx, queryer(db, r.db), customerID, amount, models.WalletDebit, reference)
}

func (r *WalletRepository) apply(ctx context.Context, q ports.DBTX, customerID string, amount decimal.Decimal, direction models.WalletDirection, reference string) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, domain.ErrValidationAmountInvalid.WithDetail("amount", amount.String())
	}

	id, err := parseUUID(customerID)
	if err != nil {
		return decimal.Zero, err
	}

	delta := amount
	if direction == models.WalletDebit {
		delta = amount.Neg()
	}
	deltaNum, err := decimalToNumeric(delta)
	if err != nil {
		return decimal.Zero, err
	}

	// Upsert so a first-ever credit creates the wallet row
	var after pgtype.Numeric
	err = q.QueryRow(ctx, `
		INSERT INTO wallets (customer_id, balance_usd, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (customer_id)
		DO UPDATE SET balance_usd = wallets.balance_usd + EXCLUDED.balance_usd, updated_at = now()
		RETURNING balance_usd`,
		id, deltaNum).Scan(&after)
	if err != nil {
		return decimal.Zero, fmt.Errorf("apply wallet %s: %w", direction, err)
	}

	balanceAfter, err := pgNumericToDecimal(after)
	if err != nil {
		return decimal.Zero, err
	}

	txnID, err := parseUUID(uuid.New().String())
	if err != nil {
		return decimal.Zero, err
	}
	amountNum, err := decimalToNumeric(amount)
	if err != nil {
		return decimal.Zero, err
	}
	afterNum, err := decimalToNumeric(balanceAfter)
	if err != nil {
		return decimal.Zero, err
	}

	_, err = q.Exec(ctx, `
		INSERT INTO wallet_transactions (id, customer_id, direction, amount_usd, balance_after, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())`,
		txnID, id, string(direction), amountNum, afterNum, nullText(reference),
	)
	if err != nil {
		return decimal.Zero, fmt.Errorf("record wallet transaction: %w", err)
	}

	return balanceAfter, nil
}
