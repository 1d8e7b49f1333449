// Package ledger implements the ledger poster: idempotent creation of
// account entries and wallet-based settlement of orders.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/orbitlink/billing-service/internal/billing"
	"github.com/orbitlink/billing-service/internal/domain"
	"github.com/orbitlink/billing-service/internal/domain/models"
	"github.com/orbitlink/billing-service/internal/domain/ports"
	"github.com/shopspring/decimal"
)

// Service posts ledger entries and applies wallet settlement. All methods
// take the caller's transaction: settlement and the status transitions that
// depend on it must commit together because "due" is recomputed from the
// ledger, never cached.
type Service struct {
	ledgerRepo ports.LedgerRepository
	walletRepo ports.WalletRepository
	orderRepo  ports.OrderRepository
	logger     ports.Logger
}

// NewService creates a new ledger poster
func NewService(
	ledgerRepo ports.LedgerRepository,
	walletRepo ports.WalletRepository,
	orderRepo ports.OrderRepository,
	logger ports.Logger,
) *Service {
	return &Service{
		ledgerRepo: ledgerRepo,
		walletRepo: walletRepo,
		orderRepo:  orderRepo,
		logger:     logger,
	}
}

// PostEntryOnce appends entry unless a row with the identical natural key
// (customer, type, amount, description, order, subscription, payment)
// already exists. Zero amounts are dropped silently; the ledger never
// carries 0.00 rows.
func (s *Service) PostEntryOnce(ctx context.Context, tx ports.DBTX, entry *models.AccountEntry) (bool, error) {
	if entry.AmountUSD.IsZero() {
		return false, nil
	}
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	exists, err := s.ledgerRepo.ExistsNaturalKey(ctx, tx, entry)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	if err := s.ledgerRepo.Insert(ctx, tx, entry); err != nil {
		if domain.IsDuplicateEntry(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// PostInvoiceForPeriod appends a period invoice guarded by the
// (subscription, period) uniqueness constraint. created=false means a
// concurrent run already billed the period.
func (s *Service) PostInvoiceForPeriod(ctx context.Context, tx ports.DBTX, entry *models.AccountEntry) (bool, error) {
	if entry.EntryType != models.EntryInvoice {
		return false, domain.ErrLedgerEntryInvalid.WithDetail("entry_type", string(entry.EntryType))
	}
	if entry.SubscriptionID == "" || entry.PeriodStart == nil || entry.PeriodEnd == nil {
		return false, domain.ErrLedgerEntryInvalid.WithDetail("reason", "period invoice requires subscription and period")
	}
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	return s.ledgerRepo.InsertPeriodInvoice(ctx, tx, entry)
}

// ApplyWalletToOrder settles as much of the order's outstanding balance as
// the customer's wallet covers, up to maxAmount when non-nil. Returns the
// amount applied. Must be called inside the same transaction as any
// dependent status transition.
func (s *Service) ApplyWalletToOrder(ctx context.Context, tx ports.DBTX, customerID string, order *models.Order, maxAmount *decimal.Decimal) (decimal.Decimal, error) {
	due, err := s.ledgerRepo.SumByExternalRef(ctx, tx, order.ExternalRef)
	if err != nil {
		return decimal.Zero, err
	}
	if !due.IsPositive() {
		return decimal.Zero, nil
	}

	wallet, err := s.walletRepo.GetForUpdate(ctx, tx, customerID)
	if errors.Is(err, domain.ErrWalletNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	if !wallet.BalanceUSD.IsPositive() {
		return decimal.Zero, nil
	}

	toApply := decimal.Min(wallet.BalanceUSD, due)
	if maxAmount != nil && maxAmount.LessThan(toApply) {
		toApply = *maxAmount
	}
	toApply = billing.Quantize(toApply)
	if !toApply.IsPositive() {
		return decimal.Zero, nil
	}

	if _, err := s.walletRepo.Debit(ctx, tx, customerID, toApply, order.ExternalRef); err != nil {
		return decimal.Zero, err
	}

	payment := &models.AccountEntry{
		ID:             uuid.New().String(),
		CustomerID:     customerID,
		EntryType:      models.EntryPayment,
		AmountUSD:      toApply.Neg(),
		Description:    fmt.Sprintf("Wallet settlement for order %s", order.ExternalRef),
		OrderID:        order.ID,
		SubscriptionID: order.SubscriptionID,
		ExternalRef:    order.ExternalRef,
	}
	if err := s.ledgerRepo.Insert(ctx, tx, payment); err != nil {
		return decimal.Zero, err
	}

	s.logger.Info("wallet applied to order",
		ports.String("order_ref", order.ExternalRef),
		ports.String("customer_id", customerID),
		ports.Amount("applied", toApply))

	return toApply, nil
}

// EnsureFirstOrderInvoiceEntry posts exactly one invoice entry mirroring
// the order's lines plus taxes. Safe to call again on activation retries.
func (s *Service) EnsureFirstOrderInvoiceEntry(ctx context.Context, tx ports.DBTX, order *models.Order) (bool, error) {
	exists, err := s.ledgerRepo.ExistsInvoiceForRef(ctx, tx, order.ExternalRef)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	amount := billing.Quantize(order.LinesTotal().Add(order.TaxesTotal()))
	if amount.IsZero() {
		return false, nil
	}

	entry := &models.AccountEntry{
		ID:             uuid.New().String(),
		CustomerID:     order.CustomerID,
		EntryType:      models.EntryInvoice,
		AmountUSD:      amount,
		Description:    fmt.Sprintf("Invoice for order %s", order.ExternalRef),
		OrderID:        order.ID,
		SubscriptionID: order.SubscriptionID,
		ExternalRef:    order.ExternalRef,
	}
	if err := s.ledgerRepo.Insert(ctx, tx, entry); err != nil {
		if domain.IsDuplicateEntry(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// CreditWallet tops up the customer's prepaid balance and mirrors the
// credit on the ledger as a payment entry
func (s *Service) CreditWallet(ctx context.Context, tx ports.DBTX, customerID string, amount decimal.Decimal, reference string) error {
	amount = billing.Quantize(amount)
	if !amount.IsPositive() {
		return domain.ErrValidationAmountInvalid.WithDetail("amount", amount.String())
	}

	balanceAfter, err := s.walletRepo.Credit(ctx, tx, customerID, amount, reference)
	if err != nil {
		return err
	}

	entry := &models.AccountEntry{
		ID:          uuid.New().String(),
		CustomerID:  customerID,
		EntryType:   models.EntryPayment,
		AmountUSD:   amount.Neg(),
		Description: fmt.Sprintf("Wallet top-up %s", reference),
		ExternalRef: reference,
	}
	if err := s.ledgerRepo.Insert(ctx, tx, entry); err != nil {
		return err
	}

	s.logger.Info("wallet credited",
		ports.String("customer_id", customerID),
		ports.Amount("amount", amount),
		ports.Amount("balance_after", balanceAfter))
	return nil
}
