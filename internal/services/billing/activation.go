package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	calc "github.com/orbitlink/billing-service/internal/billing"
	"github.com/orbitlink/billing-service/internal/domain"
	"github.com/orbitlink/billing-service/internal/domain/models"
	"github.com/orbitlink/billing-service/internal/domain/ports"
	"github.com/orbitlink/billing-service/pkg/timeutil"
)

// ActivateSubscription turns service on for an installed subscription. The
// partial period from the activation date to the next anchor is billed
// pro-rata by day; activation exactly on the anchor charges nothing because
// the regular pre-bill run owns full periods.
func (s *Service) ActivateSubscription(ctx context.Context, subscriptionID string, activationDate time.Time) (*ports.ActivationResult, error) {
	activationDate = timeutil.StartOfDay(activationDate)

	settings, err := s.settingsRepo.Get(ctx, s.db.GetDB())
	if err != nil {
		return nil, err
	}

	var result *ports.ActivationResult
	err = s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		sub, err := s.subRepo.GetByID(ctx, tx, subscriptionID)
		if err != nil {
			return err
		}
		if sub.IsCancelled() || sub.Status == models.SubStatusActive {
			return domain.ErrSubInvalidState.
				WithDetail("subscription_id", sub.ID).
				WithDetail("status", string(sub.Status))
		}

		customer, err := s.customerRepo.GetByID(ctx, tx, sub.CustomerID)
		if err != nil {
			return err
		}
		plan, err := s.planRepo.GetByID(ctx, tx, sub.PlanID)
		if err != nil {
			return err
		}
		rates, err := s.taxRepo.LatestRates(ctx, tx)
		if err != nil {
			return err
		}
		order, err := s.orderRepo.GetByID(ctx, tx, sub.OrderID)
		if err != nil {
			return err
		}

		prev, next := calc.AnchorWindow(activationDate, settings.AnchorDay)
		proratedBase := decimal.Zero
		if !activationDate.Equal(prev) {
			usedDays := calc.DaysBetween(activationDate, next)
			periodDays := calc.DaysBetween(prev, next)
			multiplier := decimal.NewFromInt(int64(usedDays)).Div(decimal.NewFromInt(int64(periodDays)))
			proratedBase = calc.Quantize(plan.MonthlyPriceUSD.Mul(multiplier))
		}
		split := calc.SplitAmountsForBase(proratedBase, customer, rates, settings.VATOnExcise)

		if _, err := s.ledger.EnsureFirstOrderInvoiceEntry(ctx, tx, order); err != nil {
			return err
		}

		if split.Total.IsPositive() {
			entry := &models.AccountEntry{
				CustomerID:     sub.CustomerID,
				EntryType:      models.EntryInvoice,
				AmountUSD:      split.Total,
				Description:    fmt.Sprintf("Prorated charge %s to %s", activationDate.Format("2006-01-02"), next.Format("2006-01-02")),
				OrderID:        order.ID,
				SubscriptionID: sub.ID,
				PeriodStart:    &activationDate,
				PeriodEnd:      &next,
				ExternalRef:    order.ExternalRef,
			}
			// created=false means an earlier activation attempt already
			// posted this partial period; keep going, the retry must not
			// double-bill.
			if _, err := s.ledger.PostInvoiceForPeriod(ctx, tx, entry); err != nil {
				return err
			}
		}

		// The wallet covers at most the prorated charge here; the rest of
		// the order's balance settles through regular payment.
		applied, err := s.ledger.ApplyWalletToOrder(ctx, tx, sub.CustomerID, order, &split.Total)
		if err != nil {
			return err
		}
		due, err := s.ledgerRepo.SumByExternalRef(ctx, tx, order.ExternalRef)
		if err != nil {
			return err
		}
		if !due.IsPositive() && order.PaymentStatus != models.PaymentPaid {
			if err := s.orderRepo.UpdatePaymentStatus(ctx, tx, order.ID, models.PaymentPaid); err != nil {
				return err
			}
		}

		sub.Status = models.SubStatusActive
		sub.StartedAt = &activationDate
		sub.NextBillingDate = &next
		if err := s.subRepo.Update(ctx, tx, sub); err != nil {
			return err
		}

		result = &ports.ActivationResult{
			SubscriptionID:  sub.ID,
			ProratedBase:    split.Base,
			ProratedTotal:   split.Total,
			WalletApplied:   applied,
			NextBillingDate: next,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("subscription activated",
		ports.String("subscription_id", result.SubscriptionID),
		ports.Amount("prorated_total", result.ProratedTotal),
		ports.Amount("wallet_applied", result.WalletApplied),
		ports.String("next_billing_date", result.NextBillingDate.Format("2006-01-02")))

	return result, nil
}

// CreateSubscriptionParams carries the inputs for subscription intake
type CreateSubscriptionParams struct {
	CustomerID   string
	PlanID       string
	OrderID      string
	BillingCycle models.BillingCycle
}

// CreateSubscriptionForOrder creates an inactive subscription linked to a
// paid-for intake order and mirrors the order on the ledger. The
// subscription stays inactive until installation completes and
// ActivateSubscription is called.
func (s *Service) CreateSubscriptionForOrder(ctx context.Context, p CreateSubscriptionParams) (*models.Subscription, error) {
	if !knownCycle(p.BillingCycle) {
		return nil, domain.NewDomainError(domain.ErrorCodeBillingInvalidCycle, "unknown billing cycle").
			WithDetail("cycle", string(p.BillingCycle))
	}

	var sub *models.Subscription
	err := s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		order, err := s.orderRepo.GetByID(ctx, tx, p.OrderID)
		if err != nil {
			return err
		}
		if order.CustomerID != p.CustomerID {
			return domain.ErrOrderNotFound.WithDetail("order_id", p.OrderID)
		}

		sub = &models.Subscription{
			ID:           uuid.New().String(),
			CustomerID:   p.CustomerID,
			PlanID:       p.PlanID,
			OrderID:      p.OrderID,
			Status:       models.SubStatusInactive,
			BillingCycle: p.BillingCycle,
		}
		if err := s.subRepo.Create(ctx, tx, sub); err != nil {
			return err
		}

		if err := s.orderRepo.AttachSubscription(ctx, tx, order.ID, sub.ID); err != nil {
			return err
		}
		order.SubscriptionID = sub.ID
		if _, err := s.ledger.EnsureFirstOrderInvoiceEntry(ctx, tx, order); err != nil {
			return err
		}
		if _, err := s.ledger.ApplyWalletToOrder(ctx, tx, p.CustomerID, order, nil); err != nil {
			return err
		}
		due, err := s.ledgerRepo.SumByExternalRef(ctx, tx, order.ExternalRef)
		if err != nil {
			return err
		}
		if !due.IsPositive() && order.PaymentStatus != models.PaymentPaid {
			return s.orderRepo.UpdatePaymentStatus(ctx, tx, order.ID, models.PaymentPaid)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("subscription created",
		ports.String("subscription_id", sub.ID),
		ports.String("order_id", p.OrderID),
		ports.String("cycle", string(p.BillingCycle)))

	return sub, nil
}

// CancelSubscription marks the subscription cancelled. Cancellation is
// terminal; the row is never deleted because ledger entries reference it.
func (s *Service) CancelSubscription(ctx context.Context, subscriptionID string) error {
	return s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		sub, err := s.subRepo.GetByID(ctx, tx, subscriptionID)
		if err != nil {
			return err
		}
		if sub.IsCancelled() {
			return nil
		}
		now := s.clock()
		sub.Status = models.SubStatusCancelled
		sub.CancelledAt = &now
		return s.subRepo.Update(ctx, tx, sub)
	})
}

// CreditWallet tops up a customer's prepaid balance in its own transaction
func (s *Service) CreditWallet(ctx context.Context, customerID string, amount decimal.Decimal, reference string) error {
	return s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return s.ledger.CreditWallet(ctx, tx, customerID, amount, reference)
	})
}
