// Package billing implements the subscription billing orchestrator: the
// scheduled pre-bill and cutoff jobs plus manual activation. It owns every
// subscription state transition; repositories and the ledger poster do the
// persistence.
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
	"github.com/orbitlink/billing-service/internal/services/invoice"
	"github.com/orbitlink/billing-service/internal/services/ledger"
	"github.com/orbitlink/billing-service/pkg/timeutil"
)

const (
	prebillLockKey = "billing:prebill"
	cutoffLockKey  = "billing:cutoff"
	jobLockTTL     = 10 * time.Minute
)

// Service orchestrates recurring billing. Each subscription is processed in
// its own transaction so one bad record cannot poison a whole run.
type Service struct {
	db           ports.DBPort
	subRepo      ports.SubscriptionRepository
	orderRepo    ports.OrderRepository
	ledgerRepo   ports.LedgerRepository
	settingsRepo ports.BillingSettingsRepository
	taxRepo      ports.TaxRateRepository
	customerRepo ports.CustomerRepository
	planRepo     ports.PlanRepository
	ledger       *ledger.Service
	allocator    *invoice.Allocator
	locker       ports.JobLocker
	logger       ports.Logger
	clock        func() time.Time
}

// NewService creates the billing orchestrator
func NewService(
	db ports.DBPort,
	subRepo ports.SubscriptionRepository,
	orderRepo ports.OrderRepository,
	ledgerRepo ports.LedgerRepository,
	settingsRepo ports.BillingSettingsRepository,
	taxRepo ports.TaxRateRepository,
	customerRepo ports.CustomerRepository,
	planRepo ports.PlanRepository,
	ledgerSvc *ledger.Service,
	allocator *invoice.Allocator,
	locker ports.JobLocker,
	logger ports.Logger,
) *Service {
	return &Service{
		db:           db,
		subRepo:      subRepo,
		orderRepo:    orderRepo,
		ledgerRepo:   ledgerRepo,
		settingsRepo: settingsRepo,
		taxRepo:      taxRepo,
		customerRepo: customerRepo,
		planRepo:     planRepo,
		ledger:       ledgerSvc,
		allocator:    allocator,
		locker:       locker,
		logger:       logger,
		clock:        timeutil.Now,
	}
}

// WithClock overrides the time source. Tests only.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

type prebillOutcome int

const (
	outcomeSkipped prebillOutcome = iota
	outcomeInvoiced
	outcomePointerOnly
	outcomeAlreadyBilled
)

// RunPrebill issues renewal invoices for every billable subscription whose
// next billing date falls inside the lead window. The run is guarded by a
// date-scoped distributed lock; a second worker on the same day reports
// Skipped without error.
func (s *Service) RunPrebill(ctx context.Context) (*ports.PrebillResult, error) {
	today := timeutil.StartOfDay(s.clock())

	release, acquired, err := s.locker.TryAcquire(ctx, lockKeyFor(prebillLockKey, today), jobLockTTL)
	if err != nil {
		jobRuns.WithLabelValues("prebill", "error").Inc()
		return nil, err
	}
	if !acquired {
		s.logger.Info("prebill already running, skipping", ports.String("date", today.Format("2006-01-02")))
		jobRuns.WithLabelValues("prebill", "locked").Inc()
		return &ports.PrebillResult{Skipped: true}, nil
	}
	defer release()

	settings, err := s.settingsRepo.Get(ctx, s.db.GetDB())
	if err != nil {
		jobRuns.WithLabelValues("prebill", "error").Inc()
		return nil, err
	}

	subs, err := s.subRepo.ListBillable(ctx, s.db.GetDB())
	if err != nil {
		jobRuns.WithLabelValues("prebill", "error").Inc()
		return nil, err
	}

	result := &ports.PrebillResult{}
	for _, sub := range subs {
		result.Examined++

		outcome, err := s.prebillOne(ctx, sub.ID, settings, today)
		if err != nil {
			result.Failed++
			subscriptionFailures.WithLabelValues("prebill").Inc()
			s.logger.Error("prebill failed for subscription",
				ports.String("subscription_id", sub.ID),
				ports.Err(err))
			continue
		}

		switch outcome {
		case outcomeInvoiced:
			result.Invoiced++
			prebillInvoices.Inc()
		case outcomePointerOnly:
			result.PointerOnly++
		case outcomeAlreadyBilled:
			result.AlreadyBilled++
			prebillDuplicates.Inc()
		}
	}

	jobRuns.WithLabelValues("prebill", "completed").Inc()
	s.logger.Info("prebill run completed",
		ports.String("date", today.Format("2006-01-02")),
		ports.Int("examined", result.Examined),
		ports.Int("invoiced", result.Invoiced),
		ports.Int("pointer_only", result.PointerOnly),
		ports.Int("already_billed", result.AlreadyBilled),
		ports.Int("failed", result.Failed))

	return result, nil
}

// prebillOne processes a single subscription inside its own transaction.
// The subscription is re-read under the transaction so a concurrent manual
// activation cannot race the window check.
func (s *Service) prebillOne(ctx context.Context, subscriptionID string, settings *models.BillingSettings, today time.Time) (prebillOutcome, error) {
	outcome := outcomeSkipped

	err := s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		sub, err := s.subRepo.GetByID(ctx, tx, subscriptionID)
		if err != nil {
			return err
		}
		if !sub.IsBillable() || sub.NextBillingDate == nil {
			return nil
		}

		next := timeutil.StartOfDay(*sub.NextBillingDate)
		windowStart := next.AddDate(0, 0, -settings.PrebillLeadDays)
		// Half-open window [next-lead, next): on the anchor itself the
		// subscription belongs to the next period's run.
		if today.Before(windowStart) || !today.Before(next) {
			return nil
		}

		if !knownCycle(sub.BillingCycle) {
			s.logger.Warn("unknown billing cycle, falling back to monthly",
				ports.String("subscription_id", sub.ID),
				ports.String("cycle", string(sub.BillingCycle)))
		}
		periodStart := next
		periodEnd := calc.AddMonths(next, calc.MonthsForCycle(sub.BillingCycle))

		if settings.FirstCycleIncludedInOrder && sub.IsFirstCycle() {
			// The intake order already covers this period; only the
			// pointers move.
			outcome = outcomePointerOnly
			return s.advancePointers(ctx, tx, sub, periodStart, periodEnd)
		}

		if err := s.createRenewal(ctx, tx, sub, settings, periodStart, periodEnd); err != nil {
			return err
		}
		outcome = outcomeInvoiced
		return s.advancePointers(ctx, tx, sub, periodStart, periodEnd)
	})

	// A duplicate period invoice rolls back the renewal order but the
	// pointers still have to advance; both runs computed the same period
	// end, so the second advance is a no-op when the first one landed.
	if domain.IsDuplicateEntry(err) {
		if err := s.advancePointersRetry(ctx, subscriptionID, settings, today); err != nil {
			return outcomeSkipped, err
		}
		return outcomeAlreadyBilled, nil
	}
	if err != nil {
		return outcomeSkipped, err
	}
	return outcome, nil
}

// createRenewal builds the renewal order, posts its period invoice, and
// settles what the wallet covers. Returns ErrLedgerDuplicateEntry when the
// period is already billed; the caller must roll back.
func (s *Service) createRenewal(ctx context.Context, tx pgx.Tx, sub *models.Subscription, settings *models.BillingSettings, periodStart, periodEnd time.Time) error {
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

	months := calc.MonthsForCycle(sub.BillingCycle)
	base := calc.Quantize(plan.MonthlyPriceUSD.Mul(decimal.NewFromInt(int64(months))))
	split := calc.SplitAmountsForBase(base, customer, rates, settings.VATOnExcise)

	number, err := s.allocator.NextInTx(ctx, tx, models.InvoiceIndividual)
	if err != nil {
		return err
	}

	period := fmt.Sprintf("%s to %s", periodStart.Format("2006-01-02"), periodEnd.Format("2006-01-02"))
	order := &models.Order{
		ID:             uuid.New().String(),
		CustomerID:     sub.CustomerID,
		SubscriptionID: sub.ID,
		Kind:           models.OrderKindRenewal,
		InvoiceNumber:  number,
		TotalPrice:     split.Total,
		PaymentStatus:  models.PaymentUnpaid,
		ExternalRef:    number,
		Lines: []models.OrderLine{{
			Kind:        models.LineKindPlan,
			Description: fmt.Sprintf("%s renewal %s", plan.Name, period),
			UnitPrice:   plan.MonthlyPriceUSD,
			Quantity:    months,
			LineTotal:   base,
		}},
		Taxes: renewalTaxes(customer, rates, split),
	}
	if err := s.orderRepo.Create(ctx, tx, order); err != nil {
		return err
	}

	entry := &models.AccountEntry{
		CustomerID:     sub.CustomerID,
		EntryType:      models.EntryInvoice,
		AmountUSD:      split.Total,
		Description:    fmt.Sprintf("Subscription renewal %s", period),
		OrderID:        order.ID,
		SubscriptionID: sub.ID,
		PeriodStart:    &periodStart,
		PeriodEnd:      &periodEnd,
		ExternalRef:    order.ExternalRef,
	}
	created, err := s.ledger.PostInvoiceForPeriod(ctx, tx, entry)
	if err != nil {
		return err
	}
	if !created {
		return domain.ErrLedgerDuplicateEntry.
			WithDetail("subscription_id", sub.ID).
			WithDetail("period_start", periodStart.Format("2006-01-02"))
	}

	if _, err := s.ledger.ApplyWalletToOrder(ctx, tx, sub.CustomerID, order, nil); err != nil {
		return err
	}
	due, err := s.ledgerRepo.SumByExternalRef(ctx, tx, order.ExternalRef)
	if err != nil {
		return err
	}
	if !due.IsPositive() {
		if err := s.orderRepo.UpdatePaymentStatus(ctx, tx, order.ID, models.PaymentPaid); err != nil {
			return err
		}
	}

	s.logger.Info("renewal invoice created",
		ports.String("subscription_id", sub.ID),
		ports.String("invoice_number", number),
		ports.String("period_start", periodStart.Format("2006-01-02")),
		ports.Amount("total", split.Total))

	return nil
}

// advancePointers marks the subscription billed for the period starting at
// periodStart and moves its next billing date to the period end
func (s *Service) advancePointers(ctx context.Context, tx ports.DBTX, sub *models.Subscription, periodStart, periodEnd time.Time) error {
	sub.LastBilledAt = &periodStart
	sub.NextBillingDate = &periodEnd
	return s.subRepo.Update(ctx, tx, sub)
}

// advancePointersRetry re-reads the subscription in a fresh transaction and
// advances its pointers if a concurrent billing run has not already done so
func (s *Service) advancePointersRetry(ctx context.Context, subscriptionID string, settings *models.BillingSettings, today time.Time) error {
	return s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		sub, err := s.subRepo.GetByID(ctx, tx, subscriptionID)
		if err != nil {
			return err
		}
		if sub.NextBillingDate == nil {
			return nil
		}
		next := timeutil.StartOfDay(*sub.NextBillingDate)
		windowStart := next.AddDate(0, 0, -settings.PrebillLeadDays)
		if today.Before(windowStart) || !today.Before(next) {
			// The concurrent run already moved the pointer out of the
			// prebill window. Nothing left to do.
			return nil
		}
		periodEnd := calc.AddMonths(next, calc.MonthsForCycle(sub.BillingCycle))
		return s.advancePointers(ctx, tx, sub, next, periodEnd)
	})
}

func renewalTaxes(customer *models.Customer, rates map[models.TaxCode]decimal.Decimal, split calc.TaxSplit) []models.OrderTax {
	var taxes []models.OrderTax
	if split.Excise.IsPositive() {
		taxes = append(taxes, models.OrderTax{
			Kind:   models.TaxEXCISE,
			Rate:   calc.TaxRateFor(models.TaxEXCISE, customer, rates),
			Amount: split.Excise,
		})
	}
	if split.VAT.IsPositive() {
		taxes = append(taxes, models.OrderTax{
			Kind:   models.TaxVAT,
			Rate:   calc.TaxRateFor(models.TaxVAT, customer, rates),
			Amount: split.VAT,
		})
	}
	return taxes
}

func knownCycle(cycle models.BillingCycle) bool {
	switch cycle {
	case models.CycleMonthly, models.CycleQuarterly, models.CycleYearly:
		return true
	}
	return false
}

func lockKeyFor(prefix string, date time.Time) string {
	return prefix + ":" + date.Format("2006-01-02")
}
