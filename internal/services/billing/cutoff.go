package billing

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	calc "github.com/orbitlink/billing-service/internal/billing"
	"github.com/orbitlink/billing-service/internal/domain/models"
	"github.com/orbitlink/billing-service/internal/domain/ports"
	"github.com/orbitlink/billing-service/pkg/timeutil"
)

// RunCutoff suspends active subscriptions whose invoice for the upcoming
// period is still unpaid on their cutoff date. The job is a no-op when
// auto-suspension is disabled in settings. A missing invoice counts as
// unpaid: when in doubt the job suspends, because a free period is the
// worse failure.
func (s *Service) RunCutoff(ctx context.Context) (*ports.CutoffResult, error) {
	today := timeutil.StartOfDay(s.clock())

	release, acquired, err := s.locker.TryAcquire(ctx, lockKeyFor(cutoffLockKey, today), jobLockTTL)
	if err != nil {
		jobRuns.WithLabelValues("cutoff", "error").Inc()
		return nil, err
	}
	if !acquired {
		s.logger.Info("cutoff already running, skipping", ports.String("date", today.Format("2006-01-02")))
		jobRuns.WithLabelValues("cutoff", "locked").Inc()
		return &ports.CutoffResult{Skipped: true}, nil
	}
	defer release()

	settings, err := s.settingsRepo.Get(ctx, s.db.GetDB())
	if err != nil {
		jobRuns.WithLabelValues("cutoff", "error").Inc()
		return nil, err
	}
	if !settings.AutoSuspendOnCutoff {
		jobRuns.WithLabelValues("cutoff", "disabled").Inc()
		return &ports.CutoffResult{Disabled: true}, nil
	}

	subs, err := s.subRepo.ListBillable(ctx, s.db.GetDB())
	if err != nil {
		jobRuns.WithLabelValues("cutoff", "error").Inc()
		return nil, err
	}

	result := &ports.CutoffResult{}
	for _, sub := range subs {
		if sub.NextBillingDate == nil {
			continue
		}
		cutoffDate := timeutil.StartOfDay(*sub.NextBillingDate).AddDate(0, 0, -settings.CutoffDaysBeforeAnchor)
		if !cutoffDate.Equal(today) {
			continue
		}
		result.Examined++

		suspended, err := s.cutoffOne(ctx, sub.ID)
		if err != nil {
			result.Failed++
			subscriptionFailures.WithLabelValues("cutoff").Inc()
			s.logger.Error("cutoff failed for subscription",
				ports.String("subscription_id", sub.ID),
				ports.Err(err))
			continue
		}
		if suspended {
			result.Suspended++
			subscriptionsSuspended.Inc()
		}
	}

	jobRuns.WithLabelValues("cutoff", "completed").Inc()
	s.logger.Info("cutoff run completed",
		ports.String("date", today.Format("2006-01-02")),
		ports.Int("examined", result.Examined),
		ports.Int("suspended", result.Suspended),
		ports.Int("failed", result.Failed))

	return result, nil
}

// cutoffOne checks payment for the subscription's current period inside its
// own transaction and suspends when the balance is still outstanding
func (s *Service) cutoffOne(ctx context.Context, subscriptionID string) (bool, error) {
	suspended := false

	err := s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		sub, err := s.subRepo.GetByID(ctx, tx, subscriptionID)
		if err != nil {
			return err
		}
		if sub.Status != models.SubStatusActive || sub.NextBillingDate == nil {
			return nil
		}

		periodStart := timeutil.StartOfDay(*sub.NextBillingDate)
		periodEnd := calc.AddMonths(periodStart, calc.MonthsForCycle(sub.BillingCycle))

		due, err := s.outstandingForPeriod(ctx, tx, sub.ID, periodStart, periodEnd)
		if err != nil {
			return err
		}
		if !due {
			return nil
		}

		sub.Status = models.SubStatusSuspended
		if err := s.subRepo.Update(ctx, tx, sub); err != nil {
			return err
		}
		suspended = true

		s.logger.Warn("subscription suspended at cutoff",
			ports.String("subscription_id", sub.ID),
			ports.String("period_start", periodStart.Format("2006-01-02")))
		return nil
	})
	return suspended, err
}

// outstandingForPeriod reports whether the period invoice is unpaid. No
// invoice at all also reads as unpaid; a billing gap must not turn into
// free service.
func (s *Service) outstandingForPeriod(ctx context.Context, tx ports.DBTX, subscriptionID string, periodStart, periodEnd time.Time) (bool, error) {
	inv, err := s.ledgerRepo.FindPeriodInvoice(ctx, tx, subscriptionID, periodStart, periodEnd)
	if err != nil {
		return false, err
	}
	if inv == nil {
		return true, nil
	}

	payments, err := s.ledgerRepo.SumPaymentsByExternalRef(ctx, tx, inv.ExternalRef)
	if err != nil {
		return false, err
	}
	// Payments carry a negative sign, so adding them nets the balance.
	return inv.AmountUSD.Add(payments).IsPositive(), nil
}
