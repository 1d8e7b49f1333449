// Package scheduler runs the billing jobs on an in-process cron. The jobs
// themselves are safe to trigger from multiple places at once; the
// distributed lock inside the billing service keeps runs single-owner.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/orbitlink/billing-service/internal/domain/ports"
)

// jobTimeout bounds a single scheduled run
const jobTimeout = 15 * time.Minute

// Scheduler wraps a cron runner around the billing jobs
type Scheduler struct {
	cron    *cron.Cron
	billing ports.BillingService
	logger  *zap.Logger
}

// New builds the scheduler with the given cron specs (standard 5-field
// syntax, evaluated in UTC)
func New(billing ports.BillingService, logger *zap.Logger, prebillSpec, cutoffSpec string) (*Scheduler, error) {
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.Recover(cron.PrintfLogger(zap.NewStdLog(logger)))),
		),
		billing: billing,
		logger:  logger,
	}

	if _, err := s.cron.AddFunc(prebillSpec, s.runPrebill); err != nil {
		return nil, err
	}
	if _, err := s.cron.AddFunc(cutoffSpec, s.runCutoff); err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins scheduling in a background goroutine
func (s *Scheduler) Start() {
	s.logger.Info("Billing scheduler started")
	s.cron.Start()
}

// Stop halts scheduling and waits for any in-flight job to finish
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop().Done()
	select {
	case <-done:
		s.logger.Info("Billing scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) runPrebill() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	result, err := s.billing.RunPrebill(ctx)
	if err != nil {
		s.logger.Error("Scheduled prebill run failed", zap.Error(err))
		return
	}
	s.logger.Info("Scheduled prebill run finished",
		zap.Bool("skipped", result.Skipped),
		zap.Int("examined", result.Examined),
		zap.Int("invoiced", result.Invoiced),
		zap.Int("failed", result.Failed),
	)
}

func (s *Scheduler) runCutoff() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	result, err := s.billing.RunCutoff(ctx)
	if err != nil {
		s.logger.Error("Scheduled cutoff run failed", zap.Error(err))
		return
	}
	s.logger.Info("Scheduled cutoff run finished",
		zap.Bool("skipped", result.Skipped),
		zap.Bool("disabled", result.Disabled),
		zap.Int("examined", result.Examined),
		zap.Int("suspended", result.Suspended),
		zap.Int("failed", result.Failed),
	)
}
