// Package invoice implements the concurrency-safe, annually-resettable
// invoice number allocator. Numbers are formatted YYYY-TYPE-NNNNNN and
// drawn from a single counter stored on the billing settings row.
package invoice

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/orbitlink/billing-service/internal/domain"
	"github.com/orbitlink/billing-service/internal/domain/models"
	"github.com/orbitlink/billing-service/internal/domain/ports"
	"github.com/orbitlink/billing-service/pkg/timeutil"
)

// maxSequence is the largest value the 6-digit field can carry
const maxSequence = 999999

// Allocator hands out invoice numbers. The settings row lock is held for
// the entire read-probe-persist sequence; releasing it between steps would
// reintroduce the duplicate-number race this component exists to prevent.
type Allocator struct {
	db               ports.DBPort
	settingsRepo     ports.BillingSettingsRepository
	orderRepo        ports.OrderRepository
	consolidatedRepo ports.ConsolidatedInvoiceRepository
	logger           ports.Logger
	clock            func() time.Time
}

// NewAllocator creates a new invoice number allocator
func NewAllocator(
	db ports.DBPort,
	settingsRepo ports.BillingSettingsRepository,
	orderRepo ports.OrderRepository,
	consolidatedRepo ports.ConsolidatedInvoiceRepository,
	logger ports.Logger,
) *Allocator {
	return &Allocator{
		db:               db,
		settingsRepo:     settingsRepo,
		orderRepo:        orderRepo,
		consolidatedRepo: consolidatedRepo,
		logger:           logger,
		clock:            timeutil.Now,
	}
}

// WithClock overrides the allocator's clock; used by tests and backdated runs
func (a *Allocator) WithClock(clock func() time.Time) *Allocator {
	a.clock = clock
	return a
}

// Next allocates the next invoice number in its own transaction
func (a *Allocator) Next(ctx context.Context, invoiceType models.InvoiceType) (string, error) {
	var number string
	err := a.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		n, err := a.NextInTx(ctx, tx, invoiceType)
		if err != nil {
			return err
		}
		number = n
		return nil
	})
	return number, err
}

// NextInTx allocates the next invoice number inside the caller's
// transaction. The pre-bill job uses this so the number commits or rolls
// back together with the renewal order it belongs to.
func (a *Allocator) NextInTx(ctx context.Context, tx ports.DBTX, invoiceType models.InvoiceType) (string, error) {
	settings, err := a.settingsRepo.GetForUpdate(ctx, tx)
	if err != nil {
		return "", err
	}

	year := a.clock().UTC().Year()
	seq := settings.NextInvoiceSeq
	if settings.InvoiceYear != year {
		// Year rolled over since the last allocation
		seq = 1
	}

	yearPrefix := fmt.Sprintf("%04d-", year)
	if settings.AnnualSequenceReset {
		// Defend against externally inserted rows or counter drift: raise
		// the counter above whatever is already on disk for this year.
		highest, err := a.highestExistingSeq(ctx, tx, yearPrefix)
		if err != nil {
			return "", err
		}
		if highest+1 > seq {
			a.logger.Warn("invoice counter behind existing numbers, resyncing",
				ports.Int("year", year),
				ports.Int("stored_next", int(seq)),
				ports.Int("found_max", int(highest)))
			seq = highest + 1
		}
	}

	// Defensive linear probe; under correct locking this rarely iterates
	// more than once.
	for candidateSeq := seq; candidateSeq <= maxSequence; candidateSeq++ {
		candidate := fmt.Sprintf("%04d-%s-%06d", year, invoiceType, candidateSeq)

		taken, err := a.numberTaken(ctx, tx, candidate)
		if err != nil {
			return "", err
		}
		if taken {
			continue
		}

		if err := a.settingsRepo.UpdateInvoiceSequence(ctx, tx, year, candidateSeq+1); err != nil {
			return "", err
		}
		return candidate, nil
	}

	return "", domain.ErrInvoiceSeqExhausted.WithDetail("year", year)
}

func (a *Allocator) highestExistingSeq(ctx context.Context, tx ports.DBTX, yearPrefix string) (int64, error) {
	fromOrders, err := a.orderRepo.MaxInvoiceSeq(ctx, tx, yearPrefix)
	if err != nil {
		return 0, err
	}
	fromConsolidated, err := a.consolidatedRepo.MaxInvoiceSeq(ctx, tx, yearPrefix)
	if err != nil {
		return 0, err
	}
	if fromConsolidated > fromOrders {
		return fromConsolidated, nil
	}
	return fromOrders, nil
}

func (a *Allocator) numberTaken(ctx context.Context, tx ports.DBTX, number string) (bool, error) {
	exists, err := a.orderRepo.InvoiceNumberExists(ctx, tx, number)
	if err != nil || exists {
		return exists, err
	}
	return a.consolidatedRepo.NumberExists(ctx, tx, number)
}
