package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TaxCode names a configured tax
type TaxCode string

const (
	TaxVAT    TaxCode = "VAT"
	TaxEXCISE TaxCode = "EXCISE"
)

// InvoiceType selects the invoice number series
type InvoiceType string

const (
	InvoiceIndividual   InvoiceType = "IND"
	InvoiceConsolidated InvoiceType = "COR"
)

// BillingSettings is the singleton configuration row for the billing engine.
// The row doubles as the invoice sequence counter, so the allocator locks it
// FOR UPDATE across its whole read-probe-write sequence.
type BillingSettings struct {
	ID                        int
	AnchorDay                 int // 1-28
	PrebillLeadDays           int
	CutoffDaysBeforeAnchor    int
	AutoSuspendOnCutoff       bool
	VATOnExcise               bool
	FirstCycleIncludedInOrder bool
	InvoiceYear               int
	NextInvoiceSeq            int64
	AnnualSequenceReset       bool
	UpdatedAt                 time.Time
}

// TaxRate is one row of the named rate table. The latest row per code is
// authoritative; older rows are kept for audit.
type TaxRate struct {
	ID        string
	Code      TaxCode
	Percent   decimal.Decimal
	CreatedAt time.Time
}

// ConsolidatedInvoice is a corporate roll-up invoice. Only its number
// matters to this core: the allocator probes this table alongside orders
// when checking a candidate invoice number for collisions.
type ConsolidatedInvoice struct {
	ID         string
	Number     string
	CustomerID string
	TotalUSD   decimal.Decimal
	CreatedAt  time.Time
}
