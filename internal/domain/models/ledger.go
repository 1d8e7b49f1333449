package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntryType classifies a ledger entry
type EntryType string

const (
	EntryInvoice    EntryType = "invoice"
	EntryPayment    EntryType = "payment"
	EntryTax        EntryType = "tax"
	EntryAdjustment EntryType = "adjustment"
	EntryCreditNote EntryType = "credit_note"
)

// AccountEntry is an immutable signed monetary record. Positive amounts are
// charges against the customer, negative amounts are credits or payments.
// Rows are append-only; a correction is a new offsetting entry, never an
// update. For entry_type=invoice at most one row may exist per
// (subscription, period_start, period_end); that unique index is the
// idempotency anchor for the pre-bill job.
type AccountEntry struct {
	ID             string
	CustomerID     string
	EntryType      EntryType
	AmountUSD      decimal.Decimal
	Description    string
	OrderID        string
	SubscriptionID string
	PaymentID      string
	PeriodStart    *time.Time
	PeriodEnd      *time.Time
	ExternalRef    string
	CreatedAt      time.Time
}

// IsCharge returns true for positive (customer-owes) entries
func (e *AccountEntry) IsCharge() bool {
	return e.AmountUSD.IsPositive()
}
