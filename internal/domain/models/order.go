package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderKind distinguishes intake orders from billing-generated renewals
type OrderKind string

const (
	OrderKindOrder   OrderKind = "order"
	OrderKindRenewal OrderKind = "renewal"
)

// PaymentStatus represents the payment state of an order
type PaymentStatus string

const (
	PaymentUnpaid               PaymentStatus = "unpaid"
	PaymentAwaitingConfirmation PaymentStatus = "awaiting_confirmation"
	PaymentPaid                 PaymentStatus = "paid"
	PaymentCancelled            PaymentStatus = "cancelled"
)

// OrderLineKind classifies an order line
type OrderLineKind string

const (
	LineKindKit     OrderLineKind = "kit"
	LineKindPlan    OrderLineKind = "plan"
	LineKindInstall OrderLineKind = "install"
	LineKindExtra   OrderLineKind = "extra"
	LineKindAdjust  OrderLineKind = "adjust"
)

// Order represents a purchase event: either customer intake or a renewal
// created by the pre-bill job. ExternalRef tags every ledger entry that
// belongs to this order.
type Order struct {
	ID             string
	CustomerID     string
	SubscriptionID string
	Kind           OrderKind
	InvoiceNumber  string
	TotalPrice     decimal.Decimal
	PaymentStatus  PaymentStatus
	Status         string
	ExternalRef    string
	Lines          []OrderLine
	Taxes          []OrderTax
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// OrderLine is a single priced item on an order
type OrderLine struct {
	ID          string
	OrderID     string
	Kind        OrderLineKind
	Description string
	UnitPrice   decimal.Decimal
	Quantity    int
	LineTotal   decimal.Decimal
}

// OrderTax is an immutable tax snapshot taken at issuance time.
// Rate is the fraction in effect when the order was created, not a
// reference to the live tax table.
type OrderTax struct {
	ID      string
	OrderID string
	Kind    TaxCode
	Rate    decimal.Decimal
	Amount  decimal.Decimal
}

// LinesTotal sums all line totals
func (o *Order) LinesTotal() decimal.Decimal {
	total := decimal.Zero
	for _, l := range o.Lines {
		total = total.Add(l.LineTotal)
	}
	return total
}

// TaxesTotal sums all tax amounts
func (o *Order) TaxesTotal() decimal.Decimal {
	total := decimal.Zero
	for _, t := range o.Taxes {
		total = total.Add(t.Amount)
	}
	return total
}
