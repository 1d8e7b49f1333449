package models

import (
	"github.com/shopspring/decimal"
)

// Customer is the read-only collaborator record this core consumes.
// IsTaxExempt is a blanket exemption: when set, no tax code applies.
type Customer struct {
	ID          string
	Name        string
	IsTaxExempt bool
}

// Plan is the read-only service plan record
type Plan struct {
	ID              string
	Name            string
	MonthlyPriceUSD decimal.Decimal
}
