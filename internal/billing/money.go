// Package billing holds the pure calculation kernels of the billing engine:
// money quantization, tax splitting, and billing-cycle date arithmetic.
// Nothing in this package performs I/O.
package billing

import (
	"github.com/orbitlink/billing-service/internal/domain/models"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Quantize rounds a monetary amount to 2 decimal places, half up. Every
// money value entering or leaving the kernel passes through this.
func Quantize(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// TaxApplicable reports whether the tax code applies to the customer.
// Tax exemption is blanket: an exempt customer pays no tax of any code.
func TaxApplicable(customer *models.Customer, code models.TaxCode) bool {
	_ = code
	return customer == nil || !customer.IsTaxExempt
}

// TaxRateFor returns the effective rate for code as a 4-decimal fraction
// (16% -> 0.1600). Returns zero when the customer is exempt or the code has
// no configured rate; a missing rate row is configuration, not an error.
func TaxRateFor(code models.TaxCode, customer *models.Customer, rates map[models.TaxCode]decimal.Decimal) decimal.Decimal {
	if !TaxApplicable(customer, code) {
		return decimal.Zero
	}
	pct, ok := rates[code]
	if !ok {
		return decimal.Zero
	}
	return pct.Div(hundred).Round(4)
}

// TaxSplit is the result of splitting a base amount into tax components
type TaxSplit struct {
	Base   decimal.Decimal
	Excise decimal.Decimal
	VAT    decimal.Decimal
	Total  decimal.Decimal
}

// SplitAmountsForBase computes excise and VAT on a base amount. Excise is
// computed first; VAT applies to the excise-inclusive base when vatOnExcise
// is set, otherwise to the bare base. The ordering is a functional
// requirement: swapping it changes totals.
func SplitAmountsForBase(base decimal.Decimal, customer *models.Customer, rates map[models.TaxCode]decimal.Decimal, vatOnExcise bool) TaxSplit {
	base = Quantize(base)

	excise := Quantize(base.Mul(TaxRateFor(models.TaxEXCISE, customer, rates)))

	vatBase := base
	if vatOnExcise {
		vatBase = base.Add(excise)
	}
	vat := Quantize(vatBase.Mul(TaxRateFor(models.TaxVAT, customer, rates)))

	return TaxSplit{
		Base:   base,
		Excise: excise,
		VAT:    vat,
		Total:  Quantize(base.Add(excise).Add(vat)),
	}
}
