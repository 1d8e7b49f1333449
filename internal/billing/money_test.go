package billing

import (
	"testing"

	"github.com/orbitlink/billing-service/internal/domain/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func standardRates() map[models.TaxCode]decimal.Decimal {
	return map[models.TaxCode]decimal.Decimal{
		models.TaxVAT:    dec("16"),
		models.TaxEXCISE: dec("10"),
	}
}

func TestQuantize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"already two decimals", "42.53", "42.53"},
		{"half rounds up", "1.005", "1.01"},
		{"truncation case", "3.333", "3.33"},
		{"rounds up", "5.866", "5.87"},
		{"zero", "0", "0.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Quantize(dec(tt.input)).StringFixed(2))
		})
	}
}

func TestTaxRateFor(t *testing.T) {
	customer := &models.Customer{ID: "cust-1"}
	exempt := &models.Customer{ID: "cust-2", IsTaxExempt: true}
	rates := standardRates()

	t.Run("configured rate as 4-decimal fraction", func(t *testing.T) {
		rate := TaxRateFor(models.TaxVAT, customer, rates)
		assert.True(t, rate.Equal(dec("0.16")), "got %s", rate)
	})

	t.Run("exempt customer gets zero for every code", func(t *testing.T) {
		assert.True(t, TaxRateFor(models.TaxVAT, exempt, rates).IsZero())
		assert.True(t, TaxRateFor(models.TaxEXCISE, exempt, rates).IsZero())
	})

	t.Run("unconfigured code is zero, not an error", func(t *testing.T) {
		assert.True(t, TaxRateFor(models.TaxVAT, customer, nil).IsZero())
	})
}

func TestSplitAmountsForBase_CompoundVAT(t *testing.T) {
	// monthly_price 33.33, excise 10%, vat 16% compounding on excise
	customer := &models.Customer{ID: "cust-1"}

	split := SplitAmountsForBase(dec("33.33"), customer, standardRates(), true)

	assert.Equal(t, "33.33", split.Base.StringFixed(2))
	assert.Equal(t, "3.33", split.Excise.StringFixed(2))
	// vat base 36.66 * 0.16 = 5.8656 -> 5.87
	assert.Equal(t, "5.87", split.VAT.StringFixed(2))
	assert.Equal(t, "42.53", split.Total.StringFixed(2))
}

func TestSplitAmountsForBase_SimpleVAT(t *testing.T) {
	customer := &models.Customer{ID: "cust-1"}

	split := SplitAmountsForBase(dec("33.33"), customer, standardRates(), false)

	assert.Equal(t, "3.33", split.Excise.StringFixed(2))
	// vat base excludes excise: 33.33 * 0.16 = 5.3328 -> 5.33
	assert.Equal(t, "5.33", split.VAT.StringFixed(2))
	assert.Equal(t, "41.99", split.Total.StringFixed(2))
}

func TestSplitAmountsForBase_Exempt(t *testing.T) {
	exempt := &models.Customer{ID: "cust-2", IsTaxExempt: true}

	split := SplitAmountsForBase(dec("100.00"), exempt, standardRates(), true)

	assert.True(t, split.Excise.IsZero())
	assert.True(t, split.VAT.IsZero())
	assert.Equal(t, "100.00", split.Total.StringFixed(2))
}

// The components must always sum to the total exactly, whatever the base.
func TestSplitAmountsForBase_SumInvariant(t *testing.T) {
	customer := &models.Customer{ID: "cust-1"}
	rates := standardRates()

	bases := []string{"0", "0.01", "0.99", "1.005", "33.33", "99.999", "1234.56", "100000"}
	for _, b := range bases {
		for _, vatOnExcise := range []bool{true, false} {
			split := SplitAmountsForBase(dec(b), customer, rates, vatOnExcise)
			sum := split.Base.Add(split.Excise).Add(split.VAT)
			require.True(t, sum.Equal(split.Total),
				"base=%s vatOnExcise=%v: %s+%s+%s != %s",
				b, vatOnExcise, split.Base, split.Excise, split.VAT, split.Total)
		}
	}
}
