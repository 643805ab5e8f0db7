package checkout

import (
	"strings"

	"github.com/dejidee0/Dimplesluxe/internal/domain"
	"github.com/shopspring/decimal"
)

const (
	// BaseCurrency is the currency catalog prices are stored in.
	BaseCurrency     = "GBP"
	RegionalCurrency = "NGN"
	Region           = "NG"
)

type shippingPolicy struct {
	Fee           decimal.Decimal
	FreeThreshold decimal.Decimal // zero means never free
}

var shippingPolicies = map[domain.ShippingMethod]shippingPolicy{
	domain.ShippingStandard: {
		Fee:           decimal.RequireFromString("4.99"),
		FreeThreshold: decimal.RequireFromString("50.00"),
	},
	domain.ShippingExpress: {
		Fee: decimal.RequireFromString("9.99"),
	},
}

// ShippingCost returns the base-currency shipping fee for a base-currency
// subtotal. Standard shipping is free from the threshold upwards.
func ShippingCost(method domain.ShippingMethod, subtotal decimal.Decimal) decimal.Decimal {
	p, ok := shippingPolicies[method]
	if !ok {
		p = shippingPolicies[domain.ShippingStandard]
	}
	if !p.FreeThreshold.IsZero() && subtotal.GreaterThanOrEqual(p.FreeThreshold) {
		return decimal.Zero
	}
	return p.Fee
}

// ConvertPrice converts a base-currency amount with rate, rounded half-up to 2dp.
func ConvertPrice(amount, rate decimal.Decimal) decimal.Decimal {
	return amount.Mul(rate).Round(2)
}

// MinorUnits converts a major-unit amount into integer minor units, half-up.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// FormatMajor renders a major-unit amount with exactly two decimals.
func FormatMajor(amount decimal.Decimal) string {
	return amount.Round(2).StringFixed(2)
}

func NormalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func NormalizeCountry(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Totals holds order amounts in the order currency.
type Totals struct {
	Items    []domain.OrderItem
	Subtotal decimal.Decimal
	Shipping decimal.Decimal
	Total    decimal.Decimal
}

// ComputeTotals prices cart lines in the order currency. Unit prices are
// converted first so that subtotal is exactly the sum of the item totals.
// The free-shipping threshold is evaluated on the base-currency subtotal.
func ComputeTotals(lines []domain.CartLine, method domain.ShippingMethod, rate decimal.Decimal) Totals {
	if rate.IsZero() {
		rate = decimal.NewFromInt(1)
	}

	var t Totals
	t.Subtotal = decimal.Zero
	baseSubtotal := decimal.Zero
	for _, l := range lines {
		unit := ConvertPrice(l.Product.Price, rate)
		lineTotal := unit.Mul(decimal.NewFromInt(int64(l.Quantity)))
		t.Items = append(t.Items, domain.OrderItem{
			ProductID:      l.Product.ID,
			ProductName:    l.Product.Name,
			ProductSlug:    l.Product.Slug,
			Quantity:       l.Quantity,
			UnitPrice:      unit,
			TotalPrice:     lineTotal,
			SelectedLength: l.Length,
			SelectedColor:  l.Color,
		})
		t.Subtotal = t.Subtotal.Add(lineTotal)
		baseSubtotal = baseSubtotal.Add(l.LineTotal())
	}

	t.Shipping = ConvertPrice(ShippingCost(method, baseSubtotal), rate)
	t.Total = t.Subtotal.Add(t.Shipping)
	return t
}
