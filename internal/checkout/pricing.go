package checkout

import (
	"unicode/utf16"

	"github.com/shopspring/decimal"
)

const (
	defaultPriceFloorCents = 1200
	defaultPriceSpanCents  = 3600
)

// DefaultUnitAmount derives a stable pseudo-price in minor units from the
// item id, used when the caller supplies no explicit unit price. The rolling
// hash runs over UTF-16 code units, so supplementary-plane characters hash
// as their surrogate pair. Same id, same price, always in [1200, 4800).
func DefaultUnitAmount(itemID string) int64 {
	var h uint32
	for _, unit := range utf16.Encode([]rune(itemID)) {
		h = h*31 + uint32(unit)
	}
	return defaultPriceFloorCents + int64(h%defaultPriceSpanCents)
}

// Calculator computes line-item and cart-level totals breakdowns. Pure and
// stateless beyond the configured tax rate.
type Calculator struct {
	taxRate decimal.Decimal
}

func NewCalculator(taxRate decimal.Decimal) Calculator {
	return Calculator{taxRate: taxRate}
}

// Tax rounds base*rate half-up to the nearest integer minor unit.
func (c Calculator) Tax(baseAmount int64) int64 {
	return c.taxRate.Mul(decimal.NewFromInt(baseAmount)).Round(0).IntPart()
}

// LineTotals builds the per-line breakdown: base, subtotal, tax, total.
func (c Calculator) LineTotals(unitAmount int64, quantity int) []Total {
	base := unitAmount * int64(quantity)
	subtotal := base
	tax := c.Tax(base)
	return []Total{
		{Type: TotalTypeItemsBaseAmount, DisplayText: "Items", Amount: base},
		{Type: TotalTypeSubtotal, DisplayText: "Subtotal", Amount: subtotal},
		{Type: TotalTypeTax, DisplayText: "Tax", Amount: tax},
		{Type: TotalTypeTotal, DisplayText: "Total", Amount: subtotal + tax},
	}
}

// CartTotals sums each total type across line items and adds the chosen
// fulfillment option's flat cost. Cart total = subtotal + tax + fulfillment.
func (c Calculator) CartTotals(items []LineItem, fulfillmentCost int64) []Total {
	var base, subtotal, tax int64
	for _, item := range items {
		for _, total := range item.Totals {
			switch total.Type {
			case TotalTypeItemsBaseAmount:
				base += total.Amount
			case TotalTypeSubtotal:
				subtotal += total.Amount
			case TotalTypeTax:
				tax += total.Amount
			}
		}
	}
	return []Total{
		{Type: TotalTypeItemsBaseAmount, DisplayText: "Items", Amount: base},
		{Type: TotalTypeSubtotal, DisplayText: "Subtotal", Amount: subtotal},
		{Type: TotalTypeTax, DisplayText: "Tax", Amount: tax},
		{Type: TotalTypeFulfillment, DisplayText: "Shipping", Amount: fulfillmentCost},
		{Type: TotalTypeTotal, DisplayText: "Total", Amount: subtotal + tax + fulfillmentCost},
	}
}
