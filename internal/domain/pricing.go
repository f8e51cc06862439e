package domain

import "github.com/shopspring/decimal"

// PricingBreakdown captures the totals produced by the pricing calculator. Amounts are
// rounded to two decimals.
type PricingBreakdown struct {
	ItemTotal   decimal.Decimal
	ShippingFee decimal.Decimal
	Taxable     decimal.Decimal
	GST         decimal.Decimal
	CGST        decimal.Decimal
	SGST        decimal.Decimal
	GrandTotal  decimal.Decimal
}
