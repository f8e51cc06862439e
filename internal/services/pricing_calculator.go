package services

import (
	"fmt"

	"github.com/shopspring/decimal"

	domain "github.com/quickcart/commerce/internal/domain"
)

var (
	// FlatShippingFee is charged once per order regardless of line count or weight.
	FlatShippingFee = decimal.RequireFromString("90.00")
	// GSTRate is applied to items plus shipping and split evenly into CGST and SGST.
	GSTRate = decimal.RequireFromString("0.18")
	// RefundTaxMultiplier converts a pre-tax line amount into the tax-inclusive refund.
	RefundTaxMultiplier = decimal.RequireFromString("1.18")

	moneyScale int32 = 2
	two              = decimal.NewFromInt(2)
)

// PricingLine is the unit price and quantity of a single order line.
type PricingLine struct {
	UnitPrice decimal.Decimal
	Quantity  int
}

// PricingCalculator computes the deterministic tax breakdown of an order.
type PricingCalculator struct{}

// Compute prices the lines. CGST is rounded to two decimals first and SGST mirrors it, so
// GST is always an even split and GrandTotal equals ItemTotal + ShippingFee + CGST + SGST exactly.
func (PricingCalculator) Compute(lines []PricingLine) (domain.PricingBreakdown, error) {
	itemTotal := decimal.Zero
	for i, line := range lines {
		if line.Quantity <= 0 {
			return domain.PricingBreakdown{}, fmt.Errorf("%w: line %d quantity must be positive", ErrOrderInvalidInput, i)
		}
		if line.UnitPrice.IsNegative() {
			return domain.PricingBreakdown{}, fmt.Errorf("%w: line %d price must not be negative", ErrOrderInvalidInput, i)
		}
		itemTotal = itemTotal.Add(line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	itemTotal = itemTotal.Round(moneyScale)

	taxable := itemTotal.Add(FlatShippingFee)
	half := taxable.Mul(GSTRate).Div(two).Round(moneyScale)
	gst := half.Add(half)

	return domain.PricingBreakdown{
		ItemTotal:   itemTotal,
		ShippingFee: FlatShippingFee,
		Taxable:     taxable,
		GST:         gst,
		CGST:        half,
		SGST:        half,
		GrandTotal:  taxable.Add(gst),
	}, nil
}

// RefundAmount is the tax-inclusive refund owed for returning quantity units at price. The value
// keeps full precision; ReturnRequest.RefundTotal rounds once over the summed lines.
func RefundAmount(price decimal.Decimal, quantity int) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(int64(quantity))).Mul(RefundTaxMultiplier)
}
