package coupon

import "github.com/shopspring/decimal"

// Breakdown is the result of applying a percentage coupon to an order amount.
type Breakdown struct {
	OriginalAmount decimal.Decimal
	DiscountAmount decimal.Decimal
	FinalAmount    decimal.Decimal
}

// Calculate returns the discount for percent off orderAmount, rounded half-up
// to cents and never larger than the order itself. The order amount is
// rounded to cents first, so every amount in the result has at most two
// decimal places. Negative inputs are treated as zero, so the function is
// total.
func Calculate(orderAmount, percent decimal.Decimal) Breakdown {
	orderAmount = floorAtZero(orderAmount).Round(2)
	percent = floorAtZero(percent)

	discount := orderAmount.Mul(percent).Div(hundred).Round(2)
	if discount.GreaterThan(orderAmount) {
		discount = orderAmount
	}

	return Breakdown{
		OriginalAmount: orderAmount,
		DiscountAmount: discount,
		FinalAmount:    floorAtZero(orderAmount.Sub(discount)).Round(2),
	}
}

func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
