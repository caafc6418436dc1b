package coupon

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestCalculate(t *testing.T) {
	tests := []struct {
		name         string
		order        string
		percent      string
		wantDiscount string
		wantFinal    string
	}{
		{name: "twenty percent without drift", order: "999.99", percent: "20", wantDiscount: "200.00", wantFinal: "799.99"},
		{name: "round half up", order: "0.05", percent: "50", wantDiscount: "0.03", wantFinal: "0.02"},
		{name: "round down below half", order: "10.01", percent: "10", wantDiscount: "1.00", wantFinal: "9.01"},
		{name: "zero order", order: "0", percent: "20", wantDiscount: "0", wantFinal: "0"},
		{name: "zero percent", order: "150.50", percent: "0", wantDiscount: "0", wantFinal: "150.50"},
		{name: "full discount", order: "42.42", percent: "100", wantDiscount: "42.42", wantFinal: "0"},
		{name: "negative order treated as zero", order: "-10", percent: "20", wantDiscount: "0", wantFinal: "0"},
		{name: "negative percent treated as zero", order: "100", percent: "-5", wantDiscount: "0", wantFinal: "100"},
		{name: "percent above hundred is clamped to order", order: "80", percent: "150", wantDiscount: "80", wantFinal: "0"},
		{name: "sub-cent order rounds to cents", order: "0.005", percent: "100", wantDiscount: "0.01", wantFinal: "0"},
		{name: "sub-cent order full discount", order: "999.999", percent: "100", wantDiscount: "1000", wantFinal: "0"},
		{name: "sub-cent order rounds down", order: "10.004", percent: "50", wantDiscount: "5.00", wantFinal: "5.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Calculate(d(tt.order), d(tt.percent))
			assert.True(t, d(tt.wantDiscount).Equal(got.DiscountAmount),
				"expected discount %s, got %s", tt.wantDiscount, got.DiscountAmount)
			assert.True(t, d(tt.wantFinal).Equal(got.FinalAmount),
				"expected final %s, got %s", tt.wantFinal, got.FinalAmount)
		})
	}
}

func TestCalculate_NeverExceedsOrder(t *testing.T) {
	orders := []string{"0.01", "0.99", "1", "19.99", "333.33", "999.99", "100000"}
	for _, order := range orders {
		for pct := 0; pct <= 100; pct++ {
			got := Calculate(d(order), decimal.NewFromInt(int64(pct)))
			assert.False(t, got.DiscountAmount.GreaterThan(d(order)), "order %s pct %d", order, pct)
			assert.False(t, got.FinalAmount.IsNegative(), "order %s pct %d", order, pct)
			assert.True(t, got.DiscountAmount.Add(got.FinalAmount).Equal(d(order)), "order %s pct %d", order, pct)
		}
	}
}

func TestCalculate_AmountsInCents(t *testing.T) {
	orders := []string{"0.005", "0.004", "19.999", "333.3333", "999.999"}
	for _, order := range orders {
		for _, pct := range []string{"0", "12.5", "33.33", "100"} {
			got := Calculate(d(order), d(pct))
			for _, amount := range []decimal.Decimal{got.OriginalAmount, got.DiscountAmount, got.FinalAmount} {
				assert.True(t, amount.Equal(amount.Round(2)), "order %s pct %s: %s", order, pct, amount)
			}
			assert.False(t, got.DiscountAmount.GreaterThan(got.OriginalAmount), "order %s pct %s", order, pct)
		}
	}
}
