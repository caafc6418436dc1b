package repository

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/coupon-engine/internal/domain/coupon"
)

func TestUnmarshalRedemptions(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int
		wantErr bool
	}{
		{name: "empty document", input: "", want: 0},
		{name: "null", input: "null", want: 0},
		{name: "empty array", input: "[]", want: 0},
		{
			name: "numbers and unknown fields",
			input: `[{"userId":"u1","usedAt":"2026-01-02T03:04:05Z","orderAmount":1000,` +
				`"discountAmount":"200.00","orderId":"o-1"}]`,
			want: 1,
		},
		{name: "bad time", input: `[{"usedAt":"yesterday"}]`, wantErr: true},
		{name: "not an array", input: `{"userId":"u1"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := unmarshalRedemptions([]byte(tt.input))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, got, tt.want)
		})
	}
}

func TestRedemptionEntryPreservesAmounts(t *testing.T) {
	r := coupon.Redemption{
		UserID:         "u1",
		UsedAt:         time.Date(2026, 5, 6, 7, 8, 9, 123000000, time.UTC),
		OrderAmount:    decimal.RequireFromString("999.99"),
		DiscountAmount: decimal.RequireFromString("200.00"),
	}

	trail := append([]byte("["), marshalRedemption(r)...)
	trail = append(trail, ']')

	got, err := unmarshalRedemptions(trail)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "u1", got[0].UserID)
	assert.True(t, r.UsedAt.Equal(got[0].UsedAt))
	assert.Equal(t, "999.99", got[0].OrderAmount.StringFixed(2))
	assert.Equal(t, "200.00", got[0].DiscountAmount.StringFixed(2))
}

func TestCachedCouponUnlimited(t *testing.T) {
	c := newCoupon("FREE", nil)
	got, err := unmarshalCachedCoupon(marshalCachedCoupon(c))
	require.NoError(t, err)
	assert.Nil(t, got.UsageLimit)
	assert.Empty(t, got.UsedBy)
	assert.Equal(t, coupon.DiscountPercentage, got.DiscountType)
}
