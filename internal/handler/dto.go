package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/coupon-engine/internal/domain/coupon"
)

// Money is a decimal amount that is written as a JSON number with exactly two
// fractional digits and read from either a number or a numeric string.
type Money struct {
	decimal.Decimal
}

func newMoney(d decimal.Decimal) Money { return Money{Decimal: d} }

// MarshalJSON implements json.Marshaler.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.StringFixed(2)), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Money) UnmarshalJSON(data []byte) error {
	return m.Decimal.UnmarshalJSON(data)
}

func (m *Money) value() decimal.Decimal {
	if m == nil {
		return decimal.Zero
	}
	return m.Decimal
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type successResponse struct {
	Success bool `json:"success"`
}

// Shopper endpoints.

type cartItemRequest struct {
	ProductID string `json:"productId" validate:"max=128"`
	Quantity  int    `json:"quantity" validate:"gte=0"`
	Price     *Money `json:"price,omitempty"`
}

type validateCouponRequest struct {
	Code        string            `json:"code" validate:"required,max=64"`
	OrderAmount *Money            `json:"orderAmount" validate:"required"`
	UserID      string            `json:"userId,omitempty" validate:"max=128"`
	CartItems   []cartItemRequest `json:"cartItems,omitempty" validate:"max=500,dive"`
}

type couponSummary struct {
	Code               string `json:"code"`
	Description        string `json:"description"`
	DiscountValue      Money  `json:"discountValue"`
	MinimumOrderAmount Money  `json:"minimumOrderAmount"`
	UsageLimit         *int   `json:"usageLimit"`
	UsageCount         int    `json:"usageCount"`
}

type discountBreakdown struct {
	DiscountAmount Money `json:"discountAmount"`
	FinalAmount    Money `json:"finalAmount"`
	OriginalAmount Money `json:"originalAmount"`
}

type validateCouponResponse struct {
	Success  bool              `json:"success"`
	Coupon   couponSummary     `json:"coupon"`
	Discount discountBreakdown `json:"discount"`
}

func toValidateResponse(p *coupon.Preview) validateCouponResponse {
	return validateCouponResponse{
		Success: true,
		Coupon: couponSummary{
			Code:               p.Coupon.Code,
			Description:        p.Coupon.Description,
			DiscountValue:      newMoney(p.Coupon.DiscountValue),
			MinimumOrderAmount: newMoney(p.Coupon.MinimumOrderAmount),
			UsageLimit:         p.Coupon.UsageLimit,
			UsageCount:         p.Coupon.UsageCount,
		},
		Discount: discountBreakdown{
			DiscountAmount: newMoney(p.Discount.DiscountAmount),
			FinalAmount:    newMoney(p.Discount.FinalAmount),
			OriginalAmount: newMoney(p.Discount.OriginalAmount),
		},
	}
}

type redeemCouponRequest struct {
	CouponID       string `json:"couponId" validate:"required,max=64"`
	OrderAmount    *Money `json:"orderAmount" validate:"required"`
	DiscountAmount *Money `json:"discountAmount" validate:"required"`
}

// Admin endpoints.

type couponDraftRequest struct {
	Code               string `json:"code" validate:"required,max=32"`
	Description        string `json:"description" validate:"max=255"`
	DiscountType       string `json:"discountType" validate:"omitempty,oneof=percentage"`
	DiscountValue      *Money `json:"discountValue" validate:"required"`
	MinimumOrderAmount *Money `json:"minimumOrderAmount"`
	UsageLimit         *int   `json:"usageLimit" validate:"omitempty,gte=0"`
	IsActive           *bool  `json:"isActive"`
}

func (r couponDraftRequest) draft() coupon.Draft {
	active := true
	if r.IsActive != nil {
		active = *r.IsActive
	}
	return coupon.Draft{
		Code:               r.Code,
		Description:        r.Description,
		DiscountType:       coupon.DiscountType(r.DiscountType),
		DiscountValue:      r.DiscountValue.value(),
		MinimumOrderAmount: r.MinimumOrderAmount.value(),
		UsageLimit:         r.UsageLimit,
		IsActive:           active,
	}
}

type couponStatusRequest struct {
	IsActive *bool `json:"isActive" validate:"required"`
}

type couponView struct {
	ID                 string    `json:"id"`
	Code               string    `json:"code"`
	Description        string    `json:"description"`
	DiscountType       string    `json:"discountType"`
	DiscountValue      Money     `json:"discountValue"`
	MinimumOrderAmount Money     `json:"minimumOrderAmount"`
	UsageLimit         *int      `json:"usageLimit"`
	UsageCount         int       `json:"usageCount"`
	IsActive           bool      `json:"isActive"`
	CreatedBy          string    `json:"createdBy,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

func toCouponView(c *coupon.Coupon) couponView {
	return couponView{
		ID:                 c.ID,
		Code:               c.Code,
		Description:        c.Description,
		DiscountType:       string(c.DiscountType),
		DiscountValue:      newMoney(c.DiscountValue),
		MinimumOrderAmount: newMoney(c.MinimumOrderAmount),
		UsageLimit:         c.UsageLimit,
		UsageCount:         c.UsageCount,
		IsActive:           c.IsActive,
		CreatedBy:          c.CreatedBy,
		CreatedAt:          c.CreatedAt,
		UpdatedAt:          c.UpdatedAt,
	}
}

type couponResponse struct {
	Success bool       `json:"success"`
	Coupon  couponView `json:"coupon"`
}

type couponListResponse struct {
	Success bool         `json:"success"`
	Coupons []couponView `json:"coupons"`
	Count   int          `json:"count"`
}

type redemptionView struct {
	UserID         string    `json:"userId"`
	UsedAt         time.Time `json:"usedAt"`
	OrderAmount    Money     `json:"orderAmount"`
	DiscountAmount Money     `json:"discountAmount"`
}

type redemptionListResponse struct {
	Success     bool             `json:"success"`
	Code        string           `json:"code"`
	UsageCount  int              `json:"usageCount"`
	Redemptions []redemptionView `json:"redemptions"`
}

func toRedemptionList(c *coupon.Coupon) redemptionListResponse {
	out := redemptionListResponse{
		Success:     true,
		Code:        c.Code,
		UsageCount:  c.UsageCount,
		Redemptions: make([]redemptionView, len(c.UsedBy)),
	}
	for i, r := range c.UsedBy {
		out.Redemptions[i] = redemptionView{
			UserID:         r.UserID,
			UsedAt:         r.UsedAt,
			OrderAmount:    newMoney(r.OrderAmount),
			DiscountAmount: newMoney(r.DiscountAmount),
		}
	}
	return out
}
