package handler

import (
	"net/http"
	"strings"

	"github.com/xenking/coupon-engine/internal/domain/auth"
	"github.com/xenking/coupon-engine/internal/domain/coupon"
)

// ValidateCoupon previews the discount for a code without consuming it.
func (h *Handler) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	var req validateCouponRequest
	if !h.decode(w, r, &req) {
		return
	}

	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = auth.UserFrom(r.Context())
	}
	items := make([]coupon.CartItem, len(req.CartItems))
	for i, it := range req.CartItems {
		items[i] = coupon.CartItem{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			Price:     it.Price.value(),
		}
	}

	preview, err := h.coupons.Validate(r.Context(), coupon.ValidateRequest{
		Code:        req.Code,
		OrderAmount: req.OrderAmount.value(),
		UserID:      userID,
		CartItems:   items,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toValidateResponse(preview))
}

// RedeemCoupon commits a previewed discount for the authenticated user.
func (h *Handler) RedeemCoupon(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserFrom(r.Context())
	if userID == "" {
		writeError(w, r, coupon.ErrUnauthenticated)
		return
	}

	var req redeemCouponRequest
	if !h.decode(w, r, &req) {
		return
	}

	if _, err := h.coupons.Redeem(r.Context(), coupon.RedeemRequest{
		CouponID:       req.CouponID,
		UserID:         userID,
		OrderAmount:    req.OrderAmount.value(),
		DiscountAmount: req.DiscountAmount.value(),
	}); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}
