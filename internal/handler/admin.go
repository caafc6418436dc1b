package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/coupon-engine/internal/domain/auth"
	"github.com/xenking/coupon-engine/internal/domain/coupon"
)

// ListCoupons returns coupons newest first. Query: active, limit, offset.
func (h *Handler) ListCoupons(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter coupon.ListFilter

	if v := q.Get("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			writeFailure(w, http.StatusBadRequest, "active must be true or false")
			return
		}
		filter.Active = &active
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeFailure(w, http.StatusBadRequest, name+" must be a non-negative integer")
			return
		}
		*dst = n
	}

	coupons, err := h.coupons.List(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := couponListResponse{
		Success: true,
		Coupons: make([]couponView, len(coupons)),
		Count:   len(coupons),
	}
	for i := range coupons {
		resp.Coupons[i] = toCouponView(&coupons[i])
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateCoupon stores a new coupon attributed to the calling API key.
func (h *Handler) CreateCoupon(w http.ResponseWriter, r *http.Request) {
	var req couponDraftRequest
	if !h.decode(w, r, &req) {
		return
	}

	createdBy := ""
	if info := auth.APIKeyFrom(r.Context()); info != nil {
		createdBy = info.Name
	}
	c, err := h.coupons.Create(r.Context(), createdBy, req.draft())
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/admin/coupons/"+c.ID)
	writeJSON(w, http.StatusCreated, couponResponse{Success: true, Coupon: toCouponView(c)})
}

// GetCoupon returns one coupon by id.
func (h *Handler) GetCoupon(w http.ResponseWriter, r *http.Request) {
	c, err := h.coupons.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, couponResponse{Success: true, Coupon: toCouponView(c)})
}

// UpdateCoupon replaces a coupon's definition, keeping its usage state.
func (h *Handler) UpdateCoupon(w http.ResponseWriter, r *http.Request) {
	var req couponDraftRequest
	if !h.decode(w, r, &req) {
		return
	}

	c, err := h.coupons.Update(r.Context(), chi.URLParam(r, "id"), req.draft())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, couponResponse{Success: true, Coupon: toCouponView(c)})
}

// SetCouponStatus activates or deactivates a coupon.
func (h *Handler) SetCouponStatus(w http.ResponseWriter, r *http.Request) {
	var req couponStatusRequest
	if !h.decode(w, r, &req) {
		return
	}

	c, err := h.coupons.SetActive(r.Context(), chi.URLParam(r, "id"), *req.IsActive)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, couponResponse{Success: true, Coupon: toCouponView(c)})
}

// DeleteCoupon removes a coupon that has never been redeemed.
func (h *Handler) DeleteCoupon(w http.ResponseWriter, r *http.Request) {
	if err := h.coupons.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

// ListRedemptions returns a coupon's audit trail.
func (h *Handler) ListRedemptions(w http.ResponseWriter, r *http.Request) {
	c, err := h.coupons.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRedemptionList(c))
}
