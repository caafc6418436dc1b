package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/coupon-engine/internal/domain/coupon"
)

// statusFor maps business outcomes to HTTP statuses. ok is false for
// infrastructure errors, which must not leak their message.
func statusFor(err error) (status int, ok bool) {
	switch {
	case errors.Is(err, coupon.ErrNoLongerValid):
		return http.StatusBadRequest, true
	case errors.Is(err, coupon.ErrNotFound):
		return http.StatusNotFound, true
	case errors.Is(err, coupon.ErrUnauthenticated):
		return http.StatusUnauthorized, true
	case errors.Is(err, coupon.ErrDuplicateCode), errors.Is(err, coupon.ErrDeleteRefused):
		return http.StatusConflict, true
	case errors.Is(err, coupon.ErrInactive),
		errors.Is(err, coupon.ErrUsageLimitReached),
		errors.Is(err, coupon.ErrBelowMinimum),
		errors.Is(err, coupon.ErrInvalidCoupon),
		errors.Is(err, coupon.ErrInvalidAmount):
		return http.StatusBadRequest, true
	default:
		return http.StatusInternalServerError, false
	}
}

// writeError renders err in the error envelope.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, ok := statusFor(err)
	if !ok {
		zctx.From(r.Context()).Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeJSON(w, status, errorResponse{Error: "internal error"})
		return
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeFailure(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
