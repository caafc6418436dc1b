// Package handler exposes the coupon service over JSON/HTTP.
package handler

import (
	"encoding/json"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"

	"github.com/xenking/coupon-engine/internal/domain/auth"
	"github.com/xenking/coupon-engine/internal/domain/coupon"
)

const defaultMaxBodyBytes = 1 << 20

// HandlerConfig holds non-dependency configuration for the Handler.
type HandlerConfig struct {
	// MaxBodyBytes caps request bodies. Defaults to 1 MiB.
	MaxBodyBytes int64
}

// Handler serves the shopper and admin coupon endpoints.
type Handler struct {
	coupons  *coupon.Service
	security *SecurityHandler
	validate *validator.Validate
	maxBody  int64
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(cfg HandlerConfig, coupons *coupon.Service, security *SecurityHandler) *Handler {
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(jsonFieldName)
	return &Handler{
		coupons:  coupons,
		security: security,
		validate: validate,
		maxBody:  maxBody,
	}
}

func jsonFieldName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "-" {
		return ""
	}
	return name
}

// Register mounts the API under /api on r.
func (h *Handler) Register(r chi.Router) {
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeFailure(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeFailure(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(h.security.Authenticate)
			r.Post("/coupons/validate", h.ValidateCoupon)
			r.Post("/coupons/redeem", h.RedeemCoupon)
		})

		r.Route("/admin/coupons", func(r chi.Router) {
			r.Use(h.security.RequireAPIKey)

			r.With(RequireScope(auth.ScopeCouponsRead)).Get("/", h.ListCoupons)
			r.With(RequireScope(auth.ScopeCouponsWrite)).Post("/", h.CreateCoupon)
			r.Route("/{id}", func(r chi.Router) {
				r.With(RequireScope(auth.ScopeCouponsRead)).Get("/", h.GetCoupon)
				r.With(RequireScope(auth.ScopeCouponsRead)).Get("/redemptions", h.ListRedemptions)
				r.With(RequireScope(auth.ScopeCouponsWrite)).Put("/", h.UpdateCoupon)
				r.With(RequireScope(auth.ScopeCouponsWrite)).Patch("/status", h.SetCouponStatus)
				r.With(RequireScope(auth.ScopeCouponsWrite)).Delete("/", h.DeleteCoupon)
			})
		})
	})
}

// decode reads a JSON body into dst and runs struct validation. On failure
// it writes a 400 and returns false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, h.maxBody)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeFailure(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeFailure(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeFailure(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

// validationMessage reports the first failing field in JSON terms.
func validationMessage(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return "invalid request"
	}
	fe := fieldErrs[0]
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "max":
		return fe.Field() + " is too long"
	case "gte":
		return fe.Field() + " must not be negative"
	case "oneof":
		return fe.Field() + " must be one of: " + fe.Param()
	default:
		return fe.Field() + " is invalid"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
