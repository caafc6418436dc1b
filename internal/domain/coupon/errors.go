package coupon

import (
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when no coupon matches the given code or id.
	ErrNotFound = errors.New("coupon not found")

	// ErrInactive is returned when the coupon exists but has been disabled.
	ErrInactive = errors.New("coupon is not active")

	// ErrUsageLimitReached is returned when the coupon has no redemptions left.
	ErrUsageLimitReached = errors.New("coupon usage limit reached")

	// ErrBelowMinimum is matched by BelowMinimumError.
	ErrBelowMinimum = errors.New("order amount below coupon minimum")

	// ErrUnauthenticated is returned when a redemption carries no user identity.
	ErrUnauthenticated = errors.New("authentication required")

	// ErrNoLongerValid is matched by NoLongerValidError.
	ErrNoLongerValid = errors.New("coupon is no longer valid")

	// ErrDuplicateCode is returned when a create or rename collides with an
	// existing code.
	ErrDuplicateCode = errors.New("coupon code already exists")

	// ErrDeleteRefused is returned when deleting a coupon that has been redeemed.
	ErrDeleteRefused = errors.New("coupon has been used and cannot be deleted, deactivate it instead")

	// ErrInvalidCoupon is matched by ValidationError.
	ErrInvalidCoupon = errors.New("invalid coupon")

	// ErrInvalidAmount is returned for negative or inconsistent order amounts.
	ErrInvalidAmount = errors.New("invalid amount")
)

// BelowMinimumError reports the threshold and the rejected order amount.
type BelowMinimumError struct {
	Minimum decimal.Decimal
	Actual  decimal.Decimal
}

func (e *BelowMinimumError) Error() string {
	return fmt.Sprintf("minimum order amount of %s required, order amount is %s",
		e.Minimum.StringFixed(2), e.Actual.StringFixed(2))
}

func (e *BelowMinimumError) Is(target error) bool {
	return target == ErrBelowMinimum
}

// NoLongerValidError is returned by Redeem when a coupon that may have passed
// a preview fails the checks repeated at commit time. Cause is one of
// ErrInactive, ErrUsageLimitReached or a *BelowMinimumError.
type NoLongerValidError struct {
	Cause error
}

func (e *NoLongerValidError) Error() string {
	if e.Cause == nil {
		return ErrNoLongerValid.Error()
	}
	return ErrNoLongerValid.Error() + ": " + e.Cause.Error()
}

func (e *NoLongerValidError) Is(target error) bool {
	return target == ErrNoLongerValid
}

func (e *NoLongerValidError) Unwrap() error {
	return e.Cause
}

// ValidationError describes a rejected field on the admin write path.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid coupon: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidCoupon
}
