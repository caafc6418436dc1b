package coupon

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DiscountType identifies how a coupon reduces an order total.
type DiscountType string

// DiscountPercentage takes DiscountValue percent off the order amount. It is
// the only supported type.
const DiscountPercentage DiscountType = "percentage"

const (
	maxCodeLen        = 32
	maxDescriptionLen = 255
)

var (
	hundred     = decimal.NewFromInt(100)
	codePattern = regexp.MustCompile(`^[A-Z0-9_-]+$`)

	// maxMinimumOrder is the first amount that no longer fits NUMERIC(12,2).
	maxMinimumOrder = decimal.New(1, 10)
)

// Coupon is a discount code together with its consumption state.
type Coupon struct {
	ID                 string
	Code               string
	Description        string
	DiscountType       DiscountType
	DiscountValue      decimal.Decimal
	MinimumOrderAmount decimal.Decimal
	// UsageLimit is nil for unlimited coupons.
	UsageLimit *int
	UsageCount int
	IsActive   bool
	UsedBy     []Redemption
	CreatedBy  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Redemption is one entry of a coupon's audit trail.
type Redemption struct {
	UserID         string
	UsedAt         time.Time
	OrderAmount    decimal.Decimal
	DiscountAmount decimal.Decimal
}

// Summary is the buyer-facing view of a coupon returned by Validate.
type Summary struct {
	Code               string
	Description        string
	DiscountValue      decimal.Decimal
	MinimumOrderAmount decimal.Decimal
	UsageLimit         *int
	UsageCount         int
}

// Summary returns the buyer-facing projection of c.
func (c *Coupon) Summary() Summary {
	return Summary{
		Code:               c.Code,
		Description:        c.Description,
		DiscountValue:      c.DiscountValue,
		MinimumOrderAmount: c.MinimumOrderAmount,
		UsageLimit:         c.UsageLimit,
		UsageCount:         c.UsageCount,
	}
}

// Exhausted reports whether the usage limit has been reached.
func (c *Coupon) Exhausted() bool {
	return c.UsageLimit != nil && c.UsageCount >= *c.UsageLimit
}

// CheckRedeemable runs the ordered eligibility checks shared by preview and
// commit: active, then usage limit, then minimum order amount (inclusive).
func (c *Coupon) CheckRedeemable(orderAmount decimal.Decimal) error {
	if !c.IsActive {
		return ErrInactive
	}
	if c.Exhausted() {
		return ErrUsageLimitReached
	}
	if orderAmount.LessThan(c.MinimumOrderAmount) {
		return &BelowMinimumError{Minimum: c.MinimumOrderAmount, Actual: orderAmount}
	}
	return nil
}

// NormalizeCode returns the canonical stored form of a coupon code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Draft is the administrator-supplied definition of a coupon. It carries no
// consumption state.
type Draft struct {
	Code               string
	Description        string
	DiscountType       DiscountType
	DiscountValue      decimal.Decimal
	MinimumOrderAmount decimal.Decimal
	UsageLimit         *int
	IsActive           bool
}

// Normalize upper-cases the code and defaults the discount type.
func (d Draft) Normalize() Draft {
	d.Code = NormalizeCode(d.Code)
	d.Description = strings.TrimSpace(d.Description)
	if d.DiscountType == "" {
		d.DiscountType = DiscountPercentage
	}
	return d
}

// Validate checks a normalized draft before it reaches storage. The same
// bounds are repeated as CHECK constraints in the schema.
func (d Draft) Validate() error {
	switch {
	case d.Code == "":
		return &ValidationError{Field: "code", Reason: "is required"}
	case len(d.Code) > maxCodeLen:
		return &ValidationError{Field: "code", Reason: "must be at most 32 characters"}
	case !codePattern.MatchString(d.Code):
		return &ValidationError{Field: "code", Reason: "may contain only letters, digits, '-' and '_'"}
	case len(d.Description) > maxDescriptionLen:
		return &ValidationError{Field: "description", Reason: "must be at most 255 characters"}
	case d.DiscountType != DiscountPercentage:
		return &ValidationError{Field: "discountType", Reason: "must be percentage"}
	case d.DiscountValue.IsNegative() || d.DiscountValue.GreaterThan(hundred):
		return &ValidationError{Field: "discountValue", Reason: "must be between 0 and 100"}
	case !isCents(d.DiscountValue):
		return &ValidationError{Field: "discountValue", Reason: "must have at most 2 decimal places"}
	case d.MinimumOrderAmount.IsNegative():
		return &ValidationError{Field: "minimumOrderAmount", Reason: "must not be negative"}
	case d.MinimumOrderAmount.GreaterThanOrEqual(maxMinimumOrder):
		return &ValidationError{Field: "minimumOrderAmount", Reason: "must be below 10000000000"}
	case !isCents(d.MinimumOrderAmount):
		return &ValidationError{Field: "minimumOrderAmount", Reason: "must have at most 2 decimal places"}
	case d.UsageLimit != nil && *d.UsageLimit < 0:
		return &ValidationError{Field: "usageLimit", Reason: "must not be negative"}
	}
	return nil
}

// isCents reports whether v is stored without rounding in a scale 2 column.
func isCents(v decimal.Decimal) bool {
	return v.Equal(v.Round(2))
}

// Apply copies the draft's definition fields onto c, leaving consumption
// state untouched.
func (d Draft) Apply(c *Coupon) {
	c.Code = d.Code
	c.Description = d.Description
	c.DiscountType = d.DiscountType
	c.DiscountValue = d.DiscountValue
	c.MinimumOrderAmount = d.MinimumOrderAmount
	c.UsageLimit = d.UsageLimit
	c.IsActive = d.IsActive
}

// NewCoupon builds an unused coupon from an already validated draft.
func NewCoupon(createdBy string, d Draft, now time.Time) *Coupon {
	now = now.UTC()
	c := &Coupon{
		ID:        uuid.New().String(),
		CreatedBy: createdBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	d.Apply(c)
	return c
}

// ListFilter narrows admin listings.
type ListFilter struct {
	// Active, when set, keeps only coupons whose IsActive matches.
	Active *bool
	Limit  int
	Offset int
}

// Repository persists coupons. Implementations return ErrNotFound,
// ErrDuplicateCode, ErrDeleteRefused and ErrNoLongerValid for the business
// outcomes described on each method; anything else is an infrastructure error.
type Repository interface {
	// FindByCode looks a coupon up by its normalized code.
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	FindByID(ctx context.Context, id string) (*Coupon, error)
	List(ctx context.Context, filter ListFilter) ([]Coupon, error)
	// Create inserts c. A case-insensitive code collision yields ErrDuplicateCode.
	Create(ctx context.Context, c *Coupon) error
	// Update rewrites the definition fields of c (never usage state).
	Update(ctx context.Context, c *Coupon) error
	SetActive(ctx context.Context, id string, active bool) (*Coupon, error)
	// Delete removes an unused coupon. A coupon with UsageCount > 0 yields
	// ErrDeleteRefused and is left in place.
	Delete(ctx context.Context, id string) error
	// Redeem appends r to the audit trail and increments the usage count in a
	// single conditional write. The write happens only while the coupon is
	// active, below its usage limit and r.OrderAmount meets the minimum;
	// otherwise a *NoLongerValidError is returned.
	Redeem(ctx context.Context, id string, r Redemption) (*Coupon, error)
}
