package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	instrumentationName = "github.com/xenking/coupon-engine/internal/domain/coupon"

	defaultListLimit = 50
	maxListLimit     = 200
)

// CartItem is an optional line of the cart being previewed. Items do not
// influence eligibility; they are only recorded on the trace.
type CartItem struct {
	ProductID string
	Quantity  int
	Price     decimal.Decimal
}

// ValidateRequest is the input of a discount preview.
type ValidateRequest struct {
	Code        string
	OrderAmount decimal.Decimal
	UserID      string
	CartItems   []CartItem
}

// Preview is a successful validation: the coupon and the discount it would
// grant. Nothing is consumed.
type Preview struct {
	Coupon   Summary
	Discount Breakdown
}

// RedeemRequest commits a previously previewed discount. Amounts are taken
// as-is from the caller.
type RedeemRequest struct {
	CouponID       string
	UserID         string
	OrderAmount    decimal.Decimal
	DiscountAmount decimal.Decimal
}

// Service implements the coupon validation, redemption and administration
// workflows on top of a Repository.
type Service struct {
	repo Repository
	now  func() time.Time

	tracer      trace.Tracer
	validations metric.Int64Counter
	redemptions metric.Int64Counter
}

// Option configures a Service.
type Option func(*serviceOptions)

type serviceOptions struct {
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	now            func() time.Time
}

// WithTracerProvider sets the provider used for service spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *serviceOptions) { o.tracerProvider = tp }
}

// WithMeterProvider sets the provider used for outcome counters.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *serviceOptions) { o.meterProvider = mp }
}

// WithClock overrides the time source used for redemption and audit stamps.
func WithClock(now func() time.Time) Option {
	return func(o *serviceOptions) { o.now = now }
}

// NewService returns a Service backed by repo. Without options it records no
// telemetry and uses time.Now.
func NewService(repo Repository, opts ...Option) (*Service, error) {
	o := serviceOptions{
		tracerProvider: tracenoop.NewTracerProvider(),
		meterProvider:  metricnoop.NewMeterProvider(),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	meter := o.meterProvider.Meter(instrumentationName)
	validations, err := meter.Int64Counter("coupon.validations",
		metric.WithDescription("Coupon validation attempts by outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create validations counter")
	}
	redemptions, err := meter.Int64Counter("coupon.redemptions",
		metric.WithDescription("Coupon redemption attempts by outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create redemptions counter")
	}

	return &Service{
		repo:        repo,
		now:         o.now,
		tracer:      o.tracerProvider.Tracer(instrumentationName),
		validations: validations,
		redemptions: redemptions,
	}, nil
}

// Validate previews the discount code would grant on req.OrderAmount. Checks
// run in order and the first failure wins: ErrNotFound, ErrInactive,
// ErrUsageLimitReached, then *BelowMinimumError. It never mutates state.
func (s *Service) Validate(ctx context.Context, req ValidateRequest) (*Preview, error) {
	ctx, span := s.tracer.Start(ctx, "coupon.Validate", trace.WithAttributes(
		attribute.String("coupon.code", NormalizeCode(req.Code)),
		attribute.String("order.amount", req.OrderAmount.String()),
		attribute.Int("cart.items", len(req.CartItems)),
		attribute.Bool("user.present", req.UserID != ""),
	))
	defer span.End()

	preview, err := s.validate(ctx, req)
	s.observe(ctx, span, s.validations, err)
	return preview, err
}

func (s *Service) validate(ctx context.Context, req ValidateRequest) (*Preview, error) {
	if req.OrderAmount.IsNegative() {
		return nil, errors.Wrap(ErrInvalidAmount, "order amount must not be negative")
	}

	code := NormalizeCode(req.Code)
	if code == "" {
		return nil, ErrNotFound
	}

	c, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}

	if err := c.CheckRedeemable(req.OrderAmount); err != nil {
		return nil, err
	}

	return &Preview{
		Coupon:   c.Summary(),
		Discount: Calculate(req.OrderAmount, c.DiscountValue),
	}, nil
}

// Redeem records that req.UserID consumed the coupon. Active state, usage
// limit and minimum order amount are checked again here and enforced once
// more by the repository's conditional write, so concurrent redemptions can
// never push the usage count past the limit.
func (s *Service) Redeem(ctx context.Context, req RedeemRequest) (*Coupon, error) {
	ctx, span := s.tracer.Start(ctx, "coupon.Redeem", trace.WithAttributes(
		attribute.String("coupon.id", req.CouponID),
		attribute.String("order.amount", req.OrderAmount.String()),
		attribute.String("order.discount", req.DiscountAmount.String()),
	))
	defer span.End()

	c, err := s.redeem(ctx, req)
	s.observe(ctx, span, s.redemptions, err)
	return c, err
}

func (s *Service) redeem(ctx context.Context, req RedeemRequest) (*Coupon, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, ErrUnauthenticated
	}
	switch {
	case req.OrderAmount.IsNegative(), req.DiscountAmount.IsNegative():
		return nil, errors.Wrap(ErrInvalidAmount, "amounts must not be negative")
	case req.DiscountAmount.GreaterThan(req.OrderAmount):
		return nil, errors.Wrap(ErrInvalidAmount, "discount exceeds order amount")
	}

	c, err := s.Get(ctx, req.CouponID)
	if err != nil {
		return nil, err
	}
	if err := c.CheckRedeemable(req.OrderAmount); err != nil {
		return nil, &NoLongerValidError{Cause: err}
	}

	updated, err := s.repo.Redeem(ctx, c.ID, Redemption{
		UserID:         userID,
		UsedAt:         s.now().UTC(),
		OrderAmount:    req.OrderAmount,
		DiscountAmount: req.DiscountAmount,
	})
	if err != nil {
		if errors.Is(err, ErrNoLongerValid) || errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, errors.Wrap(err, "redeem coupon")
	}
	return updated, nil
}

// Get returns the coupon with the given id.
func (s *Service) Get(ctx context.Context, id string) (*Coupon, error) {
	c, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "find coupon")
	}
	return c, nil
}

// List returns coupons matching filter, newest first.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Coupon, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	filter.Limit = min(filter.Limit, maxListLimit)
	filter.Offset = max(filter.Offset, 0)

	coupons, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(err, "list coupons")
	}
	return coupons, nil
}

// Create validates d and stores it as a new coupon attributed to createdBy.
func (s *Service) Create(ctx context.Context, createdBy string, d Draft) (*Coupon, error) {
	ctx, span := s.tracer.Start(ctx, "coupon.Create")
	defer span.End()

	c, err := s.create(ctx, createdBy, d)
	s.observe(ctx, span, nil, err)
	return c, err
}

func (s *Service) create(ctx context.Context, createdBy string, d Draft) (*Coupon, error) {
	d = d.Normalize()
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkCodeAvailable(ctx, d.Code, ""); err != nil {
		return nil, err
	}

	c := NewCoupon(createdBy, d, s.now())

	if err := s.repo.Create(ctx, c); err != nil {
		if errors.Is(err, ErrDuplicateCode) || errors.Is(err, ErrInvalidCoupon) {
			return nil, err
		}
		return nil, errors.Wrap(err, "create coupon")
	}
	return c, nil
}

// Update replaces the definition of coupon id with d. Usage state and the
// audit trail are preserved; renames are checked for collisions and the
// usage limit may not drop below the current usage count.
func (s *Service) Update(ctx context.Context, id string, d Draft) (*Coupon, error) {
	ctx, span := s.tracer.Start(ctx, "coupon.Update", trace.WithAttributes(
		attribute.String("coupon.id", id),
	))
	defer span.End()

	c, err := s.update(ctx, id, d)
	s.observe(ctx, span, nil, err)
	return c, err
}

func (s *Service) update(ctx context.Context, id string, d Draft) (*Coupon, error) {
	d = d.Normalize()
	if err := d.Validate(); err != nil {
		return nil, err
	}

	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Code != c.Code {
		if err := s.checkCodeAvailable(ctx, d.Code, c.ID); err != nil {
			return nil, err
		}
	}
	if d.UsageLimit != nil && *d.UsageLimit < c.UsageCount {
		return nil, &ValidationError{Field: "usageLimit", Reason: "must not be below the current usage count"}
	}

	d.Apply(c)
	c.UpdatedAt = s.now().UTC()

	if err := s.repo.Update(ctx, c); err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrDuplicateCode) || errors.Is(err, ErrInvalidCoupon) {
			return nil, err
		}
		return nil, errors.Wrap(err, "update coupon")
	}
	return c, nil
}

// SetActive enables or disables a coupon without touching its usage state.
func (s *Service) SetActive(ctx context.Context, id string, active bool) (*Coupon, error) {
	c, err := s.repo.SetActive(ctx, id, active)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "set coupon active")
	}
	return c, nil
}

// Delete removes an unused coupon. Redeemed coupons are refused with
// ErrDeleteRefused and must be deactivated instead.
func (s *Service) Delete(ctx context.Context, id string) error {
	c, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := CheckDeletable(c); err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrDeleteRefused) {
			return err
		}
		return errors.Wrap(err, "delete coupon")
	}
	return nil
}

// CheckDeletable reports ErrDeleteRefused for coupons that have been redeemed.
func CheckDeletable(c *Coupon) error {
	if c.UsageCount > 0 {
		return ErrDeleteRefused
	}
	return nil
}

// checkCodeAvailable returns ErrDuplicateCode when code belongs to a coupon
// other than selfID.
func (s *Service) checkCodeAvailable(ctx context.Context, code, selfID string) error {
	existing, err := s.repo.FindByCode(ctx, code)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil
	case err != nil:
		return errors.Wrap(err, "check code uniqueness")
	case existing.ID != selfID:
		return ErrDuplicateCode
	}
	return nil
}

func (s *Service) observe(ctx context.Context, span trace.Span, counter metric.Int64Counter, err error) {
	outcome := Outcome(err)
	span.SetAttributes(attribute.String("coupon.outcome", outcome))
	if outcome == "error" {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if counter != nil {
		counter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

// Outcome maps err onto a short, low-cardinality label. Infrastructure
// errors map to "error".
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNoLongerValid):
		return "no_longer_valid"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInactive):
		return "inactive"
	case errors.Is(err, ErrUsageLimitReached):
		return "usage_limit_reached"
	case errors.Is(err, ErrBelowMinimum):
		return "below_minimum"
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrDuplicateCode):
		return "duplicate_code"
	case errors.Is(err, ErrDeleteRefused):
		return "delete_refused"
	case errors.Is(err, ErrInvalidCoupon), errors.Is(err, ErrInvalidAmount):
		return "invalid"
	default:
		return "error"
	}
}
