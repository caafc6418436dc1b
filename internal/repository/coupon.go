package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/coupon-engine/internal/domain/coupon"
)

const couponColumns = `id::text, code, description, discount_type, discount_value,
	minimum_order_amount, usage_limit, usage_count, is_active, used_by,
	created_by, created_at, updated_at`

const (
	getCouponByCodeSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE code = UPPER($1)`

	getCouponByIDSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE id = $1`

	listCouponsSQL = `SELECT ` + couponColumns + ` FROM coupons
		WHERE ($1::boolean IS NULL OR is_active = $1)
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3`

	insertCouponSQL = `INSERT INTO coupons (id, code, description, discount_type,
		discount_value, minimum_order_amount, usage_limit, is_active, created_by,
		created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	updateCouponSQL = `UPDATE coupons SET code = $2, description = $3,
		discount_type = $4, discount_value = $5, minimum_order_amount = $6,
		usage_limit = $7, is_active = $8, updated_at = $9
		WHERE id = $1`

	setCouponActiveSQL = `UPDATE coupons SET is_active = $2, updated_at = now()
		WHERE id = $1
		RETURNING ` + couponColumns

	// The usage check and the append share one statement. Concurrent
	// redeemers serialize on the row lock and re-evaluate the WHERE clause
	// against the committed row, so the limit can never be overshot.
	redeemCouponSQL = `UPDATE coupons
		SET usage_count = usage_count + 1,
			used_by = used_by || jsonb_build_array($2::jsonb),
			updated_at = $3
		WHERE id = $1
			AND is_active
			AND (usage_limit IS NULL OR usage_count < usage_limit)
			AND minimum_order_amount <= $4
		RETURNING ` + couponColumns

	deleteUnusedCouponSQL = `DELETE FROM coupons WHERE id = $1 AND usage_count = 0`

	couponExistsSQL = `SELECT EXISTS (SELECT 1 FROM coupons WHERE id = $1)`

	streamCouponCodesSQL = `SELECT code FROM coupons`
)

// copyColumns lists the columns written by BulkInsert.
var copyColumns = []string{
	"id", "code", "description", "discount_type", "discount_value",
	"minimum_order_amount", "usage_limit", "usage_count", "is_active", "used_by",
	"created_by", "created_at", "updated_at",
}

// constraintViolations maps schema CHECK constraints onto the field errors the
// domain reports for the same rule.
var constraintViolations = map[string]*coupon.ValidationError{
	"coupons_code_upper":               {Field: "code", Reason: "must be upper case and non-empty"},
	"coupons_discount_type":            {Field: "discountType", Reason: "must be percentage"},
	"coupons_discount_value_range":     {Field: "discountValue", Reason: "must be between 0 and 100"},
	"coupons_minimum_non_negative":     {Field: "minimumOrderAmount", Reason: "must not be negative"},
	"coupons_usage_limit_non_negative": {Field: "usageLimit", Reason: "must not be negative"},
	"coupons_usage_within_limit":       {Field: "usageLimit", Reason: "must not be below the current usage count"},
}

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up a coupon by code (case-insensitive).
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	c, err := r.queryOne(ctx, getCouponByCodeSQL, code)
	if err != nil {
		if errors.Is(err, coupon.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}
	return c, nil
}

// FindByID looks up a coupon by id. Malformed ids are reported as not found.
func (r *CouponRepository) FindByID(ctx context.Context, id string) (*coupon.Coupon, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, coupon.ErrNotFound
	}
	c, err := r.queryOne(ctx, getCouponByIDSQL, id)
	if err != nil {
		if errors.Is(err, coupon.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("finding coupon %s: %w", id, err)
	}
	return c, nil
}

// List returns coupons newest first.
func (r *CouponRepository) List(ctx context.Context, filter coupon.ListFilter) ([]coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, listCouponsSQL, filter.Active, filter.Limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("listing coupons: %w", err)
	}

	coupons, err := pgx.CollectRows(rows, scanCoupon)
	if err != nil {
		return nil, fmt.Errorf("listing coupons: %w", err)
	}
	return coupons, nil
}

// Create inserts a new coupon with an empty audit trail.
func (r *CouponRepository) Create(ctx context.Context, c *coupon.Coupon) error {
	_, err := r.pool.Exec(ctx, insertCouponSQL,
		c.ID, c.Code, c.Description, string(c.DiscountType), c.DiscountValue,
		c.MinimumOrderAmount, c.UsageLimit, c.IsActive, c.CreatedBy,
		c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if mapped := mapWriteError(err); mapped != nil {
			return mapped
		}
		return fmt.Errorf("inserting coupon %q: %w", c.Code, err)
	}
	return nil
}

// Update rewrites the definition columns of c.
func (r *CouponRepository) Update(ctx context.Context, c *coupon.Coupon) error {
	if _, err := uuid.Parse(c.ID); err != nil {
		return coupon.ErrNotFound
	}
	tag, err := r.pool.Exec(ctx, updateCouponSQL,
		c.ID, c.Code, c.Description, string(c.DiscountType), c.DiscountValue,
		c.MinimumOrderAmount, c.UsageLimit, c.IsActive, c.UpdatedAt,
	)
	if err != nil {
		if mapped := mapWriteError(err); mapped != nil {
			return mapped
		}
		return fmt.Errorf("updating coupon %s: %w", c.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrNotFound
	}
	return nil
}

// SetActive toggles the soft enable switch and returns the updated coupon.
func (r *CouponRepository) SetActive(ctx context.Context, id string, active bool) (*coupon.Coupon, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, coupon.ErrNotFound
	}
	c, err := r.queryOne(ctx, setCouponActiveSQL, id, active)
	if err != nil {
		if errors.Is(err, coupon.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("setting coupon %s active=%t: %w", id, active, err)
	}
	return c, nil
}

// Delete removes the coupon only while its usage count is zero.
func (r *CouponRepository) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return coupon.ErrNotFound
	}
	tag, err := r.pool.Exec(ctx, deleteUnusedCouponSQL, id)
	if err != nil {
		return fmt.Errorf("deleting coupon %s: %w", id, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, couponExistsSQL, id).Scan(&exists); err != nil {
		return fmt.Errorf("checking coupon %s: %w", id, err)
	}
	if exists {
		return coupon.ErrDeleteRefused
	}
	return coupon.ErrNotFound
}

// Redeem increments the usage count and appends red to used_by in one
// conditional UPDATE. When the condition no longer holds the coupon is
// re-read to report why.
func (r *CouponRepository) Redeem(ctx context.Context, id string, red coupon.Redemption) (*coupon.Coupon, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, coupon.ErrNotFound
	}

	c, err := r.queryOne(ctx, redeemCouponSQL,
		id, string(marshalRedemption(red)), red.UsedAt, red.OrderAmount,
	)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, coupon.ErrNotFound) {
		if mapped := mapWriteError(err); errors.Is(mapped, coupon.ErrInvalidCoupon) {
			// coupons_usage_within_limit: only reachable if the row changed
			// under a weaker isolation level than expected.
			return nil, &coupon.NoLongerValidError{Cause: coupon.ErrUsageLimitReached}
		}
		return nil, fmt.Errorf("redeeming coupon %s: %w", id, err)
	}

	current, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, &coupon.NoLongerValidError{Cause: current.CheckRedeemable(red.OrderAmount)}
}

// BulkInsert loads new, unused coupons with COPY. The caller guarantees that
// codes are unique; a collision aborts the whole batch.
func (r *CouponRepository) BulkInsert(ctx context.Context, coupons []coupon.Coupon) (int64, error) {
	n, err := r.pool.CopyFrom(ctx, pgx.Identifier{"coupons"}, copyColumns,
		pgx.CopyFromSlice(len(coupons), func(i int) ([]any, error) {
			c := coupons[i]
			id, err := uuid.Parse(c.ID)
			if err != nil {
				return nil, fmt.Errorf("coupon %s: invalid id %q: %w", c.Code, c.ID, err)
			}
			return []any{
				id, c.Code, c.Description, string(c.DiscountType), c.DiscountValue,
				c.MinimumOrderAmount, c.UsageLimit, 0, c.IsActive, "[]",
				c.CreatedBy, c.CreatedAt, c.UpdatedAt,
			}, nil
		}),
	)
	if err != nil {
		if mapped := mapWriteError(err); mapped != nil {
			return 0, mapped
		}
		return 0, fmt.Errorf("copying %d coupons: %w", len(coupons), err)
	}
	return n, nil
}

// StreamCodes calls fn with every stored coupon code.
func (r *CouponRepository) StreamCodes(ctx context.Context, fn func(code string)) error {
	rows, err := r.pool.Query(ctx, streamCouponCodesSQL)
	if err != nil {
		return fmt.Errorf("streaming coupon codes: %w", err)
	}
	defer rows.Close()

	var code string
	_, err = pgx.ForEachRow(rows, []any{&code}, func() error {
		fn(code)
		return nil
	})
	if err != nil {
		return fmt.Errorf("streaming coupon codes: %w", err)
	}
	return nil
}

func (r *CouponRepository) queryOne(ctx context.Context, sql string, args ...any) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c            coupon.Coupon
		discountType string
		usageLimit   *int32
		usageCount   int32
		usedBy       []byte
		createdAt    time.Time
		updatedAt    time.Time
	)
	err := row.Scan(
		&c.ID, &c.Code, &c.Description, &discountType, &c.DiscountValue,
		&c.MinimumOrderAmount, &usageLimit, &usageCount, &c.IsActive, &usedBy,
		&c.CreatedBy, &createdAt, &updatedAt,
	)
	if err != nil {
		return coupon.Coupon{}, err
	}

	c.DiscountType = coupon.DiscountType(discountType)
	if usageLimit != nil {
		limit := int(*usageLimit)
		c.UsageLimit = &limit
	}
	c.UsageCount = int(usageCount)
	c.CreatedAt = createdAt.UTC()
	c.UpdatedAt = updatedAt.UTC()

	c.UsedBy, err = unmarshalRedemptions(usedBy)
	if err != nil {
		return coupon.Coupon{}, err
	}
	return c, nil
}

// mapWriteError translates constraint violations into domain errors. It
// returns nil for anything that is not a known violation.
func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return nil
	}
	switch pgErr.Code {
	case "23505": // unique_violation
		return coupon.ErrDuplicateCode
	case "23514": // check_violation
		if v, ok := constraintViolations[pgErr.ConstraintName]; ok {
			return &coupon.ValidationError{Field: v.Field, Reason: v.Reason}
		}
		return &coupon.ValidationError{Field: "coupon", Reason: "violates " + pgErr.ConstraintName}
	case "22003": // numeric_value_out_of_range
		return &coupon.ValidationError{Field: "coupon", Reason: "numeric value out of range"}
	}
	return nil
}
