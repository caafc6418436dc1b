package repository

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/xenking/coupon-engine/internal/domain/coupon"
)

var _ coupon.Repository = (*MemoryRepository)(nil)

// MemoryRepository is a process-local coupon.Repository. All reads and the
// redeem check-and-append run under one mutex, which gives the same
// guarantees as the conditional UPDATE in CouponRepository.
type MemoryRepository struct {
	mu     sync.Mutex
	byID   map[string]*coupon.Coupon
	byCode map[string]string
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:   make(map[string]*coupon.Coupon),
		byCode: make(map[string]string),
	}
}

func (r *MemoryRepository) FindByCode(_ context.Context, code string) (*coupon.Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byCode[coupon.NormalizeCode(code)]
	if !ok {
		return nil, coupon.ErrNotFound
	}
	return clone(r.byID[id]), nil
}

func (r *MemoryRepository) FindByID(_ context.Context, id string) (*coupon.Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.byID[id]
	if !ok {
		return nil, coupon.ErrNotFound
	}
	return clone(c), nil
}

func (r *MemoryRepository) List(_ context.Context, filter coupon.ListFilter) ([]coupon.Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]coupon.Coupon, 0, len(r.byID))
	for _, c := range r.byID {
		if filter.Active != nil && c.IsActive != *filter.Active {
			continue
		}
		out = append(out, *clone(c))
	}
	slices.SortFunc(out, func(a, b coupon.Coupon) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		return 1
	})

	if filter.Offset >= len(out) {
		return []coupon.Coupon{}, nil
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *MemoryRepository) Create(_ context.Context, c *coupon.Coupon) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.byCode[c.Code]; taken {
		return coupon.ErrDuplicateCode
	}
	stored := clone(c)
	stored.UsageCount = 0
	stored.UsedBy = nil
	r.byID[c.ID] = stored
	r.byCode[c.Code] = c.ID
	return nil
}

func (r *MemoryRepository) Update(_ context.Context, c *coupon.Coupon) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.byID[c.ID]
	if !ok {
		return coupon.ErrNotFound
	}
	if owner, taken := r.byCode[c.Code]; taken && owner != c.ID {
		return coupon.ErrDuplicateCode
	}
	if c.UsageLimit != nil && cur.UsageCount > *c.UsageLimit {
		return &coupon.ValidationError{Field: "usageLimit", Reason: "must not be below the current usage count"}
	}

	delete(r.byCode, cur.Code)
	r.byCode[c.Code] = c.ID
	coupon.Draft{
		Code:               c.Code,
		Description:        c.Description,
		DiscountType:       c.DiscountType,
		DiscountValue:      c.DiscountValue,
		MinimumOrderAmount: c.MinimumOrderAmount,
		UsageLimit:         c.UsageLimit,
		IsActive:           c.IsActive,
	}.Apply(cur)
	cur.UpdatedAt = c.UpdatedAt
	return nil
}

func (r *MemoryRepository) SetActive(_ context.Context, id string, active bool) (*coupon.Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.byID[id]
	if !ok {
		return nil, coupon.ErrNotFound
	}
	c.IsActive = active
	c.UpdatedAt = time.Now().UTC()
	return clone(c), nil
}

func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.byID[id]
	if !ok {
		return coupon.ErrNotFound
	}
	if c.UsageCount > 0 {
		return coupon.ErrDeleteRefused
	}
	delete(r.byID, id)
	delete(r.byCode, c.Code)
	return nil
}

func (r *MemoryRepository) Redeem(_ context.Context, id string, red coupon.Redemption) (*coupon.Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.byID[id]
	if !ok {
		return nil, coupon.ErrNotFound
	}
	if err := c.CheckRedeemable(red.OrderAmount); err != nil {
		return nil, &coupon.NoLongerValidError{Cause: err}
	}
	c.UsageCount++
	c.UsedBy = append(c.UsedBy, red)
	c.UpdatedAt = red.UsedAt
	return clone(c), nil
}

func clone(c *coupon.Coupon) *coupon.Coupon {
	cp := *c
	if c.UsageLimit != nil {
		limit := *c.UsageLimit
		cp.UsageLimit = &limit
	}
	cp.UsedBy = slices.Clone(c.UsedBy)
	return &cp
}
