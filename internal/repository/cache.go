package repository

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xenking/coupon-engine/internal/domain/coupon"
)

const (
	// Keys of one code share a hash tag so both scripts stay in one slot.
	codeKeyPrefix = "coupon:code:"
	genKeyPrefix  = "coupon:gen:"
	// notFoundMarker is cached for unknown codes so repeated previews of a
	// mistyped code do not reach the database.
	notFoundMarker = "-"
	// genTTL must outlive any fill in flight.
	genTTL      = 24 * time.Hour
	fillTimeout = 5 * time.Second
)

// fillScript stores ARGV[2] under KEYS[1] only while the write generation in
// KEYS[2] still equals ARGV[1], the value read before the database lookup.
const fillScript = `
if (redis.call('GET', KEYS[2]) or '') ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`

// evictScript drops the cached entry and bumps the write generation, which
// makes every fill that started before the write skip its store.
const evictScript = `
redis.call('DEL', KEYS[1])
redis.call('INCR', KEYS[2])
redis.call('PEXPIRE', KEYS[2], ARGV[1])
return 1
`

// CacheStore is the subset of the redis client used by CachedCoupons.
// *redis.Client and redis.UniversalClient satisfy it.
type CacheStore interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
}

var _ coupon.Repository = (*CachedCoupons)(nil)

// CachedCoupons caches FindByCode results in redis. Entries omit the audit
// trail. Every write through CachedCoupons evicts the affected codes and
// advances their generation; a fill that read the database before such a
// write is discarded, so a cached entry never predates the last write made
// through this type. Redis failures are logged and fall through to the
// underlying repository.
type CachedCoupons struct {
	next  coupon.Repository
	store CacheStore
	ttl   time.Duration
	group singleflight.Group
}

// NewCachedCoupons wraps next with a redis read-through cache.
func NewCachedCoupons(next coupon.Repository, store CacheStore, ttl time.Duration) *CachedCoupons {
	return &CachedCoupons{next: next, store: store, ttl: ttl}
}

func codeKey(code string) string {
	return codeKeyPrefix + "{" + coupon.NormalizeCode(code) + "}"
}

func genKey(code string) string {
	return genKeyPrefix + "{" + coupon.NormalizeCode(code) + "}"
}

func (c *CachedCoupons) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	key := codeKey(code)
	lg := zctx.From(ctx)

	raw, err := c.store.Get(ctx, key).Bytes()
	switch {
	case err == nil && string(raw) == notFoundMarker:
		return nil, coupon.ErrNotFound
	case err == nil:
		cached, decodeErr := unmarshalCachedCoupon(raw)
		if decodeErr == nil {
			return cached, nil
		}
		lg.Warn("Dropping undecodable cache entry", zap.String("key", key), zap.Error(decodeErr))
	case !errors.Is(err, redis.Nil):
		lg.Warn("Coupon cache read failed", zap.String("key", key), zap.Error(err))
	}

	// The fill is shared by every concurrent caller, so it must not inherit
	// the cancellation of whichever request started it.
	ch := c.group.DoChan(key, func() (any, error) {
		fillCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fillTimeout)
		defer cancel()
		return c.fill(fillCtx, code)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return clone(res.Val.(*coupon.Coupon)), nil
	}
}

// fill reads code from the underlying repository and caches the outcome
// unless a write to code happened after the read began.
func (c *CachedCoupons) fill(ctx context.Context, code string) (*coupon.Coupon, error) {
	gen, ok := c.generation(ctx, code)
	found, err := c.next.FindByCode(ctx, code)
	switch {
	case errors.Is(err, coupon.ErrNotFound):
		if ok {
			c.put(ctx, code, gen, notFoundMarker)
		}
		return nil, err
	case err != nil:
		return nil, err
	}
	if ok {
		c.put(ctx, code, gen, marshalCachedCoupon(found))
	}
	return found, nil
}

// generation returns the current write generation of code. ok is false when
// redis could not be read, in which case nothing may be cached.
func (c *CachedCoupons) generation(ctx context.Context, code string) (gen string, ok bool) {
	gen, err := c.store.Get(ctx, genKey(code)).Result()
	switch {
	case err == nil:
		return gen, true
	case errors.Is(err, redis.Nil):
		return "", true
	}
	zctx.From(ctx).Warn("Coupon cache generation read failed", zap.String("code", code), zap.Error(err))
	return "", false
}

func (c *CachedCoupons) FindByID(ctx context.Context, id string) (*coupon.Coupon, error) {
	return c.next.FindByID(ctx, id)
}

func (c *CachedCoupons) List(ctx context.Context, filter coupon.ListFilter) ([]coupon.Coupon, error) {
	return c.next.List(ctx, filter)
}

func (c *CachedCoupons) Create(ctx context.Context, cp *coupon.Coupon) error {
	if err := c.next.Create(ctx, cp); err != nil {
		return err
	}
	c.evict(ctx, cp.Code)
	return nil
}

func (c *CachedCoupons) Update(ctx context.Context, cp *coupon.Coupon) error {
	codes := []string{cp.Code}
	if prev, err := c.next.FindByID(ctx, cp.ID); err == nil && prev.Code != cp.Code {
		codes = append(codes, prev.Code)
	}
	if err := c.next.Update(ctx, cp); err != nil {
		return err
	}
	c.evict(ctx, codes...)
	return nil
}

func (c *CachedCoupons) SetActive(ctx context.Context, id string, active bool) (*coupon.Coupon, error) {
	updated, err := c.next.SetActive(ctx, id, active)
	if err != nil {
		return nil, err
	}
	c.evict(ctx, updated.Code)
	return updated, nil
}

func (c *CachedCoupons) Delete(ctx context.Context, id string) error {
	prev, err := c.next.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if err := c.next.Delete(ctx, id); err != nil {
		return err
	}
	c.evict(ctx, prev.Code)
	return nil
}

func (c *CachedCoupons) Redeem(ctx context.Context, id string, r coupon.Redemption) (*coupon.Coupon, error) {
	updated, err := c.next.Redeem(ctx, id, r)
	if err != nil {
		return nil, err
	}
	c.evict(ctx, updated.Code)
	return updated, nil
}

func (c *CachedCoupons) put(ctx context.Context, code, gen string, value any) {
	keys := []string{codeKey(code), genKey(code)}
	if err := c.store.Eval(ctx, fillScript, keys, gen, value, c.ttl.Milliseconds()).Err(); err != nil {
		zctx.From(ctx).Warn("Coupon cache write failed", zap.String("key", keys[0]), zap.Error(err))
	}
}

func (c *CachedCoupons) evict(ctx context.Context, codes ...string) {
	for _, code := range codes {
		keys := []string{codeKey(code), genKey(code)}
		if err := c.store.Eval(ctx, evictScript, keys, genTTL.Milliseconds()).Err(); err != nil {
			zctx.From(ctx).Warn("Coupon cache eviction failed", zap.Strings("keys", keys), zap.Error(err))
		}
	}
}
