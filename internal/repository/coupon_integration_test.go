//go:build integration

package repository

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/coupon-engine/internal/domain/auth"
	"github.com/xenking/coupon-engine/internal/domain/coupon"
)

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "coupons",
				"POSTGRES_PASSWORD": "coupons",
				"POSTGRES_DB":       "coupons",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(2 * time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = ctr.Terminate(context.Background())
	})

	host, err := ctr.Host(ctx)
	require.NoError(t, err)
	port, err := ctr.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://coupons:coupons@%s:%s/coupons?sslmode=disable", host, port.Port())
	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, RunMigrations(ctx, pool))
	return pool
}

func TestCouponRepository(t *testing.T) {
	pool := startPostgres(t)
	repo := NewCouponRepository(pool)

	t.Run("ConcurrentRedeemRespectsLimit", func(t *testing.T) {
		ctx := context.Background()
		c := newCoupon("RACE", intPtr(3))
		require.NoError(t, repo.Create(ctx, c))

		const workers = 20
		var (
			wg        sync.WaitGroup
			successes atomic.Int32
		)
		start := make(chan struct{})
		for i := range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := repo.Redeem(ctx, c.ID, redemption(fmt.Sprintf("u%d", i)))
				if err == nil {
					successes.Add(1)
					return
				}
				assert.ErrorIs(t, err, coupon.ErrNoLongerValid)
				assert.ErrorIs(t, err, coupon.ErrUsageLimitReached)
			}()
		}
		close(start)
		wg.Wait()

		assert.EqualValues(t, 3, successes.Load())
		got, err := repo.FindByID(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, got.UsageCount)
		assert.Len(t, got.UsedBy, 3)
	})

	t.Run("RedeemSave20", func(t *testing.T) {
		ctx := context.Background()
		c := newCoupon("SAVE20", intPtr(100))
		require.NoError(t, repo.Create(ctx, c))

		discount := coupon.Calculate(decimal.RequireFromString("999.99"), c.DiscountValue)
		red := coupon.Redemption{
			UserID:         "user-1",
			UsedAt:         time.Now().UTC(),
			OrderAmount:    discount.OriginalAmount,
			DiscountAmount: discount.DiscountAmount,
		}
		updated, err := repo.Redeem(ctx, c.ID, red)
		require.NoError(t, err)
		assert.Equal(t, 1, updated.UsageCount)
		require.Len(t, updated.UsedBy, 1)
		assert.Equal(t, "user-1", updated.UsedBy[0].UserID)
		assert.Equal(t, "200.00", updated.UsedBy[0].DiscountAmount.StringFixed(2))

		byCode, err := repo.FindByCode(ctx, "save20")
		require.NoError(t, err)
		assert.Equal(t, c.ID, byCode.ID)
		assert.Equal(t, "20.00", byCode.DiscountValue.StringFixed(2))
	})

	t.Run("RedeemBelowMinimum", func(t *testing.T) {
		ctx := context.Background()
		c := newCoupon("MIN500", nil)
		require.NoError(t, repo.Create(ctx, c))

		small := redemption("u1")
		small.OrderAmount = decimal.RequireFromString("499.99")
		_, err := repo.Redeem(ctx, c.ID, small)
		require.ErrorIs(t, err, coupon.ErrBelowMinimum)

		got, err := repo.FindByID(ctx, c.ID)
		require.NoError(t, err)
		assert.Zero(t, got.UsageCount)
	})

	t.Run("DeleteGuard", func(t *testing.T) {
		ctx := context.Background()
		used := newCoupon("USEDONCE", nil)
		require.NoError(t, repo.Create(ctx, used))
		_, err := repo.Redeem(ctx, used.ID, redemption("u1"))
		require.NoError(t, err)

		require.ErrorIs(t, repo.Delete(ctx, used.ID), coupon.ErrDeleteRefused)
		require.ErrorIs(t, repo.Delete(ctx, uuid.NewString()), coupon.ErrNotFound)
		require.ErrorIs(t, repo.Delete(ctx, "not-a-uuid"), coupon.ErrNotFound)
	})

	t.Run("DuplicateCode", func(t *testing.T) {
		ctx := context.Background()
		require.NoError(t, repo.Create(ctx, newCoupon("WELCOME", nil)))
		err := repo.Create(ctx, newCoupon("WELCOME", nil))
		require.ErrorIs(t, err, coupon.ErrDuplicateCode)
	})

	t.Run("CheckConstraint", func(t *testing.T) {
		ctx := context.Background()
		c := newCoupon("TOOMUCH", nil)
		c.DiscountValue = decimal.NewFromInt(150)
		err := repo.Create(ctx, c)
		require.ErrorIs(t, err, coupon.ErrInvalidCoupon)

		var verr *coupon.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "discountValue", verr.Field)
	})

	t.Run("LimitBelowUsage", func(t *testing.T) {
		ctx := context.Background()
		c := newCoupon("SHRINK", intPtr(5))
		require.NoError(t, repo.Create(ctx, c))
		for _, u := range []string{"u1", "u2"} {
			_, err := repo.Redeem(ctx, c.ID, redemption(u))
			require.NoError(t, err)
		}

		c.UsageLimit = intPtr(1)
		err := repo.Update(ctx, c)
		var verr *coupon.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "usageLimit", verr.Field)
	})

	t.Run("ListAndToggle", func(t *testing.T) {
		ctx := context.Background()
		c := newCoupon("TOGGLE", nil)
		require.NoError(t, repo.Create(ctx, c))

		off, err := repo.SetActive(ctx, c.ID, false)
		require.NoError(t, err)
		assert.False(t, off.IsActive)

		inactive := false
		list, err := repo.List(ctx, coupon.ListFilter{Active: &inactive, Limit: 50})
		require.NoError(t, err)
		require.NotEmpty(t, list)
		for _, item := range list {
			assert.False(t, item.IsActive)
		}
	})

	t.Run("BulkInsertAndStream", func(t *testing.T) {
		ctx := context.Background()
		batch := []coupon.Coupon{*newCoupon("BULK1", nil), *newCoupon("BULK2", intPtr(10))}
		n, err := repo.BulkInsert(ctx, batch)
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)

		seen := map[string]bool{}
		require.NoError(t, repo.StreamCodes(ctx, func(code string) { seen[code] = true }))
		assert.True(t, seen["BULK1"])
		assert.True(t, seen["BULK2"])
	})
}

func TestAPIKeyRepository(t *testing.T) {
	ctx := context.Background()
	pool := startPostgres(t)
	repo := NewAPIKeyRepository(pool)

	hash := auth.HashAPIKey([]byte("pepper"), "secret-key")
	require.NoError(t, repo.Upsert(ctx, auth.APIKeyInfo{
		ID:      "admin",
		KeyHash: hash,
		Name:    "Admin",
		Scopes:  []string{auth.ScopeCouponsRead, auth.ScopeCouponsWrite},
	}))

	info, err := repo.FindByHash(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, "admin", info.ID)
	assert.True(t, info.HasScope(auth.ScopeCouponsWrite))

	_, err = repo.FindByHash(ctx, "deadbeef")
	require.ErrorIs(t, err, auth.ErrUnknownKey)
}
