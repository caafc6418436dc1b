package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xenking/coupon-engine/internal/domain/coupon"
	"github.com/xenking/coupon-engine/internal/repository"
)

// memoryStore adds the bulk operations on top of the in-memory repository.
type memoryStore struct {
	*repository.MemoryRepository
	batches int
	failErr error
}

func (s *memoryStore) StreamCodes(ctx context.Context, fn func(code string)) error {
	all, err := s.List(ctx, coupon.ListFilter{})
	if err != nil {
		return err
	}
	for _, c := range all {
		fn(c.Code)
	}
	return nil
}

func (s *memoryStore) BulkInsert(ctx context.Context, coupons []coupon.Coupon) (int64, error) {
	if s.failErr != nil {
		return 0, s.failErr
	}
	s.batches++
	for i := range coupons {
		if err := s.Create(ctx, &coupons[i]); err != nil {
			return 0, err
		}
	}
	return int64(len(coupons)), nil
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func writeGzip(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := pgzip.NewWriter(f)
	_, err = gz.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
	return path
}

func newTestImporter(t *testing.T, batchSize int) (*importer, *memoryStore) {
	t.Helper()
	store := &memoryStore{MemoryRepository: repository.NewMemoryRepository()}
	svc, err := coupon.NewService(store)
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), "admin", coupon.Draft{
		Code:          "SAVE20",
		DiscountValue: decimal.NewFromInt(20),
		IsActive:      true,
	})
	require.NoError(t, err)

	imp := newImporter(zaptest.NewLogger(t), store, svc, importConfig{
		BatchSize:     batchSize,
		BloomCapacity: 1000,
		BloomFPR:      0.0001,
	})
	return imp, store
}

func TestImporter_Import(t *testing.T) {
	plain := writeFile(t, "coupons.csv", "code,discount_value,usage_limit\n"+
		"save20,25,\n"+
		"new1,10,5\n"+
		"new2,15,\n"+
		"broken,150,\n"+
		"NEW1,30,\n")
	gz := writeGzip(t, "more.csv.gz", "code,discount_value\nnew3,5\n")

	imp, store := newTestImporter(t, 2)
	require.NoError(t, imp.Import(context.Background(), []string{plain, gz}))

	s := imp.Stats()
	assert.EqualValues(t, 3, s.Inserted+int64(s.Created))
	assert.Equal(t, 2, s.Skipped)
	assert.Equal(t, 1, s.Rejected)

	ctx := context.Background()
	all, err := store.List(ctx, coupon.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	c, err := store.FindByCode(ctx, "NEW1")
	require.NoError(t, err)
	assert.Equal(t, "10", c.DiscountValue.String(), "first definition wins")
	assert.Equal(t, importAuthor, c.CreatedBy)
	require.NotNil(t, c.UsageLimit)
	assert.Equal(t, 5, *c.UsageLimit)

	c, err = store.FindByCode(ctx, "SAVE20")
	require.NoError(t, err)
	assert.Equal(t, "20", c.DiscountValue.String(), "existing coupon untouched")

	_, err = store.FindByCode(ctx, "NEW3")
	require.NoError(t, err)
}

func TestImporter_BadHeader(t *testing.T) {
	path := writeFile(t, "bad.csv", "name,value\nx,1\n")
	imp, _ := newTestImporter(t, 10)

	err := imp.Import(context.Background(), []string{path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `missing "code"`)
}

func TestImporter_StoreFailureStopsParsers(t *testing.T) {
	content := "code,discount_value\n"
	for _, code := range []string{"A1", "A2", "A3", "A4", "A5"} {
		content += code + ",10\n"
	}
	path := writeFile(t, "many.csv", content)

	imp, store := newTestImporter(t, 1)
	store.failErr = assert.AnError

	err := imp.Import(context.Background(), []string{path})
	require.ErrorIs(t, err, assert.AnError)
}

func TestImporter_MissingFile(t *testing.T) {
	imp, _ := newTestImporter(t, 10)
	err := imp.Import(context.Background(), []string{filepath.Join(t.TempDir(), "nope.csv")})
	require.Error(t, err)
}
