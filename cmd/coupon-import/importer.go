package main

import (
	"context"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/coupon-engine/internal/domain/coupon"
)

const (
	importAuthor = "coupon-import"

	defaultBatchSize     = 1000
	defaultBloomCapacity = 1_000_000
	defaultBloomFPR      = 0.001
	progressEvery        = 100_000
)

type importConfig struct {
	BatchSize     int
	BloomCapacity uint
	BloomFPR      float64
}

// codeStore is the bulk side of the coupon repository.
type codeStore interface {
	StreamCodes(ctx context.Context, fn func(code string)) error
	BulkInsert(ctx context.Context, coupons []coupon.Coupon) (int64, error)
}

type importStats struct {
	// Inserted counts coupons loaded through COPY.
	Inserted int64
	// Created counts possible duplicates that turned out to be new.
	Created  int
	Skipped  int
	Rejected int
}

// importer decides per row whether a code is certainly new. A bloom filter
// over the stored and already imported codes answers that without a lookup;
// certainly new codes are batched for COPY and possible duplicates go through
// the service so the code uniqueness check decides.
type importer struct {
	lg     *zap.Logger
	store  codeStore
	svc    *coupon.Service
	cfg    importConfig
	filter *bloom.BloomFilter
	batch  []coupon.Coupon
	stats  importStats
	rows   int
	now    func() time.Time
}

func newImporter(lg *zap.Logger, store codeStore, svc *coupon.Service, cfg importConfig) *importer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.BloomCapacity == 0 {
		cfg.BloomCapacity = defaultBloomCapacity
	}
	if cfg.BloomFPR <= 0 || cfg.BloomFPR >= 1 {
		cfg.BloomFPR = defaultBloomFPR
	}
	return &importer{
		lg:     lg,
		store:  store,
		svc:    svc,
		cfg:    cfg,
		filter: bloom.NewWithEstimates(cfg.BloomCapacity, cfg.BloomFPR),
		batch:  make([]coupon.Coupon, 0, cfg.BatchSize),
		now:    time.Now,
	}
}

// Stats returns the counters accumulated by Import.
func (imp *importer) Stats() importStats { return imp.stats }

// Import parses files concurrently and loads their rows in arrival order.
func (imp *importer) Import(ctx context.Context, files []string) error {
	var existing int
	if err := imp.store.StreamCodes(ctx, func(code string) {
		imp.filter.AddString(code)
		existing++
	}); err != nil {
		return errors.Wrap(err, "load existing codes")
	}
	imp.lg.Info("Loaded existing codes", zap.Int("count", existing))

	parseCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	rows := make(chan row, 1024)
	g, gctx := errgroup.WithContext(parseCtx)
	for _, f := range files {
		g.Go(func() error {
			return parseFile(gctx, f, rows)
		})
	}
	parsed := make(chan error, 1)
	go func() {
		parsed <- g.Wait()
		close(rows)
	}()

	for r := range rows {
		if err := imp.handle(ctx, r); err != nil {
			cancel()
			for range rows {
			}
			<-parsed
			return err
		}
	}
	if err := <-parsed; err != nil {
		return errors.Wrap(err, "parse input")
	}
	return imp.flush(ctx)
}

func (imp *importer) handle(ctx context.Context, r row) error {
	imp.rows++
	if imp.rows%progressEvery == 0 {
		imp.lg.Info("Import progress", zap.Int("rows", imp.rows), zap.Int64("inserted", imp.stats.Inserted))
	}

	if r.Err != nil {
		imp.stats.Rejected++
		imp.lg.Warn("Rejected row",
			zap.String("file", r.File),
			zap.Int("line", r.Line),
			zap.Error(r.Err),
		)
		return nil
	}

	code := r.Draft.Code
	if !imp.filter.TestString(code) {
		imp.filter.AddString(code)
		imp.batch = append(imp.batch, *coupon.NewCoupon(importAuthor, r.Draft, imp.now()))
		if len(imp.batch) >= imp.cfg.BatchSize {
			return imp.flush(ctx)
		}
		return nil
	}

	// The code may be stored or sitting in the pending batch.
	if err := imp.flush(ctx); err != nil {
		return err
	}
	_, err := imp.svc.Create(ctx, importAuthor, r.Draft)
	switch {
	case errors.Is(err, coupon.ErrDuplicateCode):
		imp.stats.Skipped++
		imp.lg.Debug("Skipped existing code", zap.String("code", code))
	case errors.Is(err, coupon.ErrInvalidCoupon):
		imp.stats.Rejected++
		imp.lg.Warn("Rejected row", zap.String("file", r.File), zap.Int("line", r.Line), zap.Error(err))
	case err != nil:
		return errors.Wrapf(err, "create coupon %s", code)
	default:
		imp.stats.Created++
		imp.filter.AddString(code)
	}
	return nil
}

func (imp *importer) flush(ctx context.Context) error {
	if len(imp.batch) == 0 {
		return nil
	}
	n, err := imp.store.BulkInsert(ctx, imp.batch)
	if err != nil {
		return errors.Wrapf(err, "insert batch of %d", len(imp.batch))
	}
	imp.stats.Inserted += n
	imp.batch = imp.batch[:0]
	return nil
}
