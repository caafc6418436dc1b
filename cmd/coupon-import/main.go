// Command coupon-import bulk loads coupon definitions from CSV files, plain
// or gzip-compressed, into the coupons table.
//
// Each file must start with a header row. The code and discount_value
// columns are required; description, minimum_order_amount, usage_limit and
// is_active are optional. Codes that already exist are skipped.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/coupon-engine/internal/domain/coupon"
	"github.com/xenking/coupon-engine/internal/repository"
)

func main() {
	var (
		databaseURL string
		cfg         importConfig
	)
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&cfg.BatchSize, "batch-size", defaultBatchSize, "coupons per COPY batch")
	flag.UintVar(&cfg.BloomCapacity, "bloom-capacity", defaultBloomCapacity, "expected number of existing plus imported codes")
	flag.Float64Var(&cfg.BloomFPR, "bloom-fpr", defaultBloomFPR, "bloom filter false positive rate")
	flag.Parse()

	lg := zap.Must(zap.NewDevelopment())
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("database URL is required: set --database-url or DATABASE_URL")
	}
	files := flag.Args()
	if len(files) == 0 {
		lg.Fatal("usage: coupon-import [flags] FILE.csv[.gz]...")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, databaseURL, cfg, files); err != nil {
		lg.Fatal("Coupon import failed", zap.Error(err))
	}
}

func run(ctx context.Context, lg *zap.Logger, databaseURL string, cfg importConfig, files []string) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return errors.Wrapf(err, "check file %s", f)
		}
	}

	lg.Info("Connecting to database")
	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	repo := repository.NewCouponRepository(pool)
	svc, err := coupon.NewService(repo)
	if err != nil {
		return errors.Wrap(err, "create coupon service")
	}

	imp := newImporter(lg, repo, svc, cfg)
	if err := imp.Import(ctx, files); err != nil {
		return err
	}

	s := imp.Stats()
	lg.Info("Coupon import completed",
		zap.Int64("inserted", s.Inserted),
		zap.Int("created", s.Created),
		zap.Int("skipped", s.Skipped),
		zap.Int("rejected", s.Rejected),
	)
	return nil
}
