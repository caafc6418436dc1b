package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/coupon-engine/internal/domain/auth"
	"github.com/xenking/coupon-engine/internal/domain/coupon"
	"github.com/xenking/coupon-engine/internal/repository"
)

const seedAuthor = "seed-db"

type options struct {
	databaseURL  string
	apiKey       string
	apiKeyPepper string
	jwtSecret    string
	jwtIssuer    string
	devUser      string
}

func main() {
	var opts options
	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.apiKey, "api-key", "", "admin API key to seed (or COUPONS_SEED_API_KEY env)")
	flag.StringVar(&opts.apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or COUPONS_API_KEY_PEPPER env)")
	flag.StringVar(&opts.jwtSecret, "jwt-secret", "", "print a shopper token signed with this secret (or COUPONS_JWT_SECRET env)")
	flag.StringVar(&opts.jwtIssuer, "jwt-issuer", "", "issuer for the printed shopper token")
	flag.StringVar(&opts.devUser, "dev-user", "user_123", "subject of the printed shopper token")
	flag.Parse()

	lg := zap.Must(zap.NewDevelopment())
	defer func() { _ = lg.Sync() }()

	envDefault(&opts.databaseURL, "DATABASE_URL")
	envDefault(&opts.apiKey, "COUPONS_SEED_API_KEY")
	envDefault(&opts.apiKeyPepper, "COUPONS_API_KEY_PEPPER")
	envDefault(&opts.jwtSecret, "COUPONS_JWT_SECRET")

	if opts.databaseURL == "" {
		lg.Fatal("database URL is required: set --database-url or DATABASE_URL")
	}
	if opts.apiKey == "" {
		lg.Fatal("API key is required: set --api-key or COUPONS_SEED_API_KEY")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, opts); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed")
}

func envDefault(dst *string, key string) {
	if *dst == "" {
		*dst = os.Getenv(key)
	}
}

func run(ctx context.Context, lg *zap.Logger, opts options) error {
	lg.Info("Connecting to database")

	pool, err := repository.NewPool(ctx, opts.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	lg.Info("Running migrations")
	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	svc, err := coupon.NewService(repository.NewCouponRepository(pool))
	if err != nil {
		return errors.Wrap(err, "create coupon service")
	}
	if err := seedCoupons(ctx, lg, svc); err != nil {
		return errors.Wrap(err, "seed coupons")
	}

	if err := seedAPIKey(ctx, lg, repository.NewAPIKeyRepository(pool), opts.apiKey, opts.apiKeyPepper); err != nil {
		return errors.Wrap(err, "seed api key")
	}

	if opts.jwtSecret != "" {
		tok, err := auth.NewTokenVerifier([]byte(opts.jwtSecret), opts.jwtIssuer).Issue(opts.devUser, 24*time.Hour)
		if err != nil {
			return errors.Wrap(err, "issue shopper token")
		}
		lg.Info("Issued shopper token", zap.String("user", opts.devUser), zap.Duration("ttl", 24*time.Hour))
		fmt.Println(tok)
	}
	return nil
}

func limit(n int) *int { return &n }

// sampleCoupons covers each eligibility branch: a minimum order, an unlimited
// code, a single-use code and an inactive one.
func sampleCoupons() []coupon.Draft {
	return []coupon.Draft{
		{
			Code:               "SAVE20",
			Description:        "20% off orders of 500 or more",
			DiscountValue:      decimal.NewFromInt(20),
			MinimumOrderAmount: decimal.NewFromInt(500),
			UsageLimit:         limit(100),
			IsActive:           true,
		},
		{
			Code:          "WELCOME10",
			Description:   "10% off, no minimum",
			DiscountValue: decimal.NewFromInt(10),
			IsActive:      true,
		},
		{
			Code:               "FLASH50",
			Description:        "Single-use 50% off orders of 1000 or more",
			DiscountValue:      decimal.NewFromInt(50),
			MinimumOrderAmount: decimal.NewFromInt(1000),
			UsageLimit:         limit(1),
			IsActive:           true,
		},
		{
			Code:          "SUMMER15",
			Description:   "Retired summer campaign",
			DiscountValue: decimal.NewFromInt(15),
			IsActive:      false,
		},
	}
}

func seedCoupons(ctx context.Context, lg *zap.Logger, svc *coupon.Service) error {
	lg.Info("Seeding sample coupons")

	for _, d := range sampleCoupons() {
		c, err := svc.Create(ctx, seedAuthor, d)
		switch {
		case errors.Is(err, coupon.ErrDuplicateCode):
			lg.Info("Coupon already seeded", zap.String("code", d.Code))
			continue
		case err != nil:
			return errors.Wrapf(err, "create coupon %s", d.Code)
		}
		lg.Info("Created coupon", zap.String("code", c.Code), zap.String("id", c.ID))
	}
	return nil
}

type apiKeyStore interface {
	Upsert(ctx context.Context, info auth.APIKeyInfo) error
}

func seedAPIKey(ctx context.Context, lg *zap.Logger, store apiKeyStore, apiKey, pepper string) error {
	info := auth.APIKeyInfo{
		ID:      "default",
		KeyHash: auth.HashAPIKey([]byte(pepper), apiKey),
		Name:    "Default admin key",
		Scopes:  []string{auth.ScopeCouponsRead, auth.ScopeCouponsWrite},
	}
	if err := store.Upsert(ctx, info); err != nil {
		return errors.Wrap(err, "upsert default API key")
	}
	lg.Info("Upserted API key", zap.String("id", info.ID), zap.Strings("scopes", info.Scopes))
	return nil
}
