package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/xenking/coupon-engine/internal/domain/auth"
	"github.com/xenking/coupon-engine/internal/domain/coupon"
	"github.com/xenking/coupon-engine/internal/handler"
	"github.com/xenking/coupon-engine/internal/repository"
	"github.com/xenking/coupon-engine/pkg/health"
	"github.com/xenking/coupon-engine/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = rdb.Close() }()
		lg.Info("Coupon cache enabled", zap.String("redis", cfg.Redis.Addr), zap.Duration("ttl", cfg.Redis.TTL))
	}

	h, healthSvc, err := newAPI(cfg, pool, rdb,
		coupon.WithTracerProvider(m.TracerProvider()),
		coupon.WithMeterProvider(m.MeterProvider()),
	)
	if err != nil {
		return err
	}

	router := NewRouter(ctx, cfg, h, healthSvc)

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: otelhttp.NewHandler(router, "coupon-api",
			otelhttp.WithTracerProvider(m.TracerProvider()),
			otelhttp.WithMeterProvider(m.MeterProvider()),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// newAPI builds the repositories, the coupon service and the HTTP handler on
// top of pool, and registers the health checks for them. A nil rdb disables
// the coupon cache.
func newAPI(cfg *Config, pool *pgxpool.Pool, rdb *redis.Client, opts ...coupon.Option) (*handler.Handler, *health.Health, error) {
	healthSvc := health.New()
	healthSvc.Register(health.Liveness, "goroutines", health.Goroutines(10000))
	healthSvc.Register(health.Liveness, "gc_pause", health.GCPause(time.Second))
	healthSvc.Register(health.Readiness, "postgres", health.Ping("postgres", pool),
		health.WithTimeout(5*time.Second),
	)

	var coupons coupon.Repository = repository.NewCouponRepository(pool)
	if rdb != nil {
		coupons = repository.NewCachedCoupons(coupons, rdb, cfg.Redis.TTL)
		healthSvc.Register(health.Readiness, "redis", health.Ping("redis", health.ErrPinger(func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})), health.WithThresholds(5, 1))
	}

	couponSvc, err := coupon.NewService(coupons, opts...)
	if err != nil {
		return nil, nil, errors.Wrap(err, "create coupon service")
	}

	securityHandler := handler.NewSecurityHandler(
		repository.NewAPIKeyRepository(pool),
		[]byte(cfg.APIKeyPepper),
		auth.NewTokenVerifier([]byte(cfg.JWT.Secret), cfg.JWT.Issuer),
	)
	h := handler.NewHandler(handler.HandlerConfig{MaxBodyBytes: cfg.MaxBodyBytes}, couponSvc, securityHandler)
	return h, healthSvc, nil
}

// NewRouter mounts the probes and the coupon API behind the shared middleware
// chain. ctx bounds the rate limiter's cleanup goroutine and supplies the
// base request logger.
func NewRouter(ctx context.Context, cfg *Config, h *handler.Handler, hs *health.Health) http.Handler {
	r := chi.NewRouter()
	r.Use(
		httpmiddleware.Recovery(),
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(zctx.From(ctx)),
		httpmiddleware.LogRequests(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins:     cfg.CORS.Origins,
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           86400,
		}),
	)

	r.Method(http.MethodGet, "/livez", hs.Handler(health.Liveness))
	r.Method(http.MethodGet, "/readyz", hs.Handler(health.Readiness))

	r.Group(func(r chi.Router) {
		r.Use(httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
			RPS:   cfg.RateLimit.RPS,
			Burst: cfg.RateLimit.Burst,
		}))
		h.Register(r)
	})
	return r
}
