package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (COUPONS_ prefix) or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (COUPONS_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	APIKeyPepper string `usage:"HMAC pepper for admin API key hashing" flag:"api-key-pepper"`
	MaxBodyBytes int64  `default:"1048576" usage:"Maximum request body size in bytes" flag:"max-body-bytes"`
	JWT          JWTConfig
	Redis        RedisConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// JWTConfig controls verification of shopper bearer tokens.
type JWTConfig struct {
	Secret string `usage:"HS256 secret for shopper bearer tokens" flag:"jwt-secret"`
	Issuer string `default:"" usage:"Expected iss claim; empty accepts any issuer" flag:"jwt-issuer"`
}

// RedisConfig controls the coupon lookup cache. An empty Addr disables it.
type RedisConfig struct {
	Addr     string        `default:"" usage:"Redis address host:port (or REDIS_URL)" flag:"redis-addr"`
	Password string        `default:"" usage:"Redis password" flag:"redis-password"`
	DB       int           `default:"0" usage:"Redis database number" flag:"redis-db"`
	TTL      time.Duration `default:"30s" usage:"Coupon cache entry lifetime" flag:"redis-ttl"`
}

// RateLimitConfig controls the per-client token bucket.
type RateLimitConfig struct {
	RPS   float64 `default:"20" usage:"Sustained requests per second per client"`
	Burst int     `default:"40" usage:"Burst size per client"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "COUPONS",
		SkipFlags: true,
		Files:     []string{"config.yaml", "/etc/coupons/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	if err := cfg.applyPlatformDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports missing required settings.
func (c *Config) Validate() error {
	switch {
	case c.DatabaseURL == "":
		return errors.New("database URL is required: set COUPONS_DATABASE_URL or DATABASE_URL")
	case c.JWT.Secret == "":
		return errors.New("JWT secret is required: set COUPONS_JWT_SECRET")
	case c.RateLimit.RPS <= 0:
		return errors.Errorf("rate limit must be positive, got %v", c.RateLimit.RPS)
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables
// (DATABASE_URL, PORT, REDIS_URL) onto the COUPONS_-prefixed configuration.
func (c *Config) applyPlatformDefaults() error {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
	if raw := os.Getenv("REDIS_URL"); raw != "" && c.Redis.Addr == "" {
		if err := c.Redis.fromURL(raw); err != nil {
			return errors.Wrap(err, "parse REDIS_URL")
		}
	}
	return nil
}

// fromURL fills the connection fields from redis://[:password@]host:port[/db].
func (r *RedisConfig) fromURL(raw string) error {
	opt, err := redis.ParseURL(raw)
	if err != nil {
		return err
	}
	r.Addr = opt.Addr
	r.Password = opt.Password
	r.DB = opt.DB
	return nil
}
