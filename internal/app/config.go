package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/integration/events"
	"github.com/xenking/kart-checkout/internal/integration/gateway"
	"github.com/xenking/kart-checkout/internal/integration/wallet"
)

const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Config is the api-server configuration.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"Listen address"`
	Storage      string `default:"postgres" usage:"Storage backend: postgres or memory" flag:"storage"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (CHECKOUT_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	RedisURL     string `usage:"Redis URL for carts and checkout sessions (CHECKOUT_REDIS_URL or REDIS_URL)" flag:"redis-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (CHECKOUT_API_KEY_PEPPER)" flag:"api-key-pepper"`
	Currency     string `default:"INR" usage:"Currency of catalog prices"`
	Demo         bool   `default:"false" usage:"Seed a demo catalog and API keys (memory storage only)" flag:"demo"`
	Pricing      PricingConfig
	Sessions     SessionConfig
	Gateway      gateway.Config
	Wallet       wallet.Config
	Events       events.Config
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// PricingConfig is the tax and shipping policy. Values are decimal strings
// so no precision is lost on the way in.
type PricingConfig struct {
	TaxRate          string `default:"0" usage:"Tax rate applied to the subtotal, e.g. 0.18"`
	ShippingCharge   string `default:"0" usage:"Flat shipping charge"`
	FreeShippingOver string `default:"0" usage:"Subtotal at which shipping is free, 0 disables"`
	DiscountRate     string `default:"0" usage:"Store-wide discount rate applied to the subtotal"`
}

// Policy parses the configured values.
func (p PricingConfig) Policy() (order.Pricing, error) {
	var (
		out order.Pricing
		err error
	)
	for _, f := range []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"tax rate", p.TaxRate, &out.TaxRate},
		{"shipping charge", p.ShippingCharge, &out.ShippingCharge},
		{"free shipping threshold", p.FreeShippingOver, &out.FreeShippingOver},
		{"discount rate", p.DiscountRate, &out.DiscountRate},
	} {
		if f.raw == "" {
			*f.dst = decimal.Zero
			continue
		}
		if *f.dst, err = decimal.NewFromString(f.raw); err != nil {
			return order.Pricing{}, errors.Wrapf(err, "parse %s", f.name)
		}
		if f.dst.IsNegative() {
			return order.Pricing{}, errors.Errorf("%s must not be negative", f.name)
		}
	}
	return out, nil
}

// SessionConfig controls how long carts and checkout sessions live.
type SessionConfig struct {
	CheckoutTTL time.Duration `default:"30m" usage:"Checkout session lifetime"`
	CartTTL     time.Duration `default:"720h" usage:"Idle cart lifetime, 0 keeps carts forever"`
}

// RateLimitConfig bounds requests per api_key (or client IP) over a
// sliding window. Redis backs the counters when configured.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Requests allowed per caller per window"`
	Window time.Duration `default:"1m" usage:"Sliding window length"`
}

type CORSConfig struct {
	Origins          []string `default:"*" usage:"Origins allowed to call the API"`
	AllowCredentials bool     `default:"false" usage:"Send Access-Control-Allow-Credentials" flag:"cors-credentials"`
}

// GracefulConfig: readiness flips to false, traffic drains for
// ReadinessDelay, then the server gets ShutdownTimeout to finish.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s" usage:"Drain period after readiness goes false" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Upper bound on server shutdown" flag:"shutdown-timeout"`
}

// LoadConfig reads flags, CHECKOUT_* variables and an optional config.yaml.
func LoadConfig() (*Config, error) {
	cfg := new(Config)
	err := aconfig.LoaderFor(cfg, aconfig.Config{
		EnvPrefix:    "CHECKOUT",
		Files:        []string{"config.yaml", "/etc/checkout/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{".yaml": aconfigyaml.New()},
	}).Load()
	if err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.fallbackEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage {
	case StorageMemory:
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return errors.New("postgres storage needs CHECKOUT_DATABASE_URL or DATABASE_URL")
		}
		if c.RedisURL == "" {
			return errors.New("postgres storage needs CHECKOUT_REDIS_URL or REDIS_URL")
		}
	default:
		return errors.Errorf("unknown storage %q", c.Storage)
	}
	if c.APIKeyPepper == "" {
		return errors.New("CHECKOUT_API_KEY_PEPPER is not set")
	}
	if _, err := c.Pricing.Policy(); err != nil {
		return errors.Wrap(err, "pricing")
	}
	return nil
}

// fallbackEnv honours the unprefixed DATABASE_URL, REDIS_URL and PORT that
// hosting platforms inject.
func (c *Config) fallbackEnv() {
	for _, v := range []struct {
		dst *string
		env string
	}{
		{&c.DatabaseURL, "DATABASE_URL"},
		{&c.RedisURL, "REDIS_URL"},
	} {
		if *v.dst == "" {
			*v.dst = os.Getenv(v.env)
		}
	}
	if port, ok := os.LookupEnv("PORT"); ok && port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
