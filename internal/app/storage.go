package app

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/storage/memory"
	"github.com/xenking/kart-checkout/internal/storage/postgres"
	"github.com/xenking/kart-checkout/internal/storage/redisstore"
	"github.com/xenking/kart-checkout/pkg/health"
)

// backend is the persistence side of the service: the storage-backed part
// of checkout.Deps plus API key lookup.
type backend struct {
	deps    checkout.Deps
	apiKeys auth.Repository
	// redis is nil for memory storage.
	redis *redis.Client
	close func()
}

func openBackend(ctx context.Context, lg *zap.Logger, cfg *Config, hs *health.Health) (*backend, error) {
	if cfg.Storage == StorageMemory {
		return openMemory(lg, cfg), nil
	}
	return openPostgres(ctx, cfg, hs)
}

func openPostgres(ctx context.Context, cfg *Config, hs *health.Health) (_ *backend, rerr error) {
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "create db pool")
	}
	defer func() {
		if rerr != nil {
			pool.Close()
		}
	}()
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return nil, errors.Wrap(err, "run migrations")
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(err, "ping redis")
	}

	hs.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	hs.AddReadinessCheck("redis", 2*time.Second, func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})

	return &backend{
		deps: checkout.Deps{
			Carts:     redisstore.NewCartStore(rdb, cfg.Sessions.CartTTL),
			Sessions:  redisstore.NewSessionStore(rdb, cfg.Sessions.CheckoutTTL),
			Catalog:   postgres.NewCatalogRepository(pool),
			Coupons:   postgres.NewCouponRepository(pool),
			Addresses: postgres.NewAddressRepository(pool),
			Payments:  postgres.NewPaymentRepository(pool),
			Orders:    postgres.NewOrderRepository(pool),
			Tx:        postgres.NewTransactor(pool),
		},
		apiKeys: postgres.NewAPIKeyRepository(pool),
		redis:   rdb,
		close: func() {
			_ = rdb.Close()
			pool.Close()
		},
	}, nil
}

func openMemory(lg *zap.Logger, cfg *Config) *backend {
	store := memory.New()
	if cfg.Demo {
		seedDemo(store, []byte(cfg.APIKeyPepper), time.Now())
		lg.Warn("Serving demo data from memory",
			zap.String("customer_key", demoCustomerKey),
			zap.String("admin_key", demoAdminKey),
		)
	}
	return &backend{
		deps: checkout.Deps{
			Carts:     store.Carts(),
			Sessions:  store.Sessions(),
			Catalog:   store.Catalog(),
			Coupons:   store.Coupons(),
			Addresses: store.Addresses(),
			Payments:  store.Payments(),
			Orders:    store.Orders(),
			Tx:        store,
		},
		apiKeys: store.APIKeys(),
		close:   func() {},
	}
}
