package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/storage/postgres"
)

type seedFile struct {
	Products  []postgres.Product `json:"products"`
	Coupons   []coupon.Record    `json:"coupons"`
	Addresses []addressJSON      `json:"addresses"`
}

type addressJSON struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`
	order.Address
}

type keyFlags struct {
	customerKey  string
	customerUser string
	adminKey     string
	pepper       string
}

func main() {
	var (
		databaseURL string
		seedPath    string
		keys        keyFlags
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&seedPath, "seed-file", "db/seed/seed.json", "path to seed JSON file")
	flag.StringVar(&keys.customerKey, "customer-key", "", "customer API key to seed (or CHECKOUT_SEED_CUSTOMER_KEY env)")
	flag.StringVar(&keys.customerUser, "customer-user", "user-1", "user id owning the customer key")
	flag.StringVar(&keys.adminKey, "admin-key", "", "admin API key to seed (or CHECKOUT_SEED_ADMIN_KEY env)")
	flag.StringVar(&keys.pepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or CHECKOUT_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if keys.customerKey == "" {
		keys.customerKey = os.Getenv("CHECKOUT_SEED_CUSTOMER_KEY")
	}
	if keys.adminKey == "" {
		keys.adminKey = os.Getenv("CHECKOUT_SEED_ADMIN_KEY")
	}
	if keys.pepper == "" {
		keys.pepper = os.Getenv("CHECKOUT_API_KEY_PEPPER")
	}
	if keys.pepper == "" && (keys.customerKey != "" || keys.adminKey != "") {
		slog.Error("API key pepper is required to seed keys: set --api-key-pepper or CHECKOUT_API_KEY_PEPPER")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, seedPath, keys); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, seedPath string, keys keyFlags) error {
	data, err := loadSeed(seedPath)
	if err != nil {
		return err
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	seeder := postgres.NewSeeder(pool)

	for _, p := range data.Products {
		if err := seeder.UpsertProduct(ctx, p); err != nil {
			return err
		}
		slog.Info("upserted product", slog.String("id", p.ID), slog.Int("variants", len(p.Variants)))
	}

	for i, r := range data.Coupons {
		def, err := r.Definition()
		if err != nil {
			return errors.Wrapf(err, "coupon #%d", i+1)
		}
		if err := seeder.UpsertCoupon(ctx, def); err != nil {
			return err
		}
		slog.Info("upserted coupon", slog.String("code", def.Code), slog.String("scope", def.Scope))
	}

	for _, a := range data.Addresses {
		if err := seeder.UpsertAddress(ctx, a.UserID, a.ID, a.Address); err != nil {
			return err
		}
		slog.Info("upserted address", slog.String("id", a.ID), slog.String("user_id", a.UserID))
	}

	return seedKeys(ctx, seeder, keys)
}

func loadSeed(path string) (*seedFile, error) {
	slog.Info("reading seed file", slog.String("path", path))

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read seed file")
	}
	var data seedFile
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, errors.Wrap(err, "parse seed file")
	}
	return &data, nil
}

func seedKeys(ctx context.Context, seeder *postgres.Seeder, keys keyFlags) error {
	pepper := []byte(keys.pepper)
	for _, k := range []struct {
		raw string
		id  auth.Identity
	}{
		{keys.customerKey, auth.Identity{KeyID: "seed-customer", UserID: keys.customerUser, Role: auth.RoleCustomer}},
		{keys.adminKey, auth.Identity{KeyID: "seed-admin", UserID: "ops", Role: auth.RoleAdmin}},
	} {
		if k.raw == "" {
			continue
		}
		k.id.KeyHash = auth.HashKey(pepper, k.raw)
		if err := seeder.UpsertAPIKey(ctx, k.id); err != nil {
			return err
		}
		slog.Info("upserted API key", slog.String("id", k.id.KeyID), slog.String("role", string(k.id.Role)))
	}
	return nil
}
