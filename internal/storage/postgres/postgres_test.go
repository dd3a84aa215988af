//go:build integration

package postgres

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/inventory"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/payment"
)

func setupPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	ctr, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("checkout"),
		tcpostgres.WithUsername("checkout"),
		tcpostgres.WithPassword("checkout"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := ctr.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, RunMigrations(ctx, pool))
	// Migrations are idempotent.
	require.NoError(t, RunMigrations(ctx, pool))

	_, err = pool.Exec(ctx, `
		INSERT INTO products (id, name, category) VALUES ('tshirt', 'Tee', 'apparel');
		INSERT INTO product_variants (product_id, id, name, price, stock) VALUES
			('tshirt', 'm-black', 'M Black', 469.66, 3),
			('tshirt', 'l-white', '', 99.00, 1);
		INSERT INTO coupons (id, code, discount_type, value, max_discount, min_order_amount,
			scope, valid_from, valid_to, usage_cap, audience)
		VALUES ('c1', 'SAVE10', 'percentage', 10, 500, 0, 'all',
			now() - interval '1 day', now() + interval '1 day', 2, 'specific');
		INSERT INTO coupon_audience (coupon_id, user_id) VALUES ('c1', 'u1'), ('c1', 'u2');
		INSERT INTO addresses (id, user_id, name, line1, city, postal_code, country)
		VALUES ('a1', 'u1', 'Test User', '1 Main St', 'Pune', '411001', 'IN');
		INSERT INTO api_keys (id, key_hash, user_id, role) VALUES ('k1', 'hash-1', 'u1', 'admin');
	`)
	require.NoError(t, err)
	return pool
}

var (
	black = catalog.Ref{ProductID: "tshirt", VariantID: "m-black"}
	white = catalog.Ref{ProductID: "tshirt", VariantID: "l-white"}
)

func TestRepositories(t *testing.T) {
	pool := setupPool(t)
	ctx := context.Background()

	t.Run("catalog", func(t *testing.T) {
		vs, err := NewCatalogRepository(pool).GetVariants(ctx, []catalog.Ref{white, black, {ProductID: "x", VariantID: "y"}})
		require.NoError(t, err)
		require.Len(t, vs, 2)
		assert.Equal(t, white, vs[0].Ref)
		assert.Equal(t, "Tee", vs[0].Name)
		assert.Equal(t, "Tee (M Black)", vs[1].Name)
		assert.Equal(t, "469.66", vs[1].Price.StringFixed(2))
		assert.Equal(t, "apparel", vs[1].Category)
	})

	t.Run("coupon", func(t *testing.T) {
		d, err := NewCouponRepository(pool).FindByCode(ctx, "save10")
		require.NoError(t, err)
		assert.Equal(t, "c1", d.ID)
		assert.Equal(t, coupon.DiscountPercentage, d.Type)
		require.NotNil(t, d.UsageCap)
		assert.Equal(t, 2, *d.UsageCap)
		assert.True(t, d.MaxDiscount.Valid)
		assert.Equal(t, []string{"u1", "u2"}, d.AllowedUsers)

		_, err = NewCouponRepository(pool).FindByCode(ctx, "nope")
		require.ErrorIs(t, err, coupon.ErrNotFound)
	})

	t.Run("address", func(t *testing.T) {
		book := NewAddressRepository(pool)
		a, err := book.Address(ctx, "u1", "a1")
		require.NoError(t, err)
		assert.Equal(t, "Pune", a.City)

		_, err = book.Address(ctx, "u2", "a1")
		require.ErrorIs(t, err, checkout.ErrAddressNotFound)
	})

	t.Run("api key", func(t *testing.T) {
		keys := NewAPIKeyRepository(pool)
		id, err := keys.FindByHash(ctx, "hash-1")
		require.NoError(t, err)
		assert.Equal(t, "u1", id.UserID)
		assert.True(t, id.IsAdmin())

		_, err = keys.FindByHash(ctx, "hash-2")
		require.ErrorIs(t, err, auth.ErrUnauthorized)
	})
}

func newPayment(id string) *payment.Payment {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &payment.Payment{
		ID:       id,
		UserID:   "u1",
		Amount:   decimal.RequireFromString("939.32"),
		Currency: "INR",
		Method:   payment.MethodGateway,
		Status:   payment.StatusPending,
		Gateway:  payment.GatewayDetails{OrderID: "gw_1"},
		Checkout: payment.Checkout{
			Snapshot: cart.Snapshot{
				UserID: "u1",
				Lines: []cart.SnapshotLine{{
					ProductID: black.ProductID, VariantID: black.VariantID, Name: "Tee (M Black)",
					Category: "apparel", Quantity: 2,
					UnitPrice: decimal.RequireFromString("469.66"), LineTotal: decimal.RequireFromString("939.32"),
				}},
				Subtotal: decimal.RequireFromString("939.32"),
				Currency: "INR",
			},
			Coupon:   &payment.AppliedCoupon{ID: "c1", Code: "SAVE10", Discount: decimal.RequireFromString("93.93")},
			Shipping: order.Address{Name: "Test User", City: "Pune"},
			Billing:  order.Address{Name: "Test User", City: "Pune"},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestSettlementTransaction(t *testing.T) {
	pool := setupPool(t)
	ctx := context.Background()
	payments := NewPaymentRepository(pool)
	tx := NewTransactor(pool)

	p := newPayment("p1")
	require.NoError(t, payments.Create(ctx, p))

	got, err := payments.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "939.32", got.Amount.StringFixed(2))
	require.NotNil(t, got.Checkout.Coupon)
	assert.Equal(t, "93.93", got.Checkout.Coupon.Discount.StringFixed(2))
	require.Len(t, got.Checkout.Snapshot.Lines, 1)

	// Reserve a number that the sequence will hand out next so the builder
	// has to retry.
	taken := order.FormatNumber(time.Now(), 1)
	_, err = pool.Exec(ctx, `INSERT INTO orders (id, order_number, user_id, payment_id, payment_method,
		status, payment_status, subtotal, tax, shipping_charge, discount, coupon_discount, total,
		shipping_address, billing_address)
		VALUES ('o0', $1, 'u9', 'p0', 'cod', 'pending', 'pending', 0, 0, 0, 0, 0, 0, '{}', '{}')`, taken)
	require.NoError(t, err)

	var number string
	err = tx.InTx(ctx, func(ctx context.Context, tx checkout.Tx) error {
		locked, err := tx.Payments().Lock(ctx, "p1")
		if err != nil {
			return err
		}
		if err := locked.Transition(payment.StatusSuccessful); err != nil {
			return err
		}
		if err := coupon.Admit(ctx, tx.Coupons(), &coupon.Definition{ID: "c1", Code: "SAVE10"}); err != nil {
			return err
		}
		o, err := order.NewBuilder().Build(ctx, tx.Stock(), tx.Orders(), order.Request{
			UserID:        locked.UserID,
			PaymentID:     locked.ID,
			PaymentMethod: string(locked.Method),
			Status:        order.StatusConfirmed,
			PaymentStatus: order.PaymentPaid,
			Snapshot:      &locked.Checkout.Snapshot,
			CouponID:      "c1",
			CouponCode:    "SAVE10",
			Shipping:      locked.Checkout.Shipping,
			Billing:       locked.Checkout.Billing,
		})
		if err != nil {
			return err
		}
		locked.OrderNumber = o.Number
		locked.Fulfillment = payment.FulfillmentFulfilled
		number = o.Number
		return tx.Payments().Update(ctx, locked)
	})
	require.NoError(t, err)
	assert.NotEqual(t, taken, number)
	assert.Equal(t, order.FormatNumber(time.Now(), 2), number)

	o, err := NewOrderRepository(pool).GetByNumber(ctx, number)
	require.NoError(t, err)
	assert.Equal(t, "p1", o.PaymentID)
	assert.Equal(t, "c1", o.CouponID)
	assert.Equal(t, "Pune", o.ShippingAddress.City)
	require.Len(t, o.Items, 1)
	assert.Equal(t, 2, o.Items[0].Quantity)

	_, err = NewOrderRepository(pool).GetByNumber(ctx, "ORD-missing")
	require.ErrorIs(t, err, order.ErrNotFound)

	vs, err := NewCatalogRepository(pool).GetVariants(ctx, []catalog.Ref{black})
	require.NoError(t, err)
	assert.Equal(t, 1, vs[0].Stock)

	// The order is admitted but unrecorded, so it counts against the cap.
	err = tx.InTx(ctx, func(ctx context.Context, tx checkout.Tx) error {
		c, err := tx.Coupons().Lock(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, 0, c.Used)
		assert.Equal(t, 1, c.Pending)
		return nil
	})
	require.NoError(t, err)

	usage := coupon.Usage{CouponID: "c1", UserID: "u1", OrderNumber: number,
		Discount: decimal.RequireFromString("93.93"), UsedAt: time.Now()}
	for range 2 {
		err = tx.InTx(ctx, func(ctx context.Context, tx checkout.Tx) error {
			_, err := coupon.RecordUsage(ctx, tx.Coupons(), usage)
			return err
		})
		require.NoError(t, err)
	}
	err = tx.InTx(ctx, func(ctx context.Context, tx checkout.Tx) error {
		c, err := tx.Coupons().Lock(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, 1, c.Used)
		assert.Equal(t, 0, c.Pending)
		return nil
	})
	require.NoError(t, err)

	got, err = payments.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusSuccessful, got.Status)
	assert.Equal(t, number, got.OrderNumber)
}

func TestStockReservation_RollsBack(t *testing.T) {
	pool := setupPool(t)
	ctx := context.Background()
	tx := NewTransactor(pool)

	err := tx.InTx(ctx, func(ctx context.Context, tx checkout.Tx) error {
		return inventory.Reserve(ctx, tx.Stock(), []inventory.Line{
			{Ref: black, Name: "Tee (M Black)", Quantity: 2},
			{Ref: white, Name: "Tee", Quantity: 2},
		})
	})
	var serr *inventory.InsufficientStockError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "only 1 unit left of Tee", serr.Error())

	vs, err := NewCatalogRepository(pool).GetVariants(ctx, []catalog.Ref{black, white})
	require.NoError(t, err)
	for _, v := range vs {
		if v.Ref == black {
			assert.Equal(t, 3, v.Stock)
		} else {
			assert.Equal(t, 1, v.Stock)
		}
	}
}

func TestStockReservation_LastUnit(t *testing.T) {
	pool := setupPool(t)
	ctx := context.Background()
	tx := NewTransactor(pool)

	const workers = 4
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = tx.InTx(ctx, func(ctx context.Context, tx checkout.Tx) error {
				return inventory.Reserve(ctx, tx.Stock(), []inventory.Line{{Ref: white, Name: "Tee", Quantity: 1}})
			})
		}()
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		var serr *inventory.InsufficientStockError
		require.ErrorAs(t, err, &serr)
	}
	assert.Equal(t, 1, ok)
}

func TestSeeder_ImportCoupons(t *testing.T) {
	pool := setupPool(t)
	ctx := context.Background()
	seeder := NewSeeder(pool)

	capped := 50
	window := func(d coupon.Definition) coupon.Definition {
		d.Type = coupon.DiscountFixed
		d.Value = decimal.NewFromInt(25)
		d.MinOrderAmount = decimal.Zero
		d.Scope = coupon.ScopeAll
		d.ValidFrom = time.Now().Add(-time.Hour)
		d.ValidTo = time.Now().Add(time.Hour)
		d.Active = true
		if d.Audience == "" {
			d.Audience = coupon.AudienceAll
		}
		return d
	}

	n, err := seeder.ImportCoupons(ctx, []coupon.Definition{
		window(coupon.Definition{ID: "cpn_bulk1", Code: "BULK1", UsageCap: &capped}),
		window(coupon.Definition{ID: "cpn_bulk2", Code: "BULK2", Audience: coupon.AudienceSpecific, AllowedUsers: []string{"u9"}}),
		// Existing code, skipped.
		window(coupon.Definition{ID: "cpn_save10", Code: "SAVE10"}),
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	repo := NewCouponRepository(pool)
	d, err := repo.FindByCode(ctx, "bulk1")
	require.NoError(t, err)
	require.NotNil(t, d.UsageCap)
	assert.Equal(t, 50, *d.UsageCap)
	assert.Zero(t, d.UsageCount)

	d, err = repo.FindByCode(ctx, "BULK2")
	require.NoError(t, err)
	assert.Equal(t, []string{"u9"}, d.AllowedUsers)

	d, err = repo.FindByCode(ctx, "SAVE10")
	require.NoError(t, err)
	assert.Equal(t, "c1", d.ID, "existing coupon untouched")

	// Re-importing is a no-op.
	n, err = seeder.ImportCoupons(ctx, []coupon.Definition{window(coupon.Definition{ID: "cpn_bulk1", Code: "BULK1"})})
	require.NoError(t, err)
	assert.Zero(t, n)
}
