package checkout_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap/zaptest"

	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/notify"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/payment"
	"github.com/xenking/kart-checkout/internal/storage/memory"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

const gatewaySecret = "test-secret"

type fakeGateway struct {
	mu     sync.Mutex
	orders int
}

func (g *fakeGateway) CreateOrder(_ context.Context, _ decimal.Decimal, _, _ string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.orders++
	return fmt.Sprintf("gw_order_%d", g.orders), nil
}

func (g *fakeGateway) VerifySignature(orderID, paymentID, signature string) bool {
	return hmac.Equal([]byte(sign(orderID, paymentID)), []byte(signature))
}

func (g *fakeGateway) KeyID() string { return "key_test" }

func sign(orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(gatewaySecret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

const validOTP = "123456"

type fakeWallet struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
	debits   map[string]decimal.Decimal
}

func newFakeWallet() *fakeWallet {
	return &fakeWallet{
		balances: make(map[string]decimal.Decimal),
		debits:   make(map[string]decimal.Decimal),
	}
}

func (w *fakeWallet) setBalance(account string, v decimal.Decimal) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.balances[account] = v
}

func (w *fakeWallet) balance(account string) decimal.Decimal {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balances[account]
}

func (w *fakeWallet) debitCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.debits)
}

func (w *fakeWallet) SendOTP(context.Context, string) error { return nil }

func (w *fakeWallet) VerifyOTP(_ context.Context, _, otp string) (bool, error) {
	return otp == validOTP, nil
}

func (w *fakeWallet) Balance(_ context.Context, account string) (decimal.Decimal, error) {
	return w.balance(account), nil
}

func (w *fakeWallet) Debit(_ context.Context, account string, amount decimal.Decimal, reference string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.debits[reference]; ok {
		return "txn_" + reference, nil
	}
	if w.balances[account].LessThan(amount) {
		return "", payment.ErrWalletInsufficientFunds
	}
	w.balances[account] = w.balances[account].Sub(amount)
	w.debits[reference] = amount
	return "txn_" + reference, nil
}

type recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recorder) Dispatch(_ context.Context, e notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) types() []notify.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notify.Type, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

type env struct {
	store  *memory.Store
	svc    *checkout.Service
	wallet *fakeWallet
	events *recorder
}

func newEnv(t *testing.T, pricing order.Pricing, opts ...func(*checkout.Deps)) *env {
	t.Helper()

	store := memory.New()
	e := &env{store: store, wallet: newFakeWallet(), events: &recorder{}}
	deps := checkout.Deps{
		Carts:     store.Carts(),
		Catalog:   store.Catalog(),
		Sessions:  store.Sessions(),
		Coupons:   store.Coupons(),
		Addresses: store.Addresses(),
		Payments:  store.Payments(),
		Orders:    store.Orders(),
		Tx:        store,
		Gateway:   &fakeGateway{},
		Wallet:    e.wallet,
		Notifier:  e.events,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	svc, err := checkout.NewService(
		checkout.Config{Currency: "INR", Pricing: pricing},
		deps,
		zaptest.NewLogger(t),
		tracenoop.NewTracerProvider(),
		metricnoop.NewMeterProvider(),
	)
	require.NoError(t, err)
	e.svc = svc
	return e
}

var (
	shirt = catalog.Ref{ProductID: "tshirt", VariantID: "m-black"}
	mug   = catalog.Ref{ProductID: "mug", VariantID: "white"}
)

func (e *env) addVariant(ref catalog.Ref, name, category, price string, stock int) {
	e.store.AddVariant(catalog.Variant{
		Ref:      ref,
		Name:     name,
		Category: category,
		Price:    d(price),
		Stock:    stock,
	})
}

func (e *env) addCoupon(code string, typ coupon.DiscountType, value, minOrder string, usageCap *int) {
	now := time.Now()
	e.store.AddCoupon(coupon.Definition{
		ID:             "c-" + code,
		Code:           code,
		Type:           typ,
		Value:          d(value),
		MinOrderAmount: d(minOrder),
		Scope:          coupon.ScopeAll,
		ValidFrom:      now.Add(-24 * time.Hour),
		ValidTo:        now.Add(24 * time.Hour),
		UsageCap:       usageCap,
		Active:         true,
		Audience:       coupon.AudienceAll,
	})
}

type line struct {
	ref catalog.Ref
	qty int
}

// begin fills the cart, starts checkout, applies code when set and places
// the order with method.
func (e *env) begin(t *testing.T, userID, method, code string, lines ...line) *checkout.Placement {
	t.Helper()
	ctx := context.Background()

	e.store.AddAddress(userID, "home", order.Address{
		Name: "Test User", Line1: "1 Main St", City: "Pune", PostalCode: "411001", Country: "IN",
	})
	for _, l := range lines {
		_, err := e.svc.SetCartItem(ctx, userID, l.ref, l.qty)
		require.NoError(t, err)
	}
	_, err := e.svc.Init(ctx, userID)
	require.NoError(t, err)
	if code != "" {
		_, err = e.svc.ApplyCoupon(ctx, userID, code)
		require.NoError(t, err)
	}
	placed, err := e.svc.PlaceOrder(ctx, checkout.PlaceRequest{
		UserID:            userID,
		Method:            method,
		ShippingAddressID: "home",
	})
	require.NoError(t, err)
	return placed
}

func intPtr(v int) *int { return &v }

// failingUsages makes the next n coupon usage inserts fail.
type failingUsages struct {
	checkout.Transactor
	n atomic.Int32
}

func withFailingUsages(ft *failingUsages, n int32) func(*checkout.Deps) {
	return func(d *checkout.Deps) {
		ft.Transactor = d.Tx
		ft.n.Store(n)
		d.Tx = ft
	}
}

func (f *failingUsages) InTx(ctx context.Context, fn func(ctx context.Context, tx checkout.Tx) error) error {
	return f.Transactor.InTx(ctx, func(ctx context.Context, tx checkout.Tx) error {
		return fn(ctx, usageTx{Tx: tx, ledger: usageLedger{Ledger: tx.Coupons(), n: &f.n}})
	})
}

type usageTx struct {
	checkout.Tx
	ledger coupon.Ledger
}

func (t usageTx) Coupons() coupon.Ledger { return t.ledger }

type usageLedger struct {
	coupon.Ledger
	n *atomic.Int32
}

func (l usageLedger) InsertUsage(ctx context.Context, u coupon.Usage) error {
	if l.n.Add(-1) >= 0 {
		return errors.New("connection reset")
	}
	return l.Ledger.InsertUsage(ctx, u)
}
