package handler_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap/zaptest"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/handler"
	"github.com/xenking/kart-checkout/internal/storage/memory"
)

var pepper = []byte("test-pepper")

const (
	customerKey = "ck_live_customer"
	otherKey    = "ck_live_other"
	adminKey    = "ck_live_admin"
	secret      = "gw-secret"
)

type stubGateway struct{}

func (stubGateway) CreateOrder(context.Context, decimal.Decimal, string, string) (string, error) {
	return "gw_order_1", nil
}

func (stubGateway) VerifySignature(orderID, paymentID, signature string) bool {
	return hmac.Equal([]byte(sign(orderID, paymentID)), []byte(signature))
}

func (stubGateway) KeyID() string { return "key_test" }

func sign(orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

var tee = catalog.Ref{ProductID: "tshirt", VariantID: "m-black"}

func newServer(t *testing.T) (*httptest.Server, *memory.Store) {
	t.Helper()

	store := memory.New()
	store.AddVariant(catalog.Variant{
		Ref: tee, Name: "Black Tee", Category: "apparel",
		Price: decimal.RequireFromString("250"), Stock: 3,
	})
	store.AddCoupon(coupon.Definition{
		ID: "c-BIG", Code: "BIG", Type: coupon.DiscountFixed,
		Value: decimal.RequireFromString("100"), MinOrderAmount: decimal.RequireFromString("5000"),
		Scope: coupon.ScopeAll, Active: true, Audience: coupon.AudienceAll,
		ValidFrom: time.Now().Add(-time.Hour), ValidTo: time.Now().Add(time.Hour),
	})
	for _, u := range []string{"u1", "u2"} {
		store.AddAddress(u, "home", order.Address{Name: "Test", Line1: "1 Main St", City: "Pune", Country: "IN"})
	}
	store.AddAPIKey(auth.Identity{KeyID: "k1", KeyHash: auth.HashKey(pepper, customerKey), UserID: "u1", Role: auth.RoleCustomer})
	store.AddAPIKey(auth.Identity{KeyID: "k2", KeyHash: auth.HashKey(pepper, otherKey), UserID: "u2", Role: auth.RoleCustomer})
	store.AddAPIKey(auth.Identity{KeyID: "k3", KeyHash: auth.HashKey(pepper, adminKey), UserID: "ops", Role: auth.RoleAdmin})

	svc, err := checkout.NewService(
		checkout.Config{Currency: "INR"},
		checkout.Deps{
			Carts:     store.Carts(),
			Catalog:   store.Catalog(),
			Sessions:  store.Sessions(),
			Coupons:   store.Coupons(),
			Addresses: store.Addresses(),
			Payments:  store.Payments(),
			Orders:    store.Orders(),
			Tx:        store,
			Gateway:   stubGateway{},
		},
		zaptest.NewLogger(t),
		tracenoop.NewTracerProvider(),
		metricnoop.NewMeterProvider(),
	)
	require.NoError(t, err)

	h := handler.NewHandler(svc)
	srv := httptest.NewServer(h.Router(handler.NewSecurityHandler(store.APIKeys(), pepper)))
	t.Cleanup(srv.Close)
	return srv, store
}

func call(t *testing.T, srv *httptest.Server, method, path, key string, body any) (int, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	require.NoError(t, err)
	if key != "" {
		req.Header.Set(handler.APIKeyHeader, key)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func fillCart(t *testing.T, srv *httptest.Server, key string, qty int) {
	t.Helper()
	status, _ := call(t, srv, http.MethodPut, "/api/cart/items", key, map[string]any{
		"productId": tee.ProductID, "variantId": tee.VariantID, "quantity": qty,
	})
	require.Equal(t, http.StatusOK, status)
}

func TestCODFlow(t *testing.T) {
	srv, store := newServer(t)

	fillCart(t, srv, customerKey, 2)

	status, cart := call(t, srv, http.MethodGet, "/api/cart", customerKey, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, cart["lines"], 1)

	status, preview := call(t, srv, http.MethodPost, "/api/checkout/init", customerKey, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "500", preview["totals"].(map[string]any)["subtotal"])

	status, placed := call(t, srv, http.MethodPost, "/api/checkout/order", customerKey, map[string]any{
		"paymentMethod": "cod", "shippingAddressId": "home",
	})
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "pending", placed["status"])
	paymentID := placed["paymentId"].(string)

	status, settled := call(t, srv, http.MethodPost, "/api/payment/confirm-cod", customerKey, map[string]any{
		"paymentId": paymentID,
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "cod_confirmed", settled["status"])
	number := settled["orderNumber"].(string)
	assert.Regexp(t, `^ORD\d{8}-000001$`, number)
	assert.Equal(t, 1, store.StockOf(tee))

	status, o := call(t, srv, http.MethodGet, "/api/orders/"+number, customerKey, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, number, o["orderNumber"])
	assert.Equal(t, "500", o["total"])

	status, _ = call(t, srv, http.MethodGet, "/api/orders/"+number, otherKey, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestErrorMapping(t *testing.T) {
	srv, _ := newServer(t)
	fillCart(t, srv, otherKey, 1)

	for _, tt := range []struct {
		name   string
		method string
		path   string
		key    string
		body   any
		status int
		check  func(t *testing.T, body map[string]any)
	}{
		{
			name: "MissingKey", method: http.MethodGet, path: "/api/cart",
			status: http.StatusUnauthorized,
		},
		{
			name: "UnknownKey", method: http.MethodGet, path: "/api/cart", key: "nope",
			status: http.StatusUnauthorized,
		},
		{
			name: "CustomerOnAdminRoute", method: http.MethodGet, path: "/api/admin/payments/unfulfilled", key: customerKey,
			status: http.StatusForbidden,
		},
		{
			name: "EmptyCart", method: http.MethodPost, path: "/api/checkout/init", key: customerKey,
			status: http.StatusBadRequest,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "cart", body["field"])
			},
		},
		{
			name: "MalformedBody", method: http.MethodPut, path: "/api/cart/items", key: customerKey, body: "oops",
			status: http.StatusBadRequest,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "body", body["field"])
			},
		},
		{
			name: "CouponBelowMinimum", method: http.MethodPost, path: "/api/checkout/coupon", key: otherKey,
			body:   map[string]any{"code": "BIG"},
			status: http.StatusUnprocessableEntity,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, coupon.ErrMinOrderNotMet.Error(), body["reason"])
			},
		},
		{
			name: "UnknownPayment", method: http.MethodPost, path: "/api/payment/confirm-cod", key: customerKey,
			body:   map[string]any{"paymentId": "missing"},
			status: http.StatusNotFound,
		},
		{
			name: "AdminListsUnfulfilled", method: http.MethodGet, path: "/api/admin/payments/unfulfilled", key: adminKey,
			status: http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				assert.Empty(t, body["payments"])
			},
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if tt.name == "CouponBelowMinimum" {
				status, _ := call(t, srv, http.MethodPost, "/api/checkout/init", otherKey, nil)
				require.Equal(t, http.StatusOK, status)
			}
			status, body := call(t, srv, tt.method, tt.path, tt.key, tt.body)
			assert.Equal(t, tt.status, status)
			if tt.status >= http.StatusBadRequest {
				assert.EqualValues(t, tt.status, body["code"])
			}
			if tt.check != nil {
				tt.check(t, body)
			}
		})
	}
}

func TestInsufficientStock(t *testing.T) {
	srv, _ := newServer(t)
	fillCart(t, srv, customerKey, 5)

	status, body := call(t, srv, http.MethodPost, "/api/checkout/init", customerKey, nil)
	require.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "only 3 units left of Black Tee", body["message"])
	assert.Equal(t, tee.ProductID, body["productId"])
	assert.EqualValues(t, 5, body["requested"])
	assert.EqualValues(t, 3, body["available"])
}

func TestVerifyGateway(t *testing.T) {
	srv, _ := newServer(t)
	fillCart(t, srv, customerKey, 1)

	status, _ := call(t, srv, http.MethodPost, "/api/checkout/init", customerKey, nil)
	require.Equal(t, http.StatusOK, status)
	status, placed := call(t, srv, http.MethodPost, "/api/checkout/order", customerKey, map[string]any{
		"paymentMethod": "gateway", "shippingAddressId": "home",
	})
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "key_test", placed["gatewayKeyId"])
	paymentID := placed["paymentId"].(string)
	orderID := placed["gatewayOrderId"].(string)

	req := map[string]any{
		"paymentId":        paymentID,
		"gatewayOrderId":   orderID,
		"gatewayPaymentId": "pay_1",
		"signature":        sign(orderID, "pay_1"),
	}
	status, settled := call(t, srv, http.MethodPost, "/api/payment/verify-gateway", customerKey, req)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "successful", settled["status"])
	assert.NotEmpty(t, settled["orderNumber"])

	req["signature"] = sign(orderID, "pay_other")
	status, again := call(t, srv, http.MethodPost, "/api/payment/verify-gateway", customerKey, req)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, settled["orderNumber"], again["orderNumber"])
}

func TestVerifyGateway_BadSignature(t *testing.T) {
	srv, _ := newServer(t)
	fillCart(t, srv, customerKey, 1)

	call(t, srv, http.MethodPost, "/api/checkout/init", customerKey, nil)
	_, placed := call(t, srv, http.MethodPost, "/api/checkout/order", customerKey, map[string]any{
		"paymentMethod": "gateway", "shippingAddressId": "home",
	})

	status, body := call(t, srv, http.MethodPost, "/api/payment/verify-gateway", customerKey, map[string]any{
		"paymentId":        placed["paymentId"],
		"gatewayOrderId":   placed["gatewayOrderId"],
		"gatewayPaymentId": "pay_1",
		"signature":        "deadbeef",
	})
	assert.Equal(t, http.StatusPaymentRequired, status)
	assert.Equal(t, "signature mismatch", body["reason"])
}
