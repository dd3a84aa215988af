package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap/zaptest"
)

type noopTelemetry struct{}

func (noopTelemetry) TracerProvider() trace.TracerProvider { return tracenoop.NewTracerProvider() }
func (noopTelemetry) MeterProvider() metric.MeterProvider  { return metricnoop.NewMeterProvider() }

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

// startServer runs the full application on memory storage with the demo
// data set and returns its base URL.
func startServer(t *testing.T) string {
	t.Helper()

	cfg := &Config{
		Addr:         freeAddr(t),
		Storage:      StorageMemory,
		APIKeyPepper: "test-pepper",
		Currency:     "INR",
		Demo:         true,
		RateLimit:    RateLimitConfig{Max: 1000, Window: time.Minute},
		CORS:         CORSConfig{Origins: []string{"*"}},
		Graceful:     GracefulConfig{ShutdownTimeout: 5 * time.Second},
	}
	require.NoError(t, cfg.validate())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, zaptest.NewLogger(t), noopTelemetry{}, cfg) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Error("server did not stop")
		}
	})

	base := "http://" + cfg.Addr
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/readyz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)
	return base
}

func do(t *testing.T, method, url, key string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("api_key", key)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if resp.ContentLength != 0 && resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func TestRun_Health(t *testing.T) {
	base := startServer(t)

	for _, path := range []string{"/livez", "/readyz"} {
		t.Run(path, func(t *testing.T) {
			resp, body := do(t, http.MethodGet, base+path, "", nil)
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, "ok", body["status"])
		})
	}
}

func TestRun_Middleware(t *testing.T) {
	base := startServer(t)

	t.Run("RequestIDGenerated", func(t *testing.T) {
		resp, _ := do(t, http.MethodGet, base+"/livez", "", nil)
		assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	})

	t.Run("RequestIDEchoed", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, base+"/livez", nil)
		require.NoError(t, err)
		req.Header.Set("X-Request-ID", "custom-request-id-12345")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, "custom-request-id-12345", resp.Header.Get("X-Request-ID"))
	})

	t.Run("CORSPreflight", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodOptions, base+"/api/cart", nil)
		require.NoError(t, err)
		req.Header.Set("Origin", "http://example.com")
		req.Header.Set("Access-Control-Request-Method", "PUT")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
		assert.NotEmpty(t, resp.Header.Get("Access-Control-Allow-Origin"))
		assert.NotEmpty(t, resp.Header.Get("Access-Control-Allow-Methods"))
	})

	t.Run("RateLimitHeaders", func(t *testing.T) {
		resp, _ := do(t, http.MethodGet, base+"/api/cart", demoCustomerKey, nil)
		assert.Equal(t, "1000", resp.Header.Get("X-RateLimit-Limit"))
		assert.NotEmpty(t, resp.Header.Get("X-RateLimit-Remaining"))
	})

	t.Run("MissingKey", func(t *testing.T) {
		resp, _ := do(t, http.MethodGet, base+"/api/cart", "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestRun_DemoCheckout(t *testing.T) {
	base := startServer(t)
	api := base + "/api"

	resp, _ := do(t, http.MethodPut, api+"/cart/items", demoCustomerKey, map[string]any{
		"productId": "tshirt", "variantId": "m-black", "quantity": 1,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, api+"/checkout/init", demoCustomerKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, preview := do(t, http.MethodPost, api+"/checkout/coupon", demoCustomerKey, map[string]any{"code": "WELCOME10"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, preview["coupon"])

	resp, placed := do(t, http.MethodPost, api+"/checkout/order", demoCustomerKey, map[string]any{
		"paymentMethod": "cod", "shippingAddressId": "home",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, settled := do(t, http.MethodPost, api+"/payment/confirm-cod", demoCustomerKey, map[string]any{
		"paymentId": placed["paymentId"],
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	number, _ := settled["orderNumber"].(string)
	require.NotEmpty(t, number)

	resp, o := do(t, http.MethodGet, api+"/orders/"+number, demoCustomerKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "WELCOME10", o["couponCode"])

	resp, _ = do(t, http.MethodGet, api+"/admin/payments/unfulfilled", demoCustomerKey, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, list := do(t, http.MethodGet, api+"/admin/payments/unfulfilled", demoAdminKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, list["payments"])
}
