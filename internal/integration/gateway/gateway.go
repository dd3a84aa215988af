// Package gateway is the HTTP client of the redirect payment gateway.
// Orders are created server-side; the browser completes payment and returns
// a signature that is verified here.
package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/payment"
)

// Config holds the gateway credentials.
type Config struct {
	BaseURL   string        `yaml:"base_url" default:"https://api.razorpay.com" usage:"payment gateway API base URL"`
	KeyID     string        `yaml:"key_id" usage:"public gateway key id"`
	KeySecret string        `yaml:"key_secret" usage:"gateway key secret, also used to verify signatures"`
	Timeout   time.Duration `yaml:"timeout" default:"10s" usage:"gateway request timeout"`
}

var _ payment.Gateway = (*Client)(nil)

// Client talks to the gateway. Calls go through a circuit breaker that
// opens after consecutive transport or server failures.
type Client struct {
	cfg  Config
	http *http.Client
	cb   *gobreaker.CircuitBreaker[[]byte]
	lg   *zap.Logger
}

// StatusError is a non-2xx gateway response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway responded %d: %s", e.Code, e.Body)
}

// New creates a Client.
func New(cfg Config, lg *zap.Logger, tp trace.TracerProvider, mp metric.MeterProvider) *Client {
	c := &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport,
				otelhttp.WithTracerProvider(tp),
				otelhttp.WithMeterProvider(mp),
			),
		},
		lg: lg,
	}
	c.cb = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "payment-gateway",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: isBreakerSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			lg.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
	})
	return c
}

// Client errors say nothing about the health of the gateway.
func isBreakerSuccess(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code < http.StatusInternalServerError
	}
	return err == nil
}

type createOrderRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

type createOrderResponse struct {
	ID string `json:"id"`
}

// CreateOrder registers an order of amount with the gateway and returns its
// reference. Amounts are sent in minor units.
func (c *Client) CreateOrder(ctx context.Context, amount decimal.Decimal, currency, receipt string) (string, error) {
	body, err := json.Marshal(createOrderRequest{
		Amount:   amount.Shift(2).Round(0).IntPart(),
		Currency: currency,
		Receipt:  receipt,
	})
	if err != nil {
		return "", errors.Wrap(err, "marshal order")
	}

	data, err := c.cb.Execute(func() ([]byte, error) {
		return c.post(ctx, "/v1/orders", body)
	})
	if err != nil {
		return "", errors.Wrap(err, "create order")
	}

	var resp createOrderResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", errors.Wrap(err, "decode order")
	}
	if resp.ID == "" {
		return "", errors.New("gateway returned empty order id")
	}
	return resp.ID, nil
}

func (c *Client) post(ctx context.Context, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.cfg.KeyID, c.cfg.KeySecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		return nil, &StatusError{Code: resp.StatusCode, Body: string(data)}
	}
	return data, nil
}

// VerifySignature checks the HMAC-SHA256 of "orderID|paymentID" under the
// key secret in constant time.
func (c *Client) VerifySignature(orderID, paymentID, signature string) bool {
	want := Sign(c.cfg.KeySecret, orderID, paymentID)
	return hmac.Equal([]byte(want), []byte(strings.ToLower(signature)))
}

// KeyID is the public key the client hands to the browser checkout.
func (c *Client) KeyID() string { return c.cfg.KeyID }

// Sign returns the hex signature the gateway issues for a payment.
func Sign(secret, orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}
