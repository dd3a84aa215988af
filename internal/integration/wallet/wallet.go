// Package wallet is the HTTP client of the stored-value wallet provider.
package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
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

// Config holds the wallet provider endpoint and credentials.
type Config struct {
	BaseURL string        `yaml:"base_url" default:"http://localhost:8090" usage:"wallet provider API base URL"`
	APIKey  string        `yaml:"api_key" usage:"wallet provider API key"`
	Timeout time.Duration `yaml:"timeout" default:"10s" usage:"wallet request timeout"`
}

var _ payment.Wallet = (*Client)(nil)

// Client calls the wallet provider through a circuit breaker.
type Client struct {
	cfg  Config
	http *http.Client
	cb   *gobreaker.CircuitBreaker[[]byte]
}

// StatusError is a non-2xx wallet response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("wallet responded %d: %s", e.Code, e.Body)
}

// New creates a Client.
func New(cfg Config, lg *zap.Logger, tp trace.TracerProvider, mp metric.MeterProvider) *Client {
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport,
				otelhttp.WithTracerProvider(tp),
				otelhttp.WithMeterProvider(mp),
			),
		},
		cb: gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
			Name:        "wallet",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			IsSuccessful: func(err error) bool {
				var se *StatusError
				if errors.As(err, &se) {
					return se.Code < http.StatusInternalServerError
				}
				return err == nil
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				lg.Warn("Circuit breaker state changed",
					zap.String("breaker", name),
					zap.Stringer("from", from),
					zap.Stringer("to", to),
				)
			},
		}),
	}
}

func (c *Client) SendOTP(ctx context.Context, mobile string) error {
	_, err := c.do(ctx, http.MethodPost, "/otp/send", map[string]string{"mobile": mobile})
	if err != nil {
		return errors.Wrap(err, "send otp")
	}
	return nil
}

// VerifyOTP reports whether otp is valid for mobile. A rejected OTP is not
// an error.
func (c *Client) VerifyOTP(ctx context.Context, mobile, otp string) (bool, error) {
	data, err := c.do(ctx, http.MethodPost, "/otp/verify", map[string]string{"mobile": mobile, "otp": otp})
	if err != nil {
		return false, errors.Wrap(err, "verify otp")
	}
	var resp struct {
		Valid bool `json:"valid"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return false, errors.Wrap(err, "decode otp verdict")
	}
	return resp.Valid, nil
}

func (c *Client) Balance(ctx context.Context, account string) (decimal.Decimal, error) {
	data, err := c.do(ctx, http.MethodGet, "/accounts/"+url.PathEscape(account)+"/balance", nil)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "get balance")
	}
	var resp struct {
		Balance decimal.Decimal `json:"balance"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return decimal.Zero, errors.Wrap(err, "decode balance")
	}
	return resp.Balance, nil
}

// Debit charges amount to account. reference makes the debit idempotent on
// the provider side: repeating it returns the original transaction.
func (c *Client) Debit(ctx context.Context, account string, amount decimal.Decimal, reference string) (string, error) {
	data, err := c.do(ctx, http.MethodPost, "/accounts/"+url.PathEscape(account)+"/debit", map[string]string{
		"amount":    amount.StringFixed(2),
		"reference": reference,
	})
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Code == http.StatusPaymentRequired {
			return "", payment.ErrWalletInsufficientFunds
		}
		return "", errors.Wrap(err, "debit")
	}
	var resp struct {
		TransactionID string `json:"transactionId"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", errors.Wrap(err, "decode debit")
	}
	return resp.TransactionID, nil
}

func (c *Client) do(ctx context.Context, method, path string, in any) ([]byte, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, errors.Wrap(err, "marshal request")
		}
		body = bytes.NewReader(data)
	}

	return c.cb.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.cfg.BaseURL, "/")+path, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

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
	})
}
