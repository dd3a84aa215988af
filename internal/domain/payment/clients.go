package payment

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrWalletInsufficientFunds is returned by Wallet.Debit when the provider
// refuses the debit for lack of funds.
var ErrWalletInsufficientFunds = errors.New("wallet has insufficient funds")

// Gateway is the redirect payment provider.
type Gateway interface {
	// CreateOrder registers an external order and returns its reference.
	CreateOrder(ctx context.Context, amount decimal.Decimal, currency, receipt string) (string, error)
	// VerifySignature checks the provider signature for an order/payment pair.
	VerifySignature(orderID, paymentID, signature string) bool
	// KeyID is the public key material handed to the client for redirect.
	KeyID() string
}

// Wallet is the OTP wallet provider. Accounts are keyed by mobile number.
type Wallet interface {
	SendOTP(ctx context.Context, mobile string) error
	VerifyOTP(ctx context.Context, mobile, otp string) (bool, error)
	Balance(ctx context.Context, account string) (decimal.Decimal, error)
	// Debit is idempotent per reference.
	Debit(ctx context.Context, account string, amount decimal.Decimal, reference string) (string, error)
}
