package payment

import (
	"fmt"

	"github.com/go-faster/errors"
)

var (
	ErrSignatureMismatch   = errors.New("signature mismatch")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// VerificationError reports a failed external confirmation. It carries only
// the verdict, never secret material.
type VerificationError struct {
	PaymentID string
	Reason    error
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("payment verification failed: %s", e.Reason)
}

func (e *VerificationError) Unwrap() error { return e.Reason }

// ReconciliationError means funds moved but no order could be built. The
// payment is left successful and unfulfilled for manual remediation.
type ReconciliationError struct {
	PaymentID string
	Cause     error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("payment %s received but order not created: %s", e.PaymentID, e.Cause)
}

func (e *ReconciliationError) Unwrap() error { return e.Cause }
