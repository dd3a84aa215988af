// Package notify defines the fire-and-forget status events published by
// checkout.
package notify

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Type names an event.
type Type string

const (
	OrderPlaced        Type = "order.placed"
	OrderRemediated    Type = "order.remediated"
	PaymentFailed      Type = "payment.failed"
	PaymentUnfulfilled Type = "payment.unfulfilled"
)

// Severity separates customer notifications from operational alerts.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityCritical Severity = "critical"
)

// Event is a status change worth telling someone about.
type Event struct {
	Type        Type            `json:"type"`
	Severity    Severity        `json:"severity"`
	UserID      string          `json:"userId"`
	PaymentID   string          `json:"paymentId"`
	OrderNumber string          `json:"orderNumber,omitempty"`
	Method      string          `json:"method,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Reason      string          `json:"reason,omitempty"`
	OccurredAt  time.Time       `json:"occurredAt"`
}

// Dispatcher publishes events without blocking the caller.
type Dispatcher interface {
	Dispatch(ctx context.Context, e Event)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Dispatch(context.Context, Event) {}
