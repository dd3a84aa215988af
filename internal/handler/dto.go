package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/payment"
)

type setCartItemRequest struct {
	ProductID string `json:"productId"`
	VariantID string `json:"variantId"`
	Quantity  int    `json:"quantity"`
}

type couponRequest struct {
	Code string `json:"code"`
}

type placeOrderRequest struct {
	PaymentMethod     string `json:"paymentMethod"`
	ShippingAddressID string `json:"shippingAddressId"`
	BillingAddressID  string `json:"billingAddressId,omitempty"`
}

type paymentRequest struct {
	PaymentID string `json:"paymentId"`
}

type verifyGatewayRequest struct {
	PaymentID        string `json:"paymentId"`
	GatewayOrderID   string `json:"gatewayOrderId"`
	GatewayPaymentID string `json:"gatewayPaymentId"`
	Signature        string `json:"signature"`
}

type sendOTPRequest struct {
	PaymentID string `json:"paymentId"`
	Mobile    string `json:"mobile"`
}

type verifyOTPRequest struct {
	PaymentID string `json:"paymentId"`
	OTP       string `json:"otp"`
}

type cartResponse struct {
	UserID    string      `json:"userId"`
	Lines     []cart.Line `json:"lines"`
	UpdatedAt *time.Time  `json:"updatedAt,omitempty"`
}

func newCartResponse(c *cart.Cart) cartResponse {
	res := cartResponse{UserID: c.UserID, Lines: c.Lines}
	if res.Lines == nil {
		res.Lines = []cart.Line{}
	}
	if !c.UpdatedAt.IsZero() {
		res.UpdatedAt = &c.UpdatedAt
	}
	return res
}

type previewResponse struct {
	Lines      []cart.SnapshotLine    `json:"lines"`
	Currency   string                 `json:"currency"`
	Coupon     *payment.AppliedCoupon `json:"coupon,omitempty"`
	Totals     order.Totals           `json:"totals"`
	CapturedAt time.Time              `json:"capturedAt"`
}

func newPreviewResponse(p *checkout.Preview) previewResponse {
	return previewResponse{
		Lines:      p.Snapshot.Lines,
		Currency:   p.Snapshot.Currency,
		Coupon:     p.Coupon,
		Totals:     p.Totals,
		CapturedAt: p.Snapshot.CapturedAt,
	}
}

type placementResponse struct {
	PaymentID      string          `json:"paymentId"`
	Method         string          `json:"paymentMethod"`
	Status         string          `json:"status"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	GatewayOrderID string          `json:"gatewayOrderId,omitempty"`
	GatewayKeyID   string          `json:"gatewayKeyId,omitempty"`
	Totals         order.Totals    `json:"totals"`
}

func newPlacementResponse(p *checkout.Placement) placementResponse {
	return placementResponse{
		PaymentID:      p.PaymentID,
		Method:         string(p.Method),
		Status:         string(p.Status),
		Amount:         p.Amount,
		Currency:       p.Currency,
		GatewayOrderID: p.GatewayOrderID,
		GatewayKeyID:   p.GatewayKeyID,
		Totals:         p.Totals,
	}
}

type settlementResponse struct {
	PaymentID   string `json:"paymentId"`
	Status      string `json:"status"`
	Fulfillment string `json:"fulfillment,omitempty"`
	WalletStep  string `json:"walletStep,omitempty"`
	OrderNumber string `json:"orderNumber,omitempty"`
}

func newSettlementResponse(s *checkout.Settlement) settlementResponse {
	return settlementResponse{
		PaymentID:   s.PaymentID,
		Status:      string(s.Status),
		Fulfillment: string(s.Fulfillment),
		WalletStep:  string(s.WalletStep),
		OrderNumber: s.OrderNumber,
	}
}

type orderResponse struct {
	OrderNumber   string `json:"orderNumber"`
	PaymentID     string `json:"paymentId"`
	PaymentMethod string `json:"paymentMethod"`
	Status        string `json:"status"`
	PaymentStatus string `json:"paymentStatus"`
	order.Totals
	CouponCode      string        `json:"couponCode,omitempty"`
	ShippingAddress order.Address `json:"shippingAddress"`
	BillingAddress  order.Address `json:"billingAddress"`
	Items           []order.Item  `json:"items"`
	CreatedAt       time.Time     `json:"createdAt"`
}

func newOrderResponse(o *order.Order) orderResponse {
	return orderResponse{
		OrderNumber:     o.Number,
		PaymentID:       o.PaymentID,
		PaymentMethod:   o.PaymentMethod,
		Status:          string(o.Status),
		PaymentStatus:   string(o.PaymentStatus),
		Totals:          o.Totals,
		CouponCode:      o.CouponCode,
		ShippingAddress: o.ShippingAddress,
		BillingAddress:  o.BillingAddress,
		Items:           o.Items,
		CreatedAt:       o.CreatedAt,
	}
}

type unfulfilledPayment struct {
	PaymentID     string          `json:"paymentId"`
	UserID        string          `json:"userId"`
	Method        string          `json:"paymentMethod"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	FailureReason string          `json:"failureReason"`
	CreatedAt     time.Time       `json:"createdAt"`
}

type unfulfilledResponse struct {
	Payments []unfulfilledPayment `json:"payments"`
}

func newUnfulfilledResponse(ps []payment.Payment) unfulfilledResponse {
	res := unfulfilledResponse{Payments: make([]unfulfilledPayment, 0, len(ps))}
	for _, p := range ps {
		res.Payments = append(res.Payments, unfulfilledPayment{
			PaymentID:     p.ID,
			UserID:        p.UserID,
			Method:        string(p.Method),
			Amount:        p.Amount,
			Currency:      p.Currency,
			FailureReason: p.FailureReason,
			CreatedAt:     p.CreatedAt,
		})
	}
	return res
}
