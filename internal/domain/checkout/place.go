package checkout

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/payment"
	"github.com/xenking/kart-checkout/internal/domain/validation"
)

// PlaceRequest selects the payment method and addresses for a session.
type PlaceRequest struct {
	UserID            string
	Method            string
	ShippingAddressID string
	// BillingAddressID defaults to the shipping address.
	BillingAddressID string
}

// PlaceOrder creates a pending payment for the current session. No order is
// created here: COD orders are built on confirmation and paid orders once
// the payment is verified.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceRequest) (*Placement, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.PlaceOrder")
	defer span.End()

	method, err := payment.ParseMethod(req.Method)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("payment.method", string(method)))

	if req.ShippingAddressID == "" {
		return nil, validation.Errorf("shippingAddressId", "shipping address is required")
	}
	if req.BillingAddressID == "" {
		req.BillingAddressID = req.ShippingAddressID
	}

	sess, err := s.deps.Sessions.GetSession(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if err := s.ensureNoPendingPayment(ctx, sess); err != nil {
		return nil, err
	}

	shipping, err := s.address(ctx, req.UserID, "shippingAddressId", req.ShippingAddressID)
	if err != nil {
		return nil, err
	}
	billing, err := s.address(ctx, req.UserID, "billingAddressId", req.BillingAddressID)
	if err != nil {
		return nil, err
	}

	// The coupon may have expired or filled up since it was applied.
	couponDiscount := decimal.Zero
	applied := sess.Coupon
	if applied != nil {
		applied, err = s.validateCoupon(ctx, req.UserID, applied.Code, &sess.Snapshot)
		if err != nil {
			return nil, err
		}
		couponDiscount = applied.Discount
	}

	totals := s.cfg.Pricing.Price(sess.Snapshot.Subtotal, couponDiscount)
	now := s.now().UTC()
	p := &payment.Payment{
		ID:       s.newID(),
		UserID:   req.UserID,
		Amount:   totals.Total,
		Currency: sess.Snapshot.Currency,
		Method:   method,
		Status:   payment.StatusPending,
		Checkout: payment.Checkout{
			Snapshot: sess.Snapshot,
			Coupon:   applied,
			Shipping: shipping,
			Billing:  billing,
			Totals:   totals,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if method == payment.MethodGateway {
		if !p.Amount.IsPositive() {
			return nil, validation.Errorf("paymentMethod", "nothing to pay online, choose cash on delivery")
		}
		ref, err := s.deps.Gateway.CreateOrder(ctx, p.Amount, p.Currency, p.ID)
		if err != nil {
			return nil, errors.Wrap(err, "create gateway order")
		}
		p.Gateway.OrderID = ref
	}

	if err := s.deps.Payments.Create(ctx, p); err != nil {
		return nil, errors.Wrap(err, "create payment")
	}
	sess.PaymentID = p.ID
	if err := s.deps.Sessions.SaveSession(ctx, sess); err != nil {
		return nil, errors.Wrap(err, "save session")
	}

	s.lg.Info("Payment created",
		zap.String("payment_id", p.ID),
		zap.String("user_id", p.UserID),
		zap.String("method", string(p.Method)),
		zap.String("amount", p.Amount.StringFixed(2)),
	)

	res := &Placement{
		PaymentID:      p.ID,
		Method:         p.Method,
		Status:         p.Status,
		Amount:         p.Amount,
		Currency:       p.Currency,
		GatewayOrderID: p.Gateway.OrderID,
		Totals:         totals,
	}
	if method == payment.MethodGateway {
		res.GatewayKeyID = s.deps.Gateway.KeyID()
	}
	return res, nil
}

// ensureNoPendingPayment rejects a second placement while the session's
// previous payment can still be confirmed. Starting checkout again drops it.
func (s *Service) ensureNoPendingPayment(ctx context.Context, sess *Session) error {
	if sess.PaymentID == "" {
		return nil
	}
	prev, err := s.deps.Payments.Get(ctx, sess.PaymentID)
	switch {
	case errors.Is(err, payment.ErrNotFound):
		return nil
	case err != nil:
		return errors.Wrap(err, "get previous payment")
	case prev.Status == payment.StatusPending:
		return validation.Errorf("checkout", "payment %s for this checkout is still pending, complete it or start checkout again", prev.ID)
	}
	return nil
}

func (s *Service) address(ctx context.Context, userID, field, id string) (order.Address, error) {
	a, err := s.deps.Addresses.Address(ctx, userID, id)
	if err != nil {
		if errors.Is(err, ErrAddressNotFound) {
			return order.Address{}, validation.Errorf(field, "address %s not found", id)
		}
		return order.Address{}, errors.Wrap(err, "lookup address")
	}
	return a, nil
}
