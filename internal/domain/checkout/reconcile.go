package checkout

import (
	"context"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/notify"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/payment"
	"github.com/xenking/kart-checkout/internal/domain/validation"
)

// settle moves a payment to its terminal success state and builds the order
// in the same transaction. Terminal payments return their cached result.
// When funds already moved and the order cannot be built, the payment is
// kept successful but unfulfilled and a ReconciliationError is returned.
func (s *Service) settle(
	ctx context.Context,
	userID, paymentID string,
	method payment.Method,
	mark func(p *payment.Payment) error,
) (*Settlement, error) {
	var (
		settled *payment.Payment
		cached  *payment.Payment
		marked  bool
	)
	err := s.deps.Tx.InTx(ctx, func(ctx context.Context, tx Tx) error {
		p, err := lockOwned(ctx, tx, userID, paymentID)
		if err != nil {
			return err
		}
		if p.Method != method {
			return validation.Errorf("paymentId", "payment %s is not a %s payment", p.ID, method)
		}
		if p.Status.IsTerminal() {
			cached = p
			return nil
		}
		if err := mark(p); err != nil {
			return err
		}
		marked = true

		o, err := s.buildOrder(ctx, tx, p, true)
		if err != nil {
			return err
		}

		p.OrderNumber = o.Number
		p.Fulfillment = payment.FulfillmentFulfilled
		p.UpdatedAt = s.now().UTC()
		if err := tx.Payments().Update(ctx, p); err != nil {
			return errors.Wrap(err, "update payment")
		}
		settled = p
		return nil
	})
	if cached != nil && err == nil {
		res, err := s.cachedSettlement(cached)
		if err == nil && cached.Checkout.Coupon != nil {
			// A retry may follow a failed usage write; recording is a
			// no-op once the usage exists.
			if err := s.recordCouponUsage(ctx, cached); err != nil {
				s.lg.Error("Record coupon usage on retry",
					zap.String("payment_id", cached.ID),
					zap.String("order_number", cached.OrderNumber),
					zap.Error(err),
				)
			}
		}
		return res, err
	}
	if err != nil {
		// COD moves no money and an unmarked payment was never accepted.
		if method == payment.MethodCOD || !marked {
			return nil, err
		}
		return s.markUnfulfilled(ctx, userID, paymentID, mark, err)
	}

	s.afterOrder(ctx, settled, true)
	return settlementOf(settled), nil
}

// markUnfulfilled records that money moved without an order.
func (s *Service) markUnfulfilled(
	ctx context.Context,
	userID, paymentID string,
	mark func(p *payment.Payment) error,
	cause error,
) (*Settlement, error) {
	var (
		stored *payment.Payment
		cached *payment.Payment
	)
	err := s.deps.Tx.InTx(ctx, func(ctx context.Context, tx Tx) error {
		p, err := lockOwned(ctx, tx, userID, paymentID)
		if err != nil {
			return err
		}
		if p.Status.IsTerminal() {
			cached = p
			return nil
		}
		if err := mark(p); err != nil {
			return err
		}
		p.Fulfillment = payment.FulfillmentUnfulfilled
		p.FailureReason = cause.Error()
		p.UpdatedAt = s.now().UTC()
		if err := tx.Payments().Update(ctx, p); err != nil {
			return errors.Wrap(err, "update payment")
		}
		stored = p
		return nil
	})
	if err == nil && cached != nil {
		return s.cachedSettlement(cached)
	}

	fields := []zap.Field{
		zap.String("payment_id", paymentID),
		zap.String("user_id", userID),
		zap.NamedError("reason", cause),
	}
	if stored != nil {
		fields = append(fields,
			zap.String("amount", stored.Amount.StringFixed(2)),
			zap.Any("snapshot", stored.Checkout.Snapshot),
		)
	}
	if err != nil {
		fields = append(fields, zap.NamedError("mark_error", err))
	}
	s.lg.Error("Payment received but order not created, manual remediation required", fields...)
	s.metrics.unfulfilledPayments.Add(ctx, 1)

	ev := notify.Event{
		Type:       notify.PaymentUnfulfilled,
		Severity:   notify.SeverityCritical,
		UserID:     userID,
		PaymentID:  paymentID,
		Reason:     cause.Error(),
		OccurredAt: s.now().UTC(),
	}
	if stored != nil {
		ev.Method = string(stored.Method)
		ev.Amount = stored.Amount
	}
	s.deps.Notifier.Dispatch(ctx, ev)

	return nil, &payment.ReconciliationError{PaymentID: paymentID, Cause: cause}
}

func (s *Service) cachedSettlement(p *payment.Payment) (*Settlement, error) {
	switch {
	case p.Status == payment.StatusFailed:
		if p.Method == payment.MethodCOD {
			return nil, validation.Errorf("paymentId", "payment %s has already failed", p.ID)
		}
		reason := payment.ErrSignatureMismatch
		if p.FailureReason != "" && p.FailureReason != reason.Error() {
			reason = errors.New(p.FailureReason)
		}
		return nil, &payment.VerificationError{PaymentID: p.ID, Reason: reason}
	case p.Fulfillment == payment.FulfillmentUnfulfilled:
		return nil, &payment.ReconciliationError{PaymentID: p.ID, Cause: errors.New(p.FailureReason)}
	default:
		return settlementOf(p), nil
	}
}

// buildOrder reserves stock and persists the order for a settled payment.
// admit re-checks the coupon cap under the coupon row lock.
func (s *Service) buildOrder(ctx context.Context, tx Tx, p *payment.Payment, admit bool) (*order.Order, error) {
	co := p.Checkout
	req := order.Request{
		UserID:        p.UserID,
		PaymentID:     p.ID,
		PaymentMethod: string(p.Method),
		Status:        order.StatusConfirmed,
		PaymentStatus: order.PaymentPaid,
		Snapshot:      &co.Snapshot,
		Totals:        co.Totals,
		Shipping:      co.Shipping,
		Billing:       co.Billing,
	}
	if p.Method == payment.MethodCOD {
		req.Status = order.StatusPending
		req.PaymentStatus = order.PaymentPending
	}
	if co.Coupon != nil {
		req.CouponID = co.Coupon.ID
		req.CouponCode = co.Coupon.Code
		if admit {
			def := &coupon.Definition{ID: co.Coupon.ID, Code: co.Coupon.Code}
			if err := coupon.Admit(ctx, tx.Coupons(), def); err != nil {
				return nil, err
			}
		}
	}
	return s.builder.Build(ctx, tx.Stock(), tx.Orders(), req)
}

// afterOrder runs the steps that follow a durable order: coupon usage,
// cart clearing and notification. Failures are logged, the order stands.
func (s *Service) afterOrder(ctx context.Context, p *payment.Payment, clearCart bool) {
	lg := s.lg.With(zap.String("payment_id", p.ID), zap.String("order_number", p.OrderNumber))

	if c := p.Checkout.Coupon; c != nil {
		if err := s.recordCouponUsage(ctx, p); err != nil {
			lg.Error("Record coupon usage", zap.String("coupon", c.Code), zap.Error(err))
		}
	}

	if clearCart {
		if err := s.deps.Carts.Clear(ctx, p.UserID); err != nil {
			lg.Warn("Clear cart", zap.Error(err))
		}
		if err := s.deps.Sessions.DeleteSession(ctx, p.UserID); err != nil {
			lg.Warn("Delete checkout session", zap.Error(err))
		}
	}

	s.metrics.ordersCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("method", string(p.Method))))
	lg.Info("Order placed", zap.String("method", string(p.Method)))

	typ := notify.OrderPlaced
	if !clearCart {
		typ = notify.OrderRemediated
	}
	s.deps.Notifier.Dispatch(ctx, notify.Event{
		Type:        typ,
		Severity:    notify.SeverityInfo,
		UserID:      p.UserID,
		PaymentID:   p.ID,
		OrderNumber: p.OrderNumber,
		Method:      string(p.Method),
		Amount:      p.Amount,
		OccurredAt:  s.now().UTC(),
	})
}

// recordCouponUsage stores the usage of the payment's coupon by its order in
// a transaction of its own.
func (s *Service) recordCouponUsage(ctx context.Context, p *payment.Payment) error {
	c := p.Checkout.Coupon
	return s.deps.Tx.InTx(ctx, func(ctx context.Context, tx Tx) error {
		_, err := coupon.RecordUsage(ctx, tx.Coupons(), coupon.Usage{
			CouponID:    c.ID,
			UserID:      p.UserID,
			OrderNumber: p.OrderNumber,
			Discount:    c.Discount,
			UsedAt:      s.now().UTC(),
		})
		return err
	})
}

// Remediate re-runs order creation for a payment left paid but unfulfilled,
// using the snapshot stored on the payment. The coupon cap is not enforced
// again: the customer already paid the discounted price.
func (s *Service) Remediate(ctx context.Context, paymentID string) (*Settlement, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.Remediate")
	defer span.End()

	var settled *payment.Payment
	err := s.deps.Tx.InTx(ctx, func(ctx context.Context, tx Tx) error {
		p, err := tx.Payments().Lock(ctx, paymentID)
		if err != nil {
			return err
		}
		if p.Status != payment.StatusSuccessful || p.Fulfillment != payment.FulfillmentUnfulfilled {
			return validation.Errorf("paymentId", "payment %s is not awaiting remediation", p.ID)
		}
		o, err := s.buildOrder(ctx, tx, p, false)
		if err != nil {
			return err
		}
		p.OrderNumber = o.Number
		p.Fulfillment = payment.FulfillmentFulfilled
		p.FailureReason = ""
		p.UpdatedAt = s.now().UTC()
		if err := tx.Payments().Update(ctx, p); err != nil {
			return errors.Wrap(err, "update payment")
		}
		settled = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.lg.Info("Payment remediated", zap.String("payment_id", settled.ID), zap.String("order_number", settled.OrderNumber))
	s.afterOrder(ctx, settled, false)
	return settlementOf(settled), nil
}

// Unfulfilled lists payments waiting for remediation.
func (s *Service) Unfulfilled(ctx context.Context, limit int) ([]payment.Payment, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.deps.Payments.ListUnfulfilled(ctx, limit)
}

// Order returns an order owned by userID.
func (s *Service) Order(ctx context.Context, userID, number string) (*order.Order, error) {
	o, err := s.deps.Orders.GetByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, order.ErrNotFound
	}
	return o, nil
}

func lockOwned(ctx context.Context, tx Tx, userID, paymentID string) (*payment.Payment, error) {
	p, err := tx.Payments().Lock(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.UserID != userID {
		return nil, payment.ErrNotFound
	}
	return p, nil
}

func (s *Service) getOwned(ctx context.Context, userID, paymentID string, method payment.Method) (*payment.Payment, error) {
	p, err := s.deps.Payments.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.UserID != userID {
		return nil, payment.ErrNotFound
	}
	if p.Method != method {
		return nil, validation.Errorf("paymentId", "payment %s is not a %s payment", p.ID, method)
	}
	return p, nil
}
