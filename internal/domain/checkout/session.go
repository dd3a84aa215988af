package checkout

import (
	"context"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/payment"
	"github.com/xenking/kart-checkout/internal/domain/validation"
)

// Cart returns the user's live cart.
func (s *Service) Cart(ctx context.Context, userID string) (*cart.Cart, error) {
	c, err := s.deps.Carts.Get(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "get cart")
	}
	return c, nil
}

// SetCartItem sets the quantity of a variant in the user's cart.
func (s *Service) SetCartItem(ctx context.Context, userID string, ref catalog.Ref, qty int) (*cart.Cart, error) {
	if ref.ProductID == "" || ref.VariantID == "" {
		return nil, validation.Errorf("productId", "product and variant are required")
	}
	if qty > 0 {
		found, err := s.deps.Catalog.GetVariants(ctx, []catalog.Ref{ref})
		if err != nil {
			return nil, errors.Wrap(err, "load variant")
		}
		if len(found) == 0 {
			return nil, validation.Errorf("variantId", "%s does not exist", ref)
		}
	}

	c, err := s.deps.Carts.Get(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "get cart")
	}
	if err := c.SetQuantity(ref, qty); err != nil {
		return nil, err
	}
	c.UpdatedAt = s.now().UTC()
	if err := s.deps.Carts.Save(ctx, c); err != nil {
		return nil, errors.Wrap(err, "save cart")
	}
	return c, nil
}

// Init snapshots the cart and opens a checkout session. A coupon applied to
// a previous session is carried over when it is still valid.
func (s *Service) Init(ctx context.Context, userID string) (*Preview, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.Init", trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	c, err := s.deps.Carts.Get(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "get cart")
	}
	snap, err := cart.TakeSnapshot(ctx, c, s.deps.Catalog, s.cfg.Currency, s.now())
	if err != nil {
		return nil, err
	}

	sess := &Session{UserID: userID, Snapshot: *snap, StartedAt: s.now().UTC()}

	prev, err := s.deps.Sessions.GetSession(ctx, userID)
	switch {
	case err == nil && prev.Coupon != nil:
		applied, err := s.validateCoupon(ctx, userID, prev.Coupon.Code, snap)
		if err == nil {
			sess.Coupon = applied
		} else {
			s.lg.Debug("Dropping previous coupon",
				zap.String("code", prev.Coupon.Code),
				zap.Error(err),
			)
		}
	case err != nil && !errors.Is(err, ErrSessionNotFound):
		return nil, errors.Wrap(err, "get session")
	}

	if err := s.deps.Sessions.SaveSession(ctx, sess); err != nil {
		return nil, errors.Wrap(err, "save session")
	}
	return s.preview(sess), nil
}

// ApplyCoupon validates code against the session snapshot and attaches it.
// The coupon's usage counter is not touched.
func (s *Service) ApplyCoupon(ctx context.Context, userID, code string) (*Preview, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.ApplyCoupon")
	defer span.End()

	sess, err := s.deps.Sessions.GetSession(ctx, userID)
	if err != nil {
		return nil, err
	}
	applied, err := s.validateCoupon(ctx, userID, code, &sess.Snapshot)
	if err != nil {
		return nil, err
	}
	sess.Coupon = applied
	if err := s.deps.Sessions.SaveSession(ctx, sess); err != nil {
		return nil, errors.Wrap(err, "save session")
	}
	return s.preview(sess), nil
}

// RemoveCoupon detaches the coupon from the session.
func (s *Service) RemoveCoupon(ctx context.Context, userID string) (*Preview, error) {
	sess, err := s.deps.Sessions.GetSession(ctx, userID)
	if err != nil {
		return nil, err
	}
	sess.Coupon = nil
	if err := s.deps.Sessions.SaveSession(ctx, sess); err != nil {
		return nil, errors.Wrap(err, "save session")
	}
	return s.preview(sess), nil
}

func (s *Service) validateCoupon(ctx context.Context, userID, code string, snap *cart.Snapshot) (*payment.AppliedCoupon, error) {
	res, err := s.validator.Validate(ctx, coupon.Request{
		Code:        code,
		UserID:      userID,
		OrderAmount: snap.Subtotal,
		Categories:  snap.Categories(),
	})
	if err != nil {
		return nil, err
	}
	return &payment.AppliedCoupon{
		ID:       res.Coupon.ID,
		Code:     res.Coupon.Code,
		Discount: res.Discount,
	}, nil
}
