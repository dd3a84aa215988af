package memory

import (
	"context"
	"strings"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/payment"
)

var (
	_ catalog.Reader        = CatalogRepo{}
	_ coupon.Repository     = CouponRepo{}
	_ payment.Repository    = PaymentRepo{}
	_ order.Repository      = OrderRepo{}
	_ checkout.AddressBook  = AddressBook{}
	_ auth.Repository       = APIKeyRepo{}
	_ cart.Store            = CartStore{}
	_ checkout.SessionStore = SessionStore{}
)

// CatalogRepo implements catalog.Reader.
type CatalogRepo struct{ s *Store }

func (r CatalogRepo) GetVariants(_ context.Context, refs []catalog.Ref) ([]catalog.Variant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := make([]catalog.Variant, 0, len(refs))
	for _, ref := range refs {
		if v, ok := r.s.variants[ref]; ok {
			out = append(out, v)
		}
	}
	return out, nil
}

// CouponRepo implements coupon.Repository.
type CouponRepo struct{ s *Store }

func (r CouponRepo) FindByCode(_ context.Context, code string) (*coupon.Definition, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, d := range r.s.coupons {
		if strings.EqualFold(d.Code, code) {
			c := *d
			c.AllowedUsers = append([]string(nil), d.AllowedUsers...)
			return &c, nil
		}
	}
	return nil, coupon.ErrNotFound
}

// PaymentRepo implements payment.Repository.
type PaymentRepo struct{ s *Store }

func (r PaymentRepo) Create(_ context.Context, p *payment.Payment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.payments[p.ID]; ok {
		return errors.Errorf("payment %s already exists", p.ID)
	}
	r.s.payments[p.ID] = clonePayment(p)
	return nil
}

func (r PaymentRepo) Get(_ context.Context, id string) (*payment.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.payments[id]
	if !ok {
		return nil, payment.ErrNotFound
	}
	return clonePayment(p), nil
}

func (r PaymentRepo) ListUnfulfilled(_ context.Context, limit int) ([]payment.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []payment.Payment
	for _, p := range r.s.payments {
		if p.Fulfillment == payment.FulfillmentUnfulfilled {
			out = append(out, *clonePayment(p))
		}
	}
	sortPayments(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// OrderRepo implements order.Repository.
type OrderRepo struct{ s *Store }

func (r OrderRepo) GetByNumber(_ context.Context, number string) (*order.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	o, ok := r.s.orders[number]
	if !ok {
		return nil, order.ErrNotFound
	}
	c := *o
	c.Items = append([]order.Item(nil), o.Items...)
	return &c, nil
}

// AddressBook implements checkout.AddressBook.
type AddressBook struct{ s *Store }

func (r AddressBook) Address(_ context.Context, userID, id string) (order.Address, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.addresses[userID][id]
	if !ok {
		return order.Address{}, checkout.ErrAddressNotFound
	}
	return a, nil
}

// APIKeyRepo implements auth.Repository.
type APIKeyRepo struct{ s *Store }

func (r APIKeyRepo) FindByHash(_ context.Context, hash string) (*auth.Identity, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	id, ok := r.s.keys[hash]
	if !ok {
		return nil, auth.ErrUnauthorized
	}
	return &id, nil
}

// CartStore implements cart.Store.
type CartStore struct{ s *Store }

func (r CartStore) Get(_ context.Context, userID string) (*cart.Cart, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.carts[userID]
	if !ok {
		return &cart.Cart{UserID: userID}, nil
	}
	out := *c
	out.Lines = append([]cart.Line(nil), c.Lines...)
	return &out, nil
}

func (r CartStore) Save(_ context.Context, c *cart.Cart) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored := *c
	stored.Lines = append([]cart.Line(nil), c.Lines...)
	r.s.carts[c.UserID] = &stored
	return nil
}

func (r CartStore) Clear(_ context.Context, userID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.carts, userID)
	return nil
}

// SessionStore implements checkout.SessionStore.
type SessionStore struct{ s *Store }

func (r SessionStore) GetSession(_ context.Context, userID string) (*checkout.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	sess, ok := r.s.sessions[userID]
	if !ok {
		return nil, checkout.ErrSessionNotFound
	}
	return cloneSession(sess), nil
}

func (r SessionStore) SaveSession(_ context.Context, sess *checkout.Session) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.sessions[sess.UserID] = cloneSession(sess)
	return nil
}

func (r SessionStore) DeleteSession(_ context.Context, userID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.sessions, userID)
	return nil
}
