package memory

import (
	"context"
	"sort"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/inventory"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/payment"
)

// tx buffers writes until commit. Reads see the buffer first.
type tx struct {
	s *Store

	stock      map[catalog.Ref]int
	orders     map[string]*order.Order
	payments   map[string]*payment.Payment
	usages     []coupon.Usage
	increments map[string]int
}

func newTx(s *Store) *tx {
	return &tx{
		s:          s,
		stock:      make(map[catalog.Ref]int),
		orders:     make(map[string]*order.Order),
		payments:   make(map[string]*payment.Payment),
		increments: make(map[string]int),
	}
}

func (t *tx) Stock() inventory.Store  { return stockTx{t} }
func (t *tx) Orders() order.Store     { return orderTx{t} }
func (t *tx) Coupons() coupon.Ledger  { return couponTx{t} }
func (t *tx) Payments() payment.Store { return paymentTx{t} }

func (t *tx) commit() {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for ref, stock := range t.stock {
		v := s.variants[ref]
		v.Stock = stock
		s.variants[ref] = v
	}
	for n, o := range t.orders {
		s.orders[n] = o
	}
	for id, p := range t.payments {
		s.payments[id] = p
	}
	for _, u := range t.usages {
		if s.usages[u.CouponID] == nil {
			s.usages[u.CouponID] = make(map[string]coupon.Usage)
		}
		s.usages[u.CouponID][u.OrderNumber] = u
	}
	for id, n := range t.increments {
		s.coupons[id].UsageCount += n
	}
}

type stockTx struct{ *tx }

func (t stockTx) LockStock(_ context.Context, ref catalog.Ref) (int, error) {
	if v, ok := t.stock[ref]; ok {
		return v, nil
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	v, ok := t.s.variants[ref]
	if !ok {
		return 0, catalog.ErrNotFound
	}
	return v.Stock, nil
}

func (t stockTx) DecrementStock(ctx context.Context, ref catalog.Ref, qty int) error {
	cur, err := t.LockStock(ctx, ref)
	if err != nil {
		return err
	}
	if cur < qty {
		return errors.Errorf("stock of %s would go negative", ref)
	}
	t.stock[ref] = cur - qty
	return nil
}

type orderTx struct{ *tx }

func (t orderTx) NextSequence(context.Context) (int64, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	t.s.seq++
	return t.s.seq, nil
}

func (t orderTx) Insert(_ context.Context, o *order.Order) error {
	if _, ok := t.orders[o.Number]; ok {
		return order.ErrDuplicateNumber
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, ok := t.s.orders[o.Number]; ok {
		return order.ErrDuplicateNumber
	}
	for _, existing := range t.s.orders {
		if existing.PaymentID == o.PaymentID {
			return errors.Errorf("order for payment %s already exists", o.PaymentID)
		}
	}
	c := *o
	c.Items = append([]order.Item(nil), o.Items...)
	t.orders[o.Number] = &c
	return nil
}

type couponTx struct{ *tx }

func (t couponTx) Lock(_ context.Context, couponID string) (coupon.Counter, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	d, ok := t.s.coupons[couponID]
	if !ok {
		return coupon.Counter{}, coupon.ErrNotFound
	}
	c := coupon.Counter{Cap: d.UsageCap, Used: d.UsageCount + t.increments[couponID]}

	recorded := func(number string) bool {
		if _, ok := t.s.usages[couponID][number]; ok {
			return true
		}
		for _, u := range t.usages {
			if u.CouponID == couponID && u.OrderNumber == number {
				return true
			}
		}
		return false
	}
	count := func(o *order.Order) {
		if o.CouponID == couponID && o.Status != order.StatusCancelled && !recorded(o.Number) {
			c.Pending++
		}
	}
	for _, o := range t.s.orders {
		count(o)
	}
	for _, o := range t.orders {
		count(o)
	}
	return c, nil
}

func (t couponTx) HasUsage(_ context.Context, couponID, orderNumber string) (bool, error) {
	for _, u := range t.usages {
		if u.CouponID == couponID && u.OrderNumber == orderNumber {
			return true, nil
		}
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	_, ok := t.s.usages[couponID][orderNumber]
	return ok, nil
}

func (t couponTx) InsertUsage(_ context.Context, u coupon.Usage) error {
	t.usages = append(t.usages, u)
	return nil
}

func (t couponTx) IncrementUsage(_ context.Context, couponID string) error {
	t.increments[couponID]++
	return nil
}

type paymentTx struct{ *tx }

func (t paymentTx) Lock(_ context.Context, id string) (*payment.Payment, error) {
	if p, ok := t.payments[id]; ok {
		return clonePayment(p), nil
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	p, ok := t.s.payments[id]
	if !ok {
		return nil, payment.ErrNotFound
	}
	return clonePayment(p), nil
}

func (t paymentTx) Update(_ context.Context, p *payment.Payment) error {
	t.payments[p.ID] = clonePayment(p)
	return nil
}

func clonePayment(p *payment.Payment) *payment.Payment {
	c := *p
	c.Checkout.Snapshot.Lines = append([]cart.SnapshotLine(nil), p.Checkout.Snapshot.Lines...)
	if p.Checkout.Coupon != nil {
		applied := *p.Checkout.Coupon
		c.Checkout.Coupon = &applied
	}
	return &c
}

func cloneSession(s *checkout.Session) *checkout.Session {
	c := *s
	c.Snapshot.Lines = append([]cart.SnapshotLine(nil), s.Snapshot.Lines...)
	if s.Coupon != nil {
		applied := *s.Coupon
		c.Coupon = &applied
	}
	return &c
}

func sortPayments(ps []payment.Payment) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].CreatedAt.Equal(ps[j].CreatedAt) {
			return ps[i].ID < ps[j].ID
		}
		return ps[i].CreatedAt.Before(ps[j].CreatedAt)
	})
}
