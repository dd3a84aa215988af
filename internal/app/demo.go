package app

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/storage/memory"
)

const (
	demoCustomerKey = "demo-customer-key"
	demoAdminKey    = "demo-admin-key"
	demoUser        = "demo-user"
)

// seedDemo fills an in-memory store with a small catalog, two coupons, one
// address and a customer and admin key.
func seedDemo(store *memory.Store, pepper []byte, now time.Time) {
	for _, v := range []catalog.Variant{
		{Ref: catalog.Ref{ProductID: "tshirt", VariantID: "m-black"}, Name: "Classic Tee (M, Black)", Category: "apparel", Price: decimal.RequireFromString("499.00"), Stock: 25},
		{Ref: catalog.Ref{ProductID: "tshirt", VariantID: "l-white"}, Name: "Classic Tee (L, White)", Category: "apparel", Price: decimal.RequireFromString("499.00"), Stock: 10},
		{Ref: catalog.Ref{ProductID: "mug", VariantID: "white"}, Name: "Stoneware Mug (White)", Category: "kitchen", Price: decimal.RequireFromString("249.50"), Stock: 40},
		{Ref: catalog.Ref{ProductID: "poster", VariantID: "a2"}, Name: "Launch Poster (A2)", Category: "decor", Price: decimal.RequireFromString("120.00"), Stock: 1},
	} {
		store.AddVariant(v)
	}

	cap100 := 100
	store.AddCoupon(coupon.Definition{
		ID: "demo-welcome", Code: "WELCOME10", Type: coupon.DiscountPercentage,
		Value:          decimal.NewFromInt(10),
		MaxDiscount:    decimal.NewNullDecimal(decimal.NewFromInt(200)),
		MinOrderAmount: decimal.NewFromInt(300),
		Scope:          coupon.ScopeAll,
		ValidFrom:      now.AddDate(0, 0, -1),
		ValidTo:        now.AddDate(1, 0, 0),
		UsageCap:       &cap100,
		Active:         true,
		Audience:       coupon.AudienceAll,
	})
	store.AddCoupon(coupon.Definition{
		ID: "demo-kitchen", Code: "KITCHEN50", Type: coupon.DiscountFixed,
		Value:     decimal.NewFromInt(50),
		Scope:     "kitchen",
		ValidFrom: now.AddDate(0, 0, -1),
		ValidTo:   now.AddDate(0, 3, 0),
		Active:    true,
		Audience:  coupon.AudienceAll,
	})

	store.AddAddress(demoUser, "home", order.Address{
		Name: "Demo User", Phone: "9999999999", Line1: "1 MG Road",
		City: "Bengaluru", State: "KA", PostalCode: "560001", Country: "IN",
	})

	store.AddAPIKey(auth.Identity{KeyID: "demo-customer", KeyHash: auth.HashKey(pepper, demoCustomerKey), UserID: demoUser, Role: auth.RoleCustomer})
	store.AddAPIKey(auth.Identity{KeyID: "demo-admin", KeyHash: auth.HashKey(pepper, demoAdminKey), UserID: "demo-ops", Role: auth.RoleAdmin})
}
