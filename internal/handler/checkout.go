package handler

import (
	"net/http"

	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/checkout"
)

// GetCart returns the caller's live cart.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.Cart(r.Context(), caller(r).UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newCartResponse(c))
}

// SetCartItem sets a line quantity; zero removes the line.
func (h *Handler) SetCartItem(w http.ResponseWriter, r *http.Request) {
	var req setCartItemRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	ref := catalog.Ref{ProductID: req.ProductID, VariantID: req.VariantID}
	c, err := h.svc.SetCartItem(r.Context(), caller(r).UserID, ref, req.Quantity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newCartResponse(c))
}

// InitCheckout snapshots the cart into a new checkout session.
func (h *Handler) InitCheckout(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Init(r.Context(), caller(r).UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPreviewResponse(p))
}

func (h *Handler) ApplyCoupon(w http.ResponseWriter, r *http.Request) {
	var req couponRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.svc.ApplyCoupon(r.Context(), caller(r).UserID, req.Code)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPreviewResponse(p))
}

func (h *Handler) RemoveCoupon(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.RemoveCoupon(r.Context(), caller(r).UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPreviewResponse(p))
}

// PlaceOrder creates the pending payment for the current session.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.svc.PlaceOrder(r.Context(), checkout.PlaceRequest{
		UserID:            caller(r).UserID,
		Method:            req.PaymentMethod,
		ShippingAddressID: req.ShippingAddressID,
		BillingAddressID:  req.BillingAddressID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newPlacementResponse(p))
}
