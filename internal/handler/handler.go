// Package handler exposes the checkout service over HTTP.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/validation"
)

const maxBodyBytes = 1 << 20

// Handler serves the checkout API, delegating to the checkout service.
type Handler struct {
	svc *checkout.Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *checkout.Service) *Handler {
	return &Handler{svc: svc}
}

// Router builds the /api route tree. Every route requires an API key; the
// admin subtree additionally requires the admin role.
func (h *Handler) Router(sec *SecurityHandler) chi.Router {
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Use(sec.Middleware)

		r.Get("/cart", h.GetCart)
		r.Put("/cart/items", h.SetCartItem)

		r.Route("/checkout", func(r chi.Router) {
			r.Post("/init", h.InitCheckout)
			r.Post("/coupon", h.ApplyCoupon)
			r.Delete("/coupon", h.RemoveCoupon)
			r.Post("/order", h.PlaceOrder)
		})

		r.Route("/payment", func(r chi.Router) {
			r.Post("/confirm-cod", h.ConfirmCOD)
			r.Post("/verify-gateway", h.VerifyGateway)
			r.Post("/wallet/send-otp", h.SendWalletOTP)
			r.Post("/wallet/verify-otp", h.VerifyWalletOTP)
			r.Post("/wallet/process", h.ProcessWallet)
		})

		r.Get("/orders/{number}", h.GetOrder)

		r.Route("/admin", func(r chi.Router) {
			r.Use(RequireAdmin)
			r.Get("/payments/unfulfilled", h.ListUnfulfilled)
			r.Post("/payments/{id}/remediate", h.Remediate)
		})
	})
	return r
}

// caller returns the authenticated identity. The security middleware
// guarantees it is present on /api routes.
func caller(r *http.Request) auth.Identity {
	id, _ := auth.FromContext(r.Context())
	return id
}

func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &validation.Error{Field: "body", Message: "malformed JSON: " + err.Error()}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ErrForbidden is returned when a customer key calls an operator route.
var ErrForbidden = errors.New("forbidden")
