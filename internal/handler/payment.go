package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/validation"
)

func (h *Handler) ConfirmCOD(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	h.settled(w, r)(h.svc.ConfirmCOD(r.Context(), caller(r).UserID, req.PaymentID))
}

func (h *Handler) VerifyGateway(w http.ResponseWriter, r *http.Request) {
	var req verifyGatewayRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	h.settled(w, r)(h.svc.VerifyGateway(r.Context(), checkout.GatewayConfirmation{
		UserID:           caller(r).UserID,
		PaymentID:        req.PaymentID,
		GatewayOrderID:   req.GatewayOrderID,
		GatewayPaymentID: req.GatewayPaymentID,
		Signature:        req.Signature,
	}))
}

func (h *Handler) SendWalletOTP(w http.ResponseWriter, r *http.Request) {
	var req sendOTPRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	h.settled(w, r)(h.svc.SendWalletOTP(r.Context(), caller(r).UserID, req.PaymentID, req.Mobile))
}

func (h *Handler) VerifyWalletOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	h.settled(w, r)(h.svc.VerifyWalletOTP(r.Context(), caller(r).UserID, req.PaymentID, req.OTP))
}

func (h *Handler) ProcessWallet(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	h.settled(w, r)(h.svc.ProcessWallet(r.Context(), caller(r).UserID, req.PaymentID))
}

// GetOrder returns one of the caller's orders.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.svc.Order(r.Context(), caller(r).UserID, chi.URLParam(r, "number"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderResponse(o))
}

// ListUnfulfilled lists paid payments that have no order yet.
func (h *Handler) ListUnfulfilled(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, r, validation.Errorf("limit", "must be a non-negative integer"))
			return
		}
		limit = n
	}
	ps, err := h.svc.Unfulfilled(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newUnfulfilledResponse(ps))
}

// Remediate rebuilds the order for an unfulfilled payment.
func (h *Handler) Remediate(w http.ResponseWriter, r *http.Request) {
	h.settled(w, r)(h.svc.Remediate(r.Context(), chi.URLParam(r, "id")))
}

func (h *Handler) settled(w http.ResponseWriter, r *http.Request) func(*checkout.Settlement, error) {
	return func(s *checkout.Settlement, err error) {
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, newSettlementResponse(s))
	}
}
