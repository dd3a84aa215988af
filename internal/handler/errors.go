package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/inventory"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/payment"
	"github.com/xenking/kart-checkout/internal/domain/validation"
)

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`

	Field       string `json:"field,omitempty"`
	Reason      string `json:"reason,omitempty"`
	CouponCode  string `json:"couponCode,omitempty"`
	ProductID   string `json:"productId,omitempty"`
	VariantID   string `json:"variantId,omitempty"`
	Requested   *int   `json:"requested,omitempty"`
	Available   *int   `json:"available,omitempty"`
	PaymentID   string `json:"paymentId,omitempty"`
	OrderNumber string `json:"orderNumber,omitempty"`
}

// writeError maps domain errors to status codes. Anything unrecognised is
// logged and reported as 500 without detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validationErr *validation.Error
		couponErr     *coupon.Error
		stockErr      *inventory.InsufficientStockError
		verifyErr     *payment.VerificationError
		reconcileErr  *payment.ReconciliationError
	)

	switch {
	case errors.As(err, &reconcileErr):
		writeJSON(w, http.StatusAccepted, errorResponse{
			Code:      http.StatusAccepted,
			Message:   "payment received, order pending review",
			PaymentID: reconcileErr.PaymentID,
		})
	case errors.As(err, &verifyErr):
		writeJSON(w, http.StatusPaymentRequired, errorResponse{
			Code:      http.StatusPaymentRequired,
			Message:   verifyErr.Error(),
			Reason:    verifyErr.Reason.Error(),
			PaymentID: verifyErr.PaymentID,
		})
	case errors.As(err, &stockErr):
		writeJSON(w, http.StatusConflict, errorResponse{
			Code:      http.StatusConflict,
			Message:   stockErr.Error(),
			ProductID: stockErr.Ref.ProductID,
			VariantID: stockErr.Ref.VariantID,
			Requested: &stockErr.Requested,
			Available: &stockErr.Available,
		})
	case errors.As(err, &couponErr):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
			Code:       http.StatusUnprocessableEntity,
			Message:    couponErr.Error(),
			Reason:     couponErr.Reason.Error(),
			CouponCode: couponErr.Code,
		})
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Code:    http.StatusBadRequest,
			Message: validationErr.Error(),
			Field:   validationErr.Field,
		})
	case errors.Is(err, auth.ErrUnauthorized):
		writeJSON(w, http.StatusUnauthorized, errorResponse{Code: http.StatusUnauthorized, Message: "unauthorized"})
	case errors.Is(err, ErrForbidden):
		writeJSON(w, http.StatusForbidden, errorResponse{Code: http.StatusForbidden, Message: "forbidden"})
	case errors.Is(err, payment.ErrNotFound),
		errors.Is(err, order.ErrNotFound),
		errors.Is(err, catalog.ErrNotFound),
		errors.Is(err, checkout.ErrAddressNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Code: http.StatusNotFound, Message: err.Error()})
	default:
		zctx.From(r.Context()).Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Code:    http.StatusInternalServerError,
			Message: "internal error",
		})
	}
}
