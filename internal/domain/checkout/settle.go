package checkout

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/notify"
	"github.com/xenking/kart-checkout/internal/domain/payment"
	"github.com/xenking/kart-checkout/internal/domain/validation"
)

// ConfirmCOD confirms a cash-on-delivery payment and builds its order.
func (s *Service) ConfirmCOD(ctx context.Context, userID, paymentID string) (*Settlement, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.ConfirmCOD")
	defer span.End()

	return s.settle(ctx, userID, paymentID, payment.MethodCOD, func(p *payment.Payment) error {
		return p.Transition(payment.StatusCODConfirmed)
	})
}

// GatewayConfirmation is what the client receives from the gateway after
// redirect.
type GatewayConfirmation struct {
	UserID           string
	PaymentID        string
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
}

// VerifyGateway checks the gateway signature and settles the payment.
func (s *Service) VerifyGateway(ctx context.Context, req GatewayConfirmation) (*Settlement, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.VerifyGateway")
	defer span.End()

	switch {
	case req.PaymentID == "":
		return nil, validation.Errorf("paymentId", "is required")
	case req.GatewayOrderID == "":
		return nil, validation.Errorf("gatewayOrderId", "is required")
	case req.GatewayPaymentID == "":
		return nil, validation.Errorf("gatewayPaymentId", "is required")
	case req.Signature == "":
		return nil, validation.Errorf("signature", "is required")
	}

	p, err := s.getOwned(ctx, req.UserID, req.PaymentID, payment.MethodGateway)
	if err != nil {
		return nil, err
	}
	if p.Status.IsTerminal() {
		return s.cachedSettlement(p)
	}

	if req.GatewayOrderID != p.Gateway.OrderID ||
		!s.deps.Gateway.VerifySignature(p.Gateway.OrderID, req.GatewayPaymentID, req.Signature) {
		return nil, s.fail(ctx, req.UserID, req.PaymentID, payment.ErrSignatureMismatch)
	}

	return s.settle(ctx, req.UserID, req.PaymentID, payment.MethodGateway, func(p *payment.Payment) error {
		if err := p.Transition(payment.StatusSuccessful); err != nil {
			return err
		}
		p.Gateway.PaymentID = req.GatewayPaymentID
		p.Gateway.Signature = req.Signature
		return nil
	})
}

// fail marks a pending payment failed and returns the verification error.
func (s *Service) fail(ctx context.Context, userID, paymentID string, reason error) error {
	var cached *payment.Payment
	var failed *payment.Payment
	err := s.deps.Tx.InTx(ctx, func(ctx context.Context, tx Tx) error {
		p, err := lockOwned(ctx, tx, userID, paymentID)
		if err != nil {
			return err
		}
		if p.Status.IsTerminal() {
			cached = p
			return nil
		}
		if err := p.Transition(payment.StatusFailed); err != nil {
			return err
		}
		p.FailureReason = reason.Error()
		p.UpdatedAt = s.now().UTC()
		if err := tx.Payments().Update(ctx, p); err != nil {
			return errors.Wrap(err, "update payment")
		}
		failed = p
		return nil
	})
	if err != nil {
		return err
	}
	if cached != nil {
		_, err := s.cachedSettlement(cached)
		return err
	}

	s.metrics.paymentFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason.Error())))
	s.lg.Warn("Payment verification failed",
		zap.String("payment_id", paymentID),
		zap.NamedError("reason", reason),
	)
	s.deps.Notifier.Dispatch(ctx, notify.Event{
		Type:       notify.PaymentFailed,
		Severity:   notify.SeverityInfo,
		UserID:     userID,
		PaymentID:  paymentID,
		Method:     string(failed.Method),
		Amount:     failed.Amount,
		Reason:     reason.Error(),
		OccurredAt: s.now().UTC(),
	})
	return &payment.VerificationError{PaymentID: paymentID, Reason: reason}
}

// SendWalletOTP starts wallet verification for mobile.
func (s *Service) SendWalletOTP(ctx context.Context, userID, paymentID, mobile string) (*Settlement, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.SendWalletOTP")
	defer span.End()

	mobile, err := normalizeMobile(mobile)
	if err != nil {
		return nil, err
	}
	p, err := s.getOwned(ctx, userID, paymentID, payment.MethodWallet)
	if err != nil {
		return nil, err
	}
	if err := walletIdle(p); err != nil {
		return nil, err
	}

	if err := s.deps.Wallet.SendOTP(ctx, mobile); err != nil {
		return nil, errors.Wrap(err, "send otp")
	}

	return s.walletStep(ctx, userID, paymentID, func(p *payment.Payment) error {
		if err := walletIdle(p); err != nil {
			return err
		}
		p.Wallet.Mobile = mobile
		p.Wallet.Step = payment.WalletStepOTPSent
		return nil
	})
}

// VerifyWalletOTP checks the OTP sent to the payment's mobile number.
func (s *Service) VerifyWalletOTP(ctx context.Context, userID, paymentID, otp string) (*Settlement, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.VerifyWalletOTP")
	defer span.End()

	otp = strings.TrimSpace(otp)
	if otp == "" {
		return nil, validation.Errorf("otp", "is required")
	}
	p, err := s.getOwned(ctx, userID, paymentID, payment.MethodWallet)
	if err != nil {
		return nil, err
	}
	if p.Status.IsTerminal() {
		return s.cachedSettlement(p)
	}
	switch p.Wallet.Step {
	case payment.WalletStepVerified:
		return settlementOf(p), nil
	case payment.WalletStepOTPSent:
	default:
		return nil, validation.Errorf("otp", "request an OTP first")
	}

	ok, err := s.deps.Wallet.VerifyOTP(ctx, p.Wallet.Mobile, otp)
	if err != nil {
		return nil, errors.Wrap(err, "verify otp")
	}
	if !ok {
		return nil, validation.Errorf("otp", "incorrect or expired OTP")
	}

	mobile := p.Wallet.Mobile
	return s.walletStep(ctx, userID, paymentID, func(p *payment.Payment) error {
		if p.Status.IsTerminal() || p.Wallet.Step != payment.WalletStepOTPSent || p.Wallet.Mobile != mobile {
			return validation.Errorf("otp", "OTP is no longer valid for this payment")
		}
		p.Wallet.Step = payment.WalletStepVerified
		return nil
	})
}

// ProcessWallet checks the wallet balance, debits it and settles the
// payment. Insufficient balance leaves the payment pending and untouched.
func (s *Service) ProcessWallet(ctx context.Context, userID, paymentID string) (*Settlement, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.ProcessWallet")
	defer span.End()

	p, err := s.getOwned(ctx, userID, paymentID, payment.MethodWallet)
	if err != nil {
		return nil, err
	}
	if p.Status.IsTerminal() {
		return s.cachedSettlement(p)
	}
	if p.Wallet.Step != payment.WalletStepVerified {
		return nil, walletStepError(p.Wallet.Step)
	}

	if err := s.checkBalance(ctx, p); err != nil {
		return nil, err
	}

	// Claim the debit so concurrent calls cannot charge twice.
	if _, err := s.walletStep(ctx, userID, paymentID, func(p *payment.Payment) error {
		if p.Status.IsTerminal() || p.Wallet.Step != payment.WalletStepVerified {
			return walletStepError(p.Wallet.Step)
		}
		p.Wallet.Step = payment.WalletStepDebiting
		return nil
	}); err != nil {
		return nil, err
	}
	release := func() {
		if _, err := s.walletStep(ctx, userID, paymentID, func(p *payment.Payment) error {
			if p.Wallet.Step == payment.WalletStepDebiting && !p.Status.IsTerminal() {
				p.Wallet.Step = payment.WalletStepVerified
			}
			return nil
		}); err != nil {
			s.lg.Error("Release wallet claim", zap.String("payment_id", paymentID), zap.Error(err))
		}
	}

	if err := s.checkBalance(ctx, p); err != nil {
		release()
		return nil, err
	}
	txnID, err := s.deps.Wallet.Debit(ctx, p.Wallet.Mobile, p.Amount, p.ID)
	if err != nil {
		release()
		if errors.Is(err, payment.ErrWalletInsufficientFunds) {
			return nil, s.insufficient(ctx, p)
		}
		return nil, errors.Wrap(err, "debit wallet")
	}

	return s.settle(ctx, userID, paymentID, payment.MethodWallet, func(p *payment.Payment) error {
		if err := p.Transition(payment.StatusSuccessful); err != nil {
			return err
		}
		p.Wallet.TransactionID = txnID
		return nil
	})
}

func (s *Service) checkBalance(ctx context.Context, p *payment.Payment) error {
	balance, err := s.deps.Wallet.Balance(ctx, p.Wallet.Mobile)
	if err != nil {
		return errors.Wrap(err, "wallet balance")
	}
	if balance.LessThan(p.Amount) {
		return s.insufficient(ctx, p)
	}
	return nil
}

func (s *Service) insufficient(ctx context.Context, p *payment.Payment) error {
	s.metrics.paymentFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", payment.ErrInsufficientBalance.Error()),
	))
	return &payment.VerificationError{PaymentID: p.ID, Reason: payment.ErrInsufficientBalance}
}

// walletStep applies fn to the locked payment and stores it.
func (s *Service) walletStep(ctx context.Context, userID, paymentID string, fn func(p *payment.Payment) error) (*Settlement, error) {
	var res *Settlement
	err := s.deps.Tx.InTx(ctx, func(ctx context.Context, tx Tx) error {
		p, err := lockOwned(ctx, tx, userID, paymentID)
		if err != nil {
			return err
		}
		if err := fn(p); err != nil {
			return err
		}
		p.UpdatedAt = s.now().UTC()
		if err := tx.Payments().Update(ctx, p); err != nil {
			return errors.Wrap(err, "update payment")
		}
		res = settlementOf(p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func walletIdle(p *payment.Payment) error {
	if p.Status.IsTerminal() {
		return validation.Errorf("paymentId", "payment %s is already %s", p.ID, p.Status)
	}
	if p.Wallet.Step == payment.WalletStepDebiting {
		return walletStepError(p.Wallet.Step)
	}
	return nil
}

func walletStepError(step payment.WalletStep) error {
	switch step {
	case payment.WalletStepDebiting:
		return validation.Errorf("paymentId", "payment is already being processed")
	case payment.WalletStepOTPSent:
		return validation.Errorf("otp", "verify the OTP first")
	default:
		return validation.Errorf("otp", "request an OTP first")
	}
}

func normalizeMobile(raw string) (string, error) {
	m := strings.TrimPrefix(strings.Join(strings.Fields(raw), ""), "+")
	if len(m) < 10 || len(m) > 15 {
		return "", validation.Errorf("mobile", "must have 10 to 15 digits")
	}
	for _, r := range m {
		if r < '0' || r > '9' {
			return "", validation.Errorf("mobile", "must contain digits only")
		}
	}
	return m, nil
}
