package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/refund"

	"github.com/prohmpiriya/facility-rental/internal/domain"
)

// StripeProvider implements PaymentProvider using Stripe PaymentIntents.
// Amounts are passed through unchanged: KRW is a zero-decimal currency.
type StripeProvider struct {
	config *StripeProviderConfig
}

// StripeProviderConfig holds configuration for the Stripe provider
type StripeProviderConfig struct {
	SecretKey    string
	PollInterval time.Duration
}

// NewStripeProvider creates a new Stripe provider
func NewStripeProvider(config *StripeProviderConfig) (*StripeProvider, error) {
	if config == nil {
		return nil, fmt.Errorf("stripe config is required")
	}
	if config.SecretKey == "" {
		return nil, fmt.Errorf("stripe secret key is required")
	}

	// Set Stripe API key globally
	stripe.Key = config.SecretKey

	return &StripeProvider{config: config}, nil
}

// OpenSession creates a PaymentIntent and returns its client secret
func (p *StripeProvider) OpenSession(ctx context.Context, req *SessionRequest) (*Session, error) {
	if req == nil {
		return nil, fmt.Errorf("session request is required")
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	// one intent per local session even if the call is retried
	params.SetIdempotencyKey("session-" + req.SessionID)

	params.AddMetadata("reservation_id", req.ReservationID)
	params.AddMetadata("session_id", req.SessionID)
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	if req.Customer.Email != "" {
		params.ReceiptEmail = stripe.String(req.Customer.Email)
	}
	if req.Customer.Name != "" {
		params.AddMetadata("customer_name", req.Customer.Name)
	}
	if req.Customer.Phone != "" {
		params.AddMetadata("customer_phone", req.Customer.Phone)
	}

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, p.wrap("open_session", err)
	}

	return &Session{
		ProviderPaymentID: pi.ID,
		ClientSecret:      pi.ClientSecret,
		Status:            string(pi.Status),
	}, nil
}

// VerifyCapture reads the PaymentIntent and reports whether it succeeded
func (p *StripeProvider) VerifyCapture(ctx context.Context, providerPaymentID string) (*CaptureResult, error) {
	if providerPaymentID == "" {
		return nil, fmt.Errorf("provider payment ID is required")
	}

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := paymentintent.Get(providerPaymentID, params)
	if err != nil {
		return nil, p.wrap("verify_capture", err)
	}
	return captureFromIntent(pi), nil
}

func captureFromIntent(pi *stripe.PaymentIntent) *CaptureResult {
	res := &CaptureResult{
		ProviderPaymentID: pi.ID,
		Status:            string(pi.Status),
		Amount:            pi.AmountReceived,
		Currency:          strings.ToUpper(string(pi.Currency)),
	}

	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		res.Captured = true
		res.CapturedAt = time.Now()
	case stripe.PaymentIntentStatusCanceled:
		res.FailureCode = "canceled"
		res.FailureReason = string(pi.CancellationReason)
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		// a declined attempt puts the intent back here with the decline attached
		if pi.LastPaymentError != nil {
			res.FailureCode = string(pi.LastPaymentError.Code)
			res.FailureReason = pi.LastPaymentError.Msg
		} else {
			res.Pending = true
		}
	default:
		res.Pending = true
	}
	return res
}

// AwaitResult polls the PaymentIntent until it settles
func (p *StripeProvider) AwaitResult(ctx context.Context, providerPaymentID string) (*CaptureResult, error) {
	return awaitResult(ctx, p.Name(), providerPaymentID, p.config.PollInterval, p.VerifyCapture)
}

// Refund refunds a captured PaymentIntent
func (p *StripeProvider) Refund(ctx context.Context, providerPaymentID string, amount int64, reason string) error {
	if providerPaymentID == "" {
		return fmt.Errorf("provider payment ID is required")
	}

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(providerPaymentID),
		Amount:        stripe.Int64(amount),
	}
	params.Context = ctx
	params.SetIdempotencyKey("refund-" + providerPaymentID)
	if reason != "" {
		params.AddMetadata("reason", reason)
	}

	if _, err := refund.New(params); err != nil {
		return p.wrap("refund", err)
	}
	return nil
}

// Cancel cancels an uncaptured PaymentIntent as abandoned
func (p *StripeProvider) Cancel(ctx context.Context, providerPaymentID string) error {
	if providerPaymentID == "" {
		return fmt.Errorf("provider payment ID is required")
	}

	params := &stripe.PaymentIntentCancelParams{
		CancellationReason: stripe.String(string(stripe.PaymentIntentCancellationReasonAbandoned)),
	}
	params.Context = ctx

	_, err := paymentintent.Cancel(providerPaymentID, params)
	if err == nil {
		return nil
	}

	// a repeated cancel lands on an intent that is already canceled
	var serr *stripe.Error
	if errors.As(err, &serr) && serr.Code == stripe.ErrorCodePaymentIntentUnexpectedState {
		current, getErr := p.VerifyCapture(ctx, providerPaymentID)
		if getErr == nil && current.Status == string(stripe.PaymentIntentStatusCanceled) {
			return nil
		}
	}
	return p.wrap("cancel", err)
}

// Name returns the provider name
func (p *StripeProvider) Name() string {
	return "stripe"
}

// wrap classifies a Stripe error as transient or terminal
func (p *StripeProvider) wrap(call string, err error) error {
	perr := &domain.PaymentProviderError{
		Provider: p.Name(),
		Code:     call,
		Err:      err,
	}

	var serr *stripe.Error
	if errors.As(err, &serr) {
		if serr.Code != "" {
			perr.Code = string(serr.Code)
		}
		perr.Transient = serr.HTTPStatusCode == http.StatusTooManyRequests ||
			serr.HTTPStatusCode >= http.StatusInternalServerError ||
			serr.Type == stripe.ErrorTypeAPI
		return perr
	}

	// network failures never reached Stripe
	perr.Transient = true
	return perr
}
