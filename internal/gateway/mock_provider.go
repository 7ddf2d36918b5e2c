package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/prohmpiriya/facility-rental/internal/domain"
)

// alphanumericChars for generating Stripe-compatible IDs
const alphanumericChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func randomAlphanumeric(length int) string {
	b := make([]byte, length)
	for i := range b {
		b[i] = alphanumericChars[rand.Intn(len(alphanumericChars))]
	}
	return string(b)
}

// MockProvider implements PaymentProvider in memory for tests and local runs
type MockProvider struct {
	config   *MockProviderConfig
	payments map[string]*mockPayment
	refunds  []MockRefund
	cancels  []string

	// injected failures, see SetFailures
	openErr   error
	verifyErr error
	refundErr error
	cancelErr error

	mu sync.Mutex
}

// MockProviderConfig holds configuration for the mock provider
type MockProviderConfig struct {
	// AutoCapture settles every session as captured on first verify
	AutoCapture bool

	// CaptureAmount overrides the amount AutoCapture captures when positive
	CaptureAmount int64

	// AutoDecline declines every session with this code on first verify.
	// It takes precedence over AutoCapture.
	AutoDecline string

	// DelayMs is the simulated processing delay in milliseconds
	DelayMs int

	// PollInterval is used by AwaitResult
	PollInterval time.Duration
}

// MockRefund records one refund call
type MockRefund struct {
	ProviderPaymentID string
	Amount            int64
	Reason            string
}

type mockPayment struct {
	result  CaptureResult
	request SessionRequest
}

// DefaultMockProviderConfig returns an auto-capturing provider without delay
func DefaultMockProviderConfig() *MockProviderConfig {
	return &MockProviderConfig{
		AutoCapture:  true,
		PollInterval: 10 * time.Millisecond,
	}
}

// NewMockProvider creates a new mock provider
func NewMockProvider(config *MockProviderConfig) *MockProvider {
	if config == nil {
		config = DefaultMockProviderConfig()
	}
	return &MockProvider{
		config:   config,
		payments: make(map[string]*mockPayment),
	}
}

func (p *MockProvider) delay(ctx context.Context) error {
	if p.config.DelayMs <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Duration(p.config.DelayMs) * time.Millisecond):
		return nil
	}
}

// OpenSession creates a pending mock payment
func (p *MockProvider) OpenSession(ctx context.Context, req *SessionRequest) (*Session, error) {
	if req == nil {
		return nil, fmt.Errorf("session request is required")
	}
	if err := p.delay(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.openErr != nil {
		return nil, p.openErr
	}

	// Generate mock IDs - Stripe-compatible format (alphanumeric only)
	id := fmt.Sprintf("pi_mock_%s", randomAlphanumeric(24))
	p.payments[id] = &mockPayment{
		request: *req,
		result: CaptureResult{
			ProviderPaymentID: id,
			Status:            "requires_payment_method",
			Pending:           true,
			Currency:          req.Currency,
		},
	}

	return &Session{
		ProviderPaymentID: id,
		ClientSecret:      fmt.Sprintf("%s_secret_%s", id, randomAlphanumeric(24)),
		Status:            "requires_payment_method",
	}, nil
}

// VerifyCapture returns the current state of a mock payment
func (p *MockProvider) VerifyCapture(ctx context.Context, providerPaymentID string) (*CaptureResult, error) {
	if err := p.delay(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.verifyErr != nil {
		return nil, p.verifyErr
	}

	pay, ok := p.payments[providerPaymentID]
	if !ok {
		return nil, &domain.PaymentProviderError{
			Provider: p.Name(),
			Code:     "resource_missing",
			Err:      fmt.Errorf("payment intent not found: %s", providerPaymentID),
		}
	}
	if pay.result.Pending {
		switch {
		case p.config.AutoDecline != "":
			declineLocked(pay, p.config.AutoDecline, "declined by mock provider")
		case p.config.AutoCapture:
			amount := pay.request.Amount
			if p.config.CaptureAmount > 0 {
				amount = p.config.CaptureAmount
			}
			p.captureLocked(pay, amount)
		}
	}

	res := pay.result
	return &res, nil
}

// AwaitResult polls VerifyCapture until the payment settles
func (p *MockProvider) AwaitResult(ctx context.Context, providerPaymentID string) (*CaptureResult, error) {
	return awaitResult(ctx, p.Name(), providerPaymentID, p.config.PollInterval, p.VerifyCapture)
}

// Refund records a refund of a captured mock payment
func (p *MockProvider) Refund(ctx context.Context, providerPaymentID string, amount int64, reason string) error {
	if err := p.delay(ctx); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.refundErr != nil {
		return p.refundErr
	}

	pay, ok := p.payments[providerPaymentID]
	if !ok || !pay.result.Captured {
		return &domain.PaymentProviderError{
			Provider: p.Name(),
			Code:     "charge_not_refundable",
			Err:      fmt.Errorf("payment %s is not captured", providerPaymentID),
		}
	}

	pay.result.Status = "refunded"
	p.refunds = append(p.refunds, MockRefund{ProviderPaymentID: providerPaymentID, Amount: amount, Reason: reason})
	return nil
}

// Cancel voids an uncaptured mock payment
func (p *MockProvider) Cancel(ctx context.Context, providerPaymentID string) error {
	if err := p.delay(ctx); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancelErr != nil {
		return p.cancelErr
	}

	pay, ok := p.payments[providerPaymentID]
	if !ok {
		return &domain.PaymentProviderError{
			Provider: p.Name(),
			Code:     "resource_missing",
			Err:      fmt.Errorf("payment intent not found: %s", providerPaymentID),
		}
	}
	if pay.result.Status == "canceled" {
		return nil
	}
	if pay.result.Captured {
		return &domain.PaymentProviderError{
			Provider: p.Name(),
			Code:     "payment_intent_unexpected_state",
			Err:      fmt.Errorf("payment %s is already captured", providerPaymentID),
		}
	}

	pay.result.Status = "canceled"
	pay.result.Pending = false
	if pay.result.FailureCode == "" {
		pay.result.FailureCode = "canceled"
	}
	p.cancels = append(p.cancels, providerPaymentID)
	return nil
}

// Name returns the provider name
func (p *MockProvider) Name() string {
	return "mock"
}

// Capture simulates the customer completing the checkout for amount.
// A cancelled payment can no longer be captured.
func (p *MockProvider) Capture(providerPaymentID string, amount int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pay, ok := p.payments[providerPaymentID]; ok && pay.result.Status != "canceled" {
		p.captureLocked(pay, amount)
	}
}

func (p *MockProvider) captureLocked(pay *mockPayment, amount int64) {
	pay.result.Status = "succeeded"
	pay.result.Pending = false
	pay.result.Captured = true
	pay.result.Amount = amount
	pay.result.CapturedAt = time.Now()
}

// Decline simulates a card decline
func (p *MockProvider) Decline(providerPaymentID, code, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pay, ok := p.payments[providerPaymentID]; ok {
		declineLocked(pay, code, reason)
	}
}

func declineLocked(pay *mockPayment, code, reason string) {
	pay.result.Status = "requires_payment_method"
	pay.result.Pending = false
	pay.result.FailureCode = code
	pay.result.FailureReason = reason
}

// Refunds returns the refunds issued so far
func (p *MockProvider) Refunds() []MockRefund {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]MockRefund(nil), p.refunds...)
}

// Cancels returns the payments cancelled so far
func (p *MockProvider) Cancels() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.cancels...)
}

// Request returns the session request behind a mock payment
func (p *MockProvider) Request(providerPaymentID string) (SessionRequest, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pay, ok := p.payments[providerPaymentID]
	if !ok {
		return SessionRequest{}, false
	}
	return pay.request, true
}

// SetFailures replaces the injected errors
func (p *MockProvider) SetFailures(open, verify, refund error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.openErr, p.verifyErr, p.refundErr = open, verify, refund
}

// SetCancelFailure makes every Cancel return err until reset with nil
func (p *MockProvider) SetCancelFailure(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelErr = err
}
