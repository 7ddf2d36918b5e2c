package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prohmpiriya/facility-rental/internal/domain"
	"github.com/prohmpiriya/facility-rental/pkg/retry"
)

// SessionRequest opens a provider checkout for a reservation
type SessionRequest struct {
	SessionID     string
	ReservationID string
	Amount        int64
	Currency      string
	Description   string
	Customer      domain.Customer
	Metadata      map[string]string
}

// Session is an opened provider checkout
type Session struct {
	ProviderPaymentID string
	ClientSecret      string
	Status            string
}

// CaptureResult is the provider's view of a payment
type CaptureResult struct {
	ProviderPaymentID string
	Status            string
	Captured          bool
	// Pending means the customer has not finished the checkout yet
	Pending       bool
	Amount        int64
	Currency      string
	FailureCode   string
	FailureReason string
	CapturedAt    time.Time
}

// PaymentProvider is the external card processor
type PaymentProvider interface {
	// OpenSession creates a checkout the client completes
	OpenSession(ctx context.Context, req *SessionRequest) (*Session, error)

	// VerifyCapture asks the provider for the current state of a payment
	VerifyCapture(ctx context.Context, providerPaymentID string) (*CaptureResult, error)

	// AwaitResult polls VerifyCapture until the payment leaves the pending
	// state or ctx is done
	AwaitResult(ctx context.Context, providerPaymentID string) (*CaptureResult, error)

	// Refund returns amount of a captured payment
	Refund(ctx context.Context, providerPaymentID string, amount int64, reason string) error

	// Cancel voids an uncaptured payment so the customer can no longer pay
	// it. Cancelling an already cancelled payment succeeds; a captured one
	// returns a *domain.PaymentProviderError.
	Cancel(ctx context.Context, providerPaymentID string) error

	// Name returns the provider name
	Name() string
}

var errStillPending = errors.New("payment still pending")

// awaitResult polls verify at a fixed interval. Terminal provider errors stop
// the loop; transient ones are retried until ctx expires.
func awaitResult(ctx context.Context, provider, providerPaymentID string, interval time.Duration, verify func(context.Context, string) (*CaptureResult, error)) (*CaptureResult, error) {
	if interval <= 0 {
		interval = 2 * time.Second
	}

	var result *CaptureResult
	err := retry.Do(ctx, &retry.Config{
		MaxRetries:      1 << 20,
		InitialInterval: interval,
		MaxInterval:     interval,
		Multiplier:      1,
	}, func(ctx context.Context) error {
		res, err := verify(ctx, providerPaymentID)
		if err != nil {
			var perr *domain.PaymentProviderError
			if errors.As(err, &perr) && !perr.Transient {
				return retry.Permanent(err)
			}
			return err
		}
		result = res
		if res.Pending {
			return errStillPending
		}
		return nil
	})
	if err == nil {
		return result, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, &domain.PaymentProviderError{
			Provider:  provider,
			Code:      "timeout",
			Transient: true,
			Err:       fmt.Errorf("no result for %s before deadline: %w", providerPaymentID, ctxErr),
		}
	}
	return nil, err
}
