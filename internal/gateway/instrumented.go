package gateway

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/prohmpiriya/facility-rental/internal/metrics"
	"github.com/prohmpiriya/facility-rental/pkg/telemetry"
)

// instrumented adds spans and latency metrics to every provider call
type instrumented struct {
	next PaymentProvider
}

// WithInstrumentation wraps a provider with tracing and metrics
func WithInstrumentation(p PaymentProvider) PaymentProvider {
	return &instrumented{next: p}
}

func (i *instrumented) observe(ctx context.Context, call, paymentID string, fn func(context.Context) error) {
	ctx, span := telemetry.StartSpan(ctx, "gateway."+i.next.Name()+"."+call)
	defer span.End()

	if paymentID != "" {
		span.SetAttributes(attribute.String("provider_payment_id", paymentID))
	}

	start := time.Now()
	err := fn(ctx)
	metrics.ObserveProviderCall(i.next.Name(), call, err, time.Since(start))
	if err != nil {
		telemetry.Fail(span, err)
	}
}

func (i *instrumented) OpenSession(ctx context.Context, req *SessionRequest) (sess *Session, err error) {
	i.observe(ctx, "open_session", "", func(ctx context.Context) error {
		sess, err = i.next.OpenSession(ctx, req)
		return err
	})
	return sess, err
}

func (i *instrumented) VerifyCapture(ctx context.Context, providerPaymentID string) (res *CaptureResult, err error) {
	i.observe(ctx, "verify_capture", providerPaymentID, func(ctx context.Context) error {
		res, err = i.next.VerifyCapture(ctx, providerPaymentID)
		return err
	})
	return res, err
}

func (i *instrumented) AwaitResult(ctx context.Context, providerPaymentID string) (res *CaptureResult, err error) {
	i.observe(ctx, "await_result", providerPaymentID, func(ctx context.Context) error {
		res, err = i.next.AwaitResult(ctx, providerPaymentID)
		return err
	})
	return res, err
}

func (i *instrumented) Refund(ctx context.Context, providerPaymentID string, amount int64, reason string) error {
	var err error
	i.observe(ctx, "refund", providerPaymentID, func(ctx context.Context) error {
		err = i.next.Refund(ctx, providerPaymentID, amount, reason)
		return err
	})
	return err
}

func (i *instrumented) Cancel(ctx context.Context, providerPaymentID string) error {
	var err error
	i.observe(ctx, "cancel", providerPaymentID, func(ctx context.Context) error {
		err = i.next.Cancel(ctx, providerPaymentID)
		return err
	})
	return err
}

func (i *instrumented) Name() string {
	return i.next.Name()
}
