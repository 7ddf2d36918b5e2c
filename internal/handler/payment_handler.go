package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/prohmpiriya/facility-rental/internal/domain"
	"github.com/prohmpiriya/facility-rental/internal/dto"
	"github.com/prohmpiriya/facility-rental/pkg/middleware"
	"github.com/prohmpiriya/facility-rental/pkg/telemetry"
)

// PaymentHandler handles the checkout round trip with the payment provider
type PaymentHandler struct {
	payments PaymentOrchestrator
}

// NewPaymentHandler creates a new payment handler
func NewPaymentHandler(payments PaymentOrchestrator) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

// Checkout handles POST /payments/checkout
func (h *PaymentHandler) Checkout(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.payment.checkout")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, ok := requireUser(c, span)
	if !ok {
		return
	}

	var req dto.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, span, err)
		return
	}

	span.SetAttributes(
		attribute.String("user_id", userID),
		attribute.String("reservation_id", req.ReservationID),
	)

	session, err := h.payments.Checkout(ctx, userID, req.ReservationID, req.Customer.ToDomain())
	if err != nil {
		failRequest(c, span, err)
		return
	}

	span.SetAttributes(attribute.String("payment_id", session.ProviderPaymentID))
	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, dto.FromSession(session))
}

// CompletePayment handles POST /payments/complete.
// Repeating it for a confirmed reservation returns the same result.
func (h *PaymentHandler) CompletePayment(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.payment.complete")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, ok := requireUser(c, span)
	if !ok {
		return
	}

	var req dto.CompletePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, span, err)
		return
	}

	span.SetAttributes(
		attribute.String("user_id", userID),
		attribute.String("payment_id", req.PaymentID),
	)

	reservation, err := h.payments.Complete(ctx, userID, req.PaymentID, middleware.IsAdmin(c))
	if err != nil {
		failRequest(c, span, err)
		return
	}

	span.SetAttributes(attribute.String("reservation_id", reservation.ID))
	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, dto.ReservationEnvelope{Reservation: dto.FromReservation(reservation)})
}

// FailPayment handles POST /payments/fail, reported by the provider UI.
// The reservation is released unless the provider actually captured.
func (h *PaymentHandler) FailPayment(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.payment.fail")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, ok := requireUser(c, span)
	if !ok {
		return
	}

	var req dto.FailPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, span, err)
		return
	}

	span.SetAttributes(
		attribute.String("user_id", userID),
		attribute.String("payment_id", req.PaymentID),
		attribute.String("code", req.Code),
	)

	reservation, err := h.payments.Fail(ctx, userID, req.PaymentID, req.Code, req.Message, middleware.IsAdmin(c))
	if err != nil && reservation == nil {
		failRequest(c, span, err)
		return
	}

	// the failure itself is the expected outcome here
	span.SetAttributes(attribute.String("reservation_id", reservation.ID))
	span.SetStatus(codes.Ok, "")
	message := ""
	if err != nil {
		message = domain.ErrPaymentFailed.Error()
	}
	c.JSON(http.StatusOK, dto.ReservationEnvelope{
		Reservation: dto.FromReservation(reservation),
		Message:     message,
	})
}
