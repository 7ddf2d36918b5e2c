package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/prohmpiriya/facility-rental/internal/domain"
	"github.com/prohmpiriya/facility-rental/internal/dto"
	"github.com/prohmpiriya/facility-rental/internal/service"
	"github.com/prohmpiriya/facility-rental/pkg/response"
	"github.com/prohmpiriya/facility-rental/pkg/telemetry"
)

// PaymentOrchestrator drives payment and payment-aware cancellation
type PaymentOrchestrator interface {
	Checkout(ctx context.Context, userID, reservationID string, customer domain.Customer) (*domain.PaymentSession, error)
	Complete(ctx context.Context, actor, providerPaymentID string, isAdmin bool) (*domain.Reservation, error)
	Fail(ctx context.Context, actor, providerPaymentID, code, message string, isAdmin bool) (*domain.Reservation, error)
	CancelReservation(ctx context.Context, actor, reservationID, reason string, isAdmin bool) (*domain.Reservation, error)
}

// ReservationHandler handles reservation HTTP requests
type ReservationHandler struct {
	reservations service.ReservationService
	payments     PaymentOrchestrator
}

// NewReservationHandler creates a new reservation handler
func NewReservationHandler(reservations service.ReservationService, payments PaymentOrchestrator) *ReservationHandler {
	return &ReservationHandler{
		reservations: reservations,
		payments:     payments,
	}
}

// CreateReservation handles POST /reservations
func (h *ReservationHandler) CreateReservation(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.reservation.create")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, ok := requireUser(c, span)
	if !ok {
		return
	}

	var req dto.CreateReservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, span, err)
		return
	}

	span.SetAttributes(
		attribute.String("user_id", userID),
		attribute.Int("item_count", len(req.Items)),
	)

	reservation, err := h.reservations.CreateReservation(ctx, userID, req.CartItems(), req.InsuranceDocRef)
	if err != nil {
		failRequest(c, span, err)
		return
	}

	span.SetAttributes(attribute.String("reservation_id", reservation.ID))
	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusCreated, dto.ReservationEnvelope{Reservation: dto.FromReservation(reservation)})
}

// GetReservation handles GET /reservations/:id
func (h *ReservationHandler) GetReservation(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.reservation.get")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, ok := requireUser(c, span)
	if !ok {
		return
	}

	reservationID := c.Param("id")
	span.SetAttributes(
		attribute.String("reservation_id", reservationID),
		attribute.String("user_id", userID),
	)

	reservation, err := h.reservations.GetUserReservation(ctx, userID, reservationID)
	if err != nil {
		failRequest(c, span, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, dto.ReservationEnvelope{Reservation: dto.FromReservation(reservation)})
}

// ListReservations handles GET /reservations
func (h *ReservationHandler) ListReservations(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.reservation.list")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, ok := requireUser(c, span)
	if !ok {
		return
	}

	limit, offset := parsePage(c)
	span.SetAttributes(
		attribute.String("user_id", userID),
		attribute.Int("limit", limit),
		attribute.Int("offset", offset),
	)

	list, total, err := h.reservations.ListUserReservations(ctx, userID, limit, offset)
	if err != nil {
		failRequest(c, span, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	response.Page(c, http.StatusOK, dto.FromReservations(list), response.PageMeta{
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// CancelReservation handles POST /reservations/:id/cancel.
// Cancelling an already terminal reservation is a no-op.
func (h *ReservationHandler) CancelReservation(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.reservation.cancel")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, ok := requireUser(c, span)
	if !ok {
		return
	}

	var req dto.CancelReservationRequest
	// reason is optional, so an empty body is fine
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, span, err)
			return
		}
	}

	reservationID := c.Param("id")
	span.SetAttributes(
		attribute.String("reservation_id", reservationID),
		attribute.String("user_id", userID),
	)

	reservation, err := h.payments.CancelReservation(ctx, userID, reservationID, req.Reason, false)
	writeCancelResult(c, span, reservation, err)
}

func writeCancelResult(c *gin.Context, span trace.Span, reservation *domain.Reservation, err error) {
	if err != nil && errors.Is(err, domain.ErrStaleState) && reservation != nil {
		span.SetAttributes(attribute.Bool("stale", true))
		span.SetStatus(codes.Ok, "")
		c.JSON(http.StatusOK, dto.ReservationEnvelope{
			Reservation: dto.FromReservation(reservation),
			Message:     "reservation is already " + string(reservation.Status),
		})
		return
	}
	if err != nil {
		failRequest(c, span, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, dto.ReservationEnvelope{Reservation: dto.FromReservation(reservation)})
}
