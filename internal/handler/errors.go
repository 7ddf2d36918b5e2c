package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/prohmpiriya/facility-rental/internal/domain"
	"github.com/prohmpiriya/facility-rental/internal/dto"
	"github.com/prohmpiriya/facility-rental/pkg/logger"
	"github.com/prohmpiriya/facility-rental/pkg/middleware"
	"github.com/prohmpiriya/facility-rental/pkg/response"
	"github.com/prohmpiriya/facility-rental/pkg/telemetry"
)

// handleError converts domain errors to HTTP responses
func handleError(c *gin.Context, err error) {
	var sagaErr *domain.SagaError
	if errors.As(err, &sagaErr) {
		switch sagaErr.Stage {
		case domain.StageCreate:
			handleError(c, sagaErr.Err)
			return
		case domain.StageConfirm:
			// paid too late: the reservation moved on and the capture was reversed
			response.Error(c, http.StatusConflict, "RESERVATION_NOT_PAYABLE", domain.ErrPaymentFailed.Error(),
				"The reservation is no longer awaiting payment. Any captured amount is refunded.")
			return
		}
		response.Error(c, http.StatusPaymentRequired, "PAYMENT_FAILED", domain.ErrPaymentFailed.Error(), "")
		return
	}

	var conflict *domain.ConflictError
	var validation *domain.ValidationError
	switch {
	case domain.IsNotFoundError(err):
		response.Error(c, http.StatusNotFound, "NOT_FOUND", err.Error(), "")
	case errors.Is(err, domain.ErrNotOwner):
		response.Error(c, http.StatusForbidden, "FORBIDDEN", err.Error(), "")
	case errors.As(err, &conflict):
		response.Error(c, http.StatusConflict, "SLOT_CONFLICT", domain.ErrSlotConflict.Error(),
			"items["+strconv.Itoa(conflict.Index)+"]: "+conflict.Error())
	case errors.Is(err, domain.ErrCheckoutInProgress):
		response.Error(c, http.StatusConflict, "CHECKOUT_IN_PROGRESS", domain.ErrCheckoutInProgress.Error(), "")
	case errors.Is(err, domain.ErrConflictingRule):
		response.Error(c, http.StatusConflict, "RULE_CONFLICT", domain.ErrConflictingRule.Error(), "")
	case errors.Is(err, domain.ErrStaleState):
		response.Error(c, http.StatusConflict, "STALE_STATE", err.Error(), "")
	case errors.Is(err, domain.ErrInvalidTransition):
		response.Error(c, http.StatusConflict, "INVALID_STATE", domain.ErrInvalidTransition.Error(), "")
	case errors.As(err, &validation):
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", domain.ErrValidation.Error(), validation.Error())
	case domain.IsValidationError(err):
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), "")
	case domain.IsPaymentError(err):
		response.Error(c, http.StatusPaymentRequired, "PAYMENT_FAILED", domain.ErrPaymentFailed.Error(), "")
	default:
		logger.Get().ErrorContext(c.Request.Context(), "unhandled request error",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error", "")
	}
}

// failRequest records err on span and writes the mapped response
func failRequest(c *gin.Context, span trace.Span, err error) {
	telemetry.Fail(span, err)
	handleError(c, err)
}

// badRequest writes a 400 for a malformed body or query
func badRequest(c *gin.Context, span trace.Span, err error) {
	telemetry.Fail(span, err)
	response.Error(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request", err.Error())
}

// requireUser returns the authenticated user or writes a 401
func requireUser(c *gin.Context, span trace.Span) (string, bool) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		telemetry.Fail(span, errors.New("unauthorized"))
		response.Error(c, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized", "")
	}
	return userID, ok
}

// parseDate parses a YYYY-MM-DD query value as local midnight in loc
func parseDate(value, field string, loc *time.Location) (time.Time, error) {
	if value == "" {
		return time.Time{}, &domain.ValidationError{Field: field, Reason: "is required"}
	}
	t, err := time.ParseInLocation(dto.DateLayout, value, loc)
	if err != nil {
		return time.Time{}, &domain.ValidationError{Field: field, Reason: "must be YYYY-MM-DD"}
	}
	return t, nil
}

// parsePage reads limit and offset with a default limit of 20, capped at 100
func parsePage(c *gin.Context) (limit, offset int) {
	limit = 20
	if l := c.Query("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	if o := c.Query("offset"); o != "" {
		if n, err := strconv.Atoi(o); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
