package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/prohmpiriya/facility-rental/internal/domain"
	"github.com/prohmpiriya/facility-rental/internal/dto"
	"github.com/prohmpiriya/facility-rental/internal/service"
	"github.com/prohmpiriya/facility-rental/pkg/middleware"
	"github.com/prohmpiriya/facility-rental/pkg/response"
	"github.com/prohmpiriya/facility-rental/pkg/telemetry"
)

// AdminHandler handles administrator HTTP requests
type AdminHandler struct {
	reservations service.ReservationService
	payments     PaymentOrchestrator
	catalog      service.CatalogService
	availability service.AvailabilityService
	loc          *time.Location
}

// AdminHandlerConfig groups the admin handler dependencies
type AdminHandlerConfig struct {
	Reservations service.ReservationService
	Payments     PaymentOrchestrator
	Catalog      service.CatalogService
	Availability service.AvailabilityService
	Location     *time.Location
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(cfg *AdminHandlerConfig) *AdminHandler {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	return &AdminHandler{
		reservations: cfg.Reservations,
		payments:     cfg.Payments,
		catalog:      cfg.Catalog,
		availability: cfg.Availability,
		loc:          loc,
	}
}

// ListReservations handles GET /admin/reservations?status=&from=&to=
func (h *AdminHandler) ListReservations(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.admin.list_reservations")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	limit, offset := parsePage(c)
	filter := &domain.ReservationFilter{
		UserID: c.Query("user_id"),
		Status: domain.ReservationStatus(c.Query("status")),
		Limit:  limit,
		Offset: offset,
	}
	if raw := c.Query("from"); raw != "" {
		from, err := parseDate(raw, "from", h.loc)
		if err != nil {
			failRequest(c, span, err)
			return
		}
		filter.From = &from
	}
	if raw := c.Query("to"); raw != "" {
		to, err := parseDate(raw, "to", h.loc)
		if err != nil {
			failRequest(c, span, err)
			return
		}
		filter.To = &to
	}

	span.SetAttributes(
		attribute.String("status", string(filter.Status)),
		attribute.Int("limit", limit),
		attribute.Int("offset", offset),
	)

	list, total, err := h.reservations.ListReservations(ctx, filter)
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

// Dashboard handles GET /admin/dashboard?days=
func (h *AdminHandler) Dashboard(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.admin.dashboard")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	days := 7
	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 90 {
			failRequest(c, span, &domain.ValidationError{Field: "days", Reason: "must be between 1 and 90"})
			return
		}
		days = n
	}
	span.SetAttributes(attribute.Int("days", days))

	dashboard, err := h.reservations.Dashboard(ctx, days)
	if err != nil {
		failRequest(c, span, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	response.JSON(c, http.StatusOK, dto.FromDashboard(dashboard, h.loc))
}

// UpdateReservationStatus handles POST /admin/reservations/:id/status.
// CANCELLED refunds any captured payment; COMPLETED requires every item to have ended.
func (h *AdminHandler) UpdateReservationStatus(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.admin.update_status")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	adminID, ok := requireUser(c, span)
	if !ok {
		return
	}

	var req dto.UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, span, err)
		return
	}

	reservationID := c.Param("id")
	span.SetAttributes(
		attribute.String("reservation_id", reservationID),
		attribute.String("status", req.Status),
		attribute.String("admin_id", adminID),
	)

	if domain.ReservationStatus(req.Status) == domain.StatusCancelled {
		reservation, err := h.payments.CancelReservation(ctx, adminID, reservationID, req.Reason, true)
		writeCancelResult(c, span, reservation, err)
		return
	}

	reservation, err := h.reservations.MarkCompleted(ctx, reservationID)
	if err != nil {
		failRequest(c, span, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, dto.ReservationEnvelope{Reservation: dto.FromReservation(reservation)})
}

// Schedule handles GET /admin/schedule?scope=&from=&to=
func (h *AdminHandler) Schedule(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.admin.schedule")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	scope, from, to, err := rangeQuery(c, h.loc)
	if err != nil {
		failRequest(c, span, err)
		return
	}

	span.SetAttributes(attribute.String("scope", scope.String()))

	schedule, err := h.availability.DaySchedule(ctx, scope, from, to)
	if err != nil {
		failRequest(c, span, err)
		return
	}

	booked := schedule.Booked
	if booked == nil {
		booked = []domain.BookedInterval{}
	}

	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, dto.ScheduleResponse{
		From:     from.Format(dto.DateLayout),
		To:       to.Format(dto.DateLayout),
		Booked:   booked,
		Rules:    dto.FromRules(schedule.Rules),
		Holidays: dto.FromHolidays(schedule.Holidays, h.loc),
	})
}

// ListRules handles GET /admin/rules?scope=&from=&to=
func (h *AdminHandler) ListRules(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.admin.list_rules")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	scope, from, to, err := rangeQuery(c, h.loc)
	if err != nil {
		failRequest(c, span, err)
		return
	}

	rules, err := h.catalog.ListRules(ctx, scope, from, to)
	if err != nil {
		failRequest(c, span, err)
		return
	}

	span.SetAttributes(attribute.Int("rule_count", len(rules)))
	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, gin.H{"rules": dto.FromRules(rules)})
}

// CreateRule handles POST /admin/rules
func (h *AdminHandler) CreateRule(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.admin.create_rule")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	adminID, _ := middleware.GetUserID(c)

	var req dto.CreateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, span, err)
		return
	}

	scope, err := domain.ParseScope(req.Scope)
	if err != nil {
		failRequest(c, span, err)
		return
	}

	span.SetAttributes(
		attribute.String("scope", scope.String()),
		attribute.String("kind", req.Kind),
	)

	rule, err := h.catalog.CreateRule(ctx, adminID, &domain.ScheduleRule{
		Scope:   scope,
		Kind:    domain.RuleKind(req.Kind),
		StartAt: req.StartAt,
		EndAt:   req.EndAt,
		Reason:  req.Reason,
	})
	if err != nil {
		failRequest(c, span, err)
		return
	}

	span.SetAttributes(attribute.String("rule_id", rule.ID))
	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusCreated, dto.FromRule(rule))
}

// DeleteRule handles DELETE /admin/rules/:id
func (h *AdminHandler) DeleteRule(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.admin.delete_rule")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	ruleID := c.Param("id")
	span.SetAttributes(attribute.String("rule_id", ruleID))

	if err := h.catalog.DeleteRule(ctx, ruleID); err != nil {
		failRequest(c, span, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	c.Status(http.StatusNoContent)
}

// ListHolidays handles GET /admin/holidays?from=&to=
func (h *AdminHandler) ListHolidays(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.admin.list_holidays")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	_, from, to, err := rangeQuery(c, h.loc)
	if err != nil {
		failRequest(c, span, err)
		return
	}

	holidays, err := h.catalog.ListHolidays(ctx, from, to)
	if err != nil {
		failRequest(c, span, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, gin.H{"holidays": dto.FromHolidays(holidays, h.loc)})
}

// UpsertHoliday handles PUT /admin/holidays
func (h *AdminHandler) UpsertHoliday(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.admin.upsert_holiday")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	var req dto.UpsertHolidayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, span, err)
		return
	}

	date, err := parseDate(req.Date, "date", h.loc)
	if err != nil {
		failRequest(c, span, err)
		return
	}

	span.SetAttributes(attribute.String("date", req.Date))

	holiday, err := h.catalog.UpsertHoliday(ctx, date, req.Name)
	if err != nil {
		failRequest(c, span, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, dto.FromHolidays([]*domain.Holiday{holiday}, h.loc)[0])
}

// DeleteHoliday handles DELETE /admin/holidays/:date
func (h *AdminHandler) DeleteHoliday(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.admin.delete_holiday")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	date, err := parseDate(c.Param("date"), "date", h.loc)
	if err != nil {
		failRequest(c, span, err)
		return
	}

	span.SetAttributes(attribute.String("date", c.Param("date")))

	if err := h.catalog.DeleteHoliday(ctx, date); err != nil {
		failRequest(c, span, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	c.Status(http.StatusNoContent)
}
