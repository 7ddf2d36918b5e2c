package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/prohmpiriya/facility-rental/internal/domain"
	"github.com/prohmpiriya/facility-rental/internal/dto"
	"github.com/prohmpiriya/facility-rental/internal/service"
	"github.com/prohmpiriya/facility-rental/pkg/telemetry"
)

// AvailabilityHandler serves the public calendar and resource catalog
type AvailabilityHandler struct {
	availability service.AvailabilityService
	catalog      service.CatalogService
	loc          *time.Location
}

// NewAvailabilityHandler creates a new availability handler
func NewAvailabilityHandler(availability service.AvailabilityService, catalog service.CatalogService, loc *time.Location) *AvailabilityHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &AvailabilityHandler{
		availability: availability,
		catalog:      catalog,
		loc:          loc,
	}
}

// BookedIntervals handles GET /availability/booked?date=YYYY-MM-DD[&resource_id=]
func (h *AvailabilityHandler) BookedIntervals(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.availability.booked")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	date, err := parseDate(c.Query("date"), "date", h.loc)
	if err != nil {
		failRequest(c, span, err)
		return
	}
	resourceID := c.Query("resource_id")

	span.SetAttributes(
		attribute.String("date", c.Query("date")),
		attribute.String("resource_id", resourceID),
	)

	intervals, err := h.availability.GetBookedIntervals(ctx, resourceID, date)
	if err != nil {
		failRequest(c, span, err)
		return
	}
	if intervals == nil {
		intervals = []domain.BookedInterval{}
	}

	span.SetAttributes(attribute.Int("interval_count", len(intervals)))
	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, dto.BookedIntervalsResponse{
		Date:       date.Format(dto.DateLayout),
		ResourceID: resourceID,
		Intervals:  intervals,
	})
}

// OpenDates handles GET /availability/dates?scope=&from=&to=
func (h *AvailabilityHandler) OpenDates(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.availability.dates")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	scope, from, to, err := rangeQuery(c, h.loc)
	if err != nil {
		failRequest(c, span, err)
		return
	}

	span.SetAttributes(
		attribute.String("scope", scope.String()),
		attribute.String("from", from.Format(dto.DateLayout)),
		attribute.String("to", to.Format(dto.DateLayout)),
	)

	days, err := h.availability.OpenDates(ctx, scope, from, to)
	if err != nil {
		failRequest(c, span, err)
		return
	}

	dates := make([]dto.DateStatusResponse, 0, len(days))
	for _, d := range days {
		dates = append(dates, dto.DateStatusResponse{Date: d.Date, Open: d.Open, Holiday: d.Holiday})
	}

	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, dto.OpenDatesResponse{Scope: scope.String(), Dates: dates})
}

// CheckSlot handles GET /availability/check?resource_id=&start_at=&end_at=
func (h *AvailabilityHandler) CheckSlot(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.availability.check")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	resourceID := c.Query("resource_id")
	if resourceID == "" {
		failRequest(c, span, &domain.ValidationError{Field: "resource_id", Reason: "is required"})
		return
	}
	start, err := time.Parse(time.RFC3339, c.Query("start_at"))
	if err != nil {
		failRequest(c, span, &domain.ValidationError{Field: "start_at", Reason: "must be RFC 3339"})
		return
	}
	end, err := time.Parse(time.RFC3339, c.Query("end_at"))
	if err != nil {
		failRequest(c, span, &domain.ValidationError{Field: "end_at", Reason: "must be RFC 3339"})
		return
	}

	span.SetAttributes(attribute.String("resource_id", resourceID))

	bookable, err := h.availability.IsBookable(ctx, resourceID, domain.Interval{Start: start, End: end})
	if err != nil {
		failRequest(c, span, err)
		return
	}

	span.SetAttributes(attribute.Bool("bookable", bookable))
	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, gin.H{"resource_id": resourceID, "start_at": start, "end_at": end, "bookable": bookable})
}

// ListResources handles GET /resources
func (h *AvailabilityHandler) ListResources(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.catalog.list")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	resources, err := h.catalog.ListResources(ctx, true)
	if err != nil {
		failRequest(c, span, err)
		return
	}

	out := make([]*dto.ResourceResponse, 0, len(resources))
	for _, r := range resources {
		out = append(out, dto.FromResource(r, nil))
	}

	span.SetAttributes(attribute.Int("resource_count", len(out)))
	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, gin.H{"resources": out})
}

// GetResource handles GET /resources/:id
func (h *AvailabilityHandler) GetResource(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.catalog.get")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	resourceID := c.Param("id")
	span.SetAttributes(attribute.String("resource_id", resourceID))

	resource, hours, err := h.catalog.GetResource(ctx, resourceID)
	if err != nil {
		failRequest(c, span, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, dto.FromResource(resource, hours))
}

// rangeQuery reads scope (default all), from and to. The to date is exclusive
// and defaults to 31 days after from.
func rangeQuery(c *gin.Context, loc *time.Location) (domain.Scope, time.Time, time.Time, error) {
	scope := domain.ScopeAll()
	if raw := c.Query("scope"); raw != "" {
		parsed, err := domain.ParseScope(raw)
		if err != nil {
			return domain.Scope{}, time.Time{}, time.Time{}, err
		}
		scope = parsed
	}

	from, err := parseDate(c.Query("from"), "from", loc)
	if err != nil {
		return domain.Scope{}, time.Time{}, time.Time{}, err
	}
	to := from.AddDate(0, 0, 31)
	if raw := c.Query("to"); raw != "" {
		if to, err = parseDate(raw, "to", loc); err != nil {
			return domain.Scope{}, time.Time{}, time.Time{}, err
		}
	}
	if !from.Before(to) {
		return domain.Scope{}, time.Time{}, time.Time{}, &domain.ValidationError{Field: "to", Reason: "must be after from"}
	}
	return scope, from, to, nil
}
