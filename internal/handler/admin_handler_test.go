package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/facility-rental/internal/domain"
	"github.com/prohmpiriya/facility-rental/internal/dto"
	"github.com/prohmpiriya/facility-rental/internal/service"
	"github.com/prohmpiriya/facility-rental/pkg/middleware"
	"github.com/prohmpiriya/facility-rental/pkg/response"
)

type adminMocks struct {
	reservations *MockReservationService
	payments     *MockPaymentOrchestrator
	catalog      *MockCatalogService
	availability *MockAvailabilityService
}

func newAdminRouter(m adminMocks) *gin.Engine {
	if m.reservations == nil {
		m.reservations = &MockReservationService{}
	}
	if m.payments == nil {
		m.payments = &MockPaymentOrchestrator{}
	}
	if m.catalog == nil {
		m.catalog = &MockCatalogService{}
	}
	if m.availability == nil {
		m.availability = &MockAvailabilityService{}
	}
	h := NewAdminHandler(&AdminHandlerConfig{
		Reservations: m.reservations,
		Payments:     m.payments,
		Catalog:      m.catalog,
		Availability: m.availability,
		Location:     kst,
	})
	return setupTestRouter("admin-1", middleware.RoleAdmin, func(r *gin.RouterGroup) {
		admin := r.Group("/admin")
		admin.GET("/dashboard", h.Dashboard)
		admin.GET("/reservations", h.ListReservations)
		admin.POST("/reservations/:id/status", h.UpdateReservationStatus)
		admin.GET("/schedule", h.Schedule)
		admin.GET("/rules", h.ListRules)
		admin.POST("/rules", h.CreateRule)
		admin.DELETE("/rules/:id", h.DeleteRule)
		admin.GET("/holidays", h.ListHolidays)
		admin.PUT("/holidays", h.UpsertHoliday)
		admin.DELETE("/holidays/:date", h.DeleteHoliday)
	})
}

func TestAdminHandler_ListReservations(t *testing.T) {
	var got *domain.ReservationFilter
	m := adminMocks{reservations: &MockReservationService{
		ListReservationsFunc: func(ctx context.Context, filter *domain.ReservationFilter) ([]*domain.Reservation, int, error) {
			got = filter
			return []*domain.Reservation{sampleReservation("res-1", "user-1", domain.StatusConfirmed)}, 1, nil
		},
	}}
	router := newAdminRouter(m)

	w := doJSON(router, http.MethodGet, "/api/v1/admin/reservations?status=CONFIRMED&from=2030-03-01&to=2030-04-01&limit=50", nil)
	require.Equal(t, http.StatusOK, w.Code)

	require.NotNil(t, got)
	assert.Equal(t, domain.StatusConfirmed, got.Status)
	require.NotNil(t, got.From)
	require.NotNil(t, got.To)
	assert.Equal(t, time.Date(2030, 3, 1, 0, 0, 0, 0, kst), *got.From)
	assert.Equal(t, 50, got.Limit)

	var page struct {
		Data []*dto.ReservationResponse `json:"data"`
		Meta response.PageMeta          `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Len(t, page.Data, 1)
	assert.Equal(t, "res-1", page.Data[0].ID)
	assert.Equal(t, response.PageMeta{Total: 1, Limit: 50, Offset: 0}, page.Meta)

	w = doJSON(router, http.MethodGet, "/api/v1/admin/reservations?from=March", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminHandler_Dashboard(t *testing.T) {
	var gotDays int
	m := adminMocks{reservations: &MockReservationService{
		DashboardFunc: func(ctx context.Context, days int) (*domain.Dashboard, error) {
			gotDays = days
			return &domain.Dashboard{
				PendingPayment:  3,
				UsageToday:      2,
				ActiveResources: 5,
				Recent:          []*domain.Reservation{sampleReservation("res-1", "user-1", domain.StatusPendingPayment)},
				Daily: []domain.DailyCount{
					{Date: time.Date(2030, 3, 14, 0, 0, 0, 0, kst), Count: 0},
					{Date: time.Date(2030, 3, 15, 0, 0, 0, 0, kst), Count: 4},
				},
			}, nil
		},
	}}
	router := newAdminRouter(m)

	w := doJSON(router, http.MethodGet, "/api/v1/admin/dashboard?days=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, gotDays)

	var body struct {
		Data dto.DashboardResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, dto.DashboardCounts{PendingReservations: 3, TodayReservations: 2, ActiveResources: 5}, body.Data.Counts)
	require.Len(t, body.Data.RecentReservations, 1)
	assert.Equal(t, "res-1", body.Data.RecentReservations[0].ID)
	assert.Equal(t, []dto.ChartPoint{{Date: "2030-03-14", Count: 0}, {Date: "2030-03-15", Count: 4}}, body.Data.ChartData)

	t.Run("defaults to a week", func(t *testing.T) {
		w := doJSON(router, http.MethodGet, "/api/v1/admin/dashboard", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 7, gotDays)
	})

	t.Run("rejects an out of range window", func(t *testing.T) {
		w := doJSON(router, http.MethodGet, "/api/v1/admin/dashboard?days=365", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("service failure", func(t *testing.T) {
		m.reservations.DashboardFunc = func(ctx context.Context, days int) (*domain.Dashboard, error) {
			return nil, errors.New("db down")
		}
		w := doJSON(router, http.MethodGet, "/api/v1/admin/dashboard", nil)
		assert.Equal(t, http.StatusInternalServerError, w.Code)

		var body response.ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "INTERNAL_ERROR", body.Code)
	})
}

func TestAdminHandler_UpdateReservationStatus(t *testing.T) {
	t.Run("cancel refunds through the payment flow", func(t *testing.T) {
		var gotActor, gotReason string
		var gotAdmin bool
		m := adminMocks{payments: &MockPaymentOrchestrator{
			CancelReservationFunc: func(ctx context.Context, actor, id, reason string, isAdmin bool) (*domain.Reservation, error) {
				gotActor, gotReason, gotAdmin = actor, reason, isAdmin
				r := sampleReservation(id, "user-1", domain.StatusCancelled)
				r.CancelledBy = actor
				return r, nil
			},
		}}
		router := newAdminRouter(m)

		w := doJSON(router, http.MethodPost, "/api/v1/admin/reservations/res-1/status",
			map[string]string{"status": "CANCELLED", "reason": "facility maintenance"})

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "admin-1", gotActor)
		assert.Equal(t, "facility maintenance", gotReason)
		assert.True(t, gotAdmin)
		assert.Equal(t, "admin-1", decodeEnvelope(t, w).Reservation.CancelledBy)
	})

	t.Run("complete", func(t *testing.T) {
		m := adminMocks{reservations: &MockReservationService{
			MarkCompletedFunc: func(ctx context.Context, id string) (*domain.Reservation, error) {
				return sampleReservation(id, "user-1", domain.StatusCompleted), nil
			},
		}}
		router := newAdminRouter(m)

		w := doJSON(router, http.MethodPost, "/api/v1/admin/reservations/res-1/status", map[string]string{"status": "COMPLETED"})

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, string(domain.StatusCompleted), decodeEnvelope(t, w).Reservation.Status)
	})

	t.Run("complete before the end", func(t *testing.T) {
		m := adminMocks{reservations: &MockReservationService{
			MarkCompletedFunc: func(ctx context.Context, id string) (*domain.Reservation, error) {
				return nil, domain.ErrInvalidTransition
			},
		}}
		router := newAdminRouter(m)

		w := doJSON(router, http.MethodPost, "/api/v1/admin/reservations/res-1/status", map[string]string{"status": "COMPLETED"})

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "INVALID_STATE", decodeError(t, w).Code)
	})

	t.Run("confirm is not an admin action", func(t *testing.T) {
		router := newAdminRouter(adminMocks{})

		w := doJSON(router, http.MethodPost, "/api/v1/admin/reservations/res-1/status", map[string]string{"status": "CONFIRMED"})

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestAdminHandler_Rules(t *testing.T) {
	start := time.Date(2030, 3, 16, 9, 0, 0, 0, kst)

	t.Run("create", func(t *testing.T) {
		var gotActor string
		var gotRule *domain.ScheduleRule
		m := adminMocks{catalog: &MockCatalogService{
			CreateRuleFunc: func(ctx context.Context, actor string, rule *domain.ScheduleRule) (*domain.ScheduleRule, error) {
				gotActor, gotRule = actor, rule
				out := *rule
				out.ID = "rule-1"
				out.CreatedBy = actor
				return &out, nil
			},
		}}
		router := newAdminRouter(m)

		w := doJSON(router, http.MethodPost, "/api/v1/admin/rules", map[string]interface{}{
			"scope":    "resource:hall-a",
			"kind":     "ALLOW",
			"start_at": start,
			"end_at":   start.Add(4 * time.Hour),
			"reason":   "weekend event",
		})

		require.Equal(t, http.StatusCreated, w.Code)
		var resp dto.RuleResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "rule-1", resp.ID)
		assert.Equal(t, "resource:hall-a", resp.Scope)
		assert.Equal(t, "admin-1", gotActor)
		assert.Equal(t, domain.RuleAllow, gotRule.Kind)
		assert.Equal(t, "hall-a", gotRule.Scope.ResourceID)
	})

	t.Run("opposite rule", func(t *testing.T) {
		m := adminMocks{catalog: &MockCatalogService{
			CreateRuleFunc: func(ctx context.Context, actor string, rule *domain.ScheduleRule) (*domain.ScheduleRule, error) {
				return nil, domain.ErrConflictingRule
			},
		}}
		router := newAdminRouter(m)

		w := doJSON(router, http.MethodPost, "/api/v1/admin/rules", map[string]interface{}{
			"scope": "all", "kind": "BLOCK", "start_at": start, "end_at": start.Add(time.Hour),
		})

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "RULE_CONFLICT", decodeError(t, w).Code)
	})

	t.Run("unknown kind", func(t *testing.T) {
		router := newAdminRouter(adminMocks{})

		w := doJSON(router, http.MethodPost, "/api/v1/admin/rules", map[string]interface{}{
			"scope": "all", "kind": "MAYBE", "start_at": start, "end_at": start.Add(time.Hour),
		})

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("delete", func(t *testing.T) {
		m := adminMocks{catalog: &MockCatalogService{
			DeleteRuleFunc: func(ctx context.Context, id string) error {
				if id == "rule-1" {
					return nil
				}
				return domain.ErrRuleNotFound
			},
		}}
		router := newAdminRouter(m)

		w := doJSON(router, http.MethodDelete, "/api/v1/admin/rules/rule-1", nil)
		assert.Equal(t, http.StatusNoContent, w.Code)

		w = doJSON(router, http.MethodDelete, "/api/v1/admin/rules/rule-2", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestAdminHandler_Holidays(t *testing.T) {
	var gotDate time.Time
	m := adminMocks{catalog: &MockCatalogService{
		UpsertHolidayFunc: func(ctx context.Context, date time.Time, name string) (*domain.Holiday, error) {
			gotDate = date
			return &domain.Holiday{Date: date, Name: name}, nil
		},
	}}
	router := newAdminRouter(m)

	w := doJSON(router, http.MethodPut, "/api/v1/admin/holidays", map[string]string{"date": "2030-03-01", "name": "Independence Movement Day"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, time.Date(2030, 3, 1, 0, 0, 0, 0, kst), gotDate)

	var resp dto.HolidayResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "2030-03-01", resp.Date)

	w = doJSON(router, http.MethodPut, "/api/v1/admin/holidays", map[string]string{"date": "03/01", "name": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(router, http.MethodDelete, "/api/v1/admin/holidays/2030-03-01", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestAdminHandler_Schedule(t *testing.T) {
	m := adminMocks{availability: &MockAvailabilityService{
		DayScheduleFunc: func(ctx context.Context, scope domain.Scope, from, to time.Time) (*service.Schedule, error) {
			if !scope.IsAll() {
				return nil, errors.New("unexpected scope")
			}
			return &service.Schedule{
				From:     from,
				To:       to,
				Holidays: []*domain.Holiday{{Date: time.Date(2030, 3, 1, 0, 0, 0, 0, kst), Name: "Independence Movement Day"}},
			}, nil
		},
	}}
	router := newAdminRouter(m)

	w := doJSON(router, http.MethodGet, "/api/v1/admin/schedule?from=2030-03-01&to=2030-03-08", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.ScheduleResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "2030-03-01", resp.From)
	assert.Equal(t, "2030-03-08", resp.To)
	assert.NotNil(t, resp.Booked)
	require.Len(t, resp.Holidays, 1)
	assert.Equal(t, "2030-03-01", resp.Holidays[0].Date)
}
