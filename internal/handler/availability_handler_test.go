package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/facility-rental/internal/domain"
	"github.com/prohmpiriya/facility-rental/internal/dto"
	"github.com/prohmpiriya/facility-rental/internal/service"
)

func newAvailabilityRouter(availability *MockAvailabilityService, catalog *MockCatalogService) *gin.Engine {
	h := NewAvailabilityHandler(availability, catalog, kst)
	return setupTestRouter("", "", func(r *gin.RouterGroup) {
		r.GET("/availability/booked", h.BookedIntervals)
		r.GET("/availability/dates", h.OpenDates)
		r.GET("/availability/check", h.CheckSlot)
		r.GET("/resources", h.ListResources)
		r.GET("/resources/:id", h.GetResource)
	})
}

func TestAvailabilityHandler_BookedIntervals(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		intervals  []domain.BookedInterval
		wantStatus int
		wantCount  int
	}{
		{
			name:  "one booking",
			query: "?date=2030-03-12&resource_id=hall-a",
			intervals: []domain.BookedInterval{{
				ResourceID: "hall-a",
				StartAt:    time.Date(2030, 3, 12, 10, 0, 0, 0, kst),
				EndAt:      time.Date(2030, 3, 12, 12, 0, 0, 0, kst),
				Status:     domain.StatusConfirmed,
			}},
			wantStatus: http.StatusOK,
			wantCount:  1,
		},
		{
			name:       "empty day",
			query:      "?date=2030-03-13",
			wantStatus: http.StatusOK,
		},
		{
			name:       "missing date",
			query:      "",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "malformed date",
			query:      "?date=12-03-2030",
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotDate time.Time
			availability := &MockAvailabilityService{
				GetBookedIntervalsFunc: func(ctx context.Context, resourceID string, date time.Time) ([]domain.BookedInterval, error) {
					gotDate = date
					return tt.intervals, nil
				},
			}
			router := newAvailabilityRouter(availability, &MockCatalogService{})

			w := doJSON(router, http.MethodGet, "/api/v1/availability/booked"+tt.query, nil)
			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus != http.StatusOK {
				assert.Equal(t, "VALIDATION_ERROR", decodeError(t, w).Code)
				return
			}

			var resp dto.BookedIntervalsResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.NotNil(t, resp.Intervals)
			assert.Len(t, resp.Intervals, tt.wantCount)
			assert.Equal(t, kst, gotDate.Location())
			assert.Equal(t, 0, gotDate.Hour())
		})
	}
}

func TestAvailabilityHandler_OpenDates(t *testing.T) {
	t.Run("defaults to every resource for a month", func(t *testing.T) {
		var gotScope domain.Scope
		var gotFrom, gotTo time.Time
		availability := &MockAvailabilityService{
			OpenDatesFunc: func(ctx context.Context, scope domain.Scope, from, to time.Time) ([]service.DateStatus, error) {
				gotScope, gotFrom, gotTo = scope, from, to
				return []service.DateStatus{
					{Date: "2030-03-12", Open: true},
					{Date: "2030-03-16", Open: false},
				}, nil
			},
		}
		router := newAvailabilityRouter(availability, &MockCatalogService{})

		w := doJSON(router, http.MethodGet, "/api/v1/availability/dates?from=2030-03-01", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp dto.OpenDatesResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "all", resp.Scope)
		assert.Len(t, resp.Dates, 2)
		assert.True(t, gotScope.IsAll())
		assert.Equal(t, 31, int(gotTo.Sub(gotFrom).Hours()/24))
	})

	t.Run("resource scope", func(t *testing.T) {
		var gotScope domain.Scope
		availability := &MockAvailabilityService{
			OpenDatesFunc: func(ctx context.Context, scope domain.Scope, from, to time.Time) ([]service.DateStatus, error) {
				gotScope = scope
				return nil, nil
			},
		}
		router := newAvailabilityRouter(availability, &MockCatalogService{})

		w := doJSON(router, http.MethodGet, "/api/v1/availability/dates?scope=resource:hall-a&from=2030-03-01&to=2030-03-08", nil)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "hall-a", gotScope.ResourceID)
	})

	for _, query := range []string{
		"?scope=galaxy&from=2030-03-01",
		"?from=2030-03-08&to=2030-03-01",
		"?to=2030-03-01",
	} {
		t.Run("rejects "+query, func(t *testing.T) {
			router := newAvailabilityRouter(&MockAvailabilityService{}, &MockCatalogService{})
			w := doJSON(router, http.MethodGet, "/api/v1/availability/dates"+query, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestAvailabilityHandler_CheckSlot(t *testing.T) {
	availability := &MockAvailabilityService{
		IsBookableFunc: func(ctx context.Context, resourceID string, iv domain.Interval) (bool, error) {
			return iv.Start.Hour() >= 9, nil
		},
	}
	router := newAvailabilityRouter(availability, &MockCatalogService{})

	w := doJSON(router, http.MethodGet,
		"/api/v1/availability/check?resource_id=hall-a&start_at=2030-03-12T10:00:00%2B09:00&end_at=2030-03-12T12:00:00%2B09:00", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["bookable"])

	w = doJSON(router, http.MethodGet, "/api/v1/availability/check?resource_id=hall-a&start_at=tomorrow", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAvailabilityHandler_Resources(t *testing.T) {
	hall := &domain.Resource{ID: "hall-a", Name: "Main Hall", Category: domain.CategorySpace, PricePerUnit: 60000, Active: true}
	catalog := &MockCatalogService{
		ListResourcesFunc: func(ctx context.Context, activeOnly bool) ([]*domain.Resource, error) {
			assert.True(t, activeOnly)
			return []*domain.Resource{hall}, nil
		},
		GetResourceFunc: func(ctx context.Context, id string) (*domain.Resource, *domain.OperatingHours, error) {
			if id != hall.ID {
				return nil, nil, domain.ErrResourceNotFound
			}
			return hall, nil, nil
		},
	}
	router := newAvailabilityRouter(&MockAvailabilityService{}, catalog)

	w := doJSON(router, http.MethodGet, "/api/v1/resources", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Resources []dto.ResourceResponse `json:"resources"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Resources, 1)
	assert.Equal(t, "Main Hall", list.Resources[0].Name)

	w = doJSON(router, http.MethodGet, "/api/v1/resources/hall-a", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(router, http.MethodGet, "/api/v1/resources/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
