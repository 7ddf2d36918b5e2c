package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/facility-rental/internal/domain"
	"github.com/prohmpiriya/facility-rental/internal/dto"
	"github.com/prohmpiriya/facility-rental/pkg/response"
)

func newReservationRouter(userID string, reservations *MockReservationService, payments *MockPaymentOrchestrator) *gin.Engine {
	h := NewReservationHandler(reservations, payments)
	return setupTestRouter(userID, "user", func(r *gin.RouterGroup) {
		r.POST("/reservations", h.CreateReservation)
		r.GET("/reservations", h.ListReservations)
		r.GET("/reservations/:id", h.GetReservation)
		r.POST("/reservations/:id/cancel", h.CancelReservation)
	})
}

func doJSON(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) dto.ErrorResponse {
	t.Helper()
	var resp dto.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) dto.ReservationEnvelope {
	t.Helper()
	var resp dto.ReservationEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func cartBody() map[string]interface{} {
	return map[string]interface{}{
		"items": []map[string]interface{}{{
			"resource_id": "hall-a",
			"start_at":    "2030-03-12T10:00:00+09:00",
			"end_at":      "2030-03-12T12:00:00+09:00",
		}},
		"insurance_doc_ref": "doc-1",
	}
}

func TestReservationHandler_CreateReservation(t *testing.T) {
	tests := []struct {
		name       string
		userID     string
		body       interface{}
		createErr  error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "created",
			userID:     "user-1",
			body:       cartBody(),
			wantStatus: http.StatusCreated,
		},
		{
			name:       "unauthenticated",
			body:       cartBody(),
			wantStatus: http.StatusUnauthorized,
			wantCode:   "UNAUTHORIZED",
		},
		{
			name:       "empty cart",
			userID:     "user-1",
			body:       map[string]interface{}{"items": []interface{}{}},
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_REQUEST",
		},
		{
			name:   "slot conflict",
			userID: "user-1",
			body:   cartBody(),
			createErr: &domain.ConflictError{
				Index:      0,
				ResourceID: "hall-a",
				StartAt:    time.Date(2030, 3, 12, 10, 0, 0, 0, kst),
				EndAt:      time.Date(2030, 3, 12, 12, 0, 0, 0, kst),
			},
			wantStatus: http.StatusConflict,
			wantCode:   "SLOT_CONFLICT",
		},
		{
			name:       "closed day",
			userID:     "user-1",
			body:       cartBody(),
			createErr:  &domain.ValidationError{Field: "items[0]", Reason: "date is closed"},
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_ERROR",
		},
		{
			name:       "inactive resource",
			userID:     "user-1",
			body:       cartBody(),
			createErr:  domain.ErrResourceInactive,
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_ERROR",
		},
		{
			name:       "store failure",
			userID:     "user-1",
			body:       cartBody(),
			createErr:  assert.AnError,
			wantStatus: http.StatusInternalServerError,
			wantCode:   "INTERNAL_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotItems []domain.CartItem
			var gotDoc string
			reservations := &MockReservationService{
				CreateReservationFunc: func(ctx context.Context, userID string, items []domain.CartItem, docRef string) (*domain.Reservation, error) {
					gotItems = items
					gotDoc = docRef
					if tt.createErr != nil {
						return nil, tt.createErr
					}
					return sampleReservation("res-1", userID, domain.StatusPendingPayment), nil
				},
			}
			router := newReservationRouter(tt.userID, reservations, &MockPaymentOrchestrator{})

			w := doJSON(router, http.MethodPost, "/api/v1/reservations", tt.body)
			assert.Equal(t, tt.wantStatus, w.Code)

			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, decodeError(t, w).Code)
				return
			}

			resp := decodeEnvelope(t, w)
			require.NotNil(t, resp.Reservation)
			assert.Equal(t, "res-1", resp.Reservation.ID)
			assert.Equal(t, string(domain.StatusPendingPayment), resp.Reservation.Status)
			assert.Equal(t, int64(120000), resp.Reservation.TotalAmount)
			require.Len(t, gotItems, 1)
			assert.Equal(t, 1, gotItems[0].Quantity)
			assert.Equal(t, "hall-a", gotItems[0].ResourceID)
			assert.Equal(t, "doc-1", gotDoc)
		})
	}
}

func TestReservationHandler_ConflictNamesItem(t *testing.T) {
	reservations := &MockReservationService{
		CreateReservationFunc: func(ctx context.Context, userID string, items []domain.CartItem, docRef string) (*domain.Reservation, error) {
			return nil, &domain.ConflictError{Index: 1, ResourceID: "hall-b"}
		},
	}
	router := newReservationRouter("user-1", reservations, &MockPaymentOrchestrator{})

	w := doJSON(router, http.MethodPost, "/api/v1/reservations", cartBody())

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, decodeError(t, w).Message, "items[1]")
}

func TestReservationHandler_GetReservation(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "owner", wantStatus: http.StatusOK},
		{name: "other user", err: domain.ErrNotOwner, wantStatus: http.StatusForbidden},
		{name: "missing", err: domain.ErrReservationNotFound, wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reservations := &MockReservationService{
				GetUserReservationFunc: func(ctx context.Context, userID, id string) (*domain.Reservation, error) {
					if tt.err != nil {
						return nil, tt.err
					}
					return sampleReservation(id, userID, domain.StatusConfirmed), nil
				},
			}
			router := newReservationRouter("user-1", reservations, &MockPaymentOrchestrator{})

			w := doJSON(router, http.MethodGet, "/api/v1/reservations/res-9", nil)
			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.err == nil {
				assert.Equal(t, "res-9", decodeEnvelope(t, w).Reservation.ID)
			}
		})
	}
}

func TestReservationHandler_ListReservations(t *testing.T) {
	var gotLimit, gotOffset int
	reservations := &MockReservationService{
		ListUserReservationsFunc: func(ctx context.Context, userID string, limit, offset int) ([]*domain.Reservation, int, error) {
			gotLimit, gotOffset = limit, offset
			return []*domain.Reservation{sampleReservation("res-1", userID, domain.StatusConfirmed)}, 7, nil
		},
	}
	router := newReservationRouter("user-1", reservations, &MockPaymentOrchestrator{})

	w := doJSON(router, http.MethodGet, "/api/v1/reservations?limit=500&offset=5", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data []*dto.ReservationResponse `json:"data"`
		Meta response.PageMeta          `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, response.PageMeta{Total: 7, Limit: 20, Offset: 5}, resp.Meta)
	assert.Len(t, resp.Data, 1)
	assert.Equal(t, 20, gotLimit)
	assert.Equal(t, 5, gotOffset)
}

func TestReservationHandler_CancelReservation(t *testing.T) {
	t.Run("cancelled with reason", func(t *testing.T) {
		var gotActor, gotReason string
		var gotAdmin bool
		payments := &MockPaymentOrchestrator{
			CancelReservationFunc: func(ctx context.Context, actor, id, reason string, isAdmin bool) (*domain.Reservation, error) {
				gotActor, gotReason, gotAdmin = actor, reason, isAdmin
				r := sampleReservation(id, actor, domain.StatusCancelled)
				r.CancelReason = reason
				return r, nil
			},
		}
		router := newReservationRouter("user-1", &MockReservationService{}, payments)

		w := doJSON(router, http.MethodPost, "/api/v1/reservations/res-1/cancel", map[string]string{"reason": "plans changed"})

		require.Equal(t, http.StatusOK, w.Code)
		resp := decodeEnvelope(t, w)
		assert.Equal(t, string(domain.StatusCancelled), resp.Reservation.Status)
		assert.Empty(t, resp.Message)
		assert.Equal(t, "user-1", gotActor)
		assert.Equal(t, "plans changed", gotReason)
		assert.False(t, gotAdmin)
	})

	t.Run("empty body", func(t *testing.T) {
		payments := &MockPaymentOrchestrator{
			CancelReservationFunc: func(ctx context.Context, actor, id, reason string, isAdmin bool) (*domain.Reservation, error) {
				return sampleReservation(id, actor, domain.StatusCancelled), nil
			},
		}
		router := newReservationRouter("user-1", &MockReservationService{}, payments)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/reservations/res-1/cancel", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("already terminal is a no-op", func(t *testing.T) {
		payments := &MockPaymentOrchestrator{
			CancelReservationFunc: func(ctx context.Context, actor, id, reason string, isAdmin bool) (*domain.Reservation, error) {
				r := sampleReservation(id, actor, domain.StatusCompleted)
				return r, &domain.StaleStateError{ReservationID: id, Status: r.Status}
			},
		}
		router := newReservationRouter("user-1", &MockReservationService{}, payments)

		w := doJSON(router, http.MethodPost, "/api/v1/reservations/res-1/cancel", nil)

		require.Equal(t, http.StatusOK, w.Code)
		resp := decodeEnvelope(t, w)
		assert.Equal(t, string(domain.StatusCompleted), resp.Reservation.Status)
		assert.Equal(t, "reservation is already COMPLETED", resp.Message)
	})

	t.Run("other user", func(t *testing.T) {
		payments := &MockPaymentOrchestrator{
			CancelReservationFunc: func(ctx context.Context, actor, id, reason string, isAdmin bool) (*domain.Reservation, error) {
				return nil, domain.ErrNotOwner
			},
		}
		router := newReservationRouter("user-2", &MockReservationService{}, payments)

		w := doJSON(router, http.MethodPost, "/api/v1/reservations/res-1/cancel", nil)

		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, "FORBIDDEN", decodeError(t, w).Code)
	})
}
