package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/facility-rental/internal/domain"
	"github.com/prohmpiriya/facility-rental/internal/dto"
	"github.com/prohmpiriya/facility-rental/pkg/middleware"
)

func newPaymentRouter(userID, role string, payments *MockPaymentOrchestrator) *gin.Engine {
	h := NewPaymentHandler(payments)
	return setupTestRouter(userID, role, func(r *gin.RouterGroup) {
		r.POST("/payments/checkout", h.Checkout)
		r.POST("/payments/complete", h.CompletePayment)
		r.POST("/payments/fail", h.FailPayment)
	})
}

func TestPaymentHandler_Checkout(t *testing.T) {
	tests := []struct {
		name       string
		body       interface{}
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "session opened",
			body:       map[string]interface{}{"reservation_id": "res-1", "customer": map[string]string{"email": "kim@example.com"}},
			wantStatus: http.StatusOK,
		},
		{
			name:       "missing reservation",
			body:       map[string]interface{}{},
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_REQUEST",
		},
		{
			name:       "bad email",
			body:       map[string]interface{}{"reservation_id": "res-1", "customer": map[string]string{"email": "nope"}},
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_REQUEST",
		},
		{
			name:       "second checkout",
			body:       map[string]interface{}{"reservation_id": "res-1"},
			err:        domain.ErrCheckoutInProgress,
			wantStatus: http.StatusConflict,
			wantCode:   "CHECKOUT_IN_PROGRESS",
		},
		{
			name:       "hold expired",
			body:       map[string]interface{}{"reservation_id": "res-1"},
			err:        &domain.StaleStateError{ReservationID: "res-1", Status: domain.StatusCancelled},
			wantStatus: http.StatusConflict,
			wantCode:   "STALE_STATE",
		},
		{
			name: "provider unavailable",
			body: map[string]interface{}{"reservation_id": "res-1"},
			err: &domain.SagaError{
				Stage: domain.StageCheckout,
				Err:   &domain.PaymentProviderError{Provider: "mock", Code: "unavailable", Transient: true, Err: assert.AnError},
			},
			wantStatus: http.StatusPaymentRequired,
			wantCode:   "PAYMENT_FAILED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotCustomer domain.Customer
			payments := &MockPaymentOrchestrator{
				CheckoutFunc: func(ctx context.Context, userID, reservationID string, customer domain.Customer) (*domain.PaymentSession, error) {
					gotCustomer = customer
					if tt.err != nil {
						return nil, tt.err
					}
					return &domain.PaymentSession{
						ID:                "sess-1",
						ReservationID:     reservationID,
						ProviderPaymentID: "pay-1",
						Status:            domain.SessionInitiated,
						Amount:            120000,
						Currency:          "KRW",
						OrderDescription:  "Main Hall",
						Customer:          customer,
						ClientSecret:      "secret",
					}, nil
				},
			}
			router := newPaymentRouter("user-1", "user", payments)

			w := doJSON(router, http.MethodPost, "/api/v1/payments/checkout", tt.body)
			assert.Equal(t, tt.wantStatus, w.Code)

			if tt.wantCode != "" {
				resp := decodeError(t, w)
				assert.Equal(t, tt.wantCode, resp.Code)
				if tt.wantCode == "PAYMENT_FAILED" {
					assert.Equal(t, domain.ErrPaymentFailed.Error(), resp.Error)
					assert.NotContains(t, w.Body.String(), "unavailable")
				}
				return
			}

			var resp dto.CheckoutResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, "pay-1", resp.PaymentID)
			assert.Equal(t, "res-1", resp.ReservationID)
			assert.Equal(t, int64(120000), resp.Amount)
			assert.Equal(t, "secret", resp.ClientSecret)
			assert.Equal(t, "kim@example.com", gotCustomer.Email)
		})
	}
}

func TestPaymentHandler_CompletePayment(t *testing.T) {
	tests := []struct {
		name       string
		userID     string
		role       string
		owner      string
		err        error
		wantStatus int
		wantCode   string
	}{
		{name: "confirmed", userID: "user-1", role: "user", owner: "user-1", wantStatus: http.StatusOK},
		{name: "admin completes any", userID: "admin-1", role: middleware.RoleAdmin, owner: "user-1", wantStatus: http.StatusOK},
		{
			name:       "other user",
			userID:     "user-2",
			role:       "user",
			owner:      "user-1",
			err:        domain.ErrNotOwner,
			wantStatus: http.StatusForbidden,
			wantCode:   "FORBIDDEN",
		},
		{
			name:       "declined",
			userID:     "user-1",
			role:       "user",
			owner:      "user-1",
			err:        &domain.SagaError{Stage: domain.StagePayment, Err: domain.ErrPaymentNotCaptured},
			wantStatus: http.StatusPaymentRequired,
			wantCode:   "PAYMENT_FAILED",
		},
		{
			name:       "amount mismatch",
			userID:     "user-1",
			role:       "user",
			owner:      "user-1",
			err:        &domain.SagaError{Stage: domain.StageVerify, Err: &domain.AmountMismatchError{Expected: 120000, Actual: 100}},
			wantStatus: http.StatusPaymentRequired,
			wantCode:   "PAYMENT_FAILED",
		},
		{
			name:       "reservation moved on",
			userID:     "user-1",
			role:       "user",
			owner:      "user-1",
			err:        &domain.SagaError{Stage: domain.StageConfirm, Err: &domain.StaleStateError{Status: domain.StatusCancelled}},
			wantStatus: http.StatusConflict,
			wantCode:   "RESERVATION_NOT_PAYABLE",
		},
		{
			name:       "unknown payment",
			userID:     "user-1",
			role:       "user",
			owner:      "user-1",
			err:        domain.ErrPaymentSessionNotFound,
			wantStatus: http.StatusNotFound,
			wantCode:   "NOT_FOUND",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotActor string
			var gotAdmin bool
			payments := &MockPaymentOrchestrator{
				CompleteFunc: func(ctx context.Context, actor, paymentID string, isAdmin bool) (*domain.Reservation, error) {
					gotActor, gotAdmin = actor, isAdmin
					if tt.err != nil {
						return nil, tt.err
					}
					return sampleReservation("res-1", tt.owner, domain.StatusConfirmed), nil
				},
			}
			router := newPaymentRouter(tt.userID, tt.role, payments)

			w := doJSON(router, http.MethodPost, "/api/v1/payments/complete", map[string]string{"payment_id": "pay-1"})
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.userID, gotActor)
			assert.Equal(t, tt.role == middleware.RoleAdmin, gotAdmin)

			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, decodeError(t, w).Code)
				return
			}
			assert.Equal(t, string(domain.StatusConfirmed), decodeEnvelope(t, w).Reservation.Status)
		})
	}
}

func TestPaymentHandler_FailPayment(t *testing.T) {
	t.Run("released", func(t *testing.T) {
		var gotCode string
		payments := &MockPaymentOrchestrator{
			FailFunc: func(ctx context.Context, actor, paymentID, code, message string, isAdmin bool) (*domain.Reservation, error) {
				gotCode = code
				return sampleReservation("res-1", "user-1", domain.StatusCancelled),
					&domain.SagaError{Stage: domain.StagePayment, Err: &domain.PaymentProviderError{Code: code}}
			},
		}
		router := newPaymentRouter("user-1", "user", payments)

		w := doJSON(router, http.MethodPost, "/api/v1/payments/fail",
			map[string]string{"payment_id": "pay-1", "code": "USER_CANCEL"})

		require.Equal(t, http.StatusOK, w.Code)
		resp := decodeEnvelope(t, w)
		assert.Equal(t, string(domain.StatusCancelled), resp.Reservation.Status)
		assert.Equal(t, domain.ErrPaymentFailed.Error(), resp.Message)
		assert.Equal(t, "USER_CANCEL", gotCode)
	})

	t.Run("captured after all", func(t *testing.T) {
		payments := &MockPaymentOrchestrator{
			FailFunc: func(ctx context.Context, actor, paymentID, code, message string, isAdmin bool) (*domain.Reservation, error) {
				return sampleReservation("res-1", "user-1", domain.StatusConfirmed), nil
			},
		}
		router := newPaymentRouter("user-1", "user", payments)

		w := doJSON(router, http.MethodPost, "/api/v1/payments/fail", map[string]string{"payment_id": "pay-1"})

		require.Equal(t, http.StatusOK, w.Code)
		resp := decodeEnvelope(t, w)
		assert.Equal(t, string(domain.StatusConfirmed), resp.Reservation.Status)
		assert.Empty(t, resp.Message)
	})

	t.Run("other user", func(t *testing.T) {
		var gotActor string
		payments := &MockPaymentOrchestrator{
			FailFunc: func(ctx context.Context, actor, paymentID, code, message string, isAdmin bool) (*domain.Reservation, error) {
				gotActor = actor
				return nil, domain.ErrNotOwner
			},
		}
		router := newPaymentRouter("user-2", "user", payments)

		w := doJSON(router, http.MethodPost, "/api/v1/payments/fail", map[string]string{"payment_id": "pay-1"})

		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, "FORBIDDEN", decodeError(t, w).Code)
		assert.Equal(t, "user-2", gotActor)
	})

	t.Run("unknown payment", func(t *testing.T) {
		payments := &MockPaymentOrchestrator{
			FailFunc: func(ctx context.Context, actor, paymentID, code, message string, isAdmin bool) (*domain.Reservation, error) {
				return nil, domain.ErrPaymentSessionNotFound
			},
		}
		router := newPaymentRouter("user-1", "user", payments)

		w := doJSON(router, http.MethodPost, "/api/v1/payments/fail", map[string]string{"payment_id": "pay-x"})

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
