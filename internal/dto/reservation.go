package dto

import (
	"time"

	"github.com/prohmpiriya/facility-rental/internal/domain"
	"github.com/prohmpiriya/facility-rental/pkg/response"
)

// ErrorResponse is the error envelope returned by every endpoint
type ErrorResponse = response.ErrorResponse

// CartItemRequest is one requested (resource, start, end) line
type CartItemRequest struct {
	ResourceID string    `json:"resource_id" binding:"required"`
	StartAt    time.Time `json:"start_at" binding:"required"`
	EndAt      time.Time `json:"end_at" binding:"required"`
	Quantity   int       `json:"quantity,omitempty"`
}

// CreateReservationRequest represents request to hold a cart
type CreateReservationRequest struct {
	Items           []CartItemRequest `json:"items" binding:"required,min=1,dive"`
	InsuranceDocRef string            `json:"insurance_doc_ref,omitempty"`
}

// CartItems converts the request lines to domain cart items
func (r *CreateReservationRequest) CartItems() []domain.CartItem {
	items := make([]domain.CartItem, 0, len(r.Items))
	for _, it := range r.Items {
		qty := it.Quantity
		if qty == 0 {
			qty = 1
		}
		items = append(items, domain.CartItem{
			ResourceID: it.ResourceID,
			StartAt:    it.StartAt,
			EndAt:      it.EndAt,
			Quantity:   qty,
		})
	}
	return items
}

// CancelReservationRequest represents request to cancel a reservation
type CancelReservationRequest struct {
	Reason string `json:"reason,omitempty" binding:"max=500"`
}

// UpdateStatusRequest is the administrator status change
type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=CANCELLED COMPLETED"`
	Reason string `json:"reason,omitempty" binding:"max=500"`
}

// ReservationItemResponse represents one reservation line in API response
type ReservationItemResponse struct {
	ID         string    `json:"id"`
	ResourceID string    `json:"resource_id"`
	Category   string    `json:"category"`
	StartAt    time.Time `json:"start_at"`
	EndAt      time.Time `json:"end_at"`
	Quantity   int       `json:"quantity"`
	Units      int64     `json:"units"`
	UnitPrice  int64     `json:"unit_price"`
	Amount     int64     `json:"amount"`
}

// ReservationResponse represents a reservation in API response
type ReservationResponse struct {
	ID              string                    `json:"id"`
	UserID          string                    `json:"user_id"`
	Status          string                    `json:"status"`
	Items           []ReservationItemResponse `json:"items"`
	TotalAmount     int64                     `json:"total_amount"`
	Currency        string                    `json:"currency"`
	InsuranceDocRef string                    `json:"insurance_doc_ref,omitempty"`
	CancelReason    string                    `json:"cancel_reason,omitempty"`
	CancelledBy     string                    `json:"cancelled_by,omitempty"`
	HoldExpiresAt   *time.Time                `json:"hold_expires_at,omitempty"`
	CreatedAt       time.Time                 `json:"created_at"`
	ConfirmedAt     *time.Time                `json:"confirmed_at,omitempty"`
	CancelledAt     *time.Time                `json:"cancelled_at,omitempty"`
	CompletedAt     *time.Time                `json:"completed_at,omitempty"`
}

// ReservationEnvelope wraps a single reservation result
type ReservationEnvelope struct {
	Reservation *ReservationResponse `json:"reservation"`
	Message     string               `json:"message,omitempty"`
}

// DashboardCounts are the headline numbers of the admin dashboard
type DashboardCounts struct {
	PendingReservations int `json:"pending_reservations"`
	TodayReservations   int `json:"today_reservations"`
	ActiveResources     int `json:"active_resources"`
}

// ChartPoint is one bar of the reservations-per-day chart
type ChartPoint struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// DashboardResponse represents the admin dashboard
type DashboardResponse struct {
	Counts             DashboardCounts        `json:"counts"`
	RecentReservations []*ReservationResponse `json:"recent_reservations"`
	ChartData          []ChartPoint           `json:"chart_data"`
}

// FromDashboard converts a dashboard summary, formatting days in loc
func FromDashboard(d *domain.Dashboard, loc *time.Location) *DashboardResponse {
	chart := make([]ChartPoint, 0, len(d.Daily))
	for _, dc := range d.Daily {
		chart = append(chart, ChartPoint{Date: dc.Date.In(loc).Format(DateLayout), Count: dc.Count})
	}
	return &DashboardResponse{
		Counts: DashboardCounts{
			PendingReservations: d.PendingPayment,
			TodayReservations:   d.UsageToday,
			ActiveResources:     d.ActiveResources,
		},
		RecentReservations: FromReservations(d.Recent),
		ChartData:          chart,
	}
}

// FromReservation converts a domain reservation to its API form
func FromReservation(r *domain.Reservation) *ReservationResponse {
	if r == nil {
		return nil
	}
	items := make([]ReservationItemResponse, 0, len(r.Items))
	for _, it := range r.Items {
		items = append(items, ReservationItemResponse{
			ID:         it.ID,
			ResourceID: it.ResourceID,
			Category:   string(it.Category),
			StartAt:    it.StartAt,
			EndAt:      it.EndAt,
			Quantity:   it.Quantity,
			Units:      it.Units,
			UnitPrice:  it.UnitPrice,
			Amount:     it.Amount,
		})
	}
	return &ReservationResponse{
		ID:              r.ID,
		UserID:          r.UserID,
		Status:          string(r.Status),
		Items:           items,
		TotalAmount:     r.TotalAmount,
		Currency:        r.Currency,
		InsuranceDocRef: r.InsuranceDocRef,
		CancelReason:    r.CancelReason,
		CancelledBy:     r.CancelledBy,
		HoldExpiresAt:   r.HoldExpiresAt,
		CreatedAt:       r.CreatedAt,
		ConfirmedAt:     r.ConfirmedAt,
		CancelledAt:     r.CancelledAt,
		CompletedAt:     r.CompletedAt,
	}
}

// FromReservations converts a list, never returning nil
func FromReservations(list []*domain.Reservation) []*ReservationResponse {
	out := make([]*ReservationResponse, 0, len(list))
	for _, r := range list {
		out = append(out, FromReservation(r))
	}
	return out
}
