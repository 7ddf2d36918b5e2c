package domain

import (
	"fmt"
	"sort"
	"time"
)

// ReservationStatus is the closed set of reservation states
type ReservationStatus string

const (
	StatusPendingPayment ReservationStatus = "PENDING_PAYMENT"
	StatusConfirmed      ReservationStatus = "CONFIRMED"
	StatusCancelled      ReservationStatus = "CANCELLED"
	StatusCompleted      ReservationStatus = "COMPLETED"
)

// ActiveStatuses occupy their slots
var ActiveStatuses = []ReservationStatus{StatusPendingPayment, StatusConfirmed}

// IsValid reports whether s is a known status
func (s ReservationStatus) IsValid() bool {
	switch s {
	case StatusPendingPayment, StatusConfirmed, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

// IsTerminal reports whether no transition leaves s
func (s ReservationStatus) IsTerminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

// IsActive reports whether reservations in s hold their slots
func (s ReservationStatus) IsActive() bool {
	return s == StatusPendingPayment || s == StatusConfirmed
}

// ReservationItem is one (resource, start, end) line of a reservation
type ReservationItem struct {
	ID            string           `json:"id"`
	ReservationID string           `json:"reservation_id"`
	ResourceID    string           `json:"resource_id"`
	Category      ResourceCategory `json:"category"`
	StartAt       time.Time        `json:"start_at"`
	EndAt         time.Time        `json:"end_at"`
	Quantity      int              `json:"quantity"`
	// Units is billed hours for TIME resources and days for DAY resources
	Units     int64 `json:"units"`
	UnitPrice int64 `json:"unit_price"`
	Amount    int64 `json:"amount"`
}

// Interval returns the item's time range
func (i *ReservationItem) Interval() Interval {
	return Interval{Start: i.StartAt, End: i.EndAt}
}

// Reservation is a held or settled booking of one or more items
type Reservation struct {
	ID              string            `json:"id"`
	UserID          string            `json:"user_id"`
	Items           []ReservationItem `json:"items"`
	Status          ReservationStatus `json:"status"`
	TotalAmount     int64             `json:"total_amount"`
	Currency        string            `json:"currency"`
	InsuranceDocRef string            `json:"insurance_doc_ref,omitempty"`
	CancelReason    string            `json:"cancel_reason,omitempty"`
	CancelledBy     string            `json:"cancelled_by,omitempty"`
	HoldExpiresAt   *time.Time        `json:"hold_expires_at,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	ConfirmedAt     *time.Time        `json:"confirmed_at,omitempty"`
	CancelledAt     *time.Time        `json:"cancelled_at,omitempty"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
}

// CanConfirm reports whether payment may confirm the reservation
func (r *Reservation) CanConfirm() bool {
	return r.Status == StatusPendingPayment
}

// CanCancel reports whether the reservation may be cancelled
func (r *Reservation) CanCancel() bool {
	return r.Status.IsActive()
}

// CanComplete reports whether the reservation may be completed at now
func (r *Reservation) CanComplete(now time.Time) bool {
	return r.Status == StatusConfirmed && !now.Before(r.EndsAt())
}

// EndsAt returns the end of the last item
func (r *Reservation) EndsAt() time.Time {
	var end time.Time
	for _, it := range r.Items {
		if it.EndAt.After(end) {
			end = it.EndAt
		}
	}
	return end
}

// IsOwnedBy reports whether userID owns the reservation
func (r *Reservation) IsOwnedBy(userID string) bool {
	return userID != "" && r.UserID == userID
}

// OrderDescription summarizes the reservation for the payment provider
func (r *Reservation) OrderDescription(names map[string]string) string {
	if len(r.Items) == 0 {
		return "Reservation " + r.ID
	}
	first := names[r.Items[0].ResourceID]
	if first == "" {
		first = r.Items[0].ResourceID
	}
	if len(r.Items) == 1 {
		return first
	}
	return fmt.Sprintf("%s and %d more", first, len(r.Items)-1)
}

// CartItem is a requested slot before pricing
type CartItem struct {
	ResourceID string    `json:"resource_id"`
	StartAt    time.Time `json:"start_at"`
	EndAt      time.Time `json:"end_at"`
	Quantity   int       `json:"quantity"`
}

// Interval returns the requested range
func (c CartItem) Interval() Interval {
	return Interval{Start: c.StartAt, End: c.EndAt}
}

// ValidateCart checks cart-level rules that do not need the store:
// 1..maxItems items, quantity 1, and no overlapping items on the same resource.
func ValidateCart(items []CartItem, maxItems int) error {
	if len(items) == 0 {
		return &ValidationError{Field: "items", Reason: "at least one item is required"}
	}
	if maxItems > 0 && len(items) > maxItems {
		return &ValidationError{Field: "items", Reason: fmt.Sprintf("at most %d items are allowed", maxItems)}
	}
	for idx, it := range items {
		if it.ResourceID == "" {
			return &ValidationError{Field: fmt.Sprintf("items[%d].resource_id", idx), Reason: "is required"}
		}
		if it.Quantity != 0 && it.Quantity != 1 {
			return &ValidationError{Field: fmt.Sprintf("items[%d].quantity", idx), Reason: "must be 1"}
		}
		for j := 0; j < idx; j++ {
			if items[j].ResourceID == it.ResourceID && items[j].Interval().Overlaps(it.Interval()) {
				return &ValidationError{Field: fmt.Sprintf("items[%d]", idx), Reason: "overlaps another item for the same resource"}
			}
		}
	}
	return nil
}

// ValidateSlotShape checks interval ordering and granularity for a resource
func ValidateSlotShape(res *Resource, iv Interval, loc *time.Location, slotMinutes int) error {
	if !iv.Start.Before(iv.End) {
		return &ValidationError{Field: "interval", Reason: "start must be before end"}
	}

	switch res.BookingUnit {
	case UnitDay:
		if !StartOfDay(iv.Start, loc).Equal(iv.Start) || !StartOfDay(iv.End, loc).Equal(iv.End) {
			return &ValidationError{Field: "interval", Reason: "day resources must be booked in whole days"}
		}
	default:
		step := time.Duration(slotMinutes) * time.Minute
		if step <= 0 {
			step = 30 * time.Minute
		}
		day := StartOfDay(iv.Start, loc)
		if iv.Start.Sub(day)%step != 0 || iv.Duration()%step != 0 {
			return &ValidationError{Field: "interval", Reason: fmt.Sprintf("must align to %d minute slots", int(step/time.Minute))}
		}
	}
	return nil
}

// PriceItem computes units and amount for a slot. TIME resources are
// priced per started hour, DAY resources per local day touched.
func PriceItem(res *Resource, iv Interval, loc *time.Location) (units, amount int64) {
	if res.BookingUnit == UnitDay {
		days := int64(0)
		for d := StartOfDay(iv.Start, loc); d.Before(iv.End); d = d.AddDate(0, 0, 1) {
			days++
		}
		return days, days * res.PricePerUnit
	}
	hours := int64((iv.Duration() + time.Hour - 1) / time.Hour)
	return hours, hours * res.PricePerUnit
}

// SortItems orders items by start then resource
func SortItems(items []ReservationItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].StartAt.Equal(items[j].StartAt) {
			return items[i].StartAt.Before(items[j].StartAt)
		}
		return items[i].ResourceID < items[j].ResourceID
	})
}

// BookedInterval is an occupied slot as exposed to the calendar
type BookedInterval struct {
	ResourceID string            `json:"resource_id"`
	StartAt    time.Time         `json:"start_at"`
	EndAt      time.Time         `json:"end_at"`
	Status     ReservationStatus `json:"status"`
}

// ReservationFilter narrows reservation listings
type ReservationFilter struct {
	UserID string
	Status ReservationStatus
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}

// DailyCount is the number of reservations created on one local day
type DailyCount struct {
	Date  time.Time `json:"date"`
	Count int       `json:"count"`
}

// Dashboard summarizes reservation activity for administrators
type Dashboard struct {
	PendingPayment  int
	UsageToday      int
	ActiveResources int
	Recent          []*Reservation
	Daily           []DailyCount
}
