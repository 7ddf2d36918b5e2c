package domain

import (
	"time"
)

// ReservationEventType names a lifecycle event published to Kafka
type ReservationEventType string

const (
	EventReservationCreated            ReservationEventType = "reservation.created"
	EventReservationConfirmed          ReservationEventType = "reservation.confirmed"
	EventReservationCancelled          ReservationEventType = "reservation.cancelled"
	EventReservationExpired            ReservationEventType = "reservation.expired"
	EventReservationCompleted          ReservationEventType = "reservation.completed"
	EventReservationCompensationFailed ReservationEventType = "reservation.compensation_failed"
	EventPaymentFailed                 ReservationEventType = "payment.failed"
	EventPaymentRefunded               ReservationEventType = "payment.refunded"
)

// ReservationEvent is the payload of every reservation lifecycle event
type ReservationEvent struct {
	EventID       string               `json:"event_id"`
	EventType     ReservationEventType `json:"event_type"`
	ReservationID string               `json:"reservation_id"`
	UserID        string               `json:"user_id"`
	Status        ReservationStatus    `json:"status"`
	TotalAmount   int64                `json:"total_amount"`
	Currency      string               `json:"currency"`
	ResourceIDs   []string             `json:"resource_ids,omitempty"`
	Reason        string               `json:"reason,omitempty"`
	Metadata      map[string]string    `json:"metadata,omitempty"`
	OccurredAt    time.Time            `json:"occurred_at"`
}

// NewReservationEvent builds an event snapshot of r
func NewReservationEvent(eventType ReservationEventType, r *Reservation, eventID string) *ReservationEvent {
	ids := make([]string, 0, len(r.Items))
	for _, it := range r.Items {
		ids = append(ids, it.ResourceID)
	}
	return &ReservationEvent{
		EventID:       eventID,
		EventType:     eventType,
		ReservationID: r.ID,
		UserID:        r.UserID,
		Status:        r.Status,
		TotalAmount:   r.TotalAmount,
		Currency:      r.Currency,
		ResourceIDs:   ids,
		Reason:        r.CancelReason,
		OccurredAt:    time.Now().UTC(),
	}
}

// Key partitions events by reservation
func (e *ReservationEvent) Key() string {
	return e.ReservationID
}
