package repository

import (
	"context"
	"time"

	"github.com/prohmpiriya/facility-rental/internal/domain"
)

// ResourceRepository is the read side of the resource catalog
type ResourceRepository interface {
	// List returns resources ordered by category then name
	List(ctx context.Context, activeOnly bool) ([]*domain.Resource, error)
	// GetByID retrieves a resource by ID
	GetByID(ctx context.Context, id string) (*domain.Resource, error)
	// GetOperatingHours returns the resource's daily window, or the default window
	GetOperatingHours(ctx context.Context, resourceID string) (*domain.OperatingHours, error)
}

// ScheduleRepository stores administrator exceptions and holidays
type ScheduleRepository interface {
	// ListRules returns rules that apply to scope and intersect [from, to).
	// For a resource scope that is the resource's rules plus the global rules.
	ListRules(ctx context.Context, scope domain.Scope, from, to time.Time) ([]*domain.ScheduleRule, error)
	// CreateRule rejects a rule whose opposite kind already overlaps it on the same scope
	CreateRule(ctx context.Context, rule *domain.ScheduleRule) error
	// DeleteRule removes a rule by ID
	DeleteRule(ctx context.Context, id string) error
	// ListHolidays returns holidays with dates in [from, to)
	ListHolidays(ctx context.Context, from, to time.Time) ([]*domain.Holiday, error)
	// UpsertHoliday creates or renames a holiday
	UpsertHoliday(ctx context.Context, holiday *domain.Holiday) error
	// DeleteHoliday removes a holiday
	DeleteHoliday(ctx context.Context, date time.Time) error
}

// TransitionRequest describes a conditional reservation status change
type TransitionRequest struct {
	To     domain.ReservationStatus
	Actor  string
	Reason string
	At     time.Time
	// HoldExpiredBy limits the change to holds that expired at or before this time
	HoldExpiredBy *time.Time
}

// ReservationRepository owns reservation persistence. CreateHeld and
// Transition are the only writers of booked intervals.
type ReservationRepository interface {
	// CreateHeld re-checks every item for overlap and inserts the reservation
	// and its items in one atomic unit. The first overlapping item is
	// reported as *domain.ConflictError.
	CreateHeld(ctx context.Context, reservation *domain.Reservation) error
	// GetByID retrieves a reservation with its items
	GetByID(ctx context.Context, id string) (*domain.Reservation, error)
	// List returns reservations matching the filter, newest first, and the total count
	List(ctx context.Context, filter *domain.ReservationFilter) ([]*domain.Reservation, int, error)
	// ListBookedIntervals returns active items intersecting window ordered by start.
	// An empty resourceID returns every resource.
	ListBookedIntervals(ctx context.Context, resourceID string, window domain.Interval) ([]domain.BookedInterval, error)
	// HasOverlap reports whether an active item on resourceID intersects window
	HasOverlap(ctx context.Context, resourceID string, window domain.Interval) (bool, error)
	// Transition changes status if the current status allows it. Cancelling
	// releases the items in the same unit of work.
	Transition(ctx context.Context, id string, req TransitionRequest) (*domain.Reservation, error)
	// ListExpiredHolds returns IDs of PENDING_PAYMENT reservations whose hold expired by now
	ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]string, error)
	// ListCompletable returns IDs of CONFIRMED reservations whose last item ended by now
	ListCompletable(ctx context.Context, now time.Time, limit int) ([]string, error)
	// CountUsage counts uncancelled reservations with an item starting in window
	CountUsage(ctx context.Context, window domain.Interval) (int, error)
	// DailyCounts counts reservations created in [from, to) per day in loc.
	// Days without reservations are omitted.
	DailyCounts(ctx context.Context, from, to time.Time, loc *time.Location) ([]domain.DailyCount, error)
}

// SessionUpdate carries the fields written with a session status change
type SessionUpdate struct {
	FailureCode   string
	FailureReason string
	CapturedAt    *time.Time
}

// PaymentRepository stores provider checkout sessions
type PaymentRepository interface {
	// Create inserts a session; a second active session for the same
	// reservation returns domain.ErrCheckoutInProgress
	Create(ctx context.Context, session *domain.PaymentSession) error
	// GetByProviderPaymentID retrieves a session by the provider's payment ID
	GetByProviderPaymentID(ctx context.Context, providerPaymentID string) (*domain.PaymentSession, error)
	// GetActiveByReservation returns the INITIATED or CAPTURED session of a reservation
	GetActiveByReservation(ctx context.Context, reservationID string) (*domain.PaymentSession, error)
	// ListByReservation returns every session of a reservation, newest first
	ListByReservation(ctx context.Context, reservationID string) ([]*domain.PaymentSession, error)
	// ListUnsettled returns INITIATED and FAILED sessions created after
	// createdAfter and last updated before updatedBefore, least recently
	// updated first
	ListUnsettled(ctx context.Context, createdAfter, updatedBefore time.Time, limit int) ([]*domain.PaymentSession, error)
	// UpdateStatus moves a session from one of from to to; otherwise domain.ErrInvalidTransition
	UpdateStatus(ctx context.Context, id string, from []domain.PaymentSessionStatus, to domain.PaymentSessionStatus, upd SessionUpdate) (*domain.PaymentSession, error)
}

// allowedFrom lists the statuses a reservation may move to target from
func allowedFrom(target domain.ReservationStatus) []domain.ReservationStatus {
	switch target {
	case domain.StatusConfirmed:
		return []domain.ReservationStatus{domain.StatusPendingPayment}
	case domain.StatusCancelled:
		return []domain.ReservationStatus{domain.StatusPendingPayment, domain.StatusConfirmed}
	case domain.StatusCompleted:
		return []domain.ReservationStatus{domain.StatusConfirmed}
	}
	return nil
}

// checkTransition validates a status change against the current state
func checkTransition(r *domain.Reservation, req TransitionRequest) error {
	if r.Status.IsTerminal() {
		return &domain.StaleStateError{ReservationID: r.ID, Status: r.Status}
	}
	ok := false
	for _, s := range allowedFrom(req.To) {
		if s == r.Status {
			ok = true
			break
		}
	}
	if !ok {
		return fmtTransition(r, req.To)
	}
	if req.HoldExpiredBy != nil && (r.HoldExpiresAt == nil || r.HoldExpiresAt.After(*req.HoldExpiredBy)) {
		return fmtTransition(r, req.To)
	}
	if req.To == domain.StatusCompleted && !r.CanComplete(req.At) {
		return &domain.ValidationError{Field: "status", Reason: "reservation has not ended yet"}
	}
	return nil
}
