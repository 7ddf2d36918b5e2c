package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/prohmpiriya/facility-rental/internal/domain"
)

// MemoryReservationRepository implements ReservationRepository in memory.
// A single mutex makes CreateHeld's check-and-insert atomic.
type MemoryReservationRepository struct {
	reservations map[string]*domain.Reservation
	order        []string
	mu           sync.RWMutex
}

// NewMemoryReservationRepository creates an empty repository
func NewMemoryReservationRepository() *MemoryReservationRepository {
	return &MemoryReservationRepository{
		reservations: make(map[string]*domain.Reservation),
	}
}

func cloneReservation(r *domain.Reservation) *domain.Reservation {
	c := *r
	c.Items = append([]domain.ReservationItem(nil), r.Items...)
	return &c
}

// overlapsLocked must be called with mu held
func (r *MemoryReservationRepository) overlapsLocked(resourceID string, window domain.Interval) bool {
	for _, res := range r.reservations {
		if !res.Status.IsActive() {
			continue
		}
		for _, it := range res.Items {
			if it.ResourceID == resourceID && it.Interval().Overlaps(window) {
				return true
			}
		}
	}
	return false
}

// CreateHeld checks every item and inserts the reservation atomically
func (r *MemoryReservationRepository) CreateHeld(ctx context.Context, reservation *domain.Reservation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for idx, it := range reservation.Items {
		if r.overlapsLocked(it.ResourceID, it.Interval()) {
			return &domain.ConflictError{Index: idx, ResourceID: it.ResourceID, StartAt: it.StartAt, EndAt: it.EndAt}
		}
	}

	r.reservations[reservation.ID] = cloneReservation(reservation)
	r.order = append(r.order, reservation.ID)
	return nil
}

// GetByID retrieves a reservation with its items
func (r *MemoryReservationRepository) GetByID(ctx context.Context, id string) (*domain.Reservation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res, ok := r.reservations[id]
	if !ok {
		return nil, domain.ErrReservationNotFound
	}
	return cloneReservation(res), nil
}

// List returns matching reservations newest first
func (r *MemoryReservationRepository) List(ctx context.Context, filter *domain.ReservationFilter) ([]*domain.Reservation, int, error) {
	if filter == nil {
		filter = &domain.ReservationFilter{}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*domain.Reservation
	for i := len(r.order) - 1; i >= 0; i-- {
		res := r.reservations[r.order[i]]
		if filter.UserID != "" && res.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && res.Status != filter.Status {
			continue
		}
		if filter.From != nil && res.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && !res.CreatedAt.Before(*filter.To) {
			continue
		}
		matched = append(matched, res)
	}

	total := len(matched)
	if filter.Offset >= total {
		return []*domain.Reservation{}, total, nil
	}
	end := total
	if filter.Limit > 0 && filter.Offset+filter.Limit < end {
		end = filter.Offset + filter.Limit
	}

	out := make([]*domain.Reservation, 0, end-filter.Offset)
	for _, res := range matched[filter.Offset:end] {
		out = append(out, cloneReservation(res))
	}
	return out, total, nil
}

// ListBookedIntervals returns active items intersecting window ordered by start
func (r *MemoryReservationRepository) ListBookedIntervals(ctx context.Context, resourceID string, window domain.Interval) ([]domain.BookedInterval, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []domain.BookedInterval{}
	for _, res := range r.reservations {
		if !res.Status.IsActive() {
			continue
		}
		for _, it := range res.Items {
			if resourceID != "" && it.ResourceID != resourceID {
				continue
			}
			if !it.Interval().Overlaps(window) {
				continue
			}
			out = append(out, domain.BookedInterval{
				ResourceID: it.ResourceID,
				StartAt:    it.StartAt,
				EndAt:      it.EndAt,
				Status:     res.Status,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartAt.Equal(out[j].StartAt) {
			return out[i].StartAt.Before(out[j].StartAt)
		}
		return out[i].ResourceID < out[j].ResourceID
	})
	return out, nil
}

// HasOverlap reports whether an active item on resourceID intersects window
func (r *MemoryReservationRepository) HasOverlap(ctx context.Context, resourceID string, window domain.Interval) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.overlapsLocked(resourceID, window), nil
}

// Transition applies a conditional status change
func (r *MemoryReservationRepository) Transition(ctx context.Context, id string, req TransitionRequest) (*domain.Reservation, error) {
	if req.At.IsZero() {
		req.At = time.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	res, ok := r.reservations[id]
	if !ok {
		return nil, domain.ErrReservationNotFound
	}
	if err := checkTransition(res, req); err != nil {
		return cloneReservation(res), err
	}

	at := req.At
	res.Status = req.To
	res.UpdatedAt = at
	switch req.To {
	case domain.StatusConfirmed:
		res.ConfirmedAt = &at
	case domain.StatusCancelled:
		res.CancelledAt = &at
		res.CancelReason = req.Reason
		res.CancelledBy = req.Actor
	case domain.StatusCompleted:
		res.CompletedAt = &at
	}
	return cloneReservation(res), nil
}

// ListExpiredHolds returns PENDING_PAYMENT reservations whose hold expired by now
func (r *MemoryReservationRepository) ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for _, id := range r.order {
		res := r.reservations[id]
		if res.Status == domain.StatusPendingPayment && res.HoldExpiresAt != nil && !res.HoldExpiresAt.After(now) {
			ids = append(ids, id)
			if limit > 0 && len(ids) >= limit {
				break
			}
		}
	}
	return ids, nil
}

// ListCompletable returns CONFIRMED reservations whose last item ended by now
func (r *MemoryReservationRepository) ListCompletable(ctx context.Context, now time.Time, limit int) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for _, id := range r.order {
		if r.reservations[id].CanComplete(now) {
			ids = append(ids, id)
			if limit > 0 && len(ids) >= limit {
				break
			}
		}
	}
	return ids, nil
}

// CountUsage counts uncancelled reservations with an item starting in window
func (r *MemoryReservationRepository) CountUsage(ctx context.Context, window domain.Interval) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, res := range r.reservations {
		if res.Status == domain.StatusCancelled {
			continue
		}
		for _, it := range res.Items {
			if !it.StartAt.Before(window.Start) && it.StartAt.Before(window.End) {
				count++
				break
			}
		}
	}
	return count, nil
}

// DailyCounts counts reservations created in [from, to) per day in loc
func (r *MemoryReservationRepository) DailyCounts(ctx context.Context, from, to time.Time, loc *time.Location) ([]domain.DailyCount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byDay := map[time.Time]int{}
	for _, res := range r.reservations {
		if res.CreatedAt.Before(from) || !res.CreatedAt.Before(to) {
			continue
		}
		byDay[domain.StartOfDay(res.CreatedAt, loc)]++
	}

	out := make([]domain.DailyCount, 0, len(byDay))
	for day, n := range byDay {
		out = append(out, domain.DailyCount{Date: day, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}
