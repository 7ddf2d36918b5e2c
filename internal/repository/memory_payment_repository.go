package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/prohmpiriya/facility-rental/internal/domain"
)

// MemoryPaymentRepository implements PaymentRepository using in-memory storage
type MemoryPaymentRepository struct {
	sessions          map[string]*domain.PaymentSession
	byProviderPayment map[string]string // providerPaymentID -> sessionID
	mu                sync.RWMutex
}

// NewMemoryPaymentRepository creates a new in-memory payment repository
func NewMemoryPaymentRepository() *MemoryPaymentRepository {
	return &MemoryPaymentRepository{
		sessions:          make(map[string]*domain.PaymentSession),
		byProviderPayment: make(map[string]string),
	}
}

// Create inserts a session, enforcing one active session per reservation
func (r *MemoryPaymentRepository) Create(ctx context.Context, session *domain.PaymentSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byProviderPayment[session.ProviderPaymentID]; exists {
		return domain.ErrCheckoutInProgress
	}
	if session.Status.IsActive() {
		for _, s := range r.sessions {
			if s.ReservationID == session.ReservationID && s.Status.IsActive() {
				return domain.ErrCheckoutInProgress
			}
		}
	}

	c := *session
	r.sessions[session.ID] = &c
	r.byProviderPayment[session.ProviderPaymentID] = session.ID
	return nil
}

// GetByProviderPaymentID retrieves a session by the provider's payment ID
func (r *MemoryPaymentRepository) GetByProviderPaymentID(ctx context.Context, providerPaymentID string) (*domain.PaymentSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byProviderPayment[providerPaymentID]
	if !ok {
		return nil, domain.ErrPaymentSessionNotFound
	}
	c := *r.sessions[id]
	return &c, nil
}

// GetActiveByReservation returns the INITIATED or CAPTURED session of a reservation
func (r *MemoryPaymentRepository) GetActiveByReservation(ctx context.Context, reservationID string) (*domain.PaymentSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range r.sessions {
		if s.ReservationID == reservationID && s.Status.IsActive() {
			c := *s
			return &c, nil
		}
	}
	return nil, domain.ErrPaymentSessionNotFound
}

// ListByReservation returns every session of a reservation, newest first
func (r *MemoryPaymentRepository) ListByReservation(ctx context.Context, reservationID string) ([]*domain.PaymentSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.PaymentSession
	for _, s := range r.sessions {
		if s.ReservationID == reservationID {
			c := *s
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ListUnsettled returns INITIATED and FAILED sessions in the window, least recently updated first
func (r *MemoryPaymentRepository) ListUnsettled(ctx context.Context, createdAfter, updatedBefore time.Time, limit int) ([]*domain.PaymentSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.PaymentSession
	for _, s := range r.sessions {
		if s.Status != domain.SessionInitiated && s.Status != domain.SessionFailed {
			continue
		}
		if !s.CreatedAt.After(createdAfter) || !s.UpdatedAt.Before(updatedBefore) {
			continue
		}
		c := *s
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UpdateStatus moves a session between statuses conditionally
func (r *MemoryPaymentRepository) UpdateStatus(ctx context.Context, id string, from []domain.PaymentSessionStatus, to domain.PaymentSessionStatus, upd SessionUpdate) (*domain.PaymentSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, domain.ErrPaymentSessionNotFound
	}
	if !containsSessionStatus(from, s.Status) {
		c := *s
		return &c, domain.ErrInvalidTransition
	}

	s.Status = to
	s.UpdatedAt = time.Now()
	if upd.FailureCode != "" {
		s.FailureCode = upd.FailureCode
	}
	if upd.FailureReason != "" {
		s.FailureReason = upd.FailureReason
	}
	if upd.CapturedAt != nil {
		t := *upd.CapturedAt
		s.CapturedAt = &t
	}
	c := *s
	return &c, nil
}
