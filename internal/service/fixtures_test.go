package service

import (
	"context"
	"sync"
	"time"

	"github.com/prohmpiriya/facility-rental/internal/domain"
	"github.com/prohmpiriya/facility-rental/internal/repository"
)

var kst = time.FixedZone("KST", 9*3600)

// 2026-03-10 is a Tuesday, 2026-03-14 a Saturday
func day(d, hour, minute int) time.Time {
	return time.Date(2026, 3, d, hour, minute, 0, 0, kst)
}

// MockEventPublisher records published events
type MockEventPublisher struct {
	mu     sync.Mutex
	events []domain.ReservationEventType
	byID   map[string][]domain.ReservationEventType
	err    error
}

func NewMockEventPublisher() *MockEventPublisher {
	return &MockEventPublisher{byID: make(map[string][]domain.ReservationEventType)}
}

func (m *MockEventPublisher) record(t domain.ReservationEventType, r *domain.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, t)
	m.byID[r.ID] = append(m.byID[r.ID], t)
	return m.err
}

func (m *MockEventPublisher) PublishReservationCreated(ctx context.Context, r *domain.Reservation) error {
	return m.record(domain.EventReservationCreated, r)
}

func (m *MockEventPublisher) PublishReservationConfirmed(ctx context.Context, r *domain.Reservation) error {
	return m.record(domain.EventReservationConfirmed, r)
}

func (m *MockEventPublisher) PublishReservationCancelled(ctx context.Context, r *domain.Reservation) error {
	return m.record(domain.EventReservationCancelled, r)
}

func (m *MockEventPublisher) PublishReservationExpired(ctx context.Context, r *domain.Reservation) error {
	return m.record(domain.EventReservationExpired, r)
}

func (m *MockEventPublisher) PublishReservationCompleted(ctx context.Context, r *domain.Reservation) error {
	return m.record(domain.EventReservationCompleted, r)
}

func (m *MockEventPublisher) PublishPaymentEvent(ctx context.Context, t domain.ReservationEventType, r *domain.Reservation, metadata map[string]string) error {
	return m.record(t, r)
}

func (m *MockEventPublisher) Close() error { return nil }

func (m *MockEventPublisher) Events() []domain.ReservationEventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ReservationEventType(nil), m.events...)
}

func (m *MockEventPublisher) EventsFor(id string) []domain.ReservationEventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ReservationEventType(nil), m.byID[id]...)
}

// MockHoldScheduler records scheduled expiries
type MockHoldScheduler struct {
	mu        sync.Mutex
	scheduled map[string]time.Time
	err       error
}

func (m *MockHoldScheduler) ScheduleHoldExpiry(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.scheduled == nil {
		m.scheduled = make(map[string]time.Time)
	}
	m.scheduled[id] = at
	return m.err
}

type fixture struct {
	resources    *repository.MemoryResourceRepository
	schedules    *repository.MemoryScheduleRepository
	reservations *repository.MemoryReservationRepository
	availability AvailabilityService
	service      *reservationService
	events       *MockEventPublisher
	scheduler    *MockHoldScheduler
}

const (
	hallID   = "hall-a"
	roomID   = "room-b"
	camID    = "camera-1"
	closedID = "retired-room"
)

func newFixture() *fixture {
	f := &fixture{
		resources:    repository.NewMemoryResourceRepository(nil),
		schedules:    repository.NewMemoryScheduleRepository(kst),
		reservations: repository.NewMemoryReservationRepository(),
		events:       NewMockEventPublisher(),
		scheduler:    &MockHoldScheduler{},
	}
	f.resources.Put(&domain.Resource{ID: hallID, Name: "Main Hall", Category: domain.CategorySpace, BookingUnit: domain.UnitTime, PricePerUnit: 60000, Active: true}, nil)
	f.resources.Put(&domain.Resource{ID: roomID, Name: "Studio B", Category: domain.CategorySpace, BookingUnit: domain.UnitTime, PricePerUnit: 30000, Active: true}, nil)
	f.resources.Put(&domain.Resource{ID: camID, Name: "Cinema Camera", Category: domain.CategoryEquipment, BookingUnit: domain.UnitDay, PricePerUnit: 100000, Active: true}, nil)
	f.resources.Put(&domain.Resource{ID: closedID, Name: "Old Room", Category: domain.CategorySpace, BookingUnit: domain.UnitTime, PricePerUnit: 10000, Active: false}, nil)

	f.availability = NewAvailabilityService(f.resources, f.schedules, f.reservations, nil, &AvailabilityServiceConfig{Location: kst})
	svc := NewReservationService(f.resources, f.reservations, f.availability, f.events, f.scheduler, nil, &ReservationServiceConfig{
		HoldWindow: 10 * time.Minute,
		Currency:   "KRW",
		Location:   kst,
	})
	f.service = svc.(*reservationService)
	f.service.now = func() time.Time { return day(1, 12, 0) }
	return f
}

func (f *fixture) setNow(t time.Time) {
	f.service.now = func() time.Time { return t }
}

func cart(resourceID string, start, end time.Time) domain.CartItem {
	return domain.CartItem{ResourceID: resourceID, StartAt: start, EndAt: end, Quantity: 1}
}

func rule(scope domain.Scope, kind domain.RuleKind, start, end time.Time) *domain.ScheduleRule {
	return &domain.ScheduleRule{Scope: scope, Kind: kind, StartAt: start, EndAt: end, Reason: "test"}
}
