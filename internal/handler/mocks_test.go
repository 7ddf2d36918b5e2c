package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/prohmpiriya/facility-rental/internal/domain"
	"github.com/prohmpiriya/facility-rental/internal/service"
	"github.com/prohmpiriya/facility-rental/pkg/middleware"
)

// MockReservationService is a mock implementation of ReservationService for testing
type MockReservationService struct {
	CreateReservationFunc    func(ctx context.Context, userID string, items []domain.CartItem, docRef string) (*domain.Reservation, error)
	GetReservationFunc       func(ctx context.Context, id string) (*domain.Reservation, error)
	GetUserReservationFunc   func(ctx context.Context, userID, id string) (*domain.Reservation, error)
	ListUserReservationsFunc func(ctx context.Context, userID string, limit, offset int) ([]*domain.Reservation, int, error)
	ListReservationsFunc     func(ctx context.Context, filter *domain.ReservationFilter) ([]*domain.Reservation, int, error)
	MarkCompletedFunc        func(ctx context.Context, id string) (*domain.Reservation, error)
	DashboardFunc            func(ctx context.Context, days int) (*domain.Dashboard, error)
}

func (m *MockReservationService) CreateReservation(ctx context.Context, userID string, items []domain.CartItem, docRef string) (*domain.Reservation, error) {
	if m.CreateReservationFunc != nil {
		return m.CreateReservationFunc(ctx, userID, items, docRef)
	}
	return nil, nil
}

func (m *MockReservationService) GetReservation(ctx context.Context, id string) (*domain.Reservation, error) {
	if m.GetReservationFunc != nil {
		return m.GetReservationFunc(ctx, id)
	}
	return nil, domain.ErrReservationNotFound
}

func (m *MockReservationService) GetUserReservation(ctx context.Context, userID, id string) (*domain.Reservation, error) {
	if m.GetUserReservationFunc != nil {
		return m.GetUserReservationFunc(ctx, userID, id)
	}
	return nil, domain.ErrReservationNotFound
}

func (m *MockReservationService) ListUserReservations(ctx context.Context, userID string, limit, offset int) ([]*domain.Reservation, int, error) {
	if m.ListUserReservationsFunc != nil {
		return m.ListUserReservationsFunc(ctx, userID, limit, offset)
	}
	return nil, 0, nil
}

func (m *MockReservationService) ListReservations(ctx context.Context, filter *domain.ReservationFilter) ([]*domain.Reservation, int, error) {
	if m.ListReservationsFunc != nil {
		return m.ListReservationsFunc(ctx, filter)
	}
	return nil, 0, nil
}

func (m *MockReservationService) Confirm(ctx context.Context, id string) (*domain.Reservation, error) {
	return nil, nil
}

func (m *MockReservationService) Cancel(ctx context.Context, id, actor, reason string) (*domain.Reservation, error) {
	return nil, nil
}

func (m *MockReservationService) MarkCompleted(ctx context.Context, id string) (*domain.Reservation, error) {
	if m.MarkCompletedFunc != nil {
		return m.MarkCompletedFunc(ctx, id)
	}
	return nil, nil
}

func (m *MockReservationService) ExpireHold(ctx context.Context, id string) (*domain.Reservation, bool, error) {
	return nil, false, nil
}

func (m *MockReservationService) ListExpiredHolds(ctx context.Context, limit int) ([]string, error) {
	return nil, nil
}

func (m *MockReservationService) ExpireHolds(ctx context.Context, limit int) (int, error) {
	return 0, nil
}

func (m *MockReservationService) CompleteElapsed(ctx context.Context, limit int) (int, error) {
	return 0, nil
}

func (m *MockReservationService) ResourceNames(ctx context.Context, r *domain.Reservation) map[string]string {
	return map[string]string{}
}

func (m *MockReservationService) Dashboard(ctx context.Context, days int) (*domain.Dashboard, error) {
	if m.DashboardFunc != nil {
		return m.DashboardFunc(ctx, days)
	}
	return &domain.Dashboard{}, nil
}

// MockPaymentOrchestrator is a mock implementation of PaymentOrchestrator for testing
type MockPaymentOrchestrator struct {
	CheckoutFunc          func(ctx context.Context, userID, reservationID string, customer domain.Customer) (*domain.PaymentSession, error)
	CompleteFunc          func(ctx context.Context, actor, providerPaymentID string, isAdmin bool) (*domain.Reservation, error)
	FailFunc              func(ctx context.Context, actor, providerPaymentID, code, message string, isAdmin bool) (*domain.Reservation, error)
	CancelReservationFunc func(ctx context.Context, actor, reservationID, reason string, isAdmin bool) (*domain.Reservation, error)
}

func (m *MockPaymentOrchestrator) Checkout(ctx context.Context, userID, reservationID string, customer domain.Customer) (*domain.PaymentSession, error) {
	if m.CheckoutFunc != nil {
		return m.CheckoutFunc(ctx, userID, reservationID, customer)
	}
	return nil, nil
}

func (m *MockPaymentOrchestrator) Complete(ctx context.Context, actor, providerPaymentID string, isAdmin bool) (*domain.Reservation, error) {
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, actor, providerPaymentID, isAdmin)
	}
	return nil, nil
}

func (m *MockPaymentOrchestrator) Fail(ctx context.Context, actor, providerPaymentID, code, message string, isAdmin bool) (*domain.Reservation, error) {
	if m.FailFunc != nil {
		return m.FailFunc(ctx, actor, providerPaymentID, code, message, isAdmin)
	}
	return nil, nil
}

func (m *MockPaymentOrchestrator) CancelReservation(ctx context.Context, actor, reservationID, reason string, isAdmin bool) (*domain.Reservation, error) {
	if m.CancelReservationFunc != nil {
		return m.CancelReservationFunc(ctx, actor, reservationID, reason, isAdmin)
	}
	return nil, nil
}

// MockAvailabilityService is a mock implementation of AvailabilityService for testing
type MockAvailabilityService struct {
	GetBookedIntervalsFunc func(ctx context.Context, resourceID string, date time.Time) ([]domain.BookedInterval, error)
	OpenDatesFunc          func(ctx context.Context, scope domain.Scope, from, to time.Time) ([]service.DateStatus, error)
	IsBookableFunc         func(ctx context.Context, resourceID string, iv domain.Interval) (bool, error)
	DayScheduleFunc        func(ctx context.Context, scope domain.Scope, from, to time.Time) (*service.Schedule, error)
}

func (m *MockAvailabilityService) GetBookedIntervals(ctx context.Context, resourceID string, date time.Time) ([]domain.BookedInterval, error) {
	if m.GetBookedIntervalsFunc != nil {
		return m.GetBookedIntervalsFunc(ctx, resourceID, date)
	}
	return nil, nil
}

func (m *MockAvailabilityService) IsDateOpen(ctx context.Context, scope domain.Scope, date time.Time) (bool, error) {
	return true, nil
}

func (m *MockAvailabilityService) OpenDates(ctx context.Context, scope domain.Scope, from, to time.Time) ([]service.DateStatus, error) {
	if m.OpenDatesFunc != nil {
		return m.OpenDatesFunc(ctx, scope, from, to)
	}
	return nil, nil
}

func (m *MockAvailabilityService) ValidateSlot(ctx context.Context, res *domain.Resource, iv domain.Interval) error {
	return nil
}

func (m *MockAvailabilityService) IsBookable(ctx context.Context, resourceID string, iv domain.Interval) (bool, error) {
	if m.IsBookableFunc != nil {
		return m.IsBookableFunc(ctx, resourceID, iv)
	}
	return false, nil
}

func (m *MockAvailabilityService) DaySchedule(ctx context.Context, scope domain.Scope, from, to time.Time) (*service.Schedule, error) {
	if m.DayScheduleFunc != nil {
		return m.DayScheduleFunc(ctx, scope, from, to)
	}
	return &service.Schedule{From: from, To: to}, nil
}

// MockCatalogService is a mock implementation of CatalogService for testing
type MockCatalogService struct {
	ListResourcesFunc func(ctx context.Context, activeOnly bool) ([]*domain.Resource, error)
	GetResourceFunc   func(ctx context.Context, id string) (*domain.Resource, *domain.OperatingHours, error)
	CreateRuleFunc    func(ctx context.Context, actor string, rule *domain.ScheduleRule) (*domain.ScheduleRule, error)
	DeleteRuleFunc    func(ctx context.Context, id string) error
	UpsertHolidayFunc func(ctx context.Context, date time.Time, name string) (*domain.Holiday, error)
}

func (m *MockCatalogService) ListResources(ctx context.Context, activeOnly bool) ([]*domain.Resource, error) {
	if m.ListResourcesFunc != nil {
		return m.ListResourcesFunc(ctx, activeOnly)
	}
	return nil, nil
}

func (m *MockCatalogService) GetResource(ctx context.Context, id string) (*domain.Resource, *domain.OperatingHours, error) {
	if m.GetResourceFunc != nil {
		return m.GetResourceFunc(ctx, id)
	}
	return nil, nil, domain.ErrResourceNotFound
}

func (m *MockCatalogService) ListRules(ctx context.Context, scope domain.Scope, from, to time.Time) ([]*domain.ScheduleRule, error) {
	return nil, nil
}

func (m *MockCatalogService) CreateRule(ctx context.Context, actor string, rule *domain.ScheduleRule) (*domain.ScheduleRule, error) {
	if m.CreateRuleFunc != nil {
		return m.CreateRuleFunc(ctx, actor, rule)
	}
	return rule, nil
}

func (m *MockCatalogService) DeleteRule(ctx context.Context, id string) error {
	if m.DeleteRuleFunc != nil {
		return m.DeleteRuleFunc(ctx, id)
	}
	return nil
}

func (m *MockCatalogService) ListHolidays(ctx context.Context, from, to time.Time) ([]*domain.Holiday, error) {
	return nil, nil
}

func (m *MockCatalogService) UpsertHoliday(ctx context.Context, date time.Time, name string) (*domain.Holiday, error) {
	if m.UpsertHolidayFunc != nil {
		return m.UpsertHolidayFunc(ctx, date, name)
	}
	return &domain.Holiday{Date: date, Name: name}, nil
}

func (m *MockCatalogService) DeleteHoliday(ctx context.Context, date time.Time) error {
	return nil
}

var kst = time.FixedZone("KST", 9*3600)

// setupTestRouter returns a router that authenticates every request as userID with role
func setupTestRouter(userID, role string, register func(r *gin.RouterGroup)) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()

	router.Use(func(c *gin.Context) {
		if userID != "" {
			c.Set(middleware.ContextKeyUserID, userID)
			c.Set(middleware.ContextKeyRole, role)
		}
		c.Next()
	})

	register(router.Group("/api/v1"))
	return router
}

func sampleReservation(id, userID string, status domain.ReservationStatus) *domain.Reservation {
	hold := time.Date(2030, 3, 12, 9, 10, 0, 0, kst)
	return &domain.Reservation{
		ID:     id,
		UserID: userID,
		Status: status,
		Items: []domain.ReservationItem{{
			ID: "item-1", ReservationID: id, ResourceID: "hall-a", Category: domain.CategorySpace,
			StartAt:  time.Date(2030, 3, 12, 10, 0, 0, 0, kst),
			EndAt:    time.Date(2030, 3, 12, 12, 0, 0, 0, kst),
			Quantity: 1, Units: 2, UnitPrice: 60000, Amount: 120000,
		}},
		TotalAmount:   120000,
		Currency:      "KRW",
		HoldExpiresAt: &hold,
		CreatedAt:     hold.Add(-10 * time.Minute),
	}
}
