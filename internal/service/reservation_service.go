package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/prohmpiriya/facility-rental/internal/cache"
	"github.com/prohmpiriya/facility-rental/internal/domain"
	"github.com/prohmpiriya/facility-rental/internal/metrics"
	"github.com/prohmpiriya/facility-rental/internal/repository"
	"github.com/prohmpiriya/facility-rental/pkg/logger"
	"github.com/prohmpiriya/facility-rental/pkg/telemetry"
)

// Actors recorded on cancellations
const (
	ActorSystem = "system"

	ReasonHoldExpired = "hold expired"
)

// ReservationService owns the reservation state machine
type ReservationService interface {
	// CreateReservation validates, prices and atomically holds a cart
	CreateReservation(ctx context.Context, userID string, items []domain.CartItem, insuranceDocRef string) (*domain.Reservation, error)

	// GetReservation retrieves a reservation by ID
	GetReservation(ctx context.Context, id string) (*domain.Reservation, error)

	// GetUserReservation retrieves a reservation owned by userID
	GetUserReservation(ctx context.Context, userID, id string) (*domain.Reservation, error)

	// ListUserReservations lists a user's reservations, newest first
	ListUserReservations(ctx context.Context, userID string, limit, offset int) ([]*domain.Reservation, int, error)

	// ListReservations lists reservations for administrators
	ListReservations(ctx context.Context, filter *domain.ReservationFilter) ([]*domain.Reservation, int, error)

	// Confirm moves PENDING_PAYMENT to CONFIRMED; only payment drives it
	Confirm(ctx context.Context, id string) (*domain.Reservation, error)

	// Cancel moves an active reservation to CANCELLED and releases its slots.
	// A terminal reservation is returned with a *domain.StaleStateError.
	Cancel(ctx context.Context, id, actor, reason string) (*domain.Reservation, error)

	// MarkCompleted moves CONFIRMED to COMPLETED once every item has ended
	MarkCompleted(ctx context.Context, id string) (*domain.Reservation, error)

	// ExpireHold cancels one PENDING_PAYMENT reservation whose hold elapsed.
	// It reports false when the reservation was no longer an expired hold.
	ExpireHold(ctx context.Context, id string) (*domain.Reservation, bool, error)

	// ListExpiredHolds returns IDs of holds that elapsed by now
	ListExpiredHolds(ctx context.Context, limit int) ([]string, error)

	// ExpireHolds releases up to limit elapsed holds
	ExpireHolds(ctx context.Context, limit int) (int, error)

	// CompleteElapsed completes up to limit confirmed reservations that ended
	CompleteElapsed(ctx context.Context, limit int) (int, error)

	// ResourceNames maps the resource IDs of a reservation to display names
	ResourceNames(ctx context.Context, reservation *domain.Reservation) map[string]string

	// Dashboard summarizes today's activity and reservations created per day
	// over the last days days, today included
	Dashboard(ctx context.Context, days int) (*domain.Dashboard, error)
}

// ReservationServiceConfig contains configuration for the reservation service
type ReservationServiceConfig struct {
	HoldWindow   time.Duration
	Currency     string
	MaxCartItems int
	Location     *time.Location
}

type reservationService struct {
	resources      repository.ResourceRepository
	reservations   repository.ReservationRepository
	availability   AvailabilityService
	eventPublisher EventPublisher
	scheduler      HoldScheduler
	cache          cache.BookedIntervalCache
	holdWindow     time.Duration
	currency       string
	maxCartItems   int
	loc            *time.Location
	now            func() time.Time
}

// NewReservationService creates a new reservation service
func NewReservationService(
	resources repository.ResourceRepository,
	reservations repository.ReservationRepository,
	availability AvailabilityService,
	eventPublisher EventPublisher,
	scheduler HoldScheduler,
	bookedCache cache.BookedIntervalCache,
	cfg *ReservationServiceConfig,
) ReservationService {
	holdWindow := 10 * time.Minute
	currency := "KRW"
	maxCartItems := 10
	loc := time.UTC
	if cfg != nil {
		if cfg.HoldWindow > 0 {
			holdWindow = cfg.HoldWindow
		}
		if cfg.Currency != "" {
			currency = cfg.Currency
		}
		if cfg.MaxCartItems > 0 {
			maxCartItems = cfg.MaxCartItems
		}
		if cfg.Location != nil {
			loc = cfg.Location
		}
	}
	// Use NoOp collaborators if none provided
	if eventPublisher == nil {
		eventPublisher = NewNoOpEventPublisher()
	}
	if scheduler == nil {
		scheduler = NoOpHoldScheduler{}
	}
	if bookedCache == nil {
		bookedCache = cache.NewNoOpBookedIntervalCache()
	}
	return &reservationService{
		resources:      resources,
		reservations:   reservations,
		availability:   availability,
		eventPublisher: eventPublisher,
		scheduler:      scheduler,
		cache:          bookedCache,
		holdWindow:     holdWindow,
		currency:       currency,
		maxCartItems:   maxCartItems,
		loc:            loc,
		now:            time.Now,
	}
}

// CreateReservation validates, prices and atomically holds a cart
func (s *reservationService) CreateReservation(ctx context.Context, userID string, items []domain.CartItem, insuranceDocRef string) (*domain.Reservation, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.reservation.create")
	defer span.End()

	if userID == "" {
		err := &domain.ValidationError{Field: "user_id", Reason: "is required"}
		telemetry.Fail(span, err)
		return nil, err
	}

	span.SetAttributes(
		attribute.String("user_id", userID),
		attribute.Int("item_count", len(items)),
	)

	if err := domain.ValidateCart(items, s.maxCartItems); err != nil {
		telemetry.Fail(span, err)
		return nil, err
	}

	now := s.now()
	holdExpiresAt := now.Add(s.holdWindow)
	reservation := &domain.Reservation{
		ID:              uuid.New().String(),
		UserID:          userID,
		Status:          domain.StatusPendingPayment,
		Currency:        s.currency,
		InsuranceDocRef: insuranceDocRef,
		HoldExpiresAt:   &holdExpiresAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	resources := make(map[string]*domain.Resource)
	spaces := 0
	for idx, item := range items {
		res, ok := resources[item.ResourceID]
		if !ok {
			var err error
			res, err = s.resources.GetByID(ctx, item.ResourceID)
			if err != nil {
				telemetry.Fail(span, err)
				return nil, err
			}
			resources[item.ResourceID] = res
		}

		if res.Category == domain.CategorySpace {
			spaces++
			if spaces > 1 {
				err := &domain.ValidationError{Field: fmt.Sprintf("items[%d]", idx), Reason: "at most one space per reservation"}
				telemetry.Fail(span, err)
				return nil, err
			}
		}

		iv := item.Interval()
		if err := s.availability.ValidateSlot(ctx, res, iv); err != nil {
			err = itemError(idx, err)
			telemetry.Fail(span, err)
			return nil, err
		}

		units, amount := domain.PriceItem(res, iv, s.loc)
		reservation.Items = append(reservation.Items, domain.ReservationItem{
			ID:            uuid.New().String(),
			ReservationID: reservation.ID,
			ResourceID:    res.ID,
			Category:      res.Category,
			StartAt:       iv.Start,
			EndAt:         iv.End,
			Quantity:      1,
			Units:         units,
			UnitPrice:     res.PricePerUnit,
			Amount:        amount,
		})
		reservation.TotalAmount += amount
	}

	if err := s.reservations.CreateHeld(ctx, reservation); err != nil {
		if domain.IsConflictError(err) {
			metrics.RecordConflict()
		}
		telemetry.Fail(span, err)
		return nil, err
	}

	metrics.RecordReservationCreated()
	s.invalidate(ctx, reservation)
	s.publish(ctx, domain.EventReservationCreated, reservation)

	if err := s.scheduler.ScheduleHoldExpiry(ctx, reservation.ID, holdExpiresAt); err != nil {
		// the periodic sweep still releases the hold
		logger.Get().WarnContext(ctx, "failed to schedule hold expiry",
			zap.String("reservation_id", reservation.ID),
			zap.Error(err),
		)
	}

	span.AddEvent("reservation_held", trace.WithAttributes(
		attribute.String("reservation_id", reservation.ID),
		attribute.Int64("total_amount", reservation.TotalAmount),
		attribute.String("hold_expires_at", holdExpiresAt.Format(time.RFC3339)),
	))
	span.SetAttributes(attribute.String("reservation_id", reservation.ID))
	span.SetStatus(codes.Ok, "")
	return reservation, nil
}

// itemError prefixes a validation error with the cart position
func itemError(idx int, err error) error {
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		return &domain.ValidationError{Field: fmt.Sprintf("items[%d].%s", idx, ve.Field), Reason: ve.Reason}
	}
	return err
}

// GetReservation retrieves a reservation by ID
func (s *reservationService) GetReservation(ctx context.Context, id string) (*domain.Reservation, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.reservation.get")
	defer span.End()

	span.SetAttributes(attribute.String("reservation_id", id))

	reservation, err := s.reservations.GetByID(ctx, id)
	if err != nil {
		telemetry.Fail(span, err)
		return nil, err
	}
	return reservation, nil
}

// GetUserReservation retrieves a reservation and checks ownership
func (s *reservationService) GetUserReservation(ctx context.Context, userID, id string) (*domain.Reservation, error) {
	reservation, err := s.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	if !reservation.IsOwnedBy(userID) {
		return nil, domain.ErrNotOwner
	}
	return reservation, nil
}

// ListUserReservations lists a user's reservations, newest first
func (s *reservationService) ListUserReservations(ctx context.Context, userID string, limit, offset int) ([]*domain.Reservation, int, error) {
	if userID == "" {
		return nil, 0, &domain.ValidationError{Field: "user_id", Reason: "is required"}
	}
	return s.ListReservations(ctx, &domain.ReservationFilter{UserID: userID, Limit: limit, Offset: offset})
}

// ListReservations lists reservations matching filter
func (s *reservationService) ListReservations(ctx context.Context, filter *domain.ReservationFilter) ([]*domain.Reservation, int, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.reservation.list")
	defer span.End()

	if filter == nil {
		filter = &domain.ReservationFilter{}
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		err := &domain.ValidationError{Field: "status", Reason: "unknown status"}
		telemetry.Fail(span, err)
		return nil, 0, err
	}
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 20
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	span.SetAttributes(
		attribute.String("user_id", filter.UserID),
		attribute.String("status", string(filter.Status)),
		attribute.Int("limit", filter.Limit),
		attribute.Int("offset", filter.Offset),
	)

	list, total, err := s.reservations.List(ctx, filter)
	if err != nil {
		telemetry.Fail(span, err)
		return nil, 0, err
	}
	if list == nil {
		list = []*domain.Reservation{}
	}

	span.SetAttributes(attribute.Int("count", len(list)), attribute.Int("total", total))
	span.SetStatus(codes.Ok, "")
	return list, total, nil
}

// Confirm moves PENDING_PAYMENT to CONFIRMED
func (s *reservationService) Confirm(ctx context.Context, id string) (*domain.Reservation, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.reservation.confirm")
	defer span.End()

	span.SetAttributes(attribute.String("reservation_id", id))

	reservation, err := s.reservations.Transition(ctx, id, repository.TransitionRequest{
		To: domain.StatusConfirmed,
		At: s.now(),
	})
	if err != nil {
		telemetry.Fail(span, err)
		return reservation, err
	}

	metrics.RecordConfirmation()
	s.invalidate(ctx, reservation)
	s.publish(ctx, domain.EventReservationConfirmed, reservation)

	span.SetStatus(codes.Ok, "")
	return reservation, nil
}

// Cancel moves an active reservation to CANCELLED
func (s *reservationService) Cancel(ctx context.Context, id, actor, reason string) (*domain.Reservation, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.reservation.cancel")
	defer span.End()

	span.SetAttributes(
		attribute.String("reservation_id", id),
		attribute.String("actor", actor),
	)

	reservation, err := s.reservations.Transition(ctx, id, repository.TransitionRequest{
		To:     domain.StatusCancelled,
		Actor:  actor,
		Reason: reason,
		At:     s.now(),
	})
	if err != nil {
		if errors.Is(err, domain.ErrStaleState) {
			span.SetAttributes(attribute.Bool("stale", true))
			return reservation, err
		}
		telemetry.Fail(span, err)
		return reservation, err
	}

	metrics.RecordCancellation(actorKind(actor, reservation))
	s.invalidate(ctx, reservation)
	s.publish(ctx, domain.EventReservationCancelled, reservation)

	span.AddEvent("reservation_cancelled", trace.WithAttributes(
		attribute.String("reservation_id", id),
		attribute.String("reason", reason),
	))
	span.SetStatus(codes.Ok, "")
	return reservation, nil
}

func actorKind(actor string, r *domain.Reservation) string {
	switch {
	case actor == ActorSystem:
		return "system"
	case r != nil && r.UserID == actor:
		return "user"
	default:
		return "admin"
	}
}

// MarkCompleted moves CONFIRMED to COMPLETED once every item has ended
func (s *reservationService) MarkCompleted(ctx context.Context, id string) (*domain.Reservation, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.reservation.complete")
	defer span.End()

	span.SetAttributes(attribute.String("reservation_id", id))

	reservation, err := s.reservations.Transition(ctx, id, repository.TransitionRequest{
		To: domain.StatusCompleted,
		At: s.now(),
	})
	if err != nil {
		telemetry.Fail(span, err)
		return reservation, err
	}

	metrics.RecordCompletion(1)
	s.invalidate(ctx, reservation)
	s.publish(ctx, domain.EventReservationCompleted, reservation)

	span.SetStatus(codes.Ok, "")
	return reservation, nil
}

// ExpireHold cancels one elapsed hold
func (s *reservationService) ExpireHold(ctx context.Context, id string) (*domain.Reservation, bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.reservation.expire_hold")
	defer span.End()

	span.SetAttributes(attribute.String("reservation_id", id))

	now := s.now()
	reservation, err := s.reservations.Transition(ctx, id, repository.TransitionRequest{
		To:            domain.StatusCancelled,
		Actor:         ActorSystem,
		Reason:        ReasonHoldExpired,
		At:            now,
		HoldExpiredBy: &now,
	})
	if err != nil {
		// paid, cancelled or not yet due: nothing to release
		if errors.Is(err, domain.ErrStaleState) || errors.Is(err, domain.ErrInvalidTransition) {
			span.SetAttributes(attribute.Bool("expired", false))
			return reservation, false, nil
		}
		telemetry.Fail(span, err)
		return nil, false, err
	}

	metrics.RecordCancellation(ActorSystem)
	s.invalidate(ctx, reservation)
	s.publish(ctx, domain.EventReservationExpired, reservation)

	span.SetAttributes(attribute.Bool("expired", true))
	span.SetStatus(codes.Ok, "")
	return reservation, true, nil
}

// ListExpiredHolds returns IDs of holds that elapsed by now
func (s *reservationService) ListExpiredHolds(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.reservations.ListExpiredHolds(ctx, s.now(), limit)
}

// ExpireHolds releases up to limit elapsed holds
func (s *reservationService) ExpireHolds(ctx context.Context, limit int) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.reservation.expire_holds")
	defer span.End()

	ids, err := s.ListExpiredHolds(ctx, limit)
	if err != nil {
		telemetry.Fail(span, err)
		return 0, err
	}

	expired := 0
	for _, id := range ids {
		_, ok, err := s.ExpireHold(ctx, id)
		if err != nil {
			logger.Get().WarnContext(ctx, "failed to expire hold",
				zap.String("reservation_id", id),
				zap.Error(err),
			)
			continue
		}
		if ok {
			expired++
		}
	}

	metrics.RecordExpiration(expired)
	span.SetAttributes(attribute.Int("expired_count", expired))
	span.SetStatus(codes.Ok, "")
	return expired, nil
}

// CompleteElapsed completes confirmed reservations whose items all ended
func (s *reservationService) CompleteElapsed(ctx context.Context, limit int) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.reservation.complete_elapsed")
	defer span.End()

	if limit <= 0 {
		limit = 100
	}

	ids, err := s.reservations.ListCompletable(ctx, s.now(), limit)
	if err != nil {
		telemetry.Fail(span, err)
		return 0, err
	}

	completed := 0
	for _, id := range ids {
		if _, err := s.MarkCompleted(ctx, id); err != nil {
			logger.Get().WarnContext(ctx, "failed to complete reservation",
				zap.String("reservation_id", id),
				zap.Error(err),
			)
			continue
		}
		completed++
	}

	span.SetAttributes(attribute.Int("completed_count", completed))
	span.SetStatus(codes.Ok, "")
	return completed, nil
}

// ResourceNames maps the reservation's resource IDs to names; unknown IDs are skipped
func (s *reservationService) ResourceNames(ctx context.Context, reservation *domain.Reservation) map[string]string {
	names := make(map[string]string, len(reservation.Items))
	for _, it := range reservation.Items {
		if _, ok := names[it.ResourceID]; ok {
			continue
		}
		if res, err := s.resources.GetByID(ctx, it.ResourceID); err == nil {
			names[it.ResourceID] = res.Name
		}
	}
	return names
}

// Dashboard summarizes today's activity and reservations created per day
func (s *reservationService) Dashboard(ctx context.Context, days int) (*domain.Dashboard, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.reservation.dashboard")
	defer span.End()

	if days <= 0 || days > 90 {
		days = 7
	}
	today := domain.StartOfDay(s.now(), s.loc)
	tomorrow := today.AddDate(0, 0, 1)
	since := today.AddDate(0, 0, 1-days)

	span.SetAttributes(attribute.Int("days", days))

	_, pending, err := s.reservations.List(ctx, &domain.ReservationFilter{Status: domain.StatusPendingPayment, Limit: 1})
	if err != nil {
		telemetry.Fail(span, err)
		return nil, err
	}
	recent, _, err := s.reservations.List(ctx, &domain.ReservationFilter{Limit: 5})
	if err != nil {
		telemetry.Fail(span, err)
		return nil, err
	}
	usage, err := s.reservations.CountUsage(ctx, domain.Interval{Start: today, End: tomorrow})
	if err != nil {
		telemetry.Fail(span, err)
		return nil, err
	}
	resources, err := s.resources.List(ctx, true)
	if err != nil {
		telemetry.Fail(span, err)
		return nil, err
	}
	counts, err := s.reservations.DailyCounts(ctx, since, tomorrow, s.loc)
	if err != nil {
		telemetry.Fail(span, err)
		return nil, err
	}

	byDay := make(map[string]int, len(counts))
	for _, dc := range counts {
		byDay[dc.Date.In(s.loc).Format(time.DateOnly)] = dc.Count
	}
	daily := make([]domain.DailyCount, 0, days)
	for day := since; day.Before(tomorrow); day = day.AddDate(0, 0, 1) {
		daily = append(daily, domain.DailyCount{Date: day, Count: byDay[day.Format(time.DateOnly)]})
	}

	span.SetStatus(codes.Ok, "")
	return &domain.Dashboard{
		PendingPayment:  pending,
		UsageToday:      usage,
		ActiveResources: len(resources),
		Recent:          recent,
		Daily:           daily,
	}, nil
}

func (s *reservationService) invalidate(ctx context.Context, reservation *domain.Reservation) {
	if err := s.cache.InvalidateReservation(ctx, reservation); err != nil {
		logger.Get().WarnContext(ctx, "failed to invalidate booked interval cache",
			zap.String("reservation_id", reservation.ID),
			zap.Error(err),
		)
	}
}

// publish sends an event without letting the caller's cancellation drop it
func (s *reservationService) publish(ctx context.Context, eventType domain.ReservationEventType, reservation *domain.Reservation) {
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	var err error
	switch eventType {
	case domain.EventReservationCreated:
		err = s.eventPublisher.PublishReservationCreated(pubCtx, reservation)
	case domain.EventReservationConfirmed:
		err = s.eventPublisher.PublishReservationConfirmed(pubCtx, reservation)
	case domain.EventReservationCancelled:
		err = s.eventPublisher.PublishReservationCancelled(pubCtx, reservation)
	case domain.EventReservationExpired:
		err = s.eventPublisher.PublishReservationExpired(pubCtx, reservation)
	case domain.EventReservationCompleted:
		err = s.eventPublisher.PublishReservationCompleted(pubCtx, reservation)
	}
	if err != nil {
		logger.Get().WarnContext(ctx, "failed to publish reservation event",
			zap.String("event_type", string(eventType)),
			zap.String("reservation_id", reservation.ID),
			zap.Error(err),
		)
	}
}
