package service

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/prohmpiriya/facility-rental/internal/cache"
	"github.com/prohmpiriya/facility-rental/internal/domain"
	"github.com/prohmpiriya/facility-rental/internal/repository"
	"github.com/prohmpiriya/facility-rental/pkg/telemetry"
)

// AvailabilityService answers calendar and slot questions
type AvailabilityService interface {
	// GetBookedIntervals returns the active intervals of resourceID on the local
	// day of date, ordered by start. An empty resourceID returns every resource.
	GetBookedIntervals(ctx context.Context, resourceID string, date time.Time) ([]domain.BookedInterval, error)

	// IsDateOpen reports whether scope is open on the local day of date
	IsDateOpen(ctx context.Context, scope domain.Scope, date time.Time) (bool, error)

	// OpenDates returns the open/closed state of every local day in [from, to)
	OpenDates(ctx context.Context, scope domain.Scope, from, to time.Time) ([]DateStatus, error)

	// ValidateSlot rejects malformed, closed or blocked intervals for res
	ValidateSlot(ctx context.Context, res *domain.Resource, iv domain.Interval) error

	// IsBookable reports whether iv passes ValidateSlot and overlaps no active item
	IsBookable(ctx context.Context, resourceID string, iv domain.Interval) (bool, error)

	// DaySchedule returns booked intervals, rules and holidays in [from, to)
	DaySchedule(ctx context.Context, scope domain.Scope, from, to time.Time) (*Schedule, error)
}

// DateStatus is one day of the open-date calendar
type DateStatus struct {
	Date    string `json:"date"`
	Open    bool   `json:"open"`
	Holiday string `json:"holiday,omitempty"`
}

// Schedule is the administrator calendar view of a range
type Schedule struct {
	From     time.Time               `json:"from"`
	To       time.Time               `json:"to"`
	Booked   []domain.BookedInterval `json:"booked"`
	Rules    []*domain.ScheduleRule  `json:"rules"`
	Holidays []*domain.Holiday       `json:"holidays"`
}

// AvailabilityServiceConfig contains configuration for the availability service
type AvailabilityServiceConfig struct {
	Location    *time.Location
	SlotMinutes int
	// DefaultHours is the window used for the global scope
	DefaultHours *domain.OperatingHours
	// MaxRangeDays bounds OpenDates and DaySchedule
	MaxRangeDays int
}

type availabilityService struct {
	resources    repository.ResourceRepository
	schedules    repository.ScheduleRepository
	reservations repository.ReservationRepository
	cache        cache.BookedIntervalCache
	loc          *time.Location
	slotMinutes  int
	defaultHours *domain.OperatingHours
	maxRangeDays int
}

// NewAvailabilityService creates a new availability service
func NewAvailabilityService(
	resources repository.ResourceRepository,
	schedules repository.ScheduleRepository,
	reservations repository.ReservationRepository,
	bookedCache cache.BookedIntervalCache,
	cfg *AvailabilityServiceConfig,
) AvailabilityService {
	loc := time.UTC
	slotMinutes := 30
	hours := domain.DefaultOperatingHours("")
	maxRangeDays := 62
	if cfg != nil {
		if cfg.Location != nil {
			loc = cfg.Location
		}
		if cfg.SlotMinutes > 0 {
			slotMinutes = cfg.SlotMinutes
		}
		if cfg.DefaultHours != nil {
			hours = cfg.DefaultHours
		}
		if cfg.MaxRangeDays > 0 {
			maxRangeDays = cfg.MaxRangeDays
		}
	}
	if bookedCache == nil {
		bookedCache = cache.NewNoOpBookedIntervalCache()
	}
	return &availabilityService{
		resources:    resources,
		schedules:    schedules,
		reservations: reservations,
		cache:        bookedCache,
		loc:          loc,
		slotMinutes:  slotMinutes,
		defaultHours: hours,
		maxRangeDays: maxRangeDays,
	}
}

// GetBookedIntervals returns the booked intervals of one local day
func (s *availabilityService) GetBookedIntervals(ctx context.Context, resourceID string, date time.Time) ([]domain.BookedInterval, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.availability.booked_intervals")
	defer span.End()

	span.SetAttributes(
		attribute.String("resource_id", resourceID),
		attribute.String("date", date.In(s.loc).Format(time.DateOnly)),
	)

	if resourceID != "" {
		if _, err := s.resources.GetByID(ctx, resourceID); err != nil {
			telemetry.Fail(span, err)
			return nil, err
		}
	}

	if cached, ok := s.cache.Get(ctx, resourceID, date); ok {
		span.SetAttributes(attribute.Bool("cache_hit", true))
		return cached, nil
	}

	version := s.cache.Version(ctx, resourceID, date)
	booked, err := s.reservations.ListBookedIntervals(ctx, resourceID, domain.DayInterval(date, s.loc))
	if err != nil {
		telemetry.Fail(span, err)
		return nil, err
	}
	s.cache.Set(ctx, resourceID, date, version, booked)

	span.SetAttributes(attribute.Int("count", len(booked)))
	span.SetStatus(codes.Ok, "")
	return booked, nil
}

// calendar holds the rules and holidays of a range for one scope
type calendar struct {
	hours    *domain.OperatingHours
	rules    []*domain.ScheduleRule
	holidays map[string]string
}

func (s *availabilityService) loadCalendar(ctx context.Context, scope domain.Scope, window domain.Interval) (*calendar, error) {
	hours := s.defaultHours
	if !scope.IsAll() {
		h, err := s.resources.GetOperatingHours(ctx, scope.ResourceID)
		if err != nil {
			return nil, err
		}
		hours = h
	}

	rules, err := s.schedules.ListRules(ctx, scope, window.Start, window.End)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	holidays, err := s.schedules.ListHolidays(ctx, window.Start, window.End)
	if err != nil {
		return nil, fmt.Errorf("failed to list holidays: %w", err)
	}

	cal := &calendar{hours: hours, rules: rules, holidays: make(map[string]string, len(holidays))}
	for _, h := range holidays {
		cal.holidays[h.Date.In(s.loc).Format(time.DateOnly)] = h.Name
	}
	return cal, nil
}

// closedByDefault reports whether day is a rest day or holiday
func (s *availabilityService) closedByDefault(cal *calendar, day time.Time) bool {
	if cal.hours.IsRestDay(day.Weekday()) {
		return true
	}
	_, holiday := cal.holidays[day.Format(time.DateOnly)]
	return holiday
}

func (c *calendar) intervals(kind domain.RuleKind, window domain.Interval) []domain.Interval {
	var out []domain.Interval
	for _, r := range c.rules {
		if r.Kind == kind && r.Interval().Overlaps(window) {
			out = append(out, r.Interval())
		}
	}
	return out
}

// dayOpen applies the default-closed/default-open policy to one local day.
// A default-closed day opens when any ALLOW rule touches it; a default-open
// day closes when BLOCK rules cover its whole operating window.
func (s *availabilityService) dayOpen(cal *calendar, day time.Time) bool {
	dayWindow := domain.DayInterval(day, s.loc)
	if s.closedByDefault(cal, day) {
		return len(cal.intervals(domain.RuleAllow, dayWindow)) > 0
	}
	opWindow := cal.hours.Window(day, s.loc)
	blocks := cal.intervals(domain.RuleBlock, opWindow)
	return len(blocks) == 0 || !domain.CoveredByUnion(opWindow, blocks)
}

// IsDateOpen reports whether scope is open on date
func (s *availabilityService) IsDateOpen(ctx context.Context, scope domain.Scope, date time.Time) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.availability.is_date_open")
	defer span.End()

	span.SetAttributes(
		attribute.String("scope", scope.String()),
		attribute.String("date", date.In(s.loc).Format(time.DateOnly)),
	)

	day := domain.StartOfDay(date, s.loc)
	cal, err := s.loadCalendar(ctx, scope, domain.DayInterval(day, s.loc))
	if err != nil {
		telemetry.Fail(span, err)
		return false, err
	}

	open := s.dayOpen(cal, day)
	span.SetAttributes(attribute.Bool("open", open))
	span.SetStatus(codes.Ok, "")
	return open, nil
}

// OpenDates returns the state of every day in [from, to)
func (s *availabilityService) OpenDates(ctx context.Context, scope domain.Scope, from, to time.Time) ([]DateStatus, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.availability.open_dates")
	defer span.End()

	window, err := s.dayRange(from, to)
	if err != nil {
		telemetry.Fail(span, err)
		return nil, err
	}

	cal, err := s.loadCalendar(ctx, scope, window)
	if err != nil {
		telemetry.Fail(span, err)
		return nil, err
	}

	var out []DateStatus
	for day := window.Start; day.Before(window.End); day = day.AddDate(0, 0, 1) {
		key := day.Format(time.DateOnly)
		out = append(out, DateStatus{
			Date:    key,
			Open:    s.dayOpen(cal, day),
			Holiday: cal.holidays[key],
		})
	}

	span.SetAttributes(attribute.Int("days", len(out)))
	span.SetStatus(codes.Ok, "")
	return out, nil
}

// dayRange normalizes [from, to) to local midnights and bounds its length
func (s *availabilityService) dayRange(from, to time.Time) (domain.Interval, error) {
	start := domain.StartOfDay(from, s.loc)
	end := domain.StartOfDay(to, s.loc)
	if !end.After(start) {
		return domain.Interval{}, &domain.ValidationError{Field: "to", Reason: "must be after from"}
	}
	if end.Sub(start) > time.Duration(s.maxRangeDays)*24*time.Hour {
		return domain.Interval{}, &domain.ValidationError{Field: "to", Reason: fmt.Sprintf("range exceeds %d days", s.maxRangeDays)}
	}
	return domain.Interval{Start: start, End: end}, nil
}

// ValidateSlot checks shape, calendar and rules for a candidate interval
func (s *availabilityService) ValidateSlot(ctx context.Context, res *domain.Resource, iv domain.Interval) error {
	ctx, span := telemetry.StartSpan(ctx, "service.availability.validate_slot")
	defer span.End()

	span.SetAttributes(
		attribute.String("resource_id", res.ID),
		attribute.String("start", iv.Start.Format(time.RFC3339)),
		attribute.String("end", iv.End.Format(time.RFC3339)),
	)

	if !res.Active {
		telemetry.Fail(span, domain.ErrResourceInactive)
		return domain.ErrResourceInactive
	}
	if err := domain.ValidateSlotShape(res, iv, s.loc, s.slotMinutes); err != nil {
		telemetry.Fail(span, err)
		return err
	}

	window := domain.Interval{Start: domain.StartOfDay(iv.Start, s.loc), End: iv.End}
	cal, err := s.loadCalendar(ctx, domain.ScopeResource(res.ID), window)
	if err != nil {
		telemetry.Fail(span, err)
		return err
	}

	if err := s.checkSlot(cal, res, iv); err != nil {
		telemetry.Fail(span, err)
		return err
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// checkSlot applies BLOCK precedence, then ALLOW coverage, then the default calendar
func (s *availabilityService) checkSlot(cal *calendar, res *domain.Resource, iv domain.Interval) error {
	if len(cal.intervals(domain.RuleBlock, iv)) > 0 {
		return &domain.ValidationError{Field: "interval", Reason: "blocked by an administrator rule"}
	}

	if domain.CoveredByUnion(iv, cal.intervals(domain.RuleAllow, iv)) {
		return nil
	}

	if res.BookingUnit == domain.UnitDay {
		for day := domain.StartOfDay(iv.Start, s.loc); day.Before(iv.End); day = day.AddDate(0, 0, 1) {
			if !s.dayOpen(cal, day) {
				return &domain.ValidationError{Field: "interval", Reason: fmt.Sprintf("%s is closed", day.Format(time.DateOnly))}
			}
		}
		return nil
	}

	day := domain.StartOfDay(iv.Start, s.loc)
	if s.closedByDefault(cal, day) {
		return &domain.ValidationError{Field: "interval", Reason: fmt.Sprintf("%s is closed", day.Format(time.DateOnly))}
	}
	if !cal.hours.Window(day, s.loc).Contains(iv) {
		return &domain.ValidationError{Field: "interval", Reason: "outside operating hours"}
	}
	return nil
}

// IsBookable reports whether the slot is valid and free
func (s *availabilityService) IsBookable(ctx context.Context, resourceID string, iv domain.Interval) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.availability.is_bookable")
	defer span.End()

	res, err := s.resources.GetByID(ctx, resourceID)
	if err != nil {
		telemetry.Fail(span, err)
		return false, err
	}

	if err := s.ValidateSlot(ctx, res, iv); err != nil {
		if domain.IsValidationError(err) {
			span.SetAttributes(attribute.String("reason", err.Error()))
			return false, nil
		}
		telemetry.Fail(span, err)
		return false, err
	}

	overlaps, err := s.reservations.HasOverlap(ctx, resourceID, iv)
	if err != nil {
		telemetry.Fail(span, err)
		return false, err
	}

	span.SetAttributes(attribute.Bool("bookable", !overlaps))
	span.SetStatus(codes.Ok, "")
	return !overlaps, nil
}

// DaySchedule returns the administrator view of [from, to)
func (s *availabilityService) DaySchedule(ctx context.Context, scope domain.Scope, from, to time.Time) (*Schedule, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.availability.schedule")
	defer span.End()

	window, err := s.dayRange(from, to)
	if err != nil {
		telemetry.Fail(span, err)
		return nil, err
	}

	resourceID := ""
	if !scope.IsAll() {
		resourceID = scope.ResourceID
		if _, err := s.resources.GetByID(ctx, resourceID); err != nil {
			telemetry.Fail(span, err)
			return nil, err
		}
	}

	booked, err := s.reservations.ListBookedIntervals(ctx, resourceID, window)
	if err != nil {
		telemetry.Fail(span, err)
		return nil, err
	}
	rules, err := s.schedules.ListRules(ctx, scope, window.Start, window.End)
	if err != nil {
		telemetry.Fail(span, err)
		return nil, err
	}
	holidays, err := s.schedules.ListHolidays(ctx, window.Start, window.End)
	if err != nil {
		telemetry.Fail(span, err)
		return nil, err
	}

	span.SetStatus(codes.Ok, "")
	return &Schedule{
		From:     window.Start,
		To:       window.End,
		Booked:   booked,
		Rules:    nonNilRules(rules),
		Holidays: nonNilHolidays(holidays),
	}, nil
}

func nonNilRules(r []*domain.ScheduleRule) []*domain.ScheduleRule {
	if r == nil {
		return []*domain.ScheduleRule{}
	}
	return r
}

func nonNilHolidays(h []*domain.Holiday) []*domain.Holiday {
	if h == nil {
		return []*domain.Holiday{}
	}
	return h
}
