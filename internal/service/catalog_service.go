package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/prohmpiriya/facility-rental/internal/domain"
	"github.com/prohmpiriya/facility-rental/internal/repository"
	"github.com/prohmpiriya/facility-rental/pkg/logger"
	"github.com/prohmpiriya/facility-rental/pkg/telemetry"
)

// CatalogService exposes resources and the administrator calendar
type CatalogService interface {
	// ListResources returns resources ordered by category then name
	ListResources(ctx context.Context, activeOnly bool) ([]*domain.Resource, error)
	// GetResource retrieves a resource with its operating hours
	GetResource(ctx context.Context, id string) (*domain.Resource, *domain.OperatingHours, error)
	// ListRules returns rules applying to scope in [from, to)
	ListRules(ctx context.Context, scope domain.Scope, from, to time.Time) ([]*domain.ScheduleRule, error)
	// CreateRule stores a BLOCK or ALLOW rule
	CreateRule(ctx context.Context, actor string, rule *domain.ScheduleRule) (*domain.ScheduleRule, error)
	// DeleteRule removes a rule
	DeleteRule(ctx context.Context, id string) error
	// ListHolidays returns holidays in [from, to)
	ListHolidays(ctx context.Context, from, to time.Time) ([]*domain.Holiday, error)
	// UpsertHoliday creates or renames a holiday
	UpsertHoliday(ctx context.Context, date time.Time, name string) (*domain.Holiday, error)
	// DeleteHoliday removes a holiday
	DeleteHoliday(ctx context.Context, date time.Time) error
}

type catalogService struct {
	resources repository.ResourceRepository
	schedules repository.ScheduleRepository
	loc       *time.Location
}

// NewCatalogService creates a new catalog service
func NewCatalogService(resources repository.ResourceRepository, schedules repository.ScheduleRepository, loc *time.Location) CatalogService {
	if loc == nil {
		loc = time.UTC
	}
	return &catalogService{resources: resources, schedules: schedules, loc: loc}
}

// ListResources returns resources ordered by category then name
func (s *catalogService) ListResources(ctx context.Context, activeOnly bool) ([]*domain.Resource, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.catalog.list_resources")
	defer span.End()

	out, err := s.resources.List(ctx, activeOnly)
	if err != nil {
		telemetry.Fail(span, err)
		return nil, err
	}
	if out == nil {
		out = []*domain.Resource{}
	}
	span.SetAttributes(attribute.Int("count", len(out)))
	return out, nil
}

// GetResource retrieves a resource with its operating hours
func (s *catalogService) GetResource(ctx context.Context, id string) (*domain.Resource, *domain.OperatingHours, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.catalog.get_resource")
	defer span.End()

	span.SetAttributes(attribute.String("resource_id", id))

	res, err := s.resources.GetByID(ctx, id)
	if err != nil {
		telemetry.Fail(span, err)
		return nil, nil, err
	}
	hours, err := s.resources.GetOperatingHours(ctx, id)
	if err != nil {
		telemetry.Fail(span, err)
		return nil, nil, err
	}
	return res, hours, nil
}

// ListRules returns rules applying to scope in [from, to)
func (s *catalogService) ListRules(ctx context.Context, scope domain.Scope, from, to time.Time) ([]*domain.ScheduleRule, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.catalog.list_rules")
	defer span.End()

	if !from.Before(to) {
		err := &domain.ValidationError{Field: "to", Reason: "must be after from"}
		telemetry.Fail(span, err)
		return nil, err
	}

	rules, err := s.schedules.ListRules(ctx, scope, from, to)
	if err != nil {
		telemetry.Fail(span, err)
		return nil, err
	}
	return nonNilRules(rules), nil
}

// CreateRule validates and stores a rule. An opposite rule on the same
// scope and overlapping interval is rejected and logged for review.
func (s *catalogService) CreateRule(ctx context.Context, actor string, rule *domain.ScheduleRule) (*domain.ScheduleRule, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.catalog.create_rule")
	defer span.End()

	if rule == nil {
		err := &domain.ValidationError{Field: "rule", Reason: "is required"}
		telemetry.Fail(span, err)
		return nil, err
	}

	span.SetAttributes(
		attribute.String("scope", rule.Scope.String()),
		attribute.String("kind", string(rule.Kind)),
	)

	if err := rule.Validate(); err != nil {
		telemetry.Fail(span, err)
		return nil, err
	}
	if !rule.Scope.IsAll() {
		if _, err := s.resources.GetByID(ctx, rule.Scope.ResourceID); err != nil {
			telemetry.Fail(span, err)
			return nil, err
		}
	}

	rule.ID = uuid.New().String()
	rule.CreatedBy = actor
	rule.CreatedAt = time.Now()

	if err := s.schedules.CreateRule(ctx, rule); err != nil {
		if errors.Is(err, domain.ErrConflictingRule) {
			logger.Get().WarnContext(ctx, "rejected conflicting schedule rule",
				zap.String("scope", rule.Scope.String()),
				zap.String("kind", string(rule.Kind)),
				zap.Time("start_at", rule.StartAt),
				zap.Time("end_at", rule.EndAt),
				zap.String("actor", actor),
			)
		}
		telemetry.Fail(span, err)
		return nil, err
	}

	span.SetAttributes(attribute.String("rule_id", rule.ID))
	span.SetStatus(codes.Ok, "")
	return rule, nil
}

// DeleteRule removes a rule
func (s *catalogService) DeleteRule(ctx context.Context, id string) error {
	ctx, span := telemetry.StartSpan(ctx, "service.catalog.delete_rule")
	defer span.End()

	span.SetAttributes(attribute.String("rule_id", id))
	if err := s.schedules.DeleteRule(ctx, id); err != nil {
		telemetry.Fail(span, err)
		return err
	}
	return nil
}

// ListHolidays returns holidays in [from, to)
func (s *catalogService) ListHolidays(ctx context.Context, from, to time.Time) ([]*domain.Holiday, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.catalog.list_holidays")
	defer span.End()

	holidays, err := s.schedules.ListHolidays(ctx, from, to)
	if err != nil {
		telemetry.Fail(span, err)
		return nil, err
	}
	return nonNilHolidays(holidays), nil
}

// UpsertHoliday creates or renames a holiday on the local date of date
func (s *catalogService) UpsertHoliday(ctx context.Context, date time.Time, name string) (*domain.Holiday, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.catalog.upsert_holiday")
	defer span.End()

	if date.IsZero() {
		err := &domain.ValidationError{Field: "date", Reason: "is required"}
		telemetry.Fail(span, err)
		return nil, err
	}

	holiday := &domain.Holiday{Date: domain.StartOfDay(date, s.loc), Name: name}
	if err := s.schedules.UpsertHoliday(ctx, holiday); err != nil {
		telemetry.Fail(span, err)
		return nil, err
	}
	return holiday, nil
}

// DeleteHoliday removes a holiday
func (s *catalogService) DeleteHoliday(ctx context.Context, date time.Time) error {
	ctx, span := telemetry.StartSpan(ctx, "service.catalog.delete_holiday")
	defer span.End()

	if err := s.schedules.DeleteHoliday(ctx, date); err != nil {
		telemetry.Fail(span, err)
		return err
	}
	return nil
}
