package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prohmpiriya/facility-rental/internal/domain"
)

// MemoryResourceRepository implements ResourceRepository in memory.
// It is used by tests and by the API when no database is configured.
type MemoryResourceRepository struct {
	resources map[string]*domain.Resource
	hours     map[string]*domain.OperatingHours
	defaults  *domain.OperatingHours
	mu        sync.RWMutex
}

// NewMemoryResourceRepository creates an empty catalog. Resources without
// their own hours use defaults, or 09:00-18:00 on weekdays when nil.
func NewMemoryResourceRepository(defaults *domain.OperatingHours) *MemoryResourceRepository {
	if defaults == nil {
		defaults = domain.DefaultOperatingHours("")
	}
	return &MemoryResourceRepository{
		resources: make(map[string]*domain.Resource),
		hours:     make(map[string]*domain.OperatingHours),
		defaults:  defaults,
	}
}

// Put adds or replaces a resource
func (r *MemoryResourceRepository) Put(res *domain.Resource, hours *domain.OperatingHours) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := *res
	r.resources[res.ID] = &c
	if hours != nil {
		h := *hours
		h.ResourceID = res.ID
		r.hours[res.ID] = &h
	}
}

// List returns resources ordered by category then name
func (r *MemoryResourceRepository) List(ctx context.Context, activeOnly bool) ([]*domain.Resource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.Resource, 0, len(r.resources))
	for _, res := range r.resources {
		if activeOnly && !res.Active {
			continue
		}
		c := *res
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category > out[j].Category
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// GetByID retrieves a resource by ID
func (r *MemoryResourceRepository) GetByID(ctx context.Context, id string) (*domain.Resource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res, ok := r.resources[id]
	if !ok {
		return nil, domain.ErrResourceNotFound
	}
	c := *res
	return &c, nil
}

// GetOperatingHours returns the stored window or the default one
func (r *MemoryResourceRepository) GetOperatingHours(ctx context.Context, resourceID string) (*domain.OperatingHours, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.resources[resourceID]; !ok {
		return nil, domain.ErrResourceNotFound
	}
	if h, ok := r.hours[resourceID]; ok {
		c := *h
		return &c, nil
	}
	return r.defaults.For(resourceID), nil
}

// MemoryScheduleRepository implements ScheduleRepository in memory
type MemoryScheduleRepository struct {
	rules    map[string]*domain.ScheduleRule
	holidays map[string]*domain.Holiday
	loc      *time.Location
	mu       sync.RWMutex
}

// NewMemoryScheduleRepository creates an empty rule store. Holiday dates
// are keyed in loc.
func NewMemoryScheduleRepository(loc *time.Location) *MemoryScheduleRepository {
	if loc == nil {
		loc = time.UTC
	}
	return &MemoryScheduleRepository{
		rules:    make(map[string]*domain.ScheduleRule),
		holidays: make(map[string]*domain.Holiday),
		loc:      loc,
	}
}

// ListRules returns applicable rules intersecting [from, to), ordered by start
func (r *MemoryScheduleRepository) ListRules(ctx context.Context, scope domain.Scope, from, to time.Time) ([]*domain.ScheduleRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	window := domain.Interval{Start: from, End: to}
	var out []*domain.ScheduleRule
	for _, rule := range r.rules {
		if !rule.Scope.AppliesTo(scope) || !rule.Interval().Overlaps(window) {
			continue
		}
		c := *rule
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartAt.Before(out[j].StartAt) })
	return out, nil
}

// CreateRule stores a rule unless an opposite rule on the same scope overlaps it
func (r *MemoryScheduleRepository) CreateRule(ctx context.Context, rule *domain.ScheduleRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.rules {
		if existing.Scope == rule.Scope &&
			existing.Kind == rule.Kind.Opposite() &&
			existing.Interval().Overlaps(rule.Interval()) {
			return domain.ErrConflictingRule
		}
	}

	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now()
	}
	c := *rule
	r.rules[rule.ID] = &c
	return nil
}

// DeleteRule removes a rule by ID
func (r *MemoryScheduleRepository) DeleteRule(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rules[id]; !ok {
		return domain.ErrRuleNotFound
	}
	delete(r.rules, id)
	return nil
}

// ListHolidays returns holidays in [from, to) ordered by date
func (r *MemoryScheduleRepository) ListHolidays(ctx context.Context, from, to time.Time) ([]*domain.Holiday, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.Holiday
	for _, h := range r.holidays {
		if h.Date.Before(domain.StartOfDay(from, r.loc)) || !h.Date.Before(to) {
			continue
		}
		c := *h
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// UpsertHoliday creates or renames a holiday
func (r *MemoryScheduleRepository) UpsertHoliday(ctx context.Context, holiday *domain.Holiday) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	day := domain.StartOfDay(holiday.Date, r.loc)
	r.holidays[day.Format(time.DateOnly)] = &domain.Holiday{Date: day, Name: holiday.Name}
	return nil
}

// DeleteHoliday removes a holiday
func (r *MemoryScheduleRepository) DeleteHoliday(ctx context.Context, date time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := domain.StartOfDay(date, r.loc).Format(time.DateOnly)
	if _, ok := r.holidays[key]; !ok {
		return domain.ErrHolidayNotFound
	}
	delete(r.holidays, key)
	return nil
}
