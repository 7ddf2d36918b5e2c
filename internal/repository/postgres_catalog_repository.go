package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/prohmpiriya/facility-rental/internal/domain"
	"github.com/prohmpiriya/facility-rental/pkg/database"
)

// PostgresResourceRepository implements ResourceRepository using PostgreSQL
type PostgresResourceRepository struct {
	db       *database.PostgresDB
	defaults *domain.OperatingHours
}

// NewPostgresResourceRepository creates a new PostgreSQL resource repository.
// Resources without an operating_hours row use defaults.
func NewPostgresResourceRepository(db *database.PostgresDB, defaults *domain.OperatingHours) *PostgresResourceRepository {
	if defaults == nil {
		defaults = domain.DefaultOperatingHours("")
	}
	return &PostgresResourceRepository{db: db, defaults: defaults}
}

const resourceColumns = `id, name, category, booking_unit, price_per_unit, active, created_at, updated_at`

func scanResource(row pgx.Row) (*domain.Resource, error) {
	var (
		res            domain.Resource
		category, unit string
	)
	err := row.Scan(&res.ID, &res.Name, &category, &unit, &res.PricePerUnit, &res.Active, &res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		return nil, err
	}
	res.Category = domain.ResourceCategory(category)
	res.BookingUnit = domain.BookingUnit(unit)
	return &res, nil
}

// List returns resources ordered by category then name
func (r *PostgresResourceRepository) List(ctx context.Context, activeOnly bool) ([]*domain.Resource, error) {
	query := `SELECT ` + resourceColumns + ` FROM resources`
	if activeOnly {
		query += ` WHERE active`
	}
	query += ` ORDER BY category DESC, name`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query resources: %w", err)
	}
	defer rows.Close()

	var out []*domain.Resource
	for rows.Next() {
		res, err := scanResource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan resource: %w", err)
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate resources: %w", err)
	}
	return out, nil
}

// GetByID retrieves a resource by ID
func (r *PostgresResourceRepository) GetByID(ctx context.Context, id string) (*domain.Resource, error) {
	res, err := scanResource(r.db.Pool().QueryRow(ctx, `SELECT `+resourceColumns+` FROM resources WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrResourceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get resource: %w", err)
	}
	return res, nil
}

// GetOperatingHours returns the stored window or the default one
func (r *PostgresResourceRepository) GetOperatingHours(ctx context.Context, resourceID string) (*domain.OperatingHours, error) {
	var (
		exists   bool
		open     *int32
		closeMin *int32
		restDays []int32
	)
	err := r.db.Pool().QueryRow(ctx, `
		SELECT TRUE, oh.open_minute, oh.close_minute, oh.rest_days
		FROM resources res
		LEFT JOIN operating_hours oh ON oh.resource_id = res.id
		WHERE res.id = $1`, resourceID).Scan(&exists, &open, &closeMin, &restDays)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrResourceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get operating hours: %w", err)
	}
	if open == nil || closeMin == nil {
		return r.defaults.For(resourceID), nil
	}

	hours := &domain.OperatingHours{
		ResourceID:  resourceID,
		OpenMinute:  int(*open),
		CloseMinute: int(*closeMin),
		RestDays:    make([]time.Weekday, 0, len(restDays)),
	}
	for _, d := range restDays {
		hours.RestDays = append(hours.RestDays, time.Weekday(d))
	}
	return hours, nil
}

// PostgresScheduleRepository implements ScheduleRepository using PostgreSQL
type PostgresScheduleRepository struct {
	db  *database.PostgresDB
	loc *time.Location
}

// NewPostgresScheduleRepository creates a rule store; holiday dates are interpreted in loc
func NewPostgresScheduleRepository(db *database.PostgresDB, loc *time.Location) *PostgresScheduleRepository {
	if loc == nil {
		loc = time.UTC
	}
	return &PostgresScheduleRepository{db: db, loc: loc}
}

const ruleColumns = `id, scope_kind, resource_id, kind, start_at, end_at, reason, created_by, created_at`

func scanRule(row pgx.Row) (*domain.ScheduleRule, error) {
	var (
		rule       domain.ScheduleRule
		scopeKind  string
		resourceID *string
		kind       string
	)
	if err := row.Scan(&rule.ID, &scopeKind, &resourceID, &kind, &rule.StartAt, &rule.EndAt,
		&rule.Reason, &rule.CreatedBy, &rule.CreatedAt); err != nil {
		return nil, err
	}
	rule.Scope = domain.Scope{Kind: domain.ScopeKind(scopeKind)}
	if resourceID != nil {
		rule.Scope.ResourceID = *resourceID
	}
	rule.Kind = domain.RuleKind(kind)
	return &rule, nil
}

func scopeResourceID(s domain.Scope) *string {
	if s.IsAll() {
		return nil
	}
	id := s.ResourceID
	return &id
}

// ListRules returns applicable rules intersecting [from, to), ordered by start
func (r *PostgresScheduleRepository) ListRules(ctx context.Context, scope domain.Scope, from, to time.Time) ([]*domain.ScheduleRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM schedule_rules
		WHERE start_at < $2 AND end_at > $1 AND (scope_kind = 'all' OR resource_id = $3)
		ORDER BY start_at`

	rows, err := r.db.Pool().Query(ctx, query, from, to, scopeResourceID(scope))
	if err != nil {
		return nil, fmt.Errorf("failed to query schedule rules: %w", err)
	}
	defer rows.Close()

	var out []*domain.ScheduleRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule rule: %w", err)
		}
		out = append(out, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate schedule rules: %w", err)
	}
	return out, nil
}

// CreateRule inserts a rule unless an opposite rule on the same scope overlaps it.
// Writers for one scope are serialized with a transaction-scoped advisory lock.
func (r *PostgresScheduleRepository) CreateRule(ctx context.Context, rule *domain.ScheduleRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now()
	}

	return r.db.InTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "schedule:"+rule.Scope.String()); err != nil {
			return fmt.Errorf("failed to lock scope: %w", err)
		}

		var conflicting bool
		err := tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM schedule_rules
				WHERE scope_kind = $1 AND resource_id IS NOT DISTINCT FROM $2
				  AND kind = $3 AND start_at < $5 AND end_at > $4
			)`,
			string(rule.Scope.Kind), scopeResourceID(rule.Scope), string(rule.Kind.Opposite()), rule.StartAt, rule.EndAt,
		).Scan(&conflicting)
		if err != nil {
			return fmt.Errorf("failed to check conflicting rules: %w", err)
		}
		if conflicting {
			return domain.ErrConflictingRule
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO schedule_rules (`+ruleColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			rule.ID, string(rule.Scope.Kind), scopeResourceID(rule.Scope), string(rule.Kind),
			rule.StartAt, rule.EndAt, rule.Reason, rule.CreatedBy, rule.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert schedule rule: %w", err)
		}
		return nil
	})
}

// DeleteRule removes a rule by ID
func (r *PostgresScheduleRepository) DeleteRule(ctx context.Context, id string) error {
	tag, err := r.db.Pool().Exec(ctx, `DELETE FROM schedule_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete schedule rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrRuleNotFound
	}
	return nil
}

func (r *PostgresScheduleRepository) dateString(t time.Time) string {
	return t.In(r.loc).Format(time.DateOnly)
}

// ListHolidays returns holidays in [from, to) ordered by date
func (r *PostgresScheduleRepository) ListHolidays(ctx context.Context, from, to time.Time) ([]*domain.Holiday, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT to_char(holiday_date, 'YYYY-MM-DD'), name FROM holidays
		WHERE holiday_date >= $1::date AND holiday_date < $2::date
		ORDER BY holiday_date`,
		r.dateString(from), r.dateString(domain.StartOfDay(to.Add(-time.Nanosecond), r.loc).AddDate(0, 0, 1)))
	if err != nil {
		return nil, fmt.Errorf("failed to query holidays: %w", err)
	}
	defer rows.Close()

	var out []*domain.Holiday
	for rows.Next() {
		var day, name string
		if err := rows.Scan(&day, &name); err != nil {
			return nil, fmt.Errorf("failed to scan holiday: %w", err)
		}
		date, err := time.ParseInLocation(time.DateOnly, day, r.loc)
		if err != nil {
			return nil, fmt.Errorf("failed to parse holiday date: %w", err)
		}
		out = append(out, &domain.Holiday{Date: date, Name: name})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate holidays: %w", err)
	}
	return out, nil
}

// UpsertHoliday creates or renames a holiday
func (r *PostgresScheduleRepository) UpsertHoliday(ctx context.Context, holiday *domain.Holiday) error {
	_, err := r.db.Pool().Exec(ctx, `
		INSERT INTO holidays (holiday_date, name) VALUES ($1::date, $2)
		ON CONFLICT (holiday_date) DO UPDATE SET name = EXCLUDED.name`,
		r.dateString(holiday.Date), holiday.Name)
	if err != nil {
		return fmt.Errorf("failed to upsert holiday: %w", err)
	}
	return nil
}

// DeleteHoliday removes a holiday
func (r *PostgresScheduleRepository) DeleteHoliday(ctx context.Context, date time.Time) error {
	tag, err := r.db.Pool().Exec(ctx, `DELETE FROM holidays WHERE holiday_date = $1::date`, r.dateString(date))
	if err != nil {
		return fmt.Errorf("failed to delete holiday: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrHolidayNotFound
	}
	return nil
}
