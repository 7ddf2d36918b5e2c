package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists saga instances in the saga_instances table
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-based saga store
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

type instanceRow struct {
	id, definitionID, status string
	data, stepResults        []byte
	currentStep              int
	errMsg                   *string
	createdAt, updatedAt     time.Time
	completedAt              *time.Time
}

func toRow(instance *Instance) (*instanceRow, error) {
	instance.mu.RLock()
	defer instance.mu.RUnlock()

	data, err := json.Marshal(instance.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal data: %w", err)
	}
	steps, err := json.Marshal(instance.StepResults)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal step results: %w", err)
	}

	row := &instanceRow{
		id:           instance.ID,
		definitionID: instance.DefinitionID,
		status:       string(instance.Status),
		data:         data,
		stepResults:  steps,
		currentStep:  instance.CurrentStep,
		createdAt:    instance.CreatedAt,
		updatedAt:    instance.UpdatedAt,
		completedAt:  instance.CompletedAt,
	}
	if instance.Error != "" {
		msg := instance.Error
		row.errMsg = &msg
	}
	return row, nil
}

// Save inserts a new saga instance
func (s *PostgresStore) Save(ctx context.Context, instance *Instance) error {
	row, err := toRow(instance)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO saga_instances (
			id, definition_id, status, data, step_results,
			current_step, error, created_at, updated_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		row.id, row.definitionID, row.status, row.data, row.stepResults,
		row.currentStep, row.errMsg, row.createdAt, row.updatedAt, row.completedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save saga instance: %w", err)
	}
	return nil
}

// Get retrieves a saga instance by ID
func (s *PostgresStore) Get(ctx context.Context, id string) (*Instance, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, definition_id, status, data, step_results,
		       current_step, error, created_at, updated_at, completed_at
		FROM saga_instances
		WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get saga instance: %w", err)
	}
	instances, err := collect(rows)
	if err != nil {
		return nil, err
	}
	if len(instances) == 0 {
		return nil, ErrSagaNotFound
	}
	return instances[0], nil
}

// Update writes the current state of an instance
func (s *PostgresStore) Update(ctx context.Context, instance *Instance) error {
	row, err := toRow(instance)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE saga_instances
		SET status = $2, data = $3, step_results = $4, current_step = $5,
		    error = $6, updated_at = $7, completed_at = $8
		WHERE id = $1`,
		row.id, row.status, row.data, row.stepResults, row.currentStep,
		row.errMsg, row.updatedAt, row.completedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update saga instance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSagaNotFound
	}
	return nil
}

// ListByStatus returns instances with the given status, oldest first
func (s *PostgresStore) ListByStatus(ctx context.Context, status Status, limit int) ([]*Instance, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, definition_id, status, data, step_results,
		       current_step, error, created_at, updated_at, completed_at
		FROM saga_instances
		WHERE status = $1
		ORDER BY created_at
		LIMIT $2`, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list saga instances: %w", err)
	}
	return collect(rows)
}

func collect(rows pgx.Rows) ([]*Instance, error) {
	defer rows.Close()

	var out []*Instance
	for rows.Next() {
		var r instanceRow
		if err := rows.Scan(&r.id, &r.definitionID, &r.status, &r.data, &r.stepResults,
			&r.currentStep, &r.errMsg, &r.createdAt, &r.updatedAt, &r.completedAt); err != nil {
			return nil, fmt.Errorf("failed to scan saga instance: %w", err)
		}

		inst := &Instance{
			ID:           r.id,
			DefinitionID: r.definitionID,
			Status:       Status(r.status),
			CurrentStep:  r.currentStep,
			CreatedAt:    r.createdAt,
			UpdatedAt:    r.updatedAt,
			CompletedAt:  r.completedAt,
			Data:         Data{},
		}
		if r.errMsg != nil {
			inst.Error = *r.errMsg
		}
		if len(r.data) > 0 {
			if err := json.Unmarshal(r.data, &inst.Data); err != nil {
				return nil, fmt.Errorf("failed to unmarshal data: %w", err)
			}
		}
		if len(r.stepResults) > 0 {
			if err := json.Unmarshal(r.stepResults, &inst.StepResults); err != nil {
				return nil, fmt.Errorf("failed to unmarshal step results: %w", err)
			}
		}
		out = append(out, inst)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	return out, nil
}
