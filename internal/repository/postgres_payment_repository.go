package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/prohmpiriya/facility-rental/internal/domain"
	"github.com/prohmpiriya/facility-rental/pkg/database"
)

// PostgresPaymentRepository implements PaymentRepository using PostgreSQL
type PostgresPaymentRepository struct {
	db *database.PostgresDB
}

// NewPostgresPaymentRepository creates a new PostgreSQL payment repository
func NewPostgresPaymentRepository(db *database.PostgresDB) *PostgresPaymentRepository {
	return &PostgresPaymentRepository{db: db}
}

const sessionColumns = `
	id, reservation_id, provider, provider_payment_id, status, amount, currency,
	order_description, customer_name, customer_email, customer_phone,
	failure_code, failure_reason, created_at, updated_at, captured_at`

func scanSession(row pgx.Row) (*domain.PaymentSession, error) {
	var (
		s                          domain.PaymentSession
		status                     string
		failureCode, failureReason *string
	)
	err := row.Scan(&s.ID, &s.ReservationID, &s.Provider, &s.ProviderPaymentID, &status, &s.Amount, &s.Currency,
		&s.OrderDescription, &s.Customer.Name, &s.Customer.Email, &s.Customer.Phone,
		&failureCode, &failureReason, &s.CreatedAt, &s.UpdatedAt, &s.CapturedAt)
	if err != nil {
		return nil, err
	}
	s.Status = domain.PaymentSessionStatus(status)
	if failureCode != nil {
		s.FailureCode = *failureCode
	}
	if failureReason != nil {
		s.FailureReason = *failureReason
	}
	return &s, nil
}

// Create inserts a session. The partial unique index on active sessions
// turns a concurrent second checkout into ErrCheckoutInProgress.
func (r *PostgresPaymentRepository) Create(ctx context.Context, session *domain.PaymentSession) error {
	_, err := r.db.Pool().Exec(ctx, `
		INSERT INTO payment_sessions (
			id, reservation_id, provider, provider_payment_id, status, amount, currency,
			order_description, customer_name, customer_email, customer_phone,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		session.ID, session.ReservationID, session.Provider, session.ProviderPaymentID, string(session.Status),
		session.Amount, session.Currency, session.OrderDescription,
		session.Customer.Name, session.Customer.Email, session.Customer.Phone,
		session.CreatedAt, session.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return domain.ErrCheckoutInProgress
		}
		return fmt.Errorf("failed to insert payment session: %w", err)
	}
	return nil
}

// GetByProviderPaymentID retrieves a session by the provider's payment ID
func (r *PostgresPaymentRepository) GetByProviderPaymentID(ctx context.Context, providerPaymentID string) (*domain.PaymentSession, error) {
	s, err := scanSession(r.db.Pool().QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM payment_sessions WHERE provider_payment_id = $1`, providerPaymentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrPaymentSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment session: %w", err)
	}
	return s, nil
}

// GetActiveByReservation returns the INITIATED or CAPTURED session of a reservation
func (r *PostgresPaymentRepository) GetActiveByReservation(ctx context.Context, reservationID string) (*domain.PaymentSession, error) {
	s, err := scanSession(r.db.Pool().QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM payment_sessions
		WHERE reservation_id = $1 AND status IN ('INITIATED', 'CAPTURED')`, reservationID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrPaymentSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active payment session: %w", err)
	}
	return s, nil
}

// ListByReservation returns every session of a reservation, newest first
func (r *PostgresPaymentRepository) ListByReservation(ctx context.Context, reservationID string) ([]*domain.PaymentSession, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT `+sessionColumns+` FROM payment_sessions
		WHERE reservation_id = $1
		ORDER BY created_at DESC`, reservationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query payment sessions: %w", err)
	}
	defer rows.Close()

	var out []*domain.PaymentSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment session: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate payment sessions: %w", err)
	}
	return out, nil
}

// ListUnsettled returns INITIATED and FAILED sessions in the window, least recently updated first
func (r *PostgresPaymentRepository) ListUnsettled(ctx context.Context, createdAfter, updatedBefore time.Time, limit int) ([]*domain.PaymentSession, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT `+sessionColumns+` FROM payment_sessions
		WHERE status IN ('INITIATED', 'FAILED')
		  AND created_at > $1
		  AND updated_at < $2
		ORDER BY updated_at
		LIMIT $3`, createdAfter, updatedBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query unsettled payment sessions: %w", err)
	}
	defer rows.Close()

	var out []*domain.PaymentSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment session: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate payment sessions: %w", err)
	}
	return out, nil
}

// UpdateStatus moves a session from one of from to to in a single conditional update
func (r *PostgresPaymentRepository) UpdateStatus(ctx context.Context, id string, from []domain.PaymentSessionStatus, to domain.PaymentSessionStatus, upd SessionUpdate) (*domain.PaymentSession, error) {
	fromStrs := make([]string, len(from))
	for i, s := range from {
		fromStrs[i] = string(s)
	}

	s, err := scanSession(r.db.Pool().QueryRow(ctx, `
		UPDATE payment_sessions
		SET status = $3,
		    updated_at = $4,
		    failure_code = COALESCE(NULLIF($5, ''), failure_code),
		    failure_reason = COALESCE(NULLIF($6, ''), failure_reason),
		    captured_at = COALESCE($7, captured_at)
		WHERE id = $1 AND status = ANY($2)
		RETURNING `+sessionColumns,
		id, fromStrs, string(to), time.Now(), upd.FailureCode, upd.FailureReason, upd.CapturedAt))
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to update payment session: %w", err)
	}

	// distinguish a missing session from a status that no longer matches
	current, getErr := scanSession(r.db.Pool().QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM payment_sessions WHERE id = $1`, id))
	if errors.Is(getErr, pgx.ErrNoRows) {
		return nil, domain.ErrPaymentSessionNotFound
	}
	if getErr != nil {
		return nil, fmt.Errorf("failed to get payment session: %w", getErr)
	}
	return current, domain.ErrInvalidTransition
}
