package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/prohmpiriya/facility-rental/internal/domain"
	"github.com/prohmpiriya/facility-rental/pkg/database"
)

// PostgresReservationRepository implements ReservationRepository using PostgreSQL
type PostgresReservationRepository struct {
	db *database.PostgresDB
}

// NewPostgresReservationRepository creates a new PostgreSQL reservation repository
func NewPostgresReservationRepository(db *database.PostgresDB) *PostgresReservationRepository {
	return &PostgresReservationRepository{db: db}
}

// querier is satisfied by both the pool and a transaction
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// noOverlapConstraint is the exclusion constraint on active reservation items
const noOverlapConstraint = "reservation_items_no_overlap"

const overlapQuery = `
	SELECT EXISTS (
		SELECT 1 FROM reservation_items
		WHERE resource_id = $1 AND active AND start_at < $3 AND end_at > $2
	)`

func firstConflict(ctx context.Context, q querier, items []domain.ReservationItem) (*domain.ConflictError, error) {
	for idx, it := range items {
		var overlaps bool
		if err := q.QueryRow(ctx, overlapQuery, it.ResourceID, it.StartAt, it.EndAt).Scan(&overlaps); err != nil {
			return nil, fmt.Errorf("failed to check overlap: %w", err)
		}
		if overlaps {
			return &domain.ConflictError{Index: idx, ResourceID: it.ResourceID, StartAt: it.StartAt, EndAt: it.EndAt}, nil
		}
	}
	return nil, nil
}

// CreateHeld locks the affected resource rows in ID order, re-checks every
// item for overlap and inserts the reservation with its items in one
// transaction. The exclusion constraint on reservation_items backs this up.
func (r *PostgresReservationRepository) CreateHeld(ctx context.Context, res *domain.Reservation) error {
	ids := make([]string, 0, len(res.Items))
	seen := make(map[string]bool)
	for _, it := range res.Items {
		if !seen[it.ResourceID] {
			seen[it.ResourceID] = true
			ids = append(ids, it.ResourceID)
		}
	}
	sort.Strings(ids)

	err := r.db.InTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT id FROM resources WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
		if err != nil {
			return fmt.Errorf("failed to lock resources: %w", err)
		}
		locked, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return fmt.Errorf("failed to lock resources: %w", err)
		}
		if len(locked) != len(ids) {
			return domain.ErrResourceNotFound
		}

		conflict, err := firstConflict(ctx, tx, res.Items)
		if err != nil {
			return err
		}
		if conflict != nil {
			return conflict
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO reservations (
				id, user_id, status, total_amount, currency, insurance_doc_ref,
				hold_expires_at, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			res.ID, res.UserID, string(res.Status), res.TotalAmount, res.Currency, res.InsuranceDocRef,
			res.HoldExpiresAt, res.CreatedAt, res.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert reservation: %w", err)
		}

		batch := &pgx.Batch{}
		for _, it := range res.Items {
			batch.Queue(`
				INSERT INTO reservation_items (
					id, reservation_id, resource_id, category, start_at, end_at,
					quantity, units, unit_price, amount
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
				it.ID, res.ID, it.ResourceID, string(it.Category), it.StartAt, it.EndAt,
				it.Quantity, it.Units, it.UnitPrice, it.Amount,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert reservation items: %w", err)
		}
		return nil
	})
	if database.IsExclusionViolation(err, noOverlapConstraint) {
		return r.conflictAfterViolation(ctx, res.Items)
	}
	return err
}

// conflictAfterViolation names the first conflicting item once the
// exclusion constraint rejected the insert
func (r *PostgresReservationRepository) conflictAfterViolation(ctx context.Context, items []domain.ReservationItem) error {
	conflict, err := firstConflict(ctx, r.db.Pool(), items)
	if err == nil && conflict != nil {
		return conflict
	}
	first := items[0]
	return &domain.ConflictError{Index: 0, ResourceID: first.ResourceID, StartAt: first.StartAt, EndAt: first.EndAt}
}

const reservationColumns = `
	id, user_id, status, total_amount, currency, insurance_doc_ref,
	cancel_reason, cancelled_by, hold_expires_at, created_at, updated_at,
	confirmed_at, cancelled_at, completed_at`

func scanReservation(row pgx.Row) (*domain.Reservation, error) {
	var (
		res                       domain.Reservation
		status                    string
		cancelReason, cancelledBy *string
		holdExpiresAt             time.Time
	)
	err := row.Scan(&res.ID, &res.UserID, &status, &res.TotalAmount, &res.Currency, &res.InsuranceDocRef,
		&cancelReason, &cancelledBy, &holdExpiresAt, &res.CreatedAt, &res.UpdatedAt,
		&res.ConfirmedAt, &res.CancelledAt, &res.CompletedAt)
	if err != nil {
		return nil, err
	}
	res.Status = domain.ReservationStatus(status)
	res.HoldExpiresAt = &holdExpiresAt
	if cancelReason != nil {
		res.CancelReason = *cancelReason
	}
	if cancelledBy != nil {
		res.CancelledBy = *cancelledBy
	}
	return &res, nil
}

func (r *PostgresReservationRepository) loadItems(ctx context.Context, q querier, reservations ...*domain.Reservation) error {
	if len(reservations) == 0 {
		return nil
	}
	byID := make(map[string]*domain.Reservation, len(reservations))
	ids := make([]string, 0, len(reservations))
	for _, res := range reservations {
		byID[res.ID] = res
		ids = append(ids, res.ID)
	}

	rows, err := q.Query(ctx, `
		SELECT id, reservation_id, resource_id, category, start_at, end_at, quantity, units, unit_price, amount
		FROM reservation_items
		WHERE reservation_id = ANY($1)
		ORDER BY start_at, resource_id`, ids)
	if err != nil {
		return fmt.Errorf("failed to query reservation items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			it       domain.ReservationItem
			category string
		)
		if err := rows.Scan(&it.ID, &it.ReservationID, &it.ResourceID, &category, &it.StartAt, &it.EndAt,
			&it.Quantity, &it.Units, &it.UnitPrice, &it.Amount); err != nil {
			return fmt.Errorf("failed to scan reservation item: %w", err)
		}
		it.Category = domain.ResourceCategory(category)
		if res, ok := byID[it.ReservationID]; ok {
			res.Items = append(res.Items, it)
		}
	}
	return rows.Err()
}

// GetByID retrieves a reservation with its items
func (r *PostgresReservationRepository) GetByID(ctx context.Context, id string) (*domain.Reservation, error) {
	return r.get(ctx, r.db.Pool(), id, false)
}

func (r *PostgresReservationRepository) get(ctx context.Context, q querier, id string, forUpdate bool) (*domain.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	res, err := scanReservation(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrReservationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}
	if err := r.loadItems(ctx, q, res); err != nil {
		return nil, err
	}
	return res, nil
}

// List returns matching reservations newest first, with the total count
func (r *PostgresReservationRepository) List(ctx context.Context, filter *domain.ReservationFilter) ([]*domain.Reservation, int, error) {
	if filter == nil {
		filter = &domain.ReservationFilter{}
	}

	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.UserID != "" {
		add("user_id = $%d", filter.UserID)
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if filter.From != nil {
		add("created_at >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("created_at < $%d", *filter.To)
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.db.Pool().QueryRow(ctx, `SELECT COUNT(*) FROM reservations`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count reservations: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit, filter.Offset)
	query := fmt.Sprintf(`SELECT %s FROM reservations%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		reservationColumns, where, len(args)-1, len(args))

	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query reservations: %w", err)
	}
	out := []*domain.Reservation{}
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			rows.Close()
			return nil, 0, fmt.Errorf("failed to scan reservation: %w", err)
		}
		out = append(out, res)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate reservations: %w", err)
	}

	if err := r.loadItems(ctx, r.db.Pool(), out...); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// ListBookedIntervals returns active items intersecting window ordered by start
func (r *PostgresReservationRepository) ListBookedIntervals(ctx context.Context, resourceID string, window domain.Interval) ([]domain.BookedInterval, error) {
	query := `
		SELECT ri.resource_id, ri.start_at, ri.end_at, r.status
		FROM reservation_items ri
		JOIN reservations r ON r.id = ri.reservation_id
		WHERE ri.active AND r.status IN ('PENDING_PAYMENT', 'CONFIRMED')
		  AND ri.start_at < $2 AND ri.end_at > $1`
	args := []any{window.Start, window.End}
	if resourceID != "" {
		query += ` AND ri.resource_id = $3`
		args = append(args, resourceID)
	}
	query += ` ORDER BY ri.start_at, ri.resource_id`

	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query booked intervals: %w", err)
	}
	defer rows.Close()

	out := []domain.BookedInterval{}
	for rows.Next() {
		var (
			b      domain.BookedInterval
			status string
		)
		if err := rows.Scan(&b.ResourceID, &b.StartAt, &b.EndAt, &status); err != nil {
			return nil, fmt.Errorf("failed to scan booked interval: %w", err)
		}
		b.Status = domain.ReservationStatus(status)
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate booked intervals: %w", err)
	}
	return out, nil
}

// HasOverlap reports whether an active item on resourceID intersects window
func (r *PostgresReservationRepository) HasOverlap(ctx context.Context, resourceID string, window domain.Interval) (bool, error) {
	var overlaps bool
	if err := r.db.Pool().QueryRow(ctx, overlapQuery, resourceID, window.Start, window.End).Scan(&overlaps); err != nil {
		return false, fmt.Errorf("failed to check overlap: %w", err)
	}
	return overlaps, nil
}

// Transition locks the reservation row, validates the change and applies it.
// Cancelling deactivates the items in the same transaction.
func (r *PostgresReservationRepository) Transition(ctx context.Context, id string, req TransitionRequest) (*domain.Reservation, error) {
	if req.At.IsZero() {
		req.At = time.Now()
	}

	var current, updated *domain.Reservation
	rejected := false
	err := r.db.InTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		var err error
		rejected = false
		current, err = r.get(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if err := checkTransition(current, req); err != nil {
			rejected = true
			return err
		}

		switch req.To {
		case domain.StatusConfirmed:
			_, err = tx.Exec(ctx, `UPDATE reservations SET status = $2, confirmed_at = $3, updated_at = $3 WHERE id = $1`,
				id, string(req.To), req.At)
		case domain.StatusCancelled:
			_, err = tx.Exec(ctx, `
				UPDATE reservations
				SET status = $2, cancelled_at = $3, updated_at = $3, cancel_reason = $4, cancelled_by = $5
				WHERE id = $1`,
				id, string(req.To), req.At, req.Reason, req.Actor)
			if err == nil {
				_, err = tx.Exec(ctx, `UPDATE reservation_items SET active = FALSE WHERE reservation_id = $1`, id)
			}
		case domain.StatusCompleted:
			_, err = tx.Exec(ctx, `UPDATE reservations SET status = $2, completed_at = $3, updated_at = $3 WHERE id = $1`,
				id, string(req.To), req.At)
		default:
			rejected = true
			return fmtTransition(current, req.To)
		}
		if err != nil {
			return fmt.Errorf("failed to update reservation status: %w", err)
		}

		updated, err = r.get(ctx, tx, id, false)
		return err
	})
	if err != nil {
		if rejected {
			return current, err
		}
		return nil, err
	}
	return updated, nil
}

// ListExpiredHolds returns PENDING_PAYMENT reservations whose hold expired by now
func (r *PostgresReservationRepository) ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]string, error) {
	return r.listIDs(ctx, `
		SELECT id FROM reservations
		WHERE status = 'PENDING_PAYMENT' AND hold_expires_at <= $1
		ORDER BY hold_expires_at
		LIMIT $2`, now, limit)
}

// ListCompletable returns CONFIRMED reservations whose last item ended by now
func (r *PostgresReservationRepository) ListCompletable(ctx context.Context, now time.Time, limit int) ([]string, error) {
	return r.listIDs(ctx, `
		SELECT r.id FROM reservations r
		WHERE r.status = 'CONFIRMED'
		  AND (SELECT MAX(ri.end_at) FROM reservation_items ri WHERE ri.reservation_id = r.id) <= $1
		ORDER BY r.confirmed_at
		LIMIT $2`, now, limit)
}

// CountUsage counts uncancelled reservations with an item starting in window
func (r *PostgresReservationRepository) CountUsage(ctx context.Context, window domain.Interval) (int, error) {
	var count int
	err := r.db.Pool().QueryRow(ctx, `
		SELECT COUNT(DISTINCT r.id)
		FROM reservations r
		JOIN reservation_items ri ON ri.reservation_id = r.id
		WHERE r.status <> 'CANCELLED'
		  AND ri.start_at >= $1 AND ri.start_at < $2`,
		window.Start, window.End,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count reservations in use: %w", err)
	}
	return count, nil
}

// DailyCounts counts reservations created in [from, to) per day in loc
func (r *PostgresReservationRepository) DailyCounts(ctx context.Context, from, to time.Time, loc *time.Location) ([]domain.DailyCount, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT to_char(created_at AT TIME ZONE $3, 'YYYY-MM-DD') AS day, COUNT(*)
		FROM reservations
		WHERE created_at >= $1 AND created_at < $2
		GROUP BY day
		ORDER BY day`,
		from, to, loc.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily reservation counts: %w", err)
	}
	defer rows.Close()

	out := []domain.DailyCount{}
	for rows.Next() {
		var (
			day   string
			count int
		)
		if err := rows.Scan(&day, &count); err != nil {
			return nil, fmt.Errorf("failed to scan daily reservation count: %w", err)
		}
		date, err := time.ParseInLocation("2006-01-02", day, loc)
		if err != nil {
			return nil, fmt.Errorf("failed to parse day %q: %w", day, err)
		}
		out = append(out, domain.DailyCount{Date: date, Count: count})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate daily reservation counts: %w", err)
	}
	return out, nil
}

func (r *PostgresReservationRepository) listIDs(ctx context.Context, query string, now time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Pool().Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query reservation ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to collect reservation ids: %w", err)
	}
	return ids, nil
}
