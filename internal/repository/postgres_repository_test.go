package repository

import (
	"context"
	"errors"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/facility-rental/internal/domain"
	"github.com/prohmpiriya/facility-rental/migrations"
	"github.com/prohmpiriya/facility-rental/pkg/database"
)

func skipIfNoIntegration(t *testing.T) {
	t.Helper()
	if os.Getenv("TEST_POSTGRES_HOST") == "" {
		t.Skip("Skipping integration test: TEST_POSTGRES_HOST not set")
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// getPostgresDB connects to the test database and applies migrations
func getPostgresDB(t *testing.T) *database.PostgresDB {
	skipIfNoIntegration(t)

	port, _ := strconv.Atoi(envOr("TEST_POSTGRES_PORT", "5432"))
	cfg := database.DefaultPostgresConfig()
	cfg.Host = envOr("TEST_POSTGRES_HOST", "localhost")
	cfg.Port = port
	cfg.User = envOr("TEST_POSTGRES_USER", "postgres")
	cfg.Password = envOr("TEST_POSTGRES_PASSWORD", "postgres")
	cfg.Database = envOr("TEST_POSTGRES_DB", "facility_rental_test")
	cfg.MaxRetries = 0

	ctx := context.Background()
	db, err := database.NewPostgres(ctx, cfg)
	if err != nil {
		t.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	if err := db.Migrate(ctx, migrations.FS, "."); err != nil {
		db.Close()
		t.Fatalf("Failed to migrate: %v", err)
	}
	return db
}

// seedResource inserts a throwaway resource and removes it with its bookings afterwards
func seedResource(t *testing.T, db *database.PostgresDB, unit domain.BookingUnit) string {
	ctx := context.Background()
	id := "test-" + uuid.New().String()
	_, err := db.Pool().Exec(ctx, `
		INSERT INTO resources (id, name, category, booking_unit, price_per_unit)
		VALUES ($1, $2, 'SPACE', $3, 60000)`, id, "Test "+id, string(unit))
	require.NoError(t, err)

	t.Cleanup(func() {
		pool := db.Pool()
		if _, err := pool.Exec(ctx, `
			DELETE FROM reservations WHERE id IN (
				SELECT reservation_id FROM reservation_items WHERE resource_id = $1
			)`, id); err != nil {
			t.Logf("Warning: failed to clean up reservations: %v", err)
		}
		if _, err := pool.Exec(ctx, `DELETE FROM schedule_rules WHERE resource_id = $1`, id); err != nil {
			t.Logf("Warning: failed to clean up rules: %v", err)
		}
		if _, err := pool.Exec(ctx, `DELETE FROM resources WHERE id = $1`, id); err != nil {
			t.Logf("Warning: failed to clean up resource: %v", err)
		}
	})
	return id
}

func TestPostgresReservationRepository_CreateHeldConflict(t *testing.T) {
	db := getPostgresDB(t)
	defer db.Close()

	ctx := context.Background()
	repo := NewPostgresReservationRepository(db)
	roomID := seedResource(t, db, domain.UnitTime)

	first := heldReservation("user-1", item(roomID, at(10, 0), at(12, 0)))
	require.NoError(t, repo.CreateHeld(ctx, first))

	got, err := repo.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingPayment, got.Status)
	require.Len(t, got.Items, 1)
	assert.True(t, got.Items[0].StartAt.Equal(at(10, 0)))

	second := heldReservation("user-2", item(roomID, at(11, 0), at(13, 0)))
	err = repo.CreateHeld(ctx, second)
	var conflict *domain.ConflictError
	require.True(t, errors.As(err, &conflict), "got %v", err)
	assert.Equal(t, 0, conflict.Index)

	_, err = repo.GetByID(ctx, second.ID)
	assert.ErrorIs(t, err, domain.ErrReservationNotFound)
}

func TestPostgresReservationRepository_ConcurrentCreateBooksOnce(t *testing.T) {
	db := getPostgresDB(t)
	defer db.Close()

	ctx := context.Background()
	repo := NewPostgresReservationRepository(db)
	roomID := seedResource(t, db, domain.UnitTime)

	const attempts = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := heldReservation("user-x", item(roomID, at(14, 0), at(15, 0)))
			err := repo.CreateHeld(ctx, res)
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, domain.ErrSlotConflict)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
}

func TestPostgresReservationRepository_TransitionReleasesItems(t *testing.T) {
	db := getPostgresDB(t)
	defer db.Close()

	ctx := context.Background()
	repo := NewPostgresReservationRepository(db)
	roomID := seedResource(t, db, domain.UnitTime)

	res := heldReservation("user-1", item(roomID, at(10, 0), at(11, 0)))
	require.NoError(t, repo.CreateHeld(ctx, res))

	cancelled, err := repo.Transition(ctx, res.ID, TransitionRequest{
		To:     domain.StatusCancelled,
		Actor:  "user-1",
		Reason: "no longer needed",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, cancelled.Status)
	assert.Equal(t, "no longer needed", cancelled.CancelReason)

	_, err = repo.Transition(ctx, res.ID, TransitionRequest{To: domain.StatusCancelled})
	assert.ErrorIs(t, err, domain.ErrStaleState)

	busy, err := repo.HasOverlap(ctx, roomID, domain.Interval{Start: at(10, 0), End: at(11, 0)})
	require.NoError(t, err)
	assert.False(t, busy)

	again := heldReservation("user-2", item(roomID, at(10, 0), at(11, 0)))
	assert.NoError(t, repo.CreateHeld(ctx, again))
}

func TestPostgresPaymentRepository_ActiveSessionUnique(t *testing.T) {
	db := getPostgresDB(t)
	defer db.Close()

	ctx := context.Background()
	reservations := NewPostgresReservationRepository(db)
	payments := NewPostgresPaymentRepository(db)
	roomID := seedResource(t, db, domain.UnitTime)

	res := heldReservation("user-1", item(roomID, at(16, 0), at(17, 0)))
	require.NoError(t, reservations.CreateHeld(ctx, res))

	now := time.Now()
	session := &domain.PaymentSession{
		ID:                uuid.New().String(),
		ReservationID:     res.ID,
		Provider:          "mock",
		ProviderPaymentID: "pi_" + uuid.New().String(),
		Status:            domain.SessionInitiated,
		Amount:            res.TotalAmount,
		Currency:          "KRW",
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	require.NoError(t, payments.Create(ctx, session))

	dup := *session
	dup.ID = uuid.New().String()
	dup.ProviderPaymentID = "pi_" + uuid.New().String()
	assert.ErrorIs(t, payments.Create(ctx, &dup), domain.ErrCheckoutInProgress)

	failed, err := payments.UpdateStatus(ctx, session.ID,
		[]domain.PaymentSessionStatus{domain.SessionInitiated}, domain.SessionFailed,
		SessionUpdate{FailureCode: "card_declined", FailureReason: "declined"})
	require.NoError(t, err)
	assert.Equal(t, "card_declined", failed.FailureCode)

	_, err = payments.UpdateStatus(ctx, session.ID,
		[]domain.PaymentSessionStatus{domain.SessionInitiated}, domain.SessionCaptured, SessionUpdate{})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	// once failed, a new checkout may start
	assert.NoError(t, payments.Create(ctx, &dup))
}

func TestPostgresResourceRepository_DefaultHours(t *testing.T) {
	db := getPostgresDB(t)
	defer db.Close()

	ctx := context.Background()
	repo := NewPostgresResourceRepository(db, &domain.OperatingHours{OpenMinute: 7 * 60, CloseMinute: 23 * 60})
	roomID := seedResource(t, db, domain.UnitTime)

	hours, err := repo.GetOperatingHours(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, roomID, hours.ResourceID)
	assert.Equal(t, 7*60, hours.OpenMinute)
	assert.Equal(t, 23*60, hours.CloseMinute)

	_, err = repo.GetOperatingHours(ctx, "missing-"+uuid.New().String())
	assert.ErrorIs(t, err, domain.ErrResourceNotFound)
}

func TestPostgresReservationRepository_DashboardQueries(t *testing.T) {
	db := getPostgresDB(t)
	defer db.Close()

	ctx := context.Background()
	repo := NewPostgresReservationRepository(db)
	roomID := seedResource(t, db, domain.UnitTime)

	day := domain.DayInterval(at(12, 0), seoul)
	today := domain.DayInterval(time.Now(), seoul)
	usageBefore, err := repo.CountUsage(ctx, day)
	require.NoError(t, err)
	createdBefore := createdOn(t, repo, today)

	kept := heldReservation("user-1", item(roomID, at(18, 0), at(19, 0)))
	require.NoError(t, repo.CreateHeld(ctx, kept))
	dropped := heldReservation("user-1", item(roomID, at(19, 0), at(20, 0)))
	require.NoError(t, repo.CreateHeld(ctx, dropped))
	_, err = repo.Transition(ctx, dropped.ID, TransitionRequest{To: domain.StatusCancelled})
	require.NoError(t, err)

	usage, err := repo.CountUsage(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, usageBefore+1, usage)
	assert.Equal(t, createdBefore+2, createdOn(t, repo, today))
}

func createdOn(t *testing.T, repo *PostgresReservationRepository, day domain.Interval) int {
	t.Helper()
	counts, err := repo.DailyCounts(context.Background(), day.Start, day.End, seoul)
	require.NoError(t, err)
	if len(counts) == 0 {
		return 0
	}
	require.Len(t, counts, 1)
	assert.True(t, counts[0].Date.Equal(day.Start))
	return counts[0].Count
}
