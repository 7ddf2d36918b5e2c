package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// TypeHoldExpiry is the asynq task that releases one unpaid hold
const TypeHoldExpiry = "reservation:hold_expiry"

// HoldExpiryPayload is the task payload
type HoldExpiryPayload struct {
	ReservationID string    `json:"reservation_id"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// HoldScheduler schedules a prompt release at the end of a hold window
type HoldScheduler interface {
	ScheduleHoldExpiry(ctx context.Context, reservationID string, expiresAt time.Time) error
}

// NewHoldExpiryTask builds the one-shot expiry task for a reservation
func NewHoldExpiryTask(reservationID string, expiresAt time.Time) (*asynq.Task, []asynq.Option, error) {
	b, err := json.Marshal(HoldExpiryPayload{ReservationID: reservationID, ExpiresAt: expiresAt})
	if err != nil {
		return nil, nil, err
	}
	task := asynq.NewTask(TypeHoldExpiry, b)
	opts := []asynq.Option{
		asynq.ProcessAt(expiresAt),
		// one task per reservation; a duplicate enqueue is rejected by asynq
		asynq.TaskID("hold-expiry:" + reservationID),
		asynq.MaxRetry(5),
	}
	return task, opts, nil
}

// AsynqHoldScheduler enqueues expiry tasks through an asynq client
type AsynqHoldScheduler struct {
	client *asynq.Client
}

// NewAsynqHoldScheduler creates a scheduler on an existing client
func NewAsynqHoldScheduler(client *asynq.Client) *AsynqHoldScheduler {
	return &AsynqHoldScheduler{client: client}
}

// ScheduleHoldExpiry enqueues the task to run at expiresAt
func (s *AsynqHoldScheduler) ScheduleHoldExpiry(ctx context.Context, reservationID string, expiresAt time.Time) error {
	task, opts, err := NewHoldExpiryTask(reservationID, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to build hold expiry task: %w", err)
	}
	if _, err := s.client.EnqueueContext(ctx, task, opts...); err != nil {
		return fmt.Errorf("failed to enqueue hold expiry task: %w", err)
	}
	return nil
}

// NoOpHoldScheduler leaves expiry to the periodic sweep
type NoOpHoldScheduler struct{}

// ScheduleHoldExpiry is a no-op
func (NoOpHoldScheduler) ScheduleHoldExpiry(context.Context, string, time.Time) error {
	return nil
}
