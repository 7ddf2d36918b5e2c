package domain

import (
	"errors"
	"fmt"
	"time"
)

// Domain errors
var (
	// Catalog errors
	ErrResourceNotFound = errors.New("resource not found")
	ErrResourceInactive = errors.New("resource is not bookable")

	// Schedule errors
	ErrRuleNotFound    = errors.New("schedule rule not found")
	ErrHolidayNotFound = errors.New("holiday not found")
	ErrConflictingRule = errors.New("an opposite rule already covers this scope and interval")

	// Reservation errors
	ErrReservationNotFound = errors.New("reservation not found")
	ErrSlotConflict        = errors.New("requested slot is already booked")
	ErrValidation          = errors.New("validation failed")
	ErrStaleState          = errors.New("reservation is already in a terminal state")
	ErrInvalidTransition   = errors.New("invalid reservation status transition")
	ErrNotOwner            = errors.New("reservation belongs to another user")

	// Payment errors
	ErrPaymentSessionNotFound = errors.New("payment session not found")
	ErrCheckoutInProgress     = errors.New("a checkout is already in progress for this reservation")
	ErrPaymentFailed          = errors.New("payment failed, please retry")
	ErrAmountMismatch         = errors.New("captured amount does not match reservation total")
	ErrPaymentNotCaptured     = errors.New("payment was not captured")
)

// ConflictError names the first requested item that overlaps an active booking
type ConflictError struct {
	Index      int
	ResourceID string
	StartAt    time.Time
	EndAt      time.Time
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("slot conflict on resource %s for %s - %s",
		e.ResourceID, e.StartAt.Format(time.RFC3339), e.EndAt.Format(time.RFC3339))
}

// Is matches ErrSlotConflict
func (e *ConflictError) Is(target error) bool {
	return target == ErrSlotConflict
}

// ValidationError is a malformed request rejected before persistence
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + ": " + e.Reason
}

// Is matches ErrValidation
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// PaymentProviderError is a failure reported by or while calling the provider
type PaymentProviderError struct {
	Provider  string
	Code      string
	Transient bool
	Err       error
}

func (e *PaymentProviderError) Error() string {
	kind := "terminal"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("%s payment provider error (%s, code=%s): %v", e.Provider, kind, e.Code, e.Err)
}

func (e *PaymentProviderError) Unwrap() error { return e.Err }

// Is matches ErrPaymentFailed
func (e *PaymentProviderError) Is(target error) bool {
	return target == ErrPaymentFailed
}

// AmountMismatchError is a capture whose amount differs from the stored total
type AmountMismatchError struct {
	Expected int64
	Actual   int64
}

func (e *AmountMismatchError) Error() string {
	return fmt.Sprintf("amount mismatch: expected %d, captured %d", e.Expected, e.Actual)
}

// Is matches ErrAmountMismatch and ErrPaymentFailed
func (e *AmountMismatchError) Is(target error) bool {
	return target == ErrAmountMismatch || target == ErrPaymentFailed
}

// StaleStateError is an operation on a reservation already in a terminal state
type StaleStateError struct {
	ReservationID string
	Status        ReservationStatus
}

func (e *StaleStateError) Error() string {
	return fmt.Sprintf("reservation %s is already %s", e.ReservationID, e.Status)
}

// Is matches ErrStaleState
func (e *StaleStateError) Is(target error) bool {
	return target == ErrStaleState
}

// SagaStage names the payment saga step that failed
type SagaStage string

const (
	StageCreate   SagaStage = "CREATE"
	StageCheckout SagaStage = "CHECKOUT"
	StagePayment  SagaStage = "PAYMENT"
	StageVerify   SagaStage = "VERIFY"
	StageConfirm  SagaStage = "CONFIRM"
)

// SagaError wraps the cause of a failed payment saga
type SagaError struct {
	Stage         SagaStage
	ReservationID string
	Err           error
	// CompensationFailed is set when cancelling or refunding also failed
	CompensationFailed bool
}

func (e *SagaError) Error() string {
	return fmt.Sprintf("payment saga failed at %s: %v", e.Stage, e.Err)
}

func (e *SagaError) Unwrap() error { return e.Err }

// IsNotFoundError checks if the error is a not found error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrResourceNotFound) ||
		errors.Is(err, ErrReservationNotFound) ||
		errors.Is(err, ErrPaymentSessionNotFound) ||
		errors.Is(err, ErrRuleNotFound) ||
		errors.Is(err, ErrHolidayNotFound)
}

// IsValidationError checks if the error is a validation error
func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrResourceInactive)
}

// IsConflictError checks if the error is a conflict error
func IsConflictError(err error) bool {
	return errors.Is(err, ErrSlotConflict) ||
		errors.Is(err, ErrCheckoutInProgress) ||
		errors.Is(err, ErrConflictingRule) ||
		errors.Is(err, ErrInvalidTransition)
}

// IsPaymentError checks if the error is a payment or amount failure
func IsPaymentError(err error) bool {
	return errors.Is(err, ErrPaymentFailed) ||
		errors.Is(err, ErrAmountMismatch) ||
		errors.Is(err, ErrPaymentNotCaptured)
}
