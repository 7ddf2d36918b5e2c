package domain

import (
	"time"
)

// PaymentSessionStatus tracks a provider checkout
type PaymentSessionStatus string

const (
	SessionInitiated PaymentSessionStatus = "INITIATED"
	SessionCaptured  PaymentSessionStatus = "CAPTURED"
	SessionFailed    PaymentSessionStatus = "FAILED"
	SessionRefunded  PaymentSessionStatus = "REFUNDED"
)

// IsActive reports whether the session blocks another checkout
func (s PaymentSessionStatus) IsActive() bool {
	return s == SessionInitiated || s == SessionCaptured
}

// Customer is forwarded to the provider checkout
type Customer struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// PaymentSession is one provider checkout for a reservation
type PaymentSession struct {
	ID                string               `json:"id"`
	ReservationID     string               `json:"reservation_id"`
	Provider          string               `json:"provider"`
	ProviderPaymentID string               `json:"provider_payment_id"`
	Status            PaymentSessionStatus `json:"status"`
	Amount            int64                `json:"amount"`
	Currency          string               `json:"currency"`
	OrderDescription  string               `json:"order_description"`
	Customer          Customer             `json:"customer"`
	ClientSecret      string               `json:"-"`
	FailureCode       string               `json:"failure_code,omitempty"`
	FailureReason     string               `json:"failure_reason,omitempty"`
	CreatedAt         time.Time            `json:"created_at"`
	UpdatedAt         time.Time            `json:"updated_at"`
	CapturedAt        *time.Time           `json:"captured_at,omitempty"`
}

// Receipt is returned once a reservation is paid and confirmed
type Receipt struct {
	SessionID         string    `json:"session_id"`
	ProviderPaymentID string    `json:"provider_payment_id"`
	Amount            int64     `json:"amount"`
	Currency          string    `json:"currency"`
	CapturedAt        time.Time `json:"captured_at"`
}
