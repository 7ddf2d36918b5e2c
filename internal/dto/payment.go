package dto

import (
	"github.com/prohmpiriya/facility-rental/internal/domain"
)

// CustomerRequest is the payer forwarded to the provider checkout
type CustomerRequest struct {
	Name  string `json:"name,omitempty" binding:"max=100"`
	Email string `json:"email,omitempty" binding:"omitempty,email"`
	Phone string `json:"phone,omitempty" binding:"max=30"`
}

// ToDomain converts the request to a domain customer
func (c CustomerRequest) ToDomain() domain.Customer {
	return domain.Customer{Name: c.Name, Email: c.Email, Phone: c.Phone}
}

// CheckoutRequest represents request to open a payment session.
// The amount always comes from the stored reservation.
type CheckoutRequest struct {
	ReservationID string          `json:"reservation_id" binding:"required"`
	Customer      CustomerRequest `json:"customer"`
}

// CheckoutResponse carries what the client needs to launch the provider UI
type CheckoutResponse struct {
	SessionID        string          `json:"session_id"`
	PaymentID        string          `json:"payment_id"`
	ReservationID    string          `json:"reservation_id"`
	Amount           int64           `json:"amount"`
	Currency         string          `json:"currency"`
	OrderDescription string          `json:"order_description"`
	Customer         domain.Customer `json:"customer"`
	ClientSecret     string          `json:"client_secret"`
}

// FromSession converts a freshly opened session
func FromSession(s *domain.PaymentSession) *CheckoutResponse {
	return &CheckoutResponse{
		SessionID:        s.ID,
		PaymentID:        s.ProviderPaymentID,
		ReservationID:    s.ReservationID,
		Amount:           s.Amount,
		Currency:         s.Currency,
		OrderDescription: s.OrderDescription,
		Customer:         s.Customer,
		ClientSecret:     s.ClientSecret,
	}
}

// CompletePaymentRequest represents the client's return from the provider
type CompletePaymentRequest struct {
	PaymentID string `json:"payment_id" binding:"required"`
}

// FailPaymentRequest represents a failure reported by the provider UI
type FailPaymentRequest struct {
	PaymentID string `json:"payment_id" binding:"required"`
	Code      string `json:"code,omitempty" binding:"max=100"`
	Message   string `json:"message,omitempty" binding:"max=500"`
}
