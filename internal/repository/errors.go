package repository

import (
	"fmt"

	"github.com/prohmpiriya/facility-rental/internal/domain"
)

func fmtTransition(r *domain.Reservation, to domain.ReservationStatus) error {
	return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, r.Status, to)
}

func containsSessionStatus(list []domain.PaymentSessionStatus, s domain.PaymentSessionStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
