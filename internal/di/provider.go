package di

import (
	"fmt"

	"github.com/prohmpiriya/facility-rental/internal/gateway"
	"github.com/prohmpiriya/facility-rental/pkg/config"
)

// NewPaymentProvider builds the configured provider wrapped with tracing and metrics
func NewPaymentProvider(cfg *config.PaymentConfig) (gateway.PaymentProvider, error) {
	switch cfg.Provider {
	case "stripe":
		p, err := gateway.NewStripeProvider(&gateway.StripeProviderConfig{
			SecretKey:    cfg.StripeSecretKey,
			PollInterval: cfg.PollInterval,
		})
		if err != nil {
			return nil, err
		}
		return gateway.WithInstrumentation(p), nil
	case "mock", "":
		return gateway.WithInstrumentation(gateway.NewMockProvider(&gateway.MockProviderConfig{
			AutoCapture:  true,
			DelayMs:      100,
			PollInterval: cfg.PollInterval,
		})), nil
	default:
		return nil, fmt.Errorf("unknown payment provider %q", cfg.Provider)
	}
}
