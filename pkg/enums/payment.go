package enums

import (
	"fmt"
	"strings"
)

// PaymentStatus is the internal vocabulary every gateway status is mapped into.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

var validPaymentStatuses = []PaymentStatus{
	PaymentStatusPending,
	PaymentStatusCompleted,
	PaymentStatusFailed,
	PaymentStatusRefunded,
}

func (s PaymentStatus) IsValid() bool {
	for _, candidate := range validPaymentStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

func ParsePaymentStatus(value string) (PaymentStatus, error) {
	for _, candidate := range validPaymentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment status %q", value)
}

// PaymentGateway names a hosted checkout provider.
type PaymentGateway string

const (
	PaymentGatewayStripe PaymentGateway = "stripe"
	PaymentGatewayPayPal PaymentGateway = "paypal"
)

func (g PaymentGateway) IsValid() bool {
	return g == PaymentGatewayStripe || g == PaymentGatewayPayPal
}

// ParsePaymentGateway accepts any casing.
func ParsePaymentGateway(value string) (PaymentGateway, error) {
	g := PaymentGateway(strings.ToLower(strings.TrimSpace(value)))
	if !g.IsValid() {
		return "", fmt.Errorf("invalid payment gateway %q", value)
	}
	return g, nil
}
