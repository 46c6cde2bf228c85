package enums

import "fmt"

// NotificationType classifies back office notifications.
type NotificationType string

const (
	NotificationTypeOrderPaid        NotificationType = "order_paid"
	NotificationTypeDonationReceived NotificationType = "donation_received"
	NotificationTypeOrderStatus      NotificationType = "order_status"
)

var validNotificationTypes = []NotificationType{
	NotificationTypeOrderPaid,
	NotificationTypeDonationReceived,
	NotificationTypeOrderStatus,
}

// IsValid checks whether the given type matches the canonical enum.
func (n NotificationType) IsValid() bool {
	for _, candidate := range validNotificationTypes {
		if candidate == n {
			return true
		}
	}
	return false
}

// ParseNotificationType converts raw strings into NotificationType.
func ParseNotificationType(value string) (NotificationType, error) {
	for _, candidate := range validNotificationTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification type %q", value)
}
