package enums

import "fmt"

// WebhookEventStatus is the persisted state of a ledger row:
// received -> applying -> applied | failed, or received -> ignored.
type WebhookEventStatus string

const (
	WebhookEventStatusReceived WebhookEventStatus = "received"
	WebhookEventStatusApplying WebhookEventStatus = "applying"
	WebhookEventStatusApplied  WebhookEventStatus = "applied"
	WebhookEventStatusFailed   WebhookEventStatus = "failed"
	WebhookEventStatusIgnored  WebhookEventStatus = "ignored"
)

var validWebhookEventStatuses = []WebhookEventStatus{
	WebhookEventStatusReceived,
	WebhookEventStatusApplying,
	WebhookEventStatusApplied,
	WebhookEventStatusFailed,
	WebhookEventStatusIgnored,
}

func (s WebhookEventStatus) IsValid() bool {
	for _, candidate := range validWebhookEventStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether redelivery of the event must be a no-op.
func (s WebhookEventStatus) IsTerminal() bool {
	return s == WebhookEventStatusApplied || s == WebhookEventStatusIgnored
}

func ParseWebhookEventStatus(value string) (WebhookEventStatus, error) {
	for _, candidate := range validWebhookEventStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid webhook event status %q", value)
}
