package enums

import "fmt"

// OrderStatus tracks an order from checkout to fulfilment.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusFailed     OrderStatus = "failed"
	OrderStatusSuccess    OrderStatus = "success"
	OrderStatusDone       OrderStatus = "done"
)

var validOrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusProcessing,
	OrderStatusFailed,
	OrderStatusSuccess,
	OrderStatusDone,
}

// orderTransitions lists the statuses an admin may move an order into.
// pending -> processing is reserved for payment reconciliation.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusFailed},
	OrderStatusProcessing: {OrderStatusSuccess, OrderStatusFailed, OrderStatusDone},
	OrderStatusSuccess:    {OrderStatusDone},
	OrderStatusFailed:     {},
	OrderStatusDone:       {},
}

func (s OrderStatus) String() string {
	return string(s)
}

func (s OrderStatus) IsValid() bool {
	for _, candidate := range validOrderStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// CanTransitionTo reports whether an admin status update from s to next is allowed.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, candidate := range orderTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

func ParseOrderStatus(value string) (OrderStatus, error) {
	for _, candidate := range validOrderStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order status %q", value)
}
