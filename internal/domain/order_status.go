package domain

import "errors"

type OrderStatus string

// remember to add new statuses to the validOrderStatuses map
// and to the orderTransitions graph
const (
	OrderStatusPending           OrderStatus = "pending"
	OrderStatusPaymentFailed     OrderStatus = "payment_failed"
	OrderStatusPaymentConfirmed  OrderStatus = "payment_confirmed"
	OrderStatusProcessing        OrderStatus = "processing"
	OrderStatusReady             OrderStatus = "ready"
	OrderStatusShipped           OrderStatus = "shipped"
	OrderStatusOutForDelivery    OrderStatus = "out_for_delivery"
	OrderStatusDelivered         OrderStatus = "delivered"
	OrderStatusCompleted         OrderStatus = "completed"
	OrderStatusCancelled         OrderStatus = "cancelled"
	OrderStatusRefunded          OrderStatus = "refunded"
	OrderStatusPartiallyRefunded OrderStatus = "partially_refunded"
	OrderStatusDisputed          OrderStatus = "disputed"
)

var validOrderStatuses = map[OrderStatus]struct{}{
	OrderStatusPending:           {},
	OrderStatusPaymentFailed:     {},
	OrderStatusPaymentConfirmed:  {},
	OrderStatusProcessing:        {},
	OrderStatusReady:             {},
	OrderStatusShipped:           {},
	OrderStatusOutForDelivery:    {},
	OrderStatusDelivered:         {},
	OrderStatusCompleted:         {},
	OrderStatusCancelled:         {},
	OrderStatusRefunded:          {},
	OrderStatusPartiallyRefunded: {},
	OrderStatusDisputed:          {},
}

// orderTransitions is the allowed state graph. Refund statuses are pushed
// only by the refund manager based on the refunded ratio; `completed` stays
// reachable to them because returns may still be refunded after completion.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending: {
		OrderStatusPaymentConfirmed, OrderStatusPaymentFailed, OrderStatusCancelled,
	},
	OrderStatusPaymentFailed: {
		OrderStatusPaymentConfirmed, OrderStatusCancelled,
	},
	OrderStatusPaymentConfirmed: {
		OrderStatusProcessing, OrderStatusCancelled, OrderStatusDisputed,
		OrderStatusRefunded, OrderStatusPartiallyRefunded,
	},
	OrderStatusProcessing: {
		OrderStatusReady, OrderStatusCancelled, OrderStatusDisputed,
		OrderStatusRefunded, OrderStatusPartiallyRefunded,
	},
	OrderStatusReady: {
		OrderStatusShipped, OrderStatusDisputed,
		OrderStatusRefunded, OrderStatusPartiallyRefunded,
	},
	OrderStatusShipped: {
		OrderStatusShipped, OrderStatusOutForDelivery, OrderStatusDelivered, OrderStatusDisputed,
		OrderStatusRefunded, OrderStatusPartiallyRefunded,
	},
	OrderStatusOutForDelivery: {
		OrderStatusDelivered, OrderStatusDisputed,
		OrderStatusRefunded, OrderStatusPartiallyRefunded,
	},
	OrderStatusDelivered: {
		OrderStatusCompleted, OrderStatusDisputed,
		OrderStatusRefunded, OrderStatusPartiallyRefunded,
	},
	OrderStatusCompleted: {
		OrderStatusRefunded, OrderStatusPartiallyRefunded,
	},
	OrderStatusPartiallyRefunded: {
		OrderStatusRefunded, OrderStatusDisputed,
	},
	OrderStatusDisputed: {
		OrderStatusRefunded, OrderStatusPartiallyRefunded, OrderStatusCompleted,
	},
	OrderStatusCancelled: {},
	OrderStatusRefunded:  {},
}

func ToOrderStatus(s string) (OrderStatus, error) {
	status := OrderStatus(s)
	if _, ok := validOrderStatuses[status]; ok {
		return status, nil
	}

	return "", errors.New("invalid order status")
}

func OrderStatuses() []OrderStatus {
	result := make([]OrderStatus, 0, len(validOrderStatuses))
	for status := range validOrderStatuses {
		result = append(result, status)
	}
	return result
}

func (s OrderStatus) CanTransitionTo(target OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are accepted.
// Completed is terminal except for returns processing, which may still
// push the refund statuses.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCancelled || s == OrderStatusRefunded || s == OrderStatusCompleted
}
