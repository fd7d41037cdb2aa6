package domain

import "errors"

type PaymentStatus string

// remember to add new statuses to the validPaymentStatuses map
// and to the paymentTransitions graph
const (
	PaymentStatusPending           PaymentStatus = "pending"
	PaymentStatusProcessing        PaymentStatus = "processing"
	PaymentStatusAuthorized        PaymentStatus = "authorized"
	PaymentStatusCaptured          PaymentStatus = "captured"
	PaymentStatusCompleted         PaymentStatus = "completed"
	PaymentStatusFailed            PaymentStatus = "failed"
	PaymentStatusCancelled         PaymentStatus = "cancelled"
	PaymentStatusExpired           PaymentStatus = "expired"
	PaymentStatusRefunded          PaymentStatus = "refunded"
	PaymentStatusPartiallyRefunded PaymentStatus = "partially_refunded"
	PaymentStatusDisputed          PaymentStatus = "disputed"
)

var validPaymentStatuses = map[PaymentStatus]struct{}{
	PaymentStatusPending:           {},
	PaymentStatusProcessing:        {},
	PaymentStatusAuthorized:        {},
	PaymentStatusCaptured:          {},
	PaymentStatusCompleted:         {},
	PaymentStatusFailed:            {},
	PaymentStatusCancelled:         {},
	PaymentStatusExpired:           {},
	PaymentStatusRefunded:          {},
	PaymentStatusPartiallyRefunded: {},
	PaymentStatusDisputed:          {},
}

// paymentTransitions is the allowed state graph. Instant-capture methods may
// jump straight from pending/processing to completed when the gateway
// reports success in a single webhook.
var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending: {
		PaymentStatusProcessing, PaymentStatusAuthorized, PaymentStatusCompleted,
		PaymentStatusFailed, PaymentStatusCancelled, PaymentStatusExpired,
	},
	PaymentStatusProcessing: {
		PaymentStatusAuthorized, PaymentStatusCompleted,
		PaymentStatusFailed, PaymentStatusCancelled, PaymentStatusExpired,
	},
	PaymentStatusAuthorized: {
		PaymentStatusCaptured,
		PaymentStatusFailed, PaymentStatusCancelled, PaymentStatusExpired,
	},
	PaymentStatusCaptured: {
		PaymentStatusCompleted, PaymentStatusFailed,
	},
	PaymentStatusCompleted: {
		PaymentStatusRefunded, PaymentStatusPartiallyRefunded, PaymentStatusDisputed,
	},
	PaymentStatusPartiallyRefunded: {
		PaymentStatusRefunded, PaymentStatusDisputed,
	},
	PaymentStatusDisputed: {
		PaymentStatusCompleted, PaymentStatusRefunded, PaymentStatusPartiallyRefunded,
	},
	PaymentStatusFailed: {
		// a retried payment attempt reuses the aggregate
		PaymentStatusPending,
	},
	PaymentStatusCancelled: {},
	PaymentStatusExpired:   {},
	PaymentStatusRefunded:  {},
}

func ToPaymentStatus(s string) (PaymentStatus, error) {
	status := PaymentStatus(s)
	if _, ok := validPaymentStatuses[status]; ok {
		return status, nil
	}

	return "", errors.New("invalid payment status")
}

func (s PaymentStatus) CanTransitionTo(target PaymentStatus) bool {
	for _, allowed := range paymentTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// preCapture reports whether a void is still permitted.
func (s PaymentStatus) preCapture() bool {
	return s == PaymentStatusPending || s == PaymentStatusProcessing || s == PaymentStatusAuthorized
}
