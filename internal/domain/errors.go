package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrDuplicateEvent marks an already-applied external event.
	// Callers acknowledge it as a no-op, it is not a failure.
	ErrDuplicateEvent = errors.New("event already applied")
)

// ValidationError rejects bad input synchronously, it is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ConflictError is an optimistic-version mismatch on an aggregate write.
type ConflictError struct {
	AggregateID uuid.UUID
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("version conflict on aggregate %s", e.AggregateID)
}

// GatewayError wraps a failed or timed-out payment-gateway call.
// Unknown means the outcome could not be determined (timeout) and must be
// reconciled via a later webhook, not assumed failed.
type GatewayError struct {
	Op      string
	Unknown bool
	Err     error
}

func (e GatewayError) Error() string {
	if e.Unknown {
		return fmt.Sprintf("gateway %s: outcome unknown: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

func (e GatewayError) Unwrap() error { return e.Err }

// InvariantViolation rejects an operation that would break a domain rule,
// including transitions outside the allowed state graph. Never coerced.
type InvariantViolation struct {
	Rule   string
	Detail string
}

func (e InvariantViolation) Error() string {
	return fmt.Sprintf("%s: %s", e.Rule, e.Detail)
}

func transitionNotAllowed(kind, from, to string) InvariantViolation {
	return InvariantViolation{
		Rule:   "transition not allowed",
		Detail: fmt.Sprintf("%s %s -> %s", kind, from, to),
	}
}
