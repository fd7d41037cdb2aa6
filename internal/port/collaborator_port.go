package port

import (
	"context"

	"github.com/google/uuid"
	"github.com/nikolayk812/marketcore/internal/domain"
)

// GatewayResult carries the gateway's answer to a charge-side call.
type GatewayResult struct {
	TransactionID string
	Approved      bool
	Code          string
}

// RefundResult carries the gateway's answer to a refund call.
type RefundResult struct {
	RefundID string
	Approved bool
	Code     string
}

// Gateway abstracts the payment processor. Calls are blocking with bounded
// timeouts; a timeout means unknown outcome and must be reconciled via a
// later webhook, not treated as failure.
type Gateway interface {
	Authorize(ctx context.Context, amount domain.Money, method string) (GatewayResult, error)
	Capture(ctx context.Context, transactionID string, amount domain.Money) (GatewayResult, error)
	Refund(ctx context.Context, transactionID string, amount domain.Money) (RefundResult, error)
	Void(ctx context.Context, transactionID string) error
}

// Inventory is the catalog collaborator: reserve on placement, release on
// cancellation, decrement on confirmation.
type Inventory interface {
	Reserve(ctx context.Context, productID uuid.UUID, qty int32) error
	Release(ctx context.Context, productID uuid.UUID, qty int32) error
	Decrement(ctx context.Context, productID uuid.UUID, qty int32) error
}

// Notifier is fire-and-forget: delivery failures are logged and retried by
// the relay, never surfaced to the domain operation that emitted the intent.
type Notifier interface {
	Notify(ctx context.Context, recipient, template string, data map[string]any) error
}
