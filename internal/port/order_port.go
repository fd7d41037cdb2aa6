package port

import (
	"context"

	"github.com/google/uuid"
	"github.com/nikolayk812/marketcore/internal/domain"
)

type OrderRepository interface {
	GetOrder(ctx context.Context, orderID uuid.UUID) (domain.Order, error)
	GetOrderByNumber(ctx context.Context, number string) (domain.Order, error)

	InsertOrder(ctx context.Context, order domain.Order) error

	// UpdateOrder persists the aggregate only if order.Version still matches
	// the stored row, returning domain.ConflictError on a stale version.
	UpdateOrder(ctx context.Context, order domain.Order) (domain.Order, error)

	SoftDeleteOrder(ctx context.Context, orderID uuid.UUID) error
}
