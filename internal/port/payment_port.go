package port

import (
	"context"

	"github.com/google/uuid"
	"github.com/nikolayk812/marketcore/internal/domain"
)

type PaymentRepository interface {
	GetPayment(ctx context.Context, paymentID uuid.UUID) (domain.Payment, error)
	GetPaymentByOrder(ctx context.Context, orderID uuid.UUID) (domain.Payment, error)
	GetPaymentByGatewayTx(ctx context.Context, gatewayTxID string) (domain.Payment, error)

	InsertPayment(ctx context.Context, payment domain.Payment) error

	// UpdatePayment persists the aggregate only if payment.Version still
	// matches the stored row, returning domain.ConflictError when stale.
	UpdatePayment(ctx context.Context, payment domain.Payment) (domain.Payment, error)
}
