package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nikolayk812/marketcore/internal/domain"
	"github.com/nikolayk812/marketcore/internal/metrics"
	"github.com/nikolayk812/marketcore/internal/port"
)

// Returns handles post-delivery item returns. A return is a recorded request
// on the order; approval routes its refund through the refund manager and
// closes the return once the money moved.
type Returns struct {
	tx      port.TxRunner
	refunds *RefundManager
	metrics *metrics.Reconciliation
	log     *slog.Logger

	now         func() time.Time
	maxAttempts int
}

func NewReturns(tx port.TxRunner, refunds *RefundManager, m *metrics.Reconciliation, log *slog.Logger) (*Returns, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if refunds == nil {
		return nil, fmt.Errorf("refund manager required")
	}
	if log == nil {
		log = slog.Default()
	}

	return &Returns{
		tx:          tx,
		refunds:     refunds,
		metrics:     m,
		log:         log,
		now:         time.Now,
		maxAttempts: defaultMaxAttempts,
	}, nil
}

// Request records a return request for delivered items.
func (s *Returns) Request(ctx context.Context, orderID uuid.UUID, itemIDs []uuid.UUID, reason, actor string) (domain.ReturnRequest, error) {
	var request domain.ReturnRequest

	err := retryOnConflict(ctx, s.maxAttempts, s.metrics, func() error {
		return s.tx.WithTx(ctx, func(repos port.RepositorySet) error {
			order, err := repos.Orders.GetOrder(ctx, orderID)
			if err != nil {
				return fmt.Errorf("repos.Orders.GetOrder: %w", err)
			}

			request, err = order.RequestReturn(itemIDs, reason, actor, s.now().UTC())
			if err != nil {
				return fmt.Errorf("order.RequestReturn: %w", err)
			}

			if _, err := repos.Orders.UpdateOrder(ctx, order); err != nil {
				return fmt.Errorf("repos.Orders.UpdateOrder: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		return domain.ReturnRequest{}, err
	}

	return request, nil
}

// Resolve approves or rejects a pending return. Approval immediately drives
// the refund; the return closes once the refund settles.
func (s *Returns) Resolve(ctx context.Context, orderID, returnID uuid.UUID, approved bool, actor string) (domain.ReturnRequest, error) {
	var (
		request domain.ReturnRequest
		order   domain.Order
	)

	err := retryOnConflict(ctx, s.maxAttempts, s.metrics, func() error {
		return s.tx.WithTx(ctx, func(repos port.RepositorySet) error {
			o, err := repos.Orders.GetOrder(ctx, orderID)
			if err != nil {
				return fmt.Errorf("repos.Orders.GetOrder: %w", err)
			}

			request, err = o.ResolveReturn(returnID, approved, actor, s.now().UTC())
			if err != nil {
				return fmt.Errorf("order.ResolveReturn: %w", err)
			}

			order, err = repos.Orders.UpdateOrder(ctx, o)
			if err != nil {
				return fmt.Errorf("repos.Orders.UpdateOrder: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		return domain.ReturnRequest{}, err
	}

	if !approved {
		return request, nil
	}

	payment, err := s.tx.Repos().Payments.GetPaymentByOrder(ctx, orderID)
	if err != nil {
		return request, fmt.Errorf("Payments.GetPaymentByOrder: %w", err)
	}

	refund, err := s.refunds.RequestRefund(ctx, payment.ID, request.RefundAmount, "return approved: "+request.Reason, actor)
	if err != nil {
		// the approval stands; the refund is retried administratively
		s.log.ErrorContext(ctx, "return refund failed",
			"order_id", orderID, "return_id", returnID, "error", err)
		return request, fmt.Errorf("refunds.RequestRefund: %w", err)
	}

	err = retryOnConflict(ctx, s.maxAttempts, s.metrics, func() error {
		return s.tx.WithTx(ctx, func(repos port.RepositorySet) error {
			o, err := repos.Orders.GetOrder(ctx, orderID)
			if err != nil {
				return fmt.Errorf("repos.Orders.GetOrder: %w", err)
			}

			if err := o.MarkReturnRefunded(returnID, s.now().UTC()); err != nil {
				return fmt.Errorf("order.MarkReturnRefunded: %w", err)
			}

			order, err = repos.Orders.UpdateOrder(ctx, o)
			if err != nil {
				return fmt.Errorf("repos.Orders.UpdateOrder: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		s.log.ErrorContext(ctx, "return close failed after refund",
			"order_id", orderID, "return_id", returnID, "refund_id", refund.ID, "error", err)
		return request, err
	}

	for i := range order.Returns {
		if order.Returns[i].ID == returnID {
			request = order.Returns[i]
		}
	}

	return request, nil
}
