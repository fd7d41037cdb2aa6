package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/nikolayk812/marketcore/internal/domain"
	"github.com/nikolayk812/marketcore/internal/metrics"
	"github.com/nikolayk812/marketcore/internal/port"
)

// RefundManager orchestrates partial/full refunds and the dispute
// lifecycle against a payment, enforcing the conservation rules: completed
// refunds never exceed the collected amount and an open dispute freezes all
// new refunds.
type RefundManager struct {
	tx      port.TxRunner
	gateway port.Gateway
	metrics *metrics.Reconciliation
	log     *slog.Logger

	now            func() time.Time
	maxAttempts    int
	gatewayTimeout time.Duration
}

func NewRefundManager(tx port.TxRunner, gateway port.Gateway, m *metrics.Reconciliation, log *slog.Logger) (*RefundManager, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if gateway == nil {
		return nil, fmt.Errorf("gateway required")
	}
	if log == nil {
		log = slog.Default()
	}

	return &RefundManager{
		tx:             tx,
		gateway:        gateway,
		metrics:        m,
		log:            log,
		now:            time.Now,
		maxAttempts:    defaultMaxAttempts,
		gatewayTimeout: defaultGatewayTimeout,
	}, nil
}

// RequestRefund records a pending refund, settles it at the gateway and
// derives the payment's and order's refund-ratio statuses. Validation
// failures (amount, dispute freeze) reject synchronously without touching
// any state.
func (m *RefundManager) RequestRefund(ctx context.Context, paymentID uuid.UUID, amount domain.Money, reason, actor string) (domain.Refund, error) {
	var (
		refund  domain.Refund
		payment domain.Payment
	)

	err := retryOnConflict(ctx, m.maxAttempts, m.metrics, func() error {
		return m.tx.WithTx(ctx, func(repos port.RepositorySet) error {
			p, err := repos.Payments.GetPayment(ctx, paymentID)
			if err != nil {
				return fmt.Errorf("repos.Payments.GetPayment: %w", err)
			}

			refund, err = p.AddRefund(amount, reason, actor, m.now().UTC())
			if err != nil {
				return fmt.Errorf("p.AddRefund: %w", err)
			}

			payment, err = repos.Payments.UpdatePayment(ctx, p)
			if err != nil {
				return fmt.Errorf("repos.Payments.UpdatePayment: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		return domain.Refund{}, err
	}

	return m.settleRefund(ctx, payment, refund.ID)
}

// ProcessRefund re-drives an existing refund. Re-invoking for a refund id
// that already completed is a no-op returning the prior result, never a
// double refund.
func (m *RefundManager) ProcessRefund(ctx context.Context, paymentID, refundID uuid.UUID) (domain.Refund, error) {
	payment, err := m.tx.Repos().Payments.GetPayment(ctx, paymentID)
	if err != nil {
		return domain.Refund{}, fmt.Errorf("Payments.GetPayment: %w", err)
	}

	refund, err := payment.RefundByID(refundID)
	if err != nil {
		return domain.Refund{}, fmt.Errorf("payment.RefundByID: %w", err)
	}
	if refund.Status != domain.RefundStatusPending {
		return *refund, nil
	}

	return m.settleRefund(ctx, payment, refundID)
}

func (m *RefundManager) settleRefund(ctx context.Context, payment domain.Payment, refundID uuid.UUID) (domain.Refund, error) {
	pending, err := payment.RefundByID(refundID)
	if err != nil {
		return domain.Refund{}, fmt.Errorf("payment.RefundByID: %w", err)
	}
	if pending.Status == domain.RefundStatusCompleted {
		return *pending, nil
	}

	gctx, cancel := context.WithTimeout(ctx, m.gatewayTimeout)
	defer cancel()

	result, gwErr := m.gateway.Refund(gctx, lo.FromPtr(payment.GatewayTxID), pending.Amount)
	if gwErr != nil {
		m.metrics.IncGatewayFailure("refund")

		if errors.Is(gwErr, context.DeadlineExceeded) {
			// unknown outcome: leave the refund pending for webhook reconciliation
			return *pending, domain.GatewayError{Op: "refund", Unknown: true, Err: gwErr}
		}

		refund, err := m.failRefund(ctx, payment.ID, refundID, gwErr.Error())
		if err != nil {
			return domain.Refund{}, err
		}
		return refund, domain.GatewayError{Op: "refund", Err: gwErr}
	}

	if !result.Approved {
		refund, err := m.failRefund(ctx, payment.ID, refundID, "declined: "+result.Code)
		if err != nil {
			return domain.Refund{}, err
		}
		return refund, domain.GatewayError{Op: "refund", Err: errors.New("declined: " + result.Code)}
	}

	return m.completeRefund(ctx, payment.ID, refundID, result.RefundID)
}

func (m *RefundManager) completeRefund(ctx context.Context, paymentID, refundID uuid.UUID, gatewayRefundID string) (domain.Refund, error) {
	var (
		refund  domain.Refund
		payment domain.Payment
	)

	err := retryOnConflict(ctx, m.maxAttempts, m.metrics, func() error {
		return m.tx.WithTx(ctx, func(repos port.RepositorySet) error {
			p, err := repos.Payments.GetPayment(ctx, paymentID)
			if err != nil {
				return fmt.Errorf("repos.Payments.GetPayment: %w", err)
			}

			refund, err = p.CompleteRefund(refundID, gatewayRefundID, "gateway", m.now().UTC())
			if err != nil {
				return fmt.Errorf("p.CompleteRefund: %w", err)
			}

			payment, err = repos.Payments.UpdatePayment(ctx, p)
			if err != nil {
				return fmt.Errorf("repos.Payments.UpdatePayment: %w", err)
			}

			effects := []domain.Effect{{
				Type:      domain.EffectNotify,
				OrderID:   payment.OrderID,
				PaymentID: payment.ID,
				Recipient: "buyer",
				Template:  "refund_completed",
				Amount:    &refund.Amount,
			}}
			if err := repos.Effects.Enqueue(ctx, effects); err != nil {
				return fmt.Errorf("repos.Effects.Enqueue: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		return domain.Refund{}, err
	}

	m.syncOrderAfterRefund(ctx, payment)

	m.log.InfoContext(ctx, "refund completed",
		"payment_id", payment.ID, "refund_id", refund.ID, "amount", refund.Amount.String())

	return refund, nil
}

func (m *RefundManager) failRefund(ctx context.Context, paymentID, refundID uuid.UUID, note string) (domain.Refund, error) {
	var refund domain.Refund

	err := retryOnConflict(ctx, m.maxAttempts, m.metrics, func() error {
		return m.tx.WithTx(ctx, func(repos port.RepositorySet) error {
			p, err := repos.Payments.GetPayment(ctx, paymentID)
			if err != nil {
				return fmt.Errorf("repos.Payments.GetPayment: %w", err)
			}

			refund, err = p.FailRefund(refundID, note, m.now().UTC())
			if err != nil {
				return fmt.Errorf("p.FailRefund: %w", err)
			}

			if _, err := repos.Payments.UpdatePayment(ctx, p); err != nil {
				return fmt.Errorf("repos.Payments.UpdatePayment: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		return domain.Refund{}, err
	}

	return refund, nil
}

// syncOrderAfterRefund is the dependent cross-aggregate step: the payment
// commit stands regardless; a failure here is logged and flagged for
// manual reconciliation instead of rolling anything back.
func (m *RefundManager) syncOrderAfterRefund(ctx context.Context, payment domain.Payment) {
	err := retryOnConflict(ctx, m.maxAttempts, m.metrics, func() error {
		return m.tx.WithTx(ctx, func(repos port.RepositorySet) error {
			order, err := repos.Orders.GetOrder(ctx, payment.OrderID)
			if err != nil {
				return fmt.Errorf("repos.Orders.GetOrder: %w", err)
			}

			now := m.now().UTC()
			order.SyncPaymentSummary(payment.Summary(), now)

			if err := order.ApplyRefundOutcome(payment.TotalCompletedRefunds(), payment.Amount, "system", now); err != nil {
				return fmt.Errorf("order.ApplyRefundOutcome: %w", err)
			}

			if _, err := repos.Orders.UpdateOrder(ctx, order); err != nil {
				return fmt.Errorf("repos.Orders.UpdateOrder: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		m.log.ErrorContext(ctx, "order refund sync failed, flagging for manual review",
			"order_id", payment.OrderID, "payment_id", payment.ID, "error", err)

		_ = m.tx.Repos().Effects.Enqueue(ctx, []domain.Effect{{
			Type:      domain.EffectFlagManualReview,
			OrderID:   payment.OrderID,
			PaymentID: payment.ID,
			Data:      map[string]any{"reason": "order refund sync failed"},
		}})
	}
}

// OpenDispute freezes the payment and flags the order for manual review.
// Resolution is an external administrative decision fed back through the
// coordinator or ResolveDispute.
func (m *RefundManager) OpenDispute(ctx context.Context, paymentID uuid.UUID, reason string, amount domain.Money, dueDate *time.Time, actor string) (domain.Dispute, error) {
	var (
		dispute domain.Dispute
		payment domain.Payment
	)

	err := retryOnConflict(ctx, m.maxAttempts, m.metrics, func() error {
		return m.tx.WithTx(ctx, func(repos port.RepositorySet) error {
			p, err := repos.Payments.GetPayment(ctx, paymentID)
			if err != nil {
				return fmt.Errorf("repos.Payments.GetPayment: %w", err)
			}

			dispute, err = p.OpenDispute(reason, amount, dueDate, actor, m.now().UTC())
			if err != nil {
				return fmt.Errorf("p.OpenDispute: %w", err)
			}

			payment, err = repos.Payments.UpdatePayment(ctx, p)
			if err != nil {
				return fmt.Errorf("repos.Payments.UpdatePayment: %w", err)
			}

			effects := []domain.Effect{{
				Type:      domain.EffectFlagManualReview,
				OrderID:   payment.OrderID,
				PaymentID: payment.ID,
				Data:      map[string]any{"reason": "dispute opened: " + reason},
			}}
			if err := repos.Effects.Enqueue(ctx, effects); err != nil {
				return fmt.Errorf("repos.Effects.Enqueue: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		return domain.Dispute{}, err
	}

	m.flagOrderDisputed(ctx, payment, "dispute opened: "+reason)

	return dispute, nil
}

// ResolveDispute applies the external won/lost decision and settles the
// order status accordingly.
func (m *RefundManager) ResolveDispute(ctx context.Context, paymentID, disputeID uuid.UUID, won bool, actor string) (domain.Payment, error) {
	var payment domain.Payment

	err := retryOnConflict(ctx, m.maxAttempts, m.metrics, func() error {
		return m.tx.WithTx(ctx, func(repos port.RepositorySet) error {
			p, err := repos.Payments.GetPayment(ctx, paymentID)
			if err != nil {
				return fmt.Errorf("repos.Payments.GetPayment: %w", err)
			}

			if err := p.ResolveDispute(disputeID, won, actor, m.now().UTC()); err != nil {
				return fmt.Errorf("p.ResolveDispute: %w", err)
			}

			payment, err = repos.Payments.UpdatePayment(ctx, p)
			if err != nil {
				return fmt.Errorf("repos.Payments.UpdatePayment: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		return domain.Payment{}, err
	}

	m.settleOrderAfterDispute(ctx, payment, won, actor)

	return payment, nil
}

func (m *RefundManager) flagOrderDisputed(ctx context.Context, payment domain.Payment, note string) {
	err := retryOnConflict(ctx, m.maxAttempts, m.metrics, func() error {
		return m.tx.WithTx(ctx, func(repos port.RepositorySet) error {
			order, err := repos.Orders.GetOrder(ctx, payment.OrderID)
			if err != nil {
				return fmt.Errorf("repos.Orders.GetOrder: %w", err)
			}

			now := m.now().UTC()
			order.SyncPaymentSummary(payment.Summary(), now)

			effects, err := order.FlagDisputed("system", note, now)
			if err != nil {
				// order state may not admit the disputed flag (e.g. already
				// completed); the manual-review effect already covers it
				var violation domain.InvariantViolation
				if errors.As(err, &violation) {
					_, updateErr := repos.Orders.UpdateOrder(ctx, order)
					return updateErr
				}
				return fmt.Errorf("order.FlagDisputed: %w", err)
			}

			if _, err := repos.Orders.UpdateOrder(ctx, order); err != nil {
				return fmt.Errorf("repos.Orders.UpdateOrder: %w", err)
			}
			if err := repos.Effects.Enqueue(ctx, effects); err != nil {
				return fmt.Errorf("repos.Effects.Enqueue: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		m.log.ErrorContext(ctx, "order dispute flag failed",
			"order_id", payment.OrderID, "error", err)
	}
}

func (m *RefundManager) settleOrderAfterDispute(ctx context.Context, payment domain.Payment, won bool, actor string) {
	err := retryOnConflict(ctx, m.maxAttempts, m.metrics, func() error {
		return m.tx.WithTx(ctx, func(repos port.RepositorySet) error {
			order, err := repos.Orders.GetOrder(ctx, payment.OrderID)
			if err != nil {
				return fmt.Errorf("repos.Orders.GetOrder: %w", err)
			}

			now := m.now().UTC()
			order.SyncPaymentSummary(payment.Summary(), now)

			if won {
				if order.Status == domain.OrderStatusDisputed {
					if err := order.ResolveDisputeWon(actor, now); err != nil {
						return fmt.Errorf("order.ResolveDisputeWon: %w", err)
					}
				}
			} else if err := order.ApplyRefundOutcome(payment.TotalCompletedRefunds(), payment.Amount, actor, now); err != nil {
				return fmt.Errorf("order.ApplyRefundOutcome: %w", err)
			}

			if _, err := repos.Orders.UpdateOrder(ctx, order); err != nil {
				return fmt.Errorf("repos.Orders.UpdateOrder: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		m.log.ErrorContext(ctx, "order dispute settlement failed",
			"order_id", payment.OrderID, "error", err)
	}
}
