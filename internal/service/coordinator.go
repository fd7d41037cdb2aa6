package service

import (
	"context"
	"encoding/json"
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

// Gateway/admin event types accepted by the coordinator.
const (
	EventPaymentAuthorized = "payment.authorized"
	EventPaymentSucceeded  = "payment.succeeded"
	EventPaymentFailed     = "payment.failed"
	EventPaymentExpired    = "payment.expired"
	EventRefundSucceeded   = "refund.succeeded"
	EventRefundFailed      = "refund.failed"
	EventDisputeOpened     = "dispute.opened"
	EventDisputeClosed     = "dispute.closed"
)

// GatewayEvent is one externally-sourced fact, identified by an id the
// sender keeps stable across redeliveries.
type GatewayEvent struct {
	EventID       string          `json:"event_id"`
	Type          string          `json:"type"`
	TransactionID string          `json:"transaction_id,omitempty"`
	PaymentID     uuid.UUID       `json:"payment_id,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

type eventPayload struct {
	RefundID        uuid.UUID     `json:"refund_id,omitempty"`
	GatewayRefundID string        `json:"gateway_refund_id,omitempty"`
	DisputeID       uuid.UUID     `json:"dispute_id,omitempty"`
	Reason          string        `json:"reason,omitempty"`
	Won             *bool         `json:"won,omitempty"`
	Amount          *domain.Money `json:"amount,omitempty"`
	DueDate         *time.Time    `json:"due_date,omitempty"`
}

// Outcome reports what one event application did.
type Outcome struct {
	Duplicate bool
	Payment   domain.Payment
	Order     *domain.Order
}

// Coordinator applies gateway events exactly once. The event id, the payment
// transition and the queued effects commit in a single transaction; the
// dependent order sync runs afterwards as its own retried step, so a crash
// between the two is healed by re-running the sync, never by re-applying the
// event.
type Coordinator struct {
	tx      port.TxRunner
	metrics *metrics.Reconciliation
	log     *slog.Logger

	now         func() time.Time
	maxAttempts int
}

func NewCoordinator(tx port.TxRunner, m *metrics.Reconciliation, log *slog.Logger) (*Coordinator, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if log == nil {
		log = slog.Default()
	}

	return &Coordinator{
		tx:          tx,
		metrics:     m,
		log:         log,
		now:         time.Now,
		maxAttempts: defaultMaxAttempts,
	}, nil
}

// ApplyGatewayEvent is the single entry point for webhook and admin events.
// Redelivered event ids are acknowledged as no-ops.
func (c *Coordinator) ApplyGatewayEvent(ctx context.Context, event GatewayEvent) (Outcome, error) {
	if event.EventID == "" {
		return Outcome{}, domain.ValidationError{Field: "eventID", Reason: "must not be empty"}
	}

	var payload eventPayload
	if len(event.Payload) > 0 {
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return Outcome{}, domain.ValidationError{Field: "payload", Reason: err.Error()}
		}
	}

	start := c.now()

	var payment domain.Payment

	err := retryOnConflict(ctx, c.maxAttempts, c.metrics, func() error {
		return c.tx.WithTx(ctx, func(repos port.RepositorySet) error {
			if err := repos.Events.MarkApplied(ctx, event.EventID); err != nil {
				return fmt.Errorf("repos.Events.MarkApplied: %w", err)
			}

			p, err := c.loadPayment(ctx, repos, event)
			if err != nil {
				return fmt.Errorf("c.loadPayment: %w", err)
			}

			effects, err := c.applyToPayment(&p, event, payload)
			if err != nil {
				return fmt.Errorf("c.applyToPayment: %w", err)
			}

			payment, err = repos.Payments.UpdatePayment(ctx, p)
			if err != nil {
				return fmt.Errorf("repos.Payments.UpdatePayment: %w", err)
			}

			if len(effects) > 0 {
				if err := repos.Effects.Enqueue(ctx, effects); err != nil {
					return fmt.Errorf("repos.Effects.Enqueue: %w", err)
				}
			}
			return nil
		})
	})
	if errors.Is(err, domain.ErrDuplicateEvent) {
		c.metrics.IncDuplicate()
		c.log.InfoContext(ctx, "duplicate event acknowledged", "event_id", event.EventID, "type", event.Type)
		return Outcome{Duplicate: true}, nil
	}
	if err != nil {
		return Outcome{}, err
	}

	c.metrics.ObserveApply(event.Type, start)

	order := c.syncOrder(ctx, payment, event.Type, payload)

	c.log.InfoContext(ctx, "event applied",
		"event_id", event.EventID, "type", event.Type,
		"payment_id", payment.ID, "payment_status", payment.Status)

	return Outcome{Payment: payment, Order: order}, nil
}

func (c *Coordinator) loadPayment(ctx context.Context, repos port.RepositorySet, event GatewayEvent) (domain.Payment, error) {
	if event.PaymentID != uuid.Nil {
		return repos.Payments.GetPayment(ctx, event.PaymentID)
	}
	if event.TransactionID != "" {
		return repos.Payments.GetPaymentByGatewayTx(ctx, event.TransactionID)
	}
	return domain.Payment{}, domain.ValidationError{Field: "paymentID", Reason: "payment_id or transaction_id required"}
}

func (c *Coordinator) applyToPayment(p *domain.Payment, event GatewayEvent, payload eventPayload) ([]domain.Effect, error) {
	now := c.now().UTC()

	switch event.Type {
	case EventPaymentAuthorized:
		return nil, p.Authorize(event.TransactionID, "gateway", now)

	case EventPaymentSucceeded:
		// instant-capture methods complete directly; an authorized payment
		// captures the full hold first
		if p.Status == domain.PaymentStatusAuthorized {
			if err := p.Capture(p.AuthorizedAmount, "gateway", now); err != nil {
				return nil, fmt.Errorf("p.Capture: %w", err)
			}
		}
		return nil, p.Complete(event.TransactionID, "gateway", now)

	case EventPaymentFailed:
		reason := payload.Reason
		if reason == "" {
			reason = "gateway reported failure"
		}
		return nil, p.Fail("gateway", reason, now)

	case EventPaymentExpired:
		return nil, p.Expire("gateway", now)

	case EventRefundSucceeded:
		refund, err := p.CompleteRefund(payload.RefundID, payload.GatewayRefundID, "gateway", now)
		if err != nil {
			return nil, fmt.Errorf("p.CompleteRefund: %w", err)
		}
		return []domain.Effect{{
			Type:      domain.EffectNotify,
			OrderID:   p.OrderID,
			PaymentID: p.ID,
			Recipient: "buyer",
			Template:  "refund_completed",
			Amount:    &refund.Amount,
		}}, nil

	case EventRefundFailed:
		reason := payload.Reason
		if reason == "" {
			reason = "gateway reported failure"
		}
		_, err := p.FailRefund(payload.RefundID, reason, now)
		return nil, err

	case EventDisputeOpened:
		amount := lo.FromPtrOr(payload.Amount, p.Amount)
		_, err := p.OpenDispute(payload.Reason, amount, payload.DueDate, "gateway", now)
		if err != nil {
			return nil, fmt.Errorf("p.OpenDispute: %w", err)
		}
		return []domain.Effect{{
			Type:      domain.EffectFlagManualReview,
			OrderID:   p.OrderID,
			PaymentID: p.ID,
			Data:      map[string]any{"reason": "dispute opened: " + payload.Reason},
		}}, nil

	case EventDisputeClosed:
		if payload.Won == nil {
			return nil, domain.ValidationError{Field: "won", Reason: "must be set for dispute.closed"}
		}
		return nil, p.ResolveDispute(payload.DisputeID, *payload.Won, "gateway", now)

	default:
		return nil, domain.ValidationError{Field: "type", Reason: fmt.Sprintf("unknown event type %q", event.Type)}
	}
}

// syncOrder is the dependent cross-aggregate step. The payment commit
// already stands; a persistent failure here is logged and flagged for
// manual review, never propagated back to the event sender.
func (c *Coordinator) syncOrder(ctx context.Context, payment domain.Payment, eventType string, payload eventPayload) *domain.Order {
	var synced *domain.Order

	err := retryOnConflict(ctx, c.maxAttempts, c.metrics, func() error {
		return c.tx.WithTx(ctx, func(repos port.RepositorySet) error {
			order, err := repos.Orders.GetOrder(ctx, payment.OrderID)
			if err != nil {
				return fmt.Errorf("repos.Orders.GetOrder: %w", err)
			}

			now := c.now().UTC()
			summary := payment.Summary()

			var effects []domain.Effect

			switch eventType {
			case EventPaymentSucceeded:
				effects, err = order.ConfirmPayment(summary, "system", now)
				if err != nil {
					// already confirmed by an earlier path, mirror only
					var violation domain.InvariantViolation
					if !errors.As(err, &violation) {
						return fmt.Errorf("order.ConfirmPayment: %w", err)
					}
					order.SyncPaymentSummary(summary, now)
					effects = nil
				}

			case EventPaymentFailed, EventPaymentExpired:
				effects, err = order.FailPayment(summary, "system", "payment "+string(payment.Status), now)
				if err != nil {
					var violation domain.InvariantViolation
					if !errors.As(err, &violation) {
						return fmt.Errorf("order.FailPayment: %w", err)
					}
					order.SyncPaymentSummary(summary, now)
					effects = nil
				}

			case EventRefundSucceeded:
				order.SyncPaymentSummary(summary, now)
				if err := order.ApplyRefundOutcome(payment.TotalCompletedRefunds(), payment.Amount, "system", now); err != nil {
					return fmt.Errorf("order.ApplyRefundOutcome: %w", err)
				}

			case EventDisputeOpened:
				order.SyncPaymentSummary(summary, now)
				effects, err = order.FlagDisputed("system", "dispute opened: "+payload.Reason, now)
				if err != nil {
					var violation domain.InvariantViolation
					if !errors.As(err, &violation) {
						return fmt.Errorf("order.FlagDisputed: %w", err)
					}
					effects = nil
				}

			case EventDisputeClosed:
				order.SyncPaymentSummary(summary, now)
				if lo.FromPtr(payload.Won) {
					if order.Status == domain.OrderStatusDisputed {
						if err := order.ResolveDisputeWon("system", now); err != nil {
							return fmt.Errorf("order.ResolveDisputeWon: %w", err)
						}
					}
				} else if err := order.ApplyRefundOutcome(payment.TotalCompletedRefunds(), payment.Amount, "system", now); err != nil {
					return fmt.Errorf("order.ApplyRefundOutcome: %w", err)
				}

			default:
				// authorized, refund.failed: nothing to mirror on the order
				return nil
			}

			updated, err := repos.Orders.UpdateOrder(ctx, order)
			if err != nil {
				return fmt.Errorf("repos.Orders.UpdateOrder: %w", err)
			}
			if len(effects) > 0 {
				if err := repos.Effects.Enqueue(ctx, effects); err != nil {
					return fmt.Errorf("repos.Effects.Enqueue: %w", err)
				}
			}

			synced = &updated
			return nil
		})
	})
	if err != nil {
		c.log.ErrorContext(ctx, "order sync failed, flagging for manual review",
			"order_id", payment.OrderID, "event_type", eventType, "error", err)

		_ = c.tx.Repos().Effects.Enqueue(ctx, []domain.Effect{{
			Type:      domain.EffectFlagManualReview,
			OrderID:   payment.OrderID,
			PaymentID: payment.ID,
			Data:      map[string]any{"reason": "order sync failed for " + eventType},
		}})
	}

	return synced
}

// StatusUpdateInput selects one fulfillment transition on an order. Vendor
// and item scoped transitions carry the respective ids.
type StatusUpdateInput struct {
	OrderID  uuid.UUID
	Target   domain.OrderStatus
	VendorID uuid.UUID
	ItemID   uuid.UUID
	Tracking string
	Carrier  string
	Actor    string
	Note     string
}

// UpdateOrderStatus drives the fulfillment state machine: processing, ready,
// shipped, out for delivery, delivered (per item) and cancellation.
func (c *Coordinator) UpdateOrderStatus(ctx context.Context, input StatusUpdateInput) (domain.Order, error) {
	var updated domain.Order

	err := retryOnConflict(ctx, c.maxAttempts, c.metrics, func() error {
		return c.tx.WithTx(ctx, func(repos port.RepositorySet) error {
			order, err := repos.Orders.GetOrder(ctx, input.OrderID)
			if err != nil {
				return fmt.Errorf("repos.Orders.GetOrder: %w", err)
			}

			now := c.now().UTC()

			var effects []domain.Effect

			switch input.Target {
			case domain.OrderStatusProcessing:
				err = order.StartProcessing(input.VendorID, input.Actor, now)
			case domain.OrderStatusReady:
				err = order.MarkReady(input.VendorID, input.Actor, now)
			case domain.OrderStatusShipped:
				effects, err = order.Ship(input.VendorID, input.Tracking, input.Carrier, input.Actor, now)
			case domain.OrderStatusOutForDelivery:
				err = order.MarkOutForDelivery(input.Actor, now)
			case domain.OrderStatusDelivered:
				effects, err = order.MarkItemDelivered(input.ItemID, input.Actor, now)
			case domain.OrderStatusCancelled:
				effects, err = order.Cancel(input.Actor, input.Note, now)
			default:
				return domain.ValidationError{
					Field:  "target",
					Reason: fmt.Sprintf("no direct transition to %q", input.Target),
				}
			}
			if err != nil {
				return err
			}

			updated, err = repos.Orders.UpdateOrder(ctx, order)
			if err != nil {
				return fmt.Errorf("repos.Orders.UpdateOrder: %w", err)
			}

			if len(effects) > 0 {
				if err := repos.Effects.Enqueue(ctx, effects); err != nil {
					return fmt.Errorf("repos.Effects.Enqueue: %w", err)
				}
			}
			return nil
		})
	})
	if err != nil {
		return domain.Order{}, err
	}

	c.log.InfoContext(ctx, "order status updated",
		"order_id", updated.ID, "status", updated.Status, "actor", input.Actor)

	return updated, nil
}

// ConfirmPayment manually mirrors a completed payment onto its order, used
// when the webhook-side sync was flagged for manual review.
func (c *Coordinator) ConfirmPayment(ctx context.Context, orderID uuid.UUID, actor string) (domain.Order, error) {
	payment, err := c.tx.Repos().Payments.GetPaymentByOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("Payments.GetPaymentByOrder: %w", err)
	}

	var updated domain.Order

	err = retryOnConflict(ctx, c.maxAttempts, c.metrics, func() error {
		return c.tx.WithTx(ctx, func(repos port.RepositorySet) error {
			order, err := repos.Orders.GetOrder(ctx, orderID)
			if err != nil {
				return fmt.Errorf("repos.Orders.GetOrder: %w", err)
			}

			effects, err := order.ConfirmPayment(payment.Summary(), actor, c.now().UTC())
			if err != nil {
				return fmt.Errorf("order.ConfirmPayment: %w", err)
			}

			updated, err = repos.Orders.UpdateOrder(ctx, order)
			if err != nil {
				return fmt.Errorf("repos.Orders.UpdateOrder: %w", err)
			}
			if err := repos.Effects.Enqueue(ctx, effects); err != nil {
				return fmt.Errorf("repos.Effects.Enqueue: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		return domain.Order{}, err
	}

	return updated, nil
}
