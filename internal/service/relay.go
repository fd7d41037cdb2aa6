package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nikolayk812/marketcore/internal/domain"
	"github.com/nikolayk812/marketcore/internal/port"
)

const defaultRelayBatch = 50

// Relay drains the effect outbox and delivers each intent to its
// collaborator. Delivery is at-least-once: a failed effect stays pending and
// is retried on the next pass, so every handler must tolerate replay.
type Relay struct {
	outbox    port.EffectOutbox
	notifier  port.Notifier
	inventory port.Inventory
	refunds   *RefundManager
	log       *slog.Logger

	batchSize int
}

func NewRelay(outbox port.EffectOutbox, notifier port.Notifier, inventory port.Inventory, refunds *RefundManager, log *slog.Logger) (*Relay, error) {
	if outbox == nil {
		return nil, fmt.Errorf("outbox required")
	}
	if notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	if inventory == nil {
		return nil, fmt.Errorf("inventory required")
	}
	if refunds == nil {
		return nil, fmt.Errorf("refund manager required")
	}
	if log == nil {
		log = slog.Default()
	}

	return &Relay{
		outbox:    outbox,
		notifier:  notifier,
		inventory: inventory,
		refunds:   refunds,
		log:       log,
		batchSize: defaultRelayBatch,
	}, nil
}

// Run drains the outbox on a fixed interval until ctx is cancelled.
func (r *Relay) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.RunOnce(ctx); err != nil {
				r.log.ErrorContext(ctx, "relay pass failed", "error", err)
			}
		}
	}
}

// RunOnce delivers one batch of pending effects, returning the first fetch
// error; per-effect delivery failures are logged and left pending.
func (r *Relay) RunOnce(ctx context.Context) error {
	queued, err := r.outbox.FetchPending(ctx, r.batchSize)
	if err != nil {
		return fmt.Errorf("outbox.FetchPending: %w", err)
	}

	for _, q := range queued {
		if err := r.deliver(ctx, q.Effect); err != nil {
			r.log.WarnContext(ctx, "effect delivery failed, will retry",
				"effect_id", q.ID, "type", q.Effect.Type, "error", err)
			continue
		}

		if err := r.outbox.MarkSent(ctx, q.ID); err != nil {
			return fmt.Errorf("outbox.MarkSent: %w", err)
		}
	}

	return nil
}

func (r *Relay) deliver(ctx context.Context, effect domain.Effect) error {
	switch effect.Type {
	case domain.EffectNotify:
		return r.notifier.Notify(ctx, effect.Recipient, effect.Template, effect.Data)

	case domain.EffectInventoryReserve:
		return r.inventory.Reserve(ctx, effect.ProductID, effect.Quantity)

	case domain.EffectInventoryRelease:
		return r.inventory.Release(ctx, effect.ProductID, effect.Quantity)

	case domain.EffectInventoryDecrement:
		return r.inventory.Decrement(ctx, effect.ProductID, effect.Quantity)

	case domain.EffectRequestRefund:
		return r.requestRefund(ctx, effect)

	case domain.EffectFlagManualReview:
		// no automated collaborator; surfacing in the log is the delivery
		r.log.WarnContext(ctx, "manual review required",
			"order_id", effect.OrderID, "payment_id", effect.PaymentID, "data", effect.Data)
		return nil

	default:
		// never retried: an unknown type would stay pending forever
		r.log.ErrorContext(ctx, "unknown effect type dropped", "type", effect.Type)
		return nil
	}
}

// requestRefund drives the full refund a cancellation asked for. On replay
// the manager rejects with a validation error (amount no longer fits the
// refundable remainder) or an invariant violation (payment already
// refunded); both count as already satisfied. A dispute lock stays pending
// until the dispute resolves.
func (r *Relay) requestRefund(ctx context.Context, effect domain.Effect) error {
	if effect.Amount == nil {
		return fmt.Errorf("refund effect without amount")
	}

	reason := "order cancelled"
	if v, ok := effect.Data["reason"].(string); ok && v != "" {
		reason = v
	}

	_, err := r.refunds.RequestRefund(ctx, effect.PaymentID, *effect.Amount, reason, "system")
	if err != nil {
		var validation domain.ValidationError
		if errors.As(err, &validation) {
			return nil
		}

		var violation domain.InvariantViolation
		if errors.As(err, &violation) && violation.Rule != "dispute locked" {
			return nil
		}

		return fmt.Errorf("refunds.RequestRefund: %w", err)
	}

	return nil
}
