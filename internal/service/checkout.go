package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/nikolayk812/marketcore/internal/domain"
	"github.com/nikolayk812/marketcore/internal/port"
	"github.com/nikolayk812/marketcore/internal/settlement"
)

// Checkout turns a cart snapshot into a paired order and payment.
type Checkout struct {
	tx       port.TxRunner
	resolver settlement.CommissionResolver
	log      *slog.Logger
	now      func() time.Time
}

func NewCheckout(tx port.TxRunner, resolver settlement.CommissionResolver, log *slog.Logger) (*Checkout, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if resolver == nil {
		return nil, fmt.Errorf("commission resolver required")
	}
	if log == nil {
		log = slog.Default()
	}

	return &Checkout{
		tx:       tx,
		resolver: resolver,
		log:      log,
		now:      time.Now,
	}, nil
}

// ItemInput is one cart line at the moment of checkout; the unit price is
// already frozen by the caller (price at time of purchase).
type ItemInput struct {
	ProductID uuid.UUID
	VendorID  uuid.UUID
	StoreID   uuid.UUID
	Category  string
	UnitPrice domain.Money
	Quantity  int32
}

type PlaceOrderInput struct {
	BuyerID string
	Method  string
	Items   []ItemInput

	// Order-level pricing fields, already computed by the surrounding
	// system (tax/shipping/coupons are outside the settlement split).
	Discount       domain.Money
	CouponDiscount domain.Money
	Tax            domain.Money
	Shipping       domain.Money
	Insurance      domain.Money
	Handling       domain.Money
}

// PlaceOrder creates the order aggregate via the settlement calculator and
// its paired payment, persisting both atomically. Inventory reservations
// and the placement notification go through the effect outbox.
func (s *Checkout) PlaceOrder(ctx context.Context, input PlaceOrderInput) (domain.Order, domain.Payment, error) {
	var (
		o domain.Order
		p domain.Payment
	)

	if len(input.Items) == 0 {
		return o, p, domain.ValidationError{Field: "items", Reason: "must not be empty"}
	}
	if input.Method == "" {
		return o, p, domain.ValidationError{Field: "method", Reason: "must not be empty"}
	}

	now := s.now().UTC()

	items := lo.Map(input.Items, func(in ItemInput, _ int) domain.OrderItem {
		return domain.OrderItem{
			ProductID: in.ProductID,
			VendorID:  in.VendorID,
			StoreID:   in.StoreID,
			Category:  in.Category,
			UnitPrice: in.UnitPrice,
			Quantity:  in.Quantity,
		}
	})

	order, err := domain.NewOrder(newOrderNumber(now), input.BuyerID, items, now)
	if err != nil {
		return o, p, fmt.Errorf("domain.NewOrder: %w", err)
	}

	result, err := settlement.Calculate(order.Items, s.resolver)
	if err != nil {
		return o, p, fmt.Errorf("settlement.Calculate: %w", err)
	}

	pricing, err := settlement.BuildPricing(result,
		input.Discount, input.CouponDiscount, input.Tax, input.Shipping, input.Insurance, input.Handling)
	if err != nil {
		return o, p, fmt.Errorf("settlement.BuildPricing: %w", err)
	}

	if err := order.ApplySettlement(pricing); err != nil {
		return o, p, fmt.Errorf("order.ApplySettlement: %w", err)
	}

	payment, err := domain.NewPayment(order.ID, pricing.Total, input.Method, now)
	if err != nil {
		return o, p, fmt.Errorf("domain.NewPayment: %w", err)
	}

	payment.ApplyDistribution(settlement.PlatformShare(result), settlement.VendorShare(result), now)
	order.SyncPaymentSummary(payment.Summary(), now)

	effects := make([]domain.Effect, 0, len(order.Items)+1)
	for _, item := range order.Items {
		effects = append(effects, domain.Effect{
			Type:      domain.EffectInventoryReserve,
			OrderID:   order.ID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
		})
	}
	effects = append(effects, domain.Effect{
		Type:      domain.EffectNotify,
		OrderID:   order.ID,
		Recipient: order.BuyerID,
		Template:  "order_placed",
		Data:      map[string]any{"order_number": order.Number},
	})

	err = s.tx.WithTx(ctx, func(repos port.RepositorySet) error {
		if err := repos.Orders.InsertOrder(ctx, order); err != nil {
			return fmt.Errorf("repos.Orders.InsertOrder: %w", err)
		}
		if err := repos.Payments.InsertPayment(ctx, payment); err != nil {
			return fmt.Errorf("repos.Payments.InsertPayment: %w", err)
		}
		if err := repos.Effects.Enqueue(ctx, effects); err != nil {
			return fmt.Errorf("repos.Effects.Enqueue: %w", err)
		}
		return nil
	})
	if err != nil {
		return o, p, fmt.Errorf("s.tx.WithTx: %w", err)
	}

	order.Version = 1
	payment.Version = 1

	s.log.InfoContext(ctx, "order placed",
		"order_id", order.ID, "order_number", order.Number,
		"payment_id", payment.ID, "total", order.Pricing.Total.String())

	return order, payment, nil
}

// newOrderNumber builds the externally displayable order number.
func newOrderNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("MC-%s-%s", now.Format("20060102"), suffix)
}
