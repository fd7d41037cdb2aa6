package domain_test

import (
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikolayk812/marketcore/internal/domain"
)

func fakeItem(vendorID uuid.UUID, price string, qty int32) domain.OrderItem {
	return domain.OrderItem{
		ProductID: uuid.MustParse(gofakeit.UUID()),
		VendorID:  vendorID,
		StoreID:   uuid.MustParse(gofakeit.UUID()),
		Category:  gofakeit.ProductCategory(),
		UnitPrice: usd(price),
		Quantity:  qty,
	}
}

// tenPercentPricing builds a pricing block whose vendor split satisfies the
// financial sum rules, 10% commission flat.
func tenPercentPricing(o domain.Order) domain.Pricing {
	rate := decimal.NewFromInt(10)

	amounts := make([]domain.VendorAmount, 0, len(o.SubOrders))
	for _, sub := range o.SubOrders {
		commission := sub.Subtotal.Percent(rate)
		payout, _ := sub.Subtotal.Sub(commission)

		amounts = append(amounts, domain.VendorAmount{
			VendorID:   sub.VendorID,
			Rate:       rate,
			Subtotal:   sub.Subtotal,
			Commission: commission,
			Payout:     payout,
		})
	}

	subtotal := domain.ZeroMoney(o.Items[0].UnitPrice.Currency)
	for _, item := range o.Items {
		subtotal, _ = subtotal.Add(item.LineTotal())
	}

	return domain.Pricing{
		Subtotal:      subtotal,
		Total:         subtotal,
		VendorAmounts: amounts,
	}
}

func newTestOrder(t *testing.T, vendors int) domain.Order {
	t.Helper()

	items := make([]domain.OrderItem, 0, vendors)
	for i := 0; i < vendors; i++ {
		items = append(items, fakeItem(uuid.New(), "50.00", 2))
	}

	order, err := domain.NewOrder("MC-20260101-TEST0001", gofakeit.UUID(), items, time.Now().UTC())
	require.NoError(t, err)

	require.NoError(t, order.ApplySettlement(tenPercentPricing(order)))
	return order
}

func completedSummary(o domain.Order) domain.PaymentSummary {
	return domain.PaymentSummary{
		PaymentID:  uuid.New(),
		Method:     "card",
		Status:     domain.PaymentStatusCompleted,
		PaidAmount: o.Pricing.Total,
	}
}

func confirmOrder(t *testing.T, o *domain.Order) {
	t.Helper()

	_, err := o.ConfirmPayment(completedSummary(*o), "system", time.Now().UTC())
	require.NoError(t, err)
}

func TestNewOrder(t *testing.T) {
	vendorA := uuid.New()

	tests := []struct {
		name      string
		number    string
		buyerID   string
		items     []domain.OrderItem
		wantError bool
	}{
		{
			name:    "single vendor: ok",
			number:  "MC-1",
			buyerID: "buyer-1",
			items:   []domain.OrderItem{fakeItem(vendorA, "10.00", 1)},
		},
		{
			name:      "no items",
			number:    "MC-2",
			buyerID:   "buyer-1",
			items:     nil,
			wantError: true,
		},
		{
			name:      "zero quantity",
			number:    "MC-3",
			buyerID:   "buyer-1",
			items:     []domain.OrderItem{fakeItem(vendorA, "10.00", 0)},
			wantError: true,
		},
		{
			name:    "mixed currency",
			number:  "MC-4",
			buyerID: "buyer-1",
			items: []domain.OrderItem{
				fakeItem(vendorA, "10.00", 1),
				{ProductID: uuid.New(), VendorID: vendorA, UnitPrice: eur("5.00"), Quantity: 1},
			},
			wantError: true,
		},
		{
			name:      "empty buyer",
			number:    "MC-5",
			buyerID:   "",
			items:     []domain.OrderItem{fakeItem(vendorA, "10.00", 1)},
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order, err := domain.NewOrder(tt.number, tt.buyerID, tt.items, time.Now().UTC())
			if tt.wantError {
				var validation domain.ValidationError
				require.ErrorAs(t, err, &validation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, domain.OrderStatusPending, order.Status)
			assert.Len(t, order.History, 1)
		})
	}
}

func TestNewOrderDerivesSubOrders(t *testing.T) {
	vendorA := uuid.New()
	vendorB := uuid.New()

	items := []domain.OrderItem{
		fakeItem(vendorA, "25.00", 2), // 50.00
		fakeItem(vendorB, "10.00", 1), // 10.00
		fakeItem(vendorA, "5.00", 1),  // 5.00
	}

	order, err := domain.NewOrder("MC-SUB", "buyer-1", items, time.Now().UTC())
	require.NoError(t, err)

	require.Len(t, order.SubOrders, 2)
	assert.Equal(t, vendorA, order.SubOrders[0].VendorID)
	assert.True(t, order.SubOrders[0].Subtotal.Amount.Equal(decimal.RequireFromString("55.00")))
	assert.Equal(t, vendorB, order.SubOrders[1].VendorID)
	assert.True(t, order.SubOrders[1].Subtotal.Amount.Equal(decimal.RequireFromString("10.00")))
}

func TestApplySettlementRejectsMismatch(t *testing.T) {
	order := newTestOrder(t, 2)

	bad := tenPercentPricing(order)
	bad.Subtotal = usd("1.00")

	err := order.ApplySettlement(bad)

	var violation domain.InvariantViolation
	require.ErrorAs(t, err, &violation)
}

func TestOrderFulfillmentLifecycle(t *testing.T) {
	order := newTestOrder(t, 2)
	now := time.Now().UTC()

	effects, err := order.ConfirmPayment(completedSummary(order), "system", now)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPaymentConfirmed, order.Status)
	// one inventory decrement per item plus the buyer notification
	assert.Len(t, effects, len(order.Items)+1)

	for _, sub := range order.SubOrders {
		require.NoError(t, order.StartProcessing(sub.VendorID, "vendor", now))
	}
	assert.Equal(t, domain.OrderStatusProcessing, order.Status)

	for _, sub := range order.SubOrders {
		require.NoError(t, order.MarkReady(sub.VendorID, "vendor", now))
	}
	assert.Equal(t, domain.OrderStatusReady, order.Status)

	for _, sub := range order.SubOrders {
		_, err := order.Ship(sub.VendorID, "TRACK-"+sub.VendorID.String()[:8], "dhl", "vendor", now)
		require.NoError(t, err)
	}
	assert.Equal(t, domain.OrderStatusShipped, order.Status)

	for _, item := range order.Items[:len(order.Items)-1] {
		_, err := order.MarkItemDelivered(item.ID, "courier", now)
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusShipped, order.Status, "order stays shipped until the last item lands")
	}

	last := order.Items[len(order.Items)-1]
	_, err = order.MarkItemDelivered(last.ID, "courier", now)
	require.NoError(t, err)

	assert.Equal(t, domain.OrderStatusCompleted, order.Status)
	assert.NotNil(t, order.DeliveredAt)
	assert.NotNil(t, order.CompletedAt)

	statuses := lo.Map(order.History, func(e domain.StatusEntry, _ int) domain.OrderStatus {
		return e.Status
	})
	assert.Contains(t, statuses, domain.OrderStatusDelivered)
}

func TestOrderReadyWaitsForAllVendors(t *testing.T) {
	order := newTestOrder(t, 3)
	now := time.Now().UTC()
	confirmOrder(t, &order)

	for _, sub := range order.SubOrders {
		require.NoError(t, order.StartProcessing(sub.VendorID, "vendor", now))
	}

	require.NoError(t, order.MarkReady(order.SubOrders[0].VendorID, "vendor", now))
	assert.Equal(t, domain.OrderStatusProcessing, order.Status)

	require.NoError(t, order.MarkReady(order.SubOrders[1].VendorID, "vendor", now))
	assert.Equal(t, domain.OrderStatusProcessing, order.Status)

	require.NoError(t, order.MarkReady(order.SubOrders[2].VendorID, "vendor", now))
	assert.Equal(t, domain.OrderStatusReady, order.Status)
}

func TestShipKeepsExistingTracking(t *testing.T) {
	order := newTestOrder(t, 1)
	now := time.Now().UTC()
	confirmOrder(t, &order)

	vendorID := order.SubOrders[0].VendorID
	require.NoError(t, order.StartProcessing(vendorID, "vendor", now))
	require.NoError(t, order.MarkReady(vendorID, "vendor", now))

	_, err := order.Ship(vendorID, "TRACK-1", "dhl", "vendor", now)
	require.NoError(t, err)

	_, err = order.Ship(vendorID, "TRACK-2", "ups", "vendor", now)
	require.NoError(t, err)

	assert.Equal(t, "TRACK-1", order.SubOrders[0].TrackingNumber)
	assert.Equal(t, "dhl", order.SubOrders[0].Carrier)
}

func TestCancelBlockedAfterFulfillmentStarts(t *testing.T) {
	order := newTestOrder(t, 2)
	now := time.Now().UTC()
	confirmOrder(t, &order)

	require.NoError(t, order.StartProcessing(order.SubOrders[0].VendorID, "vendor", now))

	_, err := order.Cancel("buyer", "changed my mind", now)

	var violation domain.InvariantViolation
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, domain.OrderStatusProcessing, order.Status)
}

func TestCancelEmitsReleaseAndRefund(t *testing.T) {
	order := newTestOrder(t, 2)
	now := time.Now().UTC()
	confirmOrder(t, &order)

	effects, err := order.Cancel("buyer", "changed my mind", now)
	require.NoError(t, err)

	assert.Equal(t, domain.OrderStatusCancelled, order.Status)

	releases := lo.Filter(effects, func(e domain.Effect, _ int) bool {
		return e.Type == domain.EffectInventoryRelease
	})
	assert.Len(t, releases, len(order.Items))

	refunds := lo.Filter(effects, func(e domain.Effect, _ int) bool {
		return e.Type == domain.EffectRequestRefund
	})
	require.Len(t, refunds, 1)
	require.NotNil(t, refunds[0].Amount)
	assert.True(t, refunds[0].Amount.Amount.Equal(order.Pricing.Total.Amount))

	for _, item := range order.Items {
		assert.Equal(t, domain.ItemStatusCancelled, item.Status)
	}
}

func TestCancelledOrderKeepsStatusAfterRefund(t *testing.T) {
	order := newTestOrder(t, 1)
	now := time.Now().UTC()
	confirmOrder(t, &order)

	_, err := order.Cancel("buyer", "cancelled", now)
	require.NoError(t, err)

	err = order.ApplyRefundOutcome(order.Pricing.Total, order.Pricing.Total, "system", now)
	require.NoError(t, err)

	assert.Equal(t, domain.OrderStatusCancelled, order.Status, "reason-based status wins over refund ratio")

	last := order.History[len(order.History)-1]
	assert.Contains(t, last.Note, "refunded")
}

func TestApplyRefundOutcomeRatio(t *testing.T) {
	deliverAll := func(t *testing.T, o *domain.Order) {
		now := time.Now().UTC()
		for _, sub := range o.SubOrders {
			require.NoError(t, o.StartProcessing(sub.VendorID, "vendor", now))
			require.NoError(t, o.MarkReady(sub.VendorID, "vendor", now))
			_, err := o.Ship(sub.VendorID, "T", "dhl", "vendor", now)
			require.NoError(t, err)
		}
		for _, item := range o.Items {
			_, err := o.MarkItemDelivered(item.ID, "courier", now)
			require.NoError(t, err)
		}
	}

	tests := []struct {
		name     string
		refunded string
		want     domain.OrderStatus
	}{
		{name: "full refund", refunded: "100.00", want: domain.OrderStatusRefunded},
		{name: "partial refund", refunded: "40.00", want: domain.OrderStatusPartiallyRefunded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order := newTestOrder(t, 1) // one vendor, 2 x 50.00
			confirmOrder(t, &order)
			deliverAll(t, &order)
			require.Equal(t, domain.OrderStatusCompleted, order.Status)

			err := order.ApplyRefundOutcome(usd(tt.refunded), usd("100.00"), "system", time.Now().UTC())
			require.NoError(t, err)
			assert.Equal(t, tt.want, order.Status)
		})
	}
}

func TestReturnFlow(t *testing.T) {
	order := newTestOrder(t, 1)
	now := time.Now().UTC()
	confirmOrder(t, &order)

	vendorID := order.SubOrders[0].VendorID
	require.NoError(t, order.StartProcessing(vendorID, "vendor", now))
	require.NoError(t, order.MarkReady(vendorID, "vendor", now))
	_, err := order.Ship(vendorID, "T", "dhl", "vendor", now)
	require.NoError(t, err)

	// return before delivery is rejected
	_, err = order.RequestReturn([]uuid.UUID{order.Items[0].ID}, "too big", "buyer", now)
	var violation domain.InvariantViolation
	require.ErrorAs(t, err, &violation)

	for _, item := range order.Items {
		_, err := order.MarkItemDelivered(item.ID, "courier", now)
		require.NoError(t, err)
	}

	request, err := order.RequestReturn([]uuid.UUID{order.Items[0].ID}, "too big", "buyer", now)
	require.NoError(t, err)
	assert.Equal(t, domain.ReturnStatusRequested, request.Status)
	assert.True(t, request.RefundAmount.Amount.Equal(order.Items[0].LineTotal().Amount))

	resolved, err := order.ResolveReturn(request.ID, true, "admin", now)
	require.NoError(t, err)
	assert.Equal(t, domain.ReturnStatusApproved, resolved.Status)

	require.NoError(t, order.MarkReturnRefunded(request.ID, now))
	assert.Equal(t, domain.ReturnStatusRefunded, order.Returns[0].Status)
	assert.Equal(t, domain.ItemStatusReturned, order.Items[0].Status)
}

func TestDisputeFlagAndResolve(t *testing.T) {
	order := newTestOrder(t, 1)
	now := time.Now().UTC()
	confirmOrder(t, &order)

	vendorID := order.SubOrders[0].VendorID
	require.NoError(t, order.StartProcessing(vendorID, "vendor", now))
	require.NoError(t, order.MarkReady(vendorID, "vendor", now))
	_, err := order.Ship(vendorID, "T", "dhl", "vendor", now)
	require.NoError(t, err)
	for _, item := range order.Items {
		_, err := order.MarkItemDelivered(item.ID, "courier", now)
		require.NoError(t, err)
	}

	_, err = order.FlagDisputed("system", "chargeback filed", now)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusDisputed, order.Status)

	require.NoError(t, order.ResolveDisputeWon("admin", now))
	assert.Equal(t, domain.OrderStatusCompleted, order.Status)
}

func TestOrderStatusTransitions(t *testing.T) {
	tests := []struct {
		from    domain.OrderStatus
		to      domain.OrderStatus
		allowed bool
	}{
		{domain.OrderStatusPending, domain.OrderStatusPaymentConfirmed, true},
		{domain.OrderStatusPending, domain.OrderStatusShipped, false},
		{domain.OrderStatusPaymentFailed, domain.OrderStatusPending, false},
		{domain.OrderStatusPaymentFailed, domain.OrderStatusPaymentConfirmed, true},
		{domain.OrderStatusShipped, domain.OrderStatusShipped, true},
		{domain.OrderStatusCompleted, domain.OrderStatusRefunded, true},
		{domain.OrderStatusCancelled, domain.OrderStatusProcessing, false},
		{domain.OrderStatusRefunded, domain.OrderStatusCompleted, false},
		{domain.OrderStatusDelivered, domain.OrderStatusCompleted, true},
	}

	for _, tt := range tests {
		name := string(tt.from) + "->" + string(tt.to)
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}
