package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

type ItemStatus string

const (
	ItemStatusPending   ItemStatus = "pending"
	ItemStatusConfirmed ItemStatus = "confirmed"
	ItemStatusShipped   ItemStatus = "shipped"
	ItemStatusDelivered ItemStatus = "delivered"
	ItemStatusCancelled ItemStatus = "cancelled"
	ItemStatusReturned  ItemStatus = "returned"
)

type SubOrderStatus string

const (
	SubOrderStatusPending    SubOrderStatus = "pending"
	SubOrderStatusConfirmed  SubOrderStatus = "confirmed"
	SubOrderStatusProcessing SubOrderStatus = "processing"
	SubOrderStatusReady      SubOrderStatus = "ready"
	SubOrderStatusShipped    SubOrderStatus = "shipped"
	SubOrderStatusDelivered  SubOrderStatus = "delivered"
	SubOrderStatusCancelled  SubOrderStatus = "cancelled"
)

// subOrderRank orders sub-order statuses along the fulfillment flow,
// used by the cancellation guard.
var subOrderRank = map[SubOrderStatus]int{
	SubOrderStatusPending:    0,
	SubOrderStatusConfirmed:  1,
	SubOrderStatusProcessing: 2,
	SubOrderStatusReady:      3,
	SubOrderStatusShipped:    4,
	SubOrderStatusDelivered:  5,
	SubOrderStatusCancelled:  0,
}

type ReturnStatus string

const (
	ReturnStatusRequested ReturnStatus = "requested"
	ReturnStatusApproved  ReturnStatus = "approved"
	ReturnStatusRejected  ReturnStatus = "rejected"
	ReturnStatusRefunded  ReturnStatus = "refunded"
)

type OrderItem struct {
	ID        uuid.UUID  `json:"id"`
	ProductID uuid.UUID  `json:"product_id"`
	VendorID  uuid.UUID  `json:"vendor_id"`
	StoreID   uuid.UUID  `json:"store_id"`
	Category  string     `json:"category"`
	UnitPrice Money      `json:"unit_price"`
	Quantity  int32      `json:"quantity"`
	Status    ItemStatus `json:"status"`
}

func (i OrderItem) LineTotal() Money {
	return i.UnitPrice.MulInt(int64(i.Quantity))
}

// VendorSubOrder is the slice of a multi-vendor order fulfilled by one vendor.
type VendorSubOrder struct {
	VendorID       uuid.UUID      `json:"vendor_id"`
	Status         SubOrderStatus `json:"status"`
	Subtotal       Money          `json:"subtotal"`
	TrackingNumber string         `json:"tracking_number,omitempty"`
	Carrier        string         `json:"carrier,omitempty"`
	ShippedAt      *time.Time     `json:"shipped_at,omitempty"`
	DeliveredAt    *time.Time     `json:"delivered_at,omitempty"`
}

type VendorAmount struct {
	VendorID   uuid.UUID       `json:"vendor_id"`
	Rate       decimal.Decimal `json:"rate"`
	Subtotal   Money           `json:"subtotal"`
	Commission Money           `json:"commission"`
	Payout     Money           `json:"payout"`
}

type Pricing struct {
	Subtotal       Money          `json:"subtotal"`
	Discount       Money          `json:"discount"`
	CouponDiscount Money          `json:"coupon_discount"`
	Tax            Money          `json:"tax"`
	Shipping       Money          `json:"shipping"`
	Insurance      Money          `json:"insurance"`
	Handling       Money          `json:"handling"`
	Total          Money          `json:"total"`
	VendorAmounts  []VendorAmount `json:"vendor_amounts"`
}

// ComputeTotal derives the grand total from the order-level pricing fields.
// Discounts never push the total below zero.
func (p Pricing) ComputeTotal() (Money, error) {
	total := p.Subtotal

	var err error
	for _, charge := range []Money{p.Tax, p.Shipping, p.Insurance, p.Handling} {
		if charge.Amount.IsZero() {
			continue
		}
		total, err = total.Add(charge)
		if err != nil {
			return Money{}, fmt.Errorf("total.Add: %w", err)
		}
	}

	for _, discount := range []Money{p.Discount, p.CouponDiscount} {
		if discount.Amount.IsZero() {
			continue
		}
		total, err = total.Sub(discount)
		if err != nil {
			return Money{}, fmt.Errorf("total.Sub: %w", err)
		}
	}

	if total.IsNegative() {
		total = ZeroMoney(total.Currency)
	}

	return total, nil
}

type StatusEntry struct {
	Status OrderStatus `json:"status"`
	Actor  string      `json:"actor"`
	Note   string      `json:"note,omitempty"`
	At     time.Time   `json:"at"`
}

// PaymentSummary mirrors the linked payment for fast reads,
// the Payment aggregate is the source of truth.
type PaymentSummary struct {
	PaymentID  uuid.UUID     `json:"payment_id"`
	Method     string        `json:"method"`
	Status     PaymentStatus `json:"status"`
	PaidAmount Money         `json:"paid_amount"`
}

type ReturnRequest struct {
	ID           uuid.UUID    `json:"id"`
	ItemIDs      []uuid.UUID  `json:"item_ids"`
	Reason       string       `json:"reason"`
	Status       ReturnStatus `json:"status"`
	RefundAmount Money        `json:"refund_amount"`
	RequestedAt  time.Time    `json:"requested_at"`
	ResolvedAt   *time.Time   `json:"resolved_at,omitempty"`
}

type Order struct {
	ID        uuid.UUID        `json:"id"`
	Number    string           `json:"number"`
	BuyerID   string           `json:"buyer_id"`
	Items     []OrderItem      `json:"items"`
	SubOrders []VendorSubOrder `json:"sub_orders"`
	Pricing   Pricing          `json:"pricing"`
	Status    OrderStatus      `json:"status"`
	History   []StatusEntry    `json:"history"`
	Payment   PaymentSummary   `json:"payment"`
	Returns   []ReturnRequest  `json:"returns,omitempty"`

	// Version guards optimistic concurrency, bumped by the repository on write.
	Version int64 `json:"version"`

	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
	ShippedAt   *time.Time `json:"shipped_at,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// NewOrder builds a pending order from checkout items. Pricing is attached
// separately via ApplySettlement so the calculation stays a pure function.
func NewOrder(number, buyerID string, items []OrderItem, now time.Time) (Order, error) {
	var o Order

	if number == "" {
		return o, ValidationError{Field: "number", Reason: "must not be empty"}
	}
	if buyerID == "" {
		return o, ValidationError{Field: "buyerID", Reason: "must not be empty"}
	}
	if len(items) == 0 {
		return o, ValidationError{Field: "items", Reason: "no items in order"}
	}

	currencyUnit := items[0].UnitPrice.Currency
	for idx := range items {
		item := &items[idx]

		if item.Quantity < 1 {
			return o, ValidationError{Field: "items", Reason: fmt.Sprintf("item %s: quantity must be >= 1", item.ProductID)}
		}
		if item.UnitPrice.IsNegative() {
			return o, ValidationError{Field: "items", Reason: fmt.Sprintf("item %s: negative unit price", item.ProductID)}
		}
		if item.UnitPrice.Currency.String() != currencyUnit.String() {
			return o, ValidationError{Field: "items", Reason: "mixed currencies in one order"}
		}

		if item.ID == uuid.Nil {
			item.ID = uuid.New()
		}
		item.Status = ItemStatusPending
	}

	subOrders := deriveSubOrders(items)

	return Order{
		ID:        uuid.New(),
		Number:    number,
		BuyerID:   buyerID,
		Items:     items,
		SubOrders: subOrders,
		Status:    OrderStatusPending,
		History: []StatusEntry{
			{Status: OrderStatusPending, Actor: buyerID, Note: "order placed", At: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// deriveSubOrders groups items by vendor, preserving first-seen vendor order.
func deriveSubOrders(items []OrderItem) []VendorSubOrder {
	grouped := lo.GroupBy(items, func(item OrderItem) uuid.UUID {
		return item.VendorID
	})

	vendorIDs := lo.Uniq(lo.Map(items, func(item OrderItem, _ int) uuid.UUID {
		return item.VendorID
	}))

	subOrders := make([]VendorSubOrder, 0, len(vendorIDs))
	for _, vendorID := range vendorIDs {
		vendorItems := grouped[vendorID]

		subtotal := ZeroMoney(vendorItems[0].UnitPrice.Currency)
		for _, item := range vendorItems {
			subtotal, _ = subtotal.Add(item.LineTotal())
		}

		subOrders = append(subOrders, VendorSubOrder{
			VendorID: vendorID,
			Status:   SubOrderStatusPending,
			Subtotal: subtotal,
		})
	}

	return subOrders
}

// ApplySettlement attaches the computed pricing after verifying it against
// the order's own items, so a stale calculation can never be persisted.
func (o *Order) ApplySettlement(pricing Pricing) error {
	probe := *o
	probe.Pricing = pricing

	if err := probe.CheckInvariants(); err != nil {
		return fmt.Errorf("probe.CheckInvariants: %w", err)
	}

	o.Pricing = pricing
	return nil
}

// CheckInvariants verifies the financial sum rules. A violation on a loaded
// aggregate halts the operation and flags the order for manual
// reconciliation rather than attempting automatic repair.
func (o Order) CheckInvariants() error {
	itemsSubtotal := decimal.Zero
	for _, item := range o.Items {
		itemsSubtotal = itemsSubtotal.Add(item.LineTotal().Amount)
	}

	if !itemsSubtotal.Equal(o.Pricing.Subtotal.Amount) {
		return InvariantViolation{
			Rule:   "subtotal mismatch",
			Detail: fmt.Sprintf("items total %s != pricing subtotal %s", itemsSubtotal, o.Pricing.Subtotal.Amount),
		}
	}

	split := decimal.Zero
	for _, va := range o.Pricing.VendorAmounts {
		split = split.Add(va.Commission.Amount).Add(va.Payout.Amount)
	}

	if !split.Equal(o.Pricing.Subtotal.Amount) {
		return InvariantViolation{
			Rule:   "settlement split mismatch",
			Detail: fmt.Sprintf("commission+payout %s != subtotal %s", split, o.Pricing.Subtotal.Amount),
		}
	}

	if o.Status == OrderStatusCompleted && o.Payment.Status != PaymentStatusCompleted {
		return InvariantViolation{
			Rule:   "status consistency",
			Detail: fmt.Sprintf("order completed while payment is %s", o.Payment.Status),
		}
	}

	return nil
}

func (o *Order) transition(to OrderStatus, actor, note string, now time.Time) error {
	if !o.Status.CanTransitionTo(to) {
		return transitionNotAllowed("order", string(o.Status), string(to))
	}

	o.Status = to
	o.History = append(o.History, StatusEntry{Status: to, Actor: actor, Note: note, At: now})
	o.UpdatedAt = now
	return nil
}

// ConfirmPayment moves the order out of pending once the linked payment
// completed. Emits inventory decrements and a buyer notification.
func (o *Order) ConfirmPayment(summary PaymentSummary, actor string, now time.Time) ([]Effect, error) {
	if summary.Status != PaymentStatusCompleted {
		return nil, InvariantViolation{
			Rule:   "payment not completed",
			Detail: fmt.Sprintf("cannot confirm order from payment status %s", summary.Status),
		}
	}

	if err := o.transition(OrderStatusPaymentConfirmed, actor, "payment confirmed", now); err != nil {
		return nil, err
	}

	o.Payment = summary
	o.ConfirmedAt = &now

	for i := range o.Items {
		o.Items[i].Status = ItemStatusConfirmed
	}
	for i := range o.SubOrders {
		o.SubOrders[i].Status = SubOrderStatusConfirmed
	}

	effects := make([]Effect, 0, len(o.Items)+1)
	for _, item := range o.Items {
		effects = append(effects, inventoryEffect(EffectInventoryDecrement, o.ID, item.ProductID, item.Quantity))
	}
	effects = append(effects, notifyEffect(o.ID, o.BuyerID, "order_confirmed", map[string]any{
		"order_number": o.Number,
	}))

	return effects, nil
}

func (o *Order) FailPayment(summary PaymentSummary, actor, note string, now time.Time) ([]Effect, error) {
	if err := o.transition(OrderStatusPaymentFailed, actor, note, now); err != nil {
		return nil, err
	}

	o.Payment = summary

	return []Effect{
		notifyEffect(o.ID, o.BuyerID, "payment_failed", map[string]any{
			"order_number": o.Number,
		}),
	}, nil
}

// StartProcessing marks one vendor's sub-order as being worked on. The first
// vendor to start pulls the whole order into processing.
func (o *Order) StartProcessing(vendorID uuid.UUID, actor string, now time.Time) error {
	sub, err := o.subOrder(vendorID)
	if err != nil {
		return err
	}

	if sub.Status != SubOrderStatusConfirmed {
		return InvariantViolation{
			Rule:   "sub-order not confirmed",
			Detail: fmt.Sprintf("vendor %s sub-order is %s", vendorID, sub.Status),
		}
	}
	sub.Status = SubOrderStatusProcessing

	if o.Status == OrderStatusPaymentConfirmed {
		return o.transition(OrderStatusProcessing, actor, "fulfillment started", now)
	}

	o.UpdatedAt = now
	return nil
}

// MarkReady marks a vendor's sub-order packed. The order becomes ready only
// when every non-cancelled sub-order is ready.
func (o *Order) MarkReady(vendorID uuid.UUID, actor string, now time.Time) error {
	sub, err := o.subOrder(vendorID)
	if err != nil {
		return err
	}

	if sub.Status != SubOrderStatusProcessing {
		return InvariantViolation{
			Rule:   "sub-order not processing",
			Detail: fmt.Sprintf("vendor %s sub-order is %s", vendorID, sub.Status),
		}
	}
	sub.Status = SubOrderStatusReady

	allReady := lo.EveryBy(o.SubOrders, func(s VendorSubOrder) bool {
		return s.Status == SubOrderStatusReady || s.Status == SubOrderStatusCancelled
	})

	if allReady && o.Status == OrderStatusProcessing {
		return o.transition(OrderStatusReady, actor, "all vendors ready", now)
	}

	o.UpdatedAt = now
	return nil
}

// Ship records a vendor shipment. Re-entering the transition keeps existing
// tracking data, it is never overwritten.
func (o *Order) Ship(vendorID uuid.UUID, trackingNumber, carrier, actor string, now time.Time) ([]Effect, error) {
	sub, err := o.subOrder(vendorID)
	if err != nil {
		return nil, err
	}

	if sub.Status != SubOrderStatusReady && sub.Status != SubOrderStatusShipped {
		return nil, InvariantViolation{
			Rule:   "sub-order not ready",
			Detail: fmt.Sprintf("vendor %s sub-order is %s", vendorID, sub.Status),
		}
	}

	if sub.TrackingNumber == "" {
		sub.TrackingNumber = trackingNumber
		sub.Carrier = carrier
	}
	if sub.ShippedAt == nil {
		sub.ShippedAt = &now
	}
	sub.Status = SubOrderStatusShipped

	for i := range o.Items {
		if o.Items[i].VendorID == vendorID && o.Items[i].Status == ItemStatusConfirmed {
			o.Items[i].Status = ItemStatusShipped
		}
	}

	if o.Status == OrderStatusReady || o.Status == OrderStatusShipped {
		if err := o.transition(OrderStatusShipped, actor, fmt.Sprintf("vendor %s shipped", vendorID), now); err != nil {
			return nil, err
		}
	}
	if o.ShippedAt == nil {
		o.ShippedAt = &now
	}

	return []Effect{
		notifyEffect(o.ID, o.BuyerID, "order_shipped", map[string]any{
			"order_number": o.Number,
			"tracking":     sub.TrackingNumber,
			"carrier":      sub.Carrier,
		}),
	}, nil
}

func (o *Order) MarkOutForDelivery(actor string, now time.Time) error {
	return o.transition(OrderStatusOutForDelivery, actor, "courier out for delivery", now)
}

// MarkItemDelivered records one item delivery. Order-level delivered is
// always derived from item aggregation, never set independently; the moment
// the last item lands the order moves delivered -> completed automatically.
func (o *Order) MarkItemDelivered(itemID uuid.UUID, actor string, now time.Time) ([]Effect, error) {
	item, err := o.item(itemID)
	if err != nil {
		return nil, err
	}

	if item.Status != ItemStatusShipped {
		return nil, InvariantViolation{
			Rule:   "item not shipped",
			Detail: fmt.Sprintf("item %s is %s", itemID, item.Status),
		}
	}
	item.Status = ItemStatusDelivered

	o.syncDeliveredSubOrders(now)

	allDelivered := lo.EveryBy(o.Items, func(i OrderItem) bool {
		return i.Status == ItemStatusDelivered || i.Status == ItemStatusCancelled
	})

	o.UpdatedAt = now

	if !allDelivered {
		return nil, nil
	}

	if err := o.transition(OrderStatusDelivered, actor, "all items delivered", now); err != nil {
		return nil, err
	}
	o.DeliveredAt = &now

	if err := o.transition(OrderStatusCompleted, "system", "auto-completed on delivery", now); err != nil {
		return nil, err
	}
	o.CompletedAt = &now

	return []Effect{
		notifyEffect(o.ID, o.BuyerID, "order_delivered", map[string]any{
			"order_number": o.Number,
		}),
	}, nil
}

func (o *Order) syncDeliveredSubOrders(now time.Time) {
	for i := range o.SubOrders {
		sub := &o.SubOrders[i]
		if sub.Status != SubOrderStatusShipped {
			continue
		}

		vendorDone := lo.EveryBy(o.Items, func(item OrderItem) bool {
			if item.VendorID != sub.VendorID {
				return true
			}
			return item.Status == ItemStatusDelivered || item.Status == ItemStatusCancelled
		})

		if vendorDone {
			sub.Status = SubOrderStatusDelivered
			sub.DeliveredAt = &now
		}
	}
}

// Cancel aborts the order while no vendor has progressed beyond confirmed.
// If the payment already completed it emits a full-refund intent; the order
// stays cancelled afterwards, the refund is a recorded sub-fact.
func (o *Order) Cancel(actor, note string, now time.Time) ([]Effect, error) {
	for _, sub := range o.SubOrders {
		if subOrderRank[sub.Status] > subOrderRank[SubOrderStatusConfirmed] {
			return nil, InvariantViolation{
				Rule:   "fulfillment started",
				Detail: fmt.Sprintf("vendor %s sub-order already %s", sub.VendorID, sub.Status),
			}
		}
	}

	if err := o.transition(OrderStatusCancelled, actor, note, now); err != nil {
		return nil, err
	}
	o.CancelledAt = &now

	effects := make([]Effect, 0, len(o.Items)+2)
	for i := range o.Items {
		item := &o.Items[i]
		if item.Status == ItemStatusCancelled {
			continue
		}
		effects = append(effects, inventoryEffect(EffectInventoryRelease, o.ID, item.ProductID, item.Quantity))
		item.Status = ItemStatusCancelled
	}
	for i := range o.SubOrders {
		o.SubOrders[i].Status = SubOrderStatusCancelled
	}

	if o.Payment.Status == PaymentStatusCompleted {
		paid := o.Payment.PaidAmount
		effects = append(effects, Effect{
			Type:      EffectRequestRefund,
			OrderID:   o.ID,
			PaymentID: o.Payment.PaymentID,
			Amount:    &paid,
			Data:      map[string]any{"reason": "order cancelled"},
		})
	}

	effects = append(effects, notifyEffect(o.ID, o.BuyerID, "order_cancelled", map[string]any{
		"order_number": o.Number,
		"note":         note,
	}))

	return effects, nil
}

// ApplyRefundOutcome derives the refund-ratio status. A cancelled order
// keeps its reason-based status and only records the refund in history.
func (o *Order) ApplyRefundOutcome(totalRefunded, paymentAmount Money, actor string, now time.Time) error {
	if !totalRefunded.IsPositive() {
		return ValidationError{Field: "totalRefunded", Reason: "must be positive"}
	}

	cmp, err := totalRefunded.Cmp(paymentAmount)
	if err != nil {
		return fmt.Errorf("totalRefunded.Cmp: %w", err)
	}

	note := fmt.Sprintf("refunded %s of %s", totalRefunded, paymentAmount)

	if o.Status == OrderStatusCancelled {
		o.History = append(o.History, StatusEntry{Status: o.Status, Actor: actor, Note: note, At: now})
		o.UpdatedAt = now
		return nil
	}

	target := OrderStatusPartiallyRefunded
	if cmp >= 0 {
		target = OrderStatusRefunded
	}

	if o.Status == target {
		return nil
	}

	return o.transition(target, actor, note, now)
}

// FlagDisputed parks the order for manual review while a payment dispute is
// open; the order is otherwise unchanged.
func (o *Order) FlagDisputed(actor, note string, now time.Time) ([]Effect, error) {
	if err := o.transition(OrderStatusDisputed, actor, note, now); err != nil {
		return nil, err
	}

	return []Effect{{
		Type:    EffectFlagManualReview,
		OrderID: o.ID,
		Data:    map[string]any{"reason": note},
	}}, nil
}

// ResolveDisputeWon returns a disputed order to completed.
func (o *Order) ResolveDisputeWon(actor string, now time.Time) error {
	return o.transition(OrderStatusCompleted, actor, "dispute won", now)
}

// RequestReturn records a return request for a subset of delivered items.
// The refund itself is routed through the refund manager on approval.
func (o *Order) RequestReturn(itemIDs []uuid.UUID, reason, actor string, now time.Time) (ReturnRequest, error) {
	var r ReturnRequest

	if o.Status != OrderStatusCompleted && o.Status != OrderStatusDelivered {
		return r, InvariantViolation{
			Rule:   "order not completed",
			Detail: fmt.Sprintf("returns are accepted on delivered orders, status is %s", o.Status),
		}
	}
	if len(itemIDs) == 0 {
		return r, ValidationError{Field: "itemIDs", Reason: "must not be empty"}
	}

	refundAmount := ZeroMoney(o.Pricing.Subtotal.Currency)
	for _, itemID := range itemIDs {
		item, err := o.item(itemID)
		if err != nil {
			return r, err
		}
		if item.Status != ItemStatusDelivered {
			return r, InvariantViolation{
				Rule:   "item not delivered",
				Detail: fmt.Sprintf("item %s is %s", itemID, item.Status),
			}
		}

		refundAmount, err = refundAmount.Add(item.LineTotal())
		if err != nil {
			return r, fmt.Errorf("refundAmount.Add: %w", err)
		}
	}

	r = ReturnRequest{
		ID:           uuid.New(),
		ItemIDs:      itemIDs,
		Reason:       reason,
		Status:       ReturnStatusRequested,
		RefundAmount: refundAmount,
		RequestedAt:  now,
	}

	o.Returns = append(o.Returns, r)
	o.History = append(o.History, StatusEntry{Status: o.Status, Actor: actor, Note: "return requested: " + reason, At: now})
	o.UpdatedAt = now

	return r, nil
}

// ResolveReturn approves or rejects a pending return request.
func (o *Order) ResolveReturn(returnID uuid.UUID, approved bool, actor string, now time.Time) (ReturnRequest, error) {
	var zero ReturnRequest

	for i := range o.Returns {
		r := &o.Returns[i]
		if r.ID != returnID {
			continue
		}

		if r.Status != ReturnStatusRequested {
			return zero, InvariantViolation{
				Rule:   "return already resolved",
				Detail: fmt.Sprintf("return %s is %s", returnID, r.Status),
			}
		}

		if approved {
			r.Status = ReturnStatusApproved
		} else {
			r.Status = ReturnStatusRejected
		}
		r.ResolvedAt = &now
		o.UpdatedAt = now

		return *r, nil
	}

	return zero, ValidationError{Field: "returnID", Reason: "no such return request"}
}

// MarkReturnRefunded closes an approved return once its refund completed,
// flipping the affected items to returned.
func (o *Order) MarkReturnRefunded(returnID uuid.UUID, now time.Time) error {
	for i := range o.Returns {
		r := &o.Returns[i]
		if r.ID != returnID {
			continue
		}

		if r.Status != ReturnStatusApproved {
			return InvariantViolation{
				Rule:   "return not approved",
				Detail: fmt.Sprintf("return %s is %s", returnID, r.Status),
			}
		}

		r.Status = ReturnStatusRefunded
		for _, itemID := range r.ItemIDs {
			if item, err := o.item(itemID); err == nil {
				item.Status = ItemStatusReturned
			}
		}
		o.UpdatedAt = now

		return nil
	}

	return ValidationError{Field: "returnID", Reason: "no such return request"}
}

// SyncPaymentSummary refreshes the denormalized payment mirror.
func (o *Order) SyncPaymentSummary(summary PaymentSummary, now time.Time) {
	o.Payment = summary
	o.UpdatedAt = now
}

func (o *Order) subOrder(vendorID uuid.UUID) (*VendorSubOrder, error) {
	for i := range o.SubOrders {
		if o.SubOrders[i].VendorID == vendorID {
			return &o.SubOrders[i], nil
		}
	}
	return nil, ValidationError{Field: "vendorID", Reason: fmt.Sprintf("no sub-order for vendor %s", vendorID)}
}

func (o *Order) item(itemID uuid.UUID) (*OrderItem, error) {
	for i := range o.Items {
		if o.Items[i].ID == itemID {
			return &o.Items[i], nil
		}
	}
	return nil, ValidationError{Field: "itemID", Reason: fmt.Sprintf("no item %s", itemID)}
}
