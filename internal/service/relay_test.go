package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikolayk812/marketcore/internal/domain"
	"github.com/nikolayk812/marketcore/internal/service"
)

type recordingNotifier struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (n *recordingNotifier) Notify(_ context.Context, recipient, template string, _ map[string]any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.calls = append(n.calls, recipient+"/"+template)
	return nil
}

type recordingInventory struct {
	mu  sync.Mutex
	ops []string
}

func (i *recordingInventory) record(op string, productID uuid.UUID) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.ops = append(i.ops, op+":"+productID.String())
	return nil
}

func (i *recordingInventory) Reserve(_ context.Context, productID uuid.UUID, _ int32) error {
	return i.record("reserve", productID)
}

func (i *recordingInventory) Release(_ context.Context, productID uuid.UUID, _ int32) error {
	return i.record("release", productID)
}

func (i *recordingInventory) Decrement(_ context.Context, productID uuid.UUID, _ int32) error {
	return i.record("decrement", productID)
}

func newRelay(t *testing.T, store *memStore, notifier *recordingNotifier, inventory *recordingInventory, refunds *service.RefundManager) *service.Relay {
	t.Helper()

	relay, err := service.NewRelay(store.Repos().Effects, notifier, inventory, refunds, nil)
	require.NoError(t, err)
	return relay
}

func TestRelayDeliversCheckoutEffects(t *testing.T) {
	store := newMemStore()
	gw := approvingGateway()
	refunds := newRefundManager(t, store, gw)
	notifier := &recordingNotifier{}
	inventory := &recordingInventory{}
	relay := newRelay(t, store, notifier, inventory, refunds)

	order, _ := placeTestOrder(t, store)

	require.NoError(t, relay.RunOnce(t.Context()))

	assert.Len(t, inventory.ops, len(order.Items))
	require.Len(t, notifier.calls, 1)
	assert.Equal(t, order.BuyerID+"/order_placed", notifier.calls[0])

	assert.Empty(t, store.pendingEffects(), "delivered effects leave the queue")
}

func TestRelayKeepsFailedEffectsPending(t *testing.T) {
	store := newMemStore()
	gw := approvingGateway()
	refunds := newRefundManager(t, store, gw)
	notifier := &recordingNotifier{err: errors.New("broker down")}
	inventory := &recordingInventory{}
	relay := newRelay(t, store, notifier, inventory, refunds)

	placeTestOrder(t, store)

	require.NoError(t, relay.RunOnce(t.Context()))

	// inventory reservations went through, the notification stayed queued
	remaining := store.effectsOfType(domain.EffectNotify)
	require.Len(t, remaining, 1)

	notifier.err = nil
	require.NoError(t, relay.RunOnce(t.Context()))
	assert.Empty(t, store.pendingEffects())
}

func TestRelayExecutesCancellationRefund(t *testing.T) {
	store := newMemStore()
	coordinator := newCoordinator(t, store)
	gw := approvingGateway()
	refunds := newRefundManager(t, store, gw)
	notifier := &recordingNotifier{}
	inventory := &recordingInventory{}
	relay := newRelay(t, store, notifier, inventory, refunds)

	order, payment := placeTestOrder(t, store)
	completeTestPayment(t, store, coordinator, payment.ID)

	_, err := coordinator.UpdateOrderStatus(t.Context(), service.StatusUpdateInput{
		OrderID: order.ID,
		Target:  domain.OrderStatusCancelled,
		Actor:   "buyer",
		Note:    "changed my mind",
	})
	require.NoError(t, err)

	require.NoError(t, relay.RunOnce(t.Context()))
	require.NoError(t, relay.RunOnce(t.Context()), "effects enqueued by the refund itself drain on the next pass")

	assert.Equal(t, 1, gw.refundCalls)

	stored, err := store.Repos().Payments.GetPayment(t.Context(), payment.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusRefunded, stored.Status)

	// the cancelled order keeps its reason-based status
	storedOrder, err := store.Repos().Orders.GetOrder(t.Context(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, storedOrder.Status)
}

func TestRelayRefundReplayIsSatisfied(t *testing.T) {
	store := newMemStore()
	coordinator := newCoordinator(t, store)
	gw := approvingGateway()
	refunds := newRefundManager(t, store, gw)
	notifier := &recordingNotifier{}
	inventory := &recordingInventory{}
	relay := newRelay(t, store, notifier, inventory, refunds)

	order, payment := placeTestOrder(t, store)
	completeTestPayment(t, store, coordinator, payment.ID)

	_, err := coordinator.UpdateOrderStatus(t.Context(), service.StatusUpdateInput{
		OrderID: order.ID,
		Target:  domain.OrderStatusCancelled,
		Actor:   "buyer",
	})
	require.NoError(t, err)

	require.NoError(t, relay.RunOnce(t.Context()))

	// replay the same refund intent as a crashed relay would
	amount := usd("150.00")
	require.NoError(t, store.Repos().Effects.Enqueue(t.Context(), []domain.Effect{{
		Type:      domain.EffectRequestRefund,
		OrderID:   order.ID,
		PaymentID: payment.ID,
		Amount:    &amount,
	}}))

	for i := 0; i < 3; i++ {
		require.NoError(t, relay.RunOnce(t.Context()))
	}

	assert.Equal(t, 1, gw.refundCalls, "a fully refunded payment never hits the gateway again")
	assert.Empty(t, store.pendingEffects(), "the replayed intent is acknowledged, not retried forever")

	stored, err := store.Repos().Payments.GetPayment(t.Context(), payment.ID)
	require.NoError(t, err)
	require.NoError(t, stored.CheckInvariants())
	assert.Equal(t, domain.PaymentStatusRefunded, stored.Status)
}
