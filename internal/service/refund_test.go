package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikolayk812/marketcore/internal/domain"
)

func TestRequestRefundFullFlow(t *testing.T) {
	store := newMemStore()
	coordinator := newCoordinator(t, store)
	gw := approvingGateway()
	refunds := newRefundManager(t, store, gw)

	order, payment := placeTestOrder(t, store) // total 150.00
	completeTestPayment(t, store, coordinator, payment.ID)

	// over the collected amount: rejected before any gateway call
	_, err := refunds.RequestRefund(t.Context(), payment.ID, usd("160.00"), "buyer unhappy", "admin")
	var validation domain.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Zero(t, gw.refundCalls)

	// exactly the collected amount: settles and cascades to the order
	refund, err := refunds.RequestRefund(t.Context(), payment.ID, usd("150.00"), "buyer unhappy", "admin")
	require.NoError(t, err)
	assert.Equal(t, domain.RefundStatusCompleted, refund.Status)
	assert.Equal(t, 1, gw.refundCalls)

	stored, err := store.Repos().Payments.GetPayment(t.Context(), payment.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusRefunded, stored.Status)
	assert.True(t, stored.RefundableAmount().IsZero())

	storedOrder, err := store.Repos().Orders.GetOrder(t.Context(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusRefunded, storedOrder.Status)
}

func TestRequestRefundPartialSetsRatioStatus(t *testing.T) {
	store := newMemStore()
	coordinator := newCoordinator(t, store)
	gw := approvingGateway()
	refunds := newRefundManager(t, store, gw)

	order, payment := placeTestOrder(t, store)
	completeTestPayment(t, store, coordinator, payment.ID)

	_, err := refunds.RequestRefund(t.Context(), payment.ID, usd("50.00"), "one item damaged", "admin")
	require.NoError(t, err)

	stored, err := store.Repos().Payments.GetPayment(t.Context(), payment.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPartiallyRefunded, stored.Status)
	assert.True(t, stored.RefundableAmount().Amount.Equal(decimal.RequireFromString("100.00")))

	storedOrder, err := store.Repos().Orders.GetOrder(t.Context(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPartiallyRefunded, storedOrder.Status)
}

func TestRequestRefundGatewayDecline(t *testing.T) {
	store := newMemStore()
	coordinator := newCoordinator(t, store)
	gw := approvingGateway()
	gw.refundResult.Approved = false
	gw.refundResult.Code = "processor_unavailable"
	refunds := newRefundManager(t, store, gw)

	_, payment := placeTestOrder(t, store)
	completeTestPayment(t, store, coordinator, payment.ID)

	_, err := refunds.RequestRefund(t.Context(), payment.ID, usd("50.00"), "damaged", "admin")

	var gatewayErr domain.GatewayError
	require.ErrorAs(t, err, &gatewayErr)
	assert.False(t, gatewayErr.Unknown)

	stored, err := store.Repos().Payments.GetPayment(t.Context(), payment.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCompleted, stored.Status, "decline leaves the payment untouched")
	require.Len(t, stored.Refunds, 1)
	assert.Equal(t, domain.RefundStatusFailed, stored.Refunds[0].Status)
}

func TestProcessRefundReplayReturnsPriorResult(t *testing.T) {
	store := newMemStore()
	coordinator := newCoordinator(t, store)
	gw := approvingGateway()
	refunds := newRefundManager(t, store, gw)

	_, payment := placeTestOrder(t, store)
	completeTestPayment(t, store, coordinator, payment.ID)

	refund, err := refunds.RequestRefund(t.Context(), payment.ID, usd("50.00"), "damaged", "admin")
	require.NoError(t, err)
	require.Equal(t, 1, gw.refundCalls)

	replayed, err := refunds.ProcessRefund(t.Context(), payment.ID, refund.ID)
	require.NoError(t, err)

	assert.Equal(t, refund.ID, replayed.ID)
	assert.Equal(t, domain.RefundStatusCompleted, replayed.Status)
	assert.Equal(t, 1, gw.refundCalls, "a completed refund never goes back to the gateway")

	stored, err := store.Repos().Payments.GetPayment(t.Context(), payment.ID)
	require.NoError(t, err)
	assert.True(t, stored.TotalCompletedRefunds().Amount.Equal(decimal.RequireFromString("50.00")))
}

func TestProcessRefundResumesPendingAfterTimeout(t *testing.T) {
	store := newMemStore()
	coordinator := newCoordinator(t, store)
	gw := approvingGateway()
	refunds := newRefundManager(t, store, gw)

	_, payment := placeTestOrder(t, store)
	completeTestPayment(t, store, coordinator, payment.ID)

	gw.refundErr = context.DeadlineExceeded
	pending, err := refunds.RequestRefund(t.Context(), payment.ID, usd("50.00"), "damaged", "admin")

	var gatewayErr domain.GatewayError
	require.ErrorAs(t, err, &gatewayErr)
	require.True(t, gatewayErr.Unknown)
	require.Equal(t, domain.RefundStatusPending, pending.Status)

	gw.refundErr = nil
	settled, err := refunds.ProcessRefund(t.Context(), payment.ID, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RefundStatusCompleted, settled.Status)
}

func TestOpenDisputeFreezesAndFlagsOrder(t *testing.T) {
	store := newMemStore()
	coordinator := newCoordinator(t, store)
	gw := approvingGateway()
	refunds := newRefundManager(t, store, gw)

	order, payment := placeTestOrder(t, store)
	completeTestPayment(t, store, coordinator, payment.ID)

	dispute, err := refunds.OpenDispute(t.Context(), payment.ID, "fraud claim", usd("150.00"), nil, "gateway")
	require.NoError(t, err)
	assert.Equal(t, domain.DisputeStatusOpen, dispute.Status)

	stored, err := store.Repos().Payments.GetPayment(t.Context(), payment.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusDisputed, stored.Status)

	storedOrder, err := store.Repos().Orders.GetOrder(t.Context(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusDisputed, storedOrder.Status)

	_, err = refunds.RequestRefund(t.Context(), payment.ID, usd("10.00"), "goodwill", "admin")
	var violation domain.InvariantViolation
	require.ErrorAs(t, err, &violation)
	assert.Zero(t, gw.refundCalls)

	reviews := store.effectsOfType(domain.EffectFlagManualReview)
	assert.NotEmpty(t, reviews)
}

func TestResolveDisputeLostRefundsOrder(t *testing.T) {
	store := newMemStore()
	coordinator := newCoordinator(t, store)
	gw := approvingGateway()
	refunds := newRefundManager(t, store, gw)

	order, payment := placeTestOrder(t, store)
	completeTestPayment(t, store, coordinator, payment.ID)

	dispute, err := refunds.OpenDispute(t.Context(), payment.ID, "chargeback", usd("150.00"), nil, "gateway")
	require.NoError(t, err)

	resolved, err := refunds.ResolveDispute(t.Context(), payment.ID, dispute.ID, false, "admin")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusRefunded, resolved.Status)
	require.NoError(t, resolved.CheckInvariants())

	storedOrder, err := store.Repos().Orders.GetOrder(t.Context(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusRefunded, storedOrder.Status)
}

func TestRefundForUnknownPayment(t *testing.T) {
	store := newMemStore()
	gw := approvingGateway()
	refunds := newRefundManager(t, store, gw)

	_, err := refunds.RequestRefund(t.Context(), uuid.New(), usd("10.00"), "nope", "admin")
	require.True(t, errors.Is(err, domain.ErrPaymentNotFound))
}
