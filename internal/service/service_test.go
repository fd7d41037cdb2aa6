package service_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/currency"

	"github.com/nikolayk812/marketcore/internal/domain"
	"github.com/nikolayk812/marketcore/internal/port"
	"github.com/nikolayk812/marketcore/internal/service"
	"github.com/nikolayk812/marketcore/internal/settlement"
)

// memStore is an in-memory stand-in for the postgres repositories with the
// same version-guard and event-dedup semantics. WithTx snapshots the state
// and commits only when fn succeeds, so rollbacks behave like the real thing.
type memStore struct {
	mu sync.Mutex

	orders   map[uuid.UUID]domain.Order
	payments map[uuid.UUID]domain.Payment
	events   map[string]struct{}
	effects  []port.QueuedEffect
	nextID   int64

	// injectConflicts makes the next N payment updates fail with a version
	// conflict before succeeding, to exercise the retry path.
	injectConflicts int
}

func newMemStore() *memStore {
	return &memStore{
		orders:   make(map[uuid.UUID]domain.Order),
		payments: make(map[uuid.UUID]domain.Payment),
		events:   make(map[string]struct{}),
	}
}

type memSnapshot struct {
	orders   map[uuid.UUID]domain.Order
	payments map[uuid.UUID]domain.Payment
	events   map[string]struct{}
	effects  []port.QueuedEffect
	nextID   int64
}

func (s *memStore) snapshot() memSnapshot {
	return memSnapshot{
		orders:   lo.Assign(map[uuid.UUID]domain.Order{}, s.orders),
		payments: lo.Assign(map[uuid.UUID]domain.Payment{}, s.payments),
		events:   lo.Assign(map[string]struct{}{}, s.events),
		effects:  append([]port.QueuedEffect{}, s.effects...),
		nextID:   s.nextID,
	}
}

func (s *memStore) restore(snap memSnapshot) {
	s.orders = snap.orders
	s.payments = snap.payments
	s.events = snap.events
	s.effects = snap.effects
	s.nextID = snap.nextID
}

func (s *memStore) WithTx(_ context.Context, fn func(repos port.RepositorySet) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	if err := fn(s.repoSet()); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func (s *memStore) Repos() port.RepositorySet {
	return s.repoSet()
}

func (s *memStore) repoSet() port.RepositorySet {
	return port.RepositorySet{
		Orders:   (*memOrders)(s),
		Payments: (*memPayments)(s),
		Events:   (*memEvents)(s),
		Effects:  (*memEffects)(s),
	}
}

func (s *memStore) pendingEffects() []port.QueuedEffect {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]port.QueuedEffect{}, s.effects...)
}

func (s *memStore) effectsOfType(effectType domain.EffectType) []domain.Effect {
	return lo.FilterMap(s.pendingEffects(), func(q port.QueuedEffect, _ int) (domain.Effect, bool) {
		return q.Effect, q.Effect.Type == effectType
	})
}

type memOrders memStore

func (r *memOrders) GetOrder(_ context.Context, orderID uuid.UUID) (domain.Order, error) {
	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, fmt.Errorf("order[%s]: %w", orderID, domain.ErrOrderNotFound)
	}
	return order, nil
}

func (r *memOrders) GetOrderByNumber(_ context.Context, number string) (domain.Order, error) {
	for _, order := range r.orders {
		if order.Number == number {
			return order, nil
		}
	}
	return domain.Order{}, fmt.Errorf("order[%s]: %w", number, domain.ErrOrderNotFound)
}

func (r *memOrders) InsertOrder(_ context.Context, order domain.Order) error {
	order.Version = 1
	r.orders[order.ID] = order
	return nil
}

func (r *memOrders) UpdateOrder(_ context.Context, order domain.Order) (domain.Order, error) {
	stored, ok := r.orders[order.ID]
	if !ok {
		return domain.Order{}, fmt.Errorf("order[%s]: %w", order.ID, domain.ErrOrderNotFound)
	}
	if stored.Version != order.Version {
		return domain.Order{}, domain.ConflictError{AggregateID: order.ID}
	}

	order.Version++
	r.orders[order.ID] = order
	return order, nil
}

func (r *memOrders) SoftDeleteOrder(_ context.Context, orderID uuid.UUID) error {
	delete(r.orders, orderID)
	return nil
}

type memPayments memStore

func (r *memPayments) GetPayment(_ context.Context, paymentID uuid.UUID) (domain.Payment, error) {
	payment, ok := r.payments[paymentID]
	if !ok {
		return domain.Payment{}, fmt.Errorf("payment[%s]: %w", paymentID, domain.ErrPaymentNotFound)
	}
	return payment, nil
}

func (r *memPayments) GetPaymentByOrder(_ context.Context, orderID uuid.UUID) (domain.Payment, error) {
	for _, payment := range r.payments {
		if payment.OrderID == orderID {
			return payment, nil
		}
	}
	return domain.Payment{}, fmt.Errorf("payment for order[%s]: %w", orderID, domain.ErrPaymentNotFound)
}

func (r *memPayments) GetPaymentByGatewayTx(_ context.Context, gatewayTxID string) (domain.Payment, error) {
	for _, payment := range r.payments {
		if payment.GatewayTxID != nil && *payment.GatewayTxID == gatewayTxID {
			return payment, nil
		}
	}
	return domain.Payment{}, fmt.Errorf("payment for tx[%s]: %w", gatewayTxID, domain.ErrPaymentNotFound)
}

func (r *memPayments) InsertPayment(_ context.Context, payment domain.Payment) error {
	payment.Version = 1
	r.payments[payment.ID] = payment
	return nil
}

func (r *memPayments) UpdatePayment(_ context.Context, payment domain.Payment) (domain.Payment, error) {
	if r.injectConflicts > 0 {
		r.injectConflicts--
		return domain.Payment{}, domain.ConflictError{AggregateID: payment.ID}
	}

	stored, ok := r.payments[payment.ID]
	if !ok {
		return domain.Payment{}, fmt.Errorf("payment[%s]: %w", payment.ID, domain.ErrPaymentNotFound)
	}
	if stored.Version != payment.Version {
		return domain.Payment{}, domain.ConflictError{AggregateID: payment.ID}
	}

	payment.Version++
	r.payments[payment.ID] = payment
	return payment, nil
}

type memEvents memStore

func (r *memEvents) MarkApplied(_ context.Context, eventID string) error {
	if _, ok := r.events[eventID]; ok {
		return fmt.Errorf("event[%s]: %w", eventID, domain.ErrDuplicateEvent)
	}
	r.events[eventID] = struct{}{}
	return nil
}

func (r *memEvents) WasApplied(_ context.Context, eventID string) (bool, error) {
	_, ok := r.events[eventID]
	return ok, nil
}

type memEffects memStore

func (r *memEffects) Enqueue(_ context.Context, effects []domain.Effect) error {
	for _, effect := range effects {
		r.nextID++
		r.effects = append(r.effects, port.QueuedEffect{ID: r.nextID, Effect: effect})
	}
	return nil
}

func (r *memEffects) FetchPending(_ context.Context, limit int) ([]port.QueuedEffect, error) {
	if limit > len(r.effects) {
		limit = len(r.effects)
	}
	return append([]port.QueuedEffect{}, r.effects[:limit]...), nil
}

func (r *memEffects) MarkSent(_ context.Context, id int64) error {
	r.effects = lo.Filter(r.effects, func(q port.QueuedEffect, _ int) bool {
		return q.ID != id
	})
	return nil
}

// stubGateway returns scripted answers and records calls.
type stubGateway struct {
	mu sync.Mutex

	authorizeResult port.GatewayResult
	authorizeErr    error
	captureResult   port.GatewayResult
	captureErr      error
	refundResult    port.RefundResult
	refundErr       error
	voidErr         error

	refundCalls int
}

func approvingGateway() *stubGateway {
	return &stubGateway{
		authorizeResult: port.GatewayResult{TransactionID: "tx-" + gofakeit.LetterN(8), Approved: true},
		captureResult:   port.GatewayResult{Approved: true},
		refundResult:    port.RefundResult{RefundID: "ref-" + gofakeit.LetterN(8), Approved: true},
	}
}

func (g *stubGateway) Authorize(_ context.Context, _ domain.Money, _ string) (port.GatewayResult, error) {
	return g.authorizeResult, g.authorizeErr
}

func (g *stubGateway) Capture(_ context.Context, _ string, _ domain.Money) (port.GatewayResult, error) {
	return g.captureResult, g.captureErr
}

func (g *stubGateway) Refund(_ context.Context, _ string, _ domain.Money) (port.RefundResult, error) {
	g.mu.Lock()
	g.refundCalls++
	g.mu.Unlock()
	return g.refundResult, g.refundErr
}

func (g *stubGateway) Void(_ context.Context, _ string) error {
	return g.voidErr
}

func usd(s string) domain.Money {
	return domain.NewMoney(decimal.RequireFromString(s), currency.USD)
}

// placeTestOrder runs a checkout against the store: two vendors, 100.00 at
// 10% and 50.00 at 15%, total 150.00.
func placeTestOrder(t *testing.T, store *memStore) (domain.Order, domain.Payment) {
	t.Helper()

	vendorA := uuid.New()
	vendorB := uuid.New()

	resolver := settlement.NewStaticResolver(decimal.NewFromInt(10)).
		WithVendorRate(vendorB, decimal.NewFromInt(15))

	checkout, err := service.NewCheckout(store, resolver, nil)
	require.NoError(t, err)

	order, payment, err := checkout.PlaceOrder(t.Context(), service.PlaceOrderInput{
		BuyerID: gofakeit.UUID(),
		Method:  "card",
		Items: []service.ItemInput{
			{
				ProductID: uuid.New(),
				VendorID:  vendorA,
				StoreID:   uuid.New(),
				Category:  "electronics",
				UnitPrice: usd("50.00"),
				Quantity:  2,
			},
			{
				ProductID: uuid.New(),
				VendorID:  vendorB,
				StoreID:   uuid.New(),
				Category:  "books",
				UnitPrice: usd("50.00"),
				Quantity:  1,
			},
		},
	})
	require.NoError(t, err)

	return order, payment
}

// completeTestPayment pushes a placed payment through to completed via the
// coordinator, as the gateway webhook would.
func completeTestPayment(t *testing.T, store *memStore, coordinator *service.Coordinator, paymentID uuid.UUID) domain.Payment {
	t.Helper()

	outcome, err := coordinator.ApplyGatewayEvent(t.Context(), service.GatewayEvent{
		EventID:       "evt-" + uuid.NewString(),
		Type:          service.EventPaymentSucceeded,
		TransactionID: "tx-" + gofakeit.LetterN(8),
		PaymentID:     paymentID,
	})
	require.NoError(t, err)
	require.False(t, outcome.Duplicate)
	require.Equal(t, domain.PaymentStatusCompleted, outcome.Payment.Status)

	return outcome.Payment
}

func newCoordinator(t *testing.T, store *memStore) *service.Coordinator {
	t.Helper()

	coordinator, err := service.NewCoordinator(store, nil, nil)
	require.NoError(t, err)
	return coordinator
}

func newRefundManager(t *testing.T, store *memStore, gw port.Gateway) *service.RefundManager {
	t.Helper()

	refunds, err := service.NewRefundManager(store, gw, nil, nil)
	require.NoError(t, err)
	return refunds
}
