package port

import (
	"context"

	"github.com/nikolayk812/marketcore/internal/domain"
)

// EventRepository deduplicates externally-sourced events. MarkApplied is
// called inside the same transaction as the resulting state change, so a
// replayed event id can never commit a second transition.
type EventRepository interface {
	// MarkApplied records the event id, returning domain.ErrDuplicateEvent
	// if it was applied before.
	MarkApplied(ctx context.Context, eventID string) error

	WasApplied(ctx context.Context, eventID string) (bool, error)
}

// QueuedEffect is a persisted side-effect intent awaiting delivery.
type QueuedEffect struct {
	ID     int64
	Effect domain.Effect
}

// EffectOutbox stores side-effect intents committed together with the
// aggregate write; a relay delivers them to collaborators at-least-once.
type EffectOutbox interface {
	Enqueue(ctx context.Context, effects []domain.Effect) error
	FetchPending(ctx context.Context, limit int) ([]QueuedEffect, error)
	MarkSent(ctx context.Context, id int64) error
}

// RepositorySet bundles the repositories bound to one transaction.
type RepositorySet struct {
	Orders   OrderRepository
	Payments PaymentRepository
	Events   EventRepository
	Effects  EffectOutbox
}

// TxRunner executes fn with a RepositorySet scoped to a single database
// transaction; fn returning an error rolls everything back.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(repos RepositorySet) error) error

	// Repos returns a set bound to the pool for single-statement reads.
	Repos() RepositorySet
}
