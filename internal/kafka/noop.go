package kafka

import (
	"context"

	"github.com/google/uuid"
)

// Noop adapters stand in when no brokers are configured (local runs, tests).

type NoopNotifier struct{}

func (NoopNotifier) Notify(_ context.Context, _, _ string, _ map[string]any) error {
	return nil
}

type NoopInventory struct{}

func (NoopInventory) Reserve(_ context.Context, _ uuid.UUID, _ int32) error   { return nil }
func (NoopInventory) Release(_ context.Context, _ uuid.UUID, _ int32) error   { return nil }
func (NoopInventory) Decrement(_ context.Context, _ uuid.UUID, _ int32) error { return nil }
