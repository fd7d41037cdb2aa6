package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureSchema creates the settlement tables if they are absent. Aggregates
// are stored as JSONB documents with the optimistic version held in its own
// column; processed_events and effect_outbox back the reconciliation
// coordinator.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS orders (
  id           uuid PRIMARY KEY,
  order_number text NOT NULL UNIQUE,
  status       text NOT NULL,
  version      bigint NOT NULL,
  payload      jsonb NOT NULL,
  created_at   timestamptz NOT NULL,
  updated_at   timestamptz NOT NULL,
  deleted_at   timestamptz
);

CREATE TABLE IF NOT EXISTS payments (
  id            uuid PRIMARY KEY,
  order_id      uuid NOT NULL,
  gateway_tx_id text UNIQUE,
  status        text NOT NULL,
  version       bigint NOT NULL,
  payload       jsonb NOT NULL,
  created_at    timestamptz NOT NULL,
  updated_at    timestamptz NOT NULL
);

CREATE INDEX IF NOT EXISTS payments_order_id_idx ON payments (order_id);

CREATE TABLE IF NOT EXISTS processed_events (
  event_id   text PRIMARY KEY,
  applied_at timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS effect_outbox (
  id         bigserial PRIMARY KEY,
  payload    jsonb NOT NULL,
  created_at timestamptz NOT NULL DEFAULT now(),
  sent_at    timestamptz
);`)
	if err != nil {
		return fmt.Errorf("pool.Exec: %w", err)
	}

	return nil
}
