package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nikolayk812/marketcore/internal/domain"
	"github.com/nikolayk812/marketcore/internal/port"
)

type eventRepository struct {
	db querier
}

func NewEvent(pool *pgxpool.Pool) port.EventRepository {
	return &eventRepository{db: pool}
}

// MarkApplied records an external event id. ON CONFLICT DO NOTHING makes
// the insert race-safe: whoever loses the race sees zero rows affected and
// reports the duplicate.
func (r *eventRepository) MarkApplied(ctx context.Context, eventID string) error {
	if eventID == "" {
		return domain.ValidationError{Field: "eventID", Reason: "must not be empty"}
	}

	cmdTag, err := r.db.Exec(ctx,
		`INSERT INTO processed_events (event_id) VALUES ($1) ON CONFLICT (event_id) DO NOTHING`, eventID)
	if err != nil {
		return fmt.Errorf("db.Exec: %w", err)
	}

	if cmdTag.RowsAffected() == 0 {
		return domain.ErrDuplicateEvent
	}

	return nil
}

func (r *eventRepository) WasApplied(ctx context.Context, eventID string) (bool, error) {
	var exists bool

	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM processed_events WHERE event_id = $1)`, eventID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("db.QueryRow: %w", err)
	}

	return exists, nil
}

type effectOutbox struct {
	db querier
}

func NewEffectOutbox(pool *pgxpool.Pool) port.EffectOutbox {
	return &effectOutbox{db: pool}
}

func (r *effectOutbox) Enqueue(ctx context.Context, effects []domain.Effect) error {
	for _, effect := range effects {
		payload, err := json.Marshal(effect)
		if err != nil {
			return fmt.Errorf("json.Marshal: %w", err)
		}

		if _, err := r.db.Exec(ctx,
			`INSERT INTO effect_outbox (payload) VALUES ($1)`, payload); err != nil {
			return fmt.Errorf("db.Exec: %w", err)
		}
	}

	return nil
}

func (r *effectOutbox) FetchPending(ctx context.Context, limit int) ([]port.QueuedEffect, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, payload FROM effect_outbox WHERE sent_at IS NULL ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("db.Query: %w", err)
	}
	defer rows.Close()

	var out []port.QueuedEffect
	for rows.Next() {
		var (
			queued  port.QueuedEffect
			payload []byte
		)

		if err := rows.Scan(&queued.ID, &payload); err != nil {
			return nil, fmt.Errorf("rows.Scan: %w", err)
		}

		if err := json.Unmarshal(payload, &queued.Effect); err != nil {
			return nil, fmt.Errorf("json.Unmarshal: %w", err)
		}

		out = append(out, queued)
	}

	return out, rows.Err()
}

func (r *effectOutbox) MarkSent(ctx context.Context, id int64) error {
	if _, err := r.db.Exec(ctx,
		`UPDATE effect_outbox SET sent_at = now() WHERE id = $1`, id); err != nil {
		return fmt.Errorf("db.Exec: %w", err)
	}

	return nil
}
