package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nikolayk812/marketcore/internal/domain"
	"github.com/nikolayk812/marketcore/internal/port"
)

type orderRepository struct {
	db querier
}

func NewOrder(pool *pgxpool.Pool) port.OrderRepository {
	return &orderRepository{db: pool}
}

func NewOrderWithTx(tx pgx.Tx) port.OrderRepository {
	return &orderRepository{db: tx}
}

func (r *orderRepository) GetOrder(ctx context.Context, orderID uuid.UUID) (domain.Order, error) {
	return r.getOrder(ctx, `SELECT payload, version FROM orders WHERE id = $1 AND deleted_at IS NULL`, orderID)
}

func (r *orderRepository) GetOrderByNumber(ctx context.Context, number string) (domain.Order, error) {
	return r.getOrder(ctx, `SELECT payload, version FROM orders WHERE order_number = $1 AND deleted_at IS NULL`, number)
}

func (r *orderRepository) getOrder(ctx context.Context, query string, arg any) (domain.Order, error) {
	var o domain.Order

	var (
		payload []byte
		version int64
	)

	if err := r.db.QueryRow(ctx, query, arg).Scan(&payload, &version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return o, fmt.Errorf("db.QueryRow: %w", domain.ErrOrderNotFound)
		}
		return o, fmt.Errorf("db.QueryRow: %w", err)
	}

	order, err := unmarshalOrder(payload, version)
	if err != nil {
		return o, fmt.Errorf("unmarshalOrder: %w", err)
	}

	return order, nil
}

func (r *orderRepository) InsertOrder(ctx context.Context, order domain.Order) error {
	if len(order.Items) == 0 {
		return errors.New("no items in order")
	}

	order.Version = 1

	payload, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("json.Marshal: %w", err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO orders (id, order_number, status, version, payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		order.ID, order.Number, string(order.Status), order.Version, payload, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("db.Exec: %w", err)
	}

	return nil
}

// UpdateOrder writes the aggregate guarded by the version it was read at.
// A stale version yields domain.ConflictError and no mutation.
func (r *orderRepository) UpdateOrder(ctx context.Context, order domain.Order) (domain.Order, error) {
	var o domain.Order

	if err := order.CheckInvariants(); err != nil {
		return o, fmt.Errorf("order.CheckInvariants: %w", err)
	}

	readVersion := order.Version
	order.Version = readVersion + 1

	payload, err := json.Marshal(order)
	if err != nil {
		return o, fmt.Errorf("json.Marshal: %w", err)
	}

	cmdTag, err := r.db.Exec(ctx, `
		UPDATE orders
		SET status = $2, version = $3, payload = $4, updated_at = $5
		WHERE id = $1 AND version = $6 AND deleted_at IS NULL`,
		order.ID, string(order.Status), order.Version, payload, order.UpdatedAt, readVersion)
	if err != nil {
		return o, fmt.Errorf("db.Exec: %w", err)
	}

	if cmdTag.RowsAffected() == 0 {
		if _, getErr := r.GetOrder(ctx, order.ID); getErr != nil {
			return o, fmt.Errorf("r.GetOrder: %w", getErr)
		}
		return o, domain.ConflictError{AggregateID: order.ID}
	}

	return order, nil
}

// SoftDeleteOrder retains the row for audit; used only for legal erasure
// requests, settlement history is never physically deleted.
func (r *orderRepository) SoftDeleteOrder(ctx context.Context, orderID uuid.UUID) error {
	if orderID == uuid.Nil {
		return fmt.Errorf("orderID is empty")
	}

	cmdTag, err := r.db.Exec(ctx,
		`UPDATE orders SET deleted_at = now() WHERE id = $1 AND deleted_at IS NULL`, orderID)
	if err != nil {
		return fmt.Errorf("db.Exec: %w", err)
	}

	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("db.Exec: %w", domain.ErrOrderNotFound)
	}

	return nil
}

// unmarshalOrder decodes the stored document and verifies its invariants:
// a corrupted aggregate halts the operation instead of being repaired.
func unmarshalOrder(payload []byte, version int64) (domain.Order, error) {
	var order domain.Order

	if err := json.Unmarshal(payload, &order); err != nil {
		return order, fmt.Errorf("json.Unmarshal: %w", err)
	}

	// version column is the source of truth
	order.Version = version

	if err := order.CheckInvariants(); err != nil {
		return order, fmt.Errorf("order.CheckInvariants: %w", err)
	}

	return order, nil
}
