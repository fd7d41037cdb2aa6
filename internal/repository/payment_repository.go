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

type paymentRepository struct {
	db querier
}

func NewPayment(pool *pgxpool.Pool) port.PaymentRepository {
	return &paymentRepository{db: pool}
}

func NewPaymentWithTx(tx pgx.Tx) port.PaymentRepository {
	return &paymentRepository{db: tx}
}

func (r *paymentRepository) GetPayment(ctx context.Context, paymentID uuid.UUID) (domain.Payment, error) {
	return r.getPayment(ctx, `SELECT payload, version FROM payments WHERE id = $1`, paymentID)
}

func (r *paymentRepository) GetPaymentByOrder(ctx context.Context, orderID uuid.UUID) (domain.Payment, error) {
	return r.getPayment(ctx, `SELECT payload, version FROM payments WHERE order_id = $1`, orderID)
}

func (r *paymentRepository) GetPaymentByGatewayTx(ctx context.Context, gatewayTxID string) (domain.Payment, error) {
	return r.getPayment(ctx, `SELECT payload, version FROM payments WHERE gateway_tx_id = $1`, gatewayTxID)
}

func (r *paymentRepository) getPayment(ctx context.Context, query string, arg any) (domain.Payment, error) {
	var p domain.Payment

	var (
		payload []byte
		version int64
	)

	if err := r.db.QueryRow(ctx, query, arg).Scan(&payload, &version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return p, fmt.Errorf("db.QueryRow: %w", domain.ErrPaymentNotFound)
		}
		return p, fmt.Errorf("db.QueryRow: %w", err)
	}

	payment, err := unmarshalPayment(payload, version)
	if err != nil {
		return p, fmt.Errorf("unmarshalPayment: %w", err)
	}

	return payment, nil
}

func (r *paymentRepository) InsertPayment(ctx context.Context, payment domain.Payment) error {
	payment.Version = 1

	payload, err := json.Marshal(payment)
	if err != nil {
		return fmt.Errorf("json.Marshal: %w", err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO payments (id, order_id, gateway_tx_id, status, version, payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		payment.ID, payment.OrderID, payment.GatewayTxID, string(payment.Status),
		payment.Version, payload, payment.CreatedAt, payment.UpdatedAt)
	if err != nil {
		return fmt.Errorf("db.Exec: %w", err)
	}

	return nil
}

func (r *paymentRepository) UpdatePayment(ctx context.Context, payment domain.Payment) (domain.Payment, error) {
	var p domain.Payment

	if err := payment.CheckInvariants(); err != nil {
		return p, fmt.Errorf("payment.CheckInvariants: %w", err)
	}

	readVersion := payment.Version
	payment.Version = readVersion + 1

	payload, err := json.Marshal(payment)
	if err != nil {
		return p, fmt.Errorf("json.Marshal: %w", err)
	}

	cmdTag, err := r.db.Exec(ctx, `
		UPDATE payments
		SET gateway_tx_id = $2, status = $3, version = $4, payload = $5, updated_at = $6
		WHERE id = $1 AND version = $7`,
		payment.ID, payment.GatewayTxID, string(payment.Status),
		payment.Version, payload, payment.UpdatedAt, readVersion)
	if err != nil {
		return p, fmt.Errorf("db.Exec: %w", err)
	}

	if cmdTag.RowsAffected() == 0 {
		if _, getErr := r.GetPayment(ctx, payment.ID); getErr != nil {
			return p, fmt.Errorf("r.GetPayment: %w", getErr)
		}
		return p, domain.ConflictError{AggregateID: payment.ID}
	}

	return payment, nil
}

func unmarshalPayment(payload []byte, version int64) (domain.Payment, error) {
	var payment domain.Payment

	if err := json.Unmarshal(payload, &payment); err != nil {
		return payment, fmt.Errorf("json.Unmarshal: %w", err)
	}

	payment.Version = version

	if err := payment.CheckInvariants(); err != nil {
		return payment, fmt.Errorf("payment.CheckInvariants: %w", err)
	}

	return payment, nil
}
