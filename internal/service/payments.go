package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/nikolayk812/marketcore/internal/domain"
	"github.com/nikolayk812/marketcore/internal/metrics"
	"github.com/nikolayk812/marketcore/internal/port"
)

// PaymentOps drives the gateway-facing payment transitions: authorize,
// capture, void. Local state never advances on a failed or unknown gateway
// outcome; no lock is held for the duration of a gateway call.
type PaymentOps struct {
	tx      port.TxRunner
	gateway port.Gateway
	metrics *metrics.Reconciliation
	log     *slog.Logger

	now            func() time.Time
	maxAttempts    int
	gatewayTimeout time.Duration
}

func NewPaymentOps(tx port.TxRunner, gateway port.Gateway, m *metrics.Reconciliation, log *slog.Logger) (*PaymentOps, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if gateway == nil {
		return nil, fmt.Errorf("gateway required")
	}
	if log == nil {
		log = slog.Default()
	}

	return &PaymentOps{
		tx:             tx,
		gateway:        gateway,
		metrics:        m,
		log:            log,
		now:            time.Now,
		maxAttempts:    defaultMaxAttempts,
		gatewayTimeout: defaultGatewayTimeout,
	}, nil
}

// Authorize sends the payment to the gateway and records the hold.
func (s *PaymentOps) Authorize(ctx context.Context, paymentID uuid.UUID, actor string) (domain.Payment, error) {
	var payment domain.Payment

	err := retryOnConflict(ctx, s.maxAttempts, s.metrics, func() error {
		return s.tx.WithTx(ctx, func(repos port.RepositorySet) error {
			p, err := repos.Payments.GetPayment(ctx, paymentID)
			if err != nil {
				return fmt.Errorf("repos.Payments.GetPayment: %w", err)
			}

			if err := p.MarkProcessing(actor, s.now().UTC()); err != nil {
				return fmt.Errorf("p.MarkProcessing: %w", err)
			}

			payment, err = repos.Payments.UpdatePayment(ctx, p)
			if err != nil {
				return fmt.Errorf("repos.Payments.UpdatePayment: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		return domain.Payment{}, err
	}

	result, err := s.callGateway(ctx, "authorize", func(gctx context.Context) (port.GatewayResult, error) {
		return s.gateway.Authorize(gctx, payment.Amount, payment.Method)
	})
	if err != nil {
		return payment, err
	}

	err = retryOnConflict(ctx, s.maxAttempts, s.metrics, func() error {
		return s.tx.WithTx(ctx, func(repos port.RepositorySet) error {
			p, err := repos.Payments.GetPayment(ctx, paymentID)
			if err != nil {
				return fmt.Errorf("repos.Payments.GetPayment: %w", err)
			}

			if !result.Approved {
				if err := p.Fail(actor, "authorization declined: "+result.Code, s.now().UTC()); err != nil {
					return fmt.Errorf("p.Fail: %w", err)
				}
			} else if err := p.Authorize(result.TransactionID, actor, s.now().UTC()); err != nil {
				return fmt.Errorf("p.Authorize: %w", err)
			}

			payment, err = repos.Payments.UpdatePayment(ctx, p)
			if err != nil {
				return fmt.Errorf("repos.Payments.UpdatePayment: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		return domain.Payment{}, err
	}

	if !result.Approved {
		return payment, domain.GatewayError{Op: "authorize", Err: errors.New("declined: " + result.Code)}
	}

	return payment, nil
}

// Capture collects an authorized amount; capturing less than the hold
// releases the remainder permanently.
func (s *PaymentOps) Capture(ctx context.Context, paymentID uuid.UUID, amount domain.Money, actor string) (domain.Payment, error) {
	payment, err := s.tx.Repos().Payments.GetPayment(ctx, paymentID)
	if err != nil {
		return domain.Payment{}, fmt.Errorf("Payments.GetPayment: %w", err)
	}

	if payment.Status != domain.PaymentStatusAuthorized || payment.GatewayTxID == nil {
		return payment, domain.InvariantViolation{
			Rule:   "payment not authorized",
			Detail: fmt.Sprintf("payment is %s", payment.Status),
		}
	}

	result, err := s.callGateway(ctx, "capture", func(gctx context.Context) (port.GatewayResult, error) {
		return s.gateway.Capture(gctx, lo.FromPtr(payment.GatewayTxID), amount)
	})
	if err != nil {
		return payment, err
	}
	if !result.Approved {
		return payment, domain.GatewayError{Op: "capture", Err: errors.New("declined: " + result.Code)}
	}

	err = retryOnConflict(ctx, s.maxAttempts, s.metrics, func() error {
		return s.tx.WithTx(ctx, func(repos port.RepositorySet) error {
			p, err := repos.Payments.GetPayment(ctx, paymentID)
			if err != nil {
				return fmt.Errorf("repos.Payments.GetPayment: %w", err)
			}

			if err := p.Capture(amount, actor, s.now().UTC()); err != nil {
				return fmt.Errorf("p.Capture: %w", err)
			}

			payment, err = repos.Payments.UpdatePayment(ctx, p)
			if err != nil {
				return fmt.Errorf("repos.Payments.UpdatePayment: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		return domain.Payment{}, err
	}

	return payment, nil
}

// Void cancels a not-yet-captured payment at the gateway, then locally.
func (s *PaymentOps) Void(ctx context.Context, paymentID uuid.UUID, actor string) (domain.Payment, error) {
	payment, err := s.tx.Repos().Payments.GetPayment(ctx, paymentID)
	if err != nil {
		return domain.Payment{}, fmt.Errorf("Payments.GetPayment: %w", err)
	}

	if payment.GatewayTxID != nil {
		if _, err := s.callGateway(ctx, "void", func(gctx context.Context) (port.GatewayResult, error) {
			return port.GatewayResult{Approved: true}, s.gateway.Void(gctx, lo.FromPtr(payment.GatewayTxID))
		}); err != nil {
			return payment, err
		}
	}

	err = retryOnConflict(ctx, s.maxAttempts, s.metrics, func() error {
		return s.tx.WithTx(ctx, func(repos port.RepositorySet) error {
			p, err := repos.Payments.GetPayment(ctx, paymentID)
			if err != nil {
				return fmt.Errorf("repos.Payments.GetPayment: %w", err)
			}

			if err := p.Void(actor, s.now().UTC()); err != nil {
				return fmt.Errorf("p.Void: %w", err)
			}

			payment, err = repos.Payments.UpdatePayment(ctx, p)
			if err != nil {
				return fmt.Errorf("repos.Payments.UpdatePayment: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		return domain.Payment{}, err
	}

	return payment, nil
}

// callGateway runs a bounded-timeout gateway call. A deadline is reported
// as unknown outcome: the caller must reconcile via webhook, never assume
// failure.
func (s *PaymentOps) callGateway(ctx context.Context, op string, fn func(ctx context.Context) (port.GatewayResult, error)) (port.GatewayResult, error) {
	gctx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()

	result, err := fn(gctx)
	if err != nil {
		s.metrics.IncGatewayFailure(op)

		if errors.Is(err, context.DeadlineExceeded) {
			return result, domain.GatewayError{Op: op, Unknown: true, Err: err}
		}
		return result, domain.GatewayError{Op: op, Err: err}
	}

	return result, nil
}
