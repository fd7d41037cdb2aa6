// Package service hosts the settlement core's orchestration: checkout,
// payment gateway operations, refunds/disputes and the reconciliation
// coordinator. Aggregates are mutated only through their named transitions;
// services sequence transitions, persistence and side-effect intents.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/nikolayk812/marketcore/internal/domain"
	"github.com/nikolayk812/marketcore/internal/metrics"
)

const (
	defaultMaxAttempts    = 5
	defaultGatewayTimeout = 10 * time.Second
)

// retryOnConflict re-runs fn while it fails with an optimistic-version
// mismatch, up to attempts times; the conflict is surfaced after that,
// never silently dropped.
func retryOnConflict(ctx context.Context, attempts int, m *metrics.Reconciliation, fn func() error) error {
	var err error

	for i := 0; i < attempts; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err = fn()

		var conflict domain.ConflictError
		if err == nil || !errors.As(err, &conflict) {
			return err
		}

		m.IncConflict()
	}

	return err
}
