package service

import (
	"context"
	"errors"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

// RetryPolicy bounds how often a transaction is replayed after a
// serialization conflict. Attempt n waits n*Backoff before running again.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultRetryPolicy is used when no policy is configured
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, Backoff: 50 * time.Millisecond}

// run calls fn until it succeeds, fails with anything other than
// models.ErrTransactionConflict, or the attempts are exhausted. fn must
// rebuild all of its state on every call.
func (p RetryPolicy) run(ctx context.Context, operation string, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil || !errors.Is(err, models.ErrTransactionConflict) || attempt >= attempts {
			return err
		}

		util.TransactionRetriesTotal.WithLabelValues(operation).Inc()
		util.GetLogger().Warn("Retrying transaction after conflict",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Backoff * time.Duration(attempt)):
		}
	}
}
