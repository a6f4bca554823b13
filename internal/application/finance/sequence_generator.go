package finance

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/invoicer/backend/internal/domain/sequence"
	"github.com/invoicer/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// SequenceGenerator issues gapless document numbers per tenant, document type
// and year.
type SequenceGenerator struct {
	scope  TransactionScope
	retry  shared.RetryPolicy
	logger *zap.Logger
}

// SequenceGeneratorConfig holds configuration for the sequence generator
type SequenceGeneratorConfig struct {
	Scope TransactionScope
	// Retry bounds the attempts made when the counter row is contended.
	// Zero value means shared.DefaultRetryPolicy.
	Retry  shared.RetryPolicy
	Logger *zap.Logger
}

// NewSequenceGenerator creates a new SequenceGenerator
func NewSequenceGenerator(config SequenceGeneratorConfig) *SequenceGenerator {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	retry := config.Retry
	if retry.MaxAttempts == 0 {
		retry = shared.DefaultRetryPolicy()
	}
	return &SequenceGenerator{
		scope:  config.Scope,
		retry:  retry,
		logger: logger,
	}
}

// Generate issues the next number in a transaction of its own and commits it
// immediately. Use GenerateInTx when the number belongs to a record written
// in the caller's transaction, so a rollback also returns the number.
func (g *SequenceGenerator) Generate(ctx context.Context, tenantID uuid.UUID, docType sequence.DocumentType, year int) (string, error) {
	key, err := sequence.NewKey(tenantID, docType, year)
	if err != nil {
		return "", err
	}

	var number string
	err = g.retry.Do(ctx, retryableSequenceError, func(attempt int) error {
		if attempt > 1 {
			g.logger.Debug("Retrying sequence allocation",
				zap.String("key", key.String()),
				zap.Int("attempt", attempt))
		}
		return g.scope.Execute(ctx, func(repos TransactionalRepositories) error {
			n, err := nextNumber(ctx, repos.Sequences(), key)
			if err != nil {
				return err
			}
			number = n
			return nil
		})
	})
	if err != nil {
		if retryableSequenceError(err) {
			g.logger.Error("Sequence allocation exhausted retries",
				zap.String("key", key.String()),
				zap.Error(err))
			return "", fmt.Errorf("%w: %s: %w", sequence.ErrSequenceExhausted, key, err)
		}
		return "", err
	}
	return number, nil
}

// GenerateInTx issues the next number using the caller's transaction. The
// counter row stays locked until that transaction ends, so a concurrent
// caller for the same key waits instead of reading a stale value.
func (g *SequenceGenerator) GenerateInTx(ctx context.Context, repos TransactionalRepositories, tenantID uuid.UUID, docType sequence.DocumentType, year int) (string, error) {
	key, err := sequence.NewKey(tenantID, docType, year)
	if err != nil {
		return "", err
	}
	return nextNumber(ctx, repos.Sequences(), key)
}

func nextNumber(ctx context.Context, counters sequence.CounterRepository, key sequence.Key) (string, error) {
	value, err := counters.NextValue(ctx, key)
	if err != nil {
		return "", err
	}
	return key.Format(value), nil
}

// retryableSequenceError reports whether a failed allocation may succeed on a
// fresh transaction. Invalid keys and cancelled contexts never will.
func retryableSequenceError(err error) bool {
	switch {
	case errors.Is(err, sequence.ErrInvalidKey),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}
