package pallet

import (
	"context"
	"log/slog"
	"time"

	"github.com/odyssey-erp/odyssey-pallets/internal/platform/db"
	"github.com/odyssey-erp/odyssey-pallets/internal/platform/retry"
)

// RetryObserver is told about every retried transaction.
type RetryObserver interface {
	TxRetried(attempt int)
}

// RetryingRepository re-runs whole transactions that failed with a transient
// error. Each attempt runs the callback against a fresh transaction.
type RetryingRepository struct {
	RepositoryPort
	policy   retry.Policy
	classify retry.Classifier
}

// NewRetryingRepository decorates repo. A nil classify uses db.IsTransient.
func NewRetryingRepository(repo RepositoryPort, policy retry.Policy, classify retry.Classifier, logger *slog.Logger, observer RetryObserver) *RetryingRepository {
	if classify == nil {
		classify = db.IsTransient
	}
	if logger == nil {
		logger = slog.Default()
	}
	next := policy.OnRetry
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		logger.Warn("pallet: retrying transaction",
			slog.Int("attempt", attempt+1), slog.Duration("delay", delay), slog.Any("error", err))
		if observer != nil {
			observer.TxRetried(attempt + 1)
		}
		if next != nil {
			next(attempt, delay, err)
		}
	}
	return &RetryingRepository{RepositoryPort: repo, policy: policy, classify: classify}
}

// WithTx runs fn in a transaction, retrying on transient failures.
func (r *RetryingRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return retry.Do(ctx, r.policy, r.classify, func(ctx context.Context) error {
		return r.RepositoryPort.WithTx(ctx, fn)
	})
}
