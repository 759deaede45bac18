// Package retention prunes aged-out browsing history from storage in the
// background.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Pruner abstracts the storage deletions the worker performs.
type Pruner interface {
	DeleteRecentSitesBefore(cutoff time.Time) (int64, error)
	DeleteSuggestionBatchesBefore(cutoff time.Time) (int64, error)
}

// Worker periodically removes recent sites and suggestion batches older
// than the retention window.
type Worker struct {
	store  Pruner
	maxAge time.Duration
	poll   time.Duration
	logger *slog.Logger
}

// NewWorker creates a Worker. If maxAge is <= 0 it defaults to 30 days;
// if pollInterval is <= 0 it defaults to 1h.
func NewWorker(store Pruner, maxAge, pollInterval time.Duration) *Worker {
	if maxAge <= 0 {
		maxAge = 30 * 24 * time.Hour
	}
	if pollInterval <= 0 {
		pollInterval = time.Hour
	}
	return &Worker{
		store:  store,
		maxAge: maxAge,
		poll:   pollInterval,
		logger: slog.Default(),
	}
}

// Run prunes on an interval until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		if err := w.RunOnce(ctx); err != nil {
			w.logger.Error("retention pass failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce performs a single retention pass.
func (w *Worker) RunOnce(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-w.maxAge)

	sites, err := w.store.DeleteRecentSitesBefore(cutoff)
	if err != nil {
		return fmt.Errorf("pruning recent sites: %w", err)
	}
	batches, err := w.store.DeleteSuggestionBatchesBefore(cutoff)
	if err != nil {
		return fmt.Errorf("pruning suggestion batches: %w", err)
	}

	if sites > 0 || batches > 0 {
		w.logger.Info("pruned expired history",
			"recent_sites", sites,
			"suggestion_batches", batches,
		)
	}
	return nil
}
