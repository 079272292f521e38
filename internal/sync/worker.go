package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Worker defaults.
const (
	DefaultPollInterval  = 2 * time.Second
	DefaultClaimBatch    = 10
	DefaultStaleClaimAge = 5 * time.Minute
	DefaultRetentionAge  = 30 * 24 * time.Hour
	defaultSweepInterval = time.Minute
)

// WorkerConfig controls the queue worker loop.
type WorkerConfig struct {
	// PollInterval is the sleep between dequeue batches.
	PollInterval time.Duration
	// ClaimBatch is the maximum number of items claimed per poll.
	ClaimBatch int
	// MaxItemRetries is the per-item retry ceiling; items exceeding it are
	// retired so they stop blocking the queue.
	MaxItemRetries int
	// StaleClaimAge is how old a processing claim must be before the
	// sweeper returns it to pending.
	StaleClaimAge time.Duration
	// RetentionAge is how long processed rows are kept before purging.
	RetentionAge time.Duration
}

// withDefaults fills zero fields with the documented defaults.
func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}

	if c.ClaimBatch <= 0 {
		c.ClaimBatch = DefaultClaimBatch
	}

	if c.MaxItemRetries <= 0 {
		c.MaxItemRetries = 5
	}

	if c.StaleClaimAge <= 0 {
		c.StaleClaimAge = DefaultStaleClaimAge
	}

	if c.RetentionAge <= 0 {
		c.RetentionAge = DefaultRetentionAge
	}

	return c
}

// Worker pulls webhook events from the durable queue in FIFO order and
// drives the executor. Multiple workers may run concurrently; the claim
// transaction and the executor's per-key exclusion keep them correct.
type Worker struct {
	store    Store
	executor *Executor
	cfg      WorkerConfig
	logger   *slog.Logger
}

// NewWorker wires a queue worker from its dependencies.
func NewWorker(store Store, executor *Executor, cfg WorkerConfig, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		store:    store,
		executor: executor,
		cfg:      cfg.withDefaults(),
		logger:   logger,
	}
}

// Run polls the queue until the context is canceled. The shutdown signal is
// observed between items; an item claimed at cancellation time stays in
// processing and is reclaimed by the sweeper on the next startup.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("queue worker started",
		slog.Duration("poll_interval", w.cfg.PollInterval),
		slog.Int("claim_batch", w.cfg.ClaimBatch),
	)

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := w.processBatch(ctx); err != nil {
			if ctx.Err() != nil {
				w.logger.Info("queue worker stopping")
				return nil
			}

			w.logger.Error("queue batch failed", slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			w.logger.Info("queue worker stopping")
			return nil
		case <-ticker.C:
		}
	}
}

// processBatch claims and processes up to ClaimBatch items.
func (w *Worker) processBatch(ctx context.Context) error {
	items, err := w.store.ClaimBatch(ctx, w.cfg.ClaimBatch)
	if err != nil {
		return fmt.Errorf("claim batch: %w", err)
	}

	for _, item := range items {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		w.processItem(ctx, item)
	}

	return nil
}

// hintForSource maps a webhook source to the direction it suggests: a change
// notification from one side is an offer to copy that side over.
func hintForSource(source Source) Direction {
	if source == SourceLocal {
		return DirectionLocalToCloud
	}

	return DirectionCloudToLocal
}

// processItem runs one queue item through the executor and records the
// outcome. Queue bookkeeping uses a detached context so a shutdown during
// the executor call still lands the item in a consistent state.
func (w *Worker) processItem(ctx context.Context, item *QueueItem) {
	w.logger.Debug("processing queue item",
		slog.Int64("id", item.ID),
		slog.String("source", string(item.Source)),
		slog.String("doctype", item.Doctype),
		slog.String("docname", item.Docname),
	)

	outcome := w.executor.SyncOne(ctx, item.Doctype, item.Docname, hintForSource(item.Source))

	storeCtx := context.WithoutCancel(ctx)

	if outcome.Kind != OutcomeFailed {
		// Synced, skipped, and conflict outcomes all consume the event:
		// the sync record carries any remaining state.
		if err := w.store.MarkProcessed(storeCtx, item.ID); err != nil {
			w.logger.Error("marking item processed",
				slog.Int64("id", item.ID),
				slog.String("error", err.Error()),
			)
		}

		return
	}

	message := outcome.Err.Error()

	if item.RetryCount+1 >= w.cfg.MaxItemRetries {
		if err := w.store.MarkDead(storeCtx, item.ID, message); err != nil {
			w.logger.Error("retiring item", slog.Int64("id", item.ID), slog.String("error", err.Error()))
		}

		return
	}

	if err := w.store.MarkFailed(storeCtx, item.ID, message); err != nil {
		w.logger.Error("marking item failed", slog.Int64("id", item.ID), slog.String("error", err.Error()))
	}
}

// RunSweeper periodically reclaims stale processing claims and purges
// processed rows past the retention window. Run alongside Run under the
// same lifecycle.
func (w *Worker) RunSweeper(ctx context.Context) error {
	ticker := time.NewTicker(defaultSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep performs one maintenance pass.
func (w *Worker) Sweep(ctx context.Context) {
	if _, err := w.store.ReclaimStale(ctx, w.cfg.StaleClaimAge); err != nil && ctx.Err() == nil {
		w.logger.Error("reclaiming stale claims", slog.String("error", err.Error()))
	}

	if _, err := w.store.PurgeProcessed(ctx, w.cfg.RetentionAge); err != nil && ctx.Err() == nil {
		w.logger.Error("purging processed rows", slog.String("error", err.Error()))
	}
}
