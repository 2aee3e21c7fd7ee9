// Package maintenance implements the scheduled sweep worker (C6): expiring
// stale batches, deactivating ended subscriptions, and performing the
// yearly-plan monthly refill safety net.
package maintenance

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/tokenledger/ledger/batch"
	"github.com/tokenledger/ledger/journal"
	"github.com/tokenledger/ledger/plugin"
	"github.com/tokenledger/ledger/store"
	"github.com/tokenledger/ledger/subscription"
)

const pageSize = 200

// Result summarizes one sweep pass, also emitted to plugins via
// OnMaintenanceSweepCompleted.
type Result struct {
	Expired  int
	Ended    int
	Refilled int
}

// Worker runs RunOnce on a fixed interval until stopped, mirroring the
// ledger's ticker-plus-waitgroup lifecycle shape.
type Worker struct {
	store    store.Store
	plugins  *plugin.Registry
	logger   *slog.Logger
	interval time.Duration

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewWorker constructs a Worker. interval defaults to a 24h scheduled
// sweep when zero.
func NewWorker(s store.Store, plugins *plugin.Registry, logger *slog.Logger, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		store:    s,
		plugins:  plugins,
		logger:   logger,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start launches the sweep loop in a background goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the loop to exit and waits for it to finish.
func (w *Worker) Stop() {
	close(w.stopChan)
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.RunOnce(ctx, time.Now().UTC())
		}
	}
}

// RunOnce executes one sweep pass. It is safe to call directly (e.g. from
// a cron-triggered handler) instead of relying on the internal ticker.
// Re-running with an unchanged now is a no-op:
// the same-month check on refills and the expires_at/period_end
// comparisons on expiry and deactivation only ever match a row once.
func (w *Worker) RunOnce(ctx context.Context, now time.Time) Result {
	r := Result{
		Expired:  w.ExpireBatches(ctx, now),
		Ended:    w.endSubscriptions(ctx, now),
		Refilled: w.refillYearly(ctx, now),
	}
	if w.plugins != nil {
		w.plugins.EmitMaintenanceSweepCompleted(ctx, r.Expired, r.Ended, r.Refilled)
	}
	return r
}

// ExpireBatches deactivates every batch due for expiry as of now, in its
// own per-batch transaction, and returns how many were expired. It is
// exported so callers other than the scheduled sweep (an on-demand
// Ledger.ExpireDue call) can invoke the same logic directly.
func (w *Worker) ExpireBatches(ctx context.Context, now time.Time) int {
	count := 0
	cursor := batch.ListCursor{Limit: pageSize}
	for {
		due, err := w.store.BatchesDueForExpiry(ctx, now, cursor)
		if err != nil {
			w.logger.Error("maintenance: list batches due for expiry", "error", err)
			return count
		}
		for _, b := range due {
			if err := w.expireOne(ctx, b, now); err != nil {
				w.logger.Error("maintenance: expire batch failed", "batch_id", b.ID, "error", err)
				continue
			}
			count++
			cursor.After = b.ID
			if w.plugins != nil {
				w.plugins.EmitBatchExpired(ctx, b)
			}
		}
		if len(due) < cursor.Limit {
			return count
		}
	}
}

func (w *Worker) expireOne(ctx context.Context, b *batch.Batch, now time.Time) error {
	return w.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.DeactivateBatch(ctx, b.ID); err != nil {
			return err
		}
		if remaining := b.Amount - b.Consumed; remaining > 0 {
			if err := tx.AppendTokenEvent(ctx, journal.Debit(b.UserID, b.ID, remaining, journal.ReasonExpiry, now)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (w *Worker) endSubscriptions(ctx context.Context, now time.Time) int {
	count := 0
	cursor := subscription.ListCursor{Limit: pageSize}
	for {
		due, err := w.store.SubscriptionsDueForPeriodEnd(ctx, now, cursor)
		if err != nil {
			w.logger.Error("maintenance: list subscriptions due for period end", "error", err)
			return count
		}
		for _, s := range due {
			if err := w.endOne(ctx, s); err != nil {
				w.logger.Error("maintenance: end subscription failed", "subscription_id", s.ID, "error", err)
				continue
			}
			count++
			cursor.After = s.ID
			if w.plugins != nil {
				w.plugins.EmitSubscriptionEnded(ctx, s)
			}
		}
		if len(due) < cursor.Limit {
			return count
		}
	}
}

func (w *Worker) endOne(ctx context.Context, s *subscription.Subscription) error {
	return w.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		s.MarkEnded()
		if err := tx.UpdateSubscription(ctx, s); err != nil {
			return err
		}
		falseVal := false
		return tx.UpdateUserFlags(ctx, s.UserID, &falseVal, nil)
	})
}

func (w *Worker) refillYearly(ctx context.Context, now time.Time) int {
	count := 0
	cursor := subscription.ListCursor{Limit: pageSize}
	for {
		due, err := w.store.SubscriptionsDueForMonthlyRefill(ctx, now, cursor)
		if err != nil {
			w.logger.Error("maintenance: list subscriptions due for monthly refill", "error", err)
			return count
		}
		for _, s := range due {
			ok, err := w.refillOne(ctx, s, now)
			if err != nil {
				w.logger.Error("maintenance: yearly refill failed", "subscription_id", s.ID, "error", err)
				continue
			}
			if ok {
				count++
			}
			cursor.After = s.ID
		}
		if len(due) < cursor.Limit {
			return count
		}
	}
}

func (w *Worker) refillOne(ctx context.Context, s *subscription.Subscription, now time.Time) (bool, error) {
	granted := false
	err := w.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if !s.NeedsMonthlyRefill(now) {
			return nil
		}
		price, err := tx.GetSubscriptionPrice(ctx, s.PlanKey)
		if err != nil {
			return err
		}
		invoiceID := "cron:" + s.PGSubscriptionID + ":" + now.Format("200601")
		b := batch.New(s.UserID, batch.FromSubscription(s.ID), price.RefillAmount(), now.AddDate(0, 1, 0), invoiceID, "yearly-monthly-refill (cron)")
		inserted, err := tx.InsertBatch(ctx, b)
		if err != nil && !errors.Is(err, store.ErrAlreadyCredited) {
			return err
		}
		if err == nil {
			if err := tx.AppendTokenEvent(ctx, journal.Credit(inserted.UserID, inserted.ID, inserted.Amount, journal.ReasonSubscriptionRefill, now)); err != nil {
				return err
			}
			granted = true
		}
		refillTime := now
		s.LastMonthlyRefill = &refillTime
		return tx.UpdateSubscription(ctx, s)
	})
	return granted, err
}
