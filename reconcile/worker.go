// Package reconcile implements the drift-detection worker (C7): it walks
// local subscriptions and cross-checks them against the PG, emitting a
// structured anomaly list. It never auto-heals; that is left to an
// operator or a separate remediation tool.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tokenledger/ledger/id"
	"github.com/tokenledger/ledger/pgclient"
	"github.com/tokenledger/ledger/plugin"
	"github.com/tokenledger/ledger/store"
	"github.com/tokenledger/ledger/subscription"
)

const pageSize = 200

// AnomalyKind classifies a drift finding.
type AnomalyKind string

const (
	AnomalyStatusDrift    AnomalyKind = "status_drift"
	AnomalyPlanDrift      AnomalyKind = "plan_drift"
	AnomalyOrphan         AnomalyKind = "orphan"
	AnomalyBalanceMismatch AnomalyKind = "balance_mismatch"
)

// Anomaly is one drift finding surfaced by a pass.
type Anomaly struct {
	Kind           AnomalyKind
	SubscriptionID id.SubscriptionID
	UserID         id.UserID
	Detail         string
	// Critical marks findings that indicate a broken invariant rather
	// than routine webhook-lag drift (only balance mismatches today).
	Critical bool
}

// Config controls which checks a pass performs.
type Config struct {
	// CheckBalances enables the optional Σdeltas-vs-batch-totals scan: for
	// each user, compare Σ deltas in the journal to current batch totals;
	// any mismatch is a critical anomaly. Off by default
	// since it is O(batches) per subscribed user.
	CheckBalances bool
}

// Worker runs RunOnce on a fixed interval until stopped.
type Worker struct {
	store   store.Store
	pg      pgclient.Client
	plugins *plugin.Registry
	logger  *slog.Logger

	interval time.Duration
	cfg      Config

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewWorker constructs a Worker. interval defaults to 24h when zero.
func NewWorker(s store.Store, pg pgclient.Client, plugins *plugin.Registry, logger *slog.Logger, interval time.Duration, cfg Config) *Worker {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		store:    s,
		pg:       pg,
		plugins:  plugins,
		logger:   logger,
		interval: interval,
		cfg:      cfg,
		stopChan: make(chan struct{}),
	}
}

// Start launches the reconciliation loop in a background goroutine.
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
			for _, a := range w.RunOnce(ctx, time.Now().UTC()) {
				if w.plugins != nil {
					w.plugins.EmitReconciliationAnomaly(ctx, a)
				}
			}
		}
	}
}

// RunOnce walks every active subscription and cross-checks it against the
// PG, then optionally reconciles balances. Anomalies are returned, not
// acted on.
func (w *Worker) RunOnce(ctx context.Context, now time.Time) []Anomaly {
	var anomalies []Anomaly
	seenUsers := make(map[string]id.UserID)

	cursor := subscription.ListCursor{Limit: pageSize}
	for {
		subs, err := w.store.ListActiveSubscriptions(ctx, cursor)
		if err != nil {
			w.logger.Error("reconcile: list active subscriptions", "error", err)
			break
		}
		for _, s := range subs {
			seenUsers[s.UserID.String()] = s.UserID
			if a := w.checkSubscription(ctx, s); a != nil {
				anomalies = append(anomalies, *a)
			}
			cursor.After = s.ID
		}
		if len(subs) < cursor.Limit {
			break
		}
	}

	if w.cfg.CheckBalances {
		for _, userID := range seenUsers {
			if a := w.checkBalance(ctx, userID, now); a != nil {
				anomalies = append(anomalies, *a)
			}
		}
	}

	return anomalies
}

func (w *Worker) checkSubscription(ctx context.Context, s *subscription.Subscription) *Anomaly {
	remote, err := w.pg.GetSubscription(ctx, s.PGSubscriptionID)
	if err != nil {
		return &Anomaly{
			Kind:           AnomalyOrphan,
			SubscriptionID: s.ID,
			UserID:         s.UserID,
			Detail:         fmt.Sprintf("local subscription %s (pg_subscription_id=%s) not found upstream: %v", s.ID, s.PGSubscriptionID, err),
		}
	}

	localActive := s.IsActive
	remoteActive := remote.Status == "active" || remote.Status == "trialing" || remote.Status == "past_due"
	if localActive != remoteActive {
		return &Anomaly{
			Kind:           AnomalyStatusDrift,
			SubscriptionID: s.ID,
			UserID:         s.UserID,
			Detail:         fmt.Sprintf("local is_active=%v, pg status=%q", localActive, remote.Status),
		}
	}

	if s.PlanKey != remote.PriceID {
		return &Anomaly{
			Kind:           AnomalyPlanDrift,
			SubscriptionID: s.ID,
			UserID:         s.UserID,
			Detail:         fmt.Sprintf("local plan_key=%q, pg price id=%q", s.PlanKey, remote.PriceID),
		}
	}

	return nil
}

// checkBalance compares the running journal sum against the live balance
// view. The two are expected to agree because an expiry sweep always
// writes an offsetting debit for a batch's remaining amount: once a
// batch goes inactive its contribution to both sides drops to zero.
func (w *Worker) checkBalance(ctx context.Context, userID id.UserID, now time.Time) *Anomaly {
	sum, err := w.store.SumJournalByUser(ctx, userID)
	if err != nil {
		w.logger.Error("reconcile: sum journal by user", "user_id", userID, "error", err)
		return nil
	}

	balance, err := w.store.Balance(ctx, userID, now)
	if err != nil {
		w.logger.Error("reconcile: balance", "user_id", userID, "error", err)
		return nil
	}

	if sum != balance {
		return &Anomaly{
			Kind:     AnomalyBalanceMismatch,
			UserID:   userID,
			Detail:   fmt.Sprintf("journal sum=%d, live balance=%d", sum, balance),
			Critical: true,
		}
	}
	return nil
}
