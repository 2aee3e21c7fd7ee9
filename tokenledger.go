// Package ledger implements the token-based billing core described in
// doc.go: users hold a balance made of expiring credit batches granted by
// purchases, subscriptions, and referrals, consumed FIFO-by-expiry, kept
// in sync with a payments gateway (PG) by a webhook dispatcher, and swept
// daily by a maintenance worker and a drift-detecting reconciliation
// worker.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tokenledger/ledger/batch"
	"github.com/tokenledger/ledger/catalog"
	"github.com/tokenledger/ledger/id"
	"github.com/tokenledger/ledger/journal"
	"github.com/tokenledger/ledger/maintenance"
	"github.com/tokenledger/ledger/pgclient"
	"github.com/tokenledger/ledger/plugin"
	"github.com/tokenledger/ledger/reconcile"
	"github.com/tokenledger/ledger/referral"
	"github.com/tokenledger/ledger/store"
	"github.com/tokenledger/ledger/webhook"
)

// Ledger wires the storage, PG collaborator, catalog, and background
// workers into the single entry point applications embed.
type Ledger struct {
	store   store.Store
	pg      pgclient.Client
	catalog catalog.Store
	plugins *plugin.Registry
	logger  *slog.Logger

	dispatcher        *webhook.Dispatcher
	maintenanceWorker *maintenance.Worker
	reconcileWorker   *reconcile.Worker

	stopChan chan struct{}
	wg       sync.WaitGroup

	webhookSecret          string
	referralTokenAmount    int64
	maintenanceInterval    time.Duration
	reconcileInterval      time.Duration
	reconcileCheckBalances bool
}

// New constructs a Ledger. The store, pg, and catalog collaborators are
// required; everything else has a workable default and can be overridden
// with an Option.
func New(s store.Store, pg pgclient.Client, cat catalog.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:               s,
		pg:                  pg,
		catalog:             cat,
		plugins:             plugin.NewRegistry(),
		logger:              slog.Default(),
		stopChan:            make(chan struct{}),
		maintenanceInterval: 24 * time.Hour,
		reconcileInterval:   24 * time.Hour,
	}

	for _, opt := range opts {
		opt(l)
	}

	l.dispatcher = webhook.NewDispatcher(l.store, l.pg, l.plugins, l.logger, webhook.Config{
		Secret:              l.webhookSecret,
		ReferralTokenAmount: l.referralTokenAmount,
	})
	l.maintenanceWorker = maintenance.NewWorker(l.store, l.plugins, l.logger, l.maintenanceInterval)
	l.reconcileWorker = reconcile.NewWorker(l.store, l.pg, l.plugins, l.logger, l.reconcileInterval, reconcile.Config{
		CheckBalances: l.reconcileCheckBalances,
	})

	return l
}

// Option configures a Ledger at construction time.
type Option func(*Ledger)

// WithLogger sets the structured logger used by the ledger and every
// component it wires (plugin registry included).
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
		l.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin to receive lifecycle and domain events.
func WithPlugin(p plugin.Plugin) Option {
	return func(l *Ledger) {
		//nolint:errcheck // best-effort registration; a bad plugin should not block startup
		l.plugins.Register(p)
	}
}

// WithWebhookSecret sets the HMAC secret used to verify inbound webhook
// signatures.
func WithWebhookSecret(secret string) Option {
	return func(l *Ledger) { l.webhookSecret = secret }
}

// WithReferralTokenAmount sets the token grant a referrer earns when a
// referred user's subscription first activates.
func WithReferralTokenAmount(amount int64) Option {
	return func(l *Ledger) { l.referralTokenAmount = amount }
}

// WithMaintenanceInterval overrides the daily sweep's ticker interval.
func WithMaintenanceInterval(d time.Duration) Option {
	return func(l *Ledger) { l.maintenanceInterval = d }
}

// WithReconcileInterval overrides the drift-detection worker's ticker
// interval.
func WithReconcileInterval(d time.Duration) Option {
	return func(l *Ledger) { l.reconcileInterval = d }
}

// WithReconcileBalanceChecks enables the optional Σdeltas-vs-balance scan
// during reconciliation. Off by default since it is O(batches) per
// subscribed user.
func WithReconcileBalanceChecks(enabled bool) Option {
	return func(l *Ledger) { l.reconcileCheckBalances = enabled }
}

// Start migrates the store, notifies plugins, and launches the background
// workers. Call Stop to shut them down cleanly.
func (l *Ledger) Start(ctx context.Context) error {
	if err := l.store.Migrate(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrMigrationFailed, err)
	}

	l.plugins.EmitInit(ctx, l)

	l.maintenanceWorker.Start(ctx)
	l.reconcileWorker.Start(ctx)

	l.logger.Info("ledger started",
		"maintenance_interval", l.maintenanceInterval,
		"reconcile_interval", l.reconcileInterval,
	)
	return nil
}

// Stop signals both background workers to exit, waits for them, notifies
// plugins, and closes the store.
func (l *Ledger) Stop() error {
	l.maintenanceWorker.Stop()
	l.reconcileWorker.Stop()

	l.plugins.EmitShutdown(context.Background())

	l.logger.Info("ledger stopped")
	return l.store.Close()
}

// HandleWebhook verifies, parses, and applies an inbound PG webhook event
// against the store and payment gateway. It is safe to retry: duplicate
// event ids and already-credited invoices are absorbed as no-ops.
func (l *Ledger) HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) error {
	return l.dispatcher.HandleEvent(ctx, payload, signatureHeader)
}

// Grant credits a new token batch to userID from the given origin,
// recording the offsetting journal entry in the same transaction.
// A subscription-sourced grant with an InvoiceID that was already
// credited is absorbed: Grant returns the existing batch and no error.
func (l *Ledger) Grant(ctx context.Context, userID id.UserID, origin batch.BatchOrigin, amount int64, expiresAt time.Time, invoiceID, note string) (*batch.Batch, error) {
	if amount <= 0 {
		return nil, ErrNegativeAmount
	}

	var granted *batch.Batch
	err := l.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		b := batch.New(userID, origin, amount, expiresAt, invoiceID, note)
		inserted, err := tx.InsertBatch(ctx, b)
		if err != nil {
			if errors.Is(err, ErrAlreadyCredited) {
				granted = inserted
				return nil
			}
			return err
		}
		granted = inserted

		reason := journal.ReasonPurchase
		switch origin.Kind() {
		case batch.OriginSubscription:
			reason = journal.ReasonSubscriptionRefill
		case batch.OriginReferral:
			reason = journal.ReasonReferralReward
		}
		return tx.AppendTokenEvent(ctx, journal.Credit(inserted.UserID, inserted.ID, inserted.Amount, reason, time.Now().UTC()))
	})
	if err != nil {
		return nil, err
	}

	l.plugins.EmitBatchGranted(ctx, granted)
	return granted, nil
}

// ConsumeOptions controls Consume's behavior when the requested amount
// exceeds the available balance.
type ConsumeOptions struct {
	// BestEffort, when true, consumes whatever is available instead of
	// failing the whole request with ErrInsufficientTokens.
	BestEffort bool
}

// ConsumeOption configures a single Consume call.
type ConsumeOption func(*ConsumeOptions)

// WithBestEffort enables partial consumption (see ConsumeOptions).
func WithBestEffort() ConsumeOption {
	return func(o *ConsumeOptions) { o.BestEffort = true }
}

// Consume debits amount tokens from userID's active batches, oldest
// expiry first, tie-broken by batch id. By
// default the whole request fails atomically with ErrInsufficientTokens
// if the balance is short; pass WithBestEffort to consume a partial
// amount instead.
func (l *Ledger) Consume(ctx context.Context, userID id.UserID, amount int64, reason journal.Reason, opts ...ConsumeOption) (int64, error) {
	if amount <= 0 {
		return 0, ErrNegativeAmount
	}

	cfg := &ConsumeOptions{}
	for _, o := range opts {
		o(cfg)
	}

	var consumed int64
	err := l.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		now := time.Now().UTC()
		batches, err := tx.LockActiveBatchesFIFO(ctx, userID, now)
		if err != nil {
			return err
		}

		var available int64
		for _, b := range batches {
			available += b.Remaining()
		}
		if available < amount && !cfg.BestEffort {
			return fmt.Errorf("%w: requested %d, available %d", ErrInsufficientTokens, amount, available)
		}

		remaining := amount
		for _, b := range batches {
			if remaining <= 0 {
				break
			}
			taken := b.Take(remaining)
			if taken <= 0 {
				continue
			}
			remaining -= taken
			consumed += taken

			if err := tx.UpdateBatchConsumed(ctx, b.ID, b.Consumed); err != nil {
				return err
			}
			if err := tx.AppendTokenEvent(ctx, journal.Debit(userID, b.ID, taken, reason, now)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	l.plugins.EmitTokensConsumed(ctx, userID.String(), consumed, string(reason))
	return consumed, nil
}

// Balance returns userID's current spendable token balance: the sum of
// Remaining() across active, non-expired batches.
func (l *Ledger) Balance(ctx context.Context, userID id.UserID) (int64, error) {
	return l.store.Balance(ctx, userID, time.Now().UTC())
}

// ExpireDue deactivates every batch whose ExpiresAt has passed as of now,
// appending an offsetting debit for any unconsumed remainder so the
// journal sum keeps tracking the live balance. It shares its
// per-batch transaction logic with the maintenance worker's daily sweep;
// call it directly when an application wants expiry applied on demand
// rather than waiting for the next scheduled pass.
func (l *Ledger) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	return l.maintenanceWorker.ExpireBatches(ctx, now), nil
}

// CancelSubscription requests cancellation of userID's active
// subscription through the PG and marks it cancel-pending locally. The
// subscription stays active (has_active_subscription remains true) until
// the PG's customer.subscription.deleted webhook lands at period end,
// per the subscription state machine.
func (l *Ledger) CancelSubscription(ctx context.Context, userID id.UserID) error {
	sub, err := l.store.GetActiveSubscription(ctx, userID)
	if err != nil {
		return err
	}
	if sub == nil {
		return ErrNoActiveSubscription
	}

	if err := l.pg.CancelSubscriptionAtPeriodEnd(ctx, sub.PGSubscriptionID); err != nil {
		return fmt.Errorf("%w: %v", ErrTransientExternal, err)
	}

	sub.MarkCancelPending()
	return l.store.UpdateSubscription(ctx, sub)
}

// RegisterReferral records that referrerUserID referred referredUserID.
// It is the host application's entrypoint for seeding a Referral row —
// nothing in the webhook dispatcher creates one on its own, since a PG
// event carries no notion of who referred whom. Call this from wherever
// the host captures a referral code (signup form, invite link) before
// the referred user's first qualifying payment lands; applyReferralReward
// looks up the row created here once that payment's webhook arrives.
//
// A referredUserID can only ever be registered once, mirroring how a
// person can only have been referred by one other person: a second call
// for the same referredUserID returns ErrReferralRedeemed.
func (l *Ledger) RegisterReferral(ctx context.Context, referrerUserID, referredUserID id.UserID) (*referral.Referral, error) {
	if referrerUserID.Equal(referredUserID) {
		return nil, ErrSelfReferral
	}

	r := referral.New(referrerUserID, referredUserID)
	if err := l.store.CreateReferral(ctx, r); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, ErrReferralRedeemed
		}
		return nil, err
	}
	return r, nil
}

// CreateOneTimePurchaseCheckout starts a PG checkout session for a
// one-time token purchase and returns the URL the caller should redirect
// the user to. The catalog lookup ensures planOption resolves to a real,
// priced token package before a session is ever created upstream.
func (l *Ledger) CreateOneTimePurchaseCheckout(ctx context.Context, userID id.UserID, planKey, tier, successURL, cancelURL string) (string, error) {
	if _, err := l.catalog.GetTokenPrice(ctx, planKey, tier); err != nil {
		return "", fmt.Errorf("%w: %v", ErrCatalogMissing, err)
	}

	u, err := l.store.GetUser(ctx, userID)
	if err != nil {
		return "", err
	}

	session, err := l.pg.CreateCheckoutSession(ctx, pgclient.CheckoutSessionRequest{
		CustomerID: u.PGCustomerID,
		UserID:     userID.String(),
		PlanOption: planKey + ":" + tier,
		SuccessURL: successURL,
		CancelURL:  cancelURL,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransientExternal, err)
	}
	return session.URL, nil
}
