// Package plugin provides an extensible plugin system for the ledger.
// Plugins can hook into various lifecycle events to extend functionality.
package plugin

import (
	"context"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the plugin is initialized.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, l interface{}) error
}

// OnShutdown is called when the plugin is shutting down.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Webhook ingest hooks
// ──────────────────────────────────────────────────

// OnWebhookReceived is called when a raw webhook payload is accepted for processing.
type OnWebhookReceived interface {
	Plugin
	OnWebhookReceived(ctx context.Context, eventType string, eventID string) error
}

// OnWebhookRejected is called when a webhook fails signature verification or parsing.
type OnWebhookRejected interface {
	Plugin
	OnWebhookRejected(ctx context.Context, reason string) error
}

// ──────────────────────────────────────────────────
// Token ledger hooks
// ──────────────────────────────────────────────────

// OnBatchGranted is called when a new credit batch is inserted.
type OnBatchGranted interface {
	Plugin
	OnBatchGranted(ctx context.Context, batch interface{}) error
}

// OnTokensConsumed is called after a successful consume operation.
type OnTokensConsumed interface {
	Plugin
	OnTokensConsumed(ctx context.Context, userID string, amount int64, reason string) error
}

// OnBatchExpired is called when a batch is deactivated by the expiry sweep.
type OnBatchExpired interface {
	Plugin
	OnBatchExpired(ctx context.Context, batch interface{}) error
}

// ──────────────────────────────────────────────────
// Subscription lifecycle hooks
// ──────────────────────────────────────────────────

// OnSubscriptionCreated is called when a new subscription is created.
type OnSubscriptionCreated interface {
	Plugin
	OnSubscriptionCreated(ctx context.Context, sub interface{}) error
}

// OnSubscriptionStateChanged is called for each transition passed to
// Registry.EmitSubscriptionStateChanged. The webhook dispatcher and the
// workers do not emit it; they report subscription changes through the
// created, ended, payment-failed and payment-recovered hooks.
type OnSubscriptionStateChanged interface {
	Plugin
	OnSubscriptionStateChanged(ctx context.Context, sub interface{}, from, to string) error
}

// OnSubscriptionEnded is called when a subscription is deactivated, either by
// subscription.deleted or by the maintenance worker's period-end sweep.
type OnSubscriptionEnded interface {
	Plugin
	OnSubscriptionEnded(ctx context.Context, sub interface{}) error
}

// OnPaymentFailed is called when a payment failure is recorded against a subscription.
type OnPaymentFailed interface {
	Plugin
	OnPaymentFailed(ctx context.Context, sub interface{}, reason string) error
}

// OnPaymentRecovered is called when a subscription clears out of payment_issue.
type OnPaymentRecovered interface {
	Plugin
	OnPaymentRecovered(ctx context.Context, sub interface{}) error
}

// ──────────────────────────────────────────────────
// Referral hooks
// ──────────────────────────────────────────────────

// OnReferralRewarded is called when a referral reward batch is granted.
type OnReferralRewarded interface {
	Plugin
	OnReferralRewarded(ctx context.Context, referral interface{}) error
}

// ──────────────────────────────────────────────────
// Worker hooks
// ──────────────────────────────────────────────────

// OnMaintenanceSweepCompleted is called after each maintenance worker pass.
type OnMaintenanceSweepCompleted interface {
	Plugin
	OnMaintenanceSweepCompleted(ctx context.Context, expired, ended, refilled int) error
}

// OnReconciliationAnomaly is called for every anomaly the reconciliation worker finds.
type OnReconciliationAnomaly interface {
	Plugin
	OnReconciliationAnomaly(ctx context.Context, anomaly interface{}) error
}

// ──────────────────────────────────────────────────
// User resolution hooks
// ──────────────────────────────────────────────────

// OnUserUnresolved is called when a webhook event cannot be attributed to a local user.
type OnUserUnresolved interface {
	Plugin
	OnUserUnresolved(ctx context.Context, eventType, pgCustomerID string) error
}
