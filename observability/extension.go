// Package observability provides a metrics extension for the ledger that
// records lifecycle event counts via an injected MetricFactory.
package observability

import (
	"context"

	"github.com/tokenledger/ledger/plugin"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                      = (*MetricsExtension)(nil)
	_ plugin.OnInit                      = (*MetricsExtension)(nil)
	_ plugin.OnWebhookReceived           = (*MetricsExtension)(nil)
	_ plugin.OnWebhookRejected           = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionCreated       = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionStateChanged  = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionEnded         = (*MetricsExtension)(nil)
	_ plugin.OnPaymentFailed             = (*MetricsExtension)(nil)
	_ plugin.OnPaymentRecovered          = (*MetricsExtension)(nil)
	_ plugin.OnBatchGranted              = (*MetricsExtension)(nil)
	_ plugin.OnTokensConsumed            = (*MetricsExtension)(nil)
	_ plugin.OnBatchExpired              = (*MetricsExtension)(nil)
	_ plugin.OnReferralRewarded          = (*MetricsExtension)(nil)
	_ plugin.OnMaintenanceSweepCompleted = (*MetricsExtension)(nil)
	_ plugin.OnReconciliationAnomaly     = (*MetricsExtension)(nil)
	_ plugin.OnUserUnresolved            = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide lifecycle metrics.
// Register it as a ledger plugin to automatically track ingestion, ledger,
// and worker metrics.
type MetricsExtension struct {
	factory MetricFactory

	// Webhook metrics
	WebhookReceived Counter
	WebhookRejected Counter

	// Subscription metrics
	SubscriptionCreated Counter
	SubscriptionEnded   Counter
	PaymentFailed       Counter
	PaymentRecovered    Counter

	// Ledger metrics
	BatchGranted      Counter
	BatchExpired      Counter
	TokensConsumed    Counter
	ConsumeAmount     Histogram
	ReferralsRewarded Counter

	// Worker metrics
	MaintenanceExpired      Counter
	MaintenanceEnded        Counter
	MaintenanceRefilled     Counter
	ReconciliationAnomalies Counter

	// Resolution metrics
	UsersUnresolved Counter

	// Error metrics
	StoreErrors  Counter
	PluginErrors Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		WebhookReceived: factory.Counter("ledger.webhook.received"),
		WebhookRejected: factory.Counter("ledger.webhook.rejected"),

		SubscriptionCreated: factory.Counter("ledger.subscription.created"),
		SubscriptionEnded:   factory.Counter("ledger.subscription.ended"),
		PaymentFailed:       factory.Counter("ledger.payment.failed"),
		PaymentRecovered:    factory.Counter("ledger.payment.recovered"),

		BatchGranted:      factory.Counter("ledger.batch.granted"),
		BatchExpired:      factory.Counter("ledger.batch.expired"),
		TokensConsumed:    factory.Counter("ledger.tokens.consumed"),
		ConsumeAmount:     factory.Histogram("ledger.tokens.consumed.amount"),
		ReferralsRewarded: factory.Counter("ledger.referral.rewarded"),

		MaintenanceExpired:      factory.Counter("ledger.maintenance.expired"),
		MaintenanceEnded:        factory.Counter("ledger.maintenance.ended"),
		MaintenanceRefilled:     factory.Counter("ledger.maintenance.refilled"),
		ReconciliationAnomalies: factory.Counter("ledger.reconciliation.anomalies"),

		UsersUnresolved: factory.Counter("ledger.user.unresolved"),

		StoreErrors:  factory.Counter("ledger.store.errors"),
		PluginErrors: factory.Counter("ledger.plugin.errors"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ interface{}) error {
	return nil
}

// ──────────────────────────────────────────────────
// Webhook ingest hooks
// ──────────────────────────────────────────────────

// OnWebhookReceived implements plugin.OnWebhookReceived.
func (m *MetricsExtension) OnWebhookReceived(_ context.Context, _ string, _ string) error {
	m.WebhookReceived.Inc()
	return nil
}

// OnWebhookRejected implements plugin.OnWebhookRejected.
func (m *MetricsExtension) OnWebhookRejected(_ context.Context, _ string) error {
	m.WebhookRejected.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Subscription lifecycle hooks
// ──────────────────────────────────────────────────

// OnSubscriptionCreated implements plugin.OnSubscriptionCreated.
func (m *MetricsExtension) OnSubscriptionCreated(_ context.Context, _ interface{}) error {
	m.SubscriptionCreated.Inc()
	return nil
}

// OnSubscriptionStateChanged implements plugin.OnSubscriptionStateChanged.
func (m *MetricsExtension) OnSubscriptionStateChanged(_ context.Context, _ interface{}, _, _ string) error {
	return nil
}

// OnSubscriptionEnded implements plugin.OnSubscriptionEnded.
func (m *MetricsExtension) OnSubscriptionEnded(_ context.Context, _ interface{}) error {
	m.SubscriptionEnded.Inc()
	return nil
}

// OnPaymentFailed implements plugin.OnPaymentFailed.
func (m *MetricsExtension) OnPaymentFailed(_ context.Context, _ interface{}, _ string) error {
	m.PaymentFailed.Inc()
	return nil
}

// OnPaymentRecovered implements plugin.OnPaymentRecovered.
func (m *MetricsExtension) OnPaymentRecovered(_ context.Context, _ interface{}) error {
	m.PaymentRecovered.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Token ledger hooks
// ──────────────────────────────────────────────────

// OnBatchGranted implements plugin.OnBatchGranted.
func (m *MetricsExtension) OnBatchGranted(_ context.Context, _ interface{}) error {
	m.BatchGranted.Inc()
	return nil
}

// OnTokensConsumed implements plugin.OnTokensConsumed.
func (m *MetricsExtension) OnTokensConsumed(_ context.Context, _ string, amount int64, _ string) error {
	m.TokensConsumed.Inc()
	m.ConsumeAmount.Observe(float64(amount))
	return nil
}

// OnBatchExpired implements plugin.OnBatchExpired.
func (m *MetricsExtension) OnBatchExpired(_ context.Context, _ interface{}) error {
	m.BatchExpired.Inc()
	return nil
}

// OnReferralRewarded implements plugin.OnReferralRewarded.
func (m *MetricsExtension) OnReferralRewarded(_ context.Context, _ interface{}) error {
	m.ReferralsRewarded.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Worker hooks
// ──────────────────────────────────────────────────

// OnMaintenanceSweepCompleted implements plugin.OnMaintenanceSweepCompleted.
func (m *MetricsExtension) OnMaintenanceSweepCompleted(_ context.Context, expired, ended, refilled int) error {
	m.MaintenanceExpired.Add(float64(expired))
	m.MaintenanceEnded.Add(float64(ended))
	m.MaintenanceRefilled.Add(float64(refilled))
	return nil
}

// OnReconciliationAnomaly implements plugin.OnReconciliationAnomaly.
func (m *MetricsExtension) OnReconciliationAnomaly(_ context.Context, _ interface{}) error {
	m.ReconciliationAnomalies.Inc()
	return nil
}

// OnUserUnresolved implements plugin.OnUserUnresolved.
func (m *MetricsExtension) OnUserUnresolved(_ context.Context, _, _ string) error {
	m.UsersUnresolved.Inc()
	return nil
}
