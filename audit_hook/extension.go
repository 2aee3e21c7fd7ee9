// Package audithook bridges ledger lifecycle events to an audit trail backend.
//
// It defines a local Recorder interface so the package does not import
// Chronicle directly. Callers inject a RecorderFunc adapter that bridges
// to Chronicle at wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tokenledger/ledger/plugin"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                      = (*Extension)(nil)
	_ plugin.OnWebhookReceived           = (*Extension)(nil)
	_ plugin.OnWebhookRejected           = (*Extension)(nil)
	_ plugin.OnSubscriptionCreated       = (*Extension)(nil)
	_ plugin.OnSubscriptionStateChanged  = (*Extension)(nil)
	_ plugin.OnSubscriptionEnded         = (*Extension)(nil)
	_ plugin.OnPaymentFailed             = (*Extension)(nil)
	_ plugin.OnPaymentRecovered          = (*Extension)(nil)
	_ plugin.OnBatchGranted              = (*Extension)(nil)
	_ plugin.OnTokensConsumed            = (*Extension)(nil)
	_ plugin.OnBatchExpired              = (*Extension)(nil)
	_ plugin.OnReferralRewarded          = (*Extension)(nil)
	_ plugin.OnMaintenanceSweepCompleted = (*Extension)(nil)
	_ plugin.OnReconciliationAnomaly     = (*Extension)(nil)
	_ plugin.OnUserUnresolved            = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
// This matches chronicle.Emitter but is defined locally so that the
// audit_hook package does not import Chronicle directly — callers inject
// the concrete *chronicle.Chronicle at wiring time.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
// It mirrors chronicle/audit.Event but avoids a module dependency.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges ledger lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Webhook ingest hooks
// ──────────────────────────────────────────────────

// OnWebhookReceived implements plugin.OnWebhookReceived.
func (e *Extension) OnWebhookReceived(ctx context.Context, eventType, eventID string) error {
	return e.record(ctx, ActionWebhookReceived, SeverityInfo, OutcomeSuccess,
		ResourceWebhook, eventID, CategoryIngest, nil,
		"event_type", eventType,
	)
}

// OnWebhookRejected implements plugin.OnWebhookRejected.
func (e *Extension) OnWebhookRejected(ctx context.Context, reason string) error {
	return e.record(ctx, ActionWebhookRejected, SeverityWarning, OutcomeFailure,
		ResourceWebhook, "", CategoryIngest, nil,
		"reason", reason,
	)
}

// ──────────────────────────────────────────────────
// Subscription lifecycle hooks
// ──────────────────────────────────────────────────

// OnSubscriptionCreated implements plugin.OnSubscriptionCreated.
func (e *Extension) OnSubscriptionCreated(ctx context.Context, _ interface{}) error {
	return e.record(ctx, ActionSubscriptionCreated, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, "", CategorySubscription, nil,
	)
}

// OnSubscriptionStateChanged implements plugin.OnSubscriptionStateChanged.
func (e *Extension) OnSubscriptionStateChanged(ctx context.Context, _ interface{}, from, to string) error {
	return e.record(ctx, ActionSubscriptionStateChanged, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, "", CategorySubscription, nil,
		"from", from,
		"to", to,
	)
}

// OnSubscriptionEnded implements plugin.OnSubscriptionEnded.
func (e *Extension) OnSubscriptionEnded(ctx context.Context, _ interface{}) error {
	return e.record(ctx, ActionSubscriptionEnded, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, "", CategorySubscription, nil,
	)
}

// OnPaymentFailed implements plugin.OnPaymentFailed.
func (e *Extension) OnPaymentFailed(ctx context.Context, _ interface{}, reason string) error {
	return e.record(ctx, ActionPaymentFailed, SeverityWarning, OutcomeFailure,
		ResourceSubscription, "", CategoryPayment, nil,
		"reason", reason,
	)
}

// OnPaymentRecovered implements plugin.OnPaymentRecovered.
func (e *Extension) OnPaymentRecovered(ctx context.Context, _ interface{}) error {
	return e.record(ctx, ActionPaymentRecovered, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, "", CategoryPayment, nil,
	)
}

// ──────────────────────────────────────────────────
// Token ledger hooks
// ──────────────────────────────────────────────────

// OnBatchGranted implements plugin.OnBatchGranted.
func (e *Extension) OnBatchGranted(ctx context.Context, _ interface{}) error {
	return e.record(ctx, ActionBatchGranted, SeverityInfo, OutcomeSuccess,
		ResourceBatch, "", CategoryLedger, nil,
	)
}

// OnTokensConsumed implements plugin.OnTokensConsumed.
func (e *Extension) OnTokensConsumed(ctx context.Context, userID string, amount int64, reason string) error {
	return e.record(ctx, ActionTokensConsumed, SeverityInfo, OutcomeSuccess,
		ResourceUser, userID, CategoryLedger, nil,
		"amount", amount,
		"reason", reason,
	)
}

// OnBatchExpired implements plugin.OnBatchExpired.
func (e *Extension) OnBatchExpired(ctx context.Context, _ interface{}) error {
	return e.record(ctx, ActionBatchExpired, SeverityInfo, OutcomeSuccess,
		ResourceBatch, "", CategoryLedger, nil,
	)
}

// OnReferralRewarded implements plugin.OnReferralRewarded.
func (e *Extension) OnReferralRewarded(ctx context.Context, _ interface{}) error {
	return e.record(ctx, ActionReferralReward, SeverityInfo, OutcomeSuccess,
		ResourceReferral, "", CategoryLedger, nil,
	)
}

// ──────────────────────────────────────────────────
// Worker hooks
// ──────────────────────────────────────────────────

// OnMaintenanceSweepCompleted implements plugin.OnMaintenanceSweepCompleted.
func (e *Extension) OnMaintenanceSweepCompleted(ctx context.Context, expired, ended, refilled int) error {
	return e.record(ctx, ActionMaintenanceSweep, SeverityInfo, OutcomeSuccess,
		ResourceWorker, "maintenance", CategoryMaintenance, nil,
		"expired", expired,
		"ended", ended,
		"refilled", refilled,
	)
}

// OnReconciliationAnomaly implements plugin.OnReconciliationAnomaly.
func (e *Extension) OnReconciliationAnomaly(ctx context.Context, anomaly interface{}) error {
	return e.record(ctx, ActionReconciliationAnomaly, SeverityWarning, OutcomeFailure,
		ResourceWorker, "reconcile", CategoryMaintenance, nil,
		"anomaly", fmt.Sprintf("%v", anomaly),
	)
}

// OnUserUnresolved implements plugin.OnUserUnresolved.
func (e *Extension) OnUserUnresolved(ctx context.Context, eventType, pgCustomerID string) error {
	return e.record(ctx, ActionUserUnresolved, SeverityWarning, OutcomePartial,
		ResourceUser, pgCustomerID, CategoryIngest, nil,
		"event_type", eventType,
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
