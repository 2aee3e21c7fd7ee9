package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"
)

// Registry manages all registered plugins and provides efficient dispatch.
// It uses type-cached discovery for O(1) dispatch performance.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger

	// Type-cached plugin lists for efficient dispatch
	onInit                      []OnInit
	onShutdown                  []OnShutdown
	onWebhookReceived           []OnWebhookReceived
	onWebhookRejected           []OnWebhookRejected
	onBatchGranted              []OnBatchGranted
	onTokensConsumed            []OnTokensConsumed
	onBatchExpired              []OnBatchExpired
	onSubscriptionCreated       []OnSubscriptionCreated
	onSubscriptionStateChanged  []OnSubscriptionStateChanged
	onSubscriptionEnded         []OnSubscriptionEnded
	onPaymentFailed             []OnPaymentFailed
	onPaymentRecovered          []OnPaymentRecovered
	onReferralRewarded          []OnReferralRewarded
	onMaintenanceSweepCompleted []OnMaintenanceSweepCompleted
	onReconciliationAnomaly     []OnReconciliationAnomaly
	onUserUnresolved            []OnUserUnresolved
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger: slog.Default(),
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnWebhookReceived); ok {
		r.onWebhookReceived = append(r.onWebhookReceived, v)
	}
	if v, ok := p.(OnWebhookRejected); ok {
		r.onWebhookRejected = append(r.onWebhookRejected, v)
	}
	if v, ok := p.(OnBatchGranted); ok {
		r.onBatchGranted = append(r.onBatchGranted, v)
	}
	if v, ok := p.(OnTokensConsumed); ok {
		r.onTokensConsumed = append(r.onTokensConsumed, v)
	}
	if v, ok := p.(OnBatchExpired); ok {
		r.onBatchExpired = append(r.onBatchExpired, v)
	}
	if v, ok := p.(OnSubscriptionCreated); ok {
		r.onSubscriptionCreated = append(r.onSubscriptionCreated, v)
	}
	if v, ok := p.(OnSubscriptionStateChanged); ok {
		r.onSubscriptionStateChanged = append(r.onSubscriptionStateChanged, v)
	}
	if v, ok := p.(OnSubscriptionEnded); ok {
		r.onSubscriptionEnded = append(r.onSubscriptionEnded, v)
	}
	if v, ok := p.(OnPaymentFailed); ok {
		r.onPaymentFailed = append(r.onPaymentFailed, v)
	}
	if v, ok := p.(OnPaymentRecovered); ok {
		r.onPaymentRecovered = append(r.onPaymentRecovered, v)
	}
	if v, ok := p.(OnReferralRewarded); ok {
		r.onReferralRewarded = append(r.onReferralRewarded, v)
	}
	if v, ok := p.(OnMaintenanceSweepCompleted); ok {
		r.onMaintenanceSweepCompleted = append(r.onMaintenanceSweepCompleted, v)
	}
	if v, ok := p.(OnReconciliationAnomaly); ok {
		r.onReconciliationAnomaly = append(r.onReconciliationAnomaly, v)
	}
	if v, ok := p.(OnUserUnresolved); ok {
		r.onUserUnresolved = append(r.onUserUnresolved, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", r.getImplementedInterfaces(p),
	)

	return nil
}

// getImplementedInterfaces returns a list of interfaces implemented by the plugin.
func (r *Registry) getImplementedInterfaces(p Plugin) []string {
	var interfaces []string
	v := reflect.TypeOf(p)

	checkInterface := func(iface reflect.Type, name string) {
		if v.Implements(iface) {
			interfaces = append(interfaces, name)
		}
	}

	checkInterface(reflect.TypeOf((*OnInit)(nil)).Elem(), "OnInit")
	checkInterface(reflect.TypeOf((*OnShutdown)(nil)).Elem(), "OnShutdown")
	checkInterface(reflect.TypeOf((*OnWebhookReceived)(nil)).Elem(), "OnWebhookReceived")
	checkInterface(reflect.TypeOf((*OnWebhookRejected)(nil)).Elem(), "OnWebhookRejected")
	checkInterface(reflect.TypeOf((*OnBatchGranted)(nil)).Elem(), "OnBatchGranted")
	checkInterface(reflect.TypeOf((*OnTokensConsumed)(nil)).Elem(), "OnTokensConsumed")
	checkInterface(reflect.TypeOf((*OnBatchExpired)(nil)).Elem(), "OnBatchExpired")
	checkInterface(reflect.TypeOf((*OnSubscriptionCreated)(nil)).Elem(), "OnSubscriptionCreated")
	checkInterface(reflect.TypeOf((*OnSubscriptionStateChanged)(nil)).Elem(), "OnSubscriptionStateChanged")
	checkInterface(reflect.TypeOf((*OnSubscriptionEnded)(nil)).Elem(), "OnSubscriptionEnded")
	checkInterface(reflect.TypeOf((*OnPaymentFailed)(nil)).Elem(), "OnPaymentFailed")
	checkInterface(reflect.TypeOf((*OnPaymentRecovered)(nil)).Elem(), "OnPaymentRecovered")
	checkInterface(reflect.TypeOf((*OnReferralRewarded)(nil)).Elem(), "OnReferralRewarded")
	checkInterface(reflect.TypeOf((*OnMaintenanceSweepCompleted)(nil)).Elem(), "OnMaintenanceSweepCompleted")
	checkInterface(reflect.TypeOf((*OnReconciliationAnomaly)(nil)).Elem(), "OnReconciliationAnomaly")
	checkInterface(reflect.TypeOf((*OnUserUnresolved)(nil)).Elem(), "OnUserUnresolved")

	return interfaces
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, ledger interface{}) {
	r.mu.RLock()
	plugins := r.onInit
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnInit(ctx, ledger)
		}); err != nil {
			r.logger.Warn("plugin OnInit failed", "plugin", p.Name(), "error", err)
		}
	}
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	plugins := r.onShutdown
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnShutdown(ctx)
		}); err != nil {
			r.logger.Warn("plugin OnShutdown failed", "plugin", p.Name(), "error", err)
		}
	}
}

// EmitWebhookReceived emits a webhook-accepted event.
func (r *Registry) EmitWebhookReceived(ctx context.Context, eventType, eventID string) {
	r.mu.RLock()
	plugins := r.onWebhookReceived
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnWebhookReceived(ctx, eventType, eventID)
		}); err != nil {
			r.logger.Warn("plugin OnWebhookReceived failed", "plugin", p.Name(), "error", err)
		}
	}
}

// EmitWebhookRejected emits a webhook-rejected event.
func (r *Registry) EmitWebhookRejected(ctx context.Context, reason string) {
	r.mu.RLock()
	plugins := r.onWebhookRejected
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnWebhookRejected(ctx, reason)
		}); err != nil {
			r.logger.Warn("plugin OnWebhookRejected failed", "plugin", p.Name(), "error", err)
		}
	}
}

// EmitBatchGranted emits a batch-granted event.
func (r *Registry) EmitBatchGranted(ctx context.Context, batch interface{}) {
	r.mu.RLock()
	plugins := r.onBatchGranted
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnBatchGranted(ctx, batch)
		}); err != nil {
			r.logger.Warn("plugin OnBatchGranted failed", "plugin", p.Name(), "error", err)
		}
	}
}

// EmitTokensConsumed emits a tokens-consumed event.
func (r *Registry) EmitTokensConsumed(ctx context.Context, userID string, amount int64, reason string) {
	r.mu.RLock()
	plugins := r.onTokensConsumed
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnTokensConsumed(ctx, userID, amount, reason)
		}); err != nil {
			r.logger.Warn("plugin OnTokensConsumed failed", "plugin", p.Name(), "error", err)
		}
	}
}

// EmitBatchExpired emits a batch-expired event.
func (r *Registry) EmitBatchExpired(ctx context.Context, batch interface{}) {
	r.mu.RLock()
	plugins := r.onBatchExpired
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnBatchExpired(ctx, batch)
		}); err != nil {
			r.logger.Warn("plugin OnBatchExpired failed", "plugin", p.Name(), "error", err)
		}
	}
}

// EmitSubscriptionCreated emits a subscription-created event.
func (r *Registry) EmitSubscriptionCreated(ctx context.Context, sub interface{}) {
	r.mu.RLock()
	plugins := r.onSubscriptionCreated
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnSubscriptionCreated(ctx, sub)
		}); err != nil {
			r.logger.Warn("plugin OnSubscriptionCreated failed", "plugin", p.Name(), "error", err)
		}
	}
}

// EmitSubscriptionStateChanged emits a subscription state transition.
func (r *Registry) EmitSubscriptionStateChanged(ctx context.Context, sub interface{}, from, to string) {
	r.mu.RLock()
	plugins := r.onSubscriptionStateChanged
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnSubscriptionStateChanged(ctx, sub, from, to)
		}); err != nil {
			r.logger.Warn("plugin OnSubscriptionStateChanged failed", "plugin", p.Name(), "error", err)
		}
	}
}

// EmitSubscriptionEnded emits a subscription-ended event.
func (r *Registry) EmitSubscriptionEnded(ctx context.Context, sub interface{}) {
	r.mu.RLock()
	plugins := r.onSubscriptionEnded
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnSubscriptionEnded(ctx, sub)
		}); err != nil {
			r.logger.Warn("plugin OnSubscriptionEnded failed", "plugin", p.Name(), "error", err)
		}
	}
}

// EmitPaymentFailed emits a payment-failed event.
func (r *Registry) EmitPaymentFailed(ctx context.Context, sub interface{}, reason string) {
	r.mu.RLock()
	plugins := r.onPaymentFailed
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnPaymentFailed(ctx, sub, reason)
		}); err != nil {
			r.logger.Warn("plugin OnPaymentFailed failed", "plugin", p.Name(), "error", err)
		}
	}
}

// EmitPaymentRecovered emits a payment-recovered event.
func (r *Registry) EmitPaymentRecovered(ctx context.Context, sub interface{}) {
	r.mu.RLock()
	plugins := r.onPaymentRecovered
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnPaymentRecovered(ctx, sub)
		}); err != nil {
			r.logger.Warn("plugin OnPaymentRecovered failed", "plugin", p.Name(), "error", err)
		}
	}
}

// EmitReferralRewarded emits a referral-rewarded event.
func (r *Registry) EmitReferralRewarded(ctx context.Context, referral interface{}) {
	r.mu.RLock()
	plugins := r.onReferralRewarded
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnReferralRewarded(ctx, referral)
		}); err != nil {
			r.logger.Warn("plugin OnReferralRewarded failed", "plugin", p.Name(), "error", err)
		}
	}
}

// EmitMaintenanceSweepCompleted emits a maintenance-sweep-completed event.
func (r *Registry) EmitMaintenanceSweepCompleted(ctx context.Context, expired, ended, refilled int) {
	r.mu.RLock()
	plugins := r.onMaintenanceSweepCompleted
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnMaintenanceSweepCompleted(ctx, expired, ended, refilled)
		}); err != nil {
			r.logger.Warn("plugin OnMaintenanceSweepCompleted failed", "plugin", p.Name(), "error", err)
		}
	}
}

// EmitReconciliationAnomaly emits a single reconciliation anomaly.
func (r *Registry) EmitReconciliationAnomaly(ctx context.Context, anomaly interface{}) {
	r.mu.RLock()
	plugins := r.onReconciliationAnomaly
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnReconciliationAnomaly(ctx, anomaly)
		}); err != nil {
			r.logger.Warn("plugin OnReconciliationAnomaly failed", "plugin", p.Name(), "error", err)
		}
	}
}

// EmitUserUnresolved emits a user-resolution-failed event.
func (r *Registry) EmitUserUnresolved(ctx context.Context, eventType, pgCustomerID string) {
	r.mu.RLock()
	plugins := r.onUserUnresolved
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnUserUnresolved(ctx, eventType, pgCustomerID)
		}); err != nil {
			r.logger.Warn("plugin OnUserUnresolved failed", "plugin", p.Name(), "error", err)
		}
	}
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block the billing pipeline.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
