package extension

import "time"

// Config holds the ledger extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.ledger" or "ledger" keys).
type Config struct {
	// DisableRoutes prevents the extension from exposing its HTTP handlers
	// through the Extension's Routes accessor.
	DisableRoutes bool `json:"disable_routes" mapstructure:"disable_routes" yaml:"disable_routes"`

	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// BasePath is the URL prefix for ledger routes (default: "/ledger").
	BasePath string `json:"base_path" mapstructure:"base_path" yaml:"base_path"`

	// WebhookSecret is the HMAC secret used to verify inbound PG webhook
	// signatures.
	WebhookSecret string `json:"webhook_secret" mapstructure:"webhook_secret" yaml:"webhook_secret"`

	// ReferralTokenAmount is the token grant a referrer earns when a
	// referred user's subscription first activates.
	ReferralTokenAmount int64 `json:"referral_token_amount" mapstructure:"referral_token_amount" yaml:"referral_token_amount"`

	// MaintenanceInterval controls how often the daily sweep worker runs
	// (default: 24h).
	MaintenanceInterval time.Duration `json:"maintenance_interval" mapstructure:"maintenance_interval" yaml:"maintenance_interval"`

	// ReconcileInterval controls how often the drift-detection worker runs
	// (default: 24h).
	ReconcileInterval time.Duration `json:"reconcile_interval" mapstructure:"reconcile_interval" yaml:"reconcile_interval"`

	// ReconcileCheckBalances enables the optional Σdeltas-vs-balance scan
	// during reconciliation. Off by default since it is O(batches) per
	// subscribed user.
	ReconcileCheckBalances bool `json:"reconcile_check_balances" mapstructure:"reconcile_check_balances" yaml:"reconcile_check_balances"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BasePath:            "/ledger",
		MaintenanceInterval: 24 * time.Hour,
		ReconcileInterval:   24 * time.Hour,
	}
}
