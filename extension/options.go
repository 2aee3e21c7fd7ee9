package extension

import (
	"time"

	ledger "github.com/tokenledger/ledger"
	"github.com/tokenledger/ledger/catalog"
	"github.com/tokenledger/ledger/pgclient"
	"github.com/tokenledger/ledger/plugin"
	"github.com/tokenledger/ledger/store"
	"github.com/xraph/grove"
)

// Option configures the ledger Forge extension.
type Option func(*Extension)

// WithStore sets the store for the ledger engine.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithPGClient sets the payment gateway collaborator. Required: there is
// no safe default beyond pgclient.NewFake() for tests.
func WithPGClient(pg pgclient.Client) Option {
	return func(e *Extension) { e.pg = pg }
}

// WithCatalog overrides the catalog.Store used for price lookups. When
// unset, the primary store is used if it also satisfies catalog.Store
// (memory, postgres, and sqlite all do).
func WithCatalog(cat catalog.Store) Option {
	return func(e *Extension) { e.catalog = cat }
}

// WithPostgresDatabase constructs a postgres-backed store from an
// already-configured grove.DB (typically resolved elsewhere in the DI
// container) and uses it as both the store and the catalog.
func WithPostgresDatabase(db *grove.DB) Option {
	return func(e *Extension) {
		s := postgresStore(db)
		e.store = s
		e.catalog = s
	}
}

// WithSQLiteDatabase constructs a sqlite-backed store from an
// already-configured grove.DB and uses it as both the store and the
// catalog.
func WithSQLiteDatabase(db *grove.DB) Option {
	return func(e *Extension) {
		s := sqliteStore(db)
		e.store = s
		e.catalog = s
	}
}

// WithLedgerOption passes a ledger.Option through to the underlying engine.
func WithLedgerOption(opt ledger.Option) Option {
	return func(e *Extension) {
		e.ledgerOpts = append(e.ledgerOpts, opt)
	}
}

// WithPlugin registers a ledger plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.ledgerOpts = append(e.ledgerOpts, ledger.WithPlugin(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableRoutes prevents the extension's HTTP handlers from being
// exposed through the Routes accessor.
func WithDisableRoutes() Option {
	return func(e *Extension) { e.config.DisableRoutes = true }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithBasePath sets the URL prefix for ledger routes.
func WithBasePath(path string) Option {
	return func(e *Extension) { e.config.BasePath = path }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithWebhookSecret sets the HMAC secret used to verify inbound PG
// webhook signatures.
func WithWebhookSecret(secret string) Option {
	return func(e *Extension) { e.config.WebhookSecret = secret }
}

// WithReferralTokenAmount sets the token grant a referrer earns when a
// referred user's subscription first activates.
func WithReferralTokenAmount(amount int64) Option {
	return func(e *Extension) { e.config.ReferralTokenAmount = amount }
}

// WithMaintenanceInterval sets the daily sweep worker's ticker interval.
func WithMaintenanceInterval(d time.Duration) Option {
	return func(e *Extension) { e.config.MaintenanceInterval = d }
}

// WithReconcileInterval sets the drift-detection worker's ticker interval.
func WithReconcileInterval(d time.Duration) Option {
	return func(e *Extension) { e.config.ReconcileInterval = d }
}

// WithReconcileBalanceChecks enables the optional Σdeltas-vs-balance scan.
func WithReconcileBalanceChecks(enabled bool) Option {
	return func(e *Extension) { e.config.ReconcileCheckBalances = enabled }
}
