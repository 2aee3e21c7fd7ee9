// Package store defines the ledger's unified persistence contract (C1) and
// its transactional sub-interface, plus the memory, postgres, and sqlite
// implementations.
package store

import (
	"context"
	"time"

	"github.com/tokenledger/ledger/batch"
	"github.com/tokenledger/ledger/catalog"
	"github.com/tokenledger/ledger/id"
	"github.com/tokenledger/ledger/idempotency"
	"github.com/tokenledger/ledger/journal"
	"github.com/tokenledger/ledger/purchase"
	"github.com/tokenledger/ledger/referral"
	"github.com/tokenledger/ledger/subscription"
	"github.com/tokenledger/ledger/user"
)

// Store is the unified storage interface for every ledger entity. Instead
// of embedding the sub-package interfaces, all methods are declared
// explicitly to avoid naming collisions between them.
type Store interface {
	// User methods
	UpsertUserByExternalID(ctx context.Context, externalID, email string) (*user.User, error)
	GetUser(ctx context.Context, userID id.UserID) (*user.User, error)
	GetUserByEmail(ctx context.Context, email string) (*user.User, error)
	GetUserByPGCustomerID(ctx context.Context, pgCustomerID string) (*user.User, error)
	BindPGCustomer(ctx context.Context, userID id.UserID, pgCustomerID string) error
	UpdateUserFlags(ctx context.Context, userID id.UserID, hasActiveSubscription, hasPaymentIssue *bool) error

	// Subscription methods
	CreateSubscription(ctx context.Context, s *subscription.Subscription) error
	GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error)
	GetSubscriptionByPGID(ctx context.Context, pgSubscriptionID string) (*subscription.Subscription, error)
	GetActiveSubscription(ctx context.Context, userID id.UserID) (*subscription.Subscription, error)
	ListSubscriptions(ctx context.Context, userID id.UserID, opts subscription.ListOpts) ([]*subscription.Subscription, error)
	UpdateSubscription(ctx context.Context, s *subscription.Subscription) error
	SubscriptionsDueForPeriodEnd(ctx context.Context, asOf time.Time, cursor subscription.ListCursor) ([]*subscription.Subscription, error)
	SubscriptionsDueForMonthlyRefill(ctx context.Context, asOf time.Time, cursor subscription.ListCursor) ([]*subscription.Subscription, error)

	// ListActiveSubscriptions pages through every active subscription,
	// ordered by id, for the reconciliation worker's drift scan.
	ListActiveSubscriptions(ctx context.Context, cursor subscription.ListCursor) ([]*subscription.Subscription, error)

	// Purchase methods
	GetPurchase(ctx context.Context, purchaseID id.PurchaseID) (*purchase.Purchase, error)
	GetPurchaseByPGID(ctx context.Context, pgPurchaseID string) (*purchase.Purchase, error)
	ListPurchases(ctx context.Context, userID id.UserID, opts purchase.ListOpts) ([]*purchase.Purchase, error)

	// Batch methods
	GetBatch(ctx context.Context, batchID id.BatchID) (*batch.Batch, error)
	ListActiveBatches(ctx context.Context, userID id.UserID, now time.Time) ([]*batch.Batch, error)
	ListBatches(ctx context.Context, userID id.UserID, opts batch.ListOpts) ([]*batch.Batch, error)
	Balance(ctx context.Context, userID id.UserID, now time.Time) (int64, error)
	BatchesDueForExpiry(ctx context.Context, asOf time.Time, cursor batch.ListCursor) ([]*batch.Batch, error)

	// Journal methods
	ListJournalByUser(ctx context.Context, userID id.UserID, opts journal.ListOpts) ([]*journal.Entry, error)
	ListJournalByBatch(ctx context.Context, batchID id.BatchID) ([]*journal.Entry, error)
	SumJournalByBatch(ctx context.Context, batchID id.BatchID) (int64, error)
	SumJournalByUser(ctx context.Context, userID id.UserID) (int64, error)

	// Referral methods
	CreateReferral(ctx context.Context, r *referral.Referral) error
	GetReferralByReferredUser(ctx context.Context, referredUserID id.UserID) (*referral.Referral, error)

	// Catalog methods (read-only)
	GetSubscriptionPrice(ctx context.Context, planKey string) (*catalog.SubscriptionPrice, error)
	GetTokenPrice(ctx context.Context, planKey, tier string) (*catalog.TokenPrice, error)
	ListSubscriptionPrices(ctx context.Context) ([]*catalog.SubscriptionPrice, error)
	ListTokenPrices(ctx context.Context) ([]*catalog.TokenPrice, error)

	// RunInTx runs fn inside a single serializable transaction. Every
	// externally driven mutation (webhook effects, consume, maintenance
	// sweep step) goes through this so the invariants in the data model
	// hold even under concurrent processing of events for the same user.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Tx is the set of operations available inside a RunInTx callback. It
// exposes exactly the row-locking and idempotency-sensitive operations
// that must commit or roll back atomically: batch grants, FIFO
// consumption, expiry, subscription state transitions, and the two
// idempotency guards (event log, invoice-id uniqueness on batch insert).
type Tx interface {
	idempotency.Guard

	// UpsertUserByExternalID and BindPGCustomer are also available inside
	// a transaction, for the checkout.session.completed path that both
	// binds a customer id and grants a batch atomically.
	UpsertUserByExternalID(ctx context.Context, externalID, email string) (*user.User, error)
	GetUserForUpdate(ctx context.Context, userID id.UserID) (*user.User, error)
	GetUserByPGCustomerIDForUpdate(ctx context.Context, pgCustomerID string) (*user.User, error)
	GetUserByEmailForUpdate(ctx context.Context, email string) (*user.User, error)
	BindPGCustomer(ctx context.Context, userID id.UserID, pgCustomerID string) error
	UpdateUserFlags(ctx context.Context, userID id.UserID, hasActiveSubscription, hasPaymentIssue *bool) error

	// UpsertSubscriptionByPGID inserts or updates the subscription for
	// pgSubscriptionID, deactivating any other active subscription for the
	// same user (the "at most one active" invariant). wasInsert reports
	// whether a new row was created.
	UpsertSubscriptionByPGID(ctx context.Context, s *subscription.Subscription) (wasInsert bool, err error)
	GetSubscriptionForUpdate(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error)
	GetSubscriptionByPGIDForUpdate(ctx context.Context, pgSubscriptionID string) (*subscription.Subscription, error)
	UpdateSubscription(ctx context.Context, s *subscription.Subscription) error
	DeactivateSubscription(ctx context.Context, subID id.SubscriptionID) error

	InsertPurchase(ctx context.Context, p *purchase.Purchase) error
	GetPurchaseByPGID(ctx context.Context, pgPurchaseID string) (*purchase.Purchase, error)

	// InsertBatch inserts a batch. If b.InvoiceID is set and a batch with
	// that invoice id already exists, InsertBatch returns the existing
	// batch and ErrAlreadyCredited instead of failing — the dispatcher
	// treats this as success, not as a failure.
	InsertBatch(ctx context.Context, b *batch.Batch) (*batch.Batch, error)

	// LockActiveBatchesFIFO returns userID's active, non-expired batches
	// ordered by expires_at ASC, id ASC, with row locks suitable for the
	// store's isolation model. Callers mutate Consumed via batch.Take and
	// persist with UpdateBatchConsumed inside the same transaction.
	LockActiveBatchesFIFO(ctx context.Context, userID id.UserID, now time.Time) ([]*batch.Batch, error)
	UpdateBatchConsumed(ctx context.Context, batchID id.BatchID, consumed int64) error
	DeactivateBatch(ctx context.Context, batchID id.BatchID) error

	AppendTokenEvent(ctx context.Context, e *journal.Entry) error

	GetReferralByReferredUserForUpdate(ctx context.Context, referredUserID id.UserID) (*referral.Referral, error)
	CreateReferral(ctx context.Context, r *referral.Referral) error
	MarkReferralRewarded(ctx context.Context, referralID id.ReferralID) error

	GetSubscriptionPrice(ctx context.Context, planKey string) (*catalog.SubscriptionPrice, error)
	GetTokenPrice(ctx context.Context, planKey, tier string) (*catalog.TokenPrice, error)
}
