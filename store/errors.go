package store

import "errors"

// Sentinel errors raised by the memory, postgres, and sqlite
// implementations. They live here rather than in the root package because
// every implementation is a subpackage of store, and store is itself
// imported by root — declaring them in root would create an import cycle.
// Root's own errors.go aliases the ones callers compare with errors.Is at
// the package boundary.
var (
	// ErrAlreadyCredited is returned by Tx.InsertBatch when b.InvoiceID
	// collides with an existing batch, the credit-level idempotency guard.
	// The dispatcher treats this as success, not as a failure.
	ErrAlreadyCredited = errors.New("store: invoice already credited")

	ErrUserNotFound         = errors.New("store: user not found")
	ErrAlreadyExists        = errors.New("store: already exists")
	ErrSubscriptionNotFound = errors.New("store: subscription not found")
	ErrNoActiveSubscription = errors.New("store: no active subscription")
	ErrPurchaseNotFound     = errors.New("store: purchase not found")
	ErrBatchNotFound        = errors.New("store: token batch not found")
	ErrReferralNotFound     = errors.New("store: referral not found")
)
