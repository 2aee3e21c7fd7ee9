package subscription

import (
	"context"

	"github.com/tokenledger/ledger/id"
)

// Store persists subscriptions. Mutations that must serialize with batch
// consumption (grants, deactivation) are exposed on store.Tx instead; this
// interface covers reads and the handful of writes that don't need to
// share a transaction with token-ledger effects.
type Store interface {
	Create(ctx context.Context, s *Subscription) error
	Get(ctx context.Context, subID id.SubscriptionID) (*Subscription, error)
	GetByPGSubscriptionID(ctx context.Context, pgSubscriptionID string) (*Subscription, error)
	GetActiveByUser(ctx context.Context, userID id.UserID) (*Subscription, error)
	List(ctx context.Context, userID id.UserID, opts ListOpts) ([]*Subscription, error)
	Update(ctx context.Context, s *Subscription) error

	// DueForPeriodEnd returns active subscriptions whose current period has
	// already ended, for the maintenance worker's daily sweep.
	DueForPeriodEnd(ctx context.Context, asOf ListCursor) ([]*Subscription, error)

	// DueForMonthlyRefill returns active yearly subscriptions whose last
	// monthly refill was not in the current calendar month.
	DueForMonthlyRefill(ctx context.Context, asOf ListCursor) ([]*Subscription, error)
}

// ListOpts filters and paginates subscription listings.
type ListOpts struct {
	Status Status
	Limit  int
	Offset int
}

// ListCursor pages through large scans (used by the maintenance and
// reconciliation workers) without loading a whole table into memory.
type ListCursor struct {
	After id.SubscriptionID
	Limit int
}
