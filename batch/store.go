package batch

import (
	"context"
	"time"

	"github.com/tokenledger/ledger/id"
)

// Store persists batches for non-transactional reads: balance queries,
// listings, and reconciliation scans. FIFO-locked consumption and
// insert-with-invoice-idempotency live on store.Tx, since they must
// participate in the same serializable transaction as the journal write
// and, for consumption, the subscription-row lock.
type Store interface {
	Get(ctx context.Context, batchID id.BatchID) (*Batch, error)
	ListActiveByUser(ctx context.Context, userID id.UserID, now time.Time) ([]*Batch, error)
	List(ctx context.Context, userID id.UserID, opts ListOpts) ([]*Batch, error)

	// Balance returns Σ max(0, amount-consumed) over active, non-expired
	// batches for userID.
	Balance(ctx context.Context, userID id.UserID, now time.Time) (int64, error)

	// DueForExpiry returns active batches with ExpiresAt <= asOf, for the
	// maintenance worker's daily sweep.
	DueForExpiry(ctx context.Context, asOf time.Time, cursor ListCursor) ([]*Batch, error)
}

// ListOpts paginates and filters batch listings.
type ListOpts struct {
	Source Origin
	Limit  int
	Offset int
}

// ListCursor pages through large scans without loading a whole table.
type ListCursor struct {
	After id.BatchID
	Limit int
}
