package journal

import (
	"context"

	"github.com/tokenledger/ledger/id"
)

// Store reads the append-only journal. Writes happen exclusively through
// store.Tx.AppendTokenEvent so every entry is written in the same
// transaction as the batch mutation it explains.
type Store interface {
	ListByUser(ctx context.Context, userID id.UserID, opts ListOpts) ([]*Entry, error)
	ListByBatch(ctx context.Context, batchID id.BatchID) ([]*Entry, error)

	// SumByBatch returns the running sum of deltas for a batch: amount -
	// consumed while the batch is active, and zero once the expiry sweep
	// has appended its debit for the unconsumed remainder.
	SumByBatch(ctx context.Context, batchID id.BatchID) (int64, error)

	// SumByUser returns the running sum of deltas across all of a user's
	// journal entries, used for whole-account balance reconciliation.
	SumByUser(ctx context.Context, userID id.UserID) (int64, error)
}

// ListOpts paginates journal listings for a user.
type ListOpts struct {
	Limit  int
	Offset int
}
