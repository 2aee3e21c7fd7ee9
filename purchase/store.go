package purchase

import (
	"context"

	"github.com/tokenledger/ledger/id"
)

// Store persists one-time purchases. Idempotency is enforced by the
// unique PGPurchaseID column; Create must return ledger.ErrAlreadyExists
// (not a generic driver error) on conflict so callers can treat a replayed
// checkout.session.completed as a no-op success.
type Store interface {
	Create(ctx context.Context, p *Purchase) error
	Get(ctx context.Context, purchaseID id.PurchaseID) (*Purchase, error)
	GetByPGPurchaseID(ctx context.Context, pgPurchaseID string) (*Purchase, error)
	List(ctx context.Context, userID id.UserID, opts ListOpts) ([]*Purchase, error)
}

// ListOpts paginates purchase listings for a user.
type ListOpts struct {
	Limit  int
	Offset int
}
