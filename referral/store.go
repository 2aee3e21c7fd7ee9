package referral

import (
	"context"

	"github.com/tokenledger/ledger/id"
)

// Store persists referrals. Reward idempotency rides on the same
// transaction that grants the reward batch: MarkRewarded should only be
// called once, guarded by IsRewarded being false, inside store.Tx.
type Store interface {
	Create(ctx context.Context, r *Referral) error
	GetByReferredUser(ctx context.Context, referredUserID id.UserID) (*Referral, error)
	MarkRewarded(ctx context.Context, referralID id.ReferralID) error
}
