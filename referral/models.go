// Package referral tracks referral relationships and whether the reward
// for a successful referral has been paid.
package referral

import (
	"github.com/tokenledger/ledger/id"
	"github.com/tokenledger/ledger/types"
)

// Referral records that ReferrerUserID referred ReferredUserID. A given
// referred user may appear at most once (they can only have been referred
// by one person); IsRewarded is set once the referrer's batch has been
// granted.
type Referral struct {
	types.Entity
	ID             id.ReferralID `json:"id" grove:"id,pk"`
	ReferrerUserID id.UserID     `json:"referrer_user_id" grove:"referrer_user_id,notnull"`
	ReferredUserID id.UserID     `json:"referred_user_id" grove:"referred_user_id,unique,notnull"`
	IsRewarded     bool          `json:"is_rewarded" grove:"is_rewarded,notnull,default:false"`
}

// New constructs a Referral. It returns an error via the caller's
// validation (referrer == referred is rejected at the service layer, not
// here, since that check needs no store access).
func New(referrerUserID, referredUserID id.UserID) *Referral {
	return &Referral{
		Entity:         types.NewEntity(),
		ID:             id.NewReferralID(),
		ReferrerUserID: referrerUserID,
		ReferredUserID: referredUserID,
	}
}
