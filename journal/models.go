// Package journal implements the token ledger's append-only audit trail.
// Every balance-affecting operation — a grant, a consumption, an expiry —
// writes exactly one signed-delta Entry. A user's balance is always
// reconstructable as the sum of their batches' remaining amounts, and
// independently as the running sum of their journal entries.
package journal

import (
	"time"

	"github.com/tokenledger/ledger/id"
)

// Reason identifies why a journal entry exists.
type Reason string

const (
	ReasonPurchase                  Reason = "purchase"
	ReasonSubscriptionInitialCredit Reason = "subscription_initial_credit"
	ReasonSubscriptionRefill        Reason = "subscription_refill"
	ReasonSubscriptionUpgradeCredit Reason = "subscription_upgrade_credit"
	ReasonReferralReward            Reason = "referral_reward"
	ReasonConsumption               Reason = "consumption"
	ReasonExpiry                    Reason = "expiry"
)

// Entry is one immutable line of the token ledger journal. Entries are
// never updated or deleted; corrections are made by appending an
// offsetting entry.
type Entry struct {
	ID      id.TokenEventID `json:"id" grove:"id,pk"`
	UserID  id.UserID       `json:"user_id" grove:"user_id,notnull"`
	BatchID id.BatchID      `json:"batch_id" grove:"batch_id,notnull"`
	Delta   int64           `json:"delta" grove:"delta,notnull"`
	Reason  Reason          `json:"reason" grove:"reason,notnull"`
	At      time.Time       `json:"at" grove:"at,notnull,default:current_timestamp"`
}

// Credit constructs a positive journal entry recording a grant to batchID.
func Credit(userID id.UserID, batchID id.BatchID, amount int64, reason Reason, at time.Time) *Entry {
	return &Entry{
		ID:      id.NewTokenEventID(),
		UserID:  userID,
		BatchID: batchID,
		Delta:   amount,
		Reason:  reason,
		At:      at,
	}
}

// Debit constructs a negative journal entry recording tokens leaving
// batchID, either through consumption or expiry.
func Debit(userID id.UserID, batchID id.BatchID, amount int64, reason Reason, at time.Time) *Entry {
	return &Entry{
		ID:      id.NewTokenEventID(),
		UserID:  userID,
		BatchID: batchID,
		Delta:   -amount,
		Reason:  reason,
		At:      at,
	}
}
