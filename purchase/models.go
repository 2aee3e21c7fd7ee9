// Package purchase models one-time token purchases: a single row per
// successful non-recurring payment, immutable after creation.
package purchase

import (
	"time"

	"github.com/tokenledger/ledger/id"
	"github.com/tokenledger/ledger/subscription"
	"github.com/tokenledger/ledger/types"
)

// DefaultExpiry is the fixed validity window granted to a one-time
// purchase's token batch. Not configurable; see the design notes on the
// one-time purchase expiry open question.
const DefaultExpiry = 60 * 24 * time.Hour

// Purchase records a completed one-time token purchase.
type Purchase struct {
	types.Entity
	ID     id.PurchaseID `json:"id" grove:"id,pk"`
	UserID id.UserID     `json:"user_id" grove:"user_id,notnull"`

	PlanTier     subscription.PlanTier `json:"plan_tier" grove:"plan_tier,notnull"`
	PGPurchaseID string                `json:"pg_purchase_id" grove:"pg_purchase_id,unique,notnull"`

	AmountTokens  int64 `json:"amount_tokens" grove:"amount_tokens,notnull"`
	DiscountCents int64 `json:"discount_cents" grove:"discount_cents,notnull,default:0"`

	PeriodStart time.Time `json:"period_start" grove:"period_start,notnull"`
	PeriodEnd   time.Time `json:"period_end" grove:"period_end,notnull"`
}

// New constructs a Purchase whose validity period runs from now for
// DefaultExpiry.
func New(userID id.UserID, tier subscription.PlanTier, pgPurchaseID string, amountTokens, discountCents int64, now time.Time) *Purchase {
	return &Purchase{
		Entity:        types.NewEntity(),
		ID:            id.NewPurchaseID(),
		UserID:        userID,
		PlanTier:      tier,
		PGPurchaseID:  pgPurchaseID,
		AmountTokens:  amountTokens,
		DiscountCents: discountCents,
		PeriodStart:   now,
		PeriodEnd:     now.Add(DefaultExpiry),
	}
}
