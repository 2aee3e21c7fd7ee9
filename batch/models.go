// Package batch defines the token ledger's atom of credit: a Batch is an
// amount of tokens from a single origin (subscription, purchase, or
// referral) that expires at a fixed time and is spent down FIFO-by-expiry
// alongside every other active batch a user owns.
package batch

import (
	"fmt"
	"time"

	"github.com/tokenledger/ledger/id"
	"github.com/tokenledger/ledger/types"
)

// Origin is the persisted tag identifying what created a batch.
type Origin string

const (
	OriginSubscription Origin = "subscription"
	OriginPurchase     Origin = "purchase"
	OriginReferral     Origin = "referral"
)

// BatchOrigin is the in-process sum type for a batch's provenance. The
// persisted representation is still Origin plus one nullable foreign key
// (SubscriptionID/PurchaseID); BatchOrigin exists so handlers construct
// and match on it exhaustively instead of juggling raw tag strings.
type BatchOrigin struct {
	kind           Origin
	subscriptionID id.SubscriptionID
	purchaseID     id.PurchaseID
	referrerID     id.UserID
}

// FromSubscription builds a BatchOrigin for a recurring subscription
// credit (initial, renewal, upgrade, or yearly-monthly refill).
func FromSubscription(subscriptionID id.SubscriptionID) BatchOrigin {
	return BatchOrigin{kind: OriginSubscription, subscriptionID: subscriptionID}
}

// FromPurchase builds a BatchOrigin for a one-time purchase credit.
func FromPurchase(purchaseID id.PurchaseID) BatchOrigin {
	return BatchOrigin{kind: OriginPurchase, purchaseID: purchaseID}
}

// FromReferral builds a BatchOrigin for a referral reward credit.
// referrerID is who earned the reward, not who redeemed the code.
func FromReferral(referrerID id.UserID) BatchOrigin {
	return BatchOrigin{kind: OriginReferral, referrerID: referrerID}
}

// Kind returns the persisted origin tag.
func (o BatchOrigin) Kind() Origin { return o.kind }

// Apply sets the origin fields (Source plus the one relevant nullable FK)
// on a batch being constructed.
func (o BatchOrigin) Apply(b *Batch) {
	b.Source = o.kind
	switch o.kind {
	case OriginSubscription:
		b.SubscriptionID = o.subscriptionID
	case OriginPurchase:
		b.PurchaseID = o.purchaseID
	case OriginReferral:
		// Referral rewards carry no FK column of their own; the referrer
		// is recorded on the Referral row, not the batch.
	}
}

// Batch is a unit of prepaid token credit.
//
// Invariants enforced by Validate and by the store's constraints:
// Consumed always stays within [0, Amount]; exactly one of
// SubscriptionID/PurchaseID is set when Source is subscription or
// purchase; a subscription-sourced batch always carries a non-empty,
// unique InvoiceID; and once the maintenance sweep runs, IsActive is
// false or ExpiresAt is still in the future.
type Batch struct {
	types.Entity
	ID     id.BatchID `json:"id" grove:"id,pk"`
	UserID id.UserID  `json:"user_id" grove:"user_id,notnull"`

	Source         Origin            `json:"source" grove:"source,notnull"`
	SubscriptionID id.SubscriptionID `json:"subscription_id,omitempty" grove:"subscription_id"`
	PurchaseID     id.PurchaseID     `json:"purchase_id,omitempty" grove:"purchase_id"`

	// InvoiceID anchors credit-level idempotency for subscription grants.
	// Empty for purchase and referral batches.
	InvoiceID string `json:"invoice_id,omitempty" grove:"invoice_id,unique"`

	Amount   int64 `json:"amount" grove:"amount,notnull"`
	Consumed int64 `json:"consumed" grove:"consumed,notnull,default:0"`

	ExpiresAt time.Time `json:"expires_at" grove:"expires_at,notnull"`
	IsActive  bool      `json:"is_active" grove:"is_active,notnull,default:true"`
	Note      string    `json:"note,omitempty" grove:"note"`
}

// New constructs a Batch from its origin, ready to insert. Amount must be
// positive; the caller is expected to have already resolved the catalog
// price and expiry.
func New(userID id.UserID, origin BatchOrigin, amount int64, expiresAt time.Time, invoiceID, note string) *Batch {
	b := &Batch{
		Entity:    types.NewEntity(),
		ID:        id.NewBatchID(),
		UserID:    userID,
		Amount:    amount,
		ExpiresAt: expiresAt,
		IsActive:  true,
		InvoiceID: invoiceID,
		Note:      note,
	}
	origin.Apply(b)
	return b
}

// Remaining returns the un-consumed amount still available in this batch.
func (b *Batch) Remaining() int64 {
	r := b.Amount - b.Consumed
	if r < 0 {
		return 0
	}
	return r
}

// IsExpired reports whether the batch's expiry has passed as of now.
func (b *Batch) IsExpired(now time.Time) bool {
	return !b.ExpiresAt.After(now)
}

// Take consumes up to want tokens from the batch, returning how many were
// actually taken (bounded by Remaining()). It mutates Consumed in place;
// callers are expected to run this inside a locked, transactional read of
// the batch.
func (b *Batch) Take(want int64) int64 {
	take := want
	if r := b.Remaining(); take > r {
		take = r
	}
	if take <= 0 {
		return 0
	}
	b.Consumed += take
	return take
}

// Validate checks the amount/consumed range and origin-fk invariants.
// Whether an expired batch has actually been deactivated is a
// post-condition of the maintenance sweep, not a constructor-time check,
// since a freshly granted batch is expected to have ExpiresAt in the
// future.
func (b *Batch) Validate() error {
	if b.Amount < 0 {
		return fmt.Errorf("batch: amount must be non-negative, got %d", b.Amount)
	}
	if b.Consumed < 0 || b.Consumed > b.Amount {
		return fmt.Errorf("batch: consumed %d out of range [0, %d]", b.Consumed, b.Amount)
	}

	hasSub := !b.SubscriptionID.IsNil()
	hasPurchase := !b.PurchaseID.IsNil()

	switch b.Source {
	case OriginSubscription:
		if !hasSub || hasPurchase {
			return fmt.Errorf("batch: source=subscription requires subscription_id and no purchase_id")
		}
		if b.InvoiceID == "" {
			return fmt.Errorf("batch: source=subscription requires a non-empty invoice_id")
		}
	case OriginPurchase:
		if !hasPurchase || hasSub {
			return fmt.Errorf("batch: source=purchase requires purchase_id and no subscription_id")
		}
	case OriginReferral:
		if hasSub || hasPurchase {
			return fmt.Errorf("batch: source=referral must not carry subscription_id or purchase_id")
		}
	default:
		return fmt.Errorf("batch: unknown source %q", b.Source)
	}

	return nil
}
