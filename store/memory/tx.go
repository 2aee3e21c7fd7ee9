package memory

import (
	"context"
	"time"

	"github.com/tokenledger/ledger/batch"
	"github.com/tokenledger/ledger/catalog"
	"github.com/tokenledger/ledger/id"
	"github.com/tokenledger/ledger/journal"
	"github.com/tokenledger/ledger/purchase"
	"github.com/tokenledger/ledger/referral"
	"github.com/tokenledger/ledger/store"
	"github.com/tokenledger/ledger/subscription"
	"github.com/tokenledger/ledger/user"
)

// tx implements store.Tx over a Store already held under its own mutex by
// RunInTx. Every method here calls the store's unlocked helpers directly;
// none of them may take s.mu themselves or they would deadlock.
type tx struct {
	s *Store
}

// Record implements idempotency.Guard.
func (t *tx) Record(_ context.Context, eventID, eventType string, receivedAt time.Time) (bool, error) {
	if _, seen := t.s.events[eventID]; seen {
		return false, nil
	}
	t.s.events[eventID] = idempotencyRecord(eventID, eventType, receivedAt)
	return true, nil
}

func (t *tx) UpsertUserByExternalID(_ context.Context, externalID, email string) (*user.User, error) {
	return t.s.upsertUserByExternalIDLocked(externalID, email)
}

func (t *tx) GetUserForUpdate(_ context.Context, userID id.UserID) (*user.User, error) {
	u, ok := t.s.users[userID.String()]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	return &u, nil
}

func (t *tx) GetUserByPGCustomerIDForUpdate(_ context.Context, pgCustomerID string) (*user.User, error) {
	uid, ok := t.s.usersByPGCustomer[pgCustomerID]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	u := t.s.users[uid]
	return &u, nil
}

func (t *tx) GetUserByEmailForUpdate(_ context.Context, email string) (*user.User, error) {
	uid, ok := t.s.usersByEmail[email]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	u := t.s.users[uid]
	return &u, nil
}

func (t *tx) BindPGCustomer(_ context.Context, userID id.UserID, pgCustomerID string) error {
	return t.s.bindPGCustomerLocked(userID, pgCustomerID)
}

func (t *tx) UpdateUserFlags(_ context.Context, userID id.UserID, hasActiveSubscription, hasPaymentIssue *bool) error {
	return t.s.updateUserFlagsLocked(userID, hasActiveSubscription, hasPaymentIssue)
}

// UpsertSubscriptionByPGID enforces the at-most-one-active-subscription
// invariant: any other active subscription for the same user is
// deactivated before the target row is inserted or updated.
func (t *tx) UpsertSubscriptionByPGID(_ context.Context, sub *subscription.Subscription) (bool, error) {
	for k, existing := range t.s.subscriptions {
		if existing.UserID.Equal(sub.UserID) && existing.IsActive && existing.PGSubscriptionID != sub.PGSubscriptionID {
			existing.MarkEnded()
			existing.Touch()
			t.s.subscriptions[k] = existing
		}
	}

	if existingID, ok := t.s.subsByPGID[sub.PGSubscriptionID]; ok {
		sub.ID = mustParseSubscriptionID(existingID)
		sub.Touch()
		t.s.subscriptions[existingID] = *sub
		return false, nil
	}

	t.s.subscriptions[sub.ID.String()] = *sub
	t.s.subsByPGID[sub.PGSubscriptionID] = sub.ID.String()
	return true, nil
}

func mustParseSubscriptionID(s string) id.SubscriptionID {
	parsed, err := id.ParseSubscriptionID(s)
	if err != nil {
		return id.SubscriptionID{}
	}
	return parsed
}

func (t *tx) GetSubscriptionForUpdate(_ context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	sub, ok := t.s.subscriptions[subID.String()]
	if !ok {
		return nil, store.ErrSubscriptionNotFound
	}
	return &sub, nil
}

func (t *tx) GetSubscriptionByPGIDForUpdate(_ context.Context, pgSubscriptionID string) (*subscription.Subscription, error) {
	return t.s.getSubscriptionByPGIDLocked(pgSubscriptionID)
}

func (t *tx) UpdateSubscription(_ context.Context, sub *subscription.Subscription) error {
	return t.s.updateSubscriptionLocked(sub)
}

func (t *tx) DeactivateSubscription(_ context.Context, subID id.SubscriptionID) error {
	sub, ok := t.s.subscriptions[subID.String()]
	if !ok {
		return store.ErrSubscriptionNotFound
	}
	sub.MarkEnded()
	sub.Touch()
	t.s.subscriptions[subID.String()] = sub
	return nil
}

func (t *tx) InsertPurchase(_ context.Context, p *purchase.Purchase) error {
	if _, exists := t.s.purchases[p.ID.String()]; exists {
		return store.ErrAlreadyExists
	}
	t.s.purchases[p.ID.String()] = *p
	t.s.purchasesByPGID[p.PGPurchaseID] = p.ID.String()
	return nil
}

func (t *tx) GetPurchaseByPGID(_ context.Context, pgPurchaseID string) (*purchase.Purchase, error) {
	return t.s.getPurchaseByPGIDLocked(pgPurchaseID)
}

// InsertBatch honors the credit-level idempotency guard: a colliding
// invoice id returns the pre-existing batch and ErrAlreadyCredited rather
// than failing, matching the unique-constraint semantics of the postgres
// implementation.
func (t *tx) InsertBatch(_ context.Context, b *batch.Batch) (*batch.Batch, error) {
	if b.InvoiceID != "" {
		if existingID, ok := t.s.batchesByInvoiceID[b.InvoiceID]; ok {
			existing := t.s.batches[existingID]
			return &existing, store.ErrAlreadyCredited
		}
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	t.s.batches[b.ID.String()] = *b
	if b.InvoiceID != "" {
		t.s.batchesByInvoiceID[b.InvoiceID] = b.ID.String()
	}
	return b, nil
}

func (t *tx) LockActiveBatchesFIFO(_ context.Context, userID id.UserID, now time.Time) ([]*batch.Batch, error) {
	return t.s.listActiveBatchesLocked(userID, now), nil
}

func (t *tx) UpdateBatchConsumed(_ context.Context, batchID id.BatchID, consumed int64) error {
	b, ok := t.s.batches[batchID.String()]
	if !ok {
		return store.ErrBatchNotFound
	}
	b.Consumed = consumed
	b.Touch()
	t.s.batches[batchID.String()] = b
	return nil
}

func (t *tx) DeactivateBatch(_ context.Context, batchID id.BatchID) error {
	b, ok := t.s.batches[batchID.String()]
	if !ok {
		return store.ErrBatchNotFound
	}
	b.IsActive = false
	b.Touch()
	t.s.batches[batchID.String()] = b
	return nil
}

func (t *tx) AppendTokenEvent(_ context.Context, e *journal.Entry) error {
	t.s.journal[e.ID.String()] = *e
	return nil
}

func (t *tx) GetReferralByReferredUserForUpdate(_ context.Context, referredUserID id.UserID) (*referral.Referral, error) {
	return t.s.getReferralByReferredUserLocked(referredUserID)
}

func (t *tx) CreateReferral(_ context.Context, r *referral.Referral) error {
	return t.s.createReferralLocked(r)
}

func (t *tx) MarkReferralRewarded(_ context.Context, referralID id.ReferralID) error {
	r, ok := t.s.referrals[referralID.String()]
	if !ok {
		return store.ErrReferralNotFound
	}
	r.IsRewarded = true
	r.Touch()
	t.s.referrals[referralID.String()] = r
	return nil
}

func (t *tx) GetSubscriptionPrice(_ context.Context, planKey string) (*catalog.SubscriptionPrice, error) {
	return t.s.getSubscriptionPriceLocked(planKey)
}

func (t *tx) GetTokenPrice(_ context.Context, planKey, tier string) (*catalog.TokenPrice, error) {
	return t.s.getTokenPriceLocked(planKey, tier)
}
