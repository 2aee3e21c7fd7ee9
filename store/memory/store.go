// Package memory provides an in-memory implementation of store.Store,
// suitable for tests and local development. It is not durable and holds
// everything in a single process's heap, guarded by one mutex; RunInTx
// snapshots the affected maps so a returned error rolls back cleanly.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tokenledger/ledger/batch"
	"github.com/tokenledger/ledger/catalog"
	"github.com/tokenledger/ledger/id"
	"github.com/tokenledger/ledger/idempotency"
	"github.com/tokenledger/ledger/journal"
	"github.com/tokenledger/ledger/purchase"
	"github.com/tokenledger/ledger/referral"
	"github.com/tokenledger/ledger/store"
	"github.com/tokenledger/ledger/subscription"
	"github.com/tokenledger/ledger/user"
)

// Store is an in-memory implementation of store.Store.
type Store struct {
	mu sync.Mutex

	users         map[string]user.User
	subscriptions map[string]subscription.Subscription
	purchases     map[string]purchase.Purchase
	batches       map[string]batch.Batch
	journal       map[string]journal.Entry
	referrals     map[string]referral.Referral
	events        map[string]idempotency.EventRecord

	subPrices   map[string]catalog.SubscriptionPrice
	tokenPrices map[string]catalog.TokenPrice

	// Secondary indexes, all keyed to the primary map's ID string.
	usersByExternalID  map[string]string
	usersByEmail       map[string]string
	usersByPGCustomer  map[string]string
	subsByPGID         map[string]string
	purchasesByPGID    map[string]string
	batchesByInvoiceID map[string]string
	referralsByReferee map[string]string
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		users:              make(map[string]user.User),
		subscriptions:      make(map[string]subscription.Subscription),
		purchases:          make(map[string]purchase.Purchase),
		batches:            make(map[string]batch.Batch),
		journal:            make(map[string]journal.Entry),
		referrals:          make(map[string]referral.Referral),
		events:             make(map[string]idempotency.EventRecord),
		subPrices:          make(map[string]catalog.SubscriptionPrice),
		tokenPrices:        make(map[string]catalog.TokenPrice),
		usersByExternalID:  make(map[string]string),
		usersByEmail:       make(map[string]string),
		usersByPGCustomer:  make(map[string]string),
		subsByPGID:         make(map[string]string),
		purchasesByPGID:    make(map[string]string),
		batchesByInvoiceID: make(map[string]string),
		referralsByReferee: make(map[string]string),
	}
}

// SeedSubscriptionPrice loads a catalog row for tests; the catalog is
// read-only to the ledger core but this store needs a way to populate it.
func (s *Store) SeedSubscriptionPrice(p catalog.SubscriptionPrice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subPrices[p.PlanKey] = p
}

// SeedTokenPrice loads a catalog row for tests.
func (s *Store) SeedTokenPrice(p catalog.TokenPrice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenPrices[tokenPriceKey(p.PlanKey, p.Tier)] = p
}

func tokenPriceKey(planKey, tier string) string { return planKey + "|" + tier }

func idempotencyRecord(eventID, eventType string, receivedAt time.Time) idempotency.EventRecord {
	return idempotency.EventRecord{EventID: eventID, EventType: eventType, ReceivedAt: receivedAt}
}

// ──────────────────────────────────────────────────
// snapshot / restore for RunInTx
// ──────────────────────────────────────────────────

type snapshot struct {
	users              map[string]user.User
	subscriptions      map[string]subscription.Subscription
	purchases          map[string]purchase.Purchase
	batches            map[string]batch.Batch
	journal            map[string]journal.Entry
	referrals          map[string]referral.Referral
	events             map[string]idempotency.EventRecord
	usersByExternalID  map[string]string
	usersByEmail       map[string]string
	usersByPGCustomer  map[string]string
	subsByPGID         map[string]string
	purchasesByPGID    map[string]string
	batchesByInvoiceID map[string]string
	referralsByReferee map[string]string
}

func cloneStrMap(m map[string]string) map[string]string {
	c := make(map[string]string, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

func (s *Store) snapshotLocked() snapshot {
	cp := func() snapshot {
		users := make(map[string]user.User, len(s.users))
		for k, v := range s.users {
			users[k] = v
		}
		subs := make(map[string]subscription.Subscription, len(s.subscriptions))
		for k, v := range s.subscriptions {
			subs[k] = v
		}
		purchases := make(map[string]purchase.Purchase, len(s.purchases))
		for k, v := range s.purchases {
			purchases[k] = v
		}
		batches := make(map[string]batch.Batch, len(s.batches))
		for k, v := range s.batches {
			batches[k] = v
		}
		journ := make(map[string]journal.Entry, len(s.journal))
		for k, v := range s.journal {
			journ[k] = v
		}
		refs := make(map[string]referral.Referral, len(s.referrals))
		for k, v := range s.referrals {
			refs[k] = v
		}
		events := make(map[string]idempotency.EventRecord, len(s.events))
		for k, v := range s.events {
			events[k] = v
		}
		return snapshot{
			users:              users,
			subscriptions:      subs,
			purchases:          purchases,
			batches:            batches,
			journal:            journ,
			referrals:          refs,
			events:             events,
			usersByExternalID:  cloneStrMap(s.usersByExternalID),
			usersByEmail:       cloneStrMap(s.usersByEmail),
			usersByPGCustomer:  cloneStrMap(s.usersByPGCustomer),
			subsByPGID:         cloneStrMap(s.subsByPGID),
			purchasesByPGID:    cloneStrMap(s.purchasesByPGID),
			batchesByInvoiceID: cloneStrMap(s.batchesByInvoiceID),
			referralsByReferee: cloneStrMap(s.referralsByReferee),
		}
	}
	return cp()
}

func (s *Store) restoreLocked(snap snapshot) {
	s.users = snap.users
	s.subscriptions = snap.subscriptions
	s.purchases = snap.purchases
	s.batches = snap.batches
	s.journal = snap.journal
	s.referrals = snap.referrals
	s.events = snap.events
	s.usersByExternalID = snap.usersByExternalID
	s.usersByEmail = snap.usersByEmail
	s.usersByPGCustomer = snap.usersByPGCustomer
	s.subsByPGID = snap.subsByPGID
	s.purchasesByPGID = snap.purchasesByPGID
	s.batchesByInvoiceID = snap.batchesByInvoiceID
	s.referralsByReferee = snap.referralsByReferee
}

// RunInTx serializes all transactions through the store mutex: since the
// whole store is one process's memory, taking the lock for the duration of
// fn already gives serializable isolation. A returned error rolls the
// snapshot back.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshotLocked()
	if err := fn(ctx, &tx{s: s}); err != nil {
		s.restoreLocked(snap)
		return err
	}
	return nil
}

// ──────────────────────────────────────────────────
// Store: user methods
// ──────────────────────────────────────────────────

func (s *Store) UpsertUserByExternalID(_ context.Context, externalID, email string) (*user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertUserByExternalIDLocked(externalID, email)
}

func (s *Store) upsertUserByExternalIDLocked(externalID, email string) (*user.User, error) {
	if uid, ok := s.usersByExternalID[externalID]; ok {
		u := s.users[uid]
		return &u, nil
	}
	u := user.New(externalID, email)
	s.users[u.ID.String()] = *u
	s.usersByExternalID[externalID] = u.ID.String()
	if email != "" {
		s.usersByEmail[email] = u.ID.String()
	}
	return u, nil
}

func (s *Store) GetUser(_ context.Context, userID id.UserID) (*user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID.String()]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	return &u, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	uid, ok := s.usersByEmail[email]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	u := s.users[uid]
	return &u, nil
}

func (s *Store) GetUserByPGCustomerID(_ context.Context, pgCustomerID string) (*user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	uid, ok := s.usersByPGCustomer[pgCustomerID]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	u := s.users[uid]
	return &u, nil
}

func (s *Store) BindPGCustomer(_ context.Context, userID id.UserID, pgCustomerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bindPGCustomerLocked(userID, pgCustomerID)
}

func (s *Store) bindPGCustomerLocked(userID id.UserID, pgCustomerID string) error {
	u, ok := s.users[userID.String()]
	if !ok {
		return store.ErrUserNotFound
	}
	u.PGCustomerID = pgCustomerID
	u.Touch()
	s.users[userID.String()] = u
	s.usersByPGCustomer[pgCustomerID] = userID.String()
	return nil
}

func (s *Store) UpdateUserFlags(_ context.Context, userID id.UserID, hasActiveSubscription, hasPaymentIssue *bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateUserFlagsLocked(userID, hasActiveSubscription, hasPaymentIssue)
}

func (s *Store) updateUserFlagsLocked(userID id.UserID, hasActiveSubscription, hasPaymentIssue *bool) error {
	u, ok := s.users[userID.String()]
	if !ok {
		return store.ErrUserNotFound
	}
	if hasActiveSubscription != nil {
		u.HasActiveSubscription = *hasActiveSubscription
	}
	if hasPaymentIssue != nil {
		u.HasPaymentIssue = *hasPaymentIssue
	}
	u.Touch()
	s.users[userID.String()] = u
	return nil
}

// ──────────────────────────────────────────────────
// Store: subscription methods
// ──────────────────────────────────────────────────

func (s *Store) CreateSubscription(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.subscriptions[sub.ID.String()]; exists {
		return store.ErrAlreadyExists
	}
	s.subscriptions[sub.ID.String()] = *sub
	s.subsByPGID[sub.PGSubscriptionID] = sub.ID.String()
	return nil
}

func (s *Store) GetSubscription(_ context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscriptions[subID.String()]
	if !ok {
		return nil, store.ErrSubscriptionNotFound
	}
	return &sub, nil
}

func (s *Store) GetSubscriptionByPGID(_ context.Context, pgSubscriptionID string) (*subscription.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getSubscriptionByPGIDLocked(pgSubscriptionID)
}

func (s *Store) getSubscriptionByPGIDLocked(pgSubscriptionID string) (*subscription.Subscription, error) {
	subID, ok := s.subsByPGID[pgSubscriptionID]
	if !ok {
		return nil, store.ErrSubscriptionNotFound
	}
	sub := s.subscriptions[subID]
	return &sub, nil
}

func (s *Store) GetActiveSubscription(_ context.Context, userID id.UserID) (*subscription.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subscriptions {
		if sub.UserID.Equal(userID) && sub.IsActive {
			cp := sub
			return &cp, nil
		}
	}
	return nil, store.ErrNoActiveSubscription
}

func (s *Store) ListSubscriptions(_ context.Context, userID id.UserID, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*subscription.Subscription
	for _, sub := range s.subscriptions {
		if !sub.UserID.Equal(userID) {
			continue
		}
		if opts.Status != "" && sub.Status() != opts.Status {
			continue
		}
		cp := sub
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID.String() < result[j].ID.String() })
	return paginateSubs(result, opts.Offset, opts.Limit), nil
}

func paginateSubs(in []*subscription.Subscription, offset, limit int) []*subscription.Subscription {
	if offset > len(in) {
		offset = len(in)
	}
	end := len(in)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return in[offset:end]
}

func (s *Store) UpdateSubscription(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateSubscriptionLocked(sub)
}

func (s *Store) updateSubscriptionLocked(sub *subscription.Subscription) error {
	if _, ok := s.subscriptions[sub.ID.String()]; !ok {
		return store.ErrSubscriptionNotFound
	}
	sub.Touch()
	s.subscriptions[sub.ID.String()] = *sub
	return nil
}

func (s *Store) SubscriptionsDueForPeriodEnd(_ context.Context, asOf time.Time, cursor subscription.ListCursor) ([]*subscription.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*subscription.Subscription
	for _, sub := range s.subscriptions {
		if sub.IsActive && sub.CurrentPeriodEnd.Before(asOf) {
			cp := sub
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID.String() < result[j].ID.String() })
	return applyCursorSubs(result, cursor), nil
}

func (s *Store) SubscriptionsDueForMonthlyRefill(_ context.Context, asOf time.Time, cursor subscription.ListCursor) ([]*subscription.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*subscription.Subscription
	for _, sub := range s.subscriptions {
		if sub.NeedsMonthlyRefill(asOf) {
			cp := sub
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID.String() < result[j].ID.String() })
	return applyCursorSubs(result, cursor), nil
}

func (s *Store) ListActiveSubscriptions(_ context.Context, cursor subscription.ListCursor) ([]*subscription.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*subscription.Subscription
	for _, sub := range s.subscriptions {
		if sub.IsActive {
			cp := sub
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID.String() < result[j].ID.String() })
	return applyCursorSubs(result, cursor), nil
}

func applyCursorSubs(in []*subscription.Subscription, cursor subscription.ListCursor) []*subscription.Subscription {
	start := 0
	if !cursor.After.IsNil() {
		for i, sub := range in {
			if sub.ID.Equal(cursor.After) {
				start = i + 1
				break
			}
		}
	}
	if start > len(in) {
		start = len(in)
	}
	end := len(in)
	if cursor.Limit > 0 && start+cursor.Limit < end {
		end = start + cursor.Limit
	}
	return in[start:end]
}

// ──────────────────────────────────────────────────
// Store: purchase methods
// ──────────────────────────────────────────────────

func (s *Store) GetPurchase(_ context.Context, purchaseID id.PurchaseID) (*purchase.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.purchases[purchaseID.String()]
	if !ok {
		return nil, store.ErrPurchaseNotFound
	}
	return &p, nil
}

func (s *Store) GetPurchaseByPGID(_ context.Context, pgPurchaseID string) (*purchase.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getPurchaseByPGIDLocked(pgPurchaseID)
}

func (s *Store) getPurchaseByPGIDLocked(pgPurchaseID string) (*purchase.Purchase, error) {
	pid, ok := s.purchasesByPGID[pgPurchaseID]
	if !ok {
		return nil, store.ErrPurchaseNotFound
	}
	p := s.purchases[pid]
	return &p, nil
}

func (s *Store) ListPurchases(_ context.Context, userID id.UserID, opts purchase.ListOpts) ([]*purchase.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*purchase.Purchase
	for _, p := range s.purchases {
		if p.UserID.Equal(userID) {
			cp := p
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID.String() < result[j].ID.String() })
	start := opts.Offset
	if start > len(result) {
		start = len(result)
	}
	end := len(result)
	if opts.Limit > 0 && start+opts.Limit < end {
		end = start + opts.Limit
	}
	return result[start:end], nil
}

// ──────────────────────────────────────────────────
// Store: batch / balance methods
// ──────────────────────────────────────────────────

func (s *Store) GetBatch(_ context.Context, batchID id.BatchID) (*batch.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID.String()]
	if !ok {
		return nil, store.ErrBatchNotFound
	}
	return &b, nil
}

func (s *Store) ListActiveBatches(_ context.Context, userID id.UserID, now time.Time) ([]*batch.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listActiveBatchesLocked(userID, now), nil
}

func (s *Store) listActiveBatchesLocked(userID id.UserID, now time.Time) []*batch.Batch {
	var result []*batch.Batch
	for _, b := range s.batches {
		if b.UserID.Equal(userID) && b.IsActive && !b.IsExpired(now) {
			cp := b
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].ExpiresAt.Equal(result[j].ExpiresAt) {
			return result[i].ExpiresAt.Before(result[j].ExpiresAt)
		}
		return result[i].ID.String() < result[j].ID.String()
	})
	return result
}

func (s *Store) ListBatches(_ context.Context, userID id.UserID, opts batch.ListOpts) ([]*batch.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*batch.Batch
	for _, b := range s.batches {
		if !b.UserID.Equal(userID) {
			continue
		}
		if opts.Source != "" && b.Source != opts.Source {
			continue
		}
		cp := b
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID.String() < result[j].ID.String() })
	start := opts.Offset
	if start > len(result) {
		start = len(result)
	}
	end := len(result)
	if opts.Limit > 0 && start+opts.Limit < end {
		end = start + opts.Limit
	}
	return result[start:end], nil
}

func (s *Store) Balance(_ context.Context, userID id.UserID, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, b := range s.batches {
		if b.UserID.Equal(userID) && b.IsActive && !b.IsExpired(now) {
			total += b.Remaining()
		}
	}
	return total, nil
}

func (s *Store) BatchesDueForExpiry(_ context.Context, asOf time.Time, cursor batch.ListCursor) ([]*batch.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*batch.Batch
	for _, b := range s.batches {
		if b.IsActive && !b.ExpiresAt.After(asOf) {
			cp := b
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID.String() < result[j].ID.String() })
	start := 0
	if !cursor.After.IsNil() {
		for i, b := range result {
			if b.ID.Equal(cursor.After) {
				start = i + 1
				break
			}
		}
	}
	if start > len(result) {
		start = len(result)
	}
	end := len(result)
	if cursor.Limit > 0 && start+cursor.Limit < end {
		end = start + cursor.Limit
	}
	return result[start:end], nil
}

// ──────────────────────────────────────────────────
// Store: journal methods
// ──────────────────────────────────────────────────

func (s *Store) ListJournalByUser(_ context.Context, userID id.UserID, opts journal.ListOpts) ([]*journal.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*journal.Entry
	for _, e := range s.journal {
		if e.UserID.Equal(userID) {
			cp := e
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].At.Before(result[j].At) })
	start := opts.Offset
	if start > len(result) {
		start = len(result)
	}
	end := len(result)
	if opts.Limit > 0 && start+opts.Limit < end {
		end = start + opts.Limit
	}
	return result[start:end], nil
}

func (s *Store) ListJournalByBatch(_ context.Context, batchID id.BatchID) ([]*journal.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*journal.Entry
	for _, e := range s.journal {
		if e.BatchID.Equal(batchID) {
			cp := e
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].At.Before(result[j].At) })
	return result, nil
}

func (s *Store) SumJournalByBatch(_ context.Context, batchID id.BatchID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum int64
	for _, e := range s.journal {
		if e.BatchID.Equal(batchID) {
			sum += e.Delta
		}
	}
	return sum, nil
}

func (s *Store) SumJournalByUser(_ context.Context, userID id.UserID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum int64
	for _, e := range s.journal {
		if e.UserID.Equal(userID) {
			sum += e.Delta
		}
	}
	return sum, nil
}

// ──────────────────────────────────────────────────
// Store: referral / catalog methods
// ──────────────────────────────────────────────────

func (s *Store) CreateReferral(_ context.Context, r *referral.Referral) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createReferralLocked(r)
}

func (s *Store) createReferralLocked(r *referral.Referral) error {
	if _, exists := s.referralsByReferee[r.ReferredUserID.String()]; exists {
		return store.ErrAlreadyExists
	}
	s.referrals[r.ID.String()] = *r
	s.referralsByReferee[r.ReferredUserID.String()] = r.ID.String()
	return nil
}

func (s *Store) GetReferralByReferredUser(_ context.Context, referredUserID id.UserID) (*referral.Referral, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getReferralByReferredUserLocked(referredUserID)
}

func (s *Store) getReferralByReferredUserLocked(referredUserID id.UserID) (*referral.Referral, error) {
	rid, ok := s.referralsByReferee[referredUserID.String()]
	if !ok {
		return nil, store.ErrReferralNotFound
	}
	r := s.referrals[rid]
	return &r, nil
}

func (s *Store) GetSubscriptionPrice(_ context.Context, planKey string) (*catalog.SubscriptionPrice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getSubscriptionPriceLocked(planKey)
}

func (s *Store) getSubscriptionPriceLocked(planKey string) (*catalog.SubscriptionPrice, error) {
	p, ok := s.subPrices[planKey]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return &p, nil
}

func (s *Store) GetTokenPrice(_ context.Context, planKey, tier string) (*catalog.TokenPrice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getTokenPriceLocked(planKey, tier)
}

func (s *Store) getTokenPriceLocked(planKey, tier string) (*catalog.TokenPrice, error) {
	p, ok := s.tokenPrices[tokenPriceKey(planKey, tier)]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return &p, nil
}

func (s *Store) ListSubscriptionPrices(_ context.Context) ([]*catalog.SubscriptionPrice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*catalog.SubscriptionPrice
	for _, p := range s.subPrices {
		cp := p
		result = append(result, &cp)
	}
	return result, nil
}

func (s *Store) ListTokenPrices(_ context.Context) ([]*catalog.TokenPrice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*catalog.TokenPrice
	for _, p := range s.tokenPrices {
		cp := p
		result = append(result, &cp)
	}
	return result, nil
}

// ──────────────────────────────────────────────────
// Core methods
// ──────────────────────────────────────────────────

func (s *Store) Migrate(_ context.Context) error { return nil }
func (s *Store) Ping(_ context.Context) error    { return nil }
func (s *Store) Close() error                    { return nil }
