package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/tokenledger/ledger/batch"
	"github.com/tokenledger/ledger/catalog"
	"github.com/tokenledger/ledger/id"
	"github.com/tokenledger/ledger/journal"
	"github.com/tokenledger/ledger/plugin"
	"github.com/tokenledger/ledger/store"
	"github.com/tokenledger/ledger/store/memory"
	"github.com/tokenledger/ledger/subscription"
	"github.com/tokenledger/ledger/types"
)

func newTestStore() *memory.Store {
	s := memory.New()
	s.SeedSubscriptionPrice(catalog.SubscriptionPrice{
		PlanKey:        "pro_yearly",
		PlanTier:       subscription.TierPremium,
		BillingCycle:   subscription.CycleYearly,
		TokensPerCycle: 120000,
		PriceCents:     29900,
	})
	return s
}

func TestExpireBatches(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	userID := id.NewUserID()
	past := time.Now().Add(-time.Hour)
	b := batch.New(userID, batch.FromPurchase(id.NewPurchaseID()), 1000, past, "", "test grant")
	b.Consumed = 400

	if err := s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.InsertBatch(ctx, b); err != nil {
			return err
		}
		if err := tx.AppendTokenEvent(ctx, journal.Credit(userID, b.ID, 1000, journal.ReasonPurchase, past)); err != nil {
			return err
		}
		return tx.AppendTokenEvent(ctx, journal.Debit(userID, b.ID, 400, journal.ReasonConsumption, past))
	}); err != nil {
		t.Fatalf("seed batch: %v", err)
	}

	w := NewWorker(s, plugin.NewRegistry(), nil, time.Hour)
	now := time.Now()
	count := w.ExpireBatches(ctx, now)
	if count != 1 {
		t.Fatalf("ExpireBatches count = %d, want 1", count)
	}

	got, err := s.GetBatch(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if got.IsActive {
		t.Fatal("expired batch should be inactive")
	}

	sum, err := s.SumJournalByUser(ctx, userID)
	if err != nil {
		t.Fatalf("SumJournalByUser: %v", err)
	}
	if sum != 0 {
		t.Fatalf("journal sum after expiry = %d, want 0 (+1000 grant, -400 consumption, -600 expiry debit)", sum)
	}
}

func TestEndSubscriptions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	u, err := s.UpsertUserByExternalID(ctx, "ext-1", "a@example.com")
	if err != nil {
		t.Fatalf("UpsertUserByExternalID: %v", err)
	}

	sub := &subscription.Subscription{
		Entity:             types.NewEntity(),
		ID:                 id.NewSubscriptionID(),
		UserID:             u.ID,
		PlanKey:            "pro_yearly",
		PlanTier:           subscription.TierPremium,
		BillingCycle:       subscription.CycleYearly,
		PGSubscriptionID:   "pg_sub_1",
		IsActive:           true,
		CurrentPeriodStart: time.Now().Add(-31 * 24 * time.Hour),
		CurrentPeriodEnd:   time.Now().Add(-time.Hour),
		TokensPerCycle:     120000,
	}
	if err := s.CreateSubscription(ctx, sub); err != nil {
		t.Fatalf("CreateSubscription: %v", err)
	}
	trueVal := true
	if err := s.UpdateUserFlags(ctx, u.ID, &trueVal, nil); err != nil {
		t.Fatalf("UpdateUserFlags: %v", err)
	}

	w := NewWorker(s, plugin.NewRegistry(), nil, time.Hour)
	count := w.endSubscriptions(ctx, time.Now())
	if count != 1 {
		t.Fatalf("endSubscriptions count = %d, want 1", count)
	}

	got, err := s.GetSubscription(ctx, sub.ID)
	if err != nil {
		t.Fatalf("GetSubscription: %v", err)
	}
	if got.IsActive {
		t.Fatal("subscription should be deactivated")
	}

	updatedUser, err := s.GetUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if updatedUser.HasActiveSubscription {
		t.Fatal("user should no longer have an active subscription")
	}
}

func TestRefillYearlyIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	u, err := s.UpsertUserByExternalID(ctx, "ext-2", "b@example.com")
	if err != nil {
		t.Fatalf("UpsertUserByExternalID: %v", err)
	}

	sub := &subscription.Subscription{
		Entity:             types.NewEntity(),
		ID:                 id.NewSubscriptionID(),
		UserID:             u.ID,
		PlanKey:            "pro_yearly",
		PlanTier:           subscription.TierPremium,
		BillingCycle:       subscription.CycleYearly,
		PGSubscriptionID:   "pg_sub_2",
		IsActive:           true,
		CurrentPeriodStart: time.Now().Add(-24 * time.Hour),
		CurrentPeriodEnd:   time.Now().AddDate(1, 0, 0),
		TokensPerCycle:     120000,
	}
	if err := s.CreateSubscription(ctx, sub); err != nil {
		t.Fatalf("CreateSubscription: %v", err)
	}

	w := NewWorker(s, plugin.NewRegistry(), nil, time.Hour)
	now := time.Now()

	first := w.refillYearly(ctx, now)
	if first != 1 {
		t.Fatalf("first refillYearly = %d, want 1", first)
	}

	// Re-running with the same now (same calendar month) must be a no-op:
	// RunOnce's idempotency property.
	second := w.refillYearly(ctx, now)
	if second != 0 {
		t.Fatalf("second refillYearly = %d, want 0 (same month)", second)
	}

	balance, err := s.Balance(ctx, u.ID, now)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance != 10000 {
		t.Fatalf("balance = %d, want 10000 (one monthly refill: 120000/12)", balance)
	}
}
