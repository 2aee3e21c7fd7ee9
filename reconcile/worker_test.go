package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/tokenledger/ledger/batch"
	"github.com/tokenledger/ledger/id"
	"github.com/tokenledger/ledger/journal"
	"github.com/tokenledger/ledger/pgclient"
	"github.com/tokenledger/ledger/plugin"
	"github.com/tokenledger/ledger/store"
	"github.com/tokenledger/ledger/store/memory"
	"github.com/tokenledger/ledger/subscription"
	"github.com/tokenledger/ledger/types"
)

func newSubscription(userID id.UserID, planKey, pgSubscriptionID string) *subscription.Subscription {
	return &subscription.Subscription{
		Entity:             types.NewEntity(),
		ID:                 id.NewSubscriptionID(),
		UserID:             userID,
		PlanKey:            planKey,
		PlanTier:           subscription.TierPremium,
		BillingCycle:       subscription.CycleMonthly,
		PGSubscriptionID:   pgSubscriptionID,
		IsActive:           true,
		CurrentPeriodStart: time.Now().Add(-24 * time.Hour),
		CurrentPeriodEnd:   time.Now().Add(6 * 24 * time.Hour),
		TokensPerCycle:     10000,
	}
}

func TestRunOnceStatusDrift(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	pg := pgclient.NewFake()

	u, err := s.UpsertUserByExternalID(ctx, "ext-1", "a@example.com")
	if err != nil {
		t.Fatalf("UpsertUserByExternalID: %v", err)
	}
	sub := newSubscription(u.ID, "pro_monthly", "pg_sub_drift")
	if err := s.CreateSubscription(ctx, sub); err != nil {
		t.Fatalf("CreateSubscription: %v", err)
	}
	pg.Subscriptions["pg_sub_drift"] = &pgclient.Subscription{
		ID: "pg_sub_drift", Status: "canceled", PriceID: "pro_monthly",
	}

	w := NewWorker(s, pg, plugin.NewRegistry(), nil, time.Hour, Config{})
	anomalies := w.RunOnce(ctx, time.Now())

	if len(anomalies) != 1 || anomalies[0].Kind != AnomalyStatusDrift {
		t.Fatalf("anomalies = %+v, want one status_drift", anomalies)
	}
}

func TestRunOncePlanDrift(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	pg := pgclient.NewFake()

	u, err := s.UpsertUserByExternalID(ctx, "ext-2", "b@example.com")
	if err != nil {
		t.Fatalf("UpsertUserByExternalID: %v", err)
	}
	sub := newSubscription(u.ID, "pro_monthly", "pg_sub_plan")
	if err := s.CreateSubscription(ctx, sub); err != nil {
		t.Fatalf("CreateSubscription: %v", err)
	}
	pg.Subscriptions["pg_sub_plan"] = &pgclient.Subscription{
		ID: "pg_sub_plan", Status: "active", PriceID: "ultra_monthly",
	}

	w := NewWorker(s, pg, plugin.NewRegistry(), nil, time.Hour, Config{})
	anomalies := w.RunOnce(ctx, time.Now())

	if len(anomalies) != 1 || anomalies[0].Kind != AnomalyPlanDrift {
		t.Fatalf("anomalies = %+v, want one plan_drift", anomalies)
	}
}

func TestRunOnceOrphan(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	pg := pgclient.NewFake()

	u, err := s.UpsertUserByExternalID(ctx, "ext-3", "c@example.com")
	if err != nil {
		t.Fatalf("UpsertUserByExternalID: %v", err)
	}
	sub := newSubscription(u.ID, "pro_monthly", "pg_sub_missing")
	if err := s.CreateSubscription(ctx, sub); err != nil {
		t.Fatalf("CreateSubscription: %v", err)
	}
	// deliberately no matching entry in pg.Subscriptions

	w := NewWorker(s, pg, plugin.NewRegistry(), nil, time.Hour, Config{})
	anomalies := w.RunOnce(ctx, time.Now())

	if len(anomalies) != 1 || anomalies[0].Kind != AnomalyOrphan {
		t.Fatalf("anomalies = %+v, want one orphan", anomalies)
	}
}

func TestRunOnceNoDrift(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	pg := pgclient.NewFake()

	u, err := s.UpsertUserByExternalID(ctx, "ext-4", "d@example.com")
	if err != nil {
		t.Fatalf("UpsertUserByExternalID: %v", err)
	}
	sub := newSubscription(u.ID, "pro_monthly", "pg_sub_clean")
	if err := s.CreateSubscription(ctx, sub); err != nil {
		t.Fatalf("CreateSubscription: %v", err)
	}
	pg.Subscriptions["pg_sub_clean"] = &pgclient.Subscription{
		ID: "pg_sub_clean", Status: "active", PriceID: "pro_monthly",
	}

	w := NewWorker(s, pg, plugin.NewRegistry(), nil, time.Hour, Config{})
	anomalies := w.RunOnce(ctx, time.Now())

	if len(anomalies) != 0 {
		t.Fatalf("anomalies = %+v, want none", anomalies)
	}
}

func TestRunOnceBalanceMismatch(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	pg := pgclient.NewFake()

	u, err := s.UpsertUserByExternalID(ctx, "ext-5", "e@example.com")
	if err != nil {
		t.Fatalf("UpsertUserByExternalID: %v", err)
	}
	sub := newSubscription(u.ID, "pro_monthly", "pg_sub_bal")
	if err := s.CreateSubscription(ctx, sub); err != nil {
		t.Fatalf("CreateSubscription: %v", err)
	}
	pg.Subscriptions["pg_sub_bal"] = &pgclient.Subscription{
		ID: "pg_sub_bal", Status: "active", PriceID: "pro_monthly",
	}

	// Insert a 5000 batch with only a 1000 journal credit, simulating a
	// bug that would otherwise go unnoticed: live balance (from batches)
	// and the journal sum disagree.
	b := batch.New(u.ID, batch.FromSubscription(sub.ID), 5000, time.Now().Add(time.Hour), "inv_bal_1", "")
	if err := s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.InsertBatch(ctx, b)
		return err
	}); err != nil {
		t.Fatalf("seed batch: %v", err)
	}
	if err := s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.AppendTokenEvent(ctx, journal.Credit(u.ID, b.ID, 1000, journal.ReasonSubscriptionRefill, time.Now()))
	}); err != nil {
		t.Fatalf("seed short journal entry: %v", err)
	}

	w := NewWorker(s, pg, plugin.NewRegistry(), nil, time.Hour, Config{CheckBalances: true})
	anomalies := w.RunOnce(ctx, time.Now())

	found := false
	for _, a := range anomalies {
		if a.Kind == AnomalyBalanceMismatch {
			found = true
			if !a.Critical {
				t.Fatal("balance mismatch anomaly must be marked Critical")
			}
		}
	}
	if !found {
		t.Fatalf("anomalies = %+v, want a balance_mismatch", anomalies)
	}
}
