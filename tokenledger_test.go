package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tokenledger/ledger"
	"github.com/tokenledger/ledger/batch"
	"github.com/tokenledger/ledger/catalog"
	"github.com/tokenledger/ledger/journal"
	"github.com/tokenledger/ledger/pgclient"
	"github.com/tokenledger/ledger/store/memory"
)

func newTestLedger() (*ledger.Ledger, *memory.Store) {
	st := memory.New()
	pg := pgclient.NewFake()
	l := ledger.New(st, pg, st)
	return l, st
}

func TestConsumeFIFOAcrossMixedOrigins(t *testing.T) {
	ctx := context.Background()
	l, st := newTestLedger()

	u, err := st.UpsertUserByExternalID(ctx, "ext-fifo", "fifo@example.com")
	if err != nil {
		t.Fatalf("UpsertUserByExternalID: %v", err)
	}

	now := time.Now()
	b1, err := l.Grant(ctx, u.ID, batch.FromSubscription(u.ID), 10, now.Add(time.Minute), "inv_b1", "b1")
	if err != nil {
		t.Fatalf("grant b1: %v", err)
	}
	b3, err := l.Grant(ctx, u.ID, batch.FromReferral(u.ID), 30, now.Add(2*time.Minute), "", "b3")
	if err != nil {
		t.Fatalf("grant b3: %v", err)
	}
	b2, err := l.Grant(ctx, u.ID, batch.FromPurchase(u.ID), 50, now.Add(5*time.Minute), "", "b2")
	if err != nil {
		t.Fatalf("grant b2: %v", err)
	}

	consumed, err := l.Consume(ctx, u.ID, 40, journal.ReasonConsumption)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if consumed != 40 {
		t.Fatalf("consumed = %d, want 40", consumed)
	}

	gotB1, err := st.GetBatch(ctx, b1.ID)
	if err != nil {
		t.Fatalf("GetBatch b1: %v", err)
	}
	if gotB1.Remaining() != 0 {
		t.Fatalf("b1 remaining = %d, want 0 (fully drained first, earliest expiry)", gotB1.Remaining())
	}

	gotB3, err := st.GetBatch(ctx, b3.ID)
	if err != nil {
		t.Fatalf("GetBatch b3: %v", err)
	}
	if gotB3.Remaining() != 0 {
		t.Fatalf("b3 remaining = %d, want 0 (drained second, next expiry)", gotB3.Remaining())
	}

	gotB2, err := st.GetBatch(ctx, b2.ID)
	if err != nil {
		t.Fatalf("GetBatch b2: %v", err)
	}
	if gotB2.Remaining() != 50 {
		t.Fatalf("b2 remaining = %d, want 50 (untouched, latest expiry)", gotB2.Remaining())
	}
}

func TestConsumeInsufficientTokens(t *testing.T) {
	ctx := context.Background()
	l, st := newTestLedger()

	u, err := st.UpsertUserByExternalID(ctx, "ext-short", "short@example.com")
	if err != nil {
		t.Fatalf("UpsertUserByExternalID: %v", err)
	}
	if _, err := l.Grant(ctx, u.ID, batch.FromPurchase(u.ID), 10, time.Now().Add(time.Hour), "", ""); err != nil {
		t.Fatalf("grant: %v", err)
	}

	_, err = l.Consume(ctx, u.ID, 100, journal.ReasonConsumption)
	if !errors.Is(err, ledger.ErrInsufficientTokens) {
		t.Fatalf("err = %v, want ErrInsufficientTokens", err)
	}

	balance, err := l.Balance(ctx, u.ID)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance != 10 {
		t.Fatalf("balance after failed consume = %d, want unchanged 10", balance)
	}
}

func TestConsumeBestEffortPartial(t *testing.T) {
	ctx := context.Background()
	l, st := newTestLedger()

	u, err := st.UpsertUserByExternalID(ctx, "ext-best", "best@example.com")
	if err != nil {
		t.Fatalf("UpsertUserByExternalID: %v", err)
	}
	if _, err := l.Grant(ctx, u.ID, batch.FromPurchase(u.ID), 10, time.Now().Add(time.Hour), "", ""); err != nil {
		t.Fatalf("grant: %v", err)
	}

	consumed, err := l.Consume(ctx, u.ID, 100, journal.ReasonConsumption, ledger.WithBestEffort())
	if err != nil {
		t.Fatalf("Consume with WithBestEffort: %v", err)
	}
	if consumed != 10 {
		t.Fatalf("consumed = %d, want 10 (drained everything available)", consumed)
	}

	balance, err := l.Balance(ctx, u.ID)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance != 0 {
		t.Fatalf("balance after best-effort drain = %d, want 0", balance)
	}
}

func TestGrantIdempotentOnInvoiceID(t *testing.T) {
	ctx := context.Background()
	l, st := newTestLedger()

	u, err := st.UpsertUserByExternalID(ctx, "ext-idem", "idem@example.com")
	if err != nil {
		t.Fatalf("UpsertUserByExternalID: %v", err)
	}

	first, err := l.Grant(ctx, u.ID, batch.FromSubscription(u.ID), 100, time.Now().Add(time.Hour), "in_shared", "")
	if err != nil {
		t.Fatalf("first grant: %v", err)
	}
	second, err := l.Grant(ctx, u.ID, batch.FromSubscription(u.ID), 100, time.Now().Add(time.Hour), "in_shared", "")
	if err != nil {
		t.Fatalf("second grant (should be tolerated, not erred): %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("second grant returned a new batch %s, want the original %s", second.ID, first.ID)
	}

	balance, err := l.Balance(ctx, u.ID)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance != 100 {
		t.Fatalf("balance = %d, want 100 (credited once)", balance)
	}
}

func TestCancelSubscriptionRequiresActiveSubscription(t *testing.T) {
	ctx := context.Background()
	l, st := newTestLedger()

	u, err := st.UpsertUserByExternalID(ctx, "ext-cancel", "cancel@example.com")
	if err != nil {
		t.Fatalf("UpsertUserByExternalID: %v", err)
	}

	err = l.CancelSubscription(ctx, u.ID)
	if !errors.Is(err, ledger.ErrNoActiveSubscription) {
		t.Fatalf("err = %v, want ErrNoActiveSubscription", err)
	}
}

func TestCreateOneTimePurchaseCheckoutUnknownPlan(t *testing.T) {
	ctx := context.Background()
	l, st := newTestLedger()

	u, err := st.UpsertUserByExternalID(ctx, "ext-checkout", "checkout@example.com")
	if err != nil {
		t.Fatalf("UpsertUserByExternalID: %v", err)
	}

	_, err = l.CreateOneTimePurchaseCheckout(ctx, u.ID, "nonexistent", "tier", "https://success", "https://cancel")
	if !errors.Is(err, ledger.ErrCatalogMissing) {
		t.Fatalf("err = %v, want ErrCatalogMissing", err)
	}
}

func TestCreateOneTimePurchaseCheckoutSuccess(t *testing.T) {
	ctx := context.Background()
	l, st := newTestLedger()
	st.SeedTokenPrice(catalog.TokenPrice{PlanKey: "top_up", Tier: "standard", Tokens: 1000, PriceCents: 999})

	u, err := st.UpsertUserByExternalID(ctx, "ext-checkout2", "checkout2@example.com")
	if err != nil {
		t.Fatalf("UpsertUserByExternalID: %v", err)
	}

	url, err := l.CreateOneTimePurchaseCheckout(ctx, u.ID, "top_up", "standard", "https://success", "https://cancel")
	if err != nil {
		t.Fatalf("CreateOneTimePurchaseCheckout: %v", err)
	}
	if url == "" {
		t.Fatal("checkout URL should not be empty")
	}
}
