package ledger_test

import (
	"context"
	"log"
	"log/slog"
	"testing"
	"time"

	"github.com/tokenledger/ledger"
	"github.com/tokenledger/ledger/batch"
	"github.com/tokenledger/ledger/catalog"
	"github.com/tokenledger/ledger/journal"
	"github.com/tokenledger/ledger/pgclient"
	"github.com/tokenledger/ledger/store/memory"
)

// TestDocumentationExamples verifies that the examples in doc.go compile
// and behave as documented.
func TestDocumentationExamples(t *testing.T) {
	// Test the Quick Start example from doc.go
	t.Run("QuickStartExample", func(t *testing.T) {
		// Create a store (memory for demo, use postgres or sqlite in production)
		st := memory.New()
		st.SeedTokenPrice(catalog.TokenPrice{
			PlanKey:    "top_up",
			Tier:       "standard",
			Tokens:     1000,
			PriceCents: 999,
		})

		// A fake PG collaborator stands in for the real Stripe-shaped client.
		pg := pgclient.NewFake()

		// Initialize the ledger over the store, PG, and catalog.
		l := ledger.New(st, pg, st, ledger.WithLogger(slog.Default()))

		ctx := context.Background()
		if err := l.Start(ctx); err != nil {
			t.Fatal(err)
		}
		defer l.Stop()

		u, err := st.UpsertUserByExternalID(ctx, "auth0|abc123", "person@example.com")
		if err != nil {
			t.Fatal(err)
		}

		// Grant tokens directly (a purchase webhook would normally do this).
		granted, err := l.Grant(ctx, u.ID, batch.FromPurchase(u.ID), 1000, time.Now().AddDate(0, 0, 60), "", "welcome grant")
		if err != nil {
			t.Fatal(err)
		}
		log.Printf("granted batch %s: %d tokens\n", granted.ID, granted.Amount)

		balance, err := l.Balance(ctx, u.ID)
		if err != nil {
			t.Fatal(err)
		}
		if balance != 1000 {
			t.Fatalf("balance = %d, want 1000", balance)
		}

		// Consume tokens for a piece of work.
		consumed, err := l.Consume(ctx, u.ID, 500, journal.ReasonConsumption)
		if err != nil {
			t.Fatal(err)
		}
		if consumed != 500 {
			t.Fatalf("consumed = %d, want 500", consumed)
		}

		balance, err = l.Balance(ctx, u.ID)
		if err != nil {
			t.Fatal(err)
		}
		if balance != 500 {
			t.Fatalf("balance after consume = %d, want 500", balance)
		}
	})
}
