// Package ledger provides a subscription-plus-prepaid token billing core for
// Go applications.
//
// The ledger is designed as a library, not a service. Import it directly
// into your application and drive it from your own HTTP handlers, or mount
// the bundled Forge extension for the standard webhook/purchase/cancel
// surface. It provides:
//
//   - Idempotent payment-gateway webhook ingestion
//   - A FIFO-by-expiry token ledger with an append-only journal
//   - A strict subscription state machine with dunning grace
//   - A daily maintenance sweep for expiry and yearly-plan refills
//   - A reconciliation worker that reports drift without auto-healing
//   - Pluggable audit trail and metrics extensions
//
// # Quick Start
//
// Create a ledger instance with your preferred store:
//
//	import (
//	    "github.com/tokenledger/ledger"
//	    "github.com/tokenledger/ledger/store/postgres"
//	)
//
//	store := postgres.New(groveDB) // groveDB is an open *grove.DB
//
//	l := ledger.New(store, pgClient, catalogStore)
//	if err := l.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer l.Stop()
//
// # Core Concepts
//
// A Batch is a unit of prepaid token credit with an origin (subscription,
// purchase, or referral) and an expiry. Consuming tokens always draws down
// the batch expiring soonest first:
//
//	consumed, err := l.Consume(ctx, userID, 500, journal.ReasonConsumption)
//
// Every credit and debit against a batch is recorded as an immutable entry
// in the token journal, so a user's balance is always the sum of their
// batches' remaining amounts and independently reconstructable from the
// journal.
//
// Subscriptions move through a small state machine (absent, active,
// payment_issue, cancelled_pending_end, ended) driven entirely by payment
// gateway webhook events; a failed payment never revokes access on its own.
//
// Referral relationships are host-driven: nothing in a payment gateway
// webhook says who referred whom, so the host records that itself with
// RegisterReferral before the referred user's first qualifying payment.
// The reward is granted automatically once that payment's webhook arrives.
//
// # Money
//
// Every monetary field (catalog prices, purchase discounts, subscription
// prices) is a plain int64 count of the smallest currency unit — cents —
// to avoid floating-point precision issues. The ledger assumes a single
// billing currency per deployment rather than modeling currency per value.
//
// # TypeID
//
// All entities use TypeID for globally unique, type-safe identifiers:
//
//	batch_01h2xcejqtf2nbrexx3vqjhp41  // Batch ID
//	sub_01h2xcejqtf2nbrexx3vqjhp41    // Subscription ID
//	tevt_01h455vb4pex5vsknk084sn02q   // Journal entry ID
//
// TypeIDs are K-sortable, making them ideal for database indexes and
// providing natural time-ordering of entities.
package ledger
