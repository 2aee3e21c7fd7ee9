// Package idempotency implements the event-level half of the ledger's
// idempotency guard (C2): a durable record of every PG event_id already
// processed. The credit-level half (invoice_id uniqueness on a Batch) is
// enforced by the batch store's unique constraint instead, since it must
// commit atomically with the batch it protects.
package idempotency

import (
	"context"
	"time"
)

// EventRecord is one row of the processed-event log. Its mere presence
// means "processed before" — there is no status field to consult.
type EventRecord struct {
	EventID    string    `json:"event_id" grove:"event_id,pk"`
	EventType  string    `json:"event_type" grove:"event_type,notnull"`
	ReceivedAt time.Time `json:"received_at" grove:"received_at,notnull,default:current_timestamp"`
}

// Guard records that an event has been seen. Record should be called
// inside the same transaction as the event's effects: if the transaction
// rolls back, the event is not considered processed and the PG's retry
// will see it again.
type Guard interface {
	// Record inserts an EventRecord keyed by eventID. It returns
	// (true, nil) when this is the first time eventID has been seen, and
	// (false, nil) when a row already exists — the caller must skip all
	// effects and report success.
	Record(ctx context.Context, eventID, eventType string, receivedAt time.Time) (proceed bool, err error)
}
