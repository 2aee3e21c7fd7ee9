package webhook

import "errors"

// Sentinel errors raised by the dispatcher pipeline. Defined here rather than in the root ledger package so
// this package never has to import back up to it; root aliases these.
var (
	// ErrBadSignature means the webhook signature header did not match the
	// configured secret. Surfaced as 400 to the PG; not retryable.
	ErrBadSignature = errors.New("webhook: signature verification failed")

	// ErrDuplicateEvent means the idempotency guard has already recorded
	// this event_id. The dispatcher treats it as success, no effects.
	ErrDuplicateEvent = errors.New("webhook: event already processed")

	// ErrUnhandledEvent means the event type has no registered handler.
	ErrUnhandledEvent = errors.New("webhook: no handler registered for event type")

	// ErrUnresolvedUser means none of the resolution steps
	// attributed the event to a local user. Logged as an anomaly and
	// reported as success so the PG stops retrying.
	ErrUnresolvedUser = errors.New("webhook: could not resolve a user for this event")
)
