package catalog

import "errors"

// ErrNotFound is returned by Store when a plan_key/tier lookup misses. The
// dispatcher and maintenance worker classify this as fatal for the event
// or subscription in question, not retryable without an operator fixing
// the catalog.
var ErrNotFound = errors.New("catalog: price not found for plan/pack")
