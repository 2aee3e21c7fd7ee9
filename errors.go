package ledger

import (
	"errors"
	"fmt"

	"github.com/tokenledger/ledger/catalog"
	"github.com/tokenledger/ledger/store"
	"github.com/tokenledger/ledger/webhook"
)

// Sentinel errors for common failure scenarios.
//
// A handful of these are aliases onto sentinels owned by the subpackage
// that actually raises them (webhook, catalog, store) rather than fresh
// values declared here. Root cannot be imported back by those packages —
// aliasing keeps a single canonical error value for errors.Is comparisons
// on both sides without introducing an import cycle.
var (
	// General errors
	ErrNotFound      = errors.New("ledger: not found")
	ErrAlreadyExists = store.ErrAlreadyExists
	ErrInvalidInput  = errors.New("ledger: invalid input")
	ErrUnauthorized  = errors.New("ledger: unauthorized")
	ErrForbidden     = errors.New("ledger: forbidden")

	// Webhook / event errors
	ErrBadSignature   = webhook.ErrBadSignature
	ErrDuplicateEvent = webhook.ErrDuplicateEvent
	ErrUnhandledEvent = webhook.ErrUnhandledEvent

	// User / resolution errors
	ErrUserNotFound   = store.ErrUserNotFound
	ErrUnresolvedUser = webhook.ErrUnresolvedUser

	// Subscription errors
	ErrSubscriptionNotFound = store.ErrSubscriptionNotFound
	ErrSubscriptionExists   = errors.New("ledger: user already has an active subscription")
	ErrInvalidTransition    = errors.New("ledger: invalid subscription state transition")
	ErrNoActiveSubscription = store.ErrNoActiveSubscription

	// Purchase errors
	ErrPurchaseNotFound = store.ErrPurchaseNotFound
	ErrAlreadyCredited  = store.ErrAlreadyCredited
	ErrCatalogMissing   = catalog.ErrNotFound

	// Batch / ledger errors
	ErrBatchNotFound       = store.ErrBatchNotFound
	ErrInsufficientTokens  = errors.New("ledger: insufficient token balance")
	ErrInvalidBatchOrigin  = errors.New("ledger: invalid batch origin")
	ErrBatchAlreadyExpired = errors.New("ledger: batch already expired")
	ErrNegativeAmount      = errors.New("ledger: token amount must be non-negative")

	// Referral errors
	ErrReferralNotFound = store.ErrReferralNotFound
	ErrReferralRedeemed = errors.New("ledger: referral already redeemed")
	ErrSelfReferral     = errors.New("ledger: a user cannot refer themself")

	// Store / infrastructure errors
	ErrStoreNotReady     = errors.New("ledger: store not ready")
	ErrStoreClosed       = errors.New("ledger: store is closed")
	ErrTransactionFailed = errors.New("ledger: transaction failed")
	ErrMigrationFailed   = errors.New("ledger: migration failed")
	ErrTransientStorage  = errors.New("ledger: transient storage error, retry")
	ErrTransientExternal = errors.New("ledger: transient external collaborator error, retry")
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("ledger: validation failed for %s: %s", e.Field, e.Message)
}

// MultiError represents multiple errors that occurred.
type MultiError struct {
	Errors []error
}

func (e MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "ledger: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("ledger: %d errors occurred", len(e.Errors))
}

// Add adds an error to the multi-error.
func (e *MultiError) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// HasErrors returns true if there are any errors.
func (e MultiError) HasErrors() bool {
	return len(e.Errors) > 0
}

// First returns the first error or nil.
func (e MultiError) First() error {
	if len(e.Errors) > 0 {
		return e.Errors[0]
	}
	return nil
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrSubscriptionNotFound) ||
		errors.Is(err, ErrPurchaseNotFound) ||
		errors.Is(err, ErrBatchNotFound) ||
		errors.Is(err, ErrReferralNotFound) ||
		errors.Is(err, ErrCatalogMissing)
}

// IsDuplicate returns true if the error indicates a replayed or
// already-applied operation that the caller should treat as a success.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicateEvent) ||
		errors.Is(err, ErrAlreadyCredited) ||
		errors.Is(err, ErrAlreadyExists) ||
		errors.Is(err, ErrReferralRedeemed)
}

// IsRetryable returns true if the error is temporary and the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreNotReady) ||
		errors.Is(err, ErrTransactionFailed) ||
		errors.Is(err, ErrTransientStorage) ||
		errors.Is(err, ErrTransientExternal)
}

// IsFatal returns true if the error represents a programming or
// configuration defect that retrying cannot fix (e.g. a missing catalog
// entry or a malformed webhook payload).
func IsFatal(err error) bool {
	return errors.Is(err, ErrCatalogMissing) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidBatchOrigin) ||
		errors.Is(err, ErrInvalidTransition)
}
