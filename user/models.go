// Package user holds the ledger's notion of a billed user: the identity
// row every subscription, purchase, batch, and journal entry hangs off of.
package user

import (
	"github.com/tokenledger/ledger/id"
	"github.com/tokenledger/ledger/types"
)

// User is created on first authenticated interaction. PGCustomerID is
// populated lazily, on the first payment event that names this user.
type User struct {
	types.Entity
	ID id.UserID `json:"id" grove:"id,pk"`

	// ExternalID is the caller-supplied identity (e.g. an auth provider's
	// subject claim). Unique.
	ExternalID string `json:"external_id" grove:"external_id,unique,notnull"`
	Email      string `json:"email" grove:"email,unique,notnull"`

	// PGCustomerID is the payment gateway's customer id. Empty until the
	// first payment event names this user.
	PGCustomerID string `json:"pg_customer_id,omitempty" grove:"pg_customer_id,unique"`

	HasActiveSubscription bool `json:"has_active_subscription" grove:"has_active_subscription,notnull,default:false"`
	HasPaymentIssue       bool `json:"has_payment_issue" grove:"has_payment_issue,notnull,default:false"`
	IsDeleted             bool `json:"is_deleted" grove:"is_deleted,notnull,default:false"`
}

// New constructs a User with a fresh ID and timestamps.
func New(externalID, email string) *User {
	return &User{
		Entity:     types.NewEntity(),
		ID:         id.NewUserID(),
		ExternalID: externalID,
		Email:      email,
	}
}

// CanMutate reports whether the user may still be the target of ledger
// writes. Soft-deleted users block all further mutation.
func (u *User) CanMutate() bool {
	return u != nil && !u.IsDeleted
}
