// Package subscription models a user's recurring billing relationship and
// its state machine: absent, active, payment_issue, cancelled_pending_end,
// ended.
package subscription

import (
	"time"

	"github.com/tokenledger/ledger/id"
	"github.com/tokenledger/ledger/types"
)

// Status is the subscription's position in its lifecycle. Status is
// derived from the persisted fields (IsActive, CancelAtPeriodEnd,
// PaymentFailureReason) rather than stored directly, so a handler cannot
// drift the two apart.
type Status string

const (
	// StatusAbsent means no Subscription row exists yet for the user.
	StatusAbsent Status = "absent"
	// StatusActive means the subscription is current and in good standing.
	StatusActive Status = "active"
	// StatusPaymentIssue means the last payment attempt failed but the
	// subscription retains access (dunning grace).
	StatusPaymentIssue Status = "payment_issue"
	// StatusCancelledPendingEnd means the user cancelled but the current
	// period has not yet ended; access continues until subscription.deleted.
	StatusCancelledPendingEnd Status = "cancelled_pending_end"
	// StatusEnded means the subscription is no longer active.
	StatusEnded Status = "ended"
)

// PlanTier is a coarse plan grade, independent of billing cadence.
type PlanTier string

const (
	TierBasic    PlanTier = "basic"
	TierStandard PlanTier = "standard"
	TierPremium  PlanTier = "premium"
	TierUltra    PlanTier = "ultra"
	TierDaily    PlanTier = "daily"
)

// BillingCycle is the subscription's billing cadence.
type BillingCycle string

const (
	CycleDaily   BillingCycle = "daily"
	CycleMonthly BillingCycle = "monthly"
	CycleYearly  BillingCycle = "yearly"
)

// Subscription tracks a user's relationship to a plan. Exactly one row per
// user may have IsActive=true at a time; the store enforces this by
// deactivating any prior active row when a new one is granted.
type Subscription struct {
	types.Entity
	ID     id.SubscriptionID `json:"id" grove:"id,pk"`
	UserID id.UserID         `json:"user_id" grove:"user_id,notnull"`

	// PlanKey is the stable identifier of the PG price behind this
	// subscription; it is the catalog lookup key.
	PlanKey      string       `json:"plan_key" grove:"plan_key,notnull"`
	PlanTier     PlanTier     `json:"plan_tier" grove:"plan_tier,notnull"`
	BillingCycle BillingCycle `json:"billing_cycle" grove:"billing_cycle,notnull"`

	PGSubscriptionID string `json:"pg_subscription_id" grove:"pg_subscription_id,unique,notnull"`

	IsActive           bool      `json:"is_active" grove:"is_active,notnull,default:true"`
	CurrentPeriodStart time.Time `json:"current_period_start" grove:"current_period_start,notnull"`
	CurrentPeriodEnd   time.Time `json:"current_period_end" grove:"current_period_end,notnull"`

	// CancelAtPeriodEnd is set by a user-initiated cancel; the row remains
	// IsActive until subscription.deleted actually arrives.
	CancelAtPeriodEnd bool `json:"cancel_at_period_end" grove:"cancel_at_period_end,notnull,default:false"`

	TokensPerCycle int64 `json:"tokens_per_cycle" grove:"tokens_per_cycle,notnull"`
	PriceCents     int64 `json:"price_cents" grove:"price_cents,notnull"`

	// LastMonthlyRefill is set only for yearly plans; nil until the first
	// refill (initial credit or maintenance-worker sweep).
	LastMonthlyRefill *time.Time `json:"last_monthly_refill,omitempty" grove:"last_monthly_refill"`

	// PaymentFailureReason is the last recorded payment failure. Status()
	// reports StatusPaymentIssue while it is non-empty on an active
	// subscription that is not pending cancellation.
	PaymentFailureReason string `json:"payment_failure_reason,omitempty" grove:"payment_failure_reason"`
}

// Status derives the subscription's state-machine position from its
// persisted fields, checked in the order ended, cancelled_pending_end,
// payment_issue, active; event handlers mutate fields through the methods
// below rather than assigning Status directly.
func (s *Subscription) Status() Status {
	if s == nil {
		return StatusAbsent
	}
	if !s.IsActive {
		return StatusEnded
	}
	if s.CancelAtPeriodEnd {
		return StatusCancelledPendingEnd
	}
	if s.PaymentFailureReason != "" {
		return StatusPaymentIssue
	}
	return StatusActive
}

// MarkPaymentIssue records a payment failure without touching IsActive —
// dunning grace means a failed payment never revokes access on its own.
func (s *Subscription) MarkPaymentIssue(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	s.PaymentFailureReason = reason
}

// ClearPaymentIssue clears a previously recorded payment failure, as
// happens when a subsequent invoice.paid event arrives.
func (s *Subscription) ClearPaymentIssue() {
	s.PaymentFailureReason = ""
}

// MarkCancelPending records a user-initiated cancel-at-period-end. The row
// stays active until subscription.deleted is delivered.
func (s *Subscription) MarkCancelPending() {
	s.CancelAtPeriodEnd = true
}

// MarkEnded terminates the subscription. Batches granted under it are not
// revoked; users spend down existing balance until natural expiry.
func (s *Subscription) MarkEnded() {
	s.IsActive = false
}

// IsYearly reports whether refills for this subscription are handled
// monthly by the maintenance worker rather than credited per invoice.
func (s *Subscription) IsYearly() bool {
	return s.BillingCycle == CycleYearly
}

// NeedsMonthlyRefill reports whether a yearly subscription is due for its
// next monthly refill relative to now, i.e. its last refill was not in the
// current calendar year-month.
func (s *Subscription) NeedsMonthlyRefill(now time.Time) bool {
	if !s.IsYearly() || !s.IsActive {
		return false
	}
	if s.LastMonthlyRefill == nil {
		return true
	}
	ly, lm, _ := s.LastMonthlyRefill.Date()
	ny, nm, _ := now.Date()
	return ly != ny || lm != nm
}
