package subscription_test

import (
	"testing"
	"time"

	"github.com/tokenledger/ledger/id"
	"github.com/tokenledger/ledger/subscription"
	"github.com/tokenledger/ledger/types"
)

func newActiveSubscription() *subscription.Subscription {
	now := time.Now()
	return &subscription.Subscription{
		Entity:             types.NewEntity(),
		ID:                 id.NewSubscriptionID(),
		UserID:             id.NewUserID(),
		PlanKey:            "pro_monthly",
		PlanTier:           subscription.TierPremium,
		BillingCycle:       subscription.CycleMonthly,
		PGSubscriptionID:   "sub_pg_1",
		IsActive:           true,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now.Add(30 * 24 * time.Hour),
		TokensPerCycle:     10000,
		PriceCents:         1900,
	}
}

func TestStatusAbsent(t *testing.T) {
	var s *subscription.Subscription
	if got := s.Status(); got != subscription.StatusAbsent {
		t.Errorf("expected StatusAbsent for nil subscription, got %q", got)
	}
}

func TestStatusActive(t *testing.T) {
	s := newActiveSubscription()
	if got := s.Status(); got != subscription.StatusActive {
		t.Errorf("expected StatusActive, got %q", got)
	}
}

func TestStatusEnded(t *testing.T) {
	s := newActiveSubscription()
	s.MarkEnded()
	if got := s.Status(); got != subscription.StatusEnded {
		t.Errorf("expected StatusEnded, got %q", got)
	}
}

func TestStatusCancelledPendingEnd(t *testing.T) {
	s := newActiveSubscription()
	s.MarkCancelPending()
	if got := s.Status(); got != subscription.StatusCancelledPendingEnd {
		t.Errorf("expected StatusCancelledPendingEnd, got %q", got)
	}
	if !s.IsActive {
		t.Error("expected subscription to remain active pending period end")
	}
}

func TestStatusPaymentIssue(t *testing.T) {
	s := newActiveSubscription()
	s.MarkPaymentIssue("card_declined")
	if got := s.Status(); got != subscription.StatusPaymentIssue {
		t.Errorf("expected StatusPaymentIssue, got %q", got)
	}
	if s.PaymentFailureReason != "card_declined" {
		t.Errorf("expected reason %q, got %q", "card_declined", s.PaymentFailureReason)
	}
}

func TestMarkPaymentIssueDefaultsReason(t *testing.T) {
	s := newActiveSubscription()
	s.MarkPaymentIssue("")
	if s.PaymentFailureReason != "unknown" {
		t.Errorf("expected default reason %q, got %q", "unknown", s.PaymentFailureReason)
	}
}

func TestClearPaymentIssue(t *testing.T) {
	s := newActiveSubscription()
	s.MarkPaymentIssue("card_declined")
	s.ClearPaymentIssue()
	if got := s.Status(); got != subscription.StatusActive {
		t.Errorf("expected StatusActive after clearing payment issue, got %q", got)
	}
	if s.PaymentFailureReason != "" {
		t.Errorf("expected empty reason, got %q", s.PaymentFailureReason)
	}
}

// StatusEnded takes priority over a stale cancel-pending or payment-issue
// flag; once IsActive is false the subscription is simply ended.
func TestStatusPriorityEndedOverOthers(t *testing.T) {
	s := newActiveSubscription()
	s.MarkPaymentIssue("card_declined")
	s.MarkCancelPending()
	s.MarkEnded()
	if got := s.Status(); got != subscription.StatusEnded {
		t.Errorf("expected StatusEnded to take priority, got %q", got)
	}
}

func TestIsYearly(t *testing.T) {
	s := newActiveSubscription()
	if s.IsYearly() {
		t.Error("expected monthly subscription to report not yearly")
	}
	s.BillingCycle = subscription.CycleYearly
	if !s.IsYearly() {
		t.Error("expected yearly subscription to report yearly")
	}
}

func TestNeedsMonthlyRefillNonYearly(t *testing.T) {
	s := newActiveSubscription()
	if s.NeedsMonthlyRefill(time.Now()) {
		t.Error("expected monthly-billed subscription to never need the yearly refill sweep")
	}
}

func TestNeedsMonthlyRefillInactive(t *testing.T) {
	s := newActiveSubscription()
	s.BillingCycle = subscription.CycleYearly
	s.MarkEnded()
	if s.NeedsMonthlyRefill(time.Now()) {
		t.Error("expected ended subscription to never need a refill")
	}
}

func TestNeedsMonthlyRefillFirstTime(t *testing.T) {
	s := newActiveSubscription()
	s.BillingCycle = subscription.CycleYearly
	if !s.NeedsMonthlyRefill(time.Now()) {
		t.Error("expected yearly subscription with no prior refill to need one")
	}
}

func TestNeedsMonthlyRefillSameMonth(t *testing.T) {
	s := newActiveSubscription()
	s.BillingCycle = subscription.CycleYearly
	now := time.Now()
	s.LastMonthlyRefill = &now
	if s.NeedsMonthlyRefill(now) {
		t.Error("expected no refill needed within the same calendar month")
	}
}

func TestNeedsMonthlyRefillNextMonth(t *testing.T) {
	s := newActiveSubscription()
	s.BillingCycle = subscription.CycleYearly
	last := time.Now().AddDate(0, -1, 0)
	s.LastMonthlyRefill = &last
	if !s.NeedsMonthlyRefill(time.Now()) {
		t.Error("expected refill needed a calendar month after the last one")
	}
}
