package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/tokenledger/ledger/catalog"
	"github.com/tokenledger/ledger/journal"
	"github.com/tokenledger/ledger/pgclient"
	"github.com/tokenledger/ledger/plugin"
	"github.com/tokenledger/ledger/referral"
	"github.com/tokenledger/ledger/store/memory"
	"github.com/tokenledger/ledger/subscription"
)

const testSecret = "whsec_test"

func sign(payload []byte, secret string) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d", ts)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func envelope(t *testing.T, id string, typ EventType, obj interface{}) []byte {
	t.Helper()
	objBytes, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshal object: %v", err)
	}
	env := map[string]interface{}{
		"id":      id,
		"type":    typ,
		"created": time.Now().Unix(),
		"data":    map[string]json.RawMessage{"object": objBytes},
	}
	body, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return body
}

func newDispatcher(s *memory.Store, pg *pgclient.Fake, referralAmount int64) *Dispatcher {
	return NewDispatcher(s, pg, plugin.NewRegistry(), nil, Config{
		Secret:              testSecret,
		ReferralTokenAmount: referralAmount,
	})
}

func send(t *testing.T, d *Dispatcher, body []byte) error {
	t.Helper()
	return d.HandleEvent(context.Background(), body, sign(body, testSecret))
}

func TestHandleEventOneTimePurchaseWithDiscount(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	s.SeedTokenPrice(catalog.TokenPrice{PlanKey: "top_up", Tier: "large", Tokens: 5000, PriceCents: 1999})
	pg := pgclient.NewFake()
	d := newDispatcher(s, pg, 0)

	u, err := s.UpsertUserByExternalID(ctx, "ext-buyer", "buyer@example.com")
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}

	body := envelope(t, "evt_1", EventCheckoutSessionCompleted, CheckoutSessionObject{
		ID:           "cs_1",
		Mode:         "payment",
		Customer:     "cus_1",
		TotalDetails: TotalDetails{AmountDiscount: 500},
		Metadata:     map[string]string{"user_id": u.ID.String(), "plan_key": "top_up", "plan_option": "large"},
	})
	if err := send(t, d, body); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	balance, err := s.Balance(ctx, u.ID, time.Now())
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance != 5000 {
		t.Fatalf("balance = %d, want 5000", balance)
	}

	p, err := s.GetPurchaseByPGID(ctx, "cs_1")
	if err != nil {
		t.Fatalf("GetPurchaseByPGID: %v", err)
	}
	if p.DiscountCents != 500 {
		t.Fatalf("DiscountCents = %d, want 500", p.DiscountCents)
	}
}

func TestHandleEventSubscriptionLifecycleAndReplay(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	s.SeedSubscriptionPrice(catalog.SubscriptionPrice{
		PlanKey: "pro_monthly", PlanTier: subscription.TierPremium, BillingCycle: subscription.CycleMonthly,
		TokensPerCycle: 10000, PriceCents: 2900,
	})
	pg := pgclient.NewFake()
	d := newDispatcher(s, pg, 0)

	u, err := s.UpsertUserByExternalID(ctx, "ext-sub", "sub@example.com")
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}

	created := envelope(t, "evt_sub_created", EventSubscriptionCreated, SubscriptionObject{
		ID: "pgsub_1", Customer: "cus_2", Status: "active",
		Items: struct {
			Data []struct {
				Price struct {
					ID string `json:"id"`
				} `json:"price"`
			} `json:"data"`
		}{Data: []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
		}{{Price: struct {
			ID string `json:"id"`
		}{ID: "pro_monthly"}}}},
		CurrentPeriodStart: time.Now().Unix(),
		CurrentPeriodEnd:   time.Now().AddDate(0, 1, 0).Unix(),
		Metadata:           map[string]string{"user_id": u.ID.String()},
	})
	if err := send(t, d, created); err != nil {
		t.Fatalf("subscription.created: %v", err)
	}

	invoicePaid := envelope(t, "evt_invoice_1", EventInvoicePaid, InvoiceObject{
		ID: "in_1", Customer: "cus_2", Subscription: "pgsub_1",
		Status: "paid", BillingReason: "subscription_create",
	})
	if err := send(t, d, invoicePaid); err != nil {
		t.Fatalf("invoice.paid (create): %v", err)
	}

	balance, err := s.Balance(ctx, u.ID, time.Now())
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance != 10000 {
		t.Fatalf("balance after initial credit = %d, want 10000", balance)
	}

	renewal := envelope(t, "evt_invoice_2", EventInvoicePaid, InvoiceObject{
		ID: "in_2", Customer: "cus_2", Subscription: "pgsub_1",
		Status: "paid", BillingReason: "subscription_cycle",
	})
	if err := send(t, d, renewal); err != nil {
		t.Fatalf("invoice.paid (renewal): %v", err)
	}

	balance, err = s.Balance(ctx, u.ID, time.Now())
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance != 20000 {
		t.Fatalf("balance after renewal = %d, want 20000", balance)
	}

	// Replaying the exact same renewal event must be a no-op: idempotency
	// keys on event_id.
	if err := send(t, d, renewal); err != nil {
		t.Fatalf("replayed invoice.paid: %v", err)
	}
	balance, err = s.Balance(ctx, u.ID, time.Now())
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance != 20000 {
		t.Fatalf("balance after replay = %d, want unchanged 20000", balance)
	}
}

func TestHandleEventYearlyInitialCredit(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	s.SeedSubscriptionPrice(catalog.SubscriptionPrice{
		PlanKey: "pro_yearly", PlanTier: subscription.TierPremium, BillingCycle: subscription.CycleYearly,
		TokensPerCycle: 120000, PriceCents: 29900,
	})
	pg := pgclient.NewFake()
	d := newDispatcher(s, pg, 0)

	u, err := s.UpsertUserByExternalID(ctx, "ext-yearly", "yearly@example.com")
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}

	created := envelope(t, "evt_ysub_created", EventSubscriptionCreated, SubscriptionObject{
		ID: "pgsub_y1", Customer: "cus_3", Status: "active",
		Items: struct {
			Data []struct {
				Price struct {
					ID string `json:"id"`
				} `json:"price"`
			} `json:"data"`
		}{Data: []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
		}{{Price: struct {
			ID string `json:"id"`
		}{ID: "pro_yearly"}}}},
		CurrentPeriodStart: time.Now().Unix(),
		CurrentPeriodEnd:   time.Now().AddDate(1, 0, 0).Unix(),
		Metadata:           map[string]string{"user_id": u.ID.String()},
	})
	if err := send(t, d, created); err != nil {
		t.Fatalf("subscription.created: %v", err)
	}

	invoicePaid := envelope(t, "evt_yinvoice_1", EventInvoicePaid, InvoiceObject{
		ID: "in_y1", Customer: "cus_3", Subscription: "pgsub_y1",
		Status: "paid", BillingReason: "subscription_create",
	})
	if err := send(t, d, invoicePaid); err != nil {
		t.Fatalf("invoice.paid (yearly create): %v", err)
	}

	balance, err := s.Balance(ctx, u.ID, time.Now())
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance != 10000 {
		t.Fatalf("balance after yearly initial credit = %d, want 10000 (first month up-front, remaining 11 via cron refill)", balance)
	}

	sub, err := s.GetSubscriptionByPGID(ctx, "pgsub_y1")
	if err != nil {
		t.Fatalf("GetSubscriptionByPGID: %v", err)
	}
	if sub.LastMonthlyRefill == nil {
		t.Fatal("LastMonthlyRefill should be stamped after the initial credit")
	}
}

func TestHandleEventPaymentFailureThenRecovery(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	s.SeedSubscriptionPrice(catalog.SubscriptionPrice{
		PlanKey: "pro_monthly", PlanTier: subscription.TierPremium, BillingCycle: subscription.CycleMonthly,
		TokensPerCycle: 10000, PriceCents: 2900,
	})
	pg := pgclient.NewFake()
	d := newDispatcher(s, pg, 0)

	u, err := s.UpsertUserByExternalID(ctx, "ext-fail", "fail@example.com")
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}

	created := envelope(t, "evt_fsub_created", EventSubscriptionCreated, SubscriptionObject{
		ID: "pgsub_f1", Customer: "cus_4", Status: "active",
		Items: struct {
			Data []struct {
				Price struct {
					ID string `json:"id"`
				} `json:"price"`
			} `json:"data"`
		}{Data: []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
		}{{Price: struct {
			ID string `json:"id"`
		}{ID: "pro_monthly"}}}},
		CurrentPeriodStart: time.Now().Unix(),
		CurrentPeriodEnd:   time.Now().AddDate(0, 1, 0).Unix(),
		Metadata:           map[string]string{"user_id": u.ID.String()},
	})
	if err := send(t, d, created); err != nil {
		t.Fatalf("subscription.created: %v", err)
	}

	failed := envelope(t, "evt_finvoice_1", EventInvoicePaymentFailed, InvoiceObject{
		ID: "in_f1", Customer: "cus_4", Subscription: "pgsub_f1",
		Status: "open", BillingReason: "subscription_cycle", AttemptCount: 1,
	})
	if err := send(t, d, failed); err != nil {
		t.Fatalf("invoice.payment_failed: %v", err)
	}

	updatedUser, err := s.GetUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if !updatedUser.HasPaymentIssue {
		t.Fatal("HasPaymentIssue should be set after payment failure")
	}
	if !updatedUser.HasActiveSubscription {
		t.Fatal("HasActiveSubscription must survive a payment failure (dunning grace)")
	}

	recovered := envelope(t, "evt_finvoice_2", EventInvoicePaid, InvoiceObject{
		ID: "in_f2", Customer: "cus_4", Subscription: "pgsub_f1",
		Status: "paid", BillingReason: "subscription_cycle",
	})
	if err := send(t, d, recovered); err != nil {
		t.Fatalf("invoice.paid (recovery): %v", err)
	}

	updatedUser, err = s.GetUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if updatedUser.HasPaymentIssue {
		t.Fatal("HasPaymentIssue should clear after recovery")
	}
}

func TestHandleEventDuplicateEventID(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	s.SeedTokenPrice(catalog.TokenPrice{PlanKey: "top_up", Tier: "small", Tokens: 100, PriceCents: 99})
	pg := pgclient.NewFake()
	d := newDispatcher(s, pg, 0)

	u, err := s.UpsertUserByExternalID(ctx, "ext-dup", "dup@example.com")
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}

	body := envelope(t, "evt_dup", EventCheckoutSessionCompleted, CheckoutSessionObject{
		ID: "cs_dup", Mode: "payment", Customer: "cus_5",
		Metadata: map[string]string{"user_id": u.ID.String(), "plan_key": "top_up", "plan_option": "small"},
	})
	if err := send(t, d, body); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if err := send(t, d, body); err != nil {
		t.Fatalf("duplicate send should not error: %v", err)
	}

	balance, err := s.Balance(ctx, u.ID, time.Now())
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance != 100 {
		t.Fatalf("balance after duplicate delivery = %d, want 100 (unchanged)", balance)
	}
}

func TestHandleEventBadSignature(t *testing.T) {
	s := memory.New()
	pg := pgclient.NewFake()
	d := newDispatcher(s, pg, 0)

	body := envelope(t, "evt_bad", EventCheckoutSessionCompleted, CheckoutSessionObject{ID: "cs_bad", Mode: "payment"})
	err := d.HandleEvent(context.Background(), body, sign(body, "wrong_secret"))
	if !errors.Is(err, ErrBadSignature) {
		t.Fatalf("err = %v, want ErrBadSignature", err)
	}
}

func TestResolveUserFallbackChain(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	s.SeedTokenPrice(catalog.TokenPrice{PlanKey: "top_up", Tier: "small", Tokens: 100, PriceCents: 99})
	pg := pgclient.NewFake()
	d := newDispatcher(s, pg, 0)

	u, err := s.UpsertUserByExternalID(ctx, "ext-resolve", "resolve@example.com")
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	// No metadata.user_id, no bound pg_customer_id: resolution must fall
	// through to the PG customer's billing email.
	pg.Customers["cus_6"] = &pgclient.Customer{ID: "cus_6", Email: "resolve@example.com"}

	body := envelope(t, "evt_resolve", EventCheckoutSessionCompleted, CheckoutSessionObject{
		ID: "cs_resolve", Mode: "payment", Customer: "cus_6",
		Metadata: map[string]string{"plan_key": "top_up", "plan_option": "small"},
	})
	if err := send(t, d, body); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	balance, err := s.Balance(ctx, u.ID, time.Now())
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance != 100 {
		t.Fatalf("balance = %d, want 100 (resolved via email fallback)", balance)
	}
}

func TestHandleEventUnresolvedUserIsNotAnError(t *testing.T) {
	s := memory.New()
	pg := pgclient.NewFake()
	d := newDispatcher(s, pg, 0)

	body := envelope(t, "evt_unresolved", EventCheckoutSessionCompleted, CheckoutSessionObject{
		ID: "cs_unresolved", Mode: "payment", Customer: "cus_ghost",
	})
	if err := send(t, d, body); err != nil {
		t.Fatalf("HandleEvent should swallow ErrUnresolvedUser and return nil: %v", err)
	}
}

func TestHandleEventReferralRewardOnSubscriptionCreate(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	s.SeedSubscriptionPrice(catalog.SubscriptionPrice{
		PlanKey: "pro_monthly", PlanTier: subscription.TierPremium, BillingCycle: subscription.CycleMonthly,
		TokensPerCycle: 10000, PriceCents: 2900,
	})
	pg := pgclient.NewFake()
	d := newDispatcher(s, pg, 250)

	referrer, err := s.UpsertUserByExternalID(ctx, "ext-referrer", "referrer@example.com")
	if err != nil {
		t.Fatalf("seed referrer: %v", err)
	}
	referred, err := s.UpsertUserByExternalID(ctx, "ext-referred", "referred@example.com")
	if err != nil {
		t.Fatalf("seed referred: %v", err)
	}

	r := referral.New(referrer.ID, referred.ID)
	if err := s.CreateReferral(ctx, r); err != nil {
		t.Fatalf("CreateReferral: %v", err)
	}

	created := envelope(t, "evt_ref_sub_created", EventSubscriptionCreated, SubscriptionObject{
		ID: "pgsub_ref", Customer: "cus_ref", Status: "active",
		Items: struct {
			Data []struct {
				Price struct {
					ID string `json:"id"`
				} `json:"price"`
			} `json:"data"`
		}{Data: []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
		}{{Price: struct {
			ID string `json:"id"`
		}{ID: "pro_monthly"}}}},
		CurrentPeriodStart: time.Now().Unix(),
		CurrentPeriodEnd:   time.Now().AddDate(0, 1, 0).Unix(),
		Metadata:           map[string]string{"user_id": referred.ID.String()},
	})
	if err := send(t, d, created); err != nil {
		t.Fatalf("subscription.created: %v", err)
	}

	invoicePaid := envelope(t, "evt_ref_invoice_1", EventInvoicePaid, InvoiceObject{
		ID: "in_ref_1", Customer: "cus_ref", Subscription: "pgsub_ref",
		Status: "paid", BillingReason: "subscription_create",
	})
	if err := send(t, d, invoicePaid); err != nil {
		t.Fatalf("invoice.paid (create): %v", err)
	}

	referrerBalance, err := s.Balance(ctx, referrer.ID, time.Now())
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if referrerBalance != 250 {
		t.Fatalf("referrer balance = %d, want 250", referrerBalance)
	}

	got, err := s.GetReferralByReferredUser(ctx, referred.ID)
	if err != nil {
		t.Fatalf("GetReferralByReferredUser: %v", err)
	}
	if !got.IsRewarded {
		t.Fatal("expected referral to be marked rewarded")
	}

	entries, err := s.ListJournalByUser(ctx, referrer.ID, journal.ListOpts{})
	if err != nil {
		t.Fatalf("ListJournalByUser: %v", err)
	}
	found := false
	for _, e := range entries {
		if e.Reason == journal.ReasonReferralReward && e.Delta == 250 {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a referral_reward journal entry crediting the referrer")
	}

	// A renewal invoice must not re-trigger the reward.
	renewal := envelope(t, "evt_ref_invoice_2", EventInvoicePaid, InvoiceObject{
		ID: "in_ref_2", Customer: "cus_ref", Subscription: "pgsub_ref",
		Status: "paid", BillingReason: "subscription_cycle",
	})
	if err := send(t, d, renewal); err != nil {
		t.Fatalf("invoice.paid (renewal): %v", err)
	}
	referrerBalance, err = s.Balance(ctx, referrer.ID, time.Now())
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if referrerBalance != 250 {
		t.Fatalf("referrer balance after renewal = %d, want unchanged 250", referrerBalance)
	}
}

func TestHandleEventReferralRewardRequiresSeededReferral(t *testing.T) {
	// Mirrors the review comment's original observation: with no Referral
	// row ever created for a user, applyReferralReward is a no-op even
	// though the checkout path that would grant it runs successfully.
	ctx := context.Background()
	s := memory.New()
	s.SeedTokenPrice(catalog.TokenPrice{PlanKey: "top_up", Tier: "small", Tokens: 100, PriceCents: 99})
	pg := pgclient.NewFake()
	d := newDispatcher(s, pg, 250)

	u, err := s.UpsertUserByExternalID(ctx, "ext-noref", "noref@example.com")
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}

	body := envelope(t, "evt_noref", EventCheckoutSessionCompleted, CheckoutSessionObject{
		ID:       "cs_noref",
		Mode:     "payment",
		Customer: "cus_noref",
		Metadata: map[string]string{"user_id": u.ID.String(), "plan_key": "top_up", "plan_option": "small"},
	})
	if err := send(t, d, body); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	balance, err := s.Balance(ctx, u.ID, time.Now())
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance != 100 {
		t.Fatalf("balance = %d, want 100 (no referral reward without a seeded referral)", balance)
	}
}
