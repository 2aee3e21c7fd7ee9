package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tokenledger/ledger/batch"
	"github.com/tokenledger/ledger/catalog"
	"github.com/tokenledger/ledger/id"
	"github.com/tokenledger/ledger/journal"
	"github.com/tokenledger/ledger/purchase"
	"github.com/tokenledger/ledger/referral"
	"github.com/tokenledger/ledger/store"
	"github.com/tokenledger/ledger/subscription"
	"github.com/tokenledger/ledger/types"
	"github.com/tokenledger/ledger/user"
)

// routeResult carries what happened inside the transaction so the
// dispatcher can emit plugin notifications after it commits.
type routeResult struct {
	granted             *batch.Batch
	subscriptionCreated *subscription.Subscription
	subscriptionEnded   *subscription.Subscription
	paymentFailed       *subscription.Subscription
	paymentFailedReason string
	paymentRecovered    *subscription.Subscription
	referralRewarded    *referral.Referral
}

// resolveUser implements the resolution order: (a) metadata.user_id,
// (b) User.pg_customer_id = event.customer, (c) customer email lookup via
// the PG matched against User.email. Returns ErrUnresolvedUser if none hit.
func resolveUser(ctx context.Context, rc *routeCtx, metadataUserID, customerID string) (*user.User, error) {
	if metadataUserID != "" {
		if uid, err := id.ParseUserID(metadataUserID); err == nil {
			if u, err := rc.tx.GetUserForUpdate(ctx, uid); err == nil {
				return u, nil
			}
		}
	}
	if customerID != "" {
		if u, err := rc.tx.GetUserByPGCustomerIDForUpdate(ctx, customerID); err == nil {
			return u, nil
		}
		if cust, err := rc.pg.GetCustomer(ctx, customerID); err == nil && cust.Email != "" {
			if u, err := rc.tx.GetUserByEmailForUpdate(ctx, cust.Email); err == nil {
				return u, nil
			}
		}
	}
	return nil, ErrUnresolvedUser
}

// applyReferralReward grants the referrer's pending reward, if any, once
// referredUserID completes a qualifying purchase or initial subscription.
// Fires on subscription_create only, never on renewals, so a subscriber
// can't re-trigger their referrer's reward every billing cycle.
func applyReferralReward(ctx context.Context, rc *routeCtx, referredUserID id.UserID) (*referral.Referral, *batch.Batch, error) {
	if rc.referralTokenAmount <= 0 {
		return nil, nil, nil
	}
	ref, err := rc.tx.GetReferralByReferredUserForUpdate(ctx, referredUserID)
	if err != nil || ref == nil || ref.IsRewarded {
		return nil, nil, nil
	}

	expiresAt := rc.now.Add(purchase.DefaultExpiry)
	b := batch.New(ref.ReferrerUserID, batch.FromReferral(ref.ReferrerUserID), rc.referralTokenAmount, expiresAt, "", "referral-reward")
	inserted, err := rc.tx.InsertBatch(ctx, b)
	if err != nil && !errors.Is(err, store.ErrAlreadyCredited) {
		return nil, nil, fmt.Errorf("webhook: grant referral reward: %w", err)
	}
	if err == nil {
		if err := rc.tx.AppendTokenEvent(ctx, journal.Credit(inserted.UserID, inserted.ID, inserted.Amount, journal.ReasonReferralReward, rc.now)); err != nil {
			return nil, nil, fmt.Errorf("webhook: append referral journal entry: %w", err)
		}
	}
	if err := rc.tx.MarkReferralRewarded(ctx, ref.ID); err != nil {
		return nil, nil, fmt.Errorf("webhook: mark referral rewarded: %w", err)
	}
	ref.IsRewarded = true
	return ref, inserted, nil
}

func handleCheckoutSessionCompleted(ctx context.Context, rc *routeCtx, obj *CheckoutSessionObject) (*routeResult, error) {
	u, err := resolveUser(ctx, rc, obj.Metadata["user_id"], obj.Customer)
	if err != nil {
		return nil, err
	}
	if obj.Customer != "" && u.PGCustomerID != obj.Customer {
		if err := rc.tx.BindPGCustomer(ctx, u.ID, obj.Customer); err != nil {
			return nil, fmt.Errorf("webhook: bind pg customer: %w", err)
		}
	}

	if obj.Mode != "payment" {
		// Subscription-mode checkout only binds the customer; the
		// subscription itself is created by a subsequent event.
		return &routeResult{}, nil
	}

	planKey := obj.Metadata["plan_key"]
	if planKey == "" {
		planKey = "one_time_purchase"
	}
	tier := obj.Metadata["plan_option"]

	if existing, err := rc.tx.GetPurchaseByPGID(ctx, obj.ID); err == nil && existing != nil {
		return &routeResult{}, nil
	}

	price, err := rc.tx.GetTokenPrice(ctx, planKey, tier)
	if err != nil {
		return nil, fmt.Errorf("webhook: token price %s/%s: %w", planKey, tier, catalog.ErrNotFound)
	}

	p := purchase.New(u.ID, subscription.PlanTier(tier), obj.ID, price.Tokens, obj.TotalDetails.AmountDiscount, rc.now)
	if err := rc.tx.InsertPurchase(ctx, p); err != nil {
		return nil, fmt.Errorf("webhook: insert purchase: %w", err)
	}

	b := batch.New(u.ID, batch.FromPurchase(p.ID), price.Tokens, p.PeriodEnd, "", "one-time-purchase")
	inserted, err := rc.tx.InsertBatch(ctx, b)
	if err != nil && !errors.Is(err, store.ErrAlreadyCredited) {
		return nil, fmt.Errorf("webhook: grant purchase batch: %w", err)
	}
	result := &routeResult{}
	if err == nil {
		if err := rc.tx.AppendTokenEvent(ctx, journal.Credit(inserted.UserID, inserted.ID, inserted.Amount, journal.ReasonPurchase, rc.now)); err != nil {
			return nil, fmt.Errorf("webhook: append purchase journal entry: %w", err)
		}
		result.granted = inserted
	}

	ref, refBatch, err := applyReferralReward(ctx, rc, u.ID)
	if err != nil {
		return nil, err
	}
	if ref != nil {
		result.referralRewarded = ref
		if result.granted == nil {
			result.granted = refBatch
		}
	}
	return result, nil
}

func handleSubscriptionCreated(ctx context.Context, rc *routeCtx, obj *SubscriptionObject) (*routeResult, error) {
	u, err := resolveUser(ctx, rc, obj.Metadata["user_id"], obj.Customer)
	if err != nil {
		return nil, err
	}

	price, err := rc.tx.GetSubscriptionPrice(ctx, obj.PriceID())
	if err != nil {
		return nil, fmt.Errorf("webhook: subscription price %s: %w", obj.PriceID(), catalog.ErrNotFound)
	}

	sub := &subscription.Subscription{
		Entity:             types.NewEntity(),
		ID:                 id.NewSubscriptionID(),
		UserID:             u.ID,
		PlanKey:            obj.PriceID(),
		PlanTier:           price.PlanTier,
		BillingCycle:       price.BillingCycle,
		PGSubscriptionID:   obj.ID,
		IsActive:           true,
		CurrentPeriodStart: obj.PeriodStart(),
		CurrentPeriodEnd:   obj.PeriodEnd(),
		TokensPerCycle:     price.TokensPerCycle,
		PriceCents:         price.PriceCents,
	}
	if _, err := rc.tx.UpsertSubscriptionByPGID(ctx, sub); err != nil {
		return nil, fmt.Errorf("webhook: upsert subscription: %w", err)
	}

	trueVal := true
	falseVal := false
	if err := rc.tx.UpdateUserFlags(ctx, u.ID, &trueVal, &falseVal); err != nil {
		return nil, fmt.Errorf("webhook: update user flags: %w", err)
	}
	return &routeResult{subscriptionCreated: sub}, nil
}

func handleSubscriptionUpdated(ctx context.Context, rc *routeCtx, obj *SubscriptionObject) (*routeResult, error) {
	sub, err := rc.tx.GetSubscriptionByPGIDForUpdate(ctx, obj.ID)
	if err != nil {
		return nil, fmt.Errorf("webhook: subscription %s: %w", obj.ID, err)
	}

	price, err := rc.tx.GetSubscriptionPrice(ctx, obj.PriceID())
	if err != nil {
		return nil, fmt.Errorf("webhook: subscription price %s: %w", obj.PriceID(), catalog.ErrNotFound)
	}

	tierChanged := sub.PlanTier != price.PlanTier
	sub.PlanKey = obj.PriceID()
	sub.PlanTier = price.PlanTier
	sub.BillingCycle = price.BillingCycle
	sub.TokensPerCycle = price.TokensPerCycle
	sub.PriceCents = price.PriceCents
	sub.CurrentPeriodStart = obj.PeriodStart()
	sub.CurrentPeriodEnd = obj.PeriodEnd()
	sub.CancelAtPeriodEnd = obj.CancelAtPeriodEnd

	result := &routeResult{}

	if tierChanged && !sub.IsYearly() {
		expiresAt := cycleFallback(rc.now, sub.BillingCycle)
		b := batch.New(sub.UserID, batch.FromSubscription(sub.ID), price.TokensPerCycle, expiresAt, obj.LatestInvoice, "subscription-upgrade")
		inserted, err := rc.tx.InsertBatch(ctx, b)
		if err != nil && !errors.Is(err, store.ErrAlreadyCredited) {
			return nil, fmt.Errorf("webhook: grant upgrade batch: %w", err)
		}
		if err == nil {
			if err := rc.tx.AppendTokenEvent(ctx, journal.Credit(inserted.UserID, inserted.ID, inserted.Amount, journal.ReasonSubscriptionUpgradeCredit, rc.now)); err != nil {
				return nil, fmt.Errorf("webhook: append upgrade journal entry: %w", err)
			}
			result.granted = inserted
		}
	}

	if err := rc.tx.UpdateSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("webhook: update subscription: %w", err)
	}
	return result, nil
}

func handleSubscriptionDeleted(ctx context.Context, rc *routeCtx, obj *SubscriptionObject) (*routeResult, error) {
	sub, err := rc.tx.GetSubscriptionByPGIDForUpdate(ctx, obj.ID)
	if err != nil {
		return nil, fmt.Errorf("webhook: subscription %s: %w", obj.ID, err)
	}
	sub.MarkEnded()
	if err := rc.tx.UpdateSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("webhook: update subscription: %w", err)
	}
	falseVal := false
	if err := rc.tx.UpdateUserFlags(ctx, sub.UserID, &falseVal, nil); err != nil {
		return nil, fmt.Errorf("webhook: update user flags: %w", err)
	}
	return &routeResult{subscriptionEnded: sub}, nil
}

func handleInvoicePaid(ctx context.Context, rc *routeCtx, obj *InvoiceObject) (*routeResult, error) {
	sub, err := rc.tx.GetSubscriptionByPGIDForUpdate(ctx, obj.Subscription)
	if err != nil {
		return nil, fmt.Errorf("webhook: subscription %s: %w", obj.Subscription, err)
	}

	price, err := rc.tx.GetSubscriptionPrice(ctx, sub.PlanKey)
	if err != nil {
		return nil, fmt.Errorf("webhook: subscription price %s: %w", sub.PlanKey, catalog.ErrNotFound)
	}

	wasPaymentIssue := sub.PaymentFailureReason != ""
	sub.ClearPaymentIssue()
	if err := rc.tx.UpdateSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("webhook: clear payment issue: %w", err)
	}
	falseVal := false
	if err := rc.tx.UpdateUserFlags(ctx, sub.UserID, nil, &falseVal); err != nil {
		return nil, fmt.Errorf("webhook: update user flags: %w", err)
	}

	result := &routeResult{}
	if wasPaymentIssue {
		result.paymentRecovered = sub
	}

	amount, reason, expiresAt, skip := creditPolicy(obj, sub, price, rc.now)
	if !skip {
		b := batch.New(sub.UserID, batch.FromSubscription(sub.ID), amount, expiresAt, obj.ID, "subscription-credit:"+obj.BillingReason)
		inserted, err := rc.tx.InsertBatch(ctx, b)
		if err != nil && !errors.Is(err, store.ErrAlreadyCredited) {
			return nil, fmt.Errorf("webhook: grant subscription batch: %w", err)
		}
		if err == nil {
			if err := rc.tx.AppendTokenEvent(ctx, journal.Credit(inserted.UserID, inserted.ID, inserted.Amount, reason, rc.now)); err != nil {
				return nil, fmt.Errorf("webhook: append subscription journal entry: %w", err)
			}
			result.granted = inserted
			if sub.IsYearly() {
				now := rc.now
				sub.LastMonthlyRefill = &now
				if err := rc.tx.UpdateSubscription(ctx, sub); err != nil {
					return nil, fmt.Errorf("webhook: stamp last_monthly_refill: %w", err)
				}
			}
		}
	}

	if obj.BillingReason == "subscription_create" {
		ref, refBatch, err := applyReferralReward(ctx, rc, sub.UserID)
		if err != nil {
			return nil, err
		}
		if ref != nil {
			result.referralRewarded = ref
			if result.granted == nil {
				result.granted = refBatch
			}
		}
	}

	return result, nil
}

// creditPolicy decides how many tokens to grant, under what
// reason, expiring when — or whether to skip the grant entirely (a yearly
// plan's renewal cycle, handled instead by the maintenance worker).
func creditPolicy(obj *InvoiceObject, sub *subscription.Subscription, price *catalog.SubscriptionPrice, now time.Time) (amount int64, reason journal.Reason, expiresAt time.Time, skip bool) {
	if price.BillingCycle == subscription.CycleYearly {
		switch obj.BillingReason {
		case "subscription_create":
			return price.RefillAmount(), journal.ReasonSubscriptionInitialCredit, now.AddDate(0, 1, 0), false
		case "subscription_update":
			return price.RefillAmount(), journal.ReasonSubscriptionUpgradeCredit, now.AddDate(0, 1, 0), false
		default:
			return 0, "", time.Time{}, true
		}
	}

	expiresAt = obj.LinePeriodEndOrFallback(sub.CurrentPeriodEnd, cycleFallback(now, sub.BillingCycle))
	switch obj.BillingReason {
	case "subscription_create":
		return price.TokensPerCycle, journal.ReasonSubscriptionInitialCredit, expiresAt, false
	case "subscription_update":
		return price.TokensPerCycle, journal.ReasonSubscriptionUpgradeCredit, expiresAt, false
	default:
		return price.TokensPerCycle, journal.ReasonSubscriptionRefill, expiresAt, false
	}
}

// cycleFallback is the last resort in the expiry fallback chain: now plus
// one cycle length.
func cycleFallback(now time.Time, cycle subscription.BillingCycle) time.Time {
	switch cycle {
	case subscription.CycleDaily:
		return now.AddDate(0, 0, 1)
	case subscription.CycleYearly:
		return now.AddDate(1, 0, 0)
	default:
		return now.AddDate(0, 1, 0)
	}
}

func handleInvoicePaymentFailed(ctx context.Context, rc *routeCtx, obj *InvoiceObject) (*routeResult, error) {
	return markPaymentIssue(ctx, rc, obj.Customer, obj.Subscription, obj.ID, obj.PaymentIntent, obj.Charge)
}

func handlePaymentIntentFailed(ctx context.Context, rc *routeCtx, obj *PaymentIntentObject) (*routeResult, error) {
	return markPaymentIssue(ctx, rc, obj.Customer, "", obj.Invoice, obj.ID, "")
}

func handleChargeFailed(ctx context.Context, rc *routeCtx, obj *ChargeObject) (*routeResult, error) {
	return markPaymentIssue(ctx, rc, obj.Customer, "", obj.Invoice, obj.PaymentIntent, obj.ID)
}

// markPaymentIssue implements the payment_issue transition: the
// subscription's access is never revoked here, only its failure reason
// and the user's has_payment_issue flag are recorded (dunning grace). The
// user is resolved from the local subscription's owner first, then from
// the event's customer.
func markPaymentIssue(ctx context.Context, rc *routeCtx, customerID, pgSubscriptionID, invoiceID, paymentIntentID, chargeID string) (*routeResult, error) {
	if pgSubscriptionID == "" && invoiceID != "" {
		if inv, err := rc.pg.GetInvoice(ctx, invoiceID); err == nil {
			pgSubscriptionID = inv.SubscriptionID
		}
	}
	if pgSubscriptionID == "" {
		return nil, fmt.Errorf("webhook: no subscription reference for failed payment by customer %s: %w", customerID, ErrUnresolvedUser)
	}
	sub, err := rc.tx.GetSubscriptionByPGIDForUpdate(ctx, pgSubscriptionID)
	if err != nil || sub == nil {
		return nil, fmt.Errorf("webhook: subscription %s: %w", pgSubscriptionID, ErrUnresolvedUser)
	}

	u, err := resolveUser(ctx, rc, sub.UserID.String(), customerID)
	if err != nil {
		return nil, err
	}

	reason := ResolveFailureReason(ctx, rc.pg, invoiceID, paymentIntentID, chargeID, pgSubscriptionID)
	sub.MarkPaymentIssue(reason)
	if err := rc.tx.UpdateSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("webhook: mark payment issue: %w", err)
	}

	trueVal := true
	if err := rc.tx.UpdateUserFlags(ctx, u.ID, nil, &trueVal); err != nil {
		return nil, fmt.Errorf("webhook: update user flags: %w", err)
	}

	return &routeResult{paymentFailed: sub, paymentFailedReason: reason}, nil
}

func handlePaymentIntentSucceeded(ctx context.Context, rc *routeCtx, obj *PaymentIntentObject) (*routeResult, error) {
	u, err := resolveUser(ctx, rc, obj.Metadata["user_id"], obj.Customer)
	if err != nil {
		return nil, err
	}

	if existing, err := rc.tx.GetPurchaseByPGID(ctx, obj.ID); err == nil && existing != nil {
		return &routeResult{}, nil
	}

	planKey := obj.Metadata["plan_key"]
	if planKey == "" {
		planKey = "one_time_purchase"
	}
	tier := obj.Metadata["plan_option"]

	price, err := rc.tx.GetTokenPrice(ctx, planKey, tier)
	if err != nil {
		return nil, fmt.Errorf("webhook: token price %s/%s: %w", planKey, tier, catalog.ErrNotFound)
	}

	p := purchase.New(u.ID, subscription.PlanTier(tier), obj.ID, price.Tokens, obj.TotalDetails.AmountDiscount, rc.now)
	if err := rc.tx.InsertPurchase(ctx, p); err != nil {
		return nil, fmt.Errorf("webhook: insert purchase: %w", err)
	}

	b := batch.New(u.ID, batch.FromPurchase(p.ID), price.Tokens, p.PeriodEnd, "", "one-time-purchase")
	inserted, err := rc.tx.InsertBatch(ctx, b)
	if err != nil && !errors.Is(err, store.ErrAlreadyCredited) {
		return nil, fmt.Errorf("webhook: grant purchase batch: %w", err)
	}
	result := &routeResult{}
	if err == nil {
		if err := rc.tx.AppendTokenEvent(ctx, journal.Credit(inserted.UserID, inserted.ID, inserted.Amount, journal.ReasonPurchase, rc.now)); err != nil {
			return nil, fmt.Errorf("webhook: append purchase journal entry: %w", err)
		}
		result.granted = inserted
	}
	return result, nil
}

