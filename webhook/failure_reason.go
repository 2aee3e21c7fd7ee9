package webhook

import (
	"context"
	"fmt"

	"github.com/tokenledger/ledger/pgclient"
)

// ResolveFailureReason walks the escalation chain, stopping at
// the first non-empty result. invoiceID is always known; paymentIntentID
// and chargeID may be empty depending on which event triggered the call.
// A non-empty reason is always returned.
func ResolveFailureReason(ctx context.Context, pg pgclient.Client, invoiceID, paymentIntentID, chargeID, pgSubscriptionID string) string {
	// 1. Re-fetch the invoice with payment_intent and latest_charge expanded.
	inv, err := pg.GetInvoice(ctx, invoiceID)
	if err == nil {
		if inv.PaymentIntentID != "" {
			paymentIntentID = inv.PaymentIntentID
		}
		if inv.ChargeID != "" {
			chargeID = inv.ChargeID
		}
	}

	// 2. The payment intent's last_payment_error.
	if paymentIntentID != "" {
		if pi, err := pg.GetPaymentIntent(ctx, paymentIntentID); err == nil && pi.LastPaymentError != "" {
			return pi.LastPaymentError
		}
	}

	// 3. The invoice's charge object.
	if chargeID != "" {
		if ch, err := pg.GetCharge(ctx, chargeID); err == nil && ch.FailureMessage != "" {
			return ch.FailureMessage
		}
	}

	// 4. Search payment intents by invoice id.
	if pis, err := pg.FindPaymentIntentsByInvoice(ctx, invoiceID); err == nil {
		for _, pi := range pis {
			if pi.LastPaymentError != "" {
				return pi.LastPaymentError
			}
		}
	}

	// 5. Via the subscription's latest_invoice expansion.
	if pgSubscriptionID != "" {
		if sub, err := pg.GetSubscription(ctx, pgSubscriptionID); err == nil && sub.LatestInvoiceID != "" && sub.LatestInvoiceID != invoiceID {
			if latest, err := pg.GetInvoice(ctx, sub.LatestInvoiceID); err == nil && latest.PaymentIntentID != "" {
				if pi, err := pg.GetPaymentIntent(ctx, latest.PaymentIntentID); err == nil && pi.LastPaymentError != "" {
					return pi.LastPaymentError
				}
			}
		}
	}

	if err == nil {
		if inv.CollectionMethod == "send_invoice" {
			return "no_automatic_payment"
		}
		cust, custErr := pg.GetCustomer(ctx, inv.CustomerID)
		if custErr == nil && cust.DefaultPaymentMethod == "" {
			return "no_payment_method_on_file"
		}
		if inv.AttemptCount == 0 {
			return "no_attempt_yet"
		}
		next := "none"
		if inv.NextPaymentAttempt != nil {
			next = inv.NextPaymentAttempt.String()
		}
		return fmt.Sprintf("unknown: status=%s, attempt_count=%d, next_attempt=%s", inv.Status, inv.AttemptCount, next)
	}

	return "unknown: status=unavailable, attempt_count=0, next_attempt=none"
}
