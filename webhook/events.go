package webhook

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType enumerates the PG event kinds the dispatcher routes on.
type EventType string

const (
	EventCheckoutSessionCompleted  EventType = "checkout.session.completed"
	EventSubscriptionCreated       EventType = "customer.subscription.created"
	EventSubscriptionUpdated       EventType = "customer.subscription.updated"
	EventSubscriptionDeleted       EventType = "customer.subscription.deleted"
	EventInvoicePaid               EventType = "invoice.paid"
	EventInvoicePaymentSucceeded   EventType = "invoice.payment_succeeded"
	EventInvoicePaymentFailed      EventType = "invoice.payment_failed"
	EventPaymentIntentPaymentFailed EventType = "payment_intent.payment_failed"
	EventChargeFailed              EventType = "charge.failed"
	EventPaymentIntentSucceeded    EventType = "payment_intent.succeeded"
)

// Envelope is the outer shape common to every PG webhook payload. The
// nested object is decoded lazily via Data.Object, keyed by event Type, so
// unknown event types can pass through Parse without failing: explicit
// typed records per event kind, unknown fields ignored.
type Envelope struct {
	ID      string          `json:"id"`
	Type    EventType       `json:"type"`
	Created int64           `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// CheckoutSessionObject is data.object for checkout.session.completed.
type CheckoutSessionObject struct {
	ID            string            `json:"id"`
	Mode          string            `json:"mode"` // "payment" or "subscription"
	Customer      string            `json:"customer"`
	CustomerEmail string            `json:"customer_email"`
	Subscription  string            `json:"subscription"`
	PaymentIntent string            `json:"payment_intent"`
	TotalDetails  TotalDetails      `json:"total_details"`
	Metadata      map[string]string `json:"metadata"`
}

// TotalDetails carries the checkout session's discount breakdown. A
// one-time purchase's applied discount shows up here, not in metadata.
type TotalDetails struct {
	AmountDiscount int64 `json:"amount_discount"`
}

// SubscriptionObject is data.object for customer.subscription.* events.
type SubscriptionObject struct {
	ID                 string            `json:"id"`
	Customer           string            `json:"customer"`
	Status             string            `json:"status"`
	Items              struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
	LatestInvoice      string            `json:"latest_invoice"`
	Metadata           map[string]string `json:"metadata"`
}

func (s SubscriptionObject) PriceID() string {
	if len(s.Items.Data) == 0 {
		return ""
	}
	return s.Items.Data[0].Price.ID
}

func (s SubscriptionObject) PeriodStart() time.Time {
	return time.Unix(s.CurrentPeriodStart, 0).UTC()
}

func (s SubscriptionObject) PeriodEnd() time.Time {
	return time.Unix(s.CurrentPeriodEnd, 0).UTC()
}

// InvoiceObject is data.object for invoice.* events.
type InvoiceObject struct {
	ID                 string            `json:"id"`
	Customer           string            `json:"customer"`
	Subscription       string            `json:"subscription"`
	Status             string            `json:"status"`
	BillingReason      string            `json:"billing_reason"`
	CollectionMethod   string            `json:"collection_method"`
	AttemptCount       int               `json:"attempt_count"`
	NextPaymentAttempt *int64            `json:"next_payment_attempt"`
	PaymentIntent      string            `json:"payment_intent"`
	Charge             string            `json:"charge"`
	Metadata           map[string]string `json:"metadata"`
	Lines              struct {
		Data []struct {
			Period struct {
				Start int64 `json:"start"`
				End   int64 `json:"end"`
			} `json:"period"`
		} `json:"data"`
	} `json:"lines"`
}

func (i InvoiceObject) LinePeriodEnd() *time.Time {
	if len(i.Lines.Data) == 0 || i.Lines.Data[0].Period.End == 0 {
		return nil
	}
	t := time.Unix(i.Lines.Data[0].Period.End, 0).UTC()
	return &t
}

// LinePeriodEndOrFallback implements the expiry fallback chain:
// invoice-line period end, falling back to the subscription's period end,
// falling back to the given default.
func (i InvoiceObject) LinePeriodEndOrFallback(subscriptionPeriodEnd, def time.Time) time.Time {
	if t := i.LinePeriodEnd(); t != nil {
		return *t
	}
	if !subscriptionPeriodEnd.IsZero() {
		return subscriptionPeriodEnd
	}
	return def
}

// PaymentIntentObject is data.object for payment_intent.* events.
type PaymentIntentObject struct {
	ID               string            `json:"id"`
	Customer         string            `json:"customer"`
	Invoice          string            `json:"invoice"`
	LastPaymentError *struct {
		Message string `json:"message"`
	} `json:"last_payment_error"`
	TotalDetails TotalDetails      `json:"total_details"`
	Metadata     map[string]string `json:"metadata"`
}

// ChargeObject is data.object for charge.failed.
type ChargeObject struct {
	ID            string `json:"id"`
	Customer      string `json:"customer"`
	Invoice       string `json:"invoice"`
	PaymentIntent string `json:"payment_intent"`
	FailureMessage string `json:"failure_message"`
}

// ParseEnvelope decodes the outer envelope. Callers then unmarshal
// Data.Object into the concrete type matching Envelope.Type.
func ParseEnvelope(payload []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("webhook: decode envelope: %w", err)
	}
	if env.ID == "" {
		return nil, fmt.Errorf("webhook: envelope missing id")
	}
	return &env, nil
}
