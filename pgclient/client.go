// Package pgclient defines the ledger's collaborator interface onto the
// external payment gateway (PG). Every dispatcher and worker that needs to
// call out to the PG depends on the Client interface rather than a concrete
// SDK, so tests can inject a fake instead of a network client. The PG
// client and store handle are dependency-injected into components rather
// than held as process-wide singletons.
package pgclient

import (
	"context"
	"time"
)

// Customer is the PG's notion of a billed customer.
type Customer struct {
	ID                   string
	Email                string
	DefaultPaymentMethod string
}

// Charge is a single payment attempt against a customer.
type Charge struct {
	ID             string
	InvoiceID      string
	PaymentIntent  string
	FailureMessage string
}

// PaymentIntent is a PG payment-intent object.
type PaymentIntent struct {
	ID               string
	InvoiceID        string
	LastPaymentError string
}

// Invoice is the PG's invoice object, expanded enough to drive the failure
// reason escalation chain.
type Invoice struct {
	ID                string
	CustomerID        string
	SubscriptionID    string
	Status            string
	BillingReason     string
	CollectionMethod  string
	AttemptCount      int
	NextPaymentAttempt *time.Time
	PaymentIntentID   string
	ChargeID          string
	// LinePeriodEnd is the invoice line item's period end, used as the
	// primary expiry source for non-yearly subscription credit batches.
	LinePeriodEnd *time.Time
}

// Subscription is the PG's subscription object.
type Subscription struct {
	ID                 string
	CustomerID         string
	Status             string
	PriceID            string
	LatestInvoiceID    string
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CancelAtPeriodEnd  bool
}

// CheckoutSessionRequest describes a one-time purchase checkout session to
// create on behalf of a user.
type CheckoutSessionRequest struct {
	CustomerID  string
	UserID      string
	PlanOption  string
	SuccessURL  string
	CancelURL   string
}

// CheckoutSession is the PG's response to a checkout session creation call.
type CheckoutSession struct {
	ID  string
	URL string
}

// Client is the ledger's collaborator interface onto the PG. Concrete
// implementations wrap whatever PG SDK the deployment uses; the PG SDK
// itself is out of scope here.
type Client interface {
	// GetCustomer fetches a customer by PG id.
	GetCustomer(ctx context.Context, customerID string) (*Customer, error)
	// GetCustomerByEmail resolves a customer by billing email, the last
	// resort in the user resolution order.
	GetCustomerByEmail(ctx context.Context, email string) (*Customer, error)

	// GetInvoice re-fetches an invoice, with payment_intent and
	// latest_charge expanded.
	GetInvoice(ctx context.Context, invoiceID string) (*Invoice, error)
	// GetPaymentIntent fetches a payment intent.
	GetPaymentIntent(ctx context.Context, paymentIntentID string) (*PaymentIntent, error)
	// GetCharge fetches a charge.
	GetCharge(ctx context.Context, chargeID string) (*Charge, error)
	// FindPaymentIntentsByInvoice searches payment intents by invoice id,
	// walking the failure reason escalation chain.
	FindPaymentIntentsByInvoice(ctx context.Context, invoiceID string) ([]*PaymentIntent, error)

	// GetSubscription fetches a subscription, its latest_invoice expansion
	// available via LatestInvoiceID for drift checks.
	GetSubscription(ctx context.Context, pgSubscriptionID string) (*Subscription, error)
	// CancelSubscriptionAtPeriodEnd requests the PG cancel a subscription at
	// the end of its current billing period (the cancel-subscription
	// endpoint's collaborator call).
	CancelSubscriptionAtPeriodEnd(ctx context.Context, pgSubscriptionID string) error

	// CreateCheckoutSession creates a one-time purchase checkout session
	// (the one-time purchase endpoint's collaborator call).
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (*CheckoutSession, error)
}
