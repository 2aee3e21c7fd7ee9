package pgclient

import (
	"context"
	"fmt"
	"sync"
)

// Fake is an in-memory Client for tests, grounded on the same
// mutex-guarded-map shape the ledger's memory store uses. Callers seed it
// directly by writing to the exported maps before exercising a dispatcher
// or worker.
type Fake struct {
	mu sync.Mutex

	Customers      map[string]*Customer
	CustomersByEmail map[string]*Customer
	Invoices       map[string]*Invoice
	PaymentIntents map[string]*PaymentIntent
	Charges        map[string]*Charge
	Subscriptions  map[string]*Subscription

	// Cancelled records every subscription id passed to
	// CancelSubscriptionAtPeriodEnd, in call order.
	Cancelled []string

	// NextCheckoutURL is returned by CreateCheckoutSession; defaults to a
	// deterministic placeholder if unset.
	NextCheckoutURL string
}

// NewFake returns an empty Fake ready for seeding.
func NewFake() *Fake {
	return &Fake{
		Customers:        make(map[string]*Customer),
		CustomersByEmail: make(map[string]*Customer),
		Invoices:         make(map[string]*Invoice),
		PaymentIntents:   make(map[string]*PaymentIntent),
		Charges:          make(map[string]*Charge),
		Subscriptions:    make(map[string]*Subscription),
	}
}

var _ Client = (*Fake)(nil)

func (f *Fake) GetCustomer(_ context.Context, customerID string) (*Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.Customers[customerID]
	if !ok {
		return nil, fmt.Errorf("pgclient: customer %q not found", customerID)
	}
	return c, nil
}

func (f *Fake) GetCustomerByEmail(_ context.Context, email string) (*Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.CustomersByEmail[email]
	if !ok {
		return nil, fmt.Errorf("pgclient: customer with email %q not found", email)
	}
	return c, nil
}

func (f *Fake) GetInvoice(_ context.Context, invoiceID string) (*Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv, ok := f.Invoices[invoiceID]
	if !ok {
		return nil, fmt.Errorf("pgclient: invoice %q not found", invoiceID)
	}
	return inv, nil
}

func (f *Fake) GetPaymentIntent(_ context.Context, paymentIntentID string) (*PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pi, ok := f.PaymentIntents[paymentIntentID]
	if !ok {
		return nil, fmt.Errorf("pgclient: payment intent %q not found", paymentIntentID)
	}
	return pi, nil
}

func (f *Fake) GetCharge(_ context.Context, chargeID string) (*Charge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.Charges[chargeID]
	if !ok {
		return nil, fmt.Errorf("pgclient: charge %q not found", chargeID)
	}
	return c, nil
}

func (f *Fake) FindPaymentIntentsByInvoice(_ context.Context, invoiceID string) ([]*PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*PaymentIntent
	for _, pi := range f.PaymentIntents {
		if pi.InvoiceID == invoiceID {
			out = append(out, pi)
		}
	}
	return out, nil
}

func (f *Fake) GetSubscription(_ context.Context, pgSubscriptionID string) (*Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.Subscriptions[pgSubscriptionID]
	if !ok {
		return nil, fmt.Errorf("pgclient: subscription %q not found", pgSubscriptionID)
	}
	return s, nil
}

func (f *Fake) CancelSubscriptionAtPeriodEnd(_ context.Context, pgSubscriptionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.Subscriptions[pgSubscriptionID]; ok {
		s.CancelAtPeriodEnd = true
	}
	f.Cancelled = append(f.Cancelled, pgSubscriptionID)
	return nil
}

func (f *Fake) CreateCheckoutSession(_ context.Context, req CheckoutSessionRequest) (*CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	url := f.NextCheckoutURL
	if url == "" {
		url = "https://pg.example.test/checkout/" + req.UserID + "/" + req.PlanOption
	}
	return &CheckoutSession{ID: "cs_fake_" + req.UserID, URL: url}, nil
}
