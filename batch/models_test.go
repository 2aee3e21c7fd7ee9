package batch_test

import (
	"testing"
	"time"

	"github.com/tokenledger/ledger/batch"
	"github.com/tokenledger/ledger/id"
)

func TestNewFromSubscription(t *testing.T) {
	userID := id.NewUserID()
	subID := id.NewSubscriptionID()
	expiresAt := time.Now().Add(30 * 24 * time.Hour)

	b := batch.New(userID, batch.FromSubscription(subID), 5000, expiresAt, "inv_123", "monthly refill")

	if b.Source != batch.OriginSubscription {
		t.Errorf("expected source %q, got %q", batch.OriginSubscription, b.Source)
	}
	if b.SubscriptionID != subID {
		t.Errorf("expected subscription id %q, got %q", subID, b.SubscriptionID)
	}
	if !b.PurchaseID.IsNil() {
		t.Error("expected purchase id to stay nil")
	}
	if b.Amount != 5000 {
		t.Errorf("expected amount 5000, got %d", b.Amount)
	}
	if b.Consumed != 0 {
		t.Errorf("expected consumed 0, got %d", b.Consumed)
	}
	if !b.IsActive {
		t.Error("expected new batch to be active")
	}
	if err := b.Validate(); err != nil {
		t.Errorf("expected valid batch, got %v", err)
	}
}

func TestNewFromPurchase(t *testing.T) {
	userID := id.NewUserID()
	purchaseID := id.NewPurchaseID()

	b := batch.New(userID, batch.FromPurchase(purchaseID), 1000, time.Now().Add(time.Hour), "", "one-time")

	if b.Source != batch.OriginPurchase {
		t.Errorf("expected source %q, got %q", batch.OriginPurchase, b.Source)
	}
	if b.PurchaseID != purchaseID {
		t.Errorf("expected purchase id %q, got %q", purchaseID, b.PurchaseID)
	}
	if !b.SubscriptionID.IsNil() {
		t.Error("expected subscription id to stay nil")
	}
	if err := b.Validate(); err != nil {
		t.Errorf("expected valid batch, got %v", err)
	}
}

func TestNewFromReferral(t *testing.T) {
	userID := id.NewUserID()
	referrerID := id.NewUserID()

	b := batch.New(userID, batch.FromReferral(referrerID), 500, time.Now().Add(time.Hour), "", "referral reward")

	if b.Source != batch.OriginReferral {
		t.Errorf("expected source %q, got %q", batch.OriginReferral, b.Source)
	}
	if !b.SubscriptionID.IsNil() || !b.PurchaseID.IsNil() {
		t.Error("expected referral batch to carry no subscription or purchase fk")
	}
	if err := b.Validate(); err != nil {
		t.Errorf("expected valid batch, got %v", err)
	}
}

func TestRemaining(t *testing.T) {
	b := batch.New(id.NewUserID(), batch.FromPurchase(id.NewPurchaseID()), 100, time.Now().Add(time.Hour), "", "")

	if got := b.Remaining(); got != 100 {
		t.Errorf("expected remaining 100, got %d", got)
	}

	b.Consumed = 40
	if got := b.Remaining(); got != 60 {
		t.Errorf("expected remaining 60, got %d", got)
	}

	// Over-consumption should never surface as a negative remaining.
	b.Consumed = 150
	if got := b.Remaining(); got != 0 {
		t.Errorf("expected remaining clamped to 0, got %d", got)
	}
}

func TestIsExpired(t *testing.T) {
	now := time.Now()
	b := batch.New(id.NewUserID(), batch.FromPurchase(id.NewPurchaseID()), 100, now.Add(-time.Minute), "", "")

	if !b.IsExpired(now) {
		t.Error("expected batch with past expiry to report expired")
	}

	b2 := batch.New(id.NewUserID(), batch.FromPurchase(id.NewPurchaseID()), 100, now.Add(time.Minute), "", "")
	if b2.IsExpired(now) {
		t.Error("expected batch with future expiry to report not expired")
	}

	// ExpiresAt exactly at now counts as expired (After is strict).
	b3 := batch.New(id.NewUserID(), batch.FromPurchase(id.NewPurchaseID()), 100, now, "", "")
	if !b3.IsExpired(now) {
		t.Error("expected batch expiring exactly at now to report expired")
	}
}

func TestTake(t *testing.T) {
	tests := []struct {
		name        string
		amount      int64
		preconsumed int64
		want        int64
		expectTaken int64
		expectFinal int64
	}{
		{"take less than remaining", 100, 0, 30, 30, 30},
		{"take exactly remaining", 100, 40, 60, 60, 100},
		{"take more than remaining is clamped", 100, 90, 50, 10, 100},
		{"take from fully consumed batch", 100, 100, 20, 0, 100},
		{"take zero", 100, 0, 0, 0, 0},
		{"take negative is a no-op", 100, 0, -10, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := batch.New(id.NewUserID(), batch.FromPurchase(id.NewPurchaseID()), tt.amount, time.Now().Add(time.Hour), "", "")
			b.Consumed = tt.preconsumed

			taken := b.Take(tt.want)
			if taken != tt.expectTaken {
				t.Errorf("expected taken %d, got %d", tt.expectTaken, taken)
			}
			if b.Consumed != tt.expectFinal {
				t.Errorf("expected consumed %d, got %d", tt.expectFinal, b.Consumed)
			}
		})
	}
}

func TestValidateAmountAndConsumed(t *testing.T) {
	b := batch.New(id.NewUserID(), batch.FromPurchase(id.NewPurchaseID()), 100, time.Now().Add(time.Hour), "", "")

	b.Amount = -1
	if err := b.Validate(); err == nil {
		t.Error("expected error for negative amount")
	}

	b.Amount = 100
	b.Consumed = -1
	if err := b.Validate(); err == nil {
		t.Error("expected error for negative consumed")
	}

	b.Consumed = 200
	if err := b.Validate(); err == nil {
		t.Error("expected error for consumed exceeding amount")
	}
}

func TestValidateOriginMismatch(t *testing.T) {
	subID := id.NewSubscriptionID()
	purchaseID := id.NewPurchaseID()

	// Subscription source without invoice id.
	b := batch.New(id.NewUserID(), batch.FromSubscription(subID), 100, time.Now().Add(time.Hour), "", "")
	if err := b.Validate(); err == nil {
		t.Error("expected error for subscription batch missing invoice id")
	}

	// Subscription source carrying a purchase id too (constructed by hand
	// since New only ever sets one FK).
	b2 := batch.New(id.NewUserID(), batch.FromSubscription(subID), 100, time.Now().Add(time.Hour), "inv_1", "")
	b2.PurchaseID = purchaseID
	if err := b2.Validate(); err == nil {
		t.Error("expected error for subscription batch also carrying purchase id")
	}

	// Purchase source missing its fk.
	b3 := batch.New(id.NewUserID(), batch.FromPurchase(purchaseID), 100, time.Now().Add(time.Hour), "", "")
	b3.PurchaseID = id.PurchaseID{}
	if err := b3.Validate(); err == nil {
		t.Error("expected error for purchase batch missing purchase id")
	}

	// Referral source carrying a stray fk.
	b4 := batch.New(id.NewUserID(), batch.FromReferral(id.NewUserID()), 100, time.Now().Add(time.Hour), "", "")
	b4.SubscriptionID = subID
	if err := b4.Validate(); err == nil {
		t.Error("expected error for referral batch carrying a subscription id")
	}

	// Unknown source.
	b5 := batch.New(id.NewUserID(), batch.FromReferral(id.NewUserID()), 100, time.Now().Add(time.Hour), "", "")
	b5.Source = batch.Origin("bogus")
	if err := b5.Validate(); err == nil {
		t.Error("expected error for unknown source")
	}
}
