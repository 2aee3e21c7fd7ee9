package referral_test

import (
	"testing"

	"github.com/tokenledger/ledger/id"
	"github.com/tokenledger/ledger/referral"
)

func TestNew(t *testing.T) {
	referrerID := id.NewUserID()
	referredID := id.NewUserID()

	r := referral.New(referrerID, referredID)

	if r.ReferrerUserID != referrerID {
		t.Errorf("expected referrer id %q, got %q", referrerID, r.ReferrerUserID)
	}
	if r.ReferredUserID != referredID {
		t.Errorf("expected referred id %q, got %q", referredID, r.ReferredUserID)
	}
	if r.IsRewarded {
		t.Error("expected new referral to start unrewarded")
	}
	if r.ID.IsNil() {
		t.Error("expected New to assign an id")
	}
}

func TestNewAllowsSelfReferral(t *testing.T) {
	// Self-referral rejection lives at the service layer (Ledger.RegisterReferral),
	// not here: New has no store access to know it's being asked to self-refer,
	// so it constructs whatever it's given.
	userID := id.NewUserID()

	r := referral.New(userID, userID)

	if r.ReferrerUserID != r.ReferredUserID {
		t.Error("expected New to accept referrer == referred without validation")
	}
}
