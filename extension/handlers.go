package extension

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/xraph/forge"

	ledger "github.com/tokenledger/ledger"
	"github.com/tokenledger/ledger/id"
)

// signatureHeader is the header PG signs webhook payloads under.
const signatureHeader = "X-PG-Signature"

type contextKey string

const userIDContextKey contextKey = "ledger_user_id"

// WithUserID attaches an authenticated user id to ctx. Applications wire
// this from their own auth middleware before delegating to the purchase
// and cancel handlers below.
func WithUserID(ctx context.Context, userID id.UserID) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

func userIDFromContext(ctx context.Context) (id.UserID, bool) {
	v, ok := ctx.Value(userIDContextKey).(id.UserID)
	return v, ok
}

// Routes returns the extension's HTTP handlers keyed by their path under
// Config.BasePath, or nil when DisableRoutes is set. The corpus this
// extension is grounded on carries no evidence of Forge's own router
// registration API, so mounting these onto an *http.ServeMux (or
// anything satisfying http.Handler registration) is left to the caller.
func (e *Extension) Routes() map[string]http.HandlerFunc {
	if e.config.DisableRoutes {
		return nil
	}
	base := e.config.BasePath
	return map[string]http.HandlerFunc{
		base + "/webhook":             e.WebhookHandler(),
		base + "/purchases/checkout":  e.PurchaseCheckoutHandler(),
		base + "/subscription/cancel": e.CancelSubscriptionHandler(),
	}
}

// errorResponse is the uniform body written for every non-2xx response:
// {"error": "..."}.
type errorResponse struct {
	Error string `json:"error"`
}

// writeError writes status with a JSON {"error": msg} body.
func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: msg})
}

// WebhookHandler verifies and applies an inbound PG webhook event.
func (e *Extension) WebhookHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "cannot read request body")
			return
		}

		err = e.engine.HandleWebhook(r.Context(), body, r.Header.Get(signatureHeader))
		switch {
		case err == nil:
			w.WriteHeader(http.StatusOK)
		case errors.Is(err, ledger.ErrBadSignature):
			writeError(w, http.StatusBadRequest, "invalid signature")
		case ledger.IsDuplicate(err):
			// Already applied; PG should stop retrying.
			w.WriteHeader(http.StatusOK)
		default:
			e.Logger().Error("ledger: webhook handling failed", forge.F("error", err))
			writeError(w, http.StatusInternalServerError, "internal error")
		}
	}
}

// checkoutRequest's JSON tags follow the external contract's field
// names (plan_type, plan_option) rather than the internal catalog
// terms (PlanKey, Tier) CreateOneTimePurchaseCheckout takes.
type checkoutRequest struct {
	PlanKey    string `json:"plan_type"`
	Tier       string `json:"plan_option"`
	SuccessURL string `json:"success_url"`
	CancelURL  string `json:"cancel_url"`
}

type checkoutResponse struct {
	URL string `json:"url"`
}

// PurchaseCheckoutHandler starts a one-time token purchase checkout
// session for the authenticated user and returns the redirect URL.
func (e *Extension) PurchaseCheckoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userIDFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthenticated")
			return
		}

		var req checkoutRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		url, err := e.engine.CreateOneTimePurchaseCheckout(r.Context(), userID, req.PlanKey, req.Tier, req.SuccessURL, req.CancelURL)
		if err != nil {
			if errors.Is(err, ledger.ErrCatalogMissing) {
				writeError(w, http.StatusBadRequest, "unknown plan or tier")
				return
			}
			e.Logger().Error("ledger: checkout session creation failed", forge.F("error", err))
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(checkoutResponse{URL: url})
	}
}

type messageResponse struct {
	Message string `json:"message"`
}

// CancelSubscriptionHandler requests cancellation of the authenticated
// user's active subscription at period end.
func (e *Extension) CancelSubscriptionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userIDFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthenticated")
			return
		}

		if err := e.engine.CancelSubscription(r.Context(), userID); err != nil {
			if errors.Is(err, ledger.ErrNoActiveSubscription) {
				writeError(w, http.StatusNotFound, "no active subscription")
				return
			}
			e.Logger().Error("ledger: cancel subscription failed", forge.F("error", err))
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(messageResponse{Message: "subscription will cancel at period end"})
	}
}
