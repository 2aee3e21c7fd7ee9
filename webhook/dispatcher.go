// Package webhook implements the event-ingest pipeline (C5): signature
// verification, parsing, deduplication, and per-event-type routing into
// ledger mutations, all inside a single transaction per event.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tokenledger/ledger/pgclient"
	"github.com/tokenledger/ledger/plugin"
	"github.com/tokenledger/ledger/store"
)

// Dispatcher wires the pipeline's collaborators: the store for durable
// effects, the PG client for lookups the payload doesn't carry, and the
// plugin registry for lifecycle notifications. Both store and pg are
// injected rather than held as singletons.
type Dispatcher struct {
	store   store.Store
	pg      pgclient.Client
	plugins *plugin.Registry
	logger  *slog.Logger

	secret              string
	referralTokenAmount int64
}

// Config holds the values HandleEvent needs beyond its collaborators.
type Config struct {
	// Secret is the webhook endpoint's signing secret (PG_WEBHOOK_SECRET).
	Secret string
	// ReferralTokenAmount is tokens granted per successful referral; zero
	// disables the referral reward path entirely.
	ReferralTokenAmount int64
}

// NewDispatcher constructs a Dispatcher. plugins may be nil, in which case
// lifecycle notifications are skipped.
func NewDispatcher(s store.Store, pg pgclient.Client, plugins *plugin.Registry, logger *slog.Logger, cfg Config) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:               s,
		pg:                  pg,
		plugins:             plugins,
		logger:              logger,
		secret:              cfg.Secret,
		referralTokenAmount: cfg.ReferralTokenAmount,
	}
}

// HandleEvent runs the full pipeline against a raw
// webhook body and its signature header. A nil return means the caller
// should answer the PG with 2xx (success, known duplicate, or an
// unresolved-user anomaly it has no newer information to fix). A non-nil
// return wrapping ErrBadSignature means 400; anything else means 500 so
// the PG retries.
func (d *Dispatcher) HandleEvent(ctx context.Context, payload []byte, signatureHeader string) error {
	if err := VerifySignature(payload, signatureHeader, d.secret); err != nil {
		d.emitRejected(ctx, "bad_signature")
		return err
	}

	env, err := ParseEnvelope(payload)
	if err != nil {
		d.emitRejected(ctx, "unparseable")
		return fmt.Errorf("webhook: %w", err)
	}

	d.emitReceived(ctx, string(env.Type), env.ID)

	now := time.Now().UTC()
	var result *routeResult

	txErr := d.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		proceed, err := tx.Record(ctx, env.ID, string(env.Type), now)
		if err != nil {
			return fmt.Errorf("webhook: record event: %w", err)
		}
		if !proceed {
			return nil
		}

		rc := &routeCtx{tx: tx, pg: d.pg, now: now, referralTokenAmount: d.referralTokenAmount}
		result, err = route(ctx, rc, env)
		return err
	})

	if txErr != nil {
		if errors.Is(txErr, ErrUnresolvedUser) {
			d.logger.Warn("webhook: unresolved user", "event_type", env.Type, "event_id", env.ID)
			if d.plugins != nil {
				d.plugins.EmitUserUnresolved(ctx, string(env.Type), "")
			}
			return nil
		}
		if errors.Is(txErr, ErrUnhandledEvent) {
			d.logger.Debug("webhook: no handler for event type", "event_type", env.Type)
			return nil
		}
		d.logger.Error("webhook: dispatch failed", "event_type", env.Type, "event_id", env.ID, "error", txErr)
		return txErr
	}

	d.emitResult(ctx, result)
	return nil
}

func (d *Dispatcher) emitReceived(ctx context.Context, eventType, eventID string) {
	if d.plugins != nil {
		d.plugins.EmitWebhookReceived(ctx, eventType, eventID)
	}
}

func (d *Dispatcher) emitRejected(ctx context.Context, reason string) {
	if d.plugins != nil {
		d.plugins.EmitWebhookRejected(ctx, reason)
	}
}

func (d *Dispatcher) emitResult(ctx context.Context, r *routeResult) {
	if r == nil || d.plugins == nil {
		return
	}
	if r.granted != nil {
		d.plugins.EmitBatchGranted(ctx, r.granted)
	}
	if r.subscriptionCreated != nil {
		d.plugins.EmitSubscriptionCreated(ctx, r.subscriptionCreated)
	}
	if r.subscriptionEnded != nil {
		d.plugins.EmitSubscriptionEnded(ctx, r.subscriptionEnded)
	}
	if r.paymentFailed != nil {
		d.plugins.EmitPaymentFailed(ctx, r.paymentFailed, r.paymentFailedReason)
	}
	if r.paymentRecovered != nil {
		d.plugins.EmitPaymentRecovered(ctx, r.paymentRecovered)
	}
	if r.referralRewarded != nil {
		d.plugins.EmitReferralRewarded(ctx, r.referralRewarded)
	}
}

// routeCtx bundles the values every handler needs, avoiding a long
// parameter list repeated across the routing table.
type routeCtx struct {
	tx                  store.Tx
	pg                  pgclient.Client
	now                 time.Time
	referralTokenAmount int64
}

// route decodes data.object per env.Type and dispatches to its handler.
func route(ctx context.Context, rc *routeCtx, env *Envelope) (*routeResult, error) {
	switch env.Type {
	case EventCheckoutSessionCompleted:
		var obj CheckoutSessionObject
		if err := json.Unmarshal(env.Data.Object, &obj); err != nil {
			return nil, fmt.Errorf("webhook: decode checkout session: %w", err)
		}
		return handleCheckoutSessionCompleted(ctx, rc, &obj)

	case EventSubscriptionCreated:
		var obj SubscriptionObject
		if err := json.Unmarshal(env.Data.Object, &obj); err != nil {
			return nil, fmt.Errorf("webhook: decode subscription: %w", err)
		}
		return handleSubscriptionCreated(ctx, rc, &obj)

	case EventSubscriptionUpdated:
		var obj SubscriptionObject
		if err := json.Unmarshal(env.Data.Object, &obj); err != nil {
			return nil, fmt.Errorf("webhook: decode subscription: %w", err)
		}
		return handleSubscriptionUpdated(ctx, rc, &obj)

	case EventSubscriptionDeleted:
		var obj SubscriptionObject
		if err := json.Unmarshal(env.Data.Object, &obj); err != nil {
			return nil, fmt.Errorf("webhook: decode subscription: %w", err)
		}
		return handleSubscriptionDeleted(ctx, rc, &obj)

	case EventInvoicePaid, EventInvoicePaymentSucceeded:
		var obj InvoiceObject
		if err := json.Unmarshal(env.Data.Object, &obj); err != nil {
			return nil, fmt.Errorf("webhook: decode invoice: %w", err)
		}
		if obj.Status != "" && obj.Status != "paid" {
			return nil, nil
		}
		return handleInvoicePaid(ctx, rc, &obj)

	case EventInvoicePaymentFailed:
		var obj InvoiceObject
		if err := json.Unmarshal(env.Data.Object, &obj); err != nil {
			return nil, fmt.Errorf("webhook: decode invoice: %w", err)
		}
		return handleInvoicePaymentFailed(ctx, rc, &obj)

	case EventPaymentIntentPaymentFailed:
		var obj PaymentIntentObject
		if err := json.Unmarshal(env.Data.Object, &obj); err != nil {
			return nil, fmt.Errorf("webhook: decode payment intent: %w", err)
		}
		return handlePaymentIntentFailed(ctx, rc, &obj)

	case EventChargeFailed:
		var obj ChargeObject
		if err := json.Unmarshal(env.Data.Object, &obj); err != nil {
			return nil, fmt.Errorf("webhook: decode charge: %w", err)
		}
		return handleChargeFailed(ctx, rc, &obj)

	case EventPaymentIntentSucceeded:
		var obj PaymentIntentObject
		if err := json.Unmarshal(env.Data.Object, &obj); err != nil {
			return nil, fmt.Errorf("webhook: decode payment intent: %w", err)
		}
		return handlePaymentIntentSucceeded(ctx, rc, &obj)

	default:
		return nil, ErrUnhandledEvent
	}
}
