package sqlite

import (
	"time"

	"github.com/xraph/grove"

	"github.com/tokenledger/ledger/batch"
	"github.com/tokenledger/ledger/catalog"
	"github.com/tokenledger/ledger/id"
	"github.com/tokenledger/ledger/idempotency"
	"github.com/tokenledger/ledger/journal"
	"github.com/tokenledger/ledger/purchase"
	"github.com/tokenledger/ledger/referral"
	"github.com/tokenledger/ledger/subscription"
	"github.com/tokenledger/ledger/types"
	"github.com/tokenledger/ledger/user"
)

// ==================== User model ====================

type userModel struct {
	grove.BaseModel `grove:"table:tokenledger_users"`

	ID                    string `grove:"id,pk"`
	ExternalID            string `grove:"external_id"`
	Email                 string `grove:"email"`
	PGCustomerID          string `grove:"pg_customer_id"`
	HasActiveSubscription bool   `grove:"has_active_subscription"`
	HasPaymentIssue       bool   `grove:"has_payment_issue"`
	IsDeleted             bool   `grove:"is_deleted"`

	CreatedAt time.Time `grove:"created_at"`
	UpdatedAt time.Time `grove:"updated_at"`
}

func toUserModel(u *user.User) *userModel {
	return &userModel{
		ID:                    u.ID.String(),
		ExternalID:            u.ExternalID,
		Email:                 u.Email,
		PGCustomerID:          u.PGCustomerID,
		HasActiveSubscription: u.HasActiveSubscription,
		HasPaymentIssue:       u.HasPaymentIssue,
		IsDeleted:             u.IsDeleted,
		CreatedAt:             u.CreatedAt,
		UpdatedAt:             u.UpdatedAt,
	}
}

func fromUserModel(m *userModel) (*user.User, error) {
	uid, err := id.ParseUserID(m.ID)
	if err != nil {
		return nil, err
	}
	return &user.User{
		Entity:                types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:                    uid,
		ExternalID:            m.ExternalID,
		Email:                 m.Email,
		PGCustomerID:          m.PGCustomerID,
		HasActiveSubscription: m.HasActiveSubscription,
		HasPaymentIssue:       m.HasPaymentIssue,
		IsDeleted:             m.IsDeleted,
	}, nil
}

// ==================== Subscription model ====================

type subscriptionModel struct {
	grove.BaseModel `grove:"table:tokenledger_subscriptions"`

	ID                   string     `grove:"id,pk"`
	UserID               string     `grove:"user_id"`
	PlanKey              string     `grove:"plan_key"`
	PlanTier             string     `grove:"plan_tier"`
	BillingCycle         string     `grove:"billing_cycle"`
	PGSubscriptionID     string     `grove:"pg_subscription_id"`
	IsActive             bool       `grove:"is_active"`
	CurrentPeriodStart   time.Time  `grove:"current_period_start"`
	CurrentPeriodEnd     time.Time  `grove:"current_period_end"`
	CancelAtPeriodEnd    bool       `grove:"cancel_at_period_end"`
	TokensPerCycle       int64      `grove:"tokens_per_cycle"`
	PriceCents           int64      `grove:"price_cents"`
	LastMonthlyRefill    *time.Time `grove:"last_monthly_refill"`
	PaymentFailureReason string     `grove:"payment_failure_reason"`

	CreatedAt time.Time `grove:"created_at"`
	UpdatedAt time.Time `grove:"updated_at"`
}

func toSubscriptionModel(s *subscription.Subscription) *subscriptionModel {
	return &subscriptionModel{
		ID:                   s.ID.String(),
		UserID:               s.UserID.String(),
		PlanKey:              s.PlanKey,
		PlanTier:             string(s.PlanTier),
		BillingCycle:         string(s.BillingCycle),
		PGSubscriptionID:     s.PGSubscriptionID,
		IsActive:             s.IsActive,
		CurrentPeriodStart:   s.CurrentPeriodStart,
		CurrentPeriodEnd:     s.CurrentPeriodEnd,
		CancelAtPeriodEnd:    s.CancelAtPeriodEnd,
		TokensPerCycle:       s.TokensPerCycle,
		PriceCents:           s.PriceCents,
		LastMonthlyRefill:    s.LastMonthlyRefill,
		PaymentFailureReason: s.PaymentFailureReason,
		CreatedAt:            s.CreatedAt,
		UpdatedAt:            s.UpdatedAt,
	}
}

func fromSubscriptionModel(m *subscriptionModel) (*subscription.Subscription, error) {
	subID, err := id.ParseSubscriptionID(m.ID)
	if err != nil {
		return nil, err
	}
	userID, err := id.ParseUserID(m.UserID)
	if err != nil {
		return nil, err
	}
	return &subscription.Subscription{
		Entity:               types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:                   subID,
		UserID:               userID,
		PlanKey:              m.PlanKey,
		PlanTier:             subscription.PlanTier(m.PlanTier),
		BillingCycle:         subscription.BillingCycle(m.BillingCycle),
		PGSubscriptionID:     m.PGSubscriptionID,
		IsActive:             m.IsActive,
		CurrentPeriodStart:   m.CurrentPeriodStart,
		CurrentPeriodEnd:     m.CurrentPeriodEnd,
		CancelAtPeriodEnd:    m.CancelAtPeriodEnd,
		TokensPerCycle:       m.TokensPerCycle,
		PriceCents:           m.PriceCents,
		LastMonthlyRefill:    m.LastMonthlyRefill,
		PaymentFailureReason: m.PaymentFailureReason,
	}, nil
}

// ==================== Purchase model ====================

type purchaseModel struct {
	grove.BaseModel `grove:"table:tokenledger_purchases"`

	ID            string    `grove:"id,pk"`
	UserID        string    `grove:"user_id"`
	PlanTier      string    `grove:"plan_tier"`
	PGPurchaseID  string    `grove:"pg_purchase_id"`
	AmountTokens  int64     `grove:"amount_tokens"`
	DiscountCents int64     `grove:"discount_cents"`
	PeriodStart   time.Time `grove:"period_start"`
	PeriodEnd     time.Time `grove:"period_end"`

	CreatedAt time.Time `grove:"created_at"`
	UpdatedAt time.Time `grove:"updated_at"`
}

func toPurchaseModel(p *purchase.Purchase) *purchaseModel {
	return &purchaseModel{
		ID:            p.ID.String(),
		UserID:        p.UserID.String(),
		PlanTier:      string(p.PlanTier),
		PGPurchaseID:  p.PGPurchaseID,
		AmountTokens:  p.AmountTokens,
		DiscountCents: p.DiscountCents,
		PeriodStart:   p.PeriodStart,
		PeriodEnd:     p.PeriodEnd,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

func fromPurchaseModel(m *purchaseModel) (*purchase.Purchase, error) {
	purchaseID, err := id.ParsePurchaseID(m.ID)
	if err != nil {
		return nil, err
	}
	userID, err := id.ParseUserID(m.UserID)
	if err != nil {
		return nil, err
	}
	return &purchase.Purchase{
		Entity:        types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:            purchaseID,
		UserID:        userID,
		PlanTier:      subscription.PlanTier(m.PlanTier),
		PGPurchaseID:  m.PGPurchaseID,
		AmountTokens:  m.AmountTokens,
		DiscountCents: m.DiscountCents,
		PeriodStart:   m.PeriodStart,
		PeriodEnd:     m.PeriodEnd,
	}, nil
}

// ==================== Batch model ====================

type batchModel struct {
	grove.BaseModel `grove:"table:tokenledger_batches"`

	ID             string    `grove:"id,pk"`
	UserID         string    `grove:"user_id"`
	Source         string    `grove:"source"`
	SubscriptionID string    `grove:"subscription_id"`
	PurchaseID     string    `grove:"purchase_id"`
	InvoiceID      string    `grove:"invoice_id"`
	Amount         int64     `grove:"amount"`
	Consumed       int64     `grove:"consumed"`
	ExpiresAt      time.Time `grove:"expires_at"`
	IsActive       bool      `grove:"is_active"`
	Note           string    `grove:"note"`

	CreatedAt time.Time `grove:"created_at"`
	UpdatedAt time.Time `grove:"updated_at"`
}

func toBatchModel(b *batch.Batch) *batchModel {
	return &batchModel{
		ID:             b.ID.String(),
		UserID:         b.UserID.String(),
		Source:         string(b.Source),
		SubscriptionID: b.SubscriptionID.String(),
		PurchaseID:     b.PurchaseID.String(),
		InvoiceID:      b.InvoiceID,
		Amount:         b.Amount,
		Consumed:       b.Consumed,
		ExpiresAt:      b.ExpiresAt,
		IsActive:       b.IsActive,
		Note:           b.Note,
		CreatedAt:      b.CreatedAt,
		UpdatedAt:      b.UpdatedAt,
	}
}

func fromBatchModel(m *batchModel) (*batch.Batch, error) {
	batchID, err := id.ParseBatchID(m.ID)
	if err != nil {
		return nil, err
	}
	userID, err := id.ParseUserID(m.UserID)
	if err != nil {
		return nil, err
	}
	b := &batch.Batch{
		Entity:    types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:        batchID,
		UserID:    userID,
		Source:    batch.Origin(m.Source),
		InvoiceID: m.InvoiceID,
		Amount:    m.Amount,
		Consumed:  m.Consumed,
		ExpiresAt: m.ExpiresAt,
		IsActive:  m.IsActive,
		Note:      m.Note,
	}
	if m.SubscriptionID != "" {
		if b.SubscriptionID, err = id.ParseSubscriptionID(m.SubscriptionID); err != nil {
			return nil, err
		}
	}
	if m.PurchaseID != "" {
		if b.PurchaseID, err = id.ParsePurchaseID(m.PurchaseID); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// ==================== Journal model ====================

type journalModel struct {
	grove.BaseModel `grove:"table:tokenledger_journal"`

	ID      string    `grove:"id,pk"`
	UserID  string    `grove:"user_id"`
	BatchID string    `grove:"batch_id"`
	Delta   int64     `grove:"delta"`
	Reason  string    `grove:"reason"`
	At      time.Time `grove:"at"`
}

func toJournalModel(e *journal.Entry) *journalModel {
	return &journalModel{
		ID:      e.ID.String(),
		UserID:  e.UserID.String(),
		BatchID: e.BatchID.String(),
		Delta:   e.Delta,
		Reason:  string(e.Reason),
		At:      e.At,
	}
}

func fromJournalModel(m *journalModel) (*journal.Entry, error) {
	entryID, err := id.ParseTokenEventID(m.ID)
	if err != nil {
		return nil, err
	}
	userID, err := id.ParseUserID(m.UserID)
	if err != nil {
		return nil, err
	}
	batchID, err := id.ParseBatchID(m.BatchID)
	if err != nil {
		return nil, err
	}
	return &journal.Entry{
		ID:      entryID,
		UserID:  userID,
		BatchID: batchID,
		Delta:   m.Delta,
		Reason:  journal.Reason(m.Reason),
		At:      m.At,
	}, nil
}

// ==================== Referral model ====================

type referralModel struct {
	grove.BaseModel `grove:"table:tokenledger_referrals"`

	ID             string `grove:"id,pk"`
	ReferrerUserID string `grove:"referrer_user_id"`
	ReferredUserID string `grove:"referred_user_id"`
	IsRewarded     bool   `grove:"is_rewarded"`

	CreatedAt time.Time `grove:"created_at"`
	UpdatedAt time.Time `grove:"updated_at"`
}

func toReferralModel(r *referral.Referral) *referralModel {
	return &referralModel{
		ID:             r.ID.String(),
		ReferrerUserID: r.ReferrerUserID.String(),
		ReferredUserID: r.ReferredUserID.String(),
		IsRewarded:     r.IsRewarded,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func fromReferralModel(m *referralModel) (*referral.Referral, error) {
	referralID, err := id.ParseReferralID(m.ID)
	if err != nil {
		return nil, err
	}
	referrerID, err := id.ParseUserID(m.ReferrerUserID)
	if err != nil {
		return nil, err
	}
	referredID, err := id.ParseUserID(m.ReferredUserID)
	if err != nil {
		return nil, err
	}
	return &referral.Referral{
		Entity:         types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:             referralID,
		ReferrerUserID: referrerID,
		ReferredUserID: referredID,
		IsRewarded:     m.IsRewarded,
	}, nil
}

// ==================== Event log model ====================

type eventLogModel struct {
	grove.BaseModel `grove:"table:tokenledger_events"`

	EventID    string    `grove:"event_id,pk"`
	EventType  string    `grove:"event_type"`
	ReceivedAt time.Time `grove:"received_at"`
}

func toEventLogModel(e idempotency.EventRecord) *eventLogModel {
	return &eventLogModel{EventID: e.EventID, EventType: e.EventType, ReceivedAt: e.ReceivedAt}
}

// ==================== Catalog models ====================

type subscriptionPriceModel struct {
	grove.BaseModel `grove:"table:tokenledger_subscription_prices"`

	PlanKey             string `grove:"plan_key,pk"`
	PlanTier            string `grove:"plan_tier"`
	BillingCycle        string `grove:"billing_cycle"`
	TokensPerCycle      int64  `grove:"tokens_per_cycle"`
	MonthlyRefillTokens *int64 `grove:"monthly_refill_tokens"`
	PriceCents          int64  `grove:"price_cents"`
}

func fromSubscriptionPriceModel(m *subscriptionPriceModel) *catalog.SubscriptionPrice {
	return &catalog.SubscriptionPrice{
		PlanKey:             m.PlanKey,
		PlanTier:            subscription.PlanTier(m.PlanTier),
		BillingCycle:        subscription.BillingCycle(m.BillingCycle),
		TokensPerCycle:      m.TokensPerCycle,
		MonthlyRefillTokens: m.MonthlyRefillTokens,
		PriceCents:          m.PriceCents,
	}
}

type tokenPriceModel struct {
	grove.BaseModel `grove:"table:tokenledger_token_prices"`

	PlanKey    string `grove:"plan_key,pk"`
	Tier       string `grove:"tier,pk"`
	Tokens     int64  `grove:"tokens"`
	PriceCents int64  `grove:"price_cents"`
}

func fromTokenPriceModel(m *tokenPriceModel) *catalog.TokenPrice {
	return &catalog.TokenPrice{PlanKey: m.PlanKey, Tier: m.Tier, Tokens: m.Tokens, PriceCents: m.PriceCents}
}
