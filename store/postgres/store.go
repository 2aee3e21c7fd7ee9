package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/migrate"

	"github.com/tokenledger/ledger/batch"
	"github.com/tokenledger/ledger/catalog"
	"github.com/tokenledger/ledger/id"
	"github.com/tokenledger/ledger/journal"
	"github.com/tokenledger/ledger/purchase"
	"github.com/tokenledger/ledger/referral"
	ledgerstore "github.com/tokenledger/ledger/store"
	"github.com/tokenledger/ledger/subscription"
	"github.com/tokenledger/ledger/user"
)

var _ ledgerstore.Store = (*Store)(nil)

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{db: db, pg: pgdriver.Unwrap(db)}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("tokenledger/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("tokenledger/postgres: migration failed: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return s.db.Ping(ctx) }
func (s *Store) Close() error                   { return s.db.Close() }

// ==================== User methods ====================

func (s *Store) UpsertUserByExternalID(ctx context.Context, externalID, email string) (*user.User, error) {
	m := new(userModel)
	err := s.pg.NewSelect(m).Where("external_id = $1", externalID).Scan(ctx)
	if err == nil {
		return fromUserModel(m)
	}
	if !isNoRows(err) {
		return nil, err
	}

	u := user.New(externalID, email)
	if _, err := s.pg.NewInsert(toUserModel(u)).Exec(ctx); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, userID id.UserID) (*user.User, error) {
	m := new(userModel)
	if err := s.pg.NewSelect(m).Where("id = $1", userID.String()).Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, ledgerstore.ErrUserNotFound
		}
		return nil, err
	}
	return fromUserModel(m)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*user.User, error) {
	m := new(userModel)
	if err := s.pg.NewSelect(m).Where("email = $1", email).Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, ledgerstore.ErrUserNotFound
		}
		return nil, err
	}
	return fromUserModel(m)
}

func (s *Store) GetUserByPGCustomerID(ctx context.Context, pgCustomerID string) (*user.User, error) {
	m := new(userModel)
	if err := s.pg.NewSelect(m).Where("pg_customer_id = $1", pgCustomerID).Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, ledgerstore.ErrUserNotFound
		}
		return nil, err
	}
	return fromUserModel(m)
}

func (s *Store) BindPGCustomer(ctx context.Context, userID id.UserID, pgCustomerID string) error {
	m := &userModel{ID: userID.String(), PGCustomerID: pgCustomerID, UpdatedAt: now()}
	res, err := s.pg.NewUpdate(m).Column("pg_customer_id", "updated_at").WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, ledgerstore.ErrUserNotFound)
}

func (s *Store) UpdateUserFlags(ctx context.Context, userID id.UserID, hasActiveSubscription, hasPaymentIssue *bool) error {
	u, err := s.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if hasActiveSubscription != nil {
		u.HasActiveSubscription = *hasActiveSubscription
	}
	if hasPaymentIssue != nil {
		u.HasPaymentIssue = *hasPaymentIssue
	}
	u.Touch()
	m := toUserModel(u)
	res, err := s.pg.NewUpdate(m).WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, ledgerstore.ErrUserNotFound)
}

// ==================== Subscription methods ====================

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	_, err := s.pg.NewInsert(toSubscriptionModel(sub)).Exec(ctx)
	return err
}

func (s *Store) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	if err := s.pg.NewSelect(m).Where("id = $1", subID.String()).Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, ledgerstore.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return fromSubscriptionModel(m)
}

func (s *Store) GetSubscriptionByPGID(ctx context.Context, pgSubscriptionID string) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	if err := s.pg.NewSelect(m).Where("pg_subscription_id = $1", pgSubscriptionID).Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, ledgerstore.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return fromSubscriptionModel(m)
}

func (s *Store) GetActiveSubscription(ctx context.Context, userID id.UserID) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	err := s.pg.NewSelect(m).
		Where("user_id = $1", userID.String()).
		Where("is_active = $2", true).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, ledgerstore.ErrNoActiveSubscription
		}
		return nil, err
	}
	return fromSubscriptionModel(m)
}

func (s *Store) ListSubscriptions(ctx context.Context, userID id.UserID, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	q := s.pg.NewSelect(&models).Where("user_id = $1", userID.String())
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at ASC")
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*subscription.Subscription, 0, len(models))
	for i := range models {
		sub, err := fromSubscriptionModel(&models[i])
		if err != nil {
			return nil, err
		}
		if opts.Status != "" && sub.Status() != opts.Status {
			continue
		}
		result = append(result, sub)
	}
	return result, nil
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	sub.Touch()
	res, err := s.pg.NewUpdate(toSubscriptionModel(sub)).WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, ledgerstore.ErrSubscriptionNotFound)
}

func (s *Store) SubscriptionsDueForPeriodEnd(ctx context.Context, asOf time.Time, cursor subscription.ListCursor) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	q := s.pg.NewSelect(&models).
		Where("is_active = $1", true).
		Where("current_period_end < $2", asOf).
		OrderExpr("id ASC")
	if !cursor.After.IsNil() {
		q = q.Where("id > $3", cursor.After.String())
	}
	if cursor.Limit > 0 {
		q = q.Limit(cursor.Limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return subscriptionsFromModels(models)
}

func (s *Store) ListActiveSubscriptions(ctx context.Context, cursor subscription.ListCursor) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	q := s.pg.NewSelect(&models).
		Where("is_active = $1", true).
		OrderExpr("id ASC")
	if !cursor.After.IsNil() {
		q = q.Where("id > $2", cursor.After.String())
	}
	if cursor.Limit > 0 {
		q = q.Limit(cursor.Limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return subscriptionsFromModels(models)
}

func (s *Store) SubscriptionsDueForMonthlyRefill(ctx context.Context, asOf time.Time, cursor subscription.ListCursor) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	q := s.pg.NewSelect(&models).
		Where("is_active = $1", true).
		Where("billing_cycle = $2", string(subscription.CycleYearly)).
		OrderExpr("id ASC")
	if !cursor.After.IsNil() {
		q = q.Where("id > $3", cursor.After.String())
	}
	if cursor.Limit > 0 {
		q = q.Limit(cursor.Limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	subs, err := subscriptionsFromModels(models)
	if err != nil {
		return nil, err
	}
	due := subs[:0]
	for _, sub := range subs {
		if sub.NeedsMonthlyRefill(asOf) {
			due = append(due, sub)
		}
	}
	return due, nil
}

func subscriptionsFromModels(models []subscriptionModel) ([]*subscription.Subscription, error) {
	result := make([]*subscription.Subscription, len(models))
	for i := range models {
		sub, err := fromSubscriptionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = sub
	}
	return result, nil
}

// ==================== Purchase methods ====================

func (s *Store) GetPurchase(ctx context.Context, purchaseID id.PurchaseID) (*purchase.Purchase, error) {
	m := new(purchaseModel)
	if err := s.pg.NewSelect(m).Where("id = $1", purchaseID.String()).Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, ledgerstore.ErrPurchaseNotFound
		}
		return nil, err
	}
	return fromPurchaseModel(m)
}

func (s *Store) GetPurchaseByPGID(ctx context.Context, pgPurchaseID string) (*purchase.Purchase, error) {
	m := new(purchaseModel)
	if err := s.pg.NewSelect(m).Where("pg_purchase_id = $1", pgPurchaseID).Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, ledgerstore.ErrPurchaseNotFound
		}
		return nil, err
	}
	return fromPurchaseModel(m)
}

func (s *Store) ListPurchases(ctx context.Context, userID id.UserID, opts purchase.ListOpts) ([]*purchase.Purchase, error) {
	var models []purchaseModel
	q := s.pg.NewSelect(&models).Where("user_id = $1", userID.String()).OrderExpr("created_at ASC")
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	result := make([]*purchase.Purchase, len(models))
	for i := range models {
		p, err := fromPurchaseModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = p
	}
	return result, nil
}

// ==================== Batch methods ====================

func (s *Store) GetBatch(ctx context.Context, batchID id.BatchID) (*batch.Batch, error) {
	m := new(batchModel)
	if err := s.pg.NewSelect(m).Where("id = $1", batchID.String()).Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, ledgerstore.ErrBatchNotFound
		}
		return nil, err
	}
	return fromBatchModel(m)
}

func (s *Store) ListActiveBatches(ctx context.Context, userID id.UserID, now time.Time) ([]*batch.Batch, error) {
	var models []batchModel
	err := s.pg.NewSelect(&models).
		Where("user_id = $1", userID.String()).
		Where("is_active = $2", true).
		Where("expires_at > $3", now).
		OrderExpr("expires_at ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return batchesFromModels(models)
}

func (s *Store) ListBatches(ctx context.Context, userID id.UserID, opts batch.ListOpts) ([]*batch.Batch, error) {
	var models []batchModel
	q := s.pg.NewSelect(&models).Where("user_id = $1", userID.String())
	if opts.Source != "" {
		q = q.Where("source = $2", string(opts.Source))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at ASC")
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return batchesFromModels(models)
}

func (s *Store) Balance(ctx context.Context, userID id.UserID, now time.Time) (int64, error) {
	batches, err := s.ListActiveBatches(ctx, userID, now)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, b := range batches {
		total += b.Remaining()
	}
	return total, nil
}

func (s *Store) BatchesDueForExpiry(ctx context.Context, asOf time.Time, cursor batch.ListCursor) ([]*batch.Batch, error) {
	var models []batchModel
	q := s.pg.NewSelect(&models).
		Where("is_active = $1", true).
		Where("expires_at <= $2", asOf).
		OrderExpr("id ASC")
	if !cursor.After.IsNil() {
		q = q.Where("id > $3", cursor.After.String())
	}
	if cursor.Limit > 0 {
		q = q.Limit(cursor.Limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return batchesFromModels(models)
}

func batchesFromModels(models []batchModel) ([]*batch.Batch, error) {
	result := make([]*batch.Batch, len(models))
	for i := range models {
		b, err := fromBatchModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = b
	}
	return result, nil
}

// ==================== Journal methods ====================

func (s *Store) ListJournalByUser(ctx context.Context, userID id.UserID, opts journal.ListOpts) ([]*journal.Entry, error) {
	var models []journalModel
	q := s.pg.NewSelect(&models).Where("user_id = $1", userID.String()).OrderExpr("at ASC")
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return journalFromModels(models)
}

func (s *Store) ListJournalByBatch(ctx context.Context, batchID id.BatchID) ([]*journal.Entry, error) {
	var models []journalModel
	if err := s.pg.NewSelect(&models).Where("batch_id = $1", batchID.String()).OrderExpr("at ASC").Scan(ctx); err != nil {
		return nil, err
	}
	return journalFromModels(models)
}

func (s *Store) SumJournalByBatch(ctx context.Context, batchID id.BatchID) (int64, error) {
	entries, err := s.ListJournalByBatch(ctx, batchID)
	if err != nil {
		return 0, err
	}
	var sum int64
	for _, e := range entries {
		sum += e.Delta
	}
	return sum, nil
}

func (s *Store) SumJournalByUser(ctx context.Context, userID id.UserID) (int64, error) {
	entries, err := s.ListJournalByUser(ctx, userID, journal.ListOpts{})
	if err != nil {
		return 0, err
	}
	var sum int64
	for _, e := range entries {
		sum += e.Delta
	}
	return sum, nil
}

func journalFromModels(models []journalModel) ([]*journal.Entry, error) {
	result := make([]*journal.Entry, len(models))
	for i := range models {
		e, err := fromJournalModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = e
	}
	return result, nil
}

// ==================== Referral methods ====================

func (s *Store) CreateReferral(ctx context.Context, r *referral.Referral) error {
	if _, err := s.GetReferralByReferredUser(ctx, r.ReferredUserID); err == nil {
		return ledgerstore.ErrAlreadyExists
	}
	_, err := s.pg.NewInsert(toReferralModel(r)).Exec(ctx)
	return err
}

func (s *Store) GetReferralByReferredUser(ctx context.Context, referredUserID id.UserID) (*referral.Referral, error) {
	m := new(referralModel)
	if err := s.pg.NewSelect(m).Where("referred_user_id = $1", referredUserID.String()).Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, ledgerstore.ErrReferralNotFound
		}
		return nil, err
	}
	return fromReferralModel(m)
}

// ==================== Catalog methods ====================

func (s *Store) GetSubscriptionPrice(ctx context.Context, planKey string) (*catalog.SubscriptionPrice, error) {
	m := new(subscriptionPriceModel)
	if err := s.pg.NewSelect(m).Where("plan_key = $1", planKey).Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, catalog.ErrNotFound
		}
		return nil, err
	}
	return fromSubscriptionPriceModel(m), nil
}

func (s *Store) GetTokenPrice(ctx context.Context, planKey, tier string) (*catalog.TokenPrice, error) {
	m := new(tokenPriceModel)
	err := s.pg.NewSelect(m).
		Where("plan_key = $1", planKey).
		Where("tier = $2", tier).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, catalog.ErrNotFound
		}
		return nil, err
	}
	return fromTokenPriceModel(m), nil
}

func (s *Store) ListSubscriptionPrices(ctx context.Context) ([]*catalog.SubscriptionPrice, error) {
	var models []subscriptionPriceModel
	if err := s.pg.NewSelect(&models).Scan(ctx); err != nil {
		return nil, err
	}
	result := make([]*catalog.SubscriptionPrice, len(models))
	for i := range models {
		result[i] = fromSubscriptionPriceModel(&models[i])
	}
	return result, nil
}

func (s *Store) ListTokenPrices(ctx context.Context) ([]*catalog.TokenPrice, error) {
	var models []tokenPriceModel
	if err := s.pg.NewSelect(&models).Scan(ctx); err != nil {
		return nil, err
	}
	result := make([]*catalog.TokenPrice, len(models))
	for i := range models {
		result[i] = fromTokenPriceModel(&models[i])
	}
	return result, nil
}

// ==================== Transactions ====================

// RunInTx opens a real Postgres transaction through Grove and runs fn
// against it. A returned error rolls the transaction back; the two
// idempotency guards (event log insert, invoice_id unique constraint on
// batch insert) rely on this being a single serializable transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx ledgerstore.Tx) error) error {
	ptx, err := s.pg.BeginTxQuery(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(ctx, &pgTx{tx: ptx}); err != nil {
		_ = ptx.Rollback()
		return err
	}
	return ptx.Commit()
}

// pgTx implements store.Tx over a live Grove/Postgres transaction.
type pgTx struct {
	tx *pgdriver.PgTx
}

func (t *pgTx) Record(ctx context.Context, eventID, eventType string, receivedAt time.Time) (bool, error) {
	m := &eventLogModel{EventID: eventID, EventType: eventType, ReceivedAt: receivedAt}
	_, err := t.tx.NewInsert(m).OnConflict("(event_id) DO NOTHING").Exec(ctx)
	if err != nil {
		return false, err
	}
	var check eventLogModel
	if err := t.tx.NewSelect(&check).Where("event_id = $1", eventID).Where("received_at = $2", receivedAt).Scan(ctx); err != nil {
		if isNoRows(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (t *pgTx) UpsertUserByExternalID(ctx context.Context, externalID, email string) (*user.User, error) {
	m := new(userModel)
	err := t.tx.NewSelect(m).Where("external_id = $1", externalID).ForUpdate().Scan(ctx)
	if err == nil {
		return fromUserModel(m)
	}
	if !isNoRows(err) {
		return nil, err
	}
	u := user.New(externalID, email)
	if _, err := t.tx.NewInsert(toUserModel(u)).Exec(ctx); err != nil {
		return nil, err
	}
	return u, nil
}

func (t *pgTx) GetUserForUpdate(ctx context.Context, userID id.UserID) (*user.User, error) {
	m := new(userModel)
	if err := t.tx.NewSelect(m).Where("id = $1", userID.String()).ForUpdate().Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, ledgerstore.ErrUserNotFound
		}
		return nil, err
	}
	return fromUserModel(m)
}

func (t *pgTx) GetUserByPGCustomerIDForUpdate(ctx context.Context, pgCustomerID string) (*user.User, error) {
	m := new(userModel)
	err := t.tx.NewSelect(m).Where("pg_customer_id = $1", pgCustomerID).ForUpdate().Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, ledgerstore.ErrUserNotFound
		}
		return nil, err
	}
	return fromUserModel(m)
}

func (t *pgTx) GetUserByEmailForUpdate(ctx context.Context, email string) (*user.User, error) {
	m := new(userModel)
	if err := t.tx.NewSelect(m).Where("email = $1", email).ForUpdate().Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, ledgerstore.ErrUserNotFound
		}
		return nil, err
	}
	return fromUserModel(m)
}

func (t *pgTx) BindPGCustomer(ctx context.Context, userID id.UserID, pgCustomerID string) error {
	m := &userModel{ID: userID.String(), PGCustomerID: pgCustomerID, UpdatedAt: now()}
	res, err := t.tx.NewUpdate(m).Column("pg_customer_id", "updated_at").WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, ledgerstore.ErrUserNotFound)
}

func (t *pgTx) UpdateUserFlags(ctx context.Context, userID id.UserID, hasActiveSubscription, hasPaymentIssue *bool) error {
	u, err := t.GetUserForUpdate(ctx, userID)
	if err != nil {
		return err
	}
	if hasActiveSubscription != nil {
		u.HasActiveSubscription = *hasActiveSubscription
	}
	if hasPaymentIssue != nil {
		u.HasPaymentIssue = *hasPaymentIssue
	}
	u.Touch()
	res, err := t.tx.NewUpdate(toUserModel(u)).WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, ledgerstore.ErrUserNotFound)
}

func (t *pgTx) UpsertSubscriptionByPGID(ctx context.Context, sub *subscription.Subscription) (bool, error) {
	var others []subscriptionModel
	err := t.tx.NewSelect(&others).
		Where("user_id = $1", sub.UserID.String()).
		Where("is_active = $2", true).
		Where("pg_subscription_id != $3", sub.PGSubscriptionID).
		ForUpdate().
		Scan(ctx)
	if err != nil {
		return false, err
	}
	for i := range others {
		others[i].IsActive = false
		others[i].UpdatedAt = now()
		if _, err := t.tx.NewUpdate(&others[i]).WherePK().Exec(ctx); err != nil {
			return false, err
		}
	}

	existing := new(subscriptionModel)
	err = t.tx.NewSelect(existing).Where("pg_subscription_id = $1", sub.PGSubscriptionID).ForUpdate().Scan(ctx)
	if err == nil {
		sub.ID, err = id.ParseSubscriptionID(existing.ID)
		if err != nil {
			return false, err
		}
		sub.CreatedAt = existing.CreatedAt
		sub.Touch()
		if _, err := t.tx.NewUpdate(toSubscriptionModel(sub)).WherePK().Exec(ctx); err != nil {
			return false, err
		}
		return false, nil
	}
	if !isNoRows(err) {
		return false, err
	}

	if _, err := t.tx.NewInsert(toSubscriptionModel(sub)).Exec(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (t *pgTx) GetSubscriptionForUpdate(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	if err := t.tx.NewSelect(m).Where("id = $1", subID.String()).ForUpdate().Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, ledgerstore.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return fromSubscriptionModel(m)
}

func (t *pgTx) GetSubscriptionByPGIDForUpdate(ctx context.Context, pgSubscriptionID string) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	err := t.tx.NewSelect(m).Where("pg_subscription_id = $1", pgSubscriptionID).ForUpdate().Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, ledgerstore.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return fromSubscriptionModel(m)
}

func (t *pgTx) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	sub.Touch()
	res, err := t.tx.NewUpdate(toSubscriptionModel(sub)).WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, ledgerstore.ErrSubscriptionNotFound)
}

func (t *pgTx) DeactivateSubscription(ctx context.Context, subID id.SubscriptionID) error {
	sub, err := t.GetSubscriptionForUpdate(ctx, subID)
	if err != nil {
		return err
	}
	sub.MarkEnded()
	return t.UpdateSubscription(ctx, sub)
}

func (t *pgTx) InsertPurchase(ctx context.Context, p *purchase.Purchase) error {
	_, err := t.tx.NewInsert(toPurchaseModel(p)).Exec(ctx)
	return err
}

func (t *pgTx) GetPurchaseByPGID(ctx context.Context, pgPurchaseID string) (*purchase.Purchase, error) {
	m := new(purchaseModel)
	if err := t.tx.NewSelect(m).Where("pg_purchase_id = $1", pgPurchaseID).ForUpdate().Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, ledgerstore.ErrPurchaseNotFound
		}
		return nil, err
	}
	return fromPurchaseModel(m)
}

func (t *pgTx) InsertBatch(ctx context.Context, b *batch.Batch) (*batch.Batch, error) {
	if b.InvoiceID != "" {
		existing := new(batchModel)
		err := t.tx.NewSelect(existing).Where("invoice_id = $1", b.InvoiceID).ForUpdate().Scan(ctx)
		if err == nil {
			ex, convErr := fromBatchModel(existing)
			if convErr != nil {
				return nil, convErr
			}
			return ex, ledgerstore.ErrAlreadyCredited
		}
		if !isNoRows(err) {
			return nil, err
		}
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if _, err := t.tx.NewInsert(toBatchModel(b)).Exec(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

func (t *pgTx) LockActiveBatchesFIFO(ctx context.Context, userID id.UserID, now time.Time) ([]*batch.Batch, error) {
	var models []batchModel
	err := t.tx.NewSelect(&models).
		Where("user_id = $1", userID.String()).
		Where("is_active = $2", true).
		Where("expires_at > $3", now).
		OrderExpr("expires_at ASC, id ASC").
		ForUpdate().
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return batchesFromModels(models)
}

func (t *pgTx) UpdateBatchConsumed(ctx context.Context, batchID id.BatchID, consumed int64) error {
	m := &batchModel{ID: batchID.String(), Consumed: consumed, UpdatedAt: now()}
	res, err := t.tx.NewUpdate(m).Column("consumed", "updated_at").WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, ledgerstore.ErrBatchNotFound)
}

func (t *pgTx) DeactivateBatch(ctx context.Context, batchID id.BatchID) error {
	m := &batchModel{ID: batchID.String(), IsActive: false, UpdatedAt: now()}
	res, err := t.tx.NewUpdate(m).Column("is_active", "updated_at").WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, ledgerstore.ErrBatchNotFound)
}

func (t *pgTx) AppendTokenEvent(ctx context.Context, e *journal.Entry) error {
	_, err := t.tx.NewInsert(toJournalModel(e)).Exec(ctx)
	return err
}

func (t *pgTx) GetReferralByReferredUserForUpdate(ctx context.Context, referredUserID id.UserID) (*referral.Referral, error) {
	m := new(referralModel)
	err := t.tx.NewSelect(m).Where("referred_user_id = $1", referredUserID.String()).ForUpdate().Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, ledgerstore.ErrReferralNotFound
		}
		return nil, err
	}
	return fromReferralModel(m)
}

func (t *pgTx) CreateReferral(ctx context.Context, r *referral.Referral) error {
	_, err := t.tx.NewInsert(toReferralModel(r)).Exec(ctx)
	return err
}

func (t *pgTx) MarkReferralRewarded(ctx context.Context, referralID id.ReferralID) error {
	m := &referralModel{ID: referralID.String(), IsRewarded: true, UpdatedAt: now()}
	res, err := t.tx.NewUpdate(m).Column("is_rewarded", "updated_at").WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, ledgerstore.ErrReferralNotFound)
}

func (t *pgTx) GetSubscriptionPrice(ctx context.Context, planKey string) (*catalog.SubscriptionPrice, error) {
	m := new(subscriptionPriceModel)
	if err := t.tx.NewSelect(m).Where("plan_key = $1", planKey).Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, catalog.ErrNotFound
		}
		return nil, err
	}
	return fromSubscriptionPriceModel(m), nil
}

func (t *pgTx) GetTokenPrice(ctx context.Context, planKey, tier string) (*catalog.TokenPrice, error) {
	m := new(tokenPriceModel)
	err := t.tx.NewSelect(m).Where("plan_key = $1", planKey).Where("tier = $2", tier).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, catalog.ErrNotFound
		}
		return nil, err
	}
	return fromTokenPriceModel(m), nil
}

// ==================== Helpers ====================

func now() time.Time { return time.Now().UTC() }

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func checkRowsAffected(res sql.Result, notFound error) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return notFound
	}
	return nil
}
