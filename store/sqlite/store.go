package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
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

// Store implements store.Store using SQLite via Grove ORM.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
	mu  sync.Mutex
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{db: db, sdb: sqlitedriver.Unwrap(db)}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("tokenledger/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("tokenledger/sqlite: migration failed: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return s.db.Ping(ctx) }
func (s *Store) Close() error                   { return s.db.Close() }

// ==================== User methods ====================

func (s *Store) UpsertUserByExternalID(ctx context.Context, externalID, email string) (*user.User, error) {
	m := new(userModel)
	err := s.sdb.NewSelect(m).Where("external_id = ?", externalID).Scan(ctx)
	if err == nil {
		return fromUserModel(m)
	}
	if !isNoRows(err) {
		return nil, err
	}

	u := user.New(externalID, email)
	if _, err := s.sdb.NewInsert(toUserModel(u)).Exec(ctx); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, userID id.UserID) (*user.User, error) {
	m := new(userModel)
	if err := s.sdb.NewSelect(m).Where("id = ?", userID.String()).Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, ledgerstore.ErrUserNotFound
		}
		return nil, err
	}
	return fromUserModel(m)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*user.User, error) {
	m := new(userModel)
	if err := s.sdb.NewSelect(m).Where("email = ?", email).Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, ledgerstore.ErrUserNotFound
		}
		return nil, err
	}
	return fromUserModel(m)
}

func (s *Store) GetUserByPGCustomerID(ctx context.Context, pgCustomerID string) (*user.User, error) {
	m := new(userModel)
	if err := s.sdb.NewSelect(m).Where("pg_customer_id = ?", pgCustomerID).Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, ledgerstore.ErrUserNotFound
		}
		return nil, err
	}
	return fromUserModel(m)
}

func (s *Store) BindPGCustomer(ctx context.Context, userID id.UserID, pgCustomerID string) error {
	m := &userModel{ID: userID.String(), PGCustomerID: pgCustomerID, UpdatedAt: now()}
	res, err := s.sdb.NewUpdate(m).Column("pg_customer_id", "updated_at").WherePK().Exec(ctx)
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
	res, err := s.sdb.NewUpdate(m).WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, ledgerstore.ErrUserNotFound)
}

// ==================== Subscription methods ====================

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	_, err := s.sdb.NewInsert(toSubscriptionModel(sub)).Exec(ctx)
	return err
}

func (s *Store) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	if err := s.sdb.NewSelect(m).Where("id = ?", subID.String()).Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, ledgerstore.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return fromSubscriptionModel(m)
}

func (s *Store) GetSubscriptionByPGID(ctx context.Context, pgSubscriptionID string) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	if err := s.sdb.NewSelect(m).Where("pg_subscription_id = ?", pgSubscriptionID).Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, ledgerstore.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return fromSubscriptionModel(m)
}

func (s *Store) GetActiveSubscription(ctx context.Context, userID id.UserID) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	err := s.sdb.NewSelect(m).
		Where("user_id = ?", userID.String()).
		Where("is_active = ?", true).
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
	q := s.sdb.NewSelect(&models).Where("user_id = ?", userID.String())
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
	res, err := s.sdb.NewUpdate(toSubscriptionModel(sub)).WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, ledgerstore.ErrSubscriptionNotFound)
}

func (s *Store) SubscriptionsDueForPeriodEnd(ctx context.Context, asOf time.Time, cursor subscription.ListCursor) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	q := s.sdb.NewSelect(&models).
		Where("is_active = ?", true).
		Where("current_period_end < ?", asOf).
		OrderExpr("id ASC")
	if !cursor.After.IsNil() {
		q = q.Where("id > ?", cursor.After.String())
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
	q := s.sdb.NewSelect(&models).
		Where("is_active = ?", true).
		OrderExpr("id ASC")
	if !cursor.After.IsNil() {
		q = q.Where("id > ?", cursor.After.String())
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
	q := s.sdb.NewSelect(&models).
		Where("is_active = ?", true).
		Where("billing_cycle = ?", string(subscription.CycleYearly)).
		OrderExpr("id ASC")
	if !cursor.After.IsNil() {
		q = q.Where("id > ?", cursor.After.String())
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
	if err := s.sdb.NewSelect(m).Where("id = ?", purchaseID.String()).Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, ledgerstore.ErrPurchaseNotFound
		}
		return nil, err
	}
	return fromPurchaseModel(m)
}

func (s *Store) GetPurchaseByPGID(ctx context.Context, pgPurchaseID string) (*purchase.Purchase, error) {
	m := new(purchaseModel)
	if err := s.sdb.NewSelect(m).Where("pg_purchase_id = ?", pgPurchaseID).Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, ledgerstore.ErrPurchaseNotFound
		}
		return nil, err
	}
	return fromPurchaseModel(m)
}

func (s *Store) ListPurchases(ctx context.Context, userID id.UserID, opts purchase.ListOpts) ([]*purchase.Purchase, error) {
	var models []purchaseModel
	q := s.sdb.NewSelect(&models).Where("user_id = ?", userID.String()).OrderExpr("created_at ASC")
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
	if err := s.sdb.NewSelect(m).Where("id = ?", batchID.String()).Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, ledgerstore.ErrBatchNotFound
		}
		return nil, err
	}
	return fromBatchModel(m)
}

func (s *Store) ListActiveBatches(ctx context.Context, userID id.UserID, now time.Time) ([]*batch.Batch, error) {
	var models []batchModel
	err := s.sdb.NewSelect(&models).
		Where("user_id = ?", userID.String()).
		Where("is_active = ?", true).
		Where("expires_at > ?", now).
		OrderExpr("expires_at ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return batchesFromModels(models)
}

func (s *Store) ListBatches(ctx context.Context, userID id.UserID, opts batch.ListOpts) ([]*batch.Batch, error) {
	var models []batchModel
	q := s.sdb.NewSelect(&models).Where("user_id = ?", userID.String())
	if opts.Source != "" {
		q = q.Where("source = ?", string(opts.Source))
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
	q := s.sdb.NewSelect(&models).
		Where("is_active = ?", true).
		Where("expires_at <= ?", asOf).
		OrderExpr("id ASC")
	if !cursor.After.IsNil() {
		q = q.Where("id > ?", cursor.After.String())
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
	q := s.sdb.NewSelect(&models).Where("user_id = ?", userID.String()).OrderExpr("at ASC")
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
	if err := s.sdb.NewSelect(&models).Where("batch_id = ?", batchID.String()).OrderExpr("at ASC").Scan(ctx); err != nil {
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
	_, err := s.sdb.NewInsert(toReferralModel(r)).Exec(ctx)
	return err
}

func (s *Store) GetReferralByReferredUser(ctx context.Context, referredUserID id.UserID) (*referral.Referral, error) {
	m := new(referralModel)
	if err := s.sdb.NewSelect(m).Where("referred_user_id = ?", referredUserID.String()).Scan(ctx); err != nil {
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
	if err := s.sdb.NewSelect(m).Where("plan_key = ?", planKey).Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, catalog.ErrNotFound
		}
		return nil, err
	}
	return fromSubscriptionPriceModel(m), nil
}

func (s *Store) GetTokenPrice(ctx context.Context, planKey, tier string) (*catalog.TokenPrice, error) {
	m := new(tokenPriceModel)
	err := s.sdb.NewSelect(m).
		Where("plan_key = ?", planKey).
		Where("tier = ?", tier).
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
	if err := s.sdb.NewSelect(&models).Scan(ctx); err != nil {
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
	if err := s.sdb.NewSelect(&models).Scan(ctx); err != nil {
		return nil, err
	}
	result := make([]*catalog.TokenPrice, len(models))
	for i := range models {
		result[i] = fromTokenPriceModel(&models[i])
	}
	return result, nil
}

// ==================== Transactions ====================

// RunInTx opens a SQLite transaction through Grove and runs fn against it.
// SQLite serializes writers at the database-file level, so this also holds
// a process-local mutex for the transaction's duration: two goroutines
// each opening a SQLite BEGIN IMMEDIATE would otherwise just retry-loop
// against SQLITE_BUSY instead of getting the queued semantics a real
// row lock would give the postgres store.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx ledgerstore.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stx, err := s.sdb.BeginTxQuery(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(ctx, &sqliteTx{tx: stx}); err != nil {
		_ = stx.Rollback()
		return err
	}
	return stx.Commit()
}

// sqliteTx implements store.Tx over a live Grove/SQLite transaction. It
// never needs SELECT ... FOR UPDATE: RunInTx's mutex already keeps only
// one transaction open against this Store at a time.
type sqliteTx struct {
	tx *sqlitedriver.SqliteTx
}

func (t *sqliteTx) Record(ctx context.Context, eventID, eventType string, receivedAt time.Time) (bool, error) {
	m := &eventLogModel{EventID: eventID, EventType: eventType, ReceivedAt: receivedAt}
	_, err := t.tx.NewInsert(m).OnConflict("(event_id) DO NOTHING").Exec(ctx)
	if err != nil {
		return false, err
	}
	var check eventLogModel
	if err := t.tx.NewSelect(&check).Where("event_id = ?", eventID).Where("received_at = ?", receivedAt).Scan(ctx); err != nil {
		if isNoRows(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (t *sqliteTx) UpsertUserByExternalID(ctx context.Context, externalID, email string) (*user.User, error) {
	m := new(userModel)
	err := t.tx.NewSelect(m).Where("external_id = ?", externalID).Scan(ctx)
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

func (t *sqliteTx) GetUserForUpdate(ctx context.Context, userID id.UserID) (*user.User, error) {
	m := new(userModel)
	if err := t.tx.NewSelect(m).Where("id = ?", userID.String()).Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, ledgerstore.ErrUserNotFound
		}
		return nil, err
	}
	return fromUserModel(m)
}

func (t *sqliteTx) GetUserByPGCustomerIDForUpdate(ctx context.Context, pgCustomerID string) (*user.User, error) {
	m := new(userModel)
	err := t.tx.NewSelect(m).Where("pg_customer_id = ?", pgCustomerID).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, ledgerstore.ErrUserNotFound
		}
		return nil, err
	}
	return fromUserModel(m)
}

func (t *sqliteTx) GetUserByEmailForUpdate(ctx context.Context, email string) (*user.User, error) {
	m := new(userModel)
	if err := t.tx.NewSelect(m).Where("email = ?", email).Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, ledgerstore.ErrUserNotFound
		}
		return nil, err
	}
	return fromUserModel(m)
}

func (t *sqliteTx) BindPGCustomer(ctx context.Context, userID id.UserID, pgCustomerID string) error {
	m := &userModel{ID: userID.String(), PGCustomerID: pgCustomerID, UpdatedAt: now()}
	res, err := t.tx.NewUpdate(m).Column("pg_customer_id", "updated_at").WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, ledgerstore.ErrUserNotFound)
}

func (t *sqliteTx) UpdateUserFlags(ctx context.Context, userID id.UserID, hasActiveSubscription, hasPaymentIssue *bool) error {
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

func (t *sqliteTx) UpsertSubscriptionByPGID(ctx context.Context, sub *subscription.Subscription) (bool, error) {
	var others []subscriptionModel
	err := t.tx.NewSelect(&others).
		Where("user_id = ?", sub.UserID.String()).
		Where("is_active = ?", true).
		Where("pg_subscription_id != ?", sub.PGSubscriptionID).
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
	err = t.tx.NewSelect(existing).Where("pg_subscription_id = ?", sub.PGSubscriptionID).Scan(ctx)
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

func (t *sqliteTx) GetSubscriptionForUpdate(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	if err := t.tx.NewSelect(m).Where("id = ?", subID.String()).Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, ledgerstore.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return fromSubscriptionModel(m)
}

func (t *sqliteTx) GetSubscriptionByPGIDForUpdate(ctx context.Context, pgSubscriptionID string) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	err := t.tx.NewSelect(m).Where("pg_subscription_id = ?", pgSubscriptionID).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, ledgerstore.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return fromSubscriptionModel(m)
}

func (t *sqliteTx) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	sub.Touch()
	res, err := t.tx.NewUpdate(toSubscriptionModel(sub)).WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, ledgerstore.ErrSubscriptionNotFound)
}

func (t *sqliteTx) DeactivateSubscription(ctx context.Context, subID id.SubscriptionID) error {
	sub, err := t.GetSubscriptionForUpdate(ctx, subID)
	if err != nil {
		return err
	}
	sub.MarkEnded()
	return t.UpdateSubscription(ctx, sub)
}

func (t *sqliteTx) InsertPurchase(ctx context.Context, p *purchase.Purchase) error {
	_, err := t.tx.NewInsert(toPurchaseModel(p)).Exec(ctx)
	return err
}

func (t *sqliteTx) GetPurchaseByPGID(ctx context.Context, pgPurchaseID string) (*purchase.Purchase, error) {
	m := new(purchaseModel)
	if err := t.tx.NewSelect(m).Where("pg_purchase_id = ?", pgPurchaseID).Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, ledgerstore.ErrPurchaseNotFound
		}
		return nil, err
	}
	return fromPurchaseModel(m)
}

func (t *sqliteTx) InsertBatch(ctx context.Context, b *batch.Batch) (*batch.Batch, error) {
	if b.InvoiceID != "" {
		existing := new(batchModel)
		err := t.tx.NewSelect(existing).Where("invoice_id = ?", b.InvoiceID).Scan(ctx)
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

func (t *sqliteTx) LockActiveBatchesFIFO(ctx context.Context, userID id.UserID, now time.Time) ([]*batch.Batch, error) {
	var models []batchModel
	err := t.tx.NewSelect(&models).
		Where("user_id = ?", userID.String()).
		Where("is_active = ?", true).
		Where("expires_at > ?", now).
		OrderExpr("expires_at ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return batchesFromModels(models)
}

func (t *sqliteTx) UpdateBatchConsumed(ctx context.Context, batchID id.BatchID, consumed int64) error {
	m := &batchModel{ID: batchID.String(), Consumed: consumed, UpdatedAt: now()}
	res, err := t.tx.NewUpdate(m).Column("consumed", "updated_at").WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, ledgerstore.ErrBatchNotFound)
}

func (t *sqliteTx) DeactivateBatch(ctx context.Context, batchID id.BatchID) error {
	m := &batchModel{ID: batchID.String(), IsActive: false, UpdatedAt: now()}
	res, err := t.tx.NewUpdate(m).Column("is_active", "updated_at").WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, ledgerstore.ErrBatchNotFound)
}

func (t *sqliteTx) AppendTokenEvent(ctx context.Context, e *journal.Entry) error {
	_, err := t.tx.NewInsert(toJournalModel(e)).Exec(ctx)
	return err
}

func (t *sqliteTx) GetReferralByReferredUserForUpdate(ctx context.Context, referredUserID id.UserID) (*referral.Referral, error) {
	m := new(referralModel)
	err := t.tx.NewSelect(m).Where("referred_user_id = ?", referredUserID.String()).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, ledgerstore.ErrReferralNotFound
		}
		return nil, err
	}
	return fromReferralModel(m)
}

func (t *sqliteTx) CreateReferral(ctx context.Context, r *referral.Referral) error {
	_, err := t.tx.NewInsert(toReferralModel(r)).Exec(ctx)
	return err
}

func (t *sqliteTx) MarkReferralRewarded(ctx context.Context, referralID id.ReferralID) error {
	m := &referralModel{ID: referralID.String(), IsRewarded: true, UpdatedAt: now()}
	res, err := t.tx.NewUpdate(m).Column("is_rewarded", "updated_at").WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, ledgerstore.ErrReferralNotFound)
}

func (t *sqliteTx) GetSubscriptionPrice(ctx context.Context, planKey string) (*catalog.SubscriptionPrice, error) {
	m := new(subscriptionPriceModel)
	if err := t.tx.NewSelect(m).Where("plan_key = ?", planKey).Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, catalog.ErrNotFound
		}
		return nil, err
	}
	return fromSubscriptionPriceModel(m), nil
}

func (t *sqliteTx) GetTokenPrice(ctx context.Context, planKey, tier string) (*catalog.TokenPrice, error) {
	m := new(tokenPriceModel)
	err := t.tx.NewSelect(m).Where("plan_key = ?", planKey).Where("tier = ?", tier).Scan(ctx)
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
