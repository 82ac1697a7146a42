// Package sqldb implements storage.Store on database/sql through sqlx.
// SQLite (modernc.org/sqlite) and PostgreSQL (lib/pq) are supported.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/tjfontaine/carelog/internal/domain"
	"github.com/tjfontaine/carelog/internal/storage"
	"github.com/tjfontaine/carelog/internal/storage/dialect"
)

// Store is a SQL implementation of storage.Store that supports multiple
// database dialects.
type Store struct {
	*queries
	db *sqlx.DB
}

var _ storage.Store = (*Store)(nil)

// Config holds database connection configuration
type Config struct {
	Driver string // Driver name: sqlite, postgres
	DSN    string // Data source name / connection string
}

// New opens the database and creates the schema if needed.
func New(cfg Config) (*Store, error) {
	d, err := dialect.FromDriverName(cfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("unsupported database driver: %w", err)
	}

	db, err := sqlx.Open(d.DriverName(), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if n := d.MaxOpenConns(); n > 0 {
		db.SetMaxOpenConns(n)
	}

	// Run dialect-specific initialization (e.g., PRAGMA for SQLite)
	for _, stmt := range d.PragmaStatements() {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute pragma: %w", err)
		}
	}

	store := &Store{
		queries: &queries{ext: db, dialect: d},
		db:      db,
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// NewSQLite creates a SQLite store at dbPath.
func NewSQLite(dbPath string) (*Store, error) {
	return New(Config{Driver: "sqlite", DSN: dbPath})
}

// DB returns the underlying sqlx.DB for advanced operations
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Dialect returns the dialect being used
func (s *Store) Dialect() dialect.Dialect {
	return s.dialect
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RunInTx runs fn inside a transaction. Every query fn issues must go
// through the Queries it is given; with SQLite the transaction holds the
// only connection.
func (s *Store) RunInTx(ctx context.Context, fn func(q storage.Queries) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&queries{ext: tx, dialect: s.dialect}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) initSchema() error {
	d := s.dialect
	ts := d.TimestampType()
	bigint := d.BigIntType()

	statements := []string{
		`CREATE TABLE IF NOT EXISTS wallets (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL UNIQUE,
	balance ` + bigint + ` NOT NULL DEFAULT 0 CHECK (balance >= 0),
	created_at ` + ts + ` NOT NULL,
	updated_at ` + ts + ` NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS credit_transactions (
	seq ` + d.SerialKeyClause() + `,
	id TEXT NOT NULL UNIQUE,
	wallet_id TEXT NOT NULL REFERENCES wallets(id),
	amount ` + bigint + ` NOT NULL,
	type TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	reference_id TEXT,
	created_at ` + ts + ` NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS subscriptions (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL UNIQUE,
	subscription_id TEXT NOT NULL UNIQUE,
	status TEXT NOT NULL,
	plan_id TEXT NOT NULL,
	current_period_start ` + ts + ` NOT NULL,
	current_period_end ` + ts + ` NOT NULL,
	cancelled_at ` + ts + `,
	created_at ` + ts + ` NOT NULL,
	updated_at ` + ts + ` NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS payment_events (
	id TEXT PRIMARY KEY,
	event_type TEXT NOT NULL,
	reference TEXT NOT NULL DEFAULT '',
	user_id TEXT NOT NULL DEFAULT '',
	outcome TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	payload TEXT NOT NULL DEFAULT '',
	received_at ` + ts + ` NOT NULL
)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_credit_transactions_reference ON credit_transactions(reference_id)`,
		`CREATE INDEX IF NOT EXISTS idx_credit_transactions_wallet ON credit_transactions(wallet_id, seq)`,
		`CREATE INDEX IF NOT EXISTS idx_payment_events_reference ON payment_events(reference)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// queries implements storage.Queries on either the pool or a transaction.
type queries struct {
	ext     sqlx.ExtContext
	dialect dialect.Dialect
}

func (q *queries) InsertWalletIfAbsent(ctx context.Context, w *domain.Wallet) (bool, error) {
	query := q.dialect.Rebind(`INSERT INTO wallets (id, user_id, balance, created_at, updated_at)
	          VALUES (?, ?, ?, ?, ?) ` + q.dialect.UpsertClause("user_id", nil))

	res, err := q.ext.ExecContext(ctx, query, w.ID, w.UserID, w.Balance, w.CreatedAt.UTC(), w.UpdatedAt.UTC())
	if err != nil {
		return false, fmt.Errorf("failed to insert wallet: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to insert wallet: %w", err)
	}
	return n == 1, nil
}

func (q *queries) GetWalletByUser(ctx context.Context, userID string) (*domain.Wallet, error) {
	query := q.dialect.Rebind(`SELECT id, user_id, balance, created_at, updated_at
	          FROM wallets WHERE user_id = ?`)

	var w domain.Wallet
	err := sqlx.GetContext(ctx, q.ext, &w, query, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrWalletNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return &w, nil
}

func (q *queries) DebitBalance(ctx context.Context, userID string, amount int64, at time.Time) (int64, bool, error) {
	query := q.dialect.Rebind(`UPDATE wallets SET balance = balance - ?, updated_at = ?
	          WHERE user_id = ? AND balance >= ?
	          RETURNING balance`)

	var balance int64
	err := sqlx.GetContext(ctx, q.ext, &balance, query, amount, at.UTC(), userID, amount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to debit wallet: %w", err)
	}
	return balance, true, nil
}

func (q *queries) CreditBalance(ctx context.Context, userID string, amount int64, at time.Time) (int64, error) {
	query := q.dialect.Rebind(`UPDATE wallets SET balance = balance + ?, updated_at = ?
	          WHERE user_id = ?
	          RETURNING balance`)

	var balance int64
	err := sqlx.GetContext(ctx, q.ext, &balance, query, amount, at.UTC(), userID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.ErrWalletNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to credit wallet: %w", err)
	}
	return balance, nil
}

func (q *queries) InsertTransaction(ctx context.Context, txn *domain.Transaction) (bool, error) {
	query := q.dialect.Rebind(`INSERT INTO credit_transactions
	          (id, wallet_id, amount, type, description, reference_id, created_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?) ` + q.dialect.UpsertClause("reference_id", nil))

	res, err := q.ext.ExecContext(ctx, query,
		txn.ID, txn.WalletID, txn.Amount, string(txn.Type), txn.Description, txn.ReferenceID, txn.CreatedAt.UTC())
	if err != nil {
		return false, fmt.Errorf("failed to insert transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to insert transaction: %w", err)
	}
	return n == 1, nil
}

func (q *queries) ListTransactions(ctx context.Context, walletID string, limit int) ([]domain.Transaction, error) {
	query := q.dialect.Rebind(`SELECT id, wallet_id, amount, type, description, reference_id, created_at
	          FROM credit_transactions WHERE wallet_id = ?
	          ORDER BY seq DESC LIMIT ?`)

	txns := []domain.Transaction{}
	if err := sqlx.SelectContext(ctx, q.ext, &txns, query, walletID, limit); err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return txns, nil
}

func (q *queries) SumTransactions(ctx context.Context, walletID string) (int64, error) {
	query := q.dialect.Rebind(`SELECT COALESCE(SUM(amount), 0) FROM credit_transactions WHERE wallet_id = ?`)

	var sum int64
	if err := sqlx.GetContext(ctx, q.ext, &sum, query, walletID); err != nil {
		return 0, fmt.Errorf("failed to sum transactions: %w", err)
	}
	return sum, nil
}

const subscriptionColumns = `id, user_id, subscription_id, status, plan_id,
	current_period_start, current_period_end, cancelled_at, created_at, updated_at`

func (q *queries) GetSubscriptionByUser(ctx context.Context, userID string) (*domain.Subscription, error) {
	return q.getSubscription(ctx, "user_id", userID)
}

func (q *queries) GetSubscriptionByExternalID(ctx context.Context, subscriptionID string) (*domain.Subscription, error) {
	return q.getSubscription(ctx, "subscription_id", subscriptionID)
}

func (q *queries) getSubscription(ctx context.Context, column, value string) (*domain.Subscription, error) {
	query := q.dialect.Rebind(`SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE ` + column + ` = ?`)

	var sub domain.Subscription
	err := sqlx.GetContext(ctx, q.ext, &sub, query, value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return &sub, nil
}

func (q *queries) UpsertSubscription(ctx context.Context, sub *domain.Subscription) error {
	query := q.dialect.Rebind(`INSERT INTO subscriptions (` + subscriptionColumns + `)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?) ` +
		q.dialect.UpsertClause("user_id", []string{
			"subscription_id", "status", "plan_id",
			"current_period_start", "current_period_end", "cancelled_at", "updated_at",
		}))

	var cancelledAt *time.Time
	if sub.CancelledAt != nil {
		t := sub.CancelledAt.UTC()
		cancelledAt = &t
	}

	_, err := q.ext.ExecContext(ctx, query,
		sub.ID, sub.UserID, sub.SubscriptionID, string(sub.Status), sub.PlanID,
		sub.CurrentPeriodStart.UTC(), sub.CurrentPeriodEnd.UTC(), cancelledAt,
		sub.CreatedAt.UTC(), sub.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return nil
}

func (q *queries) InsertPaymentEvent(ctx context.Context, ev *domain.PaymentEvent) error {
	query := q.dialect.Rebind(`INSERT INTO payment_events
	          (id, event_type, reference, user_id, outcome, detail, payload, received_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := q.ext.ExecContext(ctx, query,
		ev.ID, ev.EventType, ev.Reference, ev.UserID, ev.Outcome, ev.Detail, ev.Payload, ev.ReceivedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert payment event: %w", err)
	}
	return nil
}

func (q *queries) ListPaymentEvents(ctx context.Context, limit int) ([]domain.PaymentEvent, error) {
	query := q.dialect.Rebind(`SELECT id, event_type, reference, user_id, outcome, detail, payload, received_at
	          FROM payment_events ORDER BY id DESC LIMIT ?`)

	events := []domain.PaymentEvent{}
	if err := sqlx.SelectContext(ctx, q.ext, &events, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list payment events: %w", err)
	}
	return events, nil
}
