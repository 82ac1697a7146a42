// Package storage defines the persistence contract for wallets, ledger
// transactions, subscriptions and the payment event log.
package storage

import (
	"context"
	"time"

	"github.com/tjfontaine/carelog/internal/domain"
)

// Queries are the primitive reads and writes that the ledger and the
// reconciler compose into atomic operations. A Store runs them against
// its pool; the Queries passed to RunInTx run them inside one
// transaction.
type Queries interface {
	// InsertWalletIfAbsent inserts w unless the user already has a wallet.
	// It reports whether a row was inserted.
	InsertWalletIfAbsent(ctx context.Context, w *domain.Wallet) (bool, error)

	// GetWalletByUser returns domain.ErrWalletNotFound if the user has none.
	GetWalletByUser(ctx context.Context, userID string) (*domain.Wallet, error)

	// DebitBalance subtracts amount only if the balance covers it. ok is
	// false, with no change, when it does not.
	DebitBalance(ctx context.Context, userID string, amount int64, at time.Time) (newBalance int64, ok bool, err error)

	// CreditBalance adds amount and returns the new balance.
	CreditBalance(ctx context.Context, userID string, amount int64, at time.Time) (int64, error)

	// InsertTransaction appends txn. A non-nil ReferenceID that was
	// already used is not an error: inserted is false and nothing changes.
	InsertTransaction(ctx context.Context, txn *domain.Transaction) (inserted bool, err error)

	// ListTransactions returns up to limit entries, newest first.
	ListTransactions(ctx context.Context, walletID string, limit int) ([]domain.Transaction, error)

	// SumTransactions returns the sum of all amounts for the wallet.
	SumTransactions(ctx context.Context, walletID string) (int64, error)

	// GetSubscriptionByUser returns domain.ErrSubscriptionNotFound if absent.
	GetSubscriptionByUser(ctx context.Context, userID string) (*domain.Subscription, error)

	// GetSubscriptionByExternalID looks up by the provider's subscription id.
	GetSubscriptionByExternalID(ctx context.Context, subscriptionID string) (*domain.Subscription, error)

	// UpsertSubscription inserts or replaces the user's subscription. ID
	// and CreatedAt of an existing row are kept.
	UpsertSubscription(ctx context.Context, sub *domain.Subscription) error

	// InsertPaymentEvent appends to the payment event log.
	InsertPaymentEvent(ctx context.Context, ev *domain.PaymentEvent) error

	// ListPaymentEvents returns up to limit events, newest first.
	ListPaymentEvents(ctx context.Context, limit int) ([]domain.PaymentEvent, error)
}

// Store is a Queries backed by a database with transactions.
type Store interface {
	Queries

	// RunInTx runs fn in one transaction, committing if fn returns nil
	// and rolling back otherwise.
	RunInTx(ctx context.Context, fn func(q Queries) error) error

	Close() error
}
