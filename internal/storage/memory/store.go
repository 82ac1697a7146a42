// Package memory implements storage.Store in process memory. It is meant
// for tests and the CLI's dry-run paths; nothing survives a restart.
package memory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/tjfontaine/carelog/internal/domain"
	"github.com/tjfontaine/carelog/internal/storage"
)

// Store is an in-memory implementation of storage.Store. A single mutex
// serializes all access, which gives transactions the same isolation the
// SQLite store has.
type Store struct {
	mu   sync.Mutex
	data *state
}

var _ storage.Store = (*Store)(nil)

// Errors mirroring the constraints the SQL schema enforces.
var (
	ErrBalanceOverflow       = errors.New("memory: wallet balance overflow")
	ErrDuplicateSubscription = errors.New("memory: subscription_id already held by another user")
)

// New creates a new in-memory store
func New() *Store {
	return &Store{data: newState()}
}

type state struct {
	wallets       map[string]domain.Wallet // by user id
	transactions  []domain.Transaction
	references    map[string]bool
	subscriptions map[string]domain.Subscription // by user id
	events        []domain.PaymentEvent
}

func newState() *state {
	return &state{
		wallets:       make(map[string]domain.Wallet),
		references:    make(map[string]bool),
		subscriptions: make(map[string]domain.Subscription),
	}
}

func (st *state) clone() *state {
	c := newState()
	for k, v := range st.wallets {
		c.wallets[k] = v
	}
	for k, v := range st.references {
		c.references[k] = v
	}
	for k, v := range st.subscriptions {
		c.subscriptions[k] = v
	}
	c.transactions = append(c.transactions, st.transactions...)
	c.events = append(c.events, st.events...)
	return c
}

// RunInTx runs fn against a copy of the data and swaps it in on success.
func (s *Store) RunInTx(ctx context.Context, fn func(q storage.Queries) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.data.clone()
	if err := fn(work); err != nil {
		return err
	}
	s.data = work
	return nil
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) InsertWalletIfAbsent(ctx context.Context, w *domain.Wallet) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.InsertWalletIfAbsent(ctx, w)
}

func (s *Store) GetWalletByUser(ctx context.Context, userID string) (*domain.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.GetWalletByUser(ctx, userID)
}

func (s *Store) DebitBalance(ctx context.Context, userID string, amount int64, at time.Time) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.DebitBalance(ctx, userID, amount, at)
}

func (s *Store) CreditBalance(ctx context.Context, userID string, amount int64, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.CreditBalance(ctx, userID, amount, at)
}

func (s *Store) InsertTransaction(ctx context.Context, txn *domain.Transaction) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.InsertTransaction(ctx, txn)
}

func (s *Store) ListTransactions(ctx context.Context, walletID string, limit int) ([]domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.ListTransactions(ctx, walletID, limit)
}

func (s *Store) SumTransactions(ctx context.Context, walletID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.SumTransactions(ctx, walletID)
}

func (s *Store) GetSubscriptionByUser(ctx context.Context, userID string) (*domain.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.GetSubscriptionByUser(ctx, userID)
}

func (s *Store) GetSubscriptionByExternalID(ctx context.Context, subscriptionID string) (*domain.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.GetSubscriptionByExternalID(ctx, subscriptionID)
}

func (s *Store) UpsertSubscription(ctx context.Context, sub *domain.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.UpsertSubscription(ctx, sub)
}

func (s *Store) InsertPaymentEvent(ctx context.Context, ev *domain.PaymentEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.InsertPaymentEvent(ctx, ev)
}

func (s *Store) ListPaymentEvents(ctx context.Context, limit int) ([]domain.PaymentEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.ListPaymentEvents(ctx, limit)
}

// state implements storage.Queries without locking; callers hold Store.mu.

func (st *state) InsertWalletIfAbsent(_ context.Context, w *domain.Wallet) (bool, error) {
	if _, exists := st.wallets[w.UserID]; exists {
		return false, nil
	}
	st.wallets[w.UserID] = *w
	return true, nil
}

func (st *state) GetWalletByUser(_ context.Context, userID string) (*domain.Wallet, error) {
	w, ok := st.wallets[userID]
	if !ok {
		return nil, domain.ErrWalletNotFound
	}
	return &w, nil
}

func (st *state) DebitBalance(_ context.Context, userID string, amount int64, at time.Time) (int64, bool, error) {
	w, ok := st.wallets[userID]
	if !ok || w.Balance < amount {
		return 0, false, nil
	}
	w.Balance -= amount
	w.UpdatedAt = at
	st.wallets[userID] = w
	return w.Balance, true, nil
}

func (st *state) CreditBalance(_ context.Context, userID string, amount int64, at time.Time) (int64, error) {
	w, ok := st.wallets[userID]
	if !ok {
		return 0, domain.ErrWalletNotFound
	}
	if amount > 0 && w.Balance > math.MaxInt64-amount {
		return 0, ErrBalanceOverflow
	}
	w.Balance += amount
	w.UpdatedAt = at
	st.wallets[userID] = w
	return w.Balance, nil
}

func (st *state) InsertTransaction(_ context.Context, txn *domain.Transaction) (bool, error) {
	if txn.ReferenceID != nil {
		if st.references[*txn.ReferenceID] {
			return false, nil
		}
		st.references[*txn.ReferenceID] = true
	}
	st.transactions = append(st.transactions, *txn)
	return true, nil
}

func (st *state) ListTransactions(_ context.Context, walletID string, limit int) ([]domain.Transaction, error) {
	out := []domain.Transaction{}
	for i := len(st.transactions) - 1; i >= 0 && len(out) < limit; i-- {
		if st.transactions[i].WalletID == walletID {
			out = append(out, st.transactions[i])
		}
	}
	return out, nil
}

func (st *state) SumTransactions(_ context.Context, walletID string) (int64, error) {
	var sum int64
	for _, t := range st.transactions {
		if t.WalletID == walletID {
			sum += t.Amount
		}
	}
	return sum, nil
}

func (st *state) GetSubscriptionByUser(_ context.Context, userID string) (*domain.Subscription, error) {
	sub, ok := st.subscriptions[userID]
	if !ok {
		return nil, domain.ErrSubscriptionNotFound
	}
	return &sub, nil
}

func (st *state) GetSubscriptionByExternalID(_ context.Context, subscriptionID string) (*domain.Subscription, error) {
	for _, sub := range st.subscriptions {
		if sub.SubscriptionID == subscriptionID {
			return &sub, nil
		}
	}
	return nil, domain.ErrSubscriptionNotFound
}

func (st *state) UpsertSubscription(_ context.Context, sub *domain.Subscription) error {
	for userID, held := range st.subscriptions {
		if userID != sub.UserID && held.SubscriptionID == sub.SubscriptionID {
			return fmt.Errorf("%w: %s", ErrDuplicateSubscription, sub.SubscriptionID)
		}
	}
	next := *sub
	if existing, ok := st.subscriptions[sub.UserID]; ok {
		next.ID = existing.ID
		next.CreatedAt = existing.CreatedAt
	}
	st.subscriptions[sub.UserID] = next
	return nil
}

func (st *state) InsertPaymentEvent(_ context.Context, ev *domain.PaymentEvent) error {
	st.events = append(st.events, *ev)
	return nil
}

func (st *state) ListPaymentEvents(_ context.Context, limit int) ([]domain.PaymentEvent, error) {
	out := append([]domain.PaymentEvent(nil), st.events...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
