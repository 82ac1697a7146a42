package sqldb

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/tjfontaine/carelog/internal/domain"
	"github.com/tjfontaine/carelog/internal/id"
	"github.com/tjfontaine/carelog/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewSQLite(filepath.Join(t.TempDir(), "carelog.db"))
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newWallet(userID string, balance int64) *domain.Wallet {
	now := time.Now()
	return &domain.Wallet{ID: id.NewWalletID(), UserID: userID, Balance: balance, CreatedAt: now, UpdatedAt: now}
}

func ref(s string) *string { return &s }

func TestSQLDBStore_InsertWalletIfAbsent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := newWallet("user-1", 10)
	inserted, err := store.InsertWalletIfAbsent(ctx, first)
	if err != nil || !inserted {
		t.Fatalf("InsertWalletIfAbsent() = %v, %v; want true, nil", inserted, err)
	}

	inserted, err = store.InsertWalletIfAbsent(ctx, newWallet("user-1", 99))
	if err != nil || inserted {
		t.Fatalf("second InsertWalletIfAbsent() = %v, %v; want false, nil", inserted, err)
	}

	got, err := store.GetWalletByUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetWalletByUser() error = %v", err)
	}
	if got.ID != first.ID || got.Balance != 10 {
		t.Errorf("wallet = %+v, want id %s balance 10", got, first.ID)
	}

	if _, err := store.GetWalletByUser(ctx, "nobody"); !errors.Is(err, domain.ErrWalletNotFound) {
		t.Errorf("GetWalletByUser(nobody) error = %v, want ErrWalletNotFound", err)
	}
}

func TestSQLDBStore_DebitCredit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.InsertWalletIfAbsent(ctx, newWallet("user-1", 5)); err != nil {
		t.Fatal(err)
	}

	bal, ok, err := store.DebitBalance(ctx, "user-1", 3, time.Now())
	if err != nil || !ok || bal != 2 {
		t.Fatalf("DebitBalance(3) = %d, %v, %v; want 2, true, nil", bal, ok, err)
	}

	bal, ok, err = store.DebitBalance(ctx, "user-1", 3, time.Now())
	if err != nil || ok {
		t.Fatalf("DebitBalance(3) over balance = %d, %v, %v; want not ok", bal, ok, err)
	}

	bal, err = store.CreditBalance(ctx, "user-1", 50, time.Now())
	if err != nil || bal != 52 {
		t.Fatalf("CreditBalance(50) = %d, %v; want 52", bal, err)
	}

	if _, err := store.CreditBalance(ctx, "nobody", 1, time.Now()); !errors.Is(err, domain.ErrWalletNotFound) {
		t.Errorf("CreditBalance(nobody) error = %v, want ErrWalletNotFound", err)
	}
}

func TestSQLDBStore_Transactions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	w := newWallet("user-1", 0)
	if _, err := store.InsertWalletIfAbsent(ctx, w); err != nil {
		t.Fatal(err)
	}

	entries := []domain.Transaction{
		{Amount: 10, Type: domain.TxSignup, Description: "signup bonus"},
		{Amount: -2, Type: domain.TxUsage, Description: "lab_translation"},
		{Amount: 50, Type: domain.TxPurchase, Description: "try_it_out", ReferenceID: ref("pay_1")},
		{Amount: -1, Type: domain.TxUsage, Description: "health_insight"},
	}
	for i := range entries {
		entries[i].ID = id.NewTransactionID()
		entries[i].WalletID = w.ID
		entries[i].CreatedAt = time.Now()
		inserted, err := store.InsertTransaction(ctx, &entries[i])
		if err != nil || !inserted {
			t.Fatalf("InsertTransaction(%d) = %v, %v", i, inserted, err)
		}
	}

	dup := domain.Transaction{
		ID: id.NewTransactionID(), WalletID: w.ID, Amount: 50, Type: domain.TxPurchase,
		ReferenceID: ref("pay_1"), CreatedAt: time.Now(),
	}
	inserted, err := store.InsertTransaction(ctx, &dup)
	if err != nil || inserted {
		t.Fatalf("duplicate InsertTransaction() = %v, %v; want false, nil", inserted, err)
	}

	got, err := store.ListTransactions(ctx, w.ID, 3)
	if err != nil {
		t.Fatalf("ListTransactions() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	wantOrder := []string{entries[3].ID, entries[2].ID, entries[1].ID}
	for i, txn := range got {
		if txn.ID != wantOrder[i] {
			t.Errorf("got[%d] = %s, want %s", i, txn.ID, wantOrder[i])
		}
	}
	if got[1].ReferenceID == nil || *got[1].ReferenceID != "pay_1" {
		t.Errorf("reference id = %v, want pay_1", got[1].ReferenceID)
	}
	if got[0].Type != domain.TxUsage || got[0].Amount != -1 {
		t.Errorf("newest = %+v, want usage -1", got[0])
	}

	sum, err := store.SumTransactions(ctx, w.ID)
	if err != nil || sum != 57 {
		t.Errorf("SumTransactions() = %d, %v; want 57", sum, err)
	}

	empty, err := store.ListTransactions(ctx, "wal_missing", 10)
	if err != nil || len(empty) != 0 {
		t.Errorf("ListTransactions(missing) = %v, %v; want empty", empty, err)
	}
}

func TestSQLDBStore_UpsertSubscription(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	sub := &domain.Subscription{
		ID:                 id.NewSubscriptionID(),
		UserID:             "user-1",
		SubscriptionID:     "sub_ext_1",
		Status:             domain.SubscriptionActive,
		PlanID:             "care_plus",
		CurrentPeriodStart: start,
		CurrentPeriodEnd:   start.AddDate(0, 1, 0),
		CreatedAt:          start,
		UpdatedAt:          start,
	}
	if err := store.UpsertSubscription(ctx, sub); err != nil {
		t.Fatalf("UpsertSubscription() error = %v", err)
	}

	cancelled := start.AddDate(0, 0, 10)
	replacement := *sub
	replacement.ID = id.NewSubscriptionID()
	replacement.Status = domain.SubscriptionCancelled
	replacement.CancelledAt = &cancelled
	replacement.UpdatedAt = cancelled
	if err := store.UpsertSubscription(ctx, &replacement); err != nil {
		t.Fatalf("UpsertSubscription() error = %v", err)
	}

	got, err := store.GetSubscriptionByExternalID(ctx, "sub_ext_1")
	if err != nil {
		t.Fatalf("GetSubscriptionByExternalID() error = %v", err)
	}
	if got.ID != sub.ID {
		t.Errorf("ID = %s, want original %s", got.ID, sub.ID)
	}
	if got.Status != domain.SubscriptionCancelled {
		t.Errorf("Status = %s, want cancelled", got.Status)
	}
	if got.CancelledAt == nil || !got.CancelledAt.Equal(cancelled) {
		t.Errorf("CancelledAt = %v, want %v", got.CancelledAt, cancelled)
	}
	if !got.CurrentPeriodEnd.Equal(start.AddDate(0, 1, 0)) {
		t.Errorf("CurrentPeriodEnd = %v", got.CurrentPeriodEnd)
	}

	byUser, err := store.GetSubscriptionByUser(ctx, "user-1")
	if err != nil || byUser.SubscriptionID != "sub_ext_1" {
		t.Errorf("GetSubscriptionByUser() = %+v, %v", byUser, err)
	}
	if _, err := store.GetSubscriptionByUser(ctx, "nobody"); !errors.Is(err, domain.ErrSubscriptionNotFound) {
		t.Errorf("GetSubscriptionByUser(nobody) error = %v, want ErrSubscriptionNotFound", err)
	}
}

func TestSQLDBStore_RunInTxRollback(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := store.RunInTx(ctx, func(q storage.Queries) error {
		if _, err := q.InsertWalletIfAbsent(ctx, newWallet("user-1", 10)); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("RunInTx() error = %v, want boom", err)
	}
	if _, err := store.GetWalletByUser(ctx, "user-1"); !errors.Is(err, domain.ErrWalletNotFound) {
		t.Errorf("wallet survived rollback: %v", err)
	}

	err = store.RunInTx(ctx, func(q storage.Queries) error {
		_, err := q.InsertWalletIfAbsent(ctx, newWallet("user-1", 10))
		return err
	})
	if err != nil {
		t.Fatalf("RunInTx() error = %v", err)
	}
	if _, err := store.GetWalletByUser(ctx, "user-1"); err != nil {
		t.Errorf("wallet not committed: %v", err)
	}
}

func TestSQLDBStore_PaymentEvents(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, outcome := range []string{"applied", "duplicate", "dropped"} {
		ev := &domain.PaymentEvent{
			ID:         id.NewEventID(),
			EventType:  "payment.succeeded",
			Reference:  "pay_1",
			UserID:     "user-1",
			Outcome:    outcome,
			Payload:    `{"type":"payment.succeeded"}`,
			ReceivedAt: time.Now(),
		}
		if err := store.InsertPaymentEvent(ctx, ev); err != nil {
			t.Fatalf("InsertPaymentEvent() error = %v", err)
		}
	}

	got, err := store.ListPaymentEvents(ctx, 2)
	if err != nil {
		t.Fatalf("ListPaymentEvents() error = %v", err)
	}
	if len(got) != 2 || got[0].Outcome != "dropped" || got[1].Outcome != "duplicate" {
		t.Errorf("ListPaymentEvents() = %+v, want dropped then duplicate", got)
	}
}

func TestNew_UnsupportedDriver(t *testing.T) {
	if _, err := New(Config{Driver: "oracle", DSN: "x"}); err == nil {
		t.Error("New() with unsupported driver should fail")
	}
}
