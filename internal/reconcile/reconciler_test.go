package reconcile

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/tjfontaine/carelog/internal/domain"
	"github.com/tjfontaine/carelog/internal/ledger"
	"github.com/tjfontaine/carelog/internal/storage"
	"github.com/tjfontaine/carelog/internal/storage/memory"
	"github.com/tjfontaine/carelog/internal/storage/sqldb"
)

var testNow = time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)

type fixture struct {
	store  storage.Store
	ledger *ledger.Service
	rec    *Reconciler
}

func stores(t *testing.T, fn func(t *testing.T, f fixture)) {
	t.Run("sqlite", func(t *testing.T) {
		store, err := sqldb.NewSQLite(filepath.Join(t.TempDir(), "reconcile.db"))
		if err != nil {
			t.Fatalf("NewSQLite() error = %v", err)
		}
		t.Cleanup(func() { store.Close() })
		fn(t, newFixture(store))
	})
	t.Run("memory", func(t *testing.T) { fn(t, newFixture(memory.New())) })
}

func newFixture(store storage.Store) fixture {
	clock := func() time.Time { return testNow }
	l := ledger.New(store, ledger.WithClock(clock))
	return fixture{store: store, ledger: l, rec: New(store, l, WithClock(clock))}
}

func paymentSucceeded(paymentID, userID string, credits any) []byte {
	c := fmt.Sprintf("%v", credits)
	if s, ok := credits.(string); ok {
		c = fmt.Sprintf("%q", s)
	}
	return []byte(fmt.Sprintf(
		`{"type":"payment.succeeded","data":{"payment_id":%q,"metadata":{"userId":%q,"packageId":"monthly_care","credits":%s}}}`,
		paymentID, userID, c))
}

func handle(t *testing.T, r *Reconciler, raw []byte) Outcome {
	t.Helper()
	outcome, err := r.HandleEvent(context.Background(), raw)
	if err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	return outcome
}

func TestReconciler_PaymentSucceeded(t *testing.T) {
	stores(t, func(t *testing.T, f fixture) {
		ctx := context.Background()

		if got := handle(t, f.rec, paymentSucceeded("pay_1", "user-1", 150)); got != OutcomeApplied {
			t.Fatalf("first delivery = %q, want applied", got)
		}
		if got := handle(t, f.rec, paymentSucceeded("pay_1", "user-1", 150)); got != OutcomeDuplicate {
			t.Fatalf("redelivery = %q, want duplicate", got)
		}

		w, err := f.ledger.GetOrCreateWallet(ctx, "user-1")
		if err != nil {
			t.Fatal(err)
		}
		if want := ledger.DefaultSignupBonus + 150; w.Balance != want {
			t.Errorf("Balance = %d, want %d", w.Balance, want)
		}
		if err := f.ledger.Verify(ctx, "user-1"); err != nil {
			t.Error(err)
		}

		history, err := f.ledger.History(ctx, "user-1", 0)
		if err != nil {
			t.Fatal(err)
		}
		if history[0].Type != domain.TxPurchase || history[0].ReferenceID == nil || *history[0].ReferenceID != "pay_1" {
			t.Errorf("newest transaction = %+v, want purchase pay_1", history[0])
		}

		events, err := f.store.ListPaymentEvents(ctx, 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(events) != 2 {
			t.Fatalf("len(events) = %d, want 2", len(events))
		}
		if events[0].Outcome != string(OutcomeDuplicate) || events[1].Outcome != string(OutcomeApplied) {
			t.Errorf("outcomes = %q, %q", events[0].Outcome, events[1].Outcome)
		}
		if events[1].UserID != "user-1" || events[1].Reference != "pay_1" {
			t.Errorf("event = %+v", events[1])
		}
	})
}

func TestReconciler_PaymentSucceededStringCredits(t *testing.T) {
	stores(t, func(t *testing.T, f fixture) {
		if got := handle(t, f.rec, paymentSucceeded("pay_s", "user-s", "50")); got != OutcomeApplied {
			t.Fatalf("outcome = %q, want applied", got)
		}
		w, err := f.ledger.GetOrCreateWallet(context.Background(), "user-s")
		if err != nil {
			t.Fatal(err)
		}
		if want := ledger.DefaultSignupBonus + 50; w.Balance != want {
			t.Errorf("Balance = %d, want %d", w.Balance, want)
		}
	})
}

func TestReconciler_PaymentSucceededCreditsOverLimit(t *testing.T) {
	stores(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		handle(t, f.rec, paymentSucceeded("pay_seed", "user-1", 5))

		for _, credits := range []any{"9223372036854775800", ledger.MaxCreditAmount + 1} {
			if got := handle(t, f.rec, paymentSucceeded(fmt.Sprintf("pay_big_%v", credits), "user-1", credits)); got != OutcomeDropped {
				t.Errorf("credits %v outcome = %q, want dropped", credits, got)
			}
		}

		w, err := f.store.GetWalletByUser(ctx, "user-1")
		if err != nil {
			t.Fatal(err)
		}
		if want := ledger.DefaultSignupBonus + 5; w.Balance != want {
			t.Errorf("Balance = %d, want unchanged %d", w.Balance, want)
		}
	})
}

func TestReconciler_Dropped(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"malformed json", `{"type":`},
		{"missing type", `{"data":{"payment_id":"p"}}`},
		{"missing user", `{"type":"payment.succeeded","data":{"payment_id":"p","metadata":{"credits":5}}}`},
		{"missing credits", `{"type":"payment.succeeded","data":{"payment_id":"p","metadata":{"userId":"u"}}}`},
		{"negative credits", `{"type":"payment.succeeded","data":{"payment_id":"p","metadata":{"userId":"u","credits":-5}}}`},
		{"missing payment id", `{"type":"payment.succeeded","data":{"metadata":{"userId":"u","credits":5}}}`},
		{"bad period", `{"type":"subscription.active","data":{"subscription_id":"s","current_period_end":"soon","metadata":{"userId":"u"}}}`},
		{"unknown cancellation", `{"type":"subscription.cancelled","data":{"subscription_id":"nope"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(memory.New())
			if got := handle(t, f.rec, []byte(tt.raw)); got != OutcomeDropped {
				t.Fatalf("outcome = %q, want dropped", got)
			}
			if _, err := f.store.GetWalletByUser(context.Background(), "u"); !errors.Is(err, domain.ErrWalletNotFound) {
				t.Errorf("wallet created for dropped event, err = %v", err)
			}
			events, _ := f.store.ListPaymentEvents(context.Background(), 10)
			if len(events) != 1 || events[0].Outcome != string(OutcomeDropped) {
				t.Errorf("events = %+v, want one dropped row", events)
			}
		})
	}
}

func TestReconciler_IgnoredAndRecorded(t *testing.T) {
	f := newFixture(memory.New())

	if got := handle(t, f.rec, []byte(`{"type":"dispute.opened","data":{}}`)); got != OutcomeIgnored {
		t.Errorf("unknown kind = %q, want ignored", got)
	}
	raw := []byte(`{"type":"payment.failed","data":{"payment_id":"pay_f","metadata":{"userId":"user-f"}}}`)
	if got := handle(t, f.rec, raw); got != OutcomeRecorded {
		t.Errorf("payment.failed = %q, want recorded", got)
	}
	if _, err := f.store.GetWalletByUser(context.Background(), "user-f"); !errors.Is(err, domain.ErrWalletNotFound) {
		t.Errorf("payment.failed touched the ledger, err = %v", err)
	}
}

func subscriptionEvent(kind EventKind, subID, userID, start, end string) []byte {
	return []byte(fmt.Sprintf(
		`{"type":%q,"data":{"subscription_id":%q,"current_period_start":%q,"current_period_end":%q,"metadata":{"userId":%q}}}`,
		kind, subID, start, end, userID))
}

func TestReconciler_SubscriptionLifecycle(t *testing.T) {
	stores(t, func(t *testing.T, f fixture) {
		ctx := context.Background()

		handle(t, f.rec, subscriptionEvent(KindSubscriptionActive, "sub_ext_1", "user-2",
			"2026-04-20T00:00:00Z", "2026-05-20T00:00:00Z"))

		sub, err := f.store.GetSubscriptionByUser(ctx, "user-2")
		if err != nil {
			t.Fatal(err)
		}
		if sub.Status != domain.SubscriptionActive || sub.PlanID != ledger.DefaultPlanID {
			t.Errorf("subscription = %+v", sub)
		}
		firstID := sub.ID

		res, err := f.ledger.Use(ctx, "user-2", domain.FeatureDoctorBrief)
		if err != nil || !res.Unlimited || res.Cost != 0 {
			t.Errorf("Use() = %+v, %v; want unlimited", res, err)
		}

		raw := []byte(`{"type":"subscription.cancelled","data":{"subscription_id":"sub_ext_1","cancelled_at":"2026-05-02T00:00:00Z"}}`)
		if got := handle(t, f.rec, raw); got != OutcomeApplied {
			t.Fatalf("cancel = %q, want applied", got)
		}
		sub, _ = f.store.GetSubscriptionByUser(ctx, "user-2")
		if sub.Status != domain.SubscriptionCancelled || sub.CancelledAt == nil {
			t.Fatalf("after cancel = %+v", sub)
		}
		if sub.ID != firstID {
			t.Errorf("ID changed on upsert: %q -> %q", firstID, sub.ID)
		}

		// A renewal reactivates but keeps the cancellation marker.
		handle(t, f.rec, subscriptionEvent(KindSubscriptionRenewed, "sub_ext_1", "user-2",
			"2026-05-20T00:00:00Z", "2026-06-20T00:00:00Z"))
		sub, _ = f.store.GetSubscriptionByUser(ctx, "user-2")
		if sub.Status != domain.SubscriptionActive || sub.CancelledAt == nil {
			t.Errorf("after renew = %+v, want active with cancelled_at kept", sub)
		}

		handle(t, f.rec, subscriptionEvent(KindSubscriptionActive, "sub_ext_1", "user-2",
			"2026-05-20T00:00:00Z", "2026-06-20T00:00:00Z"))
		sub, _ = f.store.GetSubscriptionByUser(ctx, "user-2")
		if sub.CancelledAt != nil {
			t.Errorf("activation should clear cancelled_at, got %v", sub.CancelledAt)
		}

		events, _ := f.store.ListPaymentEvents(ctx, 10)
		for _, ev := range events {
			if ev.UserID != "user-2" {
				t.Errorf("event %s user = %q, want user-2", ev.EventType, ev.UserID)
			}
		}
	})
}

func TestReconciler_SubscriptionIDHeldByAnotherUser(t *testing.T) {
	stores(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		handle(t, f.rec, subscriptionEvent(KindSubscriptionActive, "sub_shared", "user-1",
			"2026-04-20T00:00:00Z", "2026-05-20T00:00:00Z"))

		for _, kind := range []EventKind{KindSubscriptionActive, KindSubscriptionRenewed} {
			got := handle(t, f.rec, subscriptionEvent(kind, "sub_shared", "user-9",
				"2026-05-20T00:00:00Z", "2026-06-20T00:00:00Z"))
			if got != OutcomeDropped {
				t.Errorf("%s for another user = %q, want dropped", kind, got)
			}
		}

		if _, err := f.store.GetSubscriptionByUser(ctx, "user-9"); !errors.Is(err, domain.ErrSubscriptionNotFound) {
			t.Errorf("user-9 got a subscription, err = %v", err)
		}
		sub, err := f.store.GetSubscriptionByUser(ctx, "user-1")
		if err != nil {
			t.Fatal(err)
		}
		want := time.Date(2026, 5, 20, 0, 0, 0, 0, time.UTC)
		if !sub.CurrentPeriodEnd.Equal(want) {
			t.Errorf("user-1 period end = %v, want untouched %v", sub.CurrentPeriodEnd, want)
		}

		events, _ := f.store.ListPaymentEvents(ctx, 10)
		conflicts := 0
		for _, ev := range events {
			if ev.UserID == "user-9" && ev.Outcome == string(OutcomeDropped) && ev.Detail == "subscription_id belongs to another user" {
				conflicts++
			}
		}
		if conflicts != 2 {
			t.Errorf("conflict rows = %d, want 2: %+v", conflicts, events)
		}
	})
}

func TestReconciler_OutOfOrderLastWriteWins(t *testing.T) {
	f := newFixture(memory.New())
	ctx := context.Background()

	// Renewal for the next period arrives before the original activation.
	handle(t, f.rec, subscriptionEvent(KindSubscriptionRenewed, "sub_ext_2", "user-3",
		"2026-05-20T00:00:00Z", "2026-06-20T00:00:00Z"))
	handle(t, f.rec, subscriptionEvent(KindSubscriptionActive, "sub_ext_2", "user-3",
		"2026-04-20T00:00:00Z", "2026-05-20T00:00:00Z"))

	sub, err := f.store.GetSubscriptionByUser(ctx, "user-3")
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2026, 5, 20, 0, 0, 0, 0, time.UTC)
	if !sub.CurrentPeriodEnd.Equal(want) {
		t.Errorf("CurrentPeriodEnd = %v, want %v", sub.CurrentPeriodEnd, want)
	}
}

func TestReconciler_SubscriptionDefaults(t *testing.T) {
	f := newFixture(memory.New())
	raw := []byte(`{"type":"subscription.active","data":{"subscription_id":"sub_ext_3","product_id":"care_plus","metadata":{"userId":"user-4"}}}`)
	handle(t, f.rec, raw)

	sub, err := f.store.GetSubscriptionByUser(context.Background(), "user-4")
	if err != nil {
		t.Fatal(err)
	}
	if !sub.CurrentPeriodStart.Equal(testNow) {
		t.Errorf("start = %v, want receipt time", sub.CurrentPeriodStart)
	}
	if !sub.CurrentPeriodEnd.Equal(testNow.AddDate(0, 1, 0)) {
		t.Errorf("end = %v, want start + 1 month", sub.CurrentPeriodEnd)
	}
}

type failingStore struct {
	storage.Store
}

func (failingStore) RunInTx(context.Context, func(storage.Queries) error) error {
	return fmt.Errorf("disk full")
}

func TestReconciler_PersistenceFailure(t *testing.T) {
	store := failingStore{Store: memory.New()}
	l := ledger.New(store)
	r := New(store, l)

	_, err := r.HandleEvent(context.Background(), paymentSucceeded("pay_x", "user-x", 10))
	if domain.TypeOf(err) != domain.ErrorTypePersistence {
		t.Fatalf("error = %v, want persistence", err)
	}
}
