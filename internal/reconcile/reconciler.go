// Package reconcile applies payment provider webhooks to the credit ledger
// and the subscription table. Deliveries may repeat and arrive out of
// order; every event is idempotent and each one's mutations commit
// together with its event log row.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/tjfontaine/carelog/internal/domain"
	"github.com/tjfontaine/carelog/internal/id"
	"github.com/tjfontaine/carelog/internal/ledger"
	"github.com/tjfontaine/carelog/internal/storage"
	"github.com/tjfontaine/carelog/internal/telemetry"
)

// Outcome is what happened to one delivery.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeRecorded  Outcome = "recorded"
	OutcomeDropped   Outcome = "dropped"
	OutcomeIgnored   Outcome = "ignored"
)

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) {
		r.logger = logger
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		r.now = now
	}
}

// Reconciler processes payment provider events.
type Reconciler struct {
	store  storage.Store
	ledger *ledger.Service
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Reconciler. Credits go through ledger; subscriptions and
// the event log are written to store.
func New(store storage.Store, l *ledger.Service, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:  store,
		ledger: l,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HandleEvent parses raw and processes it. Malformed bodies are dropped
// with a warning and a nil error; only storage failures are returned.
func (r *Reconciler) HandleEvent(ctx context.Context, raw []byte) (Outcome, error) {
	ev, err := ParseEvent(raw)
	if err != nil {
		r.logger.Warn("dropping malformed payment event", slog.String("error", err.Error()))
		return r.record(ctx, nil, eventRow{kind: "malformed", outcome: OutcomeDropped, detail: err.Error(), raw: raw})
	}
	return r.HandleParsed(ctx, ev)
}

// HandleParsed processes an already parsed event.
func (r *Reconciler) HandleParsed(ctx context.Context, ev Event) (Outcome, error) {
	ctx, span := telemetry.StartSpan(ctx, "reconcile.event",
		attribute.String("payment.event", string(ev.Kind)))

	outcome, err := r.dispatch(ctx, ev)
	span.SetAttributes(attribute.String("payment.outcome", string(outcome)))
	telemetry.EndSpan(span, err)

	if err != nil {
		r.logger.Error("payment event failed",
			slog.String("event", string(ev.Kind)),
			slog.String("error", err.Error()),
		)
		return outcome, err
	}
	r.logger.Info("payment event processed",
		slog.String("event", string(ev.Kind)),
		slog.String("outcome", string(outcome)),
	)
	return outcome, nil
}

func (r *Reconciler) dispatch(ctx context.Context, ev Event) (Outcome, error) {
	receivedAt := r.now()

	switch ev.Kind {
	case KindPaymentSucceeded:
		return r.paymentSucceeded(ctx, ev, receivedAt)
	case KindPaymentFailed:
		return r.record(ctx, nil, eventRow{
			kind: ev.Kind, reference: ev.Data.PaymentID, userID: ev.Data.UserID(),
			outcome: OutcomeRecorded, raw: ev.Raw, at: receivedAt,
		})
	case KindSubscriptionActive, KindSubscriptionRenewed:
		return r.subscriptionActive(ctx, ev, receivedAt)
	case KindSubscriptionCancelled:
		return r.subscriptionCancelled(ctx, ev, receivedAt)
	default:
		r.logger.Info("ignoring unhandled payment event", slog.String("event", string(ev.Kind)))
		return r.record(ctx, nil, eventRow{kind: ev.Kind, outcome: OutcomeIgnored, raw: ev.Raw, at: receivedAt})
	}
}

func (r *Reconciler) paymentSucceeded(ctx context.Context, ev Event, receivedAt time.Time) (Outcome, error) {
	row := eventRow{kind: ev.Kind, reference: ev.Data.PaymentID, userID: ev.Data.UserID(), raw: ev.Raw, at: receivedAt}

	if row.userID == "" {
		return r.drop(ctx, row, domain.ErrValidation("metadata.userId", "is required"))
	}
	if row.reference == "" {
		return r.drop(ctx, row, domain.ErrValidation("payment_id", "is required"))
	}
	credits, err := ev.Data.Credits()
	if err != nil {
		return r.drop(ctx, row, err)
	}

	req := ledger.CreditRequest{
		UserID:      row.userID,
		Amount:      credits,
		Type:        domain.TxPurchase,
		ReferenceID: row.reference,
		Description: creditDescription(ev.Data),
	}
	return r.record(ctx, func(q storage.Queries, row *eventRow) error {
		res, err := r.ledger.CreditWith(ctx, q, req)
		if err != nil {
			return err
		}
		row.outcome = OutcomeApplied
		if res.Duplicate {
			row.outcome = OutcomeDuplicate
		}
		return nil
	}, row)
}

func creditDescription(d EventData) string {
	if pkg := d.metaString("packageId", "package_id"); pkg != "" {
		return "purchase " + pkg
	}
	return "purchase"
}

func (r *Reconciler) subscriptionActive(ctx context.Context, ev Event, receivedAt time.Time) (Outcome, error) {
	row := eventRow{kind: ev.Kind, reference: ev.Data.SubscriptionID, userID: ev.Data.UserID(), raw: ev.Raw, at: receivedAt}

	if row.userID == "" {
		return r.drop(ctx, row, domain.ErrValidation("metadata.userId", "is required"))
	}
	if row.reference == "" {
		return r.drop(ctx, row, domain.ErrValidation("subscription_id", "is required"))
	}
	start, end, err := ev.Data.Period(receivedAt)
	if err != nil {
		return r.drop(ctx, row, err)
	}

	planID := ev.Data.Plan(ledger.DefaultPlanID)
	if _, ok := ledger.LookupPlan(planID); !ok {
		r.logger.Warn("subscription references unknown plan", slog.String("plan_id", planID))
	}

	return r.record(ctx, func(q storage.Queries, row *eventRow) error {
		sub := &domain.Subscription{
			ID:                 id.NewSubscriptionID(),
			UserID:             row.userID,
			SubscriptionID:     row.reference,
			Status:             domain.SubscriptionActive,
			PlanID:             planID,
			CurrentPeriodStart: start,
			CurrentPeriodEnd:   end,
			CreatedAt:          receivedAt,
			UpdatedAt:          receivedAt,
		}

		other, err := q.GetSubscriptionByExternalID(ctx, row.reference)
		switch {
		case errors.Is(err, domain.ErrSubscriptionNotFound):
		case err != nil:
			return err
		case other.UserID != row.userID:
			r.logger.Warn("dropping subscription event for another user's subscription",
				slog.String("subscription_id", row.reference),
				slog.String("user_id", row.userID))
			row.outcome = OutcomeDropped
			row.detail = "subscription_id belongs to another user"
			return nil
		}

		existing, err := q.GetSubscriptionByUser(ctx, row.userID)
		switch {
		case errors.Is(err, domain.ErrSubscriptionNotFound):
		case err != nil:
			return err
		case ev.Kind == KindSubscriptionRenewed:
			// Only an activation clears a cancellation.
			sub.CancelledAt = existing.CancelledAt
		}

		if err := q.UpsertSubscription(ctx, sub); err != nil {
			return err
		}
		row.outcome = OutcomeApplied
		return nil
	}, row)
}

func (r *Reconciler) subscriptionCancelled(ctx context.Context, ev Event, receivedAt time.Time) (Outcome, error) {
	row := eventRow{kind: ev.Kind, reference: ev.Data.SubscriptionID, raw: ev.Raw, at: receivedAt}

	if row.reference == "" {
		return r.drop(ctx, row, domain.ErrValidation("subscription_id", "is required"))
	}
	cancelledAt, err := ev.Data.CancelledTime(receivedAt)
	if err != nil {
		return r.drop(ctx, row, err)
	}

	return r.record(ctx, func(q storage.Queries, row *eventRow) error {
		sub, err := q.GetSubscriptionByExternalID(ctx, row.reference)
		if errors.Is(err, domain.ErrSubscriptionNotFound) {
			r.logger.Warn("dropping cancellation for unknown subscription",
				slog.String("subscription_id", row.reference))
			row.outcome = OutcomeDropped
			row.detail = "unknown subscription"
			return nil
		}
		if err != nil {
			return err
		}

		row.userID = sub.UserID
		sub.Status = domain.SubscriptionCancelled
		sub.CancelledAt = &cancelledAt
		sub.UpdatedAt = receivedAt
		if err := q.UpsertSubscription(ctx, sub); err != nil {
			return err
		}
		row.outcome = OutcomeApplied
		return nil
	}, row)
}

type eventRow struct {
	kind      EventKind
	reference string
	userID    string
	outcome   Outcome
	detail    string
	raw       []byte
	at        time.Time
}

func (r *Reconciler) drop(ctx context.Context, row eventRow, cause error) (Outcome, error) {
	r.logger.Warn("dropping payment event",
		slog.String("event", string(row.kind)),
		slog.String("reference", row.reference),
		slog.String("error", cause.Error()),
	)
	row.outcome = OutcomeDropped
	row.detail = cause.Error()
	return r.record(ctx, nil, row)
}

// record runs mutate, if any, and appends the event log row in the same
// transaction. mutate sets the row's outcome.
func (r *Reconciler) record(ctx context.Context, mutate func(q storage.Queries, row *eventRow) error, row eventRow) (Outcome, error) {
	if row.at.IsZero() {
		row.at = r.now()
	}

	err := r.store.RunInTx(ctx, func(q storage.Queries) error {
		final := row
		if mutate != nil {
			if err := mutate(q, &final); err != nil {
				return err
			}
		}
		if err := q.InsertPaymentEvent(ctx, &domain.PaymentEvent{
			ID:         id.NewEventID(),
			EventType:  string(final.kind),
			Reference:  final.reference,
			UserID:     final.userID,
			Outcome:    string(final.outcome),
			Detail:     final.detail,
			Payload:    string(final.raw),
			ReceivedAt: final.at,
		}); err != nil {
			return err
		}
		row = final
		return nil
	})
	if err != nil {
		if mutate != nil && domain.IsValidation(err) {
			return r.drop(ctx, row, err)
		}
		return "", domain.ErrPersistence("record payment event", err)
	}
	return row.outcome, nil
}
