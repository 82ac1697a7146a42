package reconcile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/tjfontaine/carelog/internal/domain"
	"github.com/tjfontaine/carelog/internal/ledger"
)

// EventKind is the closed set of payment provider events handled here.
type EventKind string

const (
	KindPaymentSucceeded      EventKind = "payment.succeeded"
	KindPaymentFailed         EventKind = "payment.failed"
	KindSubscriptionActive    EventKind = "subscription.active"
	KindSubscriptionRenewed   EventKind = "subscription.renewed"
	KindSubscriptionCancelled EventKind = "subscription.cancelled"
)

// Known reports whether k is handled.
func (k EventKind) Known() bool {
	switch k {
	case KindPaymentSucceeded, KindPaymentFailed,
		KindSubscriptionActive, KindSubscriptionRenewed, KindSubscriptionCancelled:
		return true
	}
	return false
}

// Event is a parsed webhook delivery.
type Event struct {
	Kind EventKind
	Data EventData
	Raw  []byte
}

// EventData holds the fields of the event payload this service reads.
type EventData struct {
	PaymentID           string         `json:"payment_id"`
	SubscriptionID      string         `json:"subscription_id"`
	ProductID           string         `json:"product_id"`
	PlanID              string         `json:"plan_id"`
	CurrentPeriodStart  string         `json:"current_period_start"`
	CurrentPeriodEnd    string         `json:"current_period_end"`
	PreviousBillingDate string         `json:"previous_billing_date"`
	NextBillingDate     string         `json:"next_billing_date"`
	CancelledAt         string         `json:"cancelled_at"`
	Metadata            map[string]any `json:"metadata"`
}

// envelope accepts {type, data}, {type, payload:{...}} and
// {payload:{type, data}}. event_type is an alias of type.
type envelope struct {
	Type      string          `json:"type"`
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	Payload   json.RawMessage `json:"payload"`
}

func (e *envelope) kind() string {
	if e.Type != "" {
		return e.Type
	}
	return e.EventType
}

// ParseEvent decodes a raw webhook body. Errors are validation errors.
func ParseEvent(raw []byte) (Event, error) {
	var top envelope
	if err := json.Unmarshal(raw, &top); err != nil {
		return Event{}, domain.ErrValidation("body", fmt.Sprintf("invalid JSON: %v", err))
	}

	kind := top.kind()
	data := top.Data

	if isObject(top.Payload) {
		var inner envelope
		if err := json.Unmarshal(top.Payload, &inner); err != nil {
			return Event{}, domain.ErrValidation("payload", fmt.Sprintf("invalid JSON: %v", err))
		}
		if kind == "" {
			kind = inner.kind()
		}
		if !isObject(data) {
			if isObject(inner.Data) {
				data = inner.Data
			} else {
				data = top.Payload
			}
		}
	}

	if kind == "" {
		return Event{}, domain.ErrValidation("type", "is required").WithCode(domain.ErrorCodeMissingField)
	}
	if !isObject(data) {
		return Event{}, domain.ErrValidation("data", "is required").WithCode(domain.ErrorCodeMissingField)
	}

	ev := Event{Kind: EventKind(strings.TrimSpace(kind)), Raw: raw}
	if err := json.Unmarshal(data, &ev.Data); err != nil {
		return Event{}, domain.ErrValidation("data", fmt.Sprintf("invalid payload: %v", err))
	}
	return ev, nil
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// metaString returns the first non-empty string among keys.
func (d EventData) metaString(keys ...string) string {
	for _, k := range keys {
		if v, ok := d.Metadata[k]; ok {
			switch s := v.(type) {
			case string:
				if s = strings.TrimSpace(s); s != "" {
					return s
				}
			case float64:
				return strconv.FormatFloat(s, 'f', -1, 64)
			}
		}
	}
	return ""
}

// UserID is metadata.userId.
func (d EventData) UserID() string {
	return d.metaString("userId", "user_id")
}

// Credits is metadata.credits as a positive integer no larger than
// ledger.MaxCreditAmount. It accepts a JSON number or a numeric string.
func (d EventData) Credits() (int64, error) {
	v, ok := d.Metadata["credits"]
	if !ok || v == nil {
		return 0, domain.ErrValidation("metadata.credits", "is required").WithCode(domain.ErrorCodeMissingField)
	}

	var n int64
	switch c := v.(type) {
	case float64:
		if c != math.Trunc(c) {
			return 0, domain.ErrValidation("metadata.credits", fmt.Sprintf("%v is not a whole number", c)).
				WithCode(domain.ErrorCodeInvalidAmount)
		}
		if c > ledger.MaxCreditAmount {
			return 0, creditsOverLimit(fmt.Sprintf("%.0f", c))
		}
		if c <= 0 {
			return 0, creditsNotPositive(fmt.Sprintf("%v", c))
		}
		n = int64(c)
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(c), 10, 64)
		if errors.Is(err, strconv.ErrRange) && !strings.HasPrefix(strings.TrimSpace(c), "-") {
			return 0, creditsOverLimit(c)
		}
		if err != nil {
			return 0, domain.ErrValidation("metadata.credits", fmt.Sprintf("%q is not a number", c)).
				WithCode(domain.ErrorCodeInvalidAmount)
		}
		n = parsed
	default:
		return 0, domain.ErrValidation("metadata.credits", fmt.Sprintf("unsupported type %T", v)).
			WithCode(domain.ErrorCodeInvalidAmount)
	}

	if n <= 0 {
		return 0, creditsNotPositive(strconv.FormatInt(n, 10))
	}
	if n > ledger.MaxCreditAmount {
		return 0, creditsOverLimit(strconv.FormatInt(n, 10))
	}
	return n, nil
}

func creditsNotPositive(got string) error {
	return domain.ErrValidation("metadata.credits", "must be positive, got "+got).
		WithCode(domain.ErrorCodeInvalidAmount)
}

func creditsOverLimit(got string) error {
	return domain.ErrValidation("metadata.credits", fmt.Sprintf("%s exceeds the limit of %d", got, ledger.MaxCreditAmount)).
		WithCode(domain.ErrorCodeInvalidAmount)
}

// Plan resolves the plan id: metadata.planId, plan_id, product_id, then
// fallback.
func (d EventData) Plan(fallback string) string {
	if p := d.metaString("planId", "plan_id"); p != "" {
		return p
	}
	if d.PlanID != "" {
		return d.PlanID
	}
	if d.ProductID != "" {
		return d.ProductID
	}
	return fallback
}

// Period returns the billing period bounds. A missing start defaults to
// receivedAt and a missing end to one month after the start.
func (d EventData) Period(receivedAt time.Time) (start, end time.Time, err error) {
	start, err = parseTime("current_period_start", firstNonEmpty(d.CurrentPeriodStart, d.PreviousBillingDate))
	if err != nil {
		return
	}
	end, err = parseTime("current_period_end", firstNonEmpty(d.CurrentPeriodEnd, d.NextBillingDate))
	if err != nil {
		return
	}
	if start.IsZero() {
		start = receivedAt
	}
	if end.IsZero() {
		end = start.AddDate(0, 1, 0)
	}
	return start, end, nil
}

// CancelledTime returns cancelled_at or receivedAt.
func (d EventData) CancelledTime(receivedAt time.Time) (time.Time, error) {
	t, err := parseTime("cancelled_at", d.CancelledAt)
	if err != nil {
		return time.Time{}, err
	}
	if t.IsZero() {
		return receivedAt, nil
	}
	return t, nil
}

func parseTime(field, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, domain.ErrValidation(field, fmt.Sprintf("%q is not RFC 3339", s))
	}
	return t, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
