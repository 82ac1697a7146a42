package domain

import (
	"time"
)

// Feature is a metered, credit-gated capability.
type Feature string

const (
	FeatureLabTranslation Feature = "lab_translation"
	FeatureHealthInsight  Feature = "health_insight"
	FeatureDoctorBrief    Feature = "doctor_brief"
)

// TransactionType is the business reason for a balance change.
type TransactionType string

const (
	TxSignup     TransactionType = "signup"
	TxUsage      TransactionType = "usage"
	TxPurchase   TransactionType = "purchase"
	TxRefund     TransactionType = "refund"
	TxAdjustment TransactionType = "adjustment"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	switch t {
	case TxSignup, TxUsage, TxPurchase, TxRefund, TxAdjustment:
		return true
	}
	return false
}

// Wallet holds one user's credit balance.
type Wallet struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Balance   int64     `json:"balance" db:"balance"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Transaction is an immutable ledger entry. Positive amounts credit the
// wallet, negative amounts debit it.
type Transaction struct {
	ID          string          `json:"id" db:"id"`
	WalletID    string          `json:"wallet_id" db:"wallet_id"`
	Amount      int64           `json:"amount" db:"amount"`
	Type        TransactionType `json:"type" db:"type"`
	Description string          `json:"description" db:"description"`
	ReferenceID *string         `json:"reference_id,omitempty" db:"reference_id"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// SubscriptionStatus is the lifecycle state of a subscription.
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

// Subscription is a recurring plan reported by the payment provider.
type Subscription struct {
	ID                 string             `json:"id" db:"id"`
	UserID             string             `json:"user_id" db:"user_id"`
	SubscriptionID     string             `json:"subscription_id" db:"subscription_id"`
	Status             SubscriptionStatus `json:"status" db:"status"`
	PlanID             string             `json:"plan_id" db:"plan_id"`
	CurrentPeriodStart time.Time          `json:"current_period_start" db:"current_period_start"`
	CurrentPeriodEnd   time.Time          `json:"current_period_end" db:"current_period_end"`
	CancelledAt        *time.Time         `json:"cancelled_at,omitempty" db:"cancelled_at"`
	CreatedAt          time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at" db:"updated_at"`
}

// GrantsUnlimited reports whether the subscription covers feature use at now.
func (s *Subscription) GrantsUnlimited(now time.Time) bool {
	return s != nil && s.Status == SubscriptionActive && s.CurrentPeriodEnd.After(now)
}

// Package is a purchasable credit bundle.
type Package struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Credits int64  `json:"credits"`
}

// Plan is a subscription plan.
type Plan struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Unlimited bool   `json:"unlimited"`
}

// BalanceCheck answers whether a feature is affordable.
type BalanceCheck struct {
	HasEnough bool  `json:"has_enough"`
	Required  int64 `json:"required"`
	Balance   int64 `json:"balance"`
}

// DebitResult is the outcome of a successful debit.
type DebitResult struct {
	Success       bool   `json:"success"`
	NewBalance    int64  `json:"new_balance"`
	TransactionID string `json:"transaction_id"`
}

// CreditResult is the outcome of a credit. Duplicate is set when the
// reference id had already been applied and nothing changed.
type CreditResult struct {
	Applied       bool   `json:"applied"`
	Duplicate     bool   `json:"duplicate"`
	NewBalance    int64  `json:"new_balance"`
	TransactionID string `json:"transaction_id,omitempty"`
}

// UsageResult is the outcome of a feature use. On failure Required and
// Balance describe the shortfall.
type UsageResult struct {
	Success    bool  `json:"success"`
	Cost       int64 `json:"cost"`
	NewBalance int64 `json:"new_balance"`
	Required   int64 `json:"required,omitempty"`
	Balance    int64 `json:"balance,omitempty"`
	Unlimited  bool  `json:"unlimited,omitempty"`
}

// BalanceSummary is the user-facing balance view.
type BalanceSummary struct {
	Balance            int64      `json:"balance"`
	SubscriptionActive bool       `json:"subscription_active"`
	PlanID             string     `json:"plan_id,omitempty"`
	CurrentPeriodEnd   *time.Time `json:"current_period_end,omitempty"`
}

// PaymentEvent is the audit record of one processed webhook delivery.
type PaymentEvent struct {
	ID         string    `json:"id" db:"id"`
	EventType  string    `json:"event_type" db:"event_type"`
	Reference  string    `json:"reference,omitempty" db:"reference"`
	UserID     string    `json:"user_id,omitempty" db:"user_id"`
	Outcome    string    `json:"outcome" db:"outcome"`
	Detail     string    `json:"detail,omitempty" db:"detail"`
	Payload    string    `json:"-" db:"payload"`
	ReceivedAt time.Time `json:"received_at" db:"received_at"`
}
