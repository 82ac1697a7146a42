// Package ledger meters paid features with per-user credit wallets. All
// balance changes go through this package; every change is recorded as an
// immutable transaction in the same database transaction, so a wallet's
// balance always equals the sum of its entries.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/tjfontaine/carelog/internal/domain"
	"github.com/tjfontaine/carelog/internal/id"
	"github.com/tjfontaine/carelog/internal/storage"
	"github.com/tjfontaine/carelog/internal/telemetry"
)

// History limits.
const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

// MaxCreditAmount is the largest single credit accepted.
const MaxCreditAmount = math.MaxInt32

// Option configures a Service.
type Option func(*Service)

// WithSignupBonus sets the credits granted to new wallets.
func WithSignupBonus(n int64) Option {
	return func(s *Service) {
		if n >= 0 {
			s.signupBonus = n
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// Service is the credit ledger. It holds no wallet state of its own;
// concurrency control lives in the store's conditional updates.
type Service struct {
	store       storage.Store
	signupBonus int64
	now         func() time.Time
	logger      *slog.Logger
}

// New creates a ledger over store.
func New(store storage.Store, opts ...Option) *Service {
	s := &Service{
		store:       store,
		signupBonus: DefaultSignupBonus,
		now:         time.Now,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreditRequest describes a balance increase.
type CreditRequest struct {
	UserID      string
	Amount      int64
	Type        domain.TransactionType
	ReferenceID string
	Description string
}

func (r CreditRequest) validate() error {
	if strings.TrimSpace(r.UserID) == "" {
		return domain.ErrValidation("user_id", "is required").WithCode(domain.ErrorCodeMissingField)
	}
	if r.Amount <= 0 {
		return domain.ErrValidation("amount", fmt.Sprintf("must be positive, got %d", r.Amount)).
			WithCode(domain.ErrorCodeInvalidAmount)
	}
	if r.Amount > MaxCreditAmount {
		return domain.ErrValidation("amount", fmt.Sprintf("%d exceeds the limit of %d", r.Amount, MaxCreditAmount)).
			WithCode(domain.ErrorCodeInvalidAmount)
	}
	switch r.Type {
	case domain.TxPurchase, domain.TxRefund, domain.TxAdjustment:
		return nil
	default:
		return domain.ErrValidation("type", fmt.Sprintf("%q is not a credit type", r.Type))
	}
}

func validateUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return domain.ErrValidation("user_id", "is required").WithCode(domain.ErrorCodeMissingField)
	}
	return nil
}

// persistence wraps store failures, passing domain errors through.
func persistence(op string, err error) error {
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	var ic *domain.InsufficientCreditError
	if errors.As(err, &ic) {
		return err
	}
	return domain.ErrPersistence(op, err)
}

// GetOrCreateWallet returns the user's wallet, creating it with the signup
// bonus on first access. Concurrent first calls create exactly one wallet
// and one signup transaction.
func (s *Service) GetOrCreateWallet(ctx context.Context, userID string) (*domain.Wallet, error) {
	if err := validateUser(userID); err != nil {
		return nil, err
	}

	w, err := s.store.GetWalletByUser(ctx, userID)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, domain.ErrWalletNotFound) {
		return nil, persistence("get wallet", err)
	}

	err = s.store.RunInTx(ctx, func(q storage.Queries) error {
		var err error
		w, err = s.ensureWallet(ctx, q, userID)
		return err
	})
	if err != nil {
		return nil, persistence("create wallet", err)
	}
	return w, nil
}

// ensureWallet inserts the wallet and its signup entry if absent and
// returns the current row.
func (s *Service) ensureWallet(ctx context.Context, q storage.Queries, userID string) (*domain.Wallet, error) {
	now := s.now()
	w := &domain.Wallet{
		ID:        id.NewWalletID(),
		UserID:    userID,
		Balance:   s.signupBonus,
		CreatedAt: now,
		UpdatedAt: now,
	}

	inserted, err := q.InsertWalletIfAbsent(ctx, w)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return q.GetWalletByUser(ctx, userID)
	}

	if s.signupBonus > 0 {
		txn := &domain.Transaction{
			ID:          id.NewTransactionID(),
			WalletID:    w.ID,
			Amount:      s.signupBonus,
			Type:        domain.TxSignup,
			Description: "signup bonus",
			CreatedAt:   now,
		}
		if _, err := q.InsertTransaction(ctx, txn); err != nil {
			return nil, err
		}
	}

	s.logger.Info("wallet created",
		slog.String("user_id", userID),
		slog.String("wallet_id", w.ID),
		slog.Int64("signup_bonus", s.signupBonus),
	)
	return w, nil
}

// CheckBalance reports whether the user can afford feature. It never
// mutates the balance.
func (s *Service) CheckBalance(ctx context.Context, userID string, feature domain.Feature) (domain.BalanceCheck, error) {
	cost, err := FeatureCost(feature)
	if err != nil {
		return domain.BalanceCheck{}, err
	}
	w, err := s.GetOrCreateWallet(ctx, userID)
	if err != nil {
		return domain.BalanceCheck{}, err
	}
	return domain.BalanceCheck{
		HasEnough: w.Balance >= cost,
		Required:  cost,
		Balance:   w.Balance,
	}, nil
}

// Debit charges the feature's cost. If the balance does not cover it the
// result is a *domain.InsufficientCreditError and nothing changes.
func (s *Service) Debit(ctx context.Context, userID string, feature domain.Feature) (domain.DebitResult, error) {
	cost, err := FeatureCost(feature)
	if err != nil {
		return domain.DebitResult{}, err
	}
	if err := validateUser(userID); err != nil {
		return domain.DebitResult{}, err
	}

	ctx, span := telemetry.StartSpan(ctx, "ledger.debit",
		attribute.String("ledger.feature", string(feature)),
		attribute.Int64("ledger.cost", cost))

	var (
		result   domain.DebitResult
		shortage *domain.InsufficientCreditError
	)
	err = s.store.RunInTx(ctx, func(q storage.Queries) error {
		w, err := s.ensureWallet(ctx, q, userID)
		if err != nil {
			return err
		}

		now := s.now()
		balance, ok, err := q.DebitBalance(ctx, userID, cost, now)
		if err != nil {
			return err
		}
		if !ok {
			// Commit anyway so a wallet created above is kept.
			shortage = &domain.InsufficientCreditError{Feature: feature, Required: cost, Balance: w.Balance}
			return nil
		}

		txn := &domain.Transaction{
			ID:          id.NewTransactionID(),
			WalletID:    w.ID,
			Amount:      -cost,
			Type:        domain.TxUsage,
			Description: string(feature),
			CreatedAt:   now,
		}
		if _, err := q.InsertTransaction(ctx, txn); err != nil {
			return err
		}
		result = domain.DebitResult{Success: true, NewBalance: balance, TransactionID: txn.ID}
		return nil
	})
	if err != nil {
		err = persistence("debit", err)
		telemetry.EndSpan(span, err)
		return domain.DebitResult{}, err
	}
	if shortage != nil {
		span.SetAttributes(attribute.Bool("ledger.insufficient", true))
		span.End()
		s.logger.Info("debit refused",
			slog.String("user_id", userID),
			slog.String("feature", string(feature)),
			slog.Int64("required", shortage.Required),
			slog.Int64("balance", shortage.Balance),
		)
		return domain.DebitResult{}, shortage
	}

	span.End()
	s.logger.Info("wallet debited",
		slog.String("user_id", userID),
		slog.String("feature", string(feature)),
		slog.Int64("cost", cost),
		slog.Int64("new_balance", result.NewBalance),
	)
	return result, nil
}

// Credit adds credits. A ReferenceID that was already applied is reported
// as a duplicate, not an error, and changes nothing.
func (s *Service) Credit(ctx context.Context, req CreditRequest) (domain.CreditResult, error) {
	if err := req.validate(); err != nil {
		return domain.CreditResult{}, err
	}

	ctx, span := telemetry.StartSpan(ctx, "ledger.credit",
		attribute.String("ledger.type", string(req.Type)),
		attribute.Int64("ledger.amount", req.Amount))

	var result domain.CreditResult
	err := s.store.RunInTx(ctx, func(q storage.Queries) error {
		var err error
		result, err = s.CreditWith(ctx, q, req)
		return err
	})
	if err != nil {
		err = persistence("credit", err)
	}
	telemetry.EndSpan(span, err)
	return result, err
}

// CreditWith applies req through q, which must be inside a transaction the
// caller commits. It lets the reconciler record a payment event atomically
// with the credit it causes.
func (s *Service) CreditWith(ctx context.Context, q storage.Queries, req CreditRequest) (domain.CreditResult, error) {
	if err := req.validate(); err != nil {
		return domain.CreditResult{}, err
	}

	w, err := s.ensureWallet(ctx, q, req.UserID)
	if err != nil {
		return domain.CreditResult{}, err
	}

	now := s.now()
	txn := &domain.Transaction{
		ID:          id.NewTransactionID(),
		WalletID:    w.ID,
		Amount:      req.Amount,
		Type:        req.Type,
		Description: req.Description,
		CreatedAt:   now,
	}
	if req.ReferenceID != "" {
		ref := req.ReferenceID
		txn.ReferenceID = &ref
	}

	inserted, err := q.InsertTransaction(ctx, txn)
	if err != nil {
		return domain.CreditResult{}, err
	}
	if !inserted {
		s.logger.Info("duplicate credit ignored",
			slog.String("user_id", req.UserID),
			slog.String("reference_id", req.ReferenceID),
		)
		return domain.CreditResult{Duplicate: true, NewBalance: w.Balance}, nil
	}

	balance, err := q.CreditBalance(ctx, req.UserID, req.Amount, now)
	if err != nil {
		return domain.CreditResult{}, err
	}

	s.logger.Info("wallet credited",
		slog.String("user_id", req.UserID),
		slog.String("type", string(req.Type)),
		slog.Int64("amount", req.Amount),
		slog.String("reference_id", req.ReferenceID),
		slog.Int64("new_balance", balance),
	)
	return domain.CreditResult{Applied: true, NewBalance: balance, TransactionID: txn.ID}, nil
}

// History returns the user's most recent transactions, newest first.
// limit is clamped to [1, MaxHistoryLimit]; zero means the default.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]domain.Transaction, error) {
	switch {
	case limit == 0:
		limit = DefaultHistoryLimit
	case limit < 1:
		limit = 1
	case limit > MaxHistoryLimit:
		limit = MaxHistoryLimit
	}

	w, err := s.GetOrCreateWallet(ctx, userID)
	if err != nil {
		return nil, err
	}
	txns, err := s.store.ListTransactions(ctx, w.ID, limit)
	if err != nil {
		return nil, persistence("list transactions", err)
	}
	return txns, nil
}

// Use charges for one use of feature unless an active subscription covers
// it. On a shortfall the result describes it and the error is a
// *domain.InsufficientCreditError.
func (s *Service) Use(ctx context.Context, userID string, feature domain.Feature) (domain.UsageResult, error) {
	cost, err := FeatureCost(feature)
	if err != nil {
		return domain.UsageResult{}, err
	}
	if err := validateUser(userID); err != nil {
		return domain.UsageResult{}, err
	}

	sub, err := s.store.GetSubscriptionByUser(ctx, userID)
	if err != nil && !errors.Is(err, domain.ErrSubscriptionNotFound) {
		return domain.UsageResult{}, persistence("get subscription", err)
	}
	if sub.GrantsUnlimited(s.now()) {
		w, err := s.GetOrCreateWallet(ctx, userID)
		if err != nil {
			return domain.UsageResult{}, err
		}
		s.logger.Info("feature covered by subscription",
			slog.String("user_id", userID),
			slog.String("feature", string(feature)),
			slog.String("plan_id", sub.PlanID),
		)
		return domain.UsageResult{Success: true, NewBalance: w.Balance, Unlimited: true}, nil
	}

	res, err := s.Debit(ctx, userID, feature)
	if err != nil {
		var ic *domain.InsufficientCreditError
		if errors.As(err, &ic) {
			return domain.UsageResult{Required: ic.Required, Balance: ic.Balance}, err
		}
		return domain.UsageResult{}, err
	}
	return domain.UsageResult{Success: true, Cost: cost, NewBalance: res.NewBalance}, nil
}

// Balance summarizes the user's wallet and subscription.
func (s *Service) Balance(ctx context.Context, userID string) (domain.BalanceSummary, error) {
	w, err := s.GetOrCreateWallet(ctx, userID)
	if err != nil {
		return domain.BalanceSummary{}, err
	}

	summary := domain.BalanceSummary{Balance: w.Balance}
	sub, err := s.store.GetSubscriptionByUser(ctx, userID)
	switch {
	case errors.Is(err, domain.ErrSubscriptionNotFound):
	case err != nil:
		return domain.BalanceSummary{}, persistence("get subscription", err)
	default:
		summary.PlanID = sub.PlanID
		summary.SubscriptionActive = sub.GrantsUnlimited(s.now())
		end := sub.CurrentPeriodEnd
		summary.CurrentPeriodEnd = &end
	}
	return summary, nil
}

// Verify checks that the wallet balance equals the sum of its
// transactions.
func (s *Service) Verify(ctx context.Context, userID string) error {
	w, err := s.GetOrCreateWallet(ctx, userID)
	if err != nil {
		return err
	}
	sum, err := s.store.SumTransactions(ctx, w.ID)
	if err != nil {
		return persistence("sum transactions", err)
	}
	if sum != w.Balance {
		return fmt.Errorf("wallet %s balance %d does not match transaction sum %d", w.ID, w.Balance, sum)
	}
	return nil
}
