package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/carelog/internal/auth"
	"github.com/tjfontaine/carelog/internal/checkout"
	"github.com/tjfontaine/carelog/internal/domain"
	"github.com/tjfontaine/carelog/internal/ledger"
	"github.com/tjfontaine/carelog/internal/reconcile"
)

// maxTextLength bounds /v1/interpret input in runes.
const maxTextLength = 2000

// Interpreter turns a message into a Reading.
type Interpreter interface {
	InterpretMessage(ctx context.Context, text string) domain.Reading
}

// Ledger is the credit surface the handlers use.
type Ledger interface {
	CheckBalance(ctx context.Context, userID string, feature domain.Feature) (domain.BalanceCheck, error)
	Use(ctx context.Context, userID string, feature domain.Feature) (domain.UsageResult, error)
	Credit(ctx context.Context, req ledger.CreditRequest) (domain.CreditResult, error)
	History(ctx context.Context, userID string, limit int) ([]domain.Transaction, error)
	Balance(ctx context.Context, userID string) (domain.BalanceSummary, error)
}

// PaymentEvents processes raw webhook bodies.
type PaymentEvents interface {
	HandleEvent(ctx context.Context, raw []byte) (reconcile.Outcome, error)
}

// Checkout starts purchase sessions.
type Checkout interface {
	CreateSession(ctx context.Context, req checkout.SessionRequest) (*checkout.Session, error)
}

// SignatureVerifier authenticates webhook deliveries.
type SignatureVerifier interface {
	Verify(h http.Header, body []byte) error
}

// APIOption configures an API.
type APIOption func(*API)

// WithAuthenticator enables JWT user authentication. Without it the
// X-User-ID header is trusted.
func WithAuthenticator(a *auth.Authenticator) APIOption {
	return func(api *API) {
		api.authenticator = a
	}
}

// WithCheckout sets the checkout client used by /v1/credits/purchase.
func WithCheckout(c Checkout) APIOption {
	return func(api *API) {
		api.checkout = c
	}
}

// WithWebhookVerifier sets the webhook signature verifier.
func WithWebhookVerifier(v SignatureVerifier) APIOption {
	return func(api *API) {
		api.verifier = v
	}
}

// WithAsyncAck acknowledges webhooks with 202 before processing them.
// The provider treats the delivery as done once acknowledged, so an event
// whose processing then fails is logged and not redelivered. Drain waits
// for the events still being processed.
func WithAsyncAck(enabled bool) APIOption {
	return func(api *API) {
		api.asyncAck = enabled
	}
}

// WithInternalToken sets the shared token for /internal routes.
func WithInternalToken(token string) APIOption {
	return func(api *API) {
		api.internalToken = token
	}
}

// WithAdmin mounts h under /internal/admin behind the internal token.
func WithAdmin(h http.Handler) APIOption {
	return func(api *API) {
		api.admin = h
	}
}

// WithAPILogger sets the logger.
func WithAPILogger(logger *slog.Logger) APIOption {
	return func(api *API) {
		api.logger = logger
	}
}

// API holds the HTTP handlers.
type API struct {
	interpreter   Interpreter
	ledger        Ledger
	events        PaymentEvents
	checkout      Checkout
	verifier      SignatureVerifier
	authenticator *auth.Authenticator
	internalToken string
	asyncAck      bool
	admin         http.Handler
	logger        *slog.Logger

	pending sync.WaitGroup
}

// NewAPI creates the handler set.
func NewAPI(interpreter Interpreter, l Ledger, events PaymentEvents, opts ...APIOption) *API {
	api := &API{
		interpreter: interpreter,
		ledger:      l,
		events:      events,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(api)
	}
	return api
}

// Drain blocks until acknowledged webhooks finish processing or ctx is
// done. Call it after the HTTP server has stopped accepting requests.
func (api *API) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		api.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain payment webhooks: %w", ctx.Err())
	}
}

// Mount registers the routes on r.
func (api *API) Mount(r chi.Router) {
	r.Get("/healthz", api.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(api.authenticator))
		r.Use(CreditHeadersMiddleware)

		r.Post("/interpret", api.handleInterpret)
		r.Get("/credits/balance", api.handleBalance)
		r.Get("/credits/check", api.handleCheck)
		r.Post("/credits/use", api.handleUse)
		r.Post("/credits/purchase", api.handlePurchase)
		r.Get("/credits/history", api.handleHistory)
	})

	r.Post("/webhooks/payments", api.handlePaymentWebhook)

	r.Route("/internal", func(r chi.Router) {
		r.Use(InternalTokenMiddleware(api.internalToken))
		r.Post("/credits/add", api.handleAddCredits)
		if api.admin != nil {
			r.Mount("/admin", api.admin)
		}
	})
}

func (api *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type interpretRequest struct {
	Text   string `json:"text"`
	UserID string `json:"user_id,omitempty"`
}

func (api *API) handleInterpret(w http.ResponseWriter, r *http.Request) {
	var req interpretRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, r, domain.ErrValidation("text", "is required").WithCode(domain.ErrorCodeMissingField))
		return
	}
	if len([]rune(req.Text)) > maxTextLength {
		writeError(w, r, domain.ErrValidation("text", "must be at most "+strconv.Itoa(maxTextLength)+" characters"))
		return
	}

	reading := api.interpreter.InterpretMessage(r.Context(), req.Text)
	AddLogField(r.Context(), "reading_kind", string(reading.Kind))
	AddLogField(r.Context(), "interpreter", string(reading.Interpreter))
	writeJSON(w, http.StatusOK, reading)
}

func (api *API) handleBalance(w http.ResponseWriter, r *http.Request) {
	summary, err := api.ledger.Balance(r.Context(), UserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	SetCredits(r.Context(), CreditInfo{Balance: summary.Balance, Unlimited: summary.SubscriptionActive})
	writeJSON(w, http.StatusOK, summary)
}

func (api *API) handleCheck(w http.ResponseWriter, r *http.Request) {
	feature := domain.Feature(r.URL.Query().Get("feature"))
	if feature == "" {
		writeError(w, r, domain.ErrValidation("feature", "is required").WithCode(domain.ErrorCodeMissingField))
		return
	}

	check, err := api.ledger.CheckBalance(r.Context(), UserID(r.Context()), feature)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, check)
}

type useRequest struct {
	Feature domain.Feature `json:"feature"`
}

type insufficientResponse struct {
	Success  bool           `json:"success"`
	Feature  domain.Feature `json:"feature"`
	Required int64          `json:"required"`
	Balance  int64          `json:"balance"`
}

func (api *API) handleUse(w http.ResponseWriter, r *http.Request) {
	var req useRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Feature == "" {
		writeError(w, r, domain.ErrValidation("feature", "is required").WithCode(domain.ErrorCodeMissingField))
		return
	}
	AddLogField(r.Context(), "feature", string(req.Feature))

	res, err := api.ledger.Use(r.Context(), UserID(r.Context()), req.Feature)
	if errors.Is(err, domain.ErrInsufficientCredit) {
		// Expected outcome, not a fault; the body carries the shortfall.
		SetCredits(r.Context(), CreditInfo{Balance: res.Balance, Required: res.Required})
		writeJSON(w, http.StatusPaymentRequired, insufficientResponse{
			Success:  false,
			Feature:  req.Feature,
			Required: res.Required,
			Balance:  res.Balance,
		})
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	SetCredits(r.Context(), CreditInfo{Balance: res.NewBalance, Cost: res.Cost, Unlimited: res.Unlimited})
	writeJSON(w, http.StatusOK, res)
}

type purchaseRequest struct {
	PackageID string `json:"package_id"`
	ReturnURL string `json:"return_url,omitempty"`
}

type purchaseResponse struct {
	CheckoutURL string `json:"checkout_url"`
	SessionID   string `json:"session_id"`
	PackageID   string `json:"package_id"`
	Credits     int64  `json:"credits"`
}

func (api *API) handlePurchase(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	pkg, err := ledger.LookupPackage(req.PackageID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if api.checkout == nil {
		writeError(w, r, domain.ErrDependencyUnavailable("checkout", errors.New("checkout provider not configured")))
		return
	}

	session, err := api.checkout.CreateSession(r.Context(), checkout.SessionRequest{
		UserID:    UserID(r.Context()),
		PackageID: pkg.ID,
		Credits:   pkg.Credits,
		ReturnURL: req.ReturnURL,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	AddLogField(r.Context(), "session_id", session.SessionID)
	writeJSON(w, http.StatusOK, purchaseResponse{
		CheckoutURL: session.CheckoutURL,
		SessionID:   session.SessionID,
		PackageID:   pkg.ID,
		Credits:     pkg.Credits,
	})
}

type historyResponse struct {
	Transactions []domain.Transaction `json:"transactions"`
}

func (api *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, r, domain.ErrValidation("limit", "must be an integer"))
			return
		}
		limit = n
	}

	txns, err := api.ledger.History(r.Context(), UserID(r.Context()), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if txns == nil {
		txns = []domain.Transaction{}
	}
	writeJSON(w, http.StatusOK, historyResponse{Transactions: txns})
}

type webhookResponse struct {
	Status reconcile.Outcome `json:"status"`
}

func (api *API) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil || len(body) > maxBodyBytes {
		writeError(w, r, domain.ErrValidation("body", "unreadable or too large"))
		return
	}
	if api.verifier != nil {
		if err := api.verifier.Verify(r.Header, body); err != nil {
			writeError(w, r, err)
			return
		}
	}
	AddLogField(r.Context(), "webhook_id", r.Header.Get(reconcile.HeaderWebhookID))

	if api.asyncAck {
		// The provider only needs to know the delivery arrived; duplicates
		// from its retries are absorbed by the reconciler.
		ctx := context.WithoutCancel(r.Context())
		api.pending.Add(1)
		go func() {
			defer api.pending.Done()
			defer func() {
				if p := recover(); p != nil {
					api.logger.Error("payment webhook panicked", slog.Any("panic", p))
				}
			}()
			if _, err := api.events.HandleEvent(ctx, body); err != nil {
				api.logger.Error("async payment webhook failed", slog.String("error", err.Error()))
			}
		}()
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
		return
	}

	outcome, err := api.events.HandleEvent(r.Context(), body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	AddLogField(r.Context(), "outcome", string(outcome))
	writeJSON(w, http.StatusOK, webhookResponse{Status: outcome})
}

type addCreditsRequest struct {
	UserID      string                 `json:"user_id"`
	Credits     int64                  `json:"credits"`
	Type        domain.TransactionType `json:"type,omitempty"`
	ReferenceID string                 `json:"reference_id,omitempty"`
	Description string                 `json:"description,omitempty"`
}

func (api *API) handleAddCredits(w http.ResponseWriter, r *http.Request) {
	var req addCreditsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Type == "" {
		req.Type = domain.TxAdjustment
	}

	res, err := api.ledger.Credit(r.Context(), ledger.CreditRequest{
		UserID:      req.UserID,
		Amount:      req.Credits,
		Type:        req.Type,
		ReferenceID: req.ReferenceID,
		Description: req.Description,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	AddLogField(r.Context(), "user_id", req.UserID)
	writeJSON(w, http.StatusOK, res)
}
