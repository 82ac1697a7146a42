// Package controlplane serves read-only operational views of the running
// service: process stats, effective configuration, the payment event log
// and per-user wallets.
package controlplane

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/carelog/internal/domain"
	"github.com/tjfontaine/carelog/internal/ledger"
)

// DefaultEventLimit and MaxEventLimit bound /api/payment-events.
const (
	DefaultEventLimit = 50
	MaxEventLimit     = 500
)

// EventLog lists processed webhook deliveries.
type EventLog interface {
	ListPaymentEvents(ctx context.Context, limit int) ([]domain.PaymentEvent, error)
}

// Wallets reads wallet state.
type Wallets interface {
	Balance(ctx context.Context, userID string) (domain.BalanceSummary, error)
	History(ctx context.Context, userID string, limit int) ([]domain.Transaction, error)
}

// Overview describes the effective configuration. Secrets never appear.
type Overview struct {
	StorageDriver      string  `json:"storage_driver"`
	GenerativeProvider string  `json:"generative_provider,omitempty"`
	GenerativeModel    string  `json:"generative_model,omitempty"`
	SignupBonus        int64   `json:"signup_bonus"`
	AuthMode           string  `json:"auth_mode"`
	WebhookSigning     bool    `json:"webhook_signing"`
	AsyncAck           bool    `json:"async_ack"`
	CheckoutConfigured bool    `json:"checkout_configured"`
	Threshold          float64 `json:"threshold"`
}

type Server struct {
	router    *chi.Mux
	startTime time.Time
	overview  func() Overview
	events    EventLog
	wallets   Wallets
}

// NewServer creates the control plane. overview is called per request so
// hot-reloaded values are current.
func NewServer(overview func() Overview, events EventLog, wallets Wallets) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		startTime: time.Now(),
		overview:  overview,
		events:    events,
		wallets:   wallets,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Get("/api/stats", s.handleStats)
	s.router.Get("/api/overview", s.handleOverview)
	s.router.Get("/api/payment-events", s.handleListPaymentEvents)
	s.router.Get("/api/wallets/{user_id}", s.handleWalletDetail)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type StatsResponse struct {
	Uptime       string      `json:"uptime"`
	GoVersion    string      `json:"go_version"`
	NumGoroutine int         `json:"num_goroutine"`
	Memory       MemoryStats `json:"memory"`
}

type MemoryStats struct {
	Alloc      uint64 `json:"alloc"`
	TotalAlloc uint64 `json:"total_alloc"`
	Sys        uint64 `json:"sys"`
	NumGC      uint32 `json:"num_gc"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	writeJSON(w, http.StatusOK, StatsResponse{
		Uptime:       time.Since(s.startTime).String(),
		GoVersion:    runtime.Version(),
		NumGoroutine: runtime.NumGoroutine(),
		Memory: MemoryStats{
			Alloc:      m.Alloc,
			TotalAlloc: m.TotalAlloc,
			Sys:        m.Sys,
			NumGC:      m.NumGC,
		},
	})
}

type OverviewResponse struct {
	Overview
	Packages []domain.Package `json:"packages"`
	Features []FeatureCost    `json:"features"`
}

type FeatureCost struct {
	Feature domain.Feature `json:"feature"`
	Cost    int64          `json:"cost"`
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	resp := OverviewResponse{Packages: ledger.Packages()}
	if s.overview != nil {
		resp.Overview = s.overview()
	}
	for _, f := range ledger.Features() {
		cost, _ := ledger.FeatureCost(f)
		resp.Features = append(resp.Features, FeatureCost{Feature: f, Cost: cost})
	}
	writeJSON(w, http.StatusOK, resp)
}

type PaymentEventListResponse struct {
	Events []domain.PaymentEvent `json:"events"`
	Limit  int                   `json:"limit"`
}

func (s *Server) handleListPaymentEvents(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r.URL.Query().Get("limit"), DefaultEventLimit, MaxEventLimit)

	events, err := s.events.ListPaymentEvents(r.Context(), limit)
	if err != nil {
		writeError(w, domain.ErrPersistence("list payment events", err))
		return
	}
	if events == nil {
		events = []domain.PaymentEvent{}
	}
	writeJSON(w, http.StatusOK, PaymentEventListResponse{Events: events, Limit: limit})
}

type WalletDetailResponse struct {
	UserID       string                `json:"user_id"`
	Summary      domain.BalanceSummary `json:"summary"`
	Transactions []domain.Transaction  `json:"transactions"`
}

func (s *Server) handleWalletDetail(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	limit := parseLimit(r.URL.Query().Get("limit"), ledger.DefaultHistoryLimit, ledger.MaxHistoryLimit)

	summary, err := s.wallets.Balance(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	txns, err := s.wallets.History(r.Context(), userID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, WalletDetailResponse{UserID: userID, Summary: summary, Transactions: txns})
}

func parseLimit(raw string, def, max int) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	de := domain.AsError(err)
	writeJSON(w, de.HTTPStatusCode(), map[string]*domain.Error{"error": de})
}
