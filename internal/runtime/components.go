package runtime

import (
	"log/slog"
	"net/http"

	"github.com/tjfontaine/carelog/internal/api/anthropic"
	"github.com/tjfontaine/carelog/internal/api/controlplane"
	"github.com/tjfontaine/carelog/internal/api/openai"
	"github.com/tjfontaine/carelog/internal/config"
	"github.com/tjfontaine/carelog/internal/interpret/generative"
	"github.com/tjfontaine/carelog/internal/storage"
	"github.com/tjfontaine/carelog/internal/storage/memory"
	"github.com/tjfontaine/carelog/internal/storage/sqldb"
	"github.com/tjfontaine/carelog/internal/tokens"
)

// Models used when generative.model is blank.
const (
	DefaultAnthropicModel = "claude-3-5-haiku-latest"
	DefaultOpenAIModel    = "gpt-4o-mini"
)

// openStore opens the configured backend. "memory" keeps everything in
// process and is meant for local runs.
func openStore(cfg config.StorageConfig) (storage.Store, error) {
	if cfg.Driver == "memory" {
		return memory.New(), nil
	}
	return sqldb.New(sqldb.Config{Driver: cfg.Driver, DSN: cfg.DSN})
}

// newGenerative builds the model fallback. It returns an interpreter
// without a backend when none is configured; the arbiter then relies on
// pattern rules alone.
func newGenerative(cfg *config.Config, httpClient *http.Client, logger *slog.Logger) *generative.Interpreter {
	gc := cfg.Generative
	opts := []generative.Option{
		generative.WithTimeout(gc.Timeout),
		generative.WithMaxInputTokens(gc.MaxInputTokens),
		generative.WithLogger(logger),
	}
	if !cfg.GenerativeEnabled() {
		return generative.New(nil, opts...)
	}

	var backend generative.Backend
	switch gc.Provider {
	case "anthropic":
		model := gc.Model
		if model == "" {
			model = DefaultAnthropicModel
		}
		client := anthropic.NewClient(gc.APIKey,
			anthropic.WithBaseURL(gc.BaseURL),
			anthropic.WithHTTPClient(httpClient))
		backend = generative.NewAnthropicBackend(client, model, gc.MaxOutputTokens)
	case "openai":
		model := gc.Model
		if model == "" {
			model = DefaultOpenAIModel
		}
		client := openai.NewClient(gc.APIKey,
			openai.WithBaseURL(gc.BaseURL),
			openai.WithHTTPClient(httpClient))
		backend = generative.NewOpenAIBackend(client, model, gc.MaxOutputTokens)
		// OpenAI publishes its encodings, so the budget can be exact.
		opts = append(opts, generative.WithTokenCounter(tokens.NewCounter(model)))
	}

	logger.Info("generative interpreter enabled",
		slog.String("provider", gc.Provider),
		slog.String("base_url", gc.BaseURL))
	return generative.New(backend, opts...)
}

func authMode(cfg *config.Config) string {
	if cfg.Auth.JWTSecret == "" {
		return "header"
	}
	return "jwt"
}

// overview reports the effective configuration for the admin API.
func (a *App) overview() controlplane.Overview {
	cfg := a.Config()
	ov := controlplane.Overview{
		StorageDriver:      cfg.Storage.Driver,
		SignupBonus:        cfg.Ledger.SignupBonus,
		AuthMode:           authMode(cfg),
		WebhookSigning:     cfg.Payments.WebhookSecret != "",
		AsyncAck:           cfg.Payments.AsyncAck,
		CheckoutConfigured: a.checkout.Configured(),
		Threshold:          a.arbiter.Threshold(),
	}
	if cfg.GenerativeEnabled() {
		ov.GenerativeProvider = cfg.Generative.Provider
		ov.GenerativeModel = cfg.Generative.Model
	}
	return ov
}
