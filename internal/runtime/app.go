// Package runtime assembles the service from configuration and manages its
// lifecycle. The same App backs the HTTP server and the CLI's offline
// commands.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/tjfontaine/carelog/internal/api/controlplane"
	"github.com/tjfontaine/carelog/internal/auth"
	"github.com/tjfontaine/carelog/internal/checkout"
	"github.com/tjfontaine/carelog/internal/config"
	"github.com/tjfontaine/carelog/internal/interpret"
	"github.com/tjfontaine/carelog/internal/ledger"
	"github.com/tjfontaine/carelog/internal/reconcile"
	"github.com/tjfontaine/carelog/internal/server"
	"github.com/tjfontaine/carelog/internal/storage"
	"github.com/tjfontaine/carelog/internal/telemetry"
)

// ServiceName identifies the service in traces.
const ServiceName = "carelog"

// App wires storage, the ledger, the interpreter and the HTTP surface.
// It can be embedded in a larger program or run standalone.
type App struct {
	cfg        *config.Config
	configPath string
	watcher    *config.Watcher

	store         storage.Store
	ownsStore     bool
	ledger        *ledger.Service
	arbiter       *interpret.Arbiter
	reconciler    *reconcile.Reconciler
	checkout      *checkout.Client
	authenticator *auth.Authenticator
	server        *server.Server
	api           *server.API

	httpClient     *http.Client
	logger         *slog.Logger
	logLevel       *slog.LevelVar
	tracerShutdown func(context.Context) error

	errs   chan error
	cancel context.CancelFunc
	mu     sync.RWMutex
}

// New creates an App with the given options. Storage is opened here, so
// the ledger and interpreter are usable without calling Start.
func New(opts ...Option) (*App, error) {
	a := &App{
		ownsStore:  true,
		httpClient: http.DefaultClient,
		logger:     slog.Default(),
		errs:       make(chan error, 1),
	}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}
	if a.cfg == nil {
		return nil, errors.New("config required (use WithConfigFile or WithConfig)")
	}

	if a.store == nil {
		store, err := openStore(a.cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		a.store = store
		a.ownsStore = true
	}

	if err := a.build(); err != nil {
		if a.ownsStore {
			a.store.Close()
		}
		return nil, err
	}
	return a, nil
}

func (a *App) build() error {
	cfg := a.cfg
	a.applyLogLevel(cfg.Log.Level)

	a.ledger = ledger.New(a.store,
		ledger.WithSignupBonus(cfg.Ledger.SignupBonus),
		ledger.WithLogger(a.logger))

	a.arbiter = interpret.New(
		interpret.WithGenerative(newGenerative(cfg, a.httpClient, a.logger)),
		interpret.WithThreshold(cfg.Interpret.Threshold),
		interpret.WithLogger(a.logger))

	a.reconciler = reconcile.New(a.store, a.ledger, reconcile.WithLogger(a.logger))

	verifier, err := reconcile.NewVerifier(cfg.Payments.WebhookSecret)
	if err != nil {
		return fmt.Errorf("webhook secret: %w", err)
	}
	if verifier == nil {
		a.logger.Warn("payments.webhook_secret not set, webhook signatures are not verified")
	}

	co := cfg.Payments.Checkout
	a.checkout = checkout.NewClient(co.BaseURL, co.APIKey,
		checkout.WithHTTPClient(a.httpClient),
		checkout.WithReturnURL(co.ReturnURL))

	a.authenticator = auth.NewAuthenticator(cfg.Auth.JWTSecret, auth.WithIssuer(cfg.Auth.Issuer))
	if a.authenticator == nil {
		a.logger.Warn("auth.jwt_secret not set, trusting the X-User-ID header (development mode)")
	}

	apiOpts := []server.APIOption{
		server.WithAuthenticator(a.authenticator),
		server.WithAsyncAck(cfg.Payments.AsyncAck),
		server.WithInternalToken(cfg.Auth.InternalToken),
		server.WithAdmin(controlplane.NewServer(a.overview, a.store, a.ledger)),
		server.WithAPILogger(a.logger),
	}
	if verifier != nil {
		apiOpts = append(apiOpts, server.WithWebhookVerifier(verifier))
	}
	if a.checkout.Configured() {
		apiOpts = append(apiOpts, server.WithCheckout(a.checkout))
	}

	a.server = server.New(server.Config{
		Port:           cfg.Server.Port,
		RequestTimeout: cfg.Server.RequestTimeout,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
	}, a.logger)
	a.api = server.NewAPI(a.arbiter, a.ledger, a.reconciler, apiOpts...)
	a.api.Mount(a.server.Router)
	return nil
}

// Start begins serving and, when the App was built from a file, watches
// that file for changes. It returns once the listener goroutine is
// running; serve failures are reported on Errors.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	ctx, a.cancel = context.WithCancel(ctx)

	if a.cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(ServiceName, a.logger)
		if err != nil {
			return fmt.Errorf("init tracer: %w", err)
		}
		a.tracerShutdown = shutdown
	}

	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.cfg, a.logger)
		if err != nil {
			return fmt.Errorf("create config watcher: %w", err)
		}
		if err := w.Watch(ctx, a.reload); err != nil {
			a.logger.Warn("config hot reload disabled", slog.String("error", err.Error()))
		} else {
			a.watcher = w
		}
	}

	go func() {
		if err := a.server.Start(); err != nil {
			a.errs <- err
		}
	}()

	a.logger.Info("carelog started",
		slog.Int("port", a.cfg.Server.Port),
		slog.String("storage", a.cfg.Storage.Driver),
		slog.Bool("generative", a.cfg.GenerativeEnabled()),
		slog.Float64("threshold", a.arbiter.Threshold()))
	return nil
}

// Errors delivers a listener failure, if one occurs.
func (a *App) Errors() <-chan error {
	return a.errs
}

// Shutdown stops the server, waiting for in-flight requests and
// acknowledged webhooks until ctx is done, then releases resources. The
// lock is not held while draining because handlers read Config.
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	cancel, watcher, tracerShutdown := a.cancel, a.watcher, a.tracerShutdown
	a.mu.Unlock()

	a.logger.Info("shutting down")

	if cancel != nil {
		cancel()
	}

	var errs []error
	if err := a.server.Shutdown(ctx); err != nil {
		a.logger.Error("failed to shutdown server", slog.String("error", err.Error()))
		errs = append(errs, err)
	}
	if err := a.api.Drain(ctx); err != nil {
		a.logger.Error("payment webhooks still in flight", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if watcher != nil {
		if err := watcher.Close(); err != nil {
			a.logger.Error("failed to close config watcher", slog.String("error", err.Error()))
		}
	}

	if tracerShutdown != nil {
		if err := tracerShutdown(ctx); err != nil {
			a.logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}

	if err := a.Close(); err != nil {
		errs = append(errs, err)
	}

	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

// Close releases storage without touching the server. The CLI's offline
// commands use it in place of Shutdown.
func (a *App) Close() error {
	if !a.ownsStore || a.store == nil {
		return nil
	}
	if err := a.store.Close(); err != nil {
		a.logger.Error("failed to close storage", slog.String("error", err.Error()))
		return err
	}
	return nil
}

// reload applies the settings that can change while running: the
// interpret threshold and the log level. Everything else is kept until
// restart.
func (a *App) reload(cfg *config.Config) {
	a.mu.Lock()
	prev := a.cfg
	a.cfg = cfg
	a.mu.Unlock()

	a.arbiter.SetThreshold(cfg.Interpret.Threshold)
	a.applyLogLevel(cfg.Log.Level)

	if prev.Storage != cfg.Storage || prev.Server != cfg.Server ||
		prev.Generative != cfg.Generative || prev.Auth != cfg.Auth || prev.Payments != cfg.Payments {
		a.logger.Warn("some config changes take effect on restart")
	}
	a.logger.Info("reload complete", slog.Float64("threshold", a.arbiter.Threshold()))
}

func (a *App) applyLogLevel(level string) {
	if a.logLevel == nil {
		return
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		a.logger.Warn("ignoring unknown log level", slog.String("level", level))
		return
	}
	a.logLevel.Set(l)
}

// Config returns the current configuration.
func (a *App) Config() *config.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg
}

// Handler returns the full HTTP stack, for tests and embedding.
func (a *App) Handler() http.Handler {
	return a.server
}

// Ledger returns the credit ledger.
func (a *App) Ledger() *ledger.Service {
	return a.ledger
}

// Interpreter returns the message interpreter.
func (a *App) Interpreter() *interpret.Arbiter {
	return a.arbiter
}

// Authenticator returns the JWT authenticator, or nil in header mode.
func (a *App) Authenticator() *auth.Authenticator {
	return a.authenticator
}
