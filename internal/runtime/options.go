package runtime

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tjfontaine/carelog/internal/config"
	"github.com/tjfontaine/carelog/internal/storage"
)

// Option is a functional option for configuring an App.
type Option func(*App) error

// WithConfigFile loads configuration from path and watches it for changes
// once the App is started. An empty path uses config.DefaultPath.
func WithConfigFile(path string) Option {
	return func(a *App) error {
		if path == "" {
			path = config.DefaultPath
		}
		cfg, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		a.cfg = cfg
		a.configPath = path
		return nil
	}
}

// WithConfig uses an already loaded configuration. Nothing is watched.
func WithConfig(cfg *config.Config) Option {
	return func(a *App) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		a.cfg = cfg
		a.configPath = ""
		return nil
	}
}

// WithStore uses store instead of opening the configured database. The
// caller keeps ownership: Shutdown does not close it.
func WithStore(store storage.Store) Option {
	return func(a *App) error {
		a.store = store
		a.ownsStore = false
		return nil
	}
}

// WithHTTPClient sets the client used for model and checkout calls.
func WithHTTPClient(c *http.Client) Option {
	return func(a *App) error {
		a.httpClient = c
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *App) error {
		a.logger = logger
		return nil
	}
}

// WithLogLevel ties level to log.level. It is set at construction and
// again on every config reload.
func WithLogLevel(level *slog.LevelVar) Option {
	return func(a *App) error {
		a.logLevel = level
		return nil
	}
}
