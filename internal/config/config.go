// Package config loads service configuration from config.yaml and
// CARELOG_ environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultPath is read when no --config flag is given. A missing file is
// not an error.
const DefaultPath = "config.yaml"

// EnvPrefix marks environment overrides. Double underscores separate
// nesting levels: CARELOG_SERVER__PORT sets server.port.
const EnvPrefix = "CARELOG_"

type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Log        LogConfig        `koanf:"log"`
	Storage    StorageConfig    `koanf:"storage"`
	Interpret  InterpretConfig  `koanf:"interpret"`
	Generative GenerativeConfig `koanf:"generative"`
	Ledger     LedgerConfig     `koanf:"ledger"`
	Payments   PaymentsConfig   `koanf:"payments"`
	Auth       AuthConfig       `koanf:"auth"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
}

type ServerConfig struct {
	Port           int           `koanf:"port"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
	ReadTimeout    time.Duration `koanf:"read_timeout"`
	WriteTimeout   time.Duration `koanf:"write_timeout"`
}

type LogConfig struct {
	Level string `koanf:"level"` // debug, info, warn, error
}

type StorageConfig struct {
	Driver string `koanf:"driver"` // sqlite, postgres, memory
	DSN    string `koanf:"dsn"`
}

type InterpretConfig struct {
	// Threshold is the pattern confidence at or above which the
	// generative interpreter is skipped. Reloaded on file change.
	Threshold float64 `koanf:"threshold"`
}

// GenerativeConfig selects the model backend. An empty Provider or APIKey
// disables the generative fallback.
type GenerativeConfig struct {
	Provider        string        `koanf:"provider"` // anthropic, openai
	APIKey          string        `koanf:"api_key"`
	BaseURL         string        `koanf:"base_url"`
	Model           string        `koanf:"model"`
	Timeout         time.Duration `koanf:"timeout"`
	MaxInputTokens  int           `koanf:"max_input_tokens"`
	MaxOutputTokens int           `koanf:"max_output_tokens"`
}

type LedgerConfig struct {
	SignupBonus int64 `koanf:"signup_bonus"`
}

type PaymentsConfig struct {
	WebhookSecret string         `koanf:"webhook_secret"`
	AsyncAck      bool           `koanf:"async_ack"`
	Checkout      CheckoutConfig `koanf:"checkout"`
}

type CheckoutConfig struct {
	BaseURL   string `koanf:"base_url"`
	APIKey    string `koanf:"api_key"`
	ReturnURL string `koanf:"return_url"`
}

type AuthConfig struct {
	JWTSecret     string `koanf:"jwt_secret"`
	Issuer        string `koanf:"issuer"`
	InternalToken string `koanf:"internal_token"`
}

type TelemetryConfig struct {
	Enabled bool `koanf:"enabled"`
}

var defaults = map[string]any{
	"server.port":                  8080,
	"server.request_timeout":       "30s",
	"server.read_timeout":          "15s",
	"server.write_timeout":         "60s",
	"log.level":                    "info",
	"storage.driver":               "sqlite",
	"storage.dsn":                  "carelog.db",
	"interpret.threshold":          0.85,
	"generative.timeout":           "8s",
	"generative.max_input_tokens":  512,
	"generative.max_output_tokens": 300,
	"ledger.signup_bonus":          10,
	"auth.issuer":                  "carelog",
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads path (DefaultPath if empty), then environment overrides, then
// defaults for anything still unset.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		// File not found is OK, we'll use env vars
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	for _, secret := range []*string{
		&cfg.Storage.DSN,
		&cfg.Generative.APIKey,
		&cfg.Payments.WebhookSecret,
		&cfg.Payments.Checkout.APIKey,
		&cfg.Auth.JWTSecret,
		&cfg.Auth.InternalToken,
	} {
		*secret = substituteEnvVars(*secret)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d out of range", c.Server.Port)
	}
	if t := c.Interpret.Threshold; t <= 0 || t > 1 {
		return fmt.Errorf("config: interpret.threshold %v must be in (0, 1]", t)
	}
	if c.Ledger.SignupBonus < 0 {
		return fmt.Errorf("config: ledger.signup_bonus must not be negative")
	}
	switch c.Generative.Provider {
	case "", "anthropic", "openai":
	default:
		return fmt.Errorf("config: unknown generative.provider %q", c.Generative.Provider)
	}
	return nil
}

// GenerativeEnabled reports whether a model backend is configured.
func (c *Config) GenerativeEnabled() bool {
	return c.Generative.Provider != "" && c.Generative.APIKey != ""
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
