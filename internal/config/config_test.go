package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.RequestTimeout != 30*time.Second {
		t.Errorf("request_timeout = %v, want 30s", cfg.Server.RequestTimeout)
	}
	if cfg.Interpret.Threshold != 0.85 {
		t.Errorf("threshold = %v, want 0.85", cfg.Interpret.Threshold)
	}
	if cfg.Generative.Timeout != 8*time.Second {
		t.Errorf("generative.timeout = %v, want 8s", cfg.Generative.Timeout)
	}
	if cfg.Ledger.SignupBonus != 10 {
		t.Errorf("signup_bonus = %d, want 10", cfg.Ledger.SignupBonus)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Errorf("storage.driver = %q, want sqlite", cfg.Storage.Driver)
	}
	if cfg.GenerativeEnabled() {
		t.Error("GenerativeEnabled() = true with no key")
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
server:
  port: 9000
interpret:
  threshold: 0.9
generative:
  provider: anthropic
  api_key: ${CARELOG_TEST_ANTHROPIC_KEY}
  model: claude-3-5-haiku-latest
  timeout: 3s
payments:
  async_ack: true
  checkout:
    base_url: https://test.dodopayments.com
`)
	t.Setenv("CARELOG_TEST_ANTHROPIC_KEY", "sk-ant-test")
	t.Setenv("CARELOG_SERVER__PORT", "9100")
	t.Setenv("CARELOG_LEDGER__SIGNUP_BONUS", "25")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9100 {
		t.Errorf("port = %d, want env override 9100", cfg.Server.Port)
	}
	if cfg.Interpret.Threshold != 0.9 {
		t.Errorf("threshold = %v, want 0.9", cfg.Interpret.Threshold)
	}
	if cfg.Generative.APIKey != "sk-ant-test" {
		t.Errorf("api_key = %q, want substituted value", cfg.Generative.APIKey)
	}
	if cfg.Generative.Timeout != 3*time.Second {
		t.Errorf("timeout = %v, want 3s", cfg.Generative.Timeout)
	}
	if !cfg.GenerativeEnabled() {
		t.Error("GenerativeEnabled() = false")
	}
	if cfg.Ledger.SignupBonus != 25 {
		t.Errorf("signup_bonus = %d, want 25", cfg.Ledger.SignupBonus)
	}
	if !cfg.Payments.AsyncAck || cfg.Payments.Checkout.BaseURL != "https://test.dodopayments.com" {
		t.Errorf("payments = %+v", cfg.Payments)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"threshold too high", "interpret:\n  threshold: 1.5\n"},
		{"negative bonus", "ledger:\n  signup_bonus: -1\n"},
		{"unknown provider", "generative:\n  provider: llama\n"},
		{"bad yaml", "server: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), tt.body)
			if _, err := Load(path); err == nil {
				t.Error("Load() error = nil, want error")
			}
		})
	}
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("TEST_VAR", "test-value")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"simple substitution", "${TEST_VAR}", "test-value"},
		{"substitution in string", "prefix-${TEST_VAR}-suffix", "prefix-test-value-suffix"},
		{"no substitution", "plain-string", "plain-string"},
		{"undefined var", "${CARELOG_UNDEFINED_VAR}", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := substituteEnvVars(tt.input); got != tt.want {
				t.Errorf("substituteEnvVars() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWatcher_Reload(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "interpret:\n  threshold: 0.85\n")

	initial, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	w, err := NewWatcher(path, initial, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan float64, 16)
	if err := w.Watch(ctx, func(cfg *Config) { changes <- cfg.Interpret.Threshold }); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	writeConfig(t, dir, "interpret:\n  threshold: 0.7\n")

	// A truncating write can surface as more than one event.
	deadline := time.After(5 * time.Second)
	for got := 0.0; got != 0.7; {
		select {
		case got = <-changes:
		case <-deadline:
			t.Fatal("no reload to 0.7 within 5s")
		}
	}
	if w.Current().Interpret.Threshold != 0.7 {
		t.Errorf("Current() threshold = %v, want 0.7", w.Current().Interpret.Threshold)
	}
}

func TestNewWatcher_EmptyPath(t *testing.T) {
	if _, err := NewWatcher("", nil, nil); err == nil {
		t.Error("NewWatcher(\"\") error = nil")
	}
}
