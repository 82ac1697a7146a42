package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tjfontaine/carelog/internal/auth"
	"github.com/tjfontaine/carelog/internal/domain"
	"github.com/tjfontaine/carelog/internal/ledger"
)

// run executes the root command with args and returns stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	// Flag variables are package globals and survive between executions.
	configPath = ""
	historyLimit = ledger.DefaultHistoryLimit
	addReference = ""
	addNote = "manual adjustment"
	addType = string(domain.TxAdjustment)
	tokenTTL = auth.DefaultTTL

	var out, errOut bytes.Buffer
	RootCmd.SetOut(&out)
	RootCmd.SetErr(&errOut)
	RootCmd.SetArgs(args)
	err := RootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "storage:\n  driver: sqlite\n  dsn: " + filepath.Join(dir, "carelog.db") + "\n" +
		"auth:\n  jwt_secret: cli-test-secret\n  issuer: carelog-test\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestInterpret(t *testing.T) {
	cfg := writeConfig(t)

	out, err := run(t, "--config", cfg, "interpret", "BP", "140/90")
	if err != nil {
		t.Fatalf("interpret: %v", err)
	}
	var reading domain.Reading
	if err := json.Unmarshal([]byte(out), &reading); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if reading.Kind != domain.KindBloodPressure {
		t.Errorf("kind = %q, want blood_pressure", reading.Kind)
	}
	if reading.SourceText != "BP 140/90" {
		t.Errorf("source text = %q", reading.SourceText)
	}

	if _, err := run(t, "--config", cfg, "interpret"); err == nil {
		t.Error("expected error without text")
	}
}

func TestWallet(t *testing.T) {
	cfg := writeConfig(t)

	out, err := run(t, "--config", cfg, "wallet", "balance", "user-1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	var summary domain.BalanceSummary
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if summary.Balance != 10 {
		t.Errorf("balance = %d, want 10", summary.Balance)
	}

	for i := 0; i < 2; i++ {
		out, err = run(t, "--config", cfg, "wallet", "add", "user-1", "25", "--reference", "grant-1")
		if err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	var credit domain.CreditResult
	if err := json.Unmarshal([]byte(out), &credit); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !credit.Duplicate || credit.NewBalance != 35 {
		t.Errorf("second add = %+v, want duplicate at 35", credit)
	}

	out, err = run(t, "--config", cfg, "wallet", "history", "user-1", "--limit", "1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	var txns []domain.Transaction
	if err := json.Unmarshal([]byte(out), &txns); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(txns) != 1 || txns[0].Type != domain.TxAdjustment || txns[0].Amount != 25 {
		t.Errorf("history = %+v", txns)
	}
}

func TestWalletAdd_Invalid(t *testing.T) {
	cfg := writeConfig(t)

	tests := []struct {
		name string
		args []string
	}{
		{"non-numeric credits", []string{"wallet", "add", "user-1", "lots"}},
		{"negative credits", []string{"wallet", "add", "user-1", "-5"}},
		{"usage type", []string{"wallet", "add", "user-1", "5", "--type", "usage"}},
		{"missing user", []string{"wallet", "add"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := run(t, append([]string{"--config", cfg}, tt.args...)...); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestToken(t *testing.T) {
	cfg := writeConfig(t)

	out, err := run(t, "--config", cfg, "token", "user-7", "--ttl", "1h")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	a := auth.NewAuthenticator("cli-test-secret", auth.WithIssuer("carelog-test"))
	sub, err := a.Verify(strings.TrimSpace(out))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if sub != "user-7" {
		t.Errorf("sub = %q, want user-7", sub)
	}

	expired := auth.NewAuthenticator("cli-test-secret",
		auth.WithIssuer("carelog-test"),
		auth.WithClock(func() time.Time { return time.Now().Add(2 * time.Hour) }))
	if _, err := expired.Verify(strings.TrimSpace(out)); err == nil {
		t.Error("token outlived its ttl")
	}
}

func TestToken_NoSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("storage:\n  driver: memory\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CARELOG_AUTH__JWT_SECRET", "")

	_, err := run(t, "--config", path, "token", "user-7")
	if err == nil || !strings.Contains(err.Error(), "jwt_secret") {
		t.Errorf("err = %v, want missing secret", err)
	}
}
