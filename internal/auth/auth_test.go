package auth

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"
)

func TestAuthenticator_IssueVerify(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	a := NewAuthenticator("test-secret", WithIssuer("carelog"), WithClock(clock))

	token, err := a.Issue("user-1", time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	sub, err := a.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if sub != "user-1" {
		t.Errorf("Verify() = %q, want user-1", sub)
	}

	t.Run("expired", func(t *testing.T) {
		later := NewAuthenticator("test-secret", WithIssuer("carelog"),
			WithClock(func() time.Time { return now.Add(2 * time.Hour) }))
		if _, err := later.Verify(token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Verify() error = %v, want ErrInvalidToken", err)
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := NewAuthenticator("other-secret", WithIssuer("carelog"), WithClock(clock))
		if _, err := other.Verify(token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Verify() error = %v, want ErrInvalidToken", err)
		}
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other := NewAuthenticator("test-secret", WithIssuer("someone-else"), WithClock(clock))
		if _, err := other.Verify(token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Verify() error = %v, want ErrInvalidToken", err)
		}
	})

	t.Run("garbage", func(t *testing.T) {
		if _, err := a.Verify("not.a.token"); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Verify() error = %v, want ErrInvalidToken", err)
		}
	})
}

func TestAuthenticator_Issue(t *testing.T) {
	a := NewAuthenticator("s")
	if _, err := a.Issue("", 0); err == nil {
		t.Error("Issue(\"\") error = nil")
	}
	token, err := a.Issue("u", 0)
	if err != nil {
		t.Fatal(err)
	}
	if sub, err := a.Verify(token); err != nil || sub != "u" {
		t.Errorf("Verify() = %q, %v", sub, err)
	}
}

func TestNewAuthenticator_EmptySecret(t *testing.T) {
	if a := NewAuthenticator(""); a != nil {
		t.Error("NewAuthenticator(\"\") should be nil")
	}
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{"bearer", "Bearer abc", "abc", false},
		{"lowercase scheme", "bearer abc", "abc", false},
		{"missing", "", "", true},
		{"no scheme", "abc", "", true},
		{"basic", "Basic abc", "", true},
		{"empty token", "Bearer ", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			got, err := ExtractBearerToken(r)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTokenMatches(t *testing.T) {
	if !TokenMatches("s3cret", "s3cret") {
		t.Error("equal tokens should match")
	}
	if TokenMatches("s3cret", "other") {
		t.Error("different tokens should not match")
	}
	if TokenMatches("", "") {
		t.Error("empty expected token should never match")
	}
}
