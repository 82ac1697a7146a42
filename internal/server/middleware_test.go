package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tjfontaine/carelog/internal/auth"
)

// =============================================================================
// CreditHeadersMiddleware Tests
// =============================================================================

func TestCreditHeadersMiddleware(t *testing.T) {
	tests := []struct {
		name    string
		info    *CreditInfo
		headers map[string]string
	}{
		{
			name: "debit",
			info: &CreditInfo{Balance: 8, Cost: 2},
			headers: map[string]string{
				HeaderCreditsBalance: "8", HeaderCreditsCost: "2",
				HeaderCreditsRequired: "", HeaderCreditsUnlimited: "",
			},
		},
		{
			name: "shortfall",
			info: &CreditInfo{Balance: 1, Required: 3},
			headers: map[string]string{
				HeaderCreditsBalance: "1", HeaderCreditsRequired: "3", HeaderCreditsCost: "",
			},
		},
		{
			name: "unlimited",
			info: &CreditInfo{Balance: 10, Unlimited: true},
			headers: map[string]string{
				HeaderCreditsBalance: "10", HeaderCreditsCost: "0", HeaderCreditsUnlimited: "true",
			},
		},
		{
			name:    "nothing recorded",
			headers: map[string]string{HeaderCreditsBalance: ""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.info != nil {
					SetCredits(r.Context(), *tt.info)
				}
				w.Write([]byte("ok"))
			})

			rec := httptest.NewRecorder()
			CreditHeadersMiddleware(handler).ServeHTTP(rec, httptest.NewRequest("POST", "/v1/credits/use", nil))

			for name, want := range tt.headers {
				checkHeader(t, rec, name, want)
			}
		})
	}
}

func TestGetCredits_NotSet(t *testing.T) {
	if info := GetCredits(context.Background()); info != nil {
		t.Errorf("expected nil, got %+v", info)
	}
	SetCredits(context.Background(), CreditInfo{Balance: 1}) // no-op without middleware
}

// =============================================================================
// RequestIDMiddleware Tests
// =============================================================================

func TestRequestIDMiddleware(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetRequestID(r.Context()) == "" {
			t.Error("Expected request ID in context")
		}
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	RequestIDMiddleware(handler).ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	if _, err := uuid.Parse(rec.Header().Get(RequestIDHeader)); err != nil {
		t.Errorf("X-Request-ID = %q, want a UUID", rec.Header().Get(RequestIDHeader))
	}
}

func TestRequestIDMiddleware_ReusesIncoming(t *testing.T) {
	incoming := uuid.New().String()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := GetRequestID(r.Context()); got != incoming {
			t.Errorf("request ID = %q, want %q", got, incoming)
		}
	})

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(RequestIDHeader, incoming)
	rec := httptest.NewRecorder()
	RequestIDMiddleware(handler).ServeHTTP(rec, req)

	checkHeader(t, rec, RequestIDHeader, incoming)
}

func TestRequestIDMiddleware_RejectsGarbage(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(RequestIDHeader, "<script>")
	rec := httptest.NewRecorder()
	RequestIDMiddleware(http.NotFoundHandler()).ServeHTTP(rec, req)

	if got := rec.Header().Get(RequestIDHeader); got == "<script>" {
		t.Error("invalid incoming request ID was echoed")
	}
}

func TestGetRequestID_NotSet(t *testing.T) {
	if id := GetRequestID(context.Background()); id != "" {
		t.Errorf("Expected empty string, got %q", id)
	}
}

// =============================================================================
// AuthMiddleware Tests
// =============================================================================

func TestAuthMiddleware_JWT(t *testing.T) {
	authenticator := auth.NewAuthenticator("test-secret", auth.WithIssuer("carelog"))
	token, err := authenticator.Issue("user-7", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantUser   string
	}{
		{"valid token", "Bearer " + token, http.StatusOK, "user-7"},
		{"missing header", "", http.StatusUnauthorized, ""},
		{"tampered token", "Bearer " + token + "x", http.StatusUnauthorized, ""},
		{"wrong scheme", "Basic " + token, http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotUser string
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotUser = UserID(r.Context())
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest("GET", "/v1/credits/balance", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			// X-User-ID must be ignored once JWT auth is on.
			req.Header.Set(UserIDHeader, "spoofed")
			rec := httptest.NewRecorder()
			AuthMiddleware(authenticator)(handler).ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if gotUser != tt.wantUser {
				t.Errorf("user = %q, want %q", gotUser, tt.wantUser)
			}
			if tt.wantStatus == http.StatusUnauthorized && !strings.Contains(rec.Body.String(), `"authentication"`) {
				t.Errorf("body = %s, want authentication error", rec.Body.String())
			}
		})
	}
}

func TestAuthMiddleware_DevMode(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(UserID(r.Context())))
	})

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(UserIDHeader, "dev-user")
	rec := httptest.NewRecorder()
	AuthMiddleware(nil)(handler).ServeHTTP(rec, req)
	if rec.Body.String() != "dev-user" {
		t.Errorf("user = %q, want dev-user", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	AuthMiddleware(nil)(handler).ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 without X-User-ID", rec.Code)
	}
}

func TestInternalTokenMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		configured string
		presented  string
		wantStatus int
	}{
		{"match", "s3cret", "s3cret", http.StatusOK},
		{"mismatch", "s3cret", "guess", http.StatusUnauthorized},
		{"missing", "s3cret", "", http.StatusUnauthorized},
		{"not configured", "", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/internal/credits/add", nil)
			if tt.presented != "" {
				req.Header.Set(InternalTokenHeader, tt.presented)
			}
			rec := httptest.NewRecorder()
			InternalTokenMiddleware(tt.configured)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			})).ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestUserID_NotSet(t *testing.T) {
	if id := UserID(context.Background()); id != "" {
		t.Errorf("Expected empty string, got %q", id)
	}
}

// =============================================================================
// LoggingMiddleware Tests
// =============================================================================

func newTestLogger(buf *strings.Builder) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestLoggingMiddleware(t *testing.T) {
	var buf strings.Builder
	logger := newTestLogger(&buf)

	testHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Chain RequestIDMiddleware -> LoggingMiddleware -> handler
	wrapped := RequestIDMiddleware(LoggingMiddleware(logger)(testHandler))

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest("GET", "/test-path", nil))

	output := buf.String()
	for _, want := range []string{"request started", "request completed", "/test-path", "status=200", "level=INFO"} {
		if !strings.Contains(output, want) {
			t.Errorf("Expected %q in log output, got: %s", want, output)
		}
	}
}

func TestLoggingMiddleware_LevelByStatus(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{http.StatusOK, "level=INFO"},
		{http.StatusPaymentRequired, "level=WARN"},
		{http.StatusServiceUnavailable, "level=ERROR"},
	}

	for _, tt := range tests {
		// At info level only the completion line is emitted.
		var buf strings.Builder
		logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		})
		LoggingMiddleware(logger)(handler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

		if !strings.Contains(buf.String(), tt.level) {
			t.Errorf("status %d: want %s, got: %s", tt.status, tt.level, buf.String())
		}
	}
}

func TestAddLogField(t *testing.T) {
	var buf strings.Builder
	logger := newTestLogger(&buf)

	testHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		AddLogField(r.Context(), "custom_field", "custom_value")
		AddLogField(r.Context(), "empty_field", "")
		w.WriteHeader(http.StatusOK)
	})

	LoggingMiddleware(logger)(testHandler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	output := buf.String()
	if !strings.Contains(output, "custom_field=custom_value") {
		t.Errorf("Expected custom field in log output, got: %s", output)
	}
	if strings.Contains(output, "empty_field") {
		t.Errorf("Empty field should not be in log output, got: %s", output)
	}
}

func TestAddLogField_NoContext(t *testing.T) {
	// Should not panic when called with a context that doesn't have log fields
	AddLogField(context.Background(), "key", "value")
}

func TestAddError(t *testing.T) {
	var buf strings.Builder
	logger := newTestLogger(&buf)

	testHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		AddError(r.Context(), errors.New("test error message"))
		AddError(r.Context(), nil)
		w.WriteHeader(http.StatusInternalServerError)
	})

	LoggingMiddleware(logger)(testHandler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	if !strings.Contains(buf.String(), "test error message") {
		t.Errorf("Expected error in log output, got: %s", buf.String())
	}
}

func checkHeader(t *testing.T, rec *httptest.ResponseRecorder, name, want string) {
	t.Helper()
	if got := rec.Header().Get(name); got != want {
		t.Errorf("header %s = %q, want %q", name, got, want)
	}
}
