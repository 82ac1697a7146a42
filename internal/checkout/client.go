// Package checkout starts hosted checkout sessions with the payment
// provider. Completion is reported back asynchronously through the
// payments webhook.
package checkout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tjfontaine/carelog/internal/domain"
)

const dependencyName = "checkout"

// ClientOption configures the client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithReturnURL sets the default return URL for sessions that do not
// carry one.
func WithReturnURL(url string) ClientOption {
	return func(c *Client) {
		c.returnURL = url
	}
}

// Client creates checkout sessions.
type Client struct {
	apiKey     string
	baseURL    string
	returnURL  string
	httpClient *http.Client
}

// NewClient creates a checkout client for the provider at baseURL.
func NewClient(baseURL, apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured reports whether the client can reach a provider.
func (c *Client) Configured() bool {
	return c != nil && c.baseURL != "" && c.apiKey != ""
}

// SessionRequest describes a one-off credit package purchase.
type SessionRequest struct {
	UserID    string
	PackageID string
	Credits   int64
	ReturnURL string
}

// Session is a started checkout.
type Session struct {
	SessionID   string `json:"session_id"`
	CheckoutURL string `json:"checkout_url"`
}

type productCart struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type createRequest struct {
	ProductCart []productCart  `json:"product_cart"`
	ReturnURL   string         `json:"return_url,omitempty"`
	Metadata    map[string]any `json:"metadata"`
}

// CreateSession starts a checkout for req. The metadata it sends comes
// back on payment.succeeded and drives the credit grant.
func (c *Client) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	if !c.Configured() {
		return nil, domain.ErrDependencyUnavailable(dependencyName, fmt.Errorf("checkout provider not configured"))
	}
	if req.UserID == "" {
		return nil, domain.ErrValidation("user_id", "is required")
	}
	if req.PackageID == "" {
		return nil, domain.ErrValidation("package_id", "is required")
	}

	returnURL := req.ReturnURL
	if returnURL == "" {
		returnURL = c.returnURL
	}

	body, err := json.Marshal(createRequest{
		ProductCart: []productCart{{ProductID: req.PackageID, Quantity: 1}},
		ReturnURL:   returnURL,
		Metadata: map[string]any{
			"userId":    req.UserID,
			"packageId": req.PackageID,
			"credits":   req.Credits,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/checkouts", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("User-Agent", "carelog/1.0")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, domain.ErrDependencyUnavailable(dependencyName, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.ErrDependencyUnavailable(dependencyName, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, domain.ErrDependencyUnavailable(dependencyName,
			fmt.Errorf("API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(respBody)))).
			WithCode(domain.ErrorCodeUpstreamStatus)
	}

	var session Session
	if err := json.Unmarshal(respBody, &session); err != nil {
		return nil, domain.ErrDependencyUnavailable(dependencyName, fmt.Errorf("decode response: %w", err))
	}
	if session.CheckoutURL == "" {
		return nil, domain.ErrDependencyUnavailable(dependencyName, fmt.Errorf("response missing checkout_url"))
	}
	return &session, nil
}
