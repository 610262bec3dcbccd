// Package intasend talks to the IntaSend payment API: hosted checkout
// creation and webhook payload/signature handling.
package intasend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/medflow/medflow/internal/platform/metrics"
)

const (
	serviceName    = "intasend"
	SandboxBaseURL = "https://sandbox.intasend.com/api/v1"
	LiveBaseURL    = "https://payment.intasend.com/api/v1"
)

var (
	ErrNotConfigured = errors.New("payment provider not configured")
	ErrUnavailable   = errors.New("payment provider unavailable")
	ErrProvider      = errors.New("payment provider error")
)

// Config configures a Client. BaseURL overrides the TestMode choice.
type Config struct {
	PublishableKey string
	SecretKey      string
	TestMode       bool
	BaseURL        string
	Timeout        time.Duration
}

// CheckoutRequest is one hosted checkout session to create.
type CheckoutRequest struct {
	Amount      int    `json:"amount"`
	Currency    string `json:"currency"`
	Email       string `json:"email"`
	FirstName   string `json:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
	RedirectURL string `json:"redirect_url,omitempty"`
	APIRef      string `json:"api_ref,omitempty"`
}

// Checkout is the provider's answer.
type Checkout struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	Signature string `json:"signature"`
	APIRef    string `json:"api_ref"`
}

type checkoutBody struct {
	PublicKey string `json:"public_key"`
	CheckoutRequest
}

// Client creates checkout sessions.
type Client struct {
	cfg     Config
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[*Checkout]
	logger  zerolog.Logger
	metrics *metrics.Collector
}

// NewClient builds a Client. m may be nil.
func NewClient(cfg Config, logger zerolog.Logger, m *metrics.Collector) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = LiveBaseURL
		if cfg.TestMode {
			base = SandboxBaseURL
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}

	c := &Client{
		cfg:     cfg,
		baseURL: strings.TrimRight(base, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
		logger:  logger.With().Str("component", serviceName).Logger(),
		metrics: m,
	}
	c.breaker = gobreaker.NewCircuitBreaker[*Checkout](gobreaker.Settings{
		Name:        serviceName,
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
			c.metrics.SetBreakerState(name, int(to))
		},
	})
	return c
}

// CreateCheckout opens a hosted checkout session.
func (c *Client) CreateCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error) {
	if c.cfg.PublishableKey == "" || c.cfg.SecretKey == "" {
		return nil, ErrNotConfigured
	}

	out, err := c.breaker.Execute(func() (*Checkout, error) {
		return c.createCheckout(ctx, req)
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		c.metrics.RecordUpstream(serviceName, "rejected")
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	case err != nil:
		c.metrics.RecordUpstream(serviceName, "error")
		return nil, err
	}
	c.metrics.RecordUpstream(serviceName, "ok")
	return out, nil
}

func (c *Client) createCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error) {
	body, err := json.Marshal(checkoutBody{PublicKey: c.cfg.PublishableKey, CheckoutRequest: req})
	if err != nil {
		return nil, fmt.Errorf("encode checkout request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/checkout/", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build checkout request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.SecretKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call payment provider: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read checkout response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d: %s", ErrProvider, resp.StatusCode, string(raw))
	}

	var out Checkout
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: decode checkout: %v", ErrProvider, err)
	}
	if out.ID == "" || out.URL == "" {
		return nil, fmt.Errorf("%w: checkout response missing id or url", ErrProvider)
	}

	c.logger.Info().Str("checkout_id", out.ID).Str("api_ref", req.APIRef).Msg("checkout session created")
	return &out, nil
}
