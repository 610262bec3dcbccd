// Package completion is a client for the OpenRouter chat-completions API.
// Calls go through a circuit breaker so a failing upstream is not hammered
// by every analysis request.
package completion

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

const serviceName = "openrouter"

var (
	// ErrNotConfigured means no API key was supplied.
	ErrNotConfigured = errors.New("completion service not configured")
	// ErrUnavailable means the circuit breaker is open or saturated.
	ErrUnavailable = errors.New("completion service unavailable")
	// ErrUpstream wraps non-2xx answers from the API.
	ErrUpstream = errors.New("completion service error")
	// ErrInvalidResponse means the API answered without a usable message.
	ErrInvalidResponse = errors.New("invalid completion response")
)

// Config configures a Client.
type Config struct {
	APIKey      string
	Model       string
	BaseURL     string
	Referer     string
	Title       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration

	// FailureThreshold consecutive failures open the breaker for OpenTimeout.
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// DefaultConfig returns the production defaults; APIKey is left empty.
func DefaultConfig() Config {
	return Config{
		Model:            "anthropic/claude-sonnet-4",
		BaseURL:          "https://openrouter.ai/api/v1",
		Referer:          "http://localhost:3000",
		Title:            "MedFlow AI",
		Temperature:      0.3,
		MaxTokens:        8000,
		Timeout:          90 * time.Second,
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
	}
}

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// System and User build the two roles the service sends.
func System(content string) Message { return Message{Role: "system", Content: content} }
func User(content string) Message   { return Message{Role: "user", Content: content} }

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message *Message `json:"message"`
	} `json:"choices"`
}

// Result is the assistant reply.
type Result struct {
	Content string
	Model   string
}

// Client calls the chat-completions endpoint.
type Client struct {
	cfg     Config
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[*Result]
	logger  zerolog.Logger
	metrics *metrics.Collector
}

// NewClient builds a Client. m may be nil.
func NewClient(cfg Config, logger zerolog.Logger, m *metrics.Collector) *Client {
	def := DefaultConfig()
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Title == "" {
		cfg.Title = def.Title
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	c := &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		logger:  logger.With().Str("component", serviceName).Logger(),
		metrics: m,
	}
	c.breaker = gobreaker.NewCircuitBreaker[*Result](gobreaker.Settings{
		Name:        serviceName,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		// A caller giving up is not an upstream failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
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

// Model returns the configured model id.
func (c *Client) Model() string { return c.cfg.Model }

// Complete sends messages and returns the first choice's content.
func (c *Client) Complete(ctx context.Context, messages []Message) (*Result, error) {
	if c.cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}

	res, err := c.breaker.Execute(func() (*Result, error) {
		return c.do(ctx, messages)
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
	return res, nil
}

func (c *Client) do(ctx context.Context, messages []Message) (*Result, error) {
	body, err := json.Marshal(chatRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("encode completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build completion request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Title", c.cfg.Title)
	if c.cfg.Referer != "" {
		req.Header.Set("HTTP-Referer", c.cfg.Referer)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call completion service: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read completion response: %w", err)
	}

	c.logger.Debug().
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Str("model", c.cfg.Model).
		Msg("completion call")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.StatusCode, truncate(string(raw), 512))
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if len(out.Choices) == 0 || out.Choices[0].Message == nil {
		return nil, ErrInvalidResponse
	}

	model := out.Model
	if model == "" {
		model = c.cfg.Model
	}
	return &Result{Content: out.Choices[0].Message.Content, Model: model}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
