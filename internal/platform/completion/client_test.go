package completion

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestClient(t *testing.T, h http.HandlerFunc, mutate func(*Config)) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.APIKey = "test-key"
	cfg.BaseURL = srv.URL
	if mutate != nil {
		mutate(&cfg)
	}
	return NewClient(cfg, zerolog.Nop(), nil)
}

func TestComplete_SendsRequest(t *testing.T) {
	var got chatRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("unexpected authorization %q", r.Header.Get("Authorization"))
		}
		if r.Header.Get("X-Title") != "MedFlow AI" {
			t.Errorf("unexpected title %q", r.Header.Get("X-Title"))
		}
		if r.Header.Get("HTTP-Referer") != "http://localhost:3000" {
			t.Errorf("unexpected referer %q", r.Header.Get("HTTP-Referer"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Write([]byte(`{"model":"anthropic/claude-sonnet-4","choices":[{"message":{"role":"assistant","content":"{\"summary\":\"ok\"}"}}]}`))
	}, nil)

	res, err := c.Complete(context.Background(), []Message{System("sys"), User("history")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Content != `{"summary":"ok"}` {
		t.Errorf("unexpected content %q", res.Content)
	}
	if got.Model != "anthropic/claude-sonnet-4" || got.Temperature != 0.3 || got.MaxTokens != 8000 {
		t.Errorf("unexpected request parameters %+v", got)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Content != "history" {
		t.Errorf("unexpected messages %+v", got.Messages)
	}
}

func TestComplete_NotConfigured(t *testing.T) {
	c := NewClient(Config{}, zerolog.Nop(), nil)
	if _, err := c.Complete(context.Background(), nil); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestComplete_UpstreamError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"rate limited"}`))
	}, nil)

	_, err := c.Complete(context.Background(), []Message{User("x")})
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}
}

func TestComplete_NoChoices(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}, nil)

	_, err := c.Complete(context.Background(), []Message{User("x")})
	if !errors.Is(err, ErrInvalidResponse) {
		t.Fatalf("expected ErrInvalidResponse, got %v", err)
	}
}

func TestComplete_BreakerOpens(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}, func(cfg *Config) {
		cfg.FailureThreshold = 2
		cfg.OpenTimeout = time.Minute
	})

	for i := 0; i < 2; i++ {
		if _, err := c.Complete(context.Background(), []Message{User("x")}); !errors.Is(err, ErrUpstream) {
			t.Fatalf("call %d: expected ErrUpstream, got %v", i, err)
		}
	}

	_, err := c.Complete(context.Background(), []Message{User("x")})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable once the breaker is open, got %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected the open breaker to short-circuit, server saw %d calls", calls.Load())
	}
}
