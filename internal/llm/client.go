// Package llm talks to chat-completion services.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Client is a completion service with latency stats.
type Client interface {
	Complete(ctx context.Context, system, user string) (string, error)
	Model() string
	Snapshot() StatsSnapshot
	Close()
}

// New builds the client for provider: "groq" (any OpenAI-compatible
// endpoint) or "claude".
func New(provider, apiKey, model string, opts Options) (Client, error) {
	switch strings.ToLower(provider) {
	case "groq", "openai":
		return NewGroqClient(apiKey, model, opts), nil
	case "claude", "anthropic":
		return NewClaudeClient(apiKey, model, opts), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", provider)
	}
}

// Options are shared by every provider.
type Options struct {
	BaseURL           string
	RequestsPerSecond float64
	MaxTokens         int
	Timeout           time.Duration
}

func (o Options) withDefaults(baseURL string) Options {
	if o.BaseURL == "" {
		o.BaseURL = baseURL
	}
	o.BaseURL = strings.TrimRight(o.BaseURL, "/")
	if o.RequestsPerSecond <= 0 {
		o.RequestsPerSecond = 2
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = 4096
	}
	if o.Timeout <= 0 {
		o.Timeout = 120 * time.Second
	}
	return o
}

// base holds what the providers have in common: an HTTP client, a request
// throttle, and the call stats.
type base struct {
	provider   string
	model      string
	opts       Options
	httpClient *http.Client
	throttle   *rate.Limiter

	Stats *Stats
}

func newBase(provider, model string, opts Options) base {
	return base{
		provider:   provider,
		model:      model,
		opts:       opts,
		httpClient: &http.Client{Timeout: opts.Timeout},
		throttle:   rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1),
		Stats:      NewStats(time.Hour),
	}
}

// Model returns the configured model name.
func (b *base) Model() string { return b.model }

// Snapshot returns the stats of recent calls.
func (b *base) Snapshot() StatsSnapshot { return b.Stats.Snapshot() }

// Close releases resources.
func (b *base) Close() {
	b.httpClient.CloseIdleConnections()
}

// post sends a JSON body and returns the raw response body. 429 and 5xx
// come back as *RetryableError.
func (b *base) post(ctx context.Context, url string, headers map[string]string, payload any) ([]byte, error) {
	if err := b.throttle.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		b.Stats.Record(time.Since(start), OutcomeFailed)
		return nil, fmt.Errorf("%s api: %w", b.provider, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		b.Stats.Record(time.Since(start), OutcomeFailed)
		return nil, fmt.Errorf("read response: %w", err)
	}
	b.Stats.Record(time.Since(start), outcomeOf(resp.StatusCode))

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, &RetryableError{
			StatusCode: resp.StatusCode,
			Message:    string(respBody),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s api status %d: %s", b.provider, resp.StatusCode, truncate(string(respBody), 500))
	}
	return respBody, nil
}

func outcomeOf(status int) Outcome {
	switch {
	case status == http.StatusOK:
		return OutcomeOK
	case status == http.StatusTooManyRequests:
		return OutcomeThrottled
	default:
		return OutcomeFailed
	}
}

var codeBlockRe = regexp.MustCompile("(?s)^```(?:markdown|md)?\\s*(.*?)\\s*```$")

// stripCodeBlock unwraps a response the model fenced as a whole.
func stripCodeBlock(s string) string {
	s = strings.TrimSpace(s)
	if m := codeBlockRe.FindStringSubmatch(s); len(m) > 1 {
		return m[1]
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// RetryableError indicates a transient failure that can be retried.
type RetryableError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration // zero when the server gave no hint
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable error (status %d): %s", e.StatusCode, truncate(e.Message, 200))
}
