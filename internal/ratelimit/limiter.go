// Package ratelimit enforces a rolling-window token budget on outbound
// completion calls.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/dgallion1/filingsum/internal/tokenizer"
)

// Config controls the token budget.
type Config struct {
	TokensPerMinute     int           // Tokens admitted per rolling window.
	MaxTokensPerRequest int           // Nominal per-call ceiling.
	ReservedTokens      int           // Held back from each call for prompt and response.
	Window              time.Duration // Rolling window length.
}

// DefaultConfig returns the limits of the llama3-8b tier the service was sized for.
func DefaultConfig() Config {
	return Config{
		TokensPerMinute:     6000,
		MaxTokensPerRequest: 4000,
		ReservedTokens:      1000,
		Window:              time.Minute,
	}
}

// UsageRecord is one accounted call.
type UsageRecord struct {
	Timestamp time.Time
	Tokens    int
}

// Snapshot is a point-in-time view of the limiter.
type Snapshot struct {
	TokensPerMinute     int       `json:"tokens_per_minute"`
	MaxTokensPerRequest int       `json:"max_tokens_per_request"`
	ReservedTokens      int       `json:"reserved_tokens"`
	Used                int       `json:"used"`
	Available           int       `json:"available"`
	Records             int       `json:"records"`
	LastRequest         time.Time `json:"last_request"`
}

// Limiter tracks token usage over a rolling window. It is shared by every
// in-flight analysis, so all ledger access happens under mu.
type Limiter struct {
	mu          sync.Mutex
	cfg         Config
	tok         tokenizer.Tokenizer
	usage       []UsageRecord // chronological; appended, never reordered
	lastRequest time.Time

	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces the wall clock and timer, for tests.
func WithClock(now func() time.Time, after func(time.Duration) <-chan time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
		if after != nil {
			l.after = after
		}
	}
}

// New creates a Limiter. Zero config fields take their defaults.
func New(cfg Config, tok tokenizer.Tokenizer, opts ...Option) *Limiter {
	def := DefaultConfig()
	if cfg.TokensPerMinute <= 0 {
		cfg.TokensPerMinute = def.TokensPerMinute
	}
	if cfg.MaxTokensPerRequest <= 0 {
		cfg.MaxTokensPerRequest = def.MaxTokensPerRequest
	}
	if cfg.ReservedTokens < 0 {
		cfg.ReservedTokens = 0
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if tok == nil {
		tok = tokenizer.Estimator{}
	}

	l := &Limiter{
		cfg:   cfg,
		tok:   tok,
		now:   time.Now,
		after: time.After,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.lastRequest = l.now()
	return l
}

// MaxRequestTokens is the largest single request that can ever be admitted:
// the per-request ceiling minus the reserved margin.
func (l *Limiter) MaxRequestTokens() int {
	return l.cfg.MaxTokensPerRequest - l.cfg.ReservedTokens
}

// Budget returns the tokens allowed per window.
func (l *Limiter) Budget() int {
	return l.cfg.TokensPerMinute
}

// CountTokens counts tokens with the limiter's tokenizer.
func (l *Limiter) CountTokens(text string) int {
	return l.tok.CountTokens(text)
}

// AvailableTokens prunes expired records and returns the unused budget.
func (l *Limiter) AvailableTokens() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.availableLocked(l.now())
}

// CanMakeRequest reports whether text fits both the per-request ceiling and
// the remaining window budget.
func (l *Limiter) CanMakeRequest(text string) bool {
	n := l.CountTokens(text)
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.admissibleLocked(l.now(), n, n)
}

// RecordTokenUsage appends a usage record stamped now.
func (l *Limiter) RecordTokenUsage(tokens int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recordLocked(l.now(), tokens)
}

// WaitIfNeeded blocks until a request costing required tokens would be
// admitted, or ctx is done. A request above MaxRequestTokens is never
// admitted, so with a context that never ends it waits forever; callers keep
// chunks under the ceiling.
func (l *Limiter) WaitIfNeeded(ctx context.Context, required int) error {
	return l.wait(ctx, required, required, false)
}

// Acquire waits like WaitIfNeeded but checks the window budget against cost
// and records cost in the same critical section as the admission check, so
// concurrent callers cannot both spend the same allowance.
func (l *Limiter) Acquire(ctx context.Context, required, cost int) error {
	return l.wait(ctx, required, cost, true)
}

// Snapshot returns current usage figures.
func (l *Limiter) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	available := l.availableLocked(l.now())
	return Snapshot{
		TokensPerMinute:     l.cfg.TokensPerMinute,
		MaxTokensPerRequest: l.cfg.MaxTokensPerRequest,
		ReservedTokens:      l.cfg.ReservedTokens,
		Used:                l.usedLocked(),
		Available:           available,
		Records:             len(l.usage),
		LastRequest:         l.lastRequest,
	}
}

func (l *Limiter) wait(ctx context.Context, required, cost int, record bool) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		l.mu.Lock()
		now := l.now()
		if l.admissibleLocked(now, required, cost) {
			if record {
				l.recordLocked(now, cost)
			}
			l.mu.Unlock()
			return nil
		}
		delay := time.Second - now.Sub(l.lastRequest)
		if delay <= 0 {
			delay = time.Second
		}
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.after(delay):
		}
	}
}

func (l *Limiter) admissibleLocked(now time.Time, required, cost int) bool {
	return required <= l.MaxRequestTokens() && cost <= l.availableLocked(now)
}

func (l *Limiter) recordLocked(now time.Time, tokens int) {
	if tokens < 0 {
		tokens = 0
	}
	l.usage = append(l.usage, UsageRecord{Timestamp: now, Tokens: tokens})
	l.lastRequest = now
}

// availableLocked drops records at or before the window cutoff and returns
// the remaining budget.
func (l *Limiter) availableLocked(now time.Time) int {
	l.pruneLocked(now)
	return max(0, l.cfg.TokensPerMinute-l.usedLocked())
}

func (l *Limiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-l.cfg.Window)
	writeIdx := 0
	for _, rec := range l.usage {
		if rec.Timestamp.After(cutoff) {
			l.usage[writeIdx] = rec
			writeIdx++
		}
	}
	clear(l.usage[writeIdx:])
	l.usage = l.usage[:writeIdx]
}

func (l *Limiter) usedLocked() int {
	used := 0
	for _, rec := range l.usage {
		used += rec.Tokens
	}
	return used
}
