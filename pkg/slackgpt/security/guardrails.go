// Package security validates inbound messages before they reach the model.
package security

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var (
	ErrInputTooLong = errors.New("message exceeds the maximum allowed length")
	ErrRateLimited  = errors.New("message limit per minute exceeded, wait a moment")
)

// Config sets the guardrail limits. Zero values select the defaults.
type Config struct {
	// MaxInputLength is the largest accepted message in bytes.
	MaxInputLength int `yaml:"max_input_length"`

	// RateLimit is the number of messages per minute per user.
	RateLimit int `yaml:"rate_limit"`
}

// InputGuardrail checks message length and per-user message rate.
type InputGuardrail struct {
	maxLength int
	limiter   *RateLimiter
}

// NewInputGuardrail creates a guardrail. Defaults: 4096 bytes, 30 per minute.
func NewInputGuardrail(cfg Config) *InputGuardrail {
	if cfg.MaxInputLength <= 0 {
		cfg.MaxInputLength = 4096
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 30
	}
	return &InputGuardrail{
		maxLength: cfg.MaxInputLength,
		limiter:   NewRateLimiter(cfg.RateLimit, time.Minute),
	}
}

// Validate returns ErrInputTooLong or ErrRateLimited, or nil.
func (g *InputGuardrail) Validate(userID, input string) error {
	if len(input) > g.maxLength {
		return ErrInputTooLong
	}
	if !g.limiter.Allow(userID) {
		return ErrRateLimited
	}
	return nil
}

// --- Rate Limiter ---

// RateLimiter keeps one token bucket per user. A user may send burst
// messages at once and then one every per/burst.
type RateLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	users    map[string]*userLimiter
	lastScan time.Time
	idle     time.Duration
	now      func() time.Time
}

type userLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows n events per interval for each user.
func NewRateLimiter(n int, per time.Duration) *RateLimiter {
	if n <= 0 {
		n = 1
	}
	return &RateLimiter{
		limit: rate.Every(per / time.Duration(n)),
		burst: n,
		users: make(map[string]*userLimiter),
		idle:  2 * per,
		now:   time.Now,
	}
}

// Allow reports whether the user may send one more message now.
func (rl *RateLimiter) Allow(userID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.pruneLocked(now)

	u, ok := rl.users[userID]
	if !ok {
		u = &userLimiter{lim: rate.NewLimiter(rl.limit, rl.burst)}
		rl.users[userID] = u
	}
	u.lastSeen = now
	return u.lim.AllowN(now, 1)
}

// pruneLocked forgets users idle long enough for their bucket to be full.
func (rl *RateLimiter) pruneLocked(now time.Time) {
	if now.Sub(rl.lastScan) < rl.idle {
		return
	}
	rl.lastScan = now
	for id, u := range rl.users {
		if now.Sub(u.lastSeen) >= rl.idle {
			delete(rl.users, id)
		}
	}
}
