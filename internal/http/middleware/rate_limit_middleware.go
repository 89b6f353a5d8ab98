package middleware

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/vendaflow/broker-auth-service/internal/http/response"
	"github.com/vendaflow/broker-auth-service/internal/observability"
)

type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	Remaining  int
	ResetAt    time.Time
	Reason     string
}

// RateLimitPolicy combines a sustained per-window cap with a token bucket
// that absorbs short bursts.
type RateLimitPolicy struct {
	SustainedLimit    int
	SustainedWindow   time.Duration
	BurstCapacity     int
	BurstRefillPerSec float64
}

type Limiter interface {
	Allow(ctx context.Context, key string, policy RateLimitPolicy) (Decision, error)
}

type localLimiterState struct {
	tokens     float64
	lastRefill time.Time
	hits       []time.Time
}

type localLimiter struct {
	mu      sync.Mutex
	store   map[string]*localLimiterState
	cleanup time.Time
}

func NewLocalLimiter() Limiter {
	return &localLimiter{
		store:   make(map[string]*localLimiterState),
		cleanup: time.Now().Add(time.Minute),
	}
}

type RateLimiter struct {
	limiter Limiter
	policy  RateLimitPolicy
	scope   string
	keyFunc func(r *http.Request) string
}

func NewRateLimiter(limit int, window time.Duration, scope string) *RateLimiter {
	return &RateLimiter{
		limiter: NewLocalLimiter(),
		policy:  normalizePolicy(RateLimitPolicy{SustainedLimit: limit, SustainedWindow: window}),
		scope:   scope,
		keyFunc: clientIPKey,
	}
}

func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rl.keyFunc(r)
			decision, err := rl.limiter.Allow(r.Context(), key, rl.policy)
			if err != nil {
				// local limiter cannot fail, but keep the deny path honest
				observability.RecordRateLimitDecision(r.Context(), rl.scope, "backend_error", "fail_closed", "ip")
				w.Header().Set("Retry-After", retryAfterHeader(rl.policy.SustainedWindow))
				response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
				return
			}
			writeRateLimitHeaders(w.Header(), rl.policy.SustainedLimit, decision.Remaining, decision.ResetAt)
			if !decision.Allowed {
				observability.RecordRateLimitDecision(r.Context(), rl.scope, "deny", "fail_closed", "ip")
				w.Header().Set("Retry-After", retryAfterHeader(decision.RetryAfter))
				reason := decision.Reason
				if reason == "" {
					reason = "window"
				}
				observability.RecordRateLimitRetryAfter(r.Context(), rl.scope, reason, decision.RetryAfter)
				response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
				return
			}
			observability.RecordRateLimitDecision(r.Context(), rl.scope, "allow", "fail_closed", "ip")
			next.ServeHTTP(w, r)
		})
	}
}

func (l *localLimiter) Allow(_ context.Context, key string, policy RateLimitPolicy) (Decision, error) {
	policy = normalizePolicy(policy)
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.After(l.cleanup) {
		for k, v := range l.store {
			if len(v.hits) == 0 && now.Sub(v.lastRefill) > 2*policy.SustainedWindow {
				delete(l.store, k)
			}
		}
		l.cleanup = now.Add(policy.SustainedWindow)
	}

	state, ok := l.store[key]
	if !ok {
		state = &localLimiterState{tokens: float64(policy.BurstCapacity), lastRefill: now}
		l.store[key] = state
	}
	if now.After(state.lastRefill) {
		elapsed := now.Sub(state.lastRefill).Seconds()
		state.tokens = min(float64(policy.BurstCapacity), state.tokens+(elapsed*policy.BurstRefillPerSec))
		state.lastRefill = now
	}

	cutoff := now.Add(-policy.SustainedWindow)
	pruned := state.hits[:0]
	for _, hit := range state.hits {
		if hit.After(cutoff) {
			pruned = append(pruned, hit)
		}
	}
	state.hits = pruned

	sustainedRemaining := policy.SustainedLimit - len(state.hits)
	bucketRetry := time.Duration(0)
	reason := ""
	if state.tokens < 1 {
		need := 1 - state.tokens
		bucketRetry = time.Duration(math.Ceil((need / policy.BurstRefillPerSec) * float64(time.Second)))
		reason = "bucket"
	}
	sustainedRetry := time.Duration(0)
	if sustainedRemaining <= 0 {
		sustainedRetry = state.hits[0].Add(policy.SustainedWindow).Sub(now)
		if sustainedRetry < 0 {
			sustainedRetry = 0
		}
		if sustainedRetry >= bucketRetry {
			reason = "window"
		}
	}

	allowed := bucketRetry <= 0 && sustainedRetry <= 0
	if allowed {
		state.tokens = max(state.tokens-1, 0)
		state.hits = append(state.hits, now)
		sustainedRemaining = policy.SustainedLimit - len(state.hits)
	}

	remaining := min(max(int(math.Floor(state.tokens)), 0), max(sustainedRemaining, 0))
	retryAfter := max(bucketRetry, sustainedRetry)
	if !allowed && retryAfter <= 0 {
		retryAfter = time.Second
	}

	resetAt := now.Add(policy.SustainedWindow)
	if len(state.hits) > 0 {
		resetAt = state.hits[0].Add(policy.SustainedWindow)
	}
	if !allowed {
		resetAt = now.Add(retryAfter)
	}

	return Decision{
		Allowed:    allowed,
		RetryAfter: retryAfter,
		Remaining:  remaining,
		ResetAt:    resetAt,
		Reason:     reason,
	}, nil
}

func retryAfterHeader(d time.Duration) string {
	seconds := int(d.Round(time.Second).Seconds())
	if seconds <= 0 {
		seconds = 1
	}
	return fmt.Sprintf("%d", seconds)
}

func writeRateLimitHeaders(h http.Header, limit, remaining int, resetAt time.Time) {
	h.Set("X-RateLimit-Limit", fmt.Sprintf("%d", max(limit, 0)))
	h.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", max(remaining, 0)))
	if resetAt.IsZero() {
		resetAt = time.Now().Add(time.Second)
	}
	h.Set("X-RateLimit-Reset", fmt.Sprintf("%d", resetAt.Unix()))
}

func normalizePolicy(policy RateLimitPolicy) RateLimitPolicy {
	if policy.SustainedLimit <= 0 {
		policy.SustainedLimit = 1
	}
	if policy.SustainedWindow <= 0 {
		policy.SustainedWindow = time.Minute
	}
	if policy.BurstCapacity < policy.SustainedLimit {
		policy.BurstCapacity = policy.SustainedLimit
	}
	if policy.BurstRefillPerSec <= 0 {
		policy.BurstRefillPerSec = float64(policy.SustainedLimit) / policy.SustainedWindow.Seconds()
	}
	if policy.BurstRefillPerSec <= 0 {
		policy.BurstRefillPerSec = 1
	}
	return policy
}
