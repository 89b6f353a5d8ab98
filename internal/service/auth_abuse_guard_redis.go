package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type AuthAbuseScope string

const (
	AuthAbuseScopeLogin  AuthAbuseScope = "login"
	AuthAbuseScopeForgot AuthAbuseScope = "forgot"
)

// AuthAbusePolicy shapes the exponential cooldown applied to repeated
// failures from one identity or one IP.
type AuthAbusePolicy struct {
	FreeAttempts int
	BaseDelay    time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	ResetWindow  time.Duration
}

func (p AuthAbusePolicy) normalized() AuthAbusePolicy {
	if p.FreeAttempts < 0 {
		p.FreeAttempts = 0
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 2 * time.Second
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 5 * time.Minute
	}
	if p.ResetWindow <= 0 {
		p.ResetWindow = time.Hour
	}
	return p
}

// AuthAbuseGuard throttles credential-guessing. It is ancillary: it never
// decides session validity, only whether an attempt may proceed right now.
type AuthAbuseGuard interface {
	Check(ctx context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error)
	RegisterFailure(ctx context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error)
	Reset(ctx context.Context, scope AuthAbuseScope, identity, ip string) error
}

type RedisAuthAbuseGuard struct {
	client redis.UniversalClient
	prefix string
	policy AuthAbusePolicy
	now    func() time.Time
}

func NewRedisAuthAbuseGuard(client redis.UniversalClient, prefix string, policy AuthAbusePolicy) *RedisAuthAbuseGuard {
	if prefix == "" {
		prefix = "auth_abuse"
	}
	return &RedisAuthAbuseGuard{
		client: client,
		prefix: prefix,
		policy: policy.normalized(),
		now:    time.Now,
	}
}

// Check returns the longest remaining cooldown across the identity and IP
// states, zero when the attempt may proceed.
func (g *RedisAuthAbuseGuard) Check(ctx context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error) {
	var remaining time.Duration
	for _, key := range g.keys(scope, identity, ip) {
		fields, err := g.client.HGetAll(ctx, key).Result()
		if err != nil {
			return 0, err
		}
		if len(fields) == 0 {
			continue
		}
		until, err := parseMillis(fields["cooldown_until_ms"])
		if err != nil {
			return 0, fmt.Errorf("abuse guard state %s: %w", key, err)
		}
		if d := until.Sub(g.now()); d > remaining {
			remaining = d
		}
	}
	return remaining, nil
}

// RegisterFailure bumps the failure count for both states and returns the
// cooldown now in force. Counts older than the reset window start over.
func (g *RedisAuthAbuseGuard) RegisterFailure(ctx context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error) {
	now := g.now()
	var applied time.Duration
	for _, key := range g.keys(scope, identity, ip) {
		fields, err := g.client.HGetAll(ctx, key).Result()
		if err != nil {
			return 0, err
		}
		failures := 0
		if raw, ok := fields["failures"]; ok {
			failures, err = strconv.Atoi(raw)
			if err != nil {
				return 0, fmt.Errorf("abuse guard state %s: %w", key, err)
			}
		}
		if raw, ok := fields["last_failure_ms"]; ok {
			last, err := parseMillis(raw)
			if err != nil {
				return 0, fmt.Errorf("abuse guard state %s: %w", key, err)
			}
			if now.Sub(last) > g.policy.ResetWindow {
				failures = 0
			}
		}
		failures++

		var delay time.Duration
		if failures > g.policy.FreeAttempts {
			exp := float64(failures - g.policy.FreeAttempts - 1)
			delay = time.Duration(float64(g.policy.BaseDelay) * math.Pow(g.policy.Multiplier, exp))
			if delay > g.policy.MaxDelay {
				delay = g.policy.MaxDelay
			}
		}
		if delay > applied {
			applied = delay
		}

		pipe := g.client.TxPipeline()
		pipe.HSet(ctx, key,
			"failures", strconv.Itoa(failures),
			"last_failure_ms", strconv.FormatInt(now.UnixMilli(), 10),
			"cooldown_until_ms", strconv.FormatInt(now.Add(delay).UnixMilli(), 10),
		)
		ttl := g.policy.ResetWindow
		if delay > ttl {
			ttl = delay
		}
		pipe.Expire(ctx, key, ttl)
		if _, err := pipe.Exec(ctx); err != nil {
			return 0, err
		}
	}
	return applied, nil
}

// Reset clears the failure state after a successful attempt.
func (g *RedisAuthAbuseGuard) Reset(ctx context.Context, scope AuthAbuseScope, identity, ip string) error {
	keys := g.keys(scope, identity, ip)
	if len(keys) == 0 {
		return nil
	}
	return g.client.Del(ctx, keys...).Err()
}

func (g *RedisAuthAbuseGuard) keys(scope AuthAbuseScope, identity, ip string) []string {
	var keys []string
	if identity != "" {
		keys = append(keys, g.stateKey(scope, "id", normalizeAuthIdentity(identity)))
	}
	if ip != "" {
		keys = append(keys, g.stateKey(scope, "ip", ip))
	}
	return keys
}

func (g *RedisAuthAbuseGuard) stateKey(scope AuthAbuseScope, kind, value string) string {
	sum := sha256.Sum256([]byte(value))
	return fmt.Sprintf("%s:%s:%s:%s", g.prefix, scope, kind, hex.EncodeToString(sum[:16]))
}

func normalizeAuthIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

func parseMillis(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}

// NoopAuthAbuseGuard is used when redis is not configured.
type NoopAuthAbuseGuard struct{}

func (NoopAuthAbuseGuard) Check(context.Context, AuthAbuseScope, string, string) (time.Duration, error) {
	return 0, nil
}

func (NoopAuthAbuseGuard) RegisterFailure(context.Context, AuthAbuseScope, string, string) (time.Duration, error) {
	return 0, nil
}

func (NoopAuthAbuseGuard) Reset(context.Context, AuthAbuseScope, string, string) error {
	return nil
}
