package app

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Checkout attempts are counted separately per buyer email and per client address.
const (
	purchaseRateScopeEmail    = "purchase_email"
	purchaseRateScopeClientIP = "purchase_ip"
)

// purchaseAttemptScript counts one attempt against every key in KEYS within a fixed
// window of ARGV[1] ms. It returns the 1-based index of the first key above ARGV[2]
// attempts together with that key's remaining ttl, or {0, 0} when all keys are within
// the limit. Every key is counted even after one trips, so a throttled email keeps
// loading its address bucket too.
var purchaseAttemptScript = redis.NewScript(`
local window = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
local blocked = 0
local retry = 0
for i, key in ipairs(KEYS) do
  local current = redis.call("INCR", key)
  if current == 1 then
    redis.call("PEXPIRE", key, window)
  end
  if blocked == 0 and current > limit then
    blocked = i
    retry = redis.call("PTTL", key)
    if retry < 0 then
      retry = window
    end
  end
end
return {blocked, retry}
`)

// PurchaseThrottle is the result of counting one checkout attempt. Scope is empty when
// the attempt is within every limit.
type PurchaseThrottle struct {
	Scope             string
	RetryAfterSeconds int
}

func (t PurchaseThrottle) Allowed() bool {
	return t.Scope == ""
}

// RedisRateLimiter counts checkout attempts in Redis so every replica shares one window.
type RedisRateLimiter struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisRateLimiter(client redis.UniversalClient, prefix string) *RedisRateLimiter {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "settlement:rate_limit"
	}
	return &RedisRateLimiter{client: client, prefix: prefix}
}

// ConsumePurchaseAttempt records an attempt for the buyer email and the client address
// in a single round trip. Blank subjects are not counted.
func (r *RedisRateLimiter) ConsumePurchaseAttempt(
	ctx context.Context,
	email string,
	clientIP string,
	limit int,
	window time.Duration,
) (PurchaseThrottle, error) {
	if r == nil || r.client == nil || limit <= 0 || window <= 0 {
		return PurchaseThrottle{}, nil
	}

	var scopes, keys []string
	if email = strings.ToLower(strings.TrimSpace(email)); email != "" {
		scopes = append(scopes, purchaseRateScopeEmail)
		keys = append(keys, r.key(purchaseRateScopeEmail, email))
	}
	if clientIP = strings.TrimSpace(clientIP); clientIP != "" {
		scopes = append(scopes, purchaseRateScopeClientIP)
		keys = append(keys, r.key(purchaseRateScopeClientIP, clientIP))
	}
	if len(keys) == 0 {
		return PurchaseThrottle{}, nil
	}

	windowMs := window.Milliseconds()
	if windowMs < 1000 {
		windowMs = 1000
	}

	values, err := purchaseAttemptScript.Run(ctx, r.client, keys, windowMs, limit).Int64Slice()
	if err != nil {
		return PurchaseThrottle{}, fmt.Errorf("count purchase attempt: %w", err)
	}
	if len(values) != 2 {
		return PurchaseThrottle{}, fmt.Errorf("unexpected purchase limiter reply length %d", len(values))
	}

	blocked, ttlMs := values[0], values[1]
	if blocked == 0 {
		return PurchaseThrottle{}, nil
	}
	if blocked < 1 || int(blocked) > len(scopes) {
		return PurchaseThrottle{}, fmt.Errorf("purchase limiter returned unknown key index %d", blocked)
	}

	retryAfter := int(math.Ceil(float64(ttlMs) / 1000.0))
	if retryAfter < 1 {
		retryAfter = 1
	}
	return PurchaseThrottle{Scope: scopes[blocked-1], RetryAfterSeconds: retryAfter}, nil
}

func (r *RedisRateLimiter) key(scope, subject string) string {
	return r.prefix + ":" + scope + ":" + subject
}
