package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
)

func TestRedisRateLimiterCountsBothSubjectsInOneCall(t *testing.T) {
	client, mock := redismock.NewClientMock()
	limiter := NewRedisRateLimiter(client, "test:rl:")

	keys := []string{"test:rl:purchase_email:buyer@example.com", "test:rl:purchase_ip:10.0.0.1"}
	mock.ExpectEvalSha(purchaseAttemptScript.Hash(), keys, int64(60000), 20).
		SetVal([]interface{}{int64(0), int64(0)})

	throttle, err := limiter.ConsumePurchaseAttempt(context.Background(), " Buyer@Example.com ", " 10.0.0.1 ", 20, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !throttle.Allowed() {
		t.Fatalf("expected attempt to be allowed, got %+v", throttle)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet redis expectations: %v", err)
	}
}

func TestRedisRateLimiterReportsTrippedScope(t *testing.T) {
	client, mock := redismock.NewClientMock()
	limiter := NewRedisRateLimiter(client, "")

	keys := []string{"settlement:rate_limit:purchase_email:buyer@example.com", "settlement:rate_limit:purchase_ip:10.0.0.1"}
	mock.ExpectEvalSha(purchaseAttemptScript.Hash(), keys, int64(60000), 5).
		SetVal([]interface{}{int64(2), int64(41500)})

	throttle, err := limiter.ConsumePurchaseAttempt(context.Background(), "buyer@example.com", "10.0.0.1", 5, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if throttle.Allowed() || throttle.Scope != purchaseRateScopeClientIP {
		t.Fatalf("expected client address scope to trip, got %+v", throttle)
	}
	if throttle.RetryAfterSeconds != 42 {
		t.Fatalf("expected retry after 42s, got %d", throttle.RetryAfterSeconds)
	}
}

func TestRedisRateLimiterSkipsBlankSubjects(t *testing.T) {
	client, mock := redismock.NewClientMock()
	limiter := NewRedisRateLimiter(client, "x")

	// Sub-second windows are widened to one second.
	mock.ExpectEvalSha(purchaseAttemptScript.Hash(), []string{"x:purchase_ip:10.0.0.9"}, int64(1000), 3).
		SetVal([]interface{}{int64(1), int64(-1)})

	throttle, err := limiter.ConsumePurchaseAttempt(context.Background(), "  ", "10.0.0.9", 3, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if throttle.Scope != purchaseRateScopeClientIP || throttle.RetryAfterSeconds != 1 {
		t.Fatalf("unexpected throttle: %+v", throttle)
	}

	if throttle, err := limiter.ConsumePurchaseAttempt(context.Background(), "", " ", 3, time.Minute); err != nil || !throttle.Allowed() {
		t.Fatalf("no subjects should be a no-op, got %+v err=%v", throttle, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unexpected redis calls: %v", err)
	}
}

func TestRedisRateLimiterPropagatesRedisErrors(t *testing.T) {
	client, mock := redismock.NewClientMock()
	limiter := NewRedisRateLimiter(client, "")

	mock.ExpectEvalSha(purchaseAttemptScript.Hash(), []string{"settlement:rate_limit:purchase_ip:10.0.0.1"}, int64(60000), 20).
		SetErr(errors.New("connection refused"))

	if _, err := limiter.ConsumePurchaseAttempt(context.Background(), "", "10.0.0.1", 20, time.Minute); err == nil {
		t.Fatalf("expected redis error to propagate")
	}
}

func TestRedisRateLimiterRejectsUnknownKeyIndex(t *testing.T) {
	client, mock := redismock.NewClientMock()
	limiter := NewRedisRateLimiter(client, "")

	mock.ExpectEvalSha(purchaseAttemptScript.Hash(), []string{"settlement:rate_limit:purchase_ip:10.0.0.1"}, int64(60000), 20).
		SetVal([]interface{}{int64(3), int64(1000)})

	if _, err := limiter.ConsumePurchaseAttempt(context.Background(), "", "10.0.0.1", 20, time.Minute); err == nil {
		t.Fatalf("expected an error for an index outside the counted keys")
	}
}

func TestRedisRateLimiterDisabled(t *testing.T) {
	var nilLimiter *RedisRateLimiter
	if throttle, err := nilLimiter.ConsumePurchaseAttempt(context.Background(), "a@b.c", "1.2.3.4", 10, time.Minute); err != nil || !throttle.Allowed() {
		t.Fatalf("nil limiter should be a no-op, got %+v err=%v", throttle, err)
	}

	client, mock := redismock.NewClientMock()
	limiter := NewRedisRateLimiter(client, "x")
	if throttle, err := limiter.ConsumePurchaseAttempt(context.Background(), "a@b.c", "1.2.3.4", 0, time.Minute); err != nil || !throttle.Allowed() {
		t.Fatalf("zero limit should be a no-op, got %+v err=%v", throttle, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("no redis calls expected: %v", err)
	}
}
