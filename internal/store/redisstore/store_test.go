package redisstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestRateKeyBuckets(t *testing.T) {
	at := time.Unix(1_700_000_040, 0)
	a := rateKey("submit", "u1", time.Minute, at)
	b := rateKey("submit", "u1", time.Minute, at.Add(20*time.Second))
	c := rateKey("submit", "u1", time.Minute, at.Add(time.Minute))
	if a != b {
		t.Fatalf("same window produced different keys: %s vs %s", a, b)
	}
	if a == c {
		t.Fatalf("next window reused key %s", a)
	}
}

// Runs against a real server when REDIS_TEST_ADDR is set.
func TestAllow(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	s := New(addr, "", 0)
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()
	if err := s.Ping(ctx); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}

	subject := uuid.NewString()
	for i := 1; i <= 3; i++ {
		ok, n, err := s.Allow(ctx, "test", subject, 3, time.Minute)
		if err != nil {
			t.Fatalf("allow: %v", err)
		}
		if !ok || n != int64(i) {
			t.Fatalf("hit %d: ok=%v n=%d", i, ok, n)
		}
	}
	ok, _, err := s.Allow(ctx, "test", subject, 3, time.Minute)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if ok {
		t.Fatalf("fourth hit should be limited")
	}
}
