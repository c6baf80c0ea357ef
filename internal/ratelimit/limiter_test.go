package ratelimit

import (
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, func(d time.Duration)) {
	t.Helper()
	l, err := New(cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	clock := time.Unix(0, 0)
	l.now = func() time.Time { return clock }
	advance := func(d time.Duration) { clock = clock.Add(d) }
	return l, advance
}

func TestLimiterBurstThenLimited(t *testing.T) {
	l, _ := newTestLimiter(t, Config{RequestsPerMinute: 2, BucketSize: 2})

	if d := l.Check("1.2.3.4", 0); !d.Allowed {
		t.Fatal("first request should be allowed")
	}
	if d := l.Check("1.2.3.4", 0); !d.Allowed {
		t.Fatal("second request should be allowed")
	}
	d := l.Check("1.2.3.4", 0)
	if d.Allowed {
		t.Fatal("third request should be limited")
	}
	// Deficit of one token at 2 tokens/minute: ~30 seconds.
	if d.RetryAfter < 29*time.Second || d.RetryAfter > 31*time.Second {
		t.Errorf("expected retry_after ~30s, got %s", d.RetryAfter)
	}
}

func TestLimiterRefill(t *testing.T) {
	l, advance := newTestLimiter(t, Config{RequestsPerMinute: 60, BucketSize: 1})

	if d := l.Check("client", 0); !d.Allowed {
		t.Fatal("first request should be allowed")
	}
	if d := l.Check("client", 0); d.Allowed {
		t.Fatal("second immediate request should be limited")
	}
	advance(time.Second) // one token per second
	if d := l.Check("client", 0); !d.Allowed {
		t.Fatal("request after refill should be allowed")
	}
}

func TestLimiterTokensNeverExceedCapacity(t *testing.T) {
	l, advance := newTestLimiter(t, Config{RequestsPerMinute: 60, BucketSize: 3})

	l.Check("client", 0)
	advance(time.Hour)
	// After a long idle period the bucket must hold at most its capacity:
	// 3 allowed, the 4th limited.
	for i := 0; i < 3; i++ {
		if d := l.Check("client", 0); !d.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if d := l.Check("client", 0); d.Allowed {
		t.Fatal("request beyond capacity should be limited")
	}
}

func TestLimiterBodyBudget(t *testing.T) {
	l, _ := newTestLimiter(t, Config{
		RequestsPerMinute:  100,
		BucketSize:         100,
		BodyBytesPerMinute: 1000,
	})

	if d := l.Check("client", 900); !d.Allowed {
		t.Fatal("body within budget should be allowed")
	}
	d := l.Check("client", 900)
	if d.Allowed {
		t.Fatal("body beyond budget should be limited")
	}
	if d.RetryAfter <= 0 {
		t.Errorf("expected positive retry_after, got %s", d.RetryAfter)
	}
}

func TestLimiterBodyDisabled(t *testing.T) {
	l, _ := newTestLimiter(t, Config{RequestsPerMinute: 10, BucketSize: 10})
	if d := l.Check("client", 1<<30); !d.Allowed {
		t.Fatal("body limiter disabled, huge body should be allowed")
	}
}

func TestLimiterKeyIsolation(t *testing.T) {
	l, _ := newTestLimiter(t, Config{RequestsPerMinute: 2, BucketSize: 1})
	if d := l.Check("alice", 0); !d.Allowed {
		t.Fatal("alice should be allowed")
	}
	if d := l.Check("bob", 0); !d.Allowed {
		t.Fatal("bob has an independent bucket")
	}
}

func TestLimiterPruning(t *testing.T) {
	l, advance := newTestLimiter(t, Config{
		RequestsPerMinute: 10,
		BucketSize:        10,
		IdleTimeout:       time.Minute,
		PruneInterval:     time.Minute,
	})

	l.Check("stale", 0)
	advance(2 * time.Minute)
	l.Check("fresh", 0)
	if l.Size() != 1 {
		t.Errorf("expected stale bucket pruned, size=%d", l.Size())
	}

	// A bucket seen within the idle timeout must survive pruning.
	advance(30 * time.Second)
	l.Check("fresh", 0)
	advance(40 * time.Second)
	l.Check("other", 0)
	if l.Size() != 2 {
		t.Errorf("expected fresh bucket to survive, size=%d", l.Size())
	}
}

func TestNormalizeKey(t *testing.T) {
	cases := map[string]string{
		"  10.0.0.1  ":     "10.0.0.1",
		"User@Example.COM": "user_example.com",
		"":                 "unknown",
		"fe80::1":          "fe80::1",
	}
	for in, want := range cases {
		if got := NormalizeKey(in); got != want {
			t.Errorf("NormalizeKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	if _, err := New(Config{RequestsPerMinute: 0, BucketSize: 1}, nil); err == nil {
		t.Error("expected error for zero rate")
	}
	if _, err := New(Config{RequestsPerMinute: 1, BucketSize: 0}, nil); err == nil {
		t.Error("expected error for zero capacity")
	}
	if _, err := New(Config{RequestsPerMinute: 1, BucketSize: 1, BodyBytesPerMinute: -1}, nil); err == nil {
		t.Error("expected error for negative body rate")
	}
}
