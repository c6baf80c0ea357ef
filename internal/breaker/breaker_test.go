package breaker

import (
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func newTestBreaker(t *testing.T, cfg Config) (*Breaker, func(d time.Duration)) {
	t.Helper()
	b := New(cfg, zaptest.NewLogger(t))
	clock := time.Unix(0, 0)
	b.now = func() time.Time { return clock }
	return b, func(d time.Duration) { clock = clock.Add(d) }
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b, advance := newTestBreaker(t, Config{Threshold: 3, Cooloff: 60 * time.Second})

	for i := 0; i < 3; i++ {
		if !b.ShouldAllow() {
			t.Fatalf("call %d should be allowed while closed", i+1)
		}
		b.RecordFailure()
	}
	if b.Status() != StatusOpen {
		t.Fatalf("expected open after 3 failures, got %s", b.Status())
	}
	if b.ShouldAllow() {
		t.Fatal("open breaker must not allow calls")
	}

	advance(59 * time.Second)
	if b.ShouldAllow() {
		t.Fatal("breaker should stay open before cooloff elapses")
	}

	advance(2 * time.Second)
	if !b.ShouldAllow() {
		t.Fatal("expected one probe after cooloff")
	}
	if b.ShouldAllow() {
		t.Fatal("only one probe per cooloff window")
	}

	b.RecordSuccess()
	if b.Status() != StatusClosed {
		t.Fatalf("success in half-open should close, got %s", b.Status())
	}
	if !b.ShouldAllow() {
		t.Fatal("closed breaker should allow calls")
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b, advance := newTestBreaker(t, Config{Threshold: 2, Cooloff: 30 * time.Second})

	b.RecordFailure()
	b.RecordFailure()
	advance(31 * time.Second)
	if !b.ShouldAllow() {
		t.Fatal("expected probe after cooloff")
	}
	b.RecordFailure()
	if b.Status() != StatusOpen {
		t.Fatalf("failed probe should reopen, got %s", b.Status())
	}
	if b.ShouldAllow() {
		t.Fatal("reopened breaker must not allow calls")
	}
	// A fresh cool-off window starts from the failed probe.
	advance(31 * time.Second)
	if !b.ShouldAllow() {
		t.Fatal("expected probe after second cooloff")
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(t, Config{Threshold: 3, Cooloff: time.Minute})

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	if b.Status() != StatusClosed {
		t.Fatalf("interleaved success should reset count, got %s", b.Status())
	}
	b.RecordFailure()
	if b.Status() != StatusOpen {
		t.Fatalf("third consecutive failure should open, got %s", b.Status())
	}
}

func TestBreakerDisabled(t *testing.T) {
	b, _ := newTestBreaker(t, Config{Threshold: 0, Cooloff: time.Minute})

	if b.Status() != StatusDisabled {
		t.Fatalf("expected disabled, got %s", b.Status())
	}
	for i := 0; i < 10; i++ {
		b.RecordFailure()
		if !b.ShouldAllow() {
			t.Fatal("disabled breaker always allows")
		}
	}
}

func TestBreakerStateChangeHook(t *testing.T) {
	var transitions []Status
	b, advance := newTestBreaker(t, Config{
		Threshold:     1,
		Cooloff:       time.Second,
		OnStateChange: func(s Status) { transitions = append(transitions, s) },
	})

	b.RecordFailure()
	advance(2 * time.Second)
	b.ShouldAllow()
	b.RecordSuccess()

	// initial closed, then open, half_open, closed
	want := []Status{StatusClosed, StatusOpen, StatusHalfOpen, StatusClosed}
	if len(transitions) != len(want) {
		t.Fatalf("expected %d transitions, got %v", len(want), transitions)
	}
	for i, s := range want {
		if transitions[i] != s {
			t.Errorf("transition %d: expected %s, got %s", i, s, transitions[i])
		}
	}
}
