package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestAllowUnlimited(t *testing.T) {
	l := New()

	for i := 0; i < 100; i++ {
		if !l.Allow("sub_1", 0) {
			t.Fatal("rate limit 0 must always allow")
		}
	}
}

func TestAllowConsumesBurst(t *testing.T) {
	l := New()

	// Bucket starts full with rateLimit tokens.
	for i := 0; i < 5; i++ {
		if !l.Allow("sub_1", 5) {
			t.Fatalf("request %d denied within burst", i)
		}
	}

	if l.Allow("sub_1", 5) {
		t.Fatal("request allowed after burst exhausted")
	}
}

func TestAllowIsolatesSubscriptions(t *testing.T) {
	l := New()

	for i := 0; i < 3; i++ {
		l.Allow("sub_a", 3)
	}
	if l.Allow("sub_a", 3) {
		t.Fatal("sub_a should be exhausted")
	}

	if !l.Allow("sub_b", 3) {
		t.Fatal("sub_b must not be affected by sub_a's bucket")
	}
}

func TestAllowRefills(t *testing.T) {
	l := New()

	for i := 0; i < 50; i++ {
		l.Allow("sub_1", 50)
	}
	if l.Allow("sub_1", 50) {
		t.Fatal("bucket should be empty")
	}

	// 50/s refills one token every 20ms.
	time.Sleep(50 * time.Millisecond)

	if !l.Allow("sub_1", 50) {
		t.Fatal("bucket did not refill")
	}
}

func TestReset(t *testing.T) {
	l := New()

	for i := 0; i < 2; i++ {
		l.Allow("sub_1", 2)
	}
	if l.Allow("sub_1", 2) {
		t.Fatal("bucket should be empty")
	}

	l.Reset("sub_1")

	if !l.Allow("sub_1", 2) {
		t.Fatal("reset should restore a full bucket")
	}
}

func TestWaitUnlimitedReturnsImmediately(t *testing.T) {
	l := New()

	start := time.Now()
	if err := l.Wait(context.Background(), "sub_1", 0); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > 10*time.Millisecond {
		t.Fatal("unlimited Wait blocked")
	}
}

func TestWaitBlocksUntilRefill(t *testing.T) {
	l := New()

	for i := 0; i < 20; i++ {
		l.Allow("sub_1", 20)
	}

	start := time.Now()
	if err := l.Wait(context.Background(), "sub_1", 20); err != nil {
		t.Fatal(err)
	}

	// One token refills in 50ms at 20/s.
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Fatalf("Wait returned after %v, expected a refill delay", elapsed)
	}
}

func TestWaitHonorsContextCancellation(t *testing.T) {
	l := New()

	// Exhaust a very slow bucket so Wait has to block.
	l.Allow("sub_1", 1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := l.Wait(ctx, "sub_1", 1)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want context.DeadlineExceeded", err)
	}
}
