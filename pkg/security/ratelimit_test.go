package security

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRateLimiter_BasicEnforcement(t *testing.T) {
	limiter := NewRateLimiter(2.0, 2, 0)

	if !limiter.Allow("alice") {
		t.Error("first request should be allowed")
	}
	if !limiter.Allow("alice") {
		t.Error("second request should be allowed")
	}
	if limiter.Allow("alice") {
		t.Error("third request should be rate limited")
	}
}

func TestRateLimiter_RateReset(t *testing.T) {
	limiter := NewRateLimiter(2.0, 2, 0)

	limiter.Allow("alice")
	limiter.Allow("alice")
	if limiter.Allow("alice") {
		t.Error("request should be rate limited")
	}

	time.Sleep(600 * time.Millisecond)

	if !limiter.Allow("alice") {
		t.Error("request should be allowed after waiting")
	}
}

func TestRateLimiter_ClientsAreIndependent(t *testing.T) {
	limiter := NewRateLimiter(1.0, 1, 0)

	if !limiter.Allow("alice") {
		t.Error("alice first request should be allowed")
	}
	if limiter.Allow("alice") {
		t.Error("alice second request should be limited")
	}
	if !limiter.Allow("bob") {
		t.Error("bob must not be affected by alice's usage")
	}
}

func TestRateLimiter_GlobalLimit(t *testing.T) {
	limiter := NewRateLimiter(100, 1, 1)

	if !limiter.Allow("a") {
		t.Error("first client should be allowed")
	}
	if limiter.Allow("b") {
		t.Error("global bucket should reject the second client")
	}
}

func TestRateLimiter_WaitContextCancel(t *testing.T) {
	limiter := NewRateLimiter(0.1, 1, 0)
	limiter.Allow("alice")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := limiter.Wait(ctx, "alice"); err == nil {
		t.Error("Wait should fail once the context expires")
	}
}

func TestRateLimiter_Sweep(t *testing.T) {
	limiter := NewRateLimiter(1, 1, 0)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	limiter.Allow("alice")
	now = now.Add(time.Hour)
	limiter.Allow("bob")

	if removed := limiter.Sweep(30 * time.Minute); removed != 1 {
		t.Errorf("Sweep removed %d, want 1", removed)
	}
	if limiter.Len() != 1 {
		t.Errorf("Len = %d, want 1", limiter.Len())
	}
	if !limiter.Allow("alice") {
		t.Error("swept client should start with a full bucket")
	}
}

func TestRateLimiter_ConcurrentAccess(t *testing.T) {
	limiter := NewRateLimiter(1000, 1000, 0)

	var wg sync.WaitGroup
	var allowed atomic.Int32
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.Allow("shared") {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	if allowed.Load() != 50 {
		t.Errorf("allowed = %d, want 50", allowed.Load())
	}
}

var errBoom = errors.New("boom")

func TestCircuitBreaker_OpensOnFailures(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Minute)

	for i := 0; i < 3; i++ {
		if err := cb.Execute(func() error { return errBoom }, nil); !errors.Is(err, errBoom) {
			t.Fatalf("call %d: err = %v", i, err)
		}
	}
	if cb.GetState() != CircuitOpen {
		t.Fatalf("state = %v, want open", cb.GetState())
	}

	called := false
	err := cb.Execute(func() error { called = true; return nil }, nil)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("fn must not run while open")
	}
}

func TestCircuitBreaker_SuccessResetsCount(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Minute)

	_ = cb.Execute(func() error { return errBoom }, nil)
	_ = cb.Execute(func() error { return nil }, nil)
	_ = cb.Execute(func() error { return errBoom }, nil)

	if cb.GetState() != CircuitClosed {
		t.Errorf("state = %v, want closed", cb.GetState())
	}
}

func TestCircuitBreaker_IgnoresUncountedErrors(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Minute)
	notCounted := func(error) bool { return false }

	for i := 0; i < 5; i++ {
		_ = cb.Execute(func() error { return errBoom }, notCounted)
	}
	if cb.GetState() != CircuitClosed {
		t.Errorf("state = %v, want closed", cb.GetState())
	}
}

func TestCircuitBreaker_HalfOpen(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cb.now = func() time.Time { return now }

	_ = cb.Execute(func() error { return errBoom }, nil)
	if cb.GetState() != CircuitOpen {
		t.Fatalf("state = %v, want open", cb.GetState())
	}

	now = now.Add(2 * time.Minute)

	// A failed trial call reopens the circuit.
	_ = cb.Execute(func() error { return errBoom }, nil)
	if cb.GetState() != CircuitOpen {
		t.Fatalf("state after failed trial = %v, want open", cb.GetState())
	}

	now = now.Add(2 * time.Minute)
	if err := cb.Execute(func() error { return nil }, nil); err != nil {
		t.Fatalf("trial err = %v", err)
	}
	if cb.GetState() != CircuitClosed {
		t.Errorf("state after successful trial = %v, want closed", cb.GetState())
	}
}

func TestCircuitBreaker_SingleTrialCall(t *testing.T) {
	cb := NewCircuitBreaker(1, 0)
	_ = cb.Execute(func() error { return errBoom }, nil)

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = cb.Execute(func() error { close(started); <-release; return nil }, nil)
	}()
	<-started

	if err := cb.Execute(func() error { return nil }, nil); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("concurrent call during trial: err = %v, want ErrCircuitOpen", err)
	}
	close(release)
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Hour)
	_ = cb.Execute(func() error { return errBoom }, nil)

	cb.Reset()

	if cb.GetState() != CircuitClosed {
		t.Errorf("state = %v, want closed", cb.GetState())
	}
	if err := cb.Execute(func() error { return nil }, nil); err != nil {
		t.Errorf("err = %v", err)
	}
}

func TestCircuitBreaker_DoesNotSerializeCalls(t *testing.T) {
	cb := NewCircuitBreaker(5, time.Minute)

	var inFlight, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = cb.Execute(func() error {
				n := inFlight.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				inFlight.Add(-1)
				return nil
			}, nil)
		}()
	}
	wg.Wait()

	if peak.Load() < 2 {
		t.Errorf("peak concurrency = %d, calls were serialized", peak.Load())
	}
}
