package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func transientFail() error {
	return NewTransientError(errors.New("provider unreachable"), 503)
}

func TestBreaker_ClosedState_PassesThrough(t *testing.T) {
	b := NewBreaker(DefaultBreakerConfig())

	var calls int
	err := b.Execute(context.Background(), func(_ context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if b.State() != CircuitClosed {
		t.Errorf("expected closed state, got %s", b.State())
	}
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := NewBreaker(BreakerConfig{
		FailureThreshold: 3,
		ResetTimeout:     1 * time.Minute,
	})

	for i := 0; i < 3; i++ {
		_ = b.Execute(context.Background(), func(_ context.Context) error {
			return transientFail()
		})
	}

	if !b.Open() {
		t.Errorf("expected open state after 3 failures, got %s", b.State())
	}

	err := b.Execute(context.Background(), func(_ context.Context) error {
		t.Error("should not be called when circuit is open")
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestBreaker_NonTransientErrorsDoNotTrip(t *testing.T) {
	b := NewBreaker(BreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     1 * time.Minute,
	})

	// A working provider returning NotFound or bad-request style errors
	// must not open the circuit.
	for i := 0; i < 10; i++ {
		_ = b.Execute(context.Background(), func(_ context.Context) error {
			return errors.New("no match for address")
		})
	}
	if b.State() != CircuitClosed {
		t.Errorf("expected closed after non-transient errors, got %s", b.State())
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(BreakerConfig{
		FailureThreshold: 3,
		ResetTimeout:     1 * time.Minute,
	})

	// Two failures, then a success, then two more failures: never trips.
	for i := 0; i < 2; i++ {
		_ = b.Execute(context.Background(), func(_ context.Context) error {
			return transientFail()
		})
	}
	_ = b.Execute(context.Background(), func(_ context.Context) error {
		return nil
	})
	for i := 0; i < 2; i++ {
		_ = b.Execute(context.Background(), func(_ context.Context) error {
			return transientFail()
		})
	}

	if b.State() != CircuitClosed {
		t.Errorf("expected closed state, got %s", b.State())
	}
}

func TestBreaker_HalfOpenAfterTimeout(t *testing.T) {
	now := time.Now()
	b := NewBreaker(BreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     100 * time.Millisecond,
	})
	b.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		_ = b.Execute(context.Background(), func(_ context.Context) error {
			return transientFail()
		})
	}
	if b.State() != CircuitOpen {
		t.Fatalf("expected open state, got %s", b.State())
	}

	b.now = func() time.Time { return now.Add(200 * time.Millisecond) }

	if b.State() != CircuitHalfOpen {
		t.Errorf("expected half-open state after timeout, got %s", b.State())
	}

	err := b.Execute(context.Background(), func(_ context.Context) error {
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.State() != CircuitClosed {
		t.Errorf("expected closed state after successful probe, got %s", b.State())
	}
}

func TestBreaker_HalfOpenFailure_Reopens(t *testing.T) {
	now := time.Now()
	b := NewBreaker(BreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     100 * time.Millisecond,
	})
	b.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		_ = b.Execute(context.Background(), func(_ context.Context) error {
			return transientFail()
		})
	}

	b.now = func() time.Time { return now.Add(200 * time.Millisecond) }

	_ = b.Execute(context.Background(), func(_ context.Context) error {
		return transientFail()
	})

	// lastFailure just moved forward, so the circuit is open again until
	// another reset timeout passes.
	if b.State() != CircuitOpen {
		t.Errorf("expected open state after half-open failure, got %s", b.State())
	}
}

func TestBreaker_OnStateChange(t *testing.T) {
	var transitions []struct{ from, to CircuitState }
	b := NewBreaker(BreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     1 * time.Minute,
		OnStateChange: func(from, to CircuitState) {
			transitions = append(transitions, struct{ from, to CircuitState }{from, to})
		},
	})

	for i := 0; i < 2; i++ {
		_ = b.Execute(context.Background(), func(_ context.Context) error {
			return transientFail()
		})
	}

	if len(transitions) != 1 {
		t.Fatalf("expected 1 transition, got %d", len(transitions))
	}
	if transitions[0].from != CircuitClosed || transitions[0].to != CircuitOpen {
		t.Errorf("expected closed→open, got %s→%s", transitions[0].from, transitions[0].to)
	}
}

func TestBreaker_Reset(t *testing.T) {
	b := NewBreaker(BreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     1 * time.Hour,
	})

	for i := 0; i < 2; i++ {
		_ = b.Execute(context.Background(), func(_ context.Context) error {
			return transientFail()
		})
	}
	if b.State() != CircuitOpen {
		t.Fatalf("expected open, got %s", b.State())
	}

	b.Reset()
	if b.State() != CircuitClosed {
		t.Errorf("expected closed after reset, got %s", b.State())
	}

	err := b.Execute(context.Background(), func(_ context.Context) error {
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error after reset: %v", err)
	}
}

func TestBreaker_ConcurrentAccess(t *testing.T) {
	t.Parallel()
	b := NewBreaker(BreakerConfig{
		FailureThreshold: 1000,
		ResetTimeout:     1 * time.Minute,
	})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.Execute(context.Background(), func(_ context.Context) error {
				if i%2 == 0 {
					return transientFail()
				}
				return nil
			})
		}()
	}
	wg.Wait()
	// Just verifying no race/panic.
}

func TestExecuteVal_Breaker(t *testing.T) {
	b := NewBreaker(DefaultBreakerConfig())

	val, err := ExecuteVal(context.Background(), b, func(_ context.Context) (int, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != 42 {
		t.Errorf("expected 42, got %d", val)
	}
}

func TestExecuteVal_CircuitOpen(t *testing.T) {
	b := NewBreaker(BreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     1 * time.Hour,
	})

	_ = b.Execute(context.Background(), func(_ context.Context) error {
		return transientFail()
	})

	val, err := ExecuteVal(context.Background(), b, func(_ context.Context) (int, error) {
		return 42, nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
	if val != 0 {
		t.Errorf("expected zero value, got %d", val)
	}
}

func TestCircuitState_String(t *testing.T) {
	tests := []struct {
		state CircuitState
		want  string
	}{
		{CircuitClosed, "closed"},
		{CircuitOpen, "open"},
		{CircuitHalfOpen, "half-open"},
		{CircuitState(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("CircuitState(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
