package proxy

import (
	"testing"
	"time"

	"github.com/nulpointcorp/sentinel-gateway/internal/workspace"
)

func newTestBreaker() *CircuitBreaker {
	return NewCircuitBreaker(CBConfig{
		ErrorThreshold:  3,
		TimeWindow:      time.Minute,
		HalfOpenTimeout: 10 * time.Second,
	})
}

func tripBreaker(cb *CircuitBreaker, provider string) {
	for i := 0; i < 3; i++ {
		cb.RecordFailure(provider)
	}
}

func TestCircuitBreaker_InitialState(t *testing.T) {
	cb := newTestBreaker()

	for _, name := range workspace.AllProviders {
		if cb.State(name) != cbClosed {
			t.Errorf("provider %s should start closed, got %v", name, cb.State(name))
		}
		if cb.StateLabel(name) != "closed" {
			t.Errorf("provider %s label should be 'closed', got %s", name, cb.StateLabel(name))
		}
	}
}

func TestCircuitBreaker_AllowClosedState(t *testing.T) {
	cb := newTestBreaker()
	if !cb.Allow("openai") {
		t.Error("closed breaker should allow requests")
	}
}

func TestCircuitBreaker_AllowUnknownProvider(t *testing.T) {
	cb := newTestBreaker()
	if !cb.Allow("unknown-provider") {
		t.Error("unknown provider should be allowed")
	}
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := newTestBreaker()

	cb.RecordFailure("openai")
	cb.RecordFailure("openai")
	if cb.State("openai") != cbClosed {
		t.Fatal("should remain closed below threshold")
	}

	cb.RecordFailure("openai")
	if cb.State("openai") != cbOpen {
		t.Error("should be open after reaching threshold")
	}
	if cb.StateLabel("openai") != "open" {
		t.Errorf("label should be 'open', got %s", cb.StateLabel("openai"))
	}
}

func TestCircuitBreaker_OpenRejectsRequests(t *testing.T) {
	cb := newTestBreaker()
	tripBreaker(cb, "openai")

	if cb.Allow("openai") {
		t.Error("open breaker should reject requests")
	}
}

func TestCircuitBreaker_SuccessResets(t *testing.T) {
	cb := newTestBreaker()

	cb.RecordFailure("openai")
	cb.RecordFailure("openai")
	cb.RecordSuccess("openai")

	if cb.State("openai") != cbClosed {
		t.Error("success should reset to closed")
	}

	// The full threshold applies again after a reset.
	cb.RecordFailure("openai")
	cb.RecordFailure("openai")
	if cb.State("openai") != cbClosed {
		t.Error("should still be closed before a fresh threshold")
	}
}

func TestCircuitBreaker_WindowReset(t *testing.T) {
	cb := newTestBreaker()

	// Place the accumulated errors outside the rolling window.
	pcb := cb.breakers["openai"]
	pcb.mu.Lock()
	pcb.windowStart = time.Now().Add(-2 * time.Minute)
	pcb.errorCount = 2
	pcb.mu.Unlock()

	cb.RecordFailure("openai")

	if cb.State("openai") != cbClosed {
		t.Error("error counter should reset after window expires; breaker should stay closed")
	}
}

func TestCircuitBreaker_HalfOpenAfterTimeout(t *testing.T) {
	cb := newTestBreaker()
	tripBreaker(cb, "openai")
	if cb.State("openai") != cbOpen {
		t.Fatal("expected open")
	}

	pcb := cb.breakers["openai"]
	pcb.mu.Lock()
	pcb.openedAt = time.Now().Add(-11 * time.Second)
	pcb.mu.Unlock()

	if !cb.Allow("openai") {
		t.Error("should allow one probe in half-open state")
	}
	if cb.State("openai") != cbHalfOpen {
		t.Errorf("expected half_open, got %s", cb.StateLabel("openai"))
	}

	// Probe already in flight; the next request waits its turn.
	if cb.Allow("openai") {
		t.Error("should reject second request while probe is in flight")
	}
}

func TestCircuitBreaker_HalfOpenSuccessCloses(t *testing.T) {
	cb := newTestBreaker()
	tripBreaker(cb, "openai")

	pcb := cb.breakers["openai"]
	pcb.mu.Lock()
	pcb.openedAt = time.Now().Add(-11 * time.Second)
	pcb.mu.Unlock()

	cb.Allow("openai")
	cb.RecordSuccess("openai")

	if cb.State("openai") != cbClosed {
		t.Error("success in half-open should close the breaker")
	}
	if !cb.Allow("openai") {
		t.Error("should allow requests after closing from half-open")
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := newTestBreaker()
	tripBreaker(cb, "openai")

	pcb := cb.breakers["openai"]
	pcb.mu.Lock()
	pcb.openedAt = time.Now().Add(-11 * time.Second)
	pcb.mu.Unlock()

	cb.Allow("openai")
	cb.RecordFailure("openai")

	if cb.State("openai") != cbOpen {
		t.Error("failure in half-open should reopen the breaker")
	}
}

func TestCircuitBreaker_IndependentProviders(t *testing.T) {
	cb := newTestBreaker()
	tripBreaker(cb, "openai")

	if cb.State("openai") != cbOpen {
		t.Error("openai should be open")
	}
	if cb.State("anthropic") != cbClosed {
		t.Error("anthropic should remain closed")
	}
	if !cb.Allow("anthropic") {
		t.Error("anthropic should still allow requests")
	}
}

func TestCircuitBreaker_RecordOnUnknownProvider(t *testing.T) {
	cb := newTestBreaker()
	// Should not panic.
	cb.RecordSuccess("nonexistent")
	cb.RecordFailure("nonexistent")
	if cb.State("nonexistent") != cbClosed {
		t.Error("unknown provider state should default to closed")
	}
}

func TestCircuitBreaker_DefaultsApply(t *testing.T) {
	cb := NewCircuitBreaker(CBConfig{})

	for i := 0; i < cbDefaultErrorThreshold-1; i++ {
		cb.RecordFailure("openai")
	}
	if cb.State("openai") != cbClosed {
		t.Fatal("should remain closed below default threshold")
	}
	cb.RecordFailure("openai")
	if cb.State("openai") != cbOpen {
		t.Error("default threshold should trip the breaker")
	}
}
