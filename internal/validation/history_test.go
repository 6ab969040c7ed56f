package validation

import (
	"math"
	"testing"
)

func TestHistoryTracker_EmptyIsZero(t *testing.T) {
	h := NewHistoryTracker()
	if got := h.Signal("ws-1"); got != 0 {
		t.Errorf("signal = %f, want 0 for an unseen workspace", got)
	}
}

func TestHistoryTracker_WeighsBlocksAboveWarns(t *testing.T) {
	h := NewHistoryTracker()
	h.Observe("ws-1", StatusPass)
	h.Observe("ws-1", StatusWarn)
	h.Observe("ws-1", StatusBlock)
	h.Observe("ws-1", StatusPass)

	// (0 + 0.5 + 1 + 0) / 4
	if got := h.Signal("ws-1"); math.Abs(got-0.375) > 1e-9 {
		t.Errorf("signal = %f, want 0.375", got)
	}

	// Other workspaces are unaffected.
	if got := h.Signal("ws-2"); got != 0 {
		t.Errorf("cross-workspace signal = %f, want 0", got)
	}
}

func TestHistoryTracker_WindowEvictsOldOutcomes(t *testing.T) {
	h := NewHistoryTracker()
	for i := 0; i < historyWindow; i++ {
		h.Observe("ws-1", StatusBlock)
	}
	if got := h.Signal("ws-1"); got != 1 {
		t.Fatalf("signal = %f, want 1 after a window of blocks", got)
	}

	// A full window of clean outcomes washes the blocks out entirely.
	for i := 0; i < historyWindow; i++ {
		h.Observe("ws-1", StatusPass)
	}
	if got := h.Signal("ws-1"); got != 0 {
		t.Errorf("signal = %f, want 0 after the window turned over", got)
	}
}

func TestHistoryTracker_SignalFeedsScore(t *testing.T) {
	p := NewPipeline(DefaultPolicy())
	h := NewHistoryTracker()
	h.Observe("ws-1", StatusBlock)
	h.Observe("ws-1", StatusBlock)

	r := resp("Paris", 95, "encyclopedia")
	without := p.Evaluate("ws-1", r, 0)
	with := p.Evaluate("ws-1", r, h.Signal("ws-1"))

	if with.RiskScore <= without.RiskScore {
		t.Errorf("history should raise the score: %.1f <= %.1f", with.RiskScore, without.RiskScore)
	}
}
