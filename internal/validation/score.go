package validation

import (
	"fmt"
	"strings"
	"sync"
)

// Weights tune how much each factor contributes to the risk score.
// Per-workspace overrides fall back to DefaultWeights.
type Weights struct {
	Confidence float64 `json:"confidence"`
	Evidence   float64 `json:"evidence"`
	Flagged    float64 `json:"flagged"`
	History    float64 `json:"history"`
}

// DefaultWeights returns the global scoring weights.
func DefaultWeights() Weights {
	return Weights{
		Confidence: 0.40,
		Evidence:   0.15,
		Flagged:    0.35,
		History:    0.10,
	}
}

// Factors are the raw signals fed into ScoreRisk.
type Factors struct {
	// Confidence is the response's self-reported confidence, 0-100.
	Confidence int
	// EvidenceCount is the number of supporting evidence items.
	EvidenceCount int
	// Flagged is true when the risk scan found sensitive content or the
	// response's confidence fell below the block threshold.
	Flagged bool
	// History is an accumulated 0-1 signal from prior verdicts for the
	// workspace. Zero when no history is available.
	History float64
}

// RiskScore is the combined 0-100 score with its coarse classification.
type RiskScore struct {
	Score       float64 `json:"score"`
	Level       string  `json:"level"`
	Explanation string  `json:"explanation"`
}

// Scorer computes risk scores using per-workspace weights when configured.
type Scorer struct {
	mu      sync.RWMutex
	weights map[string]Weights
}

// NewScorer creates a Scorer with no workspace overrides.
func NewScorer() *Scorer {
	return &Scorer{weights: make(map[string]Weights)}
}

// SetWeights installs workspace-specific scoring weights.
func (s *Scorer) SetWeights(workspaceID string, w Weights) {
	s.mu.Lock()
	s.weights[workspaceID] = w
	s.mu.Unlock()
}

func (s *Scorer) weightsFor(workspaceID string) Weights {
	s.mu.RLock()
	w, ok := s.weights[workspaceID]
	s.mu.RUnlock()
	if !ok {
		return DefaultWeights()
	}
	return w
}

// ScoreRisk combines the factors into a single 0-100 score and a
// low|medium|high level. Higher scores mean higher risk.
func (s *Scorer) ScoreRisk(workspaceID string, f Factors) RiskScore {
	w := s.weightsFor(workspaceID)

	conf := f.Confidence
	if conf < 0 {
		conf = 0
	}
	if conf > 100 {
		conf = 100
	}

	// Each component contributes 0-1, weighted into a 0-100 total.
	uncertainty := float64(100-conf) / 100

	evidenceGap := 1.0
	if f.EvidenceCount > 0 {
		evidenceGap = 1.0 / float64(f.EvidenceCount+1)
	}

	flagged := 0.0
	if f.Flagged {
		flagged = 1.0
	}

	history := f.History
	if history < 0 {
		history = 0
	}
	if history > 1 {
		history = 1
	}

	total := w.Confidence + w.Evidence + w.Flagged + w.History
	if total <= 0 {
		w = DefaultWeights()
		total = w.Confidence + w.Evidence + w.Flagged + w.History
	}

	score := 100 * (uncertainty*w.Confidence + evidenceGap*w.Evidence + flagged*w.Flagged + history*w.History) / total

	return RiskScore{
		Score:       score,
		Level:       levelFor(score),
		Explanation: explain(f, score),
	}
}

func levelFor(score float64) string {
	switch {
	case score < 40:
		return LevelLow
	case score < 70:
		return LevelMedium
	default:
		return LevelHigh
	}
}

func explain(f Factors, score float64) string {
	parts := make([]string, 0, 4)
	parts = append(parts, fmt.Sprintf("confidence %d/100", f.Confidence))
	if f.EvidenceCount == 0 {
		parts = append(parts, "no supporting evidence")
	} else {
		parts = append(parts, fmt.Sprintf("%d evidence item(s)", f.EvidenceCount))
	}
	if f.Flagged {
		parts = append(parts, "sensitive content flagged")
	}
	if f.History > 0 {
		parts = append(parts, "elevated history signal")
	}
	return fmt.Sprintf("risk %.0f (%s): %s", score, levelFor(score), strings.Join(parts, ", "))
}
