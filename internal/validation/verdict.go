package validation

import (
	"github.com/nulpointcorp/sentinel-gateway/internal/enforce"
)

// Verdict is the full internal outcome of the validation pipeline. It
// carries the inputs that produced it and must never be returned to an end
// caller as-is; use Sanitize.
type Verdict struct {
	ConfidenceStatus string  `json:"confidence_status"`
	RiskStatus       string  `json:"risk_status"`
	Overall          string  `json:"overall"`
	RiskScore        float64 `json:"risk_score"`
	RiskLevel        string  `json:"risk_level"`
	Explanation      string  `json:"explanation"`
	Issues           []Issue `json:"issues"`
}

// SanitizedVerdict is the caller-facing projection of a Verdict. No
// thresholds, no statuses per dimension, no per-issue detail.
type SanitizedVerdict struct {
	Score       float64 `json:"score"`
	Level       string  `json:"level"`
	Explanation string  `json:"explanation"`
	Passed      bool    `json:"passed"`
	Overall     string  `json:"overall"`
	IssueCount  int     `json:"issue_count"`
}

// Pipeline runs the full validation flow for one workspace policy.
type Pipeline struct {
	policy Policy
	scorer *Scorer
}

// NewPipeline creates a Pipeline. A zero Policy takes global defaults.
func NewPipeline(policy Policy) *Pipeline {
	return &Pipeline{
		policy: policy.withDefaults(),
		scorer: NewScorer(),
	}
}

// Scorer exposes the underlying scorer for workspace weight configuration.
func (p *Pipeline) Scorer() *Scorer { return p.scorer }

// Evaluate runs both checks and the risk scorer over a structured response
// and combines them into the overall verdict.
//
// Precedence, highest wins: risk BLOCK forces overall BLOCK; otherwise a
// WARN in either dimension yields WARN; otherwise PASS.
func (p *Pipeline) Evaluate(workspaceID string, resp *enforce.StructuredResponse, history float64) Verdict {
	conf := ValidateConfidence(resp, p.policy)
	risk := ScanRisk(resp)

	// Severe uncertainty counts as flagged for scoring. It raises the risk
	// score but never forces a BLOCK on its own.
	flagged := len(risk.Issues) > 0 || resp.Confidence < p.policy.ConfidenceBlock

	score := p.scorer.ScoreRisk(workspaceID, Factors{
		Confidence:    resp.Confidence,
		EvidenceCount: len(resp.Evidence),
		Flagged:       flagged,
		History:       history,
	})

	overall := StatusPass
	switch {
	case risk.Status == StatusBlock:
		overall = StatusBlock
	case conf.Status == StatusWarn || risk.Status == StatusWarn:
		overall = StatusWarn
	}

	issues := make([]Issue, 0, len(conf.Issues)+len(risk.Issues))
	issues = append(issues, conf.Issues...)
	issues = append(issues, risk.Issues...)

	return Verdict{
		ConfidenceStatus: conf.Status,
		RiskStatus:       risk.Status,
		Overall:          overall,
		RiskScore:        score.Score,
		RiskLevel:        score.Level,
		Explanation:      score.Explanation,
		Issues:           issues,
	}
}

// Sanitize projects a Verdict to its caller-safe form.
func Sanitize(v Verdict) SanitizedVerdict {
	return SanitizedVerdict{
		Score:       v.RiskScore,
		Level:       v.RiskLevel,
		Explanation: v.Explanation,
		Passed:      v.Overall == StatusPass,
		Overall:     v.Overall,
		IssueCount:  len(v.Issues),
	}
}
