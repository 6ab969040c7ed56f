// Package validation scores structured LLM responses for confidence and
// risk and derives the overall verdict that decides whether a response is
// passed through, flagged, or blocked.
//
// The numeric thresholds behind a verdict are tenant policy. They are never
// included in anything returned to an end caller; Sanitize strips a verdict
// down to derived values only.
package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/nulpointcorp/sentinel-gateway/internal/enforce"
)

// Check and verdict statuses, in precedence order.
const (
	StatusPass  = "PASS"
	StatusWarn  = "WARN"
	StatusBlock = "BLOCK"
)

// Risk levels.
const (
	LevelLow    = "low"
	LevelMedium = "medium"
	LevelHigh   = "high"
)

// Issue is one finding from a confidence or risk check.
type Issue struct {
	Type   string `json:"type"`
	Detail string `json:"detail"`
}

// CheckResult is the outcome of one independent check.
type CheckResult struct {
	Status string  `json:"status"`
	Issues []Issue `json:"issues"`
}

// Policy holds the tenant-configurable thresholds.
type Policy struct {
	// ConfidenceWarn flags responses whose confidence falls below it.
	ConfidenceWarn int
	// ConfidenceBlock marks severely uncertain responses for risk scoring.
	ConfidenceBlock int
	// MinEvidence is the minimum evidence count expected of a confident
	// answer.
	MinEvidence int
}

// DefaultPolicy returns the global default thresholds.
func DefaultPolicy() Policy {
	return Policy{
		ConfidenceWarn:  70,
		ConfidenceBlock: 30,
		MinEvidence:     1,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.ConfidenceWarn <= 0 {
		p.ConfidenceWarn = d.ConfidenceWarn
	}
	if p.ConfidenceBlock <= 0 {
		p.ConfidenceBlock = d.ConfidenceBlock
	}
	if p.MinEvidence < 0 {
		p.MinEvidence = d.MinEvidence
	}
	return p
}

// Sensitive-content patterns scanned over answer, evidence, and
// alternatives. Severe matches block; contact-info matches warn.
var (
	reAWSKey     = regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`)
	reAPIKey     = regexp.MustCompile(`\b(?:sk|rk)-[A-Za-z0-9_-]{20,}\b`)
	rePrivateKey = regexp.MustCompile(`-----BEGIN (?:RSA |EC |OPENSSH )?PRIVATE KEY-----`)
	reCreditCard = regexp.MustCompile(`\b(?:\d[ -]?){13,16}\b`)
	reSSN        = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	rePassword   = regexp.MustCompile(`(?i)\bpassword\s*[:=]\s*\S+`)
	reEmail      = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	rePhone      = regexp.MustCompile(`\+\d{1,3}[ -]?\(?\d{2,4}\)?[ -]?\d{3}[ -]?\d{2,4}\b`)
)

type riskPattern struct {
	name   string
	re     *regexp.Regexp
	blocks bool
}

var riskPatterns = []riskPattern{
	{"aws_access_key", reAWSKey, true},
	{"api_key", reAPIKey, true},
	{"private_key", rePrivateKey, true},
	{"credit_card", reCreditCard, true},
	{"ssn", reSSN, true},
	{"password", rePassword, true},
	{"email", reEmail, false},
	{"phone", rePhone, false},
}

// ValidateConfidence checks the response's self-reported confidence and
// evidence sufficiency against policy. Returns PASS or WARN.
func ValidateConfidence(resp *enforce.StructuredResponse, p Policy) CheckResult {
	p = p.withDefaults()

	issues := make([]Issue, 0, 2)
	if resp.Confidence < p.ConfidenceWarn {
		issues = append(issues, Issue{
			Type:   "low_confidence",
			Detail: fmt.Sprintf("confidence %d below acceptable level", resp.Confidence),
		})
	}
	if len(resp.Evidence) < p.MinEvidence {
		issues = append(issues, Issue{
			Type:   "insufficient_evidence",
			Detail: fmt.Sprintf("%d supporting evidence item(s) provided", len(resp.Evidence)),
		})
	}

	status := StatusPass
	if len(issues) > 0 {
		status = StatusWarn
	}
	return CheckResult{Status: status, Issues: issues}
}

// ScanRisk scans answer, evidence, and alternatives for embedded sensitive
// data. A severe match (credentials, card numbers, SSNs) yields BLOCK;
// contact information yields WARN.
func ScanRisk(resp *enforce.StructuredResponse) CheckResult {
	var sb strings.Builder
	sb.WriteString(resp.Answer)
	for _, e := range resp.Evidence {
		sb.WriteByte('\n')
		sb.WriteString(e)
	}
	for _, a := range resp.Alternatives {
		sb.WriteByte('\n')
		sb.WriteString(a)
	}
	text := sb.String()

	issues := make([]Issue, 0)
	status := StatusPass
	for _, p := range riskPatterns {
		if !p.re.MatchString(text) {
			continue
		}
		issues = append(issues, Issue{
			Type:   p.name,
			Detail: "sensitive content detected in response",
		})
		if p.blocks {
			status = StatusBlock
		} else if status == StatusPass {
			status = StatusWarn
		}
	}

	return CheckResult{Status: status, Issues: issues}
}
