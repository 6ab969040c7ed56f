package enforce

import (
	"encoding/json"
	"strings"
)

// DegradedConfidence is assigned when the upstream text is not parseable as
// the structured contract and the whole text becomes the answer.
const DegradedConfidence = 50

// ParseStructured normalizes raw upstream text into a StructuredResponse.
// It never fails: attempts, in order, a direct JSON parse, a fenced
// ```json block, and the last {...} candidate in the text; when all three
// miss, the full text is returned as the answer at DegradedConfidence.
//
// Already-degraded input degrades to itself, so re-parsing is idempotent.
func ParseStructured(raw string) StructuredResponse {
	trimmed := strings.TrimSpace(raw)

	if sr, ok := tryDecode(trimmed); ok {
		return sr
	}
	if inner, ok := extractFenced(trimmed); ok {
		if sr, ok := tryDecode(inner); ok {
			return sr
		}
	}
	if candidate, ok := lastObjectCandidate(trimmed); ok {
		if sr, ok := tryDecode(candidate); ok {
			return sr
		}
	}

	return StructuredResponse{
		Answer:       raw,
		Confidence:   DegradedConfidence,
		Evidence:     []string{},
		Alternatives: []string{},
	}
}

func tryDecode(s string) (StructuredResponse, bool) {
	if !strings.HasPrefix(s, "{") {
		return StructuredResponse{}, false
	}

	var sr struct {
		Answer       *string  `json:"answer"`
		Confidence   *float64 `json:"confidence"`
		Evidence     []string `json:"evidence"`
		Alternatives []string `json:"alternatives"`
	}
	if err := json.Unmarshal([]byte(s), &sr); err != nil {
		return StructuredResponse{}, false
	}
	// A JSON object without an answer field is not the contract.
	if sr.Answer == nil {
		return StructuredResponse{}, false
	}

	out := StructuredResponse{
		Answer:       *sr.Answer,
		Confidence:   DegradedConfidence,
		Evidence:     sr.Evidence,
		Alternatives: sr.Alternatives,
	}
	if sr.Confidence != nil {
		out.Confidence = clampConfidence(int(*sr.Confidence))
	}
	if out.Evidence == nil {
		out.Evidence = []string{}
	}
	if out.Alternatives == nil {
		out.Alternatives = []string{}
	}
	return out, true
}

// extractFenced pulls the body of the first ```json (or bare ```) fence.
func extractFenced(s string) (string, bool) {
	start := strings.Index(s, "```")
	if start < 0 {
		return "", false
	}
	rest := s[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		lang := strings.TrimSpace(rest[:nl])
		if lang != "" && !strings.EqualFold(lang, "json") {
			return "", false
		}
		rest = rest[nl+1:]
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

// lastObjectCandidate returns the last brace-balanced {...} span in s.
// Braces inside JSON strings can skew the depth count; a skewed candidate
// simply fails to decode and the caller falls through to degradation.
func lastObjectCandidate(s string) (string, bool) {
	end := strings.LastIndexByte(s, '}')
	if end < 0 {
		return "", false
	}

	depth := 0
	for i := end; i >= 0; i-- {
		switch s[i] {
		case '}':
			depth++
		case '{':
			depth--
			if depth == 0 {
				return s[i : end+1], true
			}
		}
	}
	return "", false
}

func clampConfidence(c int) int {
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}
