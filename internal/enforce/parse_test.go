package enforce

import (
	"strings"
	"testing"
)

func TestParseStructured_DirectJSON(t *testing.T) {
	raw := `{"answer":"Paris","confidence":92,"evidence":["capital of France"],"alternatives":["Lyon"]}`

	got := ParseStructured(raw)

	if got.Answer != "Paris" {
		t.Errorf("answer = %q, want Paris", got.Answer)
	}
	if got.Confidence != 92 {
		t.Errorf("confidence = %d, want 92", got.Confidence)
	}
	if len(got.Evidence) != 1 || got.Evidence[0] != "capital of France" {
		t.Errorf("evidence = %v", got.Evidence)
	}
	if len(got.Alternatives) != 1 || got.Alternatives[0] != "Lyon" {
		t.Errorf("alternatives = %v", got.Alternatives)
	}
}

func TestParseStructured_FencedBlock(t *testing.T) {
	raw := "Here is the result:\n```json\n{\"answer\":\"42\",\"confidence\":88,\"evidence\":[],\"alternatives\":[]}\n```\nLet me know if you need more."

	got := ParseStructured(raw)

	if got.Answer != "42" {
		t.Errorf("answer = %q, want 42", got.Answer)
	}
	if got.Confidence != 88 {
		t.Errorf("confidence = %d, want 88", got.Confidence)
	}
}

func TestParseStructured_TrailingObject(t *testing.T) {
	raw := `Sure! Based on my analysis: {"answer":"blue","confidence":75,"evidence":["sky color"],"alternatives":[]}`

	got := ParseStructured(raw)

	if got.Answer != "blue" {
		t.Errorf("answer = %q, want blue", got.Answer)
	}
	if got.Confidence != 75 {
		t.Errorf("confidence = %d, want 75", got.Confidence)
	}
}

func TestParseStructured_PlainTextDegrades(t *testing.T) {
	raw := "The capital of France is Paris."

	got := ParseStructured(raw)

	if got.Answer != raw {
		t.Errorf("answer = %q, want full raw text", got.Answer)
	}
	if got.Confidence != DegradedConfidence {
		t.Errorf("confidence = %d, want %d", got.Confidence, DegradedConfidence)
	}
	if got.Evidence == nil || len(got.Evidence) != 0 {
		t.Errorf("evidence = %v, want empty non-nil slice", got.Evidence)
	}
	if got.Alternatives == nil || len(got.Alternatives) != 0 {
		t.Errorf("alternatives = %v, want empty non-nil slice", got.Alternatives)
	}
}

func TestParseStructured_MissingAnswerKeyDegrades(t *testing.T) {
	// Valid JSON without the contract's answer key is not a contract hit.
	raw := `{"confidence":99,"note":"no answer here"}`

	got := ParseStructured(raw)

	if got.Answer != raw {
		t.Errorf("answer = %q, want raw text", got.Answer)
	}
	if got.Confidence != DegradedConfidence {
		t.Errorf("confidence = %d, want %d", got.Confidence, DegradedConfidence)
	}
}

func TestParseStructured_ConfidenceClamped(t *testing.T) {
	for _, tc := range []struct {
		raw  string
		want int
	}{
		{`{"answer":"x","confidence":250,"evidence":[],"alternatives":[]}`, 100},
		{`{"answer":"x","confidence":-5,"evidence":[],"alternatives":[]}`, 0},
	} {
		got := ParseStructured(tc.raw)
		if got.Confidence != tc.want {
			t.Errorf("ParseStructured(%s).Confidence = %d, want %d", tc.raw, got.Confidence, tc.want)
		}
	}
}

func TestParseStructured_NilSlicesNormalized(t *testing.T) {
	raw := `{"answer":"x","confidence":50}`

	got := ParseStructured(raw)

	if got.Evidence == nil {
		t.Error("evidence should be an empty slice, not nil")
	}
	if got.Alternatives == nil {
		t.Error("alternatives should be an empty slice, not nil")
	}
}

func TestParseStructured_Idempotent(t *testing.T) {
	// Re-parsing serialized output must not change the result.
	raw := `{"answer":"stable","confidence":81,"evidence":["a","b"],"alternatives":[]}`

	first := ParseStructured(raw)
	second := ParseStructured(raw)

	if first.Answer != second.Answer || first.Confidence != second.Confidence {
		t.Error("repeated parse produced different results")
	}
	if len(first.Evidence) != len(second.Evidence) {
		t.Error("repeated parse produced different evidence")
	}
}

func TestParseStructured_MalformedFencedFallsThrough(t *testing.T) {
	raw := "```json\n{\"answer\": broken\n```"

	got := ParseStructured(raw)

	if got.Confidence != DegradedConfidence {
		t.Errorf("confidence = %d, want degraded %d", got.Confidence, DegradedConfidence)
	}
	if !strings.Contains(got.Answer, "broken") {
		t.Errorf("degraded answer should carry raw text, got %q", got.Answer)
	}
}
