package enforce

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestInferProvider(t *testing.T) {
	cases := []struct {
		model string
		want  string
	}{
		{"gpt-4o-mini", ProviderOpenAI},
		{"o3-mini", ProviderOpenAI},
		{"claude-3-5-sonnet-latest", ProviderAnthropic},
		{"Claude-3-Opus", ProviderAnthropic},
		{"gemini-2.0-flash", ProviderGemini},
		{"gemma-2-9b", ProviderGemini},
		{"learnlm-1.5-pro", ProviderGemini},
		{"mistral-large-latest", ProviderMistral},
		{"ministral-8b-latest", ProviderMistral},
		{"codestral-latest", ProviderMistral},
		{"pixtral-12b", ProviderMistral},
		{"open-mixtral-8x7b", ProviderMistral},
		{"unknown-model", ProviderOpenAI},
		{"", ProviderOpenAI},
	}

	for _, tc := range cases {
		if got := InferProvider(tc.model); got != tc.want {
			t.Errorf("InferProvider(%q) = %q, want %q", tc.model, got, tc.want)
		}
	}
}

func TestSystemText(t *testing.T) {
	got := SystemText("You are a helpful assistant.")

	if !strings.HasPrefix(got, "You are a helpful assistant.") {
		t.Error("caller system prompt should lead")
	}
	if !strings.Contains(got, Instruction) {
		t.Error("contract instruction should be appended")
	}

	// No caller prompt means the instruction stands alone.
	if got := SystemText(""); got != Instruction {
		t.Errorf("SystemText(\"\") = %q, want bare instruction", got)
	}
}

func TestStream_FinalParsesAccumulatedText(t *testing.T) {
	s, ch, finish := NewStream(4)

	go func() {
		ch <- Chunk{Content: `{"answer":"streamed",`}
		ch <- Chunk{Content: `"confidence":70,"evidence":[],"alternatives":[]}`}
		finish(`{"answer":"streamed","confidence":70,"evidence":[],"alternatives":[]}`, Usage{InputTokens: 3, OutputTokens: 9}, nil)
	}()

	var text strings.Builder
	for c := range s.Chunks {
		text.WriteString(c.Content)
	}

	final, usage, err := s.Final()
	if err != nil {
		t.Fatalf("Final: %v", err)
	}
	if final.Answer != "streamed" || final.Confidence != 70 {
		t.Errorf("final = %+v", final)
	}
	if usage.InputTokens != 3 || usage.OutputTokens != 9 {
		t.Errorf("usage = %+v", usage)
	}
	if text.String() != s.Raw() {
		t.Error("consumer-accumulated text should match Raw()")
	}
}

func TestStream_MidStreamErrorSurfacesInFinal(t *testing.T) {
	wantErr := errors.New("upstream reset")
	s, ch, finish := NewStream(1)

	go func() {
		ch <- Chunk{Content: "partial"}
		finish("partial", Usage{}, wantErr)
	}()

	for range s.Chunks {
	}

	_, _, err := s.Final()
	if !errors.Is(err, wantErr) {
		t.Errorf("Final err = %v, want %v", err, wantErr)
	}
	if s.Raw() != "partial" {
		t.Errorf("Raw() = %q, want partial text preserved", s.Raw())
	}
}

func TestStream_FinishIsIdempotent(t *testing.T) {
	s, _, finish := NewStream(0)

	finish("once", Usage{OutputTokens: 1}, nil)
	finish("twice", Usage{OutputTokens: 2}, errors.New("ignored"))

	final, usage, err := s.Final()
	if err != nil {
		t.Fatalf("Final: %v", err)
	}
	if final.Answer != "once" {
		t.Errorf("answer = %q, first finish should win", final.Answer)
	}
	if usage.OutputTokens != 1 {
		t.Errorf("usage = %+v, first finish should win", usage)
	}
}

func TestStream_FinalBlocksUntilFinish(t *testing.T) {
	s, _, finish := NewStream(0)

	done := make(chan struct{})
	go func() {
		s.Final()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Final returned before finish was called")
	case <-time.After(20 * time.Millisecond):
	}

	finish("", Usage{}, nil)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Final did not unblock after finish")
	}
}
