// Package enforce defines the structured-output contract applied to every
// upstream LLM call and the common interface implemented by the per-provider
// adapters (OpenAI, Anthropic, Gemini, Mistral).
//
// An enforcer is bound to a single tenant credential at construction and is
// built fresh per request; credentials never outlive the call that resolved
// them. Whatever the upstream returns, the caller always receives a
// StructuredResponse: JSON output is parsed, anything else is degraded to a
// plain answer at neutral confidence.
package enforce

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
	ProviderMistral   = "mistral"
)

// DefaultTimeout bounds a single upstream attempt.
const DefaultTimeout = 60 * time.Second

// ErrMissingCredential is returned by adapter constructors when the resolved
// credential is empty. Construction fails fast; no upstream call is made.
var ErrMissingCredential = errors.New("enforce: missing provider credential")

// Instruction is appended to the system prompt of every upstream call. It
// asks the model to answer as a JSON object matching StructuredResponse.
const Instruction = `You must respond with a single JSON object and nothing else. The object has exactly these fields:
{"answer": "<your full answer as a string>", "confidence": <integer 0-100>, "evidence": ["<supporting fact>", ...], "alternatives": ["<alternative answer>", ...]}
Set confidence to how certain you are. Leave evidence and alternatives as empty arrays when you have none. Do not wrap the JSON in markdown fences.`

type (
	// Message is a single conversation turn.
	Message struct {
		Role    string
		Content string
	}

	// Request is the normalized upstream request. SystemPrompt is the
	// caller's own system text; the structured-output instruction is
	// appended by SystemText.
	Request struct {
		Model        string
		Messages     []Message
		SystemPrompt string
		Temperature  float64
		MaxTokens    int
		WorkspaceID  string
		RequestID    string
	}

	// StructuredResponse is the contract every upstream answer is
	// normalized to.
	StructuredResponse struct {
		Answer       string   `json:"answer"`
		Confidence   int      `json:"confidence"`
		Evidence     []string `json:"evidence"`
		Alternatives []string `json:"alternatives"`
	}

	// Usage — token usage stats.
	Usage struct {
		InputTokens  int
		OutputTokens int
	}

	// Result is a completed non-streaming enforcement.
	Result struct {
		ID         string
		Model      string
		Raw        string
		Structured StructuredResponse
		Usage      Usage
	}

	// Chunk is one incremental piece of a streaming response.
	Chunk struct {
		Content      string
		FinishReason string
	}
)

// Enforcer is the per-provider adapter interface.
type Enforcer interface {
	Name() string
	Enforce(ctx context.Context, req *Request) (*Result, error)
	EnforceStream(ctx context.Context, req *Request) (*Stream, error)
}

// Factory builds a fresh enforcer for a provider bound to the given tenant
// credential. Implemented at wiring time; adapters themselves don't know
// about each other.
type Factory func(ctx context.Context, provider, credential string) (Enforcer, error)

// StatusCoder is implemented by provider errors that carry an upstream
// HTTP status.
type StatusCoder interface {
	HTTPStatus() int
}

// SystemText combines the caller's system prompt with the structured-output
// instruction.
func SystemText(callerSystem string) string {
	if callerSystem == "" {
		return Instruction
	}
	return callerSystem + "\n\n" + Instruction
}

// Stream carries incremental chunks plus, once the upstream finishes, the
// structured parse of the accumulated text. Chunks is closed by the producer;
// Final blocks until then.
type Stream struct {
	Chunks <-chan Chunk

	done  chan struct{}
	raw   string
	usage Usage
	err   error
}

// NewStream returns the consumer-facing Stream plus the producer side: a
// send channel and a finish callback. finish must be called exactly once,
// after all chunks are sent; it closes Chunks and releases Final.
func NewStream(buf int) (s *Stream, ch chan<- Chunk, finish func(raw string, usage Usage, err error)) {
	c := make(chan Chunk, buf)
	s = &Stream{Chunks: c, done: make(chan struct{})}

	var once sync.Once
	finish = func(raw string, usage Usage, err error) {
		once.Do(func() {
			close(c)
			s.raw = raw
			s.usage = usage
			s.err = err
			close(s.done)
		})
	}
	return s, c, finish
}

// Final blocks until the stream ends and returns the structured parse of the
// full accumulated text. A mid-stream error surfaces here; chunks already
// delivered are not retracted.
func (s *Stream) Final() (StructuredResponse, Usage, error) {
	<-s.done
	if s.err != nil {
		return StructuredResponse{}, s.usage, s.err
	}
	return ParseStructured(s.raw), s.usage, nil
}

// Raw returns the accumulated upstream text. Valid after Final unblocks.
func (s *Stream) Raw() string {
	<-s.done
	return s.raw
}

// InferProvider maps a model name to its provider by prefix. Unrecognized
// models default to openai, which also covers OpenAI-compatible gateways.
func InferProvider(model string) string {
	m := strings.ToLower(model)
	switch {
	case strings.HasPrefix(m, "claude-"):
		return ProviderAnthropic
	case strings.HasPrefix(m, "gemini-"), strings.HasPrefix(m, "gemma-"), strings.HasPrefix(m, "learnlm-"):
		return ProviderGemini
	case strings.HasPrefix(m, "mistral-"), strings.HasPrefix(m, "ministral-"),
		strings.HasPrefix(m, "codestral-"), strings.HasPrefix(m, "pixtral-"),
		strings.HasPrefix(m, "open-mistral-"), strings.HasPrefix(m, "open-mixtral-"),
		strings.HasPrefix(m, "mixtral-"):
		return ProviderMistral
	default:
		return ProviderOpenAI
	}
}
