package mistral

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nulpointcorp/sentinel-gateway/internal/enforce"
)

const (
	defaultBaseURL = "https://api.mistral.ai/v1"
	providerName   = "mistral"
)

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Stream      bool          `json:"stream,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []choice `json:"choices"`
	Usage   usage    `json:"usage"`
	Error   *apiErr  `json:"error,omitempty"`
}

type choice struct {
	Message      *chatMessage `json:"message,omitempty"`
	Delta        *chatMessage `json:"delta,omitempty"`
	FinishReason string       `json:"finish_reason"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type apiErr struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// Enforcer implements enforce.Enforcer for Mistral over the raw
// OpenAI-compatible wire format.
type Enforcer struct {
	credential string
	baseURL    string
	client     *http.Client
}

type Option func(*Enforcer)

// WithBaseURL overrides the API base URL (useful for testing).
func WithBaseURL(url string) Option {
	return func(e *Enforcer) { e.baseURL = url }
}

// WithTimeout overrides the per-attempt upstream timeout.
func WithTimeout(d time.Duration) Option {
	return func(e *Enforcer) { e.client.Timeout = d }
}

// New creates an Enforcer. An empty credential fails fast with
// enforce.ErrMissingCredential.
func New(credential string, opts ...Option) (*Enforcer, error) {
	if credential == "" {
		return nil, enforce.ErrMissingCredential
	}

	e := &Enforcer{
		credential: credential,
		baseURL:    defaultBaseURL,
		client:     &http.Client{Timeout: enforce.DefaultTimeout},
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

func (e *Enforcer) Name() string { return providerName }

func (e *Enforcer) Enforce(ctx context.Context, req *enforce.Request) (*enforce.Result, error) {
	resp, err := e.do(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, fmt.Errorf("mistral: decode response: %w", err)
	}

	raw := ""
	if len(cr.Choices) > 0 && cr.Choices[0].Message != nil {
		raw = cr.Choices[0].Message.Content
	}

	return &enforce.Result{
		ID:         cr.ID,
		Model:      cr.Model,
		Raw:        raw,
		Structured: enforce.ParseStructured(raw),
		Usage: enforce.Usage{
			InputTokens:  cr.Usage.PromptTokens,
			OutputTokens: cr.Usage.CompletionTokens,
		},
	}, nil
}

func (e *Enforcer) EnforceStream(ctx context.Context, req *enforce.Request) (*enforce.Stream, error) {
	resp, err := e.do(ctx, req, true)
	if err != nil {
		return nil, err
	}

	s, ch, finish := enforce.NewStream(64)

	go func() {
		defer resp.Body.Close()

		var sb strings.Builder
		var u enforce.Usage

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				break
			}

			var cr chatResponse
			if err := json.Unmarshal([]byte(data), &cr); err != nil {
				continue
			}
			if cr.Usage.PromptTokens > 0 || cr.Usage.CompletionTokens > 0 {
				u.InputTokens = cr.Usage.PromptTokens
				u.OutputTokens = cr.Usage.CompletionTokens
			}
			if len(cr.Choices) == 0 || cr.Choices[0].Delta == nil {
				continue
			}

			sb.WriteString(cr.Choices[0].Delta.Content)
			ch <- enforce.Chunk{
				Content:      cr.Choices[0].Delta.Content,
				FinishReason: cr.Choices[0].FinishReason,
			}
		}

		finish(sb.String(), u, scanner.Err())
	}()

	return s, nil
}

func (e *Enforcer) do(ctx context.Context, req *enforce.Request, stream bool) (*http.Response, error) {
	msgs := make([]chatMessage, 0, len(req.Messages)+1)
	msgs = append(msgs, chatMessage{Role: "system", Content: enforce.SystemText(req.SystemPrompt)})
	for _, m := range req.Messages {
		msgs = append(msgs, chatMessage{Role: m.Role, Content: m.Content})
	}

	cr := chatRequest{
		Model:    req.Model,
		Messages: msgs,
		Stream:   stream,
	}
	if req.Temperature > 0 {
		cr.Temperature = req.Temperature
	}
	if req.MaxTokens > 0 {
		cr.MaxTokens = req.MaxTokens
	}

	body, err := json.Marshal(cr)
	if err != nil {
		return nil, fmt.Errorf("mistral: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("mistral: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+e.credential)
	httpReq.Header.Set("Content-Type", "application/json")
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("mistral: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, parseError(resp)
	}
	return resp, nil
}

func parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var cr chatResponse
	if json.Unmarshal(body, &cr) == nil && cr.Error != nil {
		return &ProviderError{
			StatusCode: resp.StatusCode,
			Message:    cr.Error.Message,
			Type:       cr.Error.Type,
		}
	}

	return &ProviderError{
		StatusCode: resp.StatusCode,
		Message:    fmt.Sprintf("unexpected status %d", resp.StatusCode),
		Type:       "provider_error",
	}
}

// ProviderError is a structured error returned by the Mistral API.
type ProviderError struct {
	StatusCode int
	Message    string
	Type       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("mistral: %s (status=%d, type=%s)", e.Message, e.StatusCode, e.Type)
}

// HTTPStatus implements enforce.StatusCoder.
func (e *ProviderError) HTTPStatus() int { return e.StatusCode }
