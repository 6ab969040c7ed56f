package gemini

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/nulpointcorp/sentinel-gateway/internal/enforce"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	providerName   = "gemini"
)

// Enforcer implements enforce.Enforcer for Google Gemini (official GenAI SDK).
type Enforcer struct {
	baseURL string
	timeout time.Duration
	client  *genai.Client
}

// Option configures an Enforcer.
type Option func(*Enforcer)

// WithBaseURL overrides the API base URL (useful for testing).
func WithBaseURL(u string) Option {
	return func(e *Enforcer) { e.baseURL = u }
}

// WithTimeout overrides the per-attempt upstream timeout.
func WithTimeout(d time.Duration) Option {
	return func(e *Enforcer) { e.timeout = d }
}

// New creates an Enforcer. An empty credential fails fast with
// enforce.ErrMissingCredential.
func New(ctx context.Context, credential string, opts ...Option) (*Enforcer, error) {
	if credential == "" {
		return nil, enforce.ErrMissingCredential
	}

	e := &Enforcer{
		baseURL: defaultBaseURL,
		timeout: enforce.DefaultTimeout,
	}
	for _, o := range opts {
		o(e)
	}

	base, ver := splitBaseURLAndVersion(e.baseURL)

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      credential,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  &http.Client{Timeout: e.timeout},
		HTTPOptions: genai.HTTPOptions{BaseURL: base, APIVersion: ver},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: client init: %w", err)
	}
	e.client = client

	return e, nil
}

func (e *Enforcer) Name() string { return providerName }

func (e *Enforcer) Enforce(ctx context.Context, req *enforce.Request) (*enforce.Result, error) {
	contents, cfg := buildContentsAndConfig(req)

	resp, err := e.client.Models.GenerateContent(ctx, req.Model, contents, cfg)
	if err != nil {
		return nil, toProviderError(err)
	}

	id := req.RequestID
	if id == "" {
		if resp != nil && resp.ResponseID != "" {
			id = resp.ResponseID
		} else {
			id = generateID()
		}
	}

	raw := ""
	if resp != nil {
		raw = resp.Text()
	}

	var usage enforce.Usage
	if resp != nil && resp.UsageMetadata != nil {
		usage.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		usage.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}

	return &enforce.Result{
		ID:         id,
		Model:      req.Model,
		Raw:        raw,
		Structured: enforce.ParseStructured(raw),
		Usage:      usage,
	}, nil
}

func (e *Enforcer) EnforceStream(ctx context.Context, req *enforce.Request) (*enforce.Stream, error) {
	contents, cfg := buildContentsAndConfig(req)

	s, ch, finish := enforce.NewStream(64)

	go func() {
		var sb strings.Builder
		var usage enforce.Usage

		for resp, err := range e.client.Models.GenerateContentStream(ctx, req.Model, contents, cfg) {
			if err != nil {
				finish(sb.String(), usage, toProviderError(err))
				return
			}
			if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
				continue
			}
			if resp.UsageMetadata != nil {
				usage.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
				usage.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
			}

			c := resp.Candidates[0]
			text := candidateText(c)
			finishReason := ""
			if c.FinishReason != "" {
				finishReason = string(c.FinishReason)
			}

			if text != "" || finishReason != "" {
				sb.WriteString(text)
				ch <- enforce.Chunk{Content: text, FinishReason: finishReason}
			}
		}

		finish(sb.String(), usage, nil)
	}()

	return s, nil
}

func buildContentsAndConfig(req *enforce.Request) ([]*genai.Content, *genai.GenerateContentConfig) {
	systemPrompt := enforce.SystemText(req.SystemPrompt)
	contents := make([]*genai.Content, 0, len(req.Messages))

	for _, m := range req.Messages {
		switch strings.ToLower(m.Role) {
		case "system", "developer":
			systemPrompt += "\n" + m.Content
		case "assistant", "model":
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: systemPrompt}},
		},
	}
	if req.Temperature > 0 {
		cfg.Temperature = genai.Ptr[float32](float32(req.Temperature))
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}

	return contents, cfg
}

func candidateText(c *genai.Candidate) string {
	if c == nil || c.Content == nil || len(c.Content.Parts) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, p := range c.Content.Parts {
		if p != nil && p.Text != "" {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

func splitBaseURLAndVersion(raw string) (baseURL string, apiVersion string) {
	u, err := url.Parse(raw)
	if err != nil {
		return raw, ""
	}

	path := strings.Trim(u.Path, "/")
	if path == "" {
		base := u.String()
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		return base, ""
	}

	parts := strings.Split(path, "/")
	last := parts[len(parts)-1]

	if looksLikeAPIVersion(last) {
		apiVersion = last
		parts = parts[:len(parts)-1]
	}

	u.Path = "/" + strings.Join(parts, "/")
	if u.Path == "/" {
		u.Path = ""
	}

	baseURL = u.String()
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return baseURL, apiVersion
}

func looksLikeAPIVersion(s string) bool {
	if !strings.HasPrefix(s, "v") || len(s) < 2 {
		return false
	}
	return s[1] >= '0' && s[1] <= '9'
}

// generateID produces a random hex ID for responses that don't include one.
func generateID() string {
	return fmt.Sprintf("gemini-%x", rand.Int63())
}

// ProviderError is a structured error returned by the Gemini API (SDK wrapper).
type ProviderError struct {
	StatusCode int
	Message    string
	Type       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("gemini: %s (status=%d, type=%s)", e.Message, e.StatusCode, e.Type)
}

// HTTPStatus implements enforce.StatusCoder.
func (e *ProviderError) HTTPStatus() int { return e.StatusCode }

func toProviderError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{
			StatusCode: apiErr.Code,
			Message:    apiErr.Message,
			Type:       apiErr.Status,
		}
	}
	return err
}
