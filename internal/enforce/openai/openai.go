package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	openaiSDK "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/nulpointcorp/sentinel-gateway/internal/enforce"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	providerName   = "openai"
)

// Enforcer implements enforce.Enforcer against the OpenAI API using the
// official SDK. Bound to one tenant credential at construction.
type Enforcer struct {
	baseURL string
	timeout time.Duration
	client  openaiSDK.Client
}

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
func New(credential string, opts ...Option) (*Enforcer, error) {
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

	httpClient := &http.Client{Timeout: e.timeout}
	if e.baseURL != "" && e.baseURL != defaultBaseURL {
		httpClient.Transport = newBaseURLTransport(http.DefaultTransport, e.baseURL)
	}

	e.client = openaiSDK.NewClient(
		option.WithAPIKey(credential),
		option.WithHTTPClient(httpClient),
	)

	return e, nil
}

func (e *Enforcer) Name() string { return providerName }

func (e *Enforcer) Enforce(ctx context.Context, req *enforce.Request) (*enforce.Result, error) {
	params := e.buildParams(req)

	resp, err := e.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, toProviderError(err)
	}

	raw := ""
	if len(resp.Choices) > 0 {
		raw = resp.Choices[0].Message.Content
	}

	return &enforce.Result{
		ID:         resp.ID,
		Model:      resp.Model,
		Raw:        raw,
		Structured: enforce.ParseStructured(raw),
		Usage: enforce.Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
	}, nil
}

func (e *Enforcer) EnforceStream(ctx context.Context, req *enforce.Request) (*enforce.Stream, error) {
	params := e.buildParams(req)

	s, ch, finish := enforce.NewStream(64)

	stream := e.client.Chat.Completions.NewStreaming(ctx, params)

	go func() {
		var sb strings.Builder
		var usage enforce.Usage

		for stream.Next() {
			chunk := stream.Current()

			if chunk.Usage.PromptTokens > 0 || chunk.Usage.CompletionTokens > 0 {
				usage.InputTokens = int(chunk.Usage.PromptTokens)
				usage.OutputTokens = int(chunk.Usage.CompletionTokens)
			}
			if len(chunk.Choices) == 0 {
				continue
			}

			c := chunk.Choices[0]
			if c.Delta.Content != "" {
				sb.WriteString(c.Delta.Content)
				ch <- enforce.Chunk{Content: c.Delta.Content, FinishReason: c.FinishReason}
				continue
			}
			if c.FinishReason != "" {
				ch <- enforce.Chunk{FinishReason: c.FinishReason}
			}
		}

		finish(sb.String(), usage, streamErr(stream.Err()))
	}()

	return s, nil
}

func (e *Enforcer) buildParams(req *enforce.Request) openaiSDK.ChatCompletionNewParams {
	msgs := make([]openaiSDK.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	msgs = append(msgs, openaiSDK.SystemMessage(enforce.SystemText(req.SystemPrompt)))
	for _, m := range req.Messages {
		msgs = append(msgs, toSDKMessage(m.Role, m.Content))
	}

	params := openaiSDK.ChatCompletionNewParams{
		Messages: msgs,
		Model:    req.Model,
	}
	if req.Temperature != 0 {
		params.Temperature = openaiSDK.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openaiSDK.Int(int64(req.MaxTokens))
	}
	return params
}

func streamErr(err error) error {
	if err == nil {
		return nil
	}
	return toProviderError(err)
}

// ProviderError is a structured error returned by the OpenAI API.
type ProviderError struct {
	StatusCode int
	Message    string
	Type       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("openai: %s (status=%d, type=%s)", e.Message, e.StatusCode, e.Type)
}

// HTTPStatus implements enforce.StatusCoder.
func (e *ProviderError) HTTPStatus() int { return e.StatusCode }

func toProviderError(err error) error {
	var apierr *openaiSDK.Error
	if errors.As(err, &apierr) {
		return &ProviderError{
			StatusCode: apierr.StatusCode,
			Message:    apierr.Error(),
			Type:       "openai_error",
		}
	}
	return err
}

type baseURLTransport struct {
	base *url.URL
	rt   http.RoundTripper
}

func newBaseURLTransport(next http.RoundTripper, base string) http.RoundTripper {
	u, err := url.Parse(base)
	if err != nil {
		return next
	}
	return &baseURLTransport{base: u, rt: next}
}

func (t *baseURLTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r2 := req.Clone(req.Context())
	u2 := *req.URL

	u2.Scheme = t.base.Scheme
	u2.Host = t.base.Host

	basePath := strings.TrimRight(t.base.Path, "/")
	if basePath != "" && basePath != "/" {
		if !strings.HasPrefix(u2.Path, basePath+"/") && u2.Path != basePath {
			u2.Path = basePath + "/" + strings.TrimLeft(u2.Path, "/")
		}
	}

	r2.URL = &u2

	return t.rt.RoundTrip(r2)
}

func toSDKMessage(role, content string) openaiSDK.ChatCompletionMessageParamUnion {
	switch strings.ToLower(role) {
	case "developer":
		return openaiSDK.DeveloperMessage(content)
	case "system":
		return openaiSDK.SystemMessage(content)
	case "assistant":
		return openaiSDK.AssistantMessage(content)
	default:
		return openaiSDK.UserMessage(content)
	}
}
