package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/nulpointcorp/sentinel-gateway/internal/enforce"
)

const (
	defaultBaseURL   = "https://api.anthropic.com/v1"
	providerName     = "anthropic"
	defaultMaxTokens = 4096
)

// Enforcer implements enforce.Enforcer for Anthropic (official SDK).
type Enforcer struct {
	baseURL string
	timeout time.Duration
	client  anthropic.Client
}

// Option configures an Enforcer.
type Option func(*Enforcer)

// WithBaseURL overrides the API base URL (useful for testing).
func WithBaseURL(url string) Option {
	return func(e *Enforcer) { e.baseURL = url }
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

	e.client = anthropic.NewClient(
		option.WithAPIKey(credential),
		option.WithBaseURL(e.baseURL),
		option.WithHTTPClient(&http.Client{Timeout: e.timeout}),
	)

	return e, nil
}

func (e *Enforcer) Name() string { return providerName }

func (e *Enforcer) Enforce(ctx context.Context, req *enforce.Request) (*enforce.Result, error) {
	params := e.buildParams(req)

	msg, err := e.client.Messages.New(ctx, params)
	if err != nil {
		return nil, toProviderError(err)
	}

	var sb strings.Builder
	for _, b := range msg.Content {
		switch v := b.AsAny().(type) {
		case anthropic.TextBlock:
			sb.WriteString(v.Text)
		case *anthropic.TextBlock:
			sb.WriteString(v.Text)
		}
	}
	raw := sb.String()

	return &enforce.Result{
		ID:         msg.ID,
		Model:      string(msg.Model),
		Raw:        raw,
		Structured: enforce.ParseStructured(raw),
		Usage: enforce.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}, nil
}

func (e *Enforcer) EnforceStream(ctx context.Context, req *enforce.Request) (*enforce.Stream, error) {
	params := e.buildParams(req)

	s, ch, finish := enforce.NewStream(64)

	stream := e.client.Messages.NewStreaming(ctx, params)

	go func() {
		var sb strings.Builder
		var usage enforce.Usage

		for stream.Next() {
			ev := stream.Current()

			switch eventVariant := ev.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				switch deltaVariant := eventVariant.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					if deltaVariant.Text != "" {
						sb.WriteString(deltaVariant.Text)
						ch <- enforce.Chunk{Content: deltaVariant.Text}
					}
				case *anthropic.TextDelta:
					if deltaVariant.Text != "" {
						sb.WriteString(deltaVariant.Text)
						ch <- enforce.Chunk{Content: deltaVariant.Text}
					}
				}
			case anthropic.MessageDeltaEvent:
				usage.OutputTokens = int(eventVariant.Usage.OutputTokens)
				if eventVariant.Delta.StopReason != "" {
					ch <- enforce.Chunk{FinishReason: string(eventVariant.Delta.StopReason)}
				}
			}
		}

		err := stream.Err()
		if err != nil {
			err = toProviderError(err)
		}
		finish(sb.String(), usage, err)
	}()

	return s, nil
}

func (e *Enforcer) buildParams(req *enforce.Request) anthropic.MessageNewParams {
	systemPrompt := enforce.SystemText(req.SystemPrompt)
	msgs := make([]anthropic.MessageParam, 0, len(req.Messages))

	for _, m := range req.Messages {
		switch strings.ToLower(m.Role) {
		case "system", "developer":
			systemPrompt += "\n" + m.Content
		default:
			msgs = append(msgs, toSDKMessage(m.Role, m.Content))
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
	}

	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	return params
}

func toSDKMessage(role, content string) anthropic.MessageParam {
	anthRole := anthropic.MessageParamRoleUser
	if strings.ToLower(role) == "assistant" {
		anthRole = anthropic.MessageParamRoleAssistant
	}

	return anthropic.MessageParam{
		Role: anthRole,
		Content: []anthropic.ContentBlockParamUnion{
			{
				OfText: &anthropic.TextBlockParam{
					Text: content,
				},
			},
		},
	}
}

// ProviderError is a structured error returned by the Anthropic API.
type ProviderError struct {
	StatusCode int
	Message    string
	Type       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("anthropic: %s (status=%d, type=%s)", e.Message, e.StatusCode, e.Type)
}

// HTTPStatus implements enforce.StatusCoder.
func (e *ProviderError) HTTPStatus() int { return e.StatusCode }

func toProviderError(err error) error {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		return &ProviderError{
			StatusCode: apierr.StatusCode,
			Message:    apierr.Error(),
			Type:       "anthropic_error",
		}
	}
	return err
}
