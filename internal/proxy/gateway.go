// Package proxy is the core request orchestrator.
//
// The Gateway receives an OpenAI-compatible completion request, resolves the
// caller's gateway key to a workspace, pulls the workspace's upstream
// credential from the secret store, runs the structured-output enforcer for
// the target provider, scores the result through the validation pipeline,
// and returns a sanitized response. Cost accounting, trace persistence,
// analytics, and webhook notifications all run off the critical path.
//
// Key design constraints:
//   - Credential lookups, upstream calls, and persistence all take
//     context.Context so timeouts propagate correctly.
//   - Trace store, analytics sink, and webhook config are optional and
//     nil-safe.
//   - Callers never see raw thresholds or decrypted secrets; a blocked
//     response still returns 200 with the answer replaced.
package proxy

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/sentinel-gateway/internal/analytics"
	"github.com/nulpointcorp/sentinel-gateway/internal/enforce"
	"github.com/nulpointcorp/sentinel-gateway/internal/metrics"
	"github.com/nulpointcorp/sentinel-gateway/internal/notify"
	"github.com/nulpointcorp/sentinel-gateway/internal/secrets"
	"github.com/nulpointcorp/sentinel-gateway/internal/trace"
	"github.com/nulpointcorp/sentinel-gateway/internal/validation"
	"github.com/nulpointcorp/sentinel-gateway/internal/worker"
	"github.com/nulpointcorp/sentinel-gateway/internal/workspace"
	"github.com/nulpointcorp/sentinel-gateway/pkg/apierr"
)

// blockedAnswer replaces the model's answer when the verdict is BLOCK. The
// original answer is preserved in the trace for the tenant's audit.
const blockedAnswer = "This response was blocked by your organization's content policy."

// Deps are the required and optional collaborators of a Gateway.
type Deps struct {
	Resolver *workspace.Resolver
	Secrets  *secrets.Store
	Pipeline *validation.Pipeline
	Factory  enforce.Factory

	// Optional; nil-safe.
	Dispatcher *notify.Dispatcher
	WebhookCfg notify.ConfigStore
	Traces     trace.Store
	Queue      *worker.Queue
	Analytics  *analytics.Sink
}

// GatewayOptions holds optional tuning parameters for a Gateway. All fields
// have sensible defaults and can be omitted.
type GatewayOptions struct {
	// Logger is the structured logger for request events. Defaults to
	// slog.Default().
	Logger *slog.Logger

	// Metrics enables Prometheus metrics collection. Nil disables them.
	Metrics *metrics.Registry

	// EnforceTimeout bounds one upstream enforcement attempt. Default 60s.
	EnforceTimeout time.Duration

	// CBConfig configures the per-provider circuit breaker thresholds.
	CBConfig CBConfig

	// BudgetUSD is the per-workspace monthly spend that triggers one
	// COST_ALERT notification. Zero disables budget alerts.
	BudgetUSD float64

	// AdminToken guards the management routes. Empty disables them.
	AdminToken string

	// CORSOrigins is the CORS allowlist; empty means allow all.
	CORSOrigins []string

	// AllowHTTPWebhooks permits plain-HTTP webhook URLs (development only).
	AllowHTTPWebhooks bool

	// StoreReady is the durable-storage readiness check for /readiness. It
	// receives a deadline-bounded context from the health checker.
	StoreReady func(context.Context) bool
}

// Gateway is the main orchestrator — all dependencies are injected so they
// can be replaced with doubles in unit tests.
type Gateway struct {
	resolver   *workspace.Resolver
	secrets    *secrets.Store
	pipeline   *validation.Pipeline
	factory    enforce.Factory
	dispatcher *notify.Dispatcher
	webhookCfg notify.ConfigStore
	traces     trace.Store
	queue      *worker.Queue
	analytics  *analytics.Sink

	cb      *CircuitBreaker
	health  *HealthChecker
	history *validation.HistoryTracker
	baseCtx context.Context
	log     *slog.Logger
	metrics *metrics.Registry

	enforceTimeout    time.Duration
	budgetUSD         float64
	adminToken        string
	corsOrigins       []string
	allowHTTPWebhooks bool
}

// NewGateway creates a fully wired Gateway.
func NewGateway(baseCtx context.Context, deps Deps, opts GatewayOptions) *Gateway {
	if baseCtx == nil {
		panic("gateway: context must not be nil")
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	timeout := opts.EnforceTimeout
	if timeout <= 0 {
		timeout = enforce.DefaultTimeout
	}

	gw := &Gateway{
		resolver:       deps.Resolver,
		secrets:        deps.Secrets,
		pipeline:       deps.Pipeline,
		factory:        deps.Factory,
		dispatcher:     deps.Dispatcher,
		webhookCfg:     deps.WebhookCfg,
		traces:         deps.Traces,
		queue:          deps.Queue,
		analytics:      deps.Analytics,
		cb:             NewCircuitBreaker(opts.CBConfig),
		history:        validation.NewHistoryTracker(),
		baseCtx:        baseCtx,
		log:            log,
		metrics:        opts.Metrics,
		enforceTimeout: timeout,
		budgetUSD:      opts.BudgetUSD,
		adminToken:     opts.AdminToken,
		corsOrigins:    opts.CORSOrigins,

		allowHTTPWebhooks: opts.AllowHTTPWebhooks,
	}

	// Initialise circuit breaker gauges (closed) for known providers.
	if gw.metrics != nil {
		for _, name := range workspace.AllProviders {
			gw.metrics.SetCircuitBreaker(name, int64(gw.cb.State(name)))
		}
	}

	analyticsReady := func(context.Context) bool { return true }
	gw.health = NewHealthChecker(baseCtx, opts.StoreReady, analyticsReady, gw.cb)

	return gw
}

// Close stops background components owned by the gateway.
func (g *Gateway) Close() {
	if g.health != nil {
		g.health.Close()
	}
}

// ── Inbound / outbound wire types ─────────────────────────────────────────────

type (
	inboundMessage struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	inboundRequest struct {
		Model        string           `json:"model"`
		Provider     string           `json:"provider"`
		Prompt       string           `json:"prompt"`
		Messages     []inboundMessage `json:"messages"`
		SystemPrompt string           `json:"system_prompt"`
		Stream       bool             `json:"stream"`
		Temperature  float64          `json:"temperature"`
		MaxTokens    int              `json:"max_tokens"`
		// APIKey is the inline fallback; the Authorization bearer token
		// takes precedence when both are present.
		APIKey string `json:"api_key"`
	}

	outboundUsage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	}

	outboundMessage struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}

	outboundChoice struct {
		Index        int             `json:"index"`
		Message      outboundMessage `json:"message"`
		FinishReason string          `json:"finish_reason"`
	}

	// sentinelBlock is the gateway's side channel: the structured fields
	// and the sanitized verdict, alongside the OpenAI-shaped envelope.
	sentinelBlock struct {
		TraceID      string                      `json:"trace_id"`
		Provider     string                      `json:"provider"`
		Confidence   int                         `json:"confidence"`
		Evidence     []string                    `json:"evidence"`
		Alternatives []string                    `json:"alternatives"`
		Verdict      validation.SanitizedVerdict `json:"verdict"`
	}

	outboundResponse struct {
		ID       string           `json:"id"`
		Object   string           `json:"object"`
		Created  int64            `json:"created"`
		Model    string           `json:"model"`
		Choices  []outboundChoice `json:"choices"`
		Usage    outboundUsage    `json:"usage"`
		Sentinel sentinelBlock    `json:"sentinel"`
	}
)

func parseBearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// gatewayKey extracts the caller's gateway API key: Authorization bearer
// first, inline api_key field second.
func gatewayKey(ctx *fasthttp.RequestCtx, req *inboundRequest) string {
	if tok := parseBearerToken(strings.TrimSpace(string(ctx.Request.Header.Peek("Authorization")))); tok != "" {
		return tok
	}
	return req.APIKey
}

// dispatchCompletion is the core handler for /v1/chat/completions and
// /v1/completions.
func (g *Gateway) dispatchCompletion(ctx *fasthttp.RequestCtx) {
	start := time.Now()
	route := "chat_completions"
	if string(ctx.Path()) == "/v1/completions" {
		route = "completions"
	}
	streaming := false

	if g.metrics != nil {
		g.metrics.IncInFlight()
	}
	defer func() {
		if g.metrics == nil || streaming {
			return // streams are finalised by the stream writer
		}
		g.metrics.DecInFlight()
		g.metrics.ObserveHTTP(route, ctx.Response.StatusCode(), time.Since(start))
	}()

	reqID, _ := ctx.UserValue("request_id").(string)

	// 1. Parse request body.
	var req inboundRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		apierr.Write(ctx, fasthttp.StatusBadRequest,
			fmt.Sprintf("invalid JSON: %s", err.Error()),
			apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}
	if req.Model == "" {
		apierr.Write(ctx, fasthttp.StatusBadRequest,
			"field 'model' is required",
			apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}
	if len(req.Messages) == 0 && req.Prompt == "" {
		apierr.Write(ctx, fasthttp.StatusBadRequest,
			"either 'messages' or 'prompt' is required",
			apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}

	// 2. Resolve the gateway key to a workspace identity.
	key := gatewayKey(ctx, &req)
	if key == "" {
		key = "local"
	}
	info, err := g.resolver.Resolve(ctx, key)
	if err != nil {
		apierr.WriteInvalidKey(ctx)
		return
	}

	// 3. Pick the provider: explicit field wins, model prefix otherwise.
	provider := req.Provider
	if provider == "" {
		provider = enforce.InferProvider(req.Model)
	}
	if !info.HasProvider(provider) {
		apierr.Write(ctx, fasthttp.StatusForbidden,
			fmt.Sprintf("provider %q is not enabled for this API key", provider),
			apierr.TypePermissionError, apierr.CodeProviderDisabled)
		return
	}

	g.log.InfoContext(ctx, "request",
		slog.String("request_id", reqID),
		slog.String("workspace_id", info.WorkspaceID),
		slog.String("model", req.Model),
		slog.String("provider", provider),
		slog.Bool("stream", req.Stream),
	)

	// 4. Fetch the workspace's upstream credential.
	credential, err := g.secrets.Get(ctx, info.WorkspaceID, provider, secrets.SystemActor, ctx.RemoteIP().String())
	if err != nil {
		switch {
		case errors.Is(err, secrets.ErrNotFound):
			apierr.Write(ctx, fasthttp.StatusForbidden,
				fmt.Sprintf("no %s credential configured for this workspace", provider),
				apierr.TypePermissionError, apierr.CodeProviderDisabled)
		default:
			g.log.ErrorContext(ctx, "credential fetch failed",
				slog.String("request_id", reqID),
				slog.String("error", err.Error()),
			)
			apierr.Write(ctx, fasthttp.StatusInternalServerError,
				"credential unavailable", apierr.TypeServerError, apierr.CodeInternalError)
		}
		return
	}

	// 5. Circuit breaker gate.
	if !g.cb.Allow(provider) {
		g.observeBreaker(provider)
		apierr.Write(ctx, fasthttp.StatusServiceUnavailable,
			fmt.Sprintf("provider %q is temporarily unavailable", provider),
			apierr.TypeProviderError, apierr.CodeProviderError)
		return
	}

	// 6. Build a fresh enforcer bound to this tenant's credential.
	enf, err := g.factory(g.baseCtx, provider, credential)
	if err != nil {
		g.log.ErrorContext(ctx, "enforcer construction failed",
			slog.String("request_id", reqID),
			slog.String("provider", provider),
			slog.String("error", err.Error()),
		)
		apierr.Write(ctx, fasthttp.StatusInternalServerError,
			"provider adapter misconfigured", apierr.TypeServerError, apierr.CodeInternalError)
		return
	}

	enfReq := buildEnforceRequest(&req, info.WorkspaceID, reqID)

	if req.Stream {
		streaming = true
		g.streamCompletion(ctx, enf, enfReq, info, provider, route, start)
		return
	}

	// 7. Single-shot enforcement.
	provCtx, cancel := context.WithTimeout(ctx, g.enforceTimeout)
	defer cancel()

	attemptStart := time.Now()
	result, err := enf.Enforce(provCtx, enfReq)
	if err != nil {
		g.cb.RecordFailure(provider)
		g.observeBreaker(provider)
		if g.metrics != nil {
			g.metrics.ObserveUpstream(provider, "error", time.Since(attemptStart))
		}
		g.log.ErrorContext(ctx, "provider_error",
			slog.String("request_id", reqID),
			slog.String("provider", provider),
			slog.String("error", err.Error()),
			slog.Duration("elapsed", time.Since(start)),
		)
		handleProviderError(ctx, err)
		return
	}
	g.cb.RecordSuccess(provider)
	g.observeBreaker(provider)
	if g.metrics != nil {
		g.metrics.ObserveUpstream(provider, "ok", time.Since(attemptStart))
		g.metrics.AddTokens(provider, result.Usage.InputTokens, result.Usage.OutputTokens)
	}

	// 8. Validate and derive the verdict. The workspace's recent verdicts
	// feed the history factor.
	verdict := g.pipeline.Evaluate(info.WorkspaceID, &result.Structured, g.history.Signal(info.WorkspaceID))
	if g.metrics != nil {
		g.metrics.RecordVerdict(verdict.Overall, verdict.RiskLevel)
	}

	traceID := result.ID
	if traceID == "" {
		traceID = uuid.New().String()
	}

	// 9. Fire-and-forget persistence and notifications.
	g.finishAsync(info, provider, req.Model, promptText(&req), result, verdict, traceID, time.Since(start))

	// 10. Respond. A blocked verdict replaces the answer but still returns
	// 200; the caller learns the outcome from the verdict block.
	answer := result.Structured.Answer
	if verdict.Overall == validation.StatusBlock {
		answer = blockedAnswer
	}

	out := outboundResponse{
		ID:      traceID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   result.Model,
		Choices: []outboundChoice{
			{
				Index:        0,
				Message:      outboundMessage{Role: "assistant", Content: answer},
				FinishReason: "stop",
			},
		},
		Usage: outboundUsage{
			PromptTokens:     result.Usage.InputTokens,
			CompletionTokens: result.Usage.OutputTokens,
			TotalTokens:      result.Usage.InputTokens + result.Usage.OutputTokens,
		},
		Sentinel: sentinelBlock{
			TraceID:      traceID,
			Provider:     provider,
			Confidence:   result.Structured.Confidence,
			Evidence:     result.Structured.Evidence,
			Alternatives: result.Structured.Alternatives,
			Verdict:      validation.Sanitize(verdict),
		},
	}

	body, err := json.Marshal(out)
	if err != nil {
		apierr.Write(ctx, fasthttp.StatusInternalServerError,
			"failed to serialize response", apierr.TypeServerError, apierr.CodeInternalError)
		return
	}

	g.log.DebugContext(ctx, "response_ok",
		slog.String("request_id", reqID),
		slog.String("provider", provider),
		slog.String("overall", verdict.Overall),
		slog.Int("input_tokens", result.Usage.InputTokens),
		slog.Int("output_tokens", result.Usage.OutputTokens),
		slog.Duration("elapsed", time.Since(start)),
	)

	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

// streamCompletion forwards chunks as SSE and appends a terminal event with
// the structured parse and sanitized verdict before [DONE].
func (g *Gateway) streamCompletion(
	ctx *fasthttp.RequestCtx,
	enf enforce.Enforcer,
	enfReq *enforce.Request,
	info *workspace.Info,
	provider, route string,
	start time.Time,
) {
	provCtx, cancel := context.WithTimeout(g.baseCtx, g.enforceTimeout)

	attemptStart := time.Now()
	stream, err := enf.EnforceStream(provCtx, enfReq)
	if err != nil {
		cancel()
		g.cb.RecordFailure(provider)
		g.observeBreaker(provider)
		if g.metrics != nil {
			g.metrics.ObserveUpstream(provider, "error", time.Since(attemptStart))
			g.metrics.DecInFlight()
		}
		handleProviderError(ctx, err)
		return
	}

	reqID, _ := ctx.UserValue("request_id").(string)
	model := enfReq.Model
	prompt := lastUserContent(enfReq)

	ctx.SetContentType("text/event-stream")
	ctx.Response.Header.Set("Cache-Control", "no-cache")
	ctx.Response.Header.Set("Connection", "keep-alive")
	ctx.SetStatusCode(fasthttp.StatusOK)

	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		defer cancel()
		defer func() { recover() }() //nolint:errcheck // panic recovery in stream writer
		defer func() {
			if g.metrics != nil {
				g.metrics.DecInFlight()
				g.metrics.ObserveHTTP(route, fasthttp.StatusOK, time.Since(start))
			}
		}()

		clientGone := false
		for chunk := range stream.Chunks {
			if clientGone {
				// Keep draining so Final sees the full text; the
				// disconnected client gets nothing further.
				continue
			}
			data, _ := json.Marshal(streamDelta(chunk))
			fmt.Fprintf(w, "data: %s\n\n", data)
			if err := w.Flush(); err != nil {
				clientGone = true
			}
		}

		final, usage, streamErr := stream.Final()
		if streamErr != nil {
			g.cb.RecordFailure(provider)
			g.observeBreaker(provider)
			if g.metrics != nil {
				g.metrics.ObserveUpstream(provider, "error", time.Since(attemptStart))
			}
			if !clientGone {
				data, _ := json.Marshal(map[string]any{
					"error": map[string]string{
						"message": streamErr.Error(),
						"type":    apierr.TypeProviderError,
						"code":    apierr.CodeProviderError,
					},
				})
				fmt.Fprintf(w, "data: %s\n\n", data)
				fmt.Fprint(w, "data: [DONE]\n\n")
				w.Flush() //nolint:errcheck
			}
			// The partial text still goes through validation for audit.
			if stream.Raw() != "" {
				partial := enforce.ParseStructured(stream.Raw())
				verdict := g.pipeline.Evaluate(info.WorkspaceID, &partial, g.history.Signal(info.WorkspaceID))
				g.finishAsync(info, provider, model, prompt,
					&enforce.Result{ID: reqID, Model: model, Raw: stream.Raw(), Structured: partial, Usage: usage},
					verdict, uuid.New().String(), time.Since(start))
			}
			return
		}

		g.cb.RecordSuccess(provider)
		g.observeBreaker(provider)
		if g.metrics != nil {
			g.metrics.ObserveUpstream(provider, "ok", time.Since(attemptStart))
			g.metrics.AddTokens(provider, usage.InputTokens, usage.OutputTokens)
		}

		verdict := g.pipeline.Evaluate(info.WorkspaceID, &final, g.history.Signal(info.WorkspaceID))
		if g.metrics != nil {
			g.metrics.RecordVerdict(verdict.Overall, verdict.RiskLevel)
		}

		traceID := uuid.New().String()
		g.finishAsync(info, provider, model, prompt,
			&enforce.Result{ID: traceID, Model: model, Raw: stream.Raw(), Structured: final, Usage: usage},
			verdict, traceID, time.Since(start))

		if clientGone {
			return
		}

		terminal := map[string]any{
			"sentinel": sentinelBlock{
				TraceID:      traceID,
				Provider:     provider,
				Confidence:   final.Confidence,
				Evidence:     final.Evidence,
				Alternatives: final.Alternatives,
				Verdict:      validation.Sanitize(verdict),
			},
		}
		data, _ := json.Marshal(terminal)
		fmt.Fprintf(w, "data: %s\n\n", data)
		fmt.Fprint(w, "data: [DONE]\n\n")
		w.Flush() //nolint:errcheck
	})
}

func streamDelta(chunk enforce.Chunk) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-stream",
		"object":  "chat.completion.chunk",
		"created": time.Now().Unix(),
		"choices": []map[string]any{
			{
				"index": 0,
				"delta": map[string]string{"content": chunk.Content},
				"finish_reason": func() any {
					if chunk.FinishReason != "" {
						return chunk.FinishReason
					}
					return nil
				}(),
			},
		},
	}
}

// finishAsync dispatches trace persistence, analytics, budget accounting,
// and webhook notifications without the caller awaiting completion.
func (g *Gateway) finishAsync(
	info *workspace.Info,
	provider, model, prompt string,
	result *enforce.Result,
	verdict validation.Verdict,
	traceID string,
	latency time.Duration,
) {
	g.history.Observe(info.WorkspaceID, verdict.Overall)

	if g.queue == nil {
		return
	}

	cost := trace.EstimateCost(model, result.Usage.InputTokens, result.Usage.OutputTokens)
	now := time.Now().UTC()

	g.queue.Submit("trace_persist", func(ctx context.Context) error {
		if g.traces == nil {
			return nil
		}
		t := &trace.Trace{
			ID:          traceID,
			WorkspaceID: info.WorkspaceID,
			Provider:    provider,
			Model:       model,
			Prompt:      prompt,
			Response:    result.Structured,
			Verdict:     verdict,
			LatencyMS:   latency.Milliseconds(),
			InputTokens: result.Usage.InputTokens,
			OutputToken: result.Usage.OutputTokens,
			CostUSD:     cost,
			CreatedAt:   now,
		}
		monthTotal, err := g.traces.Put(ctx, t)
		if err != nil {
			return err
		}
		if g.budgetUSD > 0 && monthTotal >= g.budgetUSD {
			g.maybeSendBudgetAlert(ctx, info.WorkspaceID, monthTotal, traceID)
		}
		return nil
	})

	if g.analytics != nil {
		g.analytics.Record(analytics.Row{
			ID:           traceID,
			WorkspaceID:  info.WorkspaceID,
			Provider:     provider,
			Model:        model,
			Overall:      verdict.Overall,
			RiskLevel:    verdict.RiskLevel,
			RiskScore:    verdict.RiskScore,
			InputTokens:  uint32(result.Usage.InputTokens),
			OutputTokens: uint32(result.Usage.OutputTokens),
			LatencyMS:    uint32(latency.Milliseconds()),
			CostUSD:      cost,
			CreatedAt:    now,
		})
	}

	if verdict.Overall == validation.StatusBlock || verdict.Overall == validation.StatusWarn {
		ev := &notify.Event{
			Type:        verdict.Overall,
			WorkspaceID: info.WorkspaceID,
			Provider:    provider,
			Model:       model,
			RiskLevel:   verdict.RiskLevel,
			RiskScore:   verdict.RiskScore,
			Explanation: verdict.Explanation,
			TraceID:     traceID,
			At:          now,
		}
		g.queue.Submit("notify", func(ctx context.Context) error {
			return g.notifyWorkspace(ctx, info.WorkspaceID, ev)
		})
	}
}

// maybeSendBudgetAlert fires one COST_ALERT per workspace per month.
func (g *Gateway) maybeSendBudgetAlert(ctx context.Context, workspaceID string, monthTotal float64, traceID string) {
	first, err := g.traces.MarkBudgetAlerted(ctx, workspaceID)
	if err != nil || !first {
		return
	}

	ev := &notify.Event{
		Type:        notify.EventCostAlert,
		WorkspaceID: workspaceID,
		RiskLevel:   validation.LevelMedium,
		Explanation: fmt.Sprintf("monthly spend $%.2f reached the configured budget of $%.2f", monthTotal, g.budgetUSD),
		TraceID:     traceID,
		At:          time.Now().UTC(),
	}
	if err := g.notifyWorkspace(ctx, workspaceID, ev); err != nil {
		g.log.Warn("budget alert delivery failed",
			slog.String("workspace_id", workspaceID),
			slog.String("error", err.Error()),
		)
	}
}

func (g *Gateway) notifyWorkspace(ctx context.Context, workspaceID string, ev *notify.Event) error {
	if g.dispatcher == nil || g.webhookCfg == nil {
		return nil
	}
	hooks, err := g.webhookCfg.GetWebhooks(ctx, workspaceID)
	if err != nil {
		return err
	}
	for i := range hooks {
		if err := g.dispatcher.Send(ctx, &hooks[i], ev); err != nil {
			g.log.Warn("webhook delivery failed",
				slog.String("workspace_id", workspaceID),
				slog.String("event", ev.Type),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

func (g *Gateway) observeBreaker(provider string) {
	if g.metrics != nil {
		g.metrics.SetCircuitBreaker(provider, int64(g.cb.State(provider)))
	}
}

func buildEnforceRequest(req *inboundRequest, workspaceID, reqID string) *enforce.Request {
	msgs := make([]enforce.Message, 0, len(req.Messages)+1)
	for _, m := range req.Messages {
		msgs = append(msgs, enforce.Message{Role: m.Role, Content: m.Content})
	}
	if len(msgs) == 0 && req.Prompt != "" {
		msgs = append(msgs, enforce.Message{Role: "user", Content: req.Prompt})
	}

	return &enforce.Request{
		Model:        req.Model,
		Messages:     msgs,
		SystemPrompt: req.SystemPrompt,
		Temperature:  req.Temperature,
		MaxTokens:    req.MaxTokens,
		WorkspaceID:  workspaceID,
		RequestID:    reqID,
	}
}

// promptText picks the caller's effective prompt for the trace record.
func promptText(req *inboundRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if strings.EqualFold(req.Messages[i].Role, "user") {
			return req.Messages[i].Content
		}
	}
	return req.Prompt
}

func lastUserContent(req *enforce.Request) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if strings.EqualFold(req.Messages[i].Role, "user") {
			return req.Messages[i].Content
		}
	}
	return ""
}

// handleProviderError maps provider errors to the appropriate HTTP response.
//
//	statusCoder (adapters that return HTTP codes) → passed through with remapping
//	context.DeadlineExceeded                      → 504 Gateway Timeout
//	all other errors                              → 502 Bad Gateway
func handleProviderError(ctx *fasthttp.RequestCtx, err error) {
	var sc enforce.StatusCoder
	if errors.As(err, &sc) {
		apierr.WriteProviderError(ctx, sc.HTTPStatus(), err.Error())
		return
	}
	if errors.Is(err, context.DeadlineExceeded) {
		apierr.WriteTimeout(ctx)
		return
	}

	apierr.Write(ctx, fasthttp.StatusBadGateway,
		err.Error(), apierr.TypeProviderError, apierr.CodeProviderError)
}
