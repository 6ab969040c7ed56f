package proxy

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/sentinel-gateway/internal/notify"
	"github.com/nulpointcorp/sentinel-gateway/internal/secrets"
	"github.com/nulpointcorp/sentinel-gateway/internal/trace"
	"github.com/nulpointcorp/sentinel-gateway/internal/validation"
	"github.com/nulpointcorp/sentinel-gateway/internal/workspace"
	"github.com/nulpointcorp/sentinel-gateway/pkg/apierr"
)

// gatewayKeyBytes is the entropy of a generated gateway API key.
const gatewayKeyBytes = 24

// newGatewayKey mints a fresh "sg-" prefixed key. The plaintext is returned
// to the caller exactly once at onboarding; only its hash is stored.
func newGatewayKey() (string, error) {
	buf := make([]byte, gatewayKeyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("proxy: key generation failed: %w", err)
	}
	return "sg-" + hex.EncodeToString(buf), nil
}

// requireAdmin gates the management routes with a constant-time token check.
// The token is read from X-Admin-Token or the Authorization bearer header.
func (g *Gateway) requireAdmin(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if g.adminToken == "" {
			apierr.WriteInvalidAdmin(ctx)
			return
		}
		supplied := strings.TrimSpace(string(ctx.Request.Header.Peek("X-Admin-Token")))
		if supplied == "" {
			supplied = parseBearerToken(strings.TrimSpace(string(ctx.Request.Header.Peek("Authorization"))))
		}
		if subtle.ConstantTimeCompare([]byte(supplied), []byte(g.adminToken)) != 1 {
			apierr.WriteInvalidAdmin(ctx)
			return
		}
		next(ctx)
	}
}

// requireWorkspace gates tenant self-service routes behind a gateway API
// key. The resolved identity is stored on the request for the handler.
func (g *Gateway) requireWorkspace(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		key := parseBearerToken(strings.TrimSpace(string(ctx.Request.Header.Peek("Authorization"))))
		if key == "" {
			key = "local"
		}
		info, err := g.resolver.Resolve(ctx, key)
		if err != nil {
			apierr.WriteInvalidKey(ctx)
			return
		}
		ctx.SetUserValue("workspace_info", info)
		next(ctx)
	}
}

// callerWorkspace returns the identity stored by requireWorkspace.
func callerWorkspace(ctx *fasthttp.RequestCtx) *workspace.Info {
	info, _ := ctx.UserValue("workspace_info").(*workspace.Info)
	return info
}

// adminActor identifies the human operator behind an admin call, used for
// the secret-store audit trail. Falls back to "admin" when the header is
// absent.
func adminActor(ctx *fasthttp.RequestCtx) string {
	if a := strings.TrimSpace(string(ctx.Request.Header.Peek("X-Actor-ID"))); a != "" {
		return a
	}
	return "admin"
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		apierr.Write(ctx, fasthttp.StatusInternalServerError,
			"failed to serialize response", apierr.TypeServerError, apierr.CodeInternalError)
		return
	}
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

func decodeBody(ctx *fasthttp.RequestCtx, v any) bool {
	if err := json.Unmarshal(ctx.PostBody(), v); err != nil {
		apierr.Write(ctx, fasthttp.StatusBadRequest,
			fmt.Sprintf("invalid JSON: %s", err.Error()),
			apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return false
	}
	return true
}

func badRequest(ctx *fasthttp.RequestCtx, msg string) {
	apierr.Write(ctx, fasthttp.StatusBadRequest, msg,
		apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
}

func internalError(ctx *fasthttp.RequestCtx, err error) {
	apierr.Write(ctx, fasthttp.StatusInternalServerError, err.Error(),
		apierr.TypeServerError, apierr.CodeInternalError)
}

// ── Onboarding ────────────────────────────────────────────────────────────────

type onboardProvider struct {
	Provider     string `json:"provider"`
	Credential   string `json:"credential"`
	RotationDays int    `json:"rotation_days"`
	Description  string `json:"description"`
}

type onboardRequest struct {
	WorkspaceID  string            `json:"workspace_id"`
	CustomerID   string            `json:"customer_id"`
	CustomerName string            `json:"customer_name"`
	ExpiryDays   int               `json:"expiry_days"`
	Providers    []onboardProvider `json:"providers"`
}

// handleOnboard provisions a customer: mints one gateway key, registers it
// for every requested provider, and stores each upstream credential. The
// plaintext key appears only in this response.
func (g *Gateway) handleOnboard(ctx *fasthttp.RequestCtx) {
	var req onboardRequest
	if !decodeBody(ctx, &req) {
		return
	}
	if req.WorkspaceID == "" || len(req.Providers) == 0 {
		badRequest(ctx, "workspace_id and at least one provider are required")
		return
	}
	for _, p := range req.Providers {
		if p.Provider == "" || p.Credential == "" {
			badRequest(ctx, "each provider entry needs 'provider' and 'credential'")
			return
		}
	}

	key, err := newGatewayKey()
	if err != nil {
		internalError(ctx, err)
		return
	}

	actor := adminActor(ctx)
	origin := ctx.RemoteIP().String()
	enabled := make([]string, 0, len(req.Providers))

	for _, p := range req.Providers {
		if err := g.resolver.Register(ctx, key, req.WorkspaceID, req.CustomerID, req.CustomerName, p.Provider, req.ExpiryDays); err != nil {
			internalError(ctx, err)
			return
		}
		if err := g.secrets.Put(ctx, req.WorkspaceID, p.Provider, p.Credential, actor, p.Description, p.RotationDays, origin); err != nil {
			if errors.Is(err, secrets.ErrNotAuthorized) {
				apierr.Write(ctx, fasthttp.StatusForbidden, err.Error(),
					apierr.TypePermissionError, apierr.CodeNotAuthorized)
				return
			}
			internalError(ctx, err)
			return
		}
		enabled = append(enabled, p.Provider)
	}

	g.log.Info("workspace onboarded",
		slog.String("workspace_id", req.WorkspaceID),
		slog.Any("providers", enabled),
	)

	writeJSON(ctx, fasthttp.StatusCreated, map[string]any{
		"api_key":      key,
		"key_hash":     workspace.Hash(key),
		"workspace_id": req.WorkspaceID,
		"providers":    enabled,
	})
}

// ── Key management ────────────────────────────────────────────────────────────

func (g *Gateway) handleKeyDeactivate(ctx *fasthttp.RequestCtx) {
	var req struct {
		KeyHash string `json:"key_hash"`
	}
	if !decodeBody(ctx, &req) {
		return
	}
	if req.KeyHash == "" {
		badRequest(ctx, "key_hash is required")
		return
	}
	if err := g.resolver.Deactivate(ctx, req.KeyHash); err != nil {
		internalError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "deactivated"})
}

func (g *Gateway) handleKeyDeactivateAll(ctx *fasthttp.RequestCtx) {
	var req struct {
		WorkspaceID string `json:"workspace_id"`
	}
	if !decodeBody(ctx, &req) {
		return
	}
	if req.WorkspaceID == "" {
		badRequest(ctx, "workspace_id is required")
		return
	}
	if err := g.resolver.DeactivateAll(ctx, req.WorkspaceID); err != nil {
		internalError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "deactivated"})
}

func (g *Gateway) handleKeyExtend(ctx *fasthttp.RequestCtx) {
	var req struct {
		KeyHash string `json:"key_hash"`
		Days    int    `json:"days"`
	}
	if !decodeBody(ctx, &req) {
		return
	}
	if req.KeyHash == "" || req.Days <= 0 {
		badRequest(ctx, "key_hash and a positive days value are required")
		return
	}
	if err := g.resolver.ExtendExpiry(ctx, req.KeyHash, req.Days); err != nil {
		internalError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "extended"})
}

// ── Secret management ─────────────────────────────────────────────────────────

type secretRequest struct {
	WorkspaceID  string `json:"workspace_id"`
	Provider     string `json:"provider"`
	Credential   string `json:"credential"`
	Description  string `json:"description"`
	RotationDays int    `json:"rotation_days"`
}

func (g *Gateway) writeSecretError(ctx *fasthttp.RequestCtx, err error) {
	switch {
	case errors.Is(err, secrets.ErrNotAuthorized):
		apierr.Write(ctx, fasthttp.StatusForbidden, err.Error(),
			apierr.TypePermissionError, apierr.CodeNotAuthorized)
	case errors.Is(err, secrets.ErrNotFound):
		apierr.Write(ctx, fasthttp.StatusNotFound, err.Error(),
			apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
	default:
		internalError(ctx, err)
	}
}

func (g *Gateway) handleSecretPut(ctx *fasthttp.RequestCtx) {
	var req secretRequest
	if !decodeBody(ctx, &req) {
		return
	}
	if req.WorkspaceID == "" || req.Provider == "" || req.Credential == "" {
		badRequest(ctx, "workspace_id, provider, and credential are required")
		return
	}
	err := g.secrets.Put(ctx, req.WorkspaceID, req.Provider, req.Credential,
		adminActor(ctx), req.Description, req.RotationDays, ctx.RemoteIP().String())
	if err != nil {
		g.writeSecretError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "stored"})
}

func (g *Gateway) handleSecretRotate(ctx *fasthttp.RequestCtx) {
	var req secretRequest
	if !decodeBody(ctx, &req) {
		return
	}
	if req.WorkspaceID == "" || req.Provider == "" || req.Credential == "" {
		badRequest(ctx, "workspace_id, provider, and credential are required")
		return
	}
	err := g.secrets.Rotate(ctx, req.WorkspaceID, req.Provider, req.Credential,
		adminActor(ctx), ctx.RemoteIP().String())
	if err != nil {
		g.writeSecretError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "rotated"})
}

func (g *Gateway) handleSecretDelete(ctx *fasthttp.RequestCtx) {
	var req secretRequest
	if !decodeBody(ctx, &req) {
		return
	}
	if req.WorkspaceID == "" || req.Provider == "" {
		badRequest(ctx, "workspace_id and provider are required")
		return
	}
	err := g.secrets.Delete(ctx, req.WorkspaceID, req.Provider,
		adminActor(ctx), ctx.RemoteIP().String())
	if err != nil {
		g.writeSecretError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "deleted"})
}

func (g *Gateway) handleSecretRotationDue(ctx *fasthttp.RequestCtx) {
	days := 7
	if raw := string(ctx.QueryArgs().Peek("days")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			badRequest(ctx, "days must be a non-negative integer")
			return
		}
		days = n
	}
	due, err := g.secrets.ListDueForRotation(ctx, days)
	if err != nil {
		internalError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{"due": due, "count": len(due)})
}

func (g *Gateway) handleSecretAudit(ctx *fasthttp.RequestCtx) {
	workspaceID := string(ctx.QueryArgs().Peek("workspace_id"))
	if workspaceID == "" {
		badRequest(ctx, "workspace_id query parameter is required")
		return
	}
	n := 100
	if raw := string(ctx.QueryArgs().Peek("n")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			badRequest(ctx, "n must be a positive integer")
			return
		}
		n = v
	}
	entries, err := g.secrets.AccessLog(ctx, workspaceID, n)
	if err != nil {
		internalError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

// ── Actor allow-list ──────────────────────────────────────────────────────────

func (g *Gateway) handleActorAdd(ctx *fasthttp.RequestCtx) {
	var req struct {
		ActorID string `json:"actor_id"`
	}
	if !decodeBody(ctx, &req) {
		return
	}
	if req.ActorID == "" {
		badRequest(ctx, "actor_id is required")
		return
	}
	if err := g.secrets.Authorize(ctx, req.ActorID, adminActor(ctx), ctx.RemoteIP().String()); err != nil {
		internalError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "authorized"})
}

func (g *Gateway) handleActorRemove(ctx *fasthttp.RequestCtx) {
	var req struct {
		ActorID string `json:"actor_id"`
	}
	if !decodeBody(ctx, &req) {
		return
	}
	if req.ActorID == "" {
		badRequest(ctx, "actor_id is required")
		return
	}
	if err := g.secrets.Revoke(ctx, req.ActorID, adminActor(ctx), ctx.RemoteIP().String()); err != nil {
		internalError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "revoked"})
}

func (g *Gateway) handleActorList(ctx *fasthttp.RequestCtx) {
	actors, err := g.secrets.Actors(ctx)
	if err != nil {
		internalError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{"actors": actors})
}

// ── Webhook configuration ─────────────────────────────────────────────────────

func (g *Gateway) handleWebhooksPut(ctx *fasthttp.RequestCtx) {
	var req struct {
		WorkspaceID string           `json:"workspace_id"`
		Webhooks    []notify.Webhook `json:"webhooks"`
	}
	if !decodeBody(ctx, &req) {
		return
	}
	if req.WorkspaceID == "" {
		badRequest(ctx, "workspace_id is required")
		return
	}
	if g.webhookCfg == nil {
		badRequest(ctx, "webhook configuration storage is not enabled")
		return
	}

	// Unsafe destinations are rejected at configuration time, not just at
	// delivery time.
	for i := range req.Webhooks {
		if err := notify.CheckURL(req.Webhooks[i].URL, g.allowHTTPWebhooks); err != nil {
			apierr.Write(ctx, fasthttp.StatusBadRequest,
				fmt.Sprintf("webhook %d: %s", i, err.Error()),
				apierr.TypeInvalidRequest, apierr.CodeUnsafeWebhookURL)
			return
		}
		if req.Webhooks[i].Platform == "" {
			req.Webhooks[i].Platform = notify.DetectPlatform(req.Webhooks[i].URL)
		}
	}

	if err := g.webhookCfg.PutWebhooks(ctx, req.WorkspaceID, req.Webhooks); err != nil {
		internalError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{"status": "stored", "count": len(req.Webhooks)})
}

func (g *Gateway) handleWebhooksGet(ctx *fasthttp.RequestCtx) {
	workspaceID := string(ctx.QueryArgs().Peek("workspace_id"))
	if workspaceID == "" {
		badRequest(ctx, "workspace_id query parameter is required")
		return
	}
	if g.webhookCfg == nil {
		writeJSON(ctx, fasthttp.StatusOK, map[string]any{"webhooks": []notify.Webhook{}})
		return
	}
	hooks, err := g.webhookCfg.GetWebhooks(ctx, workspaceID)
	if err != nil {
		internalError(ctx, err)
		return
	}
	if hooks == nil {
		hooks = []notify.Webhook{}
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{"webhooks": hooks})
}

// webhookTargets resolves the destination list for the test and sample
// endpoints: the explicit url when given, the caller workspace's stored
// webhooks otherwise.
func (g *Gateway) webhookTargets(ctx *fasthttp.RequestCtx, url, platform string) ([]notify.Webhook, bool) {
	if url != "" {
		return []notify.Webhook{{URL: url, Platform: platform}}, true
	}
	info := callerWorkspace(ctx)
	if info == nil || g.webhookCfg == nil {
		badRequest(ctx, "url is required")
		return nil, false
	}
	hooks, err := g.webhookCfg.GetWebhooks(ctx, info.WorkspaceID)
	if err != nil {
		internalError(ctx, err)
		return nil, false
	}
	if len(hooks) == 0 {
		badRequest(ctx, "no url given and no webhooks are configured for this workspace")
		return nil, false
	}
	return hooks, true
}

func writeWebhookDeliveryError(ctx *fasthttp.RequestCtx, err error) {
	if errors.Is(err, notify.ErrUnsafeURL) {
		apierr.Write(ctx, fasthttp.StatusBadRequest, err.Error(),
			apierr.TypeInvalidRequest, apierr.CodeUnsafeWebhookURL)
		return
	}
	apierr.Write(ctx, fasthttp.StatusBadGateway, err.Error(),
		apierr.TypeProviderError, apierr.CodeProviderError)
}

// handleWebhookTest pings a webhook destination. With a url in the body the
// ping goes there; without one, every webhook configured for the caller's
// workspace is pinged.
func (g *Gateway) handleWebhookTest(ctx *fasthttp.RequestCtx) {
	var req struct {
		URL      string `json:"url"`
		Platform string `json:"platform"`
	}
	if !decodeBody(ctx, &req) {
		return
	}
	if g.dispatcher == nil {
		badRequest(ctx, "webhook delivery is not enabled")
		return
	}
	hooks, ok := g.webhookTargets(ctx, req.URL, req.Platform)
	if !ok {
		return
	}
	for i := range hooks {
		if err := g.dispatcher.TestConnection(ctx, hooks[i].URL, hooks[i].Platform); err != nil {
			writeWebhookDeliveryError(ctx, err)
			return
		}
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{"status": "ok", "tested": len(hooks)})
}

// handleWebhookSample delivers a demo event so tenants can see what a real
// notification looks like in their channel.
func (g *Gateway) handleWebhookSample(ctx *fasthttp.RequestCtx) {
	var req struct {
		URL       string `json:"url"`
		Platform  string `json:"platform"`
		RiskLevel string `json:"risk_level"`
	}
	if !decodeBody(ctx, &req) {
		return
	}
	if g.dispatcher == nil {
		badRequest(ctx, "webhook delivery is not enabled")
		return
	}
	hooks, ok := g.webhookTargets(ctx, req.URL, req.Platform)
	if !ok {
		return
	}
	for i := range hooks {
		if err := g.dispatcher.SendSample(ctx, hooks[i].URL, hooks[i].Platform, req.RiskLevel); err != nil {
			writeWebhookDeliveryError(ctx, err)
			return
		}
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{"status": "sent", "delivered": len(hooks)})
}

// ── Scoring weights ───────────────────────────────────────────────────────────

// handlePolicyWeights installs workspace-specific risk scoring weights.
func (g *Gateway) handlePolicyWeights(ctx *fasthttp.RequestCtx) {
	var req struct {
		WorkspaceID string  `json:"workspace_id"`
		Confidence  float64 `json:"confidence"`
		Evidence    float64 `json:"evidence"`
		Flagged     float64 `json:"flagged"`
		History     float64 `json:"history"`
	}
	if !decodeBody(ctx, &req) {
		return
	}
	if req.WorkspaceID == "" {
		badRequest(ctx, "workspace_id is required")
		return
	}
	if req.Confidence < 0 || req.Evidence < 0 || req.Flagged < 0 || req.History < 0 {
		badRequest(ctx, "weights must not be negative")
		return
	}
	if req.Confidence+req.Evidence+req.Flagged+req.History <= 0 {
		badRequest(ctx, "at least one weight must be positive")
		return
	}

	g.pipeline.Scorer().SetWeights(req.WorkspaceID, validation.Weights{
		Confidence: req.Confidence,
		Evidence:   req.Evidence,
		Flagged:    req.Flagged,
		History:    req.History,
	})

	g.log.Info("scoring weights updated",
		slog.String("workspace_id", req.WorkspaceID),
	)
	writeJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "stored"})
}

// ── Trace inspection ──────────────────────────────────────────────────────────

func (g *Gateway) handleTracesRecent(ctx *fasthttp.RequestCtx) {
	workspaceID := string(ctx.QueryArgs().Peek("workspace_id"))
	if workspaceID == "" {
		badRequest(ctx, "workspace_id query parameter is required")
		return
	}
	if g.traces == nil {
		writeJSON(ctx, fasthttp.StatusOK, map[string]any{"traces": []*trace.Trace{}})
		return
	}
	n := 50
	if raw := string(ctx.QueryArgs().Peek("n")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			badRequest(ctx, "n must be a positive integer")
			return
		}
		n = v
	}
	traces, err := g.traces.Recent(ctx, workspaceID, n)
	if err != nil {
		internalError(ctx, err)
		return
	}
	cost, err := g.traces.MonthCost(ctx, workspaceID)
	if err != nil {
		internalError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{
		"traces":         traces,
		"count":          len(traces),
		"month_cost_usd": cost,
	})
}

func (g *Gateway) handleTraceGet(ctx *fasthttp.RequestCtx) {
	workspaceID := string(ctx.QueryArgs().Peek("workspace_id"))
	id, _ := ctx.UserValue("id").(string)
	if workspaceID == "" || id == "" {
		badRequest(ctx, "workspace_id query parameter and trace id are required")
		return
	}
	if g.traces == nil {
		apierr.Write(ctx, fasthttp.StatusNotFound, "trace not found",
			apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}
	t, err := g.traces.Get(ctx, workspaceID, id)
	if err != nil {
		if errors.Is(err, trace.ErrNotFound) {
			apierr.Write(ctx, fasthttp.StatusNotFound, "trace not found",
				apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
			return
		}
		internalError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, t)
}

// handleTraceEvaluate attaches a judged score to an existing trace.
func (g *Gateway) handleTraceEvaluate(ctx *fasthttp.RequestCtx) {
	var req struct {
		WorkspaceID string  `json:"workspace_id"`
		TraceID     string  `json:"trace_id"`
		Judge       string  `json:"judge"`
		Score       float64 `json:"score"`
		Reasoning   string  `json:"reasoning"`
	}
	if !decodeBody(ctx, &req) {
		return
	}
	if req.WorkspaceID == "" || req.TraceID == "" {
		badRequest(ctx, "workspace_id and trace_id are required")
		return
	}
	if g.traces == nil {
		badRequest(ctx, "trace storage is not enabled")
		return
	}
	ev := &trace.Evaluation{
		Judge:     req.Judge,
		Score:     req.Score,
		Reasoning: req.Reasoning,
		At:        time.Now().UTC(),
	}
	if err := g.traces.AttachEvaluation(ctx, req.WorkspaceID, req.TraceID, ev); err != nil {
		if errors.Is(err, trace.ErrNotFound) {
			apierr.Write(ctx, fasthttp.StatusNotFound, "trace not found",
				apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
			return
		}
		internalError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "evaluated"})
}
