package proxy

import (
	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/sentinel-gateway/pkg/apierr"
)

// Handler builds the full fasthttp request handler: routes plus the
// middleware chain (recovery outermost, then request ID, timing, CORS, and
// security headers).
func (g *Gateway) Handler() fasthttp.RequestHandler {
	r := router.New()
	r.RedirectTrailingSlash = false

	// OpenAI-compatible completion surface.
	r.POST("/v1/chat/completions", g.dispatchCompletion)
	r.POST("/v1/completions", g.dispatchCompletion)

	// Tenant self-service, gateway-key-gated.
	r.POST("/v1/webhooks/test", g.requireWorkspace(g.handleWebhookTest))
	r.POST("/v1/webhooks/sample", g.requireWorkspace(g.handleWebhookSample))

	// Operational endpoints.
	r.GET("/health", g.handleHealth)
	r.GET("/readiness", g.handleReadiness)
	if g.metrics != nil {
		r.GET("/metrics", g.metrics.Handler())
	}

	// Management surface, token-gated.
	admin := r.Group("/admin")
	admin.POST("/onboard", g.requireAdmin(g.handleOnboard))
	admin.POST("/keys/deactivate", g.requireAdmin(g.handleKeyDeactivate))
	admin.POST("/keys/deactivate-all", g.requireAdmin(g.handleKeyDeactivateAll))
	admin.POST("/keys/extend", g.requireAdmin(g.handleKeyExtend))
	admin.POST("/secrets", g.requireAdmin(g.handleSecretPut))
	admin.POST("/secrets/rotate", g.requireAdmin(g.handleSecretRotate))
	admin.POST("/secrets/delete", g.requireAdmin(g.handleSecretDelete))
	admin.GET("/secrets/rotation-due", g.requireAdmin(g.handleSecretRotationDue))
	admin.GET("/secrets/audit", g.requireAdmin(g.handleSecretAudit))
	admin.POST("/actors", g.requireAdmin(g.handleActorAdd))
	admin.POST("/actors/revoke", g.requireAdmin(g.handleActorRemove))
	admin.GET("/actors", g.requireAdmin(g.handleActorList))
	admin.PUT("/webhooks", g.requireAdmin(g.handleWebhooksPut))
	admin.GET("/webhooks", g.requireAdmin(g.handleWebhooksGet))
	admin.POST("/policy/weights", g.requireAdmin(g.handlePolicyWeights))
	admin.GET("/traces", g.requireAdmin(g.handleTracesRecent))
	admin.GET("/traces/{id}", g.requireAdmin(g.handleTraceGet))
	admin.POST("/traces/evaluate", g.requireAdmin(g.handleTraceEvaluate))

	r.NotFound = func(ctx *fasthttp.RequestCtx) {
		apierr.Write(ctx, fasthttp.StatusNotFound, "not found",
			apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
	}
	r.MethodNotAllowed = func(ctx *fasthttp.RequestCtx) {
		apierr.Write(ctx, fasthttp.StatusMethodNotAllowed, "method not allowed",
			apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
	}

	return applyMiddleware(r.Handler,
		recovery,
		requestID,
		timing,
		corsHandler(g.corsOrigins),
		securityHeaders,
	)
}

func (g *Gateway) handleHealth(ctx *fasthttp.RequestCtx) {
	snap := g.health.Snapshot()
	status := fasthttp.StatusOK
	if snap.Status != "ok" {
		status = fasthttp.StatusServiceUnavailable
	}
	writeJSON(ctx, status, snap)
}

func (g *Gateway) handleReadiness(ctx *fasthttp.RequestCtx) {
	if !g.health.ReadinessOK() {
		writeJSON(ctx, fasthttp.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "ready"})
}
