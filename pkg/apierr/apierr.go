// Package apierr provides structured API error types and HTTP status mapping
// compatible with the OpenAI error format.
package apierr

import (
	"encoding/json"

	"github.com/valyala/fasthttp"
)

// ErrorType constants.
const (
	TypeProviderError     = "provider_error"
	TypeInvalidRequest    = "invalid_request_error"
	TypeAuthenticationErr = "authentication_error"
	TypePermissionError   = "permission_error"
	TypeServerError       = "server_error"
)

// Code constants.
const (
	CodeInvalidAPIKey    = "invalid_api_key"
	CodeInvalidAdmin     = "invalid_admin_token"
	CodeNotAuthorized    = "not_authorized"
	CodeInternalError    = "internal_error"
	CodeProviderError    = "provider_error"
	CodeRequestTimeout   = "request_timeout"
	CodeInvalidRequest   = "invalid_request"
	CodeProviderDisabled = "provider_not_enabled"
	CodeUnsafeWebhookURL = "unsafe_webhook_url"
)

// APIError is the structured error returned to clients.
type (
	APIError struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	}
	envelope struct {
		Error APIError `json:"error"`
	}
)

// Write writes the error as JSON to the fasthttp response with the given HTTP status.
func Write(ctx *fasthttp.RequestCtx, status int, message, errType, code string) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(envelope{Error: APIError{
		Message: message,
		Type:    errType,
		Code:    code,
	}})
	ctx.SetBody(body)
}

// WriteProviderError maps an upstream HTTP status to the appropriate gateway status.
//
//	Upstream 429 → 429 + Retry-After: 60
//	Everything else → 502
func WriteProviderError(ctx *fasthttp.RequestCtx, providerStatus int, msg string) {
	if providerStatus == fasthttp.StatusTooManyRequests {
		ctx.Response.Header.Set("Retry-After", "60")
		Write(ctx, fasthttp.StatusTooManyRequests, msg, TypeProviderError, CodeProviderError)
		return
	}
	Write(ctx, fasthttp.StatusBadGateway, msg, TypeProviderError, CodeProviderError)
}

// WriteTimeout writes a 504 timeout error.
func WriteTimeout(ctx *fasthttp.RequestCtx) {
	Write(ctx, fasthttp.StatusGatewayTimeout, "provider request timed out", TypeProviderError, CodeRequestTimeout)
}

// WriteInvalidKey writes a 401 for an invalid, expired, or deactivated gateway API key.
func WriteInvalidKey(ctx *fasthttp.RequestCtx) {
	Write(ctx, fasthttp.StatusUnauthorized,
		"invalid, expired, or deactivated API key",
		TypeAuthenticationErr, CodeInvalidAPIKey)
}

// WriteInvalidAdmin writes a 401 for a missing or wrong admin token.
func WriteInvalidAdmin(ctx *fasthttp.RequestCtx) {
	Write(ctx, fasthttp.StatusUnauthorized,
		"invalid admin token",
		TypeAuthenticationErr, CodeInvalidAdmin)
}
