// Package metrics provides a Prometheus metrics registry for the gateway.
//
// All metrics are scoped to a private registry (not the global default) so
// they don't interfere with host-level metrics when embedded in other
// applications. The /metrics HTTP handler is exposed via Handler().
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// Registry holds all exported metrics.
type Registry struct {
	reg *prometheus.Registry

	// gateway_inflight_requests
	inFlight prometheus.Gauge

	// gateway_http_requests_total{route,status}
	httpRequestsTotal *prometheus.CounterVec

	// gateway_http_request_duration_seconds{route}
	httpDuration *prometheus.HistogramVec

	// gateway_upstream_attempts_total{provider,outcome}
	upstreamAttempts *prometheus.CounterVec

	// gateway_upstream_attempt_duration_seconds{provider}
	upstreamDuration *prometheus.HistogramVec

	// gateway_verdicts_total{overall}
	verdictsTotal *prometheus.CounterVec

	// gateway_risk_level_total{level}
	riskLevelTotal *prometheus.CounterVec

	// gateway_resolver_cache_total{result}
	resolverCache *prometheus.CounterVec

	// gateway_secret_operations_total{action,result}
	secretOps *prometheus.CounterVec

	// gateway_notifications_total{platform,outcome}
	notificationsTotal *prometheus.CounterVec

	// gateway_circuit_breaker_state{provider} — 0=closed, 1=open, 2=half-open
	circuitBreakerState *prometheus.GaugeVec

	// gateway_background_tasks_total{task,outcome}
	backgroundTasks *prometheus.CounterVec

	// gateway_tokens_total{provider,direction}
	tokensTotal *prometheus.CounterVec

	// gateway_build_info{version}
	buildInfo *prometheus.GaugeVec

	metricsHandler fasthttp.RequestHandler
}

// New creates a Registry with all collectors registered.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,

		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_inflight_requests",
			Help: "Number of requests currently being handled.",
		}),

		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_http_requests_total",
			Help: "HTTP requests by route and status.",
		}, []string{"route", "status"}),

		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_http_request_duration_seconds",
			Help:    "End-to-end request duration by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),

		upstreamAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_upstream_attempts_total",
			Help: "Upstream provider calls by outcome.",
		}, []string{"provider", "outcome"}),

		upstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_upstream_attempt_duration_seconds",
			Help:    "Upstream provider call duration.",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"provider"}),

		verdictsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_verdicts_total",
			Help: "Validation verdicts by overall outcome.",
		}, []string{"overall"}),

		riskLevelTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_risk_level_total",
			Help: "Risk classifications by level.",
		}, []string{"level"}),

		resolverCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_resolver_cache_total",
			Help: "Key-resolver cache lookups by result.",
		}, []string{"result"}),

		secretOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_secret_operations_total",
			Help: "Secret store operations by action and result.",
		}, []string{"action", "result"}),

		notificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_notifications_total",
			Help: "Webhook notification deliveries by platform and outcome.",
		}, []string{"platform", "outcome"}),

		circuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_circuit_breaker_state",
			Help: "Per-provider circuit breaker state (0=closed, 1=open, 2=half-open).",
		}, []string{"provider"}),

		backgroundTasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_background_tasks_total",
			Help: "Background queue tasks by name and outcome.",
		}, []string{"task", "outcome"}),

		tokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_tokens_total",
			Help: "Token usage by provider and direction.",
		}, []string{"provider", "direction"}),

		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_build_info",
			Help: "Build information.",
		}, []string{"version"}),
	}

	reg.MustRegister(
		r.inFlight,
		r.httpRequestsTotal,
		r.httpDuration,
		r.upstreamAttempts,
		r.upstreamDuration,
		r.verdictsTotal,
		r.riskLevelTotal,
		r.resolverCache,
		r.secretOps,
		r.notificationsTotal,
		r.circuitBreakerState,
		r.backgroundTasks,
		r.tokensTotal,
		r.buildInfo,
	)

	r.metricsHandler = fasthttpadaptor.NewFastHTTPHandler(
		promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	)

	return r
}

// Handler returns the fasthttp handler serving the /metrics endpoint.
func (r *Registry) Handler() fasthttp.RequestHandler { return r.metricsHandler }

// SetBuildInfo pins the build_info gauge for the running version.
func (r *Registry) SetBuildInfo(version string) {
	r.buildInfo.WithLabelValues(version).Set(1)
}

func (r *Registry) IncInFlight() { r.inFlight.Inc() }
func (r *Registry) DecInFlight() { r.inFlight.Dec() }

// ObserveHTTP records one completed HTTP request.
func (r *Registry) ObserveHTTP(route string, status int, dur time.Duration) {
	r.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	r.httpDuration.WithLabelValues(route).Observe(dur.Seconds())
}

// ObserveUpstream records one upstream provider attempt.
func (r *Registry) ObserveUpstream(provider, outcome string, dur time.Duration) {
	r.upstreamAttempts.WithLabelValues(provider, outcome).Inc()
	r.upstreamDuration.WithLabelValues(provider).Observe(dur.Seconds())
}

// RecordVerdict records a validation outcome.
func (r *Registry) RecordVerdict(overall, riskLevel string) {
	r.verdictsTotal.WithLabelValues(overall).Inc()
	r.riskLevelTotal.WithLabelValues(riskLevel).Inc()
}

func (r *Registry) ResolverCacheHit()  { r.resolverCache.WithLabelValues("hit").Inc() }
func (r *Registry) ResolverCacheMiss() { r.resolverCache.WithLabelValues("miss").Inc() }

// RecordSecretOp records a secret store operation outcome.
func (r *Registry) RecordSecretOp(action string, ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	r.secretOps.WithLabelValues(action, result).Inc()
}

// RecordNotification records a webhook delivery outcome.
func (r *Registry) RecordNotification(platform, outcome string) {
	r.notificationsTotal.WithLabelValues(platform, outcome).Inc()
}

// SetCircuitBreaker records a provider's breaker state.
func (r *Registry) SetCircuitBreaker(provider string, state int64) {
	r.circuitBreakerState.WithLabelValues(provider).Set(float64(state))
}

// RecordBackgroundTask records a background queue task outcome.
func (r *Registry) RecordBackgroundTask(task, outcome string) {
	r.backgroundTasks.WithLabelValues(task, outcome).Inc()
}

// AddTokens accumulates token usage for a provider.
func (r *Registry) AddTokens(provider string, input, output int) {
	if input > 0 {
		r.tokensTotal.WithLabelValues(provider, "input").Add(float64(input))
	}
	if output > 0 {
		r.tokensTotal.WithLabelValues(provider, "output").Add(float64(output))
	}
}
