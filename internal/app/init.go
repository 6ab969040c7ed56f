package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nulpointcorp/sentinel-gateway/internal/analytics"
	"github.com/nulpointcorp/sentinel-gateway/internal/enforce"
	anthropicenf "github.com/nulpointcorp/sentinel-gateway/internal/enforce/anthropic"
	geminienf "github.com/nulpointcorp/sentinel-gateway/internal/enforce/gemini"
	mistralenf "github.com/nulpointcorp/sentinel-gateway/internal/enforce/mistral"
	openaienf "github.com/nulpointcorp/sentinel-gateway/internal/enforce/openai"
	"github.com/nulpointcorp/sentinel-gateway/internal/metrics"
	"github.com/nulpointcorp/sentinel-gateway/internal/notify"
	"github.com/nulpointcorp/sentinel-gateway/internal/proxy"
	"github.com/nulpointcorp/sentinel-gateway/internal/secrets"
	"github.com/nulpointcorp/sentinel-gateway/internal/trace"
	"github.com/nulpointcorp/sentinel-gateway/internal/validation"
	"github.com/nulpointcorp/sentinel-gateway/internal/worker"
	"github.com/nulpointcorp/sentinel-gateway/internal/workspace"
)

// initInfra establishes optional external connections and the metrics
// registry. Redis is required unless local mode; ClickHouse degrades to
// "analytics disabled" on failure.
func (a *App) initInfra(ctx context.Context) error {
	a.prom = metrics.New()
	a.prom.SetBuildInfo(a.version)

	if !a.cfg.LocalMode() {
		a.log.Info("connecting to redis", slog.String("url", redactURL(a.cfg.Redis.URL)))

		rdb, err := connectRedis(ctx, a.cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		a.rdb = rdb
		a.log.Info("redis connected")
	} else {
		a.log.Warn("REDIS_URL not set; running in local mode with in-memory storage")
	}

	if a.cfg.ClickHouseDSN != "" {
		sink, err := analytics.NewSink(a.baseCtx, a.cfg.ClickHouseDSN, a.log)
		if err != nil {
			// Analytics is an enrichment, not a dependency.
			a.log.Warn("clickhouse unavailable; analytics disabled",
				slog.String("error", err.Error()))
		} else {
			a.sink = sink
			a.log.Info("clickhouse analytics enabled")
		}
	}

	return nil
}

// initStores builds the workspace resolver, secret store, trace store, and
// webhook configuration store on top of whichever backend is available.
func (a *App) initStores(ctx context.Context) error {
	if a.rdb != nil {
		a.resolver = workspace.NewResolver(a.baseCtx, workspace.NewRedisStore(a.rdb), workspace.ResolverOptions{
			CacheTTL:      a.cfg.Resolver.CacheTTL,
			SweepInterval: a.cfg.Resolver.SweepInterval,
			Logger:        a.log,
			Metrics:       a.prom,
		})

		st, err := secrets.NewStore(secrets.NewRedisBackend(a.rdb), a.cfg.MasterKey, secrets.StoreOptions{
			Logger:  a.log,
			Metrics: a.prom,
		})
		if err != nil {
			return fmt.Errorf("secret store: %w", err)
		}
		a.secretSt = st

		// Seed the default admin actor so a fresh deployment can onboard.
		// Idempotent; operators add named actors through the admin API.
		if err := st.Authorize(ctx, "admin", secrets.SystemActor, "startup"); err != nil {
			return fmt.Errorf("seed admin actor: %w", err)
		}

		a.traceStore = trace.NewRedisStore(a.rdb)
		a.webhookCfg = notify.NewRedisConfigStore(a.rdb)
		return nil
	}

	// Local mode: every key resolves to the default workspace and provider
	// credentials come from the environment.
	a.resolver = workspace.NewResolver(a.baseCtx, nil, workspace.ResolverOptions{
		Logger:  a.log,
		Metrics: a.prom,
	})

	st, err := secrets.NewStore(nil, nil, secrets.StoreOptions{
		Logger:  a.log,
		Metrics: a.prom,
		EnvFallback: map[string]string{
			workspace.ProviderOpenAI:    a.cfg.OpenAIKey,
			workspace.ProviderAnthropic: a.cfg.AnthropicKey,
			workspace.ProviderGemini:    a.cfg.GeminiKey,
			workspace.ProviderMistral:   a.cfg.MistralKey,
		},
	})
	if err != nil {
		return fmt.Errorf("secret store: %w", err)
	}
	a.secretSt = st

	a.traceStore = trace.NewMemoryStore()
	a.webhookCfg = notify.NewMemoryConfigStore()
	return nil
}

// initServices creates the validation pipeline, webhook dispatcher, and the
// background task queue.
func (a *App) initServices(_ context.Context) error {
	a.pipeline = validation.NewPipeline(validation.Policy{
		ConfidenceWarn:  a.cfg.Policy.ConfidenceWarn,
		ConfidenceBlock: a.cfg.Policy.ConfidenceBlock,
		MinEvidence:     a.cfg.Policy.MinEvidence,
	})

	a.dispatcher = notify.NewDispatcher(notify.DispatcherOptions{
		Timeout:     a.cfg.Webhook.Timeout,
		MaxRetries:  a.cfg.Webhook.MaxRetries,
		BackoffBase: a.cfg.Webhook.BackoffBase,
		AllowHTTP:   a.cfg.Env == "development",
		Logger:      a.log,
		Metrics:     a.prom,
	})

	q, err := worker.New(a.baseCtx, 0, a.log, a.prom)
	if err != nil {
		return fmt.Errorf("worker queue: %w", err)
	}
	a.queue = q

	return nil
}

// initGateway wires together the Gateway with all configured subsystems.
func (a *App) initGateway(_ context.Context) error {
	storeReady := func(context.Context) bool { return true }
	if a.rdb != nil {
		storeReady = redisPinger(a.rdb)
	}

	a.gw = proxy.NewGateway(a.baseCtx, proxy.Deps{
		Resolver:   a.resolver,
		Secrets:    a.secretSt,
		Pipeline:   a.pipeline,
		Factory:    providerFactory(a.cfg.Enforcer.Timeout),
		Dispatcher: a.dispatcher,
		WebhookCfg: a.webhookCfg,
		Traces:     a.traceStore,
		Queue:      a.queue,
		Analytics:  a.sink,
	}, proxy.GatewayOptions{
		Logger:         a.log,
		Metrics:        a.prom,
		EnforceTimeout: a.cfg.Enforcer.Timeout,
		CBConfig: proxy.CBConfig{
			ErrorThreshold:  a.cfg.CircuitBreaker.ErrorThreshold,
			TimeWindow:      a.cfg.CircuitBreaker.TimeWindow,
			HalfOpenTimeout: a.cfg.CircuitBreaker.HalfOpenTimeout,
		},
		BudgetUSD:         a.cfg.BudgetUSD,
		AdminToken:        a.cfg.AdminToken,
		CORSOrigins:       a.cfg.CORSOrigins,
		AllowHTTPWebhooks: a.cfg.Env == "development",
		StoreReady:        storeReady,
	})

	return nil
}

// providerFactory returns the enforce.Factory used on the request path: a
// fresh adapter per request, bound to the tenant's own credential.
func providerFactory(timeout time.Duration) enforce.Factory {
	return func(ctx context.Context, provider, credential string) (enforce.Enforcer, error) {
		switch provider {
		case enforce.ProviderOpenAI:
			return openaienf.New(credential, openaienf.WithTimeout(timeout))
		case enforce.ProviderAnthropic:
			return anthropicenf.New(credential, anthropicenf.WithTimeout(timeout))
		case enforce.ProviderGemini:
			return geminienf.New(ctx, credential, geminienf.WithTimeout(timeout))
		case enforce.ProviderMistral:
			return mistralenf.New(credential, mistralenf.WithTimeout(timeout))
		default:
			return nil, fmt.Errorf("app: unknown provider %q", provider)
		}
	}
}
