package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nulpointcorp/sentinel-gateway/internal/metrics"
)

// LocalWorkspaceID is the fixed identity served when no durable store is
// configured. It exists so `go run` with nothing but a provider key works;
// production deployments always configure a store.
const LocalWorkspaceID = "local-workspace"

// ResolverOptions holds optional tuning parameters for a Resolver. All fields
// have sensible defaults and can be omitted.
type ResolverOptions struct {
	// CacheTTL is how long resolved identities stay cached. Default: 5m.
	CacheTTL time.Duration

	// SweepInterval is how often the cache evicts expired entries. Default: 1m.
	SweepInterval time.Duration

	// Clock overrides the time source, letting tests advance cache expiry
	// without sleeping. Default: wall clock.
	Clock Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Metrics enables resolver cache metrics. Nil disables them.
	Metrics *metrics.Registry
}

// Resolver maps gateway API keys to workspace identities.
//
// A nil Store puts the resolver in local mode: every key resolves to
// LocalWorkspaceID with all providers enabled, and mutations are rejected.
type Resolver struct {
	store   Store
	cache   *infoCache
	clock   Clock
	log     *slog.Logger
	metrics *metrics.Registry
	baseCtx context.Context
}

// NewResolver creates a Resolver. The cache sweep goroutine stops when ctx is
// cancelled or Close is called.
func NewResolver(ctx context.Context, store Store, opts ResolverOptions) *Resolver {
	if ctx == nil {
		panic("workspace: context must not be nil")
	}

	clock := opts.Clock
	if clock == nil {
		clock = SystemClock()
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	sweep := opts.SweepInterval
	if sweep <= 0 {
		sweep = time.Minute
	}

	return &Resolver{
		store:   store,
		cache:   newInfoCache(ctx, ttl, sweep, clock),
		clock:   clock,
		log:     log,
		metrics: opts.Metrics,
		baseCtx: ctx,
	}
}

// Resolve hashes the key, consults the cache, and falls back to durable
// storage. The returned Info is identical whether it came from cache or
// store. Resolution fails closed: any storage failure without a cache entry
// yields ErrNotFound.
func (r *Resolver) Resolve(ctx context.Context, apiKey string) (*Info, error) {
	if apiKey == "" {
		return nil, ErrNotFound
	}

	if r.store == nil {
		// Local mode escape hatch.
		return &Info{
			WorkspaceID:  LocalWorkspaceID,
			CustomerID:   "local",
			CustomerName: "Local Development",
			Providers:    append([]string(nil), AllProviders...),
		}, nil
	}

	keyHash := Hash(apiKey)

	if info, ok := r.cache.get(keyHash); ok {
		if r.metrics != nil {
			r.metrics.ResolverCacheHit()
		}
		return info, nil
	}
	if r.metrics != nil {
		r.metrics.ResolverCacheMiss()
	}

	m, err := r.store.GetMapping(ctx, keyHash)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			r.log.Error("resolver store error", slog.String("error", err.Error()))
		}
		return nil, ErrNotFound
	}

	if !m.IsActive || r.clock.Now().After(m.ExpiresAt) {
		// Make sure a stale snapshot can't outlive the deactivation.
		r.cache.invalidate(keyHash)
		return nil, ErrNotFound
	}

	info := &Info{
		WorkspaceID:  m.WorkspaceID,
		CustomerID:   m.CustomerID,
		CustomerName: m.CustomerName,
		Providers:    append([]string(nil), m.Providers...),
	}
	r.cache.put(keyHash, info)

	// Touch last-used off the request path; a failed touch never fails the
	// resolution.
	go func() {
		touchCtx, cancel := context.WithTimeout(r.baseCtx, 2*time.Second)
		defer cancel()
		if err := r.store.TouchLastUsed(touchCtx, keyHash, r.clock.Now()); err != nil {
			r.log.Warn("last-used touch failed", slog.String("error", err.Error()))
		}
	}()

	return info, nil
}

// Register writes a mapping for a new key, or appends the provider to the
// existing mapping when the hash is already registered. One gateway key
// therefore maps to the full set of providers it was onboarded with.
// Unrelated cache entries are left untouched.
func (r *Resolver) Register(
	ctx context.Context,
	apiKey, workspaceID, customerID, customerName, provider string,
	expiryDays int,
) error {
	if r.store == nil {
		return fmt.Errorf("workspace: register requires durable storage")
	}
	if apiKey == "" || workspaceID == "" || provider == "" {
		return fmt.Errorf("workspace: apiKey, workspaceID, and provider are required")
	}
	if expiryDays <= 0 {
		expiryDays = 365
	}

	keyHash := Hash(apiKey)
	now := r.clock.Now()

	existing, err := r.store.GetMapping(ctx, keyHash)
	switch {
	case err == nil:
		if existing.WorkspaceID != workspaceID {
			return fmt.Errorf("workspace: key already registered to another workspace")
		}
		if existing.HasProvider(provider) {
			return nil
		}
		existing.Providers = append(existing.Providers, provider)
		if err := r.store.PutMapping(ctx, existing); err != nil {
			return err
		}
	case errors.Is(err, ErrNotFound):
		m := &Mapping{
			KeyHash:      keyHash,
			WorkspaceID:  workspaceID,
			CustomerID:   customerID,
			CustomerName: customerName,
			Providers:    []string{provider},
			CreatedAt:    now,
			ExpiresAt:    now.AddDate(0, 0, expiryDays),
			IsActive:     true,
		}
		if err := r.store.PutMapping(ctx, m); err != nil {
			return err
		}
	default:
		return err
	}

	// The next resolution must see the new provider set.
	r.cache.invalidate(keyHash)
	return nil
}

// Deactivate flips one key inactive and purges its cache entry. Idempotent.
func (r *Resolver) Deactivate(ctx context.Context, keyHash string) error {
	if r.store == nil {
		return fmt.Errorf("workspace: deactivate requires durable storage")
	}
	if err := r.store.SetActive(ctx, keyHash, false); err != nil {
		return err
	}
	r.cache.invalidate(keyHash)
	return nil
}

// DeactivateAll flips every key of a workspace inactive and purges all of the
// workspace's cache entries. Idempotent.
func (r *Resolver) DeactivateAll(ctx context.Context, workspaceID string) error {
	if r.store == nil {
		return fmt.Errorf("workspace: deactivate requires durable storage")
	}

	hashes, err := r.store.ListKeyHashes(ctx, workspaceID)
	if err != nil {
		return err
	}
	for _, h := range hashes {
		if err := r.store.SetActive(ctx, h, false); err != nil {
			return err
		}
	}
	r.cache.invalidateWorkspace(workspaceID)
	return nil
}

// ExtendExpiry pushes the key's expiry forward by days and invalidates the
// cached entry so the next resolution re-reads the fresh expiry.
func (r *Resolver) ExtendExpiry(ctx context.Context, keyHash string, days int) error {
	if r.store == nil {
		return fmt.Errorf("workspace: extend expiry requires durable storage")
	}
	if days <= 0 {
		return fmt.Errorf("workspace: days must be positive, got %d", days)
	}

	m, err := r.store.GetMapping(ctx, keyHash)
	if err != nil {
		return err
	}

	base := m.ExpiresAt
	if now := r.clock.Now(); base.Before(now) {
		base = now
	}
	if err := r.store.SetExpiry(ctx, keyHash, base.AddDate(0, 0, days)); err != nil {
		return err
	}
	r.cache.invalidate(keyHash)
	return nil
}

// CacheLen reports the number of cached identities (including not-yet-swept
// expired entries).
func (r *Resolver) CacheLen() int { return r.cache.len() }

// Close stops the cache sweep goroutine.
func (r *Resolver) Close() { r.cache.close() }
