package workspace

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// failingStore simulates an unreachable backend.
type failingStore struct{}

func (failingStore) GetMapping(context.Context, string) (*Mapping, error) {
	return nil, errors.New("connection refused")
}
func (failingStore) PutMapping(context.Context, *Mapping) error      { return errors.New("down") }
func (failingStore) ListKeyHashes(context.Context, string) ([]string, error) {
	return nil, errors.New("down")
}
func (failingStore) SetActive(context.Context, string, bool) error        { return errors.New("down") }
func (failingStore) SetExpiry(context.Context, string, time.Time) error   { return errors.New("down") }
func (failingStore) TouchLastUsed(context.Context, string, time.Time) error { return nil }

func newRedisResolver(t *testing.T, clock Clock) *Resolver {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	r := NewResolver(context.Background(), NewRedisStore(rdb), ResolverOptions{
		CacheTTL:      5 * time.Minute,
		SweepInterval: time.Hour,
		Clock:         clock,
	})
	t.Cleanup(r.Close)
	return r
}

func TestResolve_RegisteredKey(t *testing.T) {
	r := newRedisResolver(t, newFakeClock())
	ctx := context.Background()

	if err := r.Register(ctx, "sg-abc", "ws-1", "cust-1", "Acme", ProviderOpenAI, 30); err != nil {
		t.Fatal(err)
	}

	info, err := r.Resolve(ctx, "sg-abc")
	if err != nil {
		t.Fatal(err)
	}
	if info.WorkspaceID != "ws-1" || info.CustomerName != "Acme" {
		t.Errorf("info = %+v", info)
	}
	if !info.HasProvider(ProviderOpenAI) {
		t.Error("openai should be enabled")
	}
	if info.HasProvider(ProviderMistral) {
		t.Error("mistral should not be enabled")
	}
}

func TestResolve_UnknownKey(t *testing.T) {
	r := newRedisResolver(t, newFakeClock())

	if _, err := r.Resolve(context.Background(), "sg-nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestRegister_AppendsProviderToExistingKey(t *testing.T) {
	r := newRedisResolver(t, newFakeClock())
	ctx := context.Background()

	if err := r.Register(ctx, "sg-abc", "ws-1", "cust-1", "Acme", ProviderOpenAI, 30); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(ctx, "sg-abc", "ws-1", "cust-1", "Acme", ProviderAnthropic, 30); err != nil {
		t.Fatal(err)
	}
	// Same provider twice is a no-op.
	if err := r.Register(ctx, "sg-abc", "ws-1", "cust-1", "Acme", ProviderAnthropic, 30); err != nil {
		t.Fatal(err)
	}

	info, err := r.Resolve(ctx, "sg-abc")
	if err != nil {
		t.Fatal(err)
	}
	if len(info.Providers) != 2 {
		t.Errorf("providers = %v, want exactly openai+anthropic", info.Providers)
	}
	if !info.HasProvider(ProviderAnthropic) {
		t.Error("anthropic should have been appended")
	}
}

func TestRegister_RejectsCrossWorkspaceReuse(t *testing.T) {
	r := newRedisResolver(t, newFakeClock())
	ctx := context.Background()

	if err := r.Register(ctx, "sg-abc", "ws-1", "c", "n", ProviderOpenAI, 30); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(ctx, "sg-abc", "ws-2", "c", "n", ProviderOpenAI, 30); err == nil {
		t.Error("registering the same key for another workspace should fail")
	}
}

func TestDeactivate_PurgesCache(t *testing.T) {
	r := newRedisResolver(t, newFakeClock())
	ctx := context.Background()

	if err := r.Register(ctx, "sg-abc", "ws-1", "c", "n", ProviderOpenAI, 30); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Resolve(ctx, "sg-abc"); err != nil {
		t.Fatal(err)
	}

	if err := r.Deactivate(ctx, Hash("sg-abc")); err != nil {
		t.Fatal(err)
	}

	// A cached snapshot must not outlive the deactivation.
	if _, err := r.Resolve(ctx, "sg-abc"); !errors.Is(err, ErrNotFound) {
		t.Errorf("deactivated key resolved: %v", err)
	}
}

func TestDeactivateAll(t *testing.T) {
	r := newRedisResolver(t, newFakeClock())
	ctx := context.Background()

	for _, key := range []string{"sg-a", "sg-b"} {
		if err := r.Register(ctx, key, "ws-1", "c", "n", ProviderOpenAI, 30); err != nil {
			t.Fatal(err)
		}
	}
	if err := r.Register(ctx, "sg-other", "ws-2", "c", "n", ProviderOpenAI, 30); err != nil {
		t.Fatal(err)
	}

	if err := r.DeactivateAll(ctx, "ws-1"); err != nil {
		t.Fatal(err)
	}

	for _, key := range []string{"sg-a", "sg-b"} {
		if _, err := r.Resolve(ctx, key); !errors.Is(err, ErrNotFound) {
			t.Errorf("%s still resolves after workspace deactivation", key)
		}
	}
	if _, err := r.Resolve(ctx, "sg-other"); err != nil {
		t.Errorf("unrelated workspace key should survive: %v", err)
	}
}

func TestResolve_ExpiredKey(t *testing.T) {
	clock := newFakeClock()
	r := newRedisResolver(t, clock)
	ctx := context.Background()

	if err := r.Register(ctx, "sg-abc", "ws-1", "c", "n", ProviderOpenAI, 1); err != nil {
		t.Fatal(err)
	}

	clock.Advance(48 * time.Hour)

	if _, err := r.Resolve(ctx, "sg-abc"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expired key resolved: %v", err)
	}
}

func TestExtendExpiry_RevivesExpiredKey(t *testing.T) {
	clock := newFakeClock()
	r := newRedisResolver(t, clock)
	ctx := context.Background()

	if err := r.Register(ctx, "sg-abc", "ws-1", "c", "n", ProviderOpenAI, 1); err != nil {
		t.Fatal(err)
	}
	clock.Advance(48 * time.Hour)

	if err := r.ExtendExpiry(ctx, Hash("sg-abc"), 30); err != nil {
		t.Fatal(err)
	}

	if _, err := r.Resolve(ctx, "sg-abc"); err != nil {
		t.Errorf("extended key should resolve again: %v", err)
	}
}

func TestResolve_FailsClosedOnStorageError(t *testing.T) {
	r := NewResolver(context.Background(), failingStore{}, ResolverOptions{
		SweepInterval: time.Hour,
	})
	defer r.Close()

	if _, err := r.Resolve(context.Background(), "sg-abc"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound on storage failure", err)
	}
}

func TestResolve_CacheServesRepeatLookups(t *testing.T) {
	clock := newFakeClock()
	r := newRedisResolver(t, clock)
	ctx := context.Background()

	if err := r.Register(ctx, "sg-abc", "ws-1", "c", "n", ProviderOpenAI, 30); err != nil {
		t.Fatal(err)
	}

	if _, err := r.Resolve(ctx, "sg-abc"); err != nil {
		t.Fatal(err)
	}
	if r.CacheLen() != 1 {
		t.Errorf("cache len = %d, want 1", r.CacheLen())
	}

	// Within TTL the cached snapshot answers.
	clock.Advance(time.Minute)
	if _, err := r.Resolve(ctx, "sg-abc"); err != nil {
		t.Fatal(err)
	}
}

func TestResolve_LocalModeWithoutStore(t *testing.T) {
	r := NewResolver(context.Background(), nil, ResolverOptions{SweepInterval: time.Hour})
	defer r.Close()

	info, err := r.Resolve(context.Background(), "anything")
	if err != nil {
		t.Fatal(err)
	}
	if info.WorkspaceID != LocalWorkspaceID {
		t.Errorf("workspace = %s, want local default", info.WorkspaceID)
	}
	if len(info.Providers) != len(AllProviders) {
		t.Error("local mode should enable every provider")
	}
}

func TestHash_Deterministic(t *testing.T) {
	if Hash("sg-abc") != Hash("sg-abc") {
		t.Error("hash must be deterministic")
	}
	if Hash("sg-abc") == Hash("sg-abd") {
		t.Error("distinct keys must hash differently")
	}
	if Hash("sg-abc") == "sg-abc" {
		t.Error("hash must not be the plaintext")
	}
}
