package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Backend is the durable storage consumed by the Store. Implementations must
// be safe for concurrent use.
type Backend interface {
	GetSecret(ctx context.Context, workspaceID, provider string) (*EncryptedSecret, error)
	PutSecret(ctx context.Context, workspaceID, provider string, s *EncryptedSecret) error
	DeleteSecret(ctx context.Context, workspaceID, provider string) error

	GetMetadata(ctx context.Context, workspaceID, provider string) (*Metadata, error)
	PutMetadata(ctx context.Context, m *Metadata) error
	DeleteMetadata(ctx context.Context, workspaceID, provider string) error

	// ListMetadata scans every stored secret's metadata. O(workspaces ×
	// providers) with no index; acceptable at moderate tenant counts.
	ListMetadata(ctx context.Context) ([]Metadata, error)

	// AppendAccess appends one audit entry. The log is append-only.
	AppendAccess(ctx context.Context, workspaceID string, e *AccessEntry) error
	// AccessLog returns up to n most recent entries, newest first.
	AccessLog(ctx context.Context, workspaceID string, n int) ([]AccessEntry, error)

	IsAuthorized(ctx context.Context, actor string) (bool, error)
	AddActor(ctx context.Context, actor string) error
	RemoveActor(ctx context.Context, actor string) error
	ListActors(ctx context.Context) ([]string, error)
}

// ── Redis implementation ─────────────────────────────────────────────────────

const (
	backendTimeout = time.Second
	accessLogCap   = 1000
)

func secretKey(ws, prov string) string  { return "secret:" + ws + ":" + prov }
func metaKey(ws, prov string) string    { return "secretmeta:" + ws + ":" + prov }
func accessLogKey(ws string) string     { return "secretlog:" + ws }
func metaIndexEntry(ws, p string) string { return ws + "/" + p }

const (
	metaIndexKey = "secretmeta:index"
	actorsKey    = "secret:actors"
)

// RedisBackend is the production secret backend.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend wraps an existing Redis client. The caller owns the client
// lifecycle.
func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

func (b *RedisBackend) GetSecret(ctx context.Context, ws, prov string) (*EncryptedSecret, error) {
	ctx, cancel := context.WithTimeout(ctx, backendTimeout)
	defer cancel()

	raw, err := b.client.Get(ctx, secretKey(ws, prov)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("secrets: get: %w", err)
	}
	var s EncryptedSecret
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("secrets: decode: %w", err)
	}
	return &s, nil
}

func (b *RedisBackend) PutSecret(ctx context.Context, ws, prov string, s *EncryptedSecret) error {
	ctx, cancel := context.WithTimeout(ctx, backendTimeout)
	defer cancel()

	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("secrets: encode: %w", err)
	}
	if err := b.client.Set(ctx, secretKey(ws, prov), raw, 0).Err(); err != nil {
		return fmt.Errorf("secrets: put: %w", err)
	}
	return nil
}

func (b *RedisBackend) DeleteSecret(ctx context.Context, ws, prov string) error {
	ctx, cancel := context.WithTimeout(ctx, backendTimeout)
	defer cancel()

	if err := b.client.Del(ctx, secretKey(ws, prov)).Err(); err != nil {
		return fmt.Errorf("secrets: delete: %w", err)
	}
	return nil
}

func (b *RedisBackend) GetMetadata(ctx context.Context, ws, prov string) (*Metadata, error) {
	ctx, cancel := context.WithTimeout(ctx, backendTimeout)
	defer cancel()

	raw, err := b.client.Get(ctx, metaKey(ws, prov)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("secrets: get metadata: %w", err)
	}
	var m Metadata
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("secrets: decode metadata: %w", err)
	}
	return &m, nil
}

func (b *RedisBackend) PutMetadata(ctx context.Context, m *Metadata) error {
	ctx, cancel := context.WithTimeout(ctx, backendTimeout)
	defer cancel()

	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("secrets: encode metadata: %w", err)
	}

	pipe := b.client.TxPipeline()
	pipe.Set(ctx, metaKey(m.WorkspaceID, m.Provider), raw, 0)
	pipe.SAdd(ctx, metaIndexKey, metaIndexEntry(m.WorkspaceID, m.Provider))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("secrets: put metadata: %w", err)
	}
	return nil
}

func (b *RedisBackend) DeleteMetadata(ctx context.Context, ws, prov string) error {
	ctx, cancel := context.WithTimeout(ctx, backendTimeout)
	defer cancel()

	pipe := b.client.TxPipeline()
	pipe.Del(ctx, metaKey(ws, prov))
	pipe.SRem(ctx, metaIndexKey, metaIndexEntry(ws, prov))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("secrets: delete metadata: %w", err)
	}
	return nil
}

func (b *RedisBackend) ListMetadata(ctx context.Context) ([]Metadata, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	entries, err := b.client.SMembers(ctx, metaIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("secrets: list metadata index: %w", err)
	}

	out := make([]Metadata, 0, len(entries))
	for _, e := range entries {
		ws, prov, ok := strings.Cut(e, "/")
		if !ok {
			continue
		}
		m, err := b.GetMetadata(ctx, ws, prov)
		if err != nil {
			if err == ErrNotFound {
				continue // index entry outlived its metadata
			}
			return nil, err
		}
		out = append(out, *m)
	}
	return out, nil
}

func (b *RedisBackend) AppendAccess(ctx context.Context, ws string, e *AccessEntry) error {
	ctx, cancel := context.WithTimeout(ctx, backendTimeout)
	defer cancel()

	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("secrets: encode access entry: %w", err)
	}

	pipe := b.client.TxPipeline()
	pipe.LPush(ctx, accessLogKey(ws), raw)
	pipe.LTrim(ctx, accessLogKey(ws), 0, accessLogCap-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("secrets: append access: %w", err)
	}
	return nil
}

func (b *RedisBackend) AccessLog(ctx context.Context, ws string, n int) ([]AccessEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, backendTimeout)
	defer cancel()

	if n <= 0 || n > accessLogCap {
		n = accessLogCap
	}
	raws, err := b.client.LRange(ctx, accessLogKey(ws), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("secrets: access log: %w", err)
	}

	out := make([]AccessEntry, 0, len(raws))
	for _, raw := range raws {
		var e AccessEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (b *RedisBackend) IsAuthorized(ctx context.Context, actor string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, backendTimeout)
	defer cancel()

	ok, err := b.client.SIsMember(ctx, actorsKey, actor).Result()
	if err != nil {
		return false, fmt.Errorf("secrets: authz check: %w", err)
	}
	return ok, nil
}

func (b *RedisBackend) AddActor(ctx context.Context, actor string) error {
	ctx, cancel := context.WithTimeout(ctx, backendTimeout)
	defer cancel()
	if err := b.client.SAdd(ctx, actorsKey, actor).Err(); err != nil {
		return fmt.Errorf("secrets: add actor: %w", err)
	}
	return nil
}

func (b *RedisBackend) RemoveActor(ctx context.Context, actor string) error {
	ctx, cancel := context.WithTimeout(ctx, backendTimeout)
	defer cancel()
	if err := b.client.SRem(ctx, actorsKey, actor).Err(); err != nil {
		return fmt.Errorf("secrets: remove actor: %w", err)
	}
	return nil
}

func (b *RedisBackend) ListActors(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, backendTimeout)
	defer cancel()
	actors, err := b.client.SMembers(ctx, actorsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("secrets: list actors: %w", err)
	}
	sort.Strings(actors)
	return actors, nil
}

// ── In-memory implementation ─────────────────────────────────────────────────

// MemoryBackend is a map-backed Backend for tests and single-process
// development.
type MemoryBackend struct {
	mu      sync.RWMutex
	secrets map[string]EncryptedSecret
	meta    map[string]Metadata
	logs    map[string][]AccessEntry
	actors  map[string]struct{}
}

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		secrets: make(map[string]EncryptedSecret),
		meta:    make(map[string]Metadata),
		logs:    make(map[string][]AccessEntry),
		actors:  make(map[string]struct{}),
	}
}

func (b *MemoryBackend) GetSecret(_ context.Context, ws, prov string) (*EncryptedSecret, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.secrets[ws+"/"+prov]
	if !ok {
		return nil, ErrNotFound
	}
	cp := s
	return &cp, nil
}

func (b *MemoryBackend) PutSecret(_ context.Context, ws, prov string, s *EncryptedSecret) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.secrets[ws+"/"+prov] = *s
	return nil
}

func (b *MemoryBackend) DeleteSecret(_ context.Context, ws, prov string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.secrets, ws+"/"+prov)
	return nil
}

func (b *MemoryBackend) GetMetadata(_ context.Context, ws, prov string) (*Metadata, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	m, ok := b.meta[ws+"/"+prov]
	if !ok {
		return nil, ErrNotFound
	}
	cp := m
	return &cp, nil
}

func (b *MemoryBackend) PutMetadata(_ context.Context, m *Metadata) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.meta[m.WorkspaceID+"/"+m.Provider] = *m
	return nil
}

func (b *MemoryBackend) DeleteMetadata(_ context.Context, ws, prov string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.meta, ws+"/"+prov)
	return nil
}

func (b *MemoryBackend) ListMetadata(_ context.Context) ([]Metadata, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Metadata, 0, len(b.meta))
	for _, m := range b.meta {
		out = append(out, m)
	}
	return out, nil
}

func (b *MemoryBackend) AppendAccess(_ context.Context, ws string, e *AccessEntry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logs[ws] = append([]AccessEntry{*e}, b.logs[ws]...)
	if len(b.logs[ws]) > accessLogCap {
		b.logs[ws] = b.logs[ws][:accessLogCap]
	}
	return nil
}

func (b *MemoryBackend) AccessLog(_ context.Context, ws string, n int) ([]AccessEntry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	log := b.logs[ws]
	if n <= 0 || n > len(log) {
		n = len(log)
	}
	return append([]AccessEntry(nil), log[:n]...), nil
}

func (b *MemoryBackend) IsAuthorized(_ context.Context, actor string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.actors[actor]
	return ok, nil
}

func (b *MemoryBackend) AddActor(_ context.Context, actor string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.actors[actor] = struct{}{}
	return nil
}

func (b *MemoryBackend) RemoveActor(_ context.Context, actor string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.actors, actor)
	return nil
}

func (b *MemoryBackend) ListActors(_ context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.actors))
	for a := range b.actors {
		out = append(out, a)
	}
	sort.Strings(out)
	return out, nil
}
