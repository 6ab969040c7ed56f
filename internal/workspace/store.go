package workspace

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is the durable mapping store consumed by the Resolver.
//
// Implementations must be safe for concurrent use. All operations take a
// context so timeouts propagate; callers decide how storage failures map to
// resolution outcomes (the Resolver fails closed).
type Store interface {
	// GetMapping returns the mapping for a key hash, or ErrNotFound.
	GetMapping(ctx context.Context, keyHash string) (*Mapping, error)

	// PutMapping writes (or replaces) the mapping and indexes it under its
	// workspace.
	PutMapping(ctx context.Context, m *Mapping) error

	// ListKeyHashes returns all key hashes registered for a workspace.
	ListKeyHashes(ctx context.Context, workspaceID string) ([]string, error)

	// SetActive flips the is_active flag. Unknown hashes are a no-op so
	// deactivation stays idempotent.
	SetActive(ctx context.Context, keyHash string, active bool) error

	// SetExpiry replaces the expiry timestamp.
	SetExpiry(ctx context.Context, keyHash string, expiresAt time.Time) error

	// TouchLastUsed records the most recent successful resolution. Failures
	// here must never fail a resolution; the Resolver calls it off-path.
	TouchLastUsed(ctx context.Context, keyHash string, at time.Time) error
}

// ── Redis implementation ─────────────────────────────────────────────────────

const storeTimeout = 500 * time.Millisecond

func mappingKey(hash string) string     { return "keymap:" + hash }
func workspaceKeysKey(ws string) string { return "ws:" + ws + ":keys" }

// RedisStore is the production mapping store.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing Redis client. The caller owns the client
// lifecycle.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) GetMapping(ctx context.Context, keyHash string) (*Mapping, error) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	raw, err := s.client.Get(ctx, mappingKey(keyHash)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("workspace: get mapping: %w", err)
	}

	var m Mapping
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("workspace: decode mapping: %w", err)
	}
	return &m, nil
}

func (s *RedisStore) PutMapping(ctx context.Context, m *Mapping) error {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("workspace: encode mapping: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, mappingKey(m.KeyHash), raw, 0)
	pipe.SAdd(ctx, workspaceKeysKey(m.WorkspaceID), m.KeyHash)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("workspace: put mapping: %w", err)
	}
	return nil
}

func (s *RedisStore) ListKeyHashes(ctx context.Context, workspaceID string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	hashes, err := s.client.SMembers(ctx, workspaceKeysKey(workspaceID)).Result()
	if err != nil {
		return nil, fmt.Errorf("workspace: list keys: %w", err)
	}
	return hashes, nil
}

func (s *RedisStore) SetActive(ctx context.Context, keyHash string, active bool) error {
	return s.update(ctx, keyHash, func(m *Mapping) { m.IsActive = active })
}

func (s *RedisStore) SetExpiry(ctx context.Context, keyHash string, expiresAt time.Time) error {
	return s.update(ctx, keyHash, func(m *Mapping) { m.ExpiresAt = expiresAt })
}

func (s *RedisStore) TouchLastUsed(ctx context.Context, keyHash string, at time.Time) error {
	return s.update(ctx, keyHash, func(m *Mapping) { m.LastUsedAt = at })
}

// update applies fn to the stored mapping. Unknown hashes are a no-op, which
// keeps SetActive idempotent for already-removed keys.
func (s *RedisStore) update(ctx context.Context, keyHash string, fn func(*Mapping)) error {
	m, err := s.GetMapping(ctx, keyHash)
	if err != nil {
		if err == ErrNotFound {
			return nil
		}
		return err
	}
	fn(m)
	return s.PutMapping(ctx, m)
}

// ── In-memory implementation ─────────────────────────────────────────────────

// MemoryStore is a map-backed Store for tests and single-process development.
type MemoryStore struct {
	mu       sync.RWMutex
	mappings map[string]Mapping
	byWS     map[string][]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		mappings: make(map[string]Mapping),
		byWS:     make(map[string][]string),
	}
}

func (s *MemoryStore) GetMapping(_ context.Context, keyHash string) (*Mapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.mappings[keyHash]
	if !ok {
		return nil, ErrNotFound
	}
	cp := m
	return &cp, nil
}

func (s *MemoryStore) PutMapping(_ context.Context, m *Mapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.mappings[m.KeyHash]; !exists {
		s.byWS[m.WorkspaceID] = append(s.byWS[m.WorkspaceID], m.KeyHash)
	}
	s.mappings[m.KeyHash] = *m
	return nil
}

func (s *MemoryStore) ListKeyHashes(_ context.Context, workspaceID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.byWS[workspaceID]...), nil
}

func (s *MemoryStore) SetActive(_ context.Context, keyHash string, active bool) error {
	return s.update(keyHash, func(m *Mapping) { m.IsActive = active })
}

func (s *MemoryStore) SetExpiry(_ context.Context, keyHash string, expiresAt time.Time) error {
	return s.update(keyHash, func(m *Mapping) { m.ExpiresAt = expiresAt })
}

func (s *MemoryStore) TouchLastUsed(_ context.Context, keyHash string, at time.Time) error {
	return s.update(keyHash, func(m *Mapping) { m.LastUsedAt = at })
}

func (s *MemoryStore) update(keyHash string, fn func(*Mapping)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.mappings[keyHash]
	if !ok {
		return nil
	}
	fn(&m)
	s.mappings[keyHash] = m
	return nil
}
