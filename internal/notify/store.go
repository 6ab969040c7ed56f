package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ConfigStore persists each workspace's webhook destinations.
type ConfigStore interface {
	GetWebhooks(ctx context.Context, workspaceID string) ([]Webhook, error)
	PutWebhooks(ctx context.Context, workspaceID string, hooks []Webhook) error
}

// RedisConfigStore keeps webhook config under webhooks:{ws}.
type RedisConfigStore struct {
	rdb *redis.Client
}

// NewRedisConfigStore creates a RedisConfigStore.
func NewRedisConfigStore(rdb *redis.Client) *RedisConfigStore {
	return &RedisConfigStore{rdb: rdb}
}

func webhooksKey(ws string) string { return "webhooks:" + ws }

func (s *RedisConfigStore) GetWebhooks(ctx context.Context, workspaceID string) ([]Webhook, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	data, err := s.rdb.Get(ctx, webhooksKey(workspaceID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("notify: get webhooks: %w", err)
	}

	var hooks []Webhook
	if err := json.Unmarshal(data, &hooks); err != nil {
		return nil, fmt.Errorf("notify: decode webhooks: %w", err)
	}
	return hooks, nil
}

func (s *RedisConfigStore) PutWebhooks(ctx context.Context, workspaceID string, hooks []Webhook) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	data, err := json.Marshal(hooks)
	if err != nil {
		return fmt.Errorf("notify: encode webhooks: %w", err)
	}
	if err := s.rdb.Set(ctx, webhooksKey(workspaceID), data, 0).Err(); err != nil {
		return fmt.Errorf("notify: put webhooks: %w", err)
	}
	return nil
}

// MemoryConfigStore is the in-process ConfigStore for local mode and tests.
type MemoryConfigStore struct {
	mu    sync.RWMutex
	hooks map[string][]Webhook
}

// NewMemoryConfigStore creates an empty MemoryConfigStore.
func NewMemoryConfigStore() *MemoryConfigStore {
	return &MemoryConfigStore{hooks: make(map[string][]Webhook)}
}

func (s *MemoryConfigStore) GetWebhooks(_ context.Context, workspaceID string) ([]Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Webhook(nil), s.hooks[workspaceID]...), nil
}

func (s *MemoryConfigStore) PutWebhooks(_ context.Context, workspaceID string, hooks []Webhook) error {
	s.mu.Lock()
	s.hooks[workspaceID] = append([]Webhook(nil), hooks...)
	s.mu.Unlock()
	return nil
}
