package trace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	opTimeout = 1 * time.Second

	// Traces are retained for 30 days; the recency index is capped.
	traceTTL  = 30 * 24 * time.Hour
	recentCap = 1000
)

// RedisStore persists traces in Redis.
//
// Layout:
//
//	trace:{ws}:{id}     JSON-encoded Trace, 30 day TTL
//	traces:{ws}:recent  sorted set, score = unix nanos, capped
//	cost:{ws}:{YYYY-MM} float month spend accumulator
//	cost:{ws}:{YYYY-MM}:provider:{provider}  month spend per provider
//	cost:{ws}:{YYYY-MM}:model:{model}        month spend per model
//	costalert:{ws}:{YYYY-MM}  set once when the budget alert fires
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore creates a RedisStore.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func traceKey(ws, id string) string  { return "trace:" + ws + ":" + id }
func recentKey(ws string) string     { return "traces:" + ws + ":recent" }
func costKey(ws, month string) string { return "cost:" + ws + ":" + month }

func costProviderKey(ws, month, provider string) string {
	return costKey(ws, month) + ":provider:" + provider
}

func costModelKey(ws, month, model string) string {
	return costKey(ws, month) + ":model:" + model
}

func alertKey(ws, month string) string { return "costalert:" + ws + ":" + month }

func (s *RedisStore) Put(ctx context.Context, t *Trace) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	data, err := json.Marshal(t)
	if err != nil {
		return 0, fmt.Errorf("trace: marshal: %w", err)
	}

	month := monthKey(t.CreatedAt)

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, traceKey(t.WorkspaceID, t.ID), data, traceTTL)
	pipe.ZAdd(ctx, recentKey(t.WorkspaceID), redis.Z{
		Score:  float64(t.CreatedAt.UnixNano()),
		Member: t.ID,
	})
	pipe.ZRemRangeByRank(ctx, recentKey(t.WorkspaceID), 0, -(recentCap + 1))
	cost := pipe.IncrByFloat(ctx, costKey(t.WorkspaceID, month), t.CostUSD)
	if t.Provider != "" {
		pipe.IncrByFloat(ctx, costProviderKey(t.WorkspaceID, month, t.Provider), t.CostUSD)
	}
	if t.Model != "" {
		pipe.IncrByFloat(ctx, costModelKey(t.WorkspaceID, month, t.Model), t.CostUSD)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("trace: put: %w", err)
	}

	return cost.Val(), nil
}

func (s *RedisStore) Get(ctx context.Context, workspaceID, id string) (*Trace, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	data, err := s.rdb.Get(ctx, traceKey(workspaceID, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("trace: get: %w", err)
	}

	var t Trace
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("trace: unmarshal: %w", err)
	}
	return &t, nil
}

func (s *RedisStore) Recent(ctx context.Context, workspaceID string, n int) ([]*Trace, error) {
	if n <= 0 {
		n = 50
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	ids, err := s.rdb.ZRevRange(ctx, recentKey(workspaceID), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("trace: recent index: %w", err)
	}

	traces := make([]*Trace, 0, len(ids))
	for _, id := range ids {
		data, err := s.rdb.Get(ctx, traceKey(workspaceID, id)).Bytes()
		if errors.Is(err, redis.Nil) {
			// Expired out from under the index.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("trace: recent fetch: %w", err)
		}
		var t Trace
		if err := json.Unmarshal(data, &t); err != nil {
			continue
		}
		traces = append(traces, &t)
	}
	return traces, nil
}

func (s *RedisStore) AttachEvaluation(ctx context.Context, workspaceID, id string, ev *Evaluation) error {
	t, err := s.Get(ctx, workspaceID, id)
	if err != nil {
		return err
	}
	t.Evaluation = ev

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("trace: marshal: %w", err)
	}
	if err := s.rdb.Set(ctx, traceKey(workspaceID, id), data, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("trace: attach evaluation: %w", err)
	}
	return nil
}

func (s *RedisStore) MonthCost(ctx context.Context, workspaceID string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	v, err := s.rdb.Get(ctx, costKey(workspaceID, monthKey(time.Now()))).Float64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("trace: month cost: %w", err)
	}
	return v, nil
}

func (s *RedisStore) MarkBudgetAlerted(ctx context.Context, workspaceID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	// SETNX with an expiry past month end keeps the flag self-cleaning.
	ok, err := s.rdb.SetNX(ctx, alertKey(workspaceID, monthKey(time.Now())), 1, 32*24*time.Hour).Result()
	if err != nil {
		return false, fmt.Errorf("trace: budget alert flag: %w", err)
	}
	return ok, nil
}
