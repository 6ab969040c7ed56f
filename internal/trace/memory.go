package trace

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is the in-process Store used in local mode and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	traces  map[string]*Trace   // ws:id
	byWS    map[string][]string // ws -> ids, insertion order
	costs   map[string]float64  // ws:month
	alerted map[string]bool     // ws:month
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		traces:  make(map[string]*Trace),
		byWS:    make(map[string][]string),
		costs:   make(map[string]float64),
		alerted: make(map[string]bool),
	}
}

func (s *MemoryStore) Put(_ context.Context, t *Trace) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *t
	s.traces[t.WorkspaceID+":"+t.ID] = &cp
	s.byWS[t.WorkspaceID] = append(s.byWS[t.WorkspaceID], t.ID)

	ck := t.WorkspaceID + ":" + monthKey(t.CreatedAt)
	s.costs[ck] += t.CostUSD
	if t.Provider != "" {
		s.costs[ck+":provider:"+t.Provider] += t.CostUSD
	}
	if t.Model != "" {
		s.costs[ck+":model:"+t.Model] += t.CostUSD
	}
	return s.costs[ck], nil
}

func (s *MemoryStore) Get(_ context.Context, workspaceID, id string) (*Trace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.traces[workspaceID+":"+id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) Recent(_ context.Context, workspaceID string, n int) ([]*Trace, error) {
	if n <= 0 {
		n = 50
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byWS[workspaceID]
	out := make([]*Trace, 0, n)
	for i := len(ids) - 1; i >= 0 && len(out) < n; i-- {
		if t, ok := s.traces[workspaceID+":"+ids[i]]; ok {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) AttachEvaluation(_ context.Context, workspaceID, id string, ev *Evaluation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.traces[workspaceID+":"+id]
	if !ok {
		return ErrNotFound
	}
	t.Evaluation = ev
	return nil
}

func (s *MemoryStore) MonthCost(_ context.Context, workspaceID string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.costs[workspaceID+":"+monthKey(time.Now())], nil
}

func (s *MemoryStore) MarkBudgetAlerted(_ context.Context, workspaceID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := workspaceID + ":" + monthKey(time.Now())
	if s.alerted[k] {
		return false, nil
	}
	s.alerted[k] = true
	return true, nil
}
