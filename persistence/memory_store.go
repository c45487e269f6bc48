package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/big3labs/waveflow/workflow"
)

type memoryEntry struct {
	data       []byte
	finishedAt time.Time
	expiresAt  time.Time
}

// MemoryResultStore is an in-memory implementation of ResultStore.
// Suitable for development and testing. Data is lost on restart.
type MemoryResultStore struct {
	results map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
	mu      sync.RWMutex
	closed  bool
}

// NewMemoryResultStore creates a new in-memory result store
func NewMemoryResultStore(config StoreConfig) *MemoryResultStore {
	return &MemoryResultStore{
		results: make(map[string]memoryEntry),
		ttl:     config.TTL,
		now:     time.Now,
	}
}

// Save stores a deep copy of result, replacing any earlier result of the plan.
func (s *MemoryResultStore) Save(ctx context.Context, result *workflow.WorkflowResult) error {
	if result == nil || result.PlanID == "" {
		return ErrInvalidInput
	}
	// 序列化一次，避免调用方后续修改影响已保存结果
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	entry := memoryEntry{data: data, finishedAt: result.FinishedAt}
	if s.ttl > 0 {
		entry.expiresAt = s.now().Add(s.ttl)
	}
	s.results[result.PlanID] = entry
	return nil
}

// Get retrieves the result of a plan
func (s *MemoryResultStore) Get(ctx context.Context, planID string) (*workflow.WorkflowResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	entry, ok := s.results[planID]
	if !ok || s.expired(entry) {
		return nil, ErrNotFound
	}
	return decodeResult(entry.data)
}

// List returns results, most recently finished first
func (s *MemoryResultStore) List(ctx context.Context, limit int) ([]*workflow.WorkflowResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	entries := make([]memoryEntry, 0, len(s.results))
	for _, e := range s.results {
		if !s.expired(e) {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].finishedAt.After(entries[j].finishedAt)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	results := make([]*workflow.WorkflowResult, 0, len(entries))
	for _, e := range entries {
		r, err := decodeResult(e.data)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, nil
}

// Delete removes the result of a plan
func (s *MemoryResultStore) Delete(ctx context.Context, planID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if _, ok := s.results[planID]; !ok {
		return ErrNotFound
	}
	delete(s.results, planID)
	return nil
}

// Ping checks if the store is healthy
func (s *MemoryResultStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Close closes the store
func (s *MemoryResultStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *MemoryResultStore) expired(e memoryEntry) bool {
	return !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt)
}

func decodeResult(data []byte) (*workflow.WorkflowResult, error) {
	var r workflow.WorkflowResult
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return &r, nil
}
