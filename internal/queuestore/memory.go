package queuestore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vitalconnect/resilor/internal/models"
)

// MemoryStore is a sync.Mutex-guarded map implementation of Store, used by
// tests and by the demo when no database URL is configured. It enforces the same
// ordering and idempotency-key uniqueness invariants a SQL store would
// enforce via index and ON CONFLICT.
type MemoryStore struct {
	mu      sync.Mutex
	items   map[string]*models.QueuedRequest
	byIdemp map[string]string // idempotency_key -> id
}

// NewMemoryStore builds an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:   make(map[string]*models.QueuedRequest),
		byIdemp: make(map[string]string),
	}
}

// Insert stores item. A non-empty idempotency_key that already maps to an
// existing entry, whatever its status, replaces that entry.
func (s *MemoryStore) Insert(ctx context.Context, item *models.QueuedRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.IdempotencyKey != "" {
		if prevID, ok := s.byIdemp[item.IdempotencyKey]; ok && prevID != item.ID {
			delete(s.items, prevID)
		}
		s.byIdemp[item.IdempotencyKey] = item.ID
	}
	s.items[item.ID] = clone(item)
	return nil
}

func (s *MemoryStore) GetByID(ctx context.Context, id string) (*models.QueuedRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return nil, models.ErrRequestNotFound
	}
	return clone(item), nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, id string, status models.QueuedStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return models.ErrRequestNotFound
	}
	item.Status = status
	return nil
}

func (s *MemoryStore) IncrementRetry(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return models.ErrRequestNotFound
	}
	item.RetryCount++
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if ok && item.IdempotencyKey != "" {
		delete(s.byIdemp, item.IdempotencyKey)
	}
	delete(s.items, id)
	return nil
}

func (s *MemoryStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, item := range s.items {
		if item.IsExpired(now) {
			if item.IdempotencyKey != "" {
				delete(s.byIdemp, item.IdempotencyKey)
			}
			delete(s.items, id)
			n++
		}
	}
	return n, nil
}

// ListPending returns up to limit pending/processing entries ordered by
// (priority DESC, created_at ASC).
func (s *MemoryStore) ListPending(ctx context.Context, limit int) ([]*models.QueuedRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := make([]*models.QueuedRequest, 0, len(s.items))
	for _, item := range s.items {
		if isPending(item.Status) {
			pending = append(pending, item)
		}
	}

	sort.Slice(pending, func(i, j int) bool {
		if pending[i].Priority != pending[j].Priority {
			return pending[i].Priority > pending[j].Priority
		}
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})

	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}

	out := make([]*models.QueuedRequest, len(pending))
	for i, item := range pending {
		out[i] = clone(item)
	}
	return out, nil
}

func (s *MemoryStore) CountPending(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, item := range s.items {
		if isPending(item.Status) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) ClearAll(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.items)
	s.items = make(map[string]*models.QueuedRequest)
	s.byIdemp = make(map[string]string)
	return n, nil
}
