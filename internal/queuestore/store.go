// Package queuestore is the durable, indexed table of QueuedRequest the
// Queue Manager drains. Two implementations satisfy the same interface: a
// Postgres-backed store for production and an in-memory store for tests
// and the demo's lightweight mode.
package queuestore

import (
	"context"
	"time"

	"github.com/vitalconnect/resilor/internal/models"
)

// Store is the persistence contract. Every method is atomic
// per call; the Queue Manager is the only writer, and the escalation
// timers read it (GetByID) at fire time.
type Store interface {
	Insert(ctx context.Context, item *models.QueuedRequest) error
	GetByID(ctx context.Context, id string) (*models.QueuedRequest, error)
	UpdateStatus(ctx context.Context, id string, status models.QueuedStatus) error
	IncrementRetry(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
	ListPending(ctx context.Context, limit int) ([]*models.QueuedRequest, error)
	CountPending(ctx context.Context) (int, error)
	ClearAll(ctx context.Context) (int, error)
}

func isPending(status models.QueuedStatus) bool {
	return status == models.StatusPending || status == models.StatusProcessing
}

func clone(item *models.QueuedRequest) *models.QueuedRequest {
	cp := *item
	if item.Headers != nil {
		cp.Headers = make(map[string]string, len(item.Headers))
		for k, v := range item.Headers {
			cp.Headers[k] = v
		}
	}
	if item.Body != nil {
		cp.Body = make(map[string]any, len(item.Body))
		for k, v := range item.Body {
			cp.Body[k] = v
		}
	}
	if item.ExpiresAt != nil {
		t := *item.ExpiresAt
		cp.ExpiresAt = &t
	}
	return &cp
}
