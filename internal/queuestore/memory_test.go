package queuestore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vitalconnect/resilor/internal/models"
)

func newTestItem(id string, priority models.Priority, createdAt time.Time) *models.QueuedRequest {
	return &models.QueuedRequest{
		ID:         id,
		Method:     models.MethodPost,
		URL:        "https://example.test/t",
		Priority:   priority,
		MaxRetries: models.DefaultMaxRetries(priority),
		CreatedAt:  createdAt,
		Status:     models.StatusPending,
	}
}

func TestMemoryStore_ListPendingOrdering(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	base := time.Now()
	require.NoError(t, s.Insert(ctx, newTestItem("a", models.PriorityLow, base)))
	require.NoError(t, s.Insert(ctx, newTestItem("b", models.PriorityCritical, base.Add(time.Second))))
	require.NoError(t, s.Insert(ctx, newTestItem("c", models.PriorityCritical, base)))
	require.NoError(t, s.Insert(ctx, newTestItem("d", models.PriorityHigh, base)))

	got, err := s.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 4)

	var ids []string
	for _, item := range got {
		ids = append(ids, item.ID)
	}
	require.Equal(t, []string{"c", "b", "d", "a"}, ids)
}

func TestMemoryStore_IdempotencyKeyReplaces(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	first := newTestItem("a", models.PriorityNormal, time.Now())
	first.IdempotencyKey = "tx-1"
	require.NoError(t, s.Insert(ctx, first))

	second := newTestItem("b", models.PriorityNormal, time.Now())
	second.IdempotencyKey = "tx-1"
	require.NoError(t, s.Insert(ctx, second))

	n, err := s.CountPending(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = s.GetByID(ctx, "a")
	require.ErrorIs(t, err, models.ErrRequestNotFound)

	got, err := s.GetByID(ctx, "b")
	require.NoError(t, err)
	require.Equal(t, "tx-1", got.IdempotencyKey)
}

func TestMemoryStore_DeleteExpired(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	past := time.Now().Add(-time.Minute)
	item := newTestItem("expired", models.PriorityNormal, time.Now())
	item.ExpiresAt = &past
	require.NoError(t, s.Insert(ctx, item))
	require.NoError(t, s.Insert(ctx, newTestItem("fresh", models.PriorityNormal, time.Now())))

	n, err := s.DeleteExpired(ctx, time.Now())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = s.GetByID(ctx, "expired")
	require.ErrorIs(t, err, models.ErrRequestNotFound)

	count, err := s.CountPending(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestMemoryStore_IncrementRetryAndStatus(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Insert(ctx, newTestItem("a", models.PriorityNormal, time.Now())))

	require.NoError(t, s.IncrementRetry(ctx, "a"))
	require.NoError(t, s.UpdateStatus(ctx, "a", models.StatusFailed))

	got, err := s.GetByID(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, 1, got.RetryCount)
	require.Equal(t, models.StatusFailed, got.Status)

	// Terminal status is excluded from pending listings and counts.
	pending, err := s.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestMemoryStore_ClearAll(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Insert(ctx, newTestItem("a", models.PriorityNormal, time.Now())))
	require.NoError(t, s.Insert(ctx, newTestItem("b", models.PriorityNormal, time.Now())))

	n, err := s.ClearAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	count, err := s.CountPending(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, count)
}
