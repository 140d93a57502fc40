package escalation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vitalconnect/resilor/internal/models"
	"github.com/vitalconnect/resilor/internal/queuestore"
	"github.com/vitalconnect/resilor/internal/transport"
)

type constantScore float64

func (c constantScore) Score() float64 { return float64(c) }

func seedItem(t *testing.T, store queuestore.Store, id string, eligible bool) {
	t.Helper()
	err := store.Insert(context.Background(), &models.QueuedRequest{
		ID:          id,
		Method:      models.MethodPost,
		URL:         "https://example.test/pay",
		Priority:    models.PriorityHigh,
		MaxRetries:  models.DefaultMaxRetries(models.PriorityHigh),
		CreatedAt:   time.Now(),
		Status:      models.StatusPending,
		SMSEligible: eligible,
		Body:        map[string]any{"command": "TRANSFER", "amount": 250.0},
	})
	require.NoError(t, err)
}

func alwaysEnabled() bool { return true }

func TestManager_FireSendsWhenScoreStillLow(t *testing.T) {
	store := queuestore.NewMemoryStore()
	seedItem(t, store, "req-1", true)

	sms := transport.NewMemorySMSAdapter()
	mgr := New(store, constantScore(0.1), sms, "gw-1", alwaysEnabled)

	mgr.Arm("req-1", 10*time.Millisecond)
	require.Eventually(t, func() bool { return len(sms.Sent()) == 1 }, time.Second, 5*time.Millisecond)

	sent := sms.Sent()[0]
	require.Equal(t, "gw-1", sent.Gateway)
	require.Contains(t, sent.Text, "T#") // TRANSFER compresses to "T"
}

func TestManager_FireSkipsWhenScoreRecovered(t *testing.T) {
	store := queuestore.NewMemoryStore()
	seedItem(t, store, "req-2", true)

	sms := transport.NewMemorySMSAdapter()
	mgr := New(store, constantScore(0.9), sms, "gw-1", alwaysEnabled)

	mgr.Arm("req-2", 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	require.Empty(t, sms.Sent())
}

func TestManager_FireSkipsWhenNotEligible(t *testing.T) {
	store := queuestore.NewMemoryStore()
	seedItem(t, store, "req-3", false)

	sms := transport.NewMemorySMSAdapter()
	mgr := New(store, constantScore(0.1), sms, "gw-1", alwaysEnabled)

	mgr.Arm("req-3", 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	require.Empty(t, sms.Sent())
}

func TestManager_FireSkipsWhenSMSDisabled(t *testing.T) {
	store := queuestore.NewMemoryStore()
	seedItem(t, store, "req-4", true)

	sms := transport.NewMemorySMSAdapter()
	mgr := New(store, constantScore(0.1), sms, "gw-1", func() bool { return false })

	mgr.Arm("req-4", 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	require.Empty(t, sms.Sent())
}

func TestManager_CancelStopsLiveTimer(t *testing.T) {
	store := queuestore.NewMemoryStore()
	seedItem(t, store, "req-5", true)

	sms := transport.NewMemorySMSAdapter()
	mgr := New(store, constantScore(0.1), sms, "gw-1", alwaysEnabled)

	mgr.Arm("req-5", 30*time.Millisecond)
	require.Equal(t, 1, mgr.Count())
	mgr.Cancel("req-5")
	require.Equal(t, 0, mgr.Count())

	time.Sleep(60 * time.Millisecond)
	require.Empty(t, sms.Sent())
}

func TestManager_CostApprovalRefusalBlocksSend(t *testing.T) {
	store := queuestore.NewMemoryStore()
	seedItem(t, store, "req-6", true)

	sms := transport.NewMemorySMSAdapter()
	mgr := New(store, constantScore(0.1), sms, "gw-1", alwaysEnabled)
	mgr.SetCostApproval(func(ctx context.Context, item *models.QueuedRequest) bool {
		return false
	})

	mgr.Arm("req-6", 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	require.Empty(t, sms.Sent())
}

func TestManager_CancelAll(t *testing.T) {
	store := queuestore.NewMemoryStore()
	seedItem(t, store, "req-7", true)
	seedItem(t, store, "req-8", true)

	sms := transport.NewMemorySMSAdapter()
	mgr := New(store, constantScore(0.1), sms, "gw-1", alwaysEnabled)

	mgr.Arm("req-7", 30*time.Millisecond)
	mgr.Arm("req-8", 30*time.Millisecond)
	require.Equal(t, 2, mgr.Count())

	mgr.CancelAll()
	require.Equal(t, 0, mgr.Count())
}
