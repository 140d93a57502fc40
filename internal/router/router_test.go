package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vitalconnect/resilor/internal/escalation"
	"github.com/vitalconnect/resilor/internal/models"
	"github.com/vitalconnect/resilor/internal/queuemanager"
	"github.com/vitalconnect/resilor/internal/queuestore"
	"github.com/vitalconnect/resilor/internal/smscodec"
	"github.com/vitalconnect/resilor/internal/transport"
)

// settableScore is a ScoreSource test double the decision-algorithm
// tests drive directly, standing in for the Network Quality Estimator.
type settableScore struct {
	mu       sync.Mutex
	score    float64
	failures int
}

func (s *settableScore) Score() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.score
}

func (s *settableScore) ObserveFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures++
}

func (s *settableScore) set(score float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.score = score
}

func (s *settableScore) failureCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures
}

func boolPtr(b bool) *bool { return &b }

func newHarness(t *testing.T, handler http.HandlerFunc) (*Router, *settableScore, *queuestore.MemoryStore, *transport.MemorySMSAdapter, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	store := queuestore.NewMemoryStore()
	httpAdapter := transport.NewHTTPAdapter(transport.DefaultBreakerConfig())
	sms := transport.NewMemorySMSAdapter()
	queue := queuemanager.New(store, httpAdapter, queuemanager.Callbacks{})
	score := &settableScore{}
	escMgr := escalation.New(store, score, sms, "gw-1", func() bool { return true })

	r := New(score, queue, escMgr, httpAdapter, sms, Config{
		Strategy:   Balanced(),
		SMSGateway: "gw-1",
		SMSEnabled: boolPtr(true),
	})
	return r, score, store, sms, srv
}

func TestRouter_StableWiFiSuccess(t *testing.T) {
	r, score, store, _, srv := newHarness(t, func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	score.set(1.0)

	resp, err := r.Execute(context.Background(), &models.Request{
		Method: models.MethodPost, URL: srv.URL, Priority: models.PriorityNormal,
		Body: map[string]any{"amount": 5000.0},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, models.OriginNetwork, resp.Origin)

	count, err := store.CountPending(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, count)
}

func TestRouter_OfflineEnqueueThenRecover(t *testing.T) {
	var completedCount int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := queuestore.NewMemoryStore()
	httpAdapter := transport.NewHTTPAdapter(transport.DefaultBreakerConfig())
	sms := transport.NewMemorySMSAdapter()
	score := &settableScore{}
	queue := queuemanager.New(store, httpAdapter, queuemanager.Callbacks{
		OnCompleted: func(id string, status int, body []byte) { completedCount++ },
	})
	escMgr := escalation.New(store, score, sms, "gw-1", func() bool { return true })
	r := New(score, queue, escMgr, httpAdapter, sms, Config{Strategy: Balanced(), SMSEnabled: boolPtr(true), SMSGateway: "gw-1"})

	resp, err := r.Execute(context.Background(), &models.Request{
		Method: models.MethodPost, URL: srv.URL, Priority: models.PriorityNormal, SMSEligible: false,
	})
	require.NoError(t, err)
	require.Equal(t, 202, resp.StatusCode)
	require.Equal(t, models.OriginCacheQueued, resp.Origin)

	score.set(0.9)
	queue.ProcessQueue(context.Background())

	require.Equal(t, 1, completedCount)
	count, err := store.CountPending(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, count)
}

func TestRouter_CriticalOfflineImmediateSMS(t *testing.T) {
	r, score, _, sms, srv := newHarness(t, func(w http.ResponseWriter, req *http.Request) {
		t.Fatal("HTTP must not be attempted at score 0")
	})
	score.set(0)

	resp, err := r.Execute(context.Background(), &models.Request{
		Method: models.MethodPost, URL: srv.URL, Priority: models.PriorityCritical, SMSEligible: true,
		Body: map[string]any{"command": "TRANSFER", "amount": 5000.0, "user": "u1", "auth": "a1"},
	})
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
	require.Equal(t, models.OriginSMS, resp.Origin)

	sent := sms.Sent()
	require.Len(t, sent, 1)
	require.LessOrEqual(t, len(sent[0].Text), smscodec.MaxLength)
	require.Contains(t, sent[0].Text, "T#")
	require.Contains(t, sent[0].Text, "#5K#u1#a1")
}

func TestRouter_HighPriorityOfflineEscalates(t *testing.T) {
	r, score, store, sms, srv := newHarness(t, func(w http.ResponseWriter, req *http.Request) {
		t.Fatal("HTTP must not be attempted at score 0")
	})
	score.set(0)
	r.Configure(Config{Strategy: Custom(CustomConfig{
		Tiers:                []Tier{{Threshold: 0.7, Timeout: 30 * time.Second}},
		EscalationDelay:      20 * time.Millisecond,
		EscalationPriorities: []models.Priority{models.PriorityHigh},
	})})

	resp, err := r.Execute(context.Background(), &models.Request{
		Method: models.MethodPost, URL: srv.URL, Priority: models.PriorityHigh, SMSEligible: true,
		Body: map[string]any{"command": "TRANSFER", "amount": 5000.0},
	})
	require.NoError(t, err)
	require.Equal(t, 202, resp.StatusCode)

	count, err := store.CountPending(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, count)

	require.Eventually(t, func() bool { return len(sms.Sent()) == 1 }, time.Second, 5*time.Millisecond)

	sentAfterFirst := len(sms.Sent())
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, sentAfterFirst, len(sms.Sent()), "escalation timer must fire at most once")
}

func TestRouter_SMSCostRefusalBlocksEscalation(t *testing.T) {
	r, score, store, sms, srv := newHarness(t, func(w http.ResponseWriter, req *http.Request) {
		t.Fatal("HTTP must not be attempted at score 0")
	})
	score.set(0)
	r.Configure(Config{Strategy: Custom(CustomConfig{
		Tiers:                []Tier{{Threshold: 0.7, Timeout: 30 * time.Second}},
		EscalationDelay:      20 * time.Millisecond,
		EscalationPriorities: []models.Priority{models.PriorityHigh},
	}), CostWarningCallback: func(estimate float64) bool { return false }})

	resp, err := r.Execute(context.Background(), &models.Request{
		Method: models.MethodPost, URL: srv.URL, Priority: models.PriorityHigh, SMSEligible: true,
	})
	require.NoError(t, err)
	require.Equal(t, 202, resp.StatusCode)

	time.Sleep(50 * time.Millisecond)
	require.Empty(t, sms.Sent())

	count, err := store.CountPending(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestRouter_HTTPFailureFallsBackToQueue(t *testing.T) {
	r, score, store, _, srv := newHarness(t, func(w http.ResponseWriter, req *http.Request) {
		panic("connection refused simulated by closing server before call")
	})
	srv.Close() // calls now fail with a transport error
	score.set(1.0)

	resp, err := r.Execute(context.Background(), &models.Request{
		Method: models.MethodGet, URL: srv.URL, Priority: models.PriorityNormal,
	})
	require.NoError(t, err)
	require.Equal(t, 202, resp.StatusCode)
	require.Equal(t, 1, score.failureCount())

	count, err := store.CountPending(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestRouter_ScoreThresholdBoundariesAreStrict(t *testing.T) {
	// Conservative's single tier requires score > 0.5; exactly 0.5 must
	// not cross the strict threshold and instead falls through to a
	// plain enqueue (NORMAL priority, not SMS-eligible, no escalation).
	r, score, store, _, srv := newHarness(t, func(w http.ResponseWriter, req *http.Request) {
		t.Fatal("score == 0.5 must not cross the strict > 0.5 threshold")
	})
	r.Configure(Config{Strategy: Conservative()})
	score.set(0.5)

	resp, err := r.Execute(context.Background(), &models.Request{
		Method: models.MethodGet, URL: srv.URL, Priority: models.PriorityNormal,
	})
	require.NoError(t, err)
	require.Equal(t, 202, resp.StatusCode)

	count, err := store.CountPending(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestRouter_QueueFullSurfacesError(t *testing.T) {
	r, score, _, _, srv := newHarness(t, func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	score.set(0)

	r.queue.Configure(1, "")
	_, err := r.Execute(context.Background(), &models.Request{
		Method: models.MethodGet, URL: srv.URL, Priority: models.PriorityLow,
	})
	require.NoError(t, err)

	_, err = r.Execute(context.Background(), &models.Request{
		Method: models.MethodGet, URL: srv.URL, Priority: models.PriorityLow,
	})
	require.ErrorIs(t, err, models.ErrQueueFull)
}

func TestRouter_SuccessfulHTTPCancelsEscalationTimer(t *testing.T) {
	r, score, _, sms, srv := newHarness(t, func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	score.set(0)
	_, err := r.Execute(context.Background(), &models.Request{
		Method: models.MethodPost, URL: srv.URL, Priority: models.PriorityHigh, SMSEligible: true,
		IdempotencyKey: "tx-99",
	})
	require.NoError(t, err)
	require.Equal(t, 1, r.escalation.Count())

	score.set(1.0)
	resp, err := r.Execute(context.Background(), &models.Request{
		Method: models.MethodPost, URL: srv.URL, Priority: models.PriorityHigh, SMSEligible: true,
		IdempotencyKey: "tx-99",
	})
	require.NoError(t, err)
	require.Equal(t, models.OriginNetwork, resp.Origin)
	require.Equal(t, 0, r.escalation.Count())

	time.Sleep(20 * time.Millisecond)
	require.Empty(t, sms.Sent())
}

func TestRouter_EscalateOnFailureArmsTimer(t *testing.T) {
	r, score, store, sms, srv := newHarness(t, func(w http.ResponseWriter, req *http.Request) {})
	srv.Close() // every live attempt now fails with a transport error

	require.True(t, Aggressive().EscalateOnFailure())
	require.False(t, Balanced().EscalateOnFailure())

	r.Configure(Config{Strategy: Custom(CustomConfig{
		Tiers:                []Tier{{Threshold: 0.3, Timeout: time.Second}},
		EscalationDelay:      20 * time.Millisecond,
		EscalationPriorities: []models.Priority{models.PriorityHigh, models.PriorityCritical},
		EscalateOnFailure:    true,
	})})
	score.set(0.9)

	resp, err := r.Execute(context.Background(), &models.Request{
		Method: models.MethodPost, URL: srv.URL, Priority: models.PriorityHigh, SMSEligible: true,
		Body: map[string]any{"command": "PAYMENT", "amount": 1500.0},
	})
	require.NoError(t, err)
	require.Equal(t, 202, resp.StatusCode)

	count, err := store.CountPending(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, count)

	// The escalation fires once the score is re-sampled below 0.3.
	score.set(0)
	require.Eventually(t, func() bool { return len(sms.Sent()) == 1 }, time.Second, 5*time.Millisecond)
}
