// Package queuemanager drains the persistent queue on a schedule and on
// network improvement, retrying HTTP delivery with a bounded budget and
// firing completion/failure callbacks.
package queuemanager

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vitalconnect/resilor/internal/models"
	"github.com/vitalconnect/resilor/internal/queuestore"
	"github.com/vitalconnect/resilor/internal/transport"
)

// DefaultDrainInterval is how often a drain pass runs in the background,
// independent of network-improvement notifications.
const DefaultDrainInterval = 30 * time.Second

// DefaultBatchSize is how many pending entries a single drain pass fetches.
const DefaultBatchSize = 10

// DefaultRetryTimeout is the per-attempt HTTP timeout used during a drain,
// distinct from the Router's live-call timeouts.
const DefaultRetryTimeout = 30 * time.Second

// DefaultMaxQueueSize bounds the number of non-terminal entries the store
// may hold at once.
const DefaultMaxQueueSize = 1000

// Callbacks are invoked after a drain pass's state changes persist.
type Callbacks struct {
	OnCompleted func(id string, statusCode int, body []byte)
	OnFailed    func(id string, errMsg string)
}

func (c Callbacks) completed(id string, status int, body []byte) {
	if c.OnCompleted != nil {
		c.OnCompleted(id, status, body)
	}
}

func (c Callbacks) failed(id string, errMsg string) {
	if c.OnFailed != nil {
		c.OnFailed(id, errMsg)
	}
}

// Manager owns the store, the HTTP adapter used for drain attempts, and
// the background drain loop.
type Manager struct {
	store      queuestore.Store
	http       *transport.HTTPAdapter
	callbacks  Callbacks
	idemHeader string

	mu            sync.RWMutex
	drainInterval time.Duration
	batchSize     int
	retryTimeout  time.Duration
	maxQueueSize  int

	drainMu sync.Mutex // serializes drain passes: one in flight at a time

	running int32
	stopCh  chan struct{}
	doneCh  chan struct{}

	logger *log.Logger
}

// New builds a Manager over store, dispatching HTTP attempts through http.
func New(store queuestore.Store, httpAdapter *transport.HTTPAdapter, callbacks Callbacks) *Manager {
	return &Manager{
		store:         store,
		http:          httpAdapter,
		callbacks:     callbacks,
		idemHeader:    models.DefaultIdempotencyHeader,
		drainInterval: DefaultDrainInterval,
		batchSize:     DefaultBatchSize,
		retryTimeout:  DefaultRetryTimeout,
		maxQueueSize:  DefaultMaxQueueSize,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
		logger:        log.Default(),
	}
}

// SetLogger sets a custom logger.
func (m *Manager) SetLogger(logger *log.Logger) {
	m.logger = logger
}

// Configure updates the tunables live; a zero value leaves the current
// setting unchanged.
func (m *Manager) Configure(maxQueueSize int, idemHeader string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if maxQueueSize > 0 {
		m.maxQueueSize = maxQueueSize
	}
	if idemHeader != "" {
		m.idemHeader = idemHeader
	}
}

func (m *Manager) snapshot() (batchSize int, retryTimeout time.Duration, maxQueueSize int, idemHeader string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.batchSize, m.retryTimeout, m.maxQueueSize, m.idemHeader
}

// Enqueue durably accepts req for background delivery. The id is either
// the caller's idempotency_key (reused so the store's uniqueness
// index dedupes retries) or a truncated sha256 of method+url+now.
func (m *Manager) Enqueue(ctx context.Context, req *models.Request) (*models.QueuedRequest, error) {
	_, _, maxQueueSize, _ := m.snapshot()

	count, err := m.store.CountPending(ctx)
	if err != nil {
		return nil, err
	}
	if count >= maxQueueSize {
		return nil, models.ErrQueueFull
	}

	id := req.IdempotencyKey
	if id == "" {
		id = computeID(req.Method, req.URL, time.Now())
	}

	item := &models.QueuedRequest{
		ID:             id,
		Method:         req.Method,
		URL:            req.URL,
		Headers:        req.Headers,
		Body:           req.Body,
		Priority:       req.Priority,
		SMSEligible:    req.SMSEligible,
		IdempotencyKey: req.IdempotencyKey,
		MaxRetries:     models.DefaultMaxRetries(req.Priority),
		CreatedAt:      time.Now(),
		Status:         models.StatusPending,
	}
	if req.Timeout != nil {
		expiry := item.CreatedAt.Add(time.Duration(*req.Timeout) * time.Millisecond)
		item.ExpiresAt = &expiry
	}

	if err := m.store.Insert(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

func computeID(method models.Method, url string, now time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s%s%d", method, url, now.UnixMilli())))
	return fmt.Sprintf("%x", sum)[:16]
}

// encodeBody marshals a Request's JSON body map to wire bytes. A nil/empty
// body encodes to nil, so GET/DELETE attempts send no body at all.
func encodeBody(body map[string]any) ([]byte, error) {
	if len(body) == 0 {
		return nil, nil
	}
	return json.Marshal(body)
}

// Start begins the periodic drain loop. Idempotent.
func (m *Manager) Start(ctx context.Context, networkStable <-chan bool) error {
	if !atomic.CompareAndSwapInt32(&m.running, 0, 1) {
		return nil
	}
	m.logger.Println("[queuemanager] starting drain loop")
	go m.run(ctx, networkStable)
	return nil
}

// Stop halts the drain loop, waiting for any in-flight pass to finish.
func (m *Manager) Stop() {
	if atomic.CompareAndSwapInt32(&m.running, 1, 0) {
		close(m.stopCh)
		<-m.doneCh
		m.logger.Println("[queuemanager] drain loop stopped")
	}
}

func (m *Manager) run(ctx context.Context, networkStable <-chan bool) {
	defer close(m.doneCh)

	m.mu.RLock()
	interval := m.drainInterval
	m.mu.RUnlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.ProcessQueue(ctx)
		case stable, ok := <-networkStable:
			if !ok {
				networkStable = nil
				continue
			}
			if stable {
				m.ProcessQueue(ctx)
			}
		}
	}
}

// ProcessQueue runs one drain pass synchronously. Passes never overlap: a
// pass already in flight is awaited rather than run concurrently.
func (m *Manager) ProcessQueue(ctx context.Context) {
	m.drainMu.Lock()
	defer m.drainMu.Unlock()

	batchSize, retryTimeout, _, idemHeader := m.snapshot()
	now := time.Now()

	items, err := m.store.ListPending(ctx, batchSize)
	if err != nil {
		m.logger.Printf("[queuemanager] list_pending failed: %v", err)
		return
	}

	for _, item := range items {
		m.processOne(ctx, item, now, retryTimeout, idemHeader)
	}

	// Sweep expired entries beyond this pass's batch. In-batch expirations
	// were already handled above, with their failure callback.
	if _, err := m.store.DeleteExpired(ctx, now); err != nil {
		m.logger.Printf("[queuemanager] delete_expired failed: %v", err)
	}
}

func (m *Manager) processOne(ctx context.Context, item *models.QueuedRequest, now time.Time, retryTimeout time.Duration, idemHeader string) {
	if err := m.store.UpdateStatus(ctx, item.ID, models.StatusProcessing); err != nil {
		m.logger.Printf("[queuemanager] mark processing failed for %s: %v", item.ID, err)
		return
	}

	if item.IsExpired(now) {
		m.store.UpdateStatus(ctx, item.ID, models.StatusExpired)
		m.store.Delete(ctx, item.ID)
		m.callbacks.failed(item.ID, models.ErrRequestExpired.Error())
		return
	}

	if item.RetryBudgetExhausted() {
		m.store.UpdateStatus(ctx, item.ID, models.StatusFailed)
		m.callbacks.failed(item.ID, models.ErrMaxRetriesReached.Error())
		return
	}

	req := item.ToRequest()
	headers := req.CloneHeaders(idemHeader)

	body, err := encodeBody(req.Body)
	if err != nil {
		m.logger.Printf("[queuemanager] encode body failed for %s: %v", item.ID, err)
	}

	result, err := m.http.Send(ctx, req.Method, req.URL, headers, body, retryTimeout)
	if err != nil {
		m.store.IncrementRetry(ctx, item.ID)
		m.store.UpdateStatus(ctx, item.ID, models.StatusPending)
		m.callbacks.failed(item.ID, err.Error())
		return
	}

	if result.StatusCode >= 200 && result.StatusCode < 300 {
		m.store.UpdateStatus(ctx, item.ID, models.StatusCompleted)
		m.store.Delete(ctx, item.ID)
		m.callbacks.completed(item.ID, result.StatusCode, result.Body)
		return
	}

	m.store.IncrementRetry(ctx, item.ID)
	m.store.UpdateStatus(ctx, item.ID, models.StatusPending)
	m.callbacks.failed(item.ID, fmt.Sprintf("non-2xx status %d", result.StatusCode))
}

// GetQueueCount returns the number of non-terminal entries.
func (m *Manager) GetQueueCount(ctx context.Context) (int, error) {
	return m.store.CountPending(ctx)
}

// ListPending returns up to limit pending entries in priority/time order.
func (m *Manager) ListPending(ctx context.Context, limit int) ([]*models.QueuedRequest, error) {
	return m.store.ListPending(ctx, limit)
}

// ClearQueue discards every entry in the store and returns the count
// removed.
func (m *Manager) ClearQueue(ctx context.Context) (int, error) {
	return m.store.ClearAll(ctx)
}

// CancelItem removes a single item by id without attempting it. The
// router does not call it: a live HTTP success cancels only the
// escalation timer.
func (m *Manager) CancelItem(ctx context.Context, id string) error {
	return m.store.Delete(ctx, id)
}

// MarkDelivered records a delivery that happened outside the drain loop
// (the immediate SMS path) as COMPLETED before removing it, so a later
// drain pass never re-attempts an item the caller already received a
// synchronous response for.
func (m *Manager) MarkDelivered(ctx context.Context, id string) error {
	m.store.UpdateStatus(ctx, id, models.StatusCompleted)
	return m.store.Delete(ctx, id)
}
