// Package escalation arms one-shot timers that fall back to SMS when an
// enqueued request's HTTP path has been given up on.
package escalation

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/vitalconnect/resilor/internal/models"
	"github.com/vitalconnect/resilor/internal/queuestore"
	"github.com/vitalconnect/resilor/internal/smscodec"
	"github.com/vitalconnect/resilor/internal/transport"
)

// ScoreSource reports the current network score at timer-fire time, so
// the re-sample check reads the live estimator rather than a captured
// value.
type ScoreSource interface {
	Score() float64
}

// CostApproval is asked for sign-off before a timer-triggered SMS send,
// mirroring the Router's own cost-warning collaborator.
type CostApproval func(ctx context.Context, item *models.QueuedRequest) bool

// Manager holds one live timer per queued-request id that elected SMS
// fallback. Each entry fires at most once and is then discarded.
type Manager struct {
	store    queuestore.Store
	score    ScoreSource
	sms      transport.SMSAdapter
	approval CostApproval

	mu      sync.Mutex
	timers  map[string]*time.Timer
	gateway string

	smsEnabled func() bool
	logger     *log.Logger
}

// New builds a Manager. smsEnabled is polled at fire time so a mid-flight
// configure() call that disables SMS is honored.
func New(store queuestore.Store, score ScoreSource, sms transport.SMSAdapter, gateway string, smsEnabled func() bool) *Manager {
	return &Manager{
		store:      store,
		score:      score,
		sms:        sms,
		gateway:    gateway,
		smsEnabled: smsEnabled,
		timers:     make(map[string]*time.Timer),
		logger:     log.Default(),
	}
}

// SetLogger sets a custom logger.
func (m *Manager) SetLogger(logger *log.Logger) {
	m.logger = logger
}

// SetGateway updates the gateway address escalated SMS sends target,
// honoring a later configure() call that changes it after construction.
func (m *Manager) SetGateway(gateway string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gateway = gateway
}

func (m *Manager) currentGateway() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gateway
}

// SetCostApproval installs the cost-warning callback. A nil approval
// (the default) always approves, matching "only ask if a callback is
// configured."
func (m *Manager) SetCostApproval(approval CostApproval) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.approval = approval
}

// Arm schedules a one-shot escalation for id, firing after delay. Arming
// an id that already has a live timer replaces it. The fire check runs
// under its own context: the caller's request context is long gone by the
// time a multi-minute timer goes off.
func (m *Manager) Arm(id string, delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.timers[id]; ok {
		existing.Stop()
	}
	m.timers[id] = time.AfterFunc(delay, func() {
		m.fire(context.Background(), id)
	})
}

// Cancel stops id's live timer, if any. Safe to call for an id with no
// armed timer.
func (m *Manager) Cancel(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t, ok := m.timers[id]; ok {
		t.Stop()
		delete(m.timers, id)
	}
}

// CancelAll stops every live timer, used by dispose().
func (m *Manager) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, t := range m.timers {
		t.Stop()
		delete(m.timers, id)
	}
}

// Count reports the number of live timers, for diagnostics and tests.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

func (m *Manager) fire(ctx context.Context, id string) {
	m.mu.Lock()
	delete(m.timers, id)
	approval := m.approval
	m.mu.Unlock()

	if m.score.Score() >= 0.3 {
		return
	}
	if m.smsEnabled != nil && !m.smsEnabled() {
		return
	}

	item, err := m.store.GetByID(ctx, id)
	if err != nil {
		return
	}
	if !item.SMSEligible {
		return
	}
	if !isPendingStatus(item.Status) {
		return
	}

	if approval != nil && !approval(ctx, item) {
		m.logger.Printf("[escalation] cost warning refused for %s", id)
		return
	}

	text, err := smscodec.Encode(payloadFor(item))
	if err != nil {
		m.logger.Printf("[escalation] encode failed for %s: %v", id, err)
		return
	}

	if err := m.sms.Send(ctx, m.currentGateway(), text); err != nil {
		m.logger.Printf("[escalation] SMS send failed for %s: %v", id, err)
		return
	}

	m.logger.Printf("[escalation] escalated %s to SMS", id)
}

// payloadFor builds the codec's compressed-wire tuple from a queued
// request. The business identifier prefers an explicit body["id"], then
// the caller's idempotency key, falling back to the queue's own id only
// when neither is present; Amount/User/Auth are read from the body when
// present, mirroring the fields a payment/transfer command would carry.
func payloadFor(item *models.QueuedRequest) smscodec.Payload {
	p := smscodec.Payload{ID: item.ID}
	if item.IdempotencyKey != "" {
		p.ID = item.IdempotencyKey
	}
	if v, ok := item.Body["id"].(string); ok && v != "" {
		p.ID = v
	}
	if v, ok := item.Body["command"].(string); ok {
		p.Command = v
	}
	if v, ok := item.Body["amount"].(float64); ok {
		p.Amount = v
	}
	if v, ok := item.Body["user"].(string); ok {
		p.User = v
	}
	if v, ok := item.Body["auth"].(string); ok {
		p.Auth = v
	}
	return p
}

func isPendingStatus(status models.QueuedStatus) bool {
	return status == models.StatusPending || status == models.StatusProcessing
}
