// Package resilor is a client-side resilience middleware for mobile apps
// on intermittent connectivity: it routes outbound calls live over HTTP
// when the network looks healthy, durably queues them for a background
// drain when it doesn't, and falls back to SMS for high-priority
// requests the network has given up on entirely.
//
// Middleware is built once with its collaborators via New and started
// with Initialize; there is no package-level singleton state.
package resilor

import (
	"context"
	"log"
	"sync"

	"github.com/vitalconnect/resilor/internal/escalation"
	"github.com/vitalconnect/resilor/internal/models"
	"github.com/vitalconnect/resilor/internal/netquality"
	"github.com/vitalconnect/resilor/internal/queuemanager"
	"github.com/vitalconnect/resilor/internal/queuestore"
	"github.com/vitalconnect/resilor/internal/router"
	"github.com/vitalconnect/resilor/internal/transport"
)

// Re-exported types callers need without reaching into internal/models.
type (
	Request       = models.Request
	Response      = models.Response
	QueuedRequest = models.QueuedRequest
	NetworkStatus = models.NetworkStatus
	Priority      = models.Priority
	Method        = models.Method
)

// Re-exported priority levels.
const (
	PriorityLow      = models.PriorityLow
	PriorityNormal   = models.PriorityNormal
	PriorityHigh     = models.PriorityHigh
	PriorityCritical = models.PriorityCritical
)

// Re-exported strategies.
var (
	Aggressive   = router.Aggressive
	Balanced     = router.Balanced
	Conservative = router.Conservative
	Custom       = router.Custom
)

// Strategy, Tier and CustomConfig are re-exported for callers configuring
// a CUSTOM routing strategy.
type (
	Strategy     = router.Strategy
	Tier         = router.Tier
	CustomConfig = router.CustomConfig
)

// Lifecycle and routing errors, re-exported for callers that need to
// distinguish them with errors.Is.
var (
	ErrNotInitialized = models.ErrNotInitialized
	ErrAlreadyInit    = models.ErrAlreadyInit
	ErrQueueFull      = models.ErrQueueFull
)

// InitParams is the argument to Initialize, matching the caller-facing
// initialize() contract: SMSGateway/SMSEnabled/Strategy/MaxQueueSize plus
// the two optional SMS-cost collaborators and BatchSMS.
type InitParams struct {
	SMSGateway             string
	SMSEnabled             bool
	Strategy               router.Strategy
	MaxQueueSize           int
	SMSCostProvider        router.CostProvider
	SMSCostWarningCallback router.CostWarningCallback
	BatchSMS               bool
	IdempotencyHeader      string
}

// Middleware is the public entry point. Build one with New, start it with
// Initialize, then call Execute (or the thin HTTP helpers) per outbound
// request.
type Middleware struct {
	mu          sync.Mutex
	initialized bool

	estimator  *netquality.Estimator
	queue      *queuemanager.Manager
	escalation *escalation.Manager
	router     *router.Router
	sms        transport.SMSAdapter
	http       *transport.HTTPAdapter

	networkStableCh chan bool

	logger *log.Logger
}

// New wires a Middleware from its collaborators. None of the arguments are
// started yet; call Initialize to begin the background estimator probe
// loop and the queue drain loop.
func New(store queuestore.Store, httpAdapter *transport.HTTPAdapter, smsAdapter transport.SMSAdapter, connectivity netquality.ConnectivitySource, queueCallbacks queuemanager.Callbacks, estimatorOpts ...netquality.Option) *Middleware {
	m := &Middleware{
		http:            httpAdapter,
		sms:             smsAdapter,
		networkStableCh: make(chan bool, 1),
		logger:          log.Default(),
	}
	m.estimator = netquality.New(connectivity, estimatorOpts...)
	// A drained item's escalation timer is cancelled the moment the drain
	// completes it, before the caller's own callback runs. Failed or
	// expired items keep their timer, which no-ops at fire time.
	wrapped := queuemanager.Callbacks{
		OnCompleted: func(id string, status int, body []byte) {
			m.escalation.Cancel(id)
			if queueCallbacks.OnCompleted != nil {
				queueCallbacks.OnCompleted(id, status, body)
			}
		},
		OnFailed: func(id string, errMsg string) {
			if queueCallbacks.OnFailed != nil {
				queueCallbacks.OnFailed(id, errMsg)
			}
		},
	}
	m.queue = queuemanager.New(store, httpAdapter, wrapped)
	m.escalation = escalation.New(store, m.estimator, smsAdapter, "", func() bool {
		cfg := m.router.Snapshot()
		return cfg.SMSEnabled != nil && *cfg.SMSEnabled
	})
	m.router = router.New(m.estimator, m.queue, m.escalation, httpAdapter, smsAdapter, router.Config{})
	return m
}

// SetLogger sets a custom logger used for lifecycle and diagnostic lines.
func (m *Middleware) SetLogger(logger *log.Logger) {
	m.logger = logger
	m.estimator.SetLogger(logger)
	m.queue.SetLogger(logger)
	m.escalation.SetLogger(logger)
}

// Initialize starts the background estimator and drain loops and applies
// the initial routing configuration. Idempotent: a call after the first
// logs and returns nil.
func (m *Middleware) Initialize(ctx context.Context, params InitParams) error {
	m.mu.Lock()
	if m.initialized {
		m.mu.Unlock()
		m.logger.Println("[resilor] already initialized, ignoring")
		return nil
	}
	m.initialized = true
	m.mu.Unlock()

	strategy := params.Strategy
	if strategy == nil {
		strategy = router.Balanced()
	}
	smsEnabled := params.SMSEnabled
	batchSMS := params.BatchSMS
	m.router.Configure(router.Config{
		Strategy:            strategy,
		SMSGateway:          params.SMSGateway,
		SMSEnabled:          &smsEnabled,
		BatchSMS:            &batchSMS,
		IdempotencyHeader:   params.IdempotencyHeader,
		CostProvider:        params.SMSCostProvider,
		CostWarningCallback: params.SMSCostWarningCallback,
	})
	if params.MaxQueueSize > 0 || params.IdempotencyHeader != "" {
		m.queue.Configure(params.MaxQueueSize, params.IdempotencyHeader)
	}

	if err := m.estimator.Start(ctx); err != nil {
		return err
	}
	go m.bridgeNetworkStatus(ctx)

	return m.queue.Start(ctx, m.networkStableCh)
}

// bridgeNetworkStatus forwards estimator transitions onto the bool channel
// the queue manager's drain loop listens on, so a recovered connection
// triggers an immediate drain rather than waiting for the next tick.
func (m *Middleware) bridgeNetworkStatus(ctx context.Context) {
	for status := range m.estimator.Subscribe(ctx) {
		select {
		case m.networkStableCh <- status.IsStable():
		default:
		}
	}
}

// Configure updates the live routing configuration. Fields left at their
// zero value leave the current setting unchanged, mirroring the
// caller-facing configure() contract.
func (m *Middleware) Configure(cfg router.Config) error {
	if err := m.requireInitialized(); err != nil {
		return err
	}
	m.router.Configure(cfg)
	return nil
}

// Execute routes req through the active strategy, returning synchronously
// once a channel has produced a Response (or durably queued the request).
func (m *Middleware) Execute(ctx context.Context, req *models.Request) (*models.Response, error) {
	if err := m.requireInitialized(); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return m.router.Execute(ctx, req)
}

// Get, Post, Put and Delete are thin helpers that build a Request and
// delegate to Execute. template carries caller-set fields (Priority,
// SMSEligible, IdempotencyKey, Timeout, Headers); Method/URL/Body are
// overwritten by the helper.
func (m *Middleware) Get(ctx context.Context, url string, template models.Request) (*models.Response, error) {
	template.Method = models.MethodGet
	template.URL = url
	template.Body = nil
	return m.Execute(ctx, &template)
}

func (m *Middleware) Delete(ctx context.Context, url string, template models.Request) (*models.Response, error) {
	template.Method = models.MethodDelete
	template.URL = url
	template.Body = nil
	return m.Execute(ctx, &template)
}

func (m *Middleware) Post(ctx context.Context, url string, body map[string]any, template models.Request) (*models.Response, error) {
	template.Method = models.MethodPost
	template.URL = url
	template.Body = body
	withDefaultContentType(&template)
	return m.Execute(ctx, &template)
}

func (m *Middleware) Put(ctx context.Context, url string, body map[string]any, template models.Request) (*models.Response, error) {
	template.Method = models.MethodPut
	template.URL = url
	template.Body = body
	withDefaultContentType(&template)
	return m.Execute(ctx, &template)
}

func withDefaultContentType(req *models.Request) {
	if req.Headers == nil {
		req.Headers = make(map[string]string, 1)
	}
	if _, ok := req.Headers["Content-Type"]; !ok {
		req.Headers["Content-Type"] = "application/json"
	}
}

// GetNetworkStatus returns the estimator's current snapshot.
func (m *Middleware) GetNetworkStatus() (models.NetworkStatus, error) {
	if err := m.requireInitialized(); err != nil {
		return models.NetworkStatus{}, err
	}
	return m.estimator.Status(), nil
}

// GetQueueCount returns the number of non-terminal queued entries.
func (m *Middleware) GetQueueCount(ctx context.Context) (int, error) {
	if err := m.requireInitialized(); err != nil {
		return 0, err
	}
	return m.queue.GetQueueCount(ctx)
}

// ListPending returns up to limit pending entries.
func (m *Middleware) ListPending(ctx context.Context, limit int) ([]*models.QueuedRequest, error) {
	if err := m.requireInitialized(); err != nil {
		return nil, err
	}
	return m.queue.ListPending(ctx, limit)
}

// ProcessQueue forces an out-of-band drain pass.
func (m *Middleware) ProcessQueue(ctx context.Context) error {
	if err := m.requireInitialized(); err != nil {
		return err
	}
	m.queue.ProcessQueue(ctx)
	return nil
}

// ClearQueue discards every queued entry and returns the count removed.
func (m *Middleware) ClearQueue(ctx context.Context) (int, error) {
	if err := m.requireInitialized(); err != nil {
		return 0, err
	}
	return m.queue.ClearQueue(ctx)
}

// HasSMSPermissions reports whether the SMS transport is currently
// authorized to send.
func (m *Middleware) HasSMSPermissions(ctx context.Context) (bool, error) {
	if err := m.requireInitialized(); err != nil {
		return false, err
	}
	return m.sms.HasPermissions(ctx), nil
}

// RequestSMSPermissions asks the SMS transport to (re)acquire send
// authorization.
func (m *Middleware) RequestSMSPermissions(ctx context.Context) error {
	if err := m.requireInitialized(); err != nil {
		return err
	}
	return m.sms.RequestPermissions(ctx)
}

// SMSGateway returns the currently configured gateway address.
func (m *Middleware) SMSGateway() (string, error) {
	if err := m.requireInitialized(); err != nil {
		return "", err
	}
	return m.router.Snapshot().SMSGateway, nil
}

// Close implements dispose(): cancels every live escalation timer, stops
// the drain loop and the estimator's probe loop. Safe to call more than
// once.
func (m *Middleware) Close() {
	m.escalation.CancelAll()
	m.queue.Stop()
	m.estimator.Stop()
}

func (m *Middleware) requireInitialized() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return models.ErrNotInitialized
	}
	return nil
}
