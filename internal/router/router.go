// Package router implements the decision engine: the single Execute
// entry point that samples the network score and picks a delivery
// channel per the active Strategy.
package router

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/vitalconnect/resilor/internal/escalation"
	"github.com/vitalconnect/resilor/internal/models"
	"github.com/vitalconnect/resilor/internal/queuemanager"
	"github.com/vitalconnect/resilor/internal/smscodec"
	"github.com/vitalconnect/resilor/internal/transport"
)

// ScoreSource is the subset of the Network Quality Estimator the router
// depends on.
type ScoreSource interface {
	Score() float64
	ObserveFailure()
}

// CostProvider estimates the monetary cost of sending text over SMS.
type CostProvider func(text string) float64

// CostWarningCallback is asked to approve a cost estimate before an
// escalation-timer SMS send proceeds; the immediate SMS path does not
// consult it. A nil callback always approves.
type CostWarningCallback func(estimate float64) bool

// Config is the router's live, Configure()-mutable tunables. SMSEnabled
// and BatchSMS are pointers so Configure can distinguish "leave this
// unchanged" (nil) from "set it to false" (non-nil, false).
type Config struct {
	Strategy            Strategy
	SMSGateway          string
	SMSEnabled          *bool
	IdempotencyHeader   string
	BatchSMS            *bool
	CostProvider        CostProvider
	CostWarningCallback CostWarningCallback
}

func (c Config) smsEnabled() bool {
	return c.SMSEnabled != nil && *c.SMSEnabled
}

// Router is the public entry point execute() dispatches through.
type Router struct {
	mu  sync.RWMutex
	cfg Config

	estimator  ScoreSource
	queue      *queuemanager.Manager
	escalation *escalation.Manager
	http       *transport.HTTPAdapter
	sms        transport.SMSAdapter

	logger *log.Logger
}

// New builds a Router. cfg.Strategy defaults to Balanced() when nil.
func New(estimator ScoreSource, queue *queuemanager.Manager, escalationMgr *escalation.Manager, httpAdapter *transport.HTTPAdapter, smsAdapter transport.SMSAdapter, cfg Config) *Router {
	if cfg.Strategy == nil {
		cfg.Strategy = Balanced()
	}
	if cfg.IdempotencyHeader == "" {
		cfg.IdempotencyHeader = models.DefaultIdempotencyHeader
	}
	if cfg.SMSGateway != "" {
		escalationMgr.SetGateway(cfg.SMSGateway)
	}
	return &Router{
		cfg:        cfg,
		estimator:  estimator,
		queue:      queue,
		escalation: escalationMgr,
		http:       httpAdapter,
		sms:        smsAdapter,
		logger:     log.Default(),
	}
}

// SetLogger sets a custom logger.
func (r *Router) SetLogger(logger *log.Logger) {
	r.logger = logger
}

// Configure updates the live tunables. Any field left at its zero value
// (nil for pointers/interfaces/funcs, "" for strings) leaves the current
// setting unchanged.
func (r *Router) Configure(cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cfg.Strategy != nil {
		r.cfg.Strategy = cfg.Strategy
	}
	if cfg.SMSGateway != "" {
		r.cfg.SMSGateway = cfg.SMSGateway
		r.escalation.SetGateway(cfg.SMSGateway)
	}
	if cfg.SMSEnabled != nil {
		r.cfg.SMSEnabled = cfg.SMSEnabled
	}
	if cfg.IdempotencyHeader != "" {
		r.cfg.IdempotencyHeader = cfg.IdempotencyHeader
	}
	if cfg.BatchSMS != nil {
		r.cfg.BatchSMS = cfg.BatchSMS
	}
	if cfg.CostProvider != nil {
		r.cfg.CostProvider = cfg.CostProvider
	}
	if cfg.CostWarningCallback != nil {
		r.cfg.CostWarningCallback = cfg.CostWarningCallback
		r.escalation.SetCostApproval(func(ctx context.Context, item *models.QueuedRequest) bool {
			return r.approveCost(item)
		})
	}
}

// Snapshot returns a copy of the current configuration.
func (r *Router) Snapshot() Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

func (r *Router) approveCost(item *models.QueuedRequest) bool {
	cfg := r.Snapshot()
	if cfg.CostWarningCallback == nil {
		return true
	}
	text, err := smscodec.Encode(payloadFor(item))
	if err != nil {
		return false
	}
	var estimate float64
	if cfg.CostProvider != nil {
		estimate = cfg.CostProvider(text)
	}
	return cfg.CostWarningCallback(estimate)
}

// Execute samples the network score and dispatches req through the
// active strategy's decision algorithm. It always returns a
// Response to the caller except when the Persistent Queue Store itself
// rejects the enqueue (QUEUE_FULL), which is surfaced as an error.
func (r *Router) Execute(ctx context.Context, req *models.Request) (*models.Response, error) {
	cfg := r.Snapshot()
	score := r.estimator.Score()

	for _, tier := range cfg.Strategy.Tiers() {
		if score > tier.Threshold {
			return r.attemptHTTP(ctx, req, tier, cfg)
		}
	}

	if score == 0 && cfg.smsEnabled() && req.SMSEligible && containsPriority(cfg.Strategy.ImmediateSMSPriorities(), req.Priority) {
		return r.immediateSMS(ctx, req, cfg)
	}

	if cfg.smsEnabled() && req.SMSEligible && containsPriority(cfg.Strategy.EscalationPriorities(), req.Priority) {
		return r.enqueueWithEscalation(ctx, req, cfg.Strategy.EscalationDelay())
	}

	return r.enqueueAndAck(ctx, req)
}

func (r *Router) attemptHTTP(ctx context.Context, req *models.Request, tier Tier, cfg Config) (*models.Response, error) {
	body, err := json.Marshal(req.Body)
	if err != nil || len(req.Body) == 0 {
		body = nil
	}
	headers := req.CloneHeaders(cfg.IdempotencyHeader)

	result, err := r.http.Send(ctx, req.Method, req.URL, headers, body, tier.Timeout)
	if err != nil {
		r.estimator.ObserveFailure()
		if cfg.Strategy.EscalateOnFailure() && cfg.smsEnabled() && req.SMSEligible &&
			containsPriority(cfg.Strategy.EscalationPriorities(), req.Priority) {
			return r.enqueueWithEscalation(ctx, req, cfg.Strategy.EscalationDelay())
		}
		return r.enqueueAndAck(ctx, req)
	}

	r.cancelEscalation(req)
	return &models.Response{
		StatusCode: result.StatusCode,
		Body:       result.Body,
		Headers:    result.Headers,
		Origin:     models.OriginNetwork,
	}, nil
}

func (r *Router) cancelEscalation(req *models.Request) {
	if req.IdempotencyKey != "" {
		r.escalation.Cancel(req.IdempotencyKey)
	}
}

func (r *Router) enqueueAndAck(ctx context.Context, req *models.Request) (*models.Response, error) {
	if _, err := r.queue.Enqueue(ctx, req); err != nil {
		return nil, err
	}
	return models.Accepted(), nil
}

func (r *Router) enqueueWithEscalation(ctx context.Context, req *models.Request, delay time.Duration) (*models.Response, error) {
	item, err := r.queue.Enqueue(ctx, req)
	if err != nil {
		return nil, err
	}
	r.escalation.Arm(item.ID, delay)
	return models.Accepted(), nil
}

// immediateSMS enqueues for durability, encodes, sends, and reports
// 200/503 without waiting for a later drain.
func (r *Router) immediateSMS(ctx context.Context, req *models.Request, cfg Config) (*models.Response, error) {
	item, err := r.queue.Enqueue(ctx, req)
	if err != nil {
		return nil, err
	}

	text, err := smscodec.Encode(payloadFor(item))
	if err != nil {
		r.logger.Printf("[router] SMS encode failed for %s: %v", item.ID, err)
		return &models.Response{StatusCode: 503, Origin: models.OriginSMS}, nil
	}

	if err := r.sms.Send(ctx, cfg.SMSGateway, text); err != nil {
		r.logger.Printf("[router] SMS send failed for %s: %v", item.ID, err)
		return &models.Response{StatusCode: 503, Origin: models.OriginSMS}, nil
	}

	if err := r.queue.MarkDelivered(ctx, item.ID); err != nil {
		r.logger.Printf("[router] mark delivered failed for %s: %v", item.ID, err)
	}
	return &models.Response{StatusCode: 200, Origin: models.OriginSMS}, nil
}

// payloadFor builds the codec's compressed-wire tuple from a queued
// request. The business identifier prefers an explicit body["id"], then
// the caller's idempotency key, falling back to the queue's own id only
// when neither is present.
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
