package transport

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
	"golang.org/x/time/rate"

	"github.com/vitalconnect/resilor/internal/models"
)

// InboundMessage is a message arriving from the SMS gateway: a delivery
// receipt, a reply, or an unsolicited text.
type InboundMessage struct {
	Address       string
	Body          string
	Timestamp     time.Time
	ServiceCenter string
}

// SMSAdapter sends compressed messages to the configured gateway and
// exposes inbound messages as a stream.
type SMSAdapter interface {
	Send(ctx context.Context, gateway, text string) error
	Incoming() <-chan InboundMessage
	HasPermissions(ctx context.Context) bool
	RequestPermissions(ctx context.Context) error
}

// ErrSMSPermissionDenied mirrors models.ErrSMSPermissionDenied for adapters
// that need to return it directly from Send.
var ErrSMSPermissionDenied = models.ErrSMSPermissionDenied

// TwilioSMSConfig configures a TwilioSMSAdapter.
type TwilioSMSConfig struct {
	AccountSID      string
	AuthToken       string
	FromPhoneNumber string
	// SendsPerGatewayPerInterval bounds outbound SMS throughput; the
	// escalation path and the router's immediate SMS path share this limiter.
	SendsPerGatewayPerInterval int
	Interval                   time.Duration
}

// TwilioSMSAdapter sends SMS via Twilio's Programmable Messaging API and
// receives inbound replies/delivery callbacks forwarded from a gateway
// webhook (twilio-go delivers those as HTTP callbacks, not a push stream).
type TwilioSMSAdapter struct {
	client *twilio.RestClient
	from   string

	limiters   map[string]*rate.Limiter
	limitersMu sync.Mutex
	limit      rate.Limit
	burst      int

	incoming chan InboundMessage
	logger   *log.Logger

	permitted bool
}

// NewTwilioSMSAdapter builds an adapter from cfg. SendsPerGatewayPerInterval
// defaults to 1 per 2s, reflecting typical SMS gateway throughput limits.
func NewTwilioSMSAdapter(cfg TwilioSMSConfig) *TwilioSMSAdapter {
	if cfg.SendsPerGatewayPerInterval <= 0 {
		cfg.SendsPerGatewayPerInterval = 1
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}

	return &TwilioSMSAdapter{
		client: twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		}),
		from:      cfg.FromPhoneNumber,
		limiters:  make(map[string]*rate.Limiter),
		limit:     rate.Every(cfg.Interval),
		burst:     cfg.SendsPerGatewayPerInterval,
		incoming:  make(chan InboundMessage, 32),
		logger:    log.Default(),
		permitted: true,
	}
}

// SetLogger sets a custom logger.
func (a *TwilioSMSAdapter) SetLogger(logger *log.Logger) {
	a.logger = logger
}

func (a *TwilioSMSAdapter) limiterFor(gateway string) *rate.Limiter {
	a.limitersMu.Lock()
	defer a.limitersMu.Unlock()

	l, ok := a.limiters[gateway]
	if !ok {
		l = rate.NewLimiter(a.limit, a.burst)
		a.limiters[gateway] = l
	}
	return l
}

// Send transmits text to gateway, subject to the per-gateway rate limit.
func (a *TwilioSMSAdapter) Send(ctx context.Context, gateway, text string) error {
	if !a.permitted {
		return models.ErrSMSPermissionDenied
	}
	if !a.limiterFor(gateway).Allow() {
		return models.ErrSMSRateLimited
	}

	params := &openapi.CreateMessageParams{}
	params.SetTo(gateway)
	params.SetFrom(a.from)
	params.SetBody(text)

	_, err := a.client.Api.CreateMessage(params)
	if err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "14107") || strings.Contains(errStr, "rate") {
			return fmt.Errorf("%w: %v", models.ErrSMSRateLimited, err)
		}
		return fmt.Errorf("%w: %v", models.ErrSMSSendFailed, err)
	}
	return nil
}

// Incoming returns the stream of inbound gateway messages. It is fed by
// Deliver, normally called from the gateway webhook handler.
func (a *TwilioSMSAdapter) Incoming() <-chan InboundMessage {
	return a.incoming
}

// Deliver pushes a message onto the Incoming stream. Non-blocking: a full
// buffer drops the message and logs it, matching the fan-out behavior of
// the estimator's own subscriber channels.
func (a *TwilioSMSAdapter) Deliver(msg InboundMessage) {
	select {
	case a.incoming <- msg:
	default:
		a.logger.Printf("[transport] inbound SMS channel full, dropping message from %s", msg.Address)
	}
}

// HasPermissions reports whether outbound SMS sends are currently allowed.
func (a *TwilioSMSAdapter) HasPermissions(ctx context.Context) bool {
	return a.permitted
}

// RequestPermissions is a no-op for the Twilio adapter: authorization is
// account-level, granted out of band, not per-process.
func (a *TwilioSMSAdapter) RequestPermissions(ctx context.Context) error {
	if !a.permitted {
		return errors.New("resilor: Twilio account not authorized for SMS send")
	}
	return nil
}

// MemorySMSAdapter is an in-memory SMSAdapter fake for tests and for the
// demo when no Twilio credentials are configured.
type MemorySMSAdapter struct {
	mu        sync.Mutex
	sent      []SentMessage
	fail      bool
	permitted bool
	incoming  chan InboundMessage
}

// SentMessage records one Send call observed by MemorySMSAdapter.
type SentMessage struct {
	Gateway string
	Text    string
	At      time.Time
}

// NewMemorySMSAdapter builds a fake adapter that succeeds by default and
// has SMS permission granted.
func NewMemorySMSAdapter() *MemorySMSAdapter {
	return &MemorySMSAdapter{
		permitted: true,
		incoming:  make(chan InboundMessage, 32),
	}
}

// SetFail toggles whether subsequent Send calls fail.
func (a *MemorySMSAdapter) SetFail(fail bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fail = fail
}

// SetPermitted toggles HasPermissions/RequestPermissions outcome.
func (a *MemorySMSAdapter) SetPermitted(permitted bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.permitted = permitted
}

// Sent returns a copy of every message observed so far.
func (a *MemorySMSAdapter) Sent() []SentMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]SentMessage, len(a.sent))
	copy(out, a.sent)
	return out
}

func (a *MemorySMSAdapter) Send(ctx context.Context, gateway, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.permitted {
		return models.ErrSMSPermissionDenied
	}
	if a.fail {
		return models.ErrSMSSendFailed
	}
	a.sent = append(a.sent, SentMessage{Gateway: gateway, Text: text, At: time.Now()})
	return nil
}

func (a *MemorySMSAdapter) Incoming() <-chan InboundMessage {
	return a.incoming
}

// Deliver simulates an inbound gateway message for tests.
func (a *MemorySMSAdapter) Deliver(msg InboundMessage) {
	a.incoming <- msg
}

func (a *MemorySMSAdapter) HasPermissions(ctx context.Context) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.permitted
}

func (a *MemorySMSAdapter) RequestPermissions(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.permitted = true
	return nil
}
