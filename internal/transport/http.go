// Package transport implements the two collaborator adapters the router
// and queue manager dispatch through: one HTTP attempt per call, and SMS
// send/receive against a trusted gateway.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/vitalconnect/resilor/internal/models"
)

// Result is one HTTP attempt's outcome.
type Result struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
}

// HTTPAdapter performs a single HTTP attempt with a caller-specified
// timeout, guarded by a circuit breaker so a run of consecutive failures
// stops attempting live calls before the estimator's own score catches up.
type HTTPAdapter struct {
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[*Result]
	logger  *log.Logger
}

// BreakerConfig tunes the circuit breaker's trip/reset behavior.
type BreakerConfig struct {
	Name                string
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
	ResetInterval       time.Duration
}

// DefaultBreakerConfig trips after 5 consecutive failures and stays open
// for 30s before allowing a probe request through.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:                "resilor-http",
		ConsecutiveFailures: 5,
		OpenTimeout:         30 * time.Second,
		ResetInterval:       60 * time.Second,
	}
}

// NewHTTPAdapter builds an adapter with the given breaker configuration.
func NewHTTPAdapter(cfg BreakerConfig) *HTTPAdapter {
	logger := log.Default()
	settings := gobreaker.Settings{
		Name:     cfg.Name,
		Interval: cfg.ResetInterval,
		Timeout:  cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Printf("[transport] circuit %s: %s -> %s", name, from, to)
		},
	}

	return &HTTPAdapter{
		client:  &http.Client{},
		breaker: gobreaker.NewCircuitBreaker[*Result](settings),
		logger:  logger,
	}
}

// SetLogger sets a custom logger.
func (a *HTTPAdapter) SetLogger(logger *log.Logger) {
	a.logger = logger
}

// Send performs one HTTP attempt bounded by timeout. Errors are always one
// of models.ErrTimeout, models.ErrTransportError or models.ErrCircuitOpen.
func (a *HTTPAdapter) Send(ctx context.Context, method models.Method, url string, headers map[string]string, body []byte, timeout time.Duration) (*Result, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := a.breaker.Execute(func() (*Result, error) {
		req, err := http.NewRequestWithContext(reqCtx, string(method), url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrTransportError, err)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := a.client.Do(req)
		if err != nil {
			if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
				return nil, models.ErrTimeout
			}
			return nil, fmt.Errorf("%w: %v", models.ErrTransportError, err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrTransportError, err)
		}

		respHeaders := make(map[string]string, len(resp.Header))
		for k := range resp.Header {
			respHeaders[k] = resp.Header.Get(k)
		}

		return &Result{StatusCode: resp.StatusCode, Headers: respHeaders, Body: respBody}, nil
	})

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, models.ErrCircuitOpen
		}
		return nil, err
	}
	return result, nil
}

// State reports the circuit breaker's current state, for diagnostics.
func (a *HTTPAdapter) State() string {
	return a.breaker.State().String()
}
