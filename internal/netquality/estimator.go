// Package netquality produces the scalar network quality score that drives
// routing decisions, from a connectivity type, a latency probe, and a
// rolling window of recently observed failures.
package netquality

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vitalconnect/resilor/internal/models"
)

// FailureWindow is how far back observed failures count against the score.
const FailureWindow = 5 * time.Minute

// DefaultProbeInterval is how often the background loop refreshes latency
// and re-publishes the current status, independent of connectivity events.
const DefaultProbeInterval = 15 * time.Second

// Estimator turns connectivity kind, probe latency and recent failures
// into the scalar quality score, and publishes transitions to
// subscribers.
type Estimator struct {
	source ConnectivitySource
	prober LatencyProber

	redisClient  *redis.Client
	redisChannel string

	probeInterval time.Duration

	typeMu      sync.RWMutex
	currentType models.NetworkType

	latencyMs   int64 // atomic
	probeFailed int32 // atomic bool: last latency probe errored

	failuresMu sync.Mutex
	failures   []time.Time

	subsMu sync.RWMutex
	subs   []chan models.NetworkStatus

	running int32
	stopCh  chan struct{}
	doneCh  chan struct{}

	logger *log.Logger
}

// Option configures an Estimator at construction time.
type Option func(*Estimator)

// WithLatencyProber overrides the default constant-placeholder prober.
func WithLatencyProber(p LatencyProber) Option {
	return func(e *Estimator) { e.prober = p }
}

// WithProbeInterval overrides DefaultProbeInterval.
func WithProbeInterval(d time.Duration) Option {
	return func(e *Estimator) { e.probeInterval = d }
}

// WithRedisPublisher makes the estimator publish its computed NetworkStatus
// as JSON onto the Redis Pub/Sub channel "<channel>:full" on every
// transition and probe tick, so other middleware
// instances sharing the same gateway can observe connectivity without
// probing independently.
func WithRedisPublisher(client *redis.Client, channel string) Option {
	if channel == "" {
		channel = DefaultNetworkChannel
	}
	return func(e *Estimator) {
		e.redisClient = client
		e.redisChannel = channel
	}
}

// New builds an Estimator reading connectivity from source. A nil source
// defaults to an unobserved MemoryConnectivitySource starting at UNKNOWN.
func New(source ConnectivitySource, opts ...Option) *Estimator {
	if source == nil {
		source = NewMemoryConnectivitySource(models.NetworkUnknown)
	}
	e := &Estimator{
		source:        source,
		prober:        ConstantLatencyProber{Milliseconds: DefaultPlaceholderLatencyMs},
		probeInterval: DefaultProbeInterval,
		currentType:   models.NetworkUnknown,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
		logger:        log.Default(),
	}
	atomic.StoreInt64(&e.latencyMs, DefaultPlaceholderLatencyMs)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetLogger sets a custom logger.
func (e *Estimator) SetLogger(logger *log.Logger) {
	e.logger = logger
}

// Start begins the background probe loop and connectivity subscription.
// Idempotent: a second call is a no-op.
func (e *Estimator) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&e.running, 0, 1) {
		return nil
	}
	e.logger.Println("[netquality] starting estimator")

	e.typeMu.Lock()
	e.currentType = e.source.Current(ctx)
	e.typeMu.Unlock()
	e.refreshLatency(ctx)

	go e.run(ctx)
	return nil
}

// Stop halts the background loop. The connectivity subscription is
// released when the context passed to Start is done.
func (e *Estimator) Stop() {
	if atomic.CompareAndSwapInt32(&e.running, 1, 0) {
		close(e.stopCh)
		<-e.doneCh
		e.logger.Println("[netquality] estimator stopped")
	}
}

func (e *Estimator) run(ctx context.Context) {
	defer close(e.doneCh)

	transitions := e.source.Subscribe(ctx)
	ticker := time.NewTicker(e.probeInterval)
	defer ticker.Stop()

	e.publish(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case t, ok := <-transitions:
			if !ok {
				return
			}
			e.typeMu.Lock()
			changed := e.currentType != t
			e.currentType = t
			e.typeMu.Unlock()
			if changed {
				e.refreshLatency(ctx)
				e.publish(ctx)
			}
		case <-ticker.C:
			e.refreshLatency(ctx)
			e.publish(ctx)
		}
	}
}

func (e *Estimator) refreshLatency(ctx context.Context) {
	ms, err := e.prober.Probe(ctx)
	if err != nil {
		atomic.StoreInt32(&e.probeFailed, 1)
		e.logger.Printf("[netquality] latency probe failed: %v", err)
		return
	}
	atomic.StoreInt32(&e.probeFailed, 0)
	atomic.StoreInt64(&e.latencyMs, ms)
}

// CurrentType returns the last-observed discrete connectivity kind.
func (e *Estimator) CurrentType() models.NetworkType {
	e.typeMu.RLock()
	defer e.typeMu.RUnlock()
	return e.currentType
}

// Latency returns the last-measured probe latency in milliseconds.
func (e *Estimator) Latency() int64 {
	return atomic.LoadInt64(&e.latencyMs)
}

// Score computes the scalar quality score: a base score from
// connectivity type, adjusted by latency and by recent
// failures, clamped to [0,1]. Never errors; if the latency probe itself
// is failing, the connection is treated as NONE and Score returns 0.0.
func (e *Estimator) Score() float64 {
	if atomic.LoadInt32(&e.probeFailed) == 1 {
		return 0.0
	}

	base := e.CurrentType().BaseScore()
	if base == 0 {
		return 0.0
	}

	latency := e.Latency()
	switch {
	case latency < 100:
		base += 0.1
	case latency > 1000:
		base -= 0.2
	}

	base -= 0.1 * float64(e.failureCount())

	if base < 0 {
		base = 0
	}
	if base > 1 {
		base = 1
	}
	return base
}

// IsStable reports whether Score() is at or above the 0.5 threshold.
func (e *Estimator) IsStable() bool {
	return e.Score() >= 0.5
}

// ObserveFailure records a failed delivery attempt against the rolling
// failure window, pruning entries older than FailureWindow.
func (e *Estimator) ObserveFailure() {
	now := time.Now()
	e.failuresMu.Lock()
	e.failures = append(e.failures, now)
	e.failures = pruneFailures(e.failures, now)
	e.failuresMu.Unlock()
}

func (e *Estimator) failureCount() int {
	now := time.Now()
	e.failuresMu.Lock()
	e.failures = pruneFailures(e.failures, now)
	n := len(e.failures)
	e.failuresMu.Unlock()
	return n
}

func pruneFailures(failures []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-FailureWindow)
	i := 0
	for i < len(failures) && failures[i].Before(cutoff) {
		i++
	}
	return failures[i:]
}

// Status returns the current NetworkStatus snapshot.
func (e *Estimator) Status() models.NetworkStatus {
	return models.NetworkStatus{
		Type:         e.CurrentType(),
		QualityScore: e.Score(),
		LatencyMs:    e.Latency(),
	}
}

// Subscribe returns a stream of NetworkStatus emitted on every connectivity
// transition. The channel is closed when ctx is done.
func (e *Estimator) Subscribe(ctx context.Context) <-chan models.NetworkStatus {
	ch := make(chan models.NetworkStatus, 8)
	e.subsMu.Lock()
	e.subs = append(e.subs, ch)
	e.subsMu.Unlock()

	go func() {
		<-ctx.Done()
		e.subsMu.Lock()
		defer e.subsMu.Unlock()
		for i, c := range e.subs {
			if c == ch {
				e.subs = append(e.subs[:i], e.subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()

	return ch
}

func (e *Estimator) publish(ctx context.Context) {
	status := e.Status()

	e.subsMu.RLock()
	subs := append([]chan models.NetworkStatus(nil), e.subs...)
	e.subsMu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- status:
		default:
			e.logger.Printf("[netquality] subscriber channel full, dropping status")
		}
	}

	if e.redisClient != nil {
		publishStatus(ctx, e.redisClient, e.redisChannel, status)
	}
}
