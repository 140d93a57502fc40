package netquality

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/vitalconnect/resilor/internal/models"
)

// ConnectivitySource is the platform collaborator that reports the
// discrete connectivity kind: a point query for the current kind, plus an
// event stream of transitions.
type ConnectivitySource interface {
	Current(ctx context.Context) models.NetworkType
	Subscribe(ctx context.Context) <-chan models.NetworkType
}

// MemoryConnectivitySource is an in-process ConnectivitySource driven by an
// explicit Set call, used by the demo app and by tests that want direct
// control over connectivity transitions without a platform bridge.
type MemoryConnectivitySource struct {
	mu      sync.RWMutex
	current models.NetworkType
	subs    []chan models.NetworkType
}

// NewMemoryConnectivitySource creates a source starting at initial.
func NewMemoryConnectivitySource(initial models.NetworkType) *MemoryConnectivitySource {
	return &MemoryConnectivitySource{current: initial}
}

func (s *MemoryConnectivitySource) Current(ctx context.Context) models.NetworkType {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *MemoryConnectivitySource) Subscribe(ctx context.Context) <-chan models.NetworkType {
	ch := make(chan models.NetworkType, 8)
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, c := range s.subs {
			if c == ch {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()

	return ch
}

// Set updates the current connectivity kind and fans the transition out to
// every live subscriber. Sets to the same kind are still published — the
// caller (usually a test) decides whether a transition actually occurred.
func (s *MemoryConnectivitySource) Set(t models.NetworkType) {
	s.mu.Lock()
	s.current = t
	subs := append([]chan models.NetworkType(nil), s.subs...)
	s.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- t:
		default:
		}
	}
}

// RedisConnectivitySource reads and observes connectivity transitions
// published to a shared Redis Pub/Sub channel, letting a foreground and a
// background process instance share one connectivity signal instead of
// probing independently.
type RedisConnectivitySource struct {
	client  *redis.Client
	channel string
	key     string
	logger  *log.Logger
}

// DefaultNetworkChannel is the Redis Pub/Sub channel connectivity
// transitions are published to.
const DefaultNetworkChannel = "resilor:network:status"

// NewRedisConnectivitySource builds a source backed by client, publishing
// and observing on channel (DefaultNetworkChannel if empty).
func NewRedisConnectivitySource(client *redis.Client, channel string) *RedisConnectivitySource {
	if channel == "" {
		channel = DefaultNetworkChannel
	}
	return &RedisConnectivitySource{
		client:  client,
		channel: channel,
		key:     channel + ":current",
		logger:  log.Default(),
	}
}

// SetLogger sets a custom logger.
func (s *RedisConnectivitySource) SetLogger(logger *log.Logger) {
	s.logger = logger
}

// Publish announces a connectivity transition to every subscriber sharing
// this channel, and records it as the durable "current" value.
func (s *RedisConnectivitySource) Publish(ctx context.Context, t models.NetworkType) error {
	if err := s.client.Set(ctx, s.key, string(t), 0).Err(); err != nil {
		return err
	}
	return s.client.Publish(ctx, s.channel, string(t)).Err()
}

func (s *RedisConnectivitySource) Current(ctx context.Context) models.NetworkType {
	v, err := s.client.Get(ctx, s.key).Result()
	if err != nil {
		return models.NetworkUnknown
	}
	return models.NetworkType(v)
}

func (s *RedisConnectivitySource) Subscribe(ctx context.Context) <-chan models.NetworkType {
	out := make(chan models.NetworkType, 8)
	pubsub := s.client.Subscribe(ctx, s.channel)

	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- models.NetworkType(msg.Payload):
				default:
					s.logger.Printf("[netquality] subscriber channel full, dropping transition")
				}
			}
		}
	}()

	return out
}

// publishStatus is a small helper the Estimator uses when it was built
// WithRedisPublisher, to broadcast its computed NetworkStatus (not just
// the raw type) on channel+":full" for observability.
func publishStatus(ctx context.Context, client *redis.Client, channel string, status models.NetworkStatus) {
	data, err := json.Marshal(status)
	if err != nil {
		return
	}
	client.Publish(ctx, channel+":full", data)
}
