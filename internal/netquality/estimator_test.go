package netquality

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vitalconnect/resilor/internal/models"
)

func TestScore_BaseByType(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := NewMemoryConnectivitySource(models.NetworkWifi)
	e := New(src, WithLatencyProber(ConstantLatencyProber{Milliseconds: 500}))
	require.NoError(t, e.Start(ctx))
	defer e.Stop()

	require.Equal(t, 1.0, e.Score())
	require.True(t, e.IsStable())
}

func TestScore_LatencyAdjustment(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := NewMemoryConnectivitySource(models.NetworkMobile4G)
	e := New(src, WithLatencyProber(ConstantLatencyProber{Milliseconds: 50}))
	require.NoError(t, e.Start(ctx))
	defer e.Stop()

	// base 0.8 + 0.1 (latency < 100ms) = 0.9
	require.InDelta(t, 0.9, e.Score(), 0.001)
}

func TestScore_HighLatencyPenalty(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := NewMemoryConnectivitySource(models.NetworkMobile4G)
	e := New(src, WithLatencyProber(ConstantLatencyProber{Milliseconds: 1500}))
	require.NoError(t, e.Start(ctx))
	defer e.Stop()

	require.InDelta(t, 0.6, e.Score(), 0.001)
}

func TestScore_FailuresPenalizeAndClamp(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := NewMemoryConnectivitySource(models.NetworkMobile2G)
	e := New(src, WithLatencyProber(ConstantLatencyProber{Milliseconds: 500}))
	require.NoError(t, e.Start(ctx))
	defer e.Stop()

	require.Equal(t, 0.3, e.Score())

	for i := 0; i < 5; i++ {
		e.ObserveFailure()
	}
	require.InDelta(t, 0, e.Score(), 0.001)
}

func TestScore_NoneOrUnknownIsZero(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := NewMemoryConnectivitySource(models.NetworkNone)
	e := New(src)
	require.NoError(t, e.Start(ctx))
	defer e.Stop()

	require.Equal(t, 0.0, e.Score())
	require.False(t, e.IsStable())
}

func TestSubscribe_EmitsOnTransition(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := NewMemoryConnectivitySource(models.NetworkNone)
	e := New(src, WithLatencyProber(ConstantLatencyProber{Milliseconds: 50}), WithProbeInterval(time.Hour))
	require.NoError(t, e.Start(ctx))
	defer e.Stop()

	statuses := e.Subscribe(ctx)
	// drain the initial publish, if this subscriber attached in time to
	// see it.
	select {
	case <-statuses:
	case <-time.After(100 * time.Millisecond):
	}

	src.Set(models.NetworkWifi)

	select {
	case s := <-statuses:
		require.Equal(t, models.NetworkWifi, s.Type)
		require.Equal(t, 1.0, s.QualityScore)
	case <-time.After(time.Second):
		t.Fatal("expected status on transition")
	}
}

func TestFailureWindowPrunes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := NewMemoryConnectivitySource(models.NetworkWifi)
	e := New(src, WithLatencyProber(ConstantLatencyProber{Milliseconds: 50}))
	require.NoError(t, e.Start(ctx))
	defer e.Stop()

	e.failuresMu.Lock()
	e.failures = []time.Time{time.Now().Add(-10 * time.Minute)}
	e.failuresMu.Unlock()

	require.Equal(t, 0, e.failureCount())
}
