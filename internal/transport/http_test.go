package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vitalconnect/resilor/internal/models"
)

func TestHTTPAdapter_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	a := NewHTTPAdapter(DefaultBreakerConfig())
	res, err := a.Send(context.Background(), models.MethodGet, srv.URL, nil, nil, time.Second)
	require.NoError(t, err)
	require.Equal(t, 200, res.StatusCode)
	require.Equal(t, "ok", string(res.Body))
}

func TestHTTPAdapter_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
	}))
	defer srv.Close()

	a := NewHTTPAdapter(DefaultBreakerConfig())
	_, err := a.Send(context.Background(), models.MethodGet, srv.URL, nil, nil, 5*time.Millisecond)
	require.ErrorIs(t, err, models.ErrTimeout)
}

func TestHTTPAdapter_CircuitOpensAfterConsecutiveFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(20 * time.Millisecond)
	}))
	defer srv.Close()

	cfg := DefaultBreakerConfig()
	cfg.ConsecutiveFailures = 2
	cfg.OpenTimeout = time.Minute
	a := NewHTTPAdapter(cfg)

	for i := 0; i < 2; i++ {
		_, err := a.Send(context.Background(), models.MethodGet, srv.URL, nil, nil, time.Millisecond)
		require.ErrorIs(t, err, models.ErrTimeout)
	}

	_, err := a.Send(context.Background(), models.MethodGet, srv.URL, nil, nil, time.Second)
	require.True(t, errors.Is(err, models.ErrCircuitOpen), "expected circuit open, got %v", err)
}

func TestHTTPAdapter_TransportError(t *testing.T) {
	a := NewHTTPAdapter(DefaultBreakerConfig())
	_, err := a.Send(context.Background(), models.MethodGet, "http://127.0.0.1:1", nil, nil, time.Second)
	require.ErrorIs(t, err, models.ErrTransportError)
}
