package resilor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vitalconnect/resilor/internal/models"
	"github.com/vitalconnect/resilor/internal/netquality"
	"github.com/vitalconnect/resilor/internal/queuemanager"
	"github.com/vitalconnect/resilor/internal/queuestore"
	"github.com/vitalconnect/resilor/internal/transport"
)

func newTestMiddleware(t *testing.T, netType models.NetworkType) (*Middleware, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	store := queuestore.NewMemoryStore()
	httpAdapter := transport.NewHTTPAdapter(transport.DefaultBreakerConfig())
	sms := transport.NewMemorySMSAdapter()
	source := netquality.NewMemoryConnectivitySource(netType)

	m := New(store, httpAdapter, sms, source, queuemanager.Callbacks{})
	t.Cleanup(m.Close)
	return m, srv
}

func TestMiddlewareRejectsBeforeInitialize(t *testing.T) {
	m, srv := newTestMiddleware(t, models.NetworkWifi)
	_, err := m.Execute(context.Background(), &models.Request{Method: models.MethodGet, URL: srv.URL, Priority: models.PriorityNormal})
	require.ErrorIs(t, err, ErrNotInitialized)
}

func TestMiddlewareInitializeIsIdempotent(t *testing.T) {
	m, _ := newTestMiddleware(t, models.NetworkWifi)
	ctx := context.Background()
	require.NoError(t, m.Initialize(ctx, InitParams{SMSGateway: "gw-1", SMSEnabled: true, Strategy: Balanced()}))
	require.NoError(t, m.Initialize(ctx, InitParams{SMSGateway: "gw-2", SMSEnabled: true, Strategy: Balanced()}))

	gateway, err := m.SMSGateway()
	require.NoError(t, err)
	require.Equal(t, "gw-1", gateway, "second Initialize call must be ignored")
}

func TestMiddlewareStableWiFiExecutesLive(t *testing.T) {
	m, srv := newTestMiddleware(t, models.NetworkWifi)
	ctx := context.Background()
	require.NoError(t, m.Initialize(ctx, InitParams{SMSGateway: "gw-1", SMSEnabled: true, Strategy: Balanced()}))

	time.Sleep(20 * time.Millisecond) // let the estimator's first probe land

	resp, err := m.Get(ctx, srv.URL, Request{Priority: PriorityNormal})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, models.OriginNetwork, resp.Origin)
}

func TestMiddlewarePostSetsContentType(t *testing.T) {
	var gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := queuestore.NewMemoryStore()
	httpAdapter := transport.NewHTTPAdapter(transport.DefaultBreakerConfig())
	sms := transport.NewMemorySMSAdapter()
	source := netquality.NewMemoryConnectivitySource(models.NetworkWifi)
	m := New(store, httpAdapter, sms, source, queuemanager.Callbacks{})
	defer m.Close()

	ctx := context.Background()
	require.NoError(t, m.Initialize(ctx, InitParams{SMSGateway: "gw-1", Strategy: Balanced()}))
	time.Sleep(20 * time.Millisecond)

	resp, err := m.Post(ctx, srv.URL, map[string]any{"amount": 10.0}, Request{Priority: PriorityNormal})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", gotContentType)
}

func TestMiddlewareQueueOperations(t *testing.T) {
	m, srv := newTestMiddleware(t, models.NetworkNone)
	ctx := context.Background()
	require.NoError(t, m.Initialize(ctx, InitParams{SMSGateway: "gw-1", Strategy: Balanced()}))
	time.Sleep(20 * time.Millisecond)

	resp, err := m.Get(ctx, srv.URL, Request{Priority: PriorityNormal})
	require.NoError(t, err)
	require.Equal(t, 202, resp.StatusCode)

	count, err := m.GetQueueCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	pending, err := m.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	cleared, err := m.ClearQueue(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, cleared)
}

func TestMiddlewareHasSMSPermissions(t *testing.T) {
	m, _ := newTestMiddleware(t, models.NetworkWifi)
	ctx := context.Background()
	require.NoError(t, m.Initialize(ctx, InitParams{SMSGateway: "gw-1", SMSEnabled: true, Strategy: Balanced()}))

	ok, err := m.HasSMSPermissions(ctx)
	require.NoError(t, err)
	require.True(t, ok)
}
