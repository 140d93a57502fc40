package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vitalconnect/resilor/internal/models"
)

func TestMemorySMSAdapter_SendAndFail(t *testing.T) {
	a := NewMemorySMSAdapter()
	require.NoError(t, a.Send(context.Background(), "+15551234567", "T#ID#5K#u#a"))
	require.Len(t, a.Sent(), 1)

	a.SetFail(true)
	err := a.Send(context.Background(), "+15551234567", "T#ID#5K#u#a")
	require.ErrorIs(t, err, models.ErrSMSSendFailed)
}

func TestMemorySMSAdapter_Permissions(t *testing.T) {
	a := NewMemorySMSAdapter()
	require.True(t, a.HasPermissions(context.Background()))

	a.SetPermitted(false)
	require.False(t, a.HasPermissions(context.Background()))
	err := a.Send(context.Background(), "+1", "x")
	require.ErrorIs(t, err, models.ErrSMSPermissionDenied)

	require.NoError(t, a.RequestPermissions(context.Background()))
	require.True(t, a.HasPermissions(context.Background()))
}

func TestMemorySMSAdapter_Incoming(t *testing.T) {
	a := NewMemorySMSAdapter()
	go a.Deliver(InboundMessage{Address: "+1", Body: "OK#ID#ref:1", Timestamp: time.Now()})

	select {
	case msg := <-a.Incoming():
		require.Equal(t, "+1", msg.Address)
	case <-time.After(time.Second):
		t.Fatal("expected inbound message")
	}
}
