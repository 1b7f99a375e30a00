package ping

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/appnet-org/owlnet/pkg/ids"
)

func TestSelfPingResolvesImmediatelyWithCollapsedTimestamps(t *testing.T) {
	m := NewManager(ids.ClientId(7), DefaultTimeout)
	defer m.Stop()

	var resolved *Request
	req := m.Ping(ids.ClientId(7), func(r *Request) { resolved = r })

	require.NotNil(t, resolved)
	require.Equal(t, StateSucceeded, req.State)
	require.Equal(t, req.SendTime, req.ReceiveTime)
	require.Equal(t, req.SendTime, req.ResponseTime)
}

func TestPingResolvesOnMatchingResponse(t *testing.T) {
	m := NewManager(ids.ClientId(1), DefaultTimeout)
	defer m.Stop()

	var resolved *Request
	req := m.Ping(ids.ClientId(2), func(r *Request) { resolved = r })
	require.Equal(t, StatePending, req.State)

	got, ok := m.HandleResponse(req.Id, time.Now())
	require.True(t, ok)
	require.Same(t, resolved, got)
	require.Equal(t, StateSucceeded, got.State)
	require.GreaterOrEqual(t, got.RTT(), time.Duration(0))
}

func TestPingExpiresAfterTimeout(t *testing.T) {
	m := NewManager(ids.ClientId(1), 10*time.Millisecond)
	defer m.Stop()

	resolved := make(chan *Request, 1)
	req := m.Ping(ids.ClientId(2), func(r *Request) { resolved <- r })
	require.Equal(t, StatePending, req.State)

	select {
	case r := <-resolved:
		require.Equal(t, StateFailed, r.State)
	case <-time.After(time.Second):
		t.Fatal("ping did not expire in time")
	}

	_, ok := m.HandleResponse(req.Id, time.Now())
	require.False(t, ok, "a response after expiry must not resolve a removed entry")
}

func TestUnknownResponseIdIsIgnored(t *testing.T) {
	m := NewManager(ids.ClientId(1), DefaultTimeout)
	defer m.Stop()

	_, ok := m.HandleResponse(RequestId(999), time.Now())
	require.False(t, ok)
}
