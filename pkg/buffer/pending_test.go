package buffer

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPendingAdmissionAddThenTake(t *testing.T) {
	l := NewPendingAdmissionList(time.Second)
	addr := &net.UDPAddr{IP: net.ParseIP("1.2.3.4"), Port: 9000}
	l.Add("1.2.3.4", addr, 42, false, time.Now())

	got, secret, asHost, ok := l.Take("1.2.3.4")
	require.True(t, ok)
	require.Equal(t, addr, got)
	require.EqualValues(t, 42, secret)
	require.False(t, asHost)

	_, _, _, ok = l.Take("1.2.3.4")
	require.False(t, ok, "Take removes the entry")
}

func TestPendingAdmissionUnknownIPNotFound(t *testing.T) {
	l := NewPendingAdmissionList(time.Second)
	_, _, _, ok := l.Take("9.9.9.9")
	require.False(t, ok)
}

func TestPendingAdmissionSweepDropsExpiredEntries(t *testing.T) {
	l := NewPendingAdmissionList(10 * time.Millisecond)
	now := time.Now()
	l.Add("1.2.3.4", nil, 1, false, now)

	dropped := l.Sweep(now.Add(20 * time.Millisecond))
	require.Equal(t, 1, dropped)
	require.Equal(t, 0, l.Len())
}

func TestPendingAdmissionSweepKeepsFreshEntries(t *testing.T) {
	l := NewPendingAdmissionList(time.Second)
	now := time.Now()
	l.Add("1.2.3.4", nil, 1, false, now)

	dropped := l.Sweep(now.Add(10 * time.Millisecond))
	require.Equal(t, 0, dropped)
	require.Equal(t, 1, l.Len())
}
