package buffer

import (
	"net"
	"sync"
	"time"
)

// pendingAdmission is an accepted-but-not-yet-stream-connected client,
// keyed by remote IP for the handshake lookup in spec §4.5.1 step 2.
type pendingAdmission struct {
	RemoteIP  string
	UDPAddr   *net.UDPAddr
	Secret    uint32
	RequestAsHost bool
	expiresAt time.Time
}

// PendingAdmissionList tracks clients between an Accepted UDP response and
// the TCP handshake that completes admission (spec §4.5.1). Entries expire
// after connectionRequestTimeout and are swept at the start of each receive
// pass, not on their own timer — there is no per-entry goroutine here.
type PendingAdmissionList struct {
	mu      sync.Mutex
	timeout time.Duration
	byIP    map[string]*pendingAdmission
}

func NewPendingAdmissionList(timeout time.Duration) *PendingAdmissionList {
	return &PendingAdmissionList{timeout: timeout, byIP: make(map[string]*pendingAdmission)}
}

// Add records an Accepted admission, overwriting any prior pending entry
// for the same IP (a duplicate request simply refreshes the expiry).
func (l *PendingAdmissionList) Add(remoteIP string, udpAddr *net.UDPAddr, secret uint32, requestAsHost bool, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.byIP[remoteIP] = &pendingAdmission{
		RemoteIP:      remoteIP,
		UDPAddr:       udpAddr,
		Secret:        secret,
		RequestAsHost: requestAsHost,
		expiresAt:     now.Add(l.timeout),
	}
}

// Take looks up and removes the pending entry for remoteIP (spec §4.5.1
// step 2: "unmatched addresses are closed").
func (l *PendingAdmissionList) Take(remoteIP string) (net.Addr, uint32, bool, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.byIP[remoteIP]
	if !ok {
		return nil, 0, false, false
	}
	delete(l.byIP, remoteIP)
	return p.UDPAddr, p.Secret, p.RequestAsHost, true
}

// Sweep removes every entry that has expired as of now, returning how many
// were dropped.
func (l *PendingAdmissionList) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	dropped := 0
	for ip, p := range l.byIP {
		if now.After(p.expiresAt) {
			delete(l.byIP, ip)
			dropped++
		}
	}
	return dropped
}

func (l *PendingAdmissionList) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byIP)
}
