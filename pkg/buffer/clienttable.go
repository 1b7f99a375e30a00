package buffer

import (
	"net"
	"sort"
	"sync"

	"github.com/appnet-org/owlnet/pkg/ids"
	"github.com/appnet-org/owlnet/pkg/netpacket"
)

// ClientRecord is the server/relay's per-client bookkeeping (spec §3):
// `{id, secret, tcpSocket, udpAddr, tcpPacket, udpPacket}`. It exclusively
// owns its two Packets, matching the ownership spec.md's DATA MODEL
// assigns each peer's reassembly state.
type ClientRecord struct {
	Id         ids.ClientId
	Secret     uint32
	TCPConn    net.Conn
	UDPAddr    *net.UDPAddr
	TCPPacket  *netpacket.Packet
	UDPPacket  *netpacket.Packet
	admittedAt int64 // monotonic admission sequence, for migration fallback ordering
}

// ClientTable is the keyed map of live ClientRecords, grounded on
// internal/protocol/packet.go's PacketRegistry map+accessor shape.
type ClientTable struct {
	mu      sync.RWMutex
	records map[ids.ClientId]*ClientRecord
	seq     int64
}

func NewClientTable() *ClientTable {
	return &ClientTable{records: make(map[ids.ClientId]*ClientRecord)}
}

func (t *ClientTable) Add(r *ClientRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	r.admittedAt = t.seq
	t.records[r.Id] = r
}

func (t *ClientTable) Remove(id ids.ClientId) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, id)
}

func (t *ClientTable) Get(id ids.ClientId) (*ClientRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.records[id]
	return r, ok
}

func (t *ClientTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}

// AllByAdmission returns every record ordered by admission time, oldest
// first — the order host-migration fallback selection uses (spec §4.8).
func (t *ClientTable) AllByAdmission() []*ClientRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*ClientRecord, 0, len(t.records))
	for _, r := range t.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].admittedAt < out[j].admittedAt })
	return out
}

// IdsExcept returns every client id other than exclude, ordered by
// admission time — used to build host-migration candidate lists.
func (t *ClientTable) IdsExcept(exclude ids.ClientId) []ids.ClientId {
	all := t.AllByAdmission()
	out := make([]ids.ClientId, 0, len(all))
	for _, r := range all {
		if r.Id != exclude {
			out = append(out, r.Id)
		}
	}
	return out
}
