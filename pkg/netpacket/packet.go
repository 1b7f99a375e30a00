// Package netpacket implements the wire-level packet container described in
// spec §4.1: a fixed header, length-prefixed message framing, and in-place
// fragmentation when a single send cycle would exceed the configured
// buffer size.
package netpacket

import (
	"encoding/binary"
	"errors"
)

var (
	// ErrWouldFragmentOnUDP is returned by Reserve when a message would
	// force a split on a packet built for the datagram transport. Per
	// DESIGN.md's resolution of the "fragmentation semantics of the
	// datagram transport" open question, UDP-bound packets never
	// fragment; only the TCP-bound path may split across fragments.
	ErrWouldFragmentOnUDP = errors.New("netpacket: message would fragment a UDP-bound packet")
	ErrMessageTooLarge     = errors.New("netpacket: message exceeds the packet's fragment budget")
	ErrIncomplete          = errors.New("netpacket: packet is not yet fully ingested")
)

// Packet stacks typed messages into a single outbound buffer (splitting
// into fragments when the configured budget would be exceeded) or parses
// inbound bytes back into ordered messages. A Packet is owned by exactly
// one peer/transport pair and is never shared across goroutines (spec §5).
type Packet struct {
	Header Header

	body       []byte
	tail       int
	boundaries []int // cumulative end offsets of each complete message in body
	budget     int   // max body bytes per fragment: bufferSize - HeaderSize
	fragEnd    int   // -1 until a split point is recorded

	// ingest state
	headerParsed bool
	wantBody     int
	gotBody      int

	udpMode bool
}

// New creates an empty outbound Packet with the given per-fragment body
// budget (bufferSize - HeaderSize). udpMode forbids fragmentation, per the
// open-question resolution in DESIGN.md.
func New(bufferSize int, udpMode bool) *Packet {
	budget := bufferSize - HeaderSize
	if budget < 0 {
		budget = 0
	}
	return &Packet{
		body:    make([]byte, 0, bufferSize),
		fragEnd: -1,
		budget:  budget,
		udpMode: udpMode,
	}
}

// Reserve reserves a length-prefixed region of n bytes within the packet's
// body and returns a slice the caller writes the message into. If the
// running total crosses the fragment boundary and no split has yet been
// recorded, the tail as it stood before this message is recorded as the end
// of the current fragment (spec §4.1).
func (p *Packet) Reserve(n int) ([]byte, error) {
	needed := 4 + n
	if p.udpMode && p.fragEnd == -1 && p.tail+needed > p.budget {
		return nil, ErrWouldFragmentOnUDP
	}

	if cap(p.body) < p.tail+needed {
		grown := make([]byte, len(p.body), max(cap(p.body)*2, p.tail+needed))
		copy(grown, p.body)
		p.body = grown
	}
	p.body = p.body[:p.tail+needed]
	binary.LittleEndian.PutUint32(p.body[p.tail:p.tail+4], uint32(n))
	region := p.body[p.tail+4 : p.tail+4+n]
	p.tail += needed
	p.boundaries = append(p.boundaries, p.tail)

	if p.fragEnd == -1 && p.tail > p.budget {
		if len(p.boundaries) > 1 {
			p.fragEnd = p.boundaries[len(p.boundaries)-2]
		} else {
			// A lone message larger than the budget still gets sent as
			// its own (oversized) fragment rather than being silently
			// dropped.
			p.fragEnd = p.tail
		}
	}

	return region, nil
}

// fragmentEnd returns the end-of-fragment offset for the current Emit call.
func (p *Packet) fragmentEnd() int {
	if p.fragEnd == -1 {
		return p.tail
	}
	return p.fragEnd
}

// Emit writes the header (with TotalPacketLength set to the current
// fragment's end) and returns the ready-to-send byte slice.
func (p *Packet) Emit(h Header) []byte {
	end := p.fragmentEnd()
	h.TotalPacketLength = int32(HeaderSize + end)
	out := make([]byte, HeaderSize+end)
	writeHeader(out[:HeaderSize], h)
	copy(out[HeaderSize:], p.body[:end])
	return out
}

// Reset clears the packet for the next send cycle. If no fragmentation is
// active it truncates to empty; otherwise it shifts the bytes after the
// split point to the front and recomputes the next fragment end using the
// same size budget, supporting chains of more than two fragments.
func (p *Packet) Reset() {
	if p.fragEnd == -1 {
		p.tail = 0
		p.boundaries = p.boundaries[:0]
		return
	}

	remaining := p.tail - p.fragEnd
	copy(p.body[0:remaining], p.body[p.fragEnd:p.tail])
	p.body = p.body[:remaining]

	shifted := p.boundaries[:0:0]
	for _, b := range p.boundaries {
		if b > p.fragEnd {
			shifted = append(shifted, b-p.fragEnd)
		}
	}
	p.boundaries = shifted
	p.tail = remaining
	p.fragEnd = -1

	if p.tail > p.budget {
		for i, b := range p.boundaries {
			if b > p.budget {
				if i > 0 {
					p.fragEnd = p.boundaries[i-1]
				} else {
					p.fragEnd = b
				}
				break
			}
		}
		if p.fragEnd == -1 && len(p.boundaries) > 0 {
			p.fragEnd = p.boundaries[len(p.boundaries)-1]
		}
	}
}

// HasPendingFragment reports whether the packet currently holds messages
// deferred past a fragment split, i.e. whether the next Emit/Reset cycle
// will produce another fragment after this one.
func (p *Packet) HasPendingFragment() bool {
	return p.fragEnd != -1
}

// Ingest collects and parses the header (which may itself arrive across
// several calls), then copies message bytes out of data[offset:] until TotalPacketLength is
// reached. It returns how many bytes of data were consumed and whether the
// packet is now complete; callers must keep feeding bytes (e.g. from a TCP
// stream) until complete is true.
func (p *Packet) Ingest(data []byte, offset int) (consumed int, complete bool, err error) {
	pos := offset

	if !p.headerParsed {
		if p.gotBody == 0 {
			p.body = make([]byte, HeaderSize)
		}
		take := min(len(data)-pos, HeaderSize-p.gotBody)
		p.gotBody += copy(p.body[p.gotBody:], data[pos:pos+take])
		pos, consumed = pos+take, consumed+take
		if p.gotBody < HeaderSize {
			return consumed, false, nil
		}
		p.Header = readHeader(p.body)
		p.wantBody = int(p.Header.TotalPacketLength) - HeaderSize
		if p.wantBody < 0 {
			return 0, false, errors.New("netpacket: header reports impossible length")
		}
		p.headerParsed = true
		p.body = make([]byte, p.wantBody)
		p.gotBody = 0
	}

	avail := len(data) - pos
	need := p.wantBody - p.gotBody
	take := min(avail, need)
	if take > 0 {
		copy(p.body[p.gotBody:p.gotBody+take], data[pos:pos+take])
		p.gotBody += take
		consumed += take
	}

	return consumed, p.gotBody >= p.wantBody, nil
}

// Reassembled returns the fully-ingested message region (header excluded)
// once Ingest has reported complete.
func (p *Packet) Reassembled() ([]byte, error) {
	if p.gotBody < p.wantBody {
		return nil, ErrIncomplete
	}
	return p.body, nil
}

// ResetIngest prepares the packet to parse another inbound packet.
func (p *Packet) ResetIngest() {
	p.headerParsed = false
	p.wantBody = 0
	p.gotBody = 0
	p.body = nil
}

// IterateMessages yields consecutive message slices out of the ingested (or
// locally reserved) body region, calling fn for each one. Iteration stops
// early if fn returns false.
func IterateMessages(region []byte, fn func(msg []byte) bool) {
	off := 0
	for off+4 <= len(region) {
		n := int(binary.LittleEndian.Uint32(region[off : off+4]))
		off += 4
		if off+n > len(region) {
			return
		}
		if !fn(region[off : off+n]) {
			return
		}
		off += n
	}
}

// IterateMessages yields consecutive complete messages out of the packet's
// own outbound body (used by tests and by peers that want to re-read what
// they just wrote).
func (p *Packet) IterateMessages(fn func(msg []byte) bool) {
	IterateMessages(p.body[:p.fragmentEnd()], fn)
}
