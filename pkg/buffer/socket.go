package buffer

import (
	"encoding/binary"
	"math/rand"
	"sync"
	"time"

	"github.com/appnet-org/owlnet/pkg/netpacket"
	"github.com/appnet-org/owlnet/pkg/transform"
)

// reassembleAndTransform re-serializes a fully-ingested Packet back into
// wire bytes (its header, written via Emit on an empty packet, followed by
// the ingested body) and runs the receive-side transform chain over them
// (spec §4.2: compression/bandwidth steps see whole packet bytes, not a
// streamed fragment). It returns the post-transform message region with the
// header stripped.
func reassembleAndTransform(pkt *netpacket.Packet, pipeline *transform.Pipeline) ([]byte, error) {
	body, err := pkt.Reassembled()
	if err != nil {
		return nil, err
	}
	raw := append(netpacket.New(netpacket.HeaderSize, false).Emit(pkt.Header), body...)
	binary.LittleEndian.PutUint32(raw[12:16], uint32(len(raw)))
	transformed, err := pipeline.ApplyReceive(raw)
	if err != nil {
		return nil, err
	}
	if len(transformed) < netpacket.HeaderSize {
		return nil, netpacket.ErrIncomplete
	}
	return transformed[netpacket.HeaderSize:], nil
}

// parseDatagram ingests one complete UDP datagram (never fragmented per
// netpacket's udpMode) into a throwaway Packet and returns its transformed
// message region.
func parseDatagram(data []byte, pipeline *transform.Pipeline) (netpacket.Header, []byte, error) {
	pkt := netpacket.New(len(data), true)
	_, complete, err := pkt.Ingest(data, 0)
	if err != nil {
		return netpacket.Header{}, nil, err
	}
	if !complete {
		return netpacket.Header{}, nil, netpacket.ErrIncomplete
	}
	region, err := reassembleAndTransform(pkt, pipeline)
	return pkt.Header, region, err
}

// secretGenerator hands out per-client admission secrets. Not
// cryptographically significant (spec §3 only requires "unique across
// currently-connected clients"), so a mutex-guarded math/rand source is
// enough, grounded on the teacher's preference for simple stdlib primitives
// where the wire format doesn't demand more.
type secretGenerator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func newSecretGenerator() *secretGenerator {
	return &secretGenerator{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (g *secretGenerator) next() uint32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rng.Uint32()
}
