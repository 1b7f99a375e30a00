package transform

import (
	"encoding/binary"

	"github.com/appnet-org/owlnet/pkg/huffman"
	"github.com/appnet-org/owlnet/pkg/netpacket"
)

// CompressionStep applies the canonical Huffman codec to the message region
// of an outbound/inbound packet (spec §4.3). Register it at
// PriorityCompression. It operates on whole packet bytes (header included)
// so it can flip the header's compression flag and rewrite
// TotalPacketLength in place.
type CompressionStep struct{}

func NewCompressionStep() *CompressionStep { return &CompressionStep{} }

func (s *CompressionStep) Name() string { return "compression" }

func (s *CompressionStep) OnSend(packet []byte) ([]byte, error) {
	if len(packet) < netpacket.HeaderSize {
		return packet, nil
	}
	body := packet[netpacket.HeaderSize:]
	compressed, ok := huffman.Compress(body)
	if !ok {
		packet[24] &^= netpacket.FlagCompressionEnabled
		return packet, nil
	}

	out := make([]byte, netpacket.HeaderSize+len(compressed))
	copy(out[:netpacket.HeaderSize], packet[:netpacket.HeaderSize])
	copy(out[netpacket.HeaderSize:], compressed)
	binary.LittleEndian.PutUint32(out[12:16], uint32(len(out)))
	out[24] |= netpacket.FlagCompressionEnabled
	return out, nil
}

func (s *CompressionStep) OnReceive(packet []byte) ([]byte, error) {
	if len(packet) < netpacket.HeaderSize {
		return packet, nil
	}
	if packet[24]&netpacket.FlagCompressionEnabled == 0 {
		return packet, nil
	}

	body := packet[netpacket.HeaderSize:]
	decompressed, err := huffman.Decompress(body)
	if err != nil {
		return nil, err
	}

	out := make([]byte, netpacket.HeaderSize+len(decompressed))
	copy(out[:netpacket.HeaderSize], packet[:netpacket.HeaderSize])
	copy(out[netpacket.HeaderSize:], decompressed)
	binary.LittleEndian.PutUint32(out[12:16], uint32(len(out)))
	out[24] &^= netpacket.FlagCompressionEnabled
	return out, nil
}
